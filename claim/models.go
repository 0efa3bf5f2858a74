// Package claim owns the canonical claim records, their lifecycle state
// machine, and the stores that persist them.
package claim

import (
	"fmt"
	"time"

	"verity/answer"
	"verity/apperr"
	"verity/bond"
	"verity/tier"
	"verity/window"
)

// Phase distinguishes disputes filed before and after resolution.
type Phase string

const (
	PhasePreResolution  Phase = "pre_resolution"
	PhasePostResolution Phase = "post_resolution"
)

// Decision is an adjudicator or final-authority ruling on a dispute.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionUphold   Decision = "UPHOLD"
	DecisionReject   Decision = "REJECT"
	DecisionCancel   Decision = "CANCEL"
	DecisionTooEarly Decision = "TOO_EARLY"
)

func ParseDecision(v string) (Decision, error) {
	switch d := Decision(v); d {
	case DecisionUphold, DecisionReject, DecisionCancel, DecisionTooEarly:
		return d, nil
	}
	return DecisionNone, apperr.With(apperr.ErrInvalidDecision, "unknown decision %q", v)
}

// Claim is the central entity. Resolver, TemplateID, AnswerType, Adjudicator,
// Windows and Tier never change after creation.
type Claim struct {
	ID          uint64
	Creator     string
	Resolver    string
	TemplateID  uint64
	AnswerType  answer.Type
	Adjudicator string
	Windows     window.Set
	Tier        tier.Tier

	State                  State
	CreatedAt              time.Time
	ResolvedAt             time.Time
	DisputeDeadline        time.Time
	AdjudicatorDeadline    time.Time
	EscalationDeadline     time.Time
	PostResolutionDeadline time.Time
}

// ResolutionInfo is the proposal made by a resolver's caller.
type ResolutionInfo struct {
	Proposer   string        `json:"proposer"`
	Bond       bond.Stake    `json:"bond"`
	Answer     answer.Answer `json:"answer"`
	ProposedAt time.Time     `json:"proposed_at"`
}

// DisputeInfo exists at most once per claim. A non-empty Disputer is the
// sole test for "a dispute exists".
type DisputeInfo struct {
	Phase           Phase          `json:"phase"`
	Disputer        string         `json:"disputer"`
	Bond            bond.Stake     `json:"bond"`
	Reason          string         `json:"reason"`
	EvidenceRef     string         `json:"evidence_ref"`
	FiledAt         time.Time      `json:"filed_at"`
	ResolvedAt      time.Time      `json:"resolved_at"`
	ResultCorrected bool           `json:"result_corrected"`
	ProposedAnswer  *answer.Answer `json:"proposed_answer,omitempty"`

	Decision          Decision       `json:"decision"`
	DecidedAt         time.Time      `json:"decided_at"`
	AdjudicatorAnswer *answer.Answer `json:"adjudicator_answer,omitempty"`
}

// Open reports whether the dispute still awaits a final outcome.
func (d *DisputeInfo) Open() bool {
	return d != nil && d.Disputer != "" && d.ResolvedAt.IsZero()
}

// EscalationInfo exists only when round one was challenged.
type EscalationInfo struct {
	Challenger     string         `json:"challenger"`
	Bond           bond.Stake     `json:"bond"`
	Reason         string         `json:"reason"`
	EvidenceRef    string         `json:"evidence_ref"`
	FiledAt        time.Time      `json:"filed_at"`
	ResolvedAt     time.Time      `json:"resolved_at"`
	ProposedAnswer *answer.Answer `json:"proposed_answer,omitempty"`
}

// Result keeps the original answer for audit; readers use Effective.
type Result struct {
	Original           answer.Answer `json:"original"`
	HasOriginal        bool          `json:"has_original"`
	Corrected          answer.Answer `json:"corrected"`
	HasCorrectedResult bool          `json:"has_corrected_result"`
}

// Effective prefers the corrected answer when one exists.
func (r Result) Effective() (answer.Answer, bool) {
	if r.HasCorrectedResult {
		return r.Corrected, true
	}
	return r.Original, r.HasOriginal
}

// SetOriginal records the first committed answer. It is set at most once.
func (r *Result) SetOriginal(a answer.Answer) error {
	if r.HasOriginal {
		return fmt.Errorf("claim: original result already set")
	}
	r.Original = a.Clone()
	r.HasOriginal = true
	return nil
}

// SetCorrected records a post-resolution correction.
func (r *Result) SetCorrected(a answer.Answer) {
	r.Corrected = a.Clone()
	r.HasCorrectedResult = true
}

// Record is the aggregate a store loads and saves as one unit.
type Record struct {
	Claim      Claim
	Resolution *ResolutionInfo
	Dispute    *DisputeInfo
	Escalation *EscalationInfo
	Result     Result
	Version    int64
}

// HeldStakes lists every stake the registry still holds for the claim.
func (r *Record) HeldStakes() []bond.Stake {
	var out []bond.Stake
	if r.Resolution != nil && r.Resolution.Bond.Held {
		out = append(out, r.Resolution.Bond)
	}
	if r.Dispute != nil && r.Dispute.Bond.Held {
		out = append(out, r.Dispute.Bond)
	}
	if r.Escalation != nil && r.Escalation.Bond.Held {
		out = append(out, r.Escalation.Bond)
	}
	return out
}

// Clone returns a deep copy safe to mutate independently.
func (r Record) Clone() Record {
	out := r
	if r.Resolution != nil {
		res := *r.Resolution
		res.Answer = res.Answer.Clone()
		out.Resolution = &res
	}
	if r.Dispute != nil {
		d := *r.Dispute
		d.ProposedAnswer = cloneAnswer(d.ProposedAnswer)
		d.AdjudicatorAnswer = cloneAnswer(d.AdjudicatorAnswer)
		out.Dispute = &d
	}
	if r.Escalation != nil {
		e := *r.Escalation
		e.ProposedAnswer = cloneAnswer(e.ProposedAnswer)
		out.Escalation = &e
	}
	out.Result.Original = r.Result.Original.Clone()
	out.Result.Corrected = r.Result.Corrected.Clone()
	return out
}

func cloneAnswer(a *answer.Answer) *answer.Answer {
	if a == nil {
		return nil
	}
	c := a.Clone()
	return &c
}
