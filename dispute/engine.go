// Package dispute implements the two-round dispute process: filing, the
// adjudicator's round-one decision, escalation to the final authority, and
// the bond settlement each outcome implies.
//
// The engine never loads or stores claims itself. Callers hand it a record
// locked inside a unit of work, and everything it stages (record changes,
// bond movements, notifications) commits or rolls back with that unit.
package dispute

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verity/answer"
	"verity/apperr"
	"verity/bond"
	"verity/claim"
	"verity/ledger"
	"verity/outbox"
	"verity/window"
)

// Filing is a dispute or a challenge as submitted by its author.
type Filing struct {
	Party          string
	Bond           bond.Payment
	Reason         string
	EvidenceRef    string
	ProposedAnswer *answer.Answer
}

// Engine applies dispute operations to locked claim records.
type Engine struct {
	ledger *ledger.Ledger
	policy *bond.Policy
}

func NewEngine(l *ledger.Ledger, p *bond.Policy) *Engine {
	return &Engine{ledger: l, policy: p}
}

// File opens the claim's only dispute. While RESOLVING it is a
// pre-resolution dispute and starts round one; on a RESOLVED claim inside
// its post-resolution window it is a post-resolution dispute and the state
// does not change.
func (e *Engine) File(ctx context.Context, w ledger.Writer, rec *claim.Record, f Filing, now time.Time) error {
	c := &rec.Claim
	if rec.Dispute != nil {
		return apperr.With(apperr.ErrDisputeAlreadyExists, "claim %d", c.ID)
	}
	if f.Party == "" {
		return apperr.With(apperr.ErrUnauthorized, "disputer identity is required")
	}

	var phase claim.Phase
	switch c.State {
	case claim.StateResolving:
		if !window.Open(now, c.DisputeDeadline) {
			return apperr.With(apperr.ErrWindowElapsed, "claim %d dispute window closed at %s", c.ID, c.DisputeDeadline)
		}
		phase = claim.PhasePreResolution
	case claim.StateResolved:
		if !window.Open(now, c.PostResolutionDeadline) {
			return apperr.With(apperr.ErrWindowElapsed, "claim %d has no open post-resolution window", c.ID)
		}
		phase = claim.PhasePostResolution
	default:
		return apperr.With(apperr.ErrInvalidState, "claim %d is %s, want %s or %s", c.ID, c.State, claim.StateResolving, claim.StateResolved)
	}

	if f.ProposedAnswer != nil {
		if err := f.ProposedAnswer.Validate(c.AnswerType); err != nil {
			return err
		}
	}
	if err := e.policy.Check(bond.ClassDispute, f.Bond); err != nil {
		return err
	}
	stake, err := e.ledger.Accept(ctx, w, c.ID, bond.ClassDispute, f.Party, f.Bond, now)
	if err != nil {
		return err
	}

	rec.Dispute = &claim.DisputeInfo{
		Phase:          phase,
		Disputer:       f.Party,
		Bond:           stake,
		Reason:         f.Reason,
		EvidenceRef:    f.EvidenceRef,
		FiledAt:        now,
		ProposedAnswer: cloneAnswer(f.ProposedAnswer),
	}
	if phase == claim.PhasePreResolution {
		if err := rec.Advance(ctx, w, claim.StateDisputedRound1, f.Party, now); err != nil {
			return err
		}
		c.AdjudicatorDeadline = window.Deadline(now, c.Windows.Adjudicator)
	}

	return enqueue(ctx, w, outbox.TopicDisputeFiled, c.ID, f.Party, map[string]any{
		"phase":                phase,
		"asset":                stake.Asset,
		"amount":               stake.Amount,
		"reason":               f.Reason,
		"evidence_ref":         f.EvidenceRef,
		"proposed_answer":      f.ProposedAnswer,
		"adjudicator_deadline": c.AdjudicatorDeadline,
	}, now)
}

// Decide records the adjudicator's round-one decision. TOO_EARLY takes
// effect at once; every other decision waits for the escalation window.
func (e *Engine) Decide(ctx context.Context, w ledger.Writer, rec *claim.Record, caller string, d claim.Decision, corrected *answer.Answer, now time.Time) error {
	c := &rec.Claim
	if c.Adjudicator == "" || caller != c.Adjudicator {
		return apperr.With(apperr.ErrUnauthorized, "%q is not the adjudicator of claim %d", caller, c.ID)
	}
	if err := c.Expect(claim.StateDisputedRound1); err != nil {
		return err
	}
	if rec.Dispute.Decision != claim.DecisionNone {
		return apperr.With(apperr.ErrAlreadyDecided, "claim %d: %s", c.ID, rec.Dispute.Decision)
	}
	if !window.Open(now, c.AdjudicatorDeadline) {
		return apperr.With(apperr.ErrWindowElapsed, "claim %d adjudicator window is closed", c.ID)
	}
	if err := validDecision(d); err != nil {
		return err
	}
	if corrected != nil {
		if err := corrected.Validate(c.AnswerType); err != nil {
			return err
		}
	}
	// An UPHOLD that could never be applied is refused up front, so the
	// uncontested path cannot dead-end.
	if d == claim.DecisionUphold {
		if _, err := CorrectedAnswer(c.AnswerType, rec.Resolution.Answer, corrected, rec.Dispute.ProposedAnswer); err != nil {
			return apperr.With(apperr.ErrNoCorrectedAnswerProvided, "claim %d: uphold needs a corrected answer", c.ID)
		}
	}

	rec.Dispute.Decision = d
	rec.Dispute.DecidedAt = now
	rec.Dispute.AdjudicatorAnswer = cloneAnswer(corrected)
	c.EscalationDeadline = window.Deadline(now, c.Windows.Escalation)

	if err := enqueue(ctx, w, outbox.TopicDisputeDecided, c.ID, caller, map[string]any{
		"round":               1,
		"decision":            d,
		"corrected_answer":    corrected,
		"escalation_deadline": c.EscalationDeadline,
	}, now); err != nil {
		return err
	}

	if d == claim.DecisionTooEarly {
		return e.tooEarly(ctx, w, rec, caller, now)
	}
	return nil
}

// EscalateOnTimeout moves an undecided round-one dispute to the final
// authority once the adjudicator window has passed.
func (e *Engine) EscalateOnTimeout(ctx context.Context, w ledger.Writer, rec *claim.Record, caller string, now time.Time) error {
	c := &rec.Claim
	if err := c.Expect(claim.StateDisputedRound1); err != nil {
		return err
	}
	if rec.Dispute.Decision != claim.DecisionNone {
		return apperr.With(apperr.ErrAlreadyDecided, "claim %d: %s", c.ID, rec.Dispute.Decision)
	}
	if !window.Elapsed(now, c.AdjudicatorDeadline) {
		return apperr.With(apperr.ErrWindowNotElapsed, "claim %d adjudicator window closes at %s", c.ID, c.AdjudicatorDeadline)
	}
	if err := rec.Advance(ctx, w, claim.StateDisputedRound2, caller, now); err != nil {
		return err
	}
	return enqueue(ctx, w, outbox.TopicEscalationFiled, c.ID, caller, map[string]any{
		"trigger": "adjudicator_timeout",
	}, now)
}

// Challenge contests the adjudicator's decision with an escalation bond.
func (e *Engine) Challenge(ctx context.Context, w ledger.Writer, rec *claim.Record, f Filing, now time.Time) error {
	c := &rec.Claim
	if err := c.Expect(claim.StateDisputedRound1); err != nil {
		return err
	}
	if rec.Escalation != nil {
		return apperr.With(apperr.ErrEscalationAlreadyExists, "claim %d", c.ID)
	}
	if rec.Dispute.Decision == claim.DecisionNone {
		return apperr.With(apperr.ErrInvalidState, "claim %d has no adjudicator decision to challenge", c.ID)
	}
	if !window.Open(now, c.EscalationDeadline) {
		return apperr.With(apperr.ErrWindowElapsed, "claim %d escalation window is closed", c.ID)
	}
	if f.Party == "" {
		return apperr.With(apperr.ErrUnauthorized, "challenger identity is required")
	}
	if f.ProposedAnswer != nil {
		if err := f.ProposedAnswer.Validate(c.AnswerType); err != nil {
			return err
		}
	}
	if err := e.policy.Check(bond.ClassEscalation, f.Bond); err != nil {
		return err
	}
	stake, err := e.ledger.Accept(ctx, w, c.ID, bond.ClassEscalation, f.Party, f.Bond, now)
	if err != nil {
		return err
	}

	rec.Escalation = &claim.EscalationInfo{
		Challenger:     f.Party,
		Bond:           stake,
		Reason:         f.Reason,
		EvidenceRef:    f.EvidenceRef,
		FiledAt:        now,
		ProposedAnswer: cloneAnswer(f.ProposedAnswer),
	}
	if err := rec.Advance(ctx, w, claim.StateDisputedRound2, f.Party, now); err != nil {
		return err
	}
	return enqueue(ctx, w, outbox.TopicEscalationFiled, c.ID, f.Party, map[string]any{
		"trigger":         "challenge",
		"asset":           stake.Asset,
		"amount":          stake.Amount,
		"reason":          f.Reason,
		"evidence_ref":    f.EvidenceRef,
		"proposed_answer": f.ProposedAnswer,
	}, now)
}

// FinalizeAfterAdjudicator applies an unchallenged round-one decision once
// the escalation window has passed.
func (e *Engine) FinalizeAfterAdjudicator(ctx context.Context, w ledger.Writer, rec *claim.Record, caller string, now time.Time) error {
	c := &rec.Claim
	if err := c.Expect(claim.StateDisputedRound1); err != nil {
		return err
	}
	if rec.Dispute.Decision == claim.DecisionNone {
		return apperr.With(apperr.ErrInvalidState, "claim %d has no adjudicator decision", c.ID)
	}
	if rec.Escalation != nil {
		return apperr.With(apperr.ErrEscalationAlreadyExists, "claim %d", c.ID)
	}
	if !window.Elapsed(now, c.EscalationDeadline) {
		return apperr.With(apperr.ErrWindowNotElapsed, "claim %d escalation window closes at %s", c.ID, c.EscalationDeadline)
	}
	return e.settle(ctx, w, rec, rec.Dispute.Decision, rec.Dispute.AdjudicatorAnswer, caller, now)
}

// ResolveEscalation applies the final authority's round-two decision. The
// caller has already been authorized.
func (e *Engine) ResolveEscalation(ctx context.Context, w ledger.Writer, rec *claim.Record, caller string, d claim.Decision, corrected *answer.Answer, now time.Time) error {
	if err := rec.Claim.Expect(claim.StateDisputedRound2); err != nil {
		return err
	}
	if err := validDecision(d); err != nil {
		return err
	}
	if corrected != nil {
		if err := corrected.Validate(rec.Claim.AnswerType); err != nil {
			return err
		}
	}
	return e.settle(ctx, w, rec, d, corrected, caller, now)
}

// ResolvePost applies the final authority's decision on a post-resolution
// dispute. The claim stays RESOLVED whatever the outcome.
func (e *Engine) ResolvePost(ctx context.Context, w ledger.Writer, rec *claim.Record, caller string, d claim.Decision, corrected *answer.Answer, now time.Time) error {
	c := &rec.Claim
	if err := c.Expect(claim.StateResolved); err != nil {
		return err
	}
	if !rec.Dispute.Open() || rec.Dispute.Phase != claim.PhasePostResolution {
		return apperr.With(apperr.ErrInvalidState, "claim %d has no open post-resolution dispute", c.ID)
	}
	if corrected != nil {
		if err := corrected.Validate(c.AnswerType); err != nil {
			return err
		}
	}

	dis := rec.Dispute
	res := rec.Resolution
	payload := map[string]any{"round": "post_resolution", "decision": d}

	switch d {
	case claim.DecisionUphold:
		fixed, err := CorrectedAnswer(c.AnswerType, rec.Result.Original, corrected, dis.ProposedAnswer)
		if err != nil {
			return apperr.With(apperr.ErrNoCorrectedAnswerProvided, "claim %d: cancel instead", c.ID)
		}
		if err := e.ledger.Split(ctx, w, c.ID, bond.ClassResolution, &res.Bond, dis.Disputer, now); err != nil {
			return err
		}
		if err := e.ledger.Return(ctx, w, c.ID, bond.ClassDispute, &dis.Bond, now); err != nil {
			return err
		}
		rec.Result.SetCorrected(fixed)
		dis.ResultCorrected = true
		payload["corrected_answer"] = fixed
		if err := enqueue(ctx, w, outbox.TopicResultCommitted, c.ID, caller, map[string]any{
			"answer":    fixed,
			"corrected": true,
		}, now); err != nil {
			return err
		}
	case claim.DecisionReject:
		if err := e.ledger.Split(ctx, w, c.ID, bond.ClassDispute, &dis.Bond, res.Proposer, now); err != nil {
			return err
		}
		if err := e.ledger.Return(ctx, w, c.ID, bond.ClassResolution, &res.Bond, now); err != nil {
			return err
		}
	case claim.DecisionCancel:
		if err := e.ledger.Return(ctx, w, c.ID, bond.ClassResolution, &res.Bond, now); err != nil {
			return err
		}
		if err := e.ledger.Return(ctx, w, c.ID, bond.ClassDispute, &dis.Bond, now); err != nil {
			return err
		}
	default:
		return apperr.With(apperr.ErrInvalidDecision, "%q is not available for post-resolution disputes", d)
	}

	dis.Decision = d
	dis.DecidedAt = now
	dis.ResolvedAt = now
	return e.settled(ctx, w, rec, d, caller, payload, now)
}

// settle applies a final decision to a claim in either dispute round.
func (e *Engine) settle(ctx context.Context, w ledger.Writer, rec *claim.Record, d claim.Decision, supplied *answer.Answer, actor string, now time.Time) error {
	c := &rec.Claim
	dis := rec.Dispute
	res := rec.Resolution
	round := 1
	if c.State == claim.StateDisputedRound2 {
		round = 2
	}
	payload := map[string]any{"round": round, "decision": d}

	switch d {
	case claim.DecisionTooEarly:
		if err := e.tooEarly(ctx, w, rec, actor, now); err != nil {
			return err
		}
		return e.settled(ctx, w, rec, d, actor, payload, now)

	case claim.DecisionCancel:
		if err := e.returnAll(ctx, w, rec, now); err != nil {
			return err
		}
		e.closeDispute(rec, now)
		if err := rec.Advance(ctx, w, claim.StateCancelled, actor, now); err != nil {
			return err
		}
		return e.settled(ctx, w, rec, d, actor, payload, now)

	case claim.DecisionUphold:
		var challenged *answer.Answer
		if rec.Escalation != nil {
			challenged = rec.Escalation.ProposedAnswer
		}
		fixed, err := CorrectedAnswer(c.AnswerType, res.Answer, supplied, challenged, dis.ProposedAnswer)
		if err != nil {
			return apperr.With(apperr.ErrNoCorrectedAnswerProvided, "claim %d: cancel instead", c.ID)
		}
		if err := e.ledger.Split(ctx, w, c.ID, bond.ClassResolution, &res.Bond, dis.Disputer, now); err != nil {
			return err
		}
		if err := e.ledger.Return(ctx, w, c.ID, bond.ClassDispute, &dis.Bond, now); err != nil {
			return err
		}
		if err := e.returnEscalation(ctx, w, rec, now); err != nil {
			return err
		}
		dis.ResultCorrected = true
		payload["corrected_answer"] = fixed
		if err := e.commit(ctx, w, rec, fixed, actor, now); err != nil {
			return err
		}
		return e.settled(ctx, w, rec, d, actor, payload, now)

	case claim.DecisionReject:
		if err := e.ledger.Split(ctx, w, c.ID, bond.ClassDispute, &dis.Bond, res.Proposer, now); err != nil {
			return err
		}
		if rec.Escalation != nil {
			if err := e.ledger.Split(ctx, w, c.ID, bond.ClassEscalation, &rec.Escalation.Bond, dis.Disputer, now); err != nil {
				return err
			}
		}
		if err := e.ledger.Return(ctx, w, c.ID, bond.ClassResolution, &res.Bond, now); err != nil {
			return err
		}
		if err := e.commit(ctx, w, rec, res.Answer, actor, now); err != nil {
			return err
		}
		return e.settled(ctx, w, rec, d, actor, payload, now)
	}
	return apperr.With(apperr.ErrInvalidDecision, "%q", d)
}

// tooEarly discards the pending proposal: the proposer forfeits half the
// resolution bond to the disputer, every other bond goes back, and the claim
// is open for proposals again. The dispute record is kept, so the claim
// cannot be disputed a second time.
func (e *Engine) tooEarly(ctx context.Context, w ledger.Writer, rec *claim.Record, actor string, now time.Time) error {
	c := &rec.Claim
	if rec.Resolution != nil {
		if err := e.ledger.Split(ctx, w, c.ID, bond.ClassResolution, &rec.Resolution.Bond, rec.Dispute.Disputer, now); err != nil {
			return err
		}
	}
	if err := e.ledger.Return(ctx, w, c.ID, bond.ClassDispute, &rec.Dispute.Bond, now); err != nil {
		return err
	}
	if err := e.returnEscalation(ctx, w, rec, now); err != nil {
		return err
	}
	e.closeDispute(rec, now)
	rec.Resolution = nil
	c.DisputeDeadline = time.Time{}
	c.AdjudicatorDeadline = time.Time{}
	c.EscalationDeadline = time.Time{}
	return rec.Advance(ctx, w, claim.StateActive, actor, now)
}

func (e *Engine) returnAll(ctx context.Context, w ledger.Writer, rec *claim.Record, now time.Time) error {
	id := rec.Claim.ID
	if rec.Resolution != nil {
		if err := e.ledger.Return(ctx, w, id, bond.ClassResolution, &rec.Resolution.Bond, now); err != nil {
			return err
		}
	}
	if rec.Dispute != nil {
		if err := e.ledger.Return(ctx, w, id, bond.ClassDispute, &rec.Dispute.Bond, now); err != nil {
			return err
		}
	}
	return e.returnEscalation(ctx, w, rec, now)
}

func (e *Engine) returnEscalation(ctx context.Context, w ledger.Writer, rec *claim.Record, now time.Time) error {
	if rec.Escalation == nil {
		return nil
	}
	return e.ledger.Return(ctx, w, rec.Claim.ID, bond.ClassEscalation, &rec.Escalation.Bond, now)
}

func (e *Engine) closeDispute(rec *claim.Record, now time.Time) {
	if rec.Dispute != nil && rec.Dispute.ResolvedAt.IsZero() {
		rec.Dispute.ResolvedAt = now
	}
	if rec.Escalation != nil && rec.Escalation.ResolvedAt.IsZero() {
		rec.Escalation.ResolvedAt = now
	}
}

// commit records the final answer of a pre-resolution dispute and resolves
// the claim with a fresh post-resolution window.
func (e *Engine) commit(ctx context.Context, w ledger.Writer, rec *claim.Record, final answer.Answer, actor string, now time.Time) error {
	c := &rec.Claim
	if err := rec.Result.SetOriginal(final); err != nil {
		return err
	}
	e.closeDispute(rec, now)
	if err := rec.Advance(ctx, w, claim.StateResolved, actor, now); err != nil {
		return err
	}
	c.ResolvedAt = now
	c.PostResolutionDeadline = window.Deadline(now, c.Windows.PostResolution)
	return enqueue(ctx, w, outbox.TopicResultCommitted, c.ID, actor, map[string]any{
		"answer":                   final,
		"corrected":                rec.Dispute.ResultCorrected,
		"post_resolution_deadline": c.PostResolutionDeadline,
	}, now)
}

func (e *Engine) settled(ctx context.Context, w ledger.Writer, rec *claim.Record, d claim.Decision, actor string, payload map[string]any, now time.Time) error {
	topic := outbox.TopicDisputeSettled
	if rec.Escalation != nil || payload["round"] == 2 {
		topic = outbox.TopicEscalationResolved
	}
	payload["state"] = rec.Claim.State
	zap.L().Info("dispute settled",
		zap.Uint64("claim_id", rec.Claim.ID),
		zap.String("decision", string(d)),
		zap.String("actor", actor),
		zap.Stringer("state", rec.Claim.State),
	)
	return enqueue(ctx, w, topic, rec.Claim.ID, actor, payload, now)
}

func validDecision(d claim.Decision) error {
	switch d {
	case claim.DecisionUphold, claim.DecisionReject, claim.DecisionCancel, claim.DecisionTooEarly:
		return nil
	}
	return apperr.With(apperr.ErrInvalidDecision, "%q", d)
}

func enqueue(ctx context.Context, w outbox.Writer, topic string, claimID uint64, actor string, payload map[string]any, now time.Time) error {
	if err := w.Enqueue(ctx, outbox.New(topic, claimID, actor, payload, now)); err != nil {
		return fmt.Errorf("dispute: enqueue %s: %w", topic, err)
	}
	return nil
}

func cloneAnswer(a *answer.Answer) *answer.Answer {
	if a == nil {
		return nil
	}
	c := a.Clone()
	return &c
}
