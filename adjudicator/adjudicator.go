// Package adjudicator tracks the round-one reviewers ("TruthKeepers"): the
// system whitelist, the resolvers each adjudicator vouches for, and the
// optional hooks consulted when a claim is assigned to one of them.
package adjudicator

import (
	"context"
	"fmt"
	"time"

	"verity/window"
)

// Response is an adjudicator's answer to a proposed or actual assignment.
type Response int

const (
	Approve Response = iota
	RejectSoft
	RejectHard
)

func (r Response) String() string {
	switch r {
	case Approve:
		return "APPROVE"
	case RejectSoft:
		return "REJECT_SOFT"
	case RejectHard:
		return "REJECT_HARD"
	}
	return fmt.Sprintf("response(%d)", int(r))
}

// Valid reports whether r is one of the three known responses. Hook results
// outside this set are treated as untrusted and rejected.
func (r Response) Valid() bool {
	return r >= Approve && r <= RejectHard
}

// Assignment describes the claim an adjudicator is asked to oversee.
// ClaimID is zero for previews.
type Assignment struct {
	ClaimID    uint64
	Resolver   string
	TemplateID uint64
	Creator    string
	Payload    []byte
	Windows    window.Set
}

// Adjudicator is the hook an adjudicator may register to vet assignments.
type Adjudicator interface {
	// Preview is a dry run with no side effects.
	Preview(ctx context.Context, a Assignment) (Response, error)
	OnAssigned(ctx context.Context, a Assignment) (Response, error)
}

// Floor is a simple hook that refuses claims whose review windows are
// shorter than the adjudicator is willing to work with. A short adjudicator
// window is a hard rejection; a short escalation window only costs the
// claim its adjudicator-derived tier.
type Floor struct {
	MinAdjudicator time.Duration
	MinEscalation  time.Duration
}

func (f Floor) Preview(_ context.Context, a Assignment) (Response, error) {
	return f.judge(a.Windows), nil
}

func (f Floor) OnAssigned(_ context.Context, a Assignment) (Response, error) {
	return f.judge(a.Windows), nil
}

func (f Floor) judge(w window.Set) Response {
	if w.Adjudicator < f.MinAdjudicator {
		return RejectHard
	}
	if w.Escalation < f.MinEscalation {
		return RejectSoft
	}
	return Approve
}
