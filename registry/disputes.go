package registry

import (
	"context"
	"time"

	"verity/answer"
	"verity/claim"
	"verity/dispute"
)

// DecisionRequest carries a ruling and the optional corrected answer that
// goes with an UPHOLD.
type DecisionRequest struct {
	ClaimID   uint64
	Caller    string
	Decision  claim.Decision
	Corrected *answer.Answer
}

// onClaim loads a claim, applies fn and saves it as one operation.
func (r *Registry) onClaim(ctx context.Context, op string, id uint64, fn func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error) error {
	return r.mutate(ctx, op, id, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		rec, err := tx.Load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, rec, now); err != nil {
			return err
		}
		return tx.Update(ctx, rec)
	})
}

// Dispute files the claim's single dispute, before or after resolution.
func (r *Registry) Dispute(ctx context.Context, id uint64, f dispute.Filing) error {
	return r.onClaim(ctx, "dispute", id, func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error {
		return r.engine.File(ctx, tx, rec, f, now)
	})
}

func (r *Registry) ResolveAdjudicatorDispute(ctx context.Context, req DecisionRequest) error {
	return r.onClaim(ctx, "resolve_adjudicator_dispute", req.ClaimID, func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error {
		return r.engine.Decide(ctx, tx, rec, req.Caller, req.Decision, req.Corrected, now)
	})
}

func (r *Registry) EscalateOnAdjudicatorTimeout(ctx context.Context, caller string, id uint64) error {
	return r.onClaim(ctx, "escalate_on_adjudicator_timeout", id, func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error {
		return r.engine.EscalateOnTimeout(ctx, tx, rec, caller, now)
	})
}

func (r *Registry) ChallengeAdjudicatorDecision(ctx context.Context, id uint64, f dispute.Filing) error {
	return r.onClaim(ctx, "challenge_adjudicator_decision", id, func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error {
		return r.engine.Challenge(ctx, tx, rec, f, now)
	})
}

func (r *Registry) FinalizeAfterAdjudicator(ctx context.Context, caller string, id uint64) error {
	return r.onClaim(ctx, "finalize_after_adjudicator", id, func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error {
		return r.engine.FinalizeAfterAdjudicator(ctx, tx, rec, caller, now)
	})
}

// ResolveEscalation is the final authority's round-two ruling.
func (r *Registry) ResolveEscalation(ctx context.Context, req DecisionRequest) error {
	if err := r.requireFinalAuthority(req.Caller); err != nil {
		return err
	}
	return r.onClaim(ctx, "resolve_escalation", req.ClaimID, func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error {
		return r.engine.ResolveEscalation(ctx, tx, rec, req.Caller, req.Decision, req.Corrected, now)
	})
}

// ResolvePostResolutionDispute is the final authority's ruling on a dispute
// filed after the claim resolved.
func (r *Registry) ResolvePostResolutionDispute(ctx context.Context, req DecisionRequest) error {
	if err := r.requireFinalAuthority(req.Caller); err != nil {
		return err
	}
	return r.onClaim(ctx, "resolve_post_resolution_dispute", req.ClaimID, func(ctx context.Context, tx claim.Tx, rec *claim.Record, now time.Time) error {
		return r.engine.ResolvePost(ctx, tx, rec, req.Caller, req.Decision, req.Corrected, now)
	})
}
