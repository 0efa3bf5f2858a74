package registry

import (
	"context"

	"verity/answer"
	"verity/apperr"
	"verity/claim"
	"verity/ledger"
	"verity/window"
)

func (r *Registry) Get(ctx context.Context, id uint64) (claim.Record, error) {
	if id == 0 {
		return claim.Record{}, apperr.With(apperr.ErrInvalidClaimID, "0")
	}
	return r.store.Get(ctx, id)
}

// Result returns the effective answer: the corrected one when a
// post-resolution dispute was upheld, the original otherwise.
func (r *Registry) Result(ctx context.Context, id uint64) (answer.Answer, bool, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return answer.Answer{}, false, err
	}
	a, ok := rec.Result.Effective()
	return a, ok, nil
}

// Question asks the claim's resolver for its display text.
func (r *Registry) Question(ctx context.Context, id uint64) (string, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	impl, err := r.resolvers.Implementation(rec.Claim.Resolver)
	if err != nil {
		return "", err
	}
	return impl.QuestionText(guarded(ctx, "question"), id)
}

// IsFullyFinalized reports whether nothing further can happen to the claim:
// it is rejected or cancelled, or resolved with no bond held, no open
// dispute and no open post-resolution window.
func (r *Registry) IsFullyFinalized(ctx context.Context, id uint64) (bool, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	switch rec.Claim.State {
	case claim.StateRejected, claim.StateCancelled:
		return true, nil
	case claim.StateResolved:
		return len(rec.HeldStakes()) == 0 &&
			!rec.Dispute.Open() &&
			window.Elapsed(r.clock(), rec.Claim.PostResolutionDeadline), nil
	}
	return false, nil
}

func (r *Registry) Movements(ctx context.Context, id uint64) ([]ledger.Movement, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.store.Movements(ctx, id)
}

// Audit tallies the claim's bond movements per asset.
func (r *Registry) Audit(ctx context.Context, id uint64) ([]ledger.Balance, error) {
	mv, err := r.Movements(ctx, id)
	if err != nil {
		return nil, err
	}
	return ledger.Tally(mv), nil
}
