package claim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verity/outbox"
)

// Advance transitions the record and stages the matching state-change
// notification in the same unit of work.
func (r *Record) Advance(ctx context.Context, w outbox.Writer, next State, actor string, now time.Time) error {
	from := r.Claim.State
	if err := r.Claim.Transition(next); err != nil {
		return err
	}
	if err := w.Enqueue(ctx, outbox.New(outbox.TopicClaimStateChanged, r.Claim.ID, actor, map[string]any{
		"from": from,
		"to":   next,
	}, now)); err != nil {
		return fmt.Errorf("claim: enqueue state change: %w", err)
	}
	zap.L().Info("claim state changed",
		zap.Uint64("claim_id", r.Claim.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", next),
		zap.String("actor", actor),
	)
	return nil
}
