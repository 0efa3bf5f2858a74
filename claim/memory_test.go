package claim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verity/answer"
	"verity/apperr"
	"verity/bond"
	"verity/ledger"
	"verity/outbox"
)

func newRecord(id uint64) *Record {
	return &Record{Claim: Claim{
		ID:         id,
		Creator:    "alice",
		Resolver:   "optimistic",
		AnswerType: answer.TypeBoolean,
		State:      StateActive,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func TestMemoryStoreCommitsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.WithTx(ctx, func(tx Tx) error {
		id, err := tx.NextID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		require.NoError(t, tx.Insert(ctx, newRecord(id)))
		require.NoError(t, tx.AppendMovement(ctx, ledger.Movement{ClaimID: id, Kind: ledger.KindAccept, Asset: bond.Native, Amount: decimal.NewFromInt(5)}))
		require.NoError(t, tx.Enqueue(ctx, outbox.New(outbox.TopicClaimCreated, id, "alice", nil, time.Now())))
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidClaimID)
	assert.Empty(t, s.Messages())
	mv, _ := s.Movements(ctx, 1)
	assert.Empty(t, mv)

	// The aborted id is never handed out again.
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		id, err := tx.NextID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)
		return tx.Insert(ctx, newRecord(id))
	}))
	rec, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
}

func TestMemoryStoreLoadReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.Insert(ctx, newRecord(1))
	}))

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		rec, err := tx.Load(ctx, 1)
		require.NoError(t, err)
		rec.Claim.State = StateResolving
		rec.Resolution = &ResolutionInfo{Proposer: "bob", Answer: answer.NewBool(true)}

		stored, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StateActive, stored.Claim.State)
		return tx.Update(ctx, rec)
	}))

	rec, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateResolving, rec.Claim.State)
	require.NotNil(t, rec.Resolution)
	assert.Equal(t, "bob", rec.Resolution.Proposer)
	assert.Equal(t, int64(2), rec.Version)
}

func TestMemoryStoreDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error { return tx.Insert(ctx, newRecord(1)) }))

	err := s.WithTx(ctx, func(tx Tx) error {
		rec, err := tx.Load(ctx, 1)
		require.NoError(t, err)
		// A competing writer commits first.
		require.NoError(t, s.WithTx(ctx, func(inner Tx) error {
			other, err := inner.Load(ctx, 1)
			require.NoError(t, err)
			other.Claim.State = StateResolving
			return inner.Update(ctx, other)
		}))
		rec.Claim.State = StateResolved
		return tx.Update(ctx, rec)
	})
	assert.ErrorIs(t, err, ErrConflict)

	rec, _ := s.Get(ctx, 1)
	assert.Equal(t, StateResolving, rec.Claim.State)
}

func TestMemoryStoreOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := outbox.New(outbox.TopicClaimCreated, 1, "alice", nil, time.Now())
	b := outbox.New(outbox.TopicPayout, 1, "bob", nil, time.Now())
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.Enqueue(ctx, a))
		return tx.Enqueue(ctx, b)
	}))

	pending, err := s.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, s.MarkProcessed(ctx, a.ID))
	require.NoError(t, s.MarkFailed(ctx, b.ID, "offline", true))

	pending, err = s.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	msgs := s.Messages()
	assert.Equal(t, outbox.StatusProcessed, msgs[0].Status)
	assert.Equal(t, outbox.StatusDead, msgs[1].Status)
	assert.Equal(t, 1, msgs[1].Attempts)
}
