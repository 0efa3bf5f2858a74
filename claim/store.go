package claim

import (
	"context"
	"errors"

	"verity/ledger"
	"verity/outbox"
)

// ErrConflict signals that a record changed underneath a transaction.
var ErrConflict = errors.New("claim: concurrent modification")

// Tx is the unit of work handed to Store.WithTx. Everything written through
// it commits together or not at all.
type Tx interface {
	ledger.Writer
	// NextID reserves the next claim id. Ids start at 1 and are never reused.
	NextID(ctx context.Context) (uint64, error)
	// Load returns a mutable copy of the record, locked for the rest of the transaction.
	Load(ctx context.Context, id uint64) (*Record, error)
	Insert(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
}

// Store persists claims, bond movements and the outbox.
type Store interface {
	outbox.Store
	WithTx(ctx context.Context, fn func(Tx) error) error
	Get(ctx context.Context, id uint64) (Record, error)
	Movements(ctx context.Context, claimID uint64) ([]ledger.Movement, error)
}
