// Package ledger is the only place bond funds move. Accept, Return and Split
// record movements and enqueue payout instructions through the caller's
// transaction so that funds and claim state commit together.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"verity/bond"
	"verity/outbox"
)

// Kind names one leg of a movement.
type Kind string

const (
	KindAccept   Kind = "accept"
	KindReturn   Kind = "return"
	KindAward    Kind = "award"
	KindProtocol Kind = "protocol"
	// KindForfeit is informational: it records what the loser of a split gave up.
	KindForfeit Kind = "forfeit"
)

// Movement is one audited leg of a bond's life.
type Movement struct {
	ClaimID   uint64
	Class     bond.Class
	Kind      Kind
	Party     string
	Asset     bond.Asset
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Writer is the transactional sink for movements and outbox messages.
type Writer interface {
	outbox.Writer
	AppendMovement(ctx context.Context, m Movement) error
}

// Custodian moves non-native assets in and out of the registry's custody.
type Custodian interface {
	Pull(ctx context.Context, from string, asset bond.Asset, amount decimal.Decimal) error
	Push(ctx context.Context, to string, asset bond.Asset, amount decimal.Decimal) error
}
