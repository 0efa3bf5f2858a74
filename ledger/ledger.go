package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"verity/apperr"
	"verity/bond"
	"verity/outbox"
)

// Ledger applies accept / return / split against a Writer.
type Ledger struct {
	custodian Custodian
	treasury  string
}

func New(custodian Custodian, treasury string) *Ledger {
	return &Ledger{custodian: custodian, treasury: treasury}
}

// Treasury is the party credited with the protocol share of splits.
func (l *Ledger) Treasury() string { return l.treasury }

// Custodian exposes the configured custodian, for compensating pulls.
func (l *Ledger) Custodian() Custodian { return l.custodian }

// Accept takes custody of a payment from party. Native funds arrive attached
// to the call and are only checked; other assets are pulled.
func (l *Ledger) Accept(ctx context.Context, w Writer, claimID uint64, class bond.Class, party string, pay bond.Payment, now time.Time) (bond.Stake, error) {
	if err := pay.Validate(); err != nil {
		return bond.Stake{}, err
	}
	if pay.Asset != bond.Native {
		if err := l.custodian.Pull(ctx, party, pay.Asset, pay.Amount); err != nil {
			return bond.Stake{}, apperr.Wrap(apperr.ErrInsufficientFunds, err)
		}
	}

	stake := bond.Stake{Party: party, Asset: pay.Asset, Amount: pay.Amount, Held: true}
	if err := l.record(ctx, w, Movement{ClaimID: claimID, Class: class, Kind: KindAccept, Party: party, Asset: pay.Asset, Amount: pay.Amount, CreatedAt: now}); err != nil {
		return bond.Stake{}, err
	}
	if err := w.Enqueue(ctx, outbox.New(outbox.TopicBondAccepted, claimID, party, map[string]any{
		"class":  class,
		"asset":  pay.Asset,
		"amount": pay.Amount,
	}, now)); err != nil {
		return bond.Stake{}, fmt.Errorf("ledger: enqueue accept: %w", err)
	}
	return stake, nil
}

// Return sends a held stake back to its owner in full. Stakes that are not
// held are ignored.
func (l *Ledger) Return(ctx context.Context, w Writer, claimID uint64, class bond.Class, stake *bond.Stake, now time.Time) error {
	if stake == nil || !stake.Held {
		return nil
	}
	if err := l.payout(ctx, w, claimID, class, KindReturn, stake.Party, stake.Asset, stake.Amount, now); err != nil {
		return err
	}
	if err := w.Enqueue(ctx, outbox.New(outbox.TopicBondReturned, claimID, stake.Party, map[string]any{
		"class":  class,
		"asset":  stake.Asset,
		"amount": stake.Amount,
	}, now)); err != nil {
		return fmt.Errorf("ledger: enqueue return: %w", err)
	}
	stake.Held = false
	return nil
}

// Split awards half of a held stake to winner, keeps the remainder for the
// protocol, and records the forfeited amount against the stake's owner.
func (l *Ledger) Split(ctx context.Context, w Writer, claimID uint64, class bond.Class, stake *bond.Stake, winner string, now time.Time) error {
	if stake == nil || !stake.Held {
		return nil
	}
	award, kept := bond.Split(stake.Amount)

	if award.IsPositive() {
		if err := l.payout(ctx, w, claimID, class, KindAward, winner, stake.Asset, award, now); err != nil {
			return err
		}
	}
	if err := l.record(ctx, w, Movement{ClaimID: claimID, Class: class, Kind: KindProtocol, Party: l.treasury, Asset: stake.Asset, Amount: kept, CreatedAt: now}); err != nil {
		return err
	}
	if err := l.record(ctx, w, Movement{ClaimID: claimID, Class: class, Kind: KindForfeit, Party: stake.Party, Asset: stake.Asset, Amount: stake.Amount, CreatedAt: now}); err != nil {
		return err
	}
	if err := w.Enqueue(ctx, outbox.New(outbox.TopicBondSplit, claimID, stake.Party, map[string]any{
		"class":    class,
		"asset":    stake.Asset,
		"forfeit":  stake.Amount,
		"winner":   winner,
		"award":    award,
		"treasury": l.treasury,
		"kept":     kept,
	}, now)); err != nil {
		return fmt.Errorf("ledger: enqueue split: %w", err)
	}
	stake.Held = false
	return nil
}

func (l *Ledger) payout(ctx context.Context, w Writer, claimID uint64, class bond.Class, kind Kind, to string, asset bond.Asset, amount decimal.Decimal, now time.Time) error {
	if err := l.record(ctx, w, Movement{ClaimID: claimID, Class: class, Kind: kind, Party: to, Asset: asset, Amount: amount, CreatedAt: now}); err != nil {
		return err
	}
	if err := w.Enqueue(ctx, outbox.New(outbox.TopicPayout, claimID, to, map[string]any{
		"party":  to,
		"asset":  asset,
		"amount": amount,
		"class":  class,
		"kind":   kind,
	}, now)); err != nil {
		return fmt.Errorf("ledger: enqueue payout: %w", err)
	}
	return nil
}

func (l *Ledger) record(ctx context.Context, w Writer, m Movement) error {
	if err := w.AppendMovement(ctx, m); err != nil {
		return fmt.Errorf("ledger: append %s movement: %w", m.Kind, err)
	}
	zap.L().Debug("bond movement staged",
		zap.Uint64("claim_id", m.ClaimID),
		zap.String("class", string(m.Class)),
		zap.String("kind", string(m.Kind)),
		zap.String("party", m.Party),
		zap.String("asset", string(m.Asset)),
		zap.String("amount", m.Amount.String()),
	)
	return nil
}
