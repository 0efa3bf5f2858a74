package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"verity/bond"
)

// Payout is the payload of a TopicPayout message.
type Payout struct {
	Party  string          `json:"party"`
	Asset  bond.Asset      `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Class  bond.Class      `json:"class"`
	Kind   string          `json:"kind"`
}

// Payer pushes funds to a party.
type Payer interface {
	Push(ctx context.Context, to string, asset bond.Asset, amount decimal.Decimal) error
}

// Sink publishes a processed message to whatever indexes notifications.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}

// RelayConfig tunes the drain loop.
type RelayConfig struct {
	Interval      time.Duration
	BatchSize     int
	MaxAttempts   int
	RatePerSecond float64
}

// Relay drains pending messages: payouts are pushed through the Payer and
// every message is published to the Sink before it is marked processed.
type Relay struct {
	store   Store
	payer   Payer
	sink    Sink
	limiter *rate.Limiter
	cfg     RelayConfig
}

func NewRelay(store Store, payer Payer, sink Sink, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Relay{
		store:   store,
		payer:   payer,
		sink:    sink,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
	}
}

// Run drains on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "outbox.relay"))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain processes one batch and returns how many messages were marked processed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	msgs, err := r.store.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "outbox: load pending")
	}

	done := 0
	for _, msg := range msgs {
		if err := r.deliver(ctx, msg); err != nil {
			dead := msg.Attempts+1 >= r.cfg.MaxAttempts
			zap.L().Warn("outbox delivery failed",
				zap.String("id", msg.ID.String()),
				zap.String("topic", msg.Topic),
				zap.Uint64("claim_id", msg.ClaimID),
				zap.Int("attempts", msg.Attempts+1),
				zap.Bool("dead", dead),
				zap.Error(err),
			)
			if markErr := r.store.MarkFailed(ctx, msg.ID, err.Error(), dead); markErr != nil {
				return done, eris.Wrapf(markErr, "outbox: mark failed %s", msg.ID)
			}
			continue
		}
		if err := r.store.MarkProcessed(ctx, msg.ID); err != nil {
			return done, eris.Wrapf(err, "outbox: mark processed %s", msg.ID)
		}
		done++
	}
	return done, nil
}

func (r *Relay) deliver(ctx context.Context, msg Message) error {
	if msg.Topic == TopicPayout {
		var p Payout
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return eris.Wrap(err, "outbox: decode payout")
		}
		// Native funds arrived attached to the call and never entered the
		// custodian, so only the published message settles them.
		if p.Asset != bond.Native {
			if err := r.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "outbox: rate limit")
			}
			if err := r.payer.Push(ctx, p.Party, p.Asset, p.Amount); err != nil {
				return eris.Wrapf(err, "outbox: push %s %s to %s", p.Amount, p.Asset, p.Party)
			}
		}
	}
	if r.sink == nil {
		return nil
	}
	return r.sink.Publish(ctx, msg)
}
