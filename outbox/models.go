// Package outbox carries the transactional notifications and payout
// instructions written alongside every claim mutation.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicClaimCreated       = "claim.created"
	TopicClaimStateChanged  = "claim.state_changed"
	TopicResolutionProposed = "claim.resolution_proposed"
	TopicResultCommitted    = "claim.result_committed"
	TopicDisputeFiled       = "dispute.filed"
	TopicDisputeDecided     = "dispute.decided"
	TopicEscalationFiled    = "escalation.filed"
	TopicEscalationResolved = "escalation.resolved"
	TopicDisputeSettled     = "dispute.settled"
	TopicBondAccepted       = "bond.accepted"
	TopicBondReturned       = "bond.returned"
	TopicBondSplit          = "bond.split"
	TopicConfigChanged      = "registry.config_changed"

	// TopicPayout instructs the relay to push funds to a party.
	TopicPayout = "bond.payout"
)

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
)

// Message is one outbox entry.
type Message struct {
	ID        uuid.UUID
	Topic     string
	ClaimID   uint64
	Actor     string
	Payload   []byte
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// New builds a pending message with a JSON payload.
func New(topic string, claimID uint64, actor string, payload map[string]any, now time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Topic:     topic,
		ClaimID:   claimID,
		Actor:     actor,
		Payload:   toJSON(payload),
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Writer enqueues messages inside the caller's transaction.
type Writer interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Store exposes the pending queue to the relay.
type Store interface {
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, dead bool) error
}

func toJSON(m map[string]any) []byte {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return b
}
