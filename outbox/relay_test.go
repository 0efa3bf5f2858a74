package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verity/bond"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStore struct {
	pending   []Message
	processed []uuid.UUID
	failed    map[uuid.UUID]bool
}

func (f *fakeStore) Pending(_ context.Context, limit int) ([]Message, error) {
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, id uuid.UUID) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, _ string, dead bool) error {
	if f.failed == nil {
		f.failed = map[uuid.UUID]bool{}
	}
	f.failed[id] = dead
	return nil
}

type fakePayer struct {
	pushes []Payout
	err    error
}

func (f *fakePayer) Push(_ context.Context, to string, asset bond.Asset, amount decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	f.pushes = append(f.pushes, Payout{Party: to, Asset: asset, Amount: amount})
	return nil
}

type recordingSink struct {
	topics []string
}

func (r *recordingSink) Publish(_ context.Context, msg Message) error {
	r.topics = append(r.topics, msg.Topic)
	return nil
}

func payoutMessage(party string, asset bond.Asset, amount int64, attempts int) Message {
	msg := New(TopicPayout, 7, "registry", map[string]any{
		"party":  party,
		"asset":  asset,
		"amount": decimal.NewFromInt(amount),
		"class":  "dispute",
		"kind":   "return",
	}, time.Now())
	msg.Attempts = attempts
	return msg
}

func TestDrainPushesPayoutsAndPublishes(t *testing.T) {
	note := New(TopicClaimCreated, 7, "alice", map[string]any{"tier": "SYSTEM"}, time.Now())
	pay := payoutMessage("bob", "usdc", 40, 0)
	store := &fakeStore{pending: []Message{note, pay}}
	payer := &fakePayer{}
	sink := &recordingSink{}

	relay := NewRelay(store, payer, sink, RelayConfig{})
	n, err := relay.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []uuid.UUID{note.ID, pay.ID}, store.processed)
	require.Len(t, payer.pushes, 1)
	assert.Equal(t, "bob", payer.pushes[0].Party)
	assert.Equal(t, "40", payer.pushes[0].Amount.String())
	assert.Equal(t, []string{TopicClaimCreated, TopicPayout}, sink.topics)
}

func TestDrainPublishesNativePayoutsWithoutPushing(t *testing.T) {
	pay := payoutMessage("dave", bond.Native, 40, 0)
	store := &fakeStore{pending: []Message{pay}}
	payer := &fakePayer{err: errors.New("native funds never reach the custodian")}
	sink := &recordingSink{}

	relay := NewRelay(store, payer, sink, RelayConfig{})
	n, err := relay.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{pay.ID}, store.processed)
	assert.Empty(t, payer.pushes)
	assert.Equal(t, []string{TopicPayout}, sink.topics)
}

func TestDrainMarksFailedAndDeadAfterMaxAttempts(t *testing.T) {
	retry := payoutMessage("bob", "usdc", 10, 0)
	last := payoutMessage("carol", "usdc", 10, 2)
	store := &fakeStore{pending: []Message{retry, last}}
	payer := &fakePayer{err: errors.New("custodian offline")}

	relay := NewRelay(store, payer, nil, RelayConfig{MaxAttempts: 3})
	n, err := relay.Drain(context.Background())
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.Empty(t, store.processed)
	assert.False(t, store.failed[retry.ID])
	assert.True(t, store.failed[last.ID])
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	relay := NewRelay(store, &fakePayer{}, nil, RelayConfig{Interval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, relay.Run(ctx))
}
