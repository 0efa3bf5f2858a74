package claim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"verity/apperr"
	"verity/ledger"
	"verity/outbox"
)

// MemoryStore keeps everything in process. Transactions stage their writes
// and apply them in one step on commit.
type MemoryStore struct {
	mu        sync.RWMutex
	lastID    uint64
	records   map[uint64]Record
	movements map[uint64][]ledger.Movement
	messages  []outbox.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   map[uint64]Record{},
		movements: map[uint64][]ledger.Movement{},
	}
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, apperr.With(apperr.ErrInvalidClaimID, "%d", id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Movements(_ context.Context, claimID uint64) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.Movement(nil), s.movements[claimID]...), nil
}

// Messages returns every outbox message in enqueue order.
func (s *MemoryStore) Messages() []outbox.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Message(nil), s.messages...)
}

func (s *MemoryStore) Pending(_ context.Context, limit int) ([]outbox.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbox.Message, 0, limit)
	for _, m := range s.messages {
		if m.Status != outbox.StatusPending {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id uuid.UUID) error {
	return s.updateMessage(id, func(m *outbox.Message) {
		m.Status = outbox.StatusProcessed
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, reason string, dead bool) error {
	return s.updateMessage(id, func(m *outbox.Message) {
		m.Attempts++
		m.LastError = reason
		if dead {
			m.Status = outbox.StatusDead
		}
	})
}

func (s *MemoryStore) updateMessage(id uuid.UUID, fn func(*outbox.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			fn(&s.messages[i])
			return nil
		}
	}
	return fmt.Errorf("claim: outbox message %s not found", id)
}

// WithTx runs fn against a staging area and applies it only if fn succeeds
// and no staged record was modified concurrently.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{
		store:   s,
		loaded:  map[uint64]int64{},
		records: map[uint64]*Record{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range tx.loaded {
		if cur, ok := s.records[id]; !ok || cur.Version != version {
			return ErrConflict
		}
	}
	for _, id := range tx.inserted {
		if _, exists := s.records[id]; exists {
			return ErrConflict
		}
	}

	ids := make([]uint64, 0, len(tx.records))
	for id := range tx.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rec := tx.records[id].Clone()
		rec.Version++
		s.records[id] = rec
	}
	for _, m := range tx.movements {
		s.movements[m.ClaimID] = append(s.movements[m.ClaimID], m)
	}
	s.messages = append(s.messages, tx.messages...)
	if tx.maxID > s.lastID {
		s.lastID = tx.maxID
	}
	return nil
}

type memTx struct {
	store     *MemoryStore
	maxID     uint64
	loaded    map[uint64]int64
	inserted  []uint64
	records   map[uint64]*Record
	movements []ledger.Movement
	messages  []outbox.Message
}

func (t *memTx) NextID(_ context.Context) (uint64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	// Reserve eagerly so a rolled-back transaction never hands its id out again.
	t.store.lastID++
	t.maxID = t.store.lastID
	return t.maxID, nil
}

func (t *memTx) Load(_ context.Context, id uint64) (*Record, error) {
	if rec, ok := t.records[id]; ok {
		return rec, nil
	}
	t.store.mu.RLock()
	stored, ok := t.store.records[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, apperr.With(apperr.ErrInvalidClaimID, "%d", id)
	}
	rec := stored.Clone()
	t.loaded[id] = rec.Version
	t.records[id] = &rec
	return &rec, nil
}

func (t *memTx) Insert(_ context.Context, rec *Record) error {
	if rec.Claim.ID == 0 {
		return apperr.With(apperr.ErrInvalidClaimID, "insert without id")
	}
	c := rec.Clone()
	c.Version = 0
	t.records[rec.Claim.ID] = &c
	t.inserted = append(t.inserted, rec.Claim.ID)
	return nil
}

func (t *memTx) Update(_ context.Context, rec *Record) error {
	if _, ok := t.loaded[rec.Claim.ID]; !ok {
		if _, fresh := t.records[rec.Claim.ID]; !fresh {
			return apperr.With(apperr.ErrInvalidClaimID, "update of unloaded claim %d", rec.Claim.ID)
		}
	}
	c := rec.Clone()
	c.Version = t.records[rec.Claim.ID].Version
	t.records[rec.Claim.ID] = &c
	return nil
}

func (t *memTx) AppendMovement(_ context.Context, m ledger.Movement) error {
	t.movements = append(t.movements, m)
	return nil
}

func (t *memTx) Enqueue(_ context.Context, msg outbox.Message) error {
	t.messages = append(t.messages, msg)
	return nil
}
