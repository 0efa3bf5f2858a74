package adjudicator

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"verity/apperr"
)

type entry struct {
	hook        Adjudicator
	whitelisted bool
	vouches     map[string]struct{}
}

// Directory records registered adjudicators, the system whitelist and the
// many-to-many vouch relation between adjudicators and resolvers.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]*entry)}
}

// Register adds an adjudicator. A nil hook approves every assignment.
func (d *Directory) Register(id string, hook Adjudicator) error {
	if id == "" {
		return apperr.With(apperr.ErrInvalidAdjudicatorReference, "id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[id]; ok {
		return apperr.With(apperr.ErrInvalidAdjudicatorReference, "%s already registered", id)
	}
	d.entries[id] = &entry{hook: hook, vouches: make(map[string]struct{})}
	zap.L().Info("adjudicator registered", zap.String("adjudicator", id), zap.Bool("hook", hook != nil))
	return nil
}

func (d *Directory) IsRegistered(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[id]
	return ok
}

func (d *Directory) Whitelist(id string) error {
	return d.update(id, "adjudicator whitelisted", func(e *entry) { e.whitelisted = true })
}

func (d *Directory) Dewhitelist(id string) error {
	return d.update(id, "adjudicator removed from whitelist", func(e *entry) { e.whitelisted = false })
}

func (d *Directory) IsWhitelisted(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	return ok && e.whitelisted
}

// Vouch records that adjudicator id guarantees claims backed by resolverID.
func (d *Directory) Vouch(id, resolverID string) error {
	if resolverID == "" {
		return apperr.With(apperr.ErrInvalidResolverReference, "resolver id is required")
	}
	return d.update(id, "adjudicator vouched", func(e *entry) { e.vouches[resolverID] = struct{}{} },
		zap.String("resolver", resolverID))
}

func (d *Directory) Unvouch(id, resolverID string) error {
	return d.update(id, "adjudicator unvouched", func(e *entry) { delete(e.vouches, resolverID) },
		zap.String("resolver", resolverID))
}

func (d *Directory) HasVouched(id, resolverID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return false
	}
	_, vouched := e.vouches[resolverID]
	return vouched
}

// Vouches lists the resolvers adjudicator id vouches for, sorted.
func (d *Directory) Vouches(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.vouches))
	for r := range e.vouches {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Hook returns the registered hook for id, which may be nil.
func (d *Directory) Hook(id string) (Adjudicator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return nil, apperr.With(apperr.ErrInvalidAdjudicatorReference, "%s", id)
	}
	return e.hook, nil
}

func (d *Directory) update(id, msg string, fn func(*entry), fields ...zap.Field) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return apperr.With(apperr.ErrInvalidAdjudicatorReference, "%s", id)
	}
	fn(e)
	zap.L().Info(msg, append([]zap.Field{zap.String("adjudicator", id)}, fields...)...)
	return nil
}
