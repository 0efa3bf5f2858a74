package resolver

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"verity/apperr"
)

type entry struct {
	cfg  Config
	impl Resolver
}

// Directory is the set of registered resolvers. It is read-mostly
// configuration and safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]*entry)}
}

// Register adds a resolver under id with the given trust class.
func (d *Directory) Register(id string, impl Resolver, trust Trust) error {
	if id == "" || impl == nil {
		return apperr.With(apperr.ErrInvalidResolverReference, "id and implementation are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[id]; ok {
		return apperr.With(apperr.ErrInvalidResolverReference, "%s already registered", id)
	}
	d.entries[id] = &entry{cfg: Config{ID: id, Trust: trust}, impl: impl}
	zap.L().Info("resolver registered", zap.String("resolver", id), zap.Stringer("trust", trust))
	return nil
}

func (d *Directory) Deprecate(id string) error {
	return d.update(id, func(c *Config) { c.Deprecated = true })
}

func (d *Directory) Restore(id string) error {
	return d.update(id, func(c *Config) { c.Deprecated = false })
}

// SetTrust changes the trust class. Existing claims keep the tier they were
// created with.
func (d *Directory) SetTrust(id string, trust Trust) error {
	return d.update(id, func(c *Config) { c.Trust = trust })
}

func (d *Directory) update(id string, fn func(*Config)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return apperr.With(apperr.ErrInvalidResolverReference, "%s", id)
	}
	fn(&e.cfg)
	zap.L().Info("resolver updated",
		zap.String("resolver", id),
		zap.Stringer("trust", e.cfg.Trust),
		zap.Bool("deprecated", e.cfg.Deprecated),
	)
	return nil
}

// Lookup returns an active resolver. Unknown, untrusted and deprecated
// resolvers are all rejected.
func (d *Directory) Lookup(id string) (Resolver, Config, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok || !e.cfg.Active() {
		return nil, Config{}, apperr.With(apperr.ErrInvalidResolverReference, "%s", id)
	}
	return e.impl, e.cfg, nil
}

// Implementation returns the resolver registered under id regardless of its
// status, for claims created before a deprecation.
func (d *Directory) Implementation(id string) (Resolver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return nil, apperr.With(apperr.ErrInvalidResolverReference, "%s", id)
	}
	return e.impl, nil
}

func (d *Directory) Config(id string) (Config, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return Config{}, false
	}
	return e.cfg, true
}

// List returns every registered resolver ordered by id.
func (d *Directory) List() []Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Config, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
