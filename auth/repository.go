package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrPrincipalNotFound signals that no principal has the given id.
	ErrPrincipalNotFound = errors.New("auth: principal not found")
	// ErrDuplicatePrincipal signals that an id is configured twice.
	ErrDuplicatePrincipal = errors.New("auth: principal already exists")
)

// Repository looks principals up by id.
type Repository interface {
	GetPrincipal(ctx context.Context, id string) (Principal, error)
}

// StaticRepository serves the principals listed in configuration.
type StaticRepository struct {
	byID map[string]Principal
}

// NewStaticRepository validates and indexes principals. Ids are matched
// case-insensitively.
func NewStaticRepository(principals []Principal) (*StaticRepository, error) {
	r := &StaticRepository{byID: make(map[string]Principal, len(principals))}
	for _, p := range principals {
		key := strings.ToLower(strings.TrimSpace(p.ID))
		if key == "" {
			return nil, fmt.Errorf("auth: principal id is required")
		}
		if _, exists := r.byID[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePrincipal, p.ID)
		}
		if p.SecretHash == "" {
			return nil, fmt.Errorf("auth: principal %s has no secret hash", p.ID)
		}
		for _, c := range p.Capabilities {
			if !c.Valid() {
				return nil, fmt.Errorf("auth: principal %s: invalid capability %q", p.ID, c)
			}
		}
		p.ID = strings.TrimSpace(p.ID)
		r.byID[key] = p
	}
	return r, nil
}

func (r *StaticRepository) GetPrincipal(_ context.Context, id string) (Principal, error) {
	p, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return p, nil
}

// WithCapability lists the ids of principals holding c, sorted.
func (r *StaticRepository) WithCapability(c Capability) []string {
	var out []string
	for _, p := range r.byID {
		if (Identity{Capabilities: p.Capabilities}).Can(c) {
			out = append(out, p.ID)
		}
	}
	sort.Strings(out)
	return out
}
