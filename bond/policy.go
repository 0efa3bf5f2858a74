package bond

import (
	"sync"

	"github.com/shopspring/decimal"

	"verity/apperr"
)

// Policy holds the three independent requirement lists. It is read-mostly
// configuration and safe for concurrent use.
type Policy struct {
	mu    sync.RWMutex
	lists map[Class][]Requirement
}

func NewPolicy() *Policy {
	return &Policy{lists: make(map[Class][]Requirement, 3)}
}

// Acceptable reports whether amount of asset satisfies some entry on the
// class's list.
func (p *Policy) Acceptable(class Class, asset Asset, amount decimal.Decimal) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, req := range p.lists[class] {
		if req.Asset == asset && amount.GreaterThanOrEqual(req.Min) {
			return true
		}
	}
	return false
}

// Check validates a payment against the class's list.
func (p *Policy) Check(class Class, pay Payment) error {
	if err := pay.Validate(); err != nil {
		return err
	}
	if !p.Acceptable(class, pay.Asset, pay.Amount) {
		return apperr.With(apperr.ErrBondNotAcceptable, "%s bond of %s %s", class, pay.Amount, pay.Asset)
	}
	return nil
}

// Requirements returns a copy of the list for class.
func (p *Policy) Requirements(class Class) []Requirement {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Requirement(nil), p.lists[class]...)
}

// Set replaces the list for class. The resulting policy must keep every
// escalation asset on the dispute list, with a strictly higher minimum.
func (p *Policy) Set(class Class, reqs []Requirement) error {
	if !class.Valid() {
		return apperr.With(apperr.ErrInvalidBondPolicy, "unknown class %q", class)
	}
	for _, r := range reqs {
		if r.Asset == "" || r.Min.IsNegative() {
			return apperr.With(apperr.ErrInvalidBondPolicy, "invalid requirement %s/%s", r.Asset, r.Min)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[Class][]Requirement, len(p.lists)+1)
	for k, v := range p.lists {
		next[k] = v
	}
	next[class] = append([]Requirement(nil), reqs...)
	if err := validateEscalation(next[ClassDispute], next[ClassEscalation]); err != nil {
		return err
	}
	p.lists = next
	return nil
}

// validateEscalation requires every escalation asset to also be accepted for
// disputes, at a strictly higher minimum. An empty dispute list puts no
// bound on the escalation list.
func validateEscalation(dispute, escalation []Requirement) error {
	if len(dispute) == 0 {
		return nil
	}
	for _, e := range escalation {
		d, ok := find(dispute, e.Asset)
		if !ok {
			return apperr.With(apperr.ErrInvalidBondPolicy,
				"escalation asset %s is not accepted for disputes", e.Asset)
		}
		if !e.Min.GreaterThan(d.Min) {
			return apperr.With(apperr.ErrInvalidBondPolicy,
				"escalation minimum %s must exceed dispute minimum %s for %s", e.Min, d.Min, e.Asset)
		}
	}
	return nil
}

func find(reqs []Requirement, asset Asset) (Requirement, bool) {
	for _, r := range reqs {
		if r.Asset == asset {
			return r, true
		}
	}
	return Requirement{}, false
}
