package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"verity/bond"
)

// MemoryCustodian keeps balances in process. It backs the in-memory store
// and tests; production deployments plug in a custodian for the real assets.
type MemoryCustodian struct {
	mu       sync.Mutex
	balances map[string]map[bond.Asset]decimal.Decimal
}

func NewMemoryCustodian() *MemoryCustodian {
	return &MemoryCustodian{balances: map[string]map[bond.Asset]decimal.Decimal{}}
}

// Fund credits party, e.g. when seeding test accounts.
func (c *MemoryCustodian) Fund(party string, asset bond.Asset, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(party, asset, amount)
}

func (c *MemoryCustodian) Balance(party string, asset bond.Asset) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[party][asset]
}

func (c *MemoryCustodian) Pull(_ context.Context, from string, asset bond.Asset, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	have := c.balances[from][asset]
	if have.LessThan(amount) {
		return fmt.Errorf("custodian: %s holds %s %s, needs %s", from, have, asset, amount)
	}
	c.balances[from][asset] = have.Sub(amount)
	return nil
}

func (c *MemoryCustodian) Push(_ context.Context, to string, asset bond.Asset, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(to, asset, amount)
	return nil
}

func (c *MemoryCustodian) credit(party string, asset bond.Asset, amount decimal.Decimal) {
	acct, ok := c.balances[party]
	if !ok {
		acct = map[bond.Asset]decimal.Decimal{}
		c.balances[party] = acct
	}
	acct[asset] = acct[asset].Add(amount)
}
