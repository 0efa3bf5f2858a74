// Package bond describes bond assets, the acceptance policy for each bond
// class, and the stakes held against a claim.
package bond

import (
	"fmt"

	"github.com/shopspring/decimal"

	"verity/apperr"
)

// Asset identifies what a bond is denominated in.
type Asset string

// Native is the asset attached directly to a call rather than pulled by the custodian.
const Native Asset = "native"

// Class is the role a bond plays in a claim's lifecycle.
type Class string

const (
	ClassResolution Class = "resolution"
	ClassDispute    Class = "dispute"
	ClassEscalation Class = "escalation"
)

func (c Class) Valid() bool {
	switch c {
	case ClassResolution, ClassDispute, ClassEscalation:
		return true
	}
	return false
}

// Requirement is an (asset, minimum) pair on one of the three policy lists.
type Requirement struct {
	Asset Asset           `json:"asset"`
	Min   decimal.Decimal `json:"min"`
}

// Payment is what a caller offers when posting a bond. For the native asset
// Attached must equal Amount; other assets are pulled by the custodian.
type Payment struct {
	Asset    Asset           `json:"asset"`
	Amount   decimal.Decimal `json:"amount"`
	Attached decimal.Decimal `json:"attached"`
}

// Validate checks the payment's own shape, independent of policy.
func (p Payment) Validate() error {
	if p.Asset == "" {
		return apperr.With(apperr.ErrBondNotAcceptable, "missing asset")
	}
	if !p.Amount.IsPositive() || !p.Amount.IsInteger() {
		return apperr.With(apperr.ErrBondNotAcceptable, "amount %s must be a positive whole number of base units", p.Amount)
	}
	if p.Asset == Native && !p.Attached.Equal(p.Amount) {
		return apperr.With(apperr.ErrFundsMismatch, "attached %s, amount %s", p.Attached, p.Amount)
	}
	return nil
}

// Stake is a bond accepted by the ledger and, while Held, owed back to
// someone when the claim settles.
type Stake struct {
	Party  string          `json:"party"`
	Asset  Asset           `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Held   bool            `json:"held"`
}

func (s Stake) String() string {
	return fmt.Sprintf("%s %s from %s (held=%t)", s.Amount, s.Asset, s.Party, s.Held)
}

// Split divides amount between a winner and the protocol. The winner gets
// the floor of half; the protocol keeps the rest, so odd remainders round
// the kept share up.
func Split(amount decimal.Decimal) (winner, kept decimal.Decimal) {
	winner = amount.Div(decimal.NewFromInt(2)).Floor()
	kept = amount.Sub(winner)
	return winner, kept
}
