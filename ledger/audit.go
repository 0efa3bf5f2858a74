package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"verity/apperr"
	"verity/bond"
)

// Balance is the per-asset tally of a claim's movements.
type Balance struct {
	Asset     bond.Asset
	Accepted  decimal.Decimal
	Disbursed decimal.Decimal
}

// Outstanding is what the registry still holds for the asset.
func (b Balance) Outstanding() decimal.Decimal {
	return b.Accepted.Sub(b.Disbursed)
}

// Tally sums accepted funds against returned, awarded and protocol-kept funds
// per asset. Forfeit entries are informational and not counted.
func Tally(movements []Movement) []Balance {
	by := map[bond.Asset]*Balance{}
	for _, m := range movements {
		b, ok := by[m.Asset]
		if !ok {
			b = &Balance{Asset: m.Asset, Accepted: decimal.Zero, Disbursed: decimal.Zero}
			by[m.Asset] = b
		}
		switch m.Kind {
		case KindAccept:
			b.Accepted = b.Accepted.Add(m.Amount)
		case KindReturn, KindAward, KindProtocol:
			b.Disbursed = b.Disbursed.Add(m.Amount)
		}
	}

	out := make([]Balance, 0, len(by))
	for _, b := range by {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Conserved fails when any asset has funds accepted but not disbursed, or
// disbursed without having been accepted.
func Conserved(movements []Movement) error {
	for _, b := range Tally(movements) {
		if !b.Outstanding().IsZero() {
			return apperr.With(apperr.ErrFundsMismatch, "%s: accepted %s, disbursed %s", b.Asset, b.Accepted, b.Disbursed)
		}
	}
	return nil
}
