// Package tier computes the accountability tier frozen onto a claim at creation.
package tier

import "fmt"

type Tier uint8

const (
	Permissionless Tier = iota
	AdjudicatorGuaranteed
	System
)

func (t Tier) String() string {
	switch t {
	case Permissionless:
		return "PERMISSIONLESS"
	case AdjudicatorGuaranteed:
		return "ADJUDICATOR_GUARANTEED"
	case System:
		return "SYSTEM"
	}
	return fmt.Sprintf("TIER(%d)", uint8(t))
}

func Parse(s string) (Tier, error) {
	switch s {
	case "PERMISSIONLESS":
		return Permissionless, nil
	case "ADJUDICATOR_GUARANTEED":
		return AdjudicatorGuaranteed, nil
	case "SYSTEM":
		return System, nil
	}
	return 0, fmt.Errorf("tier: unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Inputs are the only facts the calculation looks at.
type Inputs struct {
	SystemGradeResolver    bool
	WhitelistedAdjudicator bool
	Vouched                bool
}

// Calculate is pure: a system-grade resolver paired with a whitelisted
// adjudicator is SYSTEM, an explicit vouch is ADJUDICATOR_GUARANTEED, and
// everything else is PERMISSIONLESS.
func Calculate(in Inputs) Tier {
	switch {
	case in.SystemGradeResolver && in.WhitelistedAdjudicator:
		return System
	case in.Vouched:
		return AdjudicatorGuaranteed
	default:
		return Permissionless
	}
}
