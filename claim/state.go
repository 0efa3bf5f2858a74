package claim

import (
	"fmt"

	"verity/apperr"
)

// State is a claim's lifecycle state.
type State uint8

const (
	StateNone State = iota
	StatePending
	StateActive
	StateRejected
	StateResolving
	StateResolved
	StateDisputedRound1
	StateDisputedRound2
	StateCancelled
)

var stateNames = map[State]string{
	StateNone:           "NONE",
	StatePending:        "PENDING",
	StateActive:         "ACTIVE",
	StateRejected:       "REJECTED",
	StateResolving:      "RESOLVING",
	StateResolved:       "RESOLVED",
	StateDisputedRound1: "DISPUTED_ROUND_1",
	StateDisputedRound2: "DISPUTED_ROUND_2",
	StateCancelled:      "CANCELLED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", uint8(s))
}

func ParseState(v string) (State, error) {
	for s, name := range stateNames {
		if name == v {
			return s, nil
		}
	}
	return StateNone, fmt.Errorf("claim: unknown state %q", v)
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether no lifecycle transition leaves s.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateResolved || s == StateCancelled
}

// transitions lists every legal edge. A post-resolution dispute keeps the
// claim RESOLVED, so RESOLVED has no outgoing edge. TOO_EARLY returns a
// disputed claim to ACTIVE from either round.
var transitions = map[State][]State{
	StateNone:           {StatePending, StateActive},
	StatePending:        {StateActive, StateRejected},
	StateActive:         {StateResolving, StateResolved},
	StateResolving:      {StateResolved, StateDisputedRound1},
	StateDisputedRound1: {StateActive, StateResolved, StateCancelled, StateDisputedRound2},
	StateDisputedRound2: {StateActive, StateResolved, StateCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Expect fails with a state error unless the claim is in one of want.
func (c *Claim) Expect(want ...State) error {
	for _, s := range want {
		if c.State == s {
			return nil
		}
	}
	return apperr.With(apperr.ErrInvalidState, "claim %d is %s, want %v", c.ID, c.State, want)
}

// Transition moves the claim to next, refusing edges not in the table.
func (c *Claim) Transition(next State) error {
	if !CanTransition(c.State, next) {
		return apperr.With(apperr.ErrInvalidState, "claim %d: %s -> %s", c.ID, c.State, next)
	}
	c.State = next
	return nil
}
