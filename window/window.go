// Package window holds the four phase durations of a claim and the deadline
// arithmetic shared by the lifecycle and the dispute engine.
package window

import (
	"time"

	"verity/apperr"
)

// Set is the immutable group of phase durations fixed at claim creation.
// A zero duration disables that phase.
type Set struct {
	Dispute        time.Duration `json:"dispute"`
	Adjudicator    time.Duration `json:"adjudicator"`
	Escalation     time.Duration `json:"escalation"`
	PostResolution time.Duration `json:"post_resolution"`
}

func (s Set) Validate() error {
	if s.Dispute < 0 || s.Adjudicator < 0 || s.Escalation < 0 || s.PostResolution < 0 {
		return apperr.With(apperr.ErrInvalidWindows, "%+v", s)
	}
	return nil
}

// BondRequired reports whether a proposer must post a resolution bond.
func (s Set) BondRequired() bool {
	return s.Dispute > 0 || s.PostResolution > 0
}

// Deadline returns from+d, or the zero time when the phase is disabled.
func Deadline(from time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return from.Add(d)
}

// Open reports whether now falls strictly before a set deadline.
func Open(now, deadline time.Time) bool {
	return !deadline.IsZero() && now.Before(deadline)
}

// Elapsed reports whether the phase guarded by deadline is over. A disabled
// phase (zero deadline) counts as elapsed.
func Elapsed(now, deadline time.Time) bool {
	return !Open(now, deadline)
}
