package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"verity/apperr"
)

func TestDeadline(t *testing.T) {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Deadline(from, 0).IsZero())
	assert.Equal(t, from.Add(time.Hour), Deadline(from, time.Hour))
}

func TestOpenAndElapsed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Minute)

	assert.True(t, Open(now, deadline))
	assert.False(t, Elapsed(now, deadline))

	// The deadline instant itself is already past.
	assert.False(t, Open(deadline, deadline))
	assert.True(t, Elapsed(deadline, deadline))

	assert.False(t, Open(now, time.Time{}))
	assert.True(t, Elapsed(now, time.Time{}))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Set{}.Validate())
	assert.ErrorIs(t, Set{Escalation: -time.Second}.Validate(), apperr.ErrInvalidWindows)
}

func TestBondRequired(t *testing.T) {
	assert.False(t, Set{Adjudicator: time.Hour, Escalation: time.Hour}.BondRequired())
	assert.True(t, Set{Dispute: time.Hour}.BondRequired())
	assert.True(t, Set{PostResolution: time.Hour}.BondRequired())
}
