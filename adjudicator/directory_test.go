package adjudicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verity/apperr"
	"verity/window"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestDirectoryWhitelistAndVouches(t *testing.T) {
	d := NewDirectory()
	require.NoError(t, d.Register("tk", nil))
	assert.ErrorIs(t, d.Register("tk", nil), apperr.ErrInvalidAdjudicatorReference)

	assert.False(t, d.IsWhitelisted("tk"))
	require.NoError(t, d.Whitelist("tk"))
	assert.True(t, d.IsWhitelisted("tk"))
	require.NoError(t, d.Dewhitelist("tk"))
	assert.False(t, d.IsWhitelisted("tk"))

	require.NoError(t, d.Vouch("tk", "zeta"))
	require.NoError(t, d.Vouch("tk", "alpha"))
	assert.True(t, d.HasVouched("tk", "alpha"))
	assert.Equal(t, []string{"alpha", "zeta"}, d.Vouches("tk"))

	require.NoError(t, d.Unvouch("tk", "alpha"))
	assert.False(t, d.HasVouched("tk", "alpha"))
	assert.Equal(t, []string{"zeta"}, d.Vouches("tk"))
}

func TestDirectoryUnknownAdjudicator(t *testing.T) {
	d := NewDirectory()
	assert.ErrorIs(t, d.Whitelist("ghost"), apperr.ErrInvalidAdjudicatorReference)
	assert.ErrorIs(t, d.Vouch("ghost", "r"), apperr.ErrInvalidAdjudicatorReference)
	assert.False(t, d.IsWhitelisted("ghost"))
	assert.False(t, d.HasVouched("ghost", "r"))
	assert.Nil(t, d.Vouches("ghost"))

	_, err := d.Hook("ghost")
	assert.True(t, apperr.IsKind(err, apperr.KindReference))
}

func TestFloorHook(t *testing.T) {
	f := Floor{MinAdjudicator: time.Hour, MinEscalation: 2 * time.Hour}
	ctx := context.Background()

	cases := []struct {
		name string
		w    window.Set
		want Response
	}{
		{"approve", window.Set{Adjudicator: time.Hour, Escalation: 2 * time.Hour}, Approve},
		{"soft", window.Set{Adjudicator: time.Hour, Escalation: time.Minute}, RejectSoft},
		{"hard", window.Set{Adjudicator: time.Minute, Escalation: 2 * time.Hour}, RejectHard},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.Preview(ctx, Assignment{Windows: tc.w})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			got, err = f.OnAssigned(ctx, Assignment{ClaimID: 1, Windows: tc.w})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	d := NewDirectory()
	require.NoError(t, d.Register("strict", f))
	hook, err := d.Hook("strict")
	require.NoError(t, err)
	assert.Equal(t, f, hook)
}

func TestResponseValid(t *testing.T) {
	assert.True(t, RejectHard.Valid())
	assert.False(t, Response(7).Valid())
	assert.Equal(t, "REJECT_SOFT", RejectSoft.String())
}
