package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verity/adjudicator"
	"verity/answer"
	"verity/apperr"
	"verity/bond"
	"verity/claim"
	"verity/dispute"
	"verity/ledger"
	"verity/outbox"
	"verity/resolver"
	"verity/tier"
	"verity/window"
)

func TestOnlyOneDisputePerClaim(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	c := e.create(t, resolver.TemplateYesNo, window.Set{Dispute: time.Hour, Adjudicator: time.Hour})
	e.propose(t, c.ID, "true", native(100))
	e.fileDispute(t, c.ID, nil)

	err := e.reg.Dispute(ctx, c.ID, dispute.Filing{Party: "erin", Bond: *native(40)})
	assert.ErrorIs(t, err, apperr.ErrDisputeAlreadyExists)

	require.NoError(t, e.reg.ResolveAdjudicatorDispute(ctx, DecisionRequest{ClaimID: c.ID, Caller: "tk", Decision: claim.DecisionTooEarly}))
	assert.Equal(t, claim.StateActive, e.state(t, c.ID))
	assert.True(t, e.moved(t, c.ID, ledger.KindAward, bond.ClassResolution, "dave").Equal(dec(50)))
	assert.True(t, e.moved(t, c.ID, ledger.KindReturn, bond.ClassDispute, "dave").Equal(dec(40)))

	e.propose(t, c.ID, "false", native(100))
	err = e.reg.Dispute(ctx, c.ID, dispute.Filing{Party: "erin", Bond: *native(40)})
	assert.ErrorIs(t, err, apperr.ErrDisputeAlreadyExists)

	e.clock.Advance(time.Hour)
	require.NoError(t, e.reg.Finalize(ctx, "anyone", c.ID))
	got, _, err := e.reg.Result(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Equal(answer.NewBool(false)))
	e.requireConserved(t, c.ID)
}

func TestTierIsFrozenAtCreation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	c := e.create(t, resolver.TemplateYesNo, window.Set{})
	assert.Equal(t, tier.System, c.Tier)

	require.NoError(t, e.reg.SetResolverTrust(ctx, "owner", "optimistic", resolver.TrustVerified))
	require.NoError(t, e.reg.DewhitelistAdjudicator(ctx, "owner", "tk"))

	rec, err := e.reg.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, tier.System, rec.Claim.Tier)

	later := e.create(t, resolver.TemplateYesNo, window.Set{})
	assert.Equal(t, tier.Permissionless, later.Tier)

	require.NoError(t, e.reg.Vouch(ctx, "tk", "optimistic"))
	vouched := e.create(t, resolver.TemplateYesNo, window.Set{})
	assert.Equal(t, tier.AdjudicatorGuaranteed, vouched.Tier)

	require.NoError(t, e.reg.Unvouch(ctx, "tk", "optimistic"))
	rec, err = e.reg.Get(ctx, vouched.ID)
	require.NoError(t, err)
	assert.Equal(t, tier.AdjudicatorGuaranteed, rec.Claim.Tier)
}

func TestAdjudicatorHookResponses(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.reg.RegisterAdjudicator(ctx, "owner", "picky", adjudicator.Floor{MinAdjudicator: time.Hour, MinEscalation: time.Hour}))
	require.NoError(t, e.reg.WhitelistAdjudicator(ctx, "owner", "picky"))

	req := func(w window.Set) CreateRequest {
		return CreateRequest{Creator: "alice", Resolver: "optimistic", Payload: []byte("q"), Adjudicator: "picky", Windows: &w}
	}

	resp, tr, err := e.reg.PreviewCreate(ctx, req(window.Set{Dispute: time.Hour, Adjudicator: time.Minute}))
	require.NoError(t, err)
	assert.Equal(t, adjudicator.RejectHard, resp)
	assert.Equal(t, tier.Permissionless, tr)
	_, err = e.reg.Create(ctx, req(window.Set{Dispute: time.Hour, Adjudicator: time.Minute}))
	assert.ErrorIs(t, err, apperr.ErrAdjudicatorRejected)

	resp, tr, err = e.reg.PreviewCreate(ctx, req(window.Set{Dispute: time.Hour, Adjudicator: time.Hour}))
	require.NoError(t, err)
	assert.Equal(t, adjudicator.RejectSoft, resp)
	assert.Equal(t, tier.Permissionless, tr)
	c, err := e.reg.Create(ctx, req(window.Set{Dispute: time.Hour, Adjudicator: time.Hour}))
	require.NoError(t, err)
	assert.Equal(t, tier.Permissionless, c.Tier)
	assert.Equal(t, "picky", c.Adjudicator)

	resp, tr, err = e.reg.PreviewCreate(ctx, req(window.Set{Dispute: time.Hour, Adjudicator: time.Hour, Escalation: time.Hour}))
	require.NoError(t, err)
	assert.Equal(t, adjudicator.Approve, resp)
	assert.Equal(t, tier.System, tr)

	before := len(e.store.Messages())
	_, _, err = e.reg.PreviewCreate(ctx, req(window.Set{Dispute: time.Hour, Adjudicator: time.Hour, Escalation: time.Hour}))
	require.NoError(t, err)
	assert.Len(t, e.store.Messages(), before, "preview must not write")
}

// callback is a resolver that tries to reenter the registry while it is
// being consulted.
type callback struct {
	*resolver.Optimistic
	reg *Registry
}

func (c callback) Resolve(ctx context.Context, claimID uint64, caller string, payload []byte) (answer.Answer, error) {
	if err := c.reg.Finalize(ctx, caller, claimID); err != nil {
		return answer.Answer{}, err
	}
	return c.Optimistic.Resolve(ctx, claimID, caller, payload)
}

func TestReentrantCallsAreRefused(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.reg.RegisterResolver(ctx, "owner", "sneaky", callback{Optimistic: resolver.NewOptimistic(), reg: e.reg}, resolver.TrustPermissionless))

	c, err := e.reg.Create(ctx, CreateRequest{Creator: "alice", Resolver: "sneaky", Payload: []byte("q"), Windows: &window.Set{}})
	require.NoError(t, err)

	_, err = e.reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true")})
	assert.ErrorIs(t, err, apperr.ErrReentrantCall)
	assert.Equal(t, claim.StateActive, e.state(t, c.ID))
}

// detached is a resolver that calls back into the registry with a context
// it made itself, so the registry cannot recognise it from the context.
type detached struct {
	*resolver.Optimistic
	reg    *Registry
	nested error
}

func (d *detached) Resolve(ctx context.Context, claimID uint64, caller string, payload []byte) (answer.Answer, error) {
	d.nested = d.reg.Finalize(context.Background(), caller, claimID)
	return d.Optimistic.Resolve(ctx, claimID, caller, payload)
}

func TestDetachedCallbackDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, WithCallOutWait(50*time.Millisecond))
	d := &detached{Optimistic: resolver.NewOptimistic(), reg: e.reg}
	require.NoError(t, e.reg.RegisterResolver(ctx, "owner", "detached", d, resolver.TrustPermissionless))

	c, err := e.reg.Create(ctx, CreateRequest{Creator: "alice", Resolver: "detached", Payload: []byte("q"), Windows: &window.Set{}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true")})
		done <- err
	}()
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resolve blocked on a callback from its own resolver")
	}
	require.NoError(t, err)
	assert.ErrorIs(t, d.nested, apperr.ErrReentrantCall)
	assert.Equal(t, claim.StateResolved, e.state(t, c.ID))

	// the busy mark is cleared once the call returns
	_, err = e.reg.Create(ctx, CreateRequest{Creator: "alice", Resolver: "optimistic", Payload: []byte("next"), Windows: &window.Set{}})
	assert.NoError(t, err)
}

// gated holds a resolution open until released.
type gated struct {
	*resolver.Optimistic
	entered chan struct{}
	release chan struct{}
}

func (g gated) Resolve(ctx context.Context, claimID uint64, caller string, payload []byte) (answer.Answer, error) {
	close(g.entered)
	<-g.release
	return g.Optimistic.Resolve(ctx, claimID, caller, payload)
}

func TestConcurrentCallerWaitsOutCollaborator(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, WithCallOutWait(5*time.Second))
	g := gated{Optimistic: resolver.NewOptimistic(), entered: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, e.reg.RegisterResolver(ctx, "owner", "gated", g, resolver.TrustPermissionless))
	c, err := e.reg.Create(ctx, CreateRequest{Creator: "alice", Resolver: "gated", Payload: []byte("q"), Windows: &window.Set{}})
	require.NoError(t, err)

	resolved := make(chan error, 1)
	go func() {
		_, err := e.reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true")})
		resolved <- err
	}()
	<-g.entered

	created := make(chan error, 1)
	go func() {
		_, err := e.reg.Create(ctx, CreateRequest{Creator: "carol", Resolver: "optimistic", Payload: []byte("other"), Windows: &window.Set{}})
		created <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(g.release)

	require.NoError(t, <-resolved)
	require.NoError(t, <-created, "a caller from another goroutine is not a callback")
	assert.Equal(t, claim.StateResolved, e.state(t, c.ID))
}

// grabby is a custodian that tries to open a claim while a bond is being
// pulled.
type grabby struct {
	*ledger.MemoryCustodian
	reg    *Registry
	nested error
}

func (g *grabby) Pull(ctx context.Context, from string, asset bond.Asset, amount decimal.Decimal) error {
	if g.reg != nil {
		_, g.nested = g.reg.Create(context.Background(), CreateRequest{Creator: from, Resolver: "optimistic", Payload: []byte("again")})
	}
	return g.MemoryCustodian.Pull(ctx, from, asset, amount)
}

func TestCustodianCallbackIsRefused(t *testing.T) {
	ctx := context.Background()
	custodian := &grabby{MemoryCustodian: ledger.NewMemoryCustodian()}
	custodian.Fund("bob", usdc, dec(25))
	reg := New(claim.NewMemoryStore(), custodian, WithOwner("owner"), WithCallOutWait(50*time.Millisecond))
	custodian.reg = reg
	require.NoError(t, reg.RegisterResolver(ctx, "owner", "optimistic", resolver.NewOptimistic(), resolver.TrustVerified))
	require.NoError(t, reg.SetBondRequirements(ctx, "owner", bond.ClassResolution, []bond.Requirement{{Asset: usdc, Min: dec(10)}}))
	c, err := reg.Create(ctx, CreateRequest{Creator: "alice", Resolver: "optimistic", Payload: []byte("q")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true"),
			Bond: &bond.Payment{Asset: usdc, Amount: dec(10)}})
		done <- err
	}()
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resolve blocked on a callback from the custodian")
	}
	require.NoError(t, err)
	assert.ErrorIs(t, custodian.nested, apperr.ErrReentrantCall)
	assert.True(t, custodian.Balance("bob", usdc).Equal(dec(15)))
}

// failingStore rejects every claim update, after the operation has already
// moved funds.
type failingStore struct {
	*claim.MemoryStore
}

type failingTx struct {
	claim.Tx
}

func (failingTx) Update(context.Context, *claim.Record) error {
	return errors.New("disk full")
}

func (s failingStore) WithTx(ctx context.Context, fn func(tx claim.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx claim.Tx) error {
		return fn(failingTx{tx})
	})
}

func TestFailedOperationRefundsPulledBond(t *testing.T) {
	ctx := context.Background()
	inner := claim.NewMemoryStore()
	custodian := ledger.NewMemoryCustodian()
	custodian.Fund("bob", usdc, dec(25))

	ok := New(inner, custodian, WithOwner("owner"))
	require.NoError(t, ok.RegisterResolver(ctx, "owner", "optimistic", resolver.NewOptimistic(), resolver.TrustVerified))
	require.NoError(t, ok.SetBondRequirements(ctx, "owner", bond.ClassResolution, []bond.Requirement{{Asset: usdc, Min: dec(10)}}))
	c, err := ok.Create(ctx, CreateRequest{Creator: "alice", Resolver: "optimistic", Payload: []byte("q")})
	require.NoError(t, err)

	broken := New(failingStore{inner}, custodian,
		WithOwner("owner"),
		WithResolvers(ok.Resolvers()),
		WithAdjudicators(ok.Adjudicators()),
		WithPolicy(ok.Policy()),
	)
	_, err = broken.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true"), Bond: &bond.Payment{Asset: usdc, Amount: dec(10)}})
	require.Error(t, err)

	assert.True(t, custodian.Balance("bob", usdc).Equal(dec(25)))
	mv, err := ok.Movements(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, mv)
	assert.Equal(t, claim.StateActive, func() claim.State {
		rec, err := ok.Get(ctx, c.ID)
		require.NoError(t, err)
		return rec.Claim.State
	}())

	_, err = ok.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true"), Bond: &bond.Payment{Asset: usdc, Amount: dec(10)}})
	require.NoError(t, err)
	assert.True(t, custodian.Balance("bob", usdc).Equal(dec(15)))

	_, err = ok.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true"), Bond: &bond.Payment{Asset: usdc, Amount: dec(10)}})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.True(t, custodian.Balance("bob", usdc).Equal(dec(15)))
}

func TestBondPolicyIsEnforced(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	c := e.create(t, resolver.TemplateYesNo, window.Set{Dispute: time.Hour})

	_, err := e.reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true"), Bond: native(99)})
	assert.ErrorIs(t, err, apperr.ErrBondNotAcceptable)

	_, err = e.reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true"),
		Bond: &bond.Payment{Asset: bond.Native, Amount: dec(100), Attached: dec(90)}})
	assert.ErrorIs(t, err, apperr.ErrFundsMismatch)

	_, err = e.reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("true"), Bond: &bond.Payment{Asset: usdc, Amount: dec(10)}})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	_, err = e.reg.Resolve(ctx, ResolveRequest{ClaimID: c.ID, Proposer: "bob", Payload: []byte("maybe"), Bond: native(100)})
	assert.ErrorIs(t, err, apperr.ErrInvalidPayload)

	mv, err := e.reg.Movements(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, mv)
}

func TestAdminOperationsRequireOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	before := len(e.store.Messages())

	calls := map[string]error{
		"register_resolver":     e.reg.RegisterResolver(ctx, "mallory", "mine", resolver.NewOptimistic(), resolver.TrustSystemGrade),
		"deprecate_resolver":    e.reg.DeprecateResolver(ctx, "mallory", "optimistic"),
		"restore_resolver":      e.reg.RestoreResolver(ctx, "mallory", "optimistic"),
		"set_resolver_trust":    e.reg.SetResolverTrust(ctx, "mallory", "optimistic", resolver.TrustNone),
		"register_adjudicator":  e.reg.RegisterAdjudicator(ctx, "mallory", "mine", nil),
		"whitelist":             e.reg.WhitelistAdjudicator(ctx, "mallory", "tk"),
		"dewhitelist":           e.reg.DewhitelistAdjudicator(ctx, "mallory", "tk"),
		"set_bond_requirements": e.reg.SetBondRequirements(ctx, "mallory", bond.ClassDispute, nil),
		"vouch":                 e.reg.Vouch(ctx, "mallory", "optimistic"),
		"resolve_escalation":    e.reg.ResolveEscalation(ctx, DecisionRequest{ClaimID: 1, Caller: "owner", Decision: claim.DecisionCancel}),
	}
	for name, err := range calls {
		assert.ErrorIs(t, err, apperr.ErrUnauthorized, name)
	}
	assert.Len(t, e.store.Messages(), before)
	assert.True(t, e.reg.Adjudicators().IsWhitelisted("tk"))

	require.NoError(t, e.reg.RegisterResolver(ctx, "owner", "second", resolver.NewOptimistic(), resolver.TrustVerified))
	msgs := e.store.Messages()
	require.Len(t, msgs, before+1)
	assert.Equal(t, outbox.TopicConfigChanged, msgs[before].Topic)
}

func TestRelayPaysOutSettledBonds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.custodian.Fund("bob", usdc, dec(10))
	c := e.create(t, resolver.TemplateYesNo, window.Set{Dispute: time.Hour, Adjudicator: time.Hour})
	e.propose(t, c.ID, "true", &bond.Payment{Asset: usdc, Amount: dec(10)})
	assert.True(t, e.custodian.Balance("bob", usdc).IsZero())
	e.fileDispute(t, c.ID, nil)
	require.NoError(t, e.reg.ResolveAdjudicatorDispute(ctx, DecisionRequest{ClaimID: c.ID, Caller: "tk", Decision: claim.DecisionUphold}))
	require.NoError(t, e.reg.FinalizeAfterAdjudicator(ctx, "anyone", c.ID))

	relay := outbox.NewRelay(e.store, e.custodian, outbox.NewLogSink(zap.NewNop()), outbox.RelayConfig{BatchSize: 10})
	for {
		n, err := relay.Drain(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	assert.True(t, e.custodian.Balance("dave", usdc).Equal(dec(5)), "half the forfeited bond")
	assert.True(t, e.custodian.Balance("bob", usdc).IsZero())
	// dave's dispute bond was attached natively, so its return is announced
	// but never credited by the custodian.
	assert.True(t, e.custodian.Balance("dave", bond.Native).IsZero())
	assert.True(t, e.moved(t, c.ID, ledger.KindReturn, bond.ClassDispute, "dave").Equal(dec(40)))

	balances, err := e.reg.Audit(ctx, c.ID)
	require.NoError(t, err)
	for _, b := range balances {
		assert.True(t, b.Outstanding().IsZero(), "asset %s", b.Asset)
	}
}
