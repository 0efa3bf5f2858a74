// Package registry is the claim registry: the single owned instance that
// serializes every mutating operation over the claim store, the bond ledger
// and the dispute engine, and consults the resolver and adjudicator
// directories and the bond policy as read-mostly configuration.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"verity/adjudicator"
	"verity/apperr"
	"verity/bond"
	"verity/claim"
	"verity/dispute"
	"verity/ledger"
	"verity/resolver"
)

// DefaultDisputeWindow applies when a creator does not choose windows.
const DefaultDisputeWindow = 2 * time.Hour

// DefaultCallOutWait bounds how long an operation waits for another
// operation's collaborator call before treating itself as a callback.
const DefaultCallOutWait = 2 * time.Second

// Registry is safe for concurrent use. Mutating operations run one at a
// time and either commit everything they staged or nothing.
type Registry struct {
	mu sync.Mutex
	// calling is set while the operation holding mu is inside a resolver,
	// adjudicator or custodian call, and closed when that call returns.
	calling     atomic.Pointer[chan struct{}]
	callOutWait time.Duration

	store        claim.Store
	resolvers    *resolver.Directory
	adjudicators *adjudicator.Directory
	policy       *bond.Policy
	custodian    ledger.Custodian
	ledger       *ledger.Ledger
	engine       *dispute.Engine
	clock        func() time.Time

	owner          string
	finalAuthority string
	treasury       string

	cfgMu                sync.RWMutex
	defaultDisputeWindow time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithOwner names the principal allowed to run administrative operations.
func WithOwner(id string) Option {
	return func(r *Registry) { r.owner = id }
}

// WithFinalAuthority names the principal that decides round two and
// post-resolution disputes.
func WithFinalAuthority(id string) Option {
	return func(r *Registry) { r.finalAuthority = id }
}

// WithTreasury names the party credited with the protocol share of splits.
func WithTreasury(id string) Option {
	return func(r *Registry) { r.treasury = id }
}

// WithCallOutWait sets how long a caller arriving during a collaborator call
// waits for it before being refused with ErrReentrantCall.
func WithCallOutWait(d time.Duration) Option {
	return func(r *Registry) { r.callOutWait = d }
}

func WithDefaultDisputeWindow(d time.Duration) Option {
	return func(r *Registry) { r.defaultDisputeWindow = d }
}

func WithResolvers(d *resolver.Directory) Option {
	return func(r *Registry) { r.resolvers = d }
}

func WithAdjudicators(d *adjudicator.Directory) Option {
	return func(r *Registry) { r.adjudicators = d }
}

func WithPolicy(p *bond.Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// New builds a registry over store. Bonds in assets other than the native
// one are pulled from and pushed to custodian.
func New(store claim.Store, custodian ledger.Custodian, opts ...Option) *Registry {
	r := &Registry{
		store:                store,
		custodian:            custodian,
		clock:                time.Now,
		treasury:             "treasury",
		defaultDisputeWindow: DefaultDisputeWindow,
		callOutWait:          DefaultCallOutWait,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resolvers == nil {
		r.resolvers = resolver.NewDirectory()
	}
	if r.adjudicators == nil {
		r.adjudicators = adjudicator.NewDirectory()
	}
	if r.policy == nil {
		r.policy = bond.NewPolicy()
	}
	r.ledger = ledger.New(journaled{Custodian: custodian, r: r}, r.treasury)
	r.engine = dispute.NewEngine(r.ledger, r.policy)
	return r
}

func (r *Registry) Resolvers() *resolver.Directory       { return r.resolvers }
func (r *Registry) Adjudicators() *adjudicator.Directory { return r.adjudicators }
func (r *Registry) Policy() *bond.Policy                 { return r.policy }
func (r *Registry) Owner() string                        { return r.owner }
func (r *Registry) FinalAuthority() string               { return r.finalAuthority }

func (r *Registry) DefaultDisputeWindow() time.Duration {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.defaultDisputeWindow
}

type guardKey struct{}

// guarded marks ctx as belonging to a running operation. Collaborators
// invoked with it cannot start another mutating operation.
func guarded(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, guardKey{}, op)
}

func reentrant(ctx context.Context) (string, bool) {
	op, ok := ctx.Value(guardKey{}).(string)
	return op, ok
}

// callOut runs a collaborator call with the registry marked busy. A
// collaborator that calls back in with a context of its own is refused by
// mutate instead of waiting on mu forever.
func (r *Registry) callOut(fn func() error) error {
	done := make(chan struct{})
	r.calling.Store(&done)
	defer func() {
		r.calling.Store(nil)
		close(done)
	}()
	return fn()
}

// awaitCallOut lets a caller that arrives during a collaborator call queue
// behind it. A callback from that collaborator can never see the call
// finish, so it is refused once callOutWait has passed.
func (r *Registry) awaitCallOut(ctx context.Context, op string) error {
	done := r.calling.Load()
	if done == nil {
		return nil
	}
	t := time.NewTimer(r.callOutWait)
	defer t.Stop()
	select {
	case <-*done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return apperr.With(apperr.ErrReentrantCall, "%s waited %s on a collaborator call", op, r.callOutWait)
	}
}

// mutate runs fn as one serialized, all-or-nothing operation. Custodian pulls
// made by a failed operation are pushed back before returning.
func (r *Registry) mutate(ctx context.Context, op string, claimID uint64, fn func(ctx context.Context, tx claim.Tx, now time.Time) error) error {
	if running, ok := reentrant(ctx); ok {
		return apperr.With(apperr.ErrReentrantCall, "%s called during %s", op, running)
	}
	if err := r.awaitCallOut(ctx, op); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j := &journal{}
	ctx = context.WithValue(guarded(ctx, op), journalKey{}, j)
	now := r.clock()

	err := r.store.WithTx(ctx, func(tx claim.Tx) error {
		return fn(ctx, tx, now)
	})
	if err != nil {
		r.refund(ctx, op, j)
		zap.L().Debug("registry operation failed",
			zap.String("op", op),
			zap.Uint64("claim_id", claimID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return err
	}
	zap.L().Debug("registry operation committed", zap.String("op", op), zap.Uint64("claim_id", claimID))
	return nil
}

func (r *Registry) refund(ctx context.Context, op string, j *journal) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range j.pulls {
		err := r.callOut(func() error {
			return r.custodian.Push(ctx, p.from, p.asset, p.amount)
		})
		if err != nil {
			zap.L().Error("refund of rolled back bond failed",
				zap.String("op", op),
				zap.String("party", p.from),
				zap.String("asset", string(p.asset)),
				zap.String("amount", p.amount.String()),
				zap.Error(err),
			)
		}
	}
}

type journalKey struct{}

type pull struct {
	from   string
	asset  bond.Asset
	amount decimal.Decimal
}

type journal struct {
	pulls []pull
}

// journaled records successful pulls in the operation's journal so they
// can be refunded if the operation does not commit.
type journaled struct {
	ledger.Custodian
	r *Registry
}

func (c journaled) Pull(ctx context.Context, from string, asset bond.Asset, amount decimal.Decimal) error {
	err := c.r.callOut(func() error {
		return c.Custodian.Pull(ctx, from, asset, amount)
	})
	if err != nil {
		return err
	}
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.pulls = append(j.pulls, pull{from: from, asset: asset, amount: amount})
	}
	return nil
}

func (r *Registry) requireOwner(caller string) error {
	if r.owner == "" || caller != r.owner {
		return apperr.With(apperr.ErrUnauthorized, "%q is not the registry owner", caller)
	}
	return nil
}

func (r *Registry) requireFinalAuthority(caller string) error {
	if r.finalAuthority == "" || caller != r.finalAuthority {
		return apperr.With(apperr.ErrUnauthorized, "%q is not the final authority", caller)
	}
	return nil
}
