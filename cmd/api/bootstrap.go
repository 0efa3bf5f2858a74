package main

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"verity/adjudicator"
	"verity/auth"
	"verity/bond"
	"verity/claim"
	"verity/config"
	"verity/db"
	"verity/ledger"
	"verity/outbox"
	"verity/registry"
	"verity/resolver"
)

// app is everything a command needs, built once from configuration.
type app struct {
	Registry  *registry.Registry
	Auth      *auth.Service
	Store     claim.Store
	Custodian *ledger.MemoryCustodian
	Relay     *outbox.Relay

	pool *pgxpool.Pool
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// openStore returns the configured claim store and, for postgres, the pool
// behind it.
func openStore(ctx context.Context, c *config.Config) (claim.Store, *pgxpool.Pool, error) {
	switch c.Store.Driver {
	case "memory":
		return claim.NewMemoryStore(), nil, nil
	case "postgres":
		pool, err := db.NewPool(ctx, c.Store.DatabaseURL, db.PoolConfig{})
		if err != nil {
			return nil, nil, err
		}
		return claim.NewRepository(pool), pool, nil
	}
	return nil, nil, eris.Errorf("unknown store driver %q", c.Store.Driver)
}

func buildApp(ctx context.Context, c *config.Config) (*app, error) {
	store, pool, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	a := &app{Store: store, pool: pool}

	if a.Custodian, err = buildCustodian(c.Custodian); err != nil {
		a.Close()
		return nil, err
	}

	resolvers, err := buildResolvers(c.Resolvers)
	if err != nil {
		a.Close()
		return nil, err
	}
	adjudicators, err := buildAdjudicators(c.Adjudicators)
	if err != nil {
		a.Close()
		return nil, err
	}
	policy, err := buildPolicy(c.Bonds)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = registry.New(store, a.Custodian,
		registry.WithOwner(c.Registry.Owner),
		registry.WithFinalAuthority(c.Registry.FinalAuthority),
		registry.WithTreasury(c.Registry.Treasury),
		registry.WithDefaultDisputeWindow(c.Registry.DefaultDisputeWindow),
		registry.WithResolvers(resolvers),
		registry.WithAdjudicators(adjudicators),
		registry.WithPolicy(policy),
	)

	principals := make([]auth.Principal, 0, len(c.Auth.Principals))
	for _, p := range c.Auth.Principals {
		caps := make([]auth.Capability, 0, len(p.Capabilities))
		for _, cp := range p.Capabilities {
			caps = append(caps, auth.Capability(strings.TrimSpace(cp)))
		}
		principals = append(principals, auth.Principal{ID: p.ID, SecretHash: p.SecretHash, Capabilities: caps})
	}
	repo, err := auth.NewStaticRepository(principals)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Auth = auth.NewService(repo, c.Auth.JWTSecret, c.Auth.TokenTTL)

	a.Relay = outbox.NewRelay(store, a.Custodian, outbox.NewLogSink(zap.L()), outbox.RelayConfig{
		Interval:      c.Relay.Interval,
		BatchSize:     c.Relay.BatchSize,
		MaxAttempts:   c.Relay.MaxAttempts,
		RatePerSecond: c.Relay.RatePerSecond,
	})

	zap.L().Info("registry ready",
		zap.String("store", c.Store.Driver),
		zap.Int("resolvers", len(c.Resolvers)),
		zap.Int("adjudicators", len(c.Adjudicators)),
		zap.Int("principals", len(principals)),
	)
	return a, nil
}

func buildResolvers(list []config.ResolverConfig) (*resolver.Directory, error) {
	dir := resolver.NewDirectory()
	for _, rc := range list {
		trust, err := resolver.ParseTrust(rc.Trust)
		if err != nil {
			return nil, eris.Wrapf(err, "resolver %s", rc.ID)
		}
		var opts []resolver.OptimisticOption
		if rc.Review {
			opts = append(opts, resolver.WithReview())
		}
		if err := dir.Register(rc.ID, resolver.NewOptimistic(opts...), trust); err != nil {
			return nil, eris.Wrapf(err, "resolver %s", rc.ID)
		}
		if rc.Deprecated {
			if err := dir.Deprecate(rc.ID); err != nil {
				return nil, eris.Wrapf(err, "resolver %s", rc.ID)
			}
		}
	}
	return dir, nil
}

func buildAdjudicators(list []config.AdjudicatorConfig) (*adjudicator.Directory, error) {
	dir := adjudicator.NewDirectory()
	for _, ac := range list {
		var hook adjudicator.Adjudicator
		if ac.MinAdjudicatorWindow > 0 || ac.MinEscalationWindow > 0 {
			hook = adjudicator.Floor{MinAdjudicator: ac.MinAdjudicatorWindow, MinEscalation: ac.MinEscalationWindow}
		}
		if err := dir.Register(ac.ID, hook); err != nil {
			return nil, eris.Wrapf(err, "adjudicator %s", ac.ID)
		}
		if ac.Whitelisted {
			if err := dir.Whitelist(ac.ID); err != nil {
				return nil, eris.Wrapf(err, "adjudicator %s", ac.ID)
			}
		}
		for _, r := range ac.Vouches {
			if err := dir.Vouch(ac.ID, r); err != nil {
				return nil, eris.Wrapf(err, "adjudicator %s", ac.ID)
			}
		}
	}
	return dir, nil
}

func requirements(list []config.RequirementConfig) ([]bond.Requirement, error) {
	out := make([]bond.Requirement, 0, len(list))
	for _, rc := range list {
		floor, err := decimal.NewFromString(rc.Min)
		if err != nil {
			return nil, eris.Wrapf(err, "bond minimum %q for %s", rc.Min, rc.Asset)
		}
		out = append(out, bond.Requirement{Asset: bond.Asset(rc.Asset), Min: floor})
	}
	return out, nil
}

func buildPolicy(c config.BondsConfig) (*bond.Policy, error) {
	p := bond.NewPolicy()
	for _, class := range []struct {
		class bond.Class
		list  []config.RequirementConfig
	}{
		{bond.ClassResolution, c.Resolution},
		{bond.ClassDispute, c.Dispute},
		{bond.ClassEscalation, c.Escalation},
	} {
		reqs, err := requirements(class.list)
		if err != nil {
			return nil, err
		}
		if err := p.Set(class.class, reqs); err != nil {
			return nil, eris.Wrapf(err, "%s bonds", class.class)
		}
	}
	return p, nil
}

func buildCustodian(c config.CustodianConfig) (*ledger.MemoryCustodian, error) {
	cust := ledger.NewMemoryCustodian()
	for _, acct := range c.Accounts {
		amount, err := decimal.NewFromString(acct.Amount)
		if err != nil {
			return nil, eris.Wrapf(err, "custodian account %s/%s", acct.Party, acct.Asset)
		}
		cust.Fund(acct.Party, bond.Asset(acct.Asset), amount)
	}
	return cust, nil
}
