package registry

import (
	"context"
	"fmt"
	"time"

	"verity/adjudicator"
	"verity/apperr"
	"verity/bond"
	"verity/claim"
	"verity/outbox"
	"verity/resolver"
)

// configure runs an owner-only configuration change. The notification is
// staged first, so a rejected change leaves no trace in the outbox.
func (r *Registry) configure(ctx context.Context, caller, op string, payload map[string]any, apply func() error) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	return r.mutate(ctx, op, 0, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		payload["op"] = op
		if err := tx.Enqueue(ctx, outbox.New(outbox.TopicConfigChanged, 0, caller, payload, now)); err != nil {
			return fmt.Errorf("registry: enqueue %s: %w", op, err)
		}
		return apply()
	})
}

func (r *Registry) RegisterResolver(ctx context.Context, caller, id string, impl resolver.Resolver, trust resolver.Trust) error {
	return r.configure(ctx, caller, "register_resolver", map[string]any{"resolver": id, "trust": trust}, func() error {
		return r.resolvers.Register(id, impl, trust)
	})
}

func (r *Registry) DeprecateResolver(ctx context.Context, caller, id string) error {
	return r.configure(ctx, caller, "deprecate_resolver", map[string]any{"resolver": id}, func() error {
		return r.resolvers.Deprecate(id)
	})
}

func (r *Registry) RestoreResolver(ctx context.Context, caller, id string) error {
	return r.configure(ctx, caller, "restore_resolver", map[string]any{"resolver": id}, func() error {
		return r.resolvers.Restore(id)
	})
}

func (r *Registry) SetResolverTrust(ctx context.Context, caller, id string, trust resolver.Trust) error {
	return r.configure(ctx, caller, "set_resolver_trust", map[string]any{"resolver": id, "trust": trust}, func() error {
		return r.resolvers.SetTrust(id, trust)
	})
}

// RegisterAdjudicator adds an adjudicator with an optional assignment hook.
func (r *Registry) RegisterAdjudicator(ctx context.Context, caller, id string, hook adjudicator.Adjudicator) error {
	return r.configure(ctx, caller, "register_adjudicator", map[string]any{"adjudicator": id}, func() error {
		return r.adjudicators.Register(id, hook)
	})
}

func (r *Registry) WhitelistAdjudicator(ctx context.Context, caller, id string) error {
	return r.configure(ctx, caller, "whitelist_adjudicator", map[string]any{"adjudicator": id}, func() error {
		return r.adjudicators.Whitelist(id)
	})
}

func (r *Registry) DewhitelistAdjudicator(ctx context.Context, caller, id string) error {
	return r.configure(ctx, caller, "dewhitelist_adjudicator", map[string]any{"adjudicator": id}, func() error {
		return r.adjudicators.Dewhitelist(id)
	})
}

// Vouch is called by an adjudicator on its own behalf.
func (r *Registry) Vouch(ctx context.Context, caller, resolverID string) error {
	return r.vouch(ctx, caller, resolverID, "vouch", r.adjudicators.Vouch)
}

func (r *Registry) Unvouch(ctx context.Context, caller, resolverID string) error {
	return r.vouch(ctx, caller, resolverID, "unvouch", r.adjudicators.Unvouch)
}

func (r *Registry) vouch(ctx context.Context, caller, resolverID, op string, apply func(id, resolverID string) error) error {
	if !r.adjudicators.IsRegistered(caller) {
		return apperr.With(apperr.ErrUnauthorized, "%q is not a registered adjudicator", caller)
	}
	return r.mutate(ctx, op, 0, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		if err := tx.Enqueue(ctx, outbox.New(outbox.TopicConfigChanged, 0, caller, map[string]any{
			"op":       op,
			"resolver": resolverID,
		}, now)); err != nil {
			return fmt.Errorf("registry: enqueue %s: %w", op, err)
		}
		return apply(caller, resolverID)
	})
}

// SetBondRequirements replaces the requirement list for one bond class.
func (r *Registry) SetBondRequirements(ctx context.Context, caller string, class bond.Class, reqs []bond.Requirement) error {
	return r.configure(ctx, caller, "set_bond_requirements", map[string]any{"class": class, "requirements": reqs}, func() error {
		return r.policy.Set(class, reqs)
	})
}

func (r *Registry) SetDefaultDisputeWindow(ctx context.Context, caller string, d time.Duration) error {
	if d < 0 {
		return apperr.With(apperr.ErrInvalidWindows, "default dispute window %s", d)
	}
	return r.configure(ctx, caller, "set_default_dispute_window", map[string]any{"window": d.String()}, func() error {
		r.cfgMu.Lock()
		r.defaultDisputeWindow = d
		r.cfgMu.Unlock()
		return nil
	})
}
