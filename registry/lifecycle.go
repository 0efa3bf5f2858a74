package registry

import (
	"context"
	"fmt"
	"time"

	"verity/adjudicator"
	"verity/answer"
	"verity/apperr"
	"verity/bond"
	"verity/claim"
	"verity/outbox"
	"verity/resolver"
	"verity/tier"
	"verity/window"
)

// CreateRequest describes a new claim. A nil Windows uses the registry's
// default dispute window with every other phase disabled.
type CreateRequest struct {
	Creator     string
	Resolver    string
	TemplateID  uint64
	Payload     []byte
	Adjudicator string
	Windows     *window.Set
}

// ResolveRequest is a proposal. Bond may be nil only when the claim's
// windows do not require one.
type ResolveRequest struct {
	ClaimID  uint64
	Proposer string
	Payload  []byte
	Bond     *bond.Payment
}

// prepared is everything Create can check before taking the lock.
type prepared struct {
	windows window.Set
	impl    resolver.Resolver
	cfg     resolver.Config
	typ     answer.Type
	hook    adjudicator.Adjudicator
}

func (r *Registry) prepare(req CreateRequest) (prepared, error) {
	var p prepared
	if req.Windows != nil {
		p.windows = *req.Windows
	} else {
		p.windows = window.Set{Dispute: r.DefaultDisputeWindow()}
	}
	if err := p.windows.Validate(); err != nil {
		return p, err
	}
	if req.Creator == "" {
		return p, apperr.With(apperr.ErrUnauthorized, "creator identity is required")
	}

	impl, cfg, err := r.resolvers.Lookup(req.Resolver)
	if err != nil {
		return p, err
	}
	if !impl.IsValidTemplate(req.TemplateID) {
		return p, apperr.With(apperr.ErrInvalidTemplate, "resolver %s template %d", req.Resolver, req.TemplateID)
	}
	typ := impl.AnswerTypeOf(req.TemplateID)
	if !typ.Valid() {
		return p, apperr.With(apperr.ErrInvalidTemplate, "resolver %s reported no answer type for template %d", req.Resolver, req.TemplateID)
	}
	p.impl, p.cfg, p.typ = impl, cfg, typ

	if req.Adjudicator != "" {
		hook, err := r.adjudicators.Hook(req.Adjudicator)
		if err != nil {
			return p, err
		}
		p.hook = hook
	}
	return p, nil
}

func (r *Registry) tierInputs(req CreateRequest, p prepared) tier.Inputs {
	in := tier.Inputs{SystemGradeResolver: p.cfg.Trust == resolver.TrustSystemGrade}
	if req.Adjudicator != "" {
		in.WhitelistedAdjudicator = r.adjudicators.IsWhitelisted(req.Adjudicator)
		in.Vouched = r.adjudicators.HasVouched(req.Adjudicator, req.Resolver)
	}
	return in
}

func assignment(claimID uint64, req CreateRequest, w window.Set) adjudicator.Assignment {
	return adjudicator.Assignment{
		ClaimID:    claimID,
		Resolver:   req.Resolver,
		TemplateID: req.TemplateID,
		Creator:    req.Creator,
		Payload:    req.Payload,
		Windows:    w,
	}
}

// applyResponse folds an adjudicator's answer into the tier inputs. Unknown
// responses are treated as a hard rejection.
func applyResponse(resp adjudicator.Response, in tier.Inputs, adj string) (tier.Inputs, error) {
	switch resp {
	case adjudicator.Approve:
		return in, nil
	case adjudicator.RejectSoft:
		in.WhitelistedAdjudicator = false
		in.Vouched = false
		return in, nil
	}
	return in, apperr.With(apperr.ErrAdjudicatorRejected, "%s answered %s", adj, resp)
}

// PreviewCreate dry-runs the adjudicator's assignment check and reports the
// tier the claim would receive. Nothing is written.
func (r *Registry) PreviewCreate(ctx context.Context, req CreateRequest) (adjudicator.Response, tier.Tier, error) {
	p, err := r.prepare(req)
	if err != nil {
		return adjudicator.RejectHard, tier.Permissionless, err
	}
	in := r.tierInputs(req, p)
	resp := adjudicator.Approve
	if p.hook != nil {
		resp, err = p.hook.Preview(guarded(ctx, "preview_create"), assignment(0, req, p.windows))
		if err != nil {
			return adjudicator.RejectHard, tier.Permissionless, apperr.Wrap(apperr.ErrAdjudicatorRejected, err)
		}
	}
	in, err = applyResponse(resp, in, req.Adjudicator)
	if err != nil {
		return resp, tier.Permissionless, nil
	}
	return resp, tier.Calculate(in), nil
}

// Create registers a claim. Its tier is computed here once and never again.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (claim.Claim, error) {
	p, err := r.prepare(req)
	if err != nil {
		return claim.Claim{}, err
	}

	var out claim.Claim
	err = r.mutate(ctx, "create", 0, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		id, err := tx.NextID(ctx)
		if err != nil {
			return err
		}
		var initial claim.State
		err = r.callOut(func() (err error) {
			initial, err = p.impl.OnCreated(ctx, id, req.TemplateID, req.Payload)
			return err
		})
		if err != nil {
			return err
		}
		if initial != claim.StatePending && initial != claim.StateActive {
			return apperr.With(apperr.ErrInvalidInitialState, "resolver %s returned %s", req.Resolver, initial)
		}

		in := r.tierInputs(req, p)
		if p.hook != nil {
			var resp adjudicator.Response
			err := r.callOut(func() (err error) {
				resp, err = p.hook.OnAssigned(ctx, assignment(id, req, p.windows))
				return err
			})
			if err != nil {
				return apperr.Wrap(apperr.ErrAdjudicatorRejected, err)
			}
			if in, err = applyResponse(resp, in, req.Adjudicator); err != nil {
				return err
			}
		}

		rec := &claim.Record{Claim: claim.Claim{
			ID:          id,
			Creator:     req.Creator,
			Resolver:    req.Resolver,
			TemplateID:  req.TemplateID,
			AnswerType:  p.typ,
			Adjudicator: req.Adjudicator,
			Windows:     p.windows,
			Tier:        tier.Calculate(in),
			State:       claim.StateNone,
			CreatedAt:   now,
		}}
		if err := rec.Advance(ctx, tx, initial, req.Creator, now); err != nil {
			return err
		}
		if err := tx.Insert(ctx, rec); err != nil {
			return err
		}
		if err := enqueue(ctx, tx, outbox.TopicClaimCreated, id, req.Creator, map[string]any{
			"resolver":    req.Resolver,
			"template_id": req.TemplateID,
			"answer_type": p.typ,
			"adjudicator": req.Adjudicator,
			"windows":     p.windows,
			"tier":        rec.Claim.Tier,
			"state":       rec.Claim.State,
		}, now); err != nil {
			return err
		}
		out = rec.Claim
		return nil
	})
	return out, err
}

// ActivatePending and RejectPending may only be called by the claim's own
// resolver.
func (r *Registry) ActivatePending(ctx context.Context, caller string, id uint64) error {
	return r.settlePending(ctx, caller, id, claim.StateActive, "activate_pending")
}

func (r *Registry) RejectPending(ctx context.Context, caller string, id uint64) error {
	return r.settlePending(ctx, caller, id, claim.StateRejected, "reject_pending")
}

func (r *Registry) settlePending(ctx context.Context, caller string, id uint64, next claim.State, op string) error {
	return r.mutate(ctx, op, id, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		rec, err := tx.Load(ctx, id)
		if err != nil {
			return err
		}
		if caller != rec.Claim.Resolver {
			return apperr.With(apperr.ErrUnauthorized, "%q is not the resolver of claim %d", caller, id)
		}
		if err := rec.Claim.Expect(claim.StatePending); err != nil {
			return err
		}
		if err := rec.Advance(ctx, tx, next, caller, now); err != nil {
			return err
		}
		return tx.Update(ctx, rec)
	})
}

// Resolve records a proposal. With the dispute window disabled the answer
// commits at once; otherwise the claim waits in RESOLVING.
func (r *Registry) Resolve(ctx context.Context, req ResolveRequest) (claim.Claim, error) {
	var out claim.Claim
	err := r.mutate(ctx, "resolve", req.ClaimID, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		rec, err := tx.Load(ctx, req.ClaimID)
		if err != nil {
			return err
		}
		c := &rec.Claim
		if err := c.Expect(claim.StateActive); err != nil {
			return err
		}
		if req.Proposer == "" {
			return apperr.With(apperr.ErrUnauthorized, "proposer identity is required")
		}
		if req.Bond == nil && c.Windows.BondRequired() {
			return apperr.With(apperr.ErrBondRequired, "claim %d has dispute or post-resolution windows", c.ID)
		}
		if req.Bond != nil {
			if err := r.policy.Check(bond.ClassResolution, *req.Bond); err != nil {
				return err
			}
		}

		impl, err := r.resolvers.Implementation(c.Resolver)
		if err != nil {
			return err
		}
		var ans answer.Answer
		err = r.callOut(func() (err error) {
			ans, err = impl.Resolve(ctx, c.ID, req.Proposer, req.Payload)
			return err
		})
		if err != nil {
			return err
		}
		if err := ans.Validate(c.AnswerType); err != nil {
			return err
		}

		var stake bond.Stake
		if req.Bond != nil {
			if stake, err = r.ledger.Accept(ctx, tx, c.ID, bond.ClassResolution, req.Proposer, *req.Bond, now); err != nil {
				return err
			}
		}
		rec.Resolution = &claim.ResolutionInfo{Proposer: req.Proposer, Bond: stake, Answer: ans.Clone(), ProposedAt: now}
		if err := enqueue(ctx, tx, outbox.TopicResolutionProposed, c.ID, req.Proposer, map[string]any{
			"answer": ans,
			"asset":  stake.Asset,
			"amount": stake.Amount,
		}, now); err != nil {
			return err
		}

		if c.Windows.Dispute == 0 {
			if err := r.commitResult(ctx, tx, rec, req.Proposer, now); err != nil {
				return err
			}
		} else {
			if err := rec.Advance(ctx, tx, claim.StateResolving, req.Proposer, now); err != nil {
				return err
			}
			c.DisputeDeadline = window.Deadline(now, c.Windows.Dispute)
		}
		if err := tx.Update(ctx, rec); err != nil {
			return err
		}
		out = rec.Claim
		return nil
	})
	return out, err
}

// Finalize commits an undisputed proposal once its dispute window is over.
func (r *Registry) Finalize(ctx context.Context, caller string, id uint64) error {
	return r.mutate(ctx, "finalize", id, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		rec, err := tx.Load(ctx, id)
		if err != nil {
			return err
		}
		c := &rec.Claim
		if err := c.Expect(claim.StateResolving); err != nil {
			return err
		}
		if rec.Dispute.Open() {
			return apperr.With(apperr.ErrDisputeAlreadyExists, "claim %d", id)
		}
		if !window.Elapsed(now, c.DisputeDeadline) {
			return apperr.With(apperr.ErrWindowNotElapsed, "claim %d dispute window closes at %s", id, c.DisputeDeadline)
		}
		if err := r.commitResult(ctx, tx, rec, caller, now); err != nil {
			return err
		}
		return tx.Update(ctx, rec)
	})
}

// commitResult resolves the claim with its proposal as the original result.
// The resolution bond goes back at once unless a post-resolution window
// keeps it at stake.
func (r *Registry) commitResult(ctx context.Context, tx claim.Tx, rec *claim.Record, actor string, now time.Time) error {
	c := &rec.Claim
	if err := rec.Advance(ctx, tx, claim.StateResolved, actor, now); err != nil {
		return err
	}
	if err := rec.Result.SetOriginal(rec.Resolution.Answer); err != nil {
		return err
	}
	c.ResolvedAt = now
	c.PostResolutionDeadline = window.Deadline(now, c.Windows.PostResolution)
	if c.Windows.PostResolution == 0 {
		if err := r.ledger.Return(ctx, tx, c.ID, bond.ClassResolution, &rec.Resolution.Bond, now); err != nil {
			return err
		}
	}
	return enqueue(ctx, tx, outbox.TopicResultCommitted, c.ID, actor, map[string]any{
		"answer":                   rec.Resolution.Answer,
		"corrected":                false,
		"post_resolution_deadline": c.PostResolutionDeadline,
	}, now)
}

// ReleaseResolutionBond returns a resolution bond held through a
// post-resolution window that closed without a dispute. Anyone may call it.
func (r *Registry) ReleaseResolutionBond(ctx context.Context, caller string, id uint64) error {
	return r.mutate(ctx, "release_resolution_bond", id, func(ctx context.Context, tx claim.Tx, now time.Time) error {
		rec, err := tx.Load(ctx, id)
		if err != nil {
			return err
		}
		c := &rec.Claim
		if err := c.Expect(claim.StateResolved); err != nil {
			return err
		}
		if rec.Dispute.Open() {
			return apperr.With(apperr.ErrDisputeAlreadyExists, "claim %d has an open post-resolution dispute", id)
		}
		if window.Open(now, c.PostResolutionDeadline) {
			return apperr.With(apperr.ErrWindowNotElapsed, "claim %d post-resolution window closes at %s", id, c.PostResolutionDeadline)
		}
		if rec.Resolution == nil || !rec.Resolution.Bond.Held {
			return apperr.With(apperr.ErrInvalidState, "claim %d holds no resolution bond", id)
		}
		if err := r.ledger.Return(ctx, tx, id, bond.ClassResolution, &rec.Resolution.Bond, now); err != nil {
			return err
		}
		return tx.Update(ctx, rec)
	})
}

func enqueue(ctx context.Context, w outbox.Writer, topic string, claimID uint64, actor string, payload map[string]any, now time.Time) error {
	if err := w.Enqueue(ctx, outbox.New(topic, claimID, actor, payload, now)); err != nil {
		return fmt.Errorf("registry: enqueue %s: %w", topic, err)
	}
	return nil
}
