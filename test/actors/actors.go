package actors

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"verity/answer"
	"verity/apperr"
	"verity/bond"
	"verity/claim"
	"verity/dispute"
	"verity/outbox"
	"verity/registry"
	"verity/window"
)

// World is what every actor shares: several registry nodes over one
// database, as if each ran in its own process.
type World struct {
	Nodes       []*registry.Registry
	Relay       *outbox.Relay
	Resolver    string
	Adjudicator string
	Authority   string
	Windows     window.Set

	lastID atomic.Uint64
	Stats  Stats
}

// Stats counts outcomes. Refusals are registry errors with a known kind and
// are expected under contention; failures are everything else.
type Stats struct {
	OK      atomic.Int64
	Refused atomic.Int64
	Failed  atomic.Int64
}

func (w *World) node() *registry.Registry {
	return w.Nodes[rand.Intn(len(w.Nodes))]
}

func (w *World) pick() (uint64, bool) {
	n := w.lastID.Load()
	if n == 0 {
		return 0, false
	}
	return uint64(rand.Int63n(int64(n))) + 1, true
}

func (w *World) record(err error) {
	switch {
	case err == nil:
		w.Stats.OK.Add(1)
	case apperr.KindOf(err) == apperr.KindInternal:
		w.Stats.Failed.Add(1)
	default:
		w.Stats.Refused.Add(1)
	}
}

func native(v int64) bond.Payment {
	amt := decimal.NewFromInt(v)
	return bond.Payment{Asset: bond.Native, Amount: amt, Attached: amt}
}

// guess produces a plausible answer of the claim's type.
func guess(typ answer.Type) answer.Answer {
	switch typ {
	case answer.TypeInteger:
		return answer.NewInt(rand.Int63n(10))
	case answer.TypeBytes:
		return answer.NewBytes([]byte(fmt.Sprintf("v%d", rand.Intn(3))))
	}
	return answer.NewBool(rand.Intn(2) == 0)
}

func payload(a answer.Answer) []byte {
	switch a.Type {
	case answer.TypeInteger:
		return []byte(strconv.FormatInt(a.Int, 10))
	case answer.TypeBytes:
		return a.Bytes
	}
	return []byte(strconv.FormatBool(a.Bool))
}

// loop runs step with a jittered pause until ctx ends or stop closes.
func loop(ctx context.Context, stop <-chan struct{}, pause time.Duration, step func(ctx context.Context)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		step(ctx)
		time.Sleep(pause + time.Duration(rand.Int63n(int64(pause))))
	}
}

// Creator keeps opening claims on the shared resolver and adjudicator.
func Creator(ctx context.Context, w *World, name string, stop <-chan struct{}) error {
	var n int
	return loop(ctx, stop, 20*time.Millisecond, func(ctx context.Context) {
		n++
		ws := w.Windows
		c, err := w.node().Create(ctx, registry.CreateRequest{
			Creator:     name,
			Resolver:    w.Resolver,
			TemplateID:  uint64(rand.Intn(3)),
			Payload:     []byte(fmt.Sprintf("%s question %d", name, n)),
			Adjudicator: w.Adjudicator,
			Windows:     &ws,
		})
		w.record(err)
		if err != nil {
			return
		}
		for {
			last := w.lastID.Load()
			if c.ID <= last || w.lastID.CompareAndSwap(last, c.ID) {
				return
			}
		}
	})
}

// Proposer races other proposers to answer random claims.
func Proposer(ctx context.Context, w *World, name string, stop <-chan struct{}) error {
	return loop(ctx, stop, 15*time.Millisecond, func(ctx context.Context) {
		id, ok := w.pick()
		if !ok {
			return
		}
		reg := w.node()
		rec, err := reg.Get(ctx, id)
		if err != nil || rec.Claim.State != claim.StateActive {
			return
		}
		pay := native(100)
		_, err = reg.Resolve(ctx, registry.ResolveRequest{
			ClaimID:  id,
			Proposer: name,
			Payload:  payload(guess(rec.Claim.AnswerType)),
			Bond:     &pay,
		})
		w.record(err)
	})
}

// Disputer files disputes, sometimes with a counter-answer.
func Disputer(ctx context.Context, w *World, name string, stop <-chan struct{}) error {
	return loop(ctx, stop, 25*time.Millisecond, func(ctx context.Context) {
		id, ok := w.pick()
		if !ok {
			return
		}
		reg := w.node()
		rec, err := reg.Get(ctx, id)
		if err != nil {
			return
		}
		f := dispute.Filing{Party: name, Bond: native(40), Reason: "stress"}
		if rand.Intn(2) == 0 {
			a := guess(rec.Claim.AnswerType)
			f.ProposedAnswer = &a
		}
		w.record(reg.Dispute(ctx, id, f))
	})
}

// Challenger escalates adjudicator decisions it happens to find.
func Challenger(ctx context.Context, w *World, name string, stop <-chan struct{}) error {
	return loop(ctx, stop, 30*time.Millisecond, func(ctx context.Context) {
		id, ok := w.pick()
		if !ok {
			return
		}
		w.record(w.node().ChallengeAdjudicatorDecision(ctx, id, dispute.Filing{Party: name, Bond: native(80), Reason: "stress"}))
	})
}

var decisions = []claim.Decision{claim.DecisionUphold, claim.DecisionReject, claim.DecisionCancel, claim.DecisionTooEarly}

func decide() claim.Decision {
	return decisions[rand.Intn(len(decisions))]
}

// Adjudicator rules on round-one disputes with random decisions.
func Adjudicator(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, 20*time.Millisecond, func(ctx context.Context) {
		id, ok := w.pick()
		if !ok {
			return
		}
		w.record(w.node().ResolveAdjudicatorDispute(ctx, registry.DecisionRequest{ClaimID: id, Caller: w.Adjudicator, Decision: decide()}))
	})
}

// Authority rules on escalations and post-resolution disputes.
func Authority(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, 20*time.Millisecond, func(ctx context.Context) {
		id, ok := w.pick()
		if !ok {
			return
		}
		req := registry.DecisionRequest{ClaimID: id, Caller: w.Authority, Decision: decide()}
		reg := w.node()
		if rand.Intn(2) == 0 {
			w.record(reg.ResolveEscalation(ctx, req))
			return
		}
		w.record(reg.ResolvePostResolutionDispute(ctx, req))
	})
}

// Keeper pushes claims along once their windows lapse.
func Keeper(ctx context.Context, w *World, name string, stop <-chan struct{}) error {
	return loop(ctx, stop, 10*time.Millisecond, func(ctx context.Context) {
		id, ok := w.pick()
		if !ok {
			return
		}
		reg := w.node()
		switch rand.Intn(4) {
		case 0:
			w.record(reg.Finalize(ctx, name, id))
		case 1:
			w.record(reg.FinalizeAfterAdjudicator(ctx, name, id))
		case 2:
			w.record(reg.EscalateOnAdjudicatorTimeout(ctx, name, id))
		default:
			w.record(reg.ReleaseResolutionBond(ctx, name, id))
		}
	})
}

// Relayer drains the outbox the way the relay command does.
func Relayer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, 50*time.Millisecond, func(ctx context.Context) {
		if _, err := w.Relay.Drain(ctx); err != nil {
			w.Stats.Failed.Add(1)
		}
	})
}
