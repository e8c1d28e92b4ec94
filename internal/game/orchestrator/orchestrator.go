// Package orchestrator drives one round session: it composes the turn
// engine, the record store, the reconciler, and the bot scheduler into the
// single authority that accepts actions, recovers from write conflicts, and
// keeps bots moving.
package orchestrator

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"
	"github.com/jeremyhappach/rule-your-poker/internal/platform/timeouts"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/bot"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/engine"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage"
	statesync "github.com/jeremyhappach/rule-your-poker/internal/game/sync"
)

// Broadcaster pushes accepted states to connected peers. Delivery is
// best-effort; the poll loop covers dropped payloads.
type Broadcaster interface {
	Publish(roundID string, state round.State)
}

// Config wires an Orchestrator.
type Config struct {
	// Store persists round state and controller leases. Required.
	Store storage.Store
	// Reconciler renders the merged state stream. Required.
	Reconciler *statesync.Reconciler
	// Broadcast pushes accepted writes to peers. Optional.
	Broadcast Broadcaster
	// HolderID identifies this instance in lease claims. Required.
	HolderID string

	// PollInterval is the fallback poll cadence. Defaults to
	// timeouts.Poll.
	PollInterval time.Duration
	// LeaseTTL bounds the bot controller lease. Defaults to
	// timeouts.BotLease.
	LeaseTTL time.Duration
	// ResolveAfter force-finishes a stalled resolving phase. Defaults to
	// timeouts.Resolving.
	ResolveAfter time.Duration
	// Think produces the bot's human-like delay. Defaults to a uniform
	// draw between timeouts.BotThinkMin and timeouts.BotThinkMax.
	Think func() time.Duration
	// Decide picks a bot action. Defaults to the bot package policies.
	Decide func(s round.State, actorID round.ActorID) (round.Action, error)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = timeouts.Poll
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = timeouts.BotLease
	}
	if c.ResolveAfter <= 0 {
		c.ResolveAfter = timeouts.Resolving
	}
	if c.Think == nil {
		spread := int64(timeouts.BotThinkMax - timeouts.BotThinkMin)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		c.Think = func() time.Duration {
			return timeouts.BotThinkMin + time.Duration(rng.Int63n(spread))
		}
	}
	if c.Decide == nil {
		c.Decide = bot.Decide
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Orchestrator is the per-session controller for one round.
type Orchestrator struct {
	cfg     Config
	roundID string

	mu sync.Mutex
	// epoch increases on every observed turn change; a bot task spawned
	// under an older epoch aborts instead of writing.
	epoch     int64
	lastTurn  round.ActorID
	botCancel context.CancelFunc
	// resolvingSince tracks when the round entered the resolving phase,
	// zero otherwise.
	resolvingSince time.Time

	session       context.Context
	cancelSession context.CancelFunc
}

// New builds an orchestrator for one round. Decide falls back to the bot
// policies when unset.
func New(roundID string, cfg Config) *Orchestrator {
	cfg = cfg.normalized()
	if cfg.Store == nil {
		panic("orchestrator: Store is required")
	}
	if cfg.Reconciler == nil {
		panic("orchestrator: Reconciler is required")
	}
	if cfg.HolderID == "" {
		panic("orchestrator: HolderID is required")
	}
	session, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:           cfg,
		roundID:       roundID,
		session:       session,
		cancelSession: cancel,
	}
}

// Submit runs the local action path: engine validation, optimistic render,
// compare-and-set write, push broadcast. A write conflict re-reads and
// re-validates; an action still legal under the new state retries, anything
// else drops silently and the authoritative state re-renders.
func (o *Orchestrator) Submit(ctx context.Context, action round.Action) (round.State, error) {
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "round.submit",
		trace.WithAttributes(
			attribute.String("round.id", o.roundID),
			attribute.String("round.action", string(action.Type)),
		))
	defer span.End()

	state, err := o.cfg.Store.Read(ctx, o.roundID)
	if err != nil {
		return round.State{}, err
	}

	const maxAttempts = 3
	for attempt := 0; ; attempt++ {
		if attempt >= maxAttempts {
			o.cfg.Reconciler.Reset(state)
			return state, nil
		}
		next, _, err := engine.Apply(state, action, o.cfg.Now)
		if err != nil {
			if attempt > 0 {
				// The action became illegal after a conflicting write:
				// drop it and render what actually happened.
				o.cfg.Reconciler.Reset(state)
				return state, nil
			}
			return round.State{}, err
		}

		// Render the optimistic guess before the write round-trips.
		optimistic := next.Clone()
		optimistic.Revision = state.Revision + 1
		o.cfg.Reconciler.Submit(optimistic)

		revision, err := o.cfg.Store.Write(ctx, o.roundID, next)
		if err == nil {
			next.Revision = revision
			o.accepted(next)
			return next, nil
		}
		if !apperrors.IsCode(err, apperrors.CodeWriteConflict) {
			return round.State{}, err
		}

		state, err = o.cfg.Store.Read(ctx, o.roundID)
		if err != nil {
			return round.State{}, err
		}
	}
}

// HandlePush feeds a push-delivered state into the session.
func (o *Orchestrator) HandlePush(state round.State) {
	o.cfg.Reconciler.OnPush(state)
	o.observe(state)
}

// Run polls the store on a fixed interval until ctx or the session ends.
// Polling is the guaranteed fallback when push drops a payload; transport
// errors keep the last known-good state rendered and the loop alive.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.session.Done():
			return nil
		case <-ticker.C:
			o.Poll(ctx)
		}
	}
}

// Poll performs one poll round-trip.
func (o *Orchestrator) Poll(ctx context.Context) {
	state, err := o.cfg.Store.Read(ctx, o.roundID)
	if err != nil {
		o.cfg.Reconciler.OnTransportError(err)
		return
	}
	o.cfg.Reconciler.OnPoll(state)
	o.observe(state)
	o.forceResolveIfStalled(ctx, state)
}

// Abandon ends the session: in-flight bot delays cancel immediately and the
// turn epoch advances so nothing written under the old session lands.
func (o *Orchestrator) Abandon() {
	o.mu.Lock()
	o.epoch++
	if o.botCancel != nil {
		o.botCancel()
		o.botCancel = nil
	}
	o.mu.Unlock()
	o.cancelSession()
	if err := o.cfg.Store.Release(context.Background(), o.roundID, o.cfg.HolderID); err != nil {
		log.Printf("orchestrator: release lease: %v", err)
	}
}

// accepted handles a locally written state: reconcile, broadcast, observe.
func (o *Orchestrator) accepted(state round.State) {
	o.cfg.Reconciler.OnPush(state)
	if o.cfg.Broadcast != nil {
		o.cfg.Broadcast.Publish(o.roundID, state)
	}
	o.observe(state)
}

// observe tracks turn changes, maintains the resolving deadline, and
// schedules a bot task when the new current actor is a bot.
func (o *Orchestrator) observe(state round.State) {
	if state.Terminal() {
		o.mu.Lock()
		o.epoch++
		if o.botCancel != nil {
			o.botCancel()
			o.botCancel = nil
		}
		o.resolvingSince = time.Time{}
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	if state.SubPhase == round.SubPhaseResolving {
		if o.resolvingSince.IsZero() {
			o.resolvingSince = o.cfg.Now()
		}
	} else {
		o.resolvingSince = time.Time{}
	}

	turnChanged := state.CurrentTurnActorID != o.lastTurn
	if turnChanged {
		o.lastTurn = state.CurrentTurnActorID
		o.epoch++
		if o.botCancel != nil {
			o.botCancel()
			o.botCancel = nil
		}
	}
	epoch := o.epoch
	actor := state.CurrentTurnActorID
	isBot := state.Actors[actor].IsBot
	scheduled := o.botCancel != nil
	var botCtx context.Context
	if isBot && !scheduled {
		botCtx, o.botCancel = context.WithCancel(o.session)
	}
	o.mu.Unlock()

	if botCtx != nil {
		go o.runBotTurn(botCtx, epoch, actor)
	}
}

// forceResolveIfStalled submits the system finish_resolving action when the
// resolving phase has outlived its time box.
func (o *Orchestrator) forceResolveIfStalled(ctx context.Context, state round.State) {
	if state.Phase != round.PhaseTerminalDeclared || state.SubPhase != round.SubPhaseResolving {
		return
	}
	o.mu.Lock()
	since := o.resolvingSince
	o.mu.Unlock()
	if since.IsZero() || o.cfg.Now().Sub(since) < o.cfg.ResolveAfter {
		return
	}

	if _, err := o.Submit(ctx, round.Action{Type: round.ActionFinishResolving}); err != nil {
		log.Printf("orchestrator: force finish resolving: %v", err)
	}
}

func (o *Orchestrator) currentEpoch() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}
