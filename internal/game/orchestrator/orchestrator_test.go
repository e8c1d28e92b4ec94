package orchestrator

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/card"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/engine"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/rules/gin"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/rules/holmdice"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage"
	"github.com/jeremyhappach/rule-your-poker/internal/game/storage/memory"
	statesync "github.com/jeremyhappach/rule-your-poker/internal/game/sync"
)

type capture struct {
	revisions []int64
	published []int64
}

func (c *capture) Publish(_ string, state round.State) {
	c.published = append(c.published, state.Revision)
}

type fixture struct {
	store *memory.Store
	orch  *Orchestrator
	cap   *capture
	now   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(nil),
		cap:   &capture{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg.Store = f.store
	cfg.Broadcast = f.cap
	cfg.HolderID = "node-test"
	if cfg.Think == nil {
		cfg.Think = func() time.Duration { return 0 }
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return f.now }
	}
	cfg.Reconciler = statesync.New(statesync.Config{
		Now: cfg.Now,
		OnStateChange: func(s round.State) {
			f.cap.revisions = append(f.cap.revisions, s.Revision)
		},
	})
	f.orch = New("r1", cfg)
	return f
}

func (f *fixture) seed(t *testing.T, gameType string, bots map[round.ActorID]bool) round.State {
	t.Helper()
	state, err := engine.NewRound("r1", gameType, []round.ActorID{"a", "b"}, bots, 0, 99)
	if err != nil {
		t.Fatalf("new round: %v", err)
	}
	if _, err := f.store.Write(context.Background(), "r1", state); err != nil {
		t.Fatalf("seed round: %v", err)
	}
	seeded, err := f.store.Read(context.Background(), "r1")
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}
	return seeded
}

func TestSubmitWritesAndBroadcasts(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, gin.GameType, nil)
	ctx := context.Background()

	// Dealer index 0, so b opens the first exchange.
	state, err := f.orch.Submit(ctx, round.Action{Type: round.ActionStay, ActorID: "b"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", state.Revision)
	}
	if len(f.cap.published) != 1 || f.cap.published[0] != 2 {
		t.Fatalf("expected broadcast of revision 2, got %v", f.cap.published)
	}

	stored, err := f.store.Read(ctx, "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if stored.Revision != 2 || stored.CurrentTurnActorID != "a" {
		t.Fatalf("unexpected stored state: rev %d turn %s", stored.Revision, stored.CurrentTurnActorID)
	}
}

func TestSubmitSurfacesRejection(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, gin.GameType, nil)

	_, err := f.orch.Submit(context.Background(), round.Action{Type: round.ActionStay, ActorID: "a"})
	if !apperrors.IsCode(err, apperrors.CodeNotYourTurn) {
		t.Fatalf("expected NOT_YOUR_TURN, got %v", err)
	}
	if len(f.cap.published) != 0 {
		t.Fatal("rejected action must not broadcast")
	}
}

// interferingStore injects one concurrent write between the orchestrator's
// read and its compare-and-set.
type interferingStore struct {
	storage.Store
	interfere func()
	fired     bool
}

func (s *interferingStore) Write(ctx context.Context, roundID string, state round.State) (int64, error) {
	if !s.fired && s.interfere != nil {
		s.fired = true
		s.interfere()
	}
	return s.Store.Write(ctx, roundID, state)
}

func TestSubmitRetriesAfterConflictWhenStillLegal(t *testing.T) {
	f := newFixture(t, Config{})
	seeded := f.seed(t, holmdice.GameType, nil)
	ctx := context.Background()

	wrapped := &interferingStore{Store: f.store}
	wrapped.interfere = func() {
		// Another node lands b's first roll before our write commits; a
		// second roll from b is still legal afterwards.
		next, _, err := engine.Apply(seeded, round.Action{Type: round.ActionRoll, ActorID: "b"}, f.orch.cfg.Now)
		if err != nil {
			t.Fatalf("interfering apply: %v", err)
		}
		if _, err := f.store.Write(ctx, "r1", next); err != nil {
			t.Fatalf("interfering write: %v", err)
		}
	}
	f.orch.cfg.Store = wrapped

	state, err := f.orch.Submit(ctx, round.Action{Type: round.ActionRoll, ActorID: "b"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if state.Revision != 3 {
		t.Fatalf("expected retried write at revision 3, got %d", state.Revision)
	}
	if state.Actors["b"].RollsUsed != 2 {
		t.Fatalf("expected the retry to land on the refreshed state, got %d rolls", state.Actors["b"].RollsUsed)
	}
}

func TestSubmitDropsActionIllegalAfterConflict(t *testing.T) {
	f := newFixture(t, Config{})
	seeded := f.seed(t, gin.GameType, nil)
	ctx := context.Background()

	wrapped := &interferingStore{Store: f.store}
	wrapped.interfere = func() {
		// b passes first on another node; our pass for b is now out of
		// turn and must be dropped silently.
		next, _, err := engine.Apply(seeded, round.Action{Type: round.ActionStay, ActorID: "b"}, f.orch.cfg.Now)
		if err != nil {
			t.Fatalf("interfering apply: %v", err)
		}
		if _, err := f.store.Write(ctx, "r1", next); err != nil {
			t.Fatalf("interfering write: %v", err)
		}
	}
	f.orch.cfg.Store = wrapped

	state, err := f.orch.Submit(ctx, round.Action{Type: round.ActionStay, ActorID: "b"})
	if err != nil {
		t.Fatalf("silent drop must not error: %v", err)
	}
	if state.Revision != 2 || state.CurrentTurnActorID != "a" {
		t.Fatalf("expected the authoritative state back, got rev %d turn %s", state.Revision, state.CurrentTurnActorID)
	}
	if len(f.cap.published) != 0 {
		t.Fatal("dropped action must not broadcast")
	}
	// The renderer ends on the authoritative state, not the optimistic guess.
	last := f.cap.revisions[len(f.cap.revisions)-1]
	if last != 2 {
		t.Fatalf("expected final render at revision 2, got %v", f.cap.revisions)
	}
}

func TestBotPlaysWhenTurnConfirmed(t *testing.T) {
	decided := 0
	f := newFixture(t, Config{
		Decide: func(s round.State, actorID round.ActorID) (round.Action, error) {
			decided++
			return round.Action{Type: round.ActionStay, ActorID: actorID}, nil
		},
	})
	f.seed(t, gin.GameType, map[round.ActorID]bool{"b": true})

	f.orch.runBotTurn(context.Background(), f.orch.currentEpoch(), "b")

	if decided != 1 {
		t.Fatalf("expected one decision, got %d", decided)
	}
	stored, err := f.store.Read(context.Background(), "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if stored.Revision != 2 || stored.CurrentTurnActorID != "a" {
		t.Fatalf("expected the bot pass written, got rev %d turn %s", stored.Revision, stored.CurrentTurnActorID)
	}
}

func TestBotAbortsOnTurnMismatchWithoutWrite(t *testing.T) {
	decided := 0
	f := newFixture(t, Config{
		Decide: func(s round.State, actorID round.ActorID) (round.Action, error) {
			decided++
			return round.Action{Type: round.ActionStay, ActorID: actorID}, nil
		},
	})
	f.seed(t, gin.GameType, map[round.ActorID]bool{"a": true})

	// The scheduler believes it is a's turn, but the store says b.
	f.orch.runBotTurn(context.Background(), f.orch.currentEpoch(), "a")

	if decided != 0 {
		t.Fatal("bot must not decide after a turn mismatch")
	}
	stored, err := f.store.Read(context.Background(), "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if stored.Revision != 1 {
		t.Fatalf("aborted bot turn must not write, got revision %d", stored.Revision)
	}
}

func TestBotAbortsOnStaleEpoch(t *testing.T) {
	decided := 0
	f := newFixture(t, Config{
		Decide: func(s round.State, actorID round.ActorID) (round.Action, error) {
			decided++
			return round.Action{Type: round.ActionStay, ActorID: actorID}, nil
		},
	})
	f.seed(t, gin.GameType, map[round.ActorID]bool{"b": true})

	f.orch.runBotTurn(context.Background(), f.orch.currentEpoch()+1, "b")

	if decided != 0 {
		t.Fatal("stale epoch must abort before deciding")
	}
	stored, _ := f.store.Read(context.Background(), "r1")
	if stored.Revision != 1 {
		t.Fatalf("stale epoch must not write, got revision %d", stored.Revision)
	}
}

func TestBotYieldsToForeignLease(t *testing.T) {
	decided := 0
	f := newFixture(t, Config{
		Decide: func(s round.State, actorID round.ActorID) (round.Action, error) {
			decided++
			return round.Action{Type: round.ActionStay, ActorID: actorID}, nil
		},
	})
	f.seed(t, gin.GameType, map[round.ActorID]bool{"b": true})

	if _, err := f.store.Claim(context.Background(), "r1", "other-node", time.Minute); err != nil {
		t.Fatalf("foreign claim: %v", err)
	}
	f.orch.runBotTurn(context.Background(), f.orch.currentEpoch(), "b")

	if decided != 0 {
		t.Fatal("a foreign lease must stop the bot loop")
	}
	stored, _ := f.store.Read(context.Background(), "r1")
	if stored.Revision != 1 {
		t.Fatalf("expected no write under a foreign lease, got revision %d", stored.Revision)
	}
}

func TestAbandonCancelsBotDelay(t *testing.T) {
	f := newFixture(t, Config{
		Think: func() time.Duration { return time.Hour },
	})
	f.seed(t, gin.GameType, map[round.ActorID]bool{"b": true})

	done := make(chan struct{})
	go func() {
		f.orch.runBotTurn(f.orch.session, f.orch.currentEpoch(), "b")
		close(done)
	}()

	// Give the goroutine a moment to enter its delay, then abandon.
	time.Sleep(10 * time.Millisecond)
	f.orch.Abandon()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("abandon did not cancel the in-flight bot delay")
	}
	stored, _ := f.store.Read(context.Background(), "r1")
	if stored.Revision != 1 {
		t.Fatalf("cancelled bot turn must not write, got revision %d", stored.Revision)
	}
}

func TestPollForcesStalledResolution(t *testing.T) {
	f := newFixture(t, Config{ResolveAfter: 15 * time.Second})
	ctx := context.Background()

	// A knocked round stuck in resolving: a declared with deadwood 3, b
	// never took its lay-off.
	state := round.State{
		RoundID:            "r1",
		GameType:           gin.GameType,
		Phase:              round.PhaseTerminalDeclared,
		SubPhase:           round.SubPhaseResolving,
		TurnOrder:          []round.ActorID{"a", "b"},
		CurrentTurnActorID: "b",
		Actors: map[round.ActorID]round.ActorState{
			"a": {
				HasDeclaredTerminal: true,
				Melds: [][]card.Card{
					{{Rank: card.RankAce, Suit: card.SuitSpades}, {Rank: card.RankTwo, Suit: card.SuitSpades}, {Rank: card.RankThree, Suit: card.SuitSpades}},
				},
				Deadwood: []card.Card{{Rank: card.RankThree, Suit: card.SuitDiamonds}},
			},
			"b": {Hand: []card.Card{{Rank: card.RankKing, Suit: card.SuitSpades}}, HeldCount: 1},
		},
	}
	if _, err := f.store.Write(ctx, "r1", state); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// First poll arms the deadline; the round is still resolving.
	f.orch.Poll(ctx)
	mid, _ := f.store.Read(ctx, "r1")
	if mid.Phase != round.PhaseTerminalDeclared {
		t.Fatalf("resolution forced too early: %s", mid.Phase)
	}

	// Past the time box the orchestrator finishes resolving itself.
	f.now = f.now.Add(16 * time.Second)
	f.orch.Poll(ctx)

	final, err := f.store.Read(ctx, "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if final.Phase != round.PhaseComplete {
		t.Fatalf("expected forced completion, got %s", final.Phase)
	}
	if final.TerminalResult == nil || final.TerminalResult.Reason != "knock" {
		t.Fatalf("expected knock outcome, got %+v", final.TerminalResult)
	}
}

func TestPollKeepsLastKnownStateOnError(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, gin.GameType, nil)
	ctx := context.Background()

	f.orch.Poll(ctx)
	if err := f.store.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.orch.Poll(ctx)

	current, ok := f.orch.cfg.Reconciler.Current()
	if !ok || current.Revision != 1 {
		t.Fatalf("expected last known-good revision 1, got %+v ok=%v", current, ok)
	}
}
