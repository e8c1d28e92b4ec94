package holmdice

import (
	"encoding/json"
	"testing"
	"time"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/engine"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

var testNow = func() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func rollAction(t *testing.T, actor round.ActorID, keep []int) round.Action {
	t.Helper()
	payload, err := json.Marshal(RollPayload{Keep: keep})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return round.Action{Type: round.ActionRoll, ActorID: actor, Payload: payload}
}

func newDiceRound(t *testing.T, seed int64) round.State {
	t.Helper()
	state, err := engine.NewRound("r1", GameType, []round.ActorID{"a", "b"}, nil, 0, seed)
	if err != nil {
		t.Fatalf("new round: %v", err)
	}
	return state
}

func TestDealStartsAtRollStep(t *testing.T) {
	state := newDiceRound(t, 9)
	if state.Phase != round.PhaseActivePlay || state.SubPhase != round.SubPhaseRoll {
		t.Fatalf("expected active play roll step, got %s/%s", state.Phase, state.SubPhase)
	}
	// Dealer index 0, so b opens.
	if state.CurrentTurnActorID != "b" {
		t.Fatalf("expected b to open, got %s", state.CurrentTurnActorID)
	}
}

func TestRollIsSeedDeterministic(t *testing.T) {
	state := newDiceRound(t, 42)

	first, _, err := engine.Apply(state, rollAction(t, "b", nil), testNow)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	second, _, err := engine.Apply(state, rollAction(t, "b", nil), testNow)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}

	a, b := first.Actors["b"].Dice, second.Actors["b"].Dice
	if len(a) != DiceCount {
		t.Fatalf("expected %d dice, got %d", DiceCount, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed and sequence rolled differently: %v vs %v", a, b)
		}
		if a[i] < 1 || a[i] > 6 {
			t.Fatalf("die out of range: %d", a[i])
		}
	}
}

func TestKeepBeforeFirstRollRejected(t *testing.T) {
	state := newDiceRound(t, 7)
	_, _, err := engine.Apply(state, rollAction(t, "b", []int{0, 1}), testNow)
	if !apperrors.IsCode(err, apperrors.CodeIllegalTarget) {
		t.Fatalf("expected ILLEGAL_TARGET, got %v", err)
	}
}

func TestKeepPositionsSurviveReroll(t *testing.T) {
	state := newDiceRound(t, 101)

	after, _, err := engine.Apply(state, rollAction(t, "b", nil), testNow)
	if err != nil {
		t.Fatalf("first roll: %v", err)
	}
	held := after.Actors["b"].Dice[2]

	after, _, err = engine.Apply(after, rollAction(t, "b", []int{2}), testNow)
	if err != nil {
		t.Fatalf("second roll: %v", err)
	}
	if after.Actors["b"].Dice[2] != held {
		t.Fatalf("kept die changed: had %d, got %d", held, after.Actors["b"].Dice[2])
	}
	if after.Actors["b"].RollsUsed != 2 {
		t.Fatalf("expected two rolls used, got %d", after.Actors["b"].RollsUsed)
	}
}

func TestKeepPositionOutOfRangeRejected(t *testing.T) {
	state := newDiceRound(t, 5)
	after, _, err := engine.Apply(state, rollAction(t, "b", nil), testNow)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	_, _, err = engine.Apply(after, rollAction(t, "b", []int{DiceCount}), testNow)
	if !apperrors.IsCode(err, apperrors.CodeIllegalTarget) {
		t.Fatalf("expected ILLEGAL_TARGET, got %v", err)
	}
}

func TestThirdRollLocksAndAdvances(t *testing.T) {
	state := newDiceRound(t, 11)

	for i := 0; i < MaxRolls; i++ {
		next, _, err := engine.Apply(state, rollAction(t, "b", nil), testNow)
		if err != nil {
			t.Fatalf("roll %d: %v", i+1, err)
		}
		state = next
	}

	b := state.Actors["b"]
	if !b.IsComplete {
		t.Fatal("third roll must lock the actor")
	}
	if b.KeptTotal < DiceCount || b.KeptTotal > DiceCount*6 {
		t.Fatalf("implausible kept total %d", b.KeptTotal)
	}
	if state.CurrentTurnActorID != "a" {
		t.Fatalf("expected turn to pass to a, got %s", state.CurrentTurnActorID)
	}
}

func TestStayBeforeRollingRejected(t *testing.T) {
	state := newDiceRound(t, 3)
	_, _, err := engine.Apply(state, round.Action{Type: round.ActionStay, ActorID: "b"}, testNow)
	if !apperrors.IsCode(err, apperrors.CodeIllegalTarget) {
		t.Fatalf("expected ILLEGAL_TARGET, got %v", err)
	}
}

func TestNotYourTurnRejected(t *testing.T) {
	state := newDiceRound(t, 3)
	before, _ := state.Marshal()

	_, _, err := engine.Apply(state, rollAction(t, "a", nil), testNow)
	if !apperrors.IsCode(err, apperrors.CodeNotYourTurn) {
		t.Fatalf("expected NOT_YOUR_TURN, got %v", err)
	}

	after, _ := state.Marshal()
	if string(before) != string(after) {
		t.Fatal("rejected action mutated the state")
	}
}

func TestHighestStayWins(t *testing.T) {
	state := newDiceRound(t, 77)

	// b rolls once and stays.
	state, _, err := engine.Apply(state, rollAction(t, "b", nil), testNow)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	state, _, err = engine.Apply(state, round.Action{Type: round.ActionStay, ActorID: "b"}, testNow)
	if err != nil {
		t.Fatalf("stay: %v", err)
	}
	bTotal := state.Actors["b"].KeptTotal
	if bTotal == 0 {
		t.Fatal("stay must lock a total")
	}

	// a rolls once and stays; last actor closes the round.
	state, _, err = engine.Apply(state, rollAction(t, "a", nil), testNow)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	state, effects, err := engine.Apply(state, round.Action{Type: round.ActionStay, ActorID: "a"}, testNow)
	if err != nil {
		t.Fatalf("stay: %v", err)
	}

	if state.Phase != round.PhaseComplete {
		t.Fatalf("expected complete, got %s", state.Phase)
	}
	ended := false
	for _, e := range effects {
		if e.Type == round.EffectRoundEnded {
			ended = true
		}
	}
	if !ended {
		t.Fatalf("expected round-ended effect, got %v", effects)
	}

	outcome := state.TerminalResult
	if outcome == nil || len(outcome.WinnerIDs) == 0 {
		t.Fatalf("expected a winner, got %+v", outcome)
	}
	aTotal := state.Actors["a"].KeptTotal
	want := round.ActorID("a")
	if bTotal > aTotal {
		want = "b"
	}
	if aTotal != bTotal && outcome.WinnerIDs[0] != want {
		t.Fatalf("expected %s to win (%d vs %d), got %v", want, aTotal, bTotal, outcome.WinnerIDs)
	}
}

func TestFoldedActorCannotWin(t *testing.T) {
	state := newDiceRound(t, 13)

	state, _, err := engine.Apply(state, round.Action{Type: round.ActionFold, ActorID: "b"}, testNow)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	if state.Actors["b"].Dice != nil {
		t.Fatal("folding must clear the dice")
	}

	state, _, err = engine.Apply(state, rollAction(t, "a", nil), testNow)
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	state, _, err = engine.Apply(state, round.Action{Type: round.ActionStay, ActorID: "a"}, testNow)
	if err != nil {
		t.Fatalf("stay: %v", err)
	}

	outcome := state.TerminalResult
	if len(outcome.WinnerIDs) != 1 || outcome.WinnerIDs[0] != "a" {
		t.Fatalf("expected the staying actor to win, got %v", outcome.WinnerIDs)
	}
	if outcome.Deltas["b"] != -1 {
		t.Fatalf("expected the fold to cost a point, got %d", outcome.Deltas["b"])
	}
}

func TestAllFoldedIsVoid(t *testing.T) {
	state := newDiceRound(t, 13)

	state, _, err := engine.Apply(state, round.Action{Type: round.ActionFold, ActorID: "b"}, testNow)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	state, _, err = engine.Apply(state, round.Action{Type: round.ActionFold, ActorID: "a"}, testNow)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}

	if state.Phase != round.PhaseComplete {
		t.Fatalf("expected complete, got %s", state.Phase)
	}
	if state.TerminalResult.Reason != ReasonAllFolded {
		t.Fatalf("expected all-folded void, got %s", state.TerminalResult.Reason)
	}
	if len(state.TerminalResult.WinnerIDs) != 0 {
		t.Fatal("void round has no winners")
	}
}
