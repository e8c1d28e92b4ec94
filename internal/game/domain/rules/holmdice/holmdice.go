// Package holmdice implements the dice rule set: each actor gets up to
// three rolls of five dice, locks a total by staying, or withdraws by
// folding. Highest kept total wins the round.
package holmdice

import (
	"encoding/json"
	"fmt"
	"math/rand"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/engine"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

const (
	// GameType is the registry name of this rule set.
	GameType = "holmdice"

	// DiceCount is how many dice each actor rolls.
	DiceCount = 5

	// MaxRolls bounds the rolls per actor per round.
	MaxRolls = 3

	// ReasonAllFolded is the outcome reason when nobody stays.
	ReasonAllFolded = "void — all folded"
)

// RollPayload lists the dice positions to keep from the previous roll;
// unlisted dice are re-rolled. Empty on the first roll.
type RollPayload struct {
	Keep []int `json:"keep,omitempty"`
}

func init() {
	engine.Register(Rules{})
}

// Rules is the dice engine.RuleSet implementation.
type Rules struct{}

func (Rules) Name() string { return GameType }

// Deal starts the round directly in active play; there is no opening
// exchange in a dice round.
func (Rules) Deal(s *round.State) error {
	s.Phase = round.PhaseActivePlay
	s.SubPhase = round.SubPhaseRoll
	return nil
}

// Apply validates and applies one action. The state is a private clone.
func (Rules) Apply(s *round.State, action round.Action) ([]round.Effect, error) {
	switch action.Type {
	case round.ActionRoll:
		return applyRoll(s, action)
	case round.ActionStay:
		return applyStay(s, action)
	case round.ActionFold:
		return applyFold(s, action)
	default:
		return nil, apperrors.WithMetadata(
			apperrors.CodeRoundUnknownAction,
			"action is not part of the dice game",
			map[string]string{"action": string(action.Type)},
		)
	}
}

func requireRollTurn(s *round.State, actorID round.ActorID) error {
	if actorID != s.CurrentTurnActorID {
		return apperrors.WithMetadata(
			apperrors.CodeNotYourTurn,
			"it is not this actor's turn",
			map[string]string{
				"actor_id":   string(actorID),
				"current_id": string(s.CurrentTurnActorID),
			},
		)
	}
	if s.Phase != round.PhaseActivePlay || s.SubPhase != round.SubPhaseRoll {
		return apperrors.WithMetadata(
			apperrors.CodeWrongPhase,
			"action requires the roll step",
			map[string]string{"phase": string(s.Phase)},
		)
	}
	return nil
}

func applyRoll(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireRollTurn(s, action.ActorID); err != nil {
		return nil, err
	}

	actor := s.Actors[action.ActorID]
	if actor.RollsUsed >= MaxRolls {
		return nil, apperrors.New(apperrors.CodeIllegalTarget, "no rolls remaining")
	}

	var payload RollPayload
	if len(action.Payload) > 0 {
		if err := json.Unmarshal(action.Payload, &payload); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeIllegalTarget, "malformed roll payload", err)
		}
	}
	if actor.RollsUsed == 0 && len(payload.Keep) > 0 {
		return nil, apperrors.New(apperrors.CodeIllegalTarget, "nothing to keep before the first roll")
	}

	kept := make(map[int]bool, len(payload.Keep))
	for _, pos := range payload.Keep {
		if pos < 0 || pos >= DiceCount {
			return nil, apperrors.WithMetadata(
				apperrors.CodeIllegalTarget,
				"keep position out of range",
				map[string]string{"position": fmt.Sprintf("%d", pos)},
			)
		}
		kept[pos] = true
	}

	// Rolls are derived from the round seed plus the action sequence so
	// every client replays identical dice.
	seq := int64(1)
	if s.LastAction != nil {
		seq = s.LastAction.Seq + 1
	}
	r := rand.New(rand.NewSource(s.Seed + seq))

	dice := actor.Dice
	if len(dice) != DiceCount {
		dice = make([]int, DiceCount)
	}
	next := make([]int, DiceCount)
	for i := 0; i < DiceCount; i++ {
		if kept[i] {
			next[i] = dice[i]
		} else {
			next[i] = r.Intn(6) + 1
		}
	}

	actor.Dice = next
	actor.RollsUsed++
	s.Actors[action.ActorID] = actor

	// The final roll locks automatically.
	if actor.RollsUsed >= MaxRolls {
		return lockAndAdvance(s, action.ActorID)
	}
	return nil, nil
}

func applyStay(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireRollTurn(s, action.ActorID); err != nil {
		return nil, err
	}
	actor := s.Actors[action.ActorID]
	if actor.RollsUsed == 0 {
		return nil, apperrors.New(apperrors.CodeIllegalTarget, "cannot stay before rolling")
	}
	return lockAndAdvance(s, action.ActorID)
}

func applyFold(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireRollTurn(s, action.ActorID); err != nil {
		return nil, err
	}
	actor := s.Actors[action.ActorID]
	actor.IsComplete = true
	actor.Dice = nil
	actor.KeptTotal = 0
	s.Actors[action.ActorID] = actor
	return advance(s, action.ActorID)
}

func lockAndAdvance(s *round.State, actorID round.ActorID) ([]round.Effect, error) {
	actor := s.Actors[actorID]
	total := 0
	for _, die := range actor.Dice {
		total += die
	}
	actor.KeptTotal = total
	actor.IsComplete = true
	s.Actors[actorID] = actor
	return advance(s, actorID)
}

func advance(s *round.State, actorID round.ActorID) ([]round.Effect, error) {
	next := s.NextActor(actorID)
	if next == "" {
		return scoreDice(s), nil
	}
	s.CurrentTurnActorID = next
	return []round.Effect{{Type: round.EffectTurnAdvanced, ActorID: next}}, nil
}

// scoreDice completes the round: highest kept total wins; folds score zero
// and cannot win. Ties split the win.
func scoreDice(s *round.State) []round.Effect {
	outcome := &round.Outcome{Deltas: make(map[round.ActorID]int)}

	best := 0
	for _, id := range s.TurnOrder {
		if total := s.Actors[id].KeptTotal; total > best {
			best = total
		}
	}

	if best == 0 {
		outcome.Reason = ReasonAllFolded
	} else {
		var losers []round.ActorID
		for _, id := range s.TurnOrder {
			if s.Actors[id].KeptTotal == best {
				outcome.WinnerIDs = append(outcome.WinnerIDs, id)
			} else {
				losers = append(losers, id)
			}
		}
		for _, id := range losers {
			outcome.Deltas[id] = -1
		}
		for _, id := range outcome.WinnerIDs {
			outcome.Deltas[id] = len(losers) / len(outcome.WinnerIDs)
		}
		outcome.Reason = fmt.Sprintf("high roll %d", best)
	}

	s.Phase = round.PhaseComplete
	s.SubPhase = round.SubPhaseNone
	s.CurrentTurnActorID = ""
	s.TerminalResult = outcome
	return []round.Effect{{Type: round.EffectRoundEnded}}
}
