package bot

import (
	"encoding/json"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/rules/holmdice"
)

// keepDieAt is the face value from which a die is worth holding.
const keepDieAt = 5

// dicePolicy keeps high dice, re-rolls the rest while the roll budget
// lasts, and stays once the whole hand is worth holding. It never folds.
type dicePolicy struct {
	keepAt     int
	rollBudget int
	// finalKeepAt is the hold threshold once only one roll remains.
	finalKeepAt int
}

func newDicePolicy(difficulty Difficulty) Policy {
	switch difficulty {
	case DifficultyEasy:
		// One roll, then stay with whatever landed.
		return dicePolicy{keepAt: keepDieAt, finalKeepAt: keepDieAt, rollBudget: 1}
	case DifficultyHard:
		return dicePolicy{keepAt: keepDieAt, finalKeepAt: keepDieAt - 1, rollBudget: holmdice.MaxRolls}
	default:
		return dicePolicy{keepAt: keepDieAt, finalKeepAt: keepDieAt, rollBudget: holmdice.MaxRolls}
	}
}

func (dicePolicy) GameType() string { return holmdice.GameType }

func (p dicePolicy) Decide(s round.State, actorID round.ActorID) (round.Action, error) {
	if err := requireTurn(s, actorID); err != nil {
		return round.Action{}, err
	}
	if s.SubPhase != round.SubPhaseRoll {
		return round.Action{}, apperrors.WithMetadata(
			apperrors.CodeWrongPhase,
			"no bot move for this phase",
			map[string]string{"phase": string(s.Phase), "sub_phase": string(s.SubPhase)},
		)
	}

	actor := s.Actors[actorID]
	if actor.RollsUsed == 0 {
		return round.Action{Type: round.ActionRoll, ActorID: actorID}, nil
	}

	threshold := p.keepAt
	if actor.RollsUsed >= p.rollBudget-1 {
		threshold = p.finalKeepAt
	}
	var keep []int
	for i, die := range actor.Dice {
		if die >= threshold {
			keep = append(keep, i)
		}
	}

	if len(keep) == len(actor.Dice) || actor.RollsUsed >= p.rollBudget {
		return round.Action{Type: round.ActionStay, ActorID: actorID}, nil
	}

	payload, err := json.Marshal(holmdice.RollPayload{Keep: keep})
	if err != nil {
		return round.Action{}, apperrors.Wrap(apperrors.CodeIllegalTarget, "marshal bot payload", err)
	}
	return round.Action{Type: round.ActionRoll, ActorID: actorID, Payload: payload}, nil
}
