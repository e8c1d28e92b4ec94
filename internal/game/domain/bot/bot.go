// Package bot chooses actions for machine-controlled actors. Policies are
// pure functions of the round state, so a scheduler that re-reads the state
// after a think delay either reproduces the same decision or notices that
// the turn has moved on.
package bot

import (
	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/rules/gin"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/rules/holmdice"
)

// Policy decides the next action for one actor in one game type.
type Policy interface {
	GameType() string
	Decide(s round.State, actorID round.ActorID) (round.Action, error)
}

// Difficulty tunes how sharply a policy plays. Anything unrecognized,
// including the zero value, behaves as DifficultyStandard.
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyStandard Difficulty = "standard"
	DifficultyHard     Difficulty = "hard"
)

var policies = map[string]func(Difficulty) Policy{
	gin.GameType:      newGinPolicy,
	holmdice.GameType: newDicePolicy,
}

// ForGameType returns the standard-difficulty policy for a registered game
// type.
func ForGameType(gameType string) (Policy, error) {
	return PolicyFor(gameType, DifficultyStandard)
}

// PolicyFor returns the policy for a registered game type at the given
// difficulty.
func PolicyFor(gameType string, difficulty Difficulty) (Policy, error) {
	factory, ok := policies[gameType]
	if !ok {
		return nil, apperrors.WithMetadata(
			apperrors.CodeRoundUnknownAction,
			"no bot policy for this game type",
			map[string]string{"game_type": gameType},
		)
	}
	return factory(difficulty), nil
}

// Decide picks the next action for actorID using the state's game type at
// standard difficulty.
func Decide(s round.State, actorID round.ActorID) (round.Action, error) {
	policy, err := ForGameType(s.GameType)
	if err != nil {
		return round.Action{}, err
	}
	return policy.Decide(s, actorID)
}

// Decider binds a difficulty into the decide-function shape the session
// orchestrator takes.
func Decider(difficulty Difficulty) func(round.State, round.ActorID) (round.Action, error) {
	return func(s round.State, actorID round.ActorID) (round.Action, error) {
		policy, err := PolicyFor(s.GameType, difficulty)
		if err != nil {
			return round.Action{}, err
		}
		return policy.Decide(s, actorID)
	}
}

func requireTurn(s round.State, actorID round.ActorID) error {
	if s.Terminal() {
		return apperrors.New(apperrors.CodeRoundComplete, "round is complete")
	}
	if s.CurrentTurnActorID != actorID {
		return apperrors.WithMetadata(
			apperrors.CodeNotYourTurn,
			"bot asked to act out of turn",
			map[string]string{
				"actor_id":   string(actorID),
				"current_id": string(s.CurrentTurnActorID),
			},
		)
	}
	return nil
}
