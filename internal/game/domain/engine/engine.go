// Package engine is the pure turn state machine. Given a state and an
// action it returns either a new state plus effects or a rejection; it
// performs no I/O and never mutates its input.
package engine

import (
	"time"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

// RuleSet implements the legality and scoring rules of one game type. Apply
// receives a private clone and may mutate it freely; a returned error means
// the clone is discarded.
type RuleSet interface {
	Name() string
	// Deal populates hands, stock, and the opening phase on a fresh state.
	Deal(s *round.State) error
	// Apply validates and applies one action to the cloned state.
	Apply(s *round.State, action round.Action) ([]round.Effect, error)
}

// Apply validates action against state and returns the successor state with
// its effects. Rejections carry a domain error code (NOT_YOUR_TURN,
// WRONG_PHASE, ILLEGAL_TARGET) and leave state untouched.
func Apply(state round.State, action round.Action, now func() time.Time) (round.State, []round.Effect, error) {
	if now == nil {
		now = time.Now
	}

	rules, err := Lookup(state.GameType)
	if err != nil {
		return round.State{}, nil, err
	}

	if state.Terminal() {
		return round.State{}, nil, apperrors.WithMetadata(
			apperrors.CodeRoundComplete,
			"round is complete",
			map[string]string{"round_id": state.RoundID},
		)
	}

	// System actions (empty actor) are limited to forcing resolution; every
	// player action must come from a seated actor.
	if action.ActorID != "" {
		if _, ok := state.Actors[action.ActorID]; !ok {
			return round.State{}, nil, apperrors.WithMetadata(
				apperrors.CodeRoundUnknownActor,
				"actor is not part of this round",
				map[string]string{"actor_id": string(action.ActorID)},
			)
		}
	} else if action.Type != round.ActionFinishResolving {
		return round.State{}, nil, apperrors.New(
			apperrors.CodeRoundUnknownAction,
			"system may only finish resolving",
		)
	}

	next := state.Clone()
	effects, err := rules.Apply(&next, action)
	if err != nil {
		return round.State{}, nil, err
	}

	seq := int64(1)
	if state.LastAction != nil {
		seq = state.LastAction.Seq + 1
	}
	next.LastAction = &round.LastAction{
		Type:      action.Type,
		ActorID:   action.ActorID,
		Payload:   action.Payload,
		Seq:       seq,
		Timestamp: now().UTC(),
	}

	return next, effects, nil
}

// NewRound builds and deals a fresh state for the given game type. Turn
// order starts at the seat after the dealer.
func NewRound(roundID, gameType string, actors []round.ActorID, bots map[round.ActorID]bool, dealerIndex int, seed int64) (round.State, error) {
	rules, err := Lookup(gameType)
	if err != nil {
		return round.State{}, err
	}
	if len(actors) < 2 || len(actors) > 7 {
		return round.State{}, apperrors.New(
			apperrors.CodeRoundInvalidDeal,
			"a round needs between two and seven actors",
		)
	}
	if dealerIndex < 0 || dealerIndex >= len(actors) {
		dealerIndex = 0
	}

	// Rotate so the actor left of the dealer acts first.
	order := make([]round.ActorID, 0, len(actors))
	for i := 1; i <= len(actors); i++ {
		order = append(order, actors[(dealerIndex+i)%len(actors)])
	}

	state := round.State{
		RoundID:            roundID,
		GameType:           gameType,
		Seed:               seed,
		TurnOrder:          order,
		DealerIndex:        dealerIndex,
		CurrentTurnActorID: order[0],
		Actors:             make(map[round.ActorID]round.ActorState, len(actors)),
	}
	for _, id := range actors {
		state.Actors[id] = round.ActorState{IsBot: bots[id]}
	}

	if err := rules.Deal(&state); err != nil {
		return round.State{}, err
	}
	return state, nil
}
