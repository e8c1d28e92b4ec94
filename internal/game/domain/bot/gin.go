package bot

import (
	"encoding/json"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/card"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/rules/gin"
)

// ginPolicy plays a deadwood-minimizing game: take the upcard only when it
// provably lowers the hand's minimum deadwood, knock once deadwood reaches
// knockAt, and lay off everything that fits.
type ginPolicy struct {
	// evaluateUpcard gates the deadwood comparison before drawing. Easy
	// bots skip it and always take the stock.
	evaluateUpcard bool
	// knockAt is the highest deadwood the bot declares on. Hard bots set
	// it to zero and only go out on gin.
	knockAt int
}

func newGinPolicy(difficulty Difficulty) Policy {
	switch difficulty {
	case DifficultyEasy:
		return ginPolicy{knockAt: gin.KnockThreshold}
	case DifficultyHard:
		return ginPolicy{evaluateUpcard: true}
	default:
		return ginPolicy{evaluateUpcard: true, knockAt: gin.KnockThreshold}
	}
}

func (ginPolicy) GameType() string { return gin.GameType }

func (p ginPolicy) Decide(s round.State, actorID round.ActorID) (round.Action, error) {
	if err := requireTurn(s, actorID); err != nil {
		return round.Action{}, err
	}
	actor := s.Actors[actorID]

	switch {
	case s.Phase == round.PhaseFirstExchange:
		return p.decideUpcard(s, actorID, actor, true)
	case s.Phase == round.PhaseActivePlay && s.SubPhase == round.SubPhaseDraw:
		return p.decideUpcard(s, actorID, actor, false)
	case s.Phase == round.PhaseActivePlay && s.SubPhase == round.SubPhaseDiscard:
		return p.decideDiscard(actorID, actor)
	case s.Phase == round.PhaseTerminalDeclared && s.SubPhase == round.SubPhaseResolving:
		return p.decideLayOff(s, actorID, actor)
	}
	return round.Action{}, apperrors.WithMetadata(
		apperrors.CodeWrongPhase,
		"no bot move for this phase",
		map[string]string{"phase": string(s.Phase), "sub_phase": string(s.SubPhase)},
	)
}

// decideUpcard compares the hand's minimum deadwood with and without the
// upcard. During the first exchange a bot that gains nothing passes; in
// regular play it draws from the stock instead.
func (p ginPolicy) decideUpcard(s round.State, actorID round.ActorID, actor round.ActorState, firstExchange bool) (round.Action, error) {
	takeUpcard := false
	if p.evaluateUpcard && len(s.DiscardPile) > 0 {
		upcard := s.DiscardPile[len(s.DiscardPile)-1]
		current, _ := gin.MinDeadwood(actor.Hand)
		withUpcard, _ := bestDiscardValue(append(append([]card.Card(nil), actor.Hand...), upcard), &upcard)
		takeUpcard = withUpcard < current
	}

	if takeUpcard {
		return marshalAction(round.ActionDraw, actorID, gin.DrawPayload{Source: gin.DrawFromDiscard})
	}
	if firstExchange {
		return round.Action{Type: round.ActionStay, ActorID: actorID}, nil
	}
	return marshalAction(round.ActionDraw, actorID, gin.DrawPayload{Source: gin.DrawFromStock})
}

// decideDiscard holds eleven cards: find the discard that minimizes
// deadwood, knock when it clears the threshold, otherwise just discard.
func (p ginPolicy) decideDiscard(actorID round.ActorID, actor round.ActorState) (round.Action, error) {
	best, bestCard, grouping := bestDiscard(actor.Hand, actor.DrewFromDiscard)
	if bestCard == nil {
		return round.Action{}, apperrors.New(apperrors.CodeIllegalTarget, "no legal discard available")
	}

	if best <= p.knockAt {
		return marshalAction(round.ActionDeclareTerminal, actorID, gin.KnockPayload{
			Discard: *bestCard,
			Melds:   grouping,
		})
	}
	return marshalAction(round.ActionDiscard, actorID, gin.DiscardPayload{Card: *bestCard})
}

// decideLayOff greedily attaches held cards to the declarer's frozen melds.
// Plays are ordered, so extending a run twice works.
func (ginPolicy) decideLayOff(s round.State, actorID round.ActorID, actor round.ActorState) (round.Action, error) {
	var declarer round.ActorState
	for _, id := range s.TurnOrder {
		if a := s.Actors[id]; a.HasDeclaredTerminal {
			declarer = a
			break
		}
	}

	melds := make([][]card.Card, len(declarer.Melds))
	for i, meld := range declarer.Melds {
		melds[i] = append([]card.Card(nil), meld...)
	}
	hand := append([]card.Card(nil), actor.Hand...)

	var plays []gin.LayOffPlay
	for changed := true; changed; {
		changed = false
		for _, c := range hand {
			for i := range melds {
				if !gin.CanExtendMeld(melds[i], c) {
					continue
				}
				plays = append(plays, gin.LayOffPlay{Card: c, MeldIndex: i})
				melds[i] = append(melds[i], c)
				hand, _ = card.Remove(hand, c)
				changed = true
				break
			}
			if changed {
				break
			}
		}
	}

	if len(plays) == 0 {
		return round.Action{Type: round.ActionFinishResolving, ActorID: actorID}, nil
	}
	return marshalAction(round.ActionLayOff, actorID, gin.LayOffPayload{Plays: plays})
}

// bestDiscard tries every legal discard from an eleven-card hand and
// returns the lowest reachable deadwood, the discard achieving it, and the
// meld grouping for a knock declaration. forbidden is the card that may not
// be thrown back this turn.
func bestDiscard(hand []card.Card, forbidden *card.Card) (int, *card.Card, [][]card.Card) {
	best := -1
	var bestCard *card.Card
	var bestGrouping [][]card.Card
	for i, candidate := range hand {
		if forbidden != nil && forbidden.Equal(candidate) {
			continue
		}
		remaining := make([]card.Card, 0, len(hand)-1)
		remaining = append(remaining, hand[:i]...)
		remaining = append(remaining, hand[i+1:]...)
		value, grouping := gin.MinDeadwood(remaining)
		if best < 0 || value < best {
			c := candidate
			best, bestCard, bestGrouping = value, &c, grouping
		}
	}
	return best, bestCard, bestGrouping
}

func bestDiscardValue(hand []card.Card, forbidden *card.Card) (int, *card.Card) {
	value, c, _ := bestDiscard(hand, forbidden)
	return value, c
}

func marshalAction(actionType round.ActionType, actorID round.ActorID, payload any) (round.Action, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return round.Action{}, apperrors.Wrap(apperrors.CodeIllegalTarget, "marshal bot payload", err)
	}
	return round.Action{Type: actionType, ActorID: actorID, Payload: data}, nil
}
