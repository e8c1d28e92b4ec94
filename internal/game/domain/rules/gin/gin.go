// Package gin implements the Gin Rummy rule set: draw-and-discard play, the
// knock terminal declaration, lay-offs, and scoring with gin and undercut
// bonuses.
package gin

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/jeremyhappach/rule-your-poker/internal/platform/errors"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/card"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/engine"
	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/round"
)

const (
	// GameType is the registry name of this rule set.
	GameType = "gin"

	// KnockThreshold is the maximum deadwood value allowed to declare.
	KnockThreshold = 10

	// GinBonus rewards a declarer whose deadwood is zero.
	GinBonus = 25

	// UndercutBonus rewards an opponent who matches or beats the declarer's
	// deadwood after lay-offs.
	UndercutBonus = 25

	// ReasonVoid is the outcome reason when the stock runs out.
	ReasonVoid = "void — stock exhausted"
)

// DrawSource selects where a draw action takes its card from.
type DrawSource string

const (
	DrawFromStock   DrawSource = "stock"
	DrawFromDiscard DrawSource = "discard"
)

// DrawPayload is the payload of a draw action.
type DrawPayload struct {
	Source DrawSource `json:"source"`
}

// DiscardPayload is the payload of a discard action.
type DiscardPayload struct {
	Card card.Card `json:"card"`
}

// KnockPayload declares the terminal move: the final discard plus the
// declarer's frozen meld grouping.
type KnockPayload struct {
	Discard card.Card     `json:"discard"`
	Melds   [][]card.Card `json:"melds"`
}

// LayOffPlay attaches one held card to a frozen declarer meld by index.
type LayOffPlay struct {
	Card      card.Card `json:"card"`
	MeldIndex int       `json:"meld_index"`
}

// LayOffPayload is the payload of a lay_off action.
type LayOffPayload struct {
	Plays []LayOffPlay `json:"plays"`
}

func init() {
	engine.Register(Rules{})
}

// Rules is the Gin Rummy engine.RuleSet implementation.
type Rules struct{}

func (Rules) Name() string { return GameType }

// handSize returns cards dealt per actor: classic ten for heads-up, fewer
// as the table grows so the stock lasts.
func handSize(actors int) int {
	switch {
	case actors <= 2:
		return 10
	case actors <= 4:
		return 7
	default:
		return 6
	}
}

// Deal shuffles from the round seed, deals every actor, and flips the
// opening upcard. The round starts in the first-exchange phase where actors
// may claim the upcard or pass.
func (Rules) Deal(s *round.State) error {
	deck := card.Shuffle(s.Seed)
	per := handSize(len(s.TurnOrder))
	need := per*len(s.TurnOrder) + 1
	if need > len(deck) {
		return apperrors.New(apperrors.CodeRoundInvalidDeal, "not enough cards for this table")
	}

	next := 0
	for _, id := range s.TurnOrder {
		actor := s.Actors[id]
		actor.Hand = append([]card.Card(nil), deck[next:next+per]...)
		actor.HeldCount = per
		s.Actors[id] = actor
		next += per
	}
	s.DiscardPile = []card.Card{deck[next]}
	next++
	s.Stock = append([]card.Card(nil), deck[next:]...)

	s.Phase = round.PhaseFirstExchange
	s.SubPhase = round.SubPhaseDraw
	return nil
}

// Apply validates and applies one action. The state is a private clone.
func (Rules) Apply(s *round.State, action round.Action) ([]round.Effect, error) {
	switch action.Type {
	case round.ActionDraw:
		return applyDraw(s, action)
	case round.ActionDiscard:
		return applyDiscard(s, action)
	case round.ActionDeclareTerminal:
		return applyKnock(s, action)
	case round.ActionLayOff:
		return applyLayOff(s, action)
	case round.ActionFinishResolving:
		return applyFinishResolving(s, action)
	case round.ActionStay:
		return applyPass(s, action)
	default:
		return nil, apperrors.WithMetadata(
			apperrors.CodeRoundUnknownAction,
			"action is not part of gin rummy",
			map[string]string{"action": string(action.Type)},
		)
	}
}

func requireTurn(s *round.State, actorID round.ActorID) error {
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
	return nil
}

func wrongPhase(s *round.State, want string) error {
	return apperrors.WithMetadata(
		apperrors.CodeWrongPhase,
		fmt.Sprintf("action requires %s", want),
		map[string]string{
			"phase":     string(s.Phase),
			"sub_phase": string(s.SubPhase),
		},
	)
}

func applyDraw(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireTurn(s, action.ActorID); err != nil {
		return nil, err
	}

	var payload DrawPayload
	if len(action.Payload) > 0 {
		if err := json.Unmarshal(action.Payload, &payload); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeIllegalTarget, "malformed draw payload", err)
		}
	}
	if payload.Source == "" {
		payload.Source = DrawFromStock
	}

	switch s.Phase {
	case round.PhaseFirstExchange:
		// Only the upcard may be taken before regular play begins.
		if payload.Source != DrawFromDiscard {
			return nil, apperrors.New(
				apperrors.CodeIllegalTarget,
				"during the first exchange only the upcard may be drawn",
			)
		}
	case round.PhaseActivePlay:
		if s.SubPhase != round.SubPhaseDraw {
			return nil, wrongPhase(s, "the draw step")
		}
	default:
		return nil, wrongPhase(s, "the draw step")
	}

	actor := s.Actors[action.ActorID]
	var drawn card.Card
	switch payload.Source {
	case DrawFromStock:
		if len(s.Stock) == 0 {
			return nil, apperrors.New(apperrors.CodeIllegalTarget, "stock is empty")
		}
		drawn = s.Stock[0]
		s.Stock = s.Stock[1:]
		actor.DrewFromDiscard = nil
	case DrawFromDiscard:
		if len(s.DiscardPile) == 0 {
			return nil, apperrors.New(apperrors.CodeIllegalTarget, "discard pile is empty")
		}
		top := s.DiscardPile[len(s.DiscardPile)-1]
		s.DiscardPile = s.DiscardPile[:len(s.DiscardPile)-1]
		drawn = top
		taken := top
		actor.DrewFromDiscard = &taken
	default:
		return nil, apperrors.WithMetadata(
			apperrors.CodeIllegalTarget,
			"unknown draw source",
			map[string]string{"source": string(payload.Source)},
		)
	}

	actor.Hand = append(actor.Hand, drawn)
	actor.HeldCount = len(actor.Hand)
	s.Actors[action.ActorID] = actor

	effects := []round.Effect{}
	if s.Phase == round.PhaseFirstExchange {
		s.Phase = round.PhaseActivePlay
		effects = append(effects, round.Effect{Type: round.EffectPhaseChanged})
	}
	s.SubPhase = round.SubPhaseDiscard
	return effects, nil
}

func applyDiscard(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireTurn(s, action.ActorID); err != nil {
		return nil, err
	}
	if s.Phase != round.PhaseActivePlay || s.SubPhase != round.SubPhaseDiscard {
		return nil, wrongPhase(s, "the discard step")
	}

	var payload DiscardPayload
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIllegalTarget, "malformed discard payload", err)
	}

	actor := s.Actors[action.ActorID]
	if actor.DrewFromDiscard != nil && actor.DrewFromDiscard.Equal(payload.Card) {
		return nil, apperrors.New(
			apperrors.CodeIllegalTarget,
			"cannot discard the card just taken from the pile",
		)
	}

	hand, ok := card.Remove(actor.Hand, payload.Card)
	if !ok {
		return nil, apperrors.WithMetadata(
			apperrors.CodeIllegalTarget,
			"card is not in hand",
			map[string]string{"card": payload.Card.String()},
		)
	}
	actor.Hand = hand
	actor.HeldCount = len(hand)
	actor.DrewFromDiscard = nil
	s.Actors[action.ActorID] = actor
	s.DiscardPile = append(s.DiscardPile, payload.Card)

	// The round is void once the stock can no longer sustain a full turn.
	if len(s.Stock) < 2 {
		return completeVoid(s), nil
	}

	s.CurrentTurnActorID = s.NextActor(action.ActorID)
	s.SubPhase = round.SubPhaseDraw
	return []round.Effect{{Type: round.EffectTurnAdvanced, ActorID: s.CurrentTurnActorID}}, nil
}

// applyPass handles the stay action during the first exchange: the actor
// declines the upcard. When every actor has passed, regular play begins.
func applyPass(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireTurn(s, action.ActorID); err != nil {
		return nil, err
	}
	if s.Phase != round.PhaseFirstExchange {
		return nil, wrongPhase(s, "the first exchange")
	}

	s.FirstExchangePasses++
	if s.FirstExchangePasses >= len(s.TurnOrder) {
		s.Phase = round.PhaseActivePlay
		s.SubPhase = round.SubPhaseDraw
		s.CurrentTurnActorID = s.TurnOrder[0]
		return []round.Effect{
			{Type: round.EffectPhaseChanged},
			{Type: round.EffectTurnAdvanced, ActorID: s.CurrentTurnActorID},
		}, nil
	}

	s.CurrentTurnActorID = s.NextActor(action.ActorID)
	return []round.Effect{{Type: round.EffectTurnAdvanced, ActorID: s.CurrentTurnActorID}}, nil
}

func applyKnock(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireTurn(s, action.ActorID); err != nil {
		return nil, err
	}
	if s.Phase != round.PhaseActivePlay || s.SubPhase != round.SubPhaseDiscard {
		return nil, wrongPhase(s, "the discard step")
	}

	var payload KnockPayload
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIllegalTarget, "malformed knock payload", err)
	}

	actor := s.Actors[action.ActorID]
	if actor.DrewFromDiscard != nil && actor.DrewFromDiscard.Equal(payload.Discard) {
		return nil, apperrors.New(
			apperrors.CodeIllegalTarget,
			"cannot discard the card just taken from the pile",
		)
	}

	remaining, ok := card.Remove(actor.Hand, payload.Discard)
	if !ok {
		return nil, apperrors.WithMetadata(
			apperrors.CodeIllegalTarget,
			"discard card is not in hand",
			map[string]string{"card": payload.Discard.String()},
		)
	}

	// Validate the declared grouping: every meld legal, every card held,
	// no card used twice.
	leftover := append([]card.Card(nil), remaining...)
	for _, meld := range payload.Melds {
		if !IsValidMeld(meld) {
			return nil, apperrors.New(apperrors.CodeIllegalTarget, "declared meld is not valid")
		}
		for _, c := range meld {
			next, held := card.Remove(leftover, c)
			if !held {
				return nil, apperrors.WithMetadata(
					apperrors.CodeIllegalTarget,
					"declared meld card is not in hand",
					map[string]string{"card": c.String()},
				)
			}
			leftover = next
		}
	}

	residual := HandValue(leftover)
	if residual > KnockThreshold {
		return nil, apperrors.WithMetadata(
			apperrors.CodeIllegalTarget,
			"deadwood exceeds the knock threshold",
			map[string]string{"deadwood": fmt.Sprintf("%d", residual)},
		)
	}

	actor.Hand = remaining
	actor.HeldCount = len(remaining)
	actor.DrewFromDiscard = nil
	actor.HasDeclaredTerminal = true
	actor.Melds = payload.Melds
	actor.Deadwood = leftover
	s.Actors[action.ActorID] = actor
	s.DiscardPile = append(s.DiscardPile, payload.Discard)

	s.Phase = round.PhaseTerminalDeclared
	effects := []round.Effect{{Type: round.EffectPhaseChanged}}

	// Nothing can be laid off against gin; score immediately.
	if residual == 0 {
		return append(effects, score(s)...), nil
	}

	s.SubPhase = round.SubPhaseResolving
	s.CurrentTurnActorID = nextResolver(s, action.ActorID)
	if s.CurrentTurnActorID == "" {
		return append(effects, score(s)...), nil
	}
	return append(effects, round.Effect{Type: round.EffectTurnAdvanced, ActorID: s.CurrentTurnActorID}), nil
}

func applyLayOff(s *round.State, action round.Action) ([]round.Effect, error) {
	if err := requireTurn(s, action.ActorID); err != nil {
		return nil, err
	}
	if s.Phase != round.PhaseTerminalDeclared || s.SubPhase != round.SubPhaseResolving {
		return nil, wrongPhase(s, "the resolving step")
	}

	declarerID, declarer := findDeclarer(s)
	if action.ActorID == declarerID {
		return nil, apperrors.New(apperrors.CodeIllegalTarget, "the declarer cannot lay off")
	}

	var payload LayOffPayload
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeIllegalTarget, "malformed lay-off payload", err)
	}

	actor := s.Actors[action.ActorID]
	hand := append([]card.Card(nil), actor.Hand...)
	melds := make([][]card.Card, len(declarer.Melds))
	for i, meld := range declarer.Melds {
		melds[i] = append([]card.Card(nil), meld...)
	}

	// Plays apply in order so a run can be extended twice in one action.
	for _, play := range payload.Plays {
		if play.MeldIndex < 0 || play.MeldIndex >= len(melds) {
			return nil, apperrors.New(apperrors.CodeIllegalTarget, "lay-off meld index out of range")
		}
		next, held := card.Remove(hand, play.Card)
		if !held {
			return nil, apperrors.WithMetadata(
				apperrors.CodeIllegalTarget,
				"lay-off card is not in hand",
				map[string]string{"card": play.Card.String()},
			)
		}
		if !CanExtendMeld(melds[play.MeldIndex], play.Card) {
			return nil, apperrors.WithMetadata(
				apperrors.CodeIllegalTarget,
				"card does not extend the target meld",
				map[string]string{"card": play.Card.String()},
			)
		}
		hand = next
		melds[play.MeldIndex] = append(melds[play.MeldIndex], play.Card)
	}

	actor.Hand = hand
	actor.HeldCount = len(hand)
	actor.HasResolved = true
	s.Actors[action.ActorID] = actor

	declarer.Melds = melds
	s.Actors[declarerID] = declarer

	effects := []round.Effect{{Type: round.EffectLayOffApplied, ActorID: action.ActorID}}
	s.CurrentTurnActorID = nextResolver(s, action.ActorID)
	if s.CurrentTurnActorID == "" {
		return append(effects, score(s)...), nil
	}
	return append(effects, round.Effect{Type: round.EffectTurnAdvanced, ActorID: s.CurrentTurnActorID}), nil
}

// applyFinishResolving handles both the current resolver passing and the
// orchestrator's time-boxed force: a system action (empty actor) scores the
// round immediately.
func applyFinishResolving(s *round.State, action round.Action) ([]round.Effect, error) {
	if s.Phase != round.PhaseTerminalDeclared || s.SubPhase != round.SubPhaseResolving {
		return nil, wrongPhase(s, "the resolving step")
	}

	if action.ActorID == "" {
		return score(s), nil
	}

	if err := requireTurn(s, action.ActorID); err != nil {
		return nil, err
	}
	actor := s.Actors[action.ActorID]
	actor.HasResolved = true
	s.Actors[action.ActorID] = actor

	s.CurrentTurnActorID = nextResolver(s, action.ActorID)
	if s.CurrentTurnActorID == "" {
		return score(s), nil
	}
	return []round.Effect{{Type: round.EffectTurnAdvanced, ActorID: s.CurrentTurnActorID}}, nil
}

// nextResolver returns the next non-declarer that has not had its lay-off
// opportunity, in turn order after current. Empty when resolution is done.
func nextResolver(s *round.State, current round.ActorID) round.ActorID {
	if len(s.TurnOrder) == 0 {
		return ""
	}
	start := 0
	for i, id := range s.TurnOrder {
		if id == current {
			start = i
			break
		}
	}
	for step := 1; step <= len(s.TurnOrder); step++ {
		candidate := s.TurnOrder[(start+step)%len(s.TurnOrder)]
		actor := s.Actors[candidate]
		if actor.HasDeclaredTerminal || actor.HasResolved || actor.IsComplete {
			continue
		}
		return candidate
	}
	return ""
}

func findDeclarer(s *round.State) (round.ActorID, round.ActorState) {
	for _, id := range s.TurnOrder {
		if actor := s.Actors[id]; actor.HasDeclaredTerminal {
			return id, actor
		}
	}
	return "", round.ActorState{}
}

func completeVoid(s *round.State) []round.Effect {
	s.Phase = round.PhaseComplete
	s.SubPhase = round.SubPhaseNone
	s.CurrentTurnActorID = ""
	s.TerminalResult = &round.Outcome{Reason: ReasonVoid}
	return []round.Effect{{Type: round.EffectRoundEnded}}
}

// score computes the outcome deterministically and completes the round.
//
// Precedence: gin beats everything; otherwise an opponent whose residual is
// at or below the declarer's wins with the undercut bonus (ties go against
// the declarer); otherwise the declarer collects the residual differences.
func score(s *round.State) []round.Effect {
	declarerID, declarer := findDeclarer(s)
	declarerResidual := HandValue(declarer.Deadwood)

	var opponents []opponentScore
	for _, id := range s.TurnOrder {
		if id == declarerID {
			continue
		}
		actor := s.Actors[id]
		residual, grouping := MinDeadwood(actor.Hand)
		actor.Melds = grouping
		actor.Deadwood = deadwoodOf(actor.Hand, grouping)
		s.Actors[id] = actor
		opponents = append(opponents, opponentScore{id: id, residual: residual})
	}

	outcome := &round.Outcome{Deltas: make(map[round.ActorID]int)}

	switch {
	case declarerResidual == 0:
		total := GinBonus
		for _, opp := range opponents {
			total += opp.residual
			outcome.Deltas[opp.id] = -opp.residual
		}
		outcome.WinnerIDs = []round.ActorID{declarerID}
		outcome.Deltas[declarerID] = total
		outcome.Reason = "gin"

	case hasUndercut(opponents, declarerResidual):
		best := opponents[0]
		for _, opp := range opponents[1:] {
			if opp.residual < best.residual {
				best = opp
			}
		}
		points := declarerResidual - best.residual + UndercutBonus
		outcome.WinnerIDs = []round.ActorID{best.id}
		outcome.Deltas[best.id] = points
		outcome.Deltas[declarerID] = -(declarerResidual - best.residual)
		outcome.Reason = "undercut"

	default:
		total := 0
		for _, opp := range opponents {
			diff := opp.residual - declarerResidual
			total += diff
			outcome.Deltas[opp.id] = -diff
		}
		outcome.WinnerIDs = []round.ActorID{declarerID}
		outcome.Deltas[declarerID] = total
		outcome.Reason = "knock"
	}

	s.Phase = round.PhaseComplete
	s.SubPhase = round.SubPhaseNone
	s.CurrentTurnActorID = ""
	s.TerminalResult = outcome
	return []round.Effect{{Type: round.EffectRoundEnded}}
}

type opponentScore struct {
	id       round.ActorID
	residual int
}

func hasUndercut(opponents []opponentScore, declarerResidual int) bool {
	for _, opp := range opponents {
		if opp.residual <= declarerResidual {
			return true
		}
	}
	return false
}

func deadwoodOf(hand []card.Card, melds [][]card.Card) []card.Card {
	leftover := append([]card.Card(nil), hand...)
	for _, meld := range melds {
		for _, c := range meld {
			leftover, _ = card.Remove(leftover, c)
		}
	}
	return leftover
}
