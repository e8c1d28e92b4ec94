package round

import (
	"encoding/json"
	"fmt"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/card"
)

// Clone returns a deep copy of the state. Engines mutate the clone so a
// rejected action leaves the caller's state untouched.
func (s State) Clone() State {
	out := s

	out.TurnOrder = append([]ActorID(nil), s.TurnOrder...)
	out.Stock = append([]card.Card(nil), s.Stock...)
	out.DiscardPile = append([]card.Card(nil), s.DiscardPile...)

	out.Actors = make(map[ActorID]ActorState, len(s.Actors))
	for id, actor := range s.Actors {
		out.Actors[id] = actor.clone()
	}

	if s.LastAction != nil {
		la := *s.LastAction
		la.Payload = append(json.RawMessage(nil), s.LastAction.Payload...)
		out.LastAction = &la
	}
	if s.TerminalResult != nil {
		outcome := Outcome{
			WinnerIDs: append([]ActorID(nil), s.TerminalResult.WinnerIDs...),
			Reason:    s.TerminalResult.Reason,
		}
		if s.TerminalResult.Deltas != nil {
			outcome.Deltas = make(map[ActorID]int, len(s.TerminalResult.Deltas))
			for id, delta := range s.TerminalResult.Deltas {
				outcome.Deltas[id] = delta
			}
		}
		out.TerminalResult = &outcome
	}
	return out
}

func (a ActorState) clone() ActorState {
	out := a
	out.Hand = append([]card.Card(nil), a.Hand...)
	out.Dice = append([]int(nil), a.Dice...)
	out.Deadwood = append([]card.Card(nil), a.Deadwood...)
	if a.Melds != nil {
		out.Melds = make([][]card.Card, len(a.Melds))
		for i, meld := range a.Melds {
			out.Melds[i] = append([]card.Card(nil), meld...)
		}
	}
	if a.DrewFromDiscard != nil {
		c := *a.DrewFromDiscard
		out.DrewFromDiscard = &c
	}
	return out
}

// NextActor returns the actor after current in turn order, skipping actors
// that completed the round. Returns "" when nobody remains.
func (s State) NextActor(current ActorID) ActorID {
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
		actor, ok := s.Actors[candidate]
		if !ok || actor.IsComplete {
			continue
		}
		return candidate
	}
	return ""
}

// ActiveActorCount counts actors still participating in the round.
func (s State) ActiveActorCount() int {
	active := 0
	for _, actor := range s.Actors {
		if !actor.IsComplete {
			active++
		}
	}
	return active
}

// Terminal reports whether the round reached its immutable final phase.
func (s State) Terminal() bool {
	return s.Phase == PhaseComplete
}

// Marshal serializes the state to its canonical JSON document.
func (s State) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal round state: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a canonical JSON document into a State.
func Unmarshal(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal round state: %w", err)
	}
	return s, nil
}

// RedactFor returns a view of the state safe to send to viewer before
// showdown: other actors' private holdings, the deal seed, and the
// face-down stock are dropped and only derived public facts remain.
// Terminal states are never redacted.
func (s State) RedactFor(viewer ActorID) State {
	out := s.Clone()
	if out.Terminal() {
		return out
	}
	// The seed and the face-down stock reconstruct the whole deal; only the
	// stock's size is public.
	out.Seed = 0
	out.StockCount = len(out.Stock)
	out.Stock = nil
	for id, actor := range out.Actors {
		if id == viewer {
			continue
		}
		actor.HeldCount = len(actor.Hand)
		actor.Hand = nil
		actor.Dice = nil
		if !actor.HasDeclaredTerminal {
			actor.Melds = nil
			actor.Deadwood = nil
		}
		actor.DrewFromDiscard = nil
		out.Actors[id] = actor
	}
	return out
}
