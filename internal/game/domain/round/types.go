// Package round defines the authoritative per-round state shared by every
// rule set, the action envelope, and the terminal outcome record.
package round

import (
	"encoding/json"
	"time"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/card"
)

// ActorID identifies one participant (human or bot) within a round.
type ActorID string

// Phase is the coarse state machine position of a round.
type Phase string

const (
	PhaseFirstExchange    Phase = "first_exchange"
	PhaseActivePlay       Phase = "active_play"
	PhaseTerminalDeclared Phase = "terminal_declared"
	PhaseComplete         Phase = "complete"
)

// SubPhase refines Phase with the step the current actor is expected to take.
type SubPhase string

const (
	SubPhaseDraw      SubPhase = "draw"
	SubPhaseDiscard   SubPhase = "discard"
	SubPhaseResolving SubPhase = "resolving"
	SubPhaseScoring   SubPhase = "scoring"
	SubPhaseRoll      SubPhase = "roll"
	SubPhaseNone      SubPhase = ""
)

// ActionType enumerates the intents a participant can submit.
type ActionType string

const (
	ActionDraw            ActionType = "draw"
	ActionDiscard         ActionType = "discard"
	ActionDeclareTerminal ActionType = "declare_terminal"
	ActionLayOff          ActionType = "lay_off"
	ActionFinishResolving ActionType = "finish_resolving"
	ActionRoll            ActionType = "roll"
	ActionStay            ActionType = "stay"
	ActionFold            ActionType = "fold"
)

// Action is a stateless intent; legality is contextual. It is never stored
// except as the round's LastAction.
type Action struct {
	Type    ActionType      `json:"type"`
	ActorID ActorID         `json:"actor_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LastAction records the most recent accepted action for observability.
type LastAction struct {
	Type      ActionType      `json:"type"`
	ActorID   ActorID         `json:"actor_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
}

// Outcome is the immutable terminal result of a round.
type Outcome struct {
	WinnerIDs []ActorID       `json:"winner_ids,omitempty"`
	Deltas    map[ActorID]int `json:"deltas,omitempty"`
	Reason    string          `json:"reason"`
}

// ActorState holds one participant's private holdings and phase flags. It is
// owned exclusively by the turn engine; transport and UI layers treat it as
// read-only.
type ActorState struct {
	Hand []card.Card `json:"hand,omitempty"`

	// Dice-game holdings.
	Dice      []int `json:"dice,omitempty"`
	KeptTotal int   `json:"kept_total,omitempty"`
	RollsUsed int   `json:"rolls_used,omitempty"`

	// Frozen groupings after a terminal declaration.
	Melds    [][]card.Card `json:"melds,omitempty"`
	Deadwood []card.Card   `json:"deadwood,omitempty"`

	HasDeclaredTerminal bool `json:"has_declared_terminal,omitempty"`
	HasResolved         bool `json:"has_resolved,omitempty"`
	IsComplete          bool `json:"is_complete,omitempty"`
	IsBot               bool `json:"is_bot,omitempty"`

	// DrewFromDiscard tracks the card taken from the top of the discard pile
	// this turn; discarding it unchanged is illegal for exactly one action.
	DrewFromDiscard *card.Card `json:"drew_from_discard,omitempty"`

	// HeldCount is the public derived fact mirrored from the private hand.
	HeldCount int `json:"held_count"`
}

// Effect describes a side effect of an accepted action as pure data. The
// orchestrator translates effects into I/O (push broadcast, bot scheduling).
type EffectType string

const (
	EffectTurnAdvanced  EffectType = "turn_advanced"
	EffectPhaseChanged  EffectType = "phase_changed"
	EffectRoundEnded    EffectType = "round_ended"
	EffectLayOffApplied EffectType = "lay_off_applied"
)

type Effect struct {
	Type    EffectType `json:"type"`
	ActorID ActorID    `json:"actor_id,omitempty"`
}

// State is the authoritative snapshot of one round. A fresh State is created
// per round; it is mutated only through engine-validated transitions and is
// immutable once Phase is PhaseComplete.
type State struct {
	RoundID  string `json:"round_id"`
	GameType string `json:"game_type"`
	Seed     int64  `json:"seed"`

	Phase    Phase    `json:"phase"`
	SubPhase SubPhase `json:"sub_phase"`

	TurnOrder          []ActorID              `json:"turn_order"`
	CurrentTurnActorID ActorID                `json:"current_turn_actor_id"`
	DealerIndex        int                    `json:"dealer_index"`
	Actors             map[ActorID]ActorState `json:"actors"`

	Stock       []card.Card `json:"stock,omitempty"`
	DiscardPile []card.Card `json:"discard_pile,omitempty"`

	// StockCount mirrors len(Stock) in redacted views, where the face-down
	// stock itself is withheld.
	StockCount int `json:"stock_count,omitempty"`

	// FirstExchangePasses counts consecutive passes on the opening upcard.
	FirstExchangePasses int `json:"first_exchange_passes,omitempty"`

	LastAction     *LastAction `json:"last_action,omitempty"`
	TerminalResult *Outcome    `json:"terminal_result,omitempty"`

	// Revision is assigned by the record store on every accepted write and
	// strictly increases for the lifetime of the round.
	Revision int64 `json:"revision"`
}
