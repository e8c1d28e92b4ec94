package gin

import (
	"testing"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/card"
)

func c(rank card.Rank, suit card.Suit) card.Card {
	return card.Card{Rank: rank, Suit: suit}
}

func TestIsValidMeld(t *testing.T) {
	tests := []struct {
		name  string
		cards []card.Card
		want  bool
	}{
		{
			name:  "set of three",
			cards: []card.Card{c(card.RankSeven, card.SuitClubs), c(card.RankSeven, card.SuitHearts), c(card.RankSeven, card.SuitSpades)},
			want:  true,
		},
		{
			name:  "set of four",
			cards: []card.Card{c(card.RankSeven, card.SuitClubs), c(card.RankSeven, card.SuitHearts), c(card.RankSeven, card.SuitSpades), c(card.RankSeven, card.SuitDiamonds)},
			want:  true,
		},
		{
			name:  "run of three",
			cards: []card.Card{c(card.RankFour, card.SuitSpades), c(card.RankFive, card.SuitSpades), c(card.RankSix, card.SuitSpades)},
			want:  true,
		},
		{
			name:  "ace-low run",
			cards: []card.Card{c(card.RankAce, card.SuitHearts), c(card.RankTwo, card.SuitHearts), c(card.RankThree, card.SuitHearts)},
			want:  true,
		},
		{
			name:  "run out of order still valid",
			cards: []card.Card{c(card.RankSix, card.SuitSpades), c(card.RankFour, card.SuitSpades), c(card.RankFive, card.SuitSpades)},
			want:  true,
		},
		{
			name:  "too short",
			cards: []card.Card{c(card.RankFour, card.SuitSpades), c(card.RankFive, card.SuitSpades)},
			want:  false,
		},
		{
			name:  "gap in run",
			cards: []card.Card{c(card.RankFour, card.SuitSpades), c(card.RankFive, card.SuitSpades), c(card.RankSeven, card.SuitSpades)},
			want:  false,
		},
		{
			name:  "mixed suits not a run",
			cards: []card.Card{c(card.RankFour, card.SuitSpades), c(card.RankFive, card.SuitHearts), c(card.RankSix, card.SuitSpades)},
			want:  false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidMeld(tc.cards); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCanExtendMeld(t *testing.T) {
	set := []card.Card{c(card.RankSeven, card.SuitClubs), c(card.RankSeven, card.SuitHearts), c(card.RankSeven, card.SuitSpades)}
	run := []card.Card{c(card.RankFour, card.SuitSpades), c(card.RankFive, card.SuitSpades), c(card.RankSix, card.SuitSpades)}

	if !CanExtendMeld(set, c(card.RankSeven, card.SuitDiamonds)) {
		t.Fatal("fourth suit should extend the set")
	}
	if CanExtendMeld(set, c(card.RankEight, card.SuitDiamonds)) {
		t.Fatal("different rank cannot extend a set")
	}
	if !CanExtendMeld(run, c(card.RankThree, card.SuitSpades)) {
		t.Fatal("low end should extend the run")
	}
	if !CanExtendMeld(run, c(card.RankSeven, card.SuitSpades)) {
		t.Fatal("high end should extend the run")
	}
	if CanExtendMeld(run, c(card.RankSeven, card.SuitHearts)) {
		t.Fatal("wrong suit cannot extend a run")
	}
	if CanExtendMeld(run, c(card.RankEight, card.SuitSpades)) {
		t.Fatal("non-adjacent rank cannot extend a run")
	}
}

func TestMinDeadwoodFullyMelded(t *testing.T) {
	hand := []card.Card{
		c(card.RankAce, card.SuitSpades), c(card.RankTwo, card.SuitSpades), c(card.RankThree, card.SuitSpades),
		c(card.RankSeven, card.SuitClubs), c(card.RankSeven, card.SuitHearts), c(card.RankSeven, card.SuitDiamonds),
		c(card.RankNine, card.SuitClubs), c(card.RankTen, card.SuitClubs), c(card.RankJack, card.SuitClubs), c(card.RankQueen, card.SuitClubs),
	}
	value, grouping := MinDeadwood(hand)
	if value != 0 {
		t.Fatalf("expected zero deadwood, got %d", value)
	}
	if len(grouping) != 3 {
		t.Fatalf("expected three melds, got %d", len(grouping))
	}
}

func TestMinDeadwoodLeftover(t *testing.T) {
	hand := []card.Card{
		c(card.RankAce, card.SuitSpades), c(card.RankTwo, card.SuitSpades), c(card.RankThree, card.SuitSpades),
		c(card.RankSeven, card.SuitClubs), c(card.RankSeven, card.SuitHearts), c(card.RankSeven, card.SuitDiamonds),
		c(card.RankFour, card.SuitHearts), c(card.RankKing, card.SuitDiamonds),
	}
	value, _ := MinDeadwood(hand)
	if value != 14 {
		t.Fatalf("expected deadwood 14 (4 + K), got %d", value)
	}
}

func TestMinDeadwoodPicksBestOverlap(t *testing.T) {
	// 5♠ can join the run 4♠5♠6♠ or the set 5♠5♥5♦; only one choice melds
	// everything except the king.
	hand := []card.Card{
		c(card.RankFour, card.SuitSpades), c(card.RankFive, card.SuitSpades), c(card.RankSix, card.SuitSpades),
		c(card.RankFive, card.SuitHearts), c(card.RankFive, card.SuitDiamonds), c(card.RankFive, card.SuitClubs),
		c(card.RankKing, card.SuitClubs),
	}
	value, _ := MinDeadwood(hand)
	if value != 10 {
		t.Fatalf("expected deadwood 10 (king only), got %d", value)
	}
}

func TestMinDeadwoodEmptyHand(t *testing.T) {
	value, grouping := MinDeadwood(nil)
	if value != 0 || grouping != nil {
		t.Fatalf("expected zero for empty hand, got %d", value)
	}
}
