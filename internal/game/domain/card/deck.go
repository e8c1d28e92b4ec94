package card

import "math/rand"

// NewDeck returns the standard 52 cards in canonical order.
func NewDeck() []Card {
	deck := make([]Card, 0, 52)
	for suit := SuitClubs; suit <= SuitSpades; suit++ {
		for rank := RankAce; rank <= RankKing; rank++ {
			deck = append(deck, Card{Rank: rank, Suit: suit})
		}
	}
	return deck
}

// Shuffle returns a new deck shuffled deterministically from seed. Every
// client that replays the same seed deals the same round.
func Shuffle(seed int64) []Card {
	deck := NewDeck()
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// Remove returns hand without the first occurrence of target and whether the
// card was present.
func Remove(hand []Card, target Card) ([]Card, bool) {
	for i, c := range hand {
		if c.Equal(target) {
			out := make([]Card, 0, len(hand)-1)
			out = append(out, hand[:i]...)
			out = append(out, hand[i+1:]...)
			return out, true
		}
	}
	return hand, false
}

// Contains reports whether hand holds target.
func Contains(hand []Card, target Card) bool {
	for _, c := range hand {
		if c.Equal(target) {
			return true
		}
	}
	return false
}
