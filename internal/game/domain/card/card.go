// Package card provides playing-card primitives shared by the rule sets.
package card

import "fmt"

type Suit byte

const (
	SuitClubs Suit = iota
	SuitDiamonds
	SuitHearts
	SuitSpades
)

type Rank byte

// Ace is low: rummy runs treat A-2-3 as consecutive and aces count one point.
const (
	RankAce Rank = iota + 1
	RankTwo
	RankThree
	RankFour
	RankFive
	RankSix
	RankSeven
	RankEight
	RankNine
	RankTen
	RankJack
	RankQueen
	RankKing
)

type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

var rankNames = map[Rank]string{
	RankAce: "A", RankTwo: "2", RankThree: "3", RankFour: "4", RankFive: "5",
	RankSix: "6", RankSeven: "7", RankEight: "8", RankNine: "9", RankTen: "T",
	RankJack: "J", RankQueen: "Q", RankKing: "K",
}

var suitNames = map[Suit]string{
	SuitClubs: "♣", SuitDiamonds: "♦", SuitHearts: "♥", SuitSpades: "♠",
}

func (c Card) String() string {
	r, ok1 := rankNames[c.Rank]
	s, ok2 := suitNames[c.Suit]
	if !ok1 || !ok2 {
		return "??"
	}
	return r + s
}

// PointValue is the deadwood value of the card: face cards ten, ace one,
// pip cards their rank.
func (c Card) PointValue() int {
	if c.Rank >= RankTen {
		return 10
	}
	return int(c.Rank)
}

// Valid reports whether the card is within the standard 52-card deck.
func (c Card) Valid() bool {
	return c.Rank >= RankAce && c.Rank <= RankKing && c.Suit <= SuitSpades
}

// Equal compares two cards by rank and suit.
func (c Card) Equal(other Card) bool {
	return c.Rank == other.Rank && c.Suit == other.Suit
}

// GoString aids test failure output.
func (c Card) GoString() string {
	return fmt.Sprintf("card.Card{%s}", c.String())
}
