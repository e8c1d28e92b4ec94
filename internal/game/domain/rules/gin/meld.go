package gin

import (
	"sort"

	"github.com/jeremyhappach/rule-your-poker/internal/game/domain/card"
)

// IsValidMeld reports whether cards form a legal meld: a set of three or
// four equal ranks, or a run of three or more consecutive ranks in one suit.
func IsValidMeld(cards []card.Card) bool {
	if len(cards) < 3 {
		return false
	}
	if isSet(cards) {
		return len(cards) <= 4
	}
	return isRun(cards)
}

func isSet(cards []card.Card) bool {
	rank := cards[0].Rank
	seen := make(map[card.Suit]struct{}, len(cards))
	for _, c := range cards {
		if c.Rank != rank {
			return false
		}
		if _, dup := seen[c.Suit]; dup {
			return false
		}
		seen[c.Suit] = struct{}{}
	}
	return true
}

func isRun(cards []card.Card) bool {
	suit := cards[0].Suit
	ranks := make([]int, 0, len(cards))
	for _, c := range cards {
		if c.Suit != suit {
			return false
		}
		ranks = append(ranks, int(c.Rank))
	}
	sort.Ints(ranks)
	for i := 1; i < len(ranks); i++ {
		if ranks[i] != ranks[i-1]+1 {
			return false
		}
	}
	return true
}

// CanExtendMeld reports whether c validly extends an already-frozen meld:
// the matching rank for a set, or the rank adjacent to either end of a run.
func CanExtendMeld(meld []card.Card, c card.Card) bool {
	if len(meld) < 3 {
		return false
	}
	if isSet(meld) {
		return c.Rank == meld[0].Rank && len(meld) < 4 && !card.Contains(meld, c)
	}
	if meld[0].Suit != c.Suit {
		return false
	}
	low, high := meld[0].Rank, meld[0].Rank
	for _, m := range meld {
		if m.Rank < low {
			low = m.Rank
		}
		if m.Rank > high {
			high = m.Rank
		}
	}
	return (low > card.RankAce && c.Rank == low-1) || (high < card.RankKing && c.Rank == high+1)
}

// HandValue sums the deadwood point values of the given cards.
func HandValue(cards []card.Card) int {
	total := 0
	for _, c := range cards {
		total += c.PointValue()
	}
	return total
}

// MinDeadwood computes the optimal meld decomposition of a hand: the lowest
// achievable deadwood value and one grouping that achieves it. Hands are at
// most eleven cards, so an exhaustive bitmask search with memoization is
// exact and fast.
func MinDeadwood(hand []card.Card) (int, [][]card.Card) {
	n := len(hand)
	if n == 0 {
		return 0, nil
	}

	melds := candidateMelds(hand)
	memo := make(map[uint32]int)
	choice := make(map[uint32]uint32) // remaining mask -> meld mask taken (0 = lowest card is deadwood)

	var solve func(mask uint32) int
	solve = func(mask uint32) int {
		if mask == 0 {
			return 0
		}
		if v, ok := memo[mask]; ok {
			return v
		}

		lowest := lowestBit(mask)
		// Option 1: the lowest remaining card stays deadwood.
		best := hand[bitIndex(lowest)].PointValue() + solve(mask &^ lowest)
		var bestMeld uint32

		// Option 2: meld it away with any candidate that fits.
		for _, meldMask := range melds {
			if meldMask&lowest == 0 || meldMask&mask != meldMask {
				continue
			}
			if v := solve(mask &^ meldMask); v < best {
				best = v
				bestMeld = meldMask
			}
		}

		memo[mask] = best
		choice[mask] = bestMeld
		return best
	}

	full := uint32(1)<<n - 1
	value := solve(full)

	var grouping [][]card.Card
	for mask := full; mask != 0; {
		meldMask := choice[mask]
		if meldMask == 0 {
			mask &^= lowestBit(mask)
			continue
		}
		var meld []card.Card
		for i := 0; i < n; i++ {
			if meldMask&(1<<i) != 0 {
				meld = append(meld, hand[i])
			}
		}
		grouping = append(grouping, meld)
		mask &^= meldMask
	}
	return value, grouping
}

// candidateMelds enumerates every valid set and run in the hand as bitmasks.
func candidateMelds(hand []card.Card) []uint32 {
	var out []uint32

	// Sets: group indices by rank, emit every 3- and 4-subset.
	byRank := make(map[card.Rank][]int)
	for i, c := range hand {
		byRank[c.Rank] = append(byRank[c.Rank], i)
	}
	for _, idxs := range byRank {
		if len(idxs) < 3 {
			continue
		}
		out = append(out, subsetMasks(idxs, 3)...)
		if len(idxs) >= 4 {
			out = append(out, subsetMasks(idxs, 4)...)
		}
	}

	// Runs: per suit, walk consecutive rank chains and emit every window >= 3.
	bySuit := make(map[card.Suit][]int)
	for i, c := range hand {
		bySuit[c.Suit] = append(bySuit[c.Suit], i)
	}
	for _, idxs := range bySuit {
		sort.Slice(idxs, func(a, b int) bool { return hand[idxs[a]].Rank < hand[idxs[b]].Rank })
		for start := 0; start < len(idxs); start++ {
			mask := uint32(1) << idxs[start]
			prev := hand[idxs[start]].Rank
			length := 1
			for next := start + 1; next < len(idxs); next++ {
				r := hand[idxs[next]].Rank
				if r != prev+1 {
					break
				}
				mask |= 1 << idxs[next]
				prev = r
				length++
				if length >= 3 {
					out = append(out, mask)
				}
			}
		}
	}

	return out
}

func subsetMasks(idxs []int, size int) []uint32 {
	var out []uint32
	var build func(start int, mask uint32, picked int)
	build = func(start int, mask uint32, picked int) {
		if picked == size {
			out = append(out, mask)
			return
		}
		for i := start; i < len(idxs); i++ {
			build(i+1, mask|uint32(1)<<idxs[i], picked+1)
		}
	}
	build(0, 0, 0)
	return out
}

func lowestBit(mask uint32) uint32 {
	return mask & (-mask)
}

func bitIndex(bit uint32) int {
	idx := 0
	for bit > 1 {
		bit >>= 1
		idx++
	}
	return idx
}
