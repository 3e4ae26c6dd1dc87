// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"github.com/btcsuite/btcd/btcutil"

	"github.com/aurawallet/walletcore/internal/btcunit"
)

// branchAndBound searches for a subset of coins whose summed effective
// value lands in [lower, lower+window]: enough to pay the target and all
// fees, overshooting by no more than the cost of the change output the
// changeless solution avoids. Coins must be sorted by descending
// effective value. Returns nil when no subset exists or the iteration
// budget runs out first.
func branchAndBound(coins []Coin, rate btcunit.SatPerVByte,
	lower, window btcutil.Amount, budget int) []Coin {

	s := &bnbSearch{
		coins:   coins,
		effs:    make([]btcutil.Amount, len(coins)),
		suffix:  make([]btcutil.Amount, len(coins)+1),
		lower:   lower,
		upper:   lower + window,
		budget:  budget,
		bestSum: -1,
	}

	for i, coin := range coins {
		s.effs[i] = coin.effectiveValue(rate)
	}

	// suffix[i] is the total effective value still reachable from
	// depth i, used to prune branches that cannot reach the lower
	// bound.
	for i := len(coins) - 1; i >= 0; i-- {
		s.suffix[i] = s.suffix[i+1] + s.effs[i]
	}

	if s.suffix[0] < lower {
		return nil
	}

	s.search(0, 0)

	if s.best == nil {
		return nil
	}

	chosen := make([]Coin, len(s.best))
	for i, idx := range s.best {
		chosen[i] = coins[idx]
	}

	return chosen
}

type bnbSearch struct {
	coins  []Coin
	effs   []btcutil.Amount
	suffix []btcutil.Amount

	lower btcutil.Amount
	upper btcutil.Amount

	iters  int
	budget int

	sel     []int
	best    []int
	bestSum btcutil.Amount
}

// search explores include/exclude branches for the coin at depth, with
// sum being the effective value selected so far.
func (s *bnbSearch) search(depth int, sum btcutil.Amount) {
	if s.iters >= s.budget {
		return
	}
	s.iters++

	// Overshot: nothing below can shrink the sum.
	if sum > s.upper {
		return
	}

	// Inside the window: keep the solution with the least excess and
	// stop descending, a superset can only overshoot further.
	if sum >= s.lower {
		if s.bestSum < 0 || sum < s.bestSum {
			s.bestSum = sum
			s.best = append(s.best[:0], s.sel...)
		}
		return
	}

	// The rest of the coins cannot reach the lower bound.
	if depth == len(s.coins) || sum+s.suffix[depth] < s.lower {
		return
	}

	// Include the coin at this depth.
	s.sel = append(s.sel, depth)
	s.search(depth+1, sum+s.effs[depth])
	s.sel = s.sel[:len(s.sel)-1]

	// Exclude it.
	s.search(depth+1, sum)
}
