// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinselect chooses unspent outputs to fund a payment. The
// primary algorithm is a branch-and-bound search for a changeless input
// set; when the search exhausts its iteration budget without a solution
// it falls back to a greedy largest-first accumulation with a change
// output.
package coinselect

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/aurawallet/walletcore/internal/btcunit"
)

var (
	// ErrInsufficientFunds is returned when the eligible outputs
	// cannot cover the target plus the required fee. The wrapping
	// message carries the shortfall.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// DefaultIterationBudget bounds the branch-and-bound search.
const DefaultIterationBudget = 100_000

// Coin is one eligible unspent output.
type Coin struct {
	// OutPoint identifies the output.
	OutPoint wire.OutPoint

	// Value is the output value.
	Value btcutil.Amount

	// Script is the output script.
	Script []byte

	// InputVSize is the virtual size spending this output adds to the
	// transaction, sized by the owning policy.
	InputVSize btcunit.VByte
}

// effectiveValue is the coin's value minus the fee its input costs at
// the given rate.
func (c *Coin) effectiveValue(rate btcunit.SatPerVByte) btcutil.Amount {
	return c.Value - rate.FeeForVSize(c.InputVSize)
}

// Request describes one selection run.
type Request struct {
	// Target is the sum the recipient outputs need.
	Target btcutil.Amount

	// FeeRate is the fee rate the transaction pays.
	FeeRate btcunit.SatPerVByte

	// Coins are the eligible unspent outputs.
	Coins []Coin

	// Exclude removes outputs from consideration, typically the
	// currently leased set.
	Exclude map[wire.OutPoint]struct{}

	// BaseVSize is the virtual size of the transaction without any
	// input and without a change output: overhead plus the recipient
	// outputs.
	BaseVSize btcunit.VByte

	// ChangeVSize is the virtual size a change output would add.
	ChangeVSize btcunit.VByte

	// ChangeScriptSize is the size of the change output script, used
	// for the dust decision.
	ChangeScriptSize int

	// IterationBudget caps the branch-and-bound search, zero for the
	// default.
	IterationBudget int
}

// Result is a successful selection.
type Result struct {
	// Coins are the chosen inputs.
	Coins []Coin

	// Fee is the fee the transaction pays with the chosen inputs,
	// including any dust or excess folded into it.
	Fee btcutil.Amount

	// Change is the change output value, zero when no change output
	// should be created.
	Change btcutil.Amount
}

// Select picks a set of coins covering the request's target plus fee.
// The returned set always satisfies sum(values) >= target + fee.
func Select(req *Request) (*Result, error) {
	rate := req.FeeRate

	// Filter excluded outputs and inputs that cost more in fees than
	// they contribute.
	eligible := make([]Coin, 0, len(req.Coins))
	for _, coin := range req.Coins {
		if _, ok := req.Exclude[coin.OutPoint]; ok {
			continue
		}
		if coin.effectiveValue(rate) <= 0 {
			continue
		}

		eligible = append(eligible, coin)
	}

	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: no eligible outputs",
			ErrInsufficientFunds)
	}

	// Sort by descending effective value. Both the search and the
	// greedy fallback want large coins first.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].effectiveValue(rate) >
			eligible[j].effectiveValue(rate)
	})

	baseFee := rate.FeeForVSize(req.BaseVSize)
	changeFee := rate.FeeForVSize(req.ChangeVSize)

	budget := req.IterationBudget
	if budget == 0 {
		budget = DefaultIterationBudget
	}

	// A changeless solution may overpay by at most the cost of the
	// change output it avoids creating.
	chosen := branchAndBound(
		eligible, rate, req.Target+baseFee, changeFee, budget,
	)
	if chosen != nil {
		var total, inputFees btcutil.Amount
		for _, coin := range chosen {
			total += coin.Value
			inputFees += rate.FeeForVSize(coin.InputVSize)
		}

		log.Debugf("Changeless selection of %d inputs, excess %v "+
			"to fee", len(chosen), total-inputFees-baseFee-
			req.Target)

		return &Result{
			Coins: chosen,
			// The excess over target goes to fee.
			Fee:    total - req.Target,
			Change: 0,
		}, nil
	}

	return greedySelect(eligible, req, baseFee, changeFee)
}

// greedySelect accumulates the largest effective values until the target
// plus fees is covered, then decides on a change output.
func greedySelect(eligible []Coin, req *Request, baseFee,
	changeFee btcutil.Amount) (*Result, error) {

	rate := req.FeeRate

	var (
		total     btcutil.Amount
		inputFees btcutil.Amount
		chosen    []Coin
	)

	needNoChange := req.Target + baseFee
	for _, coin := range eligible {
		chosen = append(chosen, coin)
		total += coin.Value
		inputFees += rate.FeeForVSize(coin.InputVSize)

		if total >= needNoChange+inputFees {
			break
		}
	}

	if total < needNoChange+inputFees {
		return nil, fmt.Errorf("%w: need %v, have %v eligible",
			ErrInsufficientFunds, needNoChange+inputFees, total)
	}

	overshoot := total - req.Target - baseFee - inputFees

	// If the overshoot cannot pay for the change output, or the change
	// would be dust, fold it into the fee.
	change := btcutil.Amount(0)
	if overshoot > changeFee {
		candidate := overshoot - changeFee

		dust := txrules.IsDustAmount(
			candidate, req.ChangeScriptSize,
			txrules.DefaultRelayFeePerKb,
		)
		if !dust {
			change = candidate
		}
	}

	return &Result{
		Coins:  chosen,
		Fee:    total - req.Target - change,
		Change: change,
	}, nil
}
