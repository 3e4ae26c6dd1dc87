// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"

	"github.com/aurawallet/walletcore/coinselect"
	"github.com/aurawallet/walletcore/internal/btcunit"
	"github.com/aurawallet/walletcore/policy"
)

// EstimateSendFee computes the fee a payment from the account would pay
// at the given rate. Nothing is leased or persisted; the returned fee
// matches what BuildTransaction would finalize against the same output
// set.
func (w *Wallet) EstimateSendFee(ctx context.Context, name string,
	outputs []*wire.TxOut, feeRate btcunit.SatPerVByte) (btcutil.Amount,
	error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return 0, err
	}

	if len(outputs) == 0 {
		return 0, errors.New("no outputs to estimate")
	}
	for _, out := range outputs {
		if txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb) {
			return 0, fmt.Errorf("dust output: %d sats", out.Value)
		}
	}

	switch acct.desc.Kind() {
	case policy.KindMulti, policy.KindCSV, policy.KindCLTV:
		return w.estimateScriptSpend(ctx, acct, outputs, feeRate)
	default:
		return w.estimateKeySpend(ctx, acct, outputs, feeRate)
	}
}

// estimateKeySpend runs the authoring estimator over the account's
// spendable outputs. The estimator sizes single-key inputs from their
// previous output scripts, which covers every key-spend policy kind.
func (w *Wallet) estimateKeySpend(ctx context.Context, acct *account,
	outputs []*wire.TxOut, feeRate btcunit.SatPerVByte) (btcutil.Amount,
	error) {

	coins, err := w.spendableOutputs(ctx, acct)
	if err != nil {
		return 0, err
	}

	changeSize, err := changeScriptSize(acct.desc.Kind())
	if err != nil {
		return 0, err
	}

	changeIndex := acct.index.NextUnused(policy.BranchInternal)
	changeSource := &txauthor.ChangeSource{
		ScriptSize: changeSize,
		NewScript: func() ([]byte, error) {
			return acct.index.ScriptAt(
				policy.BranchInternal, changeIndex,
			)
		},
	}

	authored, err := txauthor.NewUnsignedTransaction(
		outputs, feeRate.ToSatPerKVByte().Amount(),
		makeInputSource(coins), changeSource,
	)
	if err != nil {
		var srcErr txauthor.InputSourceError
		if errors.As(err, &srcErr) {
			return 0, coinselect.ErrInsufficientFunds
		}
		return 0, err
	}

	var outputTotal btcutil.Amount
	for _, out := range authored.Tx.TxOut {
		outputTotal += btcutil.Amount(out.Value)
	}

	return authored.TotalInput - outputTotal, nil
}

// estimateScriptSpend dry-runs coin selection for witness-script
// policies, whose input weights the authoring estimator cannot size.
func (w *Wallet) estimateScriptSpend(ctx context.Context, acct *account,
	outputs []*wire.TxOut, feeRate btcunit.SatPerVByte) (btcutil.Amount,
	error) {

	coins, err := w.spendableOutputs(ctx, acct)
	if err != nil {
		return 0, err
	}

	var target btcutil.Amount
	for _, out := range outputs {
		target += btcutil.Amount(out.Value)
	}

	changeScript, err := acct.index.ScriptAt(
		policy.BranchInternal,
		acct.index.NextUnused(policy.BranchInternal),
	)
	if err != nil {
		return 0, err
	}

	res, err := coinselect.Select(&coinselect.Request{
		Target:           target,
		FeeRate:          feeRate,
		Coins:            coins,
		BaseVSize:        paymentBaseVSize(outputs),
		ChangeVSize:      acct.desc.OutputSize(),
		ChangeScriptSize: len(changeScript),
	})
	if err != nil {
		return 0, err
	}

	return res.Fee, nil
}

// spendableOutputs loads the account's unspent outputs minus anything
// currently leased by an in-flight build.
func (w *Wallet) spendableOutputs(ctx context.Context,
	acct *account) ([]coinselect.Coin, error) {

	snap, err := w.cfg.Store.Snapshot(ctx, acct.info.ID)
	if err != nil {
		return nil, err
	}

	leased, err := w.cfg.Store.LeasedOutPoints(ctx)
	if err != nil {
		return nil, err
	}

	inputVSize := acct.desc.InputVSize()

	coins := make([]coinselect.Coin, 0, len(snap.UTXOs))
	for _, utxo := range snap.UTXOs {
		if _, ok := leased[utxo.OutPoint]; ok {
			continue
		}

		coins = append(coins, coinselect.Coin{
			OutPoint:   utxo.OutPoint,
			Value:      utxo.Amount,
			Script:     utxo.Script,
			InputVSize: inputVSize,
		})
	}

	return coins, nil
}

// makeInputSource returns an input source yielding the coins in order
// until the requested target is covered.
func makeInputSource(coins []coinselect.Coin) txauthor.InputSource {
	var (
		total       btcutil.Amount
		inputs      []*wire.TxIn
		inputValues []btcutil.Amount
		scripts     [][]byte
	)

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for _, coin := range coins[len(inputs):] {
			if total >= target {
				break
			}

			op := coin.OutPoint
			inputs = append(inputs, wire.NewTxIn(&op, nil, nil))
			inputValues = append(inputValues, coin.Value)
			scripts = append(scripts, coin.Script)
			total += coin.Value
		}

		return total, inputs, inputValues, scripts, nil
	}
}

// changeScriptSize maps a key-spend policy kind to the serialized size
// of its change output script.
func changeScriptSize(kind policy.Kind) (int, error) {
	switch kind {
	case policy.KindP2PKH:
		return txsizes.P2PKHPkScriptSize, nil
	case policy.KindP2WPKH:
		return txsizes.P2WPKHPkScriptSize, nil
	case policy.KindNestedP2WPKH:
		return txsizes.NestedP2WPKHPkScriptSize, nil
	case policy.KindP2TR:
		return txsizes.P2TRPkScriptSize, nil
	default:
		return 0, fmt.Errorf("no script size for policy kind %v", kind)
	}
}

// paymentBaseVSize is the virtual size of a witness transaction
// skeleton carrying the given outputs and no inputs.
func paymentBaseVSize(outputs []*wire.TxOut) btcunit.VByte {
	size := int64(4 + 1 + 1 + 4)
	for _, out := range outputs {
		scriptLen := uint64(len(out.PkScript))
		size += 8 + int64(wire.VarIntSerializeSize(scriptLen)) +
			int64(scriptLen)
	}

	return btcunit.WeightUnit(size*4 + 2).ToVB()
}
