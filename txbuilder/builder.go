// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txbuilder assembles, funds and signs transactions against a
// single account's spending policy. A build moves through an explicit
// state machine: Draft when created, FeeFinalized once inputs are
// selected and leased with the fee computed from the final weight,
// PartiallySigned while signatures are collected, and Signed or Aborted
// as terminal states. Completion never broadcasts.
package txbuilder

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"

	"github.com/aurawallet/walletcore/coinselect"
	"github.com/aurawallet/walletcore/internal/btcunit"
	"github.com/aurawallet/walletcore/policy"
	"github.com/aurawallet/walletcore/wstore"
)

const (
	// DefaultMaxFeeRate caps the fee rate a build will accept, guarding
	// against fat-fingered requests.
	DefaultMaxFeeRate = btcunit.SatPerVByte(1_000)

	// DefaultLeaseDuration is how long selected inputs stay reserved
	// while a build is in flight.
	DefaultLeaseDuration = 10 * time.Minute

	// maxFundAttempts bounds the selection retries a single funding
	// call performs when the true fee or a lease conflict invalidates a
	// round.
	maxFundAttempts = 3
)

// State is a build's position in its lifecycle.
type State uint8

const (
	// StateDraft is a created build with no inputs selected yet.
	StateDraft State = iota

	// StateFeeFinalized has inputs selected and leased, with the fee
	// computed from the finished transaction's weight.
	StateFeeFinalized

	// StatePartiallySigned has at least one verified signature but has
	// not met the policy threshold on every input.
	StatePartiallySigned

	// StateSigned is terminal: every input carries the threshold count
	// of verified signatures and the final witnesses are assembled.
	StateSigned

	// StateAborted is terminal: the build was cancelled or failed
	// verification and its input leases are released.
	StateAborted
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateDraft:
		return "Draft"
	case StateFeeFinalized:
		return "FeeFinalized"
	case StatePartiallySigned:
		return "PartiallySigned"
	case StateSigned:
		return "Signed"
	case StateAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Config ties a builder to one account.
type Config struct {
	// Descriptor is the account's spending policy.
	Descriptor *policy.Descriptor

	// Store holds the account's unspent outputs and leases.
	Store *wstore.Store

	// AccountID is the account being spent from.
	AccountID int64

	// ChainParams identifies the network.
	ChainParams *chaincfg.Params

	// MaxFeeRate caps accepted fee rates, DefaultMaxFeeRate when zero.
	MaxFeeRate btcunit.SatPerVByte

	// LeaseDuration is how long inputs stay reserved,
	// DefaultLeaseDuration when zero.
	LeaseDuration time.Duration
}

// FundReq describes the payment a build should make.
type FundReq struct {
	// Outputs are the recipient outputs.
	Outputs []*wire.TxOut

	// FeeRate is the fee rate the transaction pays.
	FeeRate btcunit.SatPerVByte

	// ChangeIndex is the internal-branch derivation index change pays
	// to, when change is created.
	ChangeIndex uint32
}

// fundedInput is one selected input and the policy material needed to
// sign it.
type fundedInput struct {
	outPoint wire.OutPoint
	prevOut  *wire.TxOut
	loc      policy.ScriptLoc

	// pubKeys are the derived public keys at the input's location, in
	// slot order.
	pubKeys []*btcec.PublicKey

	// witnessScript is set for script-path policies.
	witnessScript []byte

	// redeemScript is set for nested witness policies.
	redeemScript []byte
}

// Builder drives one transaction build.
type Builder struct {
	cfg Config

	mu    sync.Mutex
	state State

	leaseID wstore.LeaseID
	leased  []wire.OutPoint

	packet *psbt.Packet
	inputs []fundedInput

	// utxoByOp caches the snapshot the selection ran against.
	utxoByOp map[wire.OutPoint]wstore.Output

	fee    btcutil.Amount
	change btcutil.Amount

	// sigs holds verified signatures per input per key slot, sighash
	// byte already appended where the script expects one.
	sigs     [][][]byte
	sigCount []int

	finalTx *wire.MsgTx
}

// NewBuilder creates a build in the Draft state.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Descriptor == nil || cfg.Store == nil ||
		cfg.ChainParams == nil {

		return nil, errors.New("descriptor, store and chain params " +
			"are required")
	}

	if cfg.MaxFeeRate == 0 {
		cfg.MaxFeeRate = DefaultMaxFeeRate
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}

	b := &Builder{
		cfg:   cfg,
		state: StateDraft,
	}
	if _, err := rand.Read(b.leaseID[:]); err != nil {
		return nil, fmt.Errorf("generate lease id: %w", err)
	}

	return b, nil
}

// State returns the build's current state.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Fee returns the fee the finalized transaction pays.
func (b *Builder) Fee() btcutil.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.fee
}

// ChangeAmount returns the change output value, zero when the build has
// no change output.
func (b *Builder) ChangeAmount() btcutil.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.change
}

// Packet returns the partially signed transaction template.
func (b *Builder) Packet() *psbt.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.packet
}

// FinalTx returns the fully signed transaction. It fails unless the
// build reached Signed.
func (b *Builder) FinalTx() (*wire.MsgTx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateSigned {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, b.state)
	}

	return b.finalTx, nil
}

// Fund selects and leases inputs covering the requested outputs plus
// fee, assembles the unsigned transaction and moves the build from Draft
// to FeeFinalized. Selected inputs stay leased until the build reaches a
// terminal state or the lease expires.
func (b *Builder) Fund(ctx context.Context, req *FundReq) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateDraft {
		return fmt.Errorf("%w: %v", ErrInvalidState, b.state)
	}

	if len(req.Outputs) == 0 {
		return ErrNoOutputs
	}
	if req.FeeRate > b.cfg.MaxFeeRate {
		return fmt.Errorf("%w: %v > %v", ErrFeeRateTooLarge,
			req.FeeRate, b.cfg.MaxFeeRate)
	}

	var target btcutil.Amount
	for _, out := range req.Outputs {
		if txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb) {
			return fmt.Errorf("%w: %d sats", ErrDustOutput,
				out.Value)
		}
		target += btcutil.Amount(out.Value)
	}

	desc := b.cfg.Descriptor

	changeScript, err := desc.ScriptAt(
		policy.BranchInternal, req.ChangeIndex,
	)
	if err != nil {
		return fmt.Errorf("derive change script: %w", err)
	}

	coins, err := b.eligibleCoins(ctx)
	if err != nil {
		return err
	}

	baseVSize := templateVSize(req.Outputs, desc.Kind())

	// Repeat selection until the leased set survives the true-weight
	// fee check and no chosen output was snatched by a concurrent
	// build. Outputs lost to a lease conflict are excluded from the
	// next round, so exhausting the candidates surfaces as
	// insufficient funds.
	excluded := make(map[wire.OutPoint]struct{})
	extraFee := btcutil.Amount(0)

	for attempt := 0; attempt < maxFundAttempts; attempt++ {
		res, err := coinselect.Select(&coinselect.Request{
			Target:           target + extraFee,
			FeeRate:          req.FeeRate,
			Coins:            coins,
			Exclude:          excluded,
			BaseVSize:        baseVSize,
			ChangeVSize:      desc.OutputSize(),
			ChangeScriptSize: len(changeScript),
		})
		if err != nil {
			return err
		}

		// Recompute the fee from the final transaction's virtual
		// size. The estimate and the final size agree for every
		// policy kind, so a second round here means the rate
		// changed the change decision.
		vsize := baseVSize
		for _, coin := range res.Coins {
			vsize += coin.InputVSize
		}
		if res.Change > 0 {
			vsize += desc.OutputSize()
		}

		trueFee := req.FeeRate.FeeForVSize(vsize)
		haveFee := res.Fee + extraFee
		if haveFee < trueFee {
			extraFee += trueFee - haveFee
			continue
		}

		// Anything added to the target on a previous round is not a
		// real output, so it ends up paid as fee.
		res.Fee += extraFee

		conflicted, err := b.leaseSelection(ctx, res.Coins)
		if err != nil {
			return err
		}
		if conflicted != nil {
			excluded[*conflicted] = struct{}{}
			continue
		}

		return b.assemble(ctx, req, res, changeScript)
	}

	return fmt.Errorf("%w: target %v", ErrFundAttemptsExhausted, target)
}

// SweepReq describes a sweep: every spendable output of the account is
// consumed into a single recipient output, with no change.
type SweepReq struct {
	// RecipientScript is the output script the swept value pays to.
	RecipientScript []byte

	// FeeRate is the fee rate the transaction pays.
	FeeRate btcunit.SatPerVByte
}

// FundSweep selects and leases every eligible output of the account and
// assembles a transaction paying the total minus fee to the recipient.
// The build moves from Draft to FeeFinalized. Outputs lost to a
// concurrent lease are dropped from the sweep rather than retried.
func (b *Builder) FundSweep(ctx context.Context, req *SweepReq) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateDraft {
		return fmt.Errorf("%w: %v", ErrInvalidState, b.state)
	}

	if len(req.RecipientScript) == 0 {
		return ErrNoOutputs
	}
	if req.FeeRate > b.cfg.MaxFeeRate {
		return fmt.Errorf("%w: %v > %v", ErrFeeRateTooLarge,
			req.FeeRate, b.cfg.MaxFeeRate)
	}

	coins, err := b.eligibleCoins(ctx)
	if err != nil {
		return err
	}

	// The recipient value is unknown until the fee is, so size the
	// template with a placeholder output carrying the final script.
	recipient := wire.NewTxOut(0, req.RecipientScript)
	baseVSize := templateVSize(
		[]*wire.TxOut{recipient}, b.cfg.Descriptor.Kind(),
	)

	excluded := make(map[wire.OutPoint]struct{})

	for attempt := 0; attempt < maxFundAttempts; attempt++ {
		var (
			selected []coinselect.Coin
			total    btcutil.Amount
			vsize    = baseVSize
		)
		for _, coin := range coins {
			if _, ok := excluded[coin.OutPoint]; ok {
				continue
			}
			selected = append(selected, coin)
			total += coin.Value
			vsize += coin.InputVSize
		}
		if len(selected) == 0 {
			return coinselect.ErrInsufficientFunds
		}

		fee := req.FeeRate.FeeForVSize(vsize)
		recipient.Value = int64(total - fee)
		if total <= fee || txrules.IsDustOutput(
			recipient, txrules.DefaultRelayFeePerKb,
		) {

			return fmt.Errorf("%w: %v swept leaves %d sats after "+
				"%v fee", ErrDustOutput, total,
				recipient.Value, fee)
		}

		conflicted, err := b.leaseSelection(ctx, selected)
		if err != nil {
			return err
		}
		if conflicted != nil {
			excluded[*conflicted] = struct{}{}
			continue
		}

		return b.assemble(ctx,
			&FundReq{Outputs: []*wire.TxOut{recipient}},
			&coinselect.Result{Coins: selected, Fee: fee},
			nil,
		)
	}

	return fmt.Errorf("%w: sweep", ErrFundAttemptsExhausted)
}

// eligibleCoins loads the account's unspent outputs minus anything
// currently leased.
func (b *Builder) eligibleCoins(ctx context.Context) ([]coinselect.Coin,
	error) {

	snap, err := b.cfg.Store.Snapshot(ctx, b.cfg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	leased, err := b.cfg.Store.LeasedOutPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}

	inputVSize := b.cfg.Descriptor.InputVSize()

	b.utxoByOp = make(map[wire.OutPoint]wstore.Output, len(snap.UTXOs))

	coins := make([]coinselect.Coin, 0, len(snap.UTXOs))
	for _, utxo := range snap.UTXOs {
		if _, ok := leased[utxo.OutPoint]; ok {
			continue
		}

		b.utxoByOp[utxo.OutPoint] = utxo

		coins = append(coins, coinselect.Coin{
			OutPoint:   utxo.OutPoint,
			Value:      utxo.Amount,
			Script:     utxo.Script,
			InputVSize: inputVSize,
		})
	}

	return coins, nil
}

// leaseSelection reserves every chosen output under the build's lease
// id. On a conflict it releases what it took and reports the contested
// outpoint.
func (b *Builder) leaseSelection(ctx context.Context,
	coins []coinselect.Coin) (*wire.OutPoint, error) {

	for _, coin := range coins {
		_, err := b.cfg.Store.LeaseOutput(
			ctx, b.leaseID, coin.OutPoint, b.cfg.LeaseDuration,
		)
		switch {
		case errors.Is(err, wstore.ErrOutputLeased):
			log.Debugf("Output %v leased by a concurrent build, "+
				"reselecting", coin.OutPoint)
			b.releaseLeases(ctx)

			op := coin.OutPoint
			return &op, nil

		case err != nil:
			b.releaseLeases(ctx)
			return nil, fmt.Errorf("lease %v: %w",
				coin.OutPoint, err)
		}

		b.leased = append(b.leased, coin.OutPoint)
	}

	return nil, nil
}

// releaseLeases drops every lease the build holds.
func (b *Builder) releaseLeases(ctx context.Context) {
	for _, op := range b.leased {
		err := b.cfg.Store.ReleaseOutput(ctx, b.leaseID, op)
		if err != nil {
			log.Warnf("Unable to release lease on %v: %v", op,
				err)
		}
	}
	b.leased = nil
}

// assemble builds the unsigned transaction and its signing template from
// a leased selection, then finalizes the fee.
func (b *Builder) assemble(ctx context.Context, req *FundReq,
	res *coinselect.Result, changeScript []byte) error {

	desc := b.cfg.Descriptor

	// Version 2 so relative timelock sequences are enforced per
	// BIP68.
	tx := wire.NewMsgTx(2)
	tx.LockTime = desc.LockTimeFor()

	sequence := desc.SequenceFor()
	b.inputs = make([]fundedInput, 0, len(res.Coins))

	for _, coin := range res.Coins {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: coin.OutPoint,
			Sequence:         sequence,
		})

		input, err := b.newFundedInput(coin)
		if err != nil {
			b.releaseLeases(ctx)
			return err
		}
		b.inputs = append(b.inputs, input)
	}

	for _, out := range req.Outputs {
		tx.AddTxOut(wire.NewTxOut(out.Value, out.PkScript))
	}
	if res.Change > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(res.Change), changeScript))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		b.releaseLeases(ctx)
		return fmt.Errorf("create psbt: %w", err)
	}

	for i := range b.inputs {
		if err := b.populatePInput(ctx, packet, i); err != nil {
			b.releaseLeases(ctx)
			return err
		}
	}

	b.packet = packet
	b.fee = res.Fee
	b.change = res.Change
	b.sigs = make([][][]byte, len(b.inputs))
	for i := range b.sigs {
		b.sigs[i] = make([][]byte, len(b.inputs[i].pubKeys))
	}
	b.sigCount = make([]int, len(b.inputs))
	b.state = StateFeeFinalized

	log.Debugf("Build funded: %d inputs, fee %v, change %v",
		len(b.inputs), b.fee, b.change)

	return nil
}

// newFundedInput resolves the policy material for one selected coin.
func (b *Builder) newFundedInput(coin coinselect.Coin) (fundedInput,
	error) {

	desc := b.cfg.Descriptor

	utxo, ok := b.utxoByOp[coin.OutPoint]
	if !ok {
		return fundedInput{}, fmt.Errorf("%w: output %v",
			wstore.ErrNotFound, coin.OutPoint)
	}

	loc := policy.ScriptLoc{Branch: utxo.Branch, Index: utxo.Index}

	pubKeys, err := desc.PubKeysAt(loc.Branch, loc.Index)
	if err != nil {
		return fundedInput{}, fmt.Errorf("derive keys for %v: %w",
			coin.OutPoint, err)
	}

	input := fundedInput{
		outPoint: coin.OutPoint,
		prevOut:  wire.NewTxOut(int64(coin.Value), coin.Script),
		loc:      loc,
		pubKeys:  pubKeys,
	}

	switch desc.Kind() {
	case policy.KindMulti, policy.KindCSV, policy.KindCLTV:
		script, err := desc.WitnessScriptAt(loc.Branch, loc.Index)
		if err != nil {
			return fundedInput{}, err
		}
		input.witnessScript = script

	case policy.KindNestedP2WPKH:
		script, err := desc.RedeemScriptAt(loc.Branch, loc.Index)
		if err != nil {
			return fundedInput{}, err
		}
		input.redeemScript = script
	}

	return input, nil
}

// populatePInput fills the signing template for one input: the spent
// output, scripts, sighash type and key derivations.
func (b *Builder) populatePInput(ctx context.Context, packet *psbt.Packet,
	idx int) error {

	desc := b.cfg.Descriptor
	input := &b.inputs[idx]
	pIn := &packet.Inputs[idx]

	// Always attach the full previous transaction when the store has
	// it, so offline signers can verify the spent amount.
	record, err := b.cfg.Store.Tx(
		ctx, b.cfg.AccountID, input.outPoint.Hash,
	)
	if err == nil {
		prevTx := &wire.MsgTx{}
		if err := prevTx.Deserialize(
			bytes.NewReader(record.Raw),
		); err == nil {

			pIn.NonWitnessUtxo = prevTx
		}
	}

	pIn.WitnessScript = input.witnessScript
	pIn.RedeemScript = input.redeemScript

	if desc.Kind() == policy.KindP2TR {
		internalKey := input.pubKeys[0]

		pIn.SighashType = txscript.SigHashDefault
		pIn.WitnessUtxo = input.prevOut
		pIn.TaprootInternalKey = schnorr.SerializePubKey(internalKey)

		_, slots := desc.RequiredSignatures()
		origin := slots[0].Origin
		pIn.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
			XOnlyPubKey: schnorr.SerializePubKey(internalKey),
			MasterKeyFingerprint: binary.LittleEndian.Uint32(
				origin.Fingerprint[:],
			),
			Bip32Path: origin.FullPath(
				input.loc.Branch, input.loc.Index,
			),
		}}

		return nil
	}

	pIn.SighashType = txscript.SigHashAll
	if desc.Kind() != policy.KindP2PKH {
		pIn.WitnessUtxo = input.prevOut
	}

	_, slots := desc.RequiredSignatures()
	for _, slot := range slots {
		pIn.Bip32Derivation = append(pIn.Bip32Derivation,
			&psbt.Bip32Derivation{
				PubKey: input.pubKeys[slot.Index].
					SerializeCompressed(),
				MasterKeyFingerprint: binary.LittleEndian.
					Uint32(slot.Origin.Fingerprint[:]),
				Bip32Path: slot.Origin.FullPath(
					input.loc.Branch, input.loc.Index,
				),
			},
		)
	}

	return nil
}

// Sign drives the signing capability over every input and unsigned key
// slot, in slot order. Each returned signature is verified against the
// slot's public key and the input's sighash before it counts toward the
// policy threshold; a failed verification aborts the build. Slots the
// signer does not control are skipped, so multi-party policies collect
// signatures across several Sign calls with different capabilities. The
// build reaches Signed when every input holds the threshold count of
// verified signatures.
func (b *Builder) Sign(ctx context.Context, signer Signer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateFeeFinalized && b.state != StatePartiallySigned {
		return fmt.Errorf("%w: %v", ErrInvalidState, b.state)
	}

	desc := b.cfg.Descriptor
	threshold, slots := desc.RequiredSignatures()
	tx := b.packet.UnsignedTx

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i := range b.inputs {
		fetcher.AddPrevOut(b.inputs[i].outPoint, b.inputs[i].prevOut)
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i := range b.inputs {
		input := &b.inputs[i]

		for _, slot := range slots {
			if b.sigCount[i] >= threshold {
				break
			}
			if b.sigs[i][slot.Index] != nil {
				continue
			}

			// Signers may be slow external devices. Honor
			// cancellation between slots without dropping
			// signatures already verified.
			if err := ctx.Err(); err != nil {
				return err
			}

			err := b.signSlot(ctx, signer, sigHashes, fetcher,
				i, slot)
			switch {
			case errors.Is(err, ErrUnknownKey):
				continue

			case errors.Is(err, ErrSignatureInvalid):
				b.releaseLeases(ctx)
				b.state = StateAborted
				return err

			case err != nil:
				return err
			}
		}
	}

	return b.advanceSigningState(threshold)
}

// signSlot requests, verifies and records one signature.
func (b *Builder) signSlot(ctx context.Context, signer Signer,
	sigHashes *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher, inputIdx int,
	slot policy.KeySlot) error {

	desc := b.cfg.Descriptor
	input := &b.inputs[inputIdx]
	taproot := desc.Kind() == policy.KindP2TR

	hashType := txscript.SigHashAll
	if taproot {
		hashType = txscript.SigHashDefault
	}

	digest, err := b.inputDigest(sigHashes, fetcher, inputIdx, hashType)
	if err != nil {
		return err
	}

	pubKey := input.pubKeys[slot.Index]

	res, err := signer.SignInput(ctx, &SignReq{
		Slot:       slot,
		InputIndex: inputIdx,
		Path: slot.Origin.FullPath(
			input.loc.Branch, input.loc.Index,
		),
		PubKey:     pubKey,
		Digest:     digest,
		HashType:   hashType,
		Taproot:    taproot,
		PrevOutput: input.prevOut,
	})
	if err != nil {
		return err
	}

	if err := verifySignature(
		res.Signature, digest, pubKey, taproot,
	); err != nil {

		log.Errorf("Signature for input %d slot %d failed "+
			"verification: %v", inputIdx, slot.Index, err)

		return &SignatureError{
			InputIndex: inputIdx,
			Slot:       slot.Index,
		}
	}

	sig := res.Signature
	if !taproot {
		sig = append(sig, byte(hashType))
		b.packet.Inputs[inputIdx].PartialSigs = append(
			b.packet.Inputs[inputIdx].PartialSigs,
			&psbt.PartialSig{
				PubKey:    pubKey.SerializeCompressed(),
				Signature: sig,
			},
		)
	} else {
		b.packet.Inputs[inputIdx].TaprootKeySpendSig = sig
	}

	b.sigs[inputIdx][slot.Index] = sig
	b.sigCount[inputIdx]++

	return nil
}

// inputDigest computes the sighash digest for one input under the
// account's policy kind.
func (b *Builder) inputDigest(sigHashes *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher, inputIdx int,
	hashType txscript.SigHashType) ([]byte, error) {

	desc := b.cfg.Descriptor
	input := &b.inputs[inputIdx]
	tx := b.packet.UnsignedTx

	switch desc.Kind() {
	case policy.KindP2PKH:
		return txscript.CalcSignatureHash(
			input.prevOut.PkScript, hashType, tx, inputIdx,
		)

	case policy.KindP2TR:
		return txscript.CalcTaprootSignatureHash(
			sigHashes, hashType, tx, inputIdx, fetcher,
		)

	case policy.KindMulti, policy.KindCSV, policy.KindCLTV:
		return txscript.CalcWitnessSigHash(
			input.witnessScript, sigHashes, hashType, tx,
			inputIdx, input.prevOut.Value,
		)

	default:
		// The witness pubkey hash program stands in for its
		// canonical pkh script code under BIP143. For the nested
		// form the program lives in the redeem script.
		script := input.prevOut.PkScript
		if desc.Kind() == policy.KindNestedP2WPKH {
			script = input.redeemScript
		}

		return txscript.CalcWitnessSigHash(
			script, sigHashes, hashType, tx, inputIdx,
			input.prevOut.Value,
		)
	}
}

// verifySignature checks a signature against the digest and public key
// it must commit to.
func verifySignature(sig, digest []byte, pubKey *btcec.PublicKey,
	taproot bool) error {

	if taproot {
		parsed, err := schnorr.ParseSignature(sig)
		if err != nil {
			return fmt.Errorf("parse schnorr sig: %w", err)
		}

		outputKey := txscript.ComputeTaprootKeyNoScript(pubKey)
		if !parsed.Verify(digest, outputKey) {
			return errors.New("schnorr signature invalid")
		}

		return nil
	}

	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("parse der sig: %w", err)
	}
	if !parsed.Verify(digest, pubKey) {
		return errors.New("ecdsa signature invalid")
	}

	return nil
}

// advanceSigningState moves the build forward after a signing pass: to
// Signed exactly once when every input meets the threshold, otherwise to
// PartiallySigned if any signature was collected.
func (b *Builder) advanceSigningState(threshold int) error {
	complete := true
	signedAny := false

	for i := range b.inputs {
		if b.sigCount[i] > 0 {
			signedAny = true
		}
		if b.sigCount[i] < threshold {
			complete = false
		}
	}

	if !complete {
		if signedAny {
			b.state = StatePartiallySigned
		}
		return nil
	}

	if err := b.finalize(); err != nil {
		return err
	}

	b.state = StateSigned
	log.Infof("Build signed: %d inputs, fee %v", len(b.inputs), b.fee)

	return nil
}

// finalize assembles witnesses and signature scripts onto a copy of the
// unsigned transaction.
func (b *Builder) finalize() error {
	desc := b.cfg.Descriptor
	threshold, _ := desc.RequiredSignatures()

	tx := b.packet.UnsignedTx.Copy()

	for i := range b.inputs {
		input := &b.inputs[i]
		txIn := tx.TxIn[i]

		// Take the first threshold signatures in slot order, which
		// is the order script verification expects.
		sigs := make([][]byte, 0, threshold)
		for _, sig := range b.sigs[i] {
			if sig == nil {
				continue
			}
			sigs = append(sigs, sig)
			if len(sigs) == threshold {
				break
			}
		}

		switch desc.Kind() {
		case policy.KindP2PKH:
			scriptSig, err := txscript.NewScriptBuilder().
				AddData(sigs[0]).
				AddData(input.pubKeys[0].
					SerializeCompressed()).
				Script()
			if err != nil {
				return fmt.Errorf("build scriptSig: %w", err)
			}
			txIn.SignatureScript = scriptSig

		case policy.KindP2WPKH:
			txIn.Witness = wire.TxWitness{
				sigs[0],
				input.pubKeys[0].SerializeCompressed(),
			}

		case policy.KindNestedP2WPKH:
			txIn.Witness = wire.TxWitness{
				sigs[0],
				input.pubKeys[0].SerializeCompressed(),
			}

			scriptSig, err := txscript.NewScriptBuilder().
				AddData(input.redeemScript).Script()
			if err != nil {
				return fmt.Errorf("build scriptSig: %w", err)
			}
			txIn.SignatureScript = scriptSig

		case policy.KindP2TR:
			txIn.Witness = wire.TxWitness{sigs[0]}

		case policy.KindMulti:
			// CHECKMULTISIG pops one extra stack item.
			witness := make(wire.TxWitness, 0, threshold+2)
			witness = append(witness, nil)
			witness = append(witness, sigs...)
			witness = append(witness, input.witnessScript)
			txIn.Witness = witness

		case policy.KindCSV, policy.KindCLTV:
			txIn.Witness = wire.TxWitness{
				sigs[0], input.witnessScript,
			}
		}
	}

	b.finalTx = tx

	return nil
}

// Abort cancels a build and releases its input leases. Aborting an
// already aborted build is a no-op; a Signed build cannot be aborted.
func (b *Builder) Abort(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateAborted:
		return nil
	case StateSigned:
		return fmt.Errorf("%w: %v", ErrInvalidState, b.state)
	}

	b.releaseLeases(ctx)
	b.state = StateAborted

	log.Debugf("Build aborted")

	return nil
}

// templateVSize is the virtual size of a transaction with the given
// outputs and no inputs or change.
func templateVSize(outputs []*wire.TxOut, kind policy.Kind) btcunit.VByte {
	// Version, input and output counts, locktime. Builds stay far
	// below the varint boundary on both counts.
	size := int64(4 + 1 + 1 + 4)

	for _, out := range outputs {
		scriptLen := uint64(len(out.PkScript))
		size += 8 + int64(wire.VarIntSerializeSize(scriptLen)) +
			int64(scriptLen)
	}

	weight := size * 4

	// Witness-spending transactions carry the segwit marker and flag
	// bytes.
	if kind != policy.KindP2PKH {
		weight += 2
	}

	return btcunit.WeightUnit(weight).ToVB()
}
