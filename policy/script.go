// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/aurawallet/walletcore/internal/btcunit"
)

const (
	// estSigSize is the size of a DER-encoded ECDSA signature plus the
	// sighash byte, assuming the worst case.
	estSigSize = 72

	// estSchnorrSigSize is the size of a BIP340 signature for the
	// default sighash type.
	estSchnorrSigSize = 64

	// estPubKeySize is the size of a compressed public key.
	estPubKeySize = 33

	// baseInputSize is the non-witness size of an input with an empty
	// signature script: outpoint (36), script length (1), sequence (4).
	baseInputSize = 41

	// witnessScale is the BIP141 witness discount factor.
	witnessScale = 4
)

// PubKeysAt derives the compressed public keys of every key origin at the
// given branch and index, in slot order.
func (d *Descriptor) PubKeysAt(branch Branch, index uint32) (
	[]*btcec.PublicKey, error) {

	keys := make([]*btcec.PublicKey, 0, len(d.keys))
	for _, origin := range d.keys {
		branchKey, err := origin.Key.Derive(uint32(branch))
		if err != nil {
			return nil, fmt.Errorf("derive branch %v: %w", branch,
				err)
		}

		childKey, err := branchKey.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive index %d: %w", index,
				err)
		}

		pubKey, err := childKey.ECPubKey()
		if err != nil {
			return nil, fmt.Errorf("extract pubkey: %w", err)
		}

		keys = append(keys, pubKey)
	}

	return keys, nil
}

// WitnessScriptAt builds the witness script for script-path policies
// (multi and timelocked kinds) at the given branch and index. It returns
// nil for key-path policies.
func (d *Descriptor) WitnessScriptAt(branch Branch, index uint32) ([]byte,
	error) {

	switch d.kind {
	case KindMulti, KindCSV, KindCLTV:

	default:
		return nil, nil
	}

	pubKeys, err := d.PubKeysAt(branch, index)
	if err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()

	switch d.kind {
	case KindMulti:
		builder.AddInt64(int64(d.threshold))
		for _, pubKey := range pubKeys {
			builder.AddData(pubKey.SerializeCompressed())
		}
		builder.AddInt64(int64(len(pubKeys)))
		builder.AddOp(txscript.OP_CHECKMULTISIG)

	case KindCSV:
		builder.AddData(pubKeys[0].SerializeCompressed())
		builder.AddOp(txscript.OP_CHECKSIGVERIFY)
		builder.AddInt64(int64(d.lockValue))
		builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)

	case KindCLTV:
		builder.AddData(pubKeys[0].SerializeCompressed())
		builder.AddOp(txscript.OP_CHECKSIGVERIFY)
		builder.AddInt64(int64(d.lockValue))
		builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	}

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("build witness script: %w", err)
	}

	return script, nil
}

// RedeemScriptAt builds the p2sh redeem script for the nested p2wpkh
// kind. It returns nil for every other kind.
func (d *Descriptor) RedeemScriptAt(branch Branch, index uint32) ([]byte,
	error) {

	if d.kind != KindNestedP2WPKH {
		return nil, nil
	}

	pubKeys, err := d.PubKeysAt(branch, index)
	if err != nil {
		return nil, err
	}

	pubKeyHash := btcutil.Hash160(pubKeys[0].SerializeCompressed())

	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, d.params)
	if err != nil {
		return nil, fmt.Errorf("build nested witness program: %w", err)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("build redeem script: %w", err)
	}

	return script, nil
}

// AddressAt derives the address of the policy at the given branch and
// index.
func (d *Descriptor) AddressAt(branch Branch, index uint32) (
	btcutil.Address, error) {

	pubKeys, err := d.PubKeysAt(branch, index)
	if err != nil {
		return nil, err
	}

	switch d.kind {
	case KindP2PKH:
		pubKeyHash := btcutil.Hash160(
			pubKeys[0].SerializeCompressed(),
		)

		return btcutil.NewAddressPubKeyHash(pubKeyHash, d.params)

	case KindP2WPKH:
		pubKeyHash := btcutil.Hash160(
			pubKeys[0].SerializeCompressed(),
		)

		return btcutil.NewAddressWitnessPubKeyHash(
			pubKeyHash, d.params,
		)

	case KindNestedP2WPKH:
		redeemScript, err := d.RedeemScriptAt(branch, index)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(redeemScript, d.params)

	case KindP2TR:
		taprootKey := txscript.ComputeTaprootKeyNoScript(pubKeys[0])

		return btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(taprootKey), d.params,
		)

	case KindMulti, KindCSV, KindCLTV:
		witnessScript, err := d.WitnessScriptAt(branch, index)
		if err != nil {
			return nil, err
		}

		scriptHash := sha256.Sum256(witnessScript)

		return btcutil.NewAddressWitnessScriptHash(
			scriptHash[:], d.params,
		)

	default:
		return nil, fmt.Errorf("%w: kind %v", ErrPolicyInvalid, d.kind)
	}
}

// ScriptAt derives the output script of the policy at the given branch
// and index.
func (d *Descriptor) ScriptAt(branch Branch, index uint32) ([]byte, error) {
	addr, err := d.AddressAt(branch, index)
	if err != nil {
		return nil, err
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("build output script: %w", err)
	}

	return script, nil
}

// InputVSize returns the estimated virtual size one input spending an
// output of this policy adds to a transaction, assuming a fully populated
// witness. The estimate is deterministic per kind so the builder knows
// the final transaction weight before any signature exists.
func (d *Descriptor) InputVSize() btcunit.VByte {
	var nonWitness, witness int64

	switch d.kind {
	case KindP2PKH:
		// Signature script: pushed signature and pushed pubkey.
		nonWitness = baseInputSize + 1 + estSigSize + 1 + estPubKeySize

	case KindP2WPKH:
		nonWitness = baseInputSize
		witness = p2wkhWitnessSize()

	case KindNestedP2WPKH:
		// Signature script carries the pushed 22-byte redeem script.
		nonWitness = baseInputSize + 1 + 22
		witness = p2wkhWitnessSize()

	case KindP2TR:
		nonWitness = baseInputSize
		// Item count plus a pushed 64-byte schnorr signature.
		witness = 1 + 1 + estSchnorrSigSize

	case KindMulti:
		nonWitness = baseInputSize
		scriptSize := int64(3 + (1+estPubKeySize)*len(d.keys))
		// Item count, the CHECKMULTISIG dummy, threshold pushed
		// signatures and the pushed witness script.
		witness = 1 + 1 + int64(d.threshold)*(1+estSigSize) +
			scriptVarIntSize(scriptSize) + scriptSize

	case KindCSV, KindCLTV:
		nonWitness = baseInputSize
		scriptSize := int64(1 + estPubKeySize + 1 +
			scriptNumSize(int64(d.lockValue)) + 1)
		// Item count, one pushed signature and the pushed witness
		// script.
		witness = 1 + 1 + estSigSize +
			scriptVarIntSize(scriptSize) + scriptSize
	}

	weight := nonWitness*witnessScale + witness

	return btcunit.WeightUnit(weight).ToVB()
}

// OutputSize returns the serialized size a fresh output of this policy
// adds to a transaction: value, script length and the script itself.
func (d *Descriptor) OutputSize() btcunit.VByte {
	var scriptSize int64

	switch d.kind {
	case KindP2PKH:
		scriptSize = 25
	case KindP2WPKH:
		scriptSize = 22
	case KindNestedP2WPKH:
		scriptSize = 23
	case KindP2TR:
		scriptSize = 34
	case KindMulti, KindCSV, KindCLTV:
		scriptSize = 34
	}

	return btcunit.VByte(8 + 1 + scriptSize)
}

// SequenceFor returns the input sequence number required to satisfy the
// policy. Relative timelocks encode the lock in the sequence; everything
// else uses the RBF-signaling default.
func (d *Descriptor) SequenceFor() uint32 {
	if d.kind == KindCSV {
		return d.lockValue
	}

	// Signal replaceability per BIP125.
	return 0xfffffffd
}

// LockTimeFor returns the minimum transaction lock time required to
// satisfy the policy, or zero when none is needed.
func (d *Descriptor) LockTimeFor() uint32 {
	if d.kind == KindCLTV {
		return d.lockValue
	}

	return 0
}

// p2wkhWitnessSize returns the witness size of a p2wpkh spend: item
// count, pushed signature, pushed pubkey.
func p2wkhWitnessSize() int64 {
	return 1 + 1 + estSigSize + 1 + estPubKeySize
}

// scriptVarIntSize returns the size of the compact-size prefix for a
// witness item of the given length.
func scriptVarIntSize(n int64) int64 {
	if n < 253 {
		return 1
	}

	return 3
}

// scriptNumSize returns the size of the minimal script-number push for
// the given value, including its length prefix, matching how the script
// builder encodes older/after arguments.
func scriptNumSize(n int64) int64 {
	switch {
	case n <= 16:
		// Small ints encode as a bare opcode with no push.
		return 1
	case n < 0x80:
		return 2
	case n < 0x8000:
		return 3
	case n < 0x800000:
		return 4
	case n < 0x80000000:
		return 5
	default:
		return 6
	}
}
