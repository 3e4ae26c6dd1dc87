// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/aurawallet/walletcore/policy"
)

var (
	// ErrNeuteredKey is returned when a signer is created from an
	// extended key that cannot derive private keys.
	ErrNeuteredKey = errors.New("extended key is neutered")

	// ErrPubKeyMismatch is returned when a derived private key does not
	// produce the public key the slot expects.
	ErrPubKeyMismatch = errors.New("derived key does not match slot")
)

// SignReq asks a signing capability for one signature over one input.
type SignReq struct {
	// Slot is the policy key slot the signature fills. Its origin
	// carries the master fingerprint signers match against.
	Slot policy.KeySlot

	// InputIndex is the transaction input being signed.
	InputIndex int

	// Path is the full derivation path from the master key to the
	// signing key, hardened steps marked.
	Path []uint32

	// PubKey is the public key the signature must verify against.
	PubKey *btcec.PublicKey

	// Digest is the sighash digest to sign.
	Digest []byte

	// HashType is the sighash type committed to by the digest.
	HashType txscript.SigHashType

	// Taproot requests a BIP340 signature with the BIP86 key tweak
	// applied. Otherwise the signature is ECDSA.
	Taproot bool

	// PrevOutput is the output being spent, for signers that display
	// amounts.
	PrevOutput *wire.TxOut
}

// SignResult is one produced signature.
type SignResult struct {
	// Signature is the DER-encoded ECDSA signature or the 64-byte
	// BIP340 signature, without a sighash byte. The builder appends
	// the sighash byte after verification.
	Signature []byte
}

// Signer produces signatures for transaction inputs. Implementations may
// be in-process keys, hardware devices or remote co-signers. A signer
// asked for a slot it does not control returns ErrUnknownKey; the builder
// skips the slot and leaves it for another signer.
type Signer interface {
	SignInput(ctx context.Context, req *SignReq) (*SignResult, error)
}

// LocalSigner signs with in-process master private keys, matched to
// descriptor key slots by master fingerprint.
type LocalSigner struct {
	masters map[[4]byte]*hdkeychain.ExtendedKey
}

// NewLocalSigner creates a signer from one or more master private keys.
func NewLocalSigner(masters ...*hdkeychain.ExtendedKey) (*LocalSigner,
	error) {

	s := &LocalSigner{
		masters: make(map[[4]byte]*hdkeychain.ExtendedKey,
			len(masters)),
	}

	for _, master := range masters {
		if !master.IsPrivate() {
			return nil, ErrNeuteredKey
		}

		fingerprint, err := masterFingerprint(master)
		if err != nil {
			return nil, err
		}

		s.masters[fingerprint] = master
	}

	return s, nil
}

// SignInput implements Signer. Slots whose fingerprint matches none of
// the loaded masters fail with ErrUnknownKey.
func (s *LocalSigner) SignInput(_ context.Context, req *SignReq) (
	*SignResult, error) {

	master, ok := s.masters[req.Slot.Origin.Fingerprint]
	if !ok {
		return nil, fmt.Errorf("%w: fingerprint %x", ErrUnknownKey,
			req.Slot.Origin.Fingerprint)
	}

	key := master
	for _, step := range req.Path {
		child, err := key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("derive step %d: %w", step,
				err)
		}
		key = child
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract privkey: %w", err)
	}

	if !bytes.Equal(
		privKey.PubKey().SerializeCompressed(),
		req.PubKey.SerializeCompressed(),
	) {

		return nil, ErrPubKeyMismatch
	}

	if req.Taproot {
		tweaked := txscript.TweakTaprootPrivKey(*privKey, nil)

		sig, err := schnorr.Sign(tweaked, req.Digest)
		if err != nil {
			return nil, fmt.Errorf("schnorr sign: %w", err)
		}

		return &SignResult{Signature: sig.Serialize()}, nil
	}

	sig := ecdsa.Sign(privKey, req.Digest)

	return &SignResult{Signature: sig.Serialize()}, nil
}

// masterFingerprint computes the BIP32 fingerprint of a master key.
func masterFingerprint(master *hdkeychain.ExtendedKey) ([4]byte, error) {
	var fingerprint [4]byte

	pubKey, err := master.ECPubKey()
	if err != nil {
		return fingerprint, fmt.Errorf("extract pubkey: %w", err)
	}

	copy(fingerprint[:], btcutil.Hash160(pubKey.SerializeCompressed()))

	return fingerprint, nil
}
