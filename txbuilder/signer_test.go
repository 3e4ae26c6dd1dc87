// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/aurawallet/walletcore/policy"
)

// signReqFor derives the expected child key material for a request along
// the given path.
func signReqFor(t *testing.T, key testKey, path []uint32,
	taproot bool) *SignReq {

	t.Helper()

	child := key.master
	var err error
	for _, step := range path {
		child, err = child.Derive(step)
		require.NoError(t, err)
	}

	pubKey, err := child.ECPubKey()
	require.NoError(t, err)

	fingerprint, err := masterFingerprint(key.master)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("sign me"))

	return &SignReq{
		Slot: policy.KeySlot{
			Origin: policy.KeyOrigin{Fingerprint: fingerprint},
		},
		Path:    path,
		PubKey:  pubKey,
		Digest:  digest[:],
		Taproot: taproot,
	}
}

// TestLocalSignerECDSA checks that a produced ECDSA signature verifies
// against the derived public key.
func TestLocalSignerECDSA(t *testing.T) {
	t.Parallel()

	key := newTestKey(t, 0x07, 84)
	signer, err := NewLocalSigner(key.master)
	require.NoError(t, err)

	path := []uint32{
		84 + hardened, 1 + hardened, hardened, 0, 3,
	}
	req := signReqFor(t, key, path, false)

	res, err := signer.SignInput(context.Background(), req)
	require.NoError(t, err)

	sig, err := ecdsa.ParseDERSignature(res.Signature)
	require.NoError(t, err)
	require.True(t, sig.Verify(req.Digest, req.PubKey))
}

// TestLocalSignerTaproot checks that the BIP86 tweak is applied before
// signing: the signature must verify against the tweaked output key, not
// the internal key.
func TestLocalSignerTaproot(t *testing.T) {
	t.Parallel()

	key := newTestKey(t, 0x08, 86)
	signer, err := NewLocalSigner(key.master)
	require.NoError(t, err)

	path := []uint32{
		86 + hardened, 1 + hardened, hardened, 0, 0,
	}
	req := signReqFor(t, key, path, true)

	res, err := signer.SignInput(context.Background(), req)
	require.NoError(t, err)

	sig, err := schnorr.ParseSignature(res.Signature)
	require.NoError(t, err)

	outputKey := txscript.ComputeTaprootKeyNoScript(req.PubKey)
	require.True(t, sig.Verify(req.Digest, outputKey))
	require.False(t, sig.Verify(req.Digest, req.PubKey))
}

// TestLocalSignerUnknownKey checks that a slot with a foreign
// fingerprint is refused with ErrUnknownKey.
func TestLocalSignerUnknownKey(t *testing.T) {
	t.Parallel()

	key := newTestKey(t, 0x09, 84)
	other := newTestKey(t, 0x0a, 84)

	signer, err := NewLocalSigner(key.master)
	require.NoError(t, err)

	path := []uint32{84 + hardened, 1 + hardened, hardened, 0, 0}
	req := signReqFor(t, other, path, false)

	_, err = signer.SignInput(context.Background(), req)
	require.ErrorIs(t, err, ErrUnknownKey)
}

// TestLocalSignerPubKeyMismatch checks that a request whose expected key
// does not match the derivation is refused.
func TestLocalSignerPubKeyMismatch(t *testing.T) {
	t.Parallel()

	key := newTestKey(t, 0x0b, 84)
	signer, err := NewLocalSigner(key.master)
	require.NoError(t, err)

	path := []uint32{84 + hardened, 1 + hardened, hardened, 0, 0}
	req := signReqFor(t, key, path, false)

	// Claim a key from a different index.
	wrong := signReqFor(t, key, []uint32{
		84 + hardened, 1 + hardened, hardened, 0, 1,
	}, false)
	req.PubKey = wrong.PubKey

	_, err = signer.SignInput(context.Background(), req)
	require.ErrorIs(t, err, ErrPubKeyMismatch)
}

// TestLocalSignerRejectsNeutered checks that a signer cannot be built
// from public-only key material.
func TestLocalSignerRejectsNeutered(t *testing.T) {
	t.Parallel()

	master, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{0x0c}, 32), testParams,
	)
	require.NoError(t, err)

	neutered, err := master.Neuter()
	require.NoError(t, err)

	_, err = NewLocalSigner(neutered)
	require.ErrorIs(t, err, ErrNeuteredKey)
}
