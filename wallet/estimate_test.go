// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/aurawallet/walletcore/coinselect"
)

// csvDescriptor builds a witness-script policy with a relative timelock
// from a deterministic seed.
func csvDescriptor(t *testing.T, seed byte) (string,
	*hdkeychain.ExtendedKey) {

	t.Helper()

	master, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{seed}, 32), testParams,
	)
	require.NoError(t, err)

	pubKey, err := master.ECPubKey()
	require.NoError(t, err)
	fingerprint := btcutil.Hash160(pubKey.SerializeCompressed())[:4]

	account := master
	for _, step := range []uint32{
		84 + hdkeychain.HardenedKeyStart,
		1 + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
	} {
		account, err = account.Derive(step)
		require.NoError(t, err)
	}

	xpub, err := account.Neuter()
	require.NoError(t, err)

	return fmt.Sprintf(
		"wsh(and_v(v:pk([%x/84h/1h/0h]%s/<0;1>/*),older(144)))",
		fingerprint, xpub.String(),
	), master
}

// TestEstimateScriptSpendMatchesBuild checks the selection dry run used
// for witness-script policies against a real build's finalized fee.
func TestEstimateScriptSpendMatchesBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	descStr, master := csvDescriptor(t, 0x51)
	env := newWalletEnvWithDescriptor(t, 120, descStr, master, nil)
	env.fundAt(t, 0, 100_000)

	_, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	outputs := []*wire.TxOut{
		wire.NewTxOut(50_000, foreignScript(0xab)),
	}

	estimate, err := env.w.EstimateSendFee(ctx, testAccount, outputs, 2)
	require.NoError(t, err)

	b, err := env.w.BuildTransaction(ctx, testAccount, outputs, 2)
	require.NoError(t, err)
	require.Equal(t, b.Fee(), estimate)

	require.NoError(t, b.Abort(ctx))
}

// TestEstimateInsufficientFunds surfaces the selection failure on both
// estimator paths.
func TestEstimateInsufficientFunds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	outputs := []*wire.TxOut{
		wire.NewTxOut(1_000_000, foreignScript(0xab)),
	}

	keyEnv := newWalletEnv(t, 120, nil)
	keyEnv.fundAt(t, 0, 10_000)
	_, err := keyEnv.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	_, err = keyEnv.w.EstimateSendFee(ctx, testAccount, outputs, 1)
	require.ErrorIs(t, err, coinselect.ErrInsufficientFunds)

	descStr, master := csvDescriptor(t, 0x52)
	scriptEnv := newWalletEnvWithDescriptor(t, 120, descStr, master, nil)
	scriptEnv.fundAt(t, 0, 10_000)
	_, err = scriptEnv.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	_, err = scriptEnv.w.EstimateSendFee(ctx, testAccount, outputs, 1)
	require.ErrorIs(t, err, coinselect.ErrInsufficientFunds)
}
