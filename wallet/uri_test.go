// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/aurawallet/walletcore/policy"
)

// TestPaymentURIRender covers the bare, deep-link and parameterized
// renderings.
func TestPaymentURIRender(t *testing.T) {
	t.Parallel()

	env := newWalletEnv(t, 50, nil)

	addr, err := env.desc.AddressAt(policy.BranchExternal, 0)
	require.NoError(t, err)

	bare := &PaymentURI{Address: addr}
	require.Equal(t, addr.EncodeAddress(), bare.String())
	require.Equal(t, "bitcoin:"+addr.EncodeAddress(), bare.URI())

	full := &PaymentURI{
		Address: addr,
		Amount:  100_000,
		Label:   "coffee shop",
		Message: "table 4",
	}
	require.Equal(t,
		"bitcoin:"+addr.EncodeAddress()+
			"?amount=0.001&label=coffee%20shop&message=table%204",
		full.String(),
	)
	require.Equal(t, full.String(), full.URI())
}

// TestPaymentURIParse round-trips a rendered URI and rejects malformed
// or foreign-network inputs.
func TestPaymentURIParse(t *testing.T) {
	t.Parallel()

	env := newWalletEnv(t, 50, nil)

	addr, err := env.desc.AddressAt(policy.BranchExternal, 0)
	require.NoError(t, err)

	original := &PaymentURI{
		Address: addr,
		Amount:  250_000,
		Label:   "rent",
		Message: "march & april",
	}

	parsed, err := ParsePaymentURI(original.String(), testParams)
	require.NoError(t, err)
	require.Equal(t, addr.EncodeAddress(), parsed.Address.EncodeAddress())
	require.Equal(t, btcutil.Amount(250_000), parsed.Amount)
	require.Equal(t, "rent", parsed.Label)
	require.Equal(t, "march & april", parsed.Message)

	// A bare address parses too.
	parsed, err = ParsePaymentURI(addr.EncodeAddress(), testParams)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(0), parsed.Amount)

	// Scheme, address and amount failures.
	_, err = ParsePaymentURI("litecoin:"+addr.EncodeAddress(), testParams)
	require.ErrorIs(t, err, ErrInvalidURI)

	_, err = ParsePaymentURI("bitcoin:notanaddress", testParams)
	require.ErrorIs(t, err, ErrInvalidURI)

	_, err = ParsePaymentURI(
		"bitcoin:"+addr.EncodeAddress()+"?amount=-1", testParams,
	)
	require.ErrorIs(t, err, ErrInvalidURI)

	// A mainnet parser refuses the regtest address.
	_, err = ParsePaymentURI(addr.EncodeAddress(),
		&chaincfg.MainNetParams)
	require.ErrorIs(t, err, ErrInvalidURI)
}

// TestWalletPaymentURI derives a fresh receive address into the URI and
// advances the account's frontier.
func TestWalletPaymentURI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 50, nil)

	uri, err := env.w.PaymentURI(
		ctx, testAccount, 75_000, "invoice 12", "",
	)
	require.NoError(t, err)

	expected, err := env.desc.AddressAt(policy.BranchExternal, 0)
	require.NoError(t, err)
	require.Equal(t, expected.EncodeAddress(),
		uri.Address.EncodeAddress())

	roundTrip, err := ParsePaymentURI(uri.String(), testParams)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(75_000), roundTrip.Amount)
	require.Equal(t, "invoice 12", roundTrip.Label)

	// The next derivation does not reuse the address.
	next, err := env.w.NewAddress(ctx, testAccount)
	require.NoError(t, err)
	require.NotEqual(t, uri.Address.EncodeAddress(),
		next.EncodeAddress())
}
