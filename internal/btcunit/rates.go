// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides types for bitcoin fee rates and transaction
// sizes. Keeping the unit in the type makes it impossible to mix up
// sat/vb and sat/kvb at call sites.
package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is the multiplier between per-vbyte and per-kilo-vbyte rates.
	kilo = 1000

	// witnessScaleFactor is the scale factor between weight units and
	// vbytes defined by BIP141.
	witnessScaleFactor = 4
)

// SatPerVByte represents a fee rate in satoshis per virtual byte.
type SatPerVByte btcutil.Amount

// NewSatPerVByte creates a new SatPerVByte fee rate.
func NewSatPerVByte(sats int64) SatPerVByte {
	return SatPerVByte(sats)
}

// FeeForVSize calculates the fee for a transaction of the given virtual
// size, rounding up to the nearest satoshi so the resulting rate is never
// below the requested one.
func (r SatPerVByte) FeeForVSize(vsize VByte) btcutil.Amount {
	return btcutil.Amount(int64(r) * int64(vsize))
}

// ToSatPerKVByte converts the rate to sat/kvb.
func (r SatPerVByte) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte(int64(r) * kilo)
}

// String returns the string representation of the fee rate.
func (r SatPerVByte) String() string {
	return fmt.Sprintf("%d sat/vb", int64(r))
}

// SatPerKVByte represents a fee rate in satoshis per kilo-virtual-byte.
// This is the unit used by the btcwallet txrules and txauthor packages.
type SatPerKVByte btcutil.Amount

// NewSatPerKVByte creates a new SatPerKVByte fee rate.
func NewSatPerKVByte(sats int64) SatPerKVByte {
	return SatPerKVByte(sats)
}

// FeeForVSize calculates the fee for a transaction of the given virtual
// size. The result is rounded up so the effective rate never falls below
// the requested one.
func (r SatPerKVByte) FeeForVSize(vsize VByte) btcutil.Amount {
	return btcutil.Amount((int64(r)*int64(vsize) + kilo - 1) / kilo)
}

// Amount returns the rate as a raw btcutil.Amount, as expected by the
// txrules and txauthor packages.
func (r SatPerKVByte) Amount() btcutil.Amount {
	return btcutil.Amount(r)
}

// ToSatPerVByte converts the rate to sat/vb, truncating any fractional
// part.
func (r SatPerKVByte) ToSatPerVByte() SatPerVByte {
	return SatPerVByte(int64(r) / kilo)
}

// String returns the string representation of the fee rate.
func (r SatPerKVByte) String() string {
	return fmt.Sprintf("%d sat/kvb", int64(r))
}

// VByte represents a transaction size in virtual bytes.
type VByte int64

// String returns the string representation of the size.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", int64(v))
}

// WeightUnit represents a transaction size in weight units as defined by
// BIP141.
type WeightUnit int64

// ToVB converts the weight to virtual bytes, rounding up per BIP141.
func (w WeightUnit) ToVB() VByte {
	return VByte((int64(w) + witnessScaleFactor - 1) / witnessScaleFactor)
}

// String returns the string representation of the weight.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", int64(w))
}
