// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"errors"
	"fmt"
)

var (
	// ErrNoOutputs is returned when a funding request carries no
	// recipient outputs.
	ErrNoOutputs = errors.New("tx has no outputs")

	// ErrDustOutput is returned when a requested recipient output is
	// below the dust threshold.
	ErrDustOutput = errors.New("output amount is dust")

	// ErrFeeRateTooLarge is returned when the requested fee rate
	// exceeds the configured maximum.
	ErrFeeRateTooLarge = errors.New("fee rate too large")

	// ErrInvalidState is returned when an operation is invoked in a
	// state that does not permit it.
	ErrInvalidState = errors.New("operation not valid in current state")

	// ErrSignatureInvalid is returned when a signer produces a
	// signature that does not verify against its slot's public key and
	// sighash. The build is aborted.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrUnknownKey is returned by a signing capability for slots whose
	// key it does not control. The builder skips the slot.
	ErrUnknownKey = errors.New("signer does not control key")

	// ErrFundAttemptsExhausted is returned when repeated selection
	// rounds keep losing their chosen outputs to concurrent leases.
	ErrFundAttemptsExhausted = errors.New("funding attempts exhausted")
)

// SignatureError reports which slot of which input failed signature
// verification.
type SignatureError struct {
	// InputIndex is the transaction input being signed.
	InputIndex int

	// Slot is the policy key slot whose signature failed.
	Slot int
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("%v: input %d, key slot %d", ErrSignatureInvalid,
		e.InputIndex, e.Slot)
}

// Unwrap makes the error match ErrSignatureInvalid.
func (e *SignatureError) Unwrap() error {
	return ErrSignatureInvalid
}
