// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import "errors"

var (
	// ErrNilDB is returned when a store is constructed around a nil
	// database handle.
	ErrNilDB = errors.New("nil database handle")

	// ErrNotFound is returned when a requested account, transaction or
	// output does not exist.
	ErrNotFound = errors.New("not found in wallet store")

	// ErrAccountExists is returned when creating an account whose name
	// is already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrOutputLeased is returned when leasing an output that carries
	// an unexpired lease held by someone else.
	ErrOutputLeased = errors.New("output is leased")
)
