// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import "errors"

var (
	// ErrAccountNotFound is returned when an account name resolves to
	// nothing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrReorgTooDeep is returned when reorg recovery cannot find a
	// common ancestor within the configured depth. The wallet needs a
	// full resync.
	ErrReorgTooDeep = errors.New("reorg deeper than recovery window")

	// ErrSyncInProgress is returned when a sync cycle is requested
	// while another one is running.
	ErrSyncInProgress = errors.New("sync already in progress")
)
