// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainsource implements the wallet's view of a remote chain
// indexer. It issues header, script and output queries against an
// esplora-style REST API and normalizes the responses into the chain fact
// types consumed by the sync engine. The package never interprets chain
// facts; ordering and conflict resolution are the sync engine's job.
package chainsource

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/aurawallet/walletcore/internal/btcunit"
)

// Header is a normalized block header fact: the height the indexer reports
// for the block, its hash and the hash of its parent. The prev hash is what
// lets the sync engine detect that the indexer's chain no longer connects
// to the locally stored checkpoints.
type Header struct {
	// Height is the block height as reported by the indexer.
	Height int32

	// Hash is the block hash.
	Hash chainhash.Hash

	// PrevHash is the hash of the parent block.
	PrevHash chainhash.Hash

	// Timestamp is the block's timestamp.
	Timestamp time.Time
}

// TxFact is a normalized transaction fact returned by the indexer. The
// confirmation fields describe the indexer's current view and may change
// between queries (confirmations can vanish in a reorg).
type TxFact struct {
	// TxID is the transaction hash.
	TxID chainhash.Hash

	// Tx is the full deserialized transaction.
	Tx *wire.MsgTx

	// Height is the confirmation height, or UnconfirmedHeight if the
	// indexer reports the transaction as unconfirmed.
	Height int32

	// BlockHash is the hash of the confirming block. Nil when
	// unconfirmed.
	BlockHash *chainhash.Hash

	// Time is the block time for confirmed transactions and the zero
	// value otherwise.
	Time time.Time

	// Fee is the transaction fee as reported by the indexer, when known.
	Fee btcutil.Amount
}

// UnconfirmedHeight is the Height value used for transactions the indexer
// reports as unconfirmed.
const UnconfirmedHeight int32 = -1

// OutSpend is the indexer's spend status for a single output.
type OutSpend struct {
	// Spent is true if the indexer knows a transaction spending the
	// output.
	Spent bool

	// SpenderTxID is the hash of the spending transaction, when spent.
	SpenderTxID *chainhash.Hash

	// Height is the confirmation height of the spending transaction, or
	// UnconfirmedHeight.
	Height int32
}

// Source is the set of indexer queries the sync engine depends on. All
// calls honor the caller's context for cancellation and deadlines, and no
// ordering is guaranteed between concurrent calls.
//
// Errors returned by implementations wrap ErrNetwork for transient
// transport failures, ErrNotFound for missing entities and
// ErrBroadcastRejected for terminal broadcast refusals, so callers can
// decide retryability with errors.Is.
type Source interface {
	// FetchHeaders returns up to count consecutive headers starting at
	// fromHeight. Fewer headers are returned when the chain tip is below
	// fromHeight+count-1; an empty slice means fromHeight is above the
	// tip.
	FetchHeaders(ctx context.Context, fromHeight int32,
		count int) ([]Header, error)

	// TipHash returns the hash of the indexer's current best block.
	TipHash(ctx context.Context) (chainhash.Hash, error)

	// TipHeight returns the height of the indexer's current best block.
	TipHeight(ctx context.Context) (int32, error)

	// FetchScriptHistory returns every transaction the indexer knows
	// that pays to or spends from any of the given output scripts.
	FetchScriptHistory(ctx context.Context,
		scripts [][]byte) ([]TxFact, error)

	// FetchTx returns the transaction with the given hash, or an error
	// wrapping ErrNotFound.
	FetchTx(ctx context.Context, txid chainhash.Hash) (TxFact, error)

	// FetchOutSpend returns the spend status of a single output.
	FetchOutSpend(ctx context.Context, op wire.OutPoint) (OutSpend, error)

	// FeeEstimates returns the indexer's fee estimates keyed by
	// confirmation target in blocks.
	FeeEstimates(ctx context.Context) (map[uint32]btcunit.SatPerVByte,
		error)

	// Broadcast submits a transaction to the network through the
	// indexer. A refusal is returned as an error wrapping
	// ErrBroadcastRejected carrying the indexer's reason.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}
