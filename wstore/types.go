// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wstore

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/aurawallet/walletcore/policy"
)

// UnconfirmedHeight is the height recorded for transactions and outputs
// that are not yet mined.
const UnconfirmedHeight int32 = -1

// AccountInfo describes a stored account.
type AccountInfo struct {
	// ID is the account's row id, used to key every other table.
	ID int64

	// Name is the caller-chosen unique account name.
	Name string

	// Descriptor is the account's spending policy in source form.
	Descriptor string

	// Birthday is the wall clock time before which no transactions of
	// this account can exist on chain.
	Birthday time.Time

	// CreatedAt is when the account row was created.
	CreatedAt time.Time
}

// TxRecord is one wallet-relevant transaction.
type TxRecord struct {
	// TxID is the transaction hash.
	TxID chainhash.Hash

	// AccountID is the owning account.
	AccountID int64

	// Raw is the serialized transaction.
	Raw []byte

	// Height is the confirmation height, or UnconfirmedHeight.
	Height int32

	// BlockHash is the hash of the confirming block, nil while
	// unconfirmed.
	BlockHash *chainhash.Hash

	// FirstSeen is when the wallet first learned of the transaction.
	FirstSeen time.Time

	// Fee is the transaction fee when known, zero otherwise.
	Fee btcutil.Amount
}

// Output is one transaction output owned by an account.
type Output struct {
	// OutPoint identifies the output.
	OutPoint wire.OutPoint

	// AccountID is the owning account.
	AccountID int64

	// Amount is the output value.
	Amount btcutil.Amount

	// Script is the output script.
	Script []byte

	// Branch and Index locate the script in the account's derivation
	// tree.
	Branch policy.Branch
	Index  uint32

	// Height is the confirmation height of the creating transaction,
	// or UnconfirmedHeight.
	Height int32

	// SpentBy is the transaction spending this output, nil while
	// unspent.
	SpentBy *chainhash.Hash
}

// Spend marks one output as consumed by a transaction.
type Spend struct {
	// AccountID is the account owning the spent output.
	AccountID int64

	// OutPoint is the spent output.
	OutPoint wire.OutPoint

	// SpentBy is the spending transaction.
	SpentBy chainhash.Hash
}

// Checkpoint anchors the locally believed chain at one height.
type Checkpoint struct {
	Height int32
	Hash   chainhash.Hash
}

// Delta is one atomic batch of state changes produced by a sync cycle.
// Applying the same delta twice leaves the store unchanged.
type Delta struct {
	// Txs are transaction records to insert or update. An existing
	// record is updated in place, which is how confirmations and
	// reorg demotions land.
	Txs []TxRecord

	// Outputs are outputs to insert or update.
	Outputs []Output

	// Spends mark outputs as consumed.
	Spends []Spend

	// RemovedTxs are transactions evicted by conflict. Their records
	// and outputs are deleted and any spend attributed to them is
	// cleared.
	RemovedTxs []chainhash.Hash

	// DemoteFromHeight, when set, demotes every transaction and output
	// confirmed at or above the given height back to unconfirmed.
	// Used by reorg recovery before re-confirming on the new chain.
	DemoteFromHeight *int32

	// RollbackToHeight, when set, deletes every checkpoint above the
	// given height before new checkpoints are written.
	RollbackToHeight *int32

	// Checkpoints extend or overwrite the checkpoint frontier.
	Checkpoints []Checkpoint

	// Cursors advance per-branch derivation cursors. A cursor never
	// moves backward.
	Cursors map[policy.Branch]uint32

	// CursorAccountID is the account the Cursors entries belong to.
	CursorAccountID int64
}

// Balance is an account balance split by confirmation status. Both
// figures are recomputed from the unspent output set on every read.
type Balance struct {
	Confirmed   btcutil.Amount
	Unconfirmed btcutil.Amount
}

// Total returns the combined confirmed and unconfirmed balance.
func (b Balance) Total() btcutil.Amount {
	return b.Confirmed + b.Unconfirmed
}

// Snapshot is a point-in-time consistent view of one account.
type Snapshot struct {
	// Account is the account the snapshot describes.
	Account AccountInfo

	// UTXOs are the account's unspent outputs.
	UTXOs []Output

	// Balance is the recomputed balance.
	Balance Balance

	// Txs is the account's transaction history, confirmed records
	// first in descending height order, then unconfirmed records in
	// descending first-seen order.
	Txs []TxRecord

	// Tip is the latest checkpoint, nil before the first sync.
	Tip *Checkpoint

	// Cursors are the account's per-branch derivation cursors.
	Cursors map[policy.Branch]uint32
}

// LeaseID identifies the holder of an output lease.
type LeaseID [32]byte

// Lease is an active reservation on one output.
type Lease struct {
	ID       LeaseID
	OutPoint wire.OutPoint
	Expiry   time.Time
}
