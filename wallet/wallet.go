// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet is the top level coordination layer: it owns the
// account set, drives chain synchronization against the store, and
// exposes the build, sign, broadcast and query operations platform
// bindings consume. Sync cycles and transaction builds run as
// independent tasks sharing the store; builds reserve their inputs
// through output leases, so a sync observing a spend and a concurrent
// build never race to use the same output.
package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/aurawallet/walletcore/chainsource"
	"github.com/aurawallet/walletcore/internal/btcunit"
	"github.com/aurawallet/walletcore/policy"
	"github.com/aurawallet/walletcore/txbuilder"
	"github.com/aurawallet/walletcore/wstore"
)

// account is the in-memory companion of a stored account: its parsed
// policy and the derivation window index.
type account struct {
	info  wstore.AccountInfo
	desc  *policy.Descriptor
	index *policy.ScriptIndex
}

// Wallet coordinates accounts, synchronization and transaction
// construction over one store and one chain source.
type Wallet struct {
	cfg Config

	mu       sync.RWMutex
	accounts map[int64]*account
	byName   map[string]int64

	// pendingOwn holds txids this wallet broadcast that the indexer
	// has not confirmed yet. They are re-queried every sync cycle so
	// their spends are recognized before the indexer indexes them.
	pendingOwn fn.Set[chainhash.Hash]

	// feeCache is the last fee estimate map fetched from the indexer,
	// refreshed once per sync cycle.
	feeCache   map[uint32]btcunit.SatPerVByte
	feeCacheAt time.Time

	syncer *syncer

	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a wallet and loads every account already present in the
// store.
func New(cfg Config) (*Wallet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	w := &Wallet{
		cfg:        cfg,
		accounts:   make(map[int64]*account),
		byName:     make(map[string]int64),
		pendingOwn: fn.NewSet[chainhash.Hash](),
		quit:       make(chan struct{}),
	}
	w.syncer = newSyncer(w)

	infos, err := cfg.Store.Accounts(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	for _, info := range infos {
		if err := w.loadAccount(context.Background(),
			info); err != nil {

			return nil, err
		}
	}

	return w, nil
}

// loadAccount parses a stored account's descriptor and restores its
// derivation window from the persisted cursors.
func (w *Wallet) loadAccount(ctx context.Context,
	info wstore.AccountInfo) error {

	desc, err := policy.Parse(info.Descriptor, w.cfg.ChainParams)
	if err != nil {
		return fmt.Errorf("account %q: %w", info.Name, err)
	}

	index, err := policy.NewScriptIndex(desc, w.cfg.GapLimit)
	if err != nil {
		return err
	}

	snap, err := w.cfg.Store.Snapshot(ctx, info.ID)
	if err != nil {
		return fmt.Errorf("account %q snapshot: %w", info.Name, err)
	}
	if err := index.Restore(snap.Cursors); err != nil {
		return err
	}

	w.mu.Lock()
	w.accounts[info.ID] = &account{
		info:  info,
		desc:  desc,
		index: index,
	}
	w.byName[info.Name] = info.ID
	w.mu.Unlock()

	// Unconfirmed transactions from a previous run keep being
	// re-queried until they confirm or are discarded.
	for _, record := range snap.Txs {
		if record.Height == wstore.UnconfirmedHeight {
			w.addPending(record.TxID)
		}
	}

	return nil
}

// addPending marks a txid as pending-own.
func (w *Wallet) addPending(txid chainhash.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pendingOwn.Add(txid)
}

// removePending clears a pending-own marking.
func (w *Wallet) removePending(txid chainhash.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pendingOwn.Remove(txid)
}

// pendingTxIDs snapshots the pending-own set.
func (w *Wallet) pendingTxIDs() []chainhash.Hash {
	w.mu.RLock()
	defer w.mu.RUnlock()

	txids := make([]chainhash.Hash, 0, len(w.pendingOwn))
	for txid := range w.pendingOwn {
		txids = append(txids, txid)
	}

	return txids
}

// Start launches the background sync loop. The loop checks the indexer
// tip every SyncInterval and runs a partial sync cycle when it moved.
func (w *Wallet) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("wallet already started")
	}
	w.started = true
	w.mu.Unlock()

	w.cfg.SyncTicker.Resume()

	w.wg.Add(1)
	go w.syncLoop()

	log.Infof("Wallet started, sync interval %v", w.cfg.SyncInterval)

	return nil
}

// Stop halts the background loop and waits for it to exit.
func (w *Wallet) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	w.cfg.SyncTicker.Stop()
	close(w.quit)
	w.wg.Wait()

	log.Infof("Wallet stopped")
}

// syncLoop runs cheap tip checks on every tick and full cycles only
// when the tip moved.
func (w *Wallet) syncLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.cfg.SyncTicker.Ticks():
			ctx, cancel := context.WithTimeout(
				context.Background(), w.cfg.SyncInterval,
			)

			due, err := w.ShouldSync(ctx)
			if err != nil {
				log.Warnf("Tip check failed: %v", err)
				cancel()
				continue
			}
			if !due {
				cancel()
				continue
			}

			if _, err := w.Sync(ctx, SyncModePartial); err != nil {
				log.Errorf("Background sync failed: %v", err)
			}
			cancel()

		case <-w.quit:
			return
		}
	}
}

// OpenAccount creates an account under the given spending policy, or
// returns the existing account when name and descriptor both match.
// Malformed or unsupported descriptors fail closed.
func (w *Wallet) OpenAccount(ctx context.Context, name,
	descriptor string, birthday time.Time) (wstore.AccountInfo, error) {

	desc, err := policy.Parse(descriptor, w.cfg.ChainParams)
	if err != nil {
		return wstore.AccountInfo{}, err
	}

	info, err := w.cfg.Store.CreateAccount(
		ctx, name, desc.String(), birthday,
	)
	switch {
	case errors.Is(err, wstore.ErrAccountExists):
		existing, lookupErr := w.cfg.Store.Account(ctx, name)
		if lookupErr != nil {
			return wstore.AccountInfo{}, lookupErr
		}
		if existing.Descriptor != desc.String() {
			return wstore.AccountInfo{}, fmt.Errorf("%w: name "+
				"%q bound to a different policy", err, name)
		}
		info = existing

	case err != nil:
		return wstore.AccountInfo{}, err
	}

	if _, ok := w.account(info.ID); !ok {
		if err := w.loadAccount(ctx, info); err != nil {
			return wstore.AccountInfo{}, err
		}
	}

	log.Infof("Account %q opened, id %d", name, info.ID)

	return info, nil
}

// account returns the loaded account by id.
func (w *Wallet) account(id int64) (*account, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	acct, ok := w.accounts[id]
	return acct, ok
}

// accountByName resolves an account name.
func (w *Wallet) accountByName(name string) (*account, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	id, ok := w.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAccountNotFound, name)
	}

	return w.accounts[id], nil
}

// Accounts lists the loaded accounts.
func (w *Wallet) Accounts() []wstore.AccountInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	infos := make([]wstore.AccountInfo, 0, len(w.accounts))
	for _, acct := range w.accounts {
		infos = append(infos, acct.info)
	}

	return infos
}

// Balance returns the account's confirmed and unconfirmed balance,
// recomputed from the unspent output set.
func (w *Wallet) Balance(ctx context.Context, name string) (wstore.Balance,
	error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return wstore.Balance{}, err
	}

	snap, err := w.cfg.Store.Snapshot(ctx, acct.info.ID)
	if err != nil {
		return wstore.Balance{}, err
	}

	return snap.Balance, nil
}

// NewAddress returns the next unused external address and advances the
// account's revealed frontier so the next caller gets a fresh one.
func (w *Wallet) NewAddress(ctx context.Context, name string) (
	btcutil.Address, error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return nil, err
	}

	index := acct.index.NextUnused(policy.BranchExternal)

	addr, err := acct.desc.AddressAt(policy.BranchExternal, index)
	if err != nil {
		return nil, err
	}

	// Persist the advanced cursor so a restart does not hand out the
	// same address again.
	err = w.cfg.Store.ApplyDelta(ctx, &wstore.Delta{
		CursorAccountID: acct.info.ID,
		Cursors: map[policy.Branch]uint32{
			policy.BranchExternal: index + 1,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := acct.index.MarkUsed(
		policy.BranchExternal, index,
	); err != nil {
		return nil, err
	}

	return addr, nil
}

// History returns the account's transactions, unconfirmed first, then
// newest confirmations.
func (w *Wallet) History(ctx context.Context, name string) (
	[]wstore.TxRecord, error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return nil, err
	}

	snap, err := w.cfg.Store.Snapshot(ctx, acct.info.ID)
	if err != nil {
		return nil, err
	}

	return snap.Txs, nil
}

// GetTx returns one of the account's transactions.
func (w *Wallet) GetTx(ctx context.Context, name string,
	txid chainhash.Hash) (wstore.TxRecord, error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return wstore.TxRecord{}, err
	}

	return w.cfg.Store.Tx(ctx, acct.info.ID, txid)
}

// BuildTransaction funds a payment from the account: it selects and
// leases inputs, assembles the unsigned transaction with change to the
// next unused internal address, and returns the build ready for
// signing.
func (w *Wallet) BuildTransaction(ctx context.Context, name string,
	outputs []*wire.TxOut, feeRate btcunit.SatPerVByte) (
	*txbuilder.Builder, error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return nil, err
	}

	b, err := txbuilder.NewBuilder(txbuilder.Config{
		Descriptor:  acct.desc,
		Store:       w.cfg.Store,
		AccountID:   acct.info.ID,
		ChainParams: w.cfg.ChainParams,
		MaxFeeRate:  w.cfg.MaxFeeRate,
	})
	if err != nil {
		return nil, err
	}

	err = b.Fund(ctx, &txbuilder.FundReq{
		Outputs:     outputs,
		FeeRate:     feeRate,
		ChangeIndex: acct.index.NextUnused(policy.BranchInternal),
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Sweep drains the account to a single recipient script: every unspent
// output is selected and the full balance minus fee pays the recipient.
func (w *Wallet) Sweep(ctx context.Context, name string,
	recipientScript []byte, feeRate btcunit.SatPerVByte) (
	*txbuilder.Builder, error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return nil, err
	}

	b, err := txbuilder.NewBuilder(txbuilder.Config{
		Descriptor:  acct.desc,
		Store:       w.cfg.Store,
		AccountID:   acct.info.ID,
		ChainParams: w.cfg.ChainParams,
		MaxFeeRate:  w.cfg.MaxFeeRate,
	})
	if err != nil {
		return nil, err
	}

	err = b.FundSweep(ctx, &txbuilder.SweepReq{
		RecipientScript: recipientScript,
		FeeRate:         feeRate,
	})
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Broadcast records a signed transaction as a pending own transaction
// and submits it to the indexer. The local marking happens before
// submission and survives a rejection; the caller discards a rejected
// transaction explicitly with DiscardTx.
func (w *Wallet) Broadcast(ctx context.Context, name string,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	acct, err := w.accountByName(name)
	if err != nil {
		return chainhash.Hash{}, err
	}

	txid := tx.TxHash()

	delta, err := w.ownTxDelta(ctx, acct, tx)
	if err != nil {
		return chainhash.Hash{}, err
	}

	if err := w.cfg.Store.ApplyDelta(ctx, delta); err != nil {
		return chainhash.Hash{}, fmt.Errorf("record own tx: %w", err)
	}
	w.addPending(txid)

	if _, err := w.cfg.Chain.Broadcast(ctx, tx); err != nil {
		if errors.Is(err, chainsource.ErrBroadcastRejected) {
			log.Warnf("Broadcast of %v rejected: %v; local "+
				"marking retained until DiscardTx", txid, err)
		}

		return txid, err
	}

	log.Infof("Broadcast %v", txid)

	return txid, nil
}

// ownTxDelta builds the local state change for a transaction this
// wallet authored: the record itself, its owned outputs, and spend marks
// for every input consuming one of the account's outputs.
func (w *Wallet) ownTxDelta(ctx context.Context, acct *account,
	tx *wire.MsgTx) (*wstore.Delta, error) {

	var raw bytes.Buffer
	if err := tx.Serialize(&raw); err != nil {
		return nil, fmt.Errorf("serialize tx: %w", err)
	}

	txid := tx.TxHash()

	delta := &wstore.Delta{
		Txs: []wstore.TxRecord{{
			TxID:      txid,
			AccountID: acct.info.ID,
			Raw:       raw.Bytes(),
			Height:    wstore.UnconfirmedHeight,
			FirstSeen: time.Now(),
		}},
	}

	for i, out := range tx.TxOut {
		loc, ok := acct.index.Classify(out.PkScript)
		if !ok {
			continue
		}

		delta.Outputs = append(delta.Outputs, wstore.Output{
			OutPoint: wire.OutPoint{
				Hash:  txid,
				Index: uint32(i),
			},
			AccountID: acct.info.ID,
			Amount:    btcutil.Amount(out.Value),
			Script:    out.PkScript,
			Branch:    loc.Branch,
			Index:     loc.Index,
			Height:    wstore.UnconfirmedHeight,
		})
	}

	snap, err := w.cfg.Store.Snapshot(ctx, acct.info.ID)
	if err != nil {
		return nil, err
	}

	owned := make(map[wire.OutPoint]struct{}, len(snap.UTXOs))
	for _, utxo := range snap.UTXOs {
		owned[utxo.OutPoint] = struct{}{}
	}

	for _, txIn := range tx.TxIn {
		if _, ok := owned[txIn.PreviousOutPoint]; !ok {
			continue
		}

		delta.Spends = append(delta.Spends, wstore.Spend{
			AccountID: acct.info.ID,
			OutPoint:  txIn.PreviousOutPoint,
			SpentBy:   txid,
		})
	}

	return delta, nil
}

// DiscardTx drops a rejected or abandoned unconfirmed transaction:
// its record and outputs are removed and its inputs become spendable
// again.
func (w *Wallet) DiscardTx(ctx context.Context, name string,
	txid chainhash.Hash) error {

	acct, err := w.accountByName(name)
	if err != nil {
		return err
	}

	if err := w.cfg.Store.DiscardTx(ctx, acct.info.ID,
		txid); err != nil {

		return err
	}

	w.removePending(txid)

	return nil
}

// FeeEstimates returns the indexer's fee estimates by confirmation
// target. The copy cached by the last sync cycle is served when it is
// fresh enough.
func (w *Wallet) FeeEstimates(ctx context.Context) (
	map[uint32]btcunit.SatPerVByte, error) {

	w.mu.RLock()
	cached := w.feeCache
	at := w.feeCacheAt
	w.mu.RUnlock()

	if cached != nil && time.Since(at) < w.cfg.SyncInterval {
		return cached, nil
	}

	estimates, err := w.cfg.Chain.FeeEstimates(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.feeCache = estimates
	w.feeCacheAt = time.Now()
	w.mu.Unlock()

	return estimates, nil
}
