// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/aurawallet/walletcore/chainsource"
	"github.com/aurawallet/walletcore/internal/btcunit"
	"github.com/aurawallet/walletcore/policy"
	"github.com/aurawallet/walletcore/wstore"
)

var testParams = &chaincfg.RegressionNetParams

// fakeChain is an in-memory indexer the sync engine runs against. It
// serves headers from a mutable chain and transaction facts from a
// mempool-plus-blocks view, and can inject transient network failures.
type fakeChain struct {
	mu sync.Mutex

	// salt distinguishes block hashes across reorged branches.
	salt byte

	// headers holds the chain; headers[i].Height == i.
	headers []chainsource.Header

	txs map[chainhash.Hash]*chainsource.TxFact

	// netFailures is a countdown of injected transient failures, one
	// consumed per call.
	netFailures int

	// rejectBroadcasts makes Broadcast refuse submissions.
	rejectBroadcasts bool

	broadcasts []chainhash.Hash
}

func newFakeChain(tip int32) *fakeChain {
	f := &fakeChain{
		txs: make(map[chainhash.Hash]*chainsource.TxFact),
	}
	f.appendBlocks(int(tip) + 1)

	return f
}

func fakeBlockHash(height int32, salt byte) chainhash.Hash {
	var h chainhash.Hash
	binary.LittleEndian.PutUint32(h[:4], uint32(height))
	h[4] = salt
	h[5] = 0xb1

	return h
}

func (f *fakeChain) appendBlocks(n int) {
	for i := 0; i < n; i++ {
		height := int32(len(f.headers))

		var prev chainhash.Hash
		if height > 0 {
			prev = f.headers[height-1].Hash
		}

		f.headers = append(f.headers, chainsource.Header{
			Height:    height,
			Hash:      fakeBlockHash(height, f.salt),
			PrevHash:  prev,
			Timestamp: time.Unix(1700000000+int64(height)*600, 0),
		})
	}
}

// addMempoolTx registers an unconfirmed transaction.
func (f *fakeChain) addMempoolTx(tx *wire.MsgTx) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.txs[tx.TxHash()] = &chainsource.TxFact{
		TxID:   tx.TxHash(),
		Tx:     tx,
		Height: chainsource.UnconfirmedHeight,
	}
}

// confirmTx mines one block containing the transaction. Mempool
// transactions conflicting with it are evicted, the way a real indexer
// drops the loser of a double spend.
func (f *fakeChain) confirmTx(tx *wire.MsgTx) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.appendBlocks(1)
	tip := f.headers[len(f.headers)-1]

	spent := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		spent[txIn.PreviousOutPoint] = struct{}{}
	}
	for txid, fact := range f.txs {
		if txid == tx.TxHash() ||
			fact.Height != chainsource.UnconfirmedHeight {

			continue
		}
		for _, txIn := range fact.Tx.TxIn {
			if _, ok := spent[txIn.PreviousOutPoint]; ok {
				delete(f.txs, txid)
				break
			}
		}
	}

	blockHash := tip.Hash
	f.txs[tx.TxHash()] = &chainsource.TxFact{
		TxID:      tx.TxHash(),
		Tx:        tx,
		Height:    tip.Height,
		BlockHash: &blockHash,
		Time:      tip.Timestamp,
	}
}

// reorg disconnects the last depth blocks, demotes their transactions
// to the mempool and extends a new branch one block longer than the old
// one.
func (f *fakeChain) reorg(depth int32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.headers = f.headers[:int32(len(f.headers))-depth]
	newTip := int32(len(f.headers)) - 1
	f.salt++

	for _, fact := range f.txs {
		if fact.Height > newTip {
			fact.Height = chainsource.UnconfirmedHeight
			fact.BlockHash = nil
			fact.Time = time.Time{}
		}
	}

	f.appendBlocks(int(depth) + 1)
}

// failNext makes the next n calls fail with a transient network error.
func (f *fakeChain) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.netFailures = n
}

func (f *fakeChain) maybeFail() error {
	if f.netFailures > 0 {
		f.netFailures--
		return fmt.Errorf("injected: %w", chainsource.ErrNetwork)
	}

	return nil
}

func (f *fakeChain) FetchHeaders(_ context.Context, fromHeight int32,
	count int) ([]chainsource.Header, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return nil, err
	}

	if fromHeight < 0 {
		fromHeight = 0
	}
	if int(fromHeight) >= len(f.headers) {
		return nil, nil
	}

	end := int(fromHeight) + count
	if end > len(f.headers) {
		end = len(f.headers)
	}

	out := make([]chainsource.Header, end-int(fromHeight))
	copy(out, f.headers[fromHeight:end])

	return out, nil
}

func (f *fakeChain) TipHash(_ context.Context) (chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return chainhash.Hash{}, err
	}

	return f.headers[len(f.headers)-1].Hash, nil
}

func (f *fakeChain) TipHeight(_ context.Context) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return 0, err
	}

	return f.headers[len(f.headers)-1].Height, nil
}

func (f *fakeChain) FetchScriptHistory(_ context.Context,
	scripts [][]byte) ([]chainsource.TxFact, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return nil, err
	}

	watched := make(map[string]struct{}, len(scripts))
	for _, script := range scripts {
		watched[string(script)] = struct{}{}
	}

	paysWatched := func(fact *chainsource.TxFact) bool {
		for _, out := range fact.Tx.TxOut {
			if _, ok := watched[string(out.PkScript)]; ok {
				return true
			}
		}
		return false
	}

	var facts []chainsource.TxFact
	for _, fact := range f.txs {
		relevant := paysWatched(fact)

		// A transaction also belongs to a script's history when it
		// spends an output paying that script.
		if !relevant {
			for _, txIn := range fact.Tx.TxIn {
				prev, ok := f.txs[txIn.PreviousOutPoint.Hash]
				if !ok {
					continue
				}
				idx := txIn.PreviousOutPoint.Index
				if int(idx) >= len(prev.Tx.TxOut) {
					continue
				}
				script := prev.Tx.TxOut[idx].PkScript
				if _, ok := watched[string(script)]; ok {
					relevant = true
					break
				}
			}
		}

		if relevant {
			facts = append(facts, *fact)
		}
	}

	return facts, nil
}

func (f *fakeChain) FetchTx(_ context.Context, txid chainhash.Hash) (
	chainsource.TxFact, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return chainsource.TxFact{}, err
	}

	fact, ok := f.txs[txid]
	if !ok {
		return chainsource.TxFact{}, fmt.Errorf("tx %v: %w", txid,
			chainsource.ErrNotFound)
	}

	return *fact, nil
}

func (f *fakeChain) FetchOutSpend(_ context.Context, op wire.OutPoint) (
	chainsource.OutSpend, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return chainsource.OutSpend{}, err
	}

	for txid, fact := range f.txs {
		for _, txIn := range fact.Tx.TxIn {
			if txIn.PreviousOutPoint != op {
				continue
			}

			spender := txid
			return chainsource.OutSpend{
				Spent:       true,
				SpenderTxID: &spender,
				Height:      fact.Height,
			}, nil
		}
	}

	return chainsource.OutSpend{}, nil
}

func (f *fakeChain) FeeEstimates(_ context.Context) (
	map[uint32]btcunit.SatPerVByte, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return nil, err
	}

	return map[uint32]btcunit.SatPerVByte{1: 5, 6: 2, 144: 1}, nil
}

func (f *fakeChain) Broadcast(_ context.Context, tx *wire.MsgTx) (
	chainhash.Hash, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.maybeFail(); err != nil {
		return chainhash.Hash{}, err
	}

	txid := tx.TxHash()

	if f.rejectBroadcasts {
		return chainhash.Hash{}, fmt.Errorf("%w: "+
			"min relay fee not met", chainsource.ErrBroadcastRejected)
	}

	f.txs[txid] = &chainsource.TxFact{
		TxID:   txid,
		Tx:     tx,
		Height: chainsource.UnconfirmedHeight,
	}
	f.broadcasts = append(f.broadcasts, txid)

	return txid, nil
}

// testDescriptor builds a wpkh descriptor from a deterministic seed.
func testDescriptor(t *testing.T, seed byte) (string,
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

	return fmt.Sprintf("wpkh([%x/84h/1h/0h]%s/<0;1>/*)", fingerprint,
		xpub.String()), master
}

// walletEnv wires a wallet to a fake chain and a fresh sqlite store,
// with one open account.
type walletEnv struct {
	chain  *fakeChain
	store  *wstore.Store
	w      *Wallet
	desc   *policy.Descriptor
	master *hdkeychain.ExtendedKey
}

const testAccount = "default"

func newWalletEnv(t *testing.T, tip int32,
	tweak func(*Config)) *walletEnv {

	t.Helper()

	descStr, master := testDescriptor(t, 0x42)

	return newWalletEnvWithDescriptor(t, tip, descStr, master, tweak)
}

func newWalletEnvWithDescriptor(t *testing.T, tip int32, descStr string,
	master *hdkeychain.ExtendedKey, tweak func(*Config)) *walletEnv {

	t.Helper()

	desc, err := policy.Parse(descStr, testParams)
	require.NoError(t, err)

	store, err := wstore.OpenSQLite(&wstore.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "wallet.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	chain := newFakeChain(tip)

	cfg := Config{
		Chain:        chain,
		Store:        store,
		ChainParams:  testParams,
		GapLimit:     5,
		RetryBackoff: time.Millisecond,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	w, err := New(cfg)
	require.NoError(t, err)

	_, err = w.OpenAccount(
		context.Background(), testAccount, descStr,
		time.Unix(1700000000, 0),
	)
	require.NoError(t, err)

	return &walletEnv{
		chain:  chain,
		store:  store,
		w:      w,
		desc:   desc,
		master: master,
	}
}

// fundAt confirms one chain transaction paying the given amount to the
// external script at the given index.
func (e *walletEnv) fundAt(t *testing.T, index uint32,
	amount btcutil.Amount) (wire.OutPoint, *wire.MsgTx) {

	t.Helper()

	script, err := e.desc.ScriptAt(policy.BranchExternal, index)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  fakeBlockHash(int32(index)+1000, 0xee),
			Index: 0,
		},
	})
	tx.AddTxOut(wire.NewTxOut(int64(amount), script))

	e.chain.confirmTx(tx)

	return wire.OutPoint{Hash: tx.TxHash(), Index: 0}, tx
}

// foreignScript is an output script the test account does not own.
func foreignScript(fill byte) []byte {
	return append(
		[]byte{txscript.OP_0, txscript.OP_DATA_20},
		bytes.Repeat([]byte{fill}, 20)...,
	)
}

// spendTx crafts an unsigned transaction consuming the given outpoint.
// The fake chain does not validate witnesses.
func spendTx(op wire.OutPoint, outputs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: op})
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	return tx
}

func (e *walletEnv) balance(t *testing.T) wstore.Balance {
	t.Helper()

	balance, err := e.w.Balance(context.Background(), testAccount)
	require.NoError(t, err)

	return balance
}

// TestFirstSyncDiscoversFunds runs a full sync from an empty store and
// checks the discovered balance, checkpoint frontier and idempotent
// re-application.
func TestFirstSyncDiscoversFunds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 120, nil)
	env.fundAt(t, 0, 100_000)

	res, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)
	require.Equal(t, 1, res.NewTxs)
	require.Equal(t, int32(0), res.ReorgDepth)

	balance := env.balance(t)
	require.Equal(t, btcutil.Amount(100_000), balance.Confirmed)
	require.Equal(t, btcutil.Amount(0), balance.Unconfirmed)

	// The checkpoint frontier tracks the indexer's tip.
	cp, err := env.store.TipCheckpoint(ctx)
	require.NoError(t, err)

	tipHash, err := env.chain.TipHash(ctx)
	require.NoError(t, err)
	require.Equal(t, tipHash, cp.Hash)

	// Nothing moved, so a second cycle changes nothing.
	res, err = env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)
	require.Zero(t, res.NewTxs)
	require.Zero(t, res.NewConfirmations)
	require.Equal(t, btcutil.Amount(100_000), env.balance(t).Confirmed)
}

// TestGapLimitDiscovery funds scattered external indices and checks the
// full scan extends its window past each used index.
func TestGapLimitDiscovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 120, nil)

	// Index 7 lies beyond the initial window of 5 and is only reached
	// once the hit at index 3 extends the window.
	env.fundAt(t, 3, 50_000)
	env.fundAt(t, 7, 25_000)

	res, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)
	require.Equal(t, 2, res.NewTxs)

	require.Equal(t, btcutil.Amount(75_000), env.balance(t).Confirmed)

	// The cursor lands one past the highest used index, and persists.
	acct, err := env.w.accountByName(testAccount)
	require.NoError(t, err)
	require.Equal(t, uint32(8),
		acct.index.NextUnused(policy.BranchExternal))

	snap, err := env.store.Snapshot(ctx, acct.info.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(8), snap.Cursors[policy.BranchExternal])
}

// TestReorgDemotesAndReconfirms disconnects blocks under a confirmed
// transaction and checks demotion, the reported depth, and eventual
// reconfirmation on the new branch.
func TestReorgDemotesAndReconfirms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 120, nil)
	_, fundTx := env.fundAt(t, 0, 100_000)

	_, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(100_000), env.balance(t).Confirmed)

	// Disconnect the confirming block and two more.
	env.chain.reorg(3)

	res, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)
	require.Equal(t, int32(3), res.ReorgDepth)

	balance := env.balance(t)
	require.Equal(t, btcutil.Amount(0), balance.Confirmed)
	require.Equal(t, btcutil.Amount(100_000), balance.Unconfirmed)

	record, err := env.w.GetTx(ctx, testAccount, fundTx.TxHash())
	require.NoError(t, err)
	require.Equal(t, wstore.UnconfirmedHeight, record.Height)

	// No stored output may claim a height above the new tip.
	acct, err := env.w.accountByName(testAccount)
	require.NoError(t, err)
	snap, err := env.store.Snapshot(ctx, acct.info.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.Tip)
	for _, utxo := range snap.UTXOs {
		require.LessOrEqual(t, utxo.Height, snap.Tip.Height)
	}

	// The new branch confirms the transaction again.
	env.chain.confirmTx(fundTx)

	res, err = env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)
	require.Equal(t, 1, res.NewConfirmations)
	require.Equal(t, btcutil.Amount(100_000), env.balance(t).Confirmed)
}

// TestReorgTooDeep bounds recovery: a divergence past MaxReorgDepth
// fails the cycle instead of silently rescanning.
func TestReorgTooDeep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 50, func(cfg *Config) {
		cfg.MaxReorgDepth = 3
	})

	_, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	env.chain.reorg(6)

	_, err = env.w.Sync(ctx, SyncModeFull)
	require.ErrorIs(t, err, ErrReorgTooDeep)
}

// TestShouldSync is the cheap tip comparison: true before the first
// cycle, false after, true again once a block is mined.
func TestShouldSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 120, nil)

	due, err := env.w.ShouldSync(ctx)
	require.NoError(t, err)
	require.True(t, due)

	_, err = env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	due, err = env.w.ShouldSync(ctx)
	require.NoError(t, err)
	require.False(t, due)

	env.chain.mineEmpty()

	due, err = env.w.ShouldSync(ctx)
	require.NoError(t, err)
	require.True(t, due)
}

// TestBroadcastThenSync checks that a broadcast transaction is visible
// locally before the indexer indexes it, and confirms through a later
// cycle.
func TestBroadcastThenSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 120, nil)
	op, _ := env.fundAt(t, 0, 100_000)

	_, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	// Spend the funded output: 30k back to the internal branch, the
	// rest to a foreign script.
	changeScript, err := env.desc.ScriptAt(policy.BranchInternal, 0)
	require.NoError(t, err)

	tx := spendTx(op,
		wire.NewTxOut(69_000, foreignScript(0xab)),
		wire.NewTxOut(30_000, changeScript),
	)

	txid, err := env.w.Broadcast(ctx, testAccount, tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), txid)

	// Visible immediately: the input is spent and the change output
	// exists, without any sync cycle.
	balance := env.balance(t)
	require.Equal(t, btcutil.Amount(0), balance.Confirmed)
	require.Equal(t, btcutil.Amount(30_000), balance.Unconfirmed)

	record, err := env.w.GetTx(ctx, testAccount, txid)
	require.NoError(t, err)
	require.Equal(t, wstore.UnconfirmedHeight, record.Height)

	// Confirm on chain and sync.
	env.chain.confirmTx(tx)

	res, err := env.w.Sync(ctx, SyncModePartial)
	require.NoError(t, err)
	require.Equal(t, 1, res.NewConfirmations)

	balance = env.balance(t)
	require.Equal(t, btcutil.Amount(30_000), balance.Confirmed)
	require.Equal(t, btcutil.Amount(0), balance.Unconfirmed)

	require.Empty(t, env.w.pendingTxIDs())
}

// TestRejectedBroadcastDiscard keeps the local marking after a rejected
// broadcast until the caller discards it, which frees the inputs.
func TestRejectedBroadcastDiscard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 120, nil)
	op, _ := env.fundAt(t, 0, 100_000)

	_, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	env.chain.rejectBroadcasts = true

	tx := spendTx(op, wire.NewTxOut(99_000, foreignScript(0xab)))

	txid, err := env.w.Broadcast(ctx, testAccount, tx)
	require.ErrorIs(t, err, chainsource.ErrBroadcastRejected)

	// The marking survives the rejection.
	_, err = env.w.GetTx(ctx, testAccount, txid)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(0), env.balance(t).Confirmed)

	require.NoError(t, env.w.DiscardTx(ctx, testAccount, txid))

	_, err = env.w.GetTx(ctx, testAccount, txid)
	require.ErrorIs(t, err, wstore.ErrNotFound)

	// The input is spendable again.
	require.Equal(t, btcutil.Amount(100_000), env.balance(t).Confirmed)
	require.Empty(t, env.w.pendingTxIDs())
}

// TestConflictEvictsOwnTx double-spends a broadcast transaction's input
// on chain and checks the local transaction is evicted in favor of the
// confirmed spender.
func TestConflictEvictsOwnTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 120, nil)
	op, _ := env.fundAt(t, 0, 100_000)

	_, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	ownTx := spendTx(op, wire.NewTxOut(99_000, foreignScript(0xab)))
	_, err = env.w.Broadcast(ctx, testAccount, ownTx)
	require.NoError(t, err)

	// A competing spend of the same input confirms instead.
	rivalTx := spendTx(op, wire.NewTxOut(98_000, foreignScript(0xcd)))
	env.chain.confirmTx(rivalTx)

	_, err = env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)

	// Ours is gone, the rival's spend is recorded, nothing is left to
	// spend.
	_, err = env.w.GetTx(ctx, testAccount, ownTx.TxHash())
	require.ErrorIs(t, err, wstore.ErrNotFound)

	rival, err := env.w.GetTx(ctx, testAccount, rivalTx.TxHash())
	require.NoError(t, err)
	require.NotEqual(t, wstore.UnconfirmedHeight, rival.Height)

	balance := env.balance(t)
	require.Equal(t, btcutil.Amount(0), balance.Total())
	require.Empty(t, env.w.pendingTxIDs())
}

// TestSyncSingleFlight rejects a cycle while another is running.
func TestSyncSingleFlight(t *testing.T) {
	t.Parallel()

	env := newWalletEnv(t, 50, nil)

	env.w.syncer.running.Store(true)
	_, err := env.w.Sync(context.Background(), SyncModePartial)
	require.ErrorIs(t, err, ErrSyncInProgress)
	env.w.syncer.running.Store(false)

	_, err = env.w.Sync(context.Background(), SyncModeFull)
	require.NoError(t, err)
}

// TestTransientFailureRetry survives injected network errors within the
// retry budget and fails once the budget is exhausted.
func TestTransientFailureRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newWalletEnv(t, 50, nil)
	env.fundAt(t, 0, 10_000)

	env.chain.failNext(2)

	_, err := env.w.Sync(ctx, SyncModeFull)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(10_000), env.balance(t).Confirmed)

	// More consecutive failures than attempts.
	env.chain.mineEmpty()
	env.chain.failNext(DefaultRetryAttempts)

	_, err = env.w.Sync(ctx, SyncModeFull)
	require.ErrorIs(t, err, chainsource.ErrNetwork)
}

// mineEmpty appends one empty block.
func (f *fakeChain) mineEmpty() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.appendBlocks(1)
}
