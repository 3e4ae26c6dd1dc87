// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"

	"github.com/aurawallet/walletcore/chainsource"
	"github.com/aurawallet/walletcore/policy"
	"github.com/aurawallet/walletcore/wstore"
)

const (
	// headerBatch is how many headers one poll round requests.
	headerBatch = 200

	// checkpointBatch is how many stored checkpoints one recovery
	// round loads while walking back to the common ancestor.
	checkpointBatch = 10

	// scanRounds bounds the window extension loop of a full scan. Each
	// round can only fire when the previous one found a used index at
	// the window's edge.
	scanRounds = 10
)

// SyncMode selects how much of the account's script space a cycle
// queries.
type SyncMode uint8

const (
	// SyncModePartial refreshes revealed scripts, watched outpoints
	// and unconfirmed transactions. The cheap steady-state cycle.
	SyncModePartial SyncMode = iota

	// SyncModeFull scans the whole derivation space with the gap
	// limit window, extending it as used indices are discovered. Used
	// for restores and first syncs.
	SyncModeFull
)

// String returns a human readable mode name.
func (m SyncMode) String() string {
	switch m {
	case SyncModePartial:
		return "partial"
	case SyncModeFull:
		return "full"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// SyncResult summarizes one completed cycle.
type SyncResult struct {
	// NewTxs is the number of transactions first seen this cycle.
	NewTxs int

	// NewConfirmations is the number of previously unconfirmed
	// transactions that confirmed this cycle.
	NewConfirmations int

	// ReorgDepth is how many blocks were disconnected, zero when the
	// chain extended cleanly.
	ReorgDepth int32
}

// syncState is the engine's position in the cycle.
type syncState uint32

const (
	syncIdle syncState = iota
	syncPolling
	syncReconciling
	syncApplying
	syncReorgRecovery
)

// String returns a human readable state name.
func (s syncState) String() string {
	switch s {
	case syncIdle:
		return "idle"
	case syncPolling:
		return "polling"
	case syncReconciling:
		return "reconciling"
	case syncApplying:
		return "applying"
	case syncReorgRecovery:
		return "reorg-recovery"
	default:
		return "unknown"
	}
}

// syncer drives sync cycles for a wallet. One cycle runs at a time.
type syncer struct {
	w *Wallet

	state   atomic.Uint32
	running atomic.Bool
}

func newSyncer(w *Wallet) *syncer {
	return &syncer{w: w}
}

// State returns the engine's current state.
func (s *syncer) State() syncState {
	return syncState(s.state.Load())
}

func (s *syncer) setState(next syncState) {
	prev := syncState(s.state.Swap(uint32(next)))
	if prev != next {
		log.Tracef("Sync state %v -> %v", prev, next)
	}
}

// reorgInfo describes a detected divergence from the stored chain.
type reorgInfo struct {
	happened bool

	// ancestor is the highest stored checkpoint still on the
	// indexer's chain.
	ancestor wstore.Checkpoint

	// depth is how many blocks above the ancestor were disconnected.
	depth int32
}

// SyncState reports the sync engine's current state name.
func (w *Wallet) SyncState() string {
	return w.syncer.State().String()
}

// ShouldSync reports whether the indexer's tip moved since the last
// applied cycle. It is the cheap check run before a full cycle.
func (w *Wallet) ShouldSync(ctx context.Context) (bool, error) {
	var tipHash chainhash.Hash
	err := w.withRetry(ctx, "tip hash", func() error {
		var err error
		tipHash, err = w.cfg.Chain.TipHash(ctx)
		return err
	})
	if err != nil {
		return false, err
	}

	cp, err := w.cfg.Store.TipCheckpoint(ctx)
	switch {
	case errors.Is(err, wstore.ErrNotFound):
		return true, nil
	case err != nil:
		return false, err
	}

	return tipHash != cp.Hash, nil
}

// Sync runs one synchronization cycle over every account: poll the
// indexer, reconcile the fetched facts against local state, and commit
// the resulting delta atomically. Only one cycle runs at a time.
func (w *Wallet) Sync(ctx context.Context, mode SyncMode) (*SyncResult,
	error) {

	return w.syncer.run(ctx, mode)
}

// withRetry retries fn on transient network failures with doubling
// backoff, up to the configured attempt budget.
func (w *Wallet) withRetry(ctx context.Context, op string,
	fn func() error) error {

	backoff := w.cfg.RetryBackoff

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, chainsource.ErrNetwork) ||
			attempt >= w.cfg.RetryAttempts {

			return err
		}

		log.Debugf("Transient failure in %s (attempt %d/%d): %v",
			op, attempt, w.cfg.RetryAttempts, err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
	}
}

// run executes one cycle.
func (s *syncer) run(ctx context.Context, mode SyncMode) (*SyncResult,
	error) {

	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)
	defer s.setState(syncIdle)

	start := time.Now()

	s.setState(syncPolling)
	headers, reorg, err := s.pollChain(ctx)
	if err != nil {
		return nil, err
	}

	// Commit the chain view first: reorg demotion, checkpoint
	// rollback and the new checkpoint frontier land in one atomic
	// delta before any transaction facts are applied on top.
	chainDelta := &wstore.Delta{}
	for _, header := range headers {
		chainDelta.Checkpoints = append(chainDelta.Checkpoints,
			wstore.Checkpoint{
				Height: header.Height,
				Hash:   header.Hash,
			},
		)
	}
	if reorg.happened {
		demoteFrom := reorg.ancestor.Height + 1
		rollbackTo := reorg.ancestor.Height
		chainDelta.DemoteFromHeight = &demoteFrom
		chainDelta.RollbackToHeight = &rollbackTo

		log.Warnf("Reorg of depth %d, rolling back to height %d",
			reorg.depth, rollbackTo)
	}

	s.setState(syncApplying)
	err = s.w.cfg.Store.ApplyDelta(context.WithoutCancel(ctx), chainDelta)
	if err != nil {
		return nil, fmt.Errorf("apply chain delta: %w", err)
	}

	result := &SyncResult{ReorgDepth: reorg.depth}

	for _, acct := range s.w.accountsSorted() {
		if err := s.syncAccount(ctx, acct, mode, result); err != nil {
			return nil, fmt.Errorf("account %q: %w",
				acct.info.Name, err)
		}
	}

	log.Infof("Sync cycle done in %v: %d new txs, %d confirmations, "+
		"reorg depth %d", time.Since(start), result.NewTxs,
		result.NewConfirmations, result.ReorgDepth)

	return result, nil
}

// accountsSorted returns the loaded accounts in stable id order.
func (w *Wallet) accountsSorted() []*account {
	w.mu.RLock()
	defer w.mu.RUnlock()

	accts := make([]*account, 0, len(w.accounts))
	for _, acct := range w.accounts {
		accts = append(accts, acct)
	}
	sort.Slice(accts, func(i, j int) bool {
		return accts[i].info.ID < accts[j].info.ID
	})

	return accts
}

// pollChain fetches the indexer's headers from the stored frontier,
// detecting and recovering from a divergence first.
func (s *syncer) pollChain(ctx context.Context) ([]chainsource.Header,
	reorgInfo, error) {

	var (
		reorg reorgInfo
		from  int32
	)

	cp, err := s.w.cfg.Store.TipCheckpoint(ctx)
	switch {
	case errors.Is(err, wstore.ErrNotFound):
		// First cycle: anchor the checkpoint frontier a recovery
		// window below the tip instead of walking the whole chain.
		var tip int32
		err := s.w.withRetry(ctx, "tip height", func() error {
			var err error
			tip, err = s.w.cfg.Chain.TipHeight(ctx)
			return err
		})
		if err != nil {
			return nil, reorg, err
		}

		from = tip - s.w.cfg.MaxReorgDepth
		if from < 0 {
			from = 0
		}

	case err != nil:
		return nil, reorg, err

	default:
		onChain, err := s.checkpointOnChain(ctx, cp)
		if err != nil {
			return nil, reorg, err
		}

		if !onChain {
			s.setState(syncReorgRecovery)

			ancestor, depth, err := s.findCommonAncestor(ctx, cp)
			if err != nil {
				return nil, reorg, err
			}
			reorg = reorgInfo{
				happened: true,
				ancestor: ancestor,
				depth:    depth,
			}
			from = ancestor.Height

			s.setState(syncPolling)
		} else {
			from = cp.Height
		}
	}

	var headers []chainsource.Header
	for {
		var batch []chainsource.Header
		err := s.w.withRetry(ctx, "fetch headers", func() error {
			var err error
			batch, err = s.w.cfg.Chain.FetchHeaders(
				ctx, from, headerBatch,
			)
			return err
		})
		if err != nil {
			return nil, reorg, err
		}
		if len(batch) == 0 {
			break
		}

		for i := 1; i < len(batch); i++ {
			if batch[i].PrevHash != batch[i-1].Hash {
				return nil, reorg, fmt.Errorf("headers %d "+
					"and %d do not connect",
					batch[i-1].Height, batch[i].Height)
			}
		}

		headers = append(headers, batch...)
		if len(batch) < headerBatch {
			break
		}
		from = batch[len(batch)-1].Height + 1
	}

	return headers, reorg, nil
}

// checkpointOnChain reports whether the stored checkpoint still names
// the block the indexer has at that height.
func (s *syncer) checkpointOnChain(ctx context.Context,
	cp wstore.Checkpoint) (bool, error) {

	var probe []chainsource.Header
	err := s.w.withRetry(ctx, "probe checkpoint", func() error {
		var err error
		probe, err = s.w.cfg.Chain.FetchHeaders(ctx, cp.Height, 1)
		return err
	})
	if err != nil {
		return false, err
	}

	return len(probe) == 1 && probe[0].Hash == cp.Hash, nil
}

// findCommonAncestor walks the stored checkpoints backward in batches
// until one still matches the indexer's chain. The walk is bounded by
// MaxReorgDepth; exceeding it fails with ErrReorgTooDeep.
func (s *syncer) findCommonAncestor(ctx context.Context,
	tip wstore.Checkpoint) (wstore.Checkpoint, int32, error) {

	height := tip.Height - 1
	walked := int32(1)

	for walked <= s.w.cfg.MaxReorgDepth && height >= 0 {
		cps, err := s.w.cfg.Store.CheckpointsBelow(
			ctx, height, checkpointBatch,
		)
		if err != nil {
			return wstore.Checkpoint{}, 0, err
		}
		if len(cps) == 0 {
			break
		}

		for _, cp := range cps {
			onChain, err := s.checkpointOnChain(ctx, cp)
			if err != nil {
				return wstore.Checkpoint{}, 0, err
			}
			if onChain {
				return cp, tip.Height - cp.Height, nil
			}

			walked++
			if walked > s.w.cfg.MaxReorgDepth {
				break
			}
		}

		height = cps[len(cps)-1].Height - 1
	}

	return wstore.Checkpoint{}, 0, fmt.Errorf("%w: no common ancestor "+
		"within %d blocks", ErrReorgTooDeep, s.w.cfg.MaxReorgDepth)
}

// syncAccount polls, reconciles and applies one account's facts.
func (s *syncer) syncAccount(ctx context.Context, acct *account,
	mode SyncMode, result *SyncResult) error {

	s.setState(syncPolling)
	facts, maxUsed, err := s.scanAccount(ctx, acct, mode)
	if err != nil {
		return err
	}

	s.setState(syncReconciling)
	delta, newTxs, newConfs, err := s.reconcile(ctx, acct, facts)
	if err != nil {
		return err
	}

	// Gap limit policy: the cursor lands one past the highest used
	// index, applied in the same commit as the facts that revealed
	// it. The store ignores cursors that would move backward.
	cursors := make(map[policy.Branch]uint32)
	for branch, used := range maxUsed {
		cursors[branch] = used + 1
	}
	if len(cursors) > 0 {
		delta.Cursors = cursors
		delta.CursorAccountID = acct.info.ID
	}

	if log.Level() <= btclog.LevelTrace {
		log.Tracef("Account %q delta: %v", acct.info.Name,
			spew.Sdump(delta))
	}

	// Commits are atomic and not cancellable once begun.
	s.setState(syncApplying)
	err = s.w.cfg.Store.ApplyDelta(context.WithoutCancel(ctx), delta)
	if err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}

	// Only after the commit does the in-memory window advance.
	for branch, used := range maxUsed {
		if err := acct.index.MarkUsed(branch, used); err != nil {
			return err
		}
	}

	for _, fact := range facts {
		if fact.Height >= 0 {
			s.w.removePending(fact.TxID)
		}
	}

	result.NewTxs += newTxs
	result.NewConfirmations += newConfs

	return nil
}

// scanLocator maps derived scripts back to their branch and index.
type scanLocator map[string]policy.ScriptLoc

// scanAccount queries the indexer for the account's transaction facts.
// It returns the facts keyed by txid and the highest used index
// discovered per branch.
func (s *syncer) scanAccount(ctx context.Context, acct *account,
	mode SyncMode) (map[chainhash.Hash]chainsource.TxFact,
	map[policy.Branch]uint32, error) {

	facts := make(map[chainhash.Hash]chainsource.TxFact)
	maxUsed := make(map[policy.Branch]uint32)

	locator := make(scanLocator)

	switch mode {
	case SyncModeFull:
		err := s.fullScan(ctx, acct, facts, maxUsed, locator)
		if err != nil {
			return nil, nil, err
		}

	default:
		err := s.partialScan(ctx, acct, facts, maxUsed, locator)
		if err != nil {
			return nil, nil, err
		}
	}

	// Pending own transactions are queried directly so their
	// confirmations land before the indexer indexes their scripts.
	for _, txid := range s.w.pendingTxIDs() {
		if _, ok := facts[txid]; ok {
			continue
		}

		var fact chainsource.TxFact
		err := s.w.withRetry(ctx, "fetch pending tx", func() error {
			var err error
			fact, err = s.w.cfg.Chain.FetchTx(ctx, txid)
			return err
		})
		switch {
		case errors.Is(err, chainsource.ErrNotFound):
			// Not indexed yet, or evicted. Conflict handling
			// during reconcile decides which.
			continue

		case err != nil:
			return nil, nil, err
		}

		facts[fact.TxID] = fact
	}

	return facts, maxUsed, nil
}

// deriveRange extends the locator with scripts for indices
// [from, to) of one branch and returns them. Derivation goes through
// the account's script index so later classification knows every
// script the scan touched.
func deriveRange(acct *account, branch policy.Branch, from, to uint32,
	locator scanLocator) ([][]byte, error) {

	scripts := make([][]byte, 0, to-from)
	for i := from; i < to; i++ {
		script, err := acct.index.ScriptAt(branch, i)
		if err != nil {
			return nil, err
		}

		locator[string(script)] = policy.ScriptLoc{
			Branch: branch,
			Index:  i,
		}
		scripts = append(scripts, script)
	}

	return scripts, nil
}

// recordHits classifies fetched facts against the locator and advances
// the per-branch highest used index. It reports whether any index at or
// beyond the previous frontier was hit.
func recordHits(facts map[chainhash.Hash]chainsource.TxFact,
	locator scanLocator, frontier map[policy.Branch]uint32,
	maxUsed map[policy.Branch]uint32) bool {

	extended := false

	for _, fact := range facts {
		for _, out := range fact.Tx.TxOut {
			loc, ok := locator[string(out.PkScript)]
			if !ok {
				continue
			}

			used, seen := maxUsed[loc.Branch]
			if !seen || loc.Index > used {
				maxUsed[loc.Branch] = loc.Index
			}
			if loc.Index+1 > frontier[loc.Branch] {
				frontier[loc.Branch] = loc.Index + 1
				extended = true
			}
		}
	}

	return extended
}

// fullScan walks the whole derivation space with the gap limit window,
// extending the window while used indices keep appearing at its edge.
func (s *syncer) fullScan(ctx context.Context, acct *account,
	facts map[chainhash.Hash]chainsource.TxFact,
	maxUsed map[policy.Branch]uint32, locator scanLocator) error {

	gap := s.w.cfg.GapLimit

	// frontier is one past the highest index believed used; the scan
	// covers frontier+gap per branch.
	frontier := map[policy.Branch]uint32{
		policy.BranchExternal: acct.index.NextUnused(
			policy.BranchExternal,
		),
		policy.BranchInternal: acct.index.NextUnused(
			policy.BranchInternal,
		),
	}
	derived := map[policy.Branch]uint32{
		policy.BranchExternal: 0,
		policy.BranchInternal: 0,
	}

	for round := 0; round < scanRounds; round++ {
		var pending [][]byte
		for _, branch := range policy.Branches {
			target := frontier[branch] + gap
			if target <= derived[branch] {
				continue
			}

			scripts, err := deriveRange(
				acct, branch, derived[branch], target,
				locator,
			)
			if err != nil {
				return err
			}

			derived[branch] = target
			pending = append(pending, scripts...)
		}

		if len(pending) == 0 {
			return nil
		}

		var fetched []chainsource.TxFact
		err := s.w.withRetry(ctx, "script history", func() error {
			var err error
			fetched, err = s.w.cfg.Chain.FetchScriptHistory(
				ctx, pending,
			)
			return err
		})
		if err != nil {
			return err
		}

		for _, fact := range fetched {
			facts[fact.TxID] = fact
		}

		if !recordHits(facts, locator, frontier, maxUsed) {
			return nil
		}
	}

	log.Warnf("Full scan of account %q stopped after %d window "+
		"extensions", acct.info.Name, scanRounds)

	return nil
}

// partialScan refreshes the revealed script space, the unspent outputs
// and the unconfirmed transactions without walking the lookahead
// window.
func (s *syncer) partialScan(ctx context.Context, acct *account,
	facts map[chainhash.Hash]chainsource.TxFact,
	maxUsed map[policy.Branch]uint32, locator scanLocator) error {

	frontier := make(map[policy.Branch]uint32)

	var scripts [][]byte
	for _, branch := range policy.Branches {
		revealed := acct.index.NextUnused(branch)
		frontier[branch] = revealed

		// One gap's worth of lookahead keeps receives to not yet
		// revealed addresses visible without the full scan.
		derived, err := deriveRange(
			acct, branch, 0, revealed+s.w.cfg.GapLimit, locator,
		)
		if err != nil {
			return err
		}
		scripts = append(scripts, derived...)
	}

	var fetched []chainsource.TxFact
	err := s.w.withRetry(ctx, "script history", func() error {
		var err error
		fetched, err = s.w.cfg.Chain.FetchScriptHistory(ctx, scripts)
		return err
	})
	if err != nil {
		return err
	}

	for _, fact := range fetched {
		facts[fact.TxID] = fact
	}

	recordHits(facts, locator, frontier, maxUsed)

	// Watched outpoints: an external spend of one of our outputs does
	// not necessarily pay any of our scripts, so spend statuses are
	// queried directly.
	snap, err := s.w.cfg.Store.Snapshot(ctx, acct.info.ID)
	if err != nil {
		return err
	}

	for _, utxo := range snap.UTXOs {
		var spend chainsource.OutSpend
		err := s.w.withRetry(ctx, "out spend", func() error {
			var err error
			spend, err = s.w.cfg.Chain.FetchOutSpend(
				ctx, utxo.OutPoint,
			)
			return err
		})
		if err != nil {
			return err
		}

		if !spend.Spent || spend.SpenderTxID == nil {
			continue
		}
		if _, ok := facts[*spend.SpenderTxID]; ok {
			continue
		}

		var fact chainsource.TxFact
		err = s.w.withRetry(ctx, "fetch spender", func() error {
			var err error
			fact, err = s.w.cfg.Chain.FetchTx(
				ctx, *spend.SpenderTxID,
			)
			return err
		})
		if err != nil {
			return err
		}

		facts[fact.TxID] = fact
	}

	return nil
}

// reconcile diffs fetched facts against stored state and produces the
// delta one commit applies: new and updated transaction records, owned
// outputs, spend marks, and evictions of conflicted unconfirmed
// transactions.
func (s *syncer) reconcile(ctx context.Context, acct *account,
	facts map[chainhash.Hash]chainsource.TxFact) (*wstore.Delta, int,
	int, error) {

	snap, err := s.w.cfg.Store.Snapshot(ctx, acct.info.ID)
	if err != nil {
		return nil, 0, 0, err
	}

	known := make(map[chainhash.Hash]wstore.TxRecord, len(snap.Txs))
	for _, record := range snap.Txs {
		known[record.TxID] = record
	}

	// Every output the account has ever seen, for spend attribution.
	// Spent outputs matter too: after a conflict eviction the winning
	// spender must still be recognized as spending ours.
	ownedOuts := make(map[wire.OutPoint]struct{})
	for _, record := range snap.Txs {
		tx := &wire.MsgTx{}
		if err := tx.Deserialize(
			bytes.NewReader(record.Raw),
		); err != nil {
			return nil, 0, 0, fmt.Errorf("deserialize stored "+
				"%v: %w", record.TxID, err)
		}

		for i, out := range tx.TxOut {
			if _, ok := acct.index.Classify(out.PkScript); ok {
				ownedOuts[wire.OutPoint{
					Hash:  record.TxID,
					Index: uint32(i),
				}] = struct{}{}
			}
		}
	}

	delta := &wstore.Delta{}
	newTxs, newConfs := 0, 0

	// Outputs created by facts in this batch may be spent by other
	// facts in the same batch, so collect them first.
	for _, fact := range facts {
		for i, out := range fact.Tx.TxOut {
			if _, ok := acct.index.Classify(out.PkScript); ok {
				ownedOuts[wire.OutPoint{
					Hash:  fact.TxID,
					Index: uint32(i),
				}] = struct{}{}
			}
		}
	}

	for _, fact := range factsSorted(facts) {
		relevant := false

		var outputs []wstore.Output
		for i, out := range fact.Tx.TxOut {
			loc, ok := acct.index.Classify(out.PkScript)
			if !ok {
				continue
			}
			relevant = true

			outputs = append(outputs, wstore.Output{
				OutPoint: wire.OutPoint{
					Hash:  fact.TxID,
					Index: uint32(i),
				},
				AccountID: acct.info.ID,
				Amount: btcutil.Amount(out.Value),
				Script: out.PkScript,
				Branch: loc.Branch,
				Index:  loc.Index,
				Height: fact.Height,
			})
		}

		var spends []wstore.Spend
		for _, txIn := range fact.Tx.TxIn {
			op := txIn.PreviousOutPoint
			if _, ok := ownedOuts[op]; !ok {
				continue
			}
			relevant = true

			spends = append(spends, wstore.Spend{
				AccountID: acct.info.ID,
				OutPoint:  op,
				SpentBy:   fact.TxID,
			})
		}

		if !relevant {
			continue
		}

		record, seen := known[fact.TxID]
		switch {
		case !seen:
			newTxs++
		case record.Height == wstore.UnconfirmedHeight &&
			fact.Height >= 0:

			newConfs++
		}

		var raw bytes.Buffer
		if err := fact.Tx.Serialize(&raw); err != nil {
			return nil, 0, 0, fmt.Errorf("serialize %v: %w",
				fact.TxID, err)
		}

		firstSeen := fact.Time
		if seen {
			firstSeen = record.FirstSeen
		} else if firstSeen.IsZero() {
			firstSeen = time.Now()
		}

		delta.Txs = append(delta.Txs, wstore.TxRecord{
			TxID:      fact.TxID,
			AccountID: acct.info.ID,
			Raw:       raw.Bytes(),
			Height:    fact.Height,
			BlockHash: fact.BlockHash,
			FirstSeen: firstSeen,
			Fee:       fact.Fee,
		})
		delta.Outputs = append(delta.Outputs, outputs...)
		delta.Spends = append(delta.Spends, spends...)
	}

	removed, err := s.findConflicts(snap, facts)
	if err != nil {
		return nil, 0, 0, err
	}
	delta.RemovedTxs = removed

	return delta, newTxs, newConfs, nil
}

// findConflicts locates stored unconfirmed transactions double-spent by
// a fetched fact: some other transaction consumes one of their inputs.
func (s *syncer) findConflicts(snap *wstore.Snapshot,
	facts map[chainhash.Hash]chainsource.TxFact) ([]chainhash.Hash,
	error) {

	// Who spends each outpoint, per the fetched facts.
	spenders := make(map[wire.OutPoint]chainhash.Hash)
	for _, fact := range facts {
		for _, txIn := range fact.Tx.TxIn {
			spenders[txIn.PreviousOutPoint] = fact.TxID
		}
	}

	var removed []chainhash.Hash
	for _, record := range snap.Txs {
		if record.Height != wstore.UnconfirmedHeight {
			continue
		}
		if _, stillKnown := facts[record.TxID]; stillKnown {
			continue
		}

		tx := &wire.MsgTx{}
		if err := tx.Deserialize(
			bytes.NewReader(record.Raw),
		); err != nil {
			return nil, fmt.Errorf("deserialize stored %v: %w",
				record.TxID, err)
		}

		for _, txIn := range tx.TxIn {
			spender, ok := spenders[txIn.PreviousOutPoint]
			if ok && spender != record.TxID {
				log.Infof("Unconfirmed tx %v conflicted by "+
					"%v, removing", record.TxID, spender)

				removed = append(removed, record.TxID)
				s.w.removePending(record.TxID)
				break
			}
		}
	}

	return removed, nil
}

// factsSorted returns facts in deterministic order: confirmed by height
// first, then unconfirmed by txid.
func factsSorted(
	facts map[chainhash.Hash]chainsource.TxFact) []chainsource.TxFact {

	out := make([]chainsource.TxFact, 0, len(facts))
	for _, fact := range facts {
		out = append(out, fact)
	}

	sort.Slice(out, func(i, j int) bool {
		hi, hj := out[i].Height, out[j].Height
		if hi != hj {
			// Unconfirmed last.
			if hi == wstore.UnconfirmedHeight {
				return false
			}
			if hj == wstore.UnconfirmedHeight {
				return true
			}
			return hi < hj
		}
		return bytes.Compare(out[i].TxID[:], out[j].TxID[:]) < 0
	})

	return out
}
