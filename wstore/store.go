// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wstore owns the canonical wallet state: accounts, transaction
// records, outputs with their spent status, chain checkpoints, derivation
// cursors and output leases. The store is single-writer. Every mutation
// runs inside one database transaction under a store-level writer mutex,
// so a delta is either fully visible or not at all, and reads never see a
// partially applied delta.
package wstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/aurawallet/walletcore/policy"
)

// Store is a SQL-backed wallet state store. It works against both the
// sqlite and postgres backends through database/sql; the only per-backend
// difference is the placeholder syntax handled by rebind.
type Store struct {
	db *sql.DB

	// rebind translates ?-style placeholders into the backend's
	// syntax.
	rebind func(string) string

	// mu serializes all writers. Readers go straight to the database.
	mu sync.Mutex

	// now is the time source, replaceable in tests.
	now func() time.Time
}

// newStore wires a store around an open database handle.
func newStore(db *sql.DB, rebind func(string) string) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &Store{
		db:     db,
		rebind: rebind,
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// execInTx runs fn inside one database transaction under the writer
// mutex, committing on success and rolling back on error.
func (s *Store) execInTx(ctx context.Context,
	fn func(tx *sql.Tx) error) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// CreateAccount inserts a new account and seeds its derivation cursors
// at zero.
func (s *Store) CreateAccount(ctx context.Context, name, descriptor string,
	birthday time.Time) (AccountInfo, error) {

	var info AccountInfo

	err := s.execInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO accounts (name, descriptor, birthday,
				created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (name) DO NOTHING`),
			name, descriptor, birthday.Unix(), s.now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return fmt.Errorf("%w: %s", ErrAccountExists, name)
		}

		row := tx.QueryRowContext(ctx, s.rebind(`
			SELECT id, created_at FROM accounts WHERE name = ?`),
			name,
		)

		var createdAt int64
		if err := row.Scan(&info.ID, &createdAt); err != nil {
			return fmt.Errorf("read back account: %w", err)
		}

		info.Name = name
		info.Descriptor = descriptor
		info.Birthday = birthday
		info.CreatedAt = time.Unix(createdAt, 0)

		for _, branch := range policy.Branches {
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO cursors (account_id, branch,
					next_index)
				VALUES (?, ?, 0)`),
				info.ID, uint32(branch),
			)
			if err != nil {
				return fmt.Errorf("seed cursor: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return AccountInfo{}, err
	}

	log.Infof("Created account %s (id=%d)", name, info.ID)

	return info, nil
}

// Account returns the account with the given name.
func (s *Store) Account(ctx context.Context, name string) (AccountInfo,
	error) {

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, descriptor, birthday, created_at
		FROM accounts WHERE name = ?`),
		name,
	)

	return scanAccount(row)
}

// AccountByID returns the account with the given row id.
func (s *Store) AccountByID(ctx context.Context, id int64) (AccountInfo,
	error) {

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, descriptor, birthday, created_at
		FROM accounts WHERE id = ?`),
		id,
	)

	return scanAccount(row)
}

// Accounts lists every stored account.
func (s *Store) Accounts(ctx context.Context) ([]AccountInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, descriptor, birthday, created_at
		FROM accounts ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []AccountInfo
	for rows.Next() {
		info, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, info)
	}

	return accounts, rows.Err()
}

// rowScanner is satisfied by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (AccountInfo, error) {
	var (
		info      AccountInfo
		birthday  int64
		createdAt int64
	)

	err := row.Scan(
		&info.ID, &info.Name, &info.Descriptor, &birthday, &createdAt,
	)
	if err == sql.ErrNoRows {
		return AccountInfo{}, ErrNotFound
	}
	if err != nil {
		return AccountInfo{}, fmt.Errorf("scan account: %w", err)
	}

	info.Birthday = time.Unix(birthday, 0)
	info.CreatedAt = time.Unix(createdAt, 0)

	return info, nil
}

// ApplyDelta commits one sync delta atomically. Re-applying an identical
// delta is a no-op: records are upserted, spends overwrite with the same
// value and cursors never move backward.
func (s *Store) ApplyDelta(ctx context.Context, delta *Delta) error {
	return s.execInTx(ctx, func(tx *sql.Tx) error {
		for _, txid := range delta.RemovedTxs {
			if err := s.removeTx(ctx, tx, txid); err != nil {
				return err
			}
		}

		if delta.DemoteFromHeight != nil {
			err := s.demoteFrom(ctx, tx, *delta.DemoteFromHeight)
			if err != nil {
				return err
			}
		}

		if delta.RollbackToHeight != nil {
			_, err := tx.ExecContext(ctx, s.rebind(`
				DELETE FROM checkpoints WHERE height > ?`),
				*delta.RollbackToHeight,
			)
			if err != nil {
				return fmt.Errorf("rollback checkpoints: %w",
					err)
			}
		}

		for _, rec := range delta.Txs {
			if err := s.upsertTx(ctx, tx, rec); err != nil {
				return err
			}
		}

		for _, out := range delta.Outputs {
			if err := s.upsertOutput(ctx, tx, out); err != nil {
				return err
			}
		}

		for _, spend := range delta.Spends {
			_, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE outputs SET spent_by = ?
				WHERE account_id = ? AND txid = ? AND
					vout = ?`),
				spend.SpentBy[:], spend.AccountID,
				spend.OutPoint.Hash[:], spend.OutPoint.Index,
			)
			if err != nil {
				return fmt.Errorf("mark spent: %w", err)
			}
		}

		for _, cp := range delta.Checkpoints {
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO checkpoints (height, hash)
				VALUES (?, ?)
				ON CONFLICT (height) DO UPDATE
					SET hash = excluded.hash`),
				cp.Height, cp.Hash[:],
			)
			if err != nil {
				return fmt.Errorf("put checkpoint: %w", err)
			}
		}

		for branch, next := range delta.Cursors {
			_, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE cursors SET next_index = ?
				WHERE account_id = ? AND branch = ? AND
					next_index < ?`),
				next, delta.CursorAccountID, uint32(branch),
				next,
			)
			if err != nil {
				return fmt.Errorf("advance cursor: %w", err)
			}
		}

		return nil
	})
}

// removeTx deletes a conflicted transaction, its outputs and any spend
// attributed to it.
func (s *Store) removeTx(ctx context.Context, tx *sql.Tx,
	txid chainhash.Hash) error {

	_, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE outputs SET spent_by = NULL WHERE spent_by = ?`),
		txid[:],
	)
	if err != nil {
		return fmt.Errorf("clear spends of removed tx: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		DELETE FROM outputs WHERE txid = ?`), txid[:],
	)
	if err != nil {
		return fmt.Errorf("delete outputs of removed tx: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		DELETE FROM transactions WHERE txid = ?`), txid[:],
	)
	if err != nil {
		return fmt.Errorf("delete removed tx: %w", err)
	}

	return nil
}

// demoteFrom moves every transaction and output confirmed at or above
// the given height back to unconfirmed.
func (s *Store) demoteFrom(ctx context.Context, tx *sql.Tx,
	height int32) error {

	_, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE transactions SET height = NULL, block_hash = NULL
		WHERE height >= ?`),
		height,
	)
	if err != nil {
		return fmt.Errorf("demote transactions: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE outputs SET height = NULL WHERE height >= ?`),
		height,
	)
	if err != nil {
		return fmt.Errorf("demote outputs: %w", err)
	}

	return nil
}

func (s *Store) upsertTx(ctx context.Context, tx *sql.Tx,
	rec TxRecord) error {

	var blockHash []byte
	if rec.BlockHash != nil {
		blockHash = rec.BlockHash[:]
	}

	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO transactions (account_id, txid, raw, height,
			block_hash, first_seen, fee)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, txid) DO UPDATE SET
			height = excluded.height,
			block_hash = excluded.block_hash,
			fee = excluded.fee`),
		rec.AccountID, rec.TxID[:], rec.Raw,
		heightToDB(rec.Height), blockHash,
		rec.FirstSeen.Unix(), int64(rec.Fee),
	)
	if err != nil {
		return fmt.Errorf("upsert tx %v: %w", rec.TxID, err)
	}

	return nil
}

func (s *Store) upsertOutput(ctx context.Context, tx *sql.Tx,
	out Output) error {

	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO outputs (account_id, txid, vout, amount, script,
			branch, idx, height, spent_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (account_id, txid, vout) DO UPDATE SET
			height = excluded.height`),
		out.AccountID, out.OutPoint.Hash[:], out.OutPoint.Index,
		int64(out.Amount), out.Script, uint32(out.Branch), out.Index,
		heightToDB(out.Height),
	)
	if err != nil {
		return fmt.Errorf("upsert output %v: %w", out.OutPoint, err)
	}

	return nil
}

// Snapshot returns a point-in-time consistent view of one account, read
// inside a single read-only transaction. The balance is recomputed from
// the unspent output set on every call.
func (s *Store) Snapshot(ctx context.Context, accountID int64) (*Snapshot,
	error) {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, descriptor, birthday, created_at
		FROM accounts WHERE id = ?`),
		accountID,
	)

	account, err := scanAccount(row)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Account: account,
		Cursors: make(map[policy.Branch]uint32),
	}

	snap.UTXOs, err = s.queryOutputs(ctx, tx, s.rebind(`
		SELECT account_id, txid, vout, amount, script, branch, idx,
			height, spent_by
		FROM outputs
		WHERE account_id = ? AND spent_by IS NULL
		ORDER BY txid, vout`),
		accountID,
	)
	if err != nil {
		return nil, err
	}

	for _, out := range snap.UTXOs {
		if out.Height == UnconfirmedHeight {
			snap.Balance.Unconfirmed += out.Amount
		} else {
			snap.Balance.Confirmed += out.Amount
		}
	}

	snap.Txs, err = s.queryTxs(ctx, tx, s.rebind(`
		SELECT account_id, txid, raw, height, block_hash, first_seen,
			fee
		FROM transactions
		WHERE account_id = ?
		ORDER BY height IS NULL DESC, height DESC, first_seen DESC`),
		accountID,
	)
	if err != nil {
		return nil, err
	}

	snap.Tip, err = s.tipCheckpoint(ctx, tx)
	if err != nil {
		return nil, err
	}

	cursorRows, err := tx.QueryContext(ctx, s.rebind(`
		SELECT branch, next_index FROM cursors
		WHERE account_id = ?`),
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("read cursors: %w", err)
	}
	defer cursorRows.Close()

	for cursorRows.Next() {
		var branch, next uint32
		if err := cursorRows.Scan(&branch, &next); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		snap.Cursors[policy.Branch(branch)] = next
	}

	return snap, cursorRows.Err()
}

func (s *Store) queryOutputs(ctx context.Context, tx *sql.Tx, query string,
	args ...any) ([]Output, error) {

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	var outputs []Output
	for rows.Next() {
		var (
			out     Output
			txid    []byte
			branch  uint32
			height  sql.NullInt32
			spentBy []byte
		)

		err := rows.Scan(
			&out.AccountID, &txid, &out.OutPoint.Index,
			&out.Amount, &out.Script, &branch, &out.Index,
			&height, &spentBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}

		copy(out.OutPoint.Hash[:], txid)
		out.Branch = policy.Branch(branch)
		out.Height = heightFromDB(height)

		if len(spentBy) > 0 {
			var spender chainhash.Hash
			copy(spender[:], spentBy)
			out.SpentBy = &spender
		}

		outputs = append(outputs, out)
	}

	return outputs, rows.Err()
}

func (s *Store) queryTxs(ctx context.Context, tx *sql.Tx, query string,
	args ...any) ([]TxRecord, error) {

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var records []TxRecord
	for rows.Next() {
		var (
			rec       TxRecord
			txid      []byte
			height    sql.NullInt32
			blockHash []byte
			firstSeen int64
			fee       int64
		)

		err := rows.Scan(
			&rec.AccountID, &txid, &rec.Raw, &height, &blockHash,
			&firstSeen, &fee,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tx: %w", err)
		}

		copy(rec.TxID[:], txid)
		rec.Height = heightFromDB(height)
		rec.FirstSeen = time.Unix(firstSeen, 0)
		rec.Fee = btcutil.Amount(fee)

		if len(blockHash) > 0 {
			var hash chainhash.Hash
			copy(hash[:], blockHash)
			rec.BlockHash = &hash
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Tx returns one transaction record of an account.
func (s *Store) Tx(ctx context.Context, accountID int64,
	txid chainhash.Hash) (TxRecord, error) {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return TxRecord{}, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	records, err := s.queryTxs(ctx, tx, s.rebind(`
		SELECT account_id, txid, raw, height, block_hash, first_seen,
			fee
		FROM transactions
		WHERE account_id = ? AND txid = ?`),
		accountID, txid[:],
	)
	if err != nil {
		return TxRecord{}, err
	}
	if len(records) == 0 {
		return TxRecord{}, fmt.Errorf("%w: tx %v", ErrNotFound, txid)
	}

	return records[0], nil
}

// UnconfirmedTxs returns the account's unconfirmed transaction records.
func (s *Store) UnconfirmedTxs(ctx context.Context, accountID int64) (
	[]TxRecord, error) {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	return s.queryTxs(ctx, tx, s.rebind(`
		SELECT account_id, txid, raw, height, block_hash, first_seen,
			fee
		FROM transactions
		WHERE account_id = ? AND height IS NULL
		ORDER BY first_seen`),
		accountID,
	)
}

// TipCheckpoint returns the highest stored checkpoint, or ErrNotFound
// before the first sync.
func (s *Store) TipCheckpoint(ctx context.Context) (Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cp, err := s.tipCheckpoint(ctx, tx)
	if err != nil {
		return Checkpoint{}, err
	}
	if cp == nil {
		return Checkpoint{}, ErrNotFound
	}

	return *cp, nil
}

func (s *Store) tipCheckpoint(ctx context.Context, tx *sql.Tx) (*Checkpoint,
	error) {

	row := tx.QueryRowContext(ctx, `
		SELECT height, hash FROM checkpoints
		ORDER BY height DESC LIMIT 1`,
	)

	var (
		cp   Checkpoint
		hash []byte
	)
	err := row.Scan(&cp.Height, &hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	copy(cp.Hash[:], hash)

	return &cp, nil
}

// CheckpointsBelow returns up to limit checkpoints at or below the given
// height in descending height order. Reorg recovery walks the frontier
// backward through this in batches.
func (s *Store) CheckpointsBelow(ctx context.Context, height int32,
	limit int) ([]Checkpoint, error) {

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT height, hash FROM checkpoints
		WHERE height <= ?
		ORDER BY height DESC LIMIT `+strconv.Itoa(limit)),
		height,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		var (
			cp   Checkpoint
			hash []byte
		)
		if err := rows.Scan(&cp.Height, &hash); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		copy(cp.Hash[:], hash)
		cps = append(cps, cp)
	}

	return cps, rows.Err()
}

// LeaseOutput reserves an output for the given holder and duration. A
// live lease held by someone else fails with ErrOutputLeased; re-leasing
// under the same id renews the expiry.
func (s *Store) LeaseOutput(ctx context.Context, id LeaseID,
	op wire.OutPoint, duration time.Duration) (time.Time, error) {

	expiry := s.now().Add(duration)

	err := s.execInTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`
			SELECT lease_id, expiry FROM output_leases
			WHERE txid = ? AND vout = ?`),
			op.Hash[:], op.Index,
		)

		var (
			holder     []byte
			heldExpiry int64
		)
		err := row.Scan(&holder, &heldExpiry)
		switch {
		case err == sql.ErrNoRows:
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO output_leases (txid, vout,
					lease_id, expiry)
				VALUES (?, ?, ?, ?)`),
				op.Hash[:], op.Index, id[:], expiry.Unix(),
			)
			return err

		case err != nil:
			return fmt.Errorf("read lease: %w", err)
		}

		sameHolder := string(holder) == string(id[:])
		live := time.Unix(heldExpiry, 0).After(s.now())

		if live && !sameHolder {
			return fmt.Errorf("%w: %v", ErrOutputLeased, op)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE output_leases SET lease_id = ?, expiry = ?
			WHERE txid = ? AND vout = ?`),
			id[:], expiry.Unix(), op.Hash[:], op.Index,
		)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}

	return expiry, nil
}

// ReleaseOutput drops a lease held under the given id. Releasing an
// output that is not leased is a no-op.
func (s *Store) ReleaseOutput(ctx context.Context, id LeaseID,
	op wire.OutPoint) error {

	return s.execInTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM output_leases
			WHERE txid = ? AND vout = ? AND lease_id = ?`),
			op.Hash[:], op.Index, id[:],
		)
		return err
	})
}

// LeasedOutPoints returns the outpoints carrying an unexpired lease.
func (s *Store) LeasedOutPoints(ctx context.Context) (
	map[wire.OutPoint]struct{}, error) {

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT txid, vout FROM output_leases WHERE expiry > ?`),
		s.now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query leases: %w", err)
	}
	defer rows.Close()

	leased := make(map[wire.OutPoint]struct{})
	for rows.Next() {
		var (
			txid []byte
			op   wire.OutPoint
		)
		if err := rows.Scan(&txid, &op.Index); err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		copy(op.Hash[:], txid)
		leased[op] = struct{}{}
	}

	return leased, rows.Err()
}

// DiscardTx removes an unconfirmed transaction the caller gave up on,
// deleting its record and outputs and clearing the spent marks it placed
// on its inputs. Discarding a confirmed transaction is refused.
func (s *Store) DiscardTx(ctx context.Context, accountID int64,
	txid chainhash.Hash) error {

	return s.execInTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`
			SELECT height FROM transactions
			WHERE account_id = ? AND txid = ?`),
			accountID, txid[:],
		)

		var height sql.NullInt32
		err := row.Scan(&height)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: tx %v", ErrNotFound, txid)
		}
		if err != nil {
			return fmt.Errorf("read tx: %w", err)
		}

		if height.Valid {
			return fmt.Errorf("tx %v is confirmed at height %d, "+
				"refusing to discard", txid, height.Int32)
		}

		log.Infof("Discarding unconfirmed tx %v", txid)

		return s.removeTx(ctx, tx, txid)
	})
}

// heightToDB maps the in-memory unconfirmed sentinel to SQL NULL.
func heightToDB(height int32) sql.NullInt32 {
	if height == UnconfirmedHeight {
		return sql.NullInt32{}
	}

	return sql.NullInt32{Int32: height, Valid: true}
}

func heightFromDB(height sql.NullInt32) int32 {
	if !height.Valid {
		return UnconfirmedHeight
	}

	return height.Int32
}

// rebindQuestion leaves ?-style placeholders untouched, matching the
// sqlite backend.
func rebindQuestion(query string) string {
	return query
}

// rebindDollar rewrites ?-style placeholders into $n, matching the
// postgres backend. None of the store's queries embed a literal question
// mark.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}
