// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/aurawallet/walletcore/chainsource"
	"github.com/aurawallet/walletcore/internal/btcunit"
	"github.com/aurawallet/walletcore/wstore"
)

const (
	// DefaultGapLimit is the number of unused lookahead addresses kept
	// derived ahead of the highest used index, per branch.
	DefaultGapLimit uint32 = 50

	// DefaultMaxReorgDepth bounds the backward checkpoint walk during
	// reorg recovery. A divergence deeper than this needs a full
	// resync.
	DefaultMaxReorgDepth int32 = 100

	// DefaultSyncInterval is how often the background loop checks the
	// indexer for a new tip.
	DefaultSyncInterval = time.Minute

	// DefaultRetryAttempts bounds retries of transient network
	// failures within one sync cycle.
	DefaultRetryAttempts = 3

	// DefaultRetryBackoff is the initial delay between retries. It
	// doubles per attempt.
	DefaultRetryBackoff = time.Second
)

// Config holds everything a Wallet needs to run.
type Config struct {
	// Chain is the remote indexer adapter.
	Chain chainsource.Source

	// Store is the wallet state store.
	Store *wstore.Store

	// ChainParams identifies the network.
	ChainParams *chaincfg.Params

	// GapLimit is the per-branch lookahead window,
	// DefaultGapLimit when zero.
	GapLimit uint32

	// MaxReorgDepth bounds reorg recovery, DefaultMaxReorgDepth when
	// zero.
	MaxReorgDepth int32

	// SyncInterval drives the background sync loop,
	// DefaultSyncInterval when zero.
	SyncInterval time.Duration

	// SyncTicker overrides the background loop's ticker, mostly for
	// tests. Built from SyncInterval when nil.
	SyncTicker ticker.Ticker

	// MaxFeeRate caps fee rates on builds, the builder default when
	// zero.
	MaxFeeRate btcunit.SatPerVByte

	// RetryAttempts bounds network retries per sync cycle,
	// DefaultRetryAttempts when zero.
	RetryAttempts int

	// RetryBackoff is the initial retry delay, DefaultRetryBackoff
	// when zero.
	RetryBackoff time.Duration
}

// validate fills defaults and rejects an unusable config.
func (cfg *Config) validate() error {
	if cfg.Chain == nil {
		return errors.New("chain source is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ChainParams == nil {
		return errors.New("chain params are required")
	}

	if cfg.GapLimit == 0 {
		cfg.GapLimit = DefaultGapLimit
	}
	if cfg.MaxReorgDepth == 0 {
		cfg.MaxReorgDepth = DefaultMaxReorgDepth
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.SyncTicker == nil {
		cfg.SyncTicker = ticker.New(cfg.SyncInterval)
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	return nil
}
