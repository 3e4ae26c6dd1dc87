// Copyright (c) 2026 The walletcore developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainsource

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"

	"github.com/aurawallet/walletcore/internal/btcunit"
)

const (
	// defaultRequestTimeout is the per-request timeout applied when the
	// config does not specify one.
	defaultRequestTimeout = 30 * time.Second

	// defaultParallelRequests bounds the number of in-flight indexer
	// requests issued by batch queries.
	defaultParallelRequests = 5
)

// ClientConfig holds the configuration for the esplora client.
type ClientConfig struct {
	// URL is the base URL of the indexer API, without a trailing slash
	// (e.g. https://blockstream.info/api).
	URL string

	// RequestTimeout is the timeout applied to individual HTTP requests
	// on top of the caller's context.
	RequestTimeout time.Duration

	// ParallelRequests bounds the number of concurrent requests issued
	// by batch queries such as FetchScriptHistory.
	ParallelRequests int
}

// Client is an HTTP client for an esplora-style indexer REST API. It is
// safe for concurrent use.
type Client struct {
	cfg ClientConfig

	httpClient *http.Client
}

// A compile-time check to ensure Client satisfies the Source interface.
var _ Source = (*Client)(nil)

// NewClient creates a new indexer client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.ParallelRequests == 0 {
		cfg.ParallelRequests = defaultParallelRequests
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// txStatusJSON is the wire shape of the indexer's confirmation status.
type txStatusJSON struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int32  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// txJSON is the wire shape of a transaction summary entry. Only the fields
// needed to build a TxFact are decoded.
type txJSON struct {
	TxID   string       `json:"txid"`
	Fee    int64        `json:"fee"`
	Status txStatusJSON `json:"status"`
}

// outSpendJSON is the wire shape of an output spend status entry.
type outSpendJSON struct {
	Spent  bool         `json:"spent"`
	TxID   string       `json:"txid,omitempty"`
	Status txStatusJSON `json:"status,omitempty"`
}

// doGet performs a GET request and returns the response body. Transport
// failures and server-side errors wrap ErrNetwork so the caller can decide
// to retry; a 404 wraps ErrNotFound.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	url := c.cfg.URL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrNetwork, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrNetwork, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)

	// Server-side failures and rate limiting are transient from the
	// wallet's point of view.
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests:

		return nil, fmt.Errorf("%w: GET %s: status %d: %s",
			ErrNetwork, path, resp.StatusCode, string(body))

	default:
		return nil, fmt.Errorf("GET %s: status %d: %s", path,
			resp.StatusCode, string(body))
	}
}

// TipHeight returns the indexer's current best block height.
func (c *Client) TipHeight(ctx context.Context) (int32, error) {
	body, err := c.doGet(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(string(body), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse tip height: %w", err)
	}

	return int32(height), nil
}

// TipHash returns the hash of the indexer's current best block.
func (c *Client) TipHash(ctx context.Context) (chainhash.Hash, error) {
	body, err := c.doGet(ctx, "/blocks/tip/hash")
	if err != nil {
		return chainhash.Hash{}, err
	}

	hash, err := chainhash.NewHashFromStr(string(body))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("parse tip hash: %w", err)
	}

	return *hash, nil
}

// blockHashAt returns the hash of the block at the given height.
func (c *Client) blockHashAt(ctx context.Context,
	height int32) (chainhash.Hash, error) {

	body, err := c.doGet(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return chainhash.Hash{}, err
	}

	hash, err := chainhash.NewHashFromStr(string(body))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("parse block hash at "+
			"height %d: %w", height, err)
	}

	return *hash, nil
}

// headerByHash fetches and deserializes the raw block header.
func (c *Client) headerByHash(ctx context.Context,
	hash chainhash.Hash) (*wire.BlockHeader, error) {

	body, err := c.doGet(ctx, "/block/"+hash.String()+"/header")
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode header hex: %w", err)
	}

	header := &wire.BlockHeader{}
	err = header.Deserialize(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("deserialize header: %w", err)
	}

	return header, nil
}

// FetchHeaders returns up to count consecutive headers starting at
// fromHeight. The range is clamped to the indexer's current tip, and the
// per-height fetches run concurrently, bounded by the configured request
// parallelism.
func (c *Client) FetchHeaders(ctx context.Context, fromHeight int32,
	count int) ([]Header, error) {

	tip, err := c.TipHeight(ctx)
	if err != nil {
		return nil, err
	}

	if fromHeight > tip || count <= 0 {
		return nil, nil
	}

	if int64(fromHeight)+int64(count)-1 > int64(tip) {
		count = int(tip-fromHeight) + 1
	}

	headers := make([]Header, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ParallelRequests)

	for i := 0; i < count; i++ {
		g.Go(func() error {
			height := fromHeight + int32(i)

			hash, err := c.blockHashAt(gctx, height)
			if err != nil {
				return err
			}

			header, err := c.headerByHash(gctx, hash)
			if err != nil {
				return err
			}

			headers[i] = Header{
				Height:    height,
				Hash:      hash,
				PrevHash:  header.PrevBlock,
				Timestamp: header.Timestamp,
			}

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	return headers, nil
}

// scriptHash returns the hex-encoded sha256 of an output script, which is
// how esplora indexes arbitrary scripts.
func scriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	return hex.EncodeToString(sum[:])
}

// fetchFact builds a full TxFact from a transaction summary by fetching
// the raw transaction bytes.
func (c *Client) fetchFact(ctx context.Context, summary txJSON) (TxFact,
	error) {

	body, err := c.doGet(ctx, "/tx/"+summary.TxID+"/hex")
	if err != nil {
		return TxFact{}, err
	}

	raw, err := hex.DecodeString(string(body))
	if err != nil {
		return TxFact{}, fmt.Errorf("decode tx hex: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	err = tx.Deserialize(bytes.NewReader(raw))
	if err != nil {
		return TxFact{}, fmt.Errorf("deserialize tx %s: %w",
			summary.TxID, err)
	}

	txid, err := chainhash.NewHashFromStr(summary.TxID)
	if err != nil {
		return TxFact{}, fmt.Errorf("parse txid: %w", err)
	}

	fact := TxFact{
		TxID:   *txid,
		Tx:     tx,
		Height: UnconfirmedHeight,
		Fee:    btcutil.Amount(summary.Fee),
	}

	if summary.Status.Confirmed {
		blockHash, err := chainhash.NewHashFromStr(
			summary.Status.BlockHash,
		)
		if err != nil {
			return TxFact{}, fmt.Errorf("parse block hash: %w", err)
		}

		fact.Height = summary.Status.BlockHeight
		fact.BlockHash = blockHash
		fact.Time = time.Unix(summary.Status.BlockTime, 0)
	}

	return fact, nil
}

// FetchScriptHistory returns every transaction touching any of the given
// output scripts. Per-script queries run concurrently with bounded
// parallelism, and transactions appearing under multiple scripts are
// deduplicated. The result is sorted by confirmation height with
// unconfirmed transactions last.
func (c *Client) FetchScriptHistory(ctx context.Context,
	scripts [][]byte) ([]TxFact, error) {

	var (
		mu        sync.Mutex
		summaries = make(map[string]txJSON)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ParallelRequests)

	for _, script := range scripts {
		g.Go(func() error {
			path := "/scripthash/" + scriptHash(script) + "/txs"

			body, err := c.doGet(gctx, path)
			if err != nil {
				return err
			}

			var txs []txJSON
			err = json.Unmarshal(body, &txs)
			if err != nil {
				return fmt.Errorf("decode script txs: %w", err)
			}

			mu.Lock()
			for _, tx := range txs {
				summaries[tx.TxID] = tx
			}
			mu.Unlock()

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	// Fill the result by index so the goroutines never contend on the
	// slice.
	ordered := make([]txJSON, 0, len(summaries))
	for _, summary := range summaries {
		ordered = append(ordered, summary)
	}

	facts := make([]TxFact, len(ordered))

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ParallelRequests)

	for i, summary := range ordered {
		g.Go(func() error {
			fact, err := c.fetchFact(gctx, summary)
			if err != nil {
				return err
			}

			facts[i] = fact

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	// Sort confirmed-first by height, then by txid for determinism.
	// The sync engine relies on parents being applied before children
	// within a block scan, which height ordering gives us for the
	// confirmed portion.
	sort.Slice(facts, func(i, j int) bool {
		hi, hj := facts[i].Height, facts[j].Height
		if hi == UnconfirmedHeight {
			hi = math.MaxInt32
		}
		if hj == UnconfirmedHeight {
			hj = math.MaxInt32
		}

		if hi != hj {
			return hi < hj
		}

		return facts[i].TxID.String() < facts[j].TxID.String()
	})

	log.Debugf("Fetched %d transactions for %d scripts", len(facts),
		len(scripts))

	return facts, nil
}

// FetchTx returns the transaction with the given hash.
func (c *Client) FetchTx(ctx context.Context, txid chainhash.Hash) (TxFact,
	error) {

	body, err := c.doGet(ctx, "/tx/"+txid.String())
	if err != nil {
		return TxFact{}, err
	}

	var summary txJSON
	err = json.Unmarshal(body, &summary)
	if err != nil {
		return TxFact{}, fmt.Errorf("decode tx: %w", err)
	}

	return c.fetchFact(ctx, summary)
}

// FetchOutSpend returns the spend status of a single output.
func (c *Client) FetchOutSpend(ctx context.Context,
	op wire.OutPoint) (OutSpend, error) {

	path := fmt.Sprintf("/tx/%s/outspend/%d", op.Hash.String(), op.Index)

	body, err := c.doGet(ctx, path)
	if err != nil {
		return OutSpend{}, err
	}

	var spend outSpendJSON
	err = json.Unmarshal(body, &spend)
	if err != nil {
		return OutSpend{}, fmt.Errorf("decode outspend: %w", err)
	}

	result := OutSpend{
		Spent:  spend.Spent,
		Height: UnconfirmedHeight,
	}

	if spend.Spent {
		spender, err := chainhash.NewHashFromStr(spend.TxID)
		if err != nil {
			return OutSpend{}, fmt.Errorf("parse spender txid: %w",
				err)
		}

		result.SpenderTxID = spender
		if spend.Status.Confirmed {
			result.Height = spend.Status.BlockHeight
		}
	}

	return result, nil
}

// FeeEstimates returns the indexer's fee estimates keyed by confirmation
// target. Rates below 1 sat/vb are clamped up so the result is always
// relayable.
func (c *Client) FeeEstimates(ctx context.Context) (
	map[uint32]btcunit.SatPerVByte, error) {

	body, err := c.doGet(ctx, "/fee-estimates")
	if err != nil {
		return nil, err
	}

	var raw map[string]float64
	err = json.Unmarshal(body, &raw)
	if err != nil {
		return nil, fmt.Errorf("decode fee estimates: %w", err)
	}

	estimates := make(map[uint32]btcunit.SatPerVByte, len(raw))
	for target, rate := range raw {
		blocks, err := strconv.ParseUint(target, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse fee target %q: %w",
				target, err)
		}

		sats := int64(math.Ceil(rate))
		if sats < 1 {
			sats = 1
		}

		estimates[uint32(blocks)] = btcunit.NewSatPerVByte(sats)
	}

	return estimates, nil
}

// Broadcast submits a transaction to the network through the indexer.
func (c *Client) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	var buf bytes.Buffer
	err := tx.Serialize(&buf)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("serialize tx: %w", err)
	}

	txHex := hex.EncodeToString(buf.Bytes())

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.cfg.URL+"/tx",
		bytes.NewBufferString(txHex),
	)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("build broadcast "+
			"request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("%w: broadcast: %w",
			ErrNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("%w: read broadcast "+
			"response: %w", ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:

	case resp.StatusCode >= http.StatusInternalServerError:
		return chainhash.Hash{}, fmt.Errorf("%w: broadcast: status "+
			"%d: %s", ErrNetwork, resp.StatusCode, string(body))

	// The indexer refused the transaction. Surface its reason verbatim.
	default:
		return chainhash.Hash{}, fmt.Errorf("%w: %s",
			ErrBroadcastRejected, string(body))
	}

	txid, err := chainhash.NewHashFromStr(string(body))
	if err != nil {
		// Some indexers return an empty body on success. Fall back
		// to the locally computed hash.
		hash := tx.TxHash()

		return hash, nil
	}

	log.Infof("Broadcast transaction %v", txid)

	return *txid, nil
}
