package chainsource

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/aurawallet/walletcore/internal/btcunit"
)

// testTx returns a minimal but valid transaction for wire round trips.
func testTx(t *testing.T) *wire.MsgTx {
	t.Helper()

	tx := wire.NewMsgTx(wire.TxVersion)
	prev := wire.OutPoint{Index: 1}
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(100_000, []byte{0x00, 0x14}))

	return tx
}

// txToHex serializes a transaction to its hex encoding.
func txToHex(t *testing.T, tx *wire.MsgTx) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	return hex.EncodeToString(buf.Bytes())
}

// headerToHex serializes a block header to its hex encoding.
func headerToHex(t *testing.T, header *wire.BlockHeader) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, header.Serialize(&buf))

	return hex.EncodeToString(buf.Bytes())
}

// newTestClient spins up an httptest server with the given handler and
// returns a client pointed at it.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		URL:            server.URL,
		RequestTimeout: 5 * time.Second,
	})
}

// TestFetchHeaders checks that a header range is fetched, clamped to the
// tip and normalized with prev hashes intact.
func TestFetchHeaders(t *testing.T) {
	t.Parallel()

	// Build a 3-block chain of headers linked by prev hash.
	headers := make([]*wire.BlockHeader, 3)
	hashes := make([]chainhash.Hash, 3)
	for i := range headers {
		h := &wire.BlockHeader{
			Version:   1,
			Timestamp: time.Unix(int64(1_700_000_000+i*600), 0),
			Nonce:     uint32(i),
		}
		if i > 0 {
			h.PrevBlock = hashes[i-1]
		}
		headers[i] = h
		hashes[i] = h.BlockHash()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter,
		_ *http.Request) {

		fmt.Fprint(w, "102")
	})
	for i := range headers {
		height := 100 + i
		hash := hashes[i]
		header := headers[i]

		mux.HandleFunc(fmt.Sprintf("/block-height/%d", height),
			func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, hash.String())
			})
		mux.HandleFunc("/block/"+hash.String()+"/header",
			func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, headerToHex(t, header))
			})
	}

	client := newTestClient(t, mux)

	// Ask for more headers than exist; the range must be clamped to the
	// tip.
	got, err := client.FetchHeaders(context.Background(), 100, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, header := range got {
		require.Equal(t, int32(100+i), header.Height)
		require.Equal(t, hashes[i], header.Hash)
	}
	require.Equal(t, hashes[0], got[1].PrevHash)
	require.Equal(t, hashes[1], got[2].PrevHash)

	// A range entirely above the tip yields no headers and no error.
	got, err = client.FetchHeaders(context.Background(), 200, 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestFetchScriptHistory checks script history fetching, deduplication
// across scripts and confirmed-first ordering.
func TestFetchScriptHistory(t *testing.T) {
	t.Parallel()

	confirmedTx := testTx(t)
	unconfirmedTx := testTx(t)
	unconfirmedTx.TxOut[0].Value = 50_000

	confirmedID := confirmedTx.TxHash()
	unconfirmedID := unconfirmedTx.TxHash()
	blockHash := chainhash.Hash{0x01}

	scriptA := []byte{0x00, 0x14, 0x0a}
	scriptB := []byte{0x00, 0x14, 0x0b}

	confirmedJSON := txJSON{
		TxID: confirmedID.String(),
		Fee:  141,
		Status: txStatusJSON{
			Confirmed:   true,
			BlockHeight: 500,
			BlockHash:   blockHash.String(),
			BlockTime:   1_700_000_000,
		},
	}
	unconfirmedJSON := txJSON{TxID: unconfirmedID.String(), Fee: 120}

	mux := http.NewServeMux()

	// Both scripts report the unconfirmed tx; only script A reports the
	// confirmed one. The confirmed tx must not be duplicated.
	mux.HandleFunc("/scripthash/"+scriptHash(scriptA)+"/txs",
		func(w http.ResponseWriter, _ *http.Request) {
			err := json.NewEncoder(w).Encode(
				[]txJSON{unconfirmedJSON, confirmedJSON},
			)
			require.NoError(t, err)
		})
	mux.HandleFunc("/scripthash/"+scriptHash(scriptB)+"/txs",
		func(w http.ResponseWriter, _ *http.Request) {
			err := json.NewEncoder(w).Encode(
				[]txJSON{unconfirmedJSON},
			)
			require.NoError(t, err)
		})
	mux.HandleFunc("/tx/"+confirmedID.String()+"/hex",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, txToHex(t, confirmedTx))
		})
	mux.HandleFunc("/tx/"+unconfirmedID.String()+"/hex",
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, txToHex(t, unconfirmedTx))
		})

	client := newTestClient(t, mux)

	facts, err := client.FetchScriptHistory(
		context.Background(), [][]byte{scriptA, scriptB},
	)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	// Confirmed entries sort before unconfirmed ones.
	require.Equal(t, confirmedID, facts[0].TxID)
	require.Equal(t, int32(500), facts[0].Height)
	require.Equal(t, &blockHash, facts[0].BlockHash)

	require.Equal(t, unconfirmedID, facts[1].TxID)
	require.Equal(t, UnconfirmedHeight, facts[1].Height)
	require.Nil(t, facts[1].BlockHash)
}

// TestFetchTxNotFound checks that a missing transaction surfaces
// ErrNotFound.
func TestFetchTxNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.NotFoundHandler())

	_, err := client.FetchTx(context.Background(), chainhash.Hash{0x02})
	require.ErrorIs(t, err, ErrNotFound)
}

// TestServerErrorIsNetwork checks that 5xx responses are classified as
// transient network failures.
func TestServerErrorIsNetwork(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		},
	))

	_, err := client.TipHeight(context.Background())
	require.ErrorIs(t, err, ErrNetwork)
}

// TestBroadcastRejected checks that an indexer refusal surfaces the reason
// via ErrBroadcastRejected.
func TestBroadcastRejected(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			http.Error(
				w, "sendrawtransaction RPC error: "+
					"bad-txns-inputs-missingorspent",
				http.StatusBadRequest,
			)
		},
	))

	_, err := client.Broadcast(context.Background(), testTx(t))
	require.ErrorIs(t, err, ErrBroadcastRejected)
	require.Contains(t, err.Error(), "missingorspent")
}

// TestBroadcastSuccess checks that a successful broadcast returns the
// indexer-provided txid.
func TestBroadcastSuccess(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	txid := tx.TxHash()

	client := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, txid.String())
		},
	))

	got, err := client.Broadcast(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, txid, got)
}

// TestFetchOutSpend checks spend status normalization.
func TestFetchOutSpend(t *testing.T) {
	t.Parallel()

	spender := chainhash.Hash{0x03}

	mux := http.NewServeMux()
	mux.HandleFunc("/tx/", func(w http.ResponseWriter, r *http.Request) {
		err := json.NewEncoder(w).Encode(outSpendJSON{
			Spent: true,
			TxID:  spender.String(),
			Status: txStatusJSON{
				Confirmed:   true,
				BlockHeight: 710,
			},
		})
		require.NoError(t, err)
	})

	client := newTestClient(t, mux)

	spend, err := client.FetchOutSpend(context.Background(), wire.OutPoint{
		Hash:  chainhash.Hash{0x04},
		Index: 0,
	})
	require.NoError(t, err)
	require.True(t, spend.Spent)
	require.Equal(t, &spender, spend.SpenderTxID)
	require.Equal(t, int32(710), spend.Height)
}

// TestFeeEstimates checks target parsing and the 1 sat/vb floor.
func TestFeeEstimates(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"1": 25.4, "6": 3.0, "144": 0.4}`)
		},
	))

	estimates, err := client.FeeEstimates(context.Background())
	require.NoError(t, err)

	require.Equal(t, btcunit.NewSatPerVByte(26), estimates[1])
	require.Equal(t, btcunit.NewSatPerVByte(3), estimates[6])
	require.Equal(t, btcunit.NewSatPerVByte(1), estimates[144])
}
