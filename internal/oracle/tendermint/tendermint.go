// Package tendermint submits units to a Tendermint/CometBFT node over its
// JSON-RPC websocket endpoint and polls the node for their inclusion.
package tendermint

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/pool"
	"github.com/torosent/blockprobe/internal/websocket"
)

// Config describes the node endpoint.
type Config struct {
	// URL is the websocket endpoint, usually ws://host:26657/websocket.
	URL              string
	Headers          http.Header
	PoolSize         int
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
	Logger           zerolog.Logger
}

// Oracle implements ledger.Oracle against a Tendermint node.
type Oracle struct {
	cfg    Config
	pool   *pool.ConnectionPool
	key    string
	nextID atomic.Int64

	mu          sync.Mutex
	traffic     websocket.Metrics
	connections int
}

var _ ledger.Oracle = (*Oracle)(nil)

// New returns an Oracle; connections are dialed lazily.
func New(cfg Config) (*Oracle, error) {
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, fmt.Errorf("tendermint: url %q must use ws:// or wss://", cfg.URL)
	}
	return &Oracle{
		cfg:  cfg,
		pool: pool.NewConnectionPool(cfg.PoolSize),
		key:  pool.MakePoolKey(cfg.URL, cfg.Headers),
	}, nil
}

// Close releases pooled connections and logs the traffic they carried.
func (o *Oracle) Close() error {
	err := o.pool.Close()
	traffic, conns := o.Traffic()
	o.cfg.Logger.Info().
		Int("connections", conns).
		Int64("messages_sent", traffic.MessagesSent).
		Int64("messages_received", traffic.MessagesReceived).
		Int64("bytes_sent", traffic.BytesSent).
		Int64("bytes_received", traffic.BytesReceived).
		Int64("errors", traffic.Errors).
		Msg("websocket traffic")
	return err
}

// Traffic returns the counters of every connection closed so far and how
// many connections that was.
func (o *Oracle) Traffic() (websocket.Metrics, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.traffic, o.connections
}

func (o *Oracle) recordTraffic(m websocket.Metrics) {
	o.mu.Lock()
	o.traffic.Add(m)
	o.connections++
	o.mu.Unlock()
	o.cfg.Logger.Debug().
		Dur("connected_for", m.ConnectionDuration).
		Int64("messages_sent", m.MessagesSent).
		Int64("messages_received", m.MessagesReceived).
		Int64("errors", m.Errors).
		Msg("websocket connection closed")
}

// Submit broadcasts the unit payload with broadcast_tx_sync. Tendermint has
// no native batching, so units with Count > 1 are refused.
func (o *Oracle) Submit(ctx context.Context, u ledger.Unit) (ledger.Handle, error) {
	if u.Count > 1 {
		return ledger.Handle{}, ledger.Reject(ledger.Fatal, "batches of %d calls are not supported", u.Count)
	}
	submittedAt := time.Now()
	result, err := o.call(ctx, "broadcast_tx_sync", map[string]any{
		"tx": base64.StdEncoding.EncodeToString(u.Payload),
	})
	if err != nil {
		return ledger.Handle{}, err
	}
	if code := result.Get("code").Int(); code != 0 {
		log := result.Get("log").String()
		return ledger.Handle{}, &ledger.Rejection{
			Reason: fmt.Sprintf("check tx code %d: %s", code, log),
			Class:  classifyText(log, ledger.Fatal),
		}
	}
	hash := result.Get("hash").String()
	if hash == "" {
		return ledger.Handle{}, ledger.Reject(ledger.Fatal, "broadcast result carries no hash")
	}
	o.cfg.Logger.Debug().Str("hash", hash).Int("unit", u.ID).Msg("broadcast")
	return ledger.Handle{ID: hash, UnitID: u.ID, SubmittedAt: submittedAt}, nil
}

// Poll queries the tx endpoint. A "not found" error means the transaction
// is still in the mempool.
func (o *Oracle) Poll(ctx context.Context, h ledger.Handle) (ledger.PollResult, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(h.ID, "0x"))
	if err != nil {
		return ledger.PollResult{}, ledger.Reject(ledger.Fatal, "handle %q is not a hex hash", h.ID)
	}
	result, err := o.call(ctx, "tx", map[string]any{
		"hash":  base64.StdEncoding.EncodeToString(raw),
		"prove": false,
	})
	if err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.text()), "not found") {
			return ledger.PollResult{Status: ledger.Pending}, nil
		}
		return ledger.PollResult{}, err
	}
	if code := result.Get("tx_result.code").Int(); code != 0 {
		return ledger.PollResult{
			Status: ledger.Rejected,
			Reason: fmt.Sprintf("deliver tx code %d: %s", code, result.Get("tx_result.log").String()),
		}, nil
	}
	height := result.Get("height").String()
	if height == "" || height == "0" {
		return ledger.PollResult{Status: ledger.Pending}, nil
	}
	return ledger.PollResult{Status: ledger.Included, GroupKey: height, ConfirmedAt: time.Now()}, nil
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// call performs one JSON-RPC exchange on a pooled connection. A reused
// connection that fails is redialed once.
func (o *Oracle) call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	id := o.nextID.Add(1)
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return gjson.Result{}, ledger.Reject(ledger.Fatal, "encode %s: %v", method, err)
	}

	factory := func() pool.Poolable {
		return websocket.NewClient(websocket.Config{
			URL:              o.cfg.URL,
			Headers:          o.cfg.Headers,
			HandshakeTimeout: o.cfg.HandshakeTimeout,
			ReadTimeout:      o.cfg.ReadTimeout,
			WriteTimeout:     o.cfg.WriteTimeout,
			MaxMessageSize:   o.cfg.MaxMessageSize,
			OnClose:          o.recordTraffic,
		})
	}
	pc, reused, err := o.pool.Acquire(ctx, o.key, factory)
	if err != nil {
		return gjson.Result{}, transportError(ctx, err)
	}
	match := func(b []byte) bool { return gjson.GetBytes(b, "id").Int() == id }

	client := pc.(*websocket.Client)
	reply, err := client.RoundTrip(ctx, data, match)
	if err != nil && reused && ctx.Err() == nil {
		o.cfg.Logger.Debug().Err(err).Msg("stale websocket connection, redialing")
		fresh, ok := o.pool.RetryStaleConnection(ctx, client, factory)
		if !ok {
			return gjson.Result{}, transportError(ctx, err)
		}
		client = fresh.(*websocket.Client)
		reply, err = client.RoundTrip(ctx, data, match)
	}
	if err != nil {
		o.pool.Discard(client)
		return gjson.Result{}, transportError(ctx, err)
	}
	_ = o.pool.Put(o.key, client)

	if e := gjson.GetBytes(reply, "error"); e.Exists() && e.Type != gjson.Null {
		rpcErr := &rpcError{Code: e.Get("code").Int(), Message: e.Get("message").String(), Data: e.Get("data").String()}
		return gjson.Result{}, rpcErr.rejection()
	}
	return gjson.GetBytes(reply, "result"), nil
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ledger.Rejection{Reason: err.Error(), Class: ledger.Transient, Err: err}
}
