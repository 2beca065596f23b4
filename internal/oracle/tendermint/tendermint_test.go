package tendermint

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/torosent/blockprobe/internal/ledger"
)

// fakeNode answers broadcast_tx_sync and tx like a CometBFT node. Payloads
// longer than maxTx are refused; a tx becomes visible after seenAfter polls.
type fakeNode struct {
	maxTx     int
	seenAfter int

	mu    sync.Mutex
	polls map[string]int
	dials atomic.Int32
}

func (n *fakeNode) server(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := gws.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n.dials.Add(1)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(gws.TextMessage, []byte(n.reply(data))); err != nil {
				return
			}
		}
	}))
}

func (n *fakeNode) reply(req []byte) string {
	id := gjson.GetBytes(req, "id").Raw
	switch gjson.GetBytes(req, "method").String() {
	case "broadcast_tx_sync":
		tx, _ := base64.StdEncoding.DecodeString(gjson.GetBytes(req, "params.tx").String())
		switch {
		case string(tx) == "full":
			return `{"jsonrpc":"2.0","id":` + id + `,"result":{"code":20,"log":"mempool is full","hash":""}}`
		case len(tx) > n.maxTx:
			return `{"jsonrpc":"2.0","id":` + id + `,"error":{"code":-32603,"message":"Internal error","data":"tx too large. Max size is 8, but got 9"}}`
		}
		return `{"jsonrpc":"2.0","id":` + id + `,"result":{"code":0,"log":"","hash":"AB12"}}`
	case "tx":
		hash := gjson.GetBytes(req, "params.hash").String()
		n.mu.Lock()
		n.polls[hash]++
		seen := n.polls[hash] > n.seenAfter
		n.mu.Unlock()
		if !seen {
			return `{"jsonrpc":"2.0","id":` + id + `,"error":{"code":-32603,"message":"Internal error","data":"tx (AB12) not found"}}`
		}
		return `{"jsonrpc":"2.0","id":` + id + `,"result":{"hash":"AB12","height":"77","tx_result":{"code":0}}}`
	}
	return `{"jsonrpc":"2.0","id":` + id + `,"error":{"code":-32601,"message":"Method not found"}}`
}

func newOracle(t *testing.T, srv *httptest.Server) *Oracle {
	t.Helper()
	o, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), PoolSize: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestNewRejectsHTTPURL(t *testing.T) {
	if _, err := New(Config{URL: "http://localhost:26657"}); err == nil {
		t.Fatal("expected error for non-websocket url")
	}
}

func TestSubmitAndPollUntilIncluded(t *testing.T) {
	node := &fakeNode{maxTx: 8, seenAfter: 2, polls: map[string]int{}}
	srv := node.server(t)
	defer srv.Close()
	o := newOracle(t, srv)
	ctx := context.Background()

	h, err := o.Submit(ctx, ledger.Unit{ID: 4, Count: 1, Payload: []byte("hello")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.ID != "AB12" || h.UnitID != 4 {
		t.Fatalf("unexpected handle %+v", h)
	}

	for i := 0; i < 2; i++ {
		res, err := o.Poll(ctx, h)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if res.Status != ledger.Pending {
			t.Fatalf("poll %d: expected pending, got %s", i, res.Status)
		}
	}
	res, err := o.Poll(ctx, h)
	if err != nil {
		t.Fatalf("final poll: %v", err)
	}
	if res.Status != ledger.Included || res.GroupKey != "77" || res.ConfirmedAt.IsZero() {
		t.Fatalf("expected inclusion at height 77, got %+v", res)
	}
	if dials := node.dials.Load(); dials != 1 {
		t.Fatalf("expected one pooled connection, got %d dials", dials)
	}
}

func TestCloseLogsConnectionTraffic(t *testing.T) {
	node := &fakeNode{maxTx: 8, polls: map[string]int{}}
	srv := node.server(t)
	defer srv.Close()

	var logs bytes.Buffer
	o, err := New(Config{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		PoolSize: 2,
		Logger:   zerolog.New(&logs),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	h, err := o.Submit(ctx, ledger.Unit{ID: 1, Count: 1, Payload: []byte("hi")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := o.Poll(ctx, h); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	traffic, conns := o.Traffic()
	if conns != 1 {
		t.Fatalf("expected one closed connection, got %d", conns)
	}
	if traffic.MessagesSent != 2 || traffic.MessagesReceived != 2 {
		t.Errorf("expected 2/2 messages, got %d/%d", traffic.MessagesSent, traffic.MessagesReceived)
	}
	line := logs.String()
	if !strings.Contains(line, `"message":"websocket traffic"`) || !strings.Contains(line, `"messages_sent":2`) {
		t.Errorf("traffic not logged: %s", line)
	}
}

func TestSubmitClassifiesRejections(t *testing.T) {
	node := &fakeNode{maxTx: 8, polls: map[string]int{}}
	srv := node.server(t)
	defer srv.Close()
	o := newOracle(t, srv)
	ctx := context.Background()

	tests := []struct {
		name  string
		unit  ledger.Unit
		class ledger.Classification
	}{
		{"too large", ledger.Unit{ID: 1, Count: 1, Payload: []byte("123456789")}, ledger.SizeLimited},
		{"mempool full", ledger.Unit{ID: 2, Count: 1, Payload: []byte("full")}, ledger.RateLimited},
		{"batch", ledger.Unit{ID: 3, Count: 5, Payload: []byte("x")}, ledger.Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(ctx, tt.unit)
			if got := ledger.Classify(err); got != tt.class {
				t.Fatalf("expected %s, got %s (%v)", tt.class, got, err)
			}
		})
	}
}

func TestPollInvalidHandle(t *testing.T) {
	node := &fakeNode{polls: map[string]int{}}
	srv := node.server(t)
	defer srv.Close()

	_, err := newOracle(t, srv).Poll(context.Background(), ledger.Handle{ID: "not-hex"})
	if ledger.Classify(err) != ledger.Fatal {
		t.Fatalf("expected fatal, got %v", err)
	}
}

func TestSubmitNodeDownIsTransient(t *testing.T) {
	node := &fakeNode{polls: map[string]int{}}
	srv := node.server(t)
	o := newOracle(t, srv)
	srv.Close()

	_, err := o.Submit(context.Background(), ledger.Unit{ID: 1, Count: 1, Payload: []byte("x")})
	if ledger.Classify(err) != ledger.Transient {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestClassifyText(t *testing.T) {
	tests := []struct {
		text string
		want ledger.Classification
	}{
		{"Tx too large. Max size is 1048576", ledger.SizeLimited},
		{"mempool is full: number of txs 5000", ledger.RateLimited},
		{"tx already exists in cache", ledger.Fatal},
	}
	for _, tt := range tests {
		if got := classifyText(tt.text, ledger.Fatal); got != tt.want {
			t.Errorf("classifyText(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
	if got := (&rpcError{Code: codeInternalError, Message: "Internal error"}).rejection().Class; got != ledger.Transient {
		t.Errorf("internal rpc errors should be transient, got %s", got)
	}
}
