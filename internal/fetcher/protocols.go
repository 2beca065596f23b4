package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/blockprobe/internal/httpclient"
)

// windowSize is the number of recent blocks each explorer is asked for.
const windowSize = 100

type explorer struct {
	name    string
	client  *http.Client
	base    string
	builder *httpclient.RequestBuilder
}

func newExplorer(name string, client *http.Client, base string) explorer {
	builder, _ := httpclient.NewRequestBuilder(nil, false)
	return explorer{name: name, client: client, base: strings.TrimRight(base, "/"), builder: builder}
}

func (e explorer) Name() string { return e.name }

func (e explorer) get(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := e.builder.Build(ctx, method, e.base+path, body)
	if err != nil {
		return nil, err
	}
	resp, err := httpclient.Do(e.client, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, fmt.Errorf("%s: response is not valid JSON", e.name)
	}
	return resp.Body, nil
}

// Espresso reads block summaries from the Espresso explorer cache.
type Espresso struct{ explorer }

func NewEspresso(client *http.Client, base string) *Espresso {
	return &Espresso{newExplorer("espresso", client, base)}
}

func (f *Espresso) FetchTPS(ctx context.Context) (Sample, error) {
	body, err := f.get(ctx, http.MethodGet, fmt.Sprintf("/v0/explorer/blocks/latest/%d", windowSize), nil)
	if err != nil {
		return Sample{}, err
	}
	var blocks []block
	for _, b := range gjson.GetBytes(body, "block_summaries").Array() {
		at, ok := parseTime(b.Get("time"))
		if !ok {
			continue
		}
		blocks = append(blocks, block{at: at, txs: b.Get("num_transactions").Int()})
	}
	return windowTPS(blocks)
}

// Celestia reads recent blocks from Celenium; each message type counts as a
// transaction.
type Celestia struct{ explorer }

func NewCelestia(client *http.Client, base string) *Celestia {
	return &Celestia{newExplorer("celestia", client, base)}
}

func (f *Celestia) FetchTPS(ctx context.Context) (Sample, error) {
	body, err := f.get(ctx, http.MethodGet, fmt.Sprintf("/v1/block?limit=%d", windowSize), nil)
	if err != nil {
		return Sample{}, err
	}
	var blocks []block
	for _, b := range gjson.ParseBytes(body).Array() {
		at, ok := parseTime(b.Get("time"))
		if !ok {
			continue
		}
		blocks = append(blocks, block{at: at, txs: int64(len(b.Get("message_types").Array()))})
	}
	return windowTPS(blocks)
}

// Avail reads recent blocks from Subscan.
type Avail struct{ explorer }

func NewAvail(client *http.Client, base string) *Avail {
	return &Avail{newExplorer("avail", client, base)}
}

func (f *Avail) FetchTPS(ctx context.Context) (Sample, error) {
	payload := []byte(fmt.Sprintf(`{"page":0,"row":%d,"order":"desc"}`, windowSize))
	body, err := f.get(ctx, http.MethodPost, "/api/v2/scan/blocks", payload)
	if err != nil {
		return Sample{}, err
	}
	if code := gjson.GetBytes(body, "code"); code.Exists() && code.Int() != 0 {
		return Sample{}, fmt.Errorf("avail: subscan error %d: %s", code.Int(), gjson.GetBytes(body, "message").String())
	}
	var blocks []block
	for _, b := range gjson.GetBytes(body, "data.blocks").Array() {
		at, ok := parseTime(b.Get("block_timestamp"))
		if !ok {
			continue
		}
		blocks = append(blocks, block{at: at, txs: b.Get("extrinsics_count").Int()})
	}
	return windowTPS(blocks)
}

// Near reads the TPS NearBlocks already computes.
type Near struct{ explorer }

func NewNear(client *http.Client, base string) *Near {
	return &Near{newExplorer("near", client, base)}
}

func (f *Near) FetchTPS(ctx context.Context) (Sample, error) {
	body, err := f.get(ctx, http.MethodGet, "/v1/stats", nil)
	if err != nil {
		return Sample{}, err
	}
	tps := gjson.GetBytes(body, "stats.0.tps")
	if !tps.Exists() {
		return Sample{}, fmt.Errorf("near: stats carry no tps")
	}
	return Sample{TPS: tps.Float()}, nil
}

// parseTime accepts unix seconds, unix milliseconds or RFC 3339 strings.
func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	case gjson.String:
		ts, err := time.Parse(time.RFC3339Nano, v.Str)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	return time.Time{}, false
}
