// Package httpjson submits units to, and polls, a ledger that speaks plain
// JSON over HTTP, such as an Espresso query node or a DA gateway.
package httpjson

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/torosent/blockprobe/internal/auth"
	"github.com/torosent/blockprobe/internal/extractor"
	"github.com/torosent/blockprobe/internal/httpclient"
	"github.com/torosent/blockprobe/internal/ledger"
)

// Config describes the remote endpoints and where values live in responses.
type Config struct {
	SubmitURL string
	// StatusURL is a template; "{hash}" is replaced by the escaped handle id.
	StatusURL string
	Namespace int64
	Headers   map[string]string
	Timeout   time.Duration
	Propagate bool
	// Auth, when set, authorizes every request.
	Auth auth.Provider

	HashField   extractor.Field
	HeightField extractor.Field
	TimeField   extractor.Field
	ErrorField  extractor.Field

	// SizeLimitPatterns are case-insensitive fragments of an error body that
	// mean the payload itself was too large.
	SizeLimitPatterns []string

	Logger zerolog.Logger
}

// EspressoDefaults returns the response layout of an Espresso query node.
func EspressoDefaults() Config {
	return Config{
		HashField:         extractor.Field{Paths: []string{"hash", "tx_hash", "txHash", "tagged", "result", "$"}},
		HeightField:       extractor.Field{Paths: []string{"block_height", "blockHeight", "height"}},
		TimeField:         extractor.Field{Paths: []string{"block_timestamp", "timestamp", "time"}},
		ErrorField:        extractor.Field{Paths: []string{"error", "message", "reason"}},
		SizeLimitPatterns: []string{"too large", "payload size", "exceeds max"},
		Timeout:           30 * time.Second,
	}
}

// Oracle implements ledger.Oracle over HTTP.
type Oracle struct {
	cfg     Config
	client  *http.Client
	builder *httpclient.RequestBuilder
}

var _ ledger.Oracle = (*Oracle)(nil)

// New validates cfg and returns an Oracle. A nil client uses httpclient.NewClient.
func New(cfg Config, client *http.Client) (*Oracle, error) {
	if strings.TrimSpace(cfg.SubmitURL) == "" {
		return nil, errors.New("httpjson: submit url is required")
	}
	if !strings.Contains(cfg.StatusURL, "{hash}") {
		return nil, fmt.Errorf("httpjson: status url %q must contain {hash}", cfg.StatusURL)
	}
	for _, f := range []extractor.Field{cfg.HashField, cfg.HeightField, cfg.TimeField, cfg.ErrorField} {
		if _, err := f.Compile(); err != nil {
			return nil, fmt.Errorf("httpjson: field regex: %w", err)
		}
	}
	if len(cfg.HashField.Paths) == 0 && cfg.HashField.Regex == "" {
		cfg.HashField = EspressoDefaults().HashField
	}
	if len(cfg.HeightField.Paths) == 0 && cfg.HeightField.Regex == "" {
		cfg.HeightField = EspressoDefaults().HeightField
	}
	builder, err := httpclient.NewRequestBuilder(cfg.Headers, cfg.Propagate)
	if err != nil {
		return nil, fmt.Errorf("httpjson: %w", err)
	}
	if client == nil {
		client = httpclient.NewClient(cfg.Timeout)
	}
	return &Oracle{cfg: cfg, client: client, builder: builder}, nil
}

type submitBody struct {
	Namespace int64    `json:"namespace"`
	Payload   string   `json:"payload,omitempty"`
	Payloads  []string `json:"payloads,omitempty"`
}

// Submit posts the unit. A unit with Count > 1 is sent as a batch of
// identical payloads.
func (o *Oracle) Submit(ctx context.Context, u ledger.Unit) (ledger.Handle, error) {
	encoded := base64.StdEncoding.EncodeToString(u.Payload)
	body := submitBody{Namespace: o.cfg.Namespace}
	if u.Count > 1 {
		body.Payloads = make([]string, u.Count)
		for i := range body.Payloads {
			body.Payloads[i] = encoded
		}
	} else {
		body.Payload = encoded
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ledger.Handle{}, ledger.Reject(ledger.Fatal, "encode submit body: %v", err)
	}

	req, err := o.builder.Build(ctx, http.MethodPost, o.cfg.SubmitURL, data)
	if err != nil {
		return ledger.Handle{}, &ledger.Rejection{Reason: err.Error(), Class: ledger.Fatal, Err: err}
	}
	if err := o.authorize(ctx, req); err != nil {
		return ledger.Handle{}, err
	}
	submittedAt := time.Now()
	resp, err := httpclient.Do(o.client, req)
	if err != nil {
		return ledger.Handle{}, o.classify(resp, err)
	}

	hash, ok := o.cfg.HashField.String(resp.Body)
	hash = strings.TrimSpace(hash)
	if !ok || hash == "" {
		return ledger.Handle{}, ledger.Reject(ledger.Fatal, "submit response carries no transaction hash")
	}
	o.cfg.Logger.Debug().Str("hash", hash).Int("unit", u.ID).Dur("latency", resp.Latency).Msg("submitted")
	return ledger.Handle{ID: hash, UnitID: u.ID, SubmittedAt: submittedAt}, nil
}

// Poll asks the status endpoint about h. A 404 means the transaction is not
// in a block yet.
func (o *Oracle) Poll(ctx context.Context, h ledger.Handle) (ledger.PollResult, error) {
	target := strings.ReplaceAll(o.cfg.StatusURL, "{hash}", url.PathEscape(h.ID))
	req, err := o.builder.Build(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ledger.PollResult{}, err
	}
	if err := o.authorize(ctx, req); err != nil {
		return ledger.PollResult{}, err
	}
	resp, err := httpclient.Do(o.client, req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return ledger.PollResult{Status: ledger.Pending}, nil
		}
		return ledger.PollResult{}, o.classify(resp, err)
	}

	if reason, ok := o.cfg.ErrorField.String(resp.Body); ok && strings.TrimSpace(reason) != "" {
		return ledger.PollResult{Status: ledger.Rejected, Reason: reason}, nil
	}
	height, ok := o.cfg.HeightField.Int(resp.Body)
	if !ok {
		return ledger.PollResult{Status: ledger.Pending}, nil
	}
	return ledger.PollResult{
		Status:      ledger.Included,
		GroupKey:    fmt.Sprintf("%d", height),
		ConfirmedAt: o.confirmedAt(resp.Body),
	}, nil
}

func (o *Oracle) confirmedAt(body []byte) time.Time {
	res, ok := extractor.Lookup(body, o.cfg.TimeField.Paths...)
	if ok {
		if sec := res.Int(); sec > 0 && res.Type == gjson.Number {
			if sec > 1e12 {
				return time.UnixMilli(sec)
			}
			return time.Unix(sec, 0)
		}
		if ts, err := time.Parse(time.RFC3339Nano, res.String()); err == nil {
			return ts
		}
	}
	return time.Now()
}

func (o *Oracle) authorize(ctx context.Context, req *http.Request) error {
	if o.cfg.Auth == nil {
		return nil
	}
	if err := o.cfg.Auth.Authorize(ctx, req); err != nil {
		return o.classify(nil, fmt.Errorf("authorize: %w", err))
	}
	return nil
}

// classify maps transport and HTTP failures to rejection classes:
// 413 or a size-limit message is SizeLimited, 429 RateLimited, 5xx and
// network errors Transient, any other 4xx Fatal.
func (o *Oracle) classify(resp *httpclient.Response, err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &ledger.Rejection{Reason: err.Error(), Class: ledger.Transient, Err: err}
	}

	reason := err.Error()
	if resp != nil {
		if msg, ok := o.cfg.ErrorField.String(resp.Body); ok && strings.TrimSpace(msg) != "" {
			reason = msg
		}
	}

	class := ledger.Fatal
	switch {
	case statusErr.StatusCode == http.StatusRequestEntityTooLarge || o.sizeLimited(statusErr.Body):
		class = ledger.SizeLimited
	case statusErr.StatusCode == http.StatusTooManyRequests:
		class = ledger.RateLimited
	case statusErr.StatusCode >= 500:
		class = ledger.Transient
	}
	return &ledger.Rejection{Reason: reason, Class: class, Err: err}
}

func (o *Oracle) sizeLimited(body string) bool {
	lowered := strings.ToLower(body)
	for _, p := range o.cfg.SizeLimitPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
