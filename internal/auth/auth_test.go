package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/blockprobe/internal/httpclient"
)

// tokenServer issues sequential tokens and counts requests.
type tokenServer struct {
	*httptest.Server
	requests  atomic.Int32
	status    atomic.Int32
	expiresIn int
	lastAuth  atomic.Value
	lastBody  atomic.Value
}

func newTokenServer(t *testing.T, expiresIn int) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: expiresIn}
	ts.status.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.requests.Add(1)
		body, _ := io.ReadAll(r.Body)
		ts.lastAuth.Store(r.Header.Get("Authorization"))
		ts.lastBody.Store(string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(ts.status.Load()))
		if ts.status.Load() != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":%d}`, n, ts.expiresIn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newProvider(t *testing.T, ts *tokenServer, refreshBefore time.Duration) *ClientCredentials {
	t.Helper()
	p, err := NewClientCredentials(ClientCredentialsConfig{
		TokenURL:      ts.URL,
		ClientID:      "probe-client",
		ClientSecret:  "s3cret",
		Scopes:        []string{"submit", "read"},
		RefreshBefore: refreshBefore,
	}, nil)
	if err != nil {
		t.Fatalf("NewClientCredentials() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestClientCredentialsUsesBasicAuth(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p := newProvider(t, ts, 0)

	token, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "token-1" {
		t.Errorf("token = %q, want token-1", token)
	}

	auth, _ := ts.lastAuth.Load().(string)
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		t.Fatalf("decode basic auth: %v", err)
	}
	if string(decoded) != "probe-client:s3cret" {
		t.Errorf("credentials = %q, want probe-client:s3cret", decoded)
	}
	body, _ := ts.lastBody.Load().(string)
	if !strings.Contains(body, "grant_type=client_credentials") || !strings.Contains(body, "scope=submit+read") {
		t.Errorf("form body = %q", body)
	}
	if strings.Contains(body, "client_secret") {
		t.Error("client secret leaked into the form body")
	}
}

func TestClientCredentialsCachesUntilRefresh(t *testing.T) {
	ts := newTokenServer(t, 60)
	p := newProvider(t, ts, 10*time.Second)
	now := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := p.Token(context.Background()); err != nil {
			t.Fatalf("Token() error = %v", err)
		}
	}
	if got := ts.requests.Load(); got != 1 {
		t.Fatalf("requests = %d, want 1 while cached", got)
	}

	now = now.Add(51 * time.Second)
	token, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "token-2" || ts.requests.Load() != 2 {
		t.Errorf("token = %q after %d requests, want token-2 after refresh", token, ts.requests.Load())
	}
}

func TestClientCredentialsConcurrentCallersShareFetch(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p := newProvider(t, ts, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Token(context.Background()); err != nil {
				t.Errorf("Token() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if got := ts.requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestClientCredentialsErrorStatus(t *testing.T) {
	ts := newTokenServer(t, 3600)
	ts.status.Store(http.StatusUnauthorized)
	p := newProvider(t, ts, 0)

	_, err := p.Token(context.Background())
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Token() error = %v, want 401 StatusError", err)
	}

	ts.status.Store(http.StatusOK)
	if _, err := p.Token(context.Background()); err != nil {
		t.Errorf("Token() after recovery error = %v", err)
	}
}

func TestAuthorizeSetsBearer(t *testing.T) {
	ts := newTokenServer(t, 3600)
	p := newProvider(t, ts, 0)

	req := httptest.NewRequest(http.MethodPost, "http://node/submit", nil)
	if err := p.Authorize(context.Background(), req); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer token-1" {
		t.Errorf("Authorization = %q, want Bearer token-1", got)
	}
}

func TestNewClientCredentialsValidates(t *testing.T) {
	if _, err := NewClientCredentials(ClientCredentialsConfig{ClientID: "a", ClientSecret: "b"}, nil); err == nil {
		t.Error("missing token url should fail")
	}
	if _, err := NewClientCredentials(ClientCredentialsConfig{TokenURL: "http://auth/token"}, nil); err == nil {
		t.Error("missing client credentials should fail")
	}
}

func TestStaticToken(t *testing.T) {
	if _, err := NewStaticToken(""); err == nil {
		t.Error("empty token should fail")
	}
	p, err := NewStaticToken("api-key")
	if err != nil {
		t.Fatalf("NewStaticToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "http://node/status", nil)
	if err := p.Authorize(context.Background(), req); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer api-key" {
		t.Errorf("Authorization = %q, want Bearer api-key", got)
	}
}
