package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/torosent/blockprobe/internal/httpclient"
)

// defaultLifetime applies when the token response carries no expires_in.
const defaultLifetime = time.Minute

// ClientCredentialsConfig describes an OAuth2 client credentials grant.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// RefreshBefore renews the token this long before it expires.
	RefreshBefore time.Duration
	Timeout       time.Duration
}

// ClientCredentials implements the OAuth2 client credentials flow. Concurrent
// callers share one in-flight token request.
type ClientCredentials struct {
	cfg    ClientCredentialsConfig
	client *http.Client
	now    func() time.Time

	mu       sync.Mutex
	fetching bool
	fetched  *sync.Cond
	token    string
	expiry   time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// NewClientCredentials validates cfg. A nil client uses httpclient.NewClient.
func NewClientCredentials(cfg ClientCredentialsConfig, client *http.Client) (*ClientCredentials, error) {
	switch {
	case strings.TrimSpace(cfg.TokenURL) == "":
		return nil, errors.New("auth: token url is required")
	case cfg.ClientID == "" || cfg.ClientSecret == "":
		return nil, errors.New("auth: client id and secret are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = httpclient.NewClient(cfg.Timeout)
	}
	p := &ClientCredentials{cfg: cfg, client: client, now: time.Now}
	p.fetched = sync.NewCond(&p.mu)
	return p, nil
}

// Token returns the cached token or fetches a new one.
func (p *ClientCredentials) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.token != "" && p.now().Before(p.expiry) {
			return p.token, nil
		}
		if !p.fetching {
			break
		}
		p.fetched.Wait()
	}

	p.fetching = true
	p.mu.Unlock()
	token, lifetime, err := p.fetch(ctx)
	p.mu.Lock()
	p.fetching = false
	p.fetched.Broadcast()

	if err != nil {
		return "", err
	}
	p.token = token
	p.expiry = p.now().Add(lifetime - p.cfg.RefreshBefore)
	return token, nil
}

func (p *ClientCredentials) fetch(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if len(p.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(p.cfg.ClientID), url.QueryEscape(p.cfg.ClientSecret))

	resp, err := httpclient.Do(p.client, req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if tr.Error != "" {
		return "", 0, fmt.Errorf("oauth2 error: %s - %s", tr.Error, tr.ErrorDesc)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("no access token in response")
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	return tr.AccessToken, lifetime, nil
}

func (p *ClientCredentials) Authorize(ctx context.Context, req *http.Request) error {
	token, err := p.Token(ctx)
	if err != nil {
		return err
	}
	setBearer(req, token)
	return nil
}

func (p *ClientCredentials) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
