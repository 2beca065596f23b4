// Package auth obtains bearer tokens for ledger gateways that sit behind
// an authorization server.
package auth

import (
	"context"
	"net/http"
)

// Provider supplies the Authorization header for outgoing adapter requests.
type Provider interface {
	// Token returns a valid access token, from cache when possible.
	Token(ctx context.Context) (string, error)

	// Authorize sets the Authorization header on req.
	Authorize(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}

func setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}
