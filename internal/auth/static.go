package auth

import (
	"context"
	"errors"
	"net/http"
)

// StaticToken returns a pre-issued token, e.g. an API key handed out by a
// hosted node provider.
type StaticToken struct {
	token string
}

// NewStaticToken returns a provider for token.
func NewStaticToken(token string) (*StaticToken, error) {
	if token == "" {
		return nil, errors.New("auth: static token is empty")
	}
	return &StaticToken{token: token}, nil
}

func (p *StaticToken) Token(context.Context) (string, error) {
	return p.token, nil
}

func (p *StaticToken) Authorize(_ context.Context, req *http.Request) error {
	setBearer(req, p.token)
	return nil
}

func (p *StaticToken) Close() error {
	return nil
}
