// Package pool keeps idle ledger connections for reuse, keyed by endpoint.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// Poolable represents any client that can be pooled and reused.
type Poolable interface {
	Connect(ctx context.Context) error
	Close() error
}

// ConnectionPool manages idle connections keyed by target+headers.
type ConnectionPool struct {
	mu     sync.Mutex
	idle   map[string][]Poolable
	size   int
	closed bool
}

// NewConnectionPool creates a pool keeping at most size idle connections per key.
func NewConnectionPool(size int) *ConnectionPool {
	if size <= 0 {
		size = 10
	}
	return &ConnectionPool{idle: make(map[string][]Poolable), size: size}
}

// Get retrieves an idle connection or creates one with factory.
// If reused is false the caller must connect the new client.
func (p *ConnectionPool) Get(key string, factory func() Poolable) (client Poolable, reused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idle := p.idle[key]; len(idle) > 0 && !p.closed {
		client = idle[len(idle)-1]
		p.idle[key] = idle[:len(idle)-1]
		return client, true
	}
	return factory(), false
}

// Acquire returns a connected client, dialing a new one when none is idle.
func (p *ConnectionPool) Acquire(ctx context.Context, key string, factory func() Poolable) (Poolable, bool, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, false, ErrClosed
	}

	client, reused := p.Get(key, factory)
	if reused {
		return client, true, nil
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, false, err
	}
	return client, false, nil
}

// Put returns a connection for reuse. It is closed instead when the key
// already holds size idle connections or the pool is closed.
func (p *ConnectionPool) Put(key string, client Poolable) error {
	p.mu.Lock()
	if p.closed || len(p.idle[key]) >= p.size {
		p.mu.Unlock()
		return client.Close()
	}
	p.idle[key] = append(p.idle[key], client)
	p.mu.Unlock()
	return nil
}

// Discard closes a connection that must not be reused.
func (p *ConnectionPool) Discard(client Poolable) {
	_ = client.Close()
}

// RetryStaleConnection closes a stale connection and dials a replacement once.
func (p *ConnectionPool) RetryStaleConnection(ctx context.Context, client Poolable, factory func() Poolable) (Poolable, bool) {
	_ = client.Close()

	newClient := factory()
	if err := newClient.Connect(ctx); err != nil {
		_ = newClient.Close()
		return nil, false
	}
	return newClient, true
}

// Idle reports the number of idle connections held for key.
func (p *ConnectionPool) Idle(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Close closes all idle connections. Connections returned later are closed on Put.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[string][]Poolable)
	p.closed = true
	p.mu.Unlock()

	var errs []string
	for _, clients := range idle {
		for _, client := range clients {
			if err := client.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("pool close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MakePoolKey generates a deterministic key from a target URL and headers.
func MakePoolKey(target string, headers http.Header) string {
	var sb strings.Builder
	sb.WriteString(target)
	sb.WriteString("|")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strings.Join(headers[k], ","))
		sb.WriteString(";")
	}
	return sb.String()
}
