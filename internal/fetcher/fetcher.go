// Package fetcher reports the throughput a ledger is observed to sustain on
// mainnet, using public explorer APIs.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/blockprobe/internal/httpclient"
)

// ErrUnknownProtocol is returned for names that have no registered fetcher.
var ErrUnknownProtocol = errors.New("unknown protocol")

// Sample is one observed-throughput measurement.
type Sample struct {
	TPS    float64
	Blocks int
}

// Fetcher measures the observed TPS of one protocol.
type Fetcher interface {
	Name() string
	FetchTPS(ctx context.Context) (Sample, error)
}

// Entry is the per-protocol row of a Snapshot.
type Entry struct {
	TPS    float64 `json:"tps" yaml:"tps"`
	Status string  `json:"status" yaml:"status"`
	Error  string  `json:"error,omitempty" yaml:"error,omitempty"`
	Blocks int     `json:"blocks,omitempty" yaml:"blocks,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Snapshot holds the results of one Collect call.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Protocols map[string]Entry `json:"protocols" yaml:"protocols"`
}

// Endpoints are the base URLs of the explorer APIs.
type Endpoints struct {
	Espresso string
	Celestia string
	Avail    string
	Near     string
}

// DefaultEndpoints returns the public mainnet explorers.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Espresso: "https://cache.main.net.espresso.network",
		Celestia: "https://api-mainnet.celenium.io",
		Avail:    "https://avail.api.subscan.io",
		Near:     "https://api.nearblocks.io",
	}
}

// Registry maps protocol ids to fetchers.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
	logger   zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{fetchers: make(map[string]Fetcher), logger: logger}
}

// Default returns a registry holding every built-in fetcher.
func Default(client *http.Client, ep Endpoints, logger zerolog.Logger) *Registry {
	if client == nil {
		client = httpclient.NewClient(15 * time.Second)
	}
	r := NewRegistry(logger)
	r.Register(NewEspresso(client, ep.Espresso))
	r.Register(NewCelestia(client, ep.Celestia))
	r.Register(NewAvail(client, ep.Avail))
	r.Register(NewNear(client, ep.Near))
	return r
}

// Register adds f, replacing any fetcher with the same name.
func (r *Registry) Register(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[f.Name()] = f
}

// Names lists registered protocols in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the fetcher registered under name.
func (r *Registry) Lookup(name string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
	}
	return f, nil
}

// Collect fetches every named protocol concurrently; an empty list means all.
// A failing fetcher is recorded in its Entry and never fails the snapshot.
func (r *Registry) Collect(ctx context.Context, names []string) (Snapshot, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	fetchers := make([]Fetcher, len(names))
	for i, name := range names {
		f, err := r.Lookup(name)
		if err != nil {
			return Snapshot{}, err
		}
		fetchers[i] = f
	}

	entries := make([]Entry, len(fetchers))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range fetchers {
		i, f := i, f
		g.Go(func() error {
			sample, err := f.FetchTPS(gctx)
			if err != nil {
				r.logger.Warn().Err(err).Str("protocol", f.Name()).Msg("tps fetch failed")
				entries[i] = Entry{Status: StatusError, Error: err.Error()}
				return nil
			}
			r.logger.Debug().Str("protocol", f.Name()).Float64("tps", sample.TPS).Int("blocks", sample.Blocks).Msg("tps fetched")
			entries[i] = Entry{TPS: sample.TPS, Status: StatusOK, Blocks: sample.Blocks}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Timestamp: time.Now().UTC(), Protocols: make(map[string]Entry, len(names))}
	for i, name := range names {
		snap.Protocols[name] = entries[i]
	}
	return snap, ctx.Err()
}

type block struct {
	at  time.Time
	txs int64
}

// windowTPS divides the transactions in the window by the time between the
// oldest and newest block.
func windowTPS(blocks []block) (Sample, error) {
	if len(blocks) < 2 {
		return Sample{}, fmt.Errorf("need at least 2 blocks, got %d", len(blocks))
	}
	first, last := blocks[0].at, blocks[0].at
	var total int64
	for _, b := range blocks {
		total += b.txs
		if b.at.Before(first) {
			first = b.at
		}
		if b.at.After(last) {
			last = b.at
		}
	}
	span := last.Sub(first).Seconds()
	if span <= 0 {
		return Sample{}, errors.New("block window has no time span")
	}
	return Sample{TPS: float64(total) / span, Blocks: len(blocks)}, nil
}
