// Package simulated provides an in-process ledger with configurable limits,
// block production and failure injection. It is used for dry runs and tests.
package simulated

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/blockprobe/internal/ledger"
)

// Config controls the behaviour of the simulated ledger.
type Config struct {
	// MaxBytes is the largest accepted unit payload; 0 means unlimited.
	MaxBytes int
	// MaxCount is the largest accepted batch; 0 means unlimited.
	MaxCount int
	// BlockInterval is the time between blocks. Defaults to 1s.
	BlockInterval time.Duration
	// BlockCapacity is the number of units one block carries; 0 means unlimited.
	BlockCapacity int
	// SubmitLatency delays every Submit call.
	SubmitLatency time.Duration

	// RateLimitEvery makes every Nth submit call fail with RateLimited.
	RateLimitEvery int
	// DropEvery makes every Nth accepted unit fail at poll time.
	DropEvery int

	Seed  int64
	Clock func() time.Time
}

// Ledger is a deterministic in-memory ledger.Oracle.
type Ledger struct {
	cfg Config

	mu        sync.Mutex
	entropy   *ulid.MonotonicEntropy
	height    int64
	calls     int
	accepted  int
	mempool   []string
	txs       map[string]*tx
	nextBlock time.Time
}

type tx struct {
	dropped     bool
	height      int64
	confirmedAt time.Time
}

var _ ledger.Oracle = (*Ledger)(nil)

// New returns a ledger whose first block is produced one interval from now.
func New(cfg Config) *Ledger {
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	start := cfg.Clock()
	return &Ledger{
		cfg:       cfg,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(cfg.Seed)), 0),
		txs:       make(map[string]*tx),
		nextBlock: start.Add(cfg.BlockInterval),
	}
}

// Submit accepts u into the mempool or rejects it.
func (l *Ledger) Submit(ctx context.Context, u ledger.Unit) (ledger.Handle, error) {
	if l.cfg.SubmitLatency > 0 {
		timer := time.NewTimer(l.cfg.SubmitLatency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ledger.Handle{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return ledger.Handle{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.cfg.RateLimitEvery > 0 && l.calls%l.cfg.RateLimitEvery == 0 {
		return ledger.Handle{}, ledger.Reject(ledger.RateLimited, "rate limit exceeded")
	}
	if l.cfg.MaxBytes > 0 && u.SizeBytes > l.cfg.MaxBytes {
		return ledger.Handle{}, ledger.Reject(ledger.SizeLimited, "payload too large: %d > %d bytes", u.SizeBytes, l.cfg.MaxBytes)
	}
	if l.cfg.MaxCount > 0 && u.Count > l.cfg.MaxCount {
		return ledger.Handle{}, ledger.Reject(ledger.Fatal, "batch of %d exceeds %d calls", u.Count, l.cfg.MaxCount)
	}

	now := l.cfg.Clock()
	l.advance(now)
	id, err := ulid.New(ulid.Timestamp(now), l.entropy)
	if err != nil {
		return ledger.Handle{}, ledger.Reject(ledger.Transient, "allocate id: %v", err)
	}
	key := id.String()
	l.accepted++
	t := &tx{}
	if l.cfg.DropEvery > 0 && l.accepted%l.cfg.DropEvery == 0 {
		t.dropped = true
	} else {
		l.mempool = append(l.mempool, key)
	}
	l.txs[key] = t
	return ledger.Handle{ID: key, UnitID: u.ID, SubmittedAt: now}, nil
}

// Poll reports the state of h as of the ledger clock.
func (l *Ledger) Poll(ctx context.Context, h ledger.Handle) (ledger.PollResult, error) {
	if err := ctx.Err(); err != nil {
		return ledger.PollResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.advance(l.cfg.Clock())
	t, ok := l.txs[h.ID]
	switch {
	case !ok:
		return ledger.PollResult{}, ledger.Reject(ledger.Fatal, "unknown transaction %s", h.ID)
	case t.dropped:
		return ledger.PollResult{Status: ledger.Rejected, Reason: "dropped from mempool"}, nil
	case t.height == 0:
		return ledger.PollResult{Status: ledger.Pending}, nil
	}
	return ledger.PollResult{
		Status:      ledger.Included,
		GroupKey:    strconv.FormatInt(t.height, 10),
		ConfirmedAt: t.confirmedAt,
	}, nil
}

// Height returns the number of blocks produced so far.
func (l *Ledger) Height() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance(l.cfg.Clock())
	return l.height
}

// advance produces every block due at or before now. Empty blocks are still
// produced so heights track wall time.
func (l *Ledger) advance(now time.Time) {
	for !l.nextBlock.After(now) {
		l.height++
		take := len(l.mempool)
		if l.cfg.BlockCapacity > 0 && take > l.cfg.BlockCapacity {
			take = l.cfg.BlockCapacity
		}
		for _, key := range l.mempool[:take] {
			t := l.txs[key]
			t.height = l.height
			t.confirmedAt = l.nextBlock
		}
		l.mempool = l.mempool[take:]
		l.nextBlock = l.nextBlock.Add(l.cfg.BlockInterval)
	}
}
