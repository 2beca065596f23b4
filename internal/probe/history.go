package probe

import (
	"sync"
	"time"

	"github.com/torosent/blockprobe/internal/ledger"
)

// Attempt is one Submit call made while searching.
type Attempt struct {
	Seq      int                   `json:"seq" yaml:"seq"`
	Size     int                   `json:"size" yaml:"size"`
	Count    int                   `json:"count" yaml:"count"`
	Accepted bool                  `json:"accepted" yaml:"accepted"`
	Reason   string                `json:"reason,omitempty" yaml:"reason,omitempty"`
	Class    ledger.Classification `json:"-" yaml:"-"`
	Latency  time.Duration         `json:"latency" yaml:"latency"`
	At       time.Time             `json:"at" yaml:"at"`
}

// History is an append-only, concurrency-safe log of attempts.
type History struct {
	mu      sync.Mutex
	entries []Attempt
}

// Append stores a and returns it with its sequence number set.
func (h *History) Append(a Attempt) Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	a.Seq = len(h.entries) + 1
	h.entries = append(h.entries, a)
	return a
}

// Entries returns a copy of the log in insertion order.
func (h *History) Entries() []Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Attempt(nil), h.entries...)
}

// Len returns the number of recorded attempts.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
