package probe

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/blockprobe/internal/ledger"
	"github.com/torosent/blockprobe/internal/unit"
)

const (
	DefaultGrowthFactor  = 1.1
	DefaultShrinkDivisor = 2
)

// Options configure a capacity probe.
type Options struct {
	StartSize      int           // payload bytes tried first
	MinSize        int           // payload floor; rejection at this size ends the probe
	StartCount     int           // calls per batch tried first
	MinCount       int           // count floor for the halving search (default 1)
	MaxCount       int           // count ceiling for growth (default StartCount)
	GrowthFactor   float64       // greedy growth step after acceptance (default 1.1)
	ShrinkDivisor  int           // payload shrink divisor (default 2)
	AttemptTimeout time.Duration // bound on each Submit call (0 means none)

	// IsSizeLimited short-circuits count halving for rejections that say the
	// payload itself is too large. Nil means every rejection halves the count.
	IsSizeLimited func(*ledger.Rejection) bool

	Factory unit.Factory
	Logger  zerolog.Logger
}

func (o *Options) normalize() {
	if o.MinCount <= 0 {
		o.MinCount = 1
	}
	if o.MinSize <= 0 {
		o.MinSize = 1
	}
	if o.StartCount < o.MinCount {
		o.StartCount = o.MinCount
	}
	if o.MaxCount <= 0 {
		o.MaxCount = o.StartCount
	}
	if o.StartCount > o.MaxCount {
		o.StartCount = o.MaxCount
	}
	if o.GrowthFactor == 0 {
		o.GrowthFactor = DefaultGrowthFactor
	}
	if o.ShrinkDivisor == 0 {
		o.ShrinkDivisor = DefaultShrinkDivisor
	}
}

// Validate reports configuration errors that make a probe run meaningless.
func (o Options) Validate() error {
	var issues []string
	if o.StartSize <= 0 {
		issues = append(issues, "start size must be > 0")
	}
	if o.MinSize > o.StartSize {
		issues = append(issues, fmt.Sprintf("min size %d exceeds start size %d", o.MinSize, o.StartSize))
	}
	if o.MaxCount > 0 && o.MinCount > o.MaxCount {
		issues = append(issues, fmt.Sprintf("min count %d exceeds max count %d", o.MinCount, o.MaxCount))
	}
	if o.GrowthFactor != 0 && o.GrowthFactor < 1 {
		issues = append(issues, "growth factor must be >= 1")
	}
	if o.ShrinkDivisor != 0 && o.ShrinkDivisor < 2 {
		issues = append(issues, "shrink divisor must be >= 2")
	}
	if o.AttemptTimeout < 0 {
		issues = append(issues, "attempt timeout must be >= 0")
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid probe options: %s", strings.Join(issues, "; "))
	}
	return nil
}

// SizeLimitedByClass treats rejections classified as SizeLimited as payload-size errors.
func SizeLimitedByClass(r *ledger.Rejection) bool {
	return r != nil && r.Class == ledger.SizeLimited
}

// SizeLimitedByReason matches rejection reasons containing any of the given
// case-insensitive fragments, e.g. "too large".
func SizeLimitedByReason(fragments ...string) func(*ledger.Rejection) bool {
	lowered := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			lowered = append(lowered, f)
		}
	}
	return func(r *ledger.Rejection) bool {
		if r == nil {
			return false
		}
		reason := strings.ToLower(r.Reason)
		for _, f := range lowered {
			if strings.Contains(reason, f) {
				return true
			}
		}
		return false
	}
}
