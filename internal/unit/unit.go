// Package unit builds deterministic work units so that runs are reproducible
// and their payloads can be diffed between runs.
package unit

import "github.com/torosent/blockprobe/internal/ledger"

// Spec describes a unit before its payload is materialized.
type Spec struct {
	ID        int
	SizeBytes int
	Count     int
}

// Factory makes units. The zero value produces bare deterministic payloads.
type Factory struct {
	// Prefix is copied to the start of every payload, truncated to the
	// payload size. A per-run prefix keeps deduplicating mempools from
	// dropping payloads seen in earlier runs.
	Prefix []byte
}

// Make returns the unit for (id, sizeBytes, count) using the zero Factory.
func Make(id, sizeBytes, count int) ledger.Unit {
	return Factory{}.Make(id, sizeBytes, count)
}

// Make returns a unit whose payload depends only on the prefix, id and size.
func (f Factory) Make(id, sizeBytes, count int) ledger.Unit {
	if sizeBytes < 0 {
		sizeBytes = 0
	}
	if count < 1 {
		count = 1
	}
	payload := make([]byte, sizeBytes)
	fill(payload, id)
	copy(payload, f.Prefix)
	return ledger.Unit{
		ID:        id,
		SizeBytes: sizeBytes,
		Count:     count,
		Payload:   payload,
	}
}

// Build materializes a Spec.
func (f Factory) Build(s Spec) ledger.Unit {
	return f.Make(s.ID, s.SizeBytes, s.Count)
}

// Sequence returns n specs with consecutive ids starting at 0.
func Sequence(n, sizeBytes, count int) []Spec {
	if n <= 0 {
		return nil
	}
	specs := make([]Spec, n)
	for i := range specs {
		specs[i] = Spec{ID: i, SizeBytes: sizeBytes, Count: count}
	}
	return specs
}

// fill writes the output of a 32-bit linear congruential generator seeded by id.
func fill(buf []byte, id int) {
	x := uint32(0x42) ^ uint32(id)*2654435761
	for i := range buf {
		x = x*1664525 + 1013904223
		buf[i] = byte(x >> 24)
	}
}
