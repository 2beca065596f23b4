package extractor

import "testing"

func TestFieldStringFirstPathWins(t *testing.T) {
	body := []byte(`{"tx_hash": "0xabc", "result": "ignored"}`)
	f := Field{Paths: []string{"hash", "tx_hash", "result"}}
	got, ok := f.String(body)
	if !ok || got != "0xabc" {
		t.Fatalf("expected 0xabc, got %q (%v)", got, ok)
	}
}

func TestFieldStringDollarSyntax(t *testing.T) {
	body := []byte(`{"data": {"blocks": [{"height": 7}]}}`)
	got, ok := Field{Paths: []string{"$.data.blocks.0.height"}}.String(body)
	if !ok || got != "7" {
		t.Fatalf("expected 7, got %q", got)
	}

	whole, ok := Field{Paths: []string{"$"}}.String([]byte(`"TX~deadbeef"`))
	if !ok || whole != "TX~deadbeef" {
		t.Fatalf("expected bare string body, got %q", whole)
	}
}

func TestFieldStringSkipsNull(t *testing.T) {
	body := []byte(`{"hash": null, "txHash": "h2"}`)
	got, ok := Field{Paths: []string{"hash", "txHash"}}.String(body)
	if !ok || got != "h2" {
		t.Fatalf("expected h2, got %q", got)
	}
}

func TestFieldStringRegexFallback(t *testing.T) {
	body := []byte(`error: payload too large (max 1048576 bytes)`)
	got, ok := Field{Paths: []string{"error"}, Regex: `max (\d+) bytes`}.String(body)
	if !ok || got != "1048576" {
		t.Fatalf("expected capture group, got %q", got)
	}

	full, ok := Field{Regex: `too large`}.String(body)
	if !ok || full != "too large" {
		t.Fatalf("expected full match, got %q", full)
	}

	if _, ok := (Field{Regex: `(`}).String(body); ok {
		t.Fatal("invalid regex must not match")
	}
	if _, err := (Field{Regex: `(`}).Compile(); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestFieldMissing(t *testing.T) {
	if _, ok := (Field{Paths: []string{"nope"}}).String([]byte(`{"a":1}`)); ok {
		t.Fatal("expected miss")
	}
	if _, ok := (Field{}).String([]byte(`{}`)); ok {
		t.Fatal("empty field must miss")
	}
}

func TestFieldInt(t *testing.T) {
	tests := []struct {
		body string
		want int64
		ok   bool
	}{
		{`{"block_height": 42}`, 42, true},
		{`{"block_height": "43"}`, 43, true},
		{`{"block_height": "abc"}`, 0, false},
		{`{"other": 1}`, 0, false},
	}
	f := Field{Paths: []string{"block_height", "height"}}
	for _, tt := range tests {
		got, ok := f.Int([]byte(tt.body))
		if got != tt.want || ok != tt.ok {
			t.Errorf("Int(%s) = %d,%v want %d,%v", tt.body, got, ok, tt.want, tt.ok)
		}
	}
}
