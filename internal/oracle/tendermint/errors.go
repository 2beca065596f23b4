package tendermint

import (
	"fmt"
	"strings"

	"github.com/torosent/blockprobe/internal/ledger"
)

// codeInternalError is the JSON-RPC code nodes use for mempool and
// consensus-side failures.
const codeInternalError = -32603

type rpcError struct {
	Code    int64
	Message string
	Data    string
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.text())
}

func (e *rpcError) text() string {
	if e.Data == "" {
		return e.Message
	}
	return e.Message + ": " + e.Data
}

func (e *rpcError) rejection() *ledger.Rejection {
	fallback := ledger.Fatal
	if e.Code == codeInternalError {
		fallback = ledger.Transient
	}
	return &ledger.Rejection{Reason: e.text(), Class: classifyText(e.text(), fallback), Err: e}
}

var (
	sizeLimitedText = []string{"too large", "exceeds max", "max size"}
	rateLimitedText = []string{"mempool is full", "rate limit", "too many requests"}
)

// classifyText maps node log text to a rejection class, or fallback when no
// pattern matches.
func classifyText(text string, fallback ledger.Classification) ledger.Classification {
	lowered := strings.ToLower(text)
	for _, p := range sizeLimitedText {
		if strings.Contains(lowered, p) {
			return ledger.SizeLimited
		}
	}
	for _, p := range rateLimitedText {
		if strings.Contains(lowered, p) {
			return ledger.RateLimited
		}
	}
	return fallback
}
