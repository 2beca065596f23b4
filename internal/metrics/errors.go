package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/torosent/blockprobe/internal/ledger"
)

// ErrorLabel returns a short label used to bucket submit and poll errors.
// Classified rejections are bucketed by class, everything else by its
// concrete error type.
func ErrorLabel(err error) string {
	if err == nil {
		return ""
	}
	var rej *ledger.Rejection
	if errors.As(err, &rej) && rej.Class != ledger.Unclassified {
		return rej.Class.String()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ledger.ErrSubmitTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "network"
	}
	return typeLabel(err)
}

// typeLabel turns "*github.com/gorilla/websocket.CloseError" into
// "websocket.CloseError". Anonymous errors.New values become "error".
func typeLabel(err error) string {
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		name = name[idx+1:]
	}
	switch name {
	case "errors.errorString", "fmt.wrapError", "fmt.wrapErrors":
		return "error"
	}
	return name
}
