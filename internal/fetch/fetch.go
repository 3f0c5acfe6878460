// Package fetch provides byte-range transports for nexus containers.
//
// Every transport implements Fetcher. Errors are classified so the cache can
// decide between retrying a request and dropping the node: a *TransportError
// carries a Retryable flag, and ErrRangeUnsupported is always fatal.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Fetcher reads the half-open byte range [start, end) of one resource.
type Fetcher interface {
	Fetch(ctx context.Context, start, end int64) ([]byte, error)
}

// ErrRangeUnsupported reports a server that ignored the Range header.
var ErrRangeUnsupported = errors.New("fetch: server does not support byte ranges")

// TransportError describes a failed request.
type TransportError struct {
	Op        string // "GET", "read", "cache"
	Source    string
	Status    int // HTTP status when known
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fetch: %s %s", e.Op, e.Source)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// Open returns the transport for source: HTTP for http(s) URLs, a local file otherwise.
func Open(source string, opts ...HTTPOption) (Fetcher, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return NewHTTP(source, opts...), nil
	}
	return OpenFile(source)
}

func checkRange(start, end int64) error {
	if start < 0 || end < start {
		return fmt.Errorf("fetch: invalid range [%d, %d)", start, end)
	}
	return nil
}
