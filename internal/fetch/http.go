package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/logger"
)

// HTTP fetches ranges with "Range: bytes=a-b" requests.
type HTTP struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// HTTPOption configures an HTTP fetcher.
type HTTPOption func(*HTTP)

// WithClient replaces the default client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithTimeout sets a per-request timeout on the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.client = &http.Client{Timeout: d} }
}

// NewHTTP creates a fetcher for url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		url:    url,
		client: http.DefaultClient,
		log:    logger.Named("fetch"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fetch implements Fetcher. Only 206 is success; a 200 means the server
// returned the whole file and is reported as ErrRangeUnsupported.
func (h *HTTP) Fetch(ctx context.Context, start, end int64) ([]byte, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if start == end {
		return []byte{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, &TransportError{Op: "GET", Source: h.url, Err: err}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "GET", Source: h.url, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return nil, fmt.Errorf("%w: %s", ErrRangeUnsupported, h.url)
	case http.StatusRequestedRangeNotSatisfiable, http.StatusNotFound, http.StatusForbidden:
		return nil, &TransportError{Op: "GET", Source: h.url, Status: resp.StatusCode}
	default:
		return nil, &TransportError{Op: "GET", Source: h.url, Status: resp.StatusCode, Retryable: true}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, end-start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Op: "GET", Source: h.url, Status: resp.StatusCode, Retryable: true, Err: err}
	}
	if len(data) == 0 {
		return nil, &TransportError{Op: "GET", Source: h.url, Status: resp.StatusCode, Retryable: true,
			Err: errors.New("empty body")}
	}
	if int64(len(data)) != end-start {
		h.log.Debug("short range response",
			zap.Int64("start", start), zap.Int64("end", end), zap.Int("got", len(data)))
		return nil, &TransportError{Op: "GET", Source: h.url, Status: resp.StatusCode, Retryable: true,
			Err: io.ErrUnexpectedEOF}
	}
	return data, nil
}
