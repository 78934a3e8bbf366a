package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout bounds an exchange when the request does not set one.
const DefaultTimeout = 5 * time.Second

// Stats holds exchange counters for an HTTPTransport.
type Stats struct {
	Requests       int
	Failures       int
	Timeouts       int
	AverageLatency time.Duration
	LastSuccessAt  time.Time
	LastFailureAt  time.Time
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	httpClient *http.Client

	mu           sync.RWMutex
	stats        Stats
	totalLatency time.Duration
	successCount int
}

// NewHTTPTransport creates a transport. The client timeout is a backstop;
// the per-request context deadline is what aborts a slow exchange.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout: 2 * timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Send performs one exchange. Network errors and timeouts are reported as a
// Response with Status 0.
func (t *HTTPTransport) Send(ctx context.Context, r Request) *Response {
	start := time.Now()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := r.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		t.recordFailure(false)
		return &Response{Err: fmt.Errorf("create request: %w", err)}
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(r.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded)
		t.recordFailure(timedOut)
		if timedOut {
			return &Response{Err: fmt.Errorf("request timed out after %v: %w", timeout, err)}
		}
		return &Response{Err: fmt.Errorf("network error: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.recordFailure(errors.Is(err, context.DeadlineExceeded))
		return &Response{Err: fmt.Errorf("read response: %w", err)}
	}

	t.recordSuccess(time.Since(start))
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}
}

// Stats returns a snapshot of the exchange counters.
func (t *HTTPTransport) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) recordSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Requests++
	t.successCount++
	t.totalLatency += latency
	t.stats.LastSuccessAt = time.Now()
	t.stats.AverageLatency = t.totalLatency / time.Duration(t.successCount)
}

func (t *HTTPTransport) recordFailure(timeout bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Requests++
	t.stats.Failures++
	if timeout {
		t.stats.Timeouts++
	}
	t.stats.LastFailureAt = time.Now()
}
