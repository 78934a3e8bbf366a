// Package transport executes single request/response exchanges against the
// guarded service.
//
// This package contains:
//   - Transport interface: the exchange contract consumed by the probing core
//   - HTTPTransport: net/http implementation with per-request timeout
//   - BrowserHeaders: the static browser-like header set sent with every request
package transport

import (
	"context"
	"net/http"
	"time"
)

// Request is one exchange to perform.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the result of an exchange. Status 0 signals that no response
// was received (connection failure or timeout); Err then holds the cause.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

// Failed reports whether the exchange produced no HTTP response.
func (r *Response) Failed() bool {
	return r == nil || r.Status == 0
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Transport performs exchanges. Implementations never return a nil Response.
type Transport interface {
	Send(ctx context.Context, req Request) *Response
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request) *Response

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req Request) *Response {
	return f(ctx, req)
}

// BrowserHeaders returns the fixed header set a same-origin browser fetch
// would carry for the given origin.
func BrowserHeaders(origin string) http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-GB,en;q=0.9")
	h.Set("Sec-Ch-Ua", `"Chromium";v="135", "Not-A.Brand";v="8"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Linux"`)
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Priority", "u=1, i")
	if origin != "" {
		h.Set("Origin", origin)
		h.Set("Referer", origin+"/")
	}
	return h
}
