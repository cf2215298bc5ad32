// Package transport performs single raw HTTP exchanges and decodes their
// bodies. It never retries; retry policy lives in package client.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is one HTTP exchange to perform. Header keys are canonicalized by
// net/http, so lookups are case-insensitive.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is encoded as JSON when non-nil.
	Body any
}

// NewRequest builds a Request with a copy of header.
func NewRequest(method, url string, header http.Header, body any) *Request {
	h := http.Header{}
	for k, v := range header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return &Request{Method: method, URL: url, Header: h, Body: body}
}

// Response is a completed exchange.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the decoded JSON value (numbers as json.Number), the raw body
	// as a string when it is not JSON, or nil when the body is empty.
	Body any

	// Raw is the undecoded body.
	Raw []byte
}

// IsJSON reports whether Body was decoded from JSON (or was empty).
func (r *Response) IsJSON() bool {
	_, isString := r.Body.(string)
	return !isString || looksLikeJSONString(r.Raw)
}

// Object returns Body as a JSON object.
func (r *Response) Object() (map[string]any, bool) {
	m, ok := r.Body.(map[string]any)
	return m, ok
}

// Summary returns at most n bytes of the body for log lines.
func (r *Response) Summary(n int) string {
	if r == nil {
		return "undefined"
	}
	if len(r.Raw) <= n {
		return string(r.Raw)
	}
	return string(r.Raw[:n])
}

// Transport performs a single exchange.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Config holds transport settings.
type Config struct {
	// Timeout bounds connect + read of a single exchange.
	Timeout time.Duration

	// UserAgent is sent on every request when set.
	UserAgent string

	// InsecureSkipVerify disables TLS chain verification. nepalstock.com
	// serves an incomplete certificate chain.
	InsecureSkipVerify bool
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "nepse-collector/0.1.0",
	}
}

// Resty is the production Transport backed by go-resty.
type Resty struct {
	client *resty.Client
}

// NewResty creates a resty-backed transport.
func NewResty(cfg Config) *Resty {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // upstream chain is incomplete
	}

	return &Resty{client: client}
}

// NewRestyFromClient wraps an existing resty client (tests use this to point
// at an httptest server with its own TLS config).
func NewRestyFromClient(client *resty.Client) *Resty {
	return &Resty{client: client}
}

// Do performs the exchange. Only network and body-read failures are returned
// as errors; HTTP error statuses are returned as responses.
func (t *Resty) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("transport: nil request")
	}

	r := t.client.R().SetContext(ctx)
	for key, values := range req.Header {
		for _, v := range values {
			r.Header.Add(key, v)
		}
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}

	raw := resp.Body()
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       Decode(raw),
		Raw:        raw,
	}, nil
}

// Decode parses raw as JSON, falling back to the raw string.
func Decode(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	// Trailing garbage after a valid value means the body was not JSON.
	if _, err := dec.Token(); err != io.EOF {
		return string(raw)
	}
	return v
}

func looksLikeJSONString(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"'
}
