// Package testutil provides a mock NEPSE upstream for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// IndexModule is a minimal WebAssembly module with the upstream's shape: it
// imports imports.imported_func and exports cdx, rdx, bdx, ndx and mdx, each
// taking five i32 and returning one. cdx returns its first argument, rdx
// its second, bdx its third, ndx its fourth and mdx its fifth.
var IndexModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (i32 x5) -> i32, () -> ()
	0x01, 0x0d, 0x02,
	0x60, 0x05, 0x7f, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x00, 0x00,
	// import section: imports.imported_func of type 1
	0x02, 0x19, 0x01,
	0x07, 'i', 'm', 'p', 'o', 'r', 't', 's',
	0x0d, 'i', 'm', 'p', 'o', 'r', 't', 'e', 'd', '_', 'f', 'u', 'n', 'c',
	0x00, 0x01,
	// function section: five functions of type 0
	0x03, 0x06, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00,
	// export section
	0x07, 0x1f, 0x05,
	0x03, 'c', 'd', 'x', 0x00, 0x01,
	0x03, 'r', 'd', 'x', 0x00, 0x02,
	0x03, 'b', 'd', 'x', 0x00, 0x03,
	0x03, 'n', 'd', 'x', 0x00, 0x04,
	0x03, 'm', 'd', 'x', 0x00, 0x05,
	// code section: local.get N
	0x0a, 0x1a, 0x05,
	0x04, 0x00, 0x20, 0x00, 0x0b,
	0x04, 0x00, 0x20, 0x01, 0x0b,
	0x04, 0x00, 0x20, 0x02, 0x0b,
	0x04, 0x00, 0x20, 0x03, 0x0b,
	0x04, 0x00, 0x20, 0x04, 0x0b,
}

// DefaultOffsets are the padding offsets the mock prove endpoint uses.
var DefaultOffsets = [5]int{2, 5, 9, 13, 20}

const (
	// ProvePath is served by the mock with a scrambled token.
	ProvePath = "/api/authenticate/prove"

	// IndexModulePath serves IndexModule.
	IndexModulePath = "/assets/prod/css.wasm"

	// ProtectedPrefix marks paths that require a valid Authorization header.
	ProtectedPrefix = "/api/nots"
)

// SaltsFor returns the salts that make IndexModule produce offsets. Indices
// are computed as cdx(s1,s2,s3,s4,s5), rdx/bdx/ndx/mdx(s1,s2,s4,s3,s5), so
// salt3 and salt4 carry the fourth and third offset respectively.
func SaltsFor(offsets [5]int) [5]int {
	return [5]int{offsets[0], offsets[1], offsets[3], offsets[2], offsets[4]}
}

// Scramble inserts a padding character at each offset of the result.
func Scramble(token string, offsets [5]int) string {
	sorted := offsets
	sort.Ints(sorted[:])

	var b strings.Builder
	next := 0
	o := 0
	for pos := 0; pos < len(token)+len(sorted); pos++ {
		if o < len(sorted) && sorted[o] == pos {
			b.WriteByte('#')
			o++
			continue
		}
		b.WriteByte(token[next])
		next++
	}
	return b.String()
}

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock of nepalstock.com and the fund listing.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	prefixes map[string]http.HandlerFunc

	offsets    [5]int
	token      string
	proveCount int
	pathCounts map[string]int

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockUpstream starts a mock server serving the prove endpoint and the
// index module. Paths under ProtectedPrefix answer 401 unless the request
// carries the most recently issued token.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		handlers:   make(map[string]http.HandlerFunc),
		prefixes:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
		offsets:    DefaultOffsets,
	}
	m.handlers[ProvePath] = m.proveHandler
	m.handlers[IndexModulePath] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/wasm")
		w.Write(IndexModule)
	}

	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

func (m *MockUpstream) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.pathCounts[r.URL.Path]++
	m.LastRequestHeader = r.Header.Clone()
	token := m.token
	handler, exists := m.handlers[r.URL.Path]
	if !exists {
		handler, exists = m.matchPrefix(r.URL.Path)
	}
	m.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, ProtectedPrefix) {
		if token == "" || r.Header.Get("Authorization") != "Salter "+token {
			writeJSON(w, http.StatusUnauthorized, `{"message": "Unauthorized"}`)
			return
		}
	}

	if !exists {
		writeJSON(w, http.StatusNotFound, `{"status": "error", "message": "not found"}`)
		return
	}
	handler(w, r)
}

func (m *MockUpstream) matchPrefix(path string) (http.HandlerFunc, bool) {
	best := ""
	for p := range m.prefixes {
		if strings.HasPrefix(path, p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return nil, false
	}
	return m.prefixes[best], true
}

func (m *MockUpstream) proveHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.proveCount++
	m.token = fmt.Sprintf("token-%024d", m.proveCount)
	token, offsets := m.token, m.offsets
	m.mu.Unlock()

	salts := SaltsFor(offsets)
	body, _ := json.Marshal(map[string]any{
		"accessToken":  Scramble(token, offsets),
		"refreshToken": "unused",
		"salt1":        salts[0],
		"salt2":        salts[1],
		"salt3":        salts[2],
		"salt4":        salts[3],
		"salt5":        salts[4],
	})
	writeJSON(w, http.StatusOK, string(body))
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Token returns the most recently issued true token.
func (m *MockUpstream) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// ExpireToken invalidates the current token so the next protected request
// answers 401 until a new one is proven.
func (m *MockUpstream) ExpireToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = "expired"
}

// SetOffsets changes the padding offsets used by later prove responses.
func (m *MockUpstream) SetOffsets(offsets [5]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets = offsets
}

// SetHandler sets a custom handler for an exact path.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetPrefixHandler sets a handler for every path starting with prefix. Exact
// handlers win; among prefixes the longest match wins.
func (m *MockUpstream) SetPrefixHandler(prefix string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes[prefix] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, resp.handler())
}

func (resp MockResponse) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}
}

// ProveCount returns the number of prove requests served.
func (m *MockUpstream) ProveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proveCount
}

// PathCount returns the number of requests made to path.
func (m *MockUpstream) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockUpstream) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// NewJSONResponse creates a response with a JSON body.
func NewJSONResponse(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewEnvelopeResponse wraps data in the upstream's {status, data} envelope.
func NewEnvelopeResponse(data any) MockResponse {
	body, _ := json.Marshal(map[string]any{"status": 200, "data": data})
	return NewJSONResponse(http.StatusOK, string(body))
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewJSONResponse(http.StatusInternalServerError, `{"error": "Internal server error"}`)
}

// PageOptions controls PaginatedHandler.
type PageOptions struct {
	// OmitTotal leaves recordsTotal out of every page.
	OmitTotal bool

	// Total overrides the reported recordsTotal when positive.
	Total int
}

// PaginatedHandler serves rows keyed by the "type" query parameter using
// the draw/start/length protocol of the fund listing.
func PaginatedHandler(rows map[string][]any, opts PageOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		start, _ := strconv.Atoi(q.Get("start"))
		length, _ := strconv.Atoi(q.Get("length"))
		draw, _ := strconv.Atoi(q.Get("draw"))
		all := rows[q.Get("type")]

		end := start + length
		if end > len(all) {
			end = len(all)
		}
		page := []any{}
		if start < len(all) {
			page = all[start:end]
		}

		resp := map[string]any{
			"draw":            draw,
			"recordsFiltered": len(all),
			"data":            page,
		}
		if !opts.OmitTotal {
			total := len(all)
			if opts.Total > 0 {
				total = opts.Total
			}
			resp["recordsTotal"] = total
		}

		body, _ := json.Marshal(resp)
		writeJSON(w, http.StatusOK, string(body))
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
