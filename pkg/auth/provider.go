// Package auth acquires and refreshes the NEPSE session token.
//
// The prove endpoint returns a scrambled access token and five salts. The
// salts are fed to five index functions (shipped by the upstream as a
// WebAssembly module) whose results are the offsets of padding characters in
// the token. Removing them yields the token sent as
// "Authorization: Salter <token>".
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// ProvePath is the token endpoint relative to the upstream base URL.
	ProvePath = "/api/authenticate/prove"

	// IndexModulePath is the WebAssembly index module relative to the base URL.
	IndexModulePath = "/assets/prod/css.wasm"

	// Accept is sent with every authenticated request.
	Accept = "application/json, text/plain, */*"

	scheme = "Salter"
)

// Headers is an immutable snapshot of the authentication headers.
type Headers struct {
	Token  string
	Accept string
}

// IsZero reports whether no token has been acquired yet.
func (h Headers) IsZero() bool {
	return h.Token == ""
}

// Authorization returns the Authorization header value.
func (h Headers) Authorization() string {
	return scheme + " " + h.Token
}

// Apply sets the headers on dst. A zero snapshot sets nothing.
func (h Headers) Apply(dst http.Header) {
	if h.IsZero() {
		return
	}
	dst.Set("Authorization", h.Authorization())
	if h.Accept != "" {
		dst.Set("Accept", h.Accept)
	}
}

// Config holds the provider configuration.
type Config struct {
	// BaseURL is the upstream origin, e.g. https://nepalstock.com.
	BaseURL string

	// Transport performs the prove request.
	Transport transport.Transport

	// Computer evaluates the five index functions.
	Computer IndexComputer
}

// Provider owns the current authentication headers. Refresh is the only
// writer; readers get atomic snapshots.
type Provider struct {
	proveURL  string
	transport transport.Transport
	computer  IndexComputer
	current   atomic.Pointer[Headers]
	group     singleflight.Group
	logger    zerolog.Logger
}

// New creates a provider. It does not contact the upstream; call Acquire.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Computer == nil {
		return nil, errors.New("index computer is required")
	}

	return &Provider{
		proveURL:  strings.TrimRight(cfg.BaseURL, "/") + ProvePath,
		transport: cfg.Transport,
		computer:  cfg.Computer,
		logger:    log.With().Str("component", "auth").Logger(),
	}, nil
}

// Headers returns the current snapshot. It is zero before the first
// successful Acquire.
func (p *Provider) Headers() Headers {
	if h := p.current.Load(); h != nil {
		return *h
	}
	return Headers{}
}

// Acquire fetches a fresh token and stores it as the current snapshot.
func (p *Provider) Acquire(ctx context.Context) (Headers, error) {
	return p.prove(ctx, "acquire")
}

// Refresh re-queries the prove endpoint. Concurrent callers share one
// in-flight request; the result is never served from an earlier salt set.
func (p *Provider) Refresh(ctx context.Context) (Headers, error) {
	return p.prove(ctx, "refresh")
}

func (p *Provider) prove(ctx context.Context, reason string) (Headers, error) {
	if err := ctx.Err(); err != nil {
		return Headers{}, &Error{Message: reason + " cancelled", Err: err}
	}

	ch := p.group.DoChan("prove", func() (any, error) {
		// Detached from the first caller so its cancellation does not fail
		// the other waiters.
		return p.doProve(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Headers{}, &Error{Message: reason + " cancelled", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			p.logger.Error().Err(res.Err).Str("reason", reason).Msg("Token prove failed")
			return Headers{}, res.Err
		}
		h := res.Val.(Headers)
		p.logger.Debug().
			Str("reason", reason).
			Bool("shared", res.Shared).
			Msg("Token acquired")
		return h, nil
	}
}

func (p *Provider) doProve(ctx context.Context) (Headers, error) {
	req := transport.NewRequest(http.MethodGet, p.proveURL, http.Header{"Accept": {Accept}}, nil)
	resp, err := p.transport.Do(ctx, req)
	if err != nil {
		return Headers{}, &Error{Message: "prove request failed", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Headers{}, &Error{
			StatusCode: resp.StatusCode,
			Message:    "prove rejected",
			Detail:     resp.Summary(200),
		}
	}

	obj, ok := resp.Object()
	if !ok {
		return Headers{}, &Error{
			StatusCode: resp.StatusCode,
			Message:    "prove response is not a JSON object",
			Detail:     resp.Summary(200),
		}
	}

	token, _ := obj["accessToken"].(string)
	if token == "" {
		return Headers{}, &Error{StatusCode: resp.StatusCode, Message: "prove response has no access token"}
	}

	salts, err := parseSalts(obj)
	if err != nil {
		return Headers{}, &Error{StatusCode: resp.StatusCode, Message: "invalid salts", Err: err}
	}

	idx, err := ComputeIndices(ctx, p.computer, salts)
	if err != nil {
		return Headers{}, &Error{Message: "index computation failed", Err: err}
	}

	trueToken, err := Descramble(token, idx)
	if err != nil {
		return Headers{}, &Error{Message: "invalid splice offsets", Err: err}
	}

	h := Headers{Token: trueToken, Accept: Accept}
	p.current.Store(&h)
	return h, nil
}

func parseSalts(obj map[string]any) (Salts, error) {
	var s Salts
	for i := range s {
		key := fmt.Sprintf("salt%d", i+1)
		v, ok := obj[key]
		if !ok || v == nil {
			return s, fmt.Errorf("%s is missing", key)
		}
		n, err := toInt64(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", key, err)
		}
		s[i] = n
	}
	return s, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x.String())
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(x)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int64(f), nil
}
