package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Jeffail/gabs/v2"
	"github.com/Sternrassler/nepse-collector/pkg/client"
	"github.com/Sternrassler/nepse-collector/pkg/normalize"
	"github.com/Sternrassler/nepse-collector/pkg/pool"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
)

const (
	companyListName = "comp"

	// activeStatus marks listed companies in the normalized company list.
	activeStatus = "A"
)

// Endpoint is a single-shot market source.
type Endpoint struct {
	// Name is the dataset key in the market payload.
	Name string

	// Path is appended to the base URL.
	Path string

	// Limit truncates the payload's rows when positive.
	Limit int
}

// MarketEndpoints returns the market snapshot sources.
func MarketEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "npsIdx", Path: "/api/nots/nepse-index"},
		{Name: "subIdx", Path: "/api/nots/index"},
		{Name: "subIdxData", Path: "/api/nots"},
		{Name: "mktSum", Path: "/api/nots/market-summary"},
		companyListEndpoint(),
		{Name: "mktSts", Path: "/api/nots/nepse-data/market-open"},
		{Name: "gainers", Path: "/api/nots/top-ten/top-gainer?all=true", Limit: 10},
		{Name: "losers", Path: "/api/nots/top-ten/top-loser?all=true", Limit: 10},
		{Name: "turnover", Path: "/api/nots/top-ten/turnover?all=true", Limit: 10},
		{Name: "volume", Path: "/api/nots/top-ten/trade?all=true", Limit: 10},
		{Name: "txns", Path: "/api/nots/top-ten/transaction?all=true"},
	}
}

func companyListEndpoint() Endpoint {
	return Endpoint{Name: companyListName, Path: "/api/nots/company/list"}
}

type marketResult struct {
	Payloads map[string]any

	// CompanyErr is set when the company list could not be collected.
	CompanyErr error
}

func (p *Pipeline) collectMarket(ctx context.Context, endpoints []Endpoint, onFailure func(name string, err error)) marketResult {
	var mu sync.Mutex
	result := marketResult{Payloads: make(map[string]any, len(endpoints))}

	workers := &pool.Pool[Endpoint]{
		Limit:  p.config.Concurrency,
		Label:  func(_ int, e Endpoint) string { return e.Name },
		Logger: p.logger.With().Str("dataset", string(DatasetMarket)).Logger(),
	}
	summary := workers.Run(ctx, endpoints, func(ctx context.Context, e Endpoint) error {
		payload, err := p.fetchMarketEndpoint(ctx, e)
		if err != nil {
			return err
		}
		mu.Lock()
		result.Payloads[e.Name] = payload
		mu.Unlock()
		return nil
	})

	for _, f := range summary.Failures {
		if f.Label == companyListName {
			result.CompanyErr = f.Err
		}
		onFailure(f.Label, f.Err)
	}

	event := p.logger.Info()
	if err := summary.Err(); err != nil {
		event = p.logger.Warn().Err(err)
	}
	event.
		Str("dataset", string(DatasetMarket)).
		Int("succeeded", summary.Succeeded).
		Int("failed", len(summary.Failures)).
		Dur("duration", summary.Duration).
		Msg("Market endpoints collected")

	return result
}

// fetchMarketEndpoint returns the normalized {sts, d} envelope of one
// endpoint.
func (p *Pipeline) fetchMarketEndpoint(ctx context.Context, e Endpoint) (any, error) {
	resp, err := p.config.Fetcher.FetchWithRetry(ctx, transport.NewRequest(http.MethodGet, p.config.BaseURL+e.Path, nil, nil))
	if err != nil {
		return nil, err
	}

	normalized, ok := normalize.Normalize(envelope(resp), normalize.MarketRules)
	if !ok {
		return nil, &client.DataShapeError{Source: e.Name, Reason: "empty payload"}
	}
	container := gabs.Wrap(normalized)

	switch {
	case e.Name == companyListName:
		if err := filterActive(container); err != nil {
			return nil, err
		}
	case e.Limit > 0:
		limitRows(container, e.Limit)
	}

	return container.Data(), nil
}

// envelope wraps a response the way every NEPSE payload is stored: the HTTP
// status next to the decoded body.
func envelope(resp *transport.Response) map[string]any {
	return map[string]any{
		"status": resp.StatusCode,
		"data":   resp.Body,
	}
}

// filterActive keeps the company rows whose status is active.
func filterActive(c *gabs.Container) error {
	if _, ok := c.S("d").Data().([]any); !ok {
		return &client.DataShapeError{Source: companyListName, Reason: "company list is not an array"}
	}

	active := []any{}
	for _, row := range c.S("d").Children() {
		if sts, ok := row.S("sts").Data().(string); ok && sts == activeStatus {
			active = append(active, row.Data())
		}
	}
	if _, err := c.Set(active, "d"); err != nil {
		return fmt.Errorf("set active companies: %w", err)
	}
	return nil
}

// limitRows truncates the d array to n rows. Non-array payloads are left
// unchanged.
func limitRows(c *gabs.Container, n int) {
	rows, ok := c.S("d").Data().([]any)
	if !ok || len(rows) <= n {
		return
	}
	// Set only fails on a non-object root, which Wrap of an envelope never is.
	_, _ = c.Set(rows[:n], "d")
}
