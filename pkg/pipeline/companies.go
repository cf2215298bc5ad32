package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/Jeffail/gabs/v2"
	"github.com/Sternrassler/nepse-collector/pkg/normalize"
	"github.com/Sternrassler/nepse-collector/pkg/pool"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
)

// Company is one listed company, the work item of the per-company datasets.
type Company struct {
	ID     int64
	Symbol string
}

// extractCompanies reads companies from the normalized company list. Rows
// without an integer id are skipped and counted.
func extractCompanies(payload any) ([]Company, int) {
	var (
		companies []Company
		skipped   int
	)
	for _, row := range gabs.Wrap(payload).S("d").Children() {
		id, ok := integerID(row.S("id").Data())
		if !ok {
			skipped++
			continue
		}
		symbol, _ := row.S("sym").Data().(string)
		if symbol == "" {
			symbol = strconv.FormatInt(id, 10)
		}
		companies = append(companies, Company{ID: id, Symbol: symbol})
	}
	return companies, skipped
}

func integerID(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		id, err := x.Int64()
		return id, err == nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		return id, err == nil
	}
	return 0, false
}

func (p *Pipeline) companyPool(dataset Dataset) *pool.Pool[Company] {
	return &pool.Pool[Company]{
		Limit:  p.config.Concurrency,
		Label:  func(_ int, c Company) string { return c.Symbol },
		Logger: p.logger.With().Str("dataset", string(dataset)).Logger(),
	}
}

func (p *Pipeline) logSummary(dataset Dataset, summary pool.Summary) {
	event := p.logger.Info()
	if err := summary.Err(); err != nil {
		event = p.logger.Warn().Err(err)
	}
	event.
		Str("dataset", string(dataset)).
		Int("succeeded", summary.Succeeded).
		Int("failed", len(summary.Failures)).
		Dur("duration", summary.Duration).
		Msg("Dataset collected")
}

// collectReports fetches each company's report and, when available, its
// dividend history. The result is keyed by symbol.
func (p *Pipeline) collectReports(ctx context.Context, companies []Company, onFailure func(label string, err error)) map[string]any {
	var mu sync.Mutex
	out := make(map[string]any, len(companies))

	summary := p.companyPool(DatasetReports).Run(ctx, companies, func(ctx context.Context, c Company) error {
		report, err := p.fetchReport(ctx, c)
		if err != nil {
			return err
		}

		item := map[string]any{
			"id":  c.ID,
			"sym": c.Symbol,
			"rpt": report,
		}
		if dividend, ok := p.fetchDividend(ctx, c); ok {
			item["dividend"] = dividend
		}

		mu.Lock()
		out[c.Symbol] = item
		mu.Unlock()
		return nil
	})

	for _, f := range summary.Failures {
		onFailure(f.Label, f.Err)
	}
	p.logSummary(DatasetReports, summary)
	return out
}

func (p *Pipeline) fetchReport(ctx context.Context, c Company) (any, error) {
	url := fmt.Sprintf("%s/api/nots/application/reports/%d", p.config.BaseURL, c.ID)
	resp, err := p.config.Fetcher.FetchWithRetry(ctx, transport.NewRequest(http.MethodGet, url, nil, nil))
	if err != nil {
		return nil, err
	}

	normalized := normalize.Apply(envelope(resp), normalize.ReportRules)
	container := gabs.Wrap(normalized)
	if rows, ok := container.S("d").Data().([]any); ok {
		_, _ = container.Set(fiscalReports(rows), "d")
	}
	return container.Data(), nil
}

// fiscalReports reduces report rows to their fiscal payloads, dropping empty
// ones.
func fiscalReports(rows []any) []any {
	out := []any{}
	for _, row := range rows {
		fiscal := gabs.Wrap(row).S("fiscal").Data()
		if truthy(fiscal) {
			out = append(out, fiscal)
		}
	}
	return out
}

// fetchDividend returns the normalized dividend rows of a company. Not every
// company has a dividend history, so a failure or an empty payload yields
// false.
func (p *Pipeline) fetchDividend(ctx context.Context, c Company) (any, bool) {
	url := fmt.Sprintf("%s/api/nots/application/dividend/%d", p.config.BaseURL, c.ID)
	resp, err := p.config.Fetcher.FetchWithRetry(ctx, transport.NewRequest(http.MethodGet, url, nil, nil))
	if err != nil {
		p.logger.Debug().
			Err(err).
			Str("sym", c.Symbol).
			Msg("No dividend history")
		return nil, false
	}

	rows := gabs.Wrap(normalize.Apply(envelope(resp), normalize.ReportRules)).S("d").Data()
	if !truthy(rows) {
		return nil, false
	}
	return rows, true
}

// collectSecurities posts each company's security detail request. The result
// is keyed by symbol.
func (p *Pipeline) collectSecurities(ctx context.Context, companies []Company, onFailure func(label string, err error)) map[string]any {
	var mu sync.Mutex
	out := make(map[string]any, len(companies))

	summary := p.companyPool(DatasetSecurities).Run(ctx, companies, func(ctx context.Context, c Company) error {
		security, err := p.fetchSecurity(ctx, c)
		if err != nil {
			return err
		}
		mu.Lock()
		out[c.Symbol] = security
		mu.Unlock()
		return nil
	})

	for _, f := range summary.Failures {
		onFailure(f.Label, f.Err)
	}
	p.logSummary(DatasetSecurities, summary)
	return out
}

func (p *Pipeline) fetchSecurity(ctx context.Context, c Company) (any, error) {
	url := fmt.Sprintf("%s/api/nots/security/%d", p.config.BaseURL, c.ID)
	header := http.Header{
		"Origin":  {p.config.BaseURL},
		"Referer": {fmt.Sprintf("%s/company/detail/%d", p.config.BaseURL, c.ID)},
	}
	body := map[string]any{"id": c.ID}

	resp, err := p.config.Fetcher.FetchWithRetry(ctx, transport.NewRequest(http.MethodPost, url, header, body))
	if err != nil {
		return nil, err
	}

	payload := resp.Body
	if obj, ok := resp.Object(); ok {
		if d, exists := obj["d"]; exists && d != nil {
			payload = d
		}
	}
	return normalize.Apply(payload, normalize.MarketRules), nil
}

// truthy reports whether v carries a value: not nil, false, zero, an empty
// string or an empty collection.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
