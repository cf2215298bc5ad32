package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/nepse-collector/pkg/client"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var nepsePagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nepse_pagination_pages_total",
	Help: "Total listing pages fetched by type selector",
}, []string{"type"})

// Accept is the Accept header sent with page requests.
const Accept = "application/json, text/javascript, */*; q=0.01"

// Fetcher performs a request with retries. *client.Client implements it.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Config holds paginator configuration.
type Config struct {
	// URL is the listing endpoint; query parameters are added per page.
	URL string

	// PageLength is used when FetchAll is called with pageLength <= 0.
	PageLength int

	// Timeout bounds each page including its retries.
	Timeout time.Duration

	// Header is sent with every page request.
	Header http.Header
}

// DefaultConfig returns the default configuration for listingURL.
func DefaultConfig(listingURL string) Config {
	return Config{
		URL:        listingURL,
		PageLength: 50,
		Timeout:    60 * time.Second,
		Header: http.Header{
			"X-Requested-With": {"XMLHttpRequest"},
			"Accept":           {Accept},
		},
	}
}

// Result is a complete listing.
type Result struct {
	// Total is the record count reported by the first page.
	Total int

	// Rows holds every page's data in request order.
	Rows []any
}

// Paginator fetches every page of a listing.
type Paginator struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a paginator.
func New(fetcher Fetcher, config Config) *Paginator {
	defaults := DefaultConfig(config.URL)
	if config.PageLength <= 0 {
		config.PageLength = defaults.PageLength
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Header == nil {
		config.Header = defaults.Header
	}

	return &Paginator{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "paginator").Logger(),
	}
}

// FetchAll requests pages in order until the reported total is reached or a
// page is empty. Every page that reports recordsTotal moves the bound. A page
// without a data array fails with *client.DataShapeError; a page that fails
// after retries fails the listing.
func (p *Paginator) FetchAll(ctx context.Context, typeSelector string, pageLength int) (*Result, error) {
	if pageLength <= 0 {
		pageLength = p.config.PageLength
	}

	start := time.Now()
	logger := p.logger.With().Str("type", typeSelector).Logger()

	offset, draw, pages := 0, 1, 0
	total := -1
	rows := []any{}

	for total < 0 || offset < total {
		data, reported, err := p.fetchPage(ctx, typeSelector, draw, offset, pageLength)
		if err != nil {
			return nil, err
		}
		nepsePagesTotal.WithLabelValues(typeSelector).Inc()
		pages++

		switch {
		case reported >= 0:
			if total >= 0 && reported != total {
				logger.Debug().
					Int("previous", total).
					Int("total", reported).
					Msg("Listing total changed")
			}
			total = reported
		case total < 0:
			total = len(data)
			logger.Warn().
				Int("total", total).
				Msg("Listing reports no recordsTotal, using first page size")
		}

		if len(data) == 0 {
			break
		}
		rows = append(rows, data...)

		logger.Debug().
			Int("draw", draw).
			Int("start", offset).
			Int("rows", len(data)).
			Int("total", total).
			Msg("Fetched page")

		offset += pageLength
		draw++
	}

	logger.Info().
		Int("pages", pages).
		Int("rows", len(rows)).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Listing complete")

	return &Result{Total: total, Rows: rows}, nil
}

// fetchPage returns the page's rows and its recordsTotal, or -1 when the
// total is absent or not a finite number.
func (p *Paginator) fetchPage(ctx context.Context, typeSelector string, draw, offset, length int) ([]any, int, error) {
	pageCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	pageURL, err := p.pageURL(typeSelector, draw, offset, length)
	if err != nil {
		return nil, 0, err
	}

	resp, err := p.fetcher.FetchWithRetry(pageCtx, transport.NewRequest(http.MethodGet, pageURL, p.config.Header, nil))
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page %d of %s: %w", draw, typeSelector, err)
	}

	obj, ok := resp.Object()
	if !ok {
		return nil, 0, &client.DataShapeError{Source: p.config.URL, Reason: fmt.Sprintf("page %d is not an object", draw)}
	}
	data, ok := obj["data"].([]any)
	if !ok {
		return nil, 0, &client.DataShapeError{Source: p.config.URL, Reason: fmt.Sprintf("page %d has no data array", draw)}
	}

	return data, recordsTotal(obj["recordsTotal"]), nil
}

func (p *Paginator) pageURL(typeSelector string, draw, offset, length int) (string, error) {
	u, err := url.Parse(p.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}

	q := u.Query()
	q.Set("draw", strconv.Itoa(draw))
	q.Set("start", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(length))
	q.Set("search[value]", "")
	q.Set("search[regex]", "false")
	q.Set("type", typeSelector)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func recordsTotal(v any) int {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return -1
		}
		f = parsed
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return -1
		}
		f = parsed
	default:
		return -1
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return -1
	}
	return int(f)
}
