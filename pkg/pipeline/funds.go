package pipeline

import (
	"context"
	"fmt"

	"github.com/Sternrassler/nepse-collector/pkg/normalize"
	"github.com/Sternrassler/nepse-collector/pkg/pagination"
)

// collectFunds walks every configured fund listing. A listing that fails is
// omitted; the others are still returned.
func (p *Pipeline) collectFunds(ctx context.Context, onFailure func(label string, err error)) map[string]any {
	paginator := pagination.New(p.config.FundFetcher, pagination.DefaultConfig(p.config.FundsURL))
	out := make(map[string]any, len(p.config.FundTypes))

	for _, ft := range p.config.FundTypes {
		result, err := paginator.FetchAll(ctx, ft.Selector, p.config.FundPageLength)
		if err != nil {
			p.logger.Error().
				Err(err).
				Str("dataset", string(DatasetFunds)).
				Str("fund_type", ft.Label).
				Msg("Fund listing failed")
			onFailure(ft.Label, fmt.Errorf("listing %s: %w", ft.Selector, err))
			continue
		}

		out[ft.Label] = normalize.Apply(map[string]any{
			"total": result.Total,
			"data":  result.Rows,
		}, normalize.FundRules)

		p.logger.Info().
			Str("dataset", string(DatasetFunds)).
			Str("fund_type", ft.Label).
			Int("total", result.Total).
			Int("rows", len(result.Rows)).
			Msg("Fund listing collected")
	}
	return out
}
