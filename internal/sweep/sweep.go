// Package sweep runs several strategy variants over the same bar series in
// parallel and collects their results side by side.
package sweep

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/backtester/internal/config"
	"github.com/quantfold/backtester/internal/engine"
	"github.com/quantfold/backtester/internal/metrics"
	"github.com/quantfold/backtester/internal/models"
	"github.com/quantfold/backtester/internal/strategy"
)

// Outcome pairs a variant with its run result and performance report.
type Outcome struct {
	Label  string         `json:"label"`
	Result *engine.Result `json:"result"`
	Report metrics.Report `json:"report"`
}

// Options configures a sweep. Every variant runs against the same bars,
// capital, rules and valuation; only the signal source differs.
type Options struct {
	InitialCapital float64
	Rules          *models.RiskRules
	Valuation      models.ValuationPolicy
	Variants       []config.StrategyConfig
	MaxParallel    int
	Logger         *logrus.Logger
}

// Run executes every variant and returns outcomes in variant order. The
// first failing run cancels the rest.
func Run(ctx context.Context, bars []models.Bar, opts Options) ([]Outcome, error) {
	if len(opts.Variants) == 0 {
		return nil, fmt.Errorf("sweep: no variants configured")
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}

	outcomes := make([]Outcome, len(opts.Variants))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxParallel)

	for i, variant := range opts.Variants {
		i, variant := i, variant
		g.Go(func() error {
			src, err := strategy.New(variant.Name, variant.Params)
			if err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}

			// Each run gets its own rules copy: the engine normalizes in
			// place and runs must not share mutable state.
			var rules *models.RiskRules
			if opts.Rules != nil {
				r := *opts.Rules
				rules = &r
			}
			eng, err := engine.New(engine.Config{
				InitialCapital: opts.InitialCapital,
				Rules:          rules,
				Valuation:      opts.Valuation,
				Source:         src,
				Logger:         log,
			})
			if err != nil {
				return fmt.Errorf("variant %d: %w", i, err)
			}
			res, err := eng.Run(ctx, bars)
			if err != nil {
				return fmt.Errorf("variant %s: %w", variant.Name, err)
			}
			outcomes[i] = Outcome{
				Label:  variant.Name,
				Result: res,
				Report: metrics.Calculate(opts.InitialCapital, res.EquityCurve, res.Trades),
			}
			log.WithFields(logrus.Fields{
				"variant":      variant.Name,
				"trades":       len(res.Trades),
				"final_equity": res.FinalEquity,
			}).Info("sweep variant complete")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
