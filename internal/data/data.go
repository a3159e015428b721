// Package data supplies bar series to the engine from CSV files, a seeded
// synthetic generator or a remote HTTP endpoint.
package data

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/backtester/internal/config"
	"github.com/quantfold/backtester/internal/models"
)

// Source loads a complete bar series. Implementations must return bars that
// pass models.ValidateSeries.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]models.Bar, error)
}

// FromConfig builds the configured source.
func FromConfig(cfg *config.Config, log *logrus.Logger) (Source, error) {
	switch cfg.Data.Source {
	case "csv":
		return NewCSVSource(cfg.Data.Path), nil
	case "synthetic":
		return NewSyntheticSource(cfg.Data.Symbols, cfg.Data.Synthetic), nil
	case "remote":
		var fallback Source
		if len(cfg.Data.Symbols) > 0 {
			fallback = NewSyntheticSource(cfg.Data.Symbols, cfg.Data.Synthetic)
		}
		return NewRemoteSource(RemoteOptions{
			URL:        cfg.Data.Remote.URL,
			Symbols:    cfg.Data.Symbols,
			Timeout:    cfg.RemoteTimeout(),
			MaxRetries: cfg.Data.Remote.MaxRetries,
			Logger:     log,
			Fallback:   fallback,
		}), nil
	default:
		return nil, fmt.Errorf("unknown data source: %s", cfg.Data.Source)
	}
}
