package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/backtester/internal/config"
	"github.com/quantfold/backtester/internal/data"
	"github.com/quantfold/backtester/internal/engine"
	"github.com/quantfold/backtester/internal/metrics"
	"github.com/quantfold/backtester/internal/report"
	"github.com/quantfold/backtester/internal/storage"
	"github.com/quantfold/backtester/internal/strategy"
	"github.com/quantfold/backtester/internal/sweep"
)

func main() {
	var (
		configPath   string
		dataSource   string
		strategyName string
		outputDir    string
		serve        bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&dataSource, "data", "", "Override data source (csv|synthetic|remote)")
	flag.StringVar(&strategyName, "strategy", "", "Override strategy name")
	flag.StringVar(&outputDir, "output", "", "Override artifact output directory")
	flag.BoolVar(&serve, "serve", false, "Serve results over HTTP after the run")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if dataSource != "" {
		cfg.Data.Source = dataSource
	}
	if strategyName != "" {
		cfg.Backtest.Strategy.Name = strategyName
	}
	if outputDir != "" {
		cfg.Report.OutputDir = outputDir
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping...")
		cancel()
	}()

	if err := run(ctx, cfg, logger, serve); err != nil {
		logger.Fatalf("Backtest error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, serve bool) error {
	source, err := data.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	logger.WithField("source", source.Name()).Info("loading bars")
	bars, err := source.Load(ctx)
	if err != nil {
		return err
	}
	logger.WithField("bars", len(bars)).Info("bars loaded")

	rules, err := cfg.Risk.Rules()
	if err != nil {
		return err
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}

	if len(cfg.Sweep.Variants) > 0 {
		outcomes, err := sweep.Run(ctx, bars, sweep.Options{
			InitialCapital: cfg.Backtest.InitialCapital,
			Rules:          rules,
			Valuation:      cfg.Backtest.ValuationPolicy(),
			Variants:       cfg.Sweep.Variants,
			MaxParallel:    cfg.Sweep.MaxParallel,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			printSummary(o.Label, o.Report)
			if err := persist(store, cfg, o.Result, o.Report); err != nil {
				return err
			}
		}
	} else {
		src, err := strategy.New(cfg.Backtest.Strategy.Name, cfg.Backtest.Strategy.Params)
		if err != nil {
			return err
		}
		eng, err := engine.New(engine.Config{
			InitialCapital: cfg.Backtest.InitialCapital,
			Rules:          rules,
			Valuation:      cfg.Backtest.ValuationPolicy(),
			Source:         src,
			Logger:         logger,
			KeepOpenAtEnd:  cfg.Backtest.KeepOpenAtEnd,
		})
		if err != nil {
			return err
		}
		res, err := eng.Run(ctx, bars)
		if err != nil {
			return err
		}
		rep := metrics.Calculate(cfg.Backtest.InitialCapital, res.EquityCurve, res.Trades)
		printSummary(res.Strategy, rep)
		if err := persist(store, cfg, res, rep); err != nil {
			return err
		}
		dir := filepath.Join(cfg.Report.OutputDir, res.RunID)
		if err := report.WriteRunArtifacts(dir, res.Trades, res.EquityCurve); err != nil {
			return err
		}
		logger.WithField("dir", dir).Info("artifacts written")
	}

	if serve {
		return serveResults(ctx, cfg, store, logger)
	}
	return nil
}

func persist(store *storage.Storage, cfg *config.Config, res *engine.Result, rep metrics.Report) error {
	rules, err := cfg.Risk.Rules()
	if err != nil {
		return err
	}
	return store.SaveRun(storage.RunRecord{
		ID:             res.RunID,
		Strategy:       res.Strategy,
		Symbols:        res.Symbols,
		Start:          res.Start,
		End:            res.End,
		InitialCapital: res.InitialCapital,
		FinalEquity:    res.FinalEquity,
		Rules:          rules,
		Report:         rep,
		Trades:         res.Trades,
		Skipped:        res.Skipped,
	})
}

func printSummary(label string, r metrics.Report) {
	fmt.Printf("\n=== %s ===\n", label)
	fmt.Printf("Final equity:      %.2f (%.2f%%)\n", r.FinalEquity, r.TotalReturnPct*100)
	fmt.Printf("Annualized return: %.2f%%\n", r.AnnualizedReturn*100)
	fmt.Printf("Sharpe ratio:      %.2f\n", r.SharpeRatio)
	fmt.Printf("Max drawdown:      %.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("Trades:            %d (win rate %.1f%%)\n", r.TotalTrades, r.WinRate*100)
	fmt.Printf("Profit factor:     %v\n", r.ProfitFactor)
	fmt.Printf("Avg trade P&L:     %.2f\n", r.AvgTradePnL)
}

func serveResults(ctx context.Context, cfg *config.Config, store *storage.Storage, logger *logrus.Logger) error {
	srv := report.NewServer(cfg.Report.ListenAddr, store, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
