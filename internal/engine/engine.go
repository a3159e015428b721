// Package engine drives one backtest run: it replays a bar series through a
// signal source against a portfolio under fixed risk rules. Runs over
// identical inputs produce byte-identical results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/backtester/internal/models"
	"github.com/quantfold/backtester/internal/portfolio"
	"github.com/quantfold/backtester/internal/strategy"
)

// Config assembles one run. Rules are normalized and validated by New, so a
// zero-value RiskRules gets the documented defaults.
type Config struct {
	InitialCapital float64
	Rules          *models.RiskRules
	Valuation      models.ValuationPolicy
	Source         strategy.SignalSource
	Logger         *logrus.Logger

	// KeepOpenAtEnd leaves positions open after the last bar instead of
	// force-closing them with reason end_of_data.
	KeepOpenAtEnd bool
}

// Engine replays bars in timestamp order. Not safe for concurrent use; run
// independent configs in separate engines.
type Engine struct {
	cfg Config
	log *logrus.Logger
}

// Result is the complete output of one run. The trade ledger, equity curve
// and skip audit are append-ordered and deterministic.
type Result struct {
	RunID          string                 `json:"run_id"`
	Strategy       string                 `json:"strategy"`
	Symbols        []string               `json:"symbols"`
	Start          time.Time              `json:"start"`
	End            time.Time              `json:"end"`
	InitialCapital float64                `json:"initial_capital"`
	FinalEquity    float64                `json:"final_equity"`
	EquityCurve    []models.EquityPoint   `json:"equity_curve"`
	Trades         []models.ClosedTrade   `json:"trades"`
	Skipped        []models.SkippedSignal `json:"skipped_signals"`
}

// New validates the config and returns a ready engine.
func New(cfg Config) (*Engine, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("engine: initial capital must be > 0, got %.2f", cfg.InitialCapital)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("engine: signal source is required")
	}
	if cfg.Rules == nil {
		cfg.Rules = &models.RiskRules{}
	}
	cfg.Rules.Normalize()
	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}
	if cfg.Valuation == nil {
		cfg.Valuation = models.NotionalValuation{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	return &Engine{cfg: cfg, log: cfg.Logger}, nil
}

// Run replays the series. Bars may interleave multiple instruments; within
// one timestamp instruments are processed in symbol order so replays are
// deterministic. The series must be valid per models.ValidateSeries.
func (e *Engine) Run(ctx context.Context, bars []models.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("engine: empty bar series")
	}
	if err := models.ValidateSeries(bars); err != nil {
		return nil, err
	}

	pf, err := portfolio.New(e.cfg.InitialCapital, e.cfg.Rules, e.cfg.Valuation)
	if err != nil {
		return nil, err
	}

	timestamps, byTime := groupByTimestamp(bars)
	histories := make(map[string][]models.Bar)
	prices := make(map[string]float64)

	for ti, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, bar := range byTime[ts] {
			sym := bar.Symbol
			prices[sym] = bar.Close
			histories[sym] = append(histories[sym], bar)

			sig := e.cfg.Source.Next(sym, histories[sym])

			if pos := pf.Position(sym); pos != nil {
				closed, cerr := e.applyExits(pf, pos, bar, sig)
				if cerr != nil {
					return nil, cerr
				}
				if !closed {
					if merr := pf.Mark(sym, bar.Close, bar.Timestamp); merr != nil {
						return nil, merr
					}
					continue
				}
			}
			e.tryEnter(pf, bar, sig, prices)
		}

		if !e.cfg.KeepOpenAtEnd && ti == len(timestamps)-1 {
			if err := e.closeRemaining(pf, ts, prices); err != nil {
				return nil, err
			}
		}
		pf.RecordEquity(ts, prices)
	}

	curve := pf.EquityCurve()
	res := &Result{
		RunID:          runID(e.cfg.Source.Name(), timestamps[0], timestamps[len(timestamps)-1]),
		Strategy:       e.cfg.Source.Name(),
		Symbols:        symbolSet(bars),
		Start:          timestamps[0],
		End:            timestamps[len(timestamps)-1],
		InitialCapital: e.cfg.InitialCapital,
		FinalEquity:    curve[len(curve)-1].Equity,
		EquityCurve:    curve,
		Trades:         pf.Trades(),
		Skipped:        pf.Skipped(),
	}
	e.log.WithFields(logrus.Fields{
		"run_id":       res.RunID,
		"strategy":     res.Strategy,
		"bars":         len(bars),
		"trades":       len(res.Trades),
		"final_equity": res.FinalEquity,
	}).Info("run complete")
	return res, nil
}

// applyExits checks exit conditions in priority order and closes the
// position at the first match. Stop and target fill at their threshold
// price, not the bar close; when both are inside the same bar the stop
// wins. Returns true if the position was closed.
func (e *Engine) applyExits(pf *portfolio.Portfolio, pos *models.Position, bar models.Bar, sig models.Signal) (bool, error) {
	rules := e.cfg.Rules
	var (
		price  float64
		reason models.ExitReason
	)
	switch {
	case pos.StopBreached(bar):
		price, reason = pos.StopPrice, models.ExitStopLoss
	case pos.TargetReached(bar):
		price, reason = pos.TargetPrice, models.ExitTakeProfit
	case rules.MaxHolding > 0 && pos.HeldFor(bar.Timestamp) >= rules.MaxHolding:
		price, reason = bar.Close, models.ExitMaxHold
	case sig.Direction == models.SignalExit:
		price, reason = bar.Close, models.ExitSignal
	case rules.SessionGated() && !rules.InSession(bar.Timestamp):
		price, reason = bar.Close, models.ExitSessionClose
	default:
		return false, nil
	}

	trade, err := pf.Close(pos.Symbol, price, bar.Timestamp, reason)
	if err != nil {
		return false, err
	}
	e.log.WithFields(logrus.Fields{
		"symbol":  trade.Symbol,
		"reason":  trade.ExitReason,
		"net_pnl": trade.NetPnL,
		"held":    trade.HoldingPeriod(),
	}).Info("position closed")
	return true, nil
}

// tryEnter walks the entry gates in order and opens the position if all
// pass. Every rejection is recorded in the skip audit and the run moves on.
func (e *Engine) tryEnter(pf *portfolio.Portfolio, bar models.Bar, sig models.Signal, prices map[string]float64) {
	if !sig.Direction.Actionable() {
		return
	}
	rules := e.cfg.Rules
	skip := func(reason models.SkipReason, detail string) {
		pf.RecordSkip(models.SkippedSignal{
			Timestamp: bar.Timestamp,
			Symbol:    bar.Symbol,
			Direction: sig.Direction,
			Reason:    reason,
			Detail:    detail,
		})
		e.log.WithFields(logrus.Fields{
			"symbol": bar.Symbol,
			"reason": reason,
			"detail": detail,
		}).Debug("entry skipped")
	}

	if rules.SessionGated() && !rules.InSession(bar.Timestamp) {
		skip(models.SkipOutsideSession, "")
		return
	}
	if rules.MaxDailyLosses > 0 && pf.LossesOn(bar.Timestamp) >= rules.MaxDailyLosses {
		skip(models.SkipDailyLossCap, fmt.Sprintf("%d losses today", pf.LossesOn(bar.Timestamp)))
		return
	}
	if rules.RequireStructuralBreak && !sig.StructuralBreak {
		skip(models.SkipNoStructuralBreak, "")
		return
	}
	if sig.Levels != nil {
		stopDist := bar.Close - sig.Levels.StopAnchor
		reward := sig.Levels.TargetAnchor - bar.Close
		if sig.Direction == models.SignalEnterShort {
			stopDist = sig.Levels.StopAnchor - bar.Close
			reward = bar.Close - sig.Levels.TargetAnchor
		}
		if stopDist <= 0 || stopDist < rules.MinStopDistance {
			skip(models.SkipStopTooTight, fmt.Sprintf("stop distance %.4f", stopDist))
			return
		}
		if rules.MinRiskReward > 0 && reward/stopDist < rules.MinRiskReward {
			skip(models.SkipRiskRewardBelowMin, fmt.Sprintf("rr %.2f", reward/stopDist))
			return
		}
	}

	side := models.SideLong
	if sig.Direction == models.SignalEnterShort {
		side = models.SideShort
	}
	pos, err := pf.Open(portfolio.OpenRequest{
		Symbol:        bar.Symbol,
		Side:          side,
		Price:         bar.Close,
		Timestamp:     bar.Timestamp,
		SignalID:      sig.ID,
		Levels:        sig.Levels,
		Bias:          sig.Bias,
		CurrentPrices: prices,
	})
	if err != nil {
		switch {
		case errors.Is(err, portfolio.ErrPositionLimit):
			skip(models.SkipPositionLimit, "")
		case errors.Is(err, portfolio.ErrDuplicatePosition):
			skip(models.SkipDuplicatePosition, "")
		case errors.Is(err, portfolio.ErrInsufficientCapital):
			skip(models.SkipInsufficientCapital, "")
		default:
			skip(models.SkipStopTooTight, err.Error())
		}
		return
	}
	e.log.WithFields(logrus.Fields{
		"symbol": pos.Symbol,
		"side":   pos.Side,
		"qty":    pos.Quantity,
		"entry":  pos.EntryPrice,
		"stop":   pos.StopPrice,
		"target": pos.TargetPrice,
	}).Info("position opened")
}

// closeRemaining flattens every open position at the last seen price with
// reason end_of_data, in symbol order.
func (e *Engine) closeRemaining(pf *portfolio.Portfolio, ts time.Time, prices map[string]float64) error {
	for _, sym := range pf.OpenSymbols() {
		price := prices[sym]
		trade, err := pf.Close(sym, price, ts, models.ExitEndOfData)
		if err != nil {
			return err
		}
		e.log.WithFields(logrus.Fields{
			"symbol":  trade.Symbol,
			"net_pnl": trade.NetPnL,
		}).Info("position closed at end of data")
	}
	return nil
}

// groupByTimestamp buckets bars by timestamp, preserving chronological order
// across buckets and sorting symbols within each.
func groupByTimestamp(bars []models.Bar) ([]time.Time, map[time.Time][]models.Bar) {
	byTime := make(map[time.Time][]models.Bar)
	var timestamps []time.Time
	for _, b := range bars {
		key := b.Timestamp.UTC()
		if _, seen := byTime[key]; !seen {
			timestamps = append(timestamps, key)
		}
		byTime[key] = append(byTime[key], b)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
	for _, ts := range timestamps {
		bucket := byTime[ts]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Symbol < bucket[j].Symbol })
	}
	return timestamps, byTime
}

func symbolSet(bars []models.Bar) []string {
	seen := make(map[string]struct{})
	var syms []string
	for _, b := range bars {
		if _, ok := seen[b.Symbol]; !ok {
			seen[b.Symbol] = struct{}{}
			syms = append(syms, b.Symbol)
		}
	}
	sort.Strings(syms)
	return syms
}

func runID(strategyName string, start, end time.Time) string {
	seed := fmt.Sprintf("run:%s:%s:%s", strategyName, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
