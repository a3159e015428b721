// Package portfolio owns cash, the set of open positions and the realized
// trade ledger for one backtest run. It is the sole mutator of all three;
// the engine drives it but never touches cash directly.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/backtester/internal/models"
	"github.com/quantfold/backtester/internal/util"
)

// deterministicID derives a stable UUID from the event identity so that two
// runs over identical inputs produce byte-identical ledgers.
func deterministicID(kind, symbol string, ts time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+symbol+":"+ts.UTC().Format(time.RFC3339Nano))).String()
}

// OpenRequest carries everything needed to open a position at the current
// bar. CurrentPrices must hold the latest close per instrument so sizing can
// use total equity, not just cash.
type OpenRequest struct {
	Symbol        string
	Side          models.Side
	Price         float64
	Timestamp     time.Time
	SignalID      string
	Levels        *models.ReferenceLevels
	Bias          models.Bias
	CurrentPrices map[string]float64
}

// Portfolio is the single long-lived mutable object for a run. The equity
// curve and trade ledger only ever append.
type Portfolio struct {
	rules     *models.RiskRules
	valuation models.ValuationPolicy

	initialCapital float64
	cash           float64
	open           map[string]*models.Position
	trades         []models.ClosedTrade
	curve          []models.EquityPoint
	dailyLosses    map[string]int
	skipped        []models.SkippedSignal
}

// New creates a portfolio at initial capital. Rules must already be
// normalized and validated.
func New(initialCapital float64, rules *models.RiskRules, valuation models.ValuationPolicy) (*Portfolio, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be > 0, got %.2f", initialCapital)
	}
	if rules == nil {
		return nil, fmt.Errorf("risk rules are required")
	}
	if valuation == nil {
		valuation = models.NotionalValuation{}
	}
	return &Portfolio{
		rules:          rules,
		valuation:      valuation,
		initialCapital: initialCapital,
		cash:           initialCapital,
		open:           make(map[string]*models.Position),
		dailyLosses:    make(map[string]int),
	}, nil
}

// Open sizes, prices and books a new position. Quantity is the configured
// equity fraction over per-unit entry value, floored to whole units; when
// the signal carries stop anchors and a risk percentage is configured,
// sizing switches to risk capital over stop distance. A one-time
// proportional cost is deducted from cash at open.
func (p *Portfolio) Open(req OpenRequest) (*models.Position, error) {
	if len(p.open) >= p.rules.MaxPositions {
		return nil, ErrPositionLimit
	}
	if _, exists := p.open[req.Symbol]; exists {
		return nil, ErrDuplicatePosition
	}

	equity := p.Equity(req.CurrentPrices)
	unitValue := p.valuation.EntryValue(req.Side, req.Price)
	if unitValue <= 0 {
		return nil, fmt.Errorf("non-positive entry value for %s at %.4f", req.Symbol, req.Price)
	}

	var qty float64
	if req.Levels != nil && p.rules.RiskPct(req.Bias) > 0 {
		stopDist := req.Price - req.Levels.StopAnchor
		if req.Side == models.SideShort {
			stopDist = req.Levels.StopAnchor - req.Price
		}
		if stopDist <= 0 {
			return nil, fmt.Errorf("stop anchor %.4f on the wrong side of entry %.4f", req.Levels.StopAnchor, req.Price)
		}
		qty = util.FloorUnits(equity * p.rules.RiskPct(req.Bias) / stopDist)
	} else {
		qty = util.FloorUnits(equity * p.rules.PositionSizePct / unitValue)
	}

	// Never deploy more than cash can cover, costs included.
	affordable := util.FloorUnits(p.cash / (unitValue * (1 + p.rules.CostRate)))
	if qty > affordable {
		qty = affordable
	}
	if qty < 1 {
		return nil, ErrInsufficientCapital
	}

	outlay := qty * unitValue
	cost := outlay * p.rules.CostRate

	pos := models.NewPosition(deterministicID("position", req.Symbol, req.Timestamp), req.Symbol, req.Side, req.Price, req.Timestamp, qty)
	pos.OpenedFrom = req.SignalID
	pos.Bias = req.Bias
	pos.EntryOutlay = outlay
	pos.EntryCost = cost

	if req.Levels != nil {
		pos.StopPrice = req.Levels.StopAnchor
		pos.TargetPrice = req.Levels.TargetAnchor
	} else if req.Side == models.SideLong {
		pos.StopPrice = req.Price * (1 - p.rules.StopLossPct)
		pos.TargetPrice = req.Price * (1 + p.rules.TakeProfitPct)
	} else {
		pos.StopPrice = req.Price * (1 + p.rules.StopLossPct)
		pos.TargetPrice = req.Price * (1 - p.rules.TakeProfitPct)
	}
	pos.StopPrice = util.RoundToTick(pos.StopPrice, p.rules.TickSize)
	pos.TargetPrice = util.RoundToTick(pos.TargetPrice, p.rules.TickSize)

	if err := pos.ValidateState(); err != nil {
		return nil, err
	}

	p.cash -= outlay + cost
	p.open[req.Symbol] = pos
	return pos, nil
}

// Mark updates the position's unrealized P&L at the given price.
// Bookkeeping only; cash is untouched.
func (p *Portfolio) Mark(symbol string, price float64, ts time.Time) error {
	pos, ok := p.open[symbol]
	if !ok {
		return ErrNoPosition
	}
	value := pos.Quantity * p.valuation.CurrentValue(pos.Side, pos.EntryPrice, price)
	pos.UnrealizedPnL = value - pos.EntryOutlay
	pos.MarkedAt = ts
	return nil
}

// Close liquidates the position at price, applies the exit-side cost,
// credits cash and appends the immutable ClosedTrade to the ledger. A
// losing trade bumps the per-day loss counter for the exit date.
func (p *Portfolio) Close(symbol string, price float64, ts time.Time, reason models.ExitReason) (models.ClosedTrade, error) {
	pos, ok := p.open[symbol]
	if !ok {
		return models.ClosedTrade{}, ErrNoPosition
	}

	proceeds := pos.Quantity * p.valuation.CurrentValue(pos.Side, pos.EntryPrice, price)
	exitCost := proceeds * p.rules.CostRate
	gross := proceeds - pos.EntryOutlay
	net := gross - pos.EntryCost - exitCost

	if err := pos.TransitionState(models.StateClosed, "exit_filled"); err != nil {
		return models.ClosedTrade{}, err
	}

	p.cash += proceeds - exitCost
	delete(p.open, symbol)

	trade := models.ClosedTrade{
		ID:         deterministicID("trade", symbol, ts),
		PositionID: pos.ID,
		Symbol:     symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		Quantity:   pos.Quantity,
		ExitReason: reason,
		GrossPnL:   gross,
		Costs:      pos.EntryCost + exitCost,
		NetPnL:     net,
		Bias:       pos.Bias,
	}
	if pos.EntryOutlay > 0 {
		trade.ReturnPct = net / pos.EntryOutlay
	}
	p.trades = append(p.trades, trade)

	if net < 0 {
		p.dailyLosses[p.rules.TradingDay(ts)]++
	}
	return trade, nil
}

// Equity returns cash plus the mark-to-market value of every open position
// at the supplied prices. Instruments missing from the map are valued at
// their entry price. This is the only place unrealized value enters the
// equity calculation, so curve and ledger never double-count.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	total := p.cash
	for sym, pos := range p.open {
		price, ok := prices[sym]
		if !ok {
			price = pos.EntryPrice
		}
		total += pos.Quantity * p.valuation.CurrentValue(pos.Side, pos.EntryPrice, price)
	}
	return total
}

// RecordEquity appends one mark to the equity curve.
func (p *Portfolio) RecordEquity(ts time.Time, prices map[string]float64) models.EquityPoint {
	equity := p.Equity(prices)
	pt := models.EquityPoint{
		Timestamp:     ts,
		Equity:        equity,
		Cash:          p.cash,
		PositionValue: equity - p.cash,
		OpenPositions: len(p.open),
	}
	p.curve = append(p.curve, pt)
	return pt
}

// RecordSkip appends a skipped-signal audit row.
func (p *Portfolio) RecordSkip(s models.SkippedSignal) {
	p.skipped = append(p.skipped, s)
}

// Position returns the open position for symbol, or nil when flat.
func (p *Portfolio) Position(symbol string) *models.Position {
	return p.open[symbol]
}

// OpenSymbols returns the instruments with open positions in sorted order.
func (p *Portfolio) OpenSymbols() []string {
	syms := make([]string, 0, len(p.open))
	for s := range p.open {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// OpenCount returns the number of open positions.
func (p *Portfolio) OpenCount() int { return len(p.open) }

// Cash returns current cash.
func (p *Portfolio) Cash() float64 { return p.cash }

// InitialCapital returns the starting cash for the run.
func (p *Portfolio) InitialCapital() float64 { return p.initialCapital }

// Trades returns the realized trade ledger, oldest first. Read-only.
func (p *Portfolio) Trades() []models.ClosedTrade { return p.trades }

// EquityCurve returns the per-bar equity marks. Read-only.
func (p *Portfolio) EquityCurve() []models.EquityPoint { return p.curve }

// Skipped returns the skipped-signal audit trail. Read-only.
func (p *Portfolio) Skipped() []models.SkippedSignal { return p.skipped }

// LossesOn returns the number of losing trades realized on the trading day
// containing ts.
func (p *Portfolio) LossesOn(ts time.Time) int {
	return p.dailyLosses[p.rules.TradingDay(ts)]
}
