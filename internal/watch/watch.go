package watch

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the per-session knobs shared by every watch.
type Config struct {
	TargetBufferPct float64
	MaxTradesPerDay int
	Cooldown        time.Duration
}

// CrossingEvent fires when a symbol's price moves from below the target
// to at or above it between two consecutive observations.
type CrossingEvent struct {
	Symbol string
	Price  decimal.Decimal
	Target decimal.Decimal
	Time   time.Time
}

// Watch is the per-symbol crossing state machine. It is not safe for
// concurrent use; the scheduler loop owns it exclusively.
type Watch struct {
	symbol      string
	target      decimal.Decimal
	lastPrice   decimal.Decimal
	hasLast     bool
	inPosition  bool
	tradesToday int
	lastCrossAt time.Time
	hasCross    bool
	active      bool

	maxTrades int
	cooldown  time.Duration
}

// New creates a watch for symbol with the target derived from the previous
// day's high. The buffer is applied once here, not per observation.
func New(symbol string, prevDayHigh decimal.Decimal, cfg Config) *Watch {
	buffer := decimal.NewFromFloat(1 + cfg.TargetBufferPct/100)
	return &Watch{
		symbol:    symbol,
		target:    prevDayHigh.Mul(buffer),
		active:    true,
		maxTrades: cfg.MaxTradesPerDay,
		cooldown:  cfg.Cooldown,
	}
}

// Observe feeds the next price sample and reports whether it triggered a
// crossing. The very first sample only establishes the baseline, so a watch
// seeded already above target cannot fire immediately.
func (w *Watch) Observe(price decimal.Decimal, now time.Time) (CrossingEvent, bool) {
	if !w.active {
		return CrossingEvent{}, false
	}

	if w.tradesToday >= w.maxTrades {
		w.active = false
		return CrossingEvent{}, false
	}

	if !w.hasLast {
		w.lastPrice = price
		w.hasLast = true
		return CrossingEvent{}, false
	}

	crossed := w.lastPrice.LessThan(w.target) && price.GreaterThanOrEqual(w.target)
	fired := crossed && !w.inPosition && w.cooldownElapsed(now)
	w.lastPrice = price

	if !fired {
		return CrossingEvent{}, false
	}

	w.inPosition = true
	w.tradesToday++
	w.lastCrossAt = now
	w.hasCross = true

	return CrossingEvent{
		Symbol: w.symbol,
		Price:  price,
		Target: w.target,
		Time:   now,
	}, true
}

func (w *Watch) cooldownElapsed(now time.Time) bool {
	return !w.hasCross || now.Sub(w.lastCrossAt) >= w.cooldown
}

// PositionClosed clears the in-position guard after the paired sell
// completed. The cooldown keeps running from the entry timestamp.
func (w *Watch) PositionClosed() {
	w.inPosition = false
}

// EntryFailed rolls back a fired crossing whose buy never happened: the
// guard is released and the trade is not counted, but the cooldown stamp
// stays so the symbol is not retried immediately.
func (w *Watch) EntryFailed() {
	if !w.inPosition {
		return
	}
	w.inPosition = false
	w.tradesToday--
}

// Retire permanently deactivates the watch.
func (w *Watch) Retire() {
	w.active = false
}

func (w *Watch) Symbol() string          { return w.symbol }
func (w *Watch) Target() decimal.Decimal { return w.target }
func (w *Watch) Active() bool            { return w.active }
func (w *Watch) InPosition() bool        { return w.inPosition }
func (w *Watch) TradesToday() int        { return w.tradesToday }
