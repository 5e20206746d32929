package backtest

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

// ShareSizer returns the share count to buy at the given entry price, or
// watch.ErrInsufficientSize when the budget is too small.
type ShareSizer func(entryPrice decimal.Decimal) (int64, error)

// Replayer simulates the live crossing strategy over one symbol-day of
// historical bars. It drives the same watch state machine as the scheduler,
// observing each bar's close exactly once, so live and replayed crossings
// cannot diverge.
type Replayer struct {
	Watch      watch.Config
	HoldBars   int
	WarmupBars int
}

type pendingTrade struct {
	trade   market.TradeRecord
	exitIdx int
}

// ReplayDay runs the crossing strategy over ordered minute bars for one
// symbol. Entry fills at the crossing bar's close; exit fills at the close
// HoldBars later, clamped to the last bar of the day.
func (r *Replayer) ReplayDay(symbol string, prevDayHigh decimal.Decimal, bars []market.Bar, size ShareSizer) []market.TradeRecord {
	w := watch.New(symbol, prevDayHigh, r.Watch)

	var trades []market.TradeRecord
	var open *pendingTrade

	for i := r.WarmupBars; i < len(bars); i++ {
		b := bars[i]

		if open != nil && i >= open.exitIdx {
			open.trade.Complete(b.Close, b.Time)
			w.PositionClosed()
			trades = append(trades, open.trade)
			open = nil
		}

		ev, ok := w.Observe(b.Close, b.Time)
		if !ok {
			continue
		}

		shares, err := size(ev.Price)
		if err != nil {
			w.EntryFailed()
			continue
		}

		exitIdx := min(i+r.HoldBars, len(bars)-1)
		open = &pendingTrade{
			exitIdx: exitIdx,
			trade: market.TradeRecord{
				ID:          uuid.NewString(),
				Symbol:      symbol,
				EntryTime:   b.Time,
				EntryPrice:  b.Close,
				TargetPrice: ev.Target,
				Shares:      shares,
				Notional:    b.Close.Mul(decimal.NewFromInt(shares)),
				Open:        true,
			},
		}
	}

	if open != nil {
		last := bars[len(bars)-1]
		open.trade.Complete(last.Close, last.Time)
		w.PositionClosed()
		trades = append(trades, open.trade)
	}

	return trades
}
