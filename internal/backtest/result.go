package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/market"
)

type EquityPoint struct {
	Time    time.Time
	Balance decimal.Decimal
}

// Result accumulates simulated trades into an equity curve and the usual
// performance metrics. Trades must be added in execution order.
type Result struct {
	Trades         []market.TradeRecord
	Equity         []EquityPoint
	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	Wins           int
	Losses         int
	TotalPnL       decimal.Decimal
	AvgPnLPerTrade decimal.Decimal
	WinRate        float64
	TotalReturnPct float64
	MaxDrawdownPct float64

	peak decimal.Decimal
}

func NewResult(initialBalance decimal.Decimal) *Result {
	return &Result{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		peak:           initialBalance,
	}
}

// Add applies one completed trade to the running balance and equity curve.
func (r *Result) Add(t market.TradeRecord) {
	r.Trades = append(r.Trades, t)
	r.TotalPnL = r.TotalPnL.Add(t.PnL)
	r.FinalBalance = r.FinalBalance.Add(t.PnL)
	r.Equity = append(r.Equity, EquityPoint{Time: t.ExitTime, Balance: r.FinalBalance})

	// break-even trades count as neither win nor loss
	switch {
	case t.PnL.IsPositive():
		r.Wins++
	case t.PnL.IsNegative():
		r.Losses++
	}

	if r.FinalBalance.GreaterThan(r.peak) {
		r.peak = r.FinalBalance
	}

	if r.peak.IsPositive() {
		dd, _ := r.peak.Sub(r.FinalBalance).Div(r.peak).Mul(decimal.NewFromInt(100)).Float64()
		if dd > r.MaxDrawdownPct {
			r.MaxDrawdownPct = dd
		}
	}
}

// Balance is the current simulated account balance, used to size the next
// entry.
func (r *Result) Balance() decimal.Decimal {
	return r.FinalBalance
}

// Finalize computes the derived ratios once all trades are in.
func (r *Result) Finalize() {
	n := len(r.Trades)
	if n == 0 {
		return
	}

	if decided := r.Wins + r.Losses; decided > 0 {
		r.WinRate = float64(r.Wins) / float64(decided) * 100
	}
	r.AvgPnLPerTrade = r.TotalPnL.Div(decimal.NewFromInt(int64(n)))

	if r.InitialBalance.IsPositive() {
		pct, _ := r.FinalBalance.Div(r.InitialBalance).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Float64()
		r.TotalReturnPct = pct
	}
}
