package market

import (
	"time"

	"github.com/shopspring/decimal"
)

type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Quote is the latest observed trade price for a symbol.
type Quote struct {
	Price decimal.Decimal
	Time  time.Time
}

// CandidateStock is a screener result: a symbol that opened below its
// previous day's high and is worth watching for an upward crossing.
type CandidateStock struct {
	Symbol      string
	PrevDayHigh decimal.Decimal
	Open        decimal.Decimal
	Volume      int64
}

type Account struct {
	BuyingPower decimal.Decimal
	Equity      decimal.Decimal
}

type HeldPosition struct {
	Symbol string
	Shares decimal.Decimal
}

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderConfirmation struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Shares         decimal.Decimal
	FilledAvgPrice decimal.Decimal
	FilledAt       time.Time
}

// TradeRecord tracks one entry from buy confirmation to the paired sell.
// It is created open and completed when the timed exit fills.
type TradeRecord struct {
	ID          string
	Symbol      string
	EntryTime   time.Time
	EntryPrice  decimal.Decimal
	TargetPrice decimal.Decimal
	Shares      int64
	Notional    decimal.Decimal
	ExitTime    time.Time
	ExitPrice   decimal.Decimal
	PnL         decimal.Decimal
	PnLPercent  float64
	Open        bool
}

// Complete fills the exit side of the record.
func (t *TradeRecord) Complete(exitPrice decimal.Decimal, at time.Time) {
	t.ExitTime = at
	t.ExitPrice = exitPrice
	t.PnL = exitPrice.Sub(t.EntryPrice).Mul(decimal.NewFromInt(t.Shares))
	if !t.EntryPrice.IsZero() {
		pct, _ := exitPrice.Div(t.EntryPrice).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).Float64()
		t.PnLPercent = pct
	}
	t.Open = false
}
