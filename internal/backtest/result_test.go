package backtest

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamma-omg/breakout-bot/internal/market"
)

func closedTrade(symbol string, pnl float64, at time.Time) market.TradeRecord {
	return market.TradeRecord{
		Symbol:     symbol,
		EntryPrice: decimal.NewFromInt(10),
		ExitPrice:  decimal.NewFromInt(10),
		ExitTime:   at,
		Shares:     1,
		PnL:        decimal.NewFromFloat(pnl),
	}
}

func TestResult_metrics(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	r := NewResult(decimal.NewFromInt(1000))

	r.Add(closedTrade("A", 100, now))
	r.Add(closedTrade("B", -50, now.Add(time.Minute)))
	r.Add(closedTrade("C", 30, now.Add(2*time.Minute)))
	r.Finalize()

	assert.Equal(t, 2, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.True(t, r.TotalPnL.Equal(decimal.NewFromInt(80)))
	assert.True(t, r.FinalBalance.Equal(decimal.NewFromInt(1080)))
	assert.InDelta(t, 66.66, r.WinRate, 0.01)
	assert.InDelta(t, 8.0, r.TotalReturnPct, 0.001)
	assert.Len(t, r.Equity, 3)
}

func TestResult_breakEvenIsNeitherWinNorLoss(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	r := NewResult(decimal.NewFromInt(1000))

	r.Add(closedTrade("A", 10, now))
	r.Add(closedTrade("B", 0, now.Add(time.Minute)))
	r.Add(closedTrade("C", -5, now.Add(2*time.Minute)))
	r.Finalize()

	assert.Equal(t, 1, r.Wins)
	assert.Equal(t, 1, r.Losses)
	assert.InDelta(t, 50.0, r.WinRate, 0.001)
}

func TestResult_maxDrawdownIsPeakToTrough(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	r := NewResult(decimal.NewFromInt(1000))

	// 1000 -> 1200 (peak) -> 900 (trough) -> 1300
	r.Add(closedTrade("A", 200, now))
	r.Add(closedTrade("B", -300, now.Add(time.Minute)))
	r.Add(closedTrade("C", 400, now.Add(2*time.Minute)))
	r.Finalize()

	// (1200 - 900) / 1200 = 25%
	assert.InDelta(t, 25.0, r.MaxDrawdownPct, 0.001)
}

func TestResult_emptyFinalize(t *testing.T) {
	r := NewResult(decimal.NewFromInt(1000))
	r.Finalize()

	assert.Zero(t, r.WinRate)
	assert.Zero(t, r.MaxDrawdownPct)
	assert.True(t, r.FinalBalance.Equal(decimal.NewFromInt(1000)))
}

func TestWriteReport(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	r := NewResult(decimal.NewFromInt(1000))
	r.Add(closedTrade("AAPL", 100, now))
	r.Finalize()

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, r))

	var report JsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))

	assert.Equal(t, 1, report.TotalTrades)
	assert.Equal(t, 1, report.WinningTrades)
	assert.Equal(t, "100", report.TotalPnL)
	assert.Equal(t, "1100", report.FinalBalance)
	require.Len(t, report.Trades, 1)
	assert.Equal(t, "AAPL", report.Trades[0].Symbol)
}
