package backtest

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

type mockCandidates struct {
	bySymbolDay map[string][]market.CandidateStock
	err         error
}

func (m *mockCandidates) Screen(_ context.Context, day time.Time) ([]market.CandidateStock, error) {
	if m.err != nil {
		return nil, m.err
	}

	return m.bySymbolDay[day.Format("2006-01-02")], nil
}

type mockBars struct {
	bars map[string][]market.Bar
	errs map[string]error
}

func (m *mockBars) Bars(_ context.Context, symbol string, _ time.Time) ([]market.Bar, error) {
	if err := m.errs[symbol]; err != nil {
		return nil, err
	}

	return m.bars[symbol], nil
}

func TestRunner_runsTradesAcrossDays(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	open := time.Date(2025, 3, 10, 9, 35, 0, 0, time.UTC)

	candidates := &mockCandidates{bySymbolDay: map[string][]market.CandidateStock{
		"2025-03-10": {{Symbol: "AAPL", PrevDayHigh: decimal.NewFromInt(10)}},
	}}
	bars := &mockBars{bars: map[string][]market.Bar{
		"AAPL": minuteBars(open, 9, 9.5, 10.1, 10.2, 10.4),
	}}

	r := NewRunner(slog.Default(),
		Replayer{Watch: watch.Config{MaxTradesPerDay: 3, Cooldown: time.Hour}, HoldBars: 2},
		candidates, bars, 10, 5, decimal.NewFromInt(1000))

	res, err := r.Run(context.Background(), []time.Time{day})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "AAPL", tr.Symbol)

	// floor(1000 * 10% / 10.1) = 9 shares, pnl = 9 * 0.3
	assert.Equal(t, int64(9), tr.Shares)
	assert.True(t, res.FinalBalance.Equal(decimal.NewFromFloat(1002.7)), "got %s", res.FinalBalance)
}

func TestRunner_symbolBarFailureIsolated(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	open := time.Date(2025, 3, 10, 9, 35, 0, 0, time.UTC)

	candidates := &mockCandidates{bySymbolDay: map[string][]market.CandidateStock{
		"2025-03-10": {
			{Symbol: "FAIL", PrevDayHigh: decimal.NewFromInt(10)},
			{Symbol: "AAPL", PrevDayHigh: decimal.NewFromInt(10)},
		},
	}}
	bars := &mockBars{
		bars: map[string][]market.Bar{"AAPL": minuteBars(open, 9, 10.5, 10.5)},
		errs: map[string]error{"FAIL": errors.New("no data")},
	}

	r := NewRunner(slog.Default(),
		Replayer{Watch: watch.Config{MaxTradesPerDay: 3, Cooldown: time.Hour}, HoldBars: 1},
		candidates, bars, 10, 5, decimal.NewFromInt(1000))

	res, err := r.Run(context.Background(), []time.Time{day})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "AAPL", res.Trades[0].Symbol)
}

func TestRunner_screenFailureAbortsDay(t *testing.T) {
	r := NewRunner(slog.Default(), Replayer{}, &mockCandidates{err: errors.New("screener down")},
		&mockBars{}, 10, 5, decimal.NewFromInt(1000))

	_, err := r.Run(context.Background(), []time.Time{time.Now()})
	require.Error(t, err)
}

func TestTradingDays_skipsWeekends(t *testing.T) {
	// 2025-03-07 is a Friday
	start := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	days := TradingDays(start, end)

	require.Len(t, days, 3)
	assert.Equal(t, time.Friday, days[0].Weekday())
	assert.Equal(t, time.Monday, days[1].Weekday())
	assert.Equal(t, time.Tuesday, days[2].Weekday())
}
