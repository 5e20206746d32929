package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/config"
	"github.com/gamma-omg/breakout-bot/internal/market"
)

// History serves backtests from Alpaca's historical data API: daily bars
// for candidate screening and minute bars for replay. The candidate
// universe comes from the most-actives screen, which reflects today's
// market rather than the requested day, so distant backtests skew towards
// currently liquid names.
type History struct {
	log      *slog.Logger
	cfg      config.Alpaca
	session  config.Session
	screener config.Screener
	api      alpacaApi
}

func NewHistory(log *slog.Logger, cfg config.Alpaca, session config.Session, screener config.Screener) *History {
	return &History{
		log:      log,
		cfg:      cfg,
		session:  session,
		screener: screener,
		api:      newDefaultApi(cfg.ApiKey, cfg.Secret, cfg.BaseUrl),
	}
}

func (h *History) Screen(ctx context.Context, day time.Time) ([]market.CandidateStock, error) {
	actives, err := h.api.GetMostActives(marketdata.GetMostActivesRequest{
		By:          "volume",
		TotalNumber: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get most active stocks: %w", err)
	}

	symbols := make([]string, 0, len(actives))
	for _, a := range actives {
		symbols = append(symbols, a.Symbol)
	}

	// fetch enough daily history to find the requested day and the
	// trading day before it across weekends and holidays
	dailies, err := h.api.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     day.AddDate(0, 0, -7),
		End:       day.AddDate(0, 0, 1),
		Feed:      marketdata.Feed(h.cfg.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get daily bars: %w", err)
	}

	type scored struct {
		candidate market.CandidateStock
		diffPct   float64
	}

	var picks []scored
	for _, sym := range symbols {
		dayBar, prevBar, ok := splitDailyBars(dailies[sym], day)
		if !ok {
			continue
		}

		diffPct, ok := screenCheck(h.screener, dayBar.Open, dayBar.Open, prevBar.High, int64(dayBar.Volume))
		if !ok {
			continue
		}

		picks = append(picks, scored{
			candidate: market.CandidateStock{
				Symbol:      sym,
				PrevDayHigh: decimal.NewFromFloat(prevBar.High),
				Open:        decimal.NewFromFloat(dayBar.Open),
				Volume:      int64(dayBar.Volume),
			},
			diffPct: diffPct,
		})
	}

	sort.Slice(picks, func(i, j int) bool { return picks[i].diffPct < picks[j].diffPct })

	if h.screener.Limit > 0 && len(picks) > h.screener.Limit {
		picks = picks[:h.screener.Limit]
	}

	candidates := make([]market.CandidateStock, len(picks))
	for i, s := range picks {
		candidates[i] = s.candidate
	}

	h.log.Info("screened historical candidates",
		slog.Time("day", day),
		slog.Int("count", len(candidates)))

	return candidates, nil
}

// Bars returns the day's minute bars restricted to the session window.
func (h *History) Bars(ctx context.Context, symbol string, day time.Time) ([]market.Bar, error) {
	open, close, err := h.session.Window(day)
	if err != nil {
		return nil, err
	}

	raw, err := h.api.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneMin,
		Start:     open,
		End:       close,
		Feed:      marketdata.Feed(h.cfg.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get minute bars for %s: %w", symbol, err)
	}

	bars := make([]market.Bar, 0, len(raw))
	for _, b := range raw {
		if b.Timestamp.Before(open) || b.Timestamp.After(close) {
			continue
		}

		bars = append(bars, market.Bar{
			Time:   b.Timestamp,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: decimal.NewFromInt(int64(b.Volume)),
		})
	}

	return bars, nil
}

// splitDailyBars picks the daily bar matching day and the bar preceding it.
func splitDailyBars(bars []marketdata.Bar, day time.Time) (dayBar, prevBar marketdata.Bar, ok bool) {
	for i, b := range bars {
		if sameDate(b.Timestamp, day) {
			if i == 0 {
				return dayBar, prevBar, false
			}

			return b, bars[i-1], true
		}
	}

	return dayBar, prevBar, false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
