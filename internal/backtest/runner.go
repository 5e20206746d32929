package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

type candidateSource interface {
	Screen(ctx context.Context, day time.Time) ([]market.CandidateStock, error)
}

type barSource interface {
	Bars(ctx context.Context, symbol string, day time.Time) ([]market.Bar, error)
}

type Runner struct {
	log        *slog.Logger
	replayer   Replayer
	candidates candidateSource
	bars       barSource
	riskPct    float64
	maxSymbols int
	balance    decimal.Decimal
}

func NewRunner(log *slog.Logger, replayer Replayer, candidates candidateSource, bars barSource, riskPct float64, maxSymbols int, initialBalance decimal.Decimal) *Runner {
	return &Runner{
		log:        log,
		replayer:   replayer,
		candidates: candidates,
		bars:       bars,
		riskPct:    riskPct,
		maxSymbols: maxSymbols,
		balance:    initialBalance,
	}
}

// Run replays the strategy over each trading day in order. Bar history for
// a day's candidates is fetched concurrently, but replay itself is
// sequential and deterministic: same inputs, same trades.
func (r *Runner) Run(ctx context.Context, days []time.Time) (*Result, error) {
	res := NewResult(r.balance)

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := r.runDay(ctx, day, res); err != nil {
			return nil, fmt.Errorf("failed to backtest %s: %w", day.Format("2006-01-02"), err)
		}
	}

	res.Finalize()
	return res, nil
}

func (r *Runner) runDay(ctx context.Context, day time.Time, res *Result) error {
	candidates, err := r.candidates.Screen(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to screen candidates: %w", err)
	}

	if len(candidates) == 0 {
		r.log.Info("no candidates", slog.Time("day", day))
		return nil
	}

	if r.maxSymbols > 0 && len(candidates) > r.maxSymbols {
		candidates = candidates[:r.maxSymbols]
	}

	// one symbol's missing data must not sink the whole day, so fetch
	// errors are recorded per slot instead of aborting the group
	barsBySlot := make([][]market.Bar, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range candidates {
		g.Go(func() error {
			bars, err := r.bars.Bars(gctx, c.Symbol, day)
			if err != nil {
				r.log.Warn("skipping symbol, failed to load bars",
					slog.String("symbol", c.Symbol),
					slog.Any("error", err))
				return nil
			}

			barsBySlot[i] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, c := range candidates {
		bars := barsBySlot[i]
		if len(bars) == 0 {
			continue
		}

		trades := r.replayer.ReplayDay(c.Symbol, c.PrevDayHigh, bars, func(entry decimal.Decimal) (int64, error) {
			return watch.Shares(res.Balance(), r.riskPct, entry)
		})

		for _, t := range trades {
			res.Add(t)
			r.log.Info("replayed trade",
				slog.String("symbol", t.Symbol),
				slog.Time("entry", t.EntryTime),
				slog.Time("exit", t.ExitTime),
				slog.String("pnl", t.PnL.String()))
		}
	}

	return nil
}

// TradingDays lists the weekdays between start and end inclusive. Exchange
// holidays are not excluded; days without bars simply produce no trades.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days = append(days, d)
	}

	return days
}
