package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/gamma-omg/breakout-bot/internal/executor"
	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

type quoteSource interface {
	Latest(ctx context.Context, symbols []string) (map[string]market.Quote, error)
}

type orderExecutor interface {
	Enter(ctx context.Context, ev watch.CrossingEvent)
	Results() <-chan executor.Result
	Drain(ctx context.Context) error
	OpenPositions() int
}

type Config struct {
	MarketOpen       time.Time
	MarketClose      time.Time
	PollInterval     time.Duration
	BatchSize        int
	MaxQuoteFailures int
	TeardownGrace    time.Duration
	Watch            watch.Config
}

// SessionResult summarizes one trading session.
type SessionResult struct {
	Entered    int
	Closed     int
	Aborted    int
	Unresolved []string
}

// Scheduler drives every active watch with batched quote polls until market
// close or cancellation. The watch map is owned exclusively by the Run loop;
// executor outcomes come back over a channel and are applied between cycles,
// never from another goroutine.
type Scheduler struct {
	log     *slog.Logger
	cfg     Config
	quotes  quoteSource
	exec    orderExecutor
	watches map[string]*watch.Watch
	order   []string
	now     func() time.Time
}

func New(log *slog.Logger, cfg Config, quotes quoteSource, exec orderExecutor) *Scheduler {
	return &Scheduler{
		log:     log,
		cfg:     cfg,
		quotes:  quotes,
		exec:    exec,
		watches: make(map[string]*watch.Watch),
		now:     time.Now,
	}
}

// Run seeds one watch per candidate and polls until the session ends.
func (s *Scheduler) Run(ctx context.Context, candidates []market.CandidateStock) (SessionResult, error) {
	for _, c := range candidates {
		if _, ok := s.watches[c.Symbol]; ok {
			continue
		}

		s.watches[c.Symbol] = watch.New(c.Symbol, c.PrevDayHigh, s.cfg.Watch)
		s.order = append(s.order, c.Symbol)
	}

	s.log.Info("session started",
		slog.Int("watches", len(s.order)),
		slog.Time("market_close", s.cfg.MarketClose))

	if err := s.waitForOpen(ctx); err != nil {
		return SessionResult{}, err
	}

	var res SessionResult
	runErr := s.pollLoop(ctx, &res)
	s.teardown(ctx, &res)

	s.log.Info("session finished",
		slog.Int("entered", res.Entered),
		slog.Int("closed", res.Closed),
		slog.Int("unresolved", len(res.Unresolved)))

	return res, runErr
}

func (s *Scheduler) waitForOpen(ctx context.Context) error {
	wait := s.cfg.MarketOpen.Sub(s.now())
	if wait <= 0 {
		return nil
	}

	s.log.Info("waiting for market open", slog.Duration("wait", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) pollLoop(ctx context.Context, res *SessionResult) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	failStreak := 0
	for {
		if !s.now().Before(s.cfg.MarketClose) {
			s.log.Info("market closed, ending session")
			return nil
		}

		// apply completed entries/exits before observing, so a position
		// closed between cycles can re-arm its watch this cycle
		s.applyResults(res)

		symbols := s.activeSymbols()
		if len(symbols) == 0 && s.exec.OpenPositions() == 0 {
			s.log.Info("all watches retired, ending session early")
			return nil
		}

		if len(symbols) > 0 {
			quotes, err := s.fetchQuotes(ctx, symbols)
			if err != nil {
				failStreak++
				s.log.Error("quote fetch failed, skipping cycle",
					slog.Int("streak", failStreak),
					slog.Any("error", err))

				if s.cfg.MaxQuoteFailures > 0 && failStreak >= s.cfg.MaxQuoteFailures {
					return fmt.Errorf("quote source unavailable for %d consecutive cycles: %w", failStreak, err)
				}
			} else {
				failStreak = 0
				s.observe(ctx, symbols, quotes)
			}
		}

		select {
		case <-ctx.Done():
			s.log.Warn("session cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// observe feeds one fetched price set into the watches. Every symbol in the
// cycle sees the same snapshot, and observations per symbol stay strictly
// ordered across cycles.
func (s *Scheduler) observe(ctx context.Context, symbols []string, quotes map[string]market.Quote) {
	now := s.now()
	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok || !q.Price.IsPositive() {
			continue
		}

		ev, ok := s.watches[sym].Observe(q.Price, now)
		if !ok {
			continue
		}

		s.log.Info("price crossed above target",
			slog.String("symbol", sym),
			slog.String("price", q.Price.String()),
			slog.String("target", ev.Target.String()))

		s.exec.Enter(ctx, ev)
	}
}

func (s *Scheduler) fetchQuotes(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	batch := s.cfg.BatchSize
	if batch <= 0 || batch > len(symbols) {
		batch = len(symbols)
	}

	merged := make(map[string]market.Quote, len(symbols))
	failed := 0
	chunks := 0
	for start := 0; start < len(symbols); start += batch {
		end := min(start+batch, len(symbols))
		chunks++

		quotes, err := s.quotes.Latest(ctx, symbols[start:end])
		if err != nil {
			failed++
			s.log.Warn("quote batch failed", slog.Int("size", end-start), slog.Any("error", err))
			continue
		}

		maps.Copy(merged, quotes)
	}

	if failed == chunks {
		return nil, market.ErrQuoteUnavailable
	}

	return merged, nil
}

func (s *Scheduler) activeSymbols() []string {
	symbols := make([]string, 0, len(s.order))
	for _, sym := range s.order {
		if s.watches[sym].Active() {
			symbols = append(symbols, sym)
		}
	}

	return symbols
}

func (s *Scheduler) applyResults(res *SessionResult) {
	for {
		select {
		case r := <-s.exec.Results():
			s.applyResult(r, res)
		default:
			return
		}
	}
}

func (s *Scheduler) applyResult(r executor.Result, res *SessionResult) {
	w, ok := s.watches[r.Symbol]
	if !ok {
		s.log.Warn("result for unknown symbol", "symbol", r.Symbol)
		return
	}

	switch r.Status {
	case executor.StatusEntered:
		res.Entered++
	case executor.StatusEntryAborted:
		res.Aborted++
		w.EntryFailed()
	case executor.StatusClosed:
		res.Closed++
		w.PositionClosed()
	case executor.StatusUnresolved:
		// the watch stays in position; surfaced again at teardown
		s.log.Error("position could not be closed", "symbol", r.Symbol, "error", r.Err)
	}
}

// teardown deactivates all watches, waits for in-flight sells within the
// grace period and reports any position that remains open.
func (s *Scheduler) teardown(ctx context.Context, res *SessionResult) {
	for _, w := range s.watches {
		w.Retire()
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TeardownGrace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.exec.Drain(drainCtx)
	}()

	for {
		select {
		case r := <-s.exec.Results():
			s.applyResult(r, res)
		case err := <-done:
			if err != nil {
				s.log.Warn("executor drain incomplete", slog.Any("error", err))
			}

			s.applyResults(res)
			s.collectUnresolved(res)
			return
		}
	}
}

func (s *Scheduler) collectUnresolved(res *SessionResult) {
	for _, sym := range s.order {
		if !s.watches[sym].InPosition() {
			continue
		}

		s.log.Error("abandoning unresolved open position", slog.String("symbol", sym))
		res.Unresolved = append(res.Unresolved, sym)
	}
}
