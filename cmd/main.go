package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gamma-omg/breakout-bot/internal/config"
	"github.com/gamma-omg/breakout-bot/internal/executor"
	"github.com/gamma-omg/breakout-bot/internal/ledger"
	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/platform/alpaca"
	"github.com/gamma-omg/breakout-bot/internal/scheduler"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.ReadFromFile(os.Getenv("CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.Default()

	cfgAlpaca, ok := cfg.PlatformRef.Platform.(config.Alpaca)
	if !ok {
		log.Fatal("live trading requires the alpaca platform")
	}
	if cfgAlpaca.ApiKey == "" {
		cfgAlpaca.ApiKey = os.Getenv("APCA_API_KEY_ID")
		cfgAlpaca.Secret = os.Getenv("APCA_API_SECRET_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform, err := alpaca.NewPlatform(logger, cfgAlpaca, cfg.Screener)
	if err != nil {
		log.Fatal(err)
	}

	ledgerPath := cfg.Ledger
	if ledgerPath == "" {
		ledgerPath = "trades.db"
	}
	store, err := ledger.Open(ledgerPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if stale, err := store.OpenTrades(ctx); err != nil {
		logger.Warn("failed to check ledger for open trades", slog.Any("error", err))
	} else if len(stale) > 0 {
		for _, t := range stale {
			logger.Warn("ledger has an unresolved open trade",
				slog.String("symbol", t.Symbol),
				slog.String("trade_id", t.ID),
				slog.Time("entered", t.EntryTime))
		}
	}

	open, close, err := cfg.Session.Window(time.Now())
	if err != nil {
		log.Fatal(err)
	}
	openAt := open.Add(cfg.Session.OpenDelay.Std())

	// candidates are screened once the session opens, the first minutes
	// after the bell are too noisy to act on
	if err := waitUntil(ctx, openAt); err != nil {
		log.Fatal(err)
	}

	candidates, err := platform.Screen(ctx)
	if err != nil {
		log.Fatal(err)
	}

	held, err := platform.GetPositions(ctx)
	if err != nil {
		log.Fatal(err)
	}
	candidates = dropHeld(logger, candidates, held)

	quotes := newQuoteSource(ctx, logger, cfgAlpaca, platform, candidates)

	exec := executor.New(logger, executor.Config{
		RiskPct:      cfg.Session.RiskPct,
		HoldDuration: cfg.Session.HoldDuration.Std(),
		MaxPositions: cfg.Session.MaxPositions,
	}, platform, store)

	sched := scheduler.New(logger, scheduler.Config{
		MarketOpen:       openAt,
		MarketClose:      close,
		PollInterval:     cfg.Session.PollInterval.Std(),
		BatchSize:        cfg.Session.QuoteBatchSize,
		MaxQuoteFailures: cfg.Session.MaxQuoteFailures,
		TeardownGrace:    cfg.Session.TeardownGrace.Std(),
		Watch: watch.Config{
			TargetBufferPct: cfg.Session.TargetBufferPct,
			MaxTradesPerDay: cfg.Session.MaxTradesPerDay,
			Cooldown:        cfg.Session.Cooldown.Std(),
		},
	}, quotes, exec)

	res, err := sched.Run(ctx, candidates)
	if err != nil {
		logger.Error("session ended with error", slog.Any("error", err))
	}

	logger.Info("session summary",
		slog.Int("entered", res.Entered),
		slog.Int("closed", res.Closed),
		slog.Int("aborted", res.Aborted),
		slog.Int("unresolved", len(res.Unresolved)))

	if err != nil || len(res.Unresolved) > 0 {
		os.Exit(1)
	}
}

type quoteSource interface {
	Latest(ctx context.Context, symbols []string) (map[string]market.Quote, error)
}

// newQuoteSource prefers the websocket trade stream when configured and
// falls back to REST polling otherwise.
func newQuoteSource(ctx context.Context, logger *slog.Logger, cfg config.Alpaca, platform *alpaca.Platform, candidates []market.CandidateStock) quoteSource {
	if !cfg.Stream {
		return platform
	}

	symbols := make([]string, len(candidates))
	for i, c := range candidates {
		symbols[i] = c.Symbol
	}

	st := alpaca.NewStream(logger, cfg, symbols)
	go func() {
		if err := st.Run(ctx); err != nil {
			logger.Error("trade stream stopped", slog.Any("error", err))
		}
	}()

	return st
}

// dropHeld filters out symbols the account already holds; the watch would
// otherwise double up on a position it does not manage.
func dropHeld(logger *slog.Logger, candidates []market.CandidateStock, held []market.HeldPosition) []market.CandidateStock {
	heldSet := make(map[string]struct{}, len(held))
	for _, p := range held {
		heldSet[p.Symbol] = struct{}{}
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if _, ok := heldSet[c.Symbol]; ok {
			logger.Info("skipping candidate, position already held", slog.String("symbol", c.Symbol))
			continue
		}
		kept = append(kept, c)
	}

	return kept
}

func waitUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
