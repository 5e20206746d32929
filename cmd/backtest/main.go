package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/backtest"
	"github.com/gamma-omg/breakout-bot/internal/config"
	"github.com/gamma-omg/breakout-bot/internal/platform"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.ReadFromFile(os.Getenv("CONFIG"))
	if err != nil {
		log.Fatal(err)
	}

	if a, ok := cfg.PlatformRef.Platform.(config.Alpaca); ok && a.ApiKey == "" {
		a.ApiKey = os.Getenv("APCA_API_KEY_ID")
		a.Secret = os.Getenv("APCA_API_SECRET_KEY")
		cfg.PlatformRef.Platform = a
	}

	logger := slog.Default()

	src, err := platform.NewDataSource(logger, *cfg)
	if err != nil {
		log.Fatal(err)
	}

	replayer := backtest.Replayer{
		Watch: watch.Config{
			TargetBufferPct: cfg.Session.TargetBufferPct,
			MaxTradesPerDay: cfg.Session.MaxTradesPerDay,
			Cooldown:        cfg.Session.Cooldown.Std(),
		},
		HoldBars:   cfg.Backtest.HoldBars,
		WarmupBars: cfg.Backtest.WarmupBars,
	}

	runner := backtest.NewRunner(logger, replayer, src, src,
		cfg.Session.RiskPct, cfg.Screener.Limit,
		decimal.NewFromFloat(cfg.Backtest.InitialBalance))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	days := backtest.TradingDays(cfg.Backtest.Start, cfg.Backtest.End)
	res, err := runner.Run(ctx, days)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Report != "" {
		if err := backtest.WriteReportToFile(cfg.Report, res); err != nil {
			log.Fatal(err)
		}
	} else if err := backtest.WriteReport(os.Stdout, res); err != nil {
		log.Fatal(err)
	}

	if cfg.Backtest.EquityPlot != "" {
		if err := backtest.SaveEquityPlot(res, cfg.Backtest.EquityPlot); err != nil {
			log.Fatal(err)
		}
	}
}
