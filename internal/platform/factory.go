package platform

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gamma-omg/breakout-bot/internal/config"
	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/platform/alpaca"
	"github.com/gamma-omg/breakout-bot/internal/platform/replay"
)

// DataSource serves historical candidates and bars for one backtest day.
type DataSource interface {
	Screen(ctx context.Context, day time.Time) ([]market.CandidateStock, error)
	Bars(ctx context.Context, symbol string, day time.Time) ([]market.Bar, error)
}

func NewDataSource(log *slog.Logger, cfg config.Config) (DataSource, error) {
	alpacaCfg, ok := cfg.PlatformRef.Platform.(config.Alpaca)
	if ok {
		return alpaca.NewHistory(log, alpacaCfg, cfg.Session, cfg.Screener), nil
	}

	replayCfg, ok := cfg.PlatformRef.Platform.(config.Replay)
	if ok {
		return replay.NewSource(log, replayCfg)
	}

	return nil, errors.New("unknown data platform")
}
