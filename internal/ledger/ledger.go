package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gamma-omg/breakout-bot/internal/market"
)

type tradeModel struct {
	ID          string    `gorm:"primaryKey"`
	Symbol      string    `gorm:"index"`
	EntryTime   time.Time
	EntryPrice  string
	TargetPrice string
	Shares      int64
	Notional    string
	ExitTime    time.Time
	ExitPrice   string
	PnL         string    `gorm:"column:pnl"`
	PnLPercent  float64   `gorm:"column:pnl_pct"`
	Open        bool      `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (tradeModel) TableName() string {
	return "trades"
}

// Store persists trade records in a local sqlite database. Callers treat
// write failures as log-and-continue; a broken ledger must never stop the
// trading loop.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade ledger: %w", err)
	}

	if err := db.AutoMigrate(&tradeModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate trade ledger: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, t *market.TradeRecord) error {
	m := toModel(t)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to record trade %s: %w", t.ID, err)
	}

	return nil
}

func (s *Store) Update(ctx context.Context, t *market.TradeRecord) error {
	m := toModel(t)
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to update trade %s: %w", t.ID, err)
	}

	return nil
}

// OpenTrades lists positions that were never closed, typically after a
// crash or an abandoned session.
func (s *Store) OpenTrades(ctx context.Context) ([]market.TradeRecord, error) {
	var models []tradeModel
	if err := s.db.WithContext(ctx).Where("open = ?", true).Order("entry_time").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}

	trades := make([]market.TradeRecord, 0, len(models))
	for _, m := range models {
		t, err := fromModel(m)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	return trades, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func toModel(t *market.TradeRecord) tradeModel {
	return tradeModel{
		ID:          t.ID,
		Symbol:      t.Symbol,
		EntryTime:   t.EntryTime,
		EntryPrice:  t.EntryPrice.String(),
		TargetPrice: t.TargetPrice.String(),
		Shares:      t.Shares,
		Notional:    t.Notional.String(),
		ExitTime:    t.ExitTime,
		ExitPrice:   t.ExitPrice.String(),
		PnL:         t.PnL.String(),
		PnLPercent:  t.PnLPercent,
		Open:        t.Open,
	}
}

func fromModel(m tradeModel) (market.TradeRecord, error) {
	t := market.TradeRecord{
		ID:         m.ID,
		Symbol:     m.Symbol,
		EntryTime:  m.EntryTime,
		Shares:     m.Shares,
		ExitTime:   m.ExitTime,
		PnLPercent: m.PnLPercent,
		Open:       m.Open,
	}

	var err error
	if t.EntryPrice, err = decimal.NewFromString(m.EntryPrice); err != nil {
		return t, fmt.Errorf("corrupt entry price for trade %s: %w", m.ID, err)
	}
	if t.TargetPrice, err = decimal.NewFromString(m.TargetPrice); err != nil {
		return t, fmt.Errorf("corrupt target price for trade %s: %w", m.ID, err)
	}
	if t.Notional, err = decimal.NewFromString(m.Notional); err != nil {
		return t, fmt.Errorf("corrupt notional for trade %s: %w", m.ID, err)
	}
	if t.ExitPrice, err = decimal.NewFromString(m.ExitPrice); err != nil {
		return t, fmt.Errorf("corrupt exit price for trade %s: %w", m.ID, err)
	}
	if t.PnL, err = decimal.NewFromString(m.PnL); err != nil {
		return t, fmt.Errorf("corrupt pnl for trade %s: %w", m.ID, err)
	}

	return t, nil
}

// Discard is a no-op ledger for backtests and tests.
type Discard struct{}

func (Discard) Record(context.Context, *market.TradeRecord) error { return nil }
func (Discard) Update(context.Context, *market.TradeRecord) error { return nil }
