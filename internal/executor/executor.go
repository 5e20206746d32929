package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

type brokerGateway interface {
	GetAccount(ctx context.Context) (market.Account, error)
	PlaceMarketOrder(ctx context.Context, symbol string, shares int64, side market.OrderSide) (market.OrderConfirmation, error)
}

type tradeLedger interface {
	Record(ctx context.Context, t *market.TradeRecord) error
	Update(ctx context.Context, t *market.TradeRecord) error
}

type Status int

const (
	// StatusEntered reports a confirmed buy; the trade is open.
	StatusEntered Status = iota
	// StatusEntryAborted reports an entry that never bought: the watch
	// must release its in-position guard.
	StatusEntryAborted
	// StatusClosed reports a completed round trip.
	StatusClosed
	// StatusUnresolved reports a position whose sell failed. The watch
	// stays in position; the operator has to resolve it.
	StatusUnresolved
)

// Result is the executor-to-scheduler handoff for one crossing event.
type Result struct {
	Symbol string
	Status Status
	Trade  *market.TradeRecord
	At     time.Time
	Err    error
}

type Config struct {
	RiskPct      float64
	HoldDuration time.Duration
	MaxPositions int
}

// Executor turns crossing events into a market buy, a timed market sell and
// a ledger record. Every dispatched entry runs on its own goroutine and
// reports back exclusively through the Results channel, so the scheduler's
// loop never blocks on broker round trips.
type Executor struct {
	log     *slog.Logger
	cfg     Config
	broker  brokerGateway
	ledger  tradeLedger
	results chan Result
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	open    atomic.Int64
}

func New(log *slog.Logger, cfg Config, broker brokerGateway, ledger tradeLedger) *Executor {
	return &Executor{
		log:     log,
		cfg:     cfg,
		broker:  broker,
		ledger:  ledger,
		results: make(chan Result, 1024),
		quit:    make(chan struct{}),
	}
}

// Results delivers entry and exit outcomes back to the scheduler loop.
func (e *Executor) Results() <-chan Result {
	return e.results
}

// Enter dispatches the crossing event without blocking the caller.
func (e *Executor) Enter(ctx context.Context, ev watch.CrossingEvent) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.enter(ctx, ev)
	}()
}

// Drain signals in-flight positions to close early and waits for all entry
// tasks to finish, bounded by ctx. Tasks still running when ctx expires are
// abandoned; their watches remain in position and must be reported.
func (e *Executor) Drain(ctx context.Context) error {
	e.once.Do(func() { close(e.quit) })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor drain: %w", ctx.Err())
	}
}

// OpenPositions reports the number of position slots in use, counting both
// held positions and entries still in flight.
func (e *Executor) OpenPositions() int {
	return int(e.open.Load())
}

func (e *Executor) enter(ctx context.Context, ev watch.CrossingEvent) {
	// claim the position slot before any broker call; entries overlapping
	// another entry's broker round trip must not all pass the gate
	if !e.reserveSlot() {
		e.abort(ev, errors.New("max concurrent positions reached"))
		return
	}

	// buying power may have been consumed by a concurrent entry since the
	// watch was seeded, so re-check right before submitting
	acc, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.releaseSlot()
		e.abort(ev, fmt.Errorf("failed to get account: %w", err))
		return
	}

	shares, err := watch.Shares(acc.BuyingPower, e.cfg.RiskPct, ev.Price)
	if err != nil {
		e.releaseSlot()
		e.abort(ev, err)
		return
	}

	notional := ev.Price.Mul(decimal.NewFromInt(shares))
	if acc.BuyingPower.LessThan(notional) {
		e.releaseSlot()
		e.abort(ev, market.ErrInsufficientFunds)
		return
	}

	conf, err := e.broker.PlaceMarketOrder(ctx, ev.Symbol, shares, market.Buy)
	if err != nil {
		e.releaseSlot()
		e.abort(ev, fmt.Errorf("buy rejected: %w", err))
		return
	}

	trade := &market.TradeRecord{
		ID:          uuid.NewString(),
		Symbol:      ev.Symbol,
		EntryTime:   entryTime(conf, ev),
		EntryPrice:  entryPrice(conf, ev),
		TargetPrice: ev.Target,
		Shares:      shares,
		Notional:    notional,
		Open:        true,
	}

	if err := e.ledger.Record(ctx, trade); err != nil {
		e.log.Error("failed to record trade", "symbol", ev.Symbol, "error", err)
	}

	e.log.Info("entered position",
		slog.String("symbol", ev.Symbol),
		slog.Int64("shares", shares),
		slog.String("entry_price", trade.EntryPrice.String()),
		slog.String("target", ev.Target.String()))

	e.results <- Result{Symbol: ev.Symbol, Status: StatusEntered, Trade: trade, At: trade.EntryTime}

	e.holdAndSell(ctx, trade)
}

func (e *Executor) holdAndSell(ctx context.Context, trade *market.TradeRecord) {
	timer := time.NewTimer(e.cfg.HoldDuration)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-e.quit:
		e.log.Warn("session ending, closing position early", "symbol", trade.Symbol)
	case <-ctx.Done():
		e.log.Warn("shutdown requested, closing position early", "symbol", trade.Symbol)
	}

	// the sell must still go out when the session context is gone; an open
	// position is worse than a late order
	sellCtx := context.WithoutCancel(ctx)

	conf, err := e.broker.PlaceMarketOrder(sellCtx, trade.Symbol, trade.Shares, market.Sell)
	if err != nil {
		e.log.Error("sell failed, position remains open",
			slog.String("symbol", trade.Symbol),
			slog.String("trade_id", trade.ID),
			slog.Any("error", err))
		e.results <- Result{Symbol: trade.Symbol, Status: StatusUnresolved, Trade: trade, At: time.Now(), Err: err}
		return
	}

	exitAt := conf.FilledAt
	if exitAt.IsZero() {
		exitAt = time.Now()
	}

	trade.Complete(conf.FilledAvgPrice, exitAt)
	if err := e.ledger.Update(sellCtx, trade); err != nil {
		e.log.Error("failed to update trade", "symbol", trade.Symbol, "error", err)
	}

	e.releaseSlot()

	e.log.Info("exited position",
		slog.String("symbol", trade.Symbol),
		slog.String("exit_price", trade.ExitPrice.String()),
		slog.String("pnl", trade.PnL.String()),
		slog.Float64("pnl_pct", trade.PnLPercent))

	e.results <- Result{Symbol: trade.Symbol, Status: StatusClosed, Trade: trade, At: exitAt}
}

// reserveSlot claims one of the MaxPositions slots, or reports that none is
// free. The claim happens before any broker call so that concurrent entries
// cannot all pass the gate while a buy is still in flight.
func (e *Executor) reserveSlot() bool {
	for {
		open := e.open.Load()
		if int(open) >= e.cfg.MaxPositions {
			return false
		}
		if e.open.CompareAndSwap(open, open+1) {
			return true
		}
	}
}

func (e *Executor) releaseSlot() {
	e.open.Add(-1)
}

func (e *Executor) abort(ev watch.CrossingEvent, err error) {
	e.log.Warn("entry aborted", "symbol", ev.Symbol, "error", err)
	e.results <- Result{Symbol: ev.Symbol, Status: StatusEntryAborted, At: ev.Time, Err: err}
}

func entryPrice(conf market.OrderConfirmation, ev watch.CrossingEvent) decimal.Decimal {
	if conf.FilledAvgPrice.IsPositive() {
		return conf.FilledAvgPrice
	}
	return ev.Price
}

func entryTime(conf market.OrderConfirmation, ev watch.CrossingEvent) time.Time {
	if !conf.FilledAt.IsZero() {
		return conf.FilledAt
	}
	return ev.Time
}
