package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamma-omg/breakout-bot/internal/executor"
	"github.com/gamma-omg/breakout-bot/internal/market"
	"github.com/gamma-omg/breakout-bot/internal/watch"
)

type scriptedQuotes struct {
	mu     sync.Mutex
	script []map[string]float64
	cycle  int
	calls  int
	err    error
}

func (q *scriptedQuotes) Latest(_ context.Context, symbols []string) (map[string]market.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.calls++
	if q.err != nil {
		return nil, q.err
	}

	idx := min(q.cycle, len(q.script)-1)
	q.cycle++

	res := make(map[string]market.Quote, len(symbols))
	for _, sym := range symbols {
		p, ok := q.script[idx][sym]
		if !ok {
			continue
		}
		res[sym] = market.Quote{Price: decimal.NewFromFloat(p), Time: time.Now()}
	}

	return res, nil
}

type fakeExecutor struct {
	mu      sync.Mutex
	entered []watch.CrossingEvent
	results chan executor.Result
	open    int
	onEnter func(ev watch.CrossingEvent)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: make(chan executor.Result, 64)}
}

func (f *fakeExecutor) Enter(_ context.Context, ev watch.CrossingEvent) {
	f.mu.Lock()
	f.entered = append(f.entered, ev)
	f.mu.Unlock()

	if f.onEnter != nil {
		f.onEnter(ev)
	}
}

func (f *fakeExecutor) Results() <-chan executor.Result { return f.results }
func (f *fakeExecutor) Drain(_ context.Context) error   { return nil }

func (f *fakeExecutor) OpenPositions() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open
}

func (f *fakeExecutor) enteredEvents() []watch.CrossingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]watch.CrossingEvent(nil), f.entered...)
}

func testConfig(closeIn time.Duration) Config {
	return Config{
		MarketOpen:    time.Now().Add(-time.Hour),
		MarketClose:   time.Now().Add(closeIn),
		PollInterval:  5 * time.Millisecond,
		TeardownGrace: time.Second,
		Watch:         watch.Config{MaxTradesPerDay: 3, Cooldown: time.Hour},
	}
}

func candidate(symbol string, prevHigh float64) market.CandidateStock {
	return market.CandidateStock{Symbol: symbol, PrevDayHigh: decimal.NewFromFloat(prevHigh)}
}

func TestRun_noCyclesAfterClose(t *testing.T) {
	quotes := &scriptedQuotes{script: []map[string]float64{{"AAPL": 9}}}
	exec := newFakeExecutor()
	s := New(slog.Default(), testConfig(-time.Minute), quotes, exec)

	res, err := s.Run(context.Background(), []market.CandidateStock{candidate("AAPL", 10)})
	require.NoError(t, err)

	assert.Zero(t, quotes.calls)
	assert.Zero(t, res.Entered)
	for _, w := range s.watches {
		assert.False(t, w.Active())
	}
}

func TestRun_entersOnCrossing(t *testing.T) {
	quotes := &scriptedQuotes{script: []map[string]float64{
		{"AAPL": 9.5},
		{"AAPL": 10.1},
		{"AAPL": 10.2}, // stays above: no second entry
	}}
	exec := newFakeExecutor()
	exec.onEnter = func(ev watch.CrossingEvent) {
		exec.results <- executor.Result{Symbol: ev.Symbol, Status: executor.StatusEntered, At: ev.Time}
	}

	s := New(slog.Default(), testConfig(200*time.Millisecond), quotes, exec)

	res, err := s.Run(context.Background(), []market.CandidateStock{candidate("AAPL", 10)})
	require.NoError(t, err)

	entered := exec.enteredEvents()
	require.Len(t, entered, 1)
	assert.Equal(t, "AAPL", entered[0].Symbol)
	assert.True(t, entered[0].Price.Equal(decimal.NewFromFloat(10.1)))
	assert.Equal(t, 1, res.Entered)
}

func TestRun_partialQuoteFailureIsolated(t *testing.T) {
	// the source never returns MISS: its watch must simply stay untouched
	quotes := &scriptedQuotes{script: []map[string]float64{
		{"AAPL": 9.5, "TSLA": 8},
		{"AAPL": 10.1, "TSLA": 8.1},
	}}
	exec := newFakeExecutor()
	exec.onEnter = func(ev watch.CrossingEvent) {
		exec.results <- executor.Result{Symbol: ev.Symbol, Status: executor.StatusEntered, At: ev.Time}
	}

	s := New(slog.Default(), testConfig(150*time.Millisecond), quotes, exec)

	res, err := s.Run(context.Background(), []market.CandidateStock{
		candidate("AAPL", 10),
		candidate("MISS", 10),
		candidate("TSLA", 10),
	})
	require.NoError(t, err)

	entered := exec.enteredEvents()
	require.Len(t, entered, 1)
	assert.Equal(t, "AAPL", entered[0].Symbol)
	assert.Equal(t, 1, res.Entered)
}

func TestRun_quoteFailureStreakStopsSession(t *testing.T) {
	quotes := &scriptedQuotes{err: errors.New("feed down")}
	exec := newFakeExecutor()

	cfg := testConfig(5 * time.Second)
	cfg.MaxQuoteFailures = 3
	s := New(slog.Default(), cfg, quotes, exec)

	_, err := s.Run(context.Background(), []market.CandidateStock{candidate("AAPL", 10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrQuoteUnavailable)
	assert.GreaterOrEqual(t, quotes.calls, 3)
}

func TestRun_entryAbortReleasesGuard(t *testing.T) {
	quotes := &scriptedQuotes{script: []map[string]float64{
		{"AAPL": 9.5},
		{"AAPL": 10.1}, // first crossing, entry aborted
		{"AAPL": 9.4},
		{"AAPL": 10.2}, // may fire again once the guard is released
	}}
	exec := newFakeExecutor()
	exec.onEnter = func(ev watch.CrossingEvent) {
		exec.results <- executor.Result{Symbol: ev.Symbol, Status: executor.StatusEntryAborted, At: ev.Time, Err: market.ErrInsufficientFunds}
	}

	cfg := testConfig(300 * time.Millisecond)
	cfg.Watch.Cooldown = 0
	s := New(slog.Default(), cfg, quotes, exec)

	res, err := s.Run(context.Background(), []market.CandidateStock{candidate("AAPL", 10)})
	require.NoError(t, err)

	assert.Len(t, exec.enteredEvents(), 2)
	assert.Equal(t, 2, res.Aborted)
	assert.Zero(t, res.Entered)
}

func TestRun_tradeCapRetiresWatchAndEndsEarly(t *testing.T) {
	quotes := &scriptedQuotes{script: []map[string]float64{
		{"AAPL": 9.5},
		{"AAPL": 10.1},
		{"AAPL": 9.3},
		{"AAPL": 10.4},
	}}
	exec := newFakeExecutor()
	exec.onEnter = func(ev watch.CrossingEvent) {
		// immediate round trip
		exec.results <- executor.Result{Symbol: ev.Symbol, Status: executor.StatusEntered, At: ev.Time}
		exec.results <- executor.Result{Symbol: ev.Symbol, Status: executor.StatusClosed, At: ev.Time, Trade: &market.TradeRecord{Symbol: ev.Symbol}}
	}

	cfg := testConfig(10 * time.Second) // relies on early exit, not the close time
	cfg.Watch = watch.Config{MaxTradesPerDay: 1, Cooldown: 0}
	s := New(slog.Default(), cfg, quotes, exec)

	start := time.Now()
	res, err := s.Run(context.Background(), []market.CandidateStock{candidate("AAPL", 10)})
	require.NoError(t, err)

	assert.Len(t, exec.enteredEvents(), 1)
	assert.Equal(t, 1, res.Entered)
	assert.Equal(t, 1, res.Closed)
	assert.Less(t, time.Since(start), 5*time.Second, "session must end early once all watches retire")
}

func TestRun_unresolvedPositionSurfaced(t *testing.T) {
	quotes := &scriptedQuotes{script: []map[string]float64{
		{"AAPL": 9.5},
		{"AAPL": 10.1},
	}}
	exec := newFakeExecutor()
	exec.onEnter = func(ev watch.CrossingEvent) {
		exec.results <- executor.Result{Symbol: ev.Symbol, Status: executor.StatusEntered, At: ev.Time}
		exec.results <- executor.Result{Symbol: ev.Symbol, Status: executor.StatusUnresolved, At: ev.Time, Err: errors.New("sell rejected")}
	}

	s := New(slog.Default(), testConfig(150*time.Millisecond), quotes, exec)

	res, err := s.Run(context.Background(), []market.CandidateStock{candidate("AAPL", 10)})
	require.NoError(t, err)

	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "AAPL", res.Unresolved[0])
}

func TestRun_cancellationTearsDown(t *testing.T) {
	quotes := &scriptedQuotes{script: []map[string]float64{{"AAPL": 9.5}}}
	exec := newFakeExecutor()
	s := New(slog.Default(), testConfig(time.Hour), quotes, exec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := s.Run(ctx, []market.CandidateStock{candidate("AAPL", 10)})
	require.ErrorIs(t, err, context.Canceled)

	for _, w := range s.watches {
		assert.False(t, w.Active())
	}
}

func TestFetchQuotes_batching(t *testing.T) {
	symbols := make([]string, 25)
	script := map[string]float64{}
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%d", i)
		script[symbols[i]] = 5
	}

	quotes := &scriptedQuotes{script: []map[string]float64{script}}
	s := New(slog.Default(), Config{BatchSize: 10}, quotes, newFakeExecutor())

	merged, err := s.fetchQuotes(context.Background(), symbols)
	require.NoError(t, err)

	assert.Len(t, merged, 25)
	assert.Equal(t, 3, quotes.calls) // 10 + 10 + 5
}
