package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/config"
	"github.com/gamma-omg/breakout-bot/internal/market"
)

const (
	streamBackoffMin = time.Second
	streamBackoffMax = 30 * time.Second
	streamMaxRetries = 5
)

type streamClient interface {
	Connect(ctx context.Context) error
	Terminated() <-chan error
}

type streamDialer func(onTrade func(t stream.Trade)) streamClient

// Stream caches the last trade price per symbol from the Alpaca websocket
// feed. Latest reads the cache, so quote polling stays cheap while the
// connection is up. Dropped connections are redialed with backoff, and the
// cache is discarded across reconnects so an outage cannot serve stale
// prices.
type Stream struct {
	log     *slog.Logger
	cfg     config.Alpaca
	symbols []string
	dial    streamDialer

	backoffMin time.Duration
	backoffMax time.Duration
	maxRetries int

	mu        sync.RWMutex
	quotes    map[string]market.Quote
	connected atomic.Bool
}

func NewStream(log *slog.Logger, cfg config.Alpaca, symbols []string) *Stream {
	s := &Stream{
		log:        log,
		cfg:        cfg,
		symbols:    symbols,
		backoffMin: streamBackoffMin,
		backoffMax: streamBackoffMax,
		maxRetries: streamMaxRetries,
		quotes:     make(map[string]market.Quote),
	}
	s.dial = func(onTrade func(t stream.Trade)) streamClient {
		return stream.NewStocksClient(marketdata.Feed(cfg.Feed),
			stream.WithCredentials(cfg.ApiKey, cfg.Secret),
			stream.WithLogger(stream.DefaultLogger()),
			stream.WithTrades(onTrade, symbols...))
	}

	return s
}

// Run keeps the trade stream connected until the context is cancelled,
// redialing with exponential backoff after a drop. It gives up after
// maxRetries attempts in a row that never reach a connection.
func (s *Stream) Run(ctx context.Context) error {
	backoff := s.backoffMin
	retries := 0

	for {
		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if connected {
			backoff = s.backoffMin
			retries = 0
		}

		retries++
		if retries > s.maxRetries {
			return fmt.Errorf("trade stream unreachable after %d attempts: %w", s.maxRetries, err)
		}

		s.log.Warn("trade stream lost, reconnecting",
			slog.Duration("backoff", backoff),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(2*backoff, s.backoffMax)
	}
}

// runOnce dials one connection and blocks until it terminates. It reports
// whether the connection was ever established.
func (s *Stream) runOnce(ctx context.Context) (bool, error) {
	s.mu.Lock()
	s.quotes = make(map[string]market.Quote)
	s.mu.Unlock()

	c := s.dial(s.onTrade)
	if err := c.Connect(ctx); err != nil {
		return false, fmt.Errorf("failed to connect trade stream: %w", err)
	}

	s.connected.Store(true)
	defer s.connected.Store(false)

	s.log.Info("trade stream connected", slog.Int("symbols", len(s.symbols)))

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case err := <-c.Terminated():
		return true, fmt.Errorf("trade stream terminated: %w", err)
	}
}

// Latest returns the cached price for each symbol that has traded since the
// stream connected. It fails while the stream is down so the caller can tell
// a quiet market from a dead feed.
func (s *Stream) Latest(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	if !s.connected.Load() {
		return nil, fmt.Errorf("%w: trade stream disconnected", market.ErrQuoteUnavailable)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make(map[string]market.Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := s.quotes[sym]; ok {
			quotes[sym] = q
		}
	}

	return quotes, nil
}

func (s *Stream) onTrade(t stream.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotes[t.Symbol] = market.Quote{
		Price: decimal.NewFromFloat(t.Price),
		Time:  t.Timestamp,
	}
}
