package replay

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/config"
	"github.com/gamma-omg/breakout-bot/internal/market"
)

// Source replays local CSV bar files for backtesting without a market data
// subscription. Files follow the export format: a header row, then
// timestamp,open,high,low,close,volume with unix-second timestamps.
type Source struct {
	log  *slog.Logger
	cfg  config.Replay
	bars map[string][]market.Bar
}

func NewSource(log *slog.Logger, cfg config.Replay) (*Source, error) {
	s := &Source{
		log:  log,
		cfg:  cfg,
		bars: make(map[string][]market.Bar, len(cfg.Data)),
	}

	for sym, data := range cfg.Data {
		bars, err := readBars(data.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load replay data for %s: %w", sym, err)
		}

		sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
		s.bars[sym] = bars

		log.Info("loaded replay bars", slog.String("symbol", sym), slog.Int("count", len(bars)))
	}

	return s, nil
}

// Screen lists the symbols that have bars on the given day, using the
// configured previous day high and the day's first bar as the open.
func (s *Source) Screen(ctx context.Context, day time.Time) ([]market.CandidateStock, error) {
	symbols := make([]string, 0, len(s.bars))
	for sym := range s.bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var candidates []market.CandidateStock
	for _, sym := range symbols {
		bars := dayBars(s.bars[sym], day)
		if len(bars) == 0 {
			continue
		}

		volume := decimal.Zero
		for _, b := range bars {
			volume = volume.Add(b.Volume)
		}

		candidates = append(candidates, market.CandidateStock{
			Symbol:      sym,
			PrevDayHigh: decimal.NewFromFloat(s.cfg.Data[sym].PrevDayHigh),
			Open:        bars[0].Open,
			Volume:      volume.IntPart(),
		})
	}

	return candidates, nil
}

func (s *Source) Bars(ctx context.Context, symbol string, day time.Time) ([]market.Bar, error) {
	bars, ok := s.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown replay symbol %s", symbol)
	}

	return dayBars(bars, day), nil
}

func dayBars(bars []market.Bar, day time.Time) []market.Bar {
	y, m, d := day.UTC().Date()

	var out []market.Bar
	for _, b := range bars {
		by, bm, bd := b.Time.UTC().Date()
		if by == y && bm == m && bd == d {
			out = append(out, b)
		}
	}

	return out
}

func readBars(dataPath string) ([]market.Bar, error) {
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open bar data: %w", err)
	}
	defer f.Close()

	rdr := csv.NewReader(bufio.NewReader(f))
	if _, err := rdr.Read(); err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var bars []market.Bar
	for {
		data, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read bar data: %w", err)
		}

		timestamp, err := strconv.ParseFloat(data[0], 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bar time: %w", err)
		}

		open, err := decimal.NewFromString(data[1])
		if err != nil {
			return nil, fmt.Errorf("failed to read open price: %w", err)
		}

		high, err := decimal.NewFromString(data[2])
		if err != nil {
			return nil, fmt.Errorf("failed to read high price: %w", err)
		}

		low, err := decimal.NewFromString(data[3])
		if err != nil {
			return nil, fmt.Errorf("failed to read low price: %w", err)
		}

		close, err := decimal.NewFromString(data[4])
		if err != nil {
			return nil, fmt.Errorf("failed to read close price: %w", err)
		}

		volume, err := decimal.NewFromString(data[5])
		if err != nil {
			return nil, fmt.Errorf("failed to read volume: %w", err)
		}

		bars = append(bars, market.Bar{
			Time:   time.Unix(int64(timestamp), 0),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: volume,
		})
	}

	return bars, nil
}
