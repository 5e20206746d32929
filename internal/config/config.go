package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Session     Session           `yaml:"session"`
	Screener    Screener          `yaml:"screener"`
	Backtest    Backtest          `yaml:"backtest"`
	Ledger      string            `yaml:"ledger"`
	Report      string            `yaml:"report"`
	PlatformRef PlatformReference `yaml:"platform"`
}

func Read(r io.Reader) (*Config, error) {
	var cfg Config
	d := yaml.NewDecoder(r)
	err := d.Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	return &cfg, nil
}

func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Session holds the trading-day parameters. Open and close are wall-clock
// times in the configured exchange timezone.
type Session struct {
	Timezone         string   `yaml:"timezone"`
	MarketOpen       string   `yaml:"market_open"`
	MarketClose      string   `yaml:"market_close"`
	OpenDelay        Duration `yaml:"open_delay"`
	PollInterval     Duration `yaml:"poll_interval"`
	HoldDuration     Duration `yaml:"hold_duration"`
	Cooldown         Duration `yaml:"cooldown"`
	MaxTradesPerDay  int      `yaml:"max_trades_per_day"`
	TargetBufferPct  float64  `yaml:"target_buffer_pct"`
	RiskPct          float64  `yaml:"risk_pct"`
	MaxPositions     int      `yaml:"max_positions"`
	QuoteBatchSize   int      `yaml:"quote_batch_size"`
	MaxQuoteFailures int      `yaml:"max_quote_failures"`
	TeardownGrace    Duration `yaml:"teardown_grace"`
}

// Window resolves the session's open and close instants for the given day.
func (s Session) Window(day time.Time) (open, close time.Time, err error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return open, close, fmt.Errorf("invalid session timezone: %w", err)
	}

	open, err = atWallClock(day, s.MarketOpen, loc)
	if err != nil {
		return open, close, fmt.Errorf("invalid market open time: %w", err)
	}

	close, err = atWallClock(day, s.MarketClose, loc)
	if err != nil {
		return open, close, fmt.Errorf("invalid market close time: %w", err)
	}

	return open, close, nil
}

func atWallClock(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}

	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

type Screener struct {
	MinPrice   float64 `yaml:"min_price"`
	MaxPrice   float64 `yaml:"max_price"`
	MinVolume  int64   `yaml:"min_volume"`
	MinDiffPct float64 `yaml:"min_diff_pct"`
	MaxDiffPct float64 `yaml:"max_diff_pct"`
	Limit      int     `yaml:"limit"`
}

type Backtest struct {
	Start          time.Time `yaml:"start"`
	End            time.Time `yaml:"end"`
	HoldBars       int       `yaml:"hold_bars"`
	WarmupBars     int       `yaml:"warmup_bars"`
	InitialBalance float64   `yaml:"initial_balance"`
	EquityPlot     string    `yaml:"equity_plot"`
}

// Duration decodes yaml scalars like "5s" or "5m" via time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// platform configs

type PlatformReference struct {
	Platform Platform
}

type Platform interface{}

type Alpaca struct {
	BaseUrl string `yaml:"base_url"`
	ApiKey  string `yaml:"api_key"`
	Secret  string `yaml:"secret"`
	Feed    string `yaml:"feed"`
	Stream  bool   `yaml:"stream"`
}

// Replay backtests against local CSV bar files instead of the broker's
// historical data API.
type Replay struct {
	Data map[string]ReplaySymbol `yaml:"data"`
}

type ReplaySymbol struct {
	Path        string  `yaml:"path"`
	PrevDayHigh float64 `yaml:"prev_day_high"`
}

func (w *PlatformReference) UnmarshalYAML(value *yaml.Node) error {
	if len(value.Content) == 0 {
		return nil
	}

	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return errors.New("invalid platform yaml format")
	}

	key := value.Content[0].Value
	switch key {
	case "alpaca":
		var alpaca Alpaca
		if err := value.Content[1].Decode(&alpaca); err != nil {
			return fmt.Errorf("failed parsing Alpaca platform config: %w", err)
		}
		w.Platform = alpaca
	case "replay":
		var replay Replay
		if err := value.Content[1].Decode(&replay); err != nil {
			return fmt.Errorf("failed parsing replay platform config: %w", err)
		}
		w.Platform = replay
	default:
		return fmt.Errorf("unknown platform type: %s", key)
	}

	return nil
}
