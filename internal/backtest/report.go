package backtest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

type JsonReport struct {
	InitialBalance string      `json:"initial_balance"`
	FinalBalance   string      `json:"final_balance"`
	TotalReturnPct float64     `json:"total_return_pct"`
	TotalTrades    int         `json:"total_trades"`
	WinningTrades  int         `json:"winning_trades"`
	LosingTrades   int         `json:"losing_trades"`
	WinRate        float64     `json:"win_rate"`
	TotalPnL       string      `json:"total_pnl"`
	AvgPnLPerTrade string      `json:"avg_pnl_per_trade,omitempty"`
	MaxDrawdownPct float64     `json:"max_drawdown_pct"`
	Trades         []JsonTrade `json:"trades,omitempty"`
}

type JsonTrade struct {
	Symbol     string    `json:"symbol"`
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice string    `json:"entry_price"`
	ExitTime   time.Time `json:"exit_time"`
	ExitPrice  string    `json:"exit_price"`
	Target     string    `json:"target_price"`
	Shares     int64     `json:"shares"`
	PnL        string    `json:"pnl"`
	PnLPercent float64   `json:"pnl_pct"`
}

func buildReport(res *Result) JsonReport {
	report := JsonReport{
		InitialBalance: res.InitialBalance.String(),
		FinalBalance:   res.FinalBalance.String(),
		TotalReturnPct: res.TotalReturnPct,
		TotalTrades:    len(res.Trades),
		WinningTrades:  res.Wins,
		LosingTrades:   res.Losses,
		WinRate:        res.WinRate,
		TotalPnL:       res.TotalPnL.String(),
		MaxDrawdownPct: res.MaxDrawdownPct,
	}

	if len(res.Trades) > 0 {
		report.AvgPnLPerTrade = res.AvgPnLPerTrade.String()
	}

	for _, t := range res.Trades {
		report.Trades = append(report.Trades, JsonTrade{
			Symbol:     t.Symbol,
			EntryTime:  t.EntryTime,
			EntryPrice: t.EntryPrice.String(),
			ExitTime:   t.ExitTime,
			ExitPrice:  t.ExitPrice.String(),
			Target:     t.TargetPrice.String(),
			Shares:     t.Shares,
			PnL:        t.PnL.String(),
			PnLPercent: t.PnLPercent,
		})
	}

	return report
}

func WriteReport(w io.Writer, res *Result) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	if err := e.Encode(buildReport(res)); err != nil {
		return fmt.Errorf("failed to write backtest report: %w", err)
	}

	return nil
}

func WriteReportToFile(path string, res *Result) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return WriteReport(f, res)
}
