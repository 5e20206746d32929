package backtest

import (
	"errors"
	"fmt"
	"os"

	"github.com/pplcc/plotext"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// SaveEquityPlot renders the equity curve with a per-trade P/L panel below
// it, sharing the time axis, and writes the result as a PNG.
func SaveEquityPlot(res *Result, path string) (err error) {
	if len(res.Equity) == 0 {
		return errors.New("no equity points to plot")
	}

	equity := plot.New()
	equity.Title.Text = "Equity"
	equity.Y.Label.Text = "balance, $"
	equity.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}

	curve := make(plotter.XYs, len(res.Equity))
	for i, p := range res.Equity {
		curve[i].X = float64(p.Time.Unix())
		curve[i].Y, _ = p.Balance.Float64()
	}

	line, err := plotter.NewLine(curve)
	if err != nil {
		return fmt.Errorf("failed to build equity line: %w", err)
	}
	equity.Add(line)

	pnl := plot.New()
	pnl.Title.Text = "Trade P/L"
	pnl.Y.Label.Text = "pnl, $"
	pnl.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}

	points := make(plotter.XYs, len(res.Trades))
	for i, t := range res.Trades {
		points[i].X = float64(t.ExitTime.Unix())
		points[i].Y, _ = t.PnL.Float64()
	}

	scatter, err := plotter.NewScatter(points)
	if err != nil {
		return fmt.Errorf("failed to build pnl scatter: %w", err)
	}
	pnl.Add(scatter)

	plotext.UniteAxisRanges([]*plot.Axis{&equity.X, &pnl.X})

	tbl := plotext.Table{
		RowHeights: []float64{0.7, 0.3},
		ColWidths:  []float64{1},
	}

	img := vgimg.New(vg.Points(1200), vg.Points(600))
	dc := draw.New(img)

	canvases := tbl.Align([][]*plot.Plot{{equity}, {pnl}}, dc)
	equity.Draw(canvases[0][0])
	pnl.Draw(canvases[1][0])

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write plot to file: %w", err)
	}

	return nil
}
