package alpaca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/gamma-omg/breakout-bot/internal/config"
	"github.com/gamma-omg/breakout-bot/internal/market"
)

const fillTimeout = 5 * time.Second

// Platform is the live Alpaca gateway: account state, market orders and
// latest trade prices. Screening for breakout candidates lives here too
// since it reads the same snapshot API.
type Platform struct {
	log      *slog.Logger
	cfg      config.Alpaca
	screener config.Screener
	api      alpacaApi
}

func NewPlatform(log *slog.Logger, cfg config.Alpaca, screener config.Screener) (*Platform, error) {
	return newPlatformWithApi(log, cfg, screener, newDefaultApi(cfg.ApiKey, cfg.Secret, cfg.BaseUrl))
}

func newPlatformWithApi(log *slog.Logger, cfg config.Alpaca, screener config.Screener, api alpacaApi) (*Platform, error) {
	if _, err := api.GetAccount(); err != nil {
		return nil, fmt.Errorf("failed to reach alpaca account: %w", err)
	}

	return &Platform{
		log:      log,
		cfg:      cfg,
		screener: screener,
		api:      api,
	}, nil
}

func (p *Platform) GetAccount(ctx context.Context) (a market.Account, err error) {
	acc, err := p.api.GetAccount()
	if err != nil {
		err = fmt.Errorf("failed to get alpaca account: %w", err)
		return
	}

	a = market.Account{
		BuyingPower: acc.BuyingPower,
		Equity:      acc.Equity,
	}
	return
}

func (p *Platform) GetPositions(ctx context.Context) (held []market.HeldPosition, err error) {
	positions, err := p.api.GetPositions()
	if err != nil {
		err = fmt.Errorf("failed to get alpaca positions: %w", err)
		return
	}

	held = make([]market.HeldPosition, 0, len(positions))
	for _, pos := range positions {
		held = append(held, market.HeldPosition{
			Symbol: pos.Symbol,
			Shares: pos.Qty,
		})
	}
	return
}

// PlaceMarketOrder submits a market order and blocks until the order fills
// or the fill timeout expires.
func (p *Platform) PlaceMarketOrder(ctx context.Context, symbol string, shares int64, side market.OrderSide) (c market.OrderConfirmation, err error) {
	if side == market.Buy {
		asset, aerr := p.api.GetAsset(symbol)
		if aerr != nil {
			err = fmt.Errorf("failed to look up asset %s: %w", symbol, aerr)
			return
		}
		if !asset.Tradable {
			err = fmt.Errorf("%w: %s", market.ErrSymbolNotTradable, symbol)
			return
		}
	}

	qty := decimal.NewFromInt(shares)
	ord, err := p.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &qty,
		Side:        orderSide(side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		err = p.mapOrderError(symbol, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, fillTimeout)
	defer cancel()

	ord, err = p.waitFillOrder(ctx, ord)
	if err != nil {
		err = fmt.Errorf("failed to fill %s order for %s: %w", side, symbol, err)
		return
	}

	c = market.OrderConfirmation{
		ID:             ord.ID,
		Symbol:         symbol,
		Side:           side,
		Shares:         ord.FilledQty,
		FilledAvgPrice: *ord.FilledAvgPrice,
		FilledAt:       *ord.FilledAt,
	}
	return
}

// Latest returns the most recent trade price for each symbol. Symbols with
// no trade data are left out of the result.
func (p *Platform) Latest(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	trades, err := p.api.GetLatestTrades(symbols, marketdata.GetLatestTradeRequest{
		Feed: marketdata.Feed(p.cfg.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest trades: %w", err)
	}

	quotes := make(map[string]market.Quote, len(trades))
	for sym, t := range trades {
		quotes[sym] = market.Quote{
			Price: decimal.NewFromFloat(t.Price),
			Time:  t.Timestamp,
		}
	}

	return quotes, nil
}

// Screen finds today's breakout candidates: high-volume stocks that opened
// below their previous day's high within the configured distance band.
func (p *Platform) Screen(ctx context.Context) ([]market.CandidateStock, error) {
	actives, err := p.api.GetMostActives(marketdata.GetMostActivesRequest{
		By:          "volume",
		TotalNumber: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get most active stocks: %w", err)
	}

	symbols := make([]string, 0, len(actives))
	for _, a := range actives {
		symbols = append(symbols, a.Symbol)
	}

	snapshots, err := p.api.GetSnapshots(symbols, marketdata.GetSnapshotRequest{
		Feed: marketdata.Feed(p.cfg.Feed),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}

	type scored struct {
		candidate market.CandidateStock
		diffPct   float64
	}

	var picks []scored
	for _, sym := range symbols {
		snap := snapshots[sym]
		if snap == nil || snap.DailyBar == nil || snap.PrevDailyBar == nil {
			continue
		}

		price := snap.DailyBar.Close
		if snap.LatestTrade != nil {
			price = snap.LatestTrade.Price
		}

		open := snap.DailyBar.Open
		prevHigh := snap.PrevDailyBar.High
		volume := int64(snap.DailyBar.Volume)

		diffPct, ok := screenCheck(p.screener, price, open, prevHigh, volume)
		if !ok {
			continue
		}

		picks = append(picks, scored{
			candidate: market.CandidateStock{
				Symbol:      sym,
				PrevDayHigh: decimal.NewFromFloat(prevHigh),
				Open:        decimal.NewFromFloat(open),
				Volume:      volume,
			},
			diffPct: diffPct,
		})
	}

	// closest to the previous high first, those are nearest to crossing
	sort.Slice(picks, func(i, j int) bool { return picks[i].diffPct < picks[j].diffPct })

	if p.screener.Limit > 0 && len(picks) > p.screener.Limit {
		picks = picks[:p.screener.Limit]
	}

	candidates := make([]market.CandidateStock, len(picks))
	for i, s := range picks {
		candidates[i] = s.candidate
	}

	p.log.Info("screened breakout candidates", slog.Int("count", len(candidates)))
	return candidates, nil
}

// screenCheck applies the candidate filters and reports how far below the
// previous day's high the stock opened.
func screenCheck(cfg config.Screener, price, open, prevHigh float64, volume int64) (diffPct float64, ok bool) {
	if prevHigh <= 0 || open >= prevHigh {
		return 0, false
	}

	diffPct = (prevHigh - open) / prevHigh * 100
	if diffPct < cfg.MinDiffPct || diffPct > cfg.MaxDiffPct {
		return 0, false
	}
	if price < cfg.MinPrice || price > cfg.MaxPrice {
		return 0, false
	}
	if volume < cfg.MinVolume {
		return 0, false
	}

	return diffPct, true
}

func (p *Platform) mapOrderError(symbol string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 40310000 {
		return fmt.Errorf("%w: %s", market.ErrInsufficientFunds, apiErr.Message)
	}

	return fmt.Errorf("%w for %s: %v", market.ErrOrderSubmission, symbol, err)
}

func (p *Platform) waitFillOrder(ctx context.Context, o *alpaca.Order) (*alpaca.Order, error) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			order, err := p.api.GetOrder(o.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to update order state: %w", err)
			}

			if order.FilledAt != nil {
				return order, nil
			}
		}
	}
}

func orderSide(side market.OrderSide) alpaca.Side {
	if side == market.Sell {
		return alpaca.Sell
	}

	return alpaca.Buy
}
