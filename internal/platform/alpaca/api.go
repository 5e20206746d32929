package alpaca

import (
	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

type alpacaApi interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	GetAsset(symbol string) (*alpaca.Asset, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	GetLatestTrades(symbols []string, req marketdata.GetLatestTradeRequest) (map[string]marketdata.Trade, error)
	GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error)
	GetMostActives(req marketdata.GetMostActivesRequest) ([]marketdata.ActiveStock, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

type defaultApi struct {
	trading *alpaca.Client
	data    *marketdata.Client
}

func newDefaultApi(apiKey string, secret string, baseUrl string) *defaultApi {
	return &defaultApi{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			BaseURL:   baseUrl,
			APIKey:    apiKey,
			APISecret: secret,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: secret,
		}),
	}
}

func (a *defaultApi) GetAccount() (*alpaca.Account, error) {
	return a.trading.GetAccount()
}

func (a *defaultApi) GetPositions() ([]alpaca.Position, error) {
	return a.trading.GetPositions()
}

func (a *defaultApi) GetAsset(symbol string) (*alpaca.Asset, error) {
	return a.trading.GetAsset(symbol)
}

func (a *defaultApi) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	return a.trading.PlaceOrder(req)
}

func (a *defaultApi) GetOrder(orderID string) (*alpaca.Order, error) {
	return a.trading.GetOrder(orderID)
}

func (a *defaultApi) GetLatestTrades(symbols []string, req marketdata.GetLatestTradeRequest) (map[string]marketdata.Trade, error) {
	return a.data.GetLatestTrades(symbols, req)
}

func (a *defaultApi) GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error) {
	return a.data.GetSnapshots(symbols, req)
}

func (a *defaultApi) GetMostActives(req marketdata.GetMostActivesRequest) ([]marketdata.ActiveStock, error) {
	return a.data.GetMostActives(req)
}

func (a *defaultApi) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	return a.data.GetBars(symbol, req)
}

func (a *defaultApi) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	return a.data.GetMultiBars(symbols, req)
}
