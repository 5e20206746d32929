package watch

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientSize reports that the risk budget buys less than one share.
var ErrInsufficientSize = errors.New("position size is below one share")

// Shares converts account risk into a whole share count:
// floor((buyingPower * riskPct / 100) / entryPrice).
func Shares(buyingPower decimal.Decimal, riskPct float64, entryPrice decimal.Decimal) (int64, error) {
	if entryPrice.IsZero() || entryPrice.IsNegative() {
		return 0, errors.New("entry price must be positive")
	}

	risk := buyingPower.Mul(decimal.NewFromFloat(riskPct / 100))
	shares := risk.Div(entryPrice).IntPart()
	if shares < 1 {
		return 0, ErrInsufficientSize
	}

	return shares, nil
}
