package market

import "errors"

// Broker and quote failures surfaced to the trading core. Callers match
// with errors.Is and decide whether the condition is recoverable.
var (
	ErrQuoteUnavailable  = errors.New("quote unavailable")
	ErrInsufficientFunds = errors.New("insufficient buying power")
	ErrSymbolNotTradable = errors.New("symbol is not tradable")
	ErrOrderSubmission   = errors.New("order submission failed")
)
