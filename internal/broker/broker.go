// Package broker defines the narrow port the core uses to talk to the
// MT5-style execution backend. The only implementation in this repo is
// NoopBridge (noop.go), which connects to nothing; a real broker bridge is
// a deployment concern outside this core.
package broker

import (
	"context"
	"errors"
	"time"

	"goldcore/internal/bar"
)

// Side is the order side; this core only ever submits Buy.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// SymbolInfo mirrors the broker-reported contract/tick economics.
type SymbolInfo struct {
	Point        float64
	TickSize     float64
	TickValue    float64
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
	ContractSize float64
	Digits       int
	Spread       float64
}

// AccountInfo mirrors the broker-reported account state.
type AccountInfo struct {
	Login       string
	Server      string
	Balance     float64
	Equity      float64
	Margin      float64
	FreeMargin  float64
	Currency    string
	Leverage    float64
	TradeMode   string // used by the bridge to classify demo vs live
}

// IsLive reports whether the account is classified as a live trading
// account. The core only ever receives this classification; it never
// inspects TradeMode itself beyond this helper.
func (a AccountInfo) IsLive() bool {
	return a.TradeMode == "real" || a.TradeMode == "live"
}

// OpenPositionView is the broker-reported shape of a currently open
// position, used to reconcile against the Position Store.
type OpenPositionView struct {
	Ticket       string
	PriceOpen    float64
	PriceCurrent float64
	SL, TP       float64
	Volume       float64
	Profit       float64
	Swap         float64
}

// OrderResult is returned by a successful market order submission.
type OrderResult struct {
	Ticket     string
	FillPrice  float64
	Timestamp  time.Time
}

// ErrorCategory classifies a broker error for the retry/escalation
// policy described in the error handling design.
type ErrorCategory string

const (
	IPCSendFailed  ErrorCategory = "IPC_SEND_FAILED" // retryable with backoff
	InvalidStops   ErrorCategory = "INVALID_STOPS"
	Rejected       ErrorCategory = "REJECTED"
	NotEnoughMoney ErrorCategory = "NOT_ENOUGH_MONEY"
	MarketClosed   ErrorCategory = "MARKET_CLOSED"
	OtherError     ErrorCategory = "OTHER"
)

// Error wraps a broker failure with its category so callers can apply
// the right retry/escalation policy without string-matching messages.
type Error struct {
	Category ErrorCategory
	Err      error
}

func (e *Error) Error() string {
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the controller should retry with backoff
// before escalating to ConnectionLost.
func (e *Error) Retryable() bool {
	return e.Category == IPCSendFailed
}

// ErrNoTick is returned by GetCurrentTick when no tick is available,
// distinct from a transport error.
var ErrNoTick = errors.New("no current tick available")

// Bridge is the full narrow port: connect/disconnect, market data reads,
// and order submission. Apart from NoopBridge, implementations live
// outside this repo; this core only depends on the interface.
type Bridge interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	GetBars(ctx context.Context, count int) (bar.Series, error)
	GetSymbolInfo(ctx context.Context) (SymbolInfo, error)
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
	GetCurrentTick(ctx context.Context) (bid float64, err error) // err wraps ErrNoTick when none
	GetOpenPositions(ctx context.Context) ([]OpenPositionView, error)

	SubmitMarketOrder(ctx context.Context, side Side, volume, sl, tp float64, comment string) (OrderResult, error)
	ClosePosition(ctx context.Context, ticket string, price *float64) error
}
