package broker

import (
	"context"

	"goldcore/internal/bar"
)

// NoopBridge is a placeholder Bridge that reports itself permanently
// disconnected. Broker bridge internals are out of scope for this core;
// wiring a real MT5/IPC bridge behind the Bridge interface is left to
// the deployment that embeds this package. NoopBridge exists so the
// headless CLI has something to construct and run against in the
// meantime, in a clearly inert state rather than a nil pointer.
type NoopBridge struct{}

func (NoopBridge) Connect(ctx context.Context) error {
	return &Error{Category: OtherError, Err: ErrNoTick}
}

func (NoopBridge) Disconnect(ctx context.Context) error { return nil }

func (NoopBridge) GetBars(ctx context.Context, count int) (bar.Series, error) {
	return bar.Series{}, &Error{Category: OtherError, Err: ErrNoTick}
}

func (NoopBridge) GetSymbolInfo(ctx context.Context) (SymbolInfo, error) {
	return SymbolInfo{}, &Error{Category: OtherError, Err: ErrNoTick}
}

func (NoopBridge) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	return AccountInfo{}, &Error{Category: OtherError, Err: ErrNoTick}
}

func (NoopBridge) GetCurrentTick(ctx context.Context) (float64, error) {
	return 0, ErrNoTick
}

func (NoopBridge) GetOpenPositions(ctx context.Context) ([]OpenPositionView, error) {
	return nil, nil
}

func (NoopBridge) SubmitMarketOrder(ctx context.Context, side Side, volume, sl, tp float64, comment string) (OrderResult, error) {
	return OrderResult{}, &Error{Category: OtherError, Err: ErrNoTick}
}

func (NoopBridge) ClosePosition(ctx context.Context, ticket string, price *float64) error {
	return &Error{Category: OtherError, Err: ErrNoTick}
}
