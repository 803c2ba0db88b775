// Package backtest replays a closed bar series through the decision
// engine one bar at a time, the same way the live loop does, so a
// backtest run and a live run produce byte-identical decisions for the
// same inputs. There is no coroutine or generator machinery here, just
// an explicit loop over (bar_index, bar), matching the pipeline's
// purity guarantee.
package backtest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"goldcore/internal/bar"
	"goldcore/internal/decision"
	"goldcore/internal/risk"
)

// Step is one replayed bar's outcome.
type Step struct {
	BarIndex int
	Output   decision.Output
}

// RunConfig bundles what a replay needs beyond the engine itself.
type RunConfig struct {
	Series    bar.Series
	StartBar  int
	EndBar    int // exclusive; -1 means ClosedIndex()+1
	Direction int
	Symbol    risk.SymbolInfo
	Source    decision.Source
	// InputAt supplies the full Input for a given bar index (minus the
	// fields the runner fills in itself: BarIndex, Bar, Direction,
	// Symbol, Source). Callers that have no pattern at a given index
	// return an Input with a nil Pattern.
	InputAt func(barIndex int, view decision.BarView, account decision.AccountState) decision.Input
	Account func(barIndex int) decision.AccountState
}

// Run replays RunConfig.Series through engine from StartBar to EndBar,
// returning one Step per evaluated bar. ctx cancellation stops the
// replay after the in-flight bar finishes; the returned slice holds
// every step evaluated before cancellation.
func Run(ctx context.Context, engine decision.Engine, cfg RunConfig) ([]Step, string, error) {
	runID := uuid.NewString()

	end := cfg.EndBar
	if end < 0 {
		end = cfg.Series.ClosedIndex() + 1
	}
	if cfg.StartBar < 0 || end > len(cfg.Series.Bars) || cfg.StartBar > end {
		return nil, runID, fmt.Errorf("backtest: invalid bar range [%d,%d) for series of length %d", cfg.StartBar, end, len(cfg.Series.Bars))
	}

	steps := make([]Step, 0, end-cfg.StartBar)
	for idx := cfg.StartBar; idx < end; idx++ {
		select {
		case <-ctx.Done():
			return steps, runID, ctx.Err()
		default:
		}

		if err := bar.Validate(cfg.Series, idx); err != nil {
			return steps, runID, fmt.Errorf("backtest: bar %d failed validation: %w", idx, err)
		}

		b, _ := cfg.Series.At(idx)
		view := decision.BarView{
			Time:   b.Time,
			Open:   b.Open,
			Close:  b.Close,
			EMA50:  b.EMA50,
			EMA200: b.EMA200,
			ATR14:  b.ATR14,
		}

		account := decision.AccountState{}
		if cfg.Account != nil {
			account = cfg.Account(idx)
		}

		in := cfg.InputAt(idx, view, account)
		in.BarIndex = idx
		in.Bar = view
		in.Direction = cfg.Direction
		in.Symbol = cfg.Symbol
		in.Source = cfg.Source

		out := engine.Evaluate(in)
		steps = append(steps, Step{BarIndex: idx, Output: out})
	}

	return steps, runID, nil
}

// NewSyntheticTicket mints a backtest-only ticket ID; live tickets come
// from the broker and are never generated locally.
func NewSyntheticTicket() string {
	return "bt-" + uuid.NewString()
}
