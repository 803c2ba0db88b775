// Package bar models the OHLC bar series consumed by the decision pipeline
// and enforces the closed-bar-only discipline the rest of the core depends on.
package bar

import (
	"fmt"
	"math"
	"time"
)

// Bar is a single OHLC candle with the derived indicator columns the core
// reads but never computes (EMA/ATR math is an external collaborator).
type Bar struct {
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume int64

	EMA50  float64
	EMA200 float64
	ATR14  float64
}

func (b Bar) finite() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.EMA50, b.EMA200, b.ATR14} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Series is an ordered, monotonically-increasing-by-time sequence of bars.
// The last element may be a currently-forming bar; the core never reads it
// directly except through ClosedIndex.
type Series struct {
	Bars []Bar
}

// ClosedIndex returns the index of the last fully-closed bar: len-2 by
// convention, since the final element may still be forming.
func (s Series) ClosedIndex() int {
	return len(s.Bars) - 2
}

// At returns the bar at idx, supporting the -1-means-last convention used
// by the decision engine when replaying history.
func (s Series) At(idx int) (Bar, bool) {
	if idx < 0 {
		idx = len(s.Bars) - 1
	}
	if idx < 0 || idx >= len(s.Bars) {
		return Bar{}, false
	}
	return s.Bars[idx], true
}

// Validate runs the mandatory, always-on checks from the bar-close guard:
// series length, index range, OHLC integrity.
func Validate(s Series, barIndex int) error {
	if len(s.Bars) < 2 {
		return fmt.Errorf("bar series too short: have %d bars, need >= 2", len(s.Bars))
	}
	idx := barIndex
	if idx < 0 {
		idx = len(s.Bars) - 1
	}
	if idx < 0 || idx >= len(s.Bars) {
		return fmt.Errorf("bar index %d out of range [0,%d)", barIndex, len(s.Bars))
	}
	b := s.Bars[idx]
	if !b.finite() {
		return fmt.Errorf("bar at index %d has a non-finite field", idx)
	}
	if b.Low > b.Open || b.Low > b.Close || b.Low > b.High {
		return fmt.Errorf("bar at index %d violates low <= open,close,high", idx)
	}
	if b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("bar at index %d violates high >= open,close", idx)
	}
	return nil
}

// IsClosed reports whether a bar opened at b.Time for a timeframe of
// length tf is considered closed at wall-clock time now. Equality closes
// the bar; strict inequality is not required.
func IsClosed(b Bar, now time.Time, tf time.Duration) bool {
	return !now.Before(b.Time.Add(tf))
}
