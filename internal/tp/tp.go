// Package tp implements the multi-level take-profit engine: level
// calculation, per-bar exit evaluation, and stop-loss management across
// the IN_TRADE -> TP1_REACHED -> TP2_REACHED -> EXITED lifecycle.
package tp

// State is a position's progress through the take-profit ladder.
type State string

const (
	InTrade     State = "IN_TRADE"
	TP1Reached  State = "TP1_REACHED"
	TP2Reached  State = "TP2_REACHED"
	Exited      State = "EXITED"
)

// Fixed ratios the engine uses for TP1/TP2; TP3 uses the configured
// risk-reward ratio and is clamped down if it would invert ordering.
const (
	DefaultTP1RR = 1.4
	DefaultTP2RR = 1.8
)

// Levels is the set of computed take-profit prices for a position.
type Levels struct {
	TP1  float64
	TP2  float64
	TP3  float64
	Risk float64
}

// CalculateTPLevels computes TP1/TP2/TP3 from entry/stop-loss and the
// configured reward ratio. direction is +1 for long (the only supported
// direction in this core). Returns ok=false if risk is non-positive or
// the resulting levels fail the monotonicity assertion.
func CalculateTPLevels(entry, stopLoss, rr float64, direction int) (Levels, bool) {
	riskPerUnit := entry - stopLoss
	if direction < 0 {
		riskPerUnit = stopLoss - entry
	}
	if riskPerUnit <= 0 {
		return Levels{}, false
	}

	d := float64(direction)
	tp1 := entry + d*riskPerUnit*DefaultTP1RR
	tp2 := entry + d*riskPerUnit*DefaultTP2RR
	tp3Config := entry + d*riskPerUnit*rr

	var tp3 float64
	degenerate := false
	if direction >= 0 {
		if tp3Config > tp2 {
			tp3 = tp3Config
		} else {
			tp3 = minOf(tp3Config, tp1, tp2)
			degenerate = true
		}
		if !(tp1 < tp2) {
			return Levels{}, false
		}
		if !degenerate && !(tp2 < tp3) {
			return Levels{}, false
		}
		if degenerate && !(tp3 <= tp1) {
			return Levels{}, false
		}
	} else {
		if tp3Config < tp2 {
			tp3 = tp3Config
		} else {
			tp3 = maxOf(tp3Config, tp1, tp2)
			degenerate = true
		}
		if !(tp1 > tp2) {
			return Levels{}, false
		}
		if !degenerate && !(tp2 > tp3) {
			return Levels{}, false
		}
		if degenerate && !(tp3 >= tp1) {
			return Levels{}, false
		}
	}

	return Levels{TP1: tp1, TP2: tp2, TP3: tp3, Risk: riskPerUnit}, true
}

func minOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// ExitDecision is the outcome of evaluating a closed bar's price against
// a position's current TP levels and state.
type ExitDecision struct {
	ShouldExit bool
	Reason     string
	NewState   State
}

// EvaluateExit implements the TP state machine's per-bar transition
// logic. It never acts unless barCloseConfirmed is true: TP logic and
// the core's own SL check are both bar-close-only.
func EvaluateExit(price, entry, stopLoss float64, state State, levels Levels, direction int, barCloseConfirmed bool,
	post1 func() (ExitDecision, bool), post2 func() (ExitDecision, bool)) ExitDecision {

	if !barCloseConfirmed {
		return ExitDecision{ShouldExit: false, Reason: "waiting for bar close", NewState: state}
	}

	if direction >= 0 {
		if price <= stopLoss {
			return ExitDecision{ShouldExit: true, Reason: "Stop Loss", NewState: Exited}
		}
		if price >= levels.TP3 {
			return ExitDecision{ShouldExit: true, Reason: "TP3 Exit", NewState: Exited}
		}
	} else {
		if price >= stopLoss {
			return ExitDecision{ShouldExit: true, Reason: "Stop Loss", NewState: Exited}
		}
		if price <= levels.TP3 {
			return ExitDecision{ShouldExit: true, Reason: "TP3 Exit", NewState: Exited}
		}
	}

	switch state {
	case InTrade:
		if crossedFavorably(price, levels.TP1, direction) {
			return ExitDecision{ShouldExit: false, Reason: "TP1 reached", NewState: TP1Reached}
		}
		return ExitDecision{ShouldExit: false, Reason: "holding for TP1", NewState: state}
	case TP1Reached:
		if crossedFavorably(price, levels.TP2, direction) {
			return ExitDecision{ShouldExit: false, Reason: "TP2 reached", NewState: TP2Reached}
		}
		if post1 != nil {
			if d, handled := post1(); handled {
				return d
			}
		}
		return ExitDecision{ShouldExit: false, Reason: "holding after TP1", NewState: state}
	case TP2Reached:
		if crossedFavorably(price, levels.TP3, direction) {
			return ExitDecision{ShouldExit: true, Reason: "TP3 Exit", NewState: Exited}
		}
		if post2 != nil {
			if d, handled := post2(); handled {
				return d
			}
		}
		return ExitDecision{ShouldExit: false, Reason: "holding after TP2", NewState: state}
	case Exited:
		return ExitDecision{ShouldExit: false, Reason: "already exited", NewState: Exited}
	}
	return ExitDecision{ShouldExit: false, Reason: "unreachable state", NewState: state}
}

func crossedFavorably(price, level float64, direction int) bool {
	if direction >= 0 {
		return price >= level
	}
	return price <= level
}

// CalculateNewStopLoss returns the new stop-loss to apply on a state
// transition. On TP1_REACHED it returns entry (breakeven) without
// comparing against currentSL; on TP2_REACHED it never returns a stop
// looser than currentSL. Store.UpdateTPState separately refuses to lower
// a long position's stop.
func CalculateNewStopLoss(price, entry float64, newState State, direction int, trailingOffset, currentSL float64) float64 {
	d := float64(direction)
	switch newState {
	case TP1Reached:
		return entry
	case TP2Reached:
		candidate := price - d*trailingOffset
		if direction >= 0 {
			if candidate > currentSL {
				return candidate
			}
			return currentSL
		}
		if candidate < currentSL {
			return candidate
		}
		return currentSL
	default:
		return currentSL
	}
}
