package tp

import "goldcore/internal/regime"

// MomentumState is a coarse read on trade momentum, supplied by an
// external classifier (recent ATR, bar body sizes); this package only
// consumes it.
type MomentumState string

const (
	MomentumStrong   MomentumState = "STRONG"
	MomentumModerate MomentumState = "MODERATE"
	MomentumBroken   MomentumState = "BROKEN"
)

// StructureState describes the most recent swing structure, used only by
// the Post-TP2 engine (its structure-break exit and its higher-lows hold).
type StructureState string

const (
	StructureHigherLows StructureState = "HIGHER_LOWS"
	StructureLowerLow   StructureState = "LOWER_LOW"
)

// PostDecision is the HOLD/WAIT_NEXT_BAR/EXIT_TRADE vocabulary shared by
// the Post-TP1 and Post-TP2 engines.
type PostDecision string

const (
	PostHold         PostDecision = "HOLD"
	PostWaitNextBar  PostDecision = "WAIT_NEXT_BAR"
	PostExitTrade    PostDecision = "EXIT_TRADE"
	PostNotReached   PostDecision = "NOT_REACHED"
)

// Post1Input bundles everything the Post-TP1 engine needs to decide.
type Post1Input struct {
	BarsSinceTP1         int
	ConsecutiveBarsBelow int // consecutive closed bars with close < tp1
	Momentum             MomentumState
	Regime               regime.Classification
	TP1                  float64
	CurrentPrice         float64
	Entry                float64
	ATR14                float64
}

// EvaluatePostTP1 implements the priority-ordered rule set from the
// Post-TP1 Decision Engine: first match wins.
func EvaluatePostTP1(in Post1Input) PostDecision {
	if in.BarsSinceTP1 == 0 {
		return PostHold
	}

	retrace := in.TP1 - in.CurrentPrice

	if in.ConsecutiveBarsBelow >= 2 {
		return PostExitTrade
	}
	if in.Momentum == MomentumBroken {
		return PostExitTrade
	}
	if in.Regime == regime.Range || in.Regime == regime.Bear {
		return PostExitTrade
	}
	if retrace >= 0.5*in.ATR14 {
		return PostExitTrade
	}

	if retrace <= 0.25*in.ATR14 {
		return PostHold
	}
	if in.CurrentPrice >= in.TP1 && in.Regime == regime.Bull {
		return PostHold
	}

	if in.CurrentPrice < in.TP1 && in.CurrentPrice > in.Entry && in.BarsSinceTP1 == 1 {
		return PostWaitNextBar
	}
	if (in.Momentum == MomentumStrong || in.Momentum == MomentumModerate) && in.CurrentPrice < in.TP1 {
		return PostWaitNextBar
	}

	return PostHold
}

// SuggestedSLAfterTP1 is the buffered (not exact-breakeven) stop the
// engine proposes; the caller decides whether to apply it.
func SuggestedSLAfterTP1(entry, atr14 float64) float64 {
	return entry + 0.2*atr14
}

// Post2Input bundles everything the Post-TP2 engine needs to decide.
type Post2Input struct {
	BarsSinceTP2         int
	ConsecutiveBarsBelow int
	Momentum             MomentumState
	Regime               regime.Classification
	Structure            StructureState
	TP1                  float64
	TP2                  float64
	CurrentPrice         float64
	ATR14                float64
}

// EvaluatePostTP2 implements the Post-TP2 engine: same vocabulary as
// Post-TP1, tighter thresholds because profit protection dominates.
func EvaluatePostTP2(in Post2Input) PostDecision {
	if in.BarsSinceTP2 == 0 {
		return PostHold
	}

	retrace := in.TP2 - in.CurrentPrice

	if in.Structure == StructureLowerLow {
		return PostExitTrade
	}
	if in.Momentum == MomentumBroken {
		return PostExitTrade
	}
	if in.Regime == regime.Range || in.Regime == regime.Bear {
		return PostExitTrade
	}
	if in.ConsecutiveBarsBelow >= 2 {
		return PostExitTrade
	}
	if retrace >= 0.35*in.ATR14 {
		return PostExitTrade
	}

	if in.CurrentPrice >= in.TP2 && in.Momentum == MomentumStrong && in.Regime == regime.Bull {
		return PostHold
	}
	if retrace <= 0.2*in.ATR14 {
		return PostHold
	}
	if in.Structure == StructureHigherLows {
		return PostHold
	}

	if in.Momentum == MomentumModerate {
		return PostWaitNextBar
	}
	if in.CurrentPrice < in.TP2 && in.CurrentPrice > in.TP1 {
		return PostWaitNextBar
	}

	return PostHold
}

// TrailingSLAfterTP2 implements the post-TP2 trailing formula; the
// result is never lower than the current stop.
func TrailingSLAfterTP2(currentPrice, swingLow, entry, atr14, currentSL float64) float64 {
	candidate := maxOf(currentPrice-0.3*atr14, swingLow-0.1*atr14, entry+0.1*atr14)
	if candidate < currentSL {
		return currentSL
	}
	return candidate
}
