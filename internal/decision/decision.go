// Package decision implements the eight-stage, side-effect-free pipeline
// that turns a bar, an optional pattern, account state, and symbol info
// into a DecisionOutput. The engine is pure: the same inputs always
// produce the same output, and it never mutates anything it is handed.
package decision

import (
	"time"

	"goldcore/internal/pattern"
	"goldcore/internal/regime"
	"goldcore/internal/risk"
)

// Stage names a pipeline stage, in strict evaluation order.
type Stage string

const (
	StagePatternDetection    Stage = "PATTERN_DETECTION"
	StagePatternQuality      Stage = "PATTERN_QUALITY"
	StageBreakoutConfirm     Stage = "BREAKOUT_CONFIRMATION"
	StageTrendFilter         Stage = "TREND_FILTER"
	StageMomentumFilter      Stage = "MOMENTUM_FILTER"
	StageQualityGate         Stage = "QUALITY_GATE"
	StageExecutionGuards     Stage = "EXECUTION_GUARDS"
	StageRiskModel           Stage = "RISK_MODEL"
)

// FailCode names why a stage rejected the bar.
type FailCode string

const (
	FailPatternNotPresent   FailCode = "PATTERN_NOT_PRESENT"
	FailPatternQuality      FailCode = "PATTERN_QUALITY_FAIL"
	FailNoBreakoutClose     FailCode = "NO_BREAKOUT_CLOSE"
	FailTrendFilterBlock    FailCode = "TREND_FILTER_BLOCK"
	FailMomentumTooWeak     FailCode = "MOMENTUM_TOO_WEAK"
	FailQualityScoreTooLow  FailCode = "QUALITY_SCORE_TOO_LOW"
	FailExecutionGuardBlock FailCode = "EXECUTION_GUARD_BLOCK"
	FailRiskModelFail       FailCode = "RISK_MODEL_FAIL"
	FailShortNotSupported   FailCode = "SHORT_NOT_SUPPORTED"
)

// Result is the top-level TRADE_ALLOWED / NO_TRADE verdict.
type Result string

const (
	TradeAllowed Result = "TRADE_ALLOWED"
	NoTrade      Result = "NO_TRADE"
)

// Source identifies where a decision was produced, for provenance only.
type Source string

const (
	SourceLive     Source = "Live"
	SourceBacktest Source = "Backtest"
	SourceReplay   Source = "Replay"
)

// AccountState is the subset of account/session state the pipeline reads.
type AccountState struct {
	Equity            float64
	OpenPositionCount int
	LastTradeBar      int
}

// BarView is the minimal bar shape the pipeline consumes; callers project
// their bar.Series element into this to keep the engine decoupled from
// the bar package's series-replay concerns.
type BarView struct {
	Time   time.Time
	Open   float64
	Close  float64
	EMA50  float64
	EMA200 float64
	ATR14  float64
}

// Config carries every threshold the pipeline needs, sourced from the
// strategy/risk configuration blocks.
type Config struct {
	MinBarsBetween        int
	AtrMultiplierStop     float64
	RiskRewardRatioLong   float64
	MomentumATRThreshold  float64
	EnableMomentumFilter  bool
	QualityScoreThreshold *float64
	CooldownBars          int
	PyramidingLimit       int
	ATRMin                float64
	Risk                  risk.Model
}

// Input bundles everything a single Evaluate call needs.
type Input struct {
	BarIndex  int
	Bar       BarView
	Pattern   *pattern.Pattern
	Account   AccountState
	Direction int // +1 long; anything else is rejected as unsupported
	Symbol    risk.SymbolInfo
	Source    Source
}

// QualityBreakdown is the component scoring behind EntryQualityScore.
type QualityBreakdown struct {
	Pattern  float64
	Regime   float64
	Momentum float64
}

// Output is the pure value the pipeline produces.
type Output struct {
	Decision Result
	Stage    Stage
	FailCode FailCode
	Reason   string
	Required string
	Actual   string

	PlannedEntry       float64
	PlannedSL          float64
	PlannedTP1         float64
	PlannedTP2         float64
	PlannedTP3         float64
	CalculatedRiskCash float64
	RRRatio            float64
	PositionSize       float64

	EntryQualityScore float64
	QualityBreakdown  QualityBreakdown

	UsingClosedBar      bool
	TickNoiseFilterPass bool
	AntiFOMOPass        bool

	DecisionTimestamp time.Time
	DecisionSource    Source
}

func reject(stage Stage, code FailCode, reason, required, actual string, in Input) Output {
	return Output{
		Decision:          NoTrade,
		Stage:             stage,
		FailCode:          code,
		Reason:            reason,
		Required:          required,
		Actual:            actual,
		UsingClosedBar:    true,
		DecisionTimestamp: in.Bar.Time,
		DecisionSource:    in.Source,
	}
}

// Engine evaluates the eight-stage pipeline. It holds no state between
// calls; Config is read-only configuration, not mutable state.
type Engine struct {
	Config Config
}

// Evaluate runs the pipeline in strict first-fail order.
func (e Engine) Evaluate(in Input) Output {
	if in.Direction != 1 {
		return reject(StagePatternDetection, FailShortNotSupported,
			"only long trades are supported", "direction=+1", "direction=-1 or other", in)
	}

	if in.Pattern == nil {
		return reject(StagePatternDetection, FailPatternNotPresent,
			"no pattern detected on this bar", "pattern present", "pattern=none", in)
	}
	p := *in.Pattern

	if p.LeftLow.Price <= 0 || p.RightLow.Price <= 0 {
		return reject(StagePatternQuality, FailPatternQuality,
			"pivot low prices must be strictly positive",
			"left_low>0 and right_low>0", "a non-positive low price", in)
	}
	spacing := p.RightLow.BarIndex - p.LeftLow.BarIndex
	if spacing < e.Config.MinBarsBetween {
		return reject(StagePatternQuality, FailPatternQuality,
			"pivots are too close together",
			intStr(e.Config.MinBarsBetween)+" bars minimum", intStr(spacing)+" bars", in)
	}

	if in.Bar.Close <= p.Neckline {
		return reject(StageBreakoutConfirm, FailNoBreakoutClose,
			"close did not break above the neckline",
			"close > neckline", "close <= neckline", in)
	}

	if !(in.Bar.Close > in.Bar.EMA50 && in.Bar.EMA50 > in.Bar.EMA200) {
		return reject(StageTrendFilter, FailTrendFilterBlock,
			"trend filter requires close > ema50 > ema200",
			"close > ema50 > ema200", "trend ordering not satisfied", in)
	}

	if e.Config.EnableMomentumFilter {
		if in.Bar.ATR14 <= 0 {
			return reject(StageMomentumFilter, FailMomentumTooWeak,
				"ATR must be positive to evaluate momentum", "atr14 > 0", "atr14 <= 0", in)
		}
		body := in.Bar.Close - in.Bar.Open
		if body < 0 {
			body = -body
		}
		threshold := in.Bar.ATR14 * e.Config.MomentumATRThreshold
		if body < threshold {
			return reject(StageMomentumFilter, FailMomentumTooWeak,
				"candle body did not clear the momentum threshold",
				"|close-open| >= atr14*threshold", "|close-open| < atr14*threshold", in)
		}
	}

	if e.Config.QualityScoreThreshold != nil && p.QualityScore != nil {
		if *p.QualityScore < *e.Config.QualityScoreThreshold {
			return reject(StageQualityGate, FailQualityScoreTooLow,
				"pattern quality score below configured threshold",
				">= threshold", "below threshold", in)
		}
	}

	barsSinceLastTrade := in.BarIndex - in.Account.LastTradeBar
	if barsSinceLastTrade < e.Config.CooldownBars {
		return reject(StageExecutionGuards, FailExecutionGuardBlock,
			"cooldown has not elapsed",
			">= "+intStr(e.Config.CooldownBars)+" bars since last trade",
			intStr(barsSinceLastTrade)+" < "+intStr(e.Config.CooldownBars), in)
	}
	if in.Account.OpenPositionCount >= e.Config.PyramidingLimit {
		return reject(StageExecutionGuards, FailExecutionGuardBlock,
			"pyramiding limit reached",
			"open_positions < "+intStr(e.Config.PyramidingLimit),
			intStr(in.Account.OpenPositionCount)+" open positions", in)
	}

	if in.Bar.ATR14 <= e.Config.ATRMin {
		return reject(StageRiskModel, FailRiskModelFail,
			"ATR is below the minimum sane value",
			"atr14 > "+floatStr(e.Config.ATRMin), "atr14="+floatStr(in.Bar.ATR14), in)
	}
	stopDistance := in.Bar.ATR14 * e.Config.AtrMultiplierStop
	if stopDistance <= 0 || stopDistance > 0.10*in.Bar.Close {
		return reject(StageRiskModel, FailRiskModelFail,
			"stop distance out of bounds",
			"0 < stop_distance <= 10% of close", "stop_distance="+floatStr(stopDistance), in)
	}
	if in.Account.Equity <= 0 {
		return reject(StageRiskModel, FailRiskModelFail,
			"account equity must be positive", "equity > 0", "equity<=0", in)
	}

	entry := in.Bar.Close
	sl := entry - stopDistance

	size, ok := e.Config.Risk.Size(in.Account.Equity, entry, sl, in.Symbol)
	if !ok || size <= 0 {
		return reject(StageRiskModel, FailRiskModelFail,
			"risk model could not size a valid position",
			"position_size > 0", "position sizing failed", in)
	}

	rr := e.Config.RiskRewardRatioLong
	tp1 := entry + stopDistance*rr*0.5
	tp2 := entry + stopDistance*rr*0.75
	tp3 := entry + stopDistance*rr

	riskCash := stopDistance*size*in.Symbol.ContractSize + 2*e.Config.Risk.CommissionPerLot*size

	breakdown := qualityBreakdown(p, in.Bar)
	score := round1(breakdown.Pattern*0.3 + breakdown.Regime*0.4 + breakdown.Momentum*0.3)

	return Output{
		Decision: TradeAllowed,
		Stage:    StageRiskModel,

		PlannedEntry:       entry,
		PlannedSL:          sl,
		PlannedTP1:         tp1,
		PlannedTP2:         tp2,
		PlannedTP3:         tp3,
		CalculatedRiskCash: riskCash,
		RRRatio:            rr,
		PositionSize:       size,

		EntryQualityScore: score,
		QualityBreakdown:  breakdown,

		UsingClosedBar:      true,
		TickNoiseFilterPass: true,
		AntiFOMOPass:        true,

		DecisionTimestamp: in.Bar.Time,
		DecisionSource:    in.Source,
	}
}

// qualityBreakdown scores the three components the pipeline blends into
// EntryQualityScore: pattern symmetry/depth, regime alignment, and an
// ATR-proxy momentum read. Each component is clamped to [0,10].
func qualityBreakdown(p pattern.Pattern, b BarView) QualityBreakdown {
	patternScore := patternQuality(p)
	reg := regime.Classify(b.Close, b.EMA50, b.EMA200)
	regimeScore := 0.0
	if reg.State == regime.Bull {
		regimeScore = clamp10(5 + reg.Confidence*5)
	}
	momentumScore := 0.0
	if b.ATR14 > 0 {
		body := b.Close - b.Open
		if body < 0 {
			body = -body
		}
		momentumScore = clamp10(body / b.ATR14 * 10)
	}
	return QualityBreakdown{Pattern: patternScore, Regime: regimeScore, Momentum: momentumScore}
}

func patternQuality(p pattern.Pattern) float64 {
	diff := p.LeftLow.Price - p.RightLow.Price
	if diff < 0 {
		diff = -diff
	}
	base := p.LeftLow.Price
	if p.RightLow.Price > base {
		base = p.RightLow.Price
	}
	symmetry := 10.0
	if base > 0 {
		symmetry = clamp10(10 - (diff/base)*100)
	}
	depth := p.Neckline - base
	depthScore := clamp10(depth / base * 100)
	return clamp10((symmetry + depthScore) / 2)
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
