// Package risk sizes positions and prices their P/L against a symbol's
// contract economics, the way the original risk engine does.
package risk

import "math"

// SymbolInfo carries the contract economics the sizing algorithm needs.
type SymbolInfo struct {
	ContractSize float64
	VolumeStep   float64
	VolumeMin    float64
	VolumeMax    float64
}

// Model holds the account-level risk parameters applied on top of a
// symbol's contract economics.
type Model struct {
	RiskPercent      float64
	CommissionPerLot float64
}

// toleranceBufferPct is the slack the validation step allows above the
// configured risk percent before it forces a one-step reduction.
const toleranceBufferPct = 0.1

// Size computes a lot size bounded by equity risk, floored to the volume
// step and clamped to the symbol's tradeable range. If that size breaches
// the risk tolerance, exactly one volume step is subtracted and the result
// re-validated. It returns ok=false for zero price risk, non-positive
// equity, a size still over tolerance after that one step, or a size
// below volume_min; smaller sizes beyond one step are not tried.
func (m Model) Size(equity, entry, sl float64, info SymbolInfo) (size float64, ok bool) {
	priceRisk := math.Abs(entry - sl)
	if priceRisk == 0 {
		return 0, false
	}
	riskCash := equity * m.RiskPercent / 100
	raw := riskCash / (priceRisk * info.ContractSize)

	size = floorToStep(raw, info.VolumeStep)
	size = clamp(size, info.VolumeMin, info.VolumeMax)

	if !m.validate(size, priceRisk, equity, info.ContractSize) {
		size -= info.VolumeStep
		if size < info.VolumeMin || !m.validate(size, priceRisk, equity, info.ContractSize) {
			return 0, false
		}
	}
	if size < info.VolumeMin {
		return 0, false
	}
	return size, true
}

func (m Model) validate(size, priceRisk, equity, contractSize float64) bool {
	if equity <= 0 {
		return false
	}
	actualRiskCash := priceRisk*size*contractSize + 2*m.CommissionPerLot*size
	actualRiskPercent := actualRiskCash / equity * 100
	return actualRiskPercent <= m.RiskPercent+toleranceBufferPct
}

func floorToStep(raw, step float64) float64 {
	if step <= 0 {
		return raw
	}
	return math.Floor(raw/step) * step
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PLResult is the gross/commission/net breakdown returned by
// PotentialProfitLoss.
type PLResult struct {
	GrossPL    float64
	Commission float64
	NetPL      float64
	PriceDiff  float64
}

// PotentialProfitLoss computes the gross/commission/net P/L for closing a
// position of the given size at exitPrice having entered at entryPrice.
func (m Model) PotentialProfitLoss(size, entryPrice, exitPrice float64, info SymbolInfo) PLResult {
	diff := exitPrice - entryPrice
	gross := diff * size * info.ContractSize
	commission := m.CommissionPerLot * size * 2
	return PLResult{
		GrossPL:    gross,
		Commission: commission,
		NetPL:      gross - commission,
		PriceDiff:  diff,
	}
}

// MaxDrawdownLimit returns the equity floor corresponding to a maximum
// drawdown percentage off the initial equity.
func MaxDrawdownLimit(initialEquity, maxDrawdownPercent float64) float64 {
	return initialEquity * (1 - maxDrawdownPercent/100)
}
