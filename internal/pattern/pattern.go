// Package pattern models the double-bottom setup the decision pipeline
// evaluates. Detection itself lives upstream; this package only validates
// the shape once detected and carries an optional quality score.
package pattern

import "fmt"

// Pivot is a single swing low: a price at a bar index.
type Pivot struct {
	Price    float64
	BarIndex int
}

// Pattern is a candidate double-bottom: two pivots and a neckline, plus an
// optional quality score (set with WithQualityScore) that the decision
// pipeline reads.
type Pattern struct {
	LeftLow      Pivot
	RightLow     Pivot
	Neckline     float64
	QualityScore *float64
}

// MinBarsBetween is the default minimum spacing between the two pivots;
// callers pass it (or their own value) to Validate explicitly.
const MinBarsBetween = 5

// Validate checks the structural invariants from the pattern's definition:
// minimum pivot spacing, strictly positive lows, and a neckline above both.
func Validate(p Pattern, minBarsBetween int) error {
	spacing := p.RightLow.BarIndex - p.LeftLow.BarIndex
	if spacing < minBarsBetween {
		return fmt.Errorf("pivots too close: spacing %d, need >= %d", spacing, minBarsBetween)
	}
	if p.LeftLow.Price <= 0 || p.RightLow.Price <= 0 {
		return fmt.Errorf("low prices must be strictly positive: left=%v right=%v", p.LeftLow.Price, p.RightLow.Price)
	}
	maxLow := p.LeftLow.Price
	if p.RightLow.Price > maxLow {
		maxLow = p.RightLow.Price
	}
	if p.Neckline <= maxLow {
		return fmt.Errorf("neckline %v must exceed both lows (max %v) for a valid long setup", p.Neckline, maxLow)
	}
	return nil
}

// WithQualityScore returns a copy of p carrying the given quality score,
// clamped into [0,10].
func WithQualityScore(p Pattern, score float64) Pattern {
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	p.QualityScore = &score
	return p
}
