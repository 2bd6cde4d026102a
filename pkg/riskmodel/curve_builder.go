package riskmodel

import (
	"math"
	"sort"
)

// CurveBuilder fixes the loss ratio grid of the loss curves of one loss type.
type CurveBuilder struct {
	LossType string
	// Index is the position of the loss type in the registry loss types.
	Index      int
	Resolution int
	Ratios     []float64
	SesRatio   float64
	// UserProvided is true when Ratios come from the configuration or from
	// the risk functions rather than the default linear grid.
	UserProvided        bool
	ConditionalLossPoEs []float64
	InsuredLosses       bool
}

// BuildLossCurve builds the event based loss curve of an asset of the given
// value from its event losses.
func (cb *CurveBuilder) BuildLossCurve(value float64, losses []float64) Curve {
	sorted := append([]float64(nil), losses...)
	sort.Float64s(sorted)
	curve := Curve{
		Losses: make([]float64, len(cb.Ratios)),
		PoEs:   make([]float64, len(cb.Ratios)),
	}
	for i, r := range cb.Ratios {
		threshold := r * value
		// number of losses >= threshold
		count := len(sorted) - sort.SearchFloat64s(sorted, threshold)
		curve.Losses[i] = threshold
		curve.PoEs[i] = 1 - math.Exp(-float64(count)*cb.SesRatio)
	}
	return curve
}

// ConditionalLosses returns the loss at each conditional probability of
// exceedance of the builder.
func (cb *CurveBuilder) ConditionalLosses(c Curve) []float64 {
	out := make([]float64, len(cb.ConditionalLossPoEs))
	for i, poe := range cb.ConditionalLossPoEs {
		out[i] = ConditionalLoss(c, poe)
	}
	return out
}

// ConditionalLoss returns the loss exceeded with probability poe on a curve
// with non-increasing PoEs. Probabilities above the curve give no loss and
// probabilities below it the largest loss.
func ConditionalLoss(c Curve, poe float64) float64 {
	n := len(c.PoEs)
	if n == 0 {
		return 0
	}
	if poe > c.PoEs[0] {
		return 0
	}
	if poe < c.PoEs[n-1] {
		return c.Losses[n-1]
	}
	found := false
	var best float64
	for i, p := range c.PoEs {
		if p == poe && (!found || c.Losses[i] > best) {
			best, found = c.Losses[i], true
		}
	}
	if found {
		return best
	}
	for i := 0; i+1 < n; i++ {
		x1, x2 := c.PoEs[i], c.PoEs[i+1]
		if x1 > poe && poe > x2 {
			y1, y2 := c.Losses[i], c.Losses[i+1]
			return y1 + (y2-y1)*(poe-x1)/(x2-x1)
		}
	}
	return math.NaN()
}
