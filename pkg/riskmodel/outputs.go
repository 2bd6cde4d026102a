package riskmodel

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Kind names the type of an Output.
type Kind string

// Output kinds.
const (
	KindLossCurves  Kind = "loss_curves"
	KindEventLosses Kind = "event_losses"
	KindDamage      Kind = "damage"
	KindBCR         Kind = "bcr"
)

// Output is the result of one risk model computation over a group of assets.
type Output interface {
	Kind() Kind
	// AssetOrdinals returns the ordinals of the assets, in row order.
	AssetOrdinals() []int
}

// Curve is a loss exceedance curve.
type Curve struct {
	Losses []float64
	PoEs   []float64
}

// LossCurves are the classical loss curves of a group of assets.
type LossCurves struct {
	LossType string
	Ordinals []int
	// LossRatios is the loss ratio grid shared by the curves.
	LossRatios    []float64
	Curves        []Curve
	AverageLosses []float64
}

func (o *LossCurves) Kind() Kind           { return KindLossCurves }
func (o *LossCurves) AssetOrdinals() []int { return o.Ordinals }

// EventLosses are per event losses of a group of assets.
type EventLosses struct {
	LossType string
	Ordinals []int
	EventIDs []uint32
	// Losses is assets x events.
	Losses *mat.Dense
	// InsuredLosses is nil unless insured losses are requested.
	InsuredLosses        *mat.Dense
	AverageLosses        []float64
	InsuredAverageLosses []float64
	// Events is the number of events the averages are means over. It is 0
	// in event based calculations, where averages are annualized sums.
	Events int
}

func (o *EventLosses) Kind() Kind           { return KindEventLosses }
func (o *EventLosses) AssetOrdinals() []int { return o.Ordinals }

// DamageDistribution is the expected number of buildings in each damage
// state for a group of assets.
type DamageDistribution struct {
	LossType     string
	Ordinals     []int
	DamageStates []string
	// Fractions is assets x damage states.
	Fractions *mat.Dense
	// Events is the number of ground motion values the fractions are means
	// over, 0 for damage computed from hazard curves.
	Events int
}

func (o *DamageDistribution) Kind() Kind           { return KindDamage }
func (o *DamageDistribution) AssetOrdinals() []int { return o.Ordinals }

// BCRResult is the benefit-cost ratio of retrofitting one asset.
type BCRResult struct {
	Ordinal        int
	EALOriginal    float64
	EALRetrofitted float64
	BCR            float64
}

// BCRResults are the benefit-cost ratios of a group of assets.
type BCRResults struct {
	LossType string
	Results  []BCRResult
}

func (o *BCRResults) Kind() Kind { return KindBCR }

func (o *BCRResults) AssetOrdinals() []int {
	out := make([]int, len(o.Results))
	for i, r := range o.Results {
		out[i] = r.Ordinal
	}
	return out
}

// AverageLoss integrates a loss exceedance curve with the trapezoidal rule.
func AverageLoss(c Curve) float64 {
	var avg float64
	for i := 0; i+1 < len(c.Losses); i++ {
		avg += (c.Losses[i+1] - c.Losses[i]) * (c.PoEs[i] + c.PoEs[i+1]) / 2
	}
	return avg
}

// InsuredLoss is the part of loss above the deductible, capped at the limit.
func InsuredLoss(loss, deductible, limit float64) float64 {
	return math.Min(math.Max(loss-deductible, 0), limit-deductible)
}

// BCR is the benefit-cost ratio of a retrofit given the expected annual
// losses before and after it.
func BCR(ealOriginal, ealRetrofitted, interestRate, lifeExpectancy, retrofitCost float64) float64 {
	factor := lifeExpectancy
	if interestRate != 0 {
		factor = (1 - math.Exp(-interestRate*lifeExpectancy)) / interestRate
	}
	if retrofitCost == 0 {
		return math.Inf(1)
	}
	return (ealOriginal - ealRetrofitted) * factor / retrofitCost
}

// probabilitiesOfOccurrence turns exceedance probabilities into occurrence
// probabilities of the intervals between consecutive levels.
func probabilitiesOfOccurrence(poes []float64) []float64 {
	out := make([]float64, len(poes)-1)
	for i := range out {
		out[i] = poes[i] - poes[i+1]
	}
	return out
}
