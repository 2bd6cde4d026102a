package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskmodel"
)

// LossKey identifies the result of one asset for one realization and loss
// type.
type LossKey struct {
	Realization int
	Ordinal     int
	LossType    string
}

// LossAccumulator is an OutputSink combining the outputs of many tasks per
// asset. Annualized event based losses of the same key are added. Scenario
// means and damage distributions are merged weighted by their event counts,
// so splitting the ruptures of a scenario across tasks keeps them means.
type LossAccumulator struct {
	mu            sync.Mutex
	averageLosses map[LossKey]float64
	insuredLosses map[LossKey]float64
	lossEvents    map[LossKey]int
	damage        map[LossKey][]float64
	damageEvents  map[LossKey]int
	damageStates  []string
	bcr           map[LossKey]riskmodel.BCRResult
	weights       map[int]float64
	records       int
}

// NewLossAccumulator creates an empty accumulator.
func NewLossAccumulator() *LossAccumulator {
	return &LossAccumulator{
		averageLosses: make(map[LossKey]float64),
		insuredLosses: make(map[LossKey]float64),
		lossEvents:    make(map[LossKey]int),
		damage:        make(map[LossKey][]float64),
		damageEvents:  make(map[LossKey]int),
		bcr:           make(map[LossKey]riskmodel.BCRResult),
		weights:       make(map[int]float64),
	}
}

var _ OutputSink = (*LossAccumulator)(nil)

// Consume adds the outputs of a record.
func (a *LossAccumulator) Consume(_ context.Context, record *OutputRecord) error {
	if len(record.Values) != len(record.LossTypes) {
		return fmt.Errorf("%w: %d outputs for %d loss types",
			apperrors.ErrInconsistentInput, len(record.Values), len(record.LossTypes))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.records++
	a.weights[record.Realization] = record.RealizationWeight
	for _, value := range record.Values {
		switch out := value.(type) {
		case nil:
		case *riskmodel.LossCurves:
			a.addLosses(record.Realization, out.LossType, out.Ordinals, out.AverageLosses, nil, 0)
		case *riskmodel.EventLosses:
			a.addLosses(record.Realization, out.LossType, out.Ordinals, out.AverageLosses, out.InsuredAverageLosses, out.Events)
		case *riskmodel.DamageDistribution:
			a.addDamage(record.Realization, out)
		case *riskmodel.BCRResults:
			for _, r := range out.Results {
				a.bcr[LossKey{record.Realization, r.Ordinal, out.LossType}] = r
			}
		default:
			return fmt.Errorf("%w: unexpected output kind %s", apperrors.ErrInconsistentInput, value.Kind())
		}
	}
	return nil
}

// merge combines a stored value with a new one. Values that are means over
// events are weighted by their counts, the others are added.
func merge(prev float64, prevEvents int, value float64, events int) float64 {
	if events == 0 || prevEvents == 0 {
		return prev + value
	}
	return (prev*float64(prevEvents) + value*float64(events)) / float64(prevEvents+events)
}

func (a *LossAccumulator) addLosses(rlz int, lossType string, ordinals []int, losses, insured []float64, events int) {
	for i, ordinal := range ordinals {
		key := LossKey{rlz, ordinal, lossType}
		prevEvents := a.lossEvents[key]
		a.averageLosses[key] = merge(a.averageLosses[key], prevEvents, losses[i], events)
		if insured != nil {
			a.insuredLosses[key] = merge(a.insuredLosses[key], prevEvents, insured[i], events)
		}
		a.lossEvents[key] = prevEvents + events
	}
}

func (a *LossAccumulator) addDamage(rlz int, out *riskmodel.DamageDistribution) {
	if a.damageStates == nil {
		a.damageStates = out.DamageStates
	}
	for i, ordinal := range out.Ordinals {
		key := LossKey{rlz, ordinal, out.LossType}
		row := mat.Row(nil, i, out.Fractions)
		prevEvents := a.damageEvents[key]
		if prev, ok := a.damage[key]; ok {
			for k := range row {
				row[k] = merge(prev[k], prevEvents, row[k], out.Events)
			}
		}
		a.damage[key] = row
		a.damageEvents[key] = prevEvents + out.Events
	}
}

// Records returns the number of records consumed.
func (a *LossAccumulator) Records() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records
}

// AverageLoss returns the average loss of a key.
func (a *LossAccumulator) AverageLoss(key LossKey) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.averageLosses[key]
	return v, ok
}

// InsuredAverageLoss returns the insured average loss of a key.
func (a *LossAccumulator) InsuredAverageLoss(key LossKey) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.insuredLosses[key]
	return v, ok
}

// Damage returns the number of buildings per damage state of a key.
func (a *LossAccumulator) Damage(key LossKey) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.damage[key]
	if !ok {
		return nil
	}
	return append([]float64(nil), d...)
}

// DamageStates returns the damage states of the consumed distributions.
func (a *LossAccumulator) DamageStates() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.damageStates
}

// BCR returns the benefit-cost ratio result of a key.
func (a *LossAccumulator) BCR(key LossKey) (riskmodel.BCRResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.bcr[key]
	return r, ok
}

// Realizations returns the realizations seen, sorted.
func (a *LossAccumulator) Realizations() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.weights))
	for rlz := range a.weights {
		out = append(out, rlz)
	}
	sort.Ints(out)
	return out
}

// MeanAverageLoss returns the average loss of an asset weighted over the
// realizations seen. A realization where the asset had no loss counts as 0.
// Without realization weights every realization weighs the same.
func (a *LossAccumulator) MeanAverageLoss(ordinal int, lossType string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meanLocked(ordinal, lossType)
}

func (a *LossAccumulator) meanLocked(ordinal int, lossType string) float64 {
	var total, sum float64
	for rlz, w := range a.weights {
		total += w
		sum += w * a.averageLosses[LossKey{rlz, ordinal, lossType}]
	}
	if total > 0 {
		return sum / total
	}
	if len(a.weights) == 0 {
		return 0
	}
	sum = 0
	for rlz := range a.weights {
		sum += a.averageLosses[LossKey{rlz, ordinal, lossType}]
	}
	return sum / float64(len(a.weights))
}

// PortfolioLosses returns, per loss type, the sum over assets of their
// weighted average loss.
func (a *LossAccumulator) PortfolioLosses() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	type assetLoss struct {
		ordinal  int
		lossType string
	}
	seen := make(map[assetLoss]bool)
	out := make(map[string]float64)
	for key := range a.averageLosses {
		al := assetLoss{key.Ordinal, key.LossType}
		if seen[al] {
			continue
		}
		seen[al] = true
		out[key.LossType] += a.meanLocked(key.Ordinal, key.LossType)
	}
	return out
}
