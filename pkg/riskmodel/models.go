package riskmodel

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/hazard"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

// EpsilonGetter returns the epsilons of an asset for the given events. It
// fails when the asset or an event is not covered by the epsilon matrix.
type EpsilonGetter func(ordinal int, eventIDs []uint32) ([]float64, error)

// RiskModel computes the output of one taxonomy for a loss type.
type RiskModel interface {
	Taxonomy() string
	// LossTypes returns the loss types with a risk function, sorted.
	LossTypes() []string
	Function(lossType string) (RiskFunction, bool)
	// LossRatios returns the loss ratio grid of the classical loss curves of
	// the loss type, nil when the model builds no classical curves.
	LossRatios(lossType string) []float64
	Compute(lossType string, assets []*models.Asset, haz hazard.Hazard, eps EpsilonGetter) (Output, error)
}

// modelParams are the calculation parameters shared by every model.
type modelParams struct {
	timeEvent       string
	steps           int
	hazardIMTLs     map[string][]float64
	sesRatio        float64
	eventBased      bool
	insuredLosses   bool
	interestRate    float64
	lifeExpectancy  float64
	randomSeed      int64
	classicalCurves bool
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// hazardLevels returns the levels a hazard curve for imt is defined on.
func (p modelParams) hazardLevels(imt string, fallback []float64) []float64 {
	if imls, ok := p.hazardIMTLs[imt]; ok {
		return imls
	}
	return fallback
}

// VulnerabilityModel computes losses from vulnerability functions.
type VulnerabilityModel struct {
	taxonomy  string
	functions map[string]*VulnerabilityFunction
	params    modelParams
}

func (m *VulnerabilityModel) Taxonomy() string    { return m.taxonomy }
func (m *VulnerabilityModel) LossTypes() []string { return sortedKeys(m.functions) }

func (m *VulnerabilityModel) Function(lossType string) (RiskFunction, bool) {
	vf, ok := m.functions[lossType]
	return vf, ok
}

func (m *VulnerabilityModel) LossRatios(lossType string) []float64 {
	vf, ok := m.functions[lossType]
	if !ok || !m.params.classicalCurves {
		return nil
	}
	return vf.MeanLossRatiosWithSteps(m.params.steps)
}

// Compute builds loss curves from hazard curves and event losses from
// ground motion values.
func (m *VulnerabilityModel) Compute(lossType string, assets []*models.Asset, haz hazard.Hazard, eps EpsilonGetter) (Output, error) {
	vf, ok := m.functions[lossType]
	if !ok {
		return nil, fmt.Errorf("%w: taxonomy %s has no %s vulnerability function", apperrors.ErrNotFound, m.taxonomy, lossType)
	}
	if haz.IsCurve() {
		return m.lossCurves(vf, lossType, assets, haz.PoEs)
	}
	return eventLosses(vf, lossType, assets, haz, eps, m.params)
}

func (m *VulnerabilityModel) lossCurves(vf *VulnerabilityFunction, lossType string, assets []*models.Asset, poes []float64) (Output, error) {
	ratios, lossPoEs, err := classicalCurve(vf, m.params.hazardLevels(vf.IMT, vf.IMLs), poes, m.params.steps)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s, loss type %s: %w", m.taxonomy, lossType, err)
	}
	avgRatio := AverageLoss(Curve{Losses: ratios, PoEs: lossPoEs})
	out := &LossCurves{
		LossType:      lossType,
		Ordinals:      models.AssetOrdinals(assets),
		LossRatios:    ratios,
		Curves:        make([]Curve, len(assets)),
		AverageLosses: make([]float64, len(assets)),
	}
	for i, a := range assets {
		value := a.Value(lossType, m.params.timeEvent)
		losses := make([]float64, len(ratios))
		for j, r := range ratios {
			losses[j] = r * value
		}
		out.Curves[i] = Curve{Losses: losses, PoEs: lossPoEs}
		out.AverageLosses[i] = avgRatio * value
	}
	return out, nil
}

// classicalCurve convolves a hazard curve with a vulnerability function and
// returns the loss ratios and their probabilities of exceedance.
func classicalCurve(vf *VulnerabilityFunction, hazardIMLs, hazardPoEs []float64, steps int) ([]float64, []float64, error) {
	if len(hazardIMLs) != len(hazardPoEs) {
		return nil, nil, fmt.Errorf("%w: %d poes for %d %s levels",
			apperrors.ErrHazardMismatch, len(hazardPoEs), len(hazardIMLs), vf.IMT)
	}
	ratios := vf.MeanLossRatiosWithSteps(steps)
	lrem := vf.LossRatioExceedanceMatrix(ratios)

	meanIMLs := vf.MeanIMLs()
	poes := make([]float64, len(meanIMLs))
	for i, iml := range meanIMLs {
		poes[i] = clampedInterpolate(hazardIMLs, hazardPoEs, iml)
	}
	poos := probabilitiesOfOccurrence(poes)

	flat := make([]float64, 0, len(ratios)*len(poos))
	for _, row := range lrem {
		flat = append(flat, row...)
	}
	var lossPoEs mat.VecDense
	lossPoEs.MulVec(mat.NewDense(len(ratios), len(poos), flat), mat.NewVecDense(len(poos), poos))
	return ratios, mat.Col(nil, 0, &lossPoEs), nil
}

// eventLosses samples the loss ratio of every event for every asset.
func eventLosses(vf *VulnerabilityFunction, lossType string, assets []*models.Asset, haz hazard.Hazard, eps EpsilonGetter, p modelParams) (*EventLosses, error) {
	gmvs := haz.Values()
	eids := haz.EventIDs()
	out := &EventLosses{
		LossType:      lossType,
		Ordinals:      models.AssetOrdinals(assets),
		EventIDs:      eids,
		Losses:        newDense(len(assets), len(gmvs)),
		AverageLosses: make([]float64, len(assets)),
	}
	if !p.eventBased {
		out.Events = len(gmvs)
	}
	if p.insuredLosses {
		out.InsuredLosses = newDense(len(assets), len(gmvs))
		out.InsuredAverageLosses = make([]float64, len(assets))
	}
	for i, a := range assets {
		var assetEps []float64
		if eps != nil {
			var err error
			if assetEps, err = eps(a.Ordinal, eids); err != nil {
				return nil, fmt.Errorf("loss type %s: %w", lossType, err)
			}
		}
		ratios, err := vf.Sample(gmvs, assetEps, p.randomSeed)
		if err != nil {
			return nil, fmt.Errorf("asset %d, loss type %s: %w", a.Idx, lossType, err)
		}
		value := a.Value(lossType, p.timeEvent)
		ded := a.Deductible(lossType)
		limit, hasLimit := a.InsuranceLimit(lossType)
		if len(ratios) == 0 {
			continue
		}
		for j, r := range ratios {
			loss := r * value
			out.Losses.Set(i, j, loss)
			if out.InsuredLosses != nil && hasLimit {
				out.InsuredLosses.Set(i, j, InsuredLoss(loss, ded, limit))
			}
		}
		out.AverageLosses[i] = average(out.Losses.RawRowView(i), p)
		if out.InsuredLosses != nil {
			out.InsuredAverageLosses[i] = average(out.InsuredLosses.RawRowView(i), p)
		}
	}
	return out, nil
}

// newDense returns a zeroed r x c matrix, nil when either dimension is zero.
func newDense(r, c int) *mat.Dense {
	if r == 0 || c == 0 {
		return nil
	}
	return mat.NewDense(r, c, nil)
}

// average is the annual average of event losses in event based calculations
// and the mean over events otherwise.
func average(losses []float64, p modelParams) float64 {
	if len(losses) == 0 {
		return 0
	}
	var sum float64
	for _, l := range losses {
		sum += l
	}
	if p.eventBased {
		return sum * p.sesRatio
	}
	return sum / float64(len(losses))
}

// FragilityModel computes damage distributions from fragility functions.
type FragilityModel struct {
	taxonomy     string
	functions    map[string]*FragilityFunctionSet
	damageStates []string
	params       modelParams
}

func (m *FragilityModel) Taxonomy() string                     { return m.taxonomy }
func (m *FragilityModel) LossTypes() []string                  { return sortedKeys(m.functions) }
func (m *FragilityModel) LossRatios(lossType string) []float64 { return nil }

func (m *FragilityModel) Function(lossType string) (RiskFunction, bool) {
	ffs, ok := m.functions[lossType]
	return ffs, ok
}

// Compute returns the expected number of buildings per damage state. With
// ground motion values it averages over the events; with a hazard curve it
// weighs the damage at each level by its probability of occurrence.
func (m *FragilityModel) Compute(lossType string, assets []*models.Asset, haz hazard.Hazard, _ EpsilonGetter) (Output, error) {
	ffs, ok := m.functions[lossType]
	if !ok {
		return nil, fmt.Errorf("%w: taxonomy %s has no %s fragility functions", apperrors.ErrNotFound, m.taxonomy, lossType)
	}
	var dist []float64
	var events int
	if haz.IsCurve() {
		var err error
		if dist, err = m.classicalDamage(ffs, haz.PoEs); err != nil {
			return nil, fmt.Errorf("taxonomy %s, loss type %s: %w", m.taxonomy, lossType, err)
		}
	} else {
		dist = make([]float64, len(m.damageStates))
		gmvs := haz.Values()
		events = len(gmvs)
		for _, gmv := range gmvs {
			for k, f := range ffs.DamageStates(gmv) {
				dist[k] += f / float64(len(gmvs))
			}
		}
	}
	out := &DamageDistribution{
		LossType:     lossType,
		Ordinals:     models.AssetOrdinals(assets),
		DamageStates: m.damageStates,
		Fractions:    newDense(len(assets), len(m.damageStates)),
		Events:       events,
	}
	for i, a := range assets {
		for k, f := range dist {
			out.Fractions.Set(i, k, f*a.Number)
		}
	}
	return out, nil
}

func (m *FragilityModel) classicalDamage(ffs *FragilityFunctionSet, poes []float64) ([]float64, error) {
	imls := m.params.hazardLevels(ffs.IMT, ffs.IMLs)
	if len(imls) != len(poes) {
		return nil, fmt.Errorf("%w: %d poes for %d %s levels", apperrors.ErrHazardMismatch, len(poes), len(imls), ffs.IMT)
	}
	dist := make([]float64, len(m.damageStates))
	occurred := 0.0
	poos := append(probabilitiesOfOccurrence(poes), poes[len(poes)-1])
	for j, po := range poos {
		occurred += po
		for k, f := range ffs.DamageStates(imls[j]) {
			dist[k] += po * f
		}
	}
	dist[0] += 1 - occurred
	return dist, nil
}

// BCRModel compares the losses of assets before and after a retrofit.
type BCRModel struct {
	taxonomy    string
	original    map[string]*VulnerabilityFunction
	retrofitted map[string]*VulnerabilityFunction
	params      modelParams
}

func (m *BCRModel) Taxonomy() string                     { return m.taxonomy }
func (m *BCRModel) LossTypes() []string                  { return sortedKeys(m.original) }
func (m *BCRModel) LossRatios(lossType string) []float64 { return nil }

func (m *BCRModel) Function(lossType string) (RiskFunction, bool) {
	vf, ok := m.original[lossType]
	return vf, ok
}

// Compute returns the benefit-cost ratio of every asset. Expected annual
// losses come from classical loss curves or from event losses.
func (m *BCRModel) Compute(lossType string, assets []*models.Asset, haz hazard.Hazard, eps EpsilonGetter) (Output, error) {
	orig, ok := m.original[lossType]
	if !ok {
		return nil, fmt.Errorf("%w: taxonomy %s has no %s vulnerability function", apperrors.ErrNotFound, m.taxonomy, lossType)
	}
	retro, ok := m.retrofitted[lossType]
	if !ok {
		return nil, fmt.Errorf("%w: taxonomy %s has no retrofitted %s vulnerability function", apperrors.ErrNotFound, m.taxonomy, lossType)
	}
	ealOrig, err := m.eal(orig, lossType, assets, haz, eps)
	if err != nil {
		return nil, err
	}
	ealRetro, err := m.eal(retro, lossType, assets, haz, eps)
	if err != nil {
		return nil, err
	}
	out := &BCRResults{LossType: lossType, Results: make([]BCRResult, len(assets))}
	for i, a := range assets {
		out.Results[i] = BCRResult{
			Ordinal:        a.Ordinal,
			EALOriginal:    ealOrig[i],
			EALRetrofitted: ealRetro[i],
			BCR: BCR(ealOrig[i], ealRetro[i], m.params.interestRate, m.params.lifeExpectancy,
				a.RetrofittedValue(lossType)),
		}
	}
	return out, nil
}

func (m *BCRModel) eal(vf *VulnerabilityFunction, lossType string, assets []*models.Asset, haz hazard.Hazard, eps EpsilonGetter) ([]float64, error) {
	if haz.IsCurve() {
		ratios, poes, err := classicalCurve(vf, m.params.hazardLevels(vf.IMT, vf.IMLs), haz.PoEs, m.params.steps)
		if err != nil {
			return nil, fmt.Errorf("taxonomy %s, loss type %s: %w", m.taxonomy, lossType, err)
		}
		avg := AverageLoss(Curve{Losses: ratios, PoEs: poes})
		out := make([]float64, len(assets))
		for i, a := range assets {
			out[i] = avg * a.Value(lossType, m.params.timeEvent)
		}
		return out, nil
	}
	p := m.params
	p.insuredLosses = false
	losses, err := eventLosses(vf, lossType, assets, haz, eps, p)
	if err != nil {
		return nil, err
	}
	return losses.AverageLosses, nil
}
