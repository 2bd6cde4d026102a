// Package riskmodel holds the risk functions of every taxonomy and computes
// losses and damage from sampled hazard.
package riskmodel

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
)

// Loss ratio distributions of vulnerability functions.
const (
	DistributionLogNormal = "LN"
	DistributionPMF       = "PM"
)

// Formats of fragility functions.
const (
	FormatContinuous = "continuous"
	FormatDiscrete   = "discrete"
)

// NoDamage is the damage state preceding every limit state.
const NoDamage = "no_damage"

// FunctionHeader identifies a risk function and the intensity grid it is
// defined on.
type FunctionHeader struct {
	ID   string    `yaml:"id" json:"id"`
	IMT  string    `yaml:"imt" json:"imt"`
	IMLs []float64 `yaml:"imls" json:"imls"`
}

// Header returns the header itself; embedding types get it promoted.
func (h FunctionHeader) Header() FunctionHeader {
	return h
}

func (h FunctionHeader) validate() error {
	if h.IMT == "" {
		return fmt.Errorf("%w: function %s has no IMT", apperrors.ErrInconsistentInput, h.ID)
	}
	if len(h.IMLs) == 0 {
		return fmt.Errorf("%w: function %s has no intensity levels", apperrors.ErrInconsistentInput, h.ID)
	}
	for i := 1; i < len(h.IMLs); i++ {
		if h.IMLs[i] <= h.IMLs[i-1] {
			return fmt.Errorf("%w: intensity levels of function %s are not increasing", apperrors.ErrInconsistentInput, h.ID)
		}
	}
	return nil
}

// RiskFunction is a vulnerability function or a set of fragility functions.
type RiskFunction interface {
	Header() FunctionHeader
	// NonzeroCoV reports whether the function carries uncertainty.
	NonzeroCoV() bool
	Validate() error
}

// VulnerabilityFunction maps intensity to loss ratio.
type VulnerabilityFunction struct {
	FunctionHeader `yaml:",inline"`

	MeanLossRatios []float64 `yaml:"mean_loss_ratios" json:"mean_loss_ratios"`
	CoVs           []float64 `yaml:"covs,omitempty" json:"covs,omitempty"`
	// Distribution is LN (the default) or PM.
	Distribution string `yaml:"distribution,omitempty" json:"distribution,omitempty"`

	// LossRatios and Probabilities (loss ratio x IML) define PM functions.
	LossRatios    []float64   `yaml:"loss_ratios,omitempty" json:"loss_ratios,omitempty"`
	Probabilities [][]float64 `yaml:"probabilities,omitempty" json:"probabilities,omitempty"`
}

// Validate checks the shape of the function.
func (vf *VulnerabilityFunction) Validate() error {
	if err := vf.FunctionHeader.validate(); err != nil {
		return err
	}
	n := len(vf.IMLs)
	switch vf.distribution() {
	case DistributionLogNormal:
		if len(vf.MeanLossRatios) != n {
			return fmt.Errorf("%w: function %s has %d mean loss ratios for %d levels",
				apperrors.ErrInconsistentInput, vf.ID, len(vf.MeanLossRatios), n)
		}
		if len(vf.CoVs) != 0 && len(vf.CoVs) != n {
			return fmt.Errorf("%w: function %s has %d coefficients of variation for %d levels",
				apperrors.ErrInconsistentInput, vf.ID, len(vf.CoVs), n)
		}
	case DistributionPMF:
		if len(vf.LossRatios) == 0 || len(vf.Probabilities) != len(vf.LossRatios) {
			return fmt.Errorf("%w: function %s has %d probability rows for %d loss ratios",
				apperrors.ErrInconsistentInput, vf.ID, len(vf.Probabilities), len(vf.LossRatios))
		}
		for _, row := range vf.Probabilities {
			if len(row) != n {
				return fmt.Errorf("%w: function %s has a probability row of length %d for %d levels",
					apperrors.ErrInconsistentInput, vf.ID, len(row), n)
			}
		}
		if len(vf.MeanLossRatios) == 0 {
			vf.MeanLossRatios = vf.pmfMeans()
		}
	default:
		return fmt.Errorf("%w: %q in function %s", apperrors.ErrUnsupportedDistribution, vf.Distribution, vf.ID)
	}
	return nil
}

func (vf *VulnerabilityFunction) distribution() string {
	if vf.Distribution == "" {
		return DistributionLogNormal
	}
	return vf.Distribution
}

func (vf *VulnerabilityFunction) pmfMeans() []float64 {
	means := make([]float64, len(vf.IMLs))
	for i, lr := range vf.LossRatios {
		for j, p := range vf.Probabilities[i] {
			means[j] += lr * p
		}
	}
	return means
}

// NonzeroCoV reports whether any coefficient of variation is nonzero.
func (vf *VulnerabilityFunction) NonzeroCoV() bool {
	for _, c := range vf.CoVs {
		if c != 0 {
			return true
		}
	}
	return false
}

func (vf *VulnerabilityFunction) cov(i int) float64 {
	if len(vf.CoVs) == 0 {
		return 0
	}
	return vf.CoVs[i]
}

// MeanLossRatio interpolates the mean loss ratio at iml. Intensities below
// the first level give no loss; intensities above the last are clipped.
func (vf *VulnerabilityFunction) MeanLossRatio(iml float64) float64 {
	return interpolate(vf.IMLs, vf.MeanLossRatios, iml)
}

// CoV interpolates the coefficient of variation at iml.
func (vf *VulnerabilityFunction) CoV(iml float64) float64 {
	if len(vf.CoVs) == 0 {
		return 0
	}
	return interpolate(vf.IMLs, vf.CoVs, iml)
}

// MeanLossRatiosWithSteps returns the mean loss ratios padded with 0 and 1
// and refined with steps points per interval.
func (vf *VulnerabilityFunction) MeanLossRatiosWithSteps(steps int) []float64 {
	if vf.distribution() == DistributionPMF {
		return append([]float64(nil), vf.LossRatios...)
	}
	ratios := append([]float64(nil), vf.MeanLossRatios...)
	if floats.Min(ratios) > 0 {
		ratios = append([]float64{0}, ratios...)
	}
	if floats.Max(ratios) < 1 {
		ratios = append(ratios, 1)
	}
	return fineGraining(ratios, steps)
}

// LossRatioExceedanceMatrix returns, for each loss ratio (row) and
// intensity level (column), the probability that the loss ratio is exceeded.
func (vf *VulnerabilityFunction) LossRatioExceedanceMatrix(ratios []float64) [][]float64 {
	lrem := make([][]float64, len(ratios))
	if vf.distribution() == DistributionPMF {
		for row := range ratios {
			lrem[row] = make([]float64, len(vf.IMLs))
			for col := range vf.IMLs {
				lrem[row][col] = vf.pmfExceedance(ratios[row], col)
			}
		}
		return lrem
	}
	for row, lr := range ratios {
		lrem[row] = make([]float64, len(vf.IMLs))
		for col, mean := range vf.MeanLossRatios {
			lrem[row][col] = logNormalSurvival(lr, mean, vf.cov(col))
		}
	}
	return lrem
}

func (vf *VulnerabilityFunction) pmfExceedance(lr float64, col int) float64 {
	var p float64
	for k, r := range vf.LossRatios {
		if r > lr {
			p += vf.Probabilities[k][col]
		}
	}
	return p
}

// logNormalSurvival is P(LR > lr) for a lognormal loss ratio of the given
// mean and coefficient of variation.
func logNormalSurvival(lr, mean, cov float64) float64 {
	if mean == 0 {
		return 0
	}
	if cov == 0 {
		if lr > mean {
			return 0
		}
		return 1
	}
	sigma := math.Sqrt(math.Log(1 + cov*cov))
	dist := distuv.LogNormal{Mu: math.Log(mean) - sigma*sigma/2, Sigma: sigma}
	return dist.Survival(lr)
}

// Sample returns the loss ratio of each intensity. Lognormal functions scale
// the mean by the epsilons; without epsilons the means are returned. PM
// functions draw from the interpolated distribution with a generator seeded
// by seed.
func (vf *VulnerabilityFunction) Sample(imls, eps []float64, seed int64) ([]float64, error) {
	out := make([]float64, len(imls))
	if vf.distribution() == DistributionPMF {
		rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
		for i, iml := range imls {
			out[i] = vf.drawPMF(iml, rng.Float64())
		}
		return out, nil
	}
	if eps != nil && len(eps) < len(imls) {
		return nil, fmt.Errorf("%w: %d epsilons for %d intensities in function %s",
			apperrors.ErrInconsistentInput, len(eps), len(imls), vf.ID)
	}
	for i, iml := range imls {
		mean := vf.MeanLossRatio(iml)
		if eps == nil || mean == 0 {
			out[i] = mean
			continue
		}
		cov := vf.CoV(iml)
		sigma := math.Sqrt(math.Log(1 + cov*cov))
		out[i] = mean / math.Sqrt(1+cov*cov) * math.Exp(eps[i]*sigma)
	}
	return out, nil
}

func (vf *VulnerabilityFunction) drawPMF(iml, u float64) float64 {
	if iml < vf.IMLs[0] {
		return 0
	}
	var cum, total float64
	probs := make([]float64, len(vf.LossRatios))
	for k := range vf.LossRatios {
		probs[k] = interpolate(vf.IMLs, vf.Probabilities[k], iml)
		total += probs[k]
	}
	if total == 0 {
		return 0
	}
	for k, p := range probs {
		cum += p / total
		if u < cum {
			return vf.LossRatios[k]
		}
	}
	return vf.LossRatios[len(vf.LossRatios)-1]
}

// MeanIMLs returns the midpoints of the intensity levels, extended by half an
// interval on both sides (never below zero).
func (vf *VulnerabilityFunction) MeanIMLs() []float64 {
	imls := vf.IMLs
	n := len(imls)
	if n == 1 {
		return []float64{imls[0], imls[0]}
	}
	out := make([]float64, 0, n+1)
	out = append(out, math.Max(0, imls[0]-(imls[1]-imls[0])/2))
	for i := 0; i+1 < n; i++ {
		out = append(out, (imls[i]+imls[i+1])/2)
	}
	out = append(out, imls[n-1]+(imls[n-1]-imls[n-2])/2)
	return out
}

// FragilityFunction gives the probability of reaching one limit state.
type FragilityFunction struct {
	LimitState string `yaml:"limit_state" json:"limit_state"`
	// Mean and Stddev parametrise continuous functions.
	Mean   float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Stddev float64 `yaml:"stddev,omitempty" json:"stddev,omitempty"`
	// PoEs are the probabilities at each level of discrete functions.
	PoEs []float64 `yaml:"poes,omitempty" json:"poes,omitempty"`
}

// FragilityFunctionSet holds one fragility function per limit state, ordered
// by increasing severity.
type FragilityFunctionSet struct {
	FunctionHeader `yaml:",inline"`

	Format        string              `yaml:"format" json:"format"`
	NoDamageLimit float64             `yaml:"no_damage_limit,omitempty" json:"no_damage_limit,omitempty"`
	Functions     []FragilityFunction `yaml:"functions" json:"functions"`
}

// Validate checks the shape of the set.
func (ffs *FragilityFunctionSet) Validate() error {
	if len(ffs.Functions) == 0 {
		return fmt.Errorf("%w: fragility set %s has no limit states", apperrors.ErrInconsistentInput, ffs.ID)
	}
	switch ffs.Format {
	case FormatContinuous:
		if ffs.IMT == "" {
			return fmt.Errorf("%w: function %s has no IMT", apperrors.ErrInconsistentInput, ffs.ID)
		}
		if len(ffs.IMLs) == 0 {
			ffs.IMLs = []float64{ffs.NoDamageLimit}
		}
		for _, ff := range ffs.Functions {
			if ff.Mean <= 0 {
				return fmt.Errorf("%w: limit state %s of %s has non-positive mean",
					apperrors.ErrInconsistentInput, ff.LimitState, ffs.ID)
			}
		}
	case FormatDiscrete:
		if err := ffs.FunctionHeader.validate(); err != nil {
			return err
		}
		for _, ff := range ffs.Functions {
			if len(ff.PoEs) != len(ffs.IMLs) {
				return fmt.Errorf("%w: limit state %s of %s has %d poes for %d levels",
					apperrors.ErrInconsistentInput, ff.LimitState, ffs.ID, len(ff.PoEs), len(ffs.IMLs))
			}
		}
	default:
		return fmt.Errorf("%w: unknown fragility format %q in %s", apperrors.ErrInconsistentInput, ffs.Format, ffs.ID)
	}
	return nil
}

// NonzeroCoV is always false for fragility functions.
func (ffs *FragilityFunctionSet) NonzeroCoV() bool {
	return false
}

// LimitStates returns the limit states in order.
func (ffs *FragilityFunctionSet) LimitStates() []string {
	out := make([]string, len(ffs.Functions))
	for i, ff := range ffs.Functions {
		out[i] = ff.LimitState
	}
	return out
}

// PoEs returns the probability of reaching each limit state at iml.
func (ffs *FragilityFunctionSet) PoEs(iml float64) []float64 {
	out := make([]float64, len(ffs.Functions))
	if iml <= ffs.NoDamageLimit {
		return out
	}
	for i, ff := range ffs.Functions {
		if ffs.Format == FormatDiscrete {
			out[i] = clampedInterpolate(ffs.IMLs, ff.PoEs, iml)
			continue
		}
		if ff.Stddev == 0 {
			if iml >= ff.Mean {
				out[i] = 1
			}
			continue
		}
		cov := ff.Stddev / ff.Mean
		sigma := math.Sqrt(math.Log(1 + cov*cov))
		dist := distuv.LogNormal{Mu: math.Log(ff.Mean) - sigma*sigma/2, Sigma: sigma}
		out[i] = dist.CDF(iml)
	}
	return out
}

// DamageStates returns the probability of each damage state at iml,
// no damage first. The probabilities sum to one.
func (ffs *FragilityFunctionSet) DamageStates(iml float64) []float64 {
	poes := ffs.PoEs(iml)
	out := make([]float64, len(poes)+1)
	prev := 1.0
	for i, p := range poes {
		out[i] = prev - p
		prev = p
	}
	out[len(poes)] = prev
	return out
}

// interpolate is linear interpolation of ys over xs, zero below xs[0] and
// clipped above the last x.
func interpolate(xs, ys []float64, x float64) float64 {
	if x < xs[0] {
		return 0
	}
	return clampedInterpolate(xs, ys, x)
}

func clampedInterpolate(xs, ys []float64, x float64) float64 {
	n := len(xs)
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[n-1] {
		return ys[n-1]
	}
	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		return ys[i]
	}
	x0, x1 := xs[i-1], xs[i]
	y0, y1 := ys[i-1], ys[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// fineGraining inserts steps-1 evenly spaced points in every interval.
func fineGraining(points []float64, steps int) []float64 {
	if steps < 2 {
		return points
	}
	out := make([]float64, 0, (len(points)-1)*steps+1)
	seg := make([]float64, steps+1)
	for i := 0; i+1 < len(points); i++ {
		floats.Span(seg, points[i], points[i+1])
		out = append(out, seg[:steps]...)
	}
	return append(out, points[len(points)-1])
}
