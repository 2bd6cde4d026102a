package riskmodel

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/config"
	"github.com/ekaya-inc/ekaya-risk/pkg/logging"
)

// CompositeRiskModel is the registry of the risk models of every taxonomy.
// It is read-only once built and safe to share between tasks.
type CompositeRiskModel struct {
	cfg          config.CalculationConfig
	logger       *zap.Logger
	models       map[string]RiskModel
	functions    map[string]map[string]RiskFunction
	retrofitted  map[string]map[string]*VulnerabilityFunction
	taxonomies   []string
	lossTypes    []string
	lti          map[string]int
	builders     []*CurveBuilder
	covs         int
	damageStates []string
}

// New builds the registry. The calculation mode selects the kind of model:
// damage mode needs fragility functions, benefit-cost mode needs original and
// retrofitted vulnerability functions for the same taxonomies, other modes
// need vulnerability functions.
func New(cfg config.CalculationConfig, functions map[string]map[string]RiskFunction,
	retrofitted map[string]map[string]*VulnerabilityFunction, logger *zap.Logger,
) (*CompositeRiskModel, error) {
	if len(functions) == 0 {
		return nil, fmt.Errorf("%w: no risk functions", apperrors.ErrEmptyInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for taxonomy, byLT := range functions {
		for lt, rf := range byLT {
			if err := rf.Validate(); err != nil {
				return nil, fmt.Errorf("taxonomy %s, loss type %s: %w", taxonomy, lt, err)
			}
		}
	}

	crm := &CompositeRiskModel{
		cfg:         cfg,
		logger:      logger.Named("risk-model"),
		models:      make(map[string]RiskModel, len(functions)),
		functions:   functions,
		retrofitted: retrofitted,
	}
	params := modelParams{
		timeEvent:       cfg.TimeEvent,
		steps:           cfg.LremStepsPerInterval,
		hazardIMTLs:     cfg.HazardIMTLs,
		sesRatio:        cfg.SesRatio(),
		eventBased:      cfg.IsEventBased(),
		insuredLosses:   cfg.InsuredLosses,
		interestRate:    cfg.InterestRate,
		lifeExpectancy:  cfg.AssetLifeExpectancy,
		randomSeed:      cfg.RandomSeed,
		classicalCurves: cfg.UsesClassicalCurves(),
	}

	var err error
	switch {
	case cfg.IsDamage():
		err = crm.buildDamage(params)
	case cfg.IsBCR():
		err = crm.buildBCR(params)
	default:
		err = crm.buildVulnerability(params)
	}
	if err != nil {
		return nil, err
	}

	crm.initialize()
	return crm, nil
}

func (crm *CompositeRiskModel) buildDamage(params modelParams) error {
	crm.damageStates = append([]string{NoDamage}, crm.cfg.LimitStates...)
	for _, taxonomy := range sortedKeys(crm.functions) {
		sets := make(map[string]*FragilityFunctionSet)
		for lt, rf := range crm.functions[taxonomy] {
			ffs, ok := rf.(*FragilityFunctionSet)
			if !ok {
				return fmt.Errorf("%w: damage calculation needs fragility functions, taxonomy %s has %T for %s",
					apperrors.ErrInconsistentInput, taxonomy, rf, lt)
			}
			if got := ffs.LimitStates(); !slices.Equal(got, crm.cfg.LimitStates) {
				return fmt.Errorf("%w: fragility functions %s of taxonomy %s have limit states %v, expected %v",
					apperrors.ErrInconsistentInput, ffs.ID, taxonomy, got, crm.cfg.LimitStates)
			}
			sets[lt] = ffs
		}
		crm.models[taxonomy] = &FragilityModel{
			taxonomy:     taxonomy,
			functions:    sets,
			damageStates: crm.damageStates,
			params:       params,
		}
	}
	return nil
}

func (crm *CompositeRiskModel) buildBCR(params modelParams) error {
	orig := sortedKeys(crm.functions)
	retro := sortedKeys(crm.retrofitted)
	if len(orig) != len(retro) {
		return fmt.Errorf("%w: %d taxonomies with vulnerability functions, %d with retrofitted ones",
			apperrors.ErrInconsistentInput, len(orig), len(retro))
	}
	for i, taxonomy := range orig {
		if retro[i] != taxonomy {
			return fmt.Errorf("%w: taxonomy %s paired with retrofitted taxonomy %s",
				apperrors.ErrInconsistentInput, taxonomy, retro[i])
		}
		vfs, err := vulnerabilityFunctions(taxonomy, crm.functions[taxonomy])
		if err != nil {
			return err
		}
		retroVFs := crm.retrofitted[taxonomy]
		for lt, vf := range retroVFs {
			if err := vf.Validate(); err != nil {
				return fmt.Errorf("taxonomy %s, retrofitted loss type %s: %w", taxonomy, lt, err)
			}
		}
		crm.models[taxonomy] = &BCRModel{
			taxonomy:    taxonomy,
			original:    vfs,
			retrofitted: retroVFs,
			params:      params,
		}
	}
	return nil
}

func (crm *CompositeRiskModel) buildVulnerability(params modelParams) error {
	for taxonomy, byLT := range crm.functions {
		vfs, err := vulnerabilityFunctions(taxonomy, byLT)
		if err != nil {
			return err
		}
		crm.models[taxonomy] = &VulnerabilityModel{
			taxonomy:  taxonomy,
			functions: vfs,
			params:    params,
		}
	}
	return nil
}

func vulnerabilityFunctions(taxonomy string, byLT map[string]RiskFunction) (map[string]*VulnerabilityFunction, error) {
	vfs := make(map[string]*VulnerabilityFunction, len(byLT))
	for lt, rf := range byLT {
		vf, ok := rf.(*VulnerabilityFunction)
		if !ok {
			return nil, fmt.Errorf("%w: taxonomy %s has %T for %s, expected a vulnerability function",
				apperrors.ErrInconsistentInput, taxonomy, rf, lt)
		}
		vfs[lt] = vf
	}
	return vfs, nil
}

// initialize derives the loss types, the curve builders and the diagnostics.
func (crm *CompositeRiskModel) initialize() {
	lossTypes := mapset.NewThreadUnsafeSet[string]()
	for taxonomy, m := range crm.models {
		crm.taxonomies = append(crm.taxonomies, taxonomy)
		for _, lt := range m.LossTypes() {
			lossTypes.Add(lt)
			if rf, ok := m.Function(lt); ok && rf.NonzeroCoV() {
				crm.covs++
			}
		}
	}
	sort.Strings(crm.taxonomies)
	crm.lossTypes = lossTypes.ToSlice()
	sort.Strings(crm.lossTypes)

	crm.lti = make(map[string]int, len(crm.lossTypes))
	crm.builders = make([]*CurveBuilder, len(crm.lossTypes))
	for i, lt := range crm.lossTypes {
		cb := crm.curveBuilder(lt)
		cb.Index = i
		crm.builders[i] = cb
		crm.lti[lt] = i
	}

	crm.logger.Info("Risk model initialized",
		zap.String("mode", crm.cfg.EffectiveMode()),
		zap.Int("taxonomies", len(crm.taxonomies)),
		zap.Strings("loss_types", crm.lossTypes),
		zap.Int("covs", crm.covs))
}

func (crm *CompositeRiskModel) curveBuilder(lossType string) *CurveBuilder {
	cb := &CurveBuilder{
		LossType:            lossType,
		SesRatio:            crm.cfg.SesRatio(),
		ConditionalLossPoEs: crm.cfg.ConditionalLossPoEs,
		InsuredLosses:       crm.cfg.InsuredLosses,
	}

	if crm.cfg.UsesClassicalCurves() {
		var lines []string
		resolutions := mapset.NewThreadUnsafeSet[int]()
		for _, taxonomy := range crm.taxonomies {
			ratios := crm.models[taxonomy].LossRatios(lossType)
			if ratios == nil {
				continue
			}
			resolutions.Add(len(ratios))
			lines = append(lines, fmt.Sprintf("%s %d", taxonomy, len(ratios)))
			if len(ratios) > cb.Resolution {
				cb.Resolution = len(ratios)
				cb.Ratios = ratios
			}
		}
		if resolutions.Cardinality() > 1 {
			crm.logger.Warn("Different number of loss ratios across taxonomies, using the largest",
				zap.String("loss_type", lossType),
				zap.Int("resolution", cb.Resolution),
				zap.String("resolutions", logging.TruncateList(lines, logging.MaxListLogLength)))
		}
		if cb.Resolution > 0 {
			cb.UserProvided = true
			return cb
		}
	}

	if ratios, ok := crm.cfg.LossRatios[lossType]; ok && len(ratios) > 0 {
		cb.Resolution = len(ratios)
		cb.Ratios = ratios
		cb.UserProvided = true
		return cb
	}

	res := crm.cfg.LossCurveResolution
	cb.Resolution = res
	cb.Ratios = floats.Span(make([]float64, res+1), 0, 1)[1:]
	return cb
}

// Get returns the risk model of a taxonomy.
func (crm *CompositeRiskModel) Get(taxonomy string) (RiskModel, error) {
	m, ok := crm.models[taxonomy]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrTaxonomyNotFound, taxonomy)
	}
	return m, nil
}

// Taxonomies returns the taxonomies with a risk model, sorted.
func (crm *CompositeRiskModel) Taxonomies() []string {
	return crm.taxonomies
}

// LossTypes returns the loss types of all models, sorted.
func (crm *CompositeRiskModel) LossTypes() []string {
	return crm.lossTypes
}

// LossTypeIndex returns the position of a loss type in LossTypes.
func (crm *CompositeRiskModel) LossTypeIndex(lossType string) (int, bool) {
	i, ok := crm.lti[lossType]
	return i, ok
}

// CurveBuilders returns one curve builder per loss type, in LossTypes order.
func (crm *CompositeRiskModel) CurveBuilders() []*CurveBuilder {
	return crm.builders
}

// Covs returns the number of risk functions with a nonzero coefficient of
// variation.
func (crm *CompositeRiskModel) Covs() int {
	return crm.covs
}

// DamageStates returns the damage states of damage calculations.
func (crm *CompositeRiskModel) DamageStates() []string {
	return crm.damageStates
}

// MinIML returns, per IMT, the smallest first intensity level of the risk
// functions defined on it.
func (crm *CompositeRiskModel) MinIML() map[string]float64 {
	out := make(map[string]float64)
	for _, m := range crm.models {
		for _, lt := range m.LossTypes() {
			rf, _ := m.Function(lt)
			h := rf.Header()
			if len(h.IMLs) == 0 {
				continue
			}
			if cur, ok := out[h.IMT]; !ok || h.IMLs[0] < cur {
				out[h.IMT] = h.IMLs[0]
			}
		}
	}
	return out
}

// IMTs returns the IMTs of the risk functions, sorted.
func (crm *CompositeRiskModel) IMTs() []string {
	return sortedKeys(crm.MinIML())
}

// LossRatios are the loss ratio grids of the curve builders.
type LossRatios struct {
	UserProvided bool                 `yaml:"user_provided" json:"user_provided"`
	Ratios       map[string][]float64 `yaml:"ratios" json:"ratios"`
}

// LossRatios returns the loss ratio grid of every loss type.
func (crm *CompositeRiskModel) LossRatios() LossRatios {
	out := LossRatios{Ratios: make(map[string][]float64, len(crm.builders))}
	for _, cb := range crm.builders {
		out.Ratios[cb.LossType] = cb.Ratios
		out.UserProvided = cb.UserProvided
	}
	return out
}

// Snapshot is the registry as handed to the persistence layer.
type Snapshot struct {
	Functions    map[string]map[string]RiskFunction          `yaml:"functions" json:"functions"`
	Retrofitted  map[string]map[string]*VulnerabilityFunction `yaml:"retrofitted,omitempty" json:"retrofitted,omitempty"`
	LossTypes    []string                                     `yaml:"loss_types" json:"loss_types"`
	DamageStates []string                                     `yaml:"damage_states,omitempty" json:"damage_states,omitempty"`
	Covs         int                                          `yaml:"covs" json:"covs"`
	LossRatios   LossRatios                                   `yaml:"loss_ratios" json:"loss_ratios"`
}

// Export returns the registry contents and summary metadata.
func (crm *CompositeRiskModel) Export() Snapshot {
	return Snapshot{
		Functions:    crm.functions,
		Retrofitted:  crm.retrofitted,
		LossTypes:    crm.lossTypes,
		DamageStates: crm.damageStates,
		Covs:         crm.covs,
		LossRatios:   crm.LossRatios(),
	}
}

func (crm *CompositeRiskModel) String() string {
	return fmt.Sprintf("<CompositeRiskModel %s taxonomies=[%s] loss_types=[%s]>",
		crm.cfg.EffectiveMode(), strings.Join(crm.taxonomies, ", "), strings.Join(crm.lossTypes, ", "))
}
