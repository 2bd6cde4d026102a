package riskmodel

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/config"
)

func calcConfig(mode string) config.CalculationConfig {
	return config.CalculationConfig{
		Mode:                 mode,
		LossCurveResolution:  4,
		LremStepsPerInterval: 1,
		RandomSeed:           42,
		InvestigationTime:    1,
		SesPerLogicTreePath:  1,
	}
}

func sampleFunctions() map[string]map[string]RiskFunction {
	return map[string]map[string]RiskFunction{
		"RC": {
			"structural": newVF("RC-s", "PGA", []float64{0.1, 0.2}, []float64{0.2, 0.4}, []float64{0.3, 0.3}),
		},
		"W1": {
			"structural":    newVF("W1-s", "PGA", []float64{0.05, 0.2, 0.4}, []float64{0.1, 0.2, 0.3}, nil),
			"nonstructural": newVF("W1-n", "SA(0.3)", []float64{0.2, 0.5}, []float64{0.1, 0.5}, nil),
		},
	}
}

func TestNew_StandardMode(t *testing.T) {
	crm, err := New(calcConfig(config.ModeScenario), sampleFunctions(), nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"RC", "W1"}, crm.Taxonomies())
	assert.Equal(t, []string{"nonstructural", "structural"}, crm.LossTypes())
	idx, ok := crm.LossTypeIndex("structural")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	_, ok = crm.LossTypeIndex("contents")
	assert.False(t, ok)
	assert.Equal(t, 1, crm.Covs())
	assert.Equal(t, map[string]float64{"PGA": 0.05, "SA(0.3)": 0.2}, crm.MinIML())
	assert.Equal(t, []string{"PGA", "SA(0.3)"}, crm.IMTs())
	assert.Empty(t, crm.DamageStates())

	m, err := crm.Get("W1")
	require.NoError(t, err)
	assert.IsType(t, &VulnerabilityModel{}, m)
	assert.Equal(t, []string{"nonstructural", "structural"}, m.LossTypes())

	assert.Contains(t, crm.String(), "taxonomies=[RC, W1]")
}

func TestGet_UnknownTaxonomy(t *testing.T) {
	crm, err := New(calcConfig(config.ModeScenario), sampleFunctions(), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = crm.Get("S2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTaxonomyNotFound))
	assert.Contains(t, err.Error(), "S2")
}

func TestCurveBuilders_DefaultGrid(t *testing.T) {
	crm, err := New(calcConfig(config.ModeScenario), sampleFunctions(), nil, zap.NewNop())
	require.NoError(t, err)

	builders := crm.CurveBuilders()
	require.Len(t, builders, 2)
	for i, cb := range builders {
		assert.Equal(t, i, cb.Index)
		assert.Equal(t, crm.LossTypes()[i], cb.LossType)
		assert.Equal(t, 4, cb.Resolution)
		assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, cb.Ratios)
		assert.False(t, cb.UserProvided)
		assert.Equal(t, 1.0, cb.SesRatio)
	}
	assert.False(t, crm.LossRatios().UserProvided)
}

func TestCurveBuilders_UserGrid(t *testing.T) {
	cfg := calcConfig(config.ModeEventBasedRisk)
	cfg.LossRatios = map[string][]float64{"structural": {0.1, 0.2, 0.3}}
	cfg.SesPerLogicTreePath = 10
	crm, err := New(cfg, sampleFunctions(), nil, zap.NewNop())
	require.NoError(t, err)

	cb := crm.CurveBuilders()[1]
	assert.Equal(t, "structural", cb.LossType)
	assert.Equal(t, 3, cb.Resolution)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, cb.Ratios)
	assert.True(t, cb.UserProvided)
	assert.InDelta(t, 0.1, cb.SesRatio, 1e-12)

	other := crm.CurveBuilders()[0]
	assert.Equal(t, 4, other.Resolution)
	assert.False(t, other.UserProvided)
}

func TestCurveBuilders_ClassicalTakesLargestResolution(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	crm, err := New(calcConfig(config.ModeClassicalRisk), sampleFunctions(), nil, zap.New(core))
	require.NoError(t, err)

	// RC: [0 0.2 0.4 1], W1: [0 0.1 0.2 0.3 1]
	cb := crm.CurveBuilders()[1]
	assert.Equal(t, "structural", cb.LossType)
	assert.Equal(t, 5, cb.Resolution)
	assert.Equal(t, []float64{0, 0.1, 0.2, 0.3, 1}, cb.Ratios)
	assert.True(t, cb.UserProvided)
	for _, taxonomy := range crm.Taxonomies() {
		m, err := crm.Get(taxonomy)
		require.NoError(t, err)
		if ratios := m.LossRatios("structural"); ratios != nil {
			assert.LessOrEqual(t, len(ratios), cb.Resolution)
		}
	}

	warnings := logs.FilterMessageSnippet("Different number of loss ratios").All()
	require.Len(t, warnings, 1)
	fields := warnings[0].ContextMap()
	assert.Equal(t, "structural", fields["loss_type"])
	assert.Equal(t, "RC 4, W1 5", fields["resolutions"])
}

func TestNew_BCRTaxonomyMismatch(t *testing.T) {
	retro := map[string]map[string]*VulnerabilityFunction{
		"RC": {"structural": newVF("RC-r", "PGA", []float64{0.1, 0.2}, []float64{0.1, 0.2}, nil)},
		"W2": {"structural": newVF("W2-r", "PGA", []float64{0.1, 0.2}, []float64{0.1, 0.2}, nil)},
	}
	_, err := New(calcConfig(config.ModeClassicalBCR), sampleFunctions(), retro, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentInput))
	assert.Contains(t, err.Error(), "W1")
	assert.Contains(t, err.Error(), "W2")

	_, err = New(calcConfig(config.ModeClassicalBCR), sampleFunctions(), map[string]map[string]*VulnerabilityFunction{}, zap.NewNop())
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentInput))
}

func TestNew_DamageMode(t *testing.T) {
	cfg := calcConfig(config.ModeScenarioDamage)
	cfg.LimitStates = []string{"slight", "extensive"}

	_, err := New(cfg, sampleFunctions(), nil, zap.NewNop())
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentInput))

	crm, err := New(cfg, map[string]map[string]RiskFunction{
		"RC": {"structural": discreteSet()},
	}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{NoDamage, "slight", "extensive"}, crm.DamageStates())
	m, err := crm.Get("RC")
	require.NoError(t, err)
	assert.IsType(t, &FragilityModel{}, m)

	cfg.LimitStates = []string{"slight", "moderate", "extensive"}
	_, err = New(cfg, map[string]map[string]RiskFunction{
		"RC": {"structural": discreteSet()},
	}, nil, zap.NewNop())
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentInput))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := calcConfig(config.ModeScenario)
	cfg.LossCurveResolution = 0
	_, err := New(cfg, sampleFunctions(), nil, zap.NewNop())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfig))

	_, err = New(config.CalculationConfig{Mode: "unknown", LossCurveResolution: 4}, sampleFunctions(), nil, zap.NewNop())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfig))
}

func TestNew_Empty(t *testing.T) {
	_, err := New(calcConfig(config.ModeScenario), nil, nil, zap.NewNop())
	assert.True(t, errors.Is(err, apperrors.ErrEmptyInput))
}

func TestExport(t *testing.T) {
	crm, err := New(calcConfig(config.ModeScenario), sampleFunctions(), nil, zap.NewNop())
	require.NoError(t, err)

	snap := crm.Export()
	assert.Equal(t, crm.LossTypes(), snap.LossTypes)
	assert.Equal(t, 1, snap.Covs)
	assert.Len(t, snap.Functions, 2)
	assert.Len(t, snap.LossRatios.Ratios, 2)

	out, err := yaml.Marshal(snap)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "mean_loss_ratios"))
	assert.True(t, strings.Contains(string(out), "loss_types"))
}

const functionsYAML = `
vulnerability:
  RC:
    structural:
      id: RC-s
      imt: PGA
      imls: [0.1, 0.2]
      mean_loss_ratios: [0.2, 0.4]
      covs: [0.1, 0.1]
    structural_retrofitted:
      id: RC-s-r
      imt: PGA
      imls: [0.1, 0.2]
      mean_loss_ratios: [0.1, 0.2]
fragility:
  W1:
    structural:
      id: W1-f
      imt: PGA
      format: continuous
      functions:
        - {limit_state: slight, mean: 0.2, stddev: 0.1}
`

func TestLoadFunctions(t *testing.T) {
	functions, retro, err := LoadFunctions(strings.NewReader(functionsYAML))
	require.NoError(t, err)

	require.Contains(t, functions, "RC")
	vf, ok := functions["RC"]["structural"].(*VulnerabilityFunction)
	require.True(t, ok)
	assert.Equal(t, "RC-s", vf.ID)
	assert.Equal(t, "PGA", vf.IMT)
	assert.Equal(t, []float64{0.2, 0.4}, vf.MeanLossRatios)
	assert.NotContains(t, functions["RC"], "structural_retrofitted")

	require.Contains(t, retro, "RC")
	assert.Equal(t, "RC-s-r", retro["RC"]["structural"].ID)

	ffs, ok := functions["W1"]["structural"].(*FragilityFunctionSet)
	require.True(t, ok)
	assert.Equal(t, FormatContinuous, ffs.Format)
	assert.Equal(t, []string{"slight"}, ffs.LimitStates())
}

func TestLoadFunctions_Duplicate(t *testing.T) {
	doc := `
vulnerability:
  RC:
    structural: {id: a, imt: PGA, imls: [0.1], mean_loss_ratios: [0.1]}
fragility:
  RC:
    structural: {id: b, imt: PGA, format: continuous, functions: [{limit_state: slight, mean: 0.2}]}
`
	_, _, err := LoadFunctions(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, _, err = LoadFunctions(strings.NewReader("vulnerability: [1, 2]"))
	assert.Error(t, err)
}
