package riskmodel

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/config"
	"github.com/ekaya-inc/ekaya-risk/pkg/hazard"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

func testAsset(ordinal int, taxonomy string, value float64) *models.Asset {
	return &models.Asset{
		Idx:      uint32(100 + ordinal),
		Ordinal:  ordinal,
		Taxonomy: taxonomy,
		Number:   1,
		Values:   map[string]float64{"structural": value},
	}
}

func gmvHazard(values ...float32) hazard.Hazard {
	h := hazard.Hazard{}
	for i, v := range values {
		h.GMVs = append(h.GMVs, hazard.GMV{Value: v, EventID: uint32(i + 1)})
	}
	return h
}

func rcFunctions() map[string]map[string]RiskFunction {
	return map[string]map[string]RiskFunction{
		"RC": {"structural": newVF("RC-s", "PGA", []float64{0.1, 0.2}, []float64{0.2, 0.4}, nil)},
	}
}

func TestVulnerabilityModel_ScenarioLosses(t *testing.T) {
	cfg := calcConfig(config.ModeScenario)
	cfg.InsuredLosses = true
	crm, err := New(cfg, rcFunctions(), nil, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)

	a := testAsset(0, "RC", 100)
	a.Deductibles = map[string]float64{"structural": 10}
	a.InsuranceLimits = map[string]float64{"structural": 30}

	out, err := m.Compute("structural", []*models.Asset{a}, gmvHazard(0.1, 0.2), nil)
	require.NoError(t, err)
	el, ok := out.(*EventLosses)
	require.True(t, ok)
	assert.Equal(t, KindEventLosses, el.Kind())
	assert.Equal(t, []int{0}, el.AssetOrdinals())
	assert.Equal(t, []uint32{1, 2}, el.EventIDs)
	assert.Equal(t, 2, el.Events)

	assert.InDelta(t, 20, el.Losses.At(0, 0), 1e-4)
	assert.InDelta(t, 40, el.Losses.At(0, 1), 1e-4)
	assert.InDelta(t, 30, el.AverageLosses[0], 1e-4)
	require.NotNil(t, el.InsuredLosses)
	assert.InDelta(t, 10, el.InsuredLosses.At(0, 0), 1e-4)
	assert.InDelta(t, 20, el.InsuredLosses.At(0, 1), 1e-4)
	assert.InDelta(t, 15, el.InsuredAverageLosses[0], 1e-4)

	_, err = m.Compute("contents", []*models.Asset{a}, gmvHazard(0.1), nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestVulnerabilityModel_EventBasedAverage(t *testing.T) {
	cfg := calcConfig(config.ModeEventBasedRisk)
	cfg.SesPerLogicTreePath = 10
	crm, err := New(cfg, rcFunctions(), nil, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)

	out, err := m.Compute("structural", []*models.Asset{testAsset(3, "RC", 100)}, gmvHazard(0.1, 0.2), nil)
	require.NoError(t, err)
	el := out.(*EventLosses)
	assert.InDelta(t, 6, el.AverageLosses[0], 1e-4)
	assert.Zero(t, el.Events)
	assert.Nil(t, el.InsuredLosses)
}

func TestVulnerabilityModel_Epsilons(t *testing.T) {
	functions := map[string]map[string]RiskFunction{
		"RC": {"structural": newVF("RC-s", "PGA", []float64{0.1, 0.2}, []float64{0.2, 0.4}, []float64{0.5, 0.5})},
	}
	crm, err := New(calcConfig(config.ModeScenario), functions, nil, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)

	var gotOrdinal int
	var gotEvents []uint32
	eps := func(ordinal int, eventIDs []uint32) ([]float64, error) {
		gotOrdinal, gotEvents = ordinal, eventIDs
		return []float64{0, 1}, nil
	}
	out, err := m.Compute("structural", []*models.Asset{testAsset(5, "RC", 100)}, gmvHazard(0.2, 0.2), eps)
	require.NoError(t, err)
	el := out.(*EventLosses)

	assert.Equal(t, 5, gotOrdinal)
	assert.Equal(t, []uint32{1, 2}, gotEvents)
	median := 0.4 / math.Sqrt(1.25) * 100
	assert.InDelta(t, median, el.Losses.At(0, 0), 1e-4)
	assert.InDelta(t, median*math.Exp(math.Sqrt(math.Log(1.25))), el.Losses.At(0, 1), 1e-4)
}

func TestVulnerabilityModel_ClassicalLossCurves(t *testing.T) {
	crm, err := New(calcConfig(config.ModeClassicalRisk), rcFunctions(), nil, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)

	assets := []*models.Asset{testAsset(0, "RC", 100), testAsset(1, "RC", 50)}
	out, err := m.Compute("structural", assets, hazard.Hazard{PoEs: []float64{0.5, 0.1}}, nil)
	require.NoError(t, err)
	lc, ok := out.(*LossCurves)
	require.True(t, ok)
	assert.Equal(t, KindLossCurves, lc.Kind())
	assert.Equal(t, []int{0, 1}, lc.AssetOrdinals())

	assert.Equal(t, []float64{0, 0.2, 0.4, 1}, lc.LossRatios)
	expected := []float64{0.4, 0.4, 0.2, 0}
	for i, p := range expected {
		assert.InDelta(t, p, lc.Curves[0].PoEs[i], 1e-12)
	}
	assert.InDelta(t, 40, lc.Curves[0].Losses[2], 1e-12)
	assert.InDelta(t, 20, lc.AverageLosses[0], 1e-9)
	assert.InDelta(t, 10, lc.AverageLosses[1], 1e-9)

	_, err = m.Compute("structural", assets, hazard.Hazard{PoEs: []float64{0.5, 0.1, 0.01}}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrHazardMismatch))
}

func TestVulnerabilityModel_ClassicalHazardLevels(t *testing.T) {
	cfg := calcConfig(config.ModeClassicalRisk)
	cfg.HazardIMTLs = map[string][]float64{"PGA": {0.05, 0.1, 0.2, 0.3}}
	crm, err := New(cfg, rcFunctions(), nil, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)

	// same curve as above, sampled on a wider grid
	out, err := m.Compute("structural", []*models.Asset{testAsset(0, "RC", 100)},
		hazard.Hazard{PoEs: []float64{0.6, 0.5, 0.1, 0.05}}, nil)
	require.NoError(t, err)
	lc := out.(*LossCurves)
	// poes at the mean levels 0.05, 0.15, 0.25: 0.6, 0.3, 0.075
	expected := []float64{0.525, 0.525, 0.225, 0}
	for i, p := range expected {
		assert.InDelta(t, p, lc.Curves[0].PoEs[i], 1e-12)
	}
}

func TestFragilityModel_ScenarioDamage(t *testing.T) {
	cfg := calcConfig(config.ModeScenarioDamage)
	cfg.LimitStates = []string{"slight", "extensive"}
	crm, err := New(cfg, map[string]map[string]RiskFunction{"RC": {"structural": discreteSet()}}, nil, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)

	a := testAsset(0, "RC", 100)
	a.Number = 3
	out, err := m.Compute("structural", []*models.Asset{a}, gmvHazard(0.2, 1.0), nil)
	require.NoError(t, err)
	dd, ok := out.(*DamageDistribution)
	require.True(t, ok)
	assert.Equal(t, KindDamage, dd.Kind())
	assert.Equal(t, []string{NoDamage, "slight", "extensive"}, dd.DamageStates)
	assert.Equal(t, 2, dd.Events)

	// mean of [0.5 0.25 0.25] and [0 0.5 0.5], times 3 buildings
	assert.InDelta(t, 0.75, dd.Fractions.At(0, 0), 1e-5)
	assert.InDelta(t, 1.125, dd.Fractions.At(0, 1), 1e-5)
	assert.InDelta(t, 1.125, dd.Fractions.At(0, 2), 1e-5)
}

func TestFragilityModel_ClassicalDamage(t *testing.T) {
	cfg := calcConfig(config.ModeClassicalDamage)
	cfg.LimitStates = []string{"slight", "extensive"}
	crm, err := New(cfg, map[string]map[string]RiskFunction{"RC": {"structural": discreteSet()}}, nil, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)

	out, err := m.Compute("structural", []*models.Asset{testAsset(0, "RC", 100)},
		hazard.Hazard{PoEs: []float64{0.5, 0.2, 0.1}}, nil)
	require.NoError(t, err)
	dd := out.(*DamageDistribution)

	assert.InDelta(t, 0.85, dd.Fractions.At(0, 0), 1e-12)
	assert.InDelta(t, 0.075, dd.Fractions.At(0, 1), 1e-12)
	assert.InDelta(t, 0.075, dd.Fractions.At(0, 2), 1e-12)

	_, err = m.Compute("structural", []*models.Asset{testAsset(0, "RC", 100)}, hazard.Hazard{PoEs: []float64{0.5}}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrHazardMismatch))
}

func TestBCRModel_Classical(t *testing.T) {
	retro := map[string]map[string]*VulnerabilityFunction{
		"RC": {"structural": newVF("RC-r", "PGA", []float64{0.1, 0.2}, []float64{0.1, 0.2}, nil)},
	}
	cfg := calcConfig(config.ModeClassicalBCR)
	cfg.AssetLifeExpectancy = 10
	crm, err := New(cfg, rcFunctions(), retro, zap.NewNop())
	require.NoError(t, err)
	m, err := crm.Get("RC")
	require.NoError(t, err)
	assert.IsType(t, &BCRModel{}, m)

	a := testAsset(2, "RC", 100)
	a.Retrofitted = map[string]float64{"structural": 25}
	out, err := m.Compute("structural", []*models.Asset{a}, hazard.Hazard{PoEs: []float64{0.5, 0.1}}, nil)
	require.NoError(t, err)
	res, ok := out.(*BCRResults)
	require.True(t, ok)
	assert.Equal(t, []int{2}, res.AssetOrdinals())

	r := res.Results[0]
	assert.InDelta(t, 20, r.EALOriginal, 1e-9)
	assert.InDelta(t, 15, r.EALRetrofitted, 1e-9)
	assert.InDelta(t, 2, r.BCR, 1e-9)
}

func TestBCR(t *testing.T) {
	assert.InDelta(t, 2, BCR(20, 15, 0, 10, 25), 1e-12)
	rate := 0.05
	factor := (1 - math.Exp(-rate*10)) / rate
	assert.InDelta(t, 5*factor/25, BCR(20, 15, rate, 10, 25), 1e-12)
	assert.True(t, math.IsInf(BCR(20, 15, 0, 10, 0), 1))
}

func TestInsuredLoss(t *testing.T) {
	assert.Equal(t, 0.0, InsuredLoss(5, 10, 30))
	assert.Equal(t, 5.0, InsuredLoss(15, 10, 30))
	assert.Equal(t, 20.0, InsuredLoss(50, 10, 30))
}

func TestAverageLoss(t *testing.T) {
	c := Curve{Losses: []float64{0, 0.2, 0.4, 1}, PoEs: []float64{0.4, 0.4, 0.2, 0}}
	assert.InDelta(t, 0.2, AverageLoss(c), 1e-12)
	assert.Equal(t, 0.0, AverageLoss(Curve{}))
}

func TestCurveBuilder_BuildLossCurve(t *testing.T) {
	cb := &CurveBuilder{Ratios: []float64{0.25, 0.5, 1}, SesRatio: 1}
	c := cb.BuildLossCurve(100, []float64{60, 10, 100, 30})

	assert.Equal(t, []float64{25, 50, 100}, c.Losses)
	assert.InDelta(t, 1-math.Exp(-3), c.PoEs[0], 1e-12)
	assert.InDelta(t, 1-math.Exp(-2), c.PoEs[1], 1e-12)
	assert.InDelta(t, 1-math.Exp(-1), c.PoEs[2], 1e-12)
}

func TestConditionalLosses(t *testing.T) {
	cb := &CurveBuilder{ConditionalLossPoEs: []float64{0.6, 0.05, 0.3, 0.4}}
	c := Curve{Losses: []float64{0, 10, 20}, PoEs: []float64{0.5, 0.3, 0.1}}

	got := cb.ConditionalLosses(c)
	require.Len(t, got, 4)
	assert.Equal(t, 0.0, got[0])
	assert.Equal(t, 20.0, got[1])
	assert.Equal(t, 10.0, got[2])
	assert.InDelta(t, 5, got[3], 1e-12)
}
