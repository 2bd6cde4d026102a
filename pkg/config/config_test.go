package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
env: "test"
calculation:
  calculation_mode: "event_based_risk"
  loss_curve_resolution: 20
  random_seed: 7
  time_event: "night"
  conditional_loss_poes: [0.1, 0.02]
  loss_ratios:
    structural: [0.1, 0.2, 0.5]
hazard:
  truncation_level: 2.5
  minimum_intensity:
    PGA: 0.05
`)

	t.Setenv("RANDOM_SEED", "99")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load(path, "test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Calculation.RandomSeed != 99 {
		t.Errorf("expected RandomSeed=99 (from env), got %d", cfg.Calculation.RandomSeed)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}

	// Values only present in YAML
	if cfg.Calculation.Mode != ModeEventBasedRisk {
		t.Errorf("expected event_based_risk mode, got %s", cfg.Calculation.Mode)
	}
	if cfg.Calculation.LossCurveResolution != 20 {
		t.Errorf("expected LossCurveResolution=20, got %d", cfg.Calculation.LossCurveResolution)
	}
	if got := cfg.Calculation.LossRatios["structural"]; len(got) != 3 || got[2] != 0.5 {
		t.Errorf("unexpected structural loss ratios: %v", got)
	}
	if len(cfg.Calculation.ConditionalLossPoEs) != 2 {
		t.Errorf("expected 2 conditional loss poes, got %v", cfg.Calculation.ConditionalLossPoEs)
	}
	if cfg.Hazard.TruncationLevel != 2.5 {
		t.Errorf("expected TruncationLevel=2.5, got %g", cfg.Hazard.TruncationLevel)
	}
	if cfg.Hazard.MinimumIntensity["PGA"] != 0.05 {
		t.Errorf("expected PGA minimum intensity 0.05, got %v", cfg.Hazard.MinimumIntensity)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
env: "test"
`)

	cfg, err := Load(path, "dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Calculation.Mode != ModeScenario {
		t.Errorf("expected default mode scenario, got %s", cfg.Calculation.Mode)
	}
	if cfg.Calculation.LossCurveResolution != 50 {
		t.Errorf("expected default resolution 50, got %d", cfg.Calculation.LossCurveResolution)
	}
	if cfg.Calculation.LremStepsPerInterval != 5 {
		t.Errorf("expected default lrem steps 5, got %d", cfg.Calculation.LremStepsPerInterval)
	}
	if cfg.Workers.MaxConcurrentRuptureTasks != 1 {
		t.Errorf("expected default rupture concurrency 1, got %d", cfg.Workers.MaxConcurrentRuptureTasks)
	}
	if cfg.Metrics.Namespace != "ekaya_risk" {
		t.Errorf("expected default namespace ekaya_risk, got %s", cfg.Metrics.Namespace)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	if err == nil {
		t.Error("expected error when config file is missing")
	}
}

func TestLoad_InvalidMode(t *testing.T) {
	path := writeConfig(t, `
calculation:
  calculation_mode: "volcanic"
`)

	_, err := Load(path, "dev")
	if !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCalculationConfig_Validate(t *testing.T) {
	base := func() CalculationConfig {
		return CalculationConfig{Mode: ModeScenario, LossCurveResolution: 10}
	}

	tests := []struct {
		name    string
		mutate  func(c *CalculationConfig)
		wantErr bool
	}{
		{"valid", func(c *CalculationConfig) {}, false},
		{"zero resolution", func(c *CalculationConfig) { c.LossCurveResolution = 0 }, true},
		{"correlation above one", func(c *CalculationConfig) { c.AssetCorrelation = 1.5 }, true},
		{"negative samples", func(c *CalculationConfig) { c.NumberOfSamples = -1 }, true},
		{"damage without limit states", func(c *CalculationConfig) { c.Mode = ModeScenarioDamage }, true},
		{"damage with limit states", func(c *CalculationConfig) {
			c.Mode = ModeScenarioDamage
			c.LimitStates = []string{"slight", "collapse"}
		}, false},
		{"poe out of range", func(c *CalculationConfig) { c.ConditionalLossPoEs = []float64{1.2} }, true},
		{"non increasing loss ratios", func(c *CalculationConfig) {
			c.LossRatios = map[string][]float64{"structural": {0.2, 0.1}}
		}, true},
		{"empty loss ratios", func(c *CalculationConfig) {
			c.LossRatios = map[string][]float64{"structural": {}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr && !errors.Is(err, apperrors.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCalculationConfig_EffectiveMode(t *testing.T) {
	c := CalculationConfig{Mode: ModeClassical, LimitStates: []string{"ds1"}}
	if got := c.EffectiveMode(); got != ModeClassicalDamage {
		t.Errorf("expected classical_damage, got %s", got)
	}
	if c.UsesClassicalCurves() {
		t.Error("damage calculation should not use classical loss curves")
	}

	c = CalculationConfig{Mode: ModeClassicalRisk}
	if !c.UsesClassicalCurves() {
		t.Error("classical_risk should use classical loss curves")
	}

	c = CalculationConfig{Mode: ModeEventBasedBCR}
	if !c.IsBCR() || !c.IsEventBased() {
		t.Error("event_based_bcr should be both BCR and event based")
	}
}

func TestCalculationConfig_SesRatio(t *testing.T) {
	c := CalculationConfig{Mode: ModeScenario, InvestigationTime: 50, SesPerLogicTreePath: 10}
	if got := c.SesRatio(); got != 1 {
		t.Errorf("expected ses ratio 1 outside event based, got %g", got)
	}

	c.Mode = ModeEventBasedRisk
	if got := c.SesRatio(); got != 50.0/500.0 {
		t.Errorf("expected ses ratio 0.1, got %g", got)
	}

	c.RiskInvestigationTime = 1
	if got := c.SesRatio(); got != 1.0/500.0 {
		t.Errorf("expected ses ratio 0.002, got %g", got)
	}
}

func TestHazardConfig_MinIML(t *testing.T) {
	h := HazardConfig{MinimumIntensity: map[string]float64{"PGA": 0.1, "SA(1.0)": 0.02}}
	fallback := map[string]float64{"PGA": 0.05, "SA(0.3)": 0.2}

	got := h.MinIML(fallback)
	want := map[string]float64{"PGA": 0.1, "SA(0.3)": 0.2, "SA(1.0)": 0.02}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for imt, v := range want {
		if got[imt] != v {
			t.Errorf("expected %s threshold %g, got %g", imt, v, got[imt])
		}
	}
	if fallback["PGA"] != 0.05 {
		t.Error("fallback thresholds must not be modified")
	}

	if got := (HazardConfig{}).MinIML(nil); len(got) != 0 {
		t.Errorf("expected no thresholds, got %v", got)
	}
}
