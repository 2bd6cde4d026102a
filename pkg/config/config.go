package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
)

// Calculation modes understood by the risk core.
const (
	ModeClassical       = "classical"
	ModeClassicalRisk   = "classical_risk"
	ModeClassicalDamage = "classical_damage"
	ModeClassicalBCR    = "classical_bcr"
	ModeScenario        = "scenario"
	ModeScenarioDamage  = "scenario_damage"
	ModeScenarioBCR     = "scenario_bcr"
	ModeEventBasedBCR   = "event_based_bcr"
	ModeEventBasedRisk  = "event_based_risk"
)

var validModes = map[string]bool{
	ModeClassical:       true,
	ModeClassicalRisk:   true,
	ModeClassicalDamage: true,
	ModeClassicalBCR:    true,
	ModeScenario:        true,
	ModeScenarioDamage:  true,
	ModeScenarioBCR:     true,
	ModeEventBasedBCR:   true,
	ModeEventBasedRisk:  true,
}

// Config holds all configuration for ekaya-risk.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Calculation CalculationConfig `yaml:"calculation"`
	Hazard      HazardConfig      `yaml:"hazard"`
	Workers     WorkersConfig     `yaml:"workers"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// CalculationConfig holds the parameters of a risk calculation.
type CalculationConfig struct {
	Mode                string  `yaml:"calculation_mode" env:"CALCULATION_MODE" env-default:"scenario"`
	LossCurveResolution int     `yaml:"loss_curve_resolution" env:"LOSS_CURVE_RESOLUTION" env-default:"50"`
	InsuredLosses       bool    `yaml:"insured_losses" env:"INSURED_LOSSES" env-default:"false"`
	RandomSeed          int64   `yaml:"random_seed" env:"RANDOM_SEED" env-default:"42"`
	NumberOfSamples     int     `yaml:"number_of_samples" env:"NUMBER_OF_SAMPLES" env-default:"0"`
	TimeEvent           string  `yaml:"time_event" env:"TIME_EVENT" env-default:""`
	AssetCorrelation    float64 `yaml:"asset_correlation" env:"ASSET_CORRELATION" env-default:"0"`

	// LremStepsPerInterval controls the fine graining of the loss ratios used
	// by the loss ratio exceedance matrix in classical calculations.
	LremStepsPerInterval int `yaml:"lrem_steps_per_interval" env:"LREM_STEPS_PER_INTERVAL" env-default:"5"`

	ConditionalLossPoEs []float64 `yaml:"conditional_loss_poes" env:"CONDITIONAL_LOSS_POES" env-separator:","`
	LimitStates         []string  `yaml:"limit_states" env:"LIMIT_STATES" env-separator:","`

	// LossRatios are user-supplied loss ratio grids by loss type (YAML only).
	LossRatios map[string][]float64 `yaml:"loss_ratios"`

	// HazardIMTLs are the intensity measure levels of the hazard curves by
	// IMT (YAML only). Curves for an IMT not listed are taken to be defined
	// on the levels of the risk function using them.
	HazardIMTLs map[string][]float64 `yaml:"intensity_measure_types_and_levels"`

	// Event based parameters
	InvestigationTime     float64 `yaml:"investigation_time" env:"INVESTIGATION_TIME" env-default:"1"`
	RiskInvestigationTime float64 `yaml:"risk_investigation_time" env:"RISK_INVESTIGATION_TIME" env-default:"0"`
	SesPerLogicTreePath   int     `yaml:"ses_per_logic_tree_path" env:"SES_PER_LOGIC_TREE_PATH" env-default:"1"`

	// Benefit-cost ratio parameters
	InterestRate        float64 `yaml:"interest_rate" env:"INTEREST_RATE" env-default:"0"`
	AssetLifeExpectancy float64 `yaml:"asset_life_expectancy" env:"ASSET_LIFE_EXPECTANCY" env-default:"0"`
}

// HazardConfig holds the parameters handed to the hazard engine collaborator.
type HazardConfig struct {
	TruncationLevel float64 `yaml:"truncation_level" env:"TRUNCATION_LEVEL" env-default:"3"`
	// MinimumIntensity overrides the per-IMT threshold below which ground
	// motion is discarded. IMTs not listed fall back to the risk model.
	MinimumIntensity map[string]float64 `yaml:"minimum_intensity" env:"MINIMUM_INTENSITY"`
}

// MinIML returns the per-IMT ground motion thresholds: the configured
// minimum intensities over the fallback thresholds of the risk model.
func (h HazardConfig) MinIML(fallback map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(fallback)+len(h.MinimumIntensity))
	for imt, v := range fallback {
		out[imt] = v
	}
	for imt, v := range h.MinimumIntensity {
		out[imt] = v
	}
	return out
}

// WorkersConfig bounds the number of risk tasks running at once.
type WorkersConfig struct {
	MaxConcurrentCurveTasks   int `yaml:"max_concurrent_curve_tasks" env:"MAX_CONCURRENT_CURVE_TASKS" env-default:"1"`
	MaxConcurrentRuptureTasks int `yaml:"max_concurrent_rupture_tasks" env:"MAX_CONCURRENT_RUPTURE_TASKS" env-default:"1"`
}

// MetricsConfig configures the prometheus collectors.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"METRICS_NAMESPACE" env-default:"ekaya_risk"`
}

// LoggingConfig is the subset of Config needed to build a logger.
type LoggingConfig struct {
	Env   string
	Level string
}

// Logging returns the logging section of the configuration.
func (c *Config) Logging() LoggingConfig {
	return LoggingConfig{Env: c.Env, Level: c.LogLevel}
}

// Load reads configuration from the YAML file at path with environment
// variable overrides. An empty path means config.yaml in the working directory.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the risk core cannot work with.
func (c *Config) Validate() error {
	if err := c.Calculation.Validate(); err != nil {
		return err
	}
	if c.Hazard.TruncationLevel < 0 {
		return fmt.Errorf("%w: truncation_level must be >= 0, got %g", apperrors.ErrInvalidConfig, c.Hazard.TruncationLevel)
	}
	for imt, v := range c.Hazard.MinimumIntensity {
		if v < 0 {
			return fmt.Errorf("%w: minimum_intensity for %s must be >= 0, got %g", apperrors.ErrInvalidConfig, imt, v)
		}
	}
	if c.Metrics.Namespace == "" {
		return fmt.Errorf("%w: metrics namespace is required", apperrors.ErrInvalidConfig)
	}
	return nil
}

// Validate checks the calculation section.
func (c *CalculationConfig) Validate() error {
	if !validModes[c.Mode] {
		return fmt.Errorf("%w: unknown calculation_mode %q", apperrors.ErrInvalidConfig, c.Mode)
	}
	if c.LossCurveResolution < 1 {
		return fmt.Errorf("%w: loss_curve_resolution must be positive, got %d", apperrors.ErrInvalidConfig, c.LossCurveResolution)
	}
	if c.AssetCorrelation < 0 || c.AssetCorrelation > 1 {
		return fmt.Errorf("%w: asset_correlation must be in [0, 1], got %g", apperrors.ErrInvalidConfig, c.AssetCorrelation)
	}
	if c.NumberOfSamples < 0 {
		return fmt.Errorf("%w: number_of_samples must be >= 0, got %d", apperrors.ErrInvalidConfig, c.NumberOfSamples)
	}
	if strings.HasSuffix(c.Mode, "_damage") && len(c.LimitStates) == 0 {
		return fmt.Errorf("%w: %s requires limit_states", apperrors.ErrInvalidConfig, c.Mode)
	}
	for _, poe := range c.ConditionalLossPoEs {
		if poe < 0 || poe > 1 {
			return fmt.Errorf("%w: conditional_loss_poes must be in [0, 1], got %g", apperrors.ErrInvalidConfig, poe)
		}
	}

	lossTypes := make([]string, 0, len(c.LossRatios))
	for lt := range c.LossRatios {
		lossTypes = append(lossTypes, lt)
	}
	sort.Strings(lossTypes)
	for _, lt := range lossTypes {
		ratios := c.LossRatios[lt]
		if len(ratios) == 0 {
			return fmt.Errorf("%w: empty loss_ratios for %s", apperrors.ErrInvalidConfig, lt)
		}
		for i := 1; i < len(ratios); i++ {
			if ratios[i] <= ratios[i-1] {
				return fmt.Errorf("%w: loss_ratios for %s must be strictly increasing", apperrors.ErrInvalidConfig, lt)
			}
		}
	}
	return nil
}

// EffectiveMode returns the calculation mode actually run. Classical and
// scenario calculations carrying limit states are damage calculations.
func (c *CalculationConfig) EffectiveMode() string {
	if len(c.LimitStates) > 0 && (c.Mode == ModeClassical || c.Mode == ModeScenario) {
		return c.Mode + "_damage"
	}
	return c.Mode
}

// IsDamage returns true for fragility based calculations.
func (c *CalculationConfig) IsDamage() bool {
	return len(c.LimitStates) > 0
}

// IsBCR returns true for benefit-cost ratio calculations.
func (c *CalculationConfig) IsBCR() bool {
	return strings.HasSuffix(c.EffectiveMode(), "_bcr")
}

// UsesClassicalCurves returns true when loss curves come from hazard curves.
func (c *CalculationConfig) UsesClassicalCurves() bool {
	mode := c.EffectiveMode()
	return mode == ModeClassical || mode == ModeClassicalRisk
}

// IsEventBased returns true for event based calculations.
func (c *CalculationConfig) IsEventBased() bool {
	return strings.HasPrefix(c.EffectiveMode(), "event_based")
}

// SesRatio is the factor turning event counts of the stochastic event sets
// into annual rates. It is 1 outside event based calculations.
func (c *CalculationConfig) SesRatio() float64 {
	if !c.IsEventBased() {
		return 1
	}
	riskTime := c.RiskInvestigationTime
	if riskTime == 0 {
		riskTime = c.InvestigationTime
	}
	ses := c.SesPerLogicTreePath
	if ses < 1 {
		ses = 1
	}
	if c.InvestigationTime <= 0 {
		return 1
	}
	return riskTime / (c.InvestigationTime * float64(ses))
}
