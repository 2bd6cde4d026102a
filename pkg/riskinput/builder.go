package riskinput

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/config"
	"github.com/ekaya-inc/ekaya-risk/pkg/epsilon"
	"github.com/ekaya-inc/ekaya-risk/pkg/hazard"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

// RiskModels is the part of the risk model registry the builder reads.
type RiskModels interface {
	MinIML() map[string]float64
	IMTs() []string
	Covs() int
}

// Builder creates risk inputs from the calculation configuration. Epsilon
// rows cover the whole asset collection, so the inputs of every block can
// be looked up by asset ordinal.
type Builder struct {
	cfg    *config.Config
	models RiskModels
	assets [][]*models.Asset
	logger *zap.Logger
}

// NewBuilder creates a builder over the full asset collection, by site.
func NewBuilder(cfg *config.Config, riskModels RiskModels, assetsBySite [][]*models.Asset, logger *zap.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		models: riskModels,
		assets: assetsBySite,
		logger: logger.Named("input-builder"),
	}
}

// CurveInput builds an input over hazard curves. Epsilons are sampled only
// when number_of_samples is set and some function has a non zero CoV.
func (b *Builder) CurveInput(ctx context.Context, rlzs []models.Realization, hazardBySite []hazard.SiteCurves,
	assetsBySite [][]*models.Asset,
) (*CurveInput, error) {
	var eps *mat.Dense
	if n := b.cfg.Calculation.NumberOfSamples; n > 0 && b.models.Covs() > 0 {
		var err error
		if eps, err = b.epsilons(ctx, n, b.cfg.Calculation.RandomSeed); err != nil {
			return nil, err
		}
	}
	return NewCurveInput(rlzs, hazardBySite, assetsBySite, eps)
}

// RuptureInput builds an input over a block of ruptures. The IMTs default
// to those of the risk model, the ground motion thresholds are the risk
// model ones overridden by minimum_intensity, and the truncation level comes
// from the hazard section.
func (b *Builder) RuptureInput(ctx context.Context, cfg RuptureInputConfig) (*RuptureInput, error) {
	if len(cfg.IMTs) == 0 {
		cfg.IMTs = b.models.IMTs()
	}
	cfg.MinIML = b.cfg.Hazard.MinIML(b.models.MinIML())
	cfg.TruncationLevel = b.cfg.Hazard.TruncationLevel

	if cfg.Epsilons == nil && b.models.Covs() > 0 {
		var eids []uint32
		for _, rup := range cfg.Ruptures {
			for _, ev := range rup.Events {
				eids = append(eids, ev.ID)
			}
		}
		if len(eids) == 0 {
			return nil, fmt.Errorf("%w: no events in the ruptures", apperrors.ErrEmptyInput)
		}
		numEvents := len(eids)
		// blocks draw from different streams
		seed := b.cfg.Calculation.RandomSeed + int64(eids[0])
		eps, err := b.epsilons(ctx, numEvents, seed)
		if err != nil {
			return nil, err
		}
		cfg.Epsilons = eps
	}

	in, err := NewRuptureInput(cfg, b.logger)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("Rupture input built",
		zap.String("input", in.String()),
		zap.Strings("imts", cfg.IMTs),
		zap.Bool("epsilons", cfg.Epsilons != nil))
	return in, nil
}

func (b *Builder) epsilons(ctx context.Context, numSamples int, seed int64) (*mat.Dense, error) {
	return epsilon.Make(ctx, b.assets, numSamples, seed, b.cfg.Calculation.AssetCorrelation, b.logger)
}
