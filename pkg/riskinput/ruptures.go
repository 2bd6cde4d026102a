package riskinput

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/hazard"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskmodel"
)

// RuptureInputConfig describes a block of ruptures of one source group.
type RuptureInputConfig struct {
	TRT             string
	Association     models.RealizationAssociation
	IMTs            []string
	Sites           models.SiteCollection
	Ruptures        []models.Rupture
	TruncationLevel float64
	Correlation     hazard.CorrelationModel
	// MinIML is the threshold per IMT below which ground motion is dropped.
	MinIML  map[string]float64
	Factory hazard.ComputerFactory
	// AssetsBySite is aligned with Sites.
	AssetsBySite [][]*models.Asset
	// Epsilons, when not nil, has one row per asset ordinal and one column
	// per event of the ruptures, in rupture order.
	Epsilons *mat.Dense
}

// RuptureInput is a block of ruptures whose ground motion is computed on
// demand.
type RuptureInput struct {
	assetBlock
	cfg     RuptureInputConfig
	logger  *zap.Logger
	groupID int
	rlzs    []models.Realization
	gsims   []string
	samples int
	eids    []uint32
	eid2idx map[uint32]int
	weight  float64
}

// NewRuptureInput validates the block and resolves the ground motion model
// of every realization.
func NewRuptureInput(cfg RuptureInputConfig, logger *zap.Logger) (*RuptureInput, error) {
	if len(cfg.Ruptures) == 0 {
		return nil, fmt.Errorf("%w: no ruptures", apperrors.ErrEmptyInput)
	}
	groupID := cfg.Ruptures[0].GroupID
	var eids []uint32
	var weight float64
	for _, rup := range cfg.Ruptures {
		if rup.GroupID != groupID {
			return nil, fmt.Errorf("%w: rupture %d belongs to group %d, expected %d",
				apperrors.ErrInconsistentInput, rup.Serial, rup.GroupID, groupID)
		}
		for _, ev := range rup.Events {
			eids = append(eids, ev.ID)
		}
		weight += rup.Weight
	}
	if len(cfg.AssetsBySite) != cfg.Sites.Len() {
		return nil, fmt.Errorf("%w: %d sites, assets for %d",
			apperrors.ErrInconsistentInput, cfg.Sites.Len(), len(cfg.AssetsBySite))
	}

	gsims, missing := cfg.Association.GsimsForTRT(cfg.TRT)
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: no ground motion model for %s in realizations %v",
			apperrors.ErrInconsistentInput, cfg.TRT, missing)
	}
	samples := cfg.Association.Samples[groupID]
	if samples < 1 {
		samples = 1
	}

	in := &RuptureInput{
		assetBlock: newAssetBlock(cfg.AssetsBySite),
		cfg:        cfg,
		logger:     logger.Named("rupture-input"),
		groupID:    groupID,
		rlzs:       cfg.Association.RealizationsByGroup[groupID],
		gsims:      gsims,
		samples:    samples,
		eids:       eids,
		weight:     weight,
	}
	if cfg.Epsilons != nil {
		if _, cols := cfg.Epsilons.Dims(); cols != len(eids) {
			return nil, fmt.Errorf("%w: %d epsilon columns for %d events",
				apperrors.ErrInconsistentInput, cols, len(eids))
		}
		in.eid2idx = make(map[uint32]int, len(eids))
		for i, eid := range eids {
			in.eid2idx[eid] = i
		}
	}
	return in, nil
}

func (in *RuptureInput) Realizations() []models.Realization { return in.rlzs }
func (in *RuptureInput) RequiresGMF() bool                  { return true }
func (in *RuptureInput) EventIDs() []uint32                 { return in.eids }

// Weight is the total weight of the ruptures.
func (in *RuptureInput) Weight() float64 {
	return in.weight
}

// HazardSampler returns a ground motion sampler over the ruptures.
func (in *RuptureInput) HazardSampler() (hazard.Sampler, error) {
	minIML := make([]float64, len(in.cfg.IMTs))
	for i, imt := range in.cfg.IMTs {
		minIML[i] = in.cfg.MinIML[imt]
	}
	return hazard.NewGroundMotionSampler(hazard.GroundMotionConfig{
		Gsims:           in.gsims,
		Ruptures:        in.cfg.Ruptures,
		Sites:           in.cfg.Sites,
		IMTs:            in.cfg.IMTs,
		MinIML:          minIML,
		TruncationLevel: in.cfg.TruncationLevel,
		Correlation:     in.cfg.Correlation,
		Samples:         in.samples,
		Factory:         in.cfg.Factory,
	}, in.logger)
}

// EpsilonGetter returns the epsilons of an asset for the requested events.
func (in *RuptureInput) EpsilonGetter() riskmodel.EpsilonGetter {
	if in.cfg.Epsilons == nil {
		return nil
	}
	rows, _ := in.cfg.Epsilons.Dims()
	return func(ordinal int, eventIDs []uint32) ([]float64, error) {
		if ordinal < 0 || ordinal >= rows {
			return nil, fmt.Errorf("%w: asset ordinal %d outside %d epsilon rows",
				apperrors.ErrInconsistentInput, ordinal, rows)
		}
		row := in.cfg.Epsilons.RawRowView(ordinal)
		out := make([]float64, len(eventIDs))
		for i, eid := range eventIDs {
			idx, ok := in.eid2idx[eid]
			if !ok {
				return nil, fmt.Errorf("%w: no epsilon for event %d of asset ordinal %d",
					apperrors.ErrInconsistentInput, eid, ordinal)
			}
			out[i] = row[idx]
		}
		return out, nil
	}
}

func (in *RuptureInput) String() string {
	return fmt.Sprintf("<RuptureInput trt=%s group=%d ruptures=%d taxonomies=%s weight=%g>",
		in.cfg.TRT, in.groupID, len(in.cfg.Ruptures), strings.Join(in.taxonomies, ","), in.weight)
}
