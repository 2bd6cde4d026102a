package hazard

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

// CorrelationModel is a spatial correlation model understood by the ground
// motion computers. A nil CorrelationModel means uncorrelated fields.
type CorrelationModel interface {
	Name() string
}

// GmfComputer computes ground motion fields for one rupture on the sites it
// affects. It is provided by the hazard engine.
type GmfComputer interface {
	Rupture() models.Rupture
	SiteIDs() []uint32
	// Compute returns values indexed by IMT, site and event.
	Compute(gsim string, numEvents int) ([][][]float64, error)
}

// ComputerFactory builds the GmfComputer of a rupture restricted to siteIDs.
type ComputerFactory func(rup models.Rupture, siteIDs []uint32, imts []string,
	truncationLevel float64, corr CorrelationModel) (GmfComputer, error)

// GroundMotionConfig configures a GroundMotionSampler.
type GroundMotionConfig struct {
	// Gsims holds the ground motion model of each realization ordinal.
	Gsims           []string
	Ruptures        []models.Rupture
	Sites           models.SiteCollection
	IMTs            []string
	MinIML          []float64
	TruncationLevel float64
	Correlation     CorrelationModel
	Samples         int
	Factory         ComputerFactory
}

// GroundMotionSampler computes ground motion values from ruptures, one
// realization at a time, dropping values at or below the IMT thresholds.
type GroundMotionSampler struct {
	cfg       GroundMotionConfig
	logger    *zap.Logger
	siteIndex map[uint32]int

	initMu    sync.Mutex
	ready     bool
	computers []GmfComputer
	gmfBytes  int64
}

// NewGroundMotionSampler creates a sampler; computers are built by Init.
func NewGroundMotionSampler(cfg GroundMotionConfig, logger *zap.Logger) (*GroundMotionSampler, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: ground motion sampler requires a computer factory", apperrors.ErrInvalidConfig)
	}
	if len(cfg.MinIML) != len(cfg.IMTs) {
		return nil, fmt.Errorf("%w: got %d minimum intensities for %d IMTs", apperrors.ErrInvalidConfig, len(cfg.MinIML), len(cfg.IMTs))
	}
	return &GroundMotionSampler{
		cfg:       cfg,
		logger:    logger.Named("gmf-sampler"),
		siteIndex: cfg.Sites.Index(),
	}, nil
}

// Init builds one computer per rupture. Once it has succeeded later calls
// return immediately; after a failure the next call tries again.
func (s *GroundMotionSampler) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready {
		return nil
	}

	computers := make([]GmfComputer, 0, len(s.cfg.Ruptures))
	for _, rup := range s.cfg.Ruptures {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := s.cfg.Factory(rup, rup.SiteIDs, s.cfg.IMTs, s.cfg.TruncationLevel, s.cfg.Correlation)
		if err != nil {
			return fmt.Errorf("failed to build computer for rupture %d: %w", rup.Serial, err)
		}
		for _, sid := range c.SiteIDs() {
			if _, ok := s.siteIndex[sid]; !ok {
				return fmt.Errorf("%w: rupture %d affects site %d outside the collection",
					apperrors.ErrHazardMismatch, rup.Serial, sid)
			}
		}
		computers = append(computers, c)
	}
	s.computers = computers
	s.ready = true
	s.logger.Debug("Built ground motion computers",
		zap.Int("ruptures", len(computers)),
		zap.Int("sites", s.cfg.Sites.Len()))
	return nil
}

// Sample computes the ground motion values of the realization for every site
// of the collection, in collection order.
func (s *GroundMotionSampler) Sample(ctx context.Context, rlz models.Realization) ([]SiteHazard, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if rlz.Ordinal < 0 || rlz.Ordinal >= len(s.cfg.Gsims) {
		return nil, fmt.Errorf("%w: no ground motion model for realization %d", apperrors.ErrHazardMismatch, rlz.Ordinal)
	}
	gsim := s.cfg.Gsims[rlz.Ordinal]

	out := make([]SiteHazard, s.cfg.Sites.Len())
	for i := range out {
		out[i] = SiteHazard{}
	}
	for _, c := range s.computers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rup := c.Rupture()
		eids := rup.EventIDs(rlz.SampleID, s.cfg.Samples)
		if len(eids) == 0 {
			continue
		}
		values, err := c.Compute(gsim, len(eids))
		if err != nil {
			return nil, fmt.Errorf("failed to compute ground motion for rupture %d: %w", rup.Serial, err)
		}
		sids := c.SiteIDs()
		if msg := shapeMismatch(values, len(s.cfg.IMTs), len(sids), len(eids)); msg != "" {
			return nil, fmt.Errorf("%w: rupture %d: %s", apperrors.ErrHazardMismatch, rup.Serial, msg)
		}
		for imti, imt := range s.cfg.IMTs {
			minGMV := s.cfg.MinIML[imti]
			for e, eid := range eids {
				for si, sid := range sids {
					gmv := values[imti][si][e]
					if gmv <= minGMV {
						continue
					}
					haz := out[s.siteIndex[sid]]
					h := haz[imt]
					h.GMVs = append(h.GMVs, GMV{Value: float32(gmv), EventID: eid})
					haz[imt] = h
				}
			}
		}
	}

	for _, haz := range out {
		for _, h := range haz {
			s.gmfBytes += int64(len(h.GMVs) * gmvSize)
		}
	}
	return out, nil
}

// shapeMismatch describes how values differ from the expected IMT x site x
// event shape, or returns "" when they match.
func shapeMismatch(values [][][]float64, imts, sites, events int) string {
	if len(values) != imts {
		return fmt.Sprintf("%d IMT arrays for %d IMTs", len(values), imts)
	}
	for imti, bySite := range values {
		if len(bySite) != sites {
			return fmt.Sprintf("IMT %d has %d sites, expected %d", imti, len(bySite), sites)
		}
		for si, byEvent := range bySite {
			if len(byEvent) != events {
				return fmt.Sprintf("IMT %d site %d has %d events, expected %d", imti, si, len(byEvent), events)
			}
		}
	}
	return ""
}

// GMFBytes returns the bytes of ground motion data produced so far.
func (s *GroundMotionSampler) GMFBytes() int64 {
	return s.gmfBytes
}

// GMVRecord is one flattened ground motion value.
type GMVRecord struct {
	SiteID  uint32
	EventID uint32
	IMTI    int
	GMV     float32
}

// Collect flattens the values of a realization into records ordered by site,
// IMT and event.
func (s *GroundMotionSampler) Collect(ctx context.Context, rlz models.Realization) ([]GMVRecord, error) {
	hazards, err := s.Sample(ctx, rlz)
	if err != nil {
		return nil, err
	}
	var records []GMVRecord
	for i, haz := range hazards {
		if len(haz) == 0 {
			continue
		}
		sid := s.cfg.Sites.SiteIDs[i]
		for imti, imt := range s.cfg.IMTs {
			for _, g := range haz[imt].GMVs {
				records = append(records, GMVRecord{SiteID: sid, EventID: g.EventID, IMTI: imti, GMV: g.Value})
			}
		}
	}
	return records, nil
}
