package hazard

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

// SiteCurves holds the hazard curves of one site: IMT -> realization
// ordinal -> probabilities of exceedance.
type SiteCurves map[string][][]float64

// CurveSampler serves precomputed hazard curves.
type CurveSampler struct {
	hazardBySite []SiteCurves
}

// NewCurveSampler wraps the hazard curves of the sites, in site order.
func NewCurveSampler(hazardBySite []SiteCurves) *CurveSampler {
	return &CurveSampler{hazardBySite: hazardBySite}
}

// Sample returns, per site, the curve of each IMT for the realization.
func (s *CurveSampler) Sample(ctx context.Context, rlz models.Realization) ([]SiteHazard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]SiteHazard, len(s.hazardBySite))
	for i, curves := range s.hazardBySite {
		haz := make(SiteHazard, len(curves))
		for imt, byRlz := range curves {
			if rlz.Ordinal < 0 || rlz.Ordinal >= len(byRlz) {
				return nil, fmt.Errorf("%w: site %d has %d %s curves, no realization %d",
					apperrors.ErrHazardMismatch, i, len(byRlz), imt, rlz.Ordinal)
			}
			haz[imt] = Hazard{PoEs: byRlz[rlz.Ordinal]}
		}
		out[i] = haz
	}
	return out, nil
}
