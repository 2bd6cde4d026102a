// Package riskinput defines the units of work of a risk calculation: a block
// of sites with their assets, the realizations to compute and the source of
// their hazard.
package riskinput

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/hazard"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskmodel"
)

// Input is one independent unit of risk computation.
type Input interface {
	Realizations() []models.Realization
	// AssetsBySite returns the assets of each site, aligned with the hazard.
	AssetsBySite() [][]*models.Asset
	// EpsilonGetter returns nil when the input carries no epsilons.
	EpsilonGetter() riskmodel.EpsilonGetter
	// HazardSampler builds a new sampler for the hazard of the input.
	HazardSampler() (hazard.Sampler, error)
	// RequiresGMF reports whether sampling computes ground motion fields.
	RequiresGMF() bool
	Taxonomies() []string
	AssetOrdinals() []int
	// EventIDs returns the events of the input, nil for hazard curves.
	EventIDs() []uint32
	Weight() float64
	String() string
}

// assetBlock holds what both kinds of input derive from their assets.
type assetBlock struct {
	assetsBySite [][]*models.Asset
	taxonomies   []string
	ordinals     []int
}

func newAssetBlock(assetsBySite [][]*models.Asset) assetBlock {
	taxonomies := mapset.NewThreadUnsafeSet[string]()
	var ordinals []int
	for _, assets := range assetsBySite {
		for _, a := range assets {
			taxonomies.Add(a.Taxonomy)
			ordinals = append(ordinals, a.Ordinal)
		}
	}
	sorted := taxonomies.ToSlice()
	sort.Strings(sorted)
	return assetBlock{assetsBySite: assetsBySite, taxonomies: sorted, ordinals: ordinals}
}

func (b assetBlock) AssetsBySite() [][]*models.Asset { return b.assetsBySite }
func (b assetBlock) Taxonomies() []string            { return b.taxonomies }
func (b assetBlock) AssetOrdinals() []int            { return b.ordinals }

// CurveInput is a block of sites with precomputed hazard curves.
type CurveInput struct {
	assetBlock
	rlzs         []models.Realization
	hazardBySite []hazard.SiteCurves
	eps          *mat.Dense
}

// NewCurveInput creates an input over hazard curves. eps, when not nil, holds
// one row of epsilons per asset ordinal.
func NewCurveInput(rlzs []models.Realization, hazardBySite []hazard.SiteCurves,
	assetsBySite [][]*models.Asset, eps *mat.Dense,
) (*CurveInput, error) {
	if len(hazardBySite) != len(assetsBySite) {
		return nil, fmt.Errorf("%w: hazard for %d sites, assets for %d",
			apperrors.ErrInconsistentInput, len(hazardBySite), len(assetsBySite))
	}
	return &CurveInput{
		assetBlock:   newAssetBlock(assetsBySite),
		rlzs:         rlzs,
		hazardBySite: hazardBySite,
		eps:          eps,
	}, nil
}

func (in *CurveInput) Realizations() []models.Realization { return in.rlzs }
func (in *CurveInput) RequiresGMF() bool                  { return false }
func (in *CurveInput) EventIDs() []uint32                 { return nil }

// Weight is the number of assets.
func (in *CurveInput) Weight() float64 {
	return float64(len(in.ordinals))
}

// HazardSampler returns a sampler over the hazard curves of the sites.
func (in *CurveInput) HazardSampler() (hazard.Sampler, error) {
	return hazard.NewCurveSampler(in.hazardBySite), nil
}

// EpsilonGetter returns the full epsilon row of an asset.
func (in *CurveInput) EpsilonGetter() riskmodel.EpsilonGetter {
	if in.eps == nil {
		return nil
	}
	rows, _ := in.eps.Dims()
	return func(ordinal int, _ []uint32) ([]float64, error) {
		if ordinal < 0 || ordinal >= rows {
			return nil, fmt.Errorf("%w: asset ordinal %d outside %d epsilon rows",
				apperrors.ErrInconsistentInput, ordinal, rows)
		}
		return in.eps.RawRowView(ordinal), nil
	}
}

func (in *CurveInput) String() string {
	return fmt.Sprintf("<CurveInput taxonomies=%s weight=%d>", strings.Join(in.taxonomies, ","), int(in.Weight()))
}
