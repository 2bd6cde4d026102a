// Package epsilon generates the per-asset, per-event random effects used to
// sample loss ratios from vulnerability functions.
package epsilon

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

// Sample returns a rows x cols matrix of standard normal variates with
// pairwise row correlation equal to correlation. With correlation 0 every
// cell is an independent draw; with correlation 1 every row is identical.
// The output only depends on the arguments; rows and cols must be positive.
func Sample(rows, cols int, seed int64, correlation float64) *mat.Dense {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	eps := mat.NewDense(rows, cols, nil)

	shared := math.Sqrt(correlation)
	own := math.Sqrt(1 - correlation)
	common := make([]float64, cols)
	if correlation > 0 {
		for j := range common {
			common[j] = rng.NormFloat64()
		}
	}
	for i := 0; i < rows; i++ {
		row := eps.RawRowView(i)
		for j := range row {
			v := shared * common[j]
			if correlation < 1 {
				v += own * rng.NormFloat64()
			}
			row[j] = v
		}
	}
	return eps
}

// Make builds the (num_assets x numSamples) epsilon matrix. Assets are
// correlated only within a taxonomy: each taxonomy is filled independently
// from the same seed, with its assets taken in idx order, and the rows are
// stored at the asset ordinals.
func Make(ctx context.Context, assetsBySite [][]*models.Asset, numSamples int, seed int64, correlation float64, logger *zap.Logger) (*mat.Dense, error) {
	if correlation < 0 || correlation > 1 {
		return nil, fmt.Errorf("%w: correlation must be in [0, 1], got %g", apperrors.ErrInvalidConfig, correlation)
	}
	if numSamples < 1 {
		return nil, fmt.Errorf("%w: number of samples must be positive, got %d", apperrors.ErrEmptyInput, numSamples)
	}

	byTaxonomy := make(map[string][]*models.Asset)
	numAssets := 0
	for _, site := range assetsBySite {
		for _, a := range site {
			byTaxonomy[a.Taxonomy] = append(byTaxonomy[a.Taxonomy], a)
			numAssets++
		}
	}
	if numAssets == 0 {
		return nil, fmt.Errorf("%w: there are no assets", apperrors.ErrEmptyInput)
	}
	seen := mapset.NewThreadUnsafeSetWithSize[int](numAssets)
	for _, a := range flatten(assetsBySite) {
		if a.Ordinal < 0 || a.Ordinal >= numAssets {
			return nil, fmt.Errorf("%w: asset %d has ordinal %d outside [0, %d)",
				apperrors.ErrInconsistentInput, a.Idx, a.Ordinal, numAssets)
		}
		if !seen.Add(a.Ordinal) {
			return nil, fmt.Errorf("%w: asset %d reuses ordinal %d",
				apperrors.ErrInconsistentInput, a.Idx, a.Ordinal)
		}
	}

	taxonomies := make([]string, 0, len(byTaxonomy))
	for taxonomy := range byTaxonomy {
		taxonomies = append(taxonomies, taxonomy)
	}
	sort.Strings(taxonomies)

	eps := mat.NewDense(numAssets, numSamples, nil)
	logger = logger.Named("epsilon")

	// Partitions write disjoint rows.
	g, gctx := errgroup.WithContext(ctx)
	for _, taxonomy := range taxonomies {
		group := byTaxonomy[taxonomy]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Idx < group[j].Idx })
		logger.Info("Building epsilons",
			zap.String("taxonomy", taxonomy),
			zap.Int("assets", len(group)),
			zap.Int("samples", numSamples))

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sample := Sample(len(group), numSamples, seed, correlation)
			for i, a := range group {
				eps.SetRow(a.Ordinal, sample.RawRowView(i))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return eps, nil
}

func flatten(assetsBySite [][]*models.Asset) []*models.Asset {
	var all []*models.Asset
	for _, site := range assetsBySite {
		all = append(all, site...)
	}
	return all
}
