package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-risk/pkg/hazard"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
	"github.com/ekaya-inc/ekaya-risk/pkg/monitor"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskinput"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskmodel"
)

// RiskModels resolves taxonomies to risk models. It is satisfied by
// *riskmodel.CompositeRiskModel.
type RiskModels interface {
	Get(taxonomy string) (riskmodel.RiskModel, error)
	// LossTypes returns every loss type of the calculation, sorted.
	LossTypes() []string
}

// OutputRecord is the result of one asset group of one site for one
// realization.
type OutputRecord struct {
	// LossTypes is the loss type of each entry of Values.
	LossTypes []string
	// Values holds one output per loss type. An entry is nil when the
	// taxonomy has no function for the loss type or the site has no hazard
	// for the function's IMT.
	Values            []riskmodel.Output
	Realization       int
	RealizationWeight float64
	SiteIndex         int
	Taxonomy          string
	Assets            []*models.Asset
}

// OutputGenerator turns a risk input into a lazy sequence of output records.
type OutputGenerator interface {
	// Generate prepares the input and returns a cursor over its records.
	// It fails when a taxonomy of the input has no risk model.
	Generate(ctx context.Context, input riskinput.Input) (*OutputIterator, error)
}

type outputGenerator struct {
	registry RiskModels
	monitor  *monitor.Monitor
	logger   *zap.Logger
}

// NewOutputGenerator creates an output generator. mon may be nil.
func NewOutputGenerator(registry RiskModels, mon *monitor.Monitor, logger *zap.Logger) OutputGenerator {
	return &outputGenerator{
		registry: registry,
		monitor:  mon,
		logger:   logger.Named("output-generator"),
	}
}

var _ OutputGenerator = (*outputGenerator)(nil)

// assetGroup is the assets of one taxonomy on one site, in site order.
type assetGroup struct {
	siteIndex int
	assets    []*models.Asset
}

func (g *outputGenerator) Generate(ctx context.Context, input riskinput.Input) (*OutputIterator, error) {
	it := &OutputIterator{
		ctx:       ctx,
		monitor:   g.monitor,
		logger:    g.logger,
		rlzs:      input.Realizations(),
		lossTypes: g.registry.LossTypes(),
		eps:       input.EpsilonGetter(),
		models:    make(map[string]riskmodel.RiskModel),
		groups:    make(map[string][]assetGroup),
	}

	done := g.monitor.Measure(monitor.StageBuildingContext)
	sampler, err := input.HazardSampler()
	if err != nil {
		done()
		return nil, fmt.Errorf("failed to build hazard sampler for %s: %w", input, err)
	}
	if initializer, ok := sampler.(hazard.Initializer); ok {
		if err := initializer.Init(ctx); err != nil {
			done()
			return nil, fmt.Errorf("failed to initialize hazard sampler for %s: %w", input, err)
		}
	}
	done()
	it.sampler = sampler

	done = g.monitor.Measure(monitor.StageGroupingAssets)
	defer done()
	for sid, assets := range input.AssetsBySite() {
		var order []string
		byTaxonomy := make(map[string][]*models.Asset)
		for _, a := range assets {
			if _, seen := byTaxonomy[a.Taxonomy]; !seen {
				order = append(order, a.Taxonomy)
			}
			byTaxonomy[a.Taxonomy] = append(byTaxonomy[a.Taxonomy], a)
		}
		for _, taxonomy := range order {
			it.groups[taxonomy] = append(it.groups[taxonomy], assetGroup{siteIndex: sid, assets: byTaxonomy[taxonomy]})
		}
	}
	for taxonomy := range it.groups {
		model, err := g.registry.Get(taxonomy)
		if err != nil {
			return nil, fmt.Errorf("cannot generate outputs for %s: %w", input, err)
		}
		it.models[taxonomy] = model
		it.taxonomies = append(it.taxonomies, taxonomy)
	}
	sort.Strings(it.taxonomies)

	g.logger.Debug("Generating outputs",
		zap.String("input", input.String()),
		zap.Int("realizations", len(it.rlzs)),
		zap.Strings("taxonomies", it.taxonomies))
	return it, nil
}

// OutputIterator yields the records of one input: realizations in input
// order, then taxonomies sorted, then sites. It makes a single pass and is
// not safe for concurrent use.
type OutputIterator struct {
	ctx       context.Context
	monitor   *monitor.Monitor
	logger    *zap.Logger
	sampler   hazard.Sampler
	rlzs      []models.Realization
	lossTypes []string
	eps       riskmodel.EpsilonGetter

	taxonomies []string
	models     map[string]riskmodel.RiskModel
	groups     map[string][]assetGroup

	rlzIdx   int
	hazards  []hazard.SiteHazard
	taxIdx   int
	groupIdx int
	gmfBytes int64

	record *OutputRecord
	err    error
	done   bool
}

// Next advances to the next record. It returns false at the end of the
// sequence or on error; check Err afterwards.
func (it *OutputIterator) Next() bool {
	if it.done {
		return false
	}
	for {
		if err := it.ctx.Err(); err != nil {
			return it.fail(err)
		}
		if it.hazards == nil {
			if it.rlzIdx >= len(it.rlzs) {
				it.done = true
				it.record = nil
				it.logger.Debug("Output generation finished",
					zap.Int("realizations", len(it.rlzs)),
					zap.Int64("gmf_bytes", it.gmfBytes))
				return false
			}
			if err := it.sample(it.rlzs[it.rlzIdx]); err != nil {
				return it.fail(err)
			}
			it.taxIdx, it.groupIdx = 0, 0
		}
		if it.taxIdx >= len(it.taxonomies) {
			it.hazards = nil
			it.rlzIdx++
			continue
		}
		taxonomy := it.taxonomies[it.taxIdx]
		groups := it.groups[taxonomy]
		if it.groupIdx >= len(groups) {
			it.taxIdx++
			it.groupIdx = 0
			continue
		}
		group := groups[it.groupIdx]
		it.groupIdx++

		record, err := it.compute(it.rlzs[it.rlzIdx], taxonomy, group)
		if err != nil {
			return it.fail(err)
		}
		it.record = record
		it.monitor.RecordOutput(taxonomy)
		return true
	}
}

func (it *OutputIterator) sample(rlz models.Realization) error {
	defer it.monitor.Measure(monitor.StageBuildingHazard)()
	hazards, err := it.sampler.Sample(it.ctx, rlz)
	if err != nil {
		return fmt.Errorf("failed to sample hazard for realization %d: %w", rlz.Ordinal, err)
	}
	if hazards == nil {
		hazards = []hazard.SiteHazard{}
	}
	it.hazards = hazards
	if counter, ok := it.sampler.(hazard.ByteCounter); ok {
		total := counter.GMFBytes()
		it.monitor.AddGMFBytes(total - it.gmfBytes)
		it.gmfBytes = total
	}
	return nil
}

func (it *OutputIterator) compute(rlz models.Realization, taxonomy string, group assetGroup) (*OutputRecord, error) {
	defer it.monitor.Measure(monitor.StageComputingRisk)()
	model := it.models[taxonomy]
	var siteHazard hazard.SiteHazard
	if group.siteIndex < len(it.hazards) {
		siteHazard = it.hazards[group.siteIndex]
	}
	record := &OutputRecord{
		LossTypes:         it.lossTypes,
		Values:            make([]riskmodel.Output, len(it.lossTypes)),
		Realization:       rlz.Ordinal,
		RealizationWeight: rlz.Weight,
		SiteIndex:         group.siteIndex,
		Taxonomy:          taxonomy,
		Assets:            group.assets,
	}
	for i, lossType := range it.lossTypes {
		fn, ok := model.Function(lossType)
		if !ok {
			continue
		}
		haz := siteHazard.Get(fn.Header().IMT)
		if haz.Len() == 0 {
			continue
		}
		out, err := model.Compute(lossType, group.assets, haz, it.eps)
		if err != nil {
			return nil, fmt.Errorf("realization %d, site %d: %w", rlz.Ordinal, group.siteIndex, err)
		}
		record.Values[i] = out
	}
	return record, nil
}

func (it *OutputIterator) fail(err error) bool {
	it.err = err
	it.done = true
	it.record = nil
	return false
}

// Record returns the current record.
func (it *OutputIterator) Record() *OutputRecord {
	return it.record
}

// Err returns the error that stopped the iteration, if any.
func (it *OutputIterator) Err() error {
	return it.err
}

// GMFBytes returns the bytes of ground motion data sampled so far.
func (it *OutputIterator) GMFBytes() int64 {
	return it.gmfBytes
}
