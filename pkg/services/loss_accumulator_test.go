package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskmodel"
)

func TestLossAccumulator_ScenarioLosses(t *testing.T) {
	gen := NewOutputGenerator(scenarioRegistry(t), nil, zap.NewNop())
	it, err := gen.Generate(context.Background(), twoSiteInput())
	require.NoError(t, err)

	acc := NewLossAccumulator()
	for it.Next() {
		require.NoError(t, acc.Consume(context.Background(), it.Record()))
	}
	require.NoError(t, it.Err())

	assert.Equal(t, 6, acc.Records())
	assert.Equal(t, []int{0, 1}, acc.Realizations())

	loss, ok := acc.AverageLoss(LossKey{Realization: 0, Ordinal: 0, LossType: "structural"})
	require.True(t, ok)
	assert.InDelta(t, 30, loss, 1e-9)
	_, ok = acc.AverageLoss(LossKey{Realization: 1, Ordinal: 0, LossType: "structural"})
	assert.False(t, ok, "no hazard in realization 1")

	// realization 1 has no losses and weighs 0.4
	assert.InDelta(t, 18, acc.MeanAverageLoss(0, "structural"), 1e-9)
	assert.InDelta(t, 9, acc.MeanAverageLoss(3, "nonstructural"), 1e-9)

	portfolio := acc.PortfolioLosses()
	assert.InDelta(t, 0.6*(30+30+15+20), portfolio["structural"], 1e-9)
	assert.InDelta(t, 9, portfolio["nonstructural"], 1e-9)
}

func TestLossAccumulator_AddsAcrossTasks(t *testing.T) {
	acc := NewLossAccumulator()
	record := func(avg, insured float64) *OutputRecord {
		return &OutputRecord{
			LossTypes:         []string{"structural"},
			RealizationWeight: 1,
			Values: []riskmodel.Output{&riskmodel.EventLosses{
				LossType:             "structural",
				Ordinals:             []int{7},
				AverageLosses:        []float64{avg},
				InsuredAverageLosses: []float64{insured},
			}},
		}
	}

	var wg sync.WaitGroup
	for _, avg := range []float64{1, 2, 3, 4} {
		wg.Add(1)
		go func(avg float64) {
			defer wg.Done()
			assert.NoError(t, acc.Consume(context.Background(), record(avg, avg/2)))
		}(avg)
	}
	wg.Wait()

	key := LossKey{Realization: 0, Ordinal: 7, LossType: "structural"}
	loss, ok := acc.AverageLoss(key)
	require.True(t, ok)
	assert.Equal(t, 10.0, loss)
	insured, ok := acc.InsuredAverageLoss(key)
	require.True(t, ok)
	assert.Equal(t, 5.0, insured)
}

func TestLossAccumulator_ScenarioSplitAcrossTasks(t *testing.T) {
	acc := NewLossAccumulator()
	damage := func(events int, fractions ...float64) *OutputRecord {
		return &OutputRecord{LossTypes: []string{"structural"}, Values: []riskmodel.Output{&riskmodel.DamageDistribution{
			LossType:     "structural",
			Ordinals:     []int{0},
			DamageStates: []string{riskmodel.NoDamage, "slight"},
			Fractions:    mat.NewDense(1, 2, fractions),
			Events:       events,
		}}}
	}
	require.NoError(t, acc.Consume(context.Background(), damage(1, 0.5, 0.5)))
	require.NoError(t, acc.Consume(context.Background(), damage(1, 1, 0)))

	// one building stays one building
	got := acc.Damage(LossKey{Ordinal: 0, LossType: "structural"})
	assert.InDeltaSlice(t, []float64{0.75, 0.25}, got, 1e-12)

	losses := func(events int, avg float64) *OutputRecord {
		return &OutputRecord{LossTypes: []string{"structural"}, Values: []riskmodel.Output{&riskmodel.EventLosses{
			LossType:             "structural",
			Ordinals:             []int{3},
			AverageLosses:        []float64{avg},
			InsuredAverageLosses: []float64{avg / 2},
			Events:               events,
		}}}
	}
	require.NoError(t, acc.Consume(context.Background(), losses(2, 10)))
	require.NoError(t, acc.Consume(context.Background(), losses(3, 40)))

	key := LossKey{Ordinal: 3, LossType: "structural"}
	loss, ok := acc.AverageLoss(key)
	require.True(t, ok)
	assert.InDelta(t, 28, loss, 1e-12)
	insured, ok := acc.InsuredAverageLoss(key)
	require.True(t, ok)
	assert.InDelta(t, 14, insured, 1e-12)
}

func TestLossAccumulator_DamageAndBCR(t *testing.T) {
	acc := NewLossAccumulator()
	damage := &riskmodel.DamageDistribution{
		LossType:     "structural",
		Ordinals:     []int{0, 1},
		DamageStates: []string{riskmodel.NoDamage, "slight"},
		Fractions:    mat.NewDense(2, 2, []float64{0.75, 0.25, 1.5, 0.5}),
	}
	rec := &OutputRecord{LossTypes: []string{"structural"}, Values: []riskmodel.Output{damage}}
	require.NoError(t, acc.Consume(context.Background(), rec))
	require.NoError(t, acc.Consume(context.Background(), rec))

	assert.Equal(t, []float64{3, 1}, acc.Damage(LossKey{Ordinal: 1, LossType: "structural"}))
	assert.Equal(t, []string{riskmodel.NoDamage, "slight"}, acc.DamageStates())
	assert.Nil(t, acc.Damage(LossKey{Ordinal: 2, LossType: "structural"}))

	bcr := &riskmodel.BCRResults{LossType: "structural", Results: []riskmodel.BCRResult{
		{Ordinal: 4, EALOriginal: 10, EALRetrofitted: 5, BCR: 2},
	}}
	require.NoError(t, acc.Consume(context.Background(), &OutputRecord{
		LossTypes: []string{"structural"},
		Values:    []riskmodel.Output{bcr},
	}))
	got, ok := acc.BCR(LossKey{Ordinal: 4, LossType: "structural"})
	require.True(t, ok)
	assert.Equal(t, 2.0, got.BCR)
}

func TestLossAccumulator_Misaligned(t *testing.T) {
	acc := NewLossAccumulator()
	err := acc.Consume(context.Background(), &OutputRecord{LossTypes: []string{"structural", "contents"}})
	assert.True(t, errors.Is(err, apperrors.ErrInconsistentInput))
	assert.Zero(t, acc.Records())
}

func TestLossAccumulator_UnweightedMean(t *testing.T) {
	acc := NewLossAccumulator()
	for rlz, avg := range []float64{2, 4} {
		require.NoError(t, acc.Consume(context.Background(), &OutputRecord{
			LossTypes:   []string{"structural"},
			Realization: rlz,
			Values: []riskmodel.Output{&riskmodel.LossCurves{
				LossType:      "structural",
				Ordinals:      []int{0},
				AverageLosses: []float64{avg},
			}},
		}))
	}
	assert.Equal(t, 3.0, acc.MeanAverageLoss(0, "structural"))
	assert.Zero(t, NewLossAccumulator().MeanAverageLoss(0, "structural"))
}
