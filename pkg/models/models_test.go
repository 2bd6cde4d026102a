package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsset_Value(t *testing.T) {
	a := &Asset{
		Values: map[string]float64{
			"structural":      100,
			"occupants_night": 12,
			"occupants_day":   3,
		},
		Deductibles:     map[string]float64{"structural": 10},
		InsuranceLimits: map[string]float64{"structural": 80},
		Retrofitted:     map[string]float64{"structural": 25},
	}

	assert.Equal(t, 100.0, a.Value("structural", "night"))
	assert.Equal(t, 12.0, a.Value("occupants", "night"))
	assert.Equal(t, 3.0, a.Value("occupants", "day"))
	assert.Equal(t, 0.0, a.Value("contents", "night"))
	assert.Equal(t, 10.0, a.Deductible("structural"))
	assert.Equal(t, 25.0, a.RetrofittedValue("structural"))

	limit, ok := a.InsuranceLimit("structural")
	assert.True(t, ok)
	assert.Equal(t, 80.0, limit)
	_, ok = a.InsuranceLimit("contents")
	assert.False(t, ok)
}

func TestRupture_EventIDs(t *testing.T) {
	r := Rupture{Events: []Event{{ID: 1, Sample: 0}, {ID: 2, Sample: 1}, {ID: 3, Sample: 1}}}

	assert.Equal(t, []uint32{1, 2, 3}, r.EventIDs(0, 1))
	assert.Equal(t, []uint32{2, 3}, r.EventIDs(1, 2))
	assert.Equal(t, []uint32{1}, r.EventIDs(0, 2))
}

func TestRealizationAssociation_GsimsForTRT(t *testing.T) {
	ra := RealizationAssociation{
		GsimByTRT: []map[string]string{
			{"Active Shallow Crust": "BooreAtkinson2008"},
			{"Active Shallow Crust": "ChiouYoungs2008"},
			{"Stable Continental": "Campbell2003"},
		},
	}

	gsims, missing := ra.GsimsForTRT("Active Shallow Crust")
	assert.Equal(t, []string{"BooreAtkinson2008", "ChiouYoungs2008", ""}, gsims)
	assert.Equal(t, []int{2}, missing)
}

func TestAssetOrdinals(t *testing.T) {
	assets := []*Asset{{Ordinal: 3}, {Ordinal: 1}}
	assert.Equal(t, []int{3, 1}, AssetOrdinals(assets))
}
