// Package models contains domain types for ekaya-risk.
package models

import "strings"

// OccupantsPrefix is the value key prefix for occupancy values qualified by
// time of day (e.g. "occupants_night").
const OccupantsPrefix = "occupants"

// Location is a point on the earth surface in decimal degrees.
type Location struct {
	Lon float64
	Lat float64
}

// Asset is an insured exposure item. Assets are constructed by the exposure
// reader; Ordinal is assigned once when the asset table is built and is the
// array index used by epsilons and outputs.
type Asset struct {
	// Idx is the stable external identifier of the asset
	Idx uint32
	// Ordinal is the dense position of the asset in the asset table
	Ordinal  int
	Taxonomy string
	Location Location
	// Number of structures or units represented by the asset
	Number float64
	Area   float64

	// Values by loss type. Occupancy values are keyed "occupants_<period>".
	Values          map[string]float64
	Deductibles     map[string]float64
	InsuranceLimits map[string]float64
	Retrofitted     map[string]float64
}

// Value returns the exposed value for the loss type. The "occupants" loss
// type resolves to the occupancy for the given time event.
func (a *Asset) Value(lossType, timeEvent string) float64 {
	if lossType == OccupantsPrefix {
		return a.Values[OccupantsKey(timeEvent)]
	}
	return a.Values[lossType]
}

// Deductible returns the deductible for the loss type, 0 if none.
func (a *Asset) Deductible(lossType string) float64 {
	return a.Deductibles[lossType]
}

// InsuranceLimit returns the insurance limit for the loss type and whether
// one is defined.
func (a *Asset) InsuranceLimit(lossType string) (float64, bool) {
	v, ok := a.InsuranceLimits[lossType]
	return v, ok
}

// RetrofittedValue returns the retrofitting cost for the loss type.
func (a *Asset) RetrofittedValue(lossType string) float64 {
	return a.Retrofitted[lossType]
}

// OccupantsKey returns the value key holding occupants for a time event.
func OccupantsKey(timeEvent string) string {
	return OccupantsPrefix + "_" + timeEvent
}

// IsOccupantsKey returns true for any time-qualified occupants value key.
func IsOccupantsKey(key string) bool {
	return strings.HasPrefix(key, OccupantsPrefix)
}

// AssetOrdinals returns the ordinals of the given assets, in order.
func AssetOrdinals(assets []*Asset) []int {
	ordinals := make([]int, len(assets))
	for i, a := range assets {
		ordinals[i] = a.Ordinal
	}
	return ordinals
}
