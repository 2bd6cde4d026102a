// Package hazard turns hazard engine outputs into per-site hazard values for
// one realization at a time.
package hazard

import (
	"context"

	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

// GMV is one ground motion value and the event that produced it.
type GMV struct {
	Value   float32
	EventID uint32
}

// gmvSize is the number of bytes of one GMV.
const gmvSize = 8

// Hazard is the hazard at one site for one IMT: either the probabilities of
// exceedance of a hazard curve or a list of ground motion values.
type Hazard struct {
	PoEs []float64
	GMVs []GMV
}

// Len returns the number of hazard values; zero means no hazard.
func (h Hazard) Len() int {
	return len(h.PoEs) + len(h.GMVs)
}

// IsCurve returns true when the hazard is a hazard curve.
func (h Hazard) IsCurve() bool {
	return len(h.PoEs) > 0
}

// Values returns the ground motion values as float64.
func (h Hazard) Values() []float64 {
	vals := make([]float64, len(h.GMVs))
	for i, g := range h.GMVs {
		vals[i] = float64(g.Value)
	}
	return vals
}

// EventIDs returns the event ids of the ground motion values.
func (h Hazard) EventIDs() []uint32 {
	eids := make([]uint32, len(h.GMVs))
	for i, g := range h.GMVs {
		eids[i] = g.EventID
	}
	return eids
}

// SiteHazard maps IMT to the hazard at one site.
type SiteHazard map[string]Hazard

// Get returns the hazard for the IMT, empty when absent.
func (s SiteHazard) Get(imt string) Hazard {
	if s == nil {
		return Hazard{}
	}
	return s[imt]
}

// Sampler yields, for one realization, the hazard of every site in site
// order. Sampling may be expensive; callers pull one realization at a time.
type Sampler interface {
	Sample(ctx context.Context, rlz models.Realization) ([]SiteHazard, error)
}

// Initializer is implemented by samplers needing expensive set-up performed
// once before the first realization.
type Initializer interface {
	Init(ctx context.Context) error
}

// ByteCounter is implemented by samplers tracking the size of the ground
// motion data they produced.
type ByteCounter interface {
	GMFBytes() int64
}
