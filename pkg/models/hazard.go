package models

// Realization is one branch of the hazard logic tree.
type Realization struct {
	Ordinal int
	// SampleID identifies the stochastic event set sample of the branch
	// when the logic tree is sampled.
	SampleID int
	Weight   float64
}

// Event is one occurrence of a rupture in a stochastic event set.
type Event struct {
	ID     uint32
	Sample int
}

// Rupture is an event based rupture as produced by the hazard engine,
// restricted to the sites it affects.
type Rupture struct {
	Serial  uint32
	GroupID int
	SiteIDs []uint32
	Events  []Event
	Weight  float64
}

// EventIDs returns the ids of the events belonging to the given sample.
// With a single sample every event is returned.
func (r Rupture) EventIDs(sample, samples int) []uint32 {
	eids := make([]uint32, 0, len(r.Events))
	for _, ev := range r.Events {
		if samples > 1 && ev.Sample != sample {
			continue
		}
		eids = append(eids, ev.ID)
	}
	return eids
}

// SiteCollection is the ordered list of hazard sites.
type SiteCollection struct {
	SiteIDs []uint32
}

// Len returns the number of sites.
func (s SiteCollection) Len() int {
	return len(s.SiteIDs)
}

// Index returns the position of each site id in the collection.
func (s SiteCollection) Index() map[uint32]int {
	idx := make(map[uint32]int, len(s.SiteIDs))
	for i, sid := range s.SiteIDs {
		idx[sid] = i
	}
	return idx
}

// RealizationAssociation is the hazard engine's assignment of ground motion
// models to realizations.
type RealizationAssociation struct {
	// GsimByTRT holds, per realization ordinal, the ground motion model
	// selected for each tectonic region type.
	GsimByTRT []map[string]string
	// Samples is the number of logic tree samples per source group.
	Samples map[int]int
	// RealizationsByGroup lists the realizations affected by each source group.
	RealizationsByGroup map[int][]Realization
}

// GsimsForTRT returns the ground motion model per realization ordinal for a
// tectonic region type. Missing assignments are reported by ordinal.
func (ra RealizationAssociation) GsimsForTRT(trt string) ([]string, []int) {
	gsims := make([]string, len(ra.GsimByTRT))
	var missing []int
	for ordinal, byTRT := range ra.GsimByTRT {
		gsim, ok := byTRT[trt]
		if !ok {
			missing = append(missing, ordinal)
			continue
		}
		gsims[ordinal] = gsim
	}
	return gsims, missing
}
