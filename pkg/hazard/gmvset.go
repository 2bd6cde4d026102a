package hazard

// GMVEntry is a ground motion value addressed by event, realization and IMT
// index.
type GMVEntry struct {
	GMV  float32
	EID  uint32
	RlzI uint16
	IMTI uint8
}

// GMVSet accumulates ground motion values before they are stored.
type GMVSet struct {
	entries []GMVEntry
}

// Append adds one value.
func (s *GMVSet) Append(gmv float32, eid uint32, rlzi uint16, imti uint8) {
	s.entries = append(s.entries, GMVEntry{GMV: gmv, EID: eid, RlzI: rlzi, IMTI: imti})
}

// AddRecords appends the records collected for a realization.
func (s *GMVSet) AddRecords(rlzi uint16, records []GMVRecord) {
	for _, r := range records {
		s.Append(r.GMV, r.EventID, rlzi, uint8(r.IMTI))
	}
}

// Values returns the accumulated entries in insertion order.
func (s *GMVSet) Values() []GMVEntry {
	return s.entries
}

// Len returns the number of accumulated values.
func (s *GMVSet) Len() int {
	return len(s.entries)
}
