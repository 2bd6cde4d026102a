package assets

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
)

// Snapshot is the asset table as handed to the persistence collaborator:
// typed columns, the taxonomy catalogue and the derived column-name lists.
type Snapshot struct {
	TimeEvent             string   `json:"time_event" yaml:"time_event"`
	TimeEvents            []string `json:"time_events" yaml:"time_events"`
	Taxonomies            []string `json:"taxonomies" yaml:"taxonomies"`
	LossTypes             []string `json:"loss_types" yaml:"loss_types"`
	DeductibleColumns     []string `json:"deduc" yaml:"deduc"`
	InsuranceLimitColumns []string `json:"i_lim" yaml:"i_lim"`
	RetrofittedColumns    []string `json:"retro" yaml:"retro"`
	NBytes                int      `json:"nbytes" yaml:"nbytes"`

	Idx        []uint32  `json:"idx" yaml:"idx"`
	Lon        []float32 `json:"lon" yaml:"lon"`
	Lat        []float32 `json:"lat" yaml:"lat"`
	SiteID     []uint32  `json:"site_id" yaml:"site_id"`
	TaxonomyID []uint32  `json:"taxonomy_id" yaml:"taxonomy_id"`
	Number     []float32 `json:"number" yaml:"number"`
	Area       []float32 `json:"area" yaml:"area"`

	ColumnNames []string             `json:"column_names" yaml:"column_names"`
	Columns     map[string][]float64 `json:"columns" yaml:"columns"`
}

// Export returns a snapshot of the table. Slices are shared with the table
// and must be treated as read-only.
func (t *AssetTable) Export() Snapshot {
	return Snapshot{
		TimeEvent:             t.TimeEvent,
		TimeEvents:            t.TimeEvents,
		Taxonomies:            t.Taxonomies,
		LossTypes:             t.LossTypes,
		DeductibleColumns:     t.DeductibleColumns,
		InsuranceLimitColumns: t.InsuranceLimitColumns,
		RetrofittedColumns:    t.RetrofittedColumns,
		NBytes:                t.NBytes(),
		Idx:                   t.Idx,
		Lon:                   t.Lon,
		Lat:                   t.Lat,
		SiteID:                t.SiteID,
		TaxonomyID:            t.TaxonomyID,
		Number:                t.Number,
		Area:                  t.Area,
		ColumnNames:           t.columnNames,
		Columns:               t.columns,
	}
}

// FromSnapshot rebuilds a table stored by the persistence collaborator.
func FromSnapshot(s Snapshot) (*AssetTable, error) {
	n := len(s.Idx)
	fixed := map[string]int{
		"lon":         len(s.Lon),
		"lat":         len(s.Lat),
		"site_id":     len(s.SiteID),
		"taxonomy_id": len(s.TaxonomyID),
		"number":      len(s.Number),
		"area":        len(s.Area),
	}
	for name, l := range fixed {
		if l != n {
			return nil, fmt.Errorf("%w: column %s has %d rows, expected %d", apperrors.ErrInconsistentInput, name, l, n)
		}
	}
	for _, name := range s.ColumnNames {
		if len(s.Columns[name]) != n {
			return nil, fmt.Errorf("%w: column %s has %d rows, expected %d",
				apperrors.ErrInconsistentInput, name, len(s.Columns[name]), n)
		}
	}
	for i, tid := range s.TaxonomyID {
		if int(tid) >= len(s.Taxonomies) {
			return nil, fmt.Errorf("%w: row %d has taxonomy id %d outside the catalogue",
				apperrors.ErrInconsistentInput, i, tid)
		}
	}

	columns := make(map[string][]float64, len(s.ColumnNames))
	for _, name := range s.ColumnNames {
		columns[name] = s.Columns[name]
	}
	return &AssetTable{
		TimeEvent:             s.TimeEvent,
		TimeEvents:            s.TimeEvents,
		Taxonomies:            s.Taxonomies,
		LossTypes:             s.LossTypes,
		DeductibleColumns:     s.DeductibleColumns,
		InsuranceLimitColumns: s.InsuranceLimitColumns,
		RetrofittedColumns:    s.RetrofittedColumns,
		Idx:                   s.Idx,
		Lon:                   s.Lon,
		Lat:                   s.Lat,
		SiteID:                s.SiteID,
		TaxonomyID:            s.TaxonomyID,
		Number:                s.Number,
		Area:                  s.Area,
		columnNames:           s.ColumnNames,
		columns:               columns,
	}, nil
}
