// Package assets builds the dense, column-typed asset table used by the
// risk calculators.
package assets

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
)

// Column name prefixes for the float columns of the table.
const (
	ValuePrefix          = "value-"
	DeductiblePrefix     = "deductible-"
	InsuranceLimitPrefix = "insurance_limit-"
	RetrofittedPrefix    = "retrofitted-"
	OccupantsColumn      = "occupants"
)

// AssetTable holds one row per asset, grouped by site and sorted by asset
// idx within each site. The row number is the asset ordinal.
type AssetTable struct {
	TimeEvent  string
	TimeEvents []string

	// Taxonomies is the sorted taxonomy catalogue; TaxonomyID indexes it.
	Taxonomies []string

	// LossTypes is the sorted list of loss types with a value column.
	LossTypes             []string
	DeductibleColumns     []string
	InsuranceLimitColumns []string
	RetrofittedColumns    []string

	Idx        []uint32
	Lon        []float32
	Lat        []float32
	SiteID     []uint32
	TaxonomyID []uint32
	Number     []float32
	Area       []float32

	columnNames []string
	columns     map[string][]float64
}

// Build converts per-site asset lists into an AssetTable.
//
// Value columns come from the value keys of the first asset of the first
// non-empty site. Occupants are kept only for timeEvent; occupants for other
// periods are dropped. Deductible, insurance limit and retrofitted columns
// also come from the first asset and every other asset must carry the same
// keys. Ordinals are assigned on the given assets in row order.
func Build(assetsBySite [][]*models.Asset, timeEvent string, timeEvents ...string) (*AssetTable, error) {
	first := firstAsset(assetsBySite)
	if first == nil {
		return nil, fmt.Errorf("%w: there are no assets", apperrors.ErrEmptyInput)
	}

	theOccupants := models.OccupantsKey(timeEvent)
	var valueKeys, valueColumns []string
	for _, key := range sortedKeys(first.Values) {
		if models.IsOccupantsKey(key) {
			if key == theOccupants {
				valueKeys = append(valueKeys, key)
				valueColumns = append(valueColumns, OccupantsColumn)
			}
			continue
		}
		valueKeys = append(valueKeys, key)
		valueColumns = append(valueColumns, ValuePrefix+key)
	}

	deductibles := sortedKeys(first.Deductibles)
	limits := sortedKeys(first.InsuranceLimits)
	retrofitted := sortedKeys(first.Retrofitted)

	taxonomySet := mapset.NewThreadUnsafeSet[string]()
	numAssets := 0
	for _, site := range assetsBySite {
		for _, a := range site {
			if err := checkUniform(a, valueKeys, deductibles, limits, retrofitted); err != nil {
				return nil, err
			}
			taxonomySet.Add(a.Taxonomy)
			numAssets++
		}
	}
	taxonomies := taxonomySet.ToSlice()
	sort.Strings(taxonomies)
	taxonomyIndex := make(map[string]uint32, len(taxonomies))
	for i, taxonomy := range taxonomies {
		taxonomyIndex[taxonomy] = uint32(i)
	}

	t := newTable(numAssets)
	t.TimeEvent = timeEvent
	t.TimeEvents = timeEvents
	t.Taxonomies = taxonomies
	for _, lt := range deductibles {
		t.DeductibleColumns = append(t.DeductibleColumns, DeductiblePrefix+lt)
	}
	for _, lt := range limits {
		t.InsuranceLimitColumns = append(t.InsuranceLimitColumns, InsuranceLimitPrefix+lt)
	}
	for _, lt := range retrofitted {
		t.RetrofittedColumns = append(t.RetrofittedColumns, RetrofittedPrefix+lt)
	}
	t.columnNames = append(t.columnNames, valueColumns...)
	t.columnNames = append(t.columnNames, t.DeductibleColumns...)
	t.columnNames = append(t.columnNames, t.InsuranceLimitColumns...)
	t.columnNames = append(t.columnNames, t.RetrofittedColumns...)
	for _, name := range t.columnNames {
		t.columns[name] = make([]float64, numAssets)
	}
	t.LossTypes = lossTypesOf(t.columnNames)

	ordinal := 0
	for sid, site := range assetsBySite {
		sorted := make([]*models.Asset, len(site))
		copy(sorted, site)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Idx < sorted[j].Idx })

		for _, a := range sorted {
			a.Ordinal = ordinal
			t.Idx[ordinal] = a.Idx
			t.Lon[ordinal] = float32(a.Location.Lon)
			t.Lat[ordinal] = float32(a.Location.Lat)
			t.SiteID[ordinal] = uint32(sid)
			t.TaxonomyID[ordinal] = taxonomyIndex[a.Taxonomy]
			t.Number[ordinal] = float32(a.Number)
			t.Area[ordinal] = float32(a.Area)
			for i, key := range valueKeys {
				t.columns[valueColumns[i]][ordinal] = a.Values[key]
			}
			for _, lt := range deductibles {
				t.columns[DeductiblePrefix+lt][ordinal] = a.Deductibles[lt]
			}
			for _, lt := range limits {
				t.columns[InsuranceLimitPrefix+lt][ordinal] = a.InsuranceLimits[lt]
			}
			for _, lt := range retrofitted {
				t.columns[RetrofittedPrefix+lt][ordinal] = a.Retrofitted[lt]
			}
			ordinal++
		}
	}

	return t, nil
}

func newTable(n int) *AssetTable {
	return &AssetTable{
		Idx:        make([]uint32, n),
		Lon:        make([]float32, n),
		Lat:        make([]float32, n),
		SiteID:     make([]uint32, n),
		TaxonomyID: make([]uint32, n),
		Number:     make([]float32, n),
		Area:       make([]float32, n),
		columns:    make(map[string][]float64),
	}
}

func firstAsset(assetsBySite [][]*models.Asset) *models.Asset {
	for _, site := range assetsBySite {
		if len(site) > 0 {
			return site[0]
		}
	}
	return nil
}

// checkUniform enforces that every asset carries the columns derived from
// the first asset.
func checkUniform(a *models.Asset, valueKeys, deductibles, limits, retrofitted []string) error {
	for _, key := range valueKeys {
		if _, ok := a.Values[key]; !ok {
			return fmt.Errorf("%w: asset %d has no value for %s", apperrors.ErrInconsistentInput, a.Idx, key)
		}
	}
	checks := []struct {
		name string
		want []string
		got  map[string]float64
	}{
		{"deductibles", deductibles, a.Deductibles},
		{"insurance limits", limits, a.InsuranceLimits},
		{"retrofitted values", retrofitted, a.Retrofitted},
	}
	for _, c := range checks {
		if !sameKeys(c.want, c.got) {
			return fmt.Errorf("%w: asset %d has %s for %v, expected %v",
				apperrors.ErrInconsistentInput, a.Idx, c.name, sortedKeys(c.got), c.want)
		}
	}
	return nil
}

func sameKeys(want []string, got map[string]float64) bool {
	if len(want) != len(got) {
		return false
	}
	for _, k := range want {
		if _, ok := got[k]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lossTypesOf(columnNames []string) []string {
	var lossTypes []string
	for _, name := range columnNames {
		switch {
		case name == OccupantsColumn:
			lossTypes = append(lossTypes, OccupantsColumn)
		case strings.HasPrefix(name, ValuePrefix):
			lossTypes = append(lossTypes, strings.TrimPrefix(name, ValuePrefix))
		}
	}
	sort.Strings(lossTypes)
	return lossTypes
}

// Len returns the number of assets.
func (t *AssetTable) Len() int {
	return len(t.Idx)
}

// ColumnNames returns the float column names in table order.
func (t *AssetTable) ColumnNames() []string {
	return t.columnNames
}

// Column returns the float column with the given name.
func (t *AssetTable) Column(name string) ([]float64, bool) {
	col, ok := t.columns[name]
	return col, ok
}

// Asset reconstructs the asset stored at row i. The returned asset has
// ordinal i and its occupants keyed by the table's time event.
func (t *AssetTable) Asset(i int) *models.Asset {
	a := &models.Asset{
		Idx:             t.Idx[i],
		Ordinal:         i,
		Taxonomy:        t.Taxonomies[t.TaxonomyID[i]],
		Location:        models.Location{Lon: float64(t.Lon[i]), Lat: float64(t.Lat[i])},
		Number:          float64(t.Number[i]),
		Area:            float64(t.Area[i]),
		Values:          make(map[string]float64, len(t.LossTypes)),
		Deductibles:     make(map[string]float64, len(t.DeductibleColumns)),
		InsuranceLimits: make(map[string]float64, len(t.InsuranceLimitColumns)),
		Retrofitted:     make(map[string]float64, len(t.RetrofittedColumns)),
	}
	for _, lt := range t.LossTypes {
		if lt == OccupantsColumn {
			a.Values[models.OccupantsKey(t.TimeEvent)] = t.columns[OccupantsColumn][i]
			continue
		}
		a.Values[lt] = t.columns[ValuePrefix+lt][i]
	}
	for _, name := range t.DeductibleColumns {
		a.Deductibles[strings.TrimPrefix(name, DeductiblePrefix)] = t.columns[name][i]
	}
	for _, name := range t.InsuranceLimitColumns {
		a.InsuranceLimits[strings.TrimPrefix(name, InsuranceLimitPrefix)] = t.columns[name][i]
	}
	for _, name := range t.RetrofittedColumns {
		a.Retrofitted[strings.TrimPrefix(name, RetrofittedPrefix)] = t.columns[name][i]
	}
	return a
}

// Slice returns a new table holding the given rows, in the given order.
// The taxonomy catalogue is shared with t.
func (t *AssetTable) Slice(indices []int) *AssetTable {
	s := newTable(len(indices))
	s.TimeEvent = t.TimeEvent
	s.TimeEvents = t.TimeEvents
	s.Taxonomies = t.Taxonomies
	s.LossTypes = t.LossTypes
	s.DeductibleColumns = t.DeductibleColumns
	s.InsuranceLimitColumns = t.InsuranceLimitColumns
	s.RetrofittedColumns = t.RetrofittedColumns
	s.columnNames = t.columnNames
	for _, name := range t.columnNames {
		s.columns[name] = make([]float64, len(indices))
	}
	for row, i := range indices {
		s.Idx[row] = t.Idx[i]
		s.Lon[row] = t.Lon[i]
		s.Lat[row] = t.Lat[i]
		s.SiteID[row] = t.SiteID[i]
		s.TaxonomyID[row] = t.TaxonomyID[i]
		s.Number[row] = t.Number[i]
		s.Area[row] = t.Area[i]
		for _, name := range t.columnNames {
			s.columns[name][row] = t.columns[name][i]
		}
	}
	return s
}

// AssetsBySite groups the assets by site id, one list per distinct site in
// increasing site id order. Sites without assets are not represented.
func (t *AssetTable) AssetsBySite() [][]*models.Asset {
	siteIDs := mapset.NewThreadUnsafeSet[uint32]()
	for _, sid := range t.SiteID {
		siteIDs.Add(sid)
	}
	sorted := siteIDs.ToSlice()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := make(map[uint32]int, len(sorted))
	for i, sid := range sorted {
		index[sid] = i
	}

	bySite := make([][]*models.Asset, len(sorted))
	for i := range t.Idx {
		pos := index[t.SiteID[i]]
		bySite[pos] = append(bySite[pos], t.Asset(i))
	}
	return bySite
}

// Values returns the asset values per loss type, indexed by ordinal.
func (t *AssetTable) Values() map[string][]float64 {
	vals := make(map[string][]float64, len(t.LossTypes))
	for _, lt := range t.LossTypes {
		name := ValuePrefix + lt
		if lt == OccupantsColumn {
			name = OccupantsColumn
		}
		col := make([]float64, t.Len())
		copy(col, t.columns[name])
		vals[lt] = col
	}
	return vals
}

// NBytes returns the in-memory size of the table columns.
func (t *AssetTable) NBytes() int {
	const fixedWidth = 7 * 4 // idx, lon, lat, site_id, taxonomy_id, number, area
	return t.Len() * (fixedWidth + 8*len(t.columnNames))
}
