// Package boundary loads ward polygons for one local authority district from
// ONS-style boundary datasets (GeoJSON or shapefile), fetching them into a
// local cache when only a URL is configured.
package boundary

import (
	"context"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotFound is returned when no boundary file exists and no URL is set.
	ErrNotFound = eris.New("boundary: file not found")
	// ErrUnknownField is returned when a mapped column is missing from the source.
	ErrUnknownField = eris.New("boundary: unknown field")
	// ErrNoWards is returned when the district filter matches nothing.
	ErrNoWards = eris.New("boundary: no wards match filter")
)

// Ward is one ward polygon in WGS84.
type Ward struct {
	Code         string
	Name         string
	District     string
	DistrictCode string
	Geometry     orb.MultiPolygon
	Bound        orb.Bound
}

// Fields maps logical ward attributes onto source column names. WardName and
// DistrictName are required; an empty code column is not read.
type Fields struct {
	WardName     string
	WardCode     string
	DistrictName string
	DistrictCode string
}

// Filter selects the wards of one district by name, code, or both.
type Filter struct {
	DistrictName string
	DistrictCode string
}

// Options configures Load.
type Options struct {
	Path      string
	URL       string
	CacheDir  string
	SourceCRS string
	Fields    Fields
	Filter    Filter
}

// record is one source feature before field mapping.
type record struct {
	Props    map[string]string
	Geometry orb.Geometry
}

// Load resolves the boundary source, reads it, validates the field mapping
// against its schema, and returns the wards matching the filter in source
// order.
func Load(ctx context.Context, opts Options) ([]Ward, error) {
	log := zap.L().With(zap.String("component", "boundary.load"))

	if opts.Filter.DistrictName == "" && opts.Filter.DistrictCode == "" {
		return nil, eris.New("boundary: district name or code filter is required")
	}
	if opts.Fields.WardName == "" || opts.Fields.DistrictName == "" {
		return nil, eris.New("boundary: ward_name and district_name field mappings are required")
	}

	path, err := resolveSource(ctx, opts.Path, opts.URL, opts.CacheDir)
	if err != nil {
		return nil, err
	}

	records, columns, crs, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	if opts.SourceCRS != "" {
		crs = opts.SourceCRS
	}
	log.Info("loaded boundary features",
		zap.String("path", path),
		zap.Int("features", len(records)),
		zap.String("crs", crs),
	)

	if err := checkFields(opts.Fields, columns); err != nil {
		return nil, err
	}

	wards, err := filterWards(records, opts.Fields, opts.Filter, crs)
	if err != nil {
		return nil, err
	}

	log.Info("filtered wards",
		zap.String("district_name", opts.Filter.DistrictName),
		zap.String("district_code", opts.Filter.DistrictCode),
		zap.Int("wards", len(wards)),
	)
	return wards, nil
}

// checkFields verifies every mapped column exists, listing what is available
// when one does not.
func checkFields(f Fields, columns []string) error {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}

	var missing []string
	for _, col := range []string{f.WardName, f.WardCode, f.DistrictName, f.DistrictCode} {
		if col != "" && !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	return eris.Wrapf(ErrUnknownField, "missing %s; available columns: %s",
		strings.Join(missing, ", "), strings.Join(sorted, ", "))
}

func filterWards(records []record, f Fields, filter Filter, crs string) ([]Ward, error) {
	folder := cases.Fold()
	fold := func(s string) string {
		return folder.String(norm.NFC.String(strings.TrimSpace(s)))
	}
	wantName := fold(filter.DistrictName)
	wantCode := strings.ToUpper(strings.TrimSpace(filter.DistrictCode))

	var wards []Ward
	for _, r := range records {
		if wantName != "" && fold(r.Props[f.DistrictName]) != wantName {
			continue
		}
		if wantCode != "" {
			if f.DistrictCode == "" {
				return nil, eris.Wrap(ErrUnknownField, "district code filter set but no district_code field mapped")
			}
			if strings.ToUpper(r.Props[f.DistrictCode]) != wantCode {
				continue
			}
		}

		mp, err := toMultiPolygon(r.Geometry, crs)
		if err != nil {
			return nil, eris.Wrapf(err, "boundary: ward %q", r.Props[f.WardName])
		}
		if len(mp) == 0 {
			zap.L().Debug("boundary: skipping ward without polygon geometry",
				zap.String("ward", r.Props[f.WardName]))
			continue
		}

		w := Ward{
			Name:     r.Props[f.WardName],
			District: r.Props[f.DistrictName],
			Geometry: mp,
			Bound:    mp.Bound(),
		}
		if f.WardCode != "" {
			w.Code = r.Props[f.WardCode]
		}
		if f.DistrictCode != "" {
			w.DistrictCode = r.Props[f.DistrictCode]
		}
		wards = append(wards, w)
	}

	if len(wards) == 0 {
		return nil, eris.Wrapf(ErrNoWards, "district name %q code %q; check the name is correct",
			filter.DistrictName, filter.DistrictCode)
	}
	return wards, nil
}
