package boundary

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wardseg/internal/osgb"
)

// readRecords reads every feature in a GeoJSON or shapefile boundary source.
// It returns the records, the attribute column names, and the CRS declared
// by the source ("" when undeclared).
func readRecords(path string) ([]record, []string, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return readGeoJSON(path)
	case ".shp":
		return readShapefile(path)
	}
	return nil, nil, "", eris.Errorf("boundary: unsupported file type %s", path)
}

func readGeoJSON(path string) ([]record, []string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", eris.Wrapf(err, "boundary: read %s", path)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, nil, "", eris.Wrapf(err, "boundary: decode %s", path)
	}

	crs := crsFromName(crsName(fc.ExtraMembers))

	seen := make(map[string]bool)
	var columns []string
	records := make([]record, 0, len(fc.Features))
	for _, f := range fc.Features {
		props := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
			if v == nil {
				continue
			}
			props[k] = strings.TrimSpace(fmt.Sprint(v))
		}
		records = append(records, record{Props: props, Geometry: f.Geometry})
	}
	return records, columns, crs, nil
}

func readShapefile(path string) ([]record, []string, string, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, nil, "", eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = strings.TrimRight(f.String(), "\x00")
	}

	var records []record
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		mp := shapeToMultiPolygon(shape)
		if len(mp) == 0 {
			skipped++
			continue
		}

		props := make(map[string]string, len(columns))
		for i, col := range columns {
			val := strings.TrimRight(reader.Attribute(i), "\x00")
			props[col] = strings.TrimSpace(val)
		}
		records = append(records, record{Props: props, Geometry: mp})
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped non-polygon shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}

	return records, columns, prjCRS(path), nil
}

// prjCRS inspects the sidecar .prj for a British National Grid definition.
func prjCRS(shpPath string) string {
	data, err := os.ReadFile(strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj")
	if err != nil {
		return ""
	}
	wkt := strings.TrimSpace(string(data))
	switch {
	case strings.Contains(wkt, "British_National_Grid"), strings.Contains(wkt, "OSGB"):
		return osgb.BNG
	case strings.HasPrefix(wkt, "GEOGCS"):
		return osgb.WGS84
	}
	return "prj:" + filepath.Base(shpPath)
}

// crsName reads the name from the legacy "crs" member ONS still emits.
func crsName(extra geojson.Properties) string {
	crs, ok := extra["crs"].(map[string]interface{})
	if !ok {
		return ""
	}
	props, ok := crs["properties"].(map[string]interface{})
	if !ok {
		return ""
	}
	name, _ := props["name"].(string)
	return name
}

func crsFromName(name string) string {
	switch {
	case name == "":
		return ""
	case strings.Contains(name, "27700"):
		return osgb.BNG
	case strings.Contains(name, "4326"), strings.Contains(name, "CRS84"):
		return osgb.WGS84
	}
	return name
}
