// Package output serialises ward segments as GeoJSON or loads them into
// PostGIS.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/wardseg/internal/segment"
)

// DefaultColor is the stroke colour given to every segment.
const DefaultColor = "#FF0000"

// Options controls feature properties.
type Options struct {
	Color            string
	IncludePostcodes bool
}

// FeatureCollection converts segments into a GeoJSON feature collection.
func FeatureCollection(features []segment.Feature, opts Options) *geojson.FeatureCollection {
	color := opts.Color
	if color == "" {
		color = DefaultColor
	}

	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		gf.Properties["id"] = SegmentID(f.ID)
		gf.Properties["color"] = color
		gf.Properties["osm_id"] = osmID(f)
		gf.Properties["name"] = orDefault(f.Edge.Name(), "Unnamed")
		gf.Properties["highway"] = orDefault(f.Edge.Highway(), "unknown")
		if f.Ward != nil {
			gf.Properties["ward"] = f.Ward.Name
			gf.Properties["lad"] = f.Ward.District
		} else {
			gf.Properties["ward"] = nil
			gf.Properties["lad"] = nil
		}
		if opts.IncludePostcodes {
			pcs := f.Postcodes
			if pcs == nil {
				pcs = []string{}
			}
			gf.Properties["postcodes"] = pcs
		}
		fc.Append(gf)
	}
	return fc
}

// SegmentID formats a feature id for output.
func SegmentID(id int) string {
	return fmt.Sprintf("segment_%d", id)
}

// osmID is the single source way id, or the list when ways were merged.
func osmID(f segment.Feature) any {
	ids := wayIDs(f)
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return ids[0]
	default:
		return ids
	}
}

func wayIDs(f segment.Feature) []int64 {
	ids := make([]int64, len(f.Edge.WayIDs))
	for i, id := range f.Edge.WayIDs {
		ids[i] = int64(id)
	}
	return ids
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// WriteGeoJSON writes fc to path as indented JSON, creating parent
// directories as needed.
func WriteGeoJSON(path string, fc *geojson.FeatureCollection) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "output: create directory %s", dir)
		}
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "output: encode geojson")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "output: write %s", path)
	}
	return nil
}
