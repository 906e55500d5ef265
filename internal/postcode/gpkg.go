package postcode

import (
	"context"
	"database/sql"
	"errors"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// geoPackage reads the OGC GeoPackage metadata tables.
type geoPackage struct {
	db *sql.DB
}

func (g *geoPackage) firstFeatureTable(ctx context.Context) (string, error) {
	var name string
	err := g.db.QueryRowContext(ctx,
		`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name LIMIT 1`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.New("postcode: geopackage has no feature tables")
	}
	if err != nil {
		return "", eris.Wrap(err, "postcode: read gpkg_contents")
	}
	return name, nil
}

func (g *geoPackage) geometryColumn(ctx context.Context, table string) (string, int, error) {
	var col string
	var srsID int
	err := g.db.QueryRowContext(ctx,
		`SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, table,
	).Scan(&col, &srsID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, eris.Errorf("postcode: table %q has no geometry column", table)
	}
	if err != nil {
		return "", 0, eris.Wrap(err, "postcode: read gpkg_geometry_columns")
	}
	return col, srsID, nil
}

func (g *geoPackage) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, eris.Wrapf(err, "postcode: table info %s", table)
	}
	defer rows.Close() //nolint:errcheck

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postcode: scan column")
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postcode: iterate columns")
	}
	if len(cols) == 0 {
		return nil, eris.Errorf("postcode: table %q not found", table)
	}
	return cols, nil
}

// envelopeSizes maps the GeoPackage envelope indicator to its byte length.
var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// decodePoint parses a GeoPackage binary geometry holding a point. ok is
// false for empty geometries.
func decodePoint(blob []byte) (orb.Point, bool, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return orb.Point{}, false, eris.New("postcode: not a geopackage geometry")
	}
	flags := blob[3]
	if flags&0x10 != 0 {
		return orb.Point{}, false, nil
	}
	envSize, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return orb.Point{}, false, eris.Errorf("postcode: bad envelope indicator in flags %#x", flags)
	}
	offset := 8 + envSize
	if len(blob) < offset {
		return orb.Point{}, false, eris.New("postcode: truncated geometry header")
	}

	g, err := wkb.Unmarshal(blob[offset:])
	if err != nil {
		return orb.Point{}, false, eris.Wrap(err, "postcode: decode wkb")
	}
	pt, isPoint := g.(*geom.Point)
	if !isPoint {
		return orb.Point{}, false, eris.Errorf("postcode: expected point, got %T", g)
	}
	if pt.Empty() {
		return orb.Point{}, false, nil
	}
	return orb.Point{pt.X(), pt.Y()}, true, nil
}
