// Package postcode loads postcode centroids for one district from an ONS
// Postcode Directory GeoPackage.
package postcode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/wardseg/internal/osgb"
)

// ErrUnknownField is returned when a configured column is not in the table.
var ErrUnknownField = eris.New("postcode: unknown field")

// Point is a postcode centroid in WGS84.
type Point struct {
	Code     string
	Location orb.Point
}

// Options configures Load. Table may be empty to use the first feature table
// registered in the GeoPackage.
type Options struct {
	Path          string
	Table         string
	CodeField     string
	DistrictField string
	DistrictCode  string
	SourceCRS     string
}

// Load returns the postcodes of one district. A missing file is not an
// error: it logs a warning and returns nil so enrichment is skipped.
func Load(ctx context.Context, opts Options) ([]Point, error) {
	log := zap.L().With(zap.String("component", "postcode.load"), zap.String("path", opts.Path))

	if opts.Path == "" {
		log.Info("no postcode source configured, postcodes will not be included")
		return nil, nil
	}
	if _, err := os.Stat(opts.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("postcode file not found, postcodes will not be included")
			return nil, nil
		}
		return nil, eris.Wrap(err, "postcode: stat source")
	}
	if opts.DistrictCode == "" {
		log.Warn("no district code set, postcodes will not be included")
		return nil, nil
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: open geopackage")
	}
	defer db.Close() //nolint:errcheck

	gp := &geoPackage{db: db}

	table := opts.Table
	if table == "" {
		table, err = gp.firstFeatureTable(ctx)
		if err != nil {
			return nil, err
		}
	}

	geomCol, srsID, err := gp.geometryColumn(ctx, table)
	if err != nil {
		return nil, err
	}

	columns, err := gp.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(columns, opts.CodeField, opts.DistrictField); err != nil {
		return nil, err
	}

	crs := opts.SourceCRS
	if crs == "" {
		crs = fmt.Sprintf("EPSG:%d", srsID)
	}
	proj, err := osgb.Projection(crs)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: source CRS")
	}

	query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s = ?`,
		quoteIdent(opts.CodeField), quoteIdent(geomCol), quoteIdent(table), quoteIdent(opts.DistrictField))
	rows, err := db.QueryContext(ctx, query, opts.DistrictCode)
	if err != nil {
		return nil, eris.Wrap(err, "postcode: query postcodes")
	}
	defer rows.Close() //nolint:errcheck

	var points []Point
	var skipped, decodeErrors int
	for rows.Next() {
		var code sql.NullString
		var blob []byte
		if err := rows.Scan(&code, &blob); err != nil {
			return nil, eris.Wrap(err, "postcode: scan row")
		}
		if !code.Valid || strings.TrimSpace(code.String) == "" {
			skipped++
			continue
		}
		pt, ok, err := decodePoint(blob)
		if err != nil {
			if decodeErrors == 0 {
				log.Warn("undecodable postcode geometry, excluding",
					zap.String("postcode", code.String), zap.Error(err))
			}
			decodeErrors++
			continue
		}
		if !ok {
			skipped++
			continue
		}
		if proj != nil {
			pt = proj(pt)
		}
		points = append(points, Point{Code: strings.TrimSpace(code.String), Location: pt})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postcode: iterate rows")
	}

	log.Info("loaded postcodes",
		zap.String("district_code", opts.DistrictCode),
		zap.Int("postcodes", len(points)),
		zap.Int("skipped", skipped),
		zap.Int("decode_errors", decodeErrors),
	)
	return points, nil
}

func checkColumns(columns []string, want ...string) error {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}
	var missing []string
	for _, w := range want {
		if w == "" || !have[w] {
			missing = append(missing, fmt.Sprintf("%q", w))
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

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
