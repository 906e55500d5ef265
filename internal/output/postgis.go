package output

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/wardseg/internal/segment"
)

const defaultBatchSize = 10000

// Pool is the subset of *pgxpool.Pool used by the PostGIS sink.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostGISOptions names the target table and tags the rows of one run.
type PostGISOptions struct {
	Schema    string
	Table     string
	BatchSize int
	RunID     string
}

var segmentColumns = []string{
	"segment_id", "run_id", "osm_ids", "name", "highway",
	"ward", "ward_code", "lad", "lad_code", "postcodes", "geom",
}

// EnsureTable creates the segment table if it does not exist.
func EnsureTable(ctx context.Context, pool Pool, schema, table string) error {
	ident := pgx.Identifier{schema, table}.Sanitize()
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	segment_id TEXT NOT NULL,
	run_id TEXT NOT NULL,
	osm_ids BIGINT[] NOT NULL,
	name TEXT,
	highway TEXT,
	ward TEXT,
	ward_code TEXT,
	lad TEXT,
	lad_code TEXT,
	postcodes TEXT[],
	geom geometry(LineString, 4326) NOT NULL,
	PRIMARY KEY (run_id, segment_id)
)`, ident)
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrapf(err, "output: create table %s.%s", schema, table)
	}
	return nil
}

// LoadPostGIS copies features into schema.table in batches and returns the
// number of rows written.
func LoadPostGIS(ctx context.Context, pool Pool, opts PostGISOptions, features []segment.Feature) (int64, error) {
	if len(features) == 0 {
		return 0, nil
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	rows := make([][]any, 0, len(features))
	for _, f := range features {
		row, err := segmentRow(f, opts.RunID)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	log := zap.L().With(
		zap.String("component", "output.postgis"),
		zap.String("table", opts.Schema+"."+opts.Table),
		zap.Int("total_rows", len(rows)),
	)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))

		n, err := pool.CopyFrom(ctx, pgx.Identifier{opts.Schema, opts.Table}, segmentColumns, pgx.CopyFromRows(rows[i:end]))
		if err != nil {
			return total, eris.Wrapf(err, "output: COPY into %s.%s (batch %d-%d)", opts.Schema, opts.Table, i, end)
		}
		total += n

		log.Debug("batch loaded", zap.Int("batch_start", i), zap.Int("batch_end", end), zap.Int64("batch_rows", n))
	}

	log.Info("segments loaded", zap.Int64("rows", total))
	return total, nil
}

func segmentRow(f segment.Feature, runID string) ([]any, error) {
	wkb, err := encodeLineString(f)
	if err != nil {
		return nil, err
	}

	var ward, wardCode, lad, ladCode *string
	if f.Ward != nil {
		ward, wardCode = &f.Ward.Name, &f.Ward.Code
		lad, ladCode = &f.Ward.District, &f.Ward.DistrictCode
	}
	return []any{
		SegmentID(f.ID),
		runID,
		wayIDs(f),
		nullable(f.Edge.Name()),
		nullable(f.Edge.Highway()),
		ward, wardCode, lad, ladCode,
		f.Postcodes,
		wkb,
	}, nil
}

// encodeLineString renders the feature geometry as EWKB with SRID 4326.
func encodeLineString(f segment.Feature) ([]byte, error) {
	flat := make([]float64, 0, 2*len(f.Geometry))
	for _, p := range f.Geometry {
		flat = append(flat, p.Lon(), p.Lat())
	}
	ls := geom.NewLineStringFlat(geom.XY, flat).SetSRID(4326)

	data, err := ewkb.Marshal(ls, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "output: encode %s", SegmentID(f.ID))
	}
	return data, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
