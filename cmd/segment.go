package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/wardseg/internal/config"
	"github.com/sells-group/wardseg/internal/output"
	"github.com/sells-group/wardseg/internal/pipeline"
)

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "Split the district's roads by ward and write the segments",
	Long: `Loads the ward boundaries for one district, downloads the road network for
the configured place from Overpass, splits every road at ward boundaries and
writes one GeoJSON feature per piece.

Postcodes within --buffer metres are attached when a postcode GeoPackage is
available. With --postgis the segments are also copied into the configured
PostGIS table.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applySegmentFlags(cmd, cfg)

		var pool output.Pool
		usePostGIS, _ := cmd.Flags().GetBool("postgis")
		if usePostGIS {
			if cfg.PostGIS.DatabaseURL == "" {
				return eris.New("segment: --postgis requires postgis.database_url")
			}
			pgPool, err := pgxpool.New(ctx, cfg.PostGIS.DatabaseURL)
			if err != nil {
				return eris.Wrap(err, "segment: connect to postgis")
			}
			defer pgPool.Close()
			pool = pgPool
		}

		p := pipeline.New(cfg, pipeline.NewOverpassSource(cfg.Network), pool)
		res, err := p.Run(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("segment: done",
			zap.String("run_id", res.RunID),
			zap.Int("segments", res.Stats.Features),
			zap.Float64("length_km", res.Stats.LengthKm),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d segments across %d wards to %s\n",
			res.Stats.Features, res.Wards, res.OutputPath)
		return nil
	},
}

// applySegmentFlags copies explicitly set flags over the loaded config.
func applySegmentFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("place") {
		c.Network.Place, _ = f.GetString("place")
	}
	if f.Changed("district") {
		c.Boundary.DistrictName, _ = f.GetString("district")
	}
	if f.Changed("district-code") {
		c.Boundary.DistrictCode, _ = f.GetString("district-code")
	}
	if f.Changed("buffer") {
		c.Segment.BufferMeters, _ = f.GetFloat64("buffer")
	}
	if f.Changed("unmatched") {
		c.Segment.Unmatched, _ = f.GetString("unmatched")
	}
	if f.Changed("boundaries") {
		c.Boundary.Path, _ = f.GetString("boundaries")
	}
	if f.Changed("postcodes") {
		c.Postcode.Path, _ = f.GetString("postcodes")
	}
	if f.Changed("output") {
		c.Output.Path, _ = f.GetString("output")
	}
}

func addSegmentFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("place", "", "place to fetch roads for, e.g. \"London Borough of Brent, United Kingdom\"")
	f.String("district", "", "district (LAD) name to select wards by")
	f.String("district-code", "", "district (LAD) code to select wards by")
	f.Float64("buffer", 30, "postcode buffer in metres")
	f.String("unmatched", "drop", "roads outside every ward: drop or keep")
	f.String("boundaries", "", "ward boundary file (.geojson or .shp)")
	f.String("postcodes", "", "postcode GeoPackage")
	f.String("output", "", "output GeoJSON path")
	f.Bool("postgis", false, "also load segments into PostGIS")
}

func init() {
	addSegmentFlags(segmentCmd)
	rootCmd.AddCommand(segmentCmd)
}
