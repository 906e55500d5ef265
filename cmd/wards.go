package main

import (
	"fmt"
	"math"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/paulmach/orb/geo"
	"github.com/spf13/cobra"

	"github.com/sells-group/wardseg/internal/pipeline"
)

var wardsCmd = &cobra.Command{
	Use:   "wards",
	Short: "List the wards selected by the district filter",
	Long:  "Loads the boundary source with the configured field mapping and prints each selected ward. Useful for checking a new boundary release before a full run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applySegmentFlags(cmd, cfg)

		wards, err := pipeline.New(cfg, nil, nil).LoadWards(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tDISTRICT\tAREA_KM2")
		for _, ward := range wards {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", ward.Code, ward.Name, ward.District, math.Abs(geo.Area(ward.Geometry))/1e6)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d wards\n", len(wards))
		return nil
	},
}

func init() {
	f := wardsCmd.Flags()
	f.String("district", "", "district (LAD) name to select wards by")
	f.String("district-code", "", "district (LAD) code to select wards by")
	f.String("boundaries", "", "ward boundary file (.geojson or .shp)")
	rootCmd.AddCommand(wardsCmd)
}
