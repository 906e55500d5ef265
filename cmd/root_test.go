package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wardseg/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"segment", "wards"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "wardseg", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestSegmentCommand_Flags(t *testing.T) {
	for _, name := range []string{
		"place", "district", "district-code", "buffer", "unmatched",
		"boundaries", "postcodes", "output", "postgis",
	} {
		require.NotNil(t, segmentCmd.Flags().Lookup(name), "segment command should have --%s", name)
	}
	assert.Equal(t, "30", segmentCmd.Flags().Lookup("buffer").DefValue)
	assert.Equal(t, "drop", segmentCmd.Flags().Lookup("unmatched").DefValue)
	assert.Equal(t, "false", segmentCmd.Flags().Lookup("postgis").DefValue)
}

func TestWardsCommand_Flags(t *testing.T) {
	for _, name := range []string{"district", "district-code", "boundaries"} {
		require.NotNil(t, wardsCmd.Flags().Lookup(name))
	}
}

func TestApplySegmentFlags_OnlyChanged(t *testing.T) {
	c := &config.Config{
		Network:  config.NetworkConfig{Place: "London Borough of Brent, United Kingdom"},
		Boundary: config.BoundaryConfig{DistrictName: "Brent"},
		Segment:  config.SegmentConfig{BufferMeters: 30, Unmatched: "drop"},
	}

	cmd := &cobra.Command{Use: "segment"}
	addSegmentFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--district", "Camden", "--buffer", "50"}))

	applySegmentFlags(cmd, c)

	assert.Equal(t, "Camden", c.Boundary.DistrictName)
	assert.Equal(t, 50.0, c.Segment.BufferMeters)
	assert.Equal(t, "London Borough of Brent, United Kingdom", c.Network.Place, "unset flags leave config alone")
	assert.Equal(t, "drop", c.Segment.Unmatched)
}
