package config

import (
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MaxBufferMeters bounds the postcode buffer. The spatial index measures
// distance in a local flat frame, which holds up only for small radii.
const MaxBufferMeters = 10000

// ErrInvalid marks a configuration that fails validation.
var ErrInvalid = eris.New("config: invalid")

// Config holds the full application configuration.
type Config struct {
	Network  NetworkConfig  `yaml:"network" mapstructure:"network"`
	Boundary BoundaryConfig `yaml:"boundary" mapstructure:"boundary"`
	Postcode PostcodeConfig `yaml:"postcode" mapstructure:"postcode"`
	Segment  SegmentConfig  `yaml:"segment" mapstructure:"segment"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	PostGIS  PostGISConfig  `yaml:"postgis" mapstructure:"postgis"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// NetworkConfig configures the Overpass road network fetch.
type NetworkConfig struct {
	Place            string `yaml:"place" mapstructure:"place"`
	OverpassURL      string `yaml:"overpass_url" mapstructure:"overpass_url"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MergeWays        bool   `yaml:"merge_ways" mapstructure:"merge_ways"`
}

// BoundaryConfig configures where ward polygons come from and how their
// attribute columns map onto ward and district fields.
type BoundaryConfig struct {
	Path         string         `yaml:"path" mapstructure:"path"`
	URL          string         `yaml:"url" mapstructure:"url"`
	CacheDir     string         `yaml:"cache_dir" mapstructure:"cache_dir"`
	SourceCRS    string         `yaml:"source_crs" mapstructure:"source_crs"`
	DistrictName string         `yaml:"district_name" mapstructure:"district_name"`
	DistrictCode string         `yaml:"district_code" mapstructure:"district_code"`
	Fields       BoundaryFields `yaml:"fields" mapstructure:"fields"`
}

// BoundaryFields maps logical ward attributes to source column names.
type BoundaryFields struct {
	WardName     string `yaml:"ward_name" mapstructure:"ward_name"`
	WardCode     string `yaml:"ward_code" mapstructure:"ward_code"`
	DistrictName string `yaml:"district_name" mapstructure:"district_name"`
	DistrictCode string `yaml:"district_code" mapstructure:"district_code"`
}

// PostcodeConfig configures the optional postcode centroid GeoPackage.
type PostcodeConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	Table         string `yaml:"table" mapstructure:"table"`
	CodeField     string `yaml:"code_field" mapstructure:"code_field"`
	DistrictField string `yaml:"district_field" mapstructure:"district_field"`
	SourceCRS     string `yaml:"source_crs" mapstructure:"source_crs"`
}

// SegmentConfig configures the splitter.
type SegmentConfig struct {
	BufferMeters float64 `yaml:"buffer_meters" mapstructure:"buffer_meters"`
	Unmatched    string  `yaml:"unmatched" mapstructure:"unmatched"`
}

// OutputConfig configures the GeoJSON sink.
type OutputConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
	Color string `yaml:"color" mapstructure:"color"`
}

// PostGISConfig configures the optional PostGIS sink.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	Table       string `yaml:"table" mapstructure:"table"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("WARDSEG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("network.place", "London Borough of Brent, United Kingdom")
	v.SetDefault("network.overpass_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("network.timeout_secs", 300)
	v.SetDefault("network.max_attempts", 3)
	v.SetDefault("network.initial_backoff_ms", 2000)
	v.SetDefault("network.merge_ways", true)
	v.SetDefault("boundary.path", "input/WD_MAY_2023_UK_BGC.geojson")
	v.SetDefault("boundary.cache_dir", "input/cache")
	v.SetDefault("boundary.district_name", "Brent")
	v.SetDefault("boundary.district_code", "")
	v.SetDefault("boundary.fields.ward_name", "WD23NM")
	v.SetDefault("boundary.fields.ward_code", "WD23CD")
	v.SetDefault("boundary.fields.district_name", "LAD23NM")
	v.SetDefault("boundary.fields.district_code", "LAD23CD")
	v.SetDefault("postcode.path", "input/ONSPD.gpkg")
	v.SetDefault("postcode.code_field", "PCDS")
	v.SetDefault("postcode.district_field", "LAD25CD")
	v.SetDefault("segment.buffer_meters", 30)
	v.SetDefault("segment.unmatched", "drop")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.color", "#FF0000")
	v.SetDefault("postgis.schema", "public")
	v.SetDefault("postgis.table", "ward_segments")
	v.SetDefault("postgis.batch_size", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Boundary.DistrictName == "" && c.Boundary.DistrictCode == "" {
		return eris.Wrap(ErrInvalid, "boundary: district_name or district_code is required")
	}
	if c.Segment.BufferMeters < 0 || c.Segment.BufferMeters > MaxBufferMeters {
		return eris.Wrapf(ErrInvalid, "segment: buffer_meters %.1f outside [0, %d]", c.Segment.BufferMeters, MaxBufferMeters)
	}
	switch c.Segment.Unmatched {
	case "drop", "keep":
	default:
		return eris.Wrapf(ErrInvalid, "segment: unmatched must be \"drop\" or \"keep\", got %q", c.Segment.Unmatched)
	}
	if c.Network.Place == "" {
		return eris.Wrap(ErrInvalid, "network: place is required")
	}
	return nil
}

// OutputPath returns the configured output path, deriving
// <dir>/<district>_segments.geojson when none is set.
func (c *Config) OutputPath() string {
	if c.Output.Path != "" {
		return c.Output.Path
	}
	name := c.Boundary.DistrictName
	if name == "" {
		name = c.Boundary.DistrictCode
	}
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	return filepath.Join(c.Output.Dir, name+"_segments.geojson")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
