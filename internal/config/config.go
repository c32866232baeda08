package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Engine selects where computation graphs are evaluated.
const (
	EngineLocal  = "local"
	EngineRemote = "remote"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Run parameters.
	AOIPath              string
	AOICRS               string
	StartYear            int
	EndYear              int
	StartMonth           int
	EndMonth             int
	CloudFilterThreshold float64
	ClearScoreThreshold  float64
	OutputCRS            string
	OutputScale          float64
	OutputDir            string
	OutputLabel          string
	MaxPixels            int64
	MaxReducePixels      int64

	// Evaluation engine.
	Engine        string
	EngineURL     string
	EngineTimeout time.Duration
	EngineRetries int
	EngineBackoff time.Duration
	EngineWorkers int
	TileSize      int
	CacheSize     int

	// Local data sources.
	SceneDir         string
	LandCoverPath    string
	LandCoverCRS     string
	LandCoverNodata  int
	WorldCoverPath   string
	WorldCoverCRS    string
	WorldCoverNodata int

	// Run reporting and export upload. Each is disabled when its address is empty.
	KafkaBrokers     []string
	KafkaReportTopic string
	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioBucket      string
	MinioSecure      bool
	LedgerPath       string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	RunOnce         bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		AOIPath:              p.required("AOI_PATH"),
		AOICRS:               sharedcfg.EnvOrDefault("AOI_CRS", "EPSG:4326"),
		StartYear:            p.int("START_YEAR", ""),
		EndYear:              p.int("END_YEAR", ""),
		StartMonth:           p.int("START_MONTH", ""),
		EndMonth:             p.int("END_MONTH", ""),
		CloudFilterThreshold: p.float("CLOUD_FILTER_THRESHOLD", ""),
		ClearScoreThreshold:  p.float("CLEAR_SCORE_THRESHOLD", ""),
		OutputCRS:            p.required("OUTPUT_CRS"),
		OutputScale:          p.float("OUTPUT_SCALE", ""),
		OutputDir:            sharedcfg.EnvOrDefault("OUTPUT_DIR", "./out"),
		OutputLabel:          sharedcfg.EnvOrDefault("OUTPUT_LABEL", "relative_yield_output"),
		MaxPixels:            int64(p.float("MAX_PIXELS", "1e11")),
		MaxReducePixels:      int64(p.float("MAX_REDUCE_PIXELS", "1e8")),

		Engine:        strings.ToLower(sharedcfg.EnvOrDefault("ENGINE", EngineLocal)),
		EngineURL:     os.Getenv("ENGINE_URL"),
		EngineTimeout: p.duration("ENGINE_TIMEOUT", "5m"),
		EngineRetries: p.int("ENGINE_RETRIES", "3"),
		EngineBackoff: p.duration("ENGINE_BACKOFF", "1s"),
		EngineWorkers: p.int("ENGINE_WORKERS", "4"),
		TileSize:      p.int("TILE_SIZE", "256"),
		CacheSize:     p.int("CATALOG_CACHE_SIZE", "64"),

		SceneDir:         os.Getenv("SCENE_DIR"),
		LandCoverPath:    os.Getenv("LANDCOVER_PATH"),
		LandCoverCRS:     sharedcfg.EnvOrDefault("LANDCOVER_CRS", "EPSG:3035"),
		LandCoverNodata:  p.int("LANDCOVER_NODATA", "255"),
		WorldCoverPath:   os.Getenv("WORLDCOVER_PATH"),
		WorldCoverCRS:    sharedcfg.EnvOrDefault("WORLDCOVER_CRS", "EPSG:4326"),
		WorldCoverNodata: p.int("WORLDCOVER_NODATA", "0"),

		KafkaReportTopic: sharedcfg.EnvOrDefault("KAFKA_REPORT_TOPIC", "relative-yield-runs"),
		MinioEndpoint:    os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:   os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:   os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:      sharedcfg.EnvOrDefault("MINIO_BUCKET", "relative-yield"),
		MinioSecure:      p.bool("MINIO_SECURE", "false"),
		LedgerPath:       os.Getenv("LEDGER_PATH"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		RunOnce:         p.bool("RUN_ONCE", "false"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.StartYear > c.EndYear:
		return errors.New("START_YEAR must not be after END_YEAR")
	case c.StartMonth < 1 || c.StartMonth > 12:
		return errors.New("START_MONTH must be between 1 and 12")
	case c.EndMonth < 1 || c.EndMonth > 12:
		return errors.New("END_MONTH must be between 1 and 12")
	case c.CloudFilterThreshold < 0 || c.CloudFilterThreshold > 100:
		return errors.New("CLOUD_FILTER_THRESHOLD must be between 0 and 100")
	case c.ClearScoreThreshold < 0 || c.ClearScoreThreshold > 1:
		return errors.New("CLEAR_SCORE_THRESHOLD must be between 0 and 1")
	case c.OutputScale <= 0:
		return errors.New("OUTPUT_SCALE must be positive")
	case c.MaxPixels <= 0:
		return errors.New("MAX_PIXELS must be positive")
	case c.MaxReducePixels <= 0:
		return errors.New("MAX_REDUCE_PIXELS must be positive")
	case c.EngineRetries < 0:
		return errors.New("ENGINE_RETRIES must not be negative")
	case c.EngineWorkers < 1:
		return errors.New("ENGINE_WORKERS must be at least 1")
	case c.TileSize < 1:
		return errors.New("TILE_SIZE must be at least 1")
	case c.CacheSize < 1:
		return errors.New("CATALOG_CACHE_SIZE must be at least 1")
	}

	switch c.Engine {
	case EngineLocal:
		if c.SceneDir == "" {
			return errors.New("SCENE_DIR is required for the local engine")
		}
		if c.LandCoverPath == "" {
			return errors.New("LANDCOVER_PATH is required for the local engine")
		}
		if c.WorldCoverPath == "" {
			return errors.New("WORLDCOVER_PATH is required for the local engine")
		}
	case EngineRemote:
		if c.EngineURL == "" {
			return errors.New("ENGINE_URL is required for the remote engine")
		}
	default:
		return fmt.Errorf("ENGINE must be %q or %q, got %q", EngineLocal, EngineRemote, c.Engine)
	}

	crsVars := [][2]string{{"AOI_CRS", c.AOICRS}, {"OUTPUT_CRS", c.OutputCRS}}
	if c.Engine == EngineLocal {
		crsVars = append(crsVars, [2]string{"LANDCOVER_CRS", c.LandCoverCRS}, [2]string{"WORLDCOVER_CRS", c.WorldCoverCRS})
	}
	for _, v := range crsVars {
		if err := domain.ValidateCRS(v[1]); err != nil {
			return fmt.Errorf("%s: %w", v[0], err)
		}
	}

	if c.MinioEndpoint != "" && (c.MinioAccessKey == "" || c.MinioSecretKey == "") {
		return errors.New("MINIO_ENDPOINT is set but MINIO_ACCESS_KEY or MINIO_SECRET_KEY is not")
	}
	return nil
}

// parser reads typed variables and keeps the first error.
type parser struct {
	err error
}

func (p *parser) lookup(key, def string) (string, bool) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	if v == "" {
		p.fail(fmt.Errorf("%s is required", key))
		return "", false
	}
	return v, true
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) required(key string) string {
	v, _ := p.lookup(key, "")
	return v
}

func (p *parser) int(key, def string) int {
	v, ok := p.lookup(key, def)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %q is not an integer", key, v))
	}
	return n
}

func (p *parser) float(key, def string) float64 {
	v, ok := p.lookup(key, def)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %q is not a number", key, v))
	}
	return f
}

func (p *parser) duration(key, def string) time.Duration {
	v, ok := p.lookup(key, def)
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(fmt.Errorf("invalid %s: %q is not a positive duration", key, v))
	}
	return d
}

func (p *parser) bool(key, def string) bool {
	v, ok := p.lookup(key, def)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s: %q is not a boolean", key, v))
	}
	return b
}
