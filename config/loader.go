package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigurationError is fatal and surfaces before any processing starts.
type ConfigurationError struct {
	Section string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Section, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Default returns the configuration used when the file carries no value.
// Matching tolerances and thresholds have no recoverable prior from any
// one deployment; these defaults are starting points meant to be tuned
// per feed.
func Default() AppConfig {
	return AppConfig{
		Matching: MatchingConfig{
			ToleranceMinutes:       20,
			SpatialToleranceMeters: 100,
			MinConfidence:          0.3,
			TemporalWeight:         0.6,
			SpatialWeight:          0.25,
			TripWeight:             0.15,
		},
		Normalization: NormalizationConfig{
			ServiceDayCutoffHour: 3,
			MaxPassengerCount:    150,
		},
		Measures: MeasuresConfig{
			OnTimeEarlySeconds: 60,
			OnTimeLateSeconds:  300,
			CrowdingVCRatio:    0.85,
			DefaultCapacity:    60,
		},
		Aggregation: AggregationConfig{
			Level: "route",
			TimeBuckets: []TimeBucketConfig{
				{Name: "EA", Start: 3, End: 6},
				{Name: "AM", Start: 6, End: 9},
				{Name: "MD", Start: 9, End: 16},
				{Name: "PM", Start: 16, End: 19},
				{Name: "EV", Start: 19, End: 27},
			},
			PercentileLow:  10,
			PercentileHigh: 90,
			MinSampleCount: 5,
		},
		Store: StoreConfig{
			Backend: "sqlite",
			DSN:     "transitperf.db",
		},
		NATS: NATSConfig{
			SubjectPrefix: "transitperf",
		},
		Pipeline: PipelineConfig{
			OutputDir: "out",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates. A missing path loads defaults plus
// environment only. Any defect is a *ConfigurationError.
func Load(path string) (AppConfig, error) {
	// .env values never override a variable already set in the
	// environment.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, &ConfigurationError{Section: "file", Err: err}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigurationError{Section: "file", Err: err}
		}
	}
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides the deployment-varying knobs from the environment.
func applyEnv(cfg *AppConfig) {
	cfg.Store.Backend = getEnv("TRANSITPERF_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.DSN = getEnv("TRANSITPERF_STORE_DSN", cfg.Store.DSN)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.Pipeline.MetricsAddr = getEnv("TRANSITPERF_METRICS_ADDR", cfg.Pipeline.MetricsAddr)
	cfg.Pipeline.Workers = getEnvInt("TRANSITPERF_WORKERS", cfg.Pipeline.Workers)
	cfg.Server.Addr = getEnv("TRANSITPERF_LISTEN_ADDR", cfg.Server.Addr)
}

func validate(cfg *AppConfig) error {
	v := validator.New()
	sections := []struct {
		name string
		val  any
	}{
		{"matching", cfg.Matching},
		{"normalization", cfg.Normalization},
		{"measures", cfg.Measures},
		{"aggregation", cfg.Aggregation},
		{"store", cfg.Store},
		{"pipeline", cfg.Pipeline},
	}
	for _, s := range sections {
		if err := v.Struct(s.val); err != nil {
			return &ConfigurationError{Section: s.name, Err: err}
		}
	}

	// Cross-field checks the tag grammar cannot express.
	m := cfg.Matching
	if m.TemporalWeight+m.SpatialWeight+m.TripWeight <= 0 {
		return &ConfigurationError{Section: "matching",
			Err: fmt.Errorf("scoring weights sum to zero")}
	}
	a := cfg.Aggregation
	if a.PercentileLow >= a.PercentileHigh {
		return &ConfigurationError{Section: "aggregation",
			Err: fmt.Errorf("percentileLow %g must be below percentileHigh %g", a.PercentileLow, a.PercentileHigh)}
	}
	for _, b := range a.TimeBuckets {
		if b.End <= b.Start {
			return &ConfigurationError{Section: "aggregation",
				Err: fmt.Errorf("time bucket %q ends before it starts", b.Name)}
		}
	}
	me := cfg.Measures
	if me.CrowdingVCRatio > 2 {
		return &ConfigurationError{Section: "measures",
			Err: fmt.Errorf("crowding V/C ratio %g is not plausible", me.CrowdingVCRatio)}
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.DSN == "" {
		return &ConfigurationError{Section: "store",
			Err: fmt.Errorf("postgres backend needs a DSN")}
	}
	return nil
}

// Digest fingerprints the effective configuration so stored runs record
// exactly what produced them.
func (c AppConfig) Digest() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
