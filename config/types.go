package config

// ScheduleConfig adjusts GTFS loading.
type ScheduleConfig struct {
	// TimezoneOverride replaces the agency timezone from the feed.
	TimezoneOverride string `yaml:"timezoneOverride"`
	// VersionOverride replaces the feed_version used as the schedule
	// version.
	VersionOverride string `yaml:"versionOverride"`
	// CachePath holds the gob-serialized index between runs. Empty
	// disables caching.
	CachePath string `yaml:"cachePath"`
}

// MatchingConfig tunes candidate search and scoring.
type MatchingConfig struct {
	ToleranceMinutes       float64 `yaml:"toleranceMinutes" validate:"gt=0"`
	SpatialToleranceMeters float64 `yaml:"spatialToleranceMeters" validate:"gt=0"`
	MinConfidence          float64 `yaml:"minConfidence" validate:"gte=0,lte=1"`
	TemporalWeight         float64 `yaml:"temporalWeight" validate:"gte=0"`
	SpatialWeight          float64 `yaml:"spatialWeight" validate:"gte=0"`
	TripWeight             float64 `yaml:"tripWeight" validate:"gte=0"`
}

// NormalizationConfig tunes observed-event canonicalization.
type NormalizationConfig struct {
	// Timezone overrides the schedule's canonical timezone for raw
	// event timestamps.
	Timezone string `yaml:"timezone"`
	// ServiceDayCutoffHour assigns local times before this hour to the
	// previous service date.
	ServiceDayCutoffHour int `yaml:"serviceDayCutoffHour" validate:"gte=0,lte=23"`
	// MaxPassengerCount flags per-stop counts above this as
	// implausible. 0 disables the check.
	MaxPassengerCount int `yaml:"maxPassengerCount" validate:"gte=0"`
	// RouteAliases maps operator route numbering onto schedule route
	// IDs.
	RouteAliases map[string]string `yaml:"routeAliases"`
}

// MeasuresConfig tunes derived-measure thresholds.
type MeasuresConfig struct {
	OnTimeEarlySeconds int     `yaml:"onTimeEarlySeconds" validate:"gt=0"`
	OnTimeLateSeconds  int     `yaml:"onTimeLateSeconds" validate:"gt=0"`
	CrowdingVCRatio    float64 `yaml:"crowdingVCRatio" validate:"gt=0"`
	DefaultCapacity    int     `yaml:"defaultCapacity" validate:"gte=0"`
}

// TimeBucketConfig names one time-of-day range in hours since midnight
// of the service date; End may exceed 24 for owl service.
type TimeBucketConfig struct {
	Name  string `yaml:"name" validate:"required"`
	Start int    `yaml:"start" validate:"gte=0"`
	End   int    `yaml:"end" validate:"gt=0"`
}

// AggregationConfig tunes summary grouping.
type AggregationConfig struct {
	Level          string             `yaml:"level" validate:"oneof=route-stop stop route system"`
	TimeBuckets    []TimeBucketConfig `yaml:"timeBuckets" validate:"dive"`
	PercentileLow  float64            `yaml:"percentileLow" validate:"gt=0,lt=100"`
	PercentileHigh float64            `yaml:"percentileHigh" validate:"gt=0,lt=100"`
	MinSampleCount int                `yaml:"minSampleCount" validate:"gte=1"`
}

// StoreConfig selects the results store backend.
// Env: TRANSITPERF_STORE_BACKEND, TRANSITPERF_STORE_DSN.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=sqlite postgres"`
	DSN     string `yaml:"dsn"`
}

// NATSConfig enables publishing aggregate rows and the quality report.
// Env: NATS_URL. Empty URL disables publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// PipelineConfig tunes batch execution.
// Env: TRANSITPERF_METRICS_ADDR.
type PipelineConfig struct {
	// Workers bounds concurrent partition processing. 0 means one per
	// CPU.
	Workers int `yaml:"workers" validate:"gte=0"`
	// MetricsAddr serves Prometheus metrics during the run when set.
	MetricsAddr string `yaml:"metricsAddr"`
	// OutputDir receives CSV exports and charts.
	OutputDir string `yaml:"outputDir"`
	// Charts renders adherence and headway distribution PNGs.
	Charts bool `yaml:"charts"`
}

// ServerConfig configures the results API binary.
// Env: TRANSITPERF_LISTEN_ADDR.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// AppConfig is the root configuration structure.
type AppConfig struct {
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Matching      MatchingConfig      `yaml:"matching"`
	Normalization NormalizationConfig `yaml:"normalization"`
	Measures      MeasuresConfig      `yaml:"measures"`
	Aggregation   AggregationConfig   `yaml:"aggregation"`
	Store         StoreConfig         `yaml:"store"`
	NATS          NATSConfig          `yaml:"nats"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Server        ServerConfig        `yaml:"server"`
}
