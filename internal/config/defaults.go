package config

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.confplane"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "confplane.toml"

// DefaultSegmentParallel is the default target concurrency for
// per-segment allocate work, recovered from original_source's
// DEFAULT_PARALLEL_SEGMENTS constant.
const DefaultSegmentParallel = 10

// DefaultSegmentRetrySec is the default delay before retrying a failed
// segment load.
const DefaultSegmentRetrySec = 1

// DefaultDigestStorePath is the default digest store file location
// (before tilde expansion).
const DefaultDigestStorePath = "~/.confplane/digests.json"

// DefaultDigestStoreFlushSeconds is how often the digest store is
// flushed to disk.
const DefaultDigestStoreFlushSeconds = 60

// DefaultDigestStoreGCAgeDays is how long an untouched digest entry is
// kept before being garbage collected.
const DefaultDigestStoreGCAgeDays = 30

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "stdout"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "confplaned"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// DefaultMetricsAddr is the default bind address for the Prometheus
// metrics endpoint.
const DefaultMetricsAddr = "127.0.0.1:9090"

// DefaultAdminAPIAddr is the default bind address for the read-only
// admin status API.
const DefaultAdminAPIAddr = "127.0.0.1:9091"

// DefaultHistoryRetentionDays is the default retention for reload
// history rows.
const DefaultHistoryRetentionDays = 14

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed tracing exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			RootDirectory: "/etc/confplane",
			LogLevel:      DefaultLogLevel,
			DataDir:       DefaultDataDir,
		},
		Segment: SegmentConfig{
			Parallel: DefaultSegmentParallel,
			RetrySec: DefaultSegmentRetrySec,
		},
		DigestStore: DigestStoreConfig{
			Path:         DefaultDigestStorePath,
			FlushSeconds: DefaultDigestStoreFlushSeconds,
			GCAgeDays:    DefaultDigestStoreGCAgeDays,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
		},
		AdminAPI: AdminAPIConfig{
			Enabled: true,
			Addr:    DefaultAdminAPIAddr,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: DefaultHistoryRetentionDays,
		},
	}
}
