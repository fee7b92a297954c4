package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.RootDirectory == "" {
		errs = append(errs, "server.root_directory must not be empty")
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}

	if cfg.Segment.Parallel < 1 {
		errs = append(errs, fmt.Sprintf("segment.parallel must be at least 1, got %d", cfg.Segment.Parallel))
	}
	if cfg.Segment.RetrySec < 0 {
		errs = append(errs, fmt.Sprintf("segment.retry_sec must be non-negative, got %d", cfg.Segment.RetrySec))
	}

	if cfg.DigestStore.Path == "" {
		errs = append(errs, "digest_store.path must not be empty")
	}
	if cfg.DigestStore.FlushSeconds < 1 {
		errs = append(errs, fmt.Sprintf("digest_store.flush_seconds must be at least 1, got %d", cfg.DigestStore.FlushSeconds))
	}
	if cfg.DigestStore.GCAgeDays < 0 {
		errs = append(errs, fmt.Sprintf("digest_store.gc_age_days must be non-negative, got %d", cfg.DigestStore.GCAgeDays))
	}

	if cfg.Tracing.Enabled {
		if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr must be set when metrics.enabled is true")
	}
	if cfg.AdminAPI.Enabled && cfg.AdminAPI.Addr == "" {
		errs = append(errs, "admin_api.addr must be set when admin_api.enabled is true")
	}

	if cfg.History.Enabled && cfg.History.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("history.retention_days must be at least 1, got %d", cfg.History.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
