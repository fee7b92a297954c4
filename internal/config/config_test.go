package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.toml"))
	if err == nil {
		_ = cfg
	}
}

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
root_directory = "` + dir + `"
log_level = "debug"
data_dir = "` + dir + `"

[segment]
parallel = 4
retry_sec = 2

[digest_store]
path = "` + filepath.Join(dir, "digests.json") + `"
flush_seconds = 30
gc_age_days = 7
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Segment.Parallel != 4 {
		t.Errorf("Segment.Parallel: got %d, want 4", cfg.Segment.Parallel)
	}
	if cfg.Segment.RetrySec != 2 {
		t.Errorf("Segment.RetrySec: got %d, want 2", cfg.Segment.RetrySec)
	}
	if cfg.DigestStore.FlushSeconds != 30 {
		t.Errorf("DigestStore.FlushSeconds: got %d, want 30", cfg.DigestStore.FlushSeconds)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
root_directory = "` + dir + `"
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("CONFPLANE_SEGMENT_PARALLEL", "16")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Segment.Parallel != 16 {
		t.Errorf("Segment.Parallel with env override: got %d, want 16", cfg.Segment.Parallel)
	}
}

func TestLoad_ValidationFailure_BadParallel(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
root_directory = "` + dir + `"
log_level = "info"
data_dir = "` + dir + `"

[segment]
parallel = 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for segment.parallel = 0")
	}
}

func TestLoad_ValidationFailure_BadLogLevel(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad-log-level.toml")

	content := `
[server]
root_directory = "` + dir + `"
log_level = "noisy"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for an invalid log level")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, DefaultLogLevel)
	}
	if cfg.Segment.Parallel != DefaultSegmentParallel {
		t.Errorf("Segment.Parallel: got %d, want %d", cfg.Segment.Parallel, DefaultSegmentParallel)
	}
	if cfg.DigestStore.GCAgeDays != DefaultDigestStoreGCAgeDays {
		t.Errorf("DigestStore.GCAgeDays: got %d, want %d", cfg.DigestStore.GCAgeDays, DefaultDigestStoreGCAgeDays)
	}
	if cfg.Metrics.Enabled != true {
		t.Error("Metrics.Enabled: got false, want true")
	}
	if cfg.History.RetentionDays != DefaultHistoryRetentionDays {
		t.Errorf("History.RetentionDays: got %d, want %d", cfg.History.RetentionDays, DefaultHistoryRetentionDays)
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
root_directory = "` + dir + `"
log_level = "warn"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel after import: got %q, want %q", cfg.Server.LogLevel, "warn")
	}

	set(DefaultConfig())
}
