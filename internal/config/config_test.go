package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
status_port = 9091
log_level = "debug"
data_dir = "` + dir + `"

[pipeline]
download_concurrency = 8
upload_concurrency = 4
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.StatusPort != 9091 {
		t.Errorf("StatusPort: got %d, want 9091", cfg.Server.StatusPort)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Pipeline.DownloadConcurrency != 8 {
		t.Errorf("DownloadConcurrency: got %d, want 8", cfg.Pipeline.DownloadConcurrency)
	}
	if cfg.Pipeline.UploadConcurrency != 4 {
		t.Errorf("UploadConcurrency: got %d, want 4", cfg.Pipeline.UploadConcurrency)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
status_port = 7678
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("AVATARSYNC_SERVER_STATUS_PORT", "8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.StatusPort != 8888 {
		t.Errorf("StatusPort with env override: got %d, want 8888", cfg.Server.StatusPort)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
status_port = 0
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestLoad_ValidationFailure_BadConcurrency(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad-concurrency.toml")

	content := `
[server]
status_port = 7678
log_level = "info"
data_dir = "` + dir + `"

[pipeline]
download_concurrency = 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for download_concurrency 0")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.StatusPort != DefaultStatusPort {
		t.Errorf("StatusPort: got %d, want %d", cfg.Server.StatusPort, DefaultStatusPort)
	}
	if cfg.Pipeline.DownloadConcurrency != DefaultDownloadConcurrency {
		t.Errorf("DownloadConcurrency: got %d, want %d", cfg.Pipeline.DownloadConcurrency, DefaultDownloadConcurrency)
	}
	if cfg.Pipeline.UploadConcurrency != DefaultUploadConcurrency {
		t.Errorf("UploadConcurrency: got %d, want %d", cfg.Pipeline.UploadConcurrency, DefaultUploadConcurrency)
	}
	if cfg.Resilience.RetryMaxAttempts != DefaultRetryMaxAttempts {
		t.Errorf("RetryMaxAttempts: got %d, want %d", cfg.Resilience.RetryMaxAttempts, DefaultRetryMaxAttempts)
	}
	if cfg.Resilience.CBEnabled != true {
		t.Error("CBEnabled: got false, want true")
	}
}

func TestPipelineConfig_Durations(t *testing.T) {
	p := PipelineConfig{
		WearablesTimeoutSeconds:     10,
		WearableFetchTimeoutSeconds: 11,
		CacheQueryTimeoutSeconds:    12,
		TextureFetchTimeoutSeconds:  13,
		UploadTimeoutSeconds:        14,
	}

	wearables, wearableFetch, cacheQuery, textureFetch, upload := p.Durations()
	if wearables.Seconds() != 10 {
		t.Errorf("wearables: got %v, want 10s", wearables)
	}
	if wearableFetch.Seconds() != 11 {
		t.Errorf("wearableFetch: got %v, want 11s", wearableFetch)
	}
	if cacheQuery.Seconds() != 12 {
		t.Errorf("cacheQuery: got %v, want 12s", cacheQuery)
	}
	if textureFetch.Seconds() != 13 {
		t.Errorf("textureFetch: got %v, want 13s", textureFetch)
	}
	if upload.Seconds() != 14 {
		t.Errorf("upload: got %v, want 14s", upload)
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	// Reset to ensure clean state.
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
status_port = 9999
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
	if cfg.Server.StatusPort != 9999 {
		t.Errorf("StatusPort after import: got %d, want 9999", cfg.Server.StatusPort)
	}

	// Reset to default to not affect other tests.
	set(DefaultConfig())
}

func TestWatchFileReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avatarsync.toml")

	write := func(port int) {
		content := `
[server]
status_port = ` + strconv.Itoa(port) + `
data_dir = "` + dir + `"
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	write(7700)
	if _, err := Load(path); err != nil {
		t.Fatalf("initial Load: %v", err)
	}

	reloaded := make(chan *Config, 1)
	h, err := WatchFile(path, func(prev, next *Config) {
		select {
		case reloaded <- next:
		default:
		}
	})
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer h.Close()

	write(7701)

	select {
	case next := <-reloaded:
		if next.Server.StatusPort != 7701 {
			t.Fatalf("reloaded status_port = %d, want 7701", next.Server.StatusPort)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}

	set(DefaultConfig())
}

func TestWatchFileRejectsEmptyPath(t *testing.T) {
	if _, err := WatchFile(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
