package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/surge-downloader/offline/internal/engine/types"
)

func TestDefaultSettings(t *testing.T) {
	settings := DefaultSettings()

	if settings == nil {
		t.Fatal("DefaultSettings returned nil")
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	t.Run("GeneralSettings", func(t *testing.T) {
		if !settings.General.AutoResume {
			t.Error("AutoResume should be true by default")
		}
		if settings.General.LogRetentionCount <= 0 {
			t.Errorf("LogRetentionCount should be positive, got: %d", settings.General.LogRetentionCount)
		}
	})

	t.Run("ConnectionSettings", func(t *testing.T) {
		if settings.Connections.MaxConcurrentDownloads != types.MaxConcurrentDownloads {
			t.Errorf("MaxConcurrentDownloads = %d, want %d", settings.Connections.MaxConcurrentDownloads, types.MaxConcurrentDownloads)
		}
		if settings.Connections.ConnectTimeout <= 0 || settings.Connections.ReadTimeout <= 0 {
			t.Error("timeouts should be positive")
		}
	})

	t.Run("StorageSettings", func(t *testing.T) {
		if settings.Storage.MinFreeDownloadMB*MB != types.MinFreeDownloadBytes {
			t.Errorf("MinFreeDownloadMB = %d", settings.Storage.MinFreeDownloadMB)
		}
	})
}

func TestGetSettingsPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	if got := GetSettingsPath(); got != filepath.Join(home, "settings.json") {
		t.Errorf("GetSettingsPath() = %s", got)
	}
	if got := GetStateDir(); got != filepath.Join(home, "state") {
		t.Errorf("GetStateDir() = %s", got)
	}
	if got := GetLogsDir(); !strings.HasPrefix(got, home) {
		t.Errorf("GetLogsDir() = %s, want it under %s", got, home)
	}
	if got := GetDataDir(); got != filepath.Join(home, "downloads") {
		t.Errorf("GetDataDir() = %s", got)
	}
}

func TestGetStateDir_XDG(t *testing.T) {
	t.Setenv(HomeEnv, "")
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	if got := GetStateDir(); got != filepath.Join(state, "offline") {
		t.Errorf("GetStateDir() = %s", got)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings.Connections.MaxConcurrentDownloads != DefaultSettings().Connections.MaxConcurrentDownloads {
		t.Error("missing file should give defaults")
	}
}

func TestLoadSettings_CorruptedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("expected an error for corrupted JSON")
	}
}

func TestLoadSettings_PartialJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	partial := `{"connections": {"max_concurrent_downloads": 4}}`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings.Connections.MaxConcurrentDownloads != 4 {
		t.Errorf("MaxConcurrentDownloads = %d, want 4", settings.Connections.MaxConcurrentDownloads)
	}
	// Missing fields keep their defaults
	if settings.Performance.MaxTaskRetries != types.MaxTaskRetries {
		t.Errorf("MaxTaskRetries = %d, want default", settings.Performance.MaxTaskRetries)
	}
}

func TestLoadSettings_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	doc := `connections:
  max_concurrent_downloads: 3
  proxy_url: socks5://127.0.0.1:1080
  read_timeout: 45s
storage:
  min_free_download_mb: -1
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if settings.Connections.ReadTimeout != 45*time.Second {
		t.Errorf("ReadTimeout = %v", settings.Connections.ReadTimeout)
	}

	cfg := settings.ToRuntimeConfig()
	if cfg.GetMinFreeDownloadBytes() >= 0 {
		t.Errorf("negative threshold should survive conversion, got %d", cfg.GetMinFreeDownloadBytes())
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
}

func TestLoadSettings_RejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"zero workers":  `{"connections": {"max_concurrent_downloads": 0}}`,
		"bad proxy":     `{"connections": {"proxy_url": "ftp://proxy:21"}}`,
		"negative rate": `{"connections": {"max_bytes_per_second": -5}}`,
		"unknown theme": `{"general": {"theme": 7}}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.json")
			if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadSettings(path); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestSaveAndLoadSettings_RoundTrip(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)

			original := DefaultSettings()
			original.General.DownloadsDir = "/srv/media"
			original.Connections.UserAgent = "offline-test/1.0"
			original.Performance.FlushInterval = 750 * time.Millisecond

			if err := SaveSettings(path, original); err != nil {
				t.Fatalf("SaveSettings failed: %v", err)
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temp file should be renamed away")
			}

			loaded, err := LoadSettings(path)
			if err != nil {
				t.Fatalf("LoadSettings failed: %v", err)
			}
			if loaded.General.DownloadsDir != "/srv/media" {
				t.Errorf("DownloadsDir = %q", loaded.General.DownloadsDir)
			}
			if loaded.Connections.UserAgent != "offline-test/1.0" {
				t.Errorf("UserAgent = %q", loaded.Connections.UserAgent)
			}
			if loaded.Performance.FlushInterval != 750*time.Millisecond {
				t.Errorf("FlushInterval = %v", loaded.Performance.FlushInterval)
			}
		})
	}
}

func TestToRuntimeConfig(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	settings := DefaultSettings()
	settings.General.AutoResume = false
	settings.Connections.MaxBytesPerSecond = 1 << 20
	settings.Storage.MinFreeDataMB = 10

	cfg := settings.ToRuntimeConfig()
	if cfg.GetAutoResume() {
		t.Error("AutoResume should be false")
	}
	if cfg.MaxBytesPerSecond != 1<<20 {
		t.Errorf("MaxBytesPerSecond = %d", cfg.MaxBytesPerSecond)
	}
	if cfg.GetMinFreeDataBytes() != 10*MB {
		t.Errorf("MinFreeDataBytes = %d", cfg.GetMinFreeDataBytes())
	}
	if cfg.DownloadsDir != GetDataDir() {
		t.Errorf("empty downloads dir should fall back to %s, got %s", GetDataDir(), cfg.DownloadsDir)
	}
}

func TestGetSettingsMetadata(t *testing.T) {
	metadata := GetSettingsMetadata()

	for _, category := range CategoryOrder() {
		if _, ok := metadata[category]; !ok {
			t.Errorf("CategoryOrder lists %q but metadata has no such category", category)
		}
	}

	// every key must exist in the serialized settings
	values := DefaultSettings().Values()
	for category, metas := range metadata {
		for _, meta := range metas {
			if _, ok := values[meta.Key]; !ok {
				t.Errorf("%s: key %q not found in settings", category, meta.Key)
			}
			if meta.Label == "" || meta.Description == "" {
				t.Errorf("%s: key %q lacks label or description", category, meta.Key)
			}
		}
	}
	if len(values) != countKeys(metadata) {
		t.Errorf("settings have %d keys, metadata describes %d", len(values), countKeys(metadata))
	}
}

func countKeys(m map[string][]SettingMeta) int {
	n := 0
	for _, metas := range m {
		n += len(metas)
	}
	return n
}

func TestValues_FormatsDurations(t *testing.T) {
	values := DefaultSettings().Values()
	if values["read_timeout"] != types.ReadTimeout.String() {
		t.Errorf("read_timeout = %v", values["read_timeout"])
	}
}

func TestSettingsJSON_Serialization(t *testing.T) {
	data, err := json.Marshal(DefaultSettings())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, group := range []string{`"general"`, `"connections"`, `"chunks"`, `"performance"`, `"storage"`} {
		if !strings.Contains(string(data), group) {
			t.Errorf("serialized settings lack %s", group)
		}
	}
}
