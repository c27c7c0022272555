package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General     GeneralSettings     `json:"general" yaml:"general"`
	Connections ConnectionSettings  `json:"connections" yaml:"connections"`
	Chunks      ChunkSettings       `json:"chunks" yaml:"chunks"`
	Performance PerformanceSettings `json:"performance" yaml:"performance"`
	Storage     StorageSettings     `json:"storage" yaml:"storage"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DownloadsDir      string `json:"downloads_dir" yaml:"downloads_dir"`
	AutoResume        bool   `json:"auto_resume" yaml:"auto_resume"`
	Theme             int    `json:"theme" yaml:"theme"`
	LogRetentionCount int    `json:"log_retention_count" yaml:"log_retention_count"`
}

const (
	ThemeAdaptive = 0
	ThemeLight    = 1
	ThemeDark     = 2
)

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	MaxConcurrentDownloads int           `json:"max_concurrent_downloads" yaml:"max_concurrent_downloads"`
	UserAgent              string        `json:"user_agent" yaml:"user_agent"`
	ProxyURL               string        `json:"proxy_url" yaml:"proxy_url"`
	SkipTLSVerification    bool          `json:"skip_tls_verification" yaml:"skip_tls_verification"`
	ConnectTimeout         time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout            time.Duration `json:"read_timeout" yaml:"read_timeout"`
	MaxBytesPerSecond      int64         `json:"max_bytes_per_second" yaml:"max_bytes_per_second"`
}

// ChunkSettings contains chunk transfer configuration.
type ChunkSettings struct {
	WorkerBufferSize    int   `json:"worker_buffer_size" yaml:"worker_buffer_size"`
	ProgressReportReads int   `json:"progress_report_reads" yaml:"progress_report_reads"`
	MaxManifestSize     int64 `json:"max_manifest_size" yaml:"max_manifest_size"`
}

// PerformanceSettings contains performance tuning parameters.
type PerformanceSettings struct {
	MaxTaskRetries   int           `json:"max_task_retries" yaml:"max_task_retries"`
	ShuffleSeed      int64         `json:"shuffle_seed" yaml:"shuffle_seed"`
	FlushInterval    time.Duration `json:"flush_interval" yaml:"flush_interval"`
	CacheIdleTimeout time.Duration `json:"cache_idle_timeout" yaml:"cache_idle_timeout"`
}

// StorageSettings contains free space thresholds. A negative value turns the
// check off.
type StorageSettings struct {
	MinFreeDownloadMB int64 `json:"min_free_download_mb" yaml:"min_free_download_mb"`
	MinFreeDataMB     int64 `json:"min_free_data_mb" yaml:"min_free_data_mb"`
}

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "int64", "bool", "duration"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "downloads_dir", Label: "Downloads Dir", Description: "Directory holding one folder per item. Leave empty for the default data directory.", Type: "string"},
			{Key: "auto_resume", Label: "Auto Resume", Description: "Restart interrupted downloads when the engine starts.", Type: "bool"},
			{Key: "theme", Label: "App Theme", Description: "UI Theme (System, Light, Dark).", Type: "int"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
		},
		"Network": {
			{Key: "max_concurrent_downloads", Label: "Max Concurrent Transfers", Description: "Chunk transfers running at once across all items (1-16).", Type: "int"},
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string for HTTP requests. Leave empty for default.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "HTTP, HTTPS or SOCKS5 proxy URL. Leave empty to use the environment.", Type: "string"},
			{Key: "skip_tls_verification", Label: "Skip TLS Verification", Description: "Accept any server certificate.", Type: "bool"},
			{Key: "connect_timeout", Label: "Connect Timeout", Description: "Timeout for establishing a connection (e.g., 10s).", Type: "duration"},
			{Key: "read_timeout", Label: "Read Timeout", Description: "A transfer with no data for this long is retried (e.g., 30s).", Type: "duration"},
			{Key: "max_bytes_per_second", Label: "Speed Limit", Description: "Global download limit in bytes per second. 0 means unlimited.", Type: "int64"},
		},
		"Chunks": {
			{Key: "worker_buffer_size", Label: "Worker Buffer Size", Description: "I/O buffer size per transfer in bytes.", Type: "int"},
			{Key: "progress_report_reads", Label: "Progress Batching", Description: "Buffer reads between progress reports.", Type: "int"},
			{Key: "max_manifest_size", Label: "Max Manifest Size", Description: "Largest manifest document accepted, in bytes.", Type: "int64"},
		},
		"Performance": {
			{Key: "max_task_retries", Label: "Max Task Retries", Description: "Number of times to retry a timed out chunk before giving up.", Type: "int"},
			{Key: "shuffle_seed", Label: "Shuffle Seed", Description: "Seed used to order chunks of unordered plans.", Type: "int64"},
			{Key: "flush_interval", Label: "Flush Interval", Description: "How often downloaded byte counts are written to the database.", Type: "duration"},
			{Key: "cache_idle_timeout", Label: "Cache Idle Timeout", Description: "Idle items are dropped from memory after this long.", Type: "duration"},
		},
		"Storage": {
			{Key: "min_free_download_mb", Label: "Min Free (Downloads)", Description: "Fail downloads when the downloads volume has less free space, in MB. Negative disables.", Type: "int64"},
			{Key: "min_free_data_mb", Label: "Min Free (Data)", Description: "Fail downloads when the state volume has less free space, in MB. Negative disables.", Type: "int64"},
		},
	}
}

// CategoryOrder returns the order of categories for UI tabs.
func CategoryOrder() []string {
	return []string{"General", "Network", "Chunks", "Performance", "Storage"}
}

const (
	KB = 1024
	MB = 1024 * KB
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		General: GeneralSettings{
			DownloadsDir:      "", // Empty means GetDataDir()
			AutoResume:        true,
			Theme:             ThemeAdaptive,
			LogRetentionCount: 5,
		},
		Connections: ConnectionSettings{
			MaxConcurrentDownloads: types.MaxConcurrentDownloads,
			UserAgent:              "", // Empty means use default UA
			ConnectTimeout:         types.DialTimeout,
			ReadTimeout:            types.ReadTimeout,
		},
		Chunks: ChunkSettings{
			WorkerBufferSize:    types.WorkerBuffer,
			ProgressReportReads: types.ProgressReportReads,
			MaxManifestSize:     types.MaxManifestSize,
		},
		Performance: PerformanceSettings{
			MaxTaskRetries:   types.MaxTaskRetries,
			ShuffleSeed:      types.ShuffleSeed,
			FlushInterval:    types.FlushInterval,
			CacheIdleTimeout: types.CacheIdleTimeout,
		},
		Storage: StorageSettings{
			MinFreeDownloadMB: types.MinFreeDownloadBytes / MB,
			MinFreeDataMB:     types.MinFreeDataBytes / MB,
		},
	}
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetOfflineDir(), "settings.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadSettings loads settings from path, or from GetSettingsPath when path is
// empty. YAML is used for .yaml and .yml files, JSON otherwise. Returns
// defaults if the file doesn't exist.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = GetSettingsPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if isYAML(path) {
		err = yaml.Unmarshal(data, settings)
	} else {
		err = json.Unmarshal(data, settings)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

// SaveSettings saves settings to path (GetSettingsPath when empty) atomically.
func SaveSettings(path string, s *Settings) error {
	if path == "" {
		path = GetSettingsPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(s)
	} else {
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// Validate rejects settings the engine cannot run with
func (s *Settings) Validate() error {
	if n := s.Connections.MaxConcurrentDownloads; n < 1 || n > 16 {
		return fmt.Errorf("max_concurrent_downloads must be between 1 and 16, got %d", n)
	}
	if s.Connections.ProxyURL != "" {
		u, err := url.Parse(s.Connections.ProxyURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid proxy_url %q", s.Connections.ProxyURL)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}
	if s.Connections.ConnectTimeout < 0 || s.Connections.ReadTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if s.Connections.MaxBytesPerSecond < 0 {
		return fmt.Errorf("max_bytes_per_second must not be negative")
	}
	if s.Chunks.WorkerBufferSize < 0 || s.Chunks.ProgressReportReads < 0 || s.Chunks.MaxManifestSize < 0 {
		return fmt.Errorf("chunk settings must not be negative")
	}
	if s.Performance.MaxTaskRetries < 0 {
		return fmt.Errorf("max_task_retries must not be negative")
	}
	if s.General.Theme < ThemeAdaptive || s.General.Theme > ThemeDark {
		return fmt.Errorf("unknown theme %d", s.General.Theme)
	}
	return nil
}

// ToRuntimeConfig creates the engine configuration from user Settings
func (s *Settings) ToRuntimeConfig() *types.RuntimeConfig {
	downloads := s.General.DownloadsDir
	if downloads == "" {
		downloads = GetDataDir()
	}
	autoResume := s.General.AutoResume

	return &types.RuntimeConfig{
		MaxConcurrentDownloads: s.Connections.MaxConcurrentDownloads,
		UserAgent:              s.Connections.UserAgent,
		ProxyURL:               s.Connections.ProxyURL,
		SkipTLSVerification:    s.Connections.SkipTLSVerification,
		ConnectTimeout:         s.Connections.ConnectTimeout,
		ReadTimeout:            s.Connections.ReadTimeout,
		MaxBytesPerSecond:      s.Connections.MaxBytesPerSecond,
		WorkerBufferSize:       s.Chunks.WorkerBufferSize,
		ProgressReportReads:    s.Chunks.ProgressReportReads,
		MaxManifestSize:        s.Chunks.MaxManifestSize,
		MaxTaskRetries:         s.Performance.MaxTaskRetries,
		ShuffleSeed:            s.Performance.ShuffleSeed,
		FlushInterval:          s.Performance.FlushInterval,
		CacheIdleTimeout:       s.Performance.CacheIdleTimeout,
		DownloadsDir:           downloads,
		MinFreeDownloadBytes:   s.Storage.MinFreeDownloadMB * MB,
		MinFreeDataBytes:       s.Storage.MinFreeDataMB * MB,
		AutoResume:             &autoResume,
	}
}

// Values flattens the settings to their keys, for display
func (s *Settings) Values() map[string]any {
	out := make(map[string]any)
	data, err := json.Marshal(s)
	if err != nil {
		return out
	}
	var groups map[string]map[string]any
	if err := json.Unmarshal(data, &groups); err != nil {
		return out
	}
	durations := make(map[string]bool)
	for _, metas := range GetSettingsMetadata() {
		for _, m := range metas {
			if m.Type == "duration" {
				durations[m.Key] = true
			}
		}
	}
	for _, g := range groups {
		for k, v := range g {
			if f, ok := v.(float64); ok && durations[k] {
				v = time.Duration(f).String()
			}
			out[k] = v
		}
	}
	return out
}
