package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides every default directory when set
const HomeEnv = "OFFLINE_HOME"

// GetOfflineDir returns the root of the application's files: $OFFLINE_HOME,
// else the user config directory ($XDG_CONFIG_HOME on Linux).
func GetOfflineDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "offline")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".offline")
}

// GetStateDir holds the database and the engine lock
func GetStateDir() string {
	if os.Getenv(HomeEnv) == "" {
		if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
			return filepath.Join(dir, "offline")
		}
	}
	return filepath.Join(GetOfflineDir(), "state")
}

// GetLogsDir holds the log files
func GetLogsDir() string {
	return filepath.Join(GetStateDir(), "logs")
}

// GetDataDir is the default downloads directory
func GetDataDir() string {
	if os.Getenv(HomeEnv) == "" {
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, "offline")
		}
	}
	return filepath.Join(GetOfflineDir(), "downloads")
}
