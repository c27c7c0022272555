package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logPrefix = "offline-"

// NewLogger builds a JSON logger writing to a dated file under logsDir.
// Verbose also mirrors output to stderr at debug level.
func NewLogger(logsDir string, verbose bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile := filepath.Join(logsDir, logPrefix+time.Now().Format("20060102-150405")+".log")

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{logFile}
	cfg.ErrorOutputPaths = []string{logFile}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.OutputPaths = append(cfg.OutputPaths, "stderr")
	}

	return cfg.Build()
}

// CleanupLogs keeps the newest keep log files and removes the rest
func CleanupLogs(logsDir string, keep int) {
	if keep <= 0 {
		return
	}
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), logPrefix) && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) <= keep {
		return
	}

	// Timestamped names sort chronologically
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-keep] {
		_ = os.Remove(filepath.Join(logsDir, name))
	}
}
