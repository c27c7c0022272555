package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, false)
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestCleanupLogs(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("%s2024010%d-120000.log", logPrefix, i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	CleanupLogs(dir, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		logPrefix + "20240104-120000.log",
		logPrefix + "20240105-120000.log",
		"other.txt",
	}, names)
}

func TestFreeSpace_MissingPathUsesParent(t *testing.T) {
	dir := t.TempDir()
	free, err := FreeSpace(filepath.Join(dir, "does", "not", "exist"))
	require.NoError(t, err)
	assert.Greater(t, free, int64(0))
}
