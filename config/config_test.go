package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(test *testing.T, body string) {
	test.Helper()
	path := filepath.Join(test.TempDir(), "minixfs.yaml")
	require.NoError(test, os.WriteFile(path, []byte(body), 0o600))
	test.Setenv("MINIXFS_CONFIG_FILE", path)
}

func TestDefaults(test *testing.T) {
	test.Setenv("MINIXFS_CONFIG_FILE", "")
	c, err := Load()
	require.NoError(test, err)
	assert.Equal(test, Default(), *c)
	assert.Equal(test, slog.LevelInfo, c.LogLevel.Level())
}

func TestFileSettings(test *testing.T) {
	writeConfig(test, `
cacheSlots: 128
inodeSlots: 500
writebackInterval: 250ms
readOnly: true
logLevel: WARNING
`)
	c, err := Load()
	require.NoError(test, err)
	assert.Equal(test, 128, c.CacheSlots)
	assert.Equal(test, 500, c.InodeSlots)
	assert.Equal(test, 250*time.Millisecond, c.WritebackInterval)
	assert.True(test, c.ReadOnly)
	assert.Equal(test, LogLevel("warn"), c.LogLevel)
}

// Unset variables leave the file's values alone, set ones win.
func TestEnvironmentOverridesFile(test *testing.T) {
	writeConfig(test, "cacheSlots: 128\nlogLevel: debug\n")
	test.Setenv("MINIXFS_CACHE_SLOTS", "32")
	test.Setenv("MINIXFS_WRITEBACK_INTERVAL", "0s")

	c, err := Load()
	require.NoError(test, err)
	assert.Equal(test, 32, c.CacheSlots)
	assert.Zero(test, c.WritebackInterval)
	assert.Equal(test, LogLevel("debug"), c.LogLevel)
	assert.Equal(test, slog.LevelDebug, c.LogLevel.Level())
}

func TestUnknownKey(test *testing.T) {
	writeConfig(test, "cacheSlot: 128\n")
	_, err := Load()
	assert.ErrorContains(test, err, "unmarshaling config file")
}

func TestMissingFile(test *testing.T) {
	test.Setenv("MINIXFS_CONFIG_FILE", filepath.Join(test.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.ErrorIs(test, err, os.ErrNotExist)
}

func TestBadLogLevel(test *testing.T) {
	test.Setenv("MINIXFS_CONFIG_FILE", "")
	test.Setenv("MINIXFS_LOG_LEVEL", "loud")
	_, err := Load()
	assert.ErrorContains(test, err, ErrLogLevel.Error())
}

func TestBadLogLevelInFile(test *testing.T) {
	writeConfig(test, "logLevel: loud\n")
	_, err := Load()
	assert.ErrorIs(test, err, ErrLogLevel)
}

func TestValidate(test *testing.T) {
	c := Default()
	require.NoError(test, c.Validate())

	c.CacheSlots = 8
	assert.ErrorContains(test, c.Validate(), "CACHE_SLOTS")

	c = Default()
	c.InodeSlots = -1
	assert.Error(test, c.Validate())

	c = Default()
	c.WritebackInterval = -time.Second
	assert.Error(test, c.Validate())
}
