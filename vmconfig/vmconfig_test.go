package vmconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alttpo/iovm1/vmconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_HasSaneExecutionAndTargets(t *testing.T) {
	cfg := vmconfig.DefaultConfig()
	assert.NotZero(t, cfg.Execution.DefaultTimeoutTicks)
	assert.Equal(t, uint8(0xFF), cfg.Execution.DefaultCmpMask)
	assert.NotEmpty(t, cfg.Targets)
	assert.Equal(t, ":4590", cfg.Transport.ListenAddr)
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := vmconfig.Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, vmconfig.DefaultConfig(), cfg)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iovm1.toml")

	cfg := vmconfig.DefaultConfig()
	cfg.Execution.DefaultTimeoutTicks = 42
	cfg.Transport.ListenAddr = "127.0.0.1:9000"
	cfg.Targets = []vmconfig.TargetConfig{
		{ID: 0, Name: "sram", Size: 0x2000, Readable: true, Writable: true},
	}

	require.NoError(t, cfg.Save(path))

	got, err := vmconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoad_InvalidTOML_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))

	_, err := vmconfig.Load(path)
	assert.Error(t, err)
}
