package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
}

func TestFlagDefaults(t *testing.T) {
	resetFlags()
	cfg := NewConfig()
	os.Args = []string{"mantridproxy"}
	require.NoError(t, cfg.Parse())

	assert.Equal(t, 65535, cfg.GID)
	assert.Equal(t, float64(0), cfg.MaxRPS)
	assert.False(t, cfg.EnforceRateLimits)
}

func TestConfigFileOverlayThenFlagsWin(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-rps: 50\nuid: 100\n"), 0o644))

	cfg := NewConfig()
	os.Args = []string{"mantridproxy", "-config-file", path, "-uid", "200"}
	require.NoError(t, cfg.Parse())

	assert.Equal(t, float64(50), cfg.MaxRPS)
	assert.Equal(t, 200, cfg.UID) // flag wins over file
}
