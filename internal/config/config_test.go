package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.txt")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"map": map[string]any{"voxel_size": 0.05},
	})
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, cfg.Map.VoxelSize)
	// untouched field keeps its default
	assert.Equal(t, 16, cfg.Map.VoxelsPerSide)
}

func TestValidateDisablesNonAbsoluteSubmapPath(t *testing.T) {
	cfg := Default()
	cfg.Submapping.WriteToDirectory = "relative/path"
	warnings := Validate(cfg)
	require.Len(t, warnings, 1)
	assert.Equal(t, "", cfg.Submapping.WriteToDirectory)
}

func TestValidateAcceptsAbsoluteASCIIPath(t *testing.T) {
	cfg := Default()
	cfg.Submapping.WriteToDirectory = "/var/lib/fusion/submaps"
	warnings := Validate(cfg)
	assert.Empty(t, warnings)
	assert.Equal(t, "/var/lib/fusion/submaps", cfg.Submapping.WriteToDirectory)
}

func TestValidateDisablesDeintegrationWithoutProjective(t *testing.T) {
	cfg := Default()
	cfg.Integrator.Method = "merged"
	cfg.SlidingWindow.MaxQueueLength = OptionalInt{Set: true, Value: 50}
	warnings := Validate(cfg)
	require.Len(t, warnings, 1)
	assert.False(t, cfg.SlidingWindow.MaxQueueLength.Set)
}

func TestValidateUnknownColormapFallsBack(t *testing.T) {
	cfg := Default()
	cfg.Visualization.IntensityColormap = "thermal-vision"
	warnings := Validate(cfg)
	require.Len(t, warnings, 1)
	assert.Equal(t, "rainbow", cfg.Visualization.IntensityColormap)
}

func TestOptionalFloatExceeds(t *testing.T) {
	unset := OptionalFloat{}
	assert.False(t, unset.Exceeds(1e9), "unset axis must never report as exceeded")

	set := OptionalFloat{Set: true, Value: 5}
	assert.True(t, set.Exceeds(10))
	assert.False(t, set.Exceeds(1))
}
