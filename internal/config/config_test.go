package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sportcal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sportcal.yaml")
	yml := `
listen: ":9090"
week_start: friday
backend:
  base_url: "http://backend.local:5000/"
  schema: bogus
form:
  title_with_status: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, "http://backend.local:5000", cfg.Backend.BaseURL)
	assert.Equal(t, SchemaForeignKey, cfg.Backend.Schema)
	assert.Equal(t, 15, cfg.Backend.TimeoutSeconds)
	assert.True(t, cfg.Form.TitleWithStatus)
	// Defaults survive for keys the file omits.
	assert.True(t, cfg.Form.ResetSelections)
	assert.Equal(t, DefaultDateLayout, cfg.DateLayout)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sportcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sportcal.yaml")
	cfg := DefaultConfig()
	cfg.Backend.Schema = SchemaLegacy
	cfg.Form.SuccessNotice = "Event added successfully!"

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveRejectsEmptyInputs(t *testing.T) {
	require.Error(t, Save("", DefaultConfig()))
	require.Error(t, Save(filepath.Join(t.TempDir(), "x.yaml"), nil))
}

func TestApplyEnvOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SPORTCAL_LISTEN=0.0.0.0:7000\n"), 0o600))
	t.Setenv(EnvBackendURL, "http://api.example/")
	t.Cleanup(func() { os.Unsetenv(EnvListen) })

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envFile))
	assert.Equal(t, "http://api.example", cfg.Backend.BaseURL)
	assert.Equal(t, "0.0.0.0:7000", cfg.Listen)
}

func TestApplyEnvMissingFileIsFine(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Local, cfg.Location())

	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.Local, cfg.Location())

	cfg.Timezone = "UTC"
	assert.Equal(t, "UTC", cfg.Location().String())
}

func TestDefaultBackendMatchesSchema(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, SchemaForeignKey, cfg.Backend.Schema)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.Backend.BaseURL)
	assert.NotEqual(t, "http://"+cfg.Listen, cfg.Backend.BaseURL)
}
