package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
data_dir: "/var/lib/permauri"
base_url: "https://mfcoapi.com/file/"
store:
  endpoint: "https://nyc3.digitaloceanspaces.com"
  bucket: "assets"
  region: "nyc3"
monitor:
  mode: "watch"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "/var/lib/permauri", cfg.DataDir)
	assert.Equal(t, "https://mfcoapi.com/file/", cfg.BaseURL)
	assert.Equal(t, "assets", cfg.Store.Bucket)
	assert.Equal(t, "nyc3", cfg.Store.Region)

	interval, err := cfg.MonitorInterval()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, interval)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
store:
  bucket: "assets"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":5052", cfg.Listen)
	assert.Equal(t, "./data", cfg.DataDir)

	interval, err := cfg.MonitorInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, interval, "index mode defaults to hourly")

	expiry, err := cfg.PresignExpiryDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, expiry)

	timeout, err := cfg.StoreTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}

func TestLoad_ExplicitIntervalWinsOverMode(t *testing.T) {
	path := writeConfig(t, `
store:
  bucket: "assets"
monitor:
  mode: "watch"
  interval: "5m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	interval, err := cfg.MonitorInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, interval)
}

func TestLoad_MissingBucket(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestLoad_InvalidMode(t *testing.T) {
	path := writeConfig(t, `
store:
  bucket: "assets"
monitor:
  mode: "turbo"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidInterval(t *testing.T) {
	path := writeConfig(t, `
store:
  bucket: "assets"
monitor:
  interval: "often"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  bucket: "assets"
  access_key: "file-key"
`)

	t.Setenv("PERMAURI_ACCESS_KEY", "env-key")
	t.Setenv("PERMAURI_SECRET_KEY", "env-secret")
	t.Setenv("PERMAURI_BUCKET", "env-bucket")
	t.Setenv("PERMAURI_REGION", "nyc3")
	t.Setenv("PERMAURI_PREFIX", "assets/")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Store.AccessKey)
	assert.Equal(t, "env-secret", cfg.Store.SecretKey)
	assert.Equal(t, "env-bucket", cfg.Store.Bucket)
	assert.Equal(t, "nyc3", cfg.Store.Region)
	assert.Equal(t, "assets/", cfg.Store.Prefix)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
