package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/simgrid/internal/config"
)

type stubLoader struct {
	tree config.Map
	err  error
}

func (l stubLoader) Load(context.Context, ...string) (config.Map, error) {
	return l.tree, l.err
}

func TestNewConfig_Validation(t *testing.T) {
	_, err := NewConfig(Config{})
	require.Error(t, err)

	_, err = NewConfig(Config{ConfigPaths: []string{"a.yaml"}, Workers: -2})
	require.Error(t, err)

	cfg, err := NewConfig(Config{ConfigPaths: []string{"a.yaml"}, Workers: 3})
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Workers)
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger("info", "json", &buf).Info("hello", "k", 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])

	buf.Reset()
	l := newLogger("warn", "text", &buf)
	l.Info("hidden")
	l.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "msg=shown")
}

func TestNewApp_RegistersCoreModules(t *testing.T) {
	a, err := NewApp(&bytes.Buffer{}, &Config{ConfigPaths: []string{"x"}}, stubLoader{tree: config.Map{}})
	require.NoError(t, err)
	for _, name := range []string{"catalog", "dict", "fits_header", "shear_grid"} {
		_, err := a.Registry().Resolve(name)
		require.NoError(t, err, name)
	}
}

func TestRun_WritesAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	tree := config.Map{
		"output": config.Map{"dir": dir, "nfiles": 3, "file_name": config.Map{"type": "NumberedFile", "root": "f", "ext": ".fits"}},
		"image":  config.Map{"size": 4},
	}
	var logs bytes.Buffer
	a, err := NewApp(&logs, &Config{ConfigPaths: []string{"x"}, LogLevel: "info", Workers: 2}, stubLoader{tree: tree})
	require.NoError(t, err)

	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, sum.Written)
	for _, name := range []string{"f0.fits", "f1.fits", "f2.fits"} {
		require.FileExists(t, filepath.Join(dir, name))
	}
	done, total := a.Progress()
	require.Equal(t, 3, done)
	require.Equal(t, 3, total)
	require.Contains(t, logs.String(), "Job finished.")
}

func TestRun_StartupFailureLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	tree := config.Map{
		"output": config.Map{"dir": dir, "type": "Nope"},
	}
	a, err := NewApp(&bytes.Buffer{}, &Config{ConfigPaths: []string{"x"}}, stubLoader{tree: tree})
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestHealthcheckHandlers(t *testing.T) {
	a, err := NewApp(&bytes.Buffer{}, &Config{ConfigPaths: []string{"x"}}, stubLoader{tree: config.Map{}})
	require.NoError(t, err)
	a.filesDone.Store(2)
	a.filesTotal.Store(5)

	srv := httptest.NewServer(a.healthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/progress")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	require.Equal(t, map[string]int{"done": 2, "total": 5}, body)
}

func TestLoadEnv_MissingFileIsIgnored(t *testing.T) {
	t.Setenv(EnvS3Endpoint, "s3.local:9000")
	t.Setenv(EnvS3UseSSL, "true")
	cfg := &Config{}
	require.NoError(t, cfg.LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
	require.Equal(t, "s3.local:9000", cfg.S3.Endpoint)
	require.True(t, cfg.S3.UseSSL)
	require.False(t, strings.Contains(cfg.S3.Endpoint, "http"))
}
