package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/simgrid/internal/app"
	"github.com/vk/simgrid/internal/job"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
	Summary   *job.Summary
	// Dir is the temporary root the files were written to.
	Dir string
}

// RunIntegrationTest writes files into a temporary directory, loads every
// one of them as configuration and runs the job. A "{{dir}}" placeholder
// in file contents is replaced by that directory.
func RunIntegrationTest(t *testing.T, files map[string]string, cfg app.Config) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
		content = string(bytes.ReplaceAll([]byte(content), []byte("{{dir}}"), []byte(tmpDir)))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0644))
	}

	cfg.ConfigPaths = []string{tmpDir}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "debug"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	logBuffer := &SafeBuffer{}
	result := &HarnessResult{Dir: tmpDir}
	a, err := app.NewApp(logBuffer, &cfg, app.DefaultLoader())
	if err != nil {
		result.Err = err
		result.LogOutput = logBuffer.String()
		return result
	}
	result.App = a
	result.Summary, result.Err = a.Run(context.Background())
	result.LogOutput = logBuffer.String()
	return result
}
