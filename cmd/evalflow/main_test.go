package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/evalflow/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "evalflow "+Version)
	assert.Contains(t, out, "Git Commit: "+GitCommit)
}

func TestHealthCommand(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ready", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		out, err := execute(t, "health", "--addr", ts.URL+"/")
		require.NoError(t, err)
		assert.Contains(t, out, "OK")
	})

	t.Run("unavailable", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		_, err := execute(t, "health", "--addr", ts.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 503")
	})
}

func TestMigrateCommands_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "evalflow.db")
	flags := []string{"--db-type", "sqlite", "--db-url", dbPath}

	_, err := execute(t, append([]string{"migrate", "up"}, flags...)...)
	require.NoError(t, err)

	out, err := execute(t, append([]string{"migrate", "status"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "init_schema")
	assert.Contains(t, out, "Applied: 1")

	_, err = execute(t, append([]string{"migrate", "down", "--steps", "0"}, flags...)...)
	require.NoError(t, err)

	out, err = execute(t, append([]string{"migrate", "version"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations applied yet.")
}

func TestMigrateForce_InvalidVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "evalflow.db")
	_, err := execute(t, "migrate", "force", "abc", "--db-type", "sqlite", "--db-url", dbPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestMigrate_FromConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "evalflow.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: sqlite\n  name: "+dbPath+"\n"), 0o600))

	_, err := execute(t, "migrate", "up", "--config", cfgPath)
	require.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := initLogger(config.LogConfig{Level: tt.level, Format: "json", OutputPaths: []string{"stderr"}})
			require.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}

	t.Run("console", func(t *testing.T) {
		assert.NotNil(t, initLogger(config.LogConfig{Level: "info", Format: "console"}))
	})
}
