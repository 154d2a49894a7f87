package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, int64(5<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, []string{".c", ".cpp", ".cc", ".cxx"}, cfg.Server.AllowedExtensions)
	assert.Equal(t, "fp16-demotion", cfg.Tool.PluginName)
	assert.Equal(t, 30*time.Second, cfg.Tool.Timeout)
	assert.Equal(t, "delete", cfg.Workspace.Retention)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  allowedExtensions: [".c"]
tool:
  binary: /opt/llvm/bin/clang
  timeout: 45s
  flags: ["-fprecision-demote=fp16", "-verbose"]
workspace:
  root: /tmp/fp16
  retention: keep
concurrency:
  maxConcurrent: 1
auth:
  apiKeys:
    ui: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{".c"}, cfg.Server.AllowedExtensions)
	assert.Equal(t, "/opt/llvm/bin/clang", cfg.Tool.Binary)
	assert.Equal(t, 45*time.Second, cfg.Tool.Timeout)
	assert.Equal(t, []string{"-fprecision-demote=fp16", "-verbose"}, cfg.Tool.Flags)
	assert.Equal(t, "keep", cfg.Workspace.Retention)
	assert.Equal(t, int64(1), cfg.Concurrency.MaxConcurrent)
	assert.Equal(t, map[string]string{"ui": "secret"}, cfg.Auth.APIKeys)
	// untouched keys keep their defaults
	assert.Equal(t, int64(5<<20), cfg.Server.MaxUploadBytes)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("FP16_TOOL_BINARY", "clang-18")
	t.Setenv("FP16_TOOL_TIMEOUT", "5s")
	t.Setenv("WORKSPACE_ROOT", "/srv/ws")
	t.Setenv("STORE_DRIVER", "postgres")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "clang-18", cfg.Tool.Binary)
	assert.Equal(t, 5*time.Second, cfg.Tool.Timeout)
	assert.Equal(t, "/srv/ws", cfg.Workspace.Root)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [\n"))
		assert.Error(t, err)
	})
	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("FP16_TOOL_TIMEOUT", "soon")
		_, err := Load(writeConfig(t, ""))
		assert.ErrorContains(t, err, "FP16_TOOL_TIMEOUT")
	})
	t.Run("unknown retention", func(t *testing.T) {
		_, err := Load(writeConfig(t, "workspace:\n  retention: forever\n"))
		assert.ErrorContains(t, err, "workspace.retention")
	})
	t.Run("archive without minio", func(t *testing.T) {
		_, err := Load(writeConfig(t, "workspace:\n  retention: archive\n"))
		assert.ErrorContains(t, err, "minio")
	})
	t.Run("write timeout shorter than tool timeout", func(t *testing.T) {
		_, err := Load(writeConfig(t, "tool:\n  timeout: 120s\n"))
		assert.ErrorContains(t, err, "server.writeTimeout")

		_, err = Load(writeConfig(t, "server:\n  writeTimeout: 30s\ntool:\n  timeout: 30s\n"))
		assert.ErrorContains(t, err, "server.writeTimeout")
	})
	t.Run("unknown driver", func(t *testing.T) {
		_, err := Load(writeConfig(t, "store:\n  driver: sqlite\n"))
		assert.ErrorContains(t, err, "store.driver")
	})
}

func TestLoad_WriteTimeoutRelation(t *testing.T) {
	t.Run("no write deadline", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server:\n  writeTimeout: 0s\ntool:\n  timeout: 120s\n"))
		assert.NoError(t, err)
	})
	t.Run("queued runs are not checked", func(t *testing.T) {
		_, err := Load(writeConfig(t, "tool:\n  timeout: 120s\nconcurrency:\n  maxConcurrent: 2\n"))
		assert.NoError(t, err)
	})
}

func TestDSNs(t *testing.T) {
	cfg := Default()
	cfg.Database.Host = "db"
	cfg.Database.Port = 5432
	cfg.Database.User = "u"
	cfg.Database.Password = "p"
	cfg.Database.Name = "fp16"

	assert.Equal(t, "u:p@tcp(db:5432)/fp16?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fp16 sslmode=disable", cfg.PostgresDSN())
}
