package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "autarch/", cfg.Git.BranchPrefix)
	assert.Equal(t, ".autarch/worktrees", cfg.Git.WorktreeRoot)
	assert.Equal(t, 60*time.Second, cfg.Shell.DefaultTimeout)
	assert.Equal(t, 300*time.Second, cfg.Shell.MaxTimeout)
	assert.Equal(t, 3, cfg.Pulse.MaxRejections)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, ":8420", cfg.Server.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AUTARCH_LOG_LEVEL", "debug")
	t.Setenv("AUTARCH_SERVER_ADDR", ":9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: warn
pulse:
  max_rejections: 5
hooks:
  - name: fmt
    glob: "**.go"
    command: gofmt -w %PATH%
    on_failure: warn
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Pulse.MaxRejections)
	require.Len(t, cfg.Hooks, 1)
	assert.Equal(t, HookWarn, cfg.Hooks[0].OnFailure)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autarch.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Git.BranchPrefix, cfg.Git.BranchPrefix)
	assert.Equal(t, Defaults().Shell.DefaultTimeout, cfg.Shell.DefaultTimeout)
	assert.Equal(t, Defaults().Server.Addr, cfg.Server.Addr)

	// Refuses to clobber.
	err = WriteDefault(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestValidate(t *testing.T) {
	base := Defaults()

	t.Run("accepts defaults", func(t *testing.T) {
		cfg := base
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects inverted shell timeouts", func(t *testing.T) {
		cfg := base
		cfg.Shell.MaxTimeout = time.Second
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects empty branch prefix", func(t *testing.T) {
		cfg := base
		cfg.Git.BranchPrefix = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects hook without command", func(t *testing.T) {
		cfg := base
		cfg.Hooks = []Hook{{Name: "x", Glob: "**"}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown hook policy", func(t *testing.T) {
		cfg := base
		cfg.Hooks = []Hook{{Glob: "**", Command: "true", OnFailure: "explode"}}
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects postgres without dsn", func(t *testing.T) {
		cfg := base
		cfg.Store.Driver = "postgres"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		cfg := base
		cfg.Store.Driver = "sqlite"
		assert.Error(t, cfg.Validate())
	})
}
