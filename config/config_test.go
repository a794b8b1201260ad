package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	for _, name := range []string{EnvDataDir, EnvBufferPages, EnvLogLevel, EnvWALSync} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDataDir, "/tmp/idx")
	t.Setenv(EnvBufferPages, "64")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvWALSync, "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Config{DataDir: "/tmp/idx", BufferPages: 64, LogLevel: zapcore.DebugLevel, WALSync: false}, cfg)

	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BMINDEX_DATA_DIR=fromfile\nBMINDEX_BUFFER_PAGES=32\n"), 0o644))
	t.Setenv(EnvBufferPages, "16")
	// godotenv sets variables for the whole process; register them so they are restored.
	t.Setenv(EnvDataDir, "")
	require.NoError(t, os.Unsetenv(EnvDataDir))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.DataDir)
	assert.Equal(t, 16, cfg.BufferPages)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, value := range map[string]string{
		EnvBufferPages: "two",
		EnvLogLevel:    "loud",
		EnvWALSync:     "sometimes",
	} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(name, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
	clearEnv(t)
	t.Setenv(EnvBufferPages, "2")
	_, err := Load()
	assert.Error(t, err)
}
