// Package config loads the settings of the bmindex command line tool from the environment and an optional .env
// file.
package config

import (
	"io/fs"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variables read by Load.
const (
	EnvDataDir     = "BMINDEX_DATA_DIR"
	EnvBufferPages = "BMINDEX_BUFFER_PAGES"
	EnvLogLevel    = "BMINDEX_LOG_LEVEL"
	EnvWALSync     = "BMINDEX_WAL_SYNC"
)

type Config struct {
	// DataDir holds index files, catalog files and the log.
	DataDir string
	// BufferPages is the number of frames in the buffer pool.
	BufferPages int
	LogLevel    zapcore.Level
	// WALSync makes every log flush fsync.
	WALSync bool
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		DataDir:     "bmdata",
		BufferPages: 256,
		LogLevel:    zapcore.WarnLevel,
		WALSync:     true,
	}
}

// Load reads envFiles, skipping any that do not exist, and then the BMINDEX_* environment variables. Variables
// already set in the environment win over the files.
func Load(envFiles ...string) (Config, error) {
	for _, path := range envFiles {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Config{}, errors.Wrapf(err, "load env file %s", path)
		}
	}

	cfg := Default()
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvBufferPages); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 4 {
			return Config{}, errors.Newf("%s must be an integer of at least 4, got %q", EnvBufferPages, v)
		}
		cfg.BufferPages = n
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		level, err := zapcore.ParseLevel(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s", EnvLogLevel)
		}
		cfg.LogLevel = level
	}
	if v := os.Getenv(EnvWALSync); v != "" {
		sync, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s", EnvWALSync)
		}
		cfg.WALSync = sync
	}
	return cfg, nil
}

// NewLogger builds a logger writing to stderr at the configured level. Debug logging uses the development
// encoder.
func (c Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.LogLevel == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
