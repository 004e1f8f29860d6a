package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfigFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "v7fs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad__Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad__FileThenEnvironment(t *testing.T) {
	path := writeConfigFile(t, `
image: /tmp/disk.img
geometry: small
log:
  level: debug
user:
  uid: 4
  gid: 5
`)
	t.Setenv("V7FS_GEOMETRY", "tiny")
	t.Setenv("V7FS_USER_GID", "9")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/disk.img", cfg.Image)
	assert.Equal(t, "tiny", cfg.Geometry, "environment overrides the file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.User.UID)
	assert.Equal(t, 9, cfg.User.GID)
}

func TestLoad__EmptyFile(t *testing.T) {
	cfg, err := config.Load(writeConfigFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad__UnknownField(t *testing.T) {
	_, err := config.Load(writeConfigFile(t, "imagee: typo.img\n"))
	assert.Error(t, err)
}

func TestLoad__MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Geometry = "floppy"
	assert.ErrorIs(t, cfg.Validate(), v7fs.ErrNotFound)

	cfg = config.Default()
	cfg.User.UID = 0
	assert.ErrorIs(t, cfg.Validate(), v7fs.ErrInvalidArgument)

	cfg = config.Default()
	cfg.Log.Level = "loud"
	assert.ErrorIs(t, cfg.Validate(), v7fs.ErrInvalidArgument)
}

func TestValidate__OwnerIDRange(t *testing.T) {
	testCases := []struct {
		uid   int
		gid   int
		valid bool
	}{
		{1, 0, true},
		{32767, 32767, true},
		{32768, 1, false},
		{65536, 1, false},
		{-1, 1, false},
		{1, -1, false},
		{1, 32768, false},
	}

	for _, tc := range testCases {
		cfg := config.Default()
		cfg.User = config.UserConfig{UID: tc.uid, GID: tc.gid}
		if tc.valid {
			assert.NoError(t, cfg.Validate(), "uid=%d gid=%d", tc.uid, tc.gid)
		} else {
			assert.ErrorIs(
				t, cfg.Validate(), v7fs.ErrInvalidArgument, "uid=%d gid=%d", tc.uid, tc.gid)
		}
	}
}

func TestLoad__UserIDFromEnvironmentTooLarge(t *testing.T) {
	t.Setenv("V7FS_USER_UID", "65536")
	_, err := config.Load("")
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}

func TestNewLogger(t *testing.T) {
	logger, err := config.LogConfig{Level: "info"}.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel), "debug should be disabled")

	_, err = config.LogConfig{Level: "chatty"}.NewLogger()
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}
