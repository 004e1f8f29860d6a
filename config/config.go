package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dargueta/v7fs"
	"github.com/dargueta/v7fs/disks"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvVarPrefix is prepended to every environment variable the configuration
// reads. Names follow the field path, e.g. V7FS_IMAGE or V7FS_LOG_LEVEL.
const EnvVarPrefix = "V7FS"

type Config struct {
	// Image is the path to the image file on the host.
	Image string `yaml:"image"`
	// Geometry is the slug of the preset used when formatting a new image.
	Geometry string     `yaml:"geometry"`
	Log      LogConfig  `yaml:"log"`
	User     UserConfig `yaml:"user"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// UserConfig is the account commands run as. The home directory is always the
// root of the image.
type UserConfig struct {
	UID int `yaml:"uid"`
	GID int `yaml:"gid"`
}

func Default() Config {
	return Config{
		Image:    "v7fs.img",
		Geometry: disks.DefaultSlug,
		Log:      LogConfig{Level: "warn"},
		User:     UserConfig{UID: v7fs.SuperUserID, GID: v7fs.SuperUserID},
	}
}

// Load builds the configuration from the defaults, then the YAML file at
// `path` if it's not empty, then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err = decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unmarshaling config file %q: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvVarPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment variables: %w", err)
	}
	return cfg, cfg.Validate()
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(cfg)
	if errors.Is(err, io.EOF) {
		// Empty file.
		return nil
	}
	return err
}

func (cfg *Config) Validate() error {
	if cfg.Image == "" {
		return v7fs.ErrInvalidArgument.WithMessage("missing required configuration: image")
	}
	if _, err := disks.GetPredefinedGeometry(cfg.Geometry); err != nil {
		return err
	}
	// Owner IDs are stored as signed 16-bit values on the image.
	if cfg.User.UID <= 0 || cfg.User.UID > math.MaxInt16 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("user ID must be in [1, %d], got %d", math.MaxInt16, cfg.User.UID))
	}
	if cfg.User.GID < 0 || cfg.User.GID > math.MaxInt16 {
		return v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("group ID must be in [0, %d], got %d", math.MaxInt16, cfg.User.GID))
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return v7fs.ErrInvalidArgument.Wrap(err)
	}
	return nil
}

// NewLogger creates a logger writing to stderr.
func (cfg LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, v7fs.ErrInvalidArgument.Wrap(err)
	}

	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	return zapConfig.Build()
}
