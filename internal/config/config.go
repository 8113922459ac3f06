// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/FlavioCFOliveira/FailSight/internal/net"
	"github.com/FlavioCFOliveira/FailSight/internal/train"
)

// Config is the root of the YAML document.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Training   TrainingConfig   `yaml:"training"`
	Prediction PredictionConfig `yaml:"prediction"`
	Database   DatabaseConfig   `yaml:"database"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	// File enables a rotated file sink in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TrainingConfig configures sample synthesis and training runs.
type TrainingConfig struct {
	Samples               int             `yaml:"samples"`
	Epochs                int             `yaml:"epochs"`
	BatchSize             int             `yaml:"batch_size"`
	ValidationSplit       float64         `yaml:"validation_split"`
	Optimizer             string          `yaml:"optimizer"`
	LearningRate          float64         `yaml:"learning_rate"`
	Beta1                 float64         `yaml:"beta1"`
	Beta2                 float64         `yaml:"beta2"`
	Epsilon               float64         `yaml:"epsilon"`
	Seed                  uint64          `yaml:"seed"`
	Standardize           bool            `yaml:"standardize"`
	Hidden                []net.LayerSpec `yaml:"hidden"`
	PreviewSamples        int             `yaml:"preview_samples"`
	EarlyStoppingPatience int             `yaml:"early_stopping_patience"`
	// MetricsCSV, when set, receives one row per epoch.
	MetricsCSV  string `yaml:"metrics_csv"`
	LogInterval int    `yaml:"log_interval"`
}

// PredictionConfig configures the predictor.
type PredictionConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// DatabaseConfig configures the run history store. An empty path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tc := train.DefaultConfig()
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Training: TrainingConfig{
			Samples:               1000,
			Epochs:                tc.Epochs,
			BatchSize:             tc.BatchSize,
			ValidationSplit:       tc.ValidationSplit,
			Optimizer:             tc.Optimizer,
			LearningRate:          tc.LearningRate,
			Beta1:                 tc.Beta1,
			Beta2:                 tc.Beta2,
			Epsilon:               tc.Epsilon,
			Seed:                  tc.Seed,
			Standardize:           tc.Standardize,
			Hidden:                tc.Hidden,
			PreviewSamples:        tc.PreviewSamples,
			EarlyStoppingPatience: tc.EarlyStoppingPatience,
			LogInterval:           10,
		},
		Prediction: PredictionConfig{
			CacheSize: 1024,
		},
		Database: DatabaseConfig{
			Path: "failsight.db",
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
	}
}

// TrainConfig converts the training section into trainer hyper-parameters.
func (t TrainingConfig) TrainConfig() train.Config {
	return train.Config{
		Epochs:                t.Epochs,
		BatchSize:             t.BatchSize,
		ValidationSplit:       t.ValidationSplit,
		Optimizer:             t.Optimizer,
		LearningRate:          t.LearningRate,
		Beta1:                 t.Beta1,
		Beta2:                 t.Beta2,
		Epsilon:               t.Epsilon,
		Seed:                  t.Seed,
		Standardize:           t.Standardize,
		Hidden:                append([]net.LayerSpec(nil), t.Hidden...),
		PreviewSamples:        t.PreviewSamples,
		EarlyStoppingPatience: t.EarlyStoppingPatience,
	}
}

// Load reads path and decodes it over the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format: %q is not json or console", c.Log.Format))
	}
	if c.Training.Samples < 2 {
		errs = append(errs, fmt.Errorf("training.samples: need at least 2, got %d", c.Training.Samples))
	}
	if c.Training.LogInterval < 0 {
		errs = append(errs, fmt.Errorf("training.log_interval: must not be negative, got %d", c.Training.LogInterval))
	}
	if err := c.Training.TrainConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("training: %w", err))
	}
	if c.Prediction.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("prediction.cache_size: must not be negative, got %d", c.Prediction.CacheSize))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port: %d out of range", c.HTTP.Port))
	}
	if c.HTTP.ReadTimeout < 0 || c.HTTP.WriteTimeout < 0 || c.HTTP.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("http: timeouts must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}
