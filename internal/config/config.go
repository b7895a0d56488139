// Package config handles configuration loading and validation for typeprint.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"typeprint/internal/auth"
	"typeprint/internal/train"
)

// Config is the complete typeprint configuration.
type Config struct {
	Training TrainingConfig `toml:"training" yaml:"training" json:"training"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth" json:"auth"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage" json:"storage"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging" json:"logging"`
}

// TrainingConfig controls the training pipeline.
type TrainingConfig struct {
	// MinSamples is the minimum usable genuine samples to train on.
	MinSamples int `toml:"min_samples" yaml:"min_samples" json:"min_samples"`

	// NegativeRatio is synthetic negatives per genuine sample.
	NegativeRatio float64 `toml:"negative_ratio" yaml:"negative_ratio" json:"negative_ratio"`

	// HoldoutFraction of the data is reserved for the quality report.
	HoldoutFraction float64 `toml:"holdout_fraction" yaml:"holdout_fraction" json:"holdout_fraction"`

	// CVFolds is the number of cross-validation folds.
	CVFolds int `toml:"cv_folds" yaml:"cv_folds" json:"cv_folds"`

	// MaxNeighbors caps the hyperparameter search grid.
	MaxNeighbors int `toml:"max_neighbors" yaml:"max_neighbors" json:"max_neighbors"`

	// Seed makes training reproducible; 0 means random.
	Seed int64 `toml:"seed" yaml:"seed" json:"seed"`
}

// AuthConfig controls authentication decisions.
type AuthConfig struct {
	// Threshold is the confidence required to accept.
	Threshold float64 `toml:"threshold" yaml:"threshold" json:"threshold"`
}

// StorageConfig controls where data lives.
type StorageConfig struct {
	DatabasePath string `toml:"database_path" yaml:"database_path" json:"database_path"`
	ModelsDir    string `toml:"models_dir" yaml:"models_dir" json:"models_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level    string `toml:"level" yaml:"level" json:"level"`
	Format   string `toml:"format" yaml:"format" json:"format"`
	Output   string `toml:"output" yaml:"output" json:"output"`
	FilePath string `toml:"file_path" yaml:"file_path" json:"file_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Training: TrainingConfig{
			MinSamples:      train.MinTrainingSamples,
			NegativeRatio:   1.0,
			HoldoutFraction: 0.25,
			CVFolds:         5,
			MaxNeighbors:    15,
		},
		Auth: AuthConfig{
			Threshold: auth.DefaultThreshold,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(dataDir, "typeprint.db"),
			ModelsDir:    filepath.Join(dataDir, "models"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// defaultDataDir returns the per-user data directory.
func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".typeprint")
	}
	return ".typeprint"
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "typeprint", "config.toml")
	}
	return filepath.Join(defaultDataDir(), "config.toml")
}

// Load reads the configuration at path, applies environment overrides
// and validates it. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		switch filepath.Ext(path) {
		case ".toml":
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("decode TOML: %w", err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("decode YAML: %w", err)
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("decode JSON: %w", err)
			}
		default:
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("decode config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies TYPEPRINT_* environment variables on top of
// the file configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TYPEPRINT_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("TYPEPRINT_MODELS_DIR"); v != "" {
		c.Storage.ModelsDir = v
	}
	if v := os.Getenv("TYPEPRINT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Auth.Threshold = f
		}
	}
	if v := os.Getenv("TYPEPRINT_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Training.MinSamples = n
		}
	}
	if v := os.Getenv("TYPEPRINT_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Training.Seed = n
		}
	}
	if v := os.Getenv("TYPEPRINT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TYPEPRINT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Training.MinSamples < 2 {
		return fmt.Errorf("training.min_samples must be >= 2, got %d", c.Training.MinSamples)
	}
	if c.Training.NegativeRatio <= 0 || c.Training.NegativeRatio > 4 {
		return fmt.Errorf("training.negative_ratio must be in (0, 4], got %v", c.Training.NegativeRatio)
	}
	if c.Training.HoldoutFraction <= 0 || c.Training.HoldoutFraction >= 1 {
		return fmt.Errorf("training.holdout_fraction must be in (0, 1), got %v", c.Training.HoldoutFraction)
	}
	if c.Training.CVFolds < 2 {
		return fmt.Errorf("training.cv_folds must be >= 2, got %d", c.Training.CVFolds)
	}
	if c.Training.MaxNeighbors < 3 {
		return fmt.Errorf("training.max_neighbors must be >= 3, got %d", c.Training.MaxNeighbors)
	}
	if c.Auth.Threshold <= 0 || c.Auth.Threshold >= 1 {
		return fmt.Errorf("auth.threshold must be in (0, 1), got %v", c.Auth.Threshold)
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path must not be empty")
	}
	if c.Storage.ModelsDir == "" {
		return fmt.Errorf("storage.models_dir must not be empty")
	}
	return nil
}

// TrainOptions converts the training section into trainer options.
func (c *Config) TrainOptions() train.Options {
	return train.Options{
		MinSamples:      c.Training.MinSamples,
		NegativeRatio:   c.Training.NegativeRatio,
		HoldoutFraction: c.Training.HoldoutFraction,
		CVFolds:         c.Training.CVFolds,
		MaxNeighbors:    c.Training.MaxNeighbors,
		Seed:            c.Training.Seed,
	}
}
