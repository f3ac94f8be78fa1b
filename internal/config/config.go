// Package config loads the experiment configuration from a YAML file with
// defaults and a small set of environment overrides.
//
// The configuration is an explicit object handed to the components that
// need it; nothing in this module reads configuration from globals after
// startup.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forge-ml/forge/internal/logging"
	"github.com/forge-ml/forge/internal/split"
)

// SecretKeys are the configuration keys whose values are redacted before a
// config dump reaches any destination.
var SecretKeys = []string{"api_key"}

// Config is the full experiment configuration.
type Config struct {
	Run     RunConfig     `yaml:"run"`
	Data    DataConfig    `yaml:"data"`
	Model   ModelConfig   `yaml:"model"`
	Trainer TrainerConfig `yaml:"trainer"`
	Output  OutputConfig  `yaml:"output"`
}

// RunConfig names the run and optionally pins every random source.
type RunConfig struct {
	// Name of the run; names the local output directory and remote runs.
	Name string `yaml:"name"`
	// Seed pins weight initialization, the dataset split and batch
	// shuffling when non-zero. Zero means fresh entropy per run.
	Seed int64 `yaml:"seed"`
}

// DataConfig selects and parameterizes the dataset source.
type DataConfig struct {
	// Source is "csv" for a local file or "http" for a cached download.
	Source    string  `yaml:"source"`
	Path      string  `yaml:"path"`
	URL       string  `yaml:"url"`
	HasHeader bool    `yaml:"has_header"`
	Scale     float64 `yaml:"scale"`
	BatchSize int     `yaml:"batch_size"`
	// Fractions is the train/val/test share of the dataset.
	Fractions split.Fractions `yaml:"fractions"`
}

// ModelConfig parameterizes the reference classifier.
type ModelConfig struct {
	NumInputs    int     `yaml:"num_inputs"`
	NumHidden    int     `yaml:"num_hidden"`
	NumClasses   int     `yaml:"num_classes"`
	LearningRate float64 `yaml:"learning_rate"`
	Optimizer    string  `yaml:"optimizer"`
}

// TrainerConfig bounds the training loop.
type TrainerConfig struct {
	MaxEpochs int `yaml:"max_epochs"`
	// MaxSteps overrides MaxEpochs when positive.
	MaxSteps int `yaml:"max_steps"`
	// ValCheckInterval is the number of epochs between validations;
	// zero disables validation.
	ValCheckInterval int `yaml:"val_check_interval"`
	// LoadModelPath loads a checkpoint instead of training when set.
	LoadModelPath string `yaml:"load_model_path"`
	// SaveTrainedModel writes a checkpoint at the end of training.
	SaveTrainedModel bool `yaml:"save_trained_model"`
}

// OutputConfig configures the output router and its destinations.
type OutputConfig struct {
	// Dir is the root of local run directories (default "out").
	Dir             string `yaml:"dir"`
	LogLevelConsole string `yaml:"log_level_console"`
	LogLevelFile    string `yaml:"log_level_file"`

	SavePlots   bool `yaml:"save_plots"`
	ShowPlots   bool `yaml:"show_plots"`
	UploadPlots bool `yaml:"upload_plots"`
	// ImageFormat is "png" (raster) or "svg" (vector).
	ImageFormat string `yaml:"image_format"`

	SQLite   SQLiteConfig    `yaml:"sqlite"`
	Trackers []TrackerConfig `yaml:"trackers"`
}

// SQLiteConfig toggles the local run-history database.
type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TrackerConfig describes one remote experiment tracker.
type TrackerConfig struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Run: RunConfig{Name: "tmp"},
		Data: DataConfig{
			Source:    "csv",
			BatchSize: 256,
			Fractions: split.DefaultFractions,
		},
		Model: ModelConfig{
			NumInputs:    784,
			NumHidden:    256,
			NumClasses:   10,
			LearningRate: 0.001,
			Optimizer:    "adam",
		},
		Trainer: TrainerConfig{
			MaxEpochs:        50,
			ValCheckInterval: 1,
			SaveTrainedModel: true,
		},
		Output: OutputConfig{
			Dir:             "out",
			LogLevelConsole: "info",
			LogLevelFile:    "debug",
			SavePlots:       true,
			UploadPlots:     true,
			ImageFormat:     "png",
			SQLite:          SQLiteConfig{Path: "out/runs.db"},
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays the FORGE_* environment variables. Secrets in
// particular should come from the environment rather than the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FORGE_RUN_NAME"); v != "" {
		cfg.Run.Name = v
	}
	if v := os.Getenv("FORGE_TRACKER_API_KEY"); v != "" {
		for i := range cfg.Output.Trackers {
			if cfg.Output.Trackers[i].APIKey == "" {
				cfg.Output.Trackers[i].APIKey = v
			}
		}
	}
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Run.Name) == "" {
		return fmt.Errorf("config: run.name must not be empty")
	}
	if err := c.Data.Fractions.Validate(); err != nil {
		return fmt.Errorf("config: data.fractions: %w", err)
	}
	if c.Data.BatchSize < 1 {
		return fmt.Errorf("config: data.batch_size must be >= 1, got %d", c.Data.BatchSize)
	}
	switch c.Data.Source {
	case "csv", "http":
	default:
		return fmt.Errorf("config: data.source must be csv or http, got %q", c.Data.Source)
	}
	switch c.Output.ImageFormat {
	case "png", "svg":
	default:
		return fmt.Errorf("config: output.image_format must be png or svg, got %q", c.Output.ImageFormat)
	}
	if _, err := logging.ParseLevel(c.Output.LogLevelConsole); err != nil {
		return fmt.Errorf("config: output.log_level_console: %w", err)
	}
	if _, err := logging.ParseLevel(c.Output.LogLevelFile); err != nil {
		return fmt.Errorf("config: output.log_level_file: %w", err)
	}
	return nil
}

// AsMap converts the configuration to a generic nested map, the shape the
// output router logs and redacts.
func (c Config) AsMap() (map[string]any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}
