package utils

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Model kinds understood by models.Build.
const (
	ModelMLP         = "mlp"
	ModelFeedForward = "feedforward"
	ModelResidual    = "residual"
)

// Config holds model and run configuration
type Config struct {
	Model     string  `mapstructure:"model" yaml:"model"`
	InputDim  int     `mapstructure:"input-dim" yaml:"input-dim"`
	Hidden    []int   `mapstructure:"hidden" yaml:"hidden"`
	Outputs   int     `mapstructure:"outputs" yaml:"outputs"`
	DModel    int     `mapstructure:"d-model" yaml:"d-model"`
	DFF       int     `mapstructure:"d-ff" yaml:"d-ff"`
	Blocks    int     `mapstructure:"blocks" yaml:"blocks"`
	Dropout   float64 `mapstructure:"dropout" yaml:"dropout"`
	Mode      string  `mapstructure:"mode" yaml:"mode"`
	Seed      int64   `mapstructure:"seed" yaml:"seed"`
	BatchSize int     `mapstructure:"batch-size" yaml:"batch-size"`
	Batches   int     `mapstructure:"batches" yaml:"batches"`
	LogLevel  string  `mapstructure:"log-level" yaml:"log-level"`
}

// DefaultConfig returns a small MLP configuration.
func DefaultConfig() Config {
	return Config{
		Model:     ModelMLP,
		InputDim:  8,
		Hidden:    []int{16, 16},
		Outputs:   4,
		DModel:    8,
		DFF:       32,
		Blocks:    2,
		Dropout:   0.1,
		Mode:      "eval",
		Seed:      0,
		BatchSize: 4,
		Batches:   1,
		LogLevel:  "info",
	}
}

// ParseArchitecture parses architecture string into slice of integers.
// Sizes may be separated by spaces or commas.
func ParseArchitecture(archStr string) ([]int, error) {
	archParts := strings.FieldsFunc(archStr, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	arch := make([]int, len(archParts))
	for i, s := range archParts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(err, "layer size %q", s)
		}
		if n <= 0 {
			return nil, errors.Errorf("layer size must be positive, got %d", n)
		}
		arch[i] = n
	}
	return arch, nil
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	switch config.Model {
	case ModelMLP:
		if config.InputDim <= 0 || config.Outputs <= 0 {
			return errors.New("mlp needs positive input-dim and outputs")
		}
	case ModelFeedForward, ModelResidual:
		if config.DModel <= 0 || config.DFF <= 0 {
			return errors.Errorf("%s needs positive d-model and d-ff", config.Model)
		}
		if config.Model == ModelResidual && config.Blocks <= 0 {
			return errors.New("blocks must be positive")
		}
	default:
		return errors.Errorf("unknown model %q (expected %s, %s or %s)", config.Model, ModelMLP, ModelFeedForward, ModelResidual)
	}

	for _, h := range config.Hidden {
		if h <= 0 {
			return errors.Errorf("hidden sizes must be positive, got %v", config.Hidden)
		}
	}

	if config.Dropout < 0 || config.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1), got %g", config.Dropout)
	}

	switch config.Mode {
	case "train", "eval", "predict":
	default:
		return errors.Errorf("mode must be train, eval or predict, got %q", config.Mode)
	}

	if config.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}

	if config.Batches <= 0 {
		return errors.New("batches must be positive")
	}

	return nil
}

// LoadConfig reads a YAML, JSON or TOML file over DefaultConfig. Values can
// be overridden with STACKNN_* environment variables. An empty path reads
// the defaults and the environment only.
func LoadConfig(path string) (Config, error) {
	v := NewViper()
	cfg := DefaultConfig()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
	}
	return DecodeConfig(v, cfg)
}

// NewViper returns a viper instance reading STACKNN_* variables, with dashes
// in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("STACKNN")
	v.AutomaticEnv()
	return v
}

// DecodeConfig overlays the values known to v on cfg and validates the
// result.
func DecodeConfig(v *viper.Viper, cfg Config) (Config, error) {
	for _, key := range []string{"model", "input-dim", "hidden", "outputs", "d-model", "d-ff", "blocks",
		"dropout", "mode", "seed", "batch-size", "batches", "log-level"} {
		// AutomaticEnv only answers keys viper already knows about.
		_ = v.BindEnv(key)
	}
	// Lists from a config file read as "", flags and variables as "16,16".
	if s := v.GetString("hidden"); s != "" {
		hidden, err := ParseArchitecture(s)
		if err != nil {
			return cfg, errors.Wrap(err, "hidden")
		}
		v.Set("hidden", hidden)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config")
	}
	if err := ValidateConfig(&cfg); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
