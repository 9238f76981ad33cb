package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Run modes.
const (
	ModeTrain    = "train"
	ModeEvaluate = "evaluate"
)

// EnvPrefix prefixes every environment override, e.g. ROBUST_FORGE_SEED or
// ROBUST_FORGE_DATASET_ROOT.
const EnvPrefix = "ROBUST_FORGE"

// Config captures the runtime knobs for an experiment run.
type Config struct {
	Mode             string         `mapstructure:"mode"`
	LogLevel         string         `mapstructure:"log_level"`
	Seed             int64          `mapstructure:"seed"`
	Optimizer        string         `mapstructure:"optimizer"`
	LearningRate     float64        `mapstructure:"learning_rate"`
	Momentum         float64        `mapstructure:"momentum"`
	WeightDecay      float64        `mapstructure:"weight_decay"`
	LogEvery         int            `mapstructure:"log_every"`
	EarlyStopping    bool           `mapstructure:"early_stopping"`
	EarlyStopLoss    float64        `mapstructure:"early_stop_loss"`
	Architectures    []Architecture `mapstructure:"architectures"`
	AdversarialModes []bool         `mapstructure:"adversarial_modes"`
	Dataset          Dataset        `mapstructure:"dataset"`
	Attacker         Attacker       `mapstructure:"attacker"`
	Checkpoint       Checkpoint     `mapstructure:"checkpoint"`
	Evaluation       Evaluation     `mapstructure:"evaluation"`
	ResultsPath      string         `mapstructure:"results_path"`
	ImagesDir        string         `mapstructure:"images_dir"`
	StatsdAddress    string         `mapstructure:"statsd_address"`
}

// Architecture is one entry of the ordered architecture list.
type Architecture struct {
	Name   string `mapstructure:"name"`
	Kind   string `mapstructure:"kind"`
	Epochs int    `mapstructure:"epochs"`
	Hidden []int  `mapstructure:"hidden"`
}

// Dataset selects the data source, image shape and loader settings.
type Dataset struct {
	Format         string   `mapstructure:"format"`
	Root           string   `mapstructure:"root"`
	TrainRoots     []string `mapstructure:"train_roots"`
	TestRoots      []string `mapstructure:"test_roots"`
	Channels       int      `mapstructure:"channels"`
	Height         int      `mapstructure:"height"`
	Width          int      `mapstructure:"width"`
	NumClasses     int      `mapstructure:"num_classes"`
	TrainBatchSize int      `mapstructure:"train_batch_size"`
	TestBatchSize  int      `mapstructure:"test_batch_size"`
	NumWorkers     int      `mapstructure:"num_workers"`
	Augment        bool     `mapstructure:"augment"`
	Limit          int      `mapstructure:"limit"`
}

// Attacker configures the attacker built for every run.
type Attacker struct {
	Kind         string  `mapstructure:"kind"`
	Name         string  `mapstructure:"name"`
	TrainEpsilon float64 `mapstructure:"train_epsilon"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Latent       int     `mapstructure:"latent"`
	Steps        int     `mapstructure:"steps"`
}

// Checkpoint configures where and how parameters are saved.
type Checkpoint struct {
	Dir               string `mapstructure:"dir"`
	ModelTemplate     string `mapstructure:"model_template"`
	AttackerTemplate  string `mapstructure:"attacker_template"`
	AdversarialSuffix string `mapstructure:"adversarial_suffix"`
	Precision         string `mapstructure:"precision"`
}

// Evaluation configures evaluate mode. Empty checkpoint templates fall back
// to the Checkpoint templates.
type Evaluation struct {
	Epsilons           []float64 `mapstructure:"epsilons"`
	ModelCheckpoint    string    `mapstructure:"model_checkpoint"`
	AttackerCheckpoint string    `mapstructure:"attacker_checkpoint"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Mode     string
	DataRoot string
	LogEvery int
	Seed     int64
	Limit    int
}

// DefaultArchitectures is used when the config lists none.
var DefaultArchitectures = []Architecture{
	{Name: "softmax", Kind: "softmax", Epochs: 10},
	{Name: "mlp", Kind: "mlp", Epochs: 10, Hidden: []int{256}},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeTrain)
	v.SetDefault("log_level", "info")
	v.SetDefault("seed", 1)
	v.SetDefault("optimizer", "adam")
	v.SetDefault("learning_rate", 1e-4)
	v.SetDefault("momentum", 0.9)
	v.SetDefault("weight_decay", 0.0)
	v.SetDefault("log_every", 10)
	v.SetDefault("early_stopping", false)
	v.SetDefault("early_stop_loss", 0.01)
	v.SetDefault("adversarial_modes", []bool{false, true})

	v.SetDefault("dataset.format", "cifar10")
	v.SetDefault("dataset.root", "data/cifar-10-batches-bin")
	v.SetDefault("dataset.channels", 3)
	v.SetDefault("dataset.height", 32)
	v.SetDefault("dataset.width", 32)
	v.SetDefault("dataset.num_classes", 10)
	v.SetDefault("dataset.train_batch_size", 1024)
	v.SetDefault("dataset.test_batch_size", 128)
	v.SetDefault("dataset.num_workers", 4)
	v.SetDefault("dataset.augment", true)
	v.SetDefault("dataset.limit", 0)

	v.SetDefault("attacker.kind", "generative")
	v.SetDefault("attacker.name", "")
	v.SetDefault("attacker.train_epsilon", 0.05)
	v.SetDefault("attacker.learning_rate", 1e-3)
	v.SetDefault("attacker.latent", 64)
	v.SetDefault("attacker.steps", 7)

	v.SetDefault("checkpoint.dir", "checkpoints")
	v.SetDefault("checkpoint.model_template", "{name}{suffix}.ckpt")
	v.SetDefault("checkpoint.attacker_template", "{name}{suffix}_attacker.ckpt")
	v.SetDefault("checkpoint.adversarial_suffix", "_AT")
	v.SetDefault("checkpoint.precision", "fp64")

	v.SetDefault("evaluation.epsilons", []float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0})
	v.SetDefault("evaluation.model_checkpoint", "")
	v.SetDefault("evaluation.attacker_checkpoint", "")

	v.SetDefault("results_path", "DCGAN_attack_results.csv")
	v.SetDefault("images_dir", "images")
	v.SetDefault("statsd_address", "")
}

// Load reads a Config from the YAML file at path, applies ROBUST_FORGE_*
// environment overrides and validates the result. An empty path uses
// defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	if o.DataRoot != "" {
		c.Dataset.Root = o.DataRoot
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Limit > 0 {
		c.Dataset.Limit = o.Limit
	}
}

// Validate verifies the config is runnable and fills derived defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Mode != ModeTrain && c.Mode != ModeEvaluate {
		return fmt.Errorf("mode must be %q or %q (got %q)", ModeTrain, ModeEvaluate, c.Mode)
	}
	if c.Optimizer != "adam" && c.Optimizer != "sgd" {
		return fmt.Errorf("optimizer must be adam or sgd (got %q)", c.Optimizer)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("log_every must be > 0 (got %d)", c.LogEvery)
	}
	if len(c.Architectures) == 0 {
		c.Architectures = append([]Architecture(nil), DefaultArchitectures...)
	}
	seen := make(map[string]bool, len(c.Architectures))
	for i, a := range c.Architectures {
		if a.Name == "" {
			return fmt.Errorf("architectures[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("architectures[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		if a.Kind == "" {
			c.Architectures[i].Kind = a.Name
		}
		if a.Epochs <= 0 {
			return fmt.Errorf("architectures[%d] %s: epochs must be > 0 (got %d)", i, a.Name, a.Epochs)
		}
	}
	if len(c.AdversarialModes) == 0 {
		c.AdversarialModes = []bool{false, true}
	}
	if err := c.Dataset.validate(); err != nil {
		return err
	}
	if c.Attacker.Name == "" {
		c.Attacker.Name = c.Attacker.Kind
	}
	if c.Checkpoint.Precision != "fp64" && c.Checkpoint.Precision != "fp16" {
		return fmt.Errorf("checkpoint.precision must be fp64 or fp16 (got %q)", c.Checkpoint.Precision)
	}
	for _, eps := range c.Evaluation.Epsilons {
		if eps < 0 {
			return fmt.Errorf("evaluation.epsilons: negative epsilon %g", eps)
		}
	}
	if c.ResultsPath == "" {
		return errors.New("results_path must be set")
	}
	return nil
}

func (d *Dataset) validate() error {
	switch d.Format {
	case "cifar10":
		if d.Root == "" {
			return errors.New("dataset.root must be set for cifar10")
		}
	case "webdataset":
		if len(d.TrainRoots) == 0 || len(d.TestRoots) == 0 {
			return errors.New("dataset.train_roots and dataset.test_roots must be set for webdataset")
		}
	default:
		return fmt.Errorf("dataset.format must be cifar10 or webdataset (got %q)", d.Format)
	}
	if d.Channels <= 0 || d.Height <= 0 || d.Width <= 0 {
		return fmt.Errorf("dataset shape must be positive (got %dx%dx%d)", d.Channels, d.Height, d.Width)
	}
	if d.NumClasses < 2 {
		return fmt.Errorf("dataset.num_classes must be >= 2 (got %d)", d.NumClasses)
	}
	if d.TrainBatchSize <= 0 || d.TestBatchSize <= 0 {
		return fmt.Errorf("dataset batch sizes must be > 0 (got %d/%d)", d.TrainBatchSize, d.TestBatchSize)
	}
	if d.NumWorkers <= 0 {
		return fmt.Errorf("dataset.num_workers must be > 0 (got %d)", d.NumWorkers)
	}
	return nil
}
