// Package config holds the immutable run configuration for a two-phase
// training run.
//
// A Config is built once at startup (Default, then Load, then Apply) and
// passed by value to every component. Nothing mutates it afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Phase selects the class granularity and trainability policy of a run.
type Phase int

// Supported phases.
const (
	Phase1 Phase = 1 // coarse categories, full backbone trainable
	Phase2 Phase = 2 // fine-grained categories, early backbone frozen
)

// String returns "1" or "2", the form used in checkpoint file names.
func (p Phase) String() string {
	return strconv.Itoa(int(p))
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == Phase1 || p == Phase2
}

// ParsePhase parses "1" or "2".
func ParsePhase(s string) (Phase, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return Phase1, nil
	case "2":
		return Phase2, nil
	}
	return 0, fmt.Errorf("unknown phase %q (want \"1\" or \"2\")", s)
}

// UnmarshalYAML accepts both `phase: 1` and `phase: "1"`.
func (p *Phase) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParsePhase(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*p = parsed
	return nil
}

// MarshalYAML writes the phase as a string.
func (p Phase) MarshalYAML() (any, error) {
	return p.String(), nil
}

// Config captures every knob of a training run.
type Config struct {
	Phase         Phase    `yaml:"phase"`
	SaveEveryFreq bool     `yaml:"save_every_freq"`
	SaveFrequency int      `yaml:"save_frequency"`
	SaveBest      bool     `yaml:"save_best"`
	Classes       []string `yaml:"classes"`
	ModelName     string   `yaml:"model_name"`
	BatchSize     int      `yaml:"batch_size"`
	LR            float64  `yaml:"lr"`
	NumEpochs     int      `yaml:"num_epochs"`
	WeightDecay   float64  `yaml:"weight_decay"`
	ExpBaseDir    string   `yaml:"exp_base_dir"`
	ImageSize     [2]int   `yaml:"image_size"`
	LoadPath      string   `yaml:"load_path"`

	ImageDir      string `yaml:"image_dir"`
	TrainManifest string `yaml:"train_manifest"`
	ValManifest   string `yaml:"val_manifest"`
	ImageColumn   string `yaml:"image_column"`
	Shuffle       bool   `yaml:"shuffle"`
	LogEvery      int    `yaml:"log_every"`
	Device        string `yaml:"device"`
	NumWorkers    int    `yaml:"num_workers"`
	Seed          int64  `yaml:"seed"`
	History       bool   `yaml:"history"`
}

// Default returns the configuration the trainer ships with.
func Default() Config {
	return Config{
		Phase:         Phase2,
		SaveEveryFreq: false,
		SaveFrequency: 2,
		SaveBest:      true,
		Classes:       []string{"subCategory"},
		ModelName:     "convnet",
		BatchSize:     16,
		LR:            0.0001,
		NumEpochs:     30,
		WeightDecay:   0.0001,
		ExpBaseDir:    "data/exps",
		ImageSize:     [2]int{224, 224},

		ImageDir:      "data/images",
		TrainManifest: "data/small_train.csv",
		ValManifest:   "data/small_val.csv",
		ImageColumn:   "image",
		Shuffle:       true,
		LogEvery:      10,
		Device:        DeviceAuto,
		NumWorkers:    4,
		Seed:          1,
		History:       true,
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
// The result is not validated, since environment and flag overrides may
// still complete it; call Validate once every layer is applied.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Overrides captures CLI supplied values. Zero values leave the config untouched.
type Overrides struct {
	Phase      Phase
	NumEpochs  int
	BatchSize  int
	LR         float64
	LoadPath   string
	ExpBaseDir string
	Device     string
}

// Apply returns a copy of c with any non-zero override applied.
func (c Config) Apply(o Overrides) Config {
	if o.Phase.Valid() {
		c.Phase = o.Phase
	}
	if o.NumEpochs > 0 {
		c.NumEpochs = o.NumEpochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LR > 0 {
		c.LR = o.LR
	}
	if o.LoadPath != "" {
		c.LoadPath = o.LoadPath
	}
	if o.ExpBaseDir != "" {
		c.ExpBaseDir = o.ExpBaseDir
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	c.Classes = append([]string(nil), c.Classes...)
	return c
}

// Validate verifies the config is runnable.
func (c Config) Validate() error {
	if !c.Phase.Valid() {
		return fmt.Errorf("phase must be 1 or 2 (got %d)", c.Phase)
	}
	if c.ModelName == "" {
		return errors.New("model_name must be set")
	}
	if len(c.Classes) != 1 {
		return fmt.Errorf("exactly one label column is supported (got %d)", len(c.Classes))
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("num_epochs must be > 0 (got %d)", c.NumEpochs)
	}
	if c.LR <= 0 {
		return fmt.Errorf("lr must be > 0 (got %g)", c.LR)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", c.WeightDecay)
	}
	if c.SaveEveryFreq && c.SaveFrequency <= 0 {
		return fmt.Errorf("save_frequency must be > 0 when save_every_freq is set (got %d)", c.SaveFrequency)
	}
	if c.ImageSize[0] <= 0 || c.ImageSize[1] <= 0 {
		return fmt.Errorf("image_size must be positive (got %v)", c.ImageSize)
	}
	if c.ImageSize[0]%8 != 0 || c.ImageSize[1]%8 != 0 {
		return fmt.Errorf("image_size must be divisible by 8 (got %v)", c.ImageSize)
	}
	if c.ExpBaseDir == "" {
		return errors.New("exp_base_dir must be set")
	}
	if c.TrainManifest == "" || c.ValManifest == "" {
		return errors.New("train_manifest and val_manifest must be set")
	}
	if c.LogEvery <= 0 {
		return fmt.Errorf("log_every must be > 0 (got %d)", c.LogEvery)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	switch c.Device {
	case DeviceAuto, DeviceCPU, DeviceGPU:
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}
	return nil
}

// LabelColumn is the label column the run trains on.
func (c Config) LabelColumn() string {
	return c.Classes[0]
}

// HistoryPath is the SQLite database recording epoch results.
func (c Config) HistoryPath() string {
	return filepath.Join(c.ExpBaseDir, "history.db")
}
