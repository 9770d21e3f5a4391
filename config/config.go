// config.go - Run-Konfiguration fuer Training und Zero-Shot Evaluation
//
// Dieses Modul enthaelt:
// - Config: alle Schluessel der YAML-Datei (--config_file)
// - Default: Standardwerte
// - Load / Parse: Datei lesen, --set Overrides anwenden, strikt dekodieren, validieren
// - Typisierte Zugriffe: LossKind, DistortionParams, Precision, Devices
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ollama/noisyclip/distort"
	"github.com/ollama/noisyclip/envconfig"
	"github.com/ollama/noisyclip/labels"
	"github.com/ollama/noisyclip/loss"
	"github.com/ollama/noisyclip/vision"
	"github.com/ollama/noisyclip/zeroshot"
)

var (
	ErrInvalid             = errors.New("config: invalid configuration")
	ErrUnknownKey          = errors.New("config: unknown key")
	ErrMissingLabelMapping = errors.New("config: mapping_and_text_file is required")
)

// LR-Scheduler Intervalle
const (
	IntervalEpoch = "epoch"
	IntervalStep  = "step"
)

// Config enthaelt alle Schluessel der Run-Konfiguration
type Config struct {
	// Daten
	Dataset    string `yaml:"dataset"`
	DatasetDir string `yaml:"dataset_dir" validate:"required"`
	TrainSplit string `yaml:"train_split" validate:"required"`
	ValSplit   string `yaml:"val_split" validate:"required"`
	BatchSize  int    `yaml:"batch_size" validate:"gte=1"`
	Workers    int    `yaml:"workers" validate:"gte=0"`
	MaxEpochs  int    `yaml:"max_epochs" validate:"gte=1"`

	// Korruption
	Distortion     string  `yaml:"distortion" validate:"distortion"`
	PercentMissing float64 `yaml:"percent_missing" validate:"gte=0,lte=1"`
	Length         int     `yaml:"length" validate:"gte=0"`
	KernelSize     int     `yaml:"kernel_size" validate:"gte=0"`
	Std            float64 `yaml:"std" validate:"gte=0"`
	FixedMask      bool    `yaml:"fixed_mask"`

	// Loss und Optimierung
	LossType      string  `yaml:"loss_type" validate:"loss"`
	LossTau       float64 `yaml:"loss_tau" validate:"gte=0"`
	Reduction     string  `yaml:"reduction" validate:"oneof=mean sum"`
	LR            float64 `yaml:"lr" validate:"gt=0"`
	LRInterval    string  `yaml:"lr_interval" validate:"oneof=epoch step"`
	SchedulerTMax int     `yaml:"scheduler_t_max" validate:"gte=0"`

	// Zero-Shot
	LogitScale     float64 `yaml:"logit_scale" validate:"gt=0"`
	Precision      string  `yaml:"precision" validate:"precision"`
	PromptTemplate string  `yaml:"prompt_template"`

	// Backbone und Geraete
	BaseclipType string `yaml:"baseclip_type" validate:"required"`
	ModelPath    string `yaml:"model_path"`
	ImageSize    int    `yaml:"image_size" validate:"gte=0"`
	EmbeddingDim int    `yaml:"embedding_dim" validate:"gte=0"`
	Device       string `yaml:"device" validate:"oneof=cpu cuda"`
	GPUs         int    `yaml:"gpus" validate:"gte=0"`
	NumNodes     int    `yaml:"num_nodes" validate:"gte=1"`
	Seed         uint64 `yaml:"seed"`

	// Artefakte
	LogDir             string `yaml:"logdir"`
	ExperimentName     string `yaml:"experiment_name" validate:"required"`
	CheckpointDir      string `yaml:"checkpoint_dir" validate:"required"`
	MappingAndTextFile string `yaml:"mapping_and_text_file"`
	SaveMappingAndText bool   `yaml:"save_mapping_and_text"`
	PrototypesFile     string `yaml:"prototypes_file"`
}

// Default gibt die Standardwerte zurueck (ViT-B/32 Einstellungen)
func Default() Config {
	return Config{
		TrainSplit:     "train",
		ValSplit:       "val",
		BatchSize:      32,
		Workers:        4,
		MaxEpochs:      1,
		Distortion:     "None",
		LossType:       "simclr",
		LossTau:        0.1,
		Reduction:      "mean",
		LR:             1e-5,
		LRInterval:     IntervalEpoch,
		LogitScale:     100,
		Precision:      "f32",
		PromptTemplate: labels.DefaultTemplate,
		BaseclipType:   "patchproj",
		ImageSize:      vision.DefaultImageSize,
		EmbeddingDim:   vision.DefaultEmbeddingDim,
		Device:         vision.DeviceCPU,
		GPUs:           1,
		NumNodes:       1,
		LogDir:         "logs",
		ExperimentName: "noisyclip",
		CheckpointDir:  "checkpoints",
	}
}

// Load liest die Datei, wendet Overrides ("key=value") an und validiert
func Load(path string, overrides []string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg, err := Parse(data, overrides)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse dekodiert YAML-Daten strikt ueber die Standardwerte
func Parse(data []byte, overrides []string) (*Config, error) {
	doc, err := applyOverrides(data, overrides)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := decodeStrict(doc, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LossKind gibt den geparsten Loss-Typ zurueck
func (c *Config) LossKind() loss.Kind {
	k, _ := loss.ParseKind(c.LossType)
	return k
}

// LossReduction gibt die geparste Reduktion zurueck
func (c *Config) LossReduction() loss.Reduction {
	r, _ := loss.ParseReduction(c.Reduction)
	return r
}

// DistortionKind gibt den geparsten Korruptions-Typ zurueck
func (c *Config) DistortionKind() distort.Kind {
	k, _ := distort.ParseKind(c.Distortion)
	return k
}

// DistortionParams baut die Parameter fuer distort.New
func (c *Config) DistortionParams() distort.Params {
	return distort.Params{
		Kind:         c.DistortionKind(),
		MaskFraction: c.PercentMissing,
		SquareSize:   c.Length,
		KernelSize:   c.KernelSize,
		Std:          c.Std,
	}
}

// LogitPrecision gibt die Genauigkeit der Zero-Shot Logits zurueck
func (c *Config) LogitPrecision() zeroshot.Precision {
	p, _ := zeroshot.ParsePrecision(c.Precision)
	return p
}

// Devices gibt die Anzahl Replikate zurueck: gpus * num_nodes, NOISYCLIP_DEVICES ueberschreibt
func (c *Config) Devices() int {
	if n := envconfig.Devices(); n > 0 {
		return int(n)
	}
	return max(c.GPUs, 1) * max(c.NumNodes, 1)
}

// ValBatchSize ist die Batch-Groesse der Validierung
func (c *Config) ValBatchSize() int {
	return 2 * c.BatchSize
}

// TMax gibt die Periode des Cosine-Schedulers zurueck.
// Ohne scheduler_t_max: Trainingsgroesse / (batch_size * Geraete), mindestens 1.
func (c *Config) TMax(trainLen int) int {
	if c.SchedulerTMax > 0 {
		return c.SchedulerTMax
	}
	return max(trainLen/(c.BatchSize*c.Devices()), 1)
}

// Validate prueft Struct-Tags und die Kombinationen, die davon abhaengen
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(err)
	}

	if _, err := distort.New(c.DistortionParams()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := loss.New(c.LossKind(), c.LossTau, c.LossReduction()); err != nil {
		return fmt.Errorf("%w: loss_tau: %v", ErrInvalid, err)
	}
	if math.IsInf(c.LogitScale, 0) {
		return fmt.Errorf("%w: logit_scale must be finite", ErrInvalid)
	}
	if c.MappingAndTextFile == "" {
		return ErrMissingLabelMapping
	}
	return nil
}
