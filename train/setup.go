package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"slices"

	"github.com/ollama/noisyclip/checkpoint"
	"github.com/ollama/noisyclip/config"
	"github.com/ollama/noisyclip/dataset"
	"github.com/ollama/noisyclip/distort"
	"github.com/ollama/noisyclip/encoder"
	"github.com/ollama/noisyclip/envconfig"
	"github.com/ollama/noisyclip/labels"
	"github.com/ollama/noisyclip/loss"
	"github.com/ollama/noisyclip/vision"
	"github.com/ollama/noisyclip/zeroshot"
)

var ErrClassCount = errors.New("train: class count mismatch")

// Stage waehlt, welche Splits Setup laedt
type Stage int

const (
	StageFit  Stage = iota // train + val
	StageTest              // nur val
)

// fixedMaskStream trennt den Zufallsstrom der festen Maske von den Item-Stroemen
const fixedMaskStream = 0x6d61736b

// Run haelt alle Komponenten eines Laufs
type Run struct {
	Config     *config.Config
	Backbone   *vision.Backbone
	Teacher    *encoder.Teacher
	Student    *encoder.Student
	ClassNames []string
	Prototypes *encoder.Prototypes
	Classifier *zeroshot.Classifier
	Criterion  *loss.Criterion

	Train *dataset.Loader // nil bei StageTest
	Val   *dataset.Loader
}

// Close gibt den Backbone frei
func (r *Run) Close() error {
	return r.Backbone.Close()
}

// Setup baut Backbone, Datensaetze, Label-Mapping, Prototypen und Loss aus der Konfiguration
func Setup(ctx context.Context, cfg *config.Config, stage Stage) (_ *Run, err error) {
	backbone, err := vision.NewBackbone(cfg.BaseclipType,
		vision.WithDevice(cfg.Device),
		vision.WithThreads(envconfig.Threads()),
		vision.WithBatchSize(cfg.ValBatchSize()),
		vision.WithModelPath(cfg.ModelPath),
		vision.WithImageSize(cfg.ImageSize),
		vision.WithEmbeddingDim(cfg.EmbeddingDim),
		vision.WithSeed(cfg.Seed),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			backbone.Close()
		}
	}()

	run := &Run{
		Config:   cfg,
		Backbone: backbone,
		Teacher:  encoder.NewTeacher(backbone.Image),
		Student:  encoder.NewStudent(backbone.Image),
	}

	pre := backbone.Preprocess
	val, err := dataset.NewImageFolder(cfg.DatasetDir, cfg.ValSplit, pre)
	if err != nil {
		return nil, err
	}
	var trainSet *dataset.ImageFolder
	if stage == StageFit {
		if trainSet, err = dataset.NewImageFolder(cfg.DatasetDir, cfg.TrainSplit, pre); err != nil {
			return nil, err
		}
	}

	if run.ClassNames, err = classNames(cfg, val, trainSet); err != nil {
		return nil, err
	}

	if run.Prototypes, err = prototypes(ctx, cfg, backbone, run.ClassNames); err != nil {
		return nil, err
	}
	if run.Classifier, err = zeroshot.New(run.Prototypes.View(), cfg.LogitScale, cfg.LogitPrecision()); err != nil {
		return nil, err
	}
	if run.Criterion, err = loss.New(cfg.LossKind(), cfg.LossTau, cfg.LossReduction()); err != nil {
		return nil, err
	}

	transform, err := distort.New(cfg.DistortionParams())
	if err != nil {
		return nil, err
	}
	valTransform := transform
	if cfg.FixedMask {
		rng := rand.New(rand.NewPCG(cfg.Seed, fixedMaskStream))
		if valTransform, err = distort.Fixed(transform, rng, pre.Size, pre.Size); err != nil {
			return nil, err
		}
	}

	run.Val = &dataset.Loader{
		Data:      &dataset.Contrastive{Base: val, Transform: valTransform, Normalize: pre, ReturnLabel: true, Seed: cfg.Seed},
		BatchSize: cfg.ValBatchSize(),
		Workers:   cfg.Workers,
		Seed:      cfg.Seed,
	}
	if trainSet != nil {
		run.Train = &dataset.Loader{
			Data:      &dataset.Contrastive{Base: trainSet, Transform: transform, Normalize: pre, ReturnLabel: true, Seed: cfg.Seed},
			BatchSize: cfg.BatchSize,
			Shuffle:   true,
			Workers:   cfg.Workers,
			Seed:      cfg.Seed,
		}
	}

	slog.Info("setup complete",
		"backbone", backbone.Name,
		"dim", backbone.EmbeddingDim(),
		"classes", len(run.ClassNames),
		"val", val.Len(),
		"distortion", cfg.DistortionKind(),
		"fixed_mask", cfg.FixedMask)
	return run, nil
}

// classNames schreibt das Mapping bei save_mapping_and_text und liest es danach immer aus der Datei
func classNames(cfg *config.Config, val, trainSet *dataset.ImageFolder) ([]string, error) {
	if cfg.SaveMappingAndText {
		source := val
		if trainSet != nil {
			source = trainSet
		}
		if err := labels.Save(cfg.MappingAndTextFile, source.Classes()); err != nil {
			return nil, err
		}
		slog.Info("saved label mapping", "path", cfg.MappingAndTextFile, "classes", len(source.Classes()))
	}

	names, err := labels.Load(cfg.MappingAndTextFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", config.ErrMissingLabelMapping, err)
	} else if err != nil {
		return nil, err
	}

	if n := len(val.Classes()); len(names) != n {
		return nil, fmt.Errorf("%w: mapping has %d names, %s has %d class directories", ErrClassCount, len(names), cfg.ValSplit, n)
	}
	return names, nil
}

// prototypes laedt prototypes_file oder kodiert die Prompts mit dem Text-Encoder
func prototypes(ctx context.Context, cfg *config.Config, backbone *vision.Backbone, names []string) (*encoder.Prototypes, error) {
	var (
		p   *encoder.Prototypes
		err error
	)
	if cfg.PrototypesFile != "" {
		p, err = encoder.LoadPrototypes(cfg.PrototypesFile)
	} else {
		p, err = encoder.BuildPrototypes(ctx, backbone.Text, names, cfg.PromptTemplate)
	}
	if err != nil {
		return nil, err
	}

	if p.Len() != len(names) {
		return nil, fmt.Errorf("%w: %d prototypes for %d classes", ErrClassCount, p.Len(), len(names))
	}
	if p.Dim() != backbone.EmbeddingDim() {
		return nil, fmt.Errorf("%w: prototype dim %d, backbone dim %d", encoder.ErrParamShape, p.Dim(), backbone.EmbeddingDim())
	}
	return p, nil
}

// TrainerOptions fuellt die Trainer-Optionen aus Run und Konfiguration
func (r *Run) TrainerOptions(progress io.Writer) Options {
	cfg := r.Config
	tmax := 0
	if r.Train != nil {
		tmax = cfg.TMax(r.Train.Data.Len())
	}
	return Options{
		Teacher:         r.Teacher,
		Student:         r.Student,
		Criterion:       r.Criterion,
		Classifier:      r.Classifier,
		Train:           r.Train,
		Val:             r.Val,
		Devices:         cfg.Devices(),
		Epochs:          cfg.MaxEpochs,
		LR:              cfg.LR,
		Interval:        cfg.LRInterval,
		TMax:            tmax,
		CheckpointDir:   filepath.Join(cfg.CheckpointDir, cfg.ExperimentName),
		Hyperparameters: cfg.Hyperparameters(),
		ClassNames:      r.ClassNames,
		Progress:        progress,
	}
}

// Evaluator erstellt einen Zero-Shot Evaluator fuer den Student
func (r *Run) Evaluator(progress io.Writer) *Evaluator {
	return &Evaluator{
		Encoder:    r.Student,
		Classifier: r.Classifier,
		Devices:    r.Config.Devices(),
		Progress:   progress,
	}
}

// LoadStudent setzt den Student-Kopf aus einem Checkpoint
func (r *Run) LoadStudent(path string) (*checkpoint.State, error) {
	s, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}
	if err := r.Student.SetParams(s.Params()); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(s.ClassNames) > 0 && !slices.Equal(s.ClassNames, r.ClassNames) {
		slog.Warn("checkpoint class names differ from label mapping", "path", path, "checkpoint", len(s.ClassNames), "mapping", len(r.ClassNames))
	}
	slog.Info("loaded checkpoint", "path", path, "run_id", s.RunID, "epoch", s.Epoch, "step", s.Step)
	return s, nil
}
