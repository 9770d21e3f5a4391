package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/noisyclip/checkpoint"
	"github.com/ollama/noisyclip/config"
	"github.com/ollama/noisyclip/dataset"
	"github.com/ollama/noisyclip/encoder"
	"github.com/ollama/noisyclip/logutil"
	"github.com/ollama/noisyclip/loss"
	"github.com/ollama/noisyclip/zeroshot"
)

var (
	ErrOptions   = errors.New("train: invalid options")
	ErrNoBatches = errors.New("train: training loader produced no batches")
)

// Checkpoint-Dateinamen
const (
	LastCheckpoint = "last.gguf"
	epochPattern   = "epoch-%03d.gguf"
)

// Options konfiguriert einen Trainer. Classifier und Val sind optional.
type Options struct {
	Teacher    encoder.Encoder
	Student    *encoder.Student
	Criterion  *loss.Criterion
	Classifier *zeroshot.Classifier
	Train      *dataset.Loader
	Val        *dataset.Loader

	Reducer  Reducer
	Devices  int
	Epochs   int
	LR       float64
	Interval string // config.IntervalEpoch oder config.IntervalStep
	TMax     int

	// CheckpointDir leer: keine Checkpoints
	CheckpointDir   string
	RunID           string
	Hyperparameters *orderedmap.OrderedMap[string, any]
	ClassNames      []string

	Logger   *slog.Logger
	Progress io.Writer
}

// EpochResult fasst eine abgeschlossene Epoche zusammen
type EpochResult struct {
	Epoch      int // 1-basiert
	TrainLoss  float64
	Steps      int
	LR         float64
	Val        *Report
	Checkpoint string
}

// Trainer fuehrt das Student-Teacher Training aus
type Trainer struct {
	opts  Options
	adam  *Adam
	sched *CosineAnnealing

	epoch int // abgeschlossene Epochen
	step  int // abgeschlossene Optimierer-Schritte
}

// New prueft die Optionen und setzt Defaults
func New(opts Options) (*Trainer, error) {
	switch {
	case opts.Teacher == nil, opts.Student == nil:
		return nil, fmt.Errorf("%w: teacher and student are required", ErrOptions)
	case opts.Criterion == nil:
		return nil, fmt.Errorf("%w: criterion is required", ErrOptions)
	case opts.Train == nil:
		return nil, fmt.Errorf("%w: training loader is required", ErrOptions)
	case opts.Epochs < 1:
		return nil, fmt.Errorf("%w: epochs must be >= 1, got %d", ErrOptions, opts.Epochs)
	case opts.Teacher.Dim() != opts.Student.Dim():
		return nil, fmt.Errorf("%w: teacher dim %d, student dim %d", encoder.ErrParamShape, opts.Teacher.Dim(), opts.Student.Dim())
	}

	switch opts.Interval {
	case "":
		opts.Interval = config.IntervalEpoch
	case config.IntervalEpoch, config.IntervalStep:
	default:
		return nil, fmt.Errorf("%w: unknown scheduler interval %q", ErrOptions, opts.Interval)
	}

	if opts.Reducer == nil {
		opts.Reducer = Gather{}
	}
	opts.Devices = max(opts.Devices, 1)
	if opts.TMax == 0 {
		opts.TMax = max(opts.Train.NumBatches(), 1)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	adam, err := NewAdam(opts.LR)
	if err != nil {
		return nil, err
	}
	sched, err := NewCosineAnnealing(opts.LR, opts.TMax)
	if err != nil {
		return nil, err
	}

	return &Trainer{opts: opts, adam: adam, sched: sched}, nil
}

// RunID gibt die Kennung dieses Laufs zurueck
func (t *Trainer) RunID() string { return t.opts.RunID }

// Epoch gibt die Anzahl abgeschlossener Epochen zurueck
func (t *Trainer) Epoch() int { return t.epoch }

// GlobalStep gibt die Anzahl Optimierer-Schritte zurueck
func (t *Trainer) GlobalStep() int { return t.step }

// LR gibt die aktuelle Lernrate zurueck
func (t *Trainer) LR() float64 { return t.adam.LR() }

// schedulerStep ist die Position des Schedulers fuer das gewaehlte Intervall
func (t *Trainer) schedulerStep() int {
	if t.opts.Interval == config.IntervalStep {
		return t.step
	}
	return t.epoch
}

// ============================================================================
// Training
// ============================================================================

// Fit trainiert bis Epochs erreicht ist. Ein wiederhergestellter Trainer setzt nach
// der letzten abgeschlossenen Epoche fort.
func (t *Trainer) Fit(ctx context.Context) ([]EpochResult, error) {
	log := t.opts.Logger
	log.Info("starting training",
		"run_id", t.opts.RunID,
		"epochs", t.opts.Epochs,
		"from_epoch", t.epoch,
		"devices", t.opts.Devices,
		"batches", t.opts.Train.NumBatches(),
		"loss", t.opts.Criterion.Kind(),
		"lr", t.adam.LR(),
		"interval", t.opts.Interval,
		"t_max", t.opts.TMax)

	var results []EpochResult
	for t.epoch < t.opts.Epochs {
		res, err := t.runEpoch(ctx)
		if err != nil {
			return results, fmt.Errorf("epoch %d: %w", t.epoch+1, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Trainer) runEpoch(ctx context.Context) (EpochResult, error) {
	log := t.opts.Logger
	epoch := t.epoch
	start := time.Now()

	var progress *Progress
	if t.opts.Progress != nil {
		progress = NewProgress(t.opts.Progress, fmt.Sprintf("epoch %d/%d", epoch+1, t.opts.Epochs), t.opts.Train.NumBatches())
	}

	var sum float64
	var steps int
	for b, err := range t.opts.Train.Batches(ctx, epoch) {
		if err != nil {
			progress.Done()
			return EpochResult{}, err
		}

		l, err := t.Step(ctx, b)
		if err != nil {
			progress.Done()
			return EpochResult{}, fmt.Errorf("step %d: %w", t.step+1, err)
		}
		sum += l
		steps++
		progress.Update(steps, "loss", fmt.Sprintf("%.4f", l), "lr", fmt.Sprintf("%.3g", t.adam.LR()))
	}
	progress.Done()

	if steps == 0 {
		return EpochResult{}, ErrNoBatches
	}

	t.epoch++
	if t.opts.Interval == config.IntervalEpoch {
		t.adam.SetLR(t.sched.At(t.schedulerStep()))
	}

	res := EpochResult{Epoch: t.epoch, TrainLoss: sum / float64(steps), Steps: steps, LR: t.adam.LR()}

	if t.opts.Classifier != nil && t.opts.Val != nil {
		report, err := t.Validate(ctx, epoch)
		if err != nil {
			return EpochResult{}, fmt.Errorf("validation: %w", err)
		}
		res.Val = &report
	}

	if t.opts.CheckpointDir != "" {
		path, err := t.SaveCheckpoint()
		if err != nil {
			return EpochResult{}, err
		}
		res.Checkpoint = path
	}

	attrs := []any{"epoch", res.Epoch, "train_loss", res.TrainLoss, "steps", steps, "lr", res.LR, "elapsed", time.Since(start).Round(time.Millisecond)}
	if res.Val != nil {
		attrs = append(attrs, "val_top_1", res.Val.Top1, "val_top_5", res.Val.Top5)
	}
	log.Info("epoch finished", attrs...)
	return res, nil
}

// Step fuehrt einen Optimierer-Schritt auf einem Batch aus und gibt den Loss zurueck
func (t *Trainer) Step(ctx context.Context, b dataset.Batch) (float64, error) {
	shards := b.Shard(t.opts.Devices)
	if t.opts.Logger.Enabled(ctx, logutil.LevelTrace) {
		sizes := make([]int, len(shards))
		for i, s := range shards {
			sizes[i] = s.Len()
		}
		t.opts.Logger.Log(ctx, logutil.LevelTrace, "replica shards", "step", t.step+1, "sizes", sizes)
	}

	outs, err := replicate(ctx, shards, func(ctx context.Context, s dataset.Batch) (StepOutput, error) {
		teacher, err := t.opts.Teacher.Encode(ctx, s.Clean)
		if err != nil {
			return StepOutput{}, err
		}
		student, features, err := t.opts.Student.Forward(ctx, s.Noisy)
		if err != nil {
			return StepOutput{}, err
		}
		return StepOutput{Teacher: teacher, Student: student, Features: features, Labels: s.Labels}, nil
	})
	if err != nil {
		return 0, err
	}

	global, err := t.opts.Reducer.Reduce(ctx, outs)
	if err != nil {
		return 0, err
	}

	l, gradOut, err := t.opts.Criterion.ForwardBackward(global.Teacher, global.Student)
	if err != nil {
		return 0, err
	}

	grads, err := t.opts.Student.Backward(global.Features, gradOut)
	if err != nil {
		return 0, err
	}

	t.opts.Student.Lock()
	err = t.adam.Step(t.opts.Student.Parameters(), grads.Flat())
	t.opts.Student.Unlock()
	if err != nil {
		return 0, err
	}

	t.step++
	if t.opts.Interval == config.IntervalStep {
		t.adam.SetLR(t.sched.At(t.schedulerStep()))
	}

	if t.opts.Logger.Enabled(ctx, slog.LevelDebug) {
		attrs := []any{"step", t.step, "loss", l, "lr", t.adam.LR(), "batch", global.Len()}
		if align, err := Alignment(global.Teacher, global.Student); err == nil {
			attrs = append(attrs, "alignment", align)
		}
		t.opts.Logger.Log(ctx, slog.LevelDebug, "train step", attrs...)
	}
	return l, nil
}

// Validate misst die Zero-Shot Genauigkeit des Students auf dem Validierungs-Loader
func (t *Trainer) Validate(ctx context.Context, epoch int) (Report, error) {
	if t.opts.Classifier == nil || t.opts.Val == nil {
		return Report{}, fmt.Errorf("%w: validation needs a classifier and a loader", ErrOptions)
	}
	e := &Evaluator{
		Encoder:    t.opts.Student,
		Classifier: t.opts.Classifier,
		Devices:    t.opts.Devices,
		Reducer:    t.opts.Reducer,
		Progress:   t.opts.Progress,
	}
	return e.Evaluate(ctx, t.opts.Val, epoch)
}

// ============================================================================
// Checkpoints
// ============================================================================

// State erfasst Student-Kopf, Adam-Momente und Zaehler
func (t *Trainer) State() *checkpoint.State {
	s := &checkpoint.State{
		RunID:           t.opts.RunID,
		Epoch:           t.epoch,
		Step:            t.step,
		AdamStep:        t.adam.Steps(),
		LR:              t.adam.LR(),
		Hyperparameters: t.opts.Hyperparameters,
		ClassNames:      t.opts.ClassNames,
	}

	t.opts.Student.Lock()
	defer t.opts.Student.Unlock()

	m, v := t.adam.Moments()
	for i, p := range t.opts.Student.Parameters() {
		s.Tensors = append(s.Tensors, checkpoint.Tensor{Name: p.Name, Shape: p.Shape, Data: slices.Clone(p.Value)})
		if m != nil {
			s.Tensors = append(s.Tensors,
				checkpoint.Tensor{Name: checkpoint.AdamMPrefix + p.Name, Shape: p.Shape, Data: slices.Clone(m[i])},
				checkpoint.Tensor{Name: checkpoint.AdamVPrefix + p.Name, Shape: p.Shape, Data: slices.Clone(v[i])})
		}
	}
	return s
}

// SaveCheckpoint schreibt epoch-NNN.gguf und last.gguf und gibt den Epochen-Pfad zurueck
func (t *Trainer) SaveCheckpoint() (string, error) {
	s := t.State()
	path := filepath.Join(t.opts.CheckpointDir, fmt.Sprintf(epochPattern, t.epoch))
	for _, p := range []string{path, filepath.Join(t.opts.CheckpointDir, LastCheckpoint)} {
		if err := checkpoint.Save(p, s); err != nil {
			return "", err
		}
	}
	t.opts.Logger.Info("saved checkpoint", "run_id", t.opts.RunID, "path", path, "epoch", t.epoch, "step", t.step)
	return path, nil
}

// Restore laedt Parameter, Momente und Zaehler aus einem Checkpoint
func (t *Trainer) Restore(s *checkpoint.State) error {
	if err := t.opts.Student.SetParams(s.Params()); err != nil {
		return err
	}

	var m, v [][]float64
	for _, p := range t.opts.Student.Parameters() {
		tm, okM := s.Tensor(checkpoint.AdamMPrefix + p.Name)
		tv, okV := s.Tensor(checkpoint.AdamVPrefix + p.Name)
		if !okM || !okV {
			m, v = nil, nil
			break
		}
		if len(tm.Data) != len(p.Value) || len(tv.Data) != len(p.Value) {
			return fmt.Errorf("%w: optimizer state for %s", ErrGradShape, p.Name)
		}
		m, v = append(m, slices.Clone(tm.Data)), append(v, slices.Clone(tv.Data))
	}
	if m != nil {
		if err := t.adam.Restore(s.AdamStep, m, v); err != nil {
			return err
		}
	}

	t.epoch, t.step = s.Epoch, s.Step
	if s.RunID != "" {
		t.opts.RunID = s.RunID
	}
	t.adam.SetLR(t.sched.At(t.schedulerStep()))

	t.opts.Logger.Info("restored checkpoint", "epoch", t.epoch, "step", t.step, "lr", t.adam.LR())
	return nil
}
