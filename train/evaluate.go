package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/noisyclip/dataset"
	"github.com/ollama/noisyclip/encoder"
	"github.com/ollama/noisyclip/metrics"
	"github.com/ollama/noisyclip/zeroshot"
)

var ErrNoLabels = errors.New("train: evaluation batch has no labels")

// Report ist das Ergebnis einer Zero-Shot Evaluation
type Report struct {
	Top1     float64
	Top5     float64
	Correct1 int
	Correct5 int
	Total    int
	Batches  int
	Elapsed  time.Duration

	// Top-1 Treffer und Samples pro Klassen-Index
	ClassCorrect []int
	ClassTotal   []int
}

// ClassAccuracy gibt die Top-1 Genauigkeit der Klasse c zurueck, 0 ohne Samples
func (r Report) ClassAccuracy(c int) float64 {
	if c < 0 || c >= len(r.ClassTotal) || r.ClassTotal[c] == 0 {
		return 0
	}
	return float64(r.ClassCorrect[c]) / float64(r.ClassTotal[c])
}

// LogValue fuer slog
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("top_1", r.Top1),
		slog.Float64("top_5", r.Top5),
		slog.Int("total", r.Total),
		slog.Duration("elapsed", r.Elapsed),
	)
}

// Evaluator klassifiziert die verrauschten Bilder eines Loaders gegen die Klassen-Prototypen
type Evaluator struct {
	Encoder    encoder.Encoder
	Classifier *zeroshot.Classifier
	Devices    int
	Reducer    Reducer

	// Progress ist optional, nil schreibt nichts
	Progress io.Writer
}

// Evaluate laeuft einmal ueber den Loader und liefert Top-1/Top-5 Genauigkeit
func (e *Evaluator) Evaluate(ctx context.Context, loader *dataset.Loader, epoch int) (Report, error) {
	top1, err := metrics.NewTopK(1)
	if err != nil {
		return Report{}, err
	}
	top5, err := metrics.NewTopK(5)
	if err != nil {
		return Report{}, err
	}

	reducer := e.Reducer
	if reducer == nil {
		reducer = Gather{}
	}

	var progress *Progress
	if e.Progress != nil {
		progress = NewProgress(e.Progress, "eval", loader.NumBatches())
		defer progress.Done()
	}

	start := time.Now()
	classes := e.Classifier.NumClasses()
	report := Report{ClassCorrect: make([]int, classes), ClassTotal: make([]int, classes)}
	for b, err := range loader.Batches(ctx, epoch) {
		if err != nil {
			return Report{}, err
		}
		if len(b.Labels) != b.Len() {
			return Report{}, fmt.Errorf("%w: %d items, %d labels", ErrNoLabels, b.Len(), len(b.Labels))
		}

		outs, err := replicate(ctx, b.Shard(max(e.Devices, 1)), func(ctx context.Context, s dataset.Batch) (StepOutput, error) {
			emb, err := e.Encoder.Encode(ctx, s.Noisy)
			if err != nil {
				return StepOutput{}, err
			}
			return StepOutput{Student: emb, Labels: s.Labels}, nil
		})
		if err != nil {
			return Report{}, err
		}

		global, err := reducer.Reduce(ctx, outs)
		if err != nil {
			return Report{}, err
		}

		probs, err := e.Classifier.Probabilities(global.Student)
		if err != nil {
			return Report{}, err
		}
		if err := top1.Update(probs, global.Labels); err != nil {
			return Report{}, err
		}
		if err := top5.Update(probs, global.Labels); err != nil {
			return Report{}, err
		}

		preds, err := e.Classifier.Predict(global.Student)
		if err != nil {
			return Report{}, err
		}
		for i, label := range global.Labels {
			report.ClassTotal[label]++
			if preds[i] == label {
				report.ClassCorrect[label]++
			}
		}

		report.Batches++
		progress.Update(report.Batches, "top_1", fmt.Sprintf("%.4f", top1.Compute()))
	}

	report.Top1, report.Correct1 = top1.Compute(), top1.Correct()
	report.Top5, report.Correct5 = top5.Compute(), top5.Correct()
	report.Total = top1.Total()
	report.Elapsed = time.Since(start)
	return report, nil
}

// replicate fuehrt fn fuer jeden Shard in einer eigenen Goroutine aus.
// Die Ausgaben stehen in Shard-Reihenfolge.
func replicate(ctx context.Context, shards []dataset.Batch, fn func(context.Context, dataset.Batch) (StepOutput, error)) ([]StepOutput, error) {
	outs := make([]StepOutput, len(shards))

	g, ctx := errgroup.WithContext(ctx)
	for r, s := range shards {
		g.Go(func() error {
			o, err := fn(ctx, s)
			if err != nil {
				return fmt.Errorf("replica %d: %w", r, err)
			}
			outs[r] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}
