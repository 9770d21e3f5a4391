// MODUL: train
// ZWECK: Student-Teacher Training, Validierung und Zero-Shot Evaluation ueber Replikate
// INPUT: Loader (train/val), Teacher, Student, Criterion, Classifier
// OUTPUT: Epochen-Ergebnisse, Reports, Checkpoints (GGUF)
// NEBENEFFEKTE: Schreibt Checkpoints nach <checkpoint_dir>/<experiment>, loggt via slog
// ABHAENGIGKEITEN: dataset, encoder, loss, zeroshot, metrics, checkpoint, errgroup, gonum
// HINWEISE: Jeder Batch wird auf Devices Replikate verteilt. Die Replikat-Ausgaben
// werden ueber einen Reducer zusammengefuehrt, bevor Loss und Metriken berechnet werden.

package train

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/noisyclip/embedding"
)

var ErrNoReplicas = errors.New("train: no replica outputs to reduce")

// StepOutput ist die Ausgabe eines Replikats fuer seinen Shard.
// Teacher und Features sind in der Evaluation nil.
type StepOutput struct {
	Teacher  *mat.Dense // T(clean), N x D
	Student  *mat.Dense // S(noisy), N x D
	Features *mat.Dense // Backbone-Features des Students fuer Backward
	Labels   []int
}

// Len gibt die Anzahl Zeilen zurueck
func (o StepOutput) Len() int {
	if o.Student == nil {
		return 0
	}
	n, _ := o.Student.Dims()
	return n
}

// Reducer fuehrt die lokalen Ausgaben aller Replikate zu einer globalen zusammen
type Reducer interface {
	Reduce(ctx context.Context, parts []StepOutput) (StepOutput, error)
}

// Gather haengt die Ausgaben in Replikat-Reihenfolge aneinander
type Gather struct{}

func (Gather) Reduce(ctx context.Context, parts []StepOutput) (StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return StepOutput{}, err
	}
	switch len(parts) {
	case 0:
		return StepOutput{}, ErrNoReplicas
	case 1:
		return parts[0], nil
	}

	var (
		out StepOutput
		err error
	)
	if out.Student, err = concat(parts, func(o StepOutput) *mat.Dense { return o.Student }); err != nil {
		return StepOutput{}, err
	}
	if out.Teacher, err = concat(parts, func(o StepOutput) *mat.Dense { return o.Teacher }); err != nil {
		return StepOutput{}, err
	}
	if out.Features, err = concat(parts, func(o StepOutput) *mat.Dense { return o.Features }); err != nil {
		return StepOutput{}, err
	}
	for _, p := range parts {
		out.Labels = append(out.Labels, p.Labels...)
	}
	return out, nil
}

// concat liefert nil, wenn kein Replikat das Feld gesetzt hat
func concat(parts []StepOutput, field func(StepOutput) *mat.Dense) (*mat.Dense, error) {
	ms := make([]*mat.Dense, 0, len(parts))
	for _, p := range parts {
		if m := field(p); m != nil {
			ms = append(ms, m)
		}
	}
	if len(ms) == 0 {
		return nil, nil
	}
	if len(ms) != len(parts) {
		return nil, embedding.ErrShapeMismatch
	}
	return embedding.Concat(ms...)
}

// Alignment ist die mittlere Cosine-Aehnlichkeit von T(clean_i) und S(noisy_i), 1 bei perfekter Deckung
func Alignment(teacher, student mat.Matrix) (float64, error) {
	sim, err := embedding.CosineMatrix(teacher, student)
	if err != nil {
		return 0, err
	}
	n, m := sim.Dims()
	if n != m {
		return 0, fmt.Errorf("%w: %d teacher rows, %d student rows", embedding.ErrShapeMismatch, n, m)
	}
	return mat.Trace(sim) / float64(n), nil
}
