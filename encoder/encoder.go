// MODUL: encoder
// ZWECK: Eingefrorener Teacher und trainierbarer Student ueber einem gemeinsamen Backbone
// INPUT: vorverarbeitete Bild-Tensoren
// OUTPUT: Embedding-Batches (N x D, gonum)
// NEBENEFFEKTE: Student-Parameter werden nur ueber SetParams/Parameters veraendert
// ABHAENGIGKEITEN: vision (ImageEncoder), embedding, gonum/mat
// HINWEISE: Student = Backbone + affiner Kopf y = xW + b, W = I und b = 0 beim Start,
//           d.h. der Student liefert anfangs exakt die Teacher-Embeddings.

package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/noisyclip/embedding"
	"github.com/ollama/noisyclip/vision"
)

// Parameter-Namen, identisch mit den Tensor-Namen im Checkpoint
const (
	WeightName = "student.head.weight"
	BiasName   = "student.head.bias"
)

var ErrParamShape = errors.New("encoder: parameter shape mismatch")

// Encoder bildet einen Batch von Bildern auf Embeddings ab
type Encoder interface {
	Encode(ctx context.Context, batch []vision.Tensor) (*mat.Dense, error)
	Dim() int
}

// Trainable ist ein Encoder mit Gradienten bezueglich seiner Parameter
type Trainable interface {
	Encoder
	Forward(ctx context.Context, batch []vision.Tensor) (out, features *mat.Dense, err error)
	Backward(features, gradOut *mat.Dense) (Gradients, error)
	Parameters() []Parameter
}

// ============================================================================
// Teacher
// ============================================================================

// Teacher ist der eingefrorene Encoder, nur Inferenz.
type Teacher struct {
	image vision.ImageEncoder
}

// NewTeacher umhuellt einen Bild-Encoder
func NewTeacher(image vision.ImageEncoder) *Teacher {
	return &Teacher{image: image}
}

func (t *Teacher) Encode(ctx context.Context, batch []vision.Tensor) (*mat.Dense, error) {
	rows, err := t.image.EncodeTensors(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("teacher: %w", err)
	}
	return embedding.FromRows(rows)
}

func (t *Teacher) Dim() int {
	return t.image.ModelInfo().EmbeddingDim
}

// ============================================================================
// Student
// ============================================================================

// Parameter ist ein benannter, flacher Parameter-Puffer
type Parameter struct {
	Name  string
	Shape []int
	Value []float64
}

// Gradients enthaelt dL/dW (D x D) und dL/db (D)
type Gradients struct {
	W *mat.Dense
	B []float64
}

// Flat gibt die Gradienten in Parameters()-Reihenfolge zurueck
func (g Gradients) Flat() [][]float64 {
	return [][]float64{g.W.RawMatrix().Data, g.B}
}

// Add summiert o auf g
func (g Gradients) Add(o Gradients) {
	g.W.Add(g.W, o.W)
	for i := range g.B {
		g.B[i] += o.B[i]
	}
}

// Student ist der trainierbare Encoder
type Student struct {
	image vision.ImageEncoder
	dim   int

	mu sync.RWMutex
	w  *mat.Dense
	b  []float64
}

// NewStudent erstellt den Student mit Identitaets-Kopf
func NewStudent(image vision.ImageEncoder) *Student {
	dim := image.ModelInfo().EmbeddingDim
	w := mat.NewDense(dim, dim, nil)
	for i := range dim {
		w.Set(i, i, 1)
	}
	return &Student{image: image, dim: dim, w: w, b: make([]float64, dim)}
}

func (s *Student) Dim() int {
	return s.dim
}

// Encode gibt nur die Ausgabe des Kopfes zurueck
func (s *Student) Encode(ctx context.Context, batch []vision.Tensor) (*mat.Dense, error) {
	out, _, err := s.Forward(ctx, batch)
	return out, err
}

// Forward liefert die Ausgabe und die Backbone-Features fuer Backward
func (s *Student) Forward(ctx context.Context, batch []vision.Tensor) (*mat.Dense, *mat.Dense, error) {
	rows, err := s.image.EncodeTensors(ctx, batch)
	if err != nil {
		return nil, nil, fmt.Errorf("student: %w", err)
	}
	x, err := embedding.FromRows(rows)
	if err != nil {
		return nil, nil, err
	}
	if _, c := x.Dims(); c != s.dim {
		return nil, nil, fmt.Errorf("%w: backbone dim %d, head dim %d", ErrParamShape, c, s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var y mat.Dense
	y.Mul(x, s.w)
	n, _ := y.Dims()
	for i := range n {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += s.b[j]
		}
	}
	return &y, x, nil
}

// Backward berechnet dL/dW = X^T G und dL/db = Spaltensummen von G
func (s *Student) Backward(features, gradOut *mat.Dense) (Gradients, error) {
	if err := embedding.CheckPair(features, gradOut); err != nil {
		return Gradients{}, err
	}
	n, d := gradOut.Dims()
	if d != s.dim {
		return Gradients{}, fmt.Errorf("%w: gradient dim %d, head dim %d", ErrParamShape, d, s.dim)
	}

	gw := mat.NewDense(s.dim, s.dim, nil)
	gw.Mul(features.T(), gradOut)

	gb := make([]float64, s.dim)
	for i := range n {
		for j, v := range gradOut.RawRowView(i) {
			gb[j] += v
		}
	}
	return Gradients{W: gw, B: gb}, nil
}

// Parameters gibt die Live-Puffer von W und b zurueck.
// Aufrufer duerfen sie nur zwischen zwei Forward-Aufrufen veraendern.
func (s *Student) Parameters() []Parameter {
	return []Parameter{
		{Name: WeightName, Shape: []int{s.dim, s.dim}, Value: s.w.RawMatrix().Data},
		{Name: BiasName, Shape: []int{s.dim}, Value: s.b},
	}
}

// Lock sperrt den Kopf fuer ein Optimierer-Update
func (s *Student) Lock()   { s.mu.Lock() }
func (s *Student) Unlock() { s.mu.Unlock() }

// SetParams kopiert Werte in die Parameter, z.B. aus einem Checkpoint
func (s *Student) SetParams(values map[string][]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.Parameters() {
		v, ok := values[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrParamShape, p.Name)
		}
		if len(v) != len(p.Value) {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrParamShape, p.Name, len(v), len(p.Value))
		}
		copy(p.Value, v)
	}
	return nil
}
