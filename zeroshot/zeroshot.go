// MODUL: zeroshot
// ZWECK: Zero-Shot Klassifikation ueber skalierte Cosine-Aehnlichkeit zu Text-Prototypen
// INPUT: Student-Embeddings (N x D), Prototypen (C x D), logit_scale, Precision
// OUTPUT: Logits pro Bild (N x C) und pro Text (C x N), Wahrscheinlichkeiten, Vorhersagen
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum/mat, embedding, float16, go-bfloat16
// HINWEISE: Normalisierte Eingaben, Cosine-Matrix und skalierte Logits werden jeweils auf die
// gewaehlte Precision gerundet (scale * (E P^T) wie bei half-precision Tensoren).
// Softmax laeuft danach in float64.

package zeroshot

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/noisyclip/embedding"
)

var ErrInvalidScale = errors.New("zeroshot: logit scale must be finite and > 0")

// Classifier ist unveraenderlich und nebenlaeufig nutzbar
type Classifier struct {
	prototypes *mat.Dense // normalisiert und gerundet, C x D
	scale      float64
	precision  Precision
}

// New normalisiert die Prototypen einmalig
func New(prototypes mat.Matrix, logitScale float64, precision Precision) (*Classifier, error) {
	if !(logitScale > 0) || math.IsInf(logitScale, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidScale, logitScale)
	}
	if precision < F32 || precision > BF16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPrecision, int(precision))
	}

	p, _, err := embedding.NormalizeRows(prototypes)
	if err != nil {
		return nil, fmt.Errorf("prototypes: %w", err)
	}
	precision.roundAll(p.RawMatrix().Data)

	return &Classifier{prototypes: p, scale: logitScale, precision: precision}, nil
}

// NumClasses gibt C zurueck
func (c *Classifier) NumClasses() int {
	r, _ := c.prototypes.Dims()
	return r
}

// Logits berechnet image = s * norm(E) norm(P)^T und text = image^T
func (c *Classifier) Logits(emb mat.Matrix) (image, text *mat.Dense, err error) {
	_, d := emb.Dims()
	if _, pd := c.prototypes.Dims(); d != pd {
		return nil, nil, fmt.Errorf("%w: embedding dim %d, prototype dim %d", embedding.ErrShapeMismatch, d, pd)
	}

	e, _, err := embedding.NormalizeRows(emb)
	if err != nil {
		return nil, nil, err
	}
	c.precision.roundAll(e.RawMatrix().Data)

	// Matmul-Ergebnis und Skalierung werden jeweils einzeln gerundet
	image = new(mat.Dense)
	image.Mul(e, c.prototypes.T())
	c.precision.roundAll(image.RawMatrix().Data)
	image.Scale(c.scale, image)
	c.precision.roundAll(image.RawMatrix().Data)

	text = mat.DenseCopyOf(image.T())
	return image, text, nil
}

// Probabilities gibt die zeilenweise Softmax der Bild-Logits zurueck (N x C)
func (c *Classifier) Probabilities(emb mat.Matrix) (*mat.Dense, error) {
	image, _, err := c.Logits(emb)
	if err != nil {
		return nil, err
	}
	Softmax(image)
	return image, nil
}

// Predict gibt pro Zeile die Klasse mit dem hoechsten Logit zurueck, bei Gleichstand die kleinere
func (c *Classifier) Predict(emb mat.Matrix) ([]int, error) {
	image, _, err := c.Logits(emb)
	if err != nil {
		return nil, err
	}

	n, _ := image.Dims()
	out := make([]int, n)
	for i := range n {
		out[i] = floats.MaxIdx(image.RawRowView(i))
	}
	return out, nil
}

// Softmax normalisiert jede Zeile in-place, numerisch stabil
func Softmax(m *mat.Dense) {
	r, _ := m.Dims()
	for i := range r {
		row := m.RawRowView(i)
		top := floats.Max(row)
		var sum float64
		for j, v := range row {
			row[j] = math.Exp(v - top)
			sum += row[j]
		}
		floats.Scale(1/sum, row)
	}
}
