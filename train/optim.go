package train

import (
	"errors"
	"fmt"
	"math"

	"github.com/ollama/noisyclip/embedding"
	"github.com/ollama/noisyclip/encoder"
)

var (
	ErrLearningRate = errors.New("train: learning rate must be positive and finite")
	ErrGradShape    = errors.New("train: gradient does not match parameter")
	ErrTMax         = errors.New("train: scheduler period must be positive")
)

// ============================================================================
// Adam
// ============================================================================

// Adam mit den PyTorch-Defaults (0.9, 0.999, 1e-8), ohne Weight Decay
type Adam struct {
	Beta1 float64
	Beta2 float64
	Eps   float64

	lr float64
	t  int
	m  [][]float64
	v  [][]float64
}

// NewAdam erstellt den Optimierer, Momente werden beim ersten Step angelegt
func NewAdam(lr float64) (*Adam, error) {
	if !(lr > 0) || math.IsInf(lr, 0) {
		return nil, fmt.Errorf("%w, got %v", ErrLearningRate, lr)
	}
	return &Adam{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, lr: lr}, nil
}

func (a *Adam) LR() float64 { return a.lr }

func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Steps gibt die Anzahl bisheriger Updates zurueck
func (a *Adam) Steps() int { return a.t }

// Step aktualisiert params in-place. grads[i] gehoert zu params[i].
// Bei nicht-endlichen Gradienten bleibt alles unveraendert.
func (a *Adam) Step(params []encoder.Parameter, grads [][]float64) error {
	if len(params) != len(grads) {
		return fmt.Errorf("%w: %d params, %d gradients", ErrGradShape, len(params), len(grads))
	}
	for i, p := range params {
		if len(grads[i]) != len(p.Value) {
			return fmt.Errorf("%w: %s has %d values, gradient %d", ErrGradShape, p.Name, len(p.Value), len(grads[i]))
		}
		for _, g := range grads[i] {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				return fmt.Errorf("%w: gradient of %s", embedding.ErrNotFinite, p.Name)
			}
		}
	}

	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p.Value))
			a.v[i] = make([]float64, len(p.Value))
		}
	}
	if len(a.m) != len(params) {
		return fmt.Errorf("%w: optimizer holds %d params, got %d", ErrGradShape, len(a.m), len(params))
	}

	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		m, v := a.m[i], a.v[i]
		for j, g := range grads[i] {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g
			p.Value[j] -= a.lr * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + a.Eps)
		}
	}
	return nil
}

// Moments gibt die ersten und zweiten Momente zurueck (nil vor dem ersten Step)
func (a *Adam) Moments() (m, v [][]float64) {
	return a.m, a.v
}

// Restore setzt Schrittzahl und Momente, z.B. aus einem Checkpoint
func (a *Adam) Restore(t int, m, v [][]float64) error {
	if len(m) != len(v) {
		return fmt.Errorf("%w: %d first moments, %d second moments", ErrGradShape, len(m), len(v))
	}
	for i := range m {
		if len(m[i]) != len(v[i]) {
			return fmt.Errorf("%w: moment %d", ErrGradShape, i)
		}
	}
	a.t, a.m, a.v = t, m, v
	return nil
}

// ============================================================================
// Cosine Annealing
// ============================================================================

// CosineAnnealing: lr(t) = EtaMin + (Base - EtaMin) * (1 + cos(pi * t / TMax)) / 2.
// Nach TMax steigt die Rate wieder an (periodisch), wie die geschlossene Form in PyTorch.
type CosineAnnealing struct {
	Base   float64
	EtaMin float64
	TMax   int
}

func NewCosineAnnealing(base float64, tMax int) (*CosineAnnealing, error) {
	if !(base > 0) || math.IsInf(base, 0) {
		return nil, fmt.Errorf("%w, got %v", ErrLearningRate, base)
	}
	if tMax < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrTMax, tMax)
	}
	return &CosineAnnealing{Base: base, TMax: tMax}, nil
}

// At gibt die Lernrate nach t Scheduler-Schritten zurueck
func (c *CosineAnnealing) At(t int) float64 {
	return c.EtaMin + (c.Base-c.EtaMin)*(1+math.Cos(math.Pi*float64(t)/float64(c.TMax)))/2
}
