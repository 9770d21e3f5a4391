// MODUL: loss
// ZWECK: Kontrastive Trainingsziele zwischen Teacher- (A) und Student-Embeddings (B)
// INPUT: zwei gleich grosse Batches A, B (N x D), Temperatur tau, Reduktion
// OUTPUT: skalarer Loss und optional dL/dB fuer den Student
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum mat, embedding (Normalisierung, Interleave)
// HINWEISE: A bekommt nie einen Gradienten (Teacher ist eingefroren)

package loss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/noisyclip/embedding"
)

// Criterion berechnet den konfigurierten Loss. Unveraenderlich nach New.
type Criterion struct {
	kind      Kind
	tau       float64
	reduction Reduction
}

// New erstellt ein Criterion. tau wird nur fuer simclr und clip geprueft.
func New(kind Kind, tau float64, reduction Reduction) (*Criterion, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKind, kind)
	}
	if reduction != ReductionMean && reduction != ReductionSum {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReduction, int(reduction))
	}
	if kind.UsesTemperature() && (!(tau > 0) || math.IsInf(tau, 0)) {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidTemperature, tau)
	}

	return &Criterion{kind: kind, tau: tau, reduction: reduction}, nil
}

// Kind gibt die gewaehlte Variante zurueck
func (c *Criterion) Kind() Kind { return c.kind }

// Temperature gibt tau zurueck
func (c *Criterion) Temperature() float64 { return c.tau }

// Forward berechnet nur den Loss
func (c *Criterion) Forward(a, b mat.Matrix) (float64, error) {
	l, _, err := c.eval(a, b, false)
	return l, err
}

// ForwardBackward berechnet Loss und dL/dB
func (c *Criterion) ForwardBackward(a, b mat.Matrix) (float64, *mat.Dense, error) {
	return c.eval(a, b, true)
}

func (c *Criterion) eval(a, b mat.Matrix, grad bool) (float64, *mat.Dense, error) {
	if err := embedding.CheckPair(a, b); err != nil {
		return 0, nil, err
	}

	var (
		l   float64
		g   *mat.Dense
		err error
	)
	switch c.kind {
	case KindSimCLR:
		l, g, err = c.simclr(a, b, grad)
	case KindCLIP:
		l, g, err = c.clip(a, b, grad)
	case KindMSE:
		l, g = mse(a, b, grad)
	default:
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidKind, c.kind)
	}
	if err != nil {
		return 0, nil, err
	}

	if math.IsNaN(l) || math.IsInf(l, 0) {
		return 0, nil, fmt.Errorf("%w: %s loss = %v", embedding.ErrNotFinite, c.kind, l)
	}
	return l, g, nil
}

// scale ist 1/N bei mean-Reduktion, sonst 1
func (c *Criterion) scale(n int) float64 {
	if c.reduction == ReductionMean {
		return 1 / float64(n)
	}
	return 1
}

// ============================================================================
// SimCLR
// ============================================================================

// simclr: Zeilen (a1, b1, a2, b2, ...), jede Zeile i hat den Partner i^1.
// Zeilen-Loss -s[i,p]/tau + log sum_{j!=i} exp(s[i,j]/tau), Summe / 2.
func (c *Criterion) simclr(a, b mat.Matrix, grad bool) (float64, *mat.Dense, error) {
	n, _ := a.Dims()
	z, err := embedding.Interleave(a, b)
	if err != nil {
		return 0, nil, err
	}
	zn, norms, err := embedding.NormalizeRows(z)
	if err != nil {
		return 0, nil, err
	}

	m := 2 * n
	var sim mat.Dense
	sim.Mul(zn, zn.T())

	scale := c.scale(n)
	var total float64
	var gsim *mat.Dense
	if grad {
		gsim = mat.NewDense(m, m, nil)
	}

	row := make([]float64, m)
	for i := range m {
		for j := range m {
			row[j] = sim.At(i, j) / c.tau
		}
		lse := logSumExpExcept(row, i)
		p := i ^ 1
		total += lse - row[p]

		if grad {
			// d/ds[i,j] = scale/2 * (softmax_{j!=i} - 1{j==p}) / tau
			k := scale / 2 / c.tau
			for j := range m {
				if j == i {
					continue
				}
				v := math.Exp(row[j] - lse)
				if j == p {
					v--
				}
				gsim.Set(i, j, k*v)
			}
		}
	}
	l := total / 2 * scale

	if !grad {
		return l, nil, nil
	}

	// s = Zn Zn^T  =>  dL/dZn = (G + G^T) Zn
	var sym, gzn mat.Dense
	sym.Add(gsim, gsim.T())
	gzn.Mul(&sym, zn)
	gz := embedding.NormalizeBackward(zn, norms, &gzn)

	_, d := a.Dims()
	gb := mat.NewDense(n, d, nil)
	for i := range n {
		gb.SetRow(i, gz.RawRowView(2*i+1))
	}
	return l, gb, nil
}

// ============================================================================
// CLIP
// ============================================================================

// clip: S = (1/tau) A^ B^T, Cross-Entropy mit Ziel i ueber Zeilen und Spalten, gemittelt
func (c *Criterion) clip(a, b mat.Matrix, grad bool) (float64, *mat.Dense, error) {
	n, _ := a.Dims()
	an, _, err := embedding.NormalizeRows(a)
	if err != nil {
		return 0, nil, err
	}
	bn, bnorms, err := embedding.NormalizeRows(b)
	if err != nil {
		return 0, nil, err
	}

	var s mat.Dense
	s.Mul(an, bn.T())
	s.Scale(1/c.tau, &s)

	var st mat.Dense
	st.CloneFrom(s.T())

	rowLoss, rowProb := crossEntropyDiagonal(&s)
	colLoss, colProb := crossEntropyDiagonal(&st)

	scale := c.scale(n)
	l := (rowLoss + colLoss) / 2 * scale
	if !grad {
		return l, nil, nil
	}

	// dL/dS[i,j] = scale/(2N) * (P_row[i,j] + P_col[j,i] - 2*1{i==j})
	gs := mat.NewDense(n, n, nil)
	k := scale / 2 / float64(n)
	for i := range n {
		for j := range n {
			v := rowProb.At(i, j) + colProb.At(j, i)
			if i == j {
				v -= 2
			}
			gs.Set(i, j, k*v)
		}
	}

	// S = (1/tau) A^ B^T  =>  dL/dB^ = (1/tau) G^T A^
	var gbn mat.Dense
	gbn.Mul(gs.T(), an)
	gbn.Scale(1/c.tau, &gbn)

	return l, embedding.NormalizeBackward(bn, bnorms, &gbn), nil
}

// crossEntropyDiagonal gibt den mittleren Cross-Entropy-Loss mit Ziel-Klasse i fuer Zeile i
// und die Softmax-Wahrscheinlichkeiten zurueck
func crossEntropyDiagonal(logits *mat.Dense) (float64, *mat.Dense) {
	r, c := logits.Dims()
	probs := mat.NewDense(r, c, nil)

	var total float64
	for i := range r {
		row := logits.RawRowView(i)
		lse := logSumExpExcept(row, -1)
		total += lse - row[i]
		for j, v := range row {
			probs.Set(i, j, math.Exp(v-lse))
		}
	}
	return total / float64(r), probs
}

// logSumExpExcept berechnet log(sum exp(x_j)) ueber alle j != skip, numerisch stabil
func logSumExpExcept(x []float64, skip int) float64 {
	mx := math.Inf(-1)
	for j, v := range x {
		if j != skip && v > mx {
			mx = v
		}
	}
	if math.IsInf(mx, -1) {
		return mx
	}

	var sum float64
	for j, v := range x {
		if j != skip {
			sum += math.Exp(v - mx)
		}
	}
	return mx + math.Log(sum)
}

// ============================================================================
// MSE
// ============================================================================

// mse ignoriert tau und Reduktion: immer Mittel ueber alle N*D Elemente
func mse(a, b mat.Matrix, grad bool) (float64, *mat.Dense) {
	n, d := a.Dims()
	var diff mat.Dense
	diff.Sub(b, a)

	var sum float64
	for i := range n {
		for _, v := range diff.RawRowView(i) {
			sum += v * v
		}
	}
	count := float64(n * d)
	l := sum / count
	if !grad {
		return l, nil
	}

	diff.Scale(2/count, &diff)
	return l, &diff
}
