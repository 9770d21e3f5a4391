// MODUL: embedding
// ZWECK: Gemeinsame Matrix-Hilfen fuer Embedding-Batches (N x D)
// INPUT: [][]float32 von Encodern, gonum Matrizen
// OUTPUT: *mat.Dense, normalisierte Zeilen, Cosine-Matrizen
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum.org/v1/gonum/mat, gonum.org/v1/gonum/floats
// HINWEISE: Null-Vektoren werden nicht still zu NaN, sondern liefern ErrZeroNorm

package embedding

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// Fehler-Definitionen
// ============================================================================

var (
	// ErrZeroNorm wird zurueckgegeben wenn ein Embedding die Laenge 0 hat
	ErrZeroNorm = errors.New("embedding: zero-norm vector")

	// ErrShapeMismatch wird bei nicht passenden Batch-Formen zurueckgegeben
	ErrShapeMismatch = errors.New("embedding: shape mismatch")

	// ErrEmpty wird bei leeren Batches zurueckgegeben
	ErrEmpty = errors.New("embedding: empty batch")

	// ErrNotFinite wird bei NaN/Inf in Eingaben zurueckgegeben
	ErrNotFinite = errors.New("embedding: non-finite value")
)

// ============================================================================
// Konvertierung
// ============================================================================

// FromRows baut eine N x D Matrix aus Encoder-Ausgaben.
// Alle Zeilen muessen dieselbe Laenge haben.
func FromRows(rows [][]float32) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmpty
	}

	dim := len(rows[0])
	data := make([]float64, 0, len(rows)*dim)
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: row %d has dim %d, want %d", ErrShapeMismatch, i, len(row), dim)
		}
		for _, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, fmt.Errorf("%w in row %d", ErrNotFinite, i)
			}
			data = append(data, float64(v))
		}
	}

	return mat.NewDense(len(rows), dim, data), nil
}

// ToRows konvertiert eine Matrix zurueck in float32-Zeilen
func ToRows(m mat.Matrix) [][]float32 {
	r, c := m.Dims()
	rows := make([][]float32, r)
	for i := range r {
		rows[i] = make([]float32, c)
		for j := range c {
			rows[i][j] = float32(m.At(i, j))
		}
	}
	return rows
}

// ============================================================================
// Normalisierung
// ============================================================================

// Norms gibt die L2-Norm jeder Zeile zurueck
func Norms(m mat.Matrix) []float64 {
	r, _ := m.Dims()
	norms := make([]float64, r)
	for i := range r {
		norms[i] = floats.Norm(mat.Row(nil, i, m), 2)
	}
	return norms
}

// NormalizeRows gibt die zeilenweise L2-normalisierte Matrix und die Normen zurueck.
// Eine Zeile mit Norm 0 fuehrt zu ErrZeroNorm.
func NormalizeRows(m mat.Matrix) (*mat.Dense, []float64, error) {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, nil, ErrEmpty
	}

	norms := Norms(m)
	out := mat.NewDense(r, c, nil)
	for i := range r {
		if norms[i] == 0 {
			return nil, nil, fmt.Errorf("%w: row %d", ErrZeroNorm, i)
		}
		if math.IsNaN(norms[i]) || math.IsInf(norms[i], 0) {
			return nil, nil, fmt.Errorf("%w: row %d", ErrNotFinite, i)
		}
		row := mat.Row(nil, i, m)
		floats.Scale(1/norms[i], row)
		out.SetRow(i, row)
	}
	return out, norms, nil
}

// NormalizeBackward propagiert einen Gradienten durch x -> x/|x|.
// unit sind die normalisierten Zeilen, norms die Normen vor der Normalisierung.
func NormalizeBackward(unit *mat.Dense, norms []float64, grad mat.Matrix) *mat.Dense {
	r, c := unit.Dims()
	out := mat.NewDense(r, c, nil)
	for i := range r {
		u := unit.RawRowView(i)
		g := mat.Row(nil, i, grad)
		proj := floats.Dot(u, g)
		floats.AddScaled(g, -proj, u)
		floats.Scale(1/norms[i], g)
		out.SetRow(i, g)
	}
	return out
}

// ============================================================================
// Aehnlichkeiten und Kombination
// ============================================================================

// CheckPair prueft, dass zwei Batches dieselbe nicht-leere Form haben
func CheckPair(a, b mat.Matrix) error {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar == 0 || ac == 0 {
		return ErrEmpty
	}
	if ar != br || ac != bc {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, ar, ac, br, bc)
	}
	return nil
}

// CosineMatrix berechnet norm(a) @ norm(b)^T
func CosineMatrix(a, b mat.Matrix) (*mat.Dense, error) {
	_, ac := a.Dims()
	_, bc := b.Dims()
	if ac != bc {
		return nil, fmt.Errorf("%w: dim %d vs %d", ErrShapeMismatch, ac, bc)
	}

	an, _, err := NormalizeRows(a)
	if err != nil {
		return nil, err
	}
	bn, _, err := NormalizeRows(b)
	if err != nil {
		return nil, err
	}

	var sim mat.Dense
	sim.Mul(an, bn.T())
	return &sim, nil
}

// Concat haengt Batches zeilenweise aneinander
func Concat(parts ...*mat.Dense) (*mat.Dense, error) {
	rows, dim := 0, -1
	for _, p := range parts {
		if p == nil {
			continue
		}
		r, c := p.Dims()
		if dim >= 0 && c != dim {
			return nil, fmt.Errorf("%w: dim %d vs %d", ErrShapeMismatch, c, dim)
		}
		dim = c
		rows += r
	}
	if rows == 0 {
		return nil, ErrEmpty
	}

	out := mat.NewDense(rows, dim, nil)
	offset := 0
	for _, p := range parts {
		if p == nil {
			continue
		}
		r, _ := p.Dims()
		out.Slice(offset, offset+r, 0, dim).(*mat.Dense).Copy(p)
		offset += r
	}
	return out, nil
}

// Interleave ordnet zwei gleich grosse Batches als (a1, b1, a2, b2, ...) an
func Interleave(a, b mat.Matrix) (*mat.Dense, error) {
	if err := CheckPair(a, b); err != nil {
		return nil, err
	}

	n, d := a.Dims()
	out := mat.NewDense(2*n, d, nil)
	for i := range n {
		out.SetRow(2*i, mat.Row(nil, i, a))
		out.SetRow(2*i+1, mat.Row(nil, i, b))
	}
	return out, nil
}
