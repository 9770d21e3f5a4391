package metrics

import (
	"errors"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestTopK(t *testing.T) {
	probs := mat.NewDense(3, 4, []float64{
		0.1, 0.6, 0.2, 0.1,
		0.4, 0.3, 0.2, 0.1,
		0.25, 0.25, 0.25, 0.25,
	})
	labels := []int{1, 2, 3}

	cases := []struct {
		k       int
		correct int
	}{
		{1, 1},
		{2, 1},
		{3, 2},
		{4, 3},
		{10, 3},
	}

	for _, tt := range cases {
		m, err := NewTopK(tt.k)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.Update(probs, labels); err != nil {
			t.Fatal(err)
		}
		if m.Correct() != tt.correct || m.Total() != 3 {
			t.Errorf("k=%d: %d/%d correct, want %d/3", tt.k, m.Correct(), m.Total(), tt.correct)
		}
	}
}

func TestTopKTiesFavorLowerIndex(t *testing.T) {
	m, _ := NewTopK(1)
	_ = m.Update(mat.NewDense(2, 3, []float64{0.3, 0.3, 0.3, 0.2, 0.4, 0.4}), []int{0, 2})
	if m.Correct() != 1 {
		t.Errorf("correct = %d, want 1 (row 0 hit, row 1 tie goes to class 1)", m.Correct())
	}
}

func TestTopKEmptyAndReset(t *testing.T) {
	m, _ := NewTopK(5)
	if m.Compute() != 0 || m.Total() != 0 {
		t.Errorf("empty state = %v/%d, want 0/0", m.Compute(), m.Total())
	}

	_ = m.Update(mat.NewDense(1, 2, []float64{0.9, 0.1}), []int{0})
	if m.Compute() != 1 {
		t.Errorf("Compute() = %v, want 1", m.Compute())
	}

	m.Reset()
	if m.Compute() != 0 || m.Total() != 0 || m.Correct() != 0 {
		t.Error("Reset did not clear the counts")
	}
}

func TestTopKStreamingMatchesBulk(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const n, classes = 37, 6

	data := make([]float64, n*classes)
	for i := range data {
		data[i] = rng.Float64()
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = rng.IntN(classes)
	}
	all := mat.NewDense(n, classes, data)

	for _, k := range []int{1, 5} {
		bulk, _ := NewTopK(k)
		if err := bulk.Update(all, labels); err != nil {
			t.Fatal(err)
		}

		stream, _ := NewTopK(k)
		for start := 0; start < n; start += 8 {
			end := min(start+8, n)
			if err := stream.Update(all.Slice(start, end, 0, classes), labels[start:end]); err != nil {
				t.Fatal(err)
			}
		}

		if bulk.Compute() != stream.Compute() || bulk.Total() != stream.Total() {
			t.Errorf("k=%d: streaming %v, bulk %v", k, stream.Compute(), bulk.Compute())
		}
	}
}

func TestTopKErrors(t *testing.T) {
	if _, err := NewTopK(0); !errors.Is(err, ErrInvalidK) {
		t.Errorf("NewTopK(0) = %v", err)
	}

	m, _ := NewTopK(1)
	probs := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	if err := m.Update(probs, []int{0}); !errors.Is(err, ErrLabelCount) {
		t.Errorf("label count: %v", err)
	}
	if err := m.Update(probs, []int{0, 2}); !errors.Is(err, ErrLabelRange) {
		t.Errorf("label range: %v", err)
	}
	if m.Total() != 0 {
		t.Error("failed update changed the counts")
	}
}
