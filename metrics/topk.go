// Package metrics enthaelt streamende Genauigkeits-Zaehler fuer die Evaluation.
package metrics

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/v2/trees/binaryheap"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidK   = errors.New("metrics: k must be >= 1")
	ErrLabelCount = errors.New("metrics: label count does not match rows")
	ErrLabelRange = errors.New("metrics: label out of range")
)

// TopK zaehlt, wie oft das Label unter den K hoechsten Wahrscheinlichkeiten liegt.
// Bei Gleichstand gewinnt der kleinere Klassen-Index.
// Ohne Daten liefert Compute 0, Total ist dann 0.
type TopK struct {
	k       int
	correct int
	total   int
}

// NewTopK erstellt einen leeren Zaehler
func NewTopK(k int) (*TopK, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	return &TopK{k: k}, nil
}

// K gibt k zurueck
func (t *TopK) K() int { return t.k }

type scored struct {
	value float64
	class int
}

// worseFirst ordnet die schwaechste Klasse an die Spitze des Heaps
func worseFirst(a, b scored) int {
	switch {
	case a.value < b.value:
		return -1
	case a.value > b.value:
		return 1
	case a.class > b.class:
		return -1
	case a.class < b.class:
		return 1
	}
	return 0
}

// Update verarbeitet einen Batch (N x C Wahrscheinlichkeiten, N Labels)
func (t *TopK) Update(probs mat.Matrix, labels []int) error {
	n, classes := probs.Dims()
	if n != len(labels) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrLabelCount, n, len(labels))
	}
	for i, l := range labels {
		if l < 0 || l >= classes {
			return fmt.Errorf("%w: label %d at row %d, %d classes", ErrLabelRange, l, i, classes)
		}
	}

	heap := binaryheap.NewWith[scored](worseFirst)
	for i, label := range labels {
		heap.Clear()
		for j := range classes {
			heap.Push(scored{value: probs.At(i, j), class: j})
			if heap.Size() > t.k {
				heap.Pop()
			}
		}

		for _, s := range heap.Values() {
			if s.class == label {
				t.correct++
				break
			}
		}
		t.total++
	}
	return nil
}

// Compute gibt die laufende Genauigkeit zurueck, 0 ohne Daten
func (t *TopK) Compute() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.correct) / float64(t.total)
}

// Correct gibt die Anzahl Treffer zurueck
func (t *TopK) Correct() int { return t.correct }

// Total gibt die Anzahl gesehener Beispiele zurueck
func (t *TopK) Total() int { return t.total }

// Reset setzt den Zaehler zurueck
func (t *TopK) Reset() {
	t.correct, t.total = 0, 0
}
