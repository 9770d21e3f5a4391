package dataset

import (
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/noisyclip/logutil"
	"github.com/ollama/noisyclip/vision"
)

var ErrBatchSize = errors.New("dataset: batch size must be positive")

// Batch ist ein geladener Mini-Batch in Datensatz-Reihenfolge
type Batch struct {
	Indices []int
	Clean   []vision.Tensor
	Noisy   []vision.Tensor
	Labels  []int // leer wenn die Items kein Label tragen
}

// Len gibt die Batch-Groesse zurueck
func (b Batch) Len() int {
	return len(b.Noisy)
}

// Shard teilt den Batch in bis zu n zusammenhaengende Teile der Groesse ceil(N/n).
// Leere Teile werden weggelassen.
func (b Batch) Shard(n int) []Batch {
	if n <= 1 || b.Len() <= 1 {
		return []Batch{b}
	}

	size := (b.Len() + n - 1) / n
	shards := make([]Batch, 0, n)
	for start := 0; start < b.Len(); start += size {
		end := min(start+size, b.Len())
		s := Batch{
			Indices: b.Indices[start:end],
			Clean:   b.Clean[start:end],
			Noisy:   b.Noisy[start:end],
		}
		if len(b.Labels) > 0 {
			s.Labels = b.Labels[start:end]
		}
		shards = append(shards, s)
	}
	return shards
}

// Loader liefert Batches eines Contrastive-Datensatzes.
// Der letzte unvollstaendige Batch wird behalten.
type Loader struct {
	Data      *Contrastive
	BatchSize int
	Shuffle   bool
	Workers   int
	Seed      uint64
}

// NumBatches gibt die Anzahl Batches pro Epoche zurueck
func (l *Loader) NumBatches() int {
	if l.BatchSize <= 0 {
		return 0
	}
	return (l.Data.Len() + l.BatchSize - 1) / l.BatchSize
}

// Order gibt die Index-Reihenfolge einer Epoche zurueck
func (l *Loader) Order(epoch int) []int {
	n := l.Data.Len()
	if !l.Shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	return rand.New(rand.NewPCG(l.Seed, uint64(epoch))).Perm(n)
}

// Batches iteriert ueber alle Batches einer Epoche.
// Nach dem ersten Fehler endet die Iteration.
func (l *Loader) Batches(ctx context.Context, epoch int) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		if l.BatchSize <= 0 {
			yield(Batch{}, ErrBatchSize)
			return
		}

		order := l.Order(epoch)
		for start := 0; start < len(order); start += l.BatchSize {
			b, err := l.load(ctx, epoch, order[start:min(start+l.BatchSize, len(order))])
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

func (l *Loader) load(ctx context.Context, epoch int, indices []int) (Batch, error) {
	started := time.Now()
	items := make([]Item, len(indices))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(l.Workers, 1))
	for k, idx := range indices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			item, err := l.Data.Get(epoch, idx)
			if err != nil {
				return err
			}
			items[k] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}
	logutil.TraceContext(ctx, "batch loaded", "epoch", epoch, "size", len(indices), "workers", max(l.Workers, 1), "elapsed", time.Since(started))

	b := Batch{
		Indices: indices,
		Clean:   make([]vision.Tensor, len(items)),
		Noisy:   make([]vision.Tensor, len(items)),
	}
	for k, item := range items {
		b.Clean[k], b.Noisy[k] = item.Clean, item.Noisy
		if item.HasLabel {
			b.Labels = append(b.Labels, item.Label)
		}
	}
	return b, nil
}
