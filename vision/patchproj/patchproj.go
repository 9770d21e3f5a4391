// Package patchproj implementiert einen reinen Go Referenz-Backbone.
//
// MODUL: patchproj
// ZWECK: Deterministischer Bild- und Text-Encoder ohne externe Gewichte
// INPUT: vorverarbeitete Tensoren (3 x S x S), Prompt-Texte, LoadOptions
// OUTPUT: Embeddings der Dimension LoadOptions.EmbeddingDim
// NEBENEFFEKTE: keine (Gewichte werden aus dem Seed erzeugt)
// ABHAENGIGKEITEN: gonum/mat, vision
// HINWEISE: Bild = Average-Pooling auf Grid x Grid Patches, dann feste Zufallsprojektion mit tanh.
// Text = gehashte Zeichen-Trigramme, dann feste Zufallsprojektion.
// Gewichte sind nach der Erzeugung read-only, Aufrufe sind nebenlaeufig sicher.
package patchproj

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/noisyclip/vision"
)

const (
	// Name ist der Registry-Name dieses Backends
	Name = "patchproj"

	// Grid ist die Anzahl Patches pro Bildseite
	Grid = 8

	// TextBuckets ist die Anzahl Hash-Buckets fuer Trigramme
	TextBuckets = 1024
)

func init() {
	vision.MustRegisterToDefault(Name, NewBackbone)
}

// projection ist eine feste affine Abbildung x -> act(x W + b)
type projection struct {
	w *mat.Dense // in x out
	b []float64
}

func newProjection(rng *rand.Rand, in, out int) projection {
	scale := 1 / math.Sqrt(float64(in))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = rng.NormFloat64() * 0.1
	}
	return projection{w: mat.NewDense(in, out, data), b: b}
}

func (p projection) apply(x *mat.Dense, act func(float64) float64) [][]float32 {
	n, _ := x.Dims()
	_, out := p.w.Dims()

	var y mat.Dense
	y.Mul(x, p.w)

	rows := make([][]float32, n)
	for i := range n {
		row := make([]float32, out)
		for j := range out {
			v := y.At(i, j) + p.b[j]
			if act != nil {
				v = act(v)
			}
			row[j] = float32(v)
		}
		rows[i] = row
	}
	return rows
}

// ============================================================================
// ImageEncoder
// ============================================================================

// ImageEncoder projiziert gepoolte Patches in den Embedding-Raum.
type ImageEncoder struct {
	proj   projection
	info   vision.ModelInfo
	closed atomic.Bool
}

// NewImageEncoder erzeugt die Gewichte aus opts.Seed.
func NewImageEncoder(opts vision.LoadOptions) (*ImageEncoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.ImageSize < Grid {
		return nil, fmt.Errorf("patchproj: image size %d smaller than grid %d", opts.ImageSize, Grid)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, 0x696d616765))
	return &ImageEncoder{
		proj: newProjection(rng, 3*Grid*Grid, opts.EmbeddingDim),
		info: vision.ModelInfo{
			Name:         Name,
			Type:         Name,
			EmbeddingDim: opts.EmbeddingDim,
			ImageSize:    opts.ImageSize,
		},
	}, nil
}

// EncodeTensors implementiert vision.ImageEncoder.
func (e *ImageEncoder) EncodeTensors(ctx context.Context, batch []vision.Tensor) ([][]float32, error) {
	if e.closed.Load() {
		return nil, vision.ErrEncoderClosed
	}
	if len(batch) == 0 {
		return nil, vision.ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := mat.NewDense(len(batch), 3*Grid*Grid, nil)
	for i, t := range batch {
		if err := t.Check(); err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		if t.C != 3 || t.H < Grid || t.W < Grid {
			return nil, fmt.Errorf("image %d: %w: got %v", i, vision.ErrTensorShape, t.Shape())
		}
		features.SetRow(i, pool(t))
	}

	return e.proj.apply(features, math.Tanh), nil
}

// pool mittelt jeden der Grid x Grid Patches pro Kanal
func pool(t vision.Tensor) []float64 {
	out := make([]float64, 3*Grid*Grid)
	for c := range 3 {
		for gy := range Grid {
			y0, y1 := gy*t.H/Grid, (gy+1)*t.H/Grid
			for gx := range Grid {
				x0, x1 := gx*t.W/Grid, (gx+1)*t.W/Grid
				var sum float64
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						sum += float64(t.At(c, y, x))
					}
				}
				out[(c*Grid+gy)*Grid+gx] = sum / float64((y1-y0)*(x1-x0))
			}
		}
	}
	return out
}

// ModelInfo gibt Metadaten zurueck
func (e *ImageEncoder) ModelInfo() vision.ModelInfo {
	return e.info
}

// Close markiert den Encoder als geschlossen
func (e *ImageEncoder) Close() error {
	e.closed.Store(true)
	return nil
}

// ============================================================================
// TextEncoder
// ============================================================================

// TextEncoder projiziert gehashte Zeichen-Trigramme in den Embedding-Raum.
type TextEncoder struct {
	proj   projection
	info   vision.ModelInfo
	closed atomic.Bool
}

// NewTextEncoder erzeugt die Gewichte aus opts.Seed.
func NewTextEncoder(opts vision.LoadOptions) (*TextEncoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(opts.Seed, 0x74657874))
	return &TextEncoder{
		proj: newProjection(rng, TextBuckets, opts.EmbeddingDim),
		info: vision.ModelInfo{
			Name:         Name,
			Type:         Name,
			EmbeddingDim: opts.EmbeddingDim,
		},
	}, nil
}

// EncodeText implementiert vision.TextEncoder.
func (e *TextEncoder) EncodeText(ctx context.Context, prompts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, vision.ErrEncoderClosed
	}
	if len(prompts) == 0 {
		return nil, vision.ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := mat.NewDense(len(prompts), TextBuckets, nil)
	for i, p := range prompts {
		features.SetRow(i, trigrams(p))
	}
	return e.proj.apply(features, nil), nil
}

// trigrams zaehlt gehashte Zeichen-Trigramme, L2-normiert
func trigrams(text string) []float64 {
	out := make([]float64, TextBuckets)
	runes := []rune(" " + strings.ToLower(strings.TrimSpace(text)) + " ")
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		h.Write([]byte(string(runes[i : i+3])))
		out[h.Sum32()%TextBuckets]++
	}

	var norm float64
	for _, v := range out {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range out {
			out[i] /= norm
		}
	}
	return out
}

// ModelInfo gibt Metadaten zurueck
func (e *TextEncoder) ModelInfo() vision.ModelInfo {
	return e.info
}

// Close markiert den Encoder als geschlossen
func (e *TextEncoder) Close() error {
	e.closed.Store(true)
	return nil
}

// NewBackbone ist die Factory-Funktion fuer die Registry.
func NewBackbone(opts vision.LoadOptions) (*vision.Backbone, error) {
	img, err := NewImageEncoder(opts)
	if err != nil {
		return nil, err
	}
	txt, err := NewTextEncoder(opts)
	if err != nil {
		return nil, err
	}

	return &vision.Backbone{
		Name:       Name,
		Image:      img,
		Text:       txt,
		Preprocess: vision.ClipPreprocess(opts.ImageSize),
	}, nil
}
