//go:build cgo

// MODUL: onnx/encoder
// ZWECK: ONNX Bild-Encoder (exportierter CLIP visual tower) als vision.ImageEncoder
// INPUT: Modell-Pfad (.onnx), vorverarbeitete Tensoren, LoadOptions
// OUTPUT: Embedding-Vektoren ([][]float32)
// NEBENEFFEKTE: Laedt ONNX Runtime Session, alloziert GPU/CPU Speicher
// ABHAENGIGKEITEN: session.go, vision (ImageEncoder Interface)
// HINWEISE: Batches werden in Bloecke von LoadOptions.BatchSize zerlegt

package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ollama/noisyclip/vision"
)

const (
	// DefaultInputName ist der ONNX Input-Tensor Name
	DefaultInputName = "pixel_values"

	// DefaultOutputName ist der ONNX Output-Tensor Name
	DefaultOutputName = "image_embeds"
)

var (
	ErrModelLoad     = errors.New("onnx: model load failed")
	ErrSessionCreate = errors.New("onnx: session create failed")
	ErrInference     = errors.New("onnx: inference failed")
)

// Encoder implementiert vision.ImageEncoder mit ONNX Runtime.
type Encoder struct {
	session   *Session
	info      vision.ModelInfo
	batchSize int
	closed    bool
	mu        sync.RWMutex
}

// NewEncoder erstellt einen ONNX-basierten Bild-Encoder.
func NewEncoder(modelPath string, opts vision.LoadOptions) (*Encoder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	session, err := CreateSession(modelPath, SessionOptions{
		InputName:   DefaultInputName,
		OutputName:  DefaultOutputName,
		NumThreads:  opts.Threads,
		UseGPU:      opts.Device == vision.DeviceCUDA,
		GPUDeviceID: opts.MainGPU,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}

	return &Encoder{
		session: session,
		info: vision.ModelInfo{
			Name:         modelPath,
			Type:         "onnx",
			EmbeddingDim: session.OutputDim(opts.EmbeddingDim),
			ImageSize:    session.ImageSize(),
		},
		batchSize: opts.BatchSize,
	}, nil
}

// EncodeTensors implementiert vision.ImageEncoder.
func (e *Encoder) EncodeTensors(ctx context.Context, batch []vision.Tensor) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, vision.ErrEncoderClosed
	}
	if len(batch) == 0 {
		return nil, vision.ErrEmptyBatch
	}

	size := e.info.ImageSize
	dim := e.info.EmbeddingDim
	plane := 3 * size * size

	results := make([][]float32, 0, len(batch))
	for start := 0; start < len(batch); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunk := batch[start:min(start+e.batchSize, len(batch))]
		input := make([]float32, 0, len(chunk)*plane)
		for i, t := range chunk {
			if t.C != 3 || t.H != size || t.W != size || len(t.Data) != plane {
				return nil, fmt.Errorf("image %d: %w: got %v, want [3 %d %d]", start+i, vision.ErrTensorShape, t.Shape(), size, size)
			}
			input = append(input, t.Data...)
		}

		out, err := e.session.RunBatch(input, len(chunk), size, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInference, err)
		}
		for i := range chunk {
			results = append(results, out[i*dim:(i+1)*dim:(i+1)*dim])
		}
	}

	return results, nil
}

// Close gibt alle Ressourcen frei
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	e.closed = true
	return nil
}

// ModelInfo gibt Metadaten ueber das Modell zurueck
func (e *Encoder) ModelInfo() vision.ModelInfo {
	return e.info
}

// NewBackbone ist die Factory-Funktion fuer die Registry.
// Ein ONNX-Backbone hat keinen Text-Encoder, Prototypen kommen aus einer Datei.
func NewBackbone(opts vision.LoadOptions) (*vision.Backbone, error) {
	enc, err := NewEncoder(opts.ModelPath, opts)
	if err != nil {
		return nil, err
	}

	return &vision.Backbone{
		Image:      enc,
		Preprocess: vision.ClipPreprocess(enc.info.ImageSize),
	}, nil
}
