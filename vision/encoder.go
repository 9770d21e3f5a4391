// MODUL: encoder
// ZWECK: Interfaces fuer Bild- und Text-Encoder eines Vision-Language-Backbones
// INPUT: vorverarbeitete Tensoren bzw. Prompt-Texte
// OUTPUT: Embeddings als [][]float32
// NEBENEFFEKTE: Implementierungen allozieren Modell-Speicher
// ABHAENGIGKEITEN: tensor.go, preprocess.go
// HINWEISE: Encoder muessen fuer gleichzeitige Aufrufe sicher sein (Replikate teilen den Backbone)

package vision

import (
	"context"
	"errors"
)

var (
	ErrEmptyBatch     = errors.New("vision: empty batch")
	ErrEncoderClosed  = errors.New("vision: encoder closed")
	ErrNoTextEncoder  = errors.New("vision: backbone has no text encoder")
	ErrUnknownBackend = errors.New("vision: unknown backbone")
)

// ImageEncoder bildet Bild-Tensoren in den gemeinsamen Embedding-Raum ab.
type ImageEncoder interface {
	EncodeTensors(ctx context.Context, batch []Tensor) ([][]float32, error)
	ModelInfo() ModelInfo
	Close() error
}

// TextEncoder bildet Prompts in denselben Embedding-Raum ab.
type TextEncoder interface {
	EncodeText(ctx context.Context, prompts []string) ([][]float32, error)
	ModelInfo() ModelInfo
	Close() error
}

// ModelInfo enthaelt Metadaten ueber ein geladenes Modell.
type ModelInfo struct {
	Name         string // Modell-Name
	Type         string // Backend-Typ
	EmbeddingDim int    // Embedding-Dimension
	ImageSize    int    // Erwartete Bildgroesse
}

// Backbone buendelt Bild-Encoder, Text-Encoder und das passende Preprocessing.
type Backbone struct {
	Name       string
	Image      ImageEncoder
	Text       TextEncoder
	Preprocess Preprocess
}

// Close schliesst beide Encoder.
func (b *Backbone) Close() error {
	var errs []error
	if b.Image != nil {
		errs = append(errs, b.Image.Close())
	}
	if b.Text != nil {
		errs = append(errs, b.Text.Close())
	}
	return errors.Join(errs...)
}

// EmbeddingDim gibt die gemeinsame Embedding-Dimension zurueck.
func (b *Backbone) EmbeddingDim() int {
	return b.Image.ModelInfo().EmbeddingDim
}

// BackboneFactory erstellt einen Backbone aus LoadOptions.
type BackboneFactory func(opts LoadOptions) (*Backbone, error)

// NewBackbone erstellt einen Backbone ueber die DefaultRegistry.
func NewBackbone(name string, opts ...Option) (*Backbone, error) {
	loadOpts := DefaultLoadOptions()
	loadOpts.Apply(opts...)

	if err := loadOpts.Validate(); err != nil {
		return nil, err
	}

	return DefaultRegistry.Create(name, loadOpts)
}
