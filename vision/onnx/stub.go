//go:build !cgo

// MODUL: onnx/stub
// ZWECK: Stub-Implementierung wenn CGO nicht verfuegbar ist
// HINWEISE: Gibt Fehler zurueck bei allen Operationen

package onnx

import (
	"errors"

	"github.com/ollama/noisyclip/vision"
)

// ErrCGORequired wird zurueckgegeben wenn CGO nicht verfuegbar ist
var ErrCGORequired = errors.New("onnx: CGO required but not available")

// NewBackbone Stub - gibt immer Fehler zurueck
func NewBackbone(vision.LoadOptions) (*vision.Backbone, error) {
	return nil, ErrCGORequired
}
