// MODUL: options
// ZWECK: Functional Options Pattern fuer Backbone-Encoder Konfiguration
// INPUT: Optionale Konfigurationsparameter (Device, Threads, BatchSize, Modellpfade)
// OUTPUT: LoadOptions Struct mit Konfiguration
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: envconfig (Thread-Default)
// HINWEISE: Verwendet Functional Options Pattern fuer erweiterbare Konfiguration

package vision

import (
	"errors"

	"github.com/ollama/noisyclip/envconfig"
)

// ============================================================================
// LoadOptions - Zentrale Konfigurationsstruktur
// ============================================================================

// LoadOptions enthaelt die Konfiguration fuer das Laden eines Backbones.
type LoadOptions struct {
	Device        string // Compute-Backend: "cpu", "cuda"
	Threads       int    // Anzahl CPU-Threads
	BatchSize     int    // maximale Batch-Groesse pro Inferenz-Aufruf
	MainGPU       int    // Index des GPUs fuer dieses Replikat
	ModelPath     string // Bild-Encoder (z.B. ONNX-Datei)
	TextModelPath string // Text-Encoder
	ImageSize     int    // Eingabe-Aufloesung n_px
	EmbeddingDim  int    // Ausgabe-Dimension (nur fuer Backbones ohne Gewichtsdatei)
	Seed          uint64 // Initialisierung fuer zufaellig erzeugte Gewichte
}

// Option ist eine funktionale Option fuer LoadOptions.
type Option func(*LoadOptions)

// ============================================================================
// Fehler-Definitionen fuer Options
// ============================================================================

var (
	ErrInvalidDevice    = errors.New("vision: invalid device")
	ErrInvalidThreads   = errors.New("vision: invalid thread count")
	ErrInvalidBatchSize = errors.New("vision: invalid batch size")
	ErrInvalidImageSize = errors.New("vision: invalid image size")
	ErrInvalidDim       = errors.New("vision: invalid embedding dimension")
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"

	// DefaultEmbeddingDim entspricht ViT-B/32
	DefaultEmbeddingDim = 512
)

// DefaultLoadOptions gibt eine Standard-Konfiguration zurueck.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Device:       DeviceCPU,
		Threads:      envconfig.Threads(),
		BatchSize:    64,
		ImageSize:    DefaultImageSize,
		EmbeddingDim: DefaultEmbeddingDim,
	}
}

// ============================================================================
// Functional Options - Builder-Funktionen
// ============================================================================

// WithDevice setzt das Compute-Backend.
func WithDevice(device string) Option {
	return func(o *LoadOptions) {
		o.Device = device
	}
}

// WithThreads setzt die Anzahl der CPU-Threads.
// Werte <= 0 werden ignoriert.
func WithThreads(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.Threads = n
		}
	}
}

// WithBatchSize setzt die Batch-Groesse fuer Encoding.
func WithBatchSize(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}

// WithMainGPU setzt den GPU-Index.
func WithMainGPU(gpu int) Option {
	return func(o *LoadOptions) {
		if gpu >= 0 {
			o.MainGPU = gpu
		}
	}
}

// WithModelPath setzt die Gewichtsdatei des Bild-Encoders.
func WithModelPath(path string) Option {
	return func(o *LoadOptions) {
		o.ModelPath = path
	}
}

// WithTextModelPath setzt die Gewichtsdatei des Text-Encoders.
func WithTextModelPath(path string) Option {
	return func(o *LoadOptions) {
		o.TextModelPath = path
	}
}

// WithImageSize setzt die Eingabe-Aufloesung.
func WithImageSize(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.ImageSize = n
		}
	}
}

// WithEmbeddingDim setzt die Ausgabe-Dimension.
func WithEmbeddingDim(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.EmbeddingDim = n
		}
	}
}

// WithSeed setzt den Seed fuer zufaellige Initialisierung.
func WithSeed(seed uint64) Option {
	return func(o *LoadOptions) {
		o.Seed = seed
	}
}

// Apply wendet alle Options auf LoadOptions an.
func (o *LoadOptions) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// Validate prueft ob die LoadOptions gueltig sind.
func (o *LoadOptions) Validate() error {
	switch o.Device {
	case DeviceCPU, DeviceCUDA:
	default:
		return ErrInvalidDevice
	}

	if o.Threads <= 0 {
		return ErrInvalidThreads
	}
	if o.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if o.ImageSize <= 0 {
		return ErrInvalidImageSize
	}
	if o.EmbeddingDim <= 0 {
		return ErrInvalidDim
	}
	return nil
}
