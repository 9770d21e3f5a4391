//go:build cgo

// MODUL: onnx/session
// ZWECK: ONNX Runtime Session Management - Erstellen, Konfigurieren, Batch-Ausfuehrung
// INPUT: Modell-Pfad (.onnx), Session-Optionen, NCHW-Batches
// OUTPUT: Session-Handle, Embedding-Matrix [N, D]
// NEBENEFFEKTE: Alloziert ONNX Runtime Ressourcen, GPU Memory
// ABHAENGIGKEITEN: onnxruntime_go, envconfig (NOISYCLIP_ORT_LIBRARY)
// HINWEISE: Destroy() MUSS aufgerufen werden

package onnx

import (
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ollama/noisyclip/envconfig"
)

// ============================================================================
// Runtime Initialisierung (Singleton)
// ============================================================================

var (
	runtimeInitOnce sync.Once
	runtimeInitErr  error
)

// InitRuntime initialisiert die ONNX Runtime einmalig.
func InitRuntime() error {
	runtimeInitOnce.Do(func() {
		if lib := envconfig.OrtLibrary(); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		runtimeInitErr = ort.InitializeEnvironment()
		if runtimeInitErr == nil {
			slog.Debug("onnxruntime initialized", "library", envconfig.OrtLibrary())
		}
	})
	return runtimeInitErr
}

// ============================================================================
// Session Struktur
// ============================================================================

// Session verwaltet eine ONNX Runtime Inference Session.
type Session struct {
	inner      *ort.DynamicAdvancedSession
	inputShape []int64 // aus Modell gelesen [N, C, H, W]
	outputDim  int64
}

// SessionOptions konfiguriert die ONNX Session
type SessionOptions struct {
	InputName   string
	OutputName  string
	NumThreads  int // Intra-Op Threads (0 = auto)
	UseGPU      bool
	GPUDeviceID int
}

// CreateSession erstellt eine neue ONNX Inference Session.
func CreateSession(modelPath string, opts SessionOptions) (*Session, error) {
	if err := InitRuntime(); err != nil {
		return nil, fmt.Errorf("runtime init: %w", err)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer sessOpts.Destroy()

	if opts.NumThreads > 0 {
		if err := sessOpts.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	if opts.UseGPU {
		if err := appendCUDA(sessOpts, opts.GPUDeviceID); err != nil {
			return nil, err
		}
	}

	inner, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		sessOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess := &Session{inner: inner}

	if inputs, outputs, err := ort.GetInputOutputInfo(modelPath); err == nil {
		for _, info := range inputs {
			if info.Name == opts.InputName && len(info.Dimensions) >= 4 {
				sess.inputShape = info.Dimensions
			}
		}
		for _, info := range outputs {
			if info.Name == opts.OutputName && len(info.Dimensions) >= 2 {
				sess.outputDim = info.Dimensions[len(info.Dimensions)-1]
			}
		}
	}

	return sess, nil
}

// appendCUDA haengt den CUDA-Provider an. Fehlt CUDA in der Runtime, bleibt die Session auf der CPU.
func appendCUDA(sessOpts *ort.SessionOptions, deviceID int) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		slog.Warn("cuda provider unavailable, falling back to cpu", "error", err)
		return nil
	}
	defer cudaOpts.Destroy()

	if err := cudaOpts.Update(map[string]string{
		"device_id": fmt.Sprintf("%d", deviceID),
	}); err != nil {
		return fmt.Errorf("cuda options: %w", err)
	}
	if err := sessOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		slog.Warn("cuda provider unavailable, falling back to cpu", "error", err)
	}
	return nil
}

// ImageSize liest H aus der NCHW Input-Shape, Fallback 224.
func (s *Session) ImageSize() int {
	if len(s.inputShape) >= 4 {
		if h := s.inputShape[2]; h > 0 && h <= 1024 {
			return int(h)
		}
	}
	return 224
}

// OutputDim liest D aus der Output-Shape, Fallback fallback.
func (s *Session) OutputDim(fallback int) int {
	if s.outputDim > 0 {
		return int(s.outputDim)
	}
	return fallback
}

// RunBatch fuehrt Inference fuer einen NCHW-Batch aus.
// input hat n*3*size*size Werte, Rueckgabe n*dim Werte.
func (s *Session) RunBatch(input []float32, n, size, dim int) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(int64(n), 3, int64(size), int64(size)), input)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(dim)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := s.inner.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	result := make([]float32, n*dim)
	copy(result, outputTensor.GetData())
	return result, nil
}

// Destroy gibt alle Session-Ressourcen frei
func (s *Session) Destroy() {
	if s.inner != nil {
		s.inner.Destroy()
		s.inner = nil
	}
}
