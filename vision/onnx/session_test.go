//go:build cgo

package onnx

import (
	"testing"

	ort "github.com/yalue/onnxruntime_go"
)

func TestAppendCUDA(t *testing.T) {
	if err := InitRuntime(); err != nil {
		t.Skipf("onnxruntime not available: %v", err)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		t.Fatal(err)
	}
	defer sessOpts.Destroy()

	// ohne CUDA faellt die Session auf die CPU zurueck
	if err := appendCUDA(sessOpts, 0); err != nil {
		t.Errorf("appendCUDA() error = %v", err)
	}
}
