package patchproj

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ollama/noisyclip/vision"
)

func testOptions() vision.LoadOptions {
	opts := vision.DefaultLoadOptions()
	opts.Apply(vision.WithImageSize(16), vision.WithEmbeddingDim(6), vision.WithSeed(42))
	return opts
}

func filled(v float32) vision.Tensor {
	t := vision.NewTensor(3, 16, 16)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func TestImageEncoderDeterministic(t *testing.T) {
	a, err := NewImageEncoder(testOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewImageEncoder(testOptions())

	batch := []vision.Tensor{filled(0.5), filled(-1)}
	ea, err := a.EncodeTensors(context.Background(), batch)
	if err != nil {
		t.Fatalf("EncodeTensors() error = %v", err)
	}
	eb, _ := b.EncodeTensors(context.Background(), batch)

	if len(ea) != 2 || len(ea[0]) != 6 {
		t.Fatalf("Form = %dx%d, erwartet 2x6", len(ea), len(ea[0]))
	}
	for i := range ea {
		for j := range ea[i] {
			if ea[i][j] != eb[i][j] {
				t.Fatalf("gleicher Seed liefert unterschiedliche Embeddings bei [%d][%d]", i, j)
			}
		}
	}
	if ea[0][0] == ea[1][0] && ea[0][1] == ea[1][1] {
		t.Error("verschiedene Bilder liefern identische Embeddings")
	}
}

func TestImageEncoderZeroImageNonZero(t *testing.T) {
	enc, _ := NewImageEncoder(testOptions())
	out, err := enc.EncodeTensors(context.Background(), []vision.Tensor{filled(0)})
	if err != nil {
		t.Fatal(err)
	}

	var norm float64
	for _, v := range out[0] {
		norm += float64(v * v)
	}
	if norm == 0 || math.IsNaN(norm) {
		t.Errorf("Norm = %v, erwartet > 0", norm)
	}
}

func TestImageEncoderErrors(t *testing.T) {
	enc, _ := NewImageEncoder(testOptions())

	if _, err := enc.EncodeTensors(context.Background(), nil); !errors.Is(err, vision.ErrEmptyBatch) {
		t.Errorf("leerer Batch: %v", err)
	}
	if _, err := enc.EncodeTensors(context.Background(), []vision.Tensor{vision.NewTensor(1, 16, 16)}); !errors.Is(err, vision.ErrTensorShape) {
		t.Errorf("falsche Kanaele: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := enc.EncodeTensors(ctx, []vision.Tensor{filled(0)}); !errors.Is(err, context.Canceled) {
		t.Errorf("abgebrochener Context: %v", err)
	}

	_ = enc.Close()
	if _, err := enc.EncodeTensors(context.Background(), []vision.Tensor{filled(0)}); !errors.Is(err, vision.ErrEncoderClosed) {
		t.Errorf("geschlossener Encoder: %v", err)
	}
}

func TestTextEncoder(t *testing.T) {
	enc, err := NewTextEncoder(testOptions())
	if err != nil {
		t.Fatal(err)
	}

	out, err := enc.EncodeText(context.Background(), []string{"A photo of cat", "A photo of cat", "A photo of dog"})
	if err != nil {
		t.Fatalf("EncodeText() error = %v", err)
	}
	for j := range out[0] {
		if out[0][j] != out[1][j] {
			t.Fatal("gleicher Prompt liefert unterschiedliche Embeddings")
		}
	}

	same := true
	for j := range out[0] {
		same = same && out[0][j] == out[2][j]
	}
	if same {
		t.Error("verschiedene Prompts liefern identische Embeddings")
	}
}

func TestRegisteredInDefault(t *testing.T) {
	b, err := vision.NewBackbone(Name, vision.WithImageSize(16), vision.WithEmbeddingDim(4))
	if err != nil {
		t.Fatalf("NewBackbone() error = %v", err)
	}
	defer b.Close()

	if b.EmbeddingDim() != 4 || b.Text == nil || b.Preprocess.Size != 16 {
		t.Errorf("Backbone = %+v", b)
	}
}
