package gguf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, kv KV, ts []*Tensor) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gguf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, Write(f, kv, ts))
	return path
}

func TestRoundTrip(t *testing.T) {
	kv := KV{
		"general.architecture": "noisyclip",
		"noisyclip.epoch":      uint32(3),
		"noisyclip.step":       uint64(120),
		"noisyclip.lr":         float64(1e-5),
		"noisyclip.fixed":      true,
		"noisyclip.classes":    []string{"cat", "dog", ""},
		"noisyclip.values":     []float32{1.5, -2},
	}
	ts := []*Tensor{
		{Name: "b", Shape: []uint64{3}, Type: TensorTypeF32, Data: []float32{1, 2, 3}},
		{Name: "a", Shape: []uint64{2, 2}, Type: TensorTypeF16, Data: []float32{0.5, -1, 65504, 0.1}},
	}

	f, err := Open(writeFile(t, kv, ts))
	require.NoError(t, err)

	require.Equal(t, uint32(3), f.Version)
	if diff := cmp.Diff(kv, f.KV); diff != "" {
		t.Errorf("kv mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, f.Tensors, 2)
	require.Equal(t, "a", f.Tensors[0].Name)

	b, ok := f.Tensor("b")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, b.Data)
	require.Equal(t, uint64(0), b.Offset%DefaultAlignment)

	a, _ := f.Tensor("a")
	require.Equal(t, TensorTypeF16, a.Type)
	require.Equal(t, float32(0.5), a.Data[0])
	require.Equal(t, float32(65504), a.Data[2])
	require.InDelta(t, 0.1, a.Data[3], 1e-4)

	_, ok = f.Tensor("missing")
	require.False(t, ok)
}

func TestWriteErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gguf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	err = Write(f, KV{}, []*Tensor{{Name: "x", Shape: []uint64{2}, Data: []float32{1}}})
	require.ErrorIs(t, err, ErrTensorShape)

	err = Write(f, KV{"k": struct{}{}}, nil)
	require.ErrorIs(t, err, ErrType)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("GGML\x03\x00\x00\x00"))
	require.ErrorIs(t, err, ErrMagic)

	_, err = Read(strings.NewReader("GGUF\x02\x00\x00\x00"))
	require.ErrorIs(t, err, ErrVersion)

	_, err = Read(strings.NewReader("GG"))
	require.Error(t, err)
}

func TestKVAccessors(t *testing.T) {
	kv := KV{"s": "x", "u32": uint32(4), "list": []string{"a"}}
	require.Equal(t, "x", kv.String("s"))
	require.Equal(t, "", kv.String("u32"))
	require.Equal(t, uint64(4), kv.Uint("u32"))
	require.Equal(t, uint64(7), kv.Uint("missing", 7))
	require.Equal(t, []string{"a"}, kv.Strings("list"))
	require.Equal(t, []string{"list", "s", "u32"}, kv.Keys())
}

func TestPadding(t *testing.T) {
	cases := []struct{ offset, want int64 }{{0, 0}, {1, 31}, {32, 0}, {33, 31}, {63, 1}}
	for _, c := range cases {
		if got := padding(c.offset, 32); got != c.want {
			t.Errorf("padding(%d) = %d, want %d", c.offset, got, c.want)
		}
	}
}
