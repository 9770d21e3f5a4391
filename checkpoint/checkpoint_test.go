package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/noisyclip/fs/gguf"
)

func testState() *State {
	hp := orderedmap.New[string, any]()
	hp.Set("loss_type", "simclr")
	hp.Set("batch_size", 32)
	hp.Set("lr", 1e-5)

	return &State{
		Epoch:           3,
		Step:            120,
		AdamStep:        120,
		LR:              0.5,
		Hyperparameters: hp,
		ClassNames:      []string{"tench", "goldfish", "great white shark"},
		Tensors: []Tensor{
			{Name: "student.head.weight", Shape: []int{2, 3}, Data: []float64{1, 2, 3, 4, 5, 6}},
			{Name: "student.head.bias", Shape: []int{3}, Data: []float64{0.5, -0.25, 0}},
			{Name: AdamMPrefix + "student.head.bias", Shape: []int{3}, Data: []float64{0.1, 0.2, 0.3}},
			{Name: AdamVPrefix + "student.head.bias", Shape: []int{3}, Data: []float64{0.01, 0.02, 0.03}},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "last.gguf")
	want := testState()
	require.NoError(t, Save(path, want))

	_, err := uuid.Parse(want.RunID)
	require.NoError(t, err, "run id should be generated")

	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, 3, got.Epoch)
	assert.Equal(t, 120, got.Step)
	assert.Equal(t, 120, got.AdamStep)
	assert.InDelta(t, 0.5, got.LR, 1e-12)

	if diff := cmp.Diff(want.ClassNames, got.ClassNames); diff != "" {
		t.Errorf("class names mismatch (-want +got):\n%s", diff)
	}

	sortTensors := cmpopts.SortSlices(func(a, b Tensor) bool { return a.Name < b.Name })
	if diff := cmp.Diff(want.Tensors, got.Tensors, sortTensors, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("tensors mismatch (-want +got):\n%s", diff)
	}

	keys := []string{}
	for pair := got.Hyperparameters.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"loss_type", "batch_size", "lr"}, keys)
}

func TestParams(t *testing.T) {
	params := testState().Params()
	assert.Len(t, params, 2)
	assert.Contains(t, params, "student.head.weight")
	assert.Contains(t, params, "student.head.bias")
}

func TestTensorShapeMismatch(t *testing.T) {
	s := testState()
	s.Tensors[0].Shape = []int{4, 4}
	err := Save(filepath.Join(t.TempDir(), "bad.gguf"), s)
	require.ErrorIs(t, err, gguf.ErrTensorShape)
}

func TestNoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(filepath.Join(dir, "epoch-001.gguf"), testState()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "epoch-001.gguf", entries[0].Name())
}

func TestChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last.gguf")
	require.NoError(t, Save(path, testState()))

	f, err := gguf.Open(path)
	require.NoError(t, err)
	f.Tensors[0].Data[0] += 1

	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gguf.Write(out, f.KV, f.Tensors))
	require.NoError(t, out.Close())

	_, err = Load(path)
	require.ErrorIs(t, err, ErrChecksum)
}

func writeRaw(t *testing.T, kv gguf.KV) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.gguf")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gguf.Write(f, kv, nil))
	return path
}

func TestVersion(t *testing.T) {
	cases := []struct {
		name    string
		version string
		err     error
	}{
		{"same", "v1.0.0", nil},
		{"minor", "v1.4.2", nil},
		{"major", "v2.0.0", ErrVersion},
		{"invalid", "1.0", ErrVersion},
		{"missing", "", ErrMissing},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			kv := gguf.KV{}
			if tt.version != "" {
				kv[keyFormatVersion] = tt.version
			}
			_, err := Load(writeRaw(t, kv))
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}
