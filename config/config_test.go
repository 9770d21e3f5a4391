package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/noisyclip/distort"
	"github.com/ollama/noisyclip/loss"
	"github.com/ollama/noisyclip/zeroshot"
)

const minimal = `
dataset: imagenet
dataset_dir: /data/imagenet
mapping_and_text_file: /data/mapping.json
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal), nil)
	require.NoError(t, err)

	assert.Equal(t, "imagenet", cfg.Dataset)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, 64, cfg.ValBatchSize())
	assert.Equal(t, loss.KindSimCLR, cfg.LossKind())
	assert.Equal(t, loss.ReductionMean, cfg.LossReduction())
	assert.Equal(t, distort.KindNone, cfg.DistortionKind())
	assert.Equal(t, zeroshot.F32, cfg.LogitPrecision())
	assert.Equal(t, IntervalEpoch, cfg.LRInterval)
}

func TestLoadFull(t *testing.T) {
	body := minimal + `
batch_size: 16
max_epochs: 3
distortion: Square
length: 50
loss_type: clip
loss_tau: 0.07
lr: 0.0001
precision: f16
gpus: 2
num_nodes: 2
seed: 7
`
	cfg, err := Load(writeConfig(t, body), nil)
	require.NoError(t, err)

	assert.Equal(t, distort.KindSquare, cfg.DistortionKind())
	assert.Equal(t, 50, cfg.DistortionParams().SquareSize)
	assert.Equal(t, loss.KindCLIP, cfg.LossKind())
	assert.Equal(t, zeroshot.F16, cfg.LogitPrecision())
	assert.Equal(t, uint64(7), cfg.Seed)
}

func TestDevices(t *testing.T) {
	t.Setenv("NOISYCLIP_DEVICES", "")
	cfg := Default()
	cfg.GPUs, cfg.NumNodes = 2, 3
	assert.Equal(t, 6, cfg.Devices())

	cfg.GPUs = 0
	assert.Equal(t, 3, cfg.Devices())

	t.Setenv("NOISYCLIP_DEVICES", "4")
	assert.Equal(t, 4, cfg.Devices())
}

func TestTMax(t *testing.T) {
	t.Setenv("NOISYCLIP_DEVICES", "")
	cfg := Default()
	cfg.BatchSize = 10
	cfg.GPUs = 2

	assert.Equal(t, 5, cfg.TMax(100))
	assert.Equal(t, 1, cfg.TMax(3))

	cfg.SchedulerTMax = 42
	assert.Equal(t, 42, cfg.TMax(100))
}

func TestOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal+"batch_size: 8\n"), []string{
		"batch_size=4",
		"loss_type=mse",
		"distortion=Random",
		"percent_missing=0.25",
		"experiment_name=override",
	})
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, loss.KindMSE, cfg.LossKind())
	assert.Equal(t, distort.KindRandom, cfg.DistortionKind())
	assert.InDelta(t, 0.25, cfg.PercentMissing, 1e-12)
	assert.Equal(t, "override", cfg.ExperimentName)
}

func TestOverrideMalformed(t *testing.T) {
	_, err := Load(writeConfig(t, minimal), []string{"batch_size"})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"batch_sise: 4\n"), nil)
	require.ErrorIs(t, err, ErrUnknownKey)
	assert.Contains(t, err.Error(), `did you mean "batch_size"`)

	_, err = Load(writeConfig(t, minimal), []string{"lr_intervall=step"})
	require.ErrorIs(t, err, ErrUnknownKey)
	assert.Contains(t, err.Error(), `"lr_interval"`)
}

func TestWrongType(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"batch_size: many\n"), nil)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestMissingMapping(t *testing.T) {
	_, err := Load(writeConfig(t, "dataset_dir: /data\n"), nil)
	require.ErrorIs(t, err, ErrMissingLabelMapping)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		contains string
	}{
		{"loss typo", "loss_type: simclrr\n", `did you mean "simclr"`},
		{"distortion", "distortion: Noise\n", "unsupported distortion"},
		{"precision", "precision: int8\n", "unsupported precision"},
		{"batch size", "batch_size: 0\n", "batch_size"},
		{"fraction", "distortion: Random\npercent_missing: 1.5\n", "percent_missing"},
		{"square", "distortion: Square\nlength: 0\n", "square"},
		{"blur", "distortion: Blur\nkernel_size: 4\nstd: 1\n", "kernel"},
		{"tau", "loss_type: clip\nloss_tau: 0\n", "loss_tau"},
		{"interval", "lr_interval: batch\n", "lr_interval"},
		{"device", "device: tpu\n", "device"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, minimal+tt.body), nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestMSEIgnoresTau(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"loss_type: mse\nloss_tau: 0\n"), nil)
	require.NoError(t, err)
}

func TestHyperparameters(t *testing.T) {
	cfg := Default()
	cfg.BatchSize = 12
	hp := cfg.Hyperparameters()

	first := hp.Oldest()
	require.NotNil(t, first)
	assert.Equal(t, "dataset", first.Key)

	v, ok := hp.Get("batch_size")
	require.True(t, ok)
	assert.Equal(t, 12, v)
	assert.Equal(t, len(Keys()), hp.Len())
}

func TestSuggest(t *testing.T) {
	assert.Equal(t, "clip", suggest("clpi", []string{"simclr", "clip", "mse"}))
	assert.Equal(t, "", suggest("completely-different", []string{"mse"}))
}
