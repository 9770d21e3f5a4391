package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/noisyclip/config"
	"github.com/ollama/noisyclip/labels"
	"github.com/ollama/noisyclip/train"
)

// writeDataset legt <root>/<split>/<class>/<n>.png mit einfarbigen Bildern an
func writeDataset(t *testing.T, root string, classes []string, perClass int) {
	t.Helper()
	for _, split := range []string{"train", "val"} {
		for c, class := range classes {
			dir := filepath.Join(root, split, class)
			require.NoError(t, os.MkdirAll(dir, 0o755))
			for i := range perClass {
				img := image.NewRGBA(image.Rect(0, 0, 16, 16))
				for y := range 16 {
					for x := range 16 {
						img.Set(x, y, color.RGBA{uint8(80 * c), uint8(16*x + i), uint8(16 * y), 255})
					}
				}
				f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.png", i)))
				require.NoError(t, err)
				require.NoError(t, png.Encode(f, img))
				require.NoError(t, f.Close())
			}
		}
	}
}

func writeRunConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`
dataset: tiny
dataset_dir: %[1]s/data
batch_size: 2
workers: 1
max_epochs: 1
distortion: Square
length: 4
fixed_mask: true
loss_type: clip
loss_tau: 0.1
lr: 0.001
baseclip_type: patchproj
image_size: 16
embedding_dim: 8
seed: 5
experiment_name: e2e
checkpoint_dir: %[1]s/ckpt
mapping_and_text_file: %[1]s/mapping.json
save_mapping_and_text: true
`, dir)
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetArgs(args)
	c.SetOut(&out)
	c.SetErr(io.Discard)
	err := c.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainAndZeroShot(t *testing.T) {
	t.Setenv("NOISYCLIP_DEVICES", "2")
	dir := t.TempDir()
	classes := []string{"golden_retriever", "tabby_cat", "goldfish"}
	writeDataset(t, filepath.Join(dir, "data"), classes, 2)
	cfgPath := writeRunConfig(t, dir)

	_, err := execute(t, NewTrainCLI(), "--config_file", cfgPath)
	require.NoError(t, err)

	names, err := labels.Load(filepath.Join(dir, "mapping.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"golden_retriever", "goldfish", "tabby_cat"}, names)

	ckpt := filepath.Join(dir, "ckpt", "e2e", train.LastCheckpoint)
	assert.FileExists(t, ckpt)
	assert.FileExists(t, filepath.Join(dir, "ckpt", "e2e", "epoch-001.gguf"))

	out, err := execute(t, NewZeroShotCLI(), "--config_file", cfgPath, "--ckpt_file", ckpt, "--set", "save_mapping_and_text=false", "--per_class")
	require.NoError(t, err)
	assert.Contains(t, out, "EXPERIMENT")
	assert.Contains(t, out, "e2e")
	assert.Contains(t, out, "CLASS")
	for _, name := range classes {
		assert.Contains(t, out, name)
	}
}

func TestResume(t *testing.T) {
	t.Setenv("NOISYCLIP_DEVICES", "")
	dir := t.TempDir()
	writeDataset(t, filepath.Join(dir, "data"), []string{"a", "b"}, 2)
	cfgPath := writeRunConfig(t, dir)

	_, err := execute(t, NewTrainCLI(), "--config_file", cfgPath)
	require.NoError(t, err)

	ckpt := filepath.Join(dir, "ckpt", "e2e", train.LastCheckpoint)
	_, err = execute(t, NewTrainCLI(), "--config_file", cfgPath, "--set", "max_epochs=2", "--resume", ckpt)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "ckpt", "e2e", "epoch-002.gguf"))
}

func TestMissingFlags(t *testing.T) {
	_, err := execute(t, NewTrainCLI())
	require.ErrorIs(t, err, errConfigFlag)

	_, err = execute(t, NewZeroShotCLI(), "--config_file", "run.yaml")
	require.ErrorIs(t, err, errCkptFlag)
}

func TestMissingMappingFile(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, filepath.Join(dir, "data"), []string{"a", "b"}, 1)
	cfgPath := writeRunConfig(t, dir)

	_, err := execute(t, NewZeroShotCLI(), "--config_file", cfgPath, "--ckpt_file", "none.gguf", "--set", "save_mapping_and_text=false")
	require.ErrorIs(t, err, config.ErrMissingLabelMapping)
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, "blur-7", 3, train.Report{Top1: 0.5, Top5: 0.875, Total: 8})

	out := buf.String()
	assert.Contains(t, out, "blur-7")
	assert.Contains(t, out, "0.5000")
	assert.Contains(t, out, "0.8750")
}

func TestEnvDocs(t *testing.T) {
	c := NewTrainCLI()
	assert.Contains(t, c.UsageTemplate(), "NOISYCLIP_DEVICES")
}

func TestRenderClassReport(t *testing.T) {
	var buf bytes.Buffer
	r := train.Report{ClassCorrect: []int{3, 0, 1}, ClassTotal: []int{4, 0, 2}}
	renderClassReport(&buf, []string{"tench", "goldfish"}, r)

	out := buf.String()
	assert.Contains(t, out, "tench")
	assert.Contains(t, out, "0.7500")
	assert.NotContains(t, out, "goldfish", "classes without samples are skipped")
	assert.Contains(t, out, "0.5000")
	assert.Regexp(t, `(?m)^2\s`, out, "unnamed classes fall back to the index")
}
