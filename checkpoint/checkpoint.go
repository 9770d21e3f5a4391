// Package checkpoint - Speichern und Laden des Trainingszustands als GGUF
//
// Dieses Modul enthaelt:
// - State: Student-Kopf, Adam-Momente, Epoche/Schritt, Hyperparameter, Klassennamen
// - Save: schreibt atomar (tmp + rename) mit blake2b Pruefsumme
// - Load: liest, prueft Format-Version (semver) und Pruefsumme
package checkpoint

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/mod/semver"

	"github.com/ollama/noisyclip/fs/gguf"
	"github.com/ollama/noisyclip/logutil"
)

// FormatVersion ist die Version des Checkpoint-Layouts.
// Dateien mit anderer Major-Version werden abgelehnt.
const FormatVersion = "v1.0.0"

// KV-Schluessel
const (
	keyFormatVersion = "noisyclip.format_version"
	keyRunID         = "noisyclip.run_id"
	keyEpoch         = "noisyclip.epoch"
	keyStep          = "noisyclip.step"
	keyAdamStep      = "noisyclip.adam.step"
	keyLR            = "noisyclip.lr"
	keyHparams       = "noisyclip.hparams"
	keyClassNames    = "noisyclip.class_names"
	keyChecksum      = "noisyclip.checksum"
)

// Praefixe der Optimierer-Tensoren
const (
	AdamMPrefix = "adam.m."
	AdamVPrefix = "adam.v."
)

var (
	ErrVersion  = errors.New("checkpoint: incompatible format version")
	ErrChecksum = errors.New("checkpoint: checksum mismatch")
	ErrMissing  = errors.New("checkpoint: missing entry")
)

// Tensor ist ein benannter Parameter in Zeilen-Reihenfolge
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// State ist alles, was fuer Fortsetzen und Zero-Shot Evaluation gebraucht wird
type State struct {
	RunID    string
	Epoch    int
	Step     int
	AdamStep int
	LR       float64

	Hyperparameters *orderedmap.OrderedMap[string, any]
	ClassNames      []string
	Tensors         []Tensor
}

// Tensor sucht einen Tensor nach Name
func (s *State) Tensor(name string) (Tensor, bool) {
	for _, t := range s.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return Tensor{}, false
}

// Params gibt alle Tensoren ohne Optimierer-Praefix als Name -> Werte zurueck
func (s *State) Params() map[string][]float64 {
	params := make(map[string][]float64)
	for _, t := range s.Tensors {
		if strings.HasPrefix(t.Name, AdamMPrefix) || strings.HasPrefix(t.Name, AdamVPrefix) {
			continue
		}
		params[t.Name] = t.Data
	}
	return params
}

// ============================================================================
// Save
// ============================================================================

// Save schreibt den Zustand nach path. Fehlende RunID wird erzeugt.
func Save(path string, s *State) error {
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}

	ts := make([]*gguf.Tensor, 0, len(s.Tensors))
	for _, t := range s.Tensors {
		gt, err := toGGUF(t)
		if err != nil {
			return err
		}
		ts = append(ts, gt)
	}

	sum, err := checksum(ts)
	if err != nil {
		return err
	}

	hparams := []byte("{}")
	if s.Hyperparameters != nil {
		if hparams, err = json.Marshal(s.Hyperparameters); err != nil {
			return fmt.Errorf("checkpoint: hparams: %w", err)
		}
	}

	kv := gguf.KV{
		"general.architecture": "noisyclip",
		keyFormatVersion:       FormatVersion,
		keyRunID:               s.RunID,
		keyEpoch:               uint64(s.Epoch),
		keyStep:                uint64(s.Step),
		keyAdamStep:            uint64(s.AdamStep),
		keyLR:                  s.LR,
		keyHparams:             string(hparams),
		keyChecksum:            sum,
	}
	if len(s.ClassNames) > 0 {
		kv[keyClassNames] = s.ClassNames
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer os.Remove(f.Name())

	if err := gguf.Write(f, kv, ts); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return err
	}
	logutil.Trace("checkpoint written", "path", path, "tensors", len(ts), "checksum", sum)
	return nil
}

func toGGUF(t Tensor) (*gguf.Tensor, error) {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	if n != len(t.Data) {
		return nil, fmt.Errorf("%w: %s has %d values for shape %v", gguf.ErrTensorShape, t.Name, len(t.Data), t.Shape)
	}

	// GGUF: innerste Dimension zuerst
	shape := make([]uint64, len(t.Shape))
	for i, d := range t.Shape {
		shape[len(t.Shape)-1-i] = uint64(d)
	}

	data := make([]float32, len(t.Data))
	for i, v := range t.Data {
		data[i] = float32(v)
	}
	return &gguf.Tensor{Name: t.Name, Shape: shape, Type: gguf.TensorTypeF32, Data: data}, nil
}

func fromGGUF(t *gguf.Tensor) Tensor {
	shape := make([]int, len(t.Shape))
	for i, d := range t.Shape {
		shape[len(t.Shape)-1-i] = int(d)
	}

	data := make([]float64, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return Tensor{Name: t.Name, Shape: shape, Data: data}
}

// checksum ist blake2b-256 ueber Name und Daten aller Tensoren in Namens-Reihenfolge
func checksum(ts []*gguf.Tensor) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	sorted := slices.Clone(ts)
	slices.SortFunc(sorted, func(a, b *gguf.Tensor) int {
		return strings.Compare(a.Name, b.Name)
	})

	var buf [4]byte
	for _, t := range sorted {
		h.Write([]byte(t.Name))
		for _, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ============================================================================
// Load
// ============================================================================

// Load liest einen Checkpoint und prueft Version und Pruefsumme
func Load(path string) (*State, error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	if err := checkVersion(f.KV.String(keyFormatVersion)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if want := f.KV.String(keyChecksum); want != "" {
		got, err := checksum(f.Tensors)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("%w: %s", ErrChecksum, path)
		}
	}

	s := &State{
		RunID:      f.KV.String(keyRunID),
		Epoch:      int(f.KV.Uint(keyEpoch)),
		Step:       int(f.KV.Uint(keyStep)),
		AdamStep:   int(f.KV.Uint(keyAdamStep)),
		ClassNames: f.KV.Strings(keyClassNames),
	}
	if lr, ok := f.KV[keyLR].(float64); ok {
		s.LR = lr
	}

	if raw := f.KV.String(keyHparams); raw != "" {
		s.Hyperparameters = orderedmap.New[string, any]()
		if err := json.Unmarshal([]byte(raw), s.Hyperparameters); err != nil {
			return nil, fmt.Errorf("checkpoint: hparams: %w", err)
		}
	}

	for _, t := range f.Tensors {
		s.Tensors = append(s.Tensors, fromGGUF(t))
	}
	return s, nil
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s", ErrMissing, keyFormatVersion)
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrVersion, v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("%w: file %s, supported %s", ErrVersion, v, semver.Major(FormatVersion))
	}
	return nil
}
