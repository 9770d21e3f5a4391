// Package dataset stellt gelabelte Bild-Datensaetze und ihre kontrastive Huelle bereit.
//
// MODUL: dataset
// ZWECK: Bild-Ordner lesen, (clean, noisy[, label]) Tripel erzeugen, Batches laden
// INPUT: <root>/<split>/<klasse>/<bild>, distort.Transform, Normalizer
// OUTPUT: Item, Batch
// NEBENEFFEKTE: Dateisystem-Lesezugriffe
// ABHAENGIGKEITEN: vision, distort, errgroup
// HINWEISE: Korruption wird pro Zugriff neu gezogen, nie zwischengespeichert.
// Reihenfolge: Resize -> CenterCrop -> ToTensor -> Korruption -> Normalize
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/ollama/noisyclip/vision"
)

var (
	ErrIndex = errors.New("dataset: index out of range")
	ErrEmpty = errors.New("dataset: no images found")
)

// Sample ist ein Bild mit Klassen-Index
type Sample struct {
	Image vision.Tensor
	Label int
}

// Dataset ist ein indizierbarer Datensatz mit fester Laenge
type Dataset interface {
	Len() int
	Get(i int) (Sample, error)
}

// ============================================================================
// ImageFolder
// ============================================================================

type entry struct {
	path  string
	label int
}

// ImageFolder liest <root>/<split>/<klasse>/<bild>, Klassen alphabetisch sortiert.
// Get liefert Pixel in [0,1], normalisiert wird erst in Contrastive.
type ImageFolder struct {
	dir        string
	classes    []string
	entries    []entry
	preprocess vision.Preprocess
}

// NewImageFolder indiziert einen Split, Bilder werden erst in Get geladen
func NewImageFolder(root, split string, pre vision.Preprocess) (*ImageFolder, error) {
	dir := filepath.Join(root, split)
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	f := &ImageFolder{dir: dir, preprocess: pre}
	for _, d := range dirents {
		if d.IsDir() {
			f.classes = append(f.classes, d.Name())
		}
	}
	slices.Sort(f.classes)

	for label, class := range f.classes {
		var files []string
		err := filepath.WalkDir(filepath.Join(dir, class), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && vision.IsImageFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("dataset: %w", err)
		}

		slices.Sort(files)
		for _, path := range files {
			f.entries = append(f.entries, entry{path: path, label: label})
		}
	}

	if len(f.entries) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmpty, dir)
	}
	return f, nil
}

// Classes gibt die Klassennamen in Index-Reihenfolge zurueck
func (f *ImageFolder) Classes() []string {
	return slices.Clone(f.classes)
}

func (f *ImageFolder) Len() int {
	return len(f.entries)
}

// Path gibt den Dateipfad von Element i zurueck
func (f *ImageFolder) Path(i int) string {
	return f.entries[i].path
}

func (f *ImageFolder) Get(i int) (Sample, error) {
	if i < 0 || i >= len(f.entries) {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndex, i, len(f.entries))
	}

	e := f.entries[i]
	t, err := f.preprocess.LoadPixels(e.path)
	if err != nil {
		return Sample{}, fmt.Errorf("dataset: %w", err)
	}
	return Sample{Image: t, Label: e.label}, nil
}

// ============================================================================
// InMemory
// ============================================================================

// InMemory haelt bereits vorverarbeitete Tensoren
type InMemory struct {
	Images []vision.Tensor
	Labels []int
}

func (m *InMemory) Len() int {
	return len(m.Images)
}

func (m *InMemory) Get(i int) (Sample, error) {
	if i < 0 || i >= len(m.Images) {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndex, i, len(m.Images))
	}
	label := 0
	if i < len(m.Labels) {
		label = m.Labels[i]
	}
	return Sample{Image: m.Images[i], Label: label}, nil
}
