package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nlpodyssey/gopickle/pickle"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/noisyclip/embedding"
	"github.com/ollama/noisyclip/labels"
	"github.com/ollama/noisyclip/vision"
)

var ErrPrototypeFormat = errors.New("encoder: prototypes must be a C x D list of numbers")

// Prototypes sind die Text-Embeddings der Klassen-Prompts (C x D).
// Nach der Erstellung unveraenderlich und nebenlaeufig lesbar.
type Prototypes struct {
	m     *mat.Dense
	names []string
}

// NewPrototypes uebernimmt eine Kopie von m
func NewPrototypes(m mat.Matrix, names []string) (*Prototypes, error) {
	r, _ := m.Dims()
	if r == 0 {
		return nil, embedding.ErrEmpty
	}
	if names != nil && len(names) != r {
		return nil, fmt.Errorf("%w: %d names for %d prototypes", embedding.ErrShapeMismatch, len(names), r)
	}
	return &Prototypes{m: mat.DenseCopyOf(m), names: slices.Clone(names)}, nil
}

// BuildPrototypes kodiert einen Prompt pro Klasse
func BuildPrototypes(ctx context.Context, text vision.TextEncoder, names []string, template string) (*Prototypes, error) {
	if text == nil {
		return nil, vision.ErrNoTextEncoder
	}
	rows, err := text.EncodeText(ctx, labels.Prompts(names, template))
	if err != nil {
		return nil, fmt.Errorf("prototypes: %w", err)
	}
	m, err := embedding.FromRows(rows)
	if err != nil {
		return nil, err
	}
	return &Prototypes{m: m, names: slices.Clone(names)}, nil
}

// Matrix gibt eine Kopie der C x D Matrix zurueck
func (p *Prototypes) Matrix() *mat.Dense {
	return mat.DenseCopyOf(p.m)
}

// View gibt die Matrix ohne Kopie zurueck, nur lesend verwenden
func (p *Prototypes) View() mat.Matrix {
	return p.m
}

// Len gibt die Anzahl Klassen zurueck
func (p *Prototypes) Len() int {
	r, _ := p.m.Dims()
	return r
}

// Dim gibt die Embedding-Dimension zurueck
func (p *Prototypes) Dim() int {
	_, c := p.m.Dims()
	return c
}

// Names gibt die Klassennamen zurueck, nil wenn unbekannt
func (p *Prototypes) Names() []string {
	return slices.Clone(p.names)
}

type prototypeFile struct {
	ClassNames []string    `json:"class_names,omitempty"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Save schreibt die Prototypen als JSON
func (p *Prototypes) Save(path string) error {
	data, err := json.Marshal(prototypeFile{ClassNames: p.names, Embeddings: embedding.ToRows(p.m)})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadPrototypes liest JSON ({"class_names", "embeddings"} oder eine nackte Liste)
// oder eine gepickelte Liste von Listen (.pkl, .pickle)
func LoadPrototypes(path string) (*Prototypes, error) {
	var file prototypeFile

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl", ".pickle":
		v, err := pickle.Load(path)
		if err != nil {
			return nil, fmt.Errorf("prototypes: %w", err)
		}
		if file.Embeddings, err = floatRows(v); err != nil {
			return nil, err
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("prototypes: %w", err)
		}
		if err := json.Unmarshal(data, &file); err != nil {
			if err := json.Unmarshal(data, &file.Embeddings); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPrototypeFormat, err)
			}
		}
	}

	m, err := embedding.FromRows(file.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("prototypes: %w", err)
	}
	return NewPrototypes(m, file.ClassNames)
}

type sequence interface {
	Len() int
	Get(i int) interface{}
}

func floatRows(v interface{}) ([][]float32, error) {
	outer, ok := v.(sequence)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrPrototypeFormat, v)
	}

	rows := make([][]float32, outer.Len())
	for i := range rows {
		inner, ok := outer.Get(i).(sequence)
		if !ok {
			return nil, fmt.Errorf("%w: row %d is %T", ErrPrototypeFormat, i, outer.Get(i))
		}
		row := make([]float32, inner.Len())
		for j := range row {
			switch x := inner.Get(j).(type) {
			case float64:
				row[j] = float32(x)
			case int:
				row[j] = float32(x)
			default:
				return nil, fmt.Errorf("%w: element [%d][%d] is %T", ErrPrototypeFormat, i, j, x)
			}
		}
		rows[i] = row
	}
	return rows, nil
}
