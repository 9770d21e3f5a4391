// Package labels speichert und laedt die geordnete Liste der Klassennamen.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/gopickle/pickle"
)

// DefaultTemplate ist das Prompt-Muster fuer Text-Prototypen
const DefaultTemplate = "A photo of {}"

var (
	ErrMissingMapping = errors.New("labels: no label mapping file specified")
	ErrEmptyMapping   = errors.New("labels: label mapping is empty")
	ErrFormat         = errors.New("labels: label mapping is not a list of strings")
	ErrReadOnly       = errors.New("labels: pickle mappings can only be read")
)

func isPickle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl", ".pickle":
		return true
	}
	return false
}

// Save schreibt die Namen als JSON-Array
func Save(path string, names []string) error {
	if path == "" {
		return ErrMissingMapping
	}
	if len(names) == 0 {
		return ErrEmptyMapping
	}
	if isPickle(path) {
		return fmt.Errorf("%w: %s", ErrReadOnly, path)
	}

	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Load liest ein JSON-Array oder eine gepickelte Python-Liste (.pkl, .pickle)
func Load(path string) ([]string, error) {
	if path == "" {
		return nil, ErrMissingMapping
	}

	var names []string
	if isPickle(path) {
		v, err := pickle.Load(path)
		if err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
		names, err = stringList(v)
		if err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}

	if len(names) == 0 {
		return nil, ErrEmptyMapping
	}
	return names, nil
}

type sequence interface {
	Len() int
	Get(i int) interface{}
}

func stringList(v interface{}) ([]string, error) {
	seq, ok := v.(sequence)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrFormat, v)
	}

	names := make([]string, seq.Len())
	for i := range names {
		s, ok := seq.Get(i).(string)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrFormat, i, seq.Get(i))
		}
		names[i] = s
	}
	return names, nil
}

// Prompt setzt den bereinigten Namen in das Template ein ("_" wird zu Leerzeichen)
func Prompt(template, name string) string {
	if template == "" {
		template = DefaultTemplate
	}
	name = strings.ReplaceAll(strings.TrimSpace(name), "_", " ")
	if !strings.Contains(template, "{}") {
		return template + " " + name
	}
	return strings.ReplaceAll(template, "{}", name)
}

// Prompts baut einen Prompt pro Klasse in Index-Reihenfolge
func Prompts(names []string, template string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Prompt(template, n)
	}
	return out
}
