package config

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

// Keys gibt alle gueltigen YAML-Schluessel in Deklarations-Reihenfolge zurueck
func Keys() []string {
	t := reflect.TypeFor[Config]()
	keys := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" {
			keys = append(keys, name)
		}
	}
	return keys
}

// suggest gibt den naechsten Kandidaten zurueck, wenn er nah genug ist
func suggest(s string, candidates []string) string {
	best, bestDist := "", len(s)/2+2
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(s, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// applyOverrides setzt "key=value" Paare in das Mapping des Dokuments
func applyOverrides(data []byte, overrides []string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalid)
	}
	root := doc.Content[0]

	for _, o := range overrides {
		key, value, ok := strings.Cut(o, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: override %q is not key=value", ErrInvalid, o)
		}

		var v yaml.Node
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("%w: override %s: %v", ErrInvalid, key, err)
		}
		node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: ""}
		if len(v.Content) == 1 {
			node = v.Content[0]
		}

		setKey(root, key, node)
	}

	if err := checkKeys(root); err != nil {
		return nil, err
	}
	return &doc, nil
}

func setKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

// checkKeys meldet unbekannte Schluessel mit Vorschlag
func checkKeys(mapping *yaml.Node) error {
	known := Keys()
	for i := 0; i < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		if slices.Contains(known, key) {
			continue
		}
		if s := suggest(key, known); s != "" {
			return fmt.Errorf("%w %q (line %d), did you mean %q?", ErrUnknownKey, key, mapping.Content[i].Line, s)
		}
		return fmt.Errorf("%w %q (line %d)", ErrUnknownKey, key, mapping.Content[i].Line)
	}
	return nil
}

// decodeStrict dekodiert mit KnownFields, damit Typfehler und Duplikate auffallen
func decodeStrict(doc *yaml.Node, cfg *Config) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
