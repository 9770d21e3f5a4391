package config

import (
	"reflect"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Hyperparameters gibt alle Schluessel in Deklarations-Reihenfolge zurueck.
// Wird als JSON in Checkpoints abgelegt und beim Start geloggt.
func (c *Config) Hyperparameters() *orderedmap.OrderedMap[string, any] {
	om := orderedmap.New[string, any]()

	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		om.Set(name, v.Field(i).Interface())
	}
	return om
}
