// Package vision - Backbone Registry fuer dynamische Modell-Registrierung.
//
// MODUL: registry
// ZWECK: Zentrale Registry fuer Backbone-Factories mit Thread-sicherer Verwaltung
// INPUT: Backbone-Name, BackboneFactory-Funktionen, LoadOptions
// OUTPUT: Registrierte Backbone-Instanzen
// NEBENEFFEKTE: DefaultRegistry wird von init()-Funktionen der Backends befuellt
// ABHAENGIGKEITEN: sync (stdlib), encoder.go (BackboneFactory, Backbone)
// HINWEISE: Thread-sicher durch RWMutex
package vision

import (
	"slices"
	"sync"
)

// ============================================================================
// Registry - Zentrale Backbone-Verwaltung
// ============================================================================

// Registry verwaltet registrierte Backbone-Factories.
type Registry struct {
	factories map[string]BackboneFactory
	mu        sync.RWMutex
}

// NewRegistry erstellt eine neue leere Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]BackboneFactory),
	}
}

// RegistryError repraesentiert einen Registry-spezifischen Fehler.
type RegistryError struct {
	Op   string // Operation (z.B. "create")
	Name string // Backbone-Name
	Err  error  // Urspruenglicher Fehler
}

// Error implementiert das error Interface.
func (e *RegistryError) Error() string {
	return "vision: " + e.Op + " backbone '" + e.Name + "': " + e.Err.Error()
}

// Unwrap gibt den urspruenglichen Fehler zurueck.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Register registriert eine Factory unter dem angegebenen Namen.
// Ueberschreibt existierende Eintraege ohne Warnung.
func (r *Registry) Register(name string, factory BackboneFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
}

// Unregister entfernt einen Backbone aus der Registry.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.factories[name]
	delete(r.factories, name)
	return exists
}

// Get gibt die Factory fuer den angegebenen Namen zurueck.
func (r *Registry) Get(name string) (BackboneFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	return factory, exists
}

// Has prueft ob ein Backbone unter dem Namen registriert ist.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List gibt alle registrierten Namen sortiert zurueck.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count gibt die Anzahl registrierter Backbones zurueck.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.factories)
}

// Create erstellt einen Backbone mit der registrierten Factory.
func (r *Registry) Create(name string, opts LoadOptions) (*Backbone, error) {
	factory, exists := r.Get(name)
	if !exists {
		return nil, &RegistryError{Op: "create", Name: name, Err: ErrUnknownBackend}
	}

	b, err := factory(opts)
	if err != nil {
		return nil, &RegistryError{Op: "create", Name: name, Err: err}
	}
	if b.Name == "" {
		b.Name = name
	}
	return b, nil
}

// ============================================================================
// Globale Registry-Instanz
// ============================================================================

// DefaultRegistry ist die globale Registry. Backends registrieren sich via init().
var DefaultRegistry = NewRegistry()

// RegisterToDefault registriert eine Factory in der DefaultRegistry.
func RegisterToDefault(name string, factory BackboneFactory) {
	DefaultRegistry.Register(name, factory)
}

// MustRegisterToDefault registriert eine Factory und panict bei nil-Factory.
func MustRegisterToDefault(name string, factory BackboneFactory) {
	if factory == nil {
		panic("vision: nil factory for backbone '" + name + "'")
	}
	RegisterToDefault(name, factory)
}

// ListFromDefault gibt alle Namen der DefaultRegistry zurueck.
func ListFromDefault() []string {
	return DefaultRegistry.List()
}
