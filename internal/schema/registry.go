package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/csvimport/internal/core"
)

//go:embed default.yaml
var defaultSchema []byte

// Registry holds entity definitions by name. It implements
// core.SchemaProvider.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*core.EntityDef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]*core.EntityDef)}
}

// Default returns a registry with the built-in Account, Contact and Lead
// definitions.
func Default() (*Registry, error) {
	return Parse(defaultSchema)
}

// Load reads a schema file. An empty path loads the built-in definitions.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(f.Entities) == 0 {
		return nil, fmt.Errorf("parse schema: no entities defined")
	}

	defs := make(map[string]*core.EntityDef, len(f.Entities))
	for _, spec := range f.Entities {
		def, err := expand(spec)
		if err != nil {
			return nil, err
		}
		if _, exists := defs[def.Name]; exists {
			return nil, fmt.Errorf("entity already defined: %s", def.Name)
		}
		defs[def.Name] = def
	}
	if err := linkForeign(defs); err != nil {
		return nil, err
	}

	r := NewRegistry()
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Registering a name twice is an error.
func (r *Registry) Register(def *core.EntityDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[def.Name]; exists {
		return fmt.Errorf("entity already registered: %s", def.Name)
	}
	r.entities[def.Name] = def
	return nil
}

// Entity returns the definition of entityType.
func (r *Registry) Entity(entityType string) (*core.EntityDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.entities[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q: %w", entityType, core.ErrNotFound)
	}
	return def, nil
}

// Names returns the registered entity names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
