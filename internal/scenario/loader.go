package scenario

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Registry holds all available scenarios
type Registry struct {
	scenarios map[string]*Scenario
}

// NewRegistry creates a new scenario registry
func NewRegistry() *Registry {
	return &Registry{
		scenarios: make(map[string]*Scenario),
	}
}

// Parse decodes and validates one scenario document
func Parse(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// LoadFromFile loads a scenario from a YAML file
func (r *Registry) LoadFromFile(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := Parse(data)
	if err != nil {
		return err
	}

	r.scenarios[scenario.Name] = scenario
	return nil
}

// LoadFromDir loads all scenarios from a directory, overriding built-ins of the same name
func (r *Registry) LoadFromDir(dir string) error {
	return r.LoadFromFS(os.DirFS(dir), ".")
}

// LoadBuiltin loads the scenarios compiled into the binary
func (r *Registry) LoadBuiltin() error {
	return r.LoadFromFS(builtinFS, "builtin")
}

// LoadFromFS loads every .yaml/.yml file in dir of fsys
func (r *Registry) LoadFromFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read scenarios directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		file := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("failed to read scenario %s: %w", file, err)
		}

		scenario, err := Parse(data)
		if err != nil {
			return fmt.Errorf("failed to load scenario from %s: %w", file, err)
		}

		r.scenarios[scenario.Name] = scenario
	}

	return nil
}

// Get retrieves a scenario by name
func (r *Registry) Get(name string) (*Scenario, error) {
	scenario, ok := r.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("scenario '%s' not found", name)
	}
	return scenario, nil
}

// List returns all scenario names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.scenarios))
	for name := range r.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListWithDescriptions returns all scenarios with their descriptions
func (r *Registry) ListWithDescriptions() map[string]string {
	result := make(map[string]string)
	for name, scenario := range r.scenarios {
		result[name] = scenario.Description
	}
	return result
}
