// Package persona loads character definitions from a directory.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"avatarbot/internal/domain"
)

// maxPersonaFileSize is the maximum allowed persona file size (1 MiB).
const maxPersonaFileSize = 1 << 20

// Fallback is the persona used when the source directory holds none.
func Fallback() domain.Persona {
	return domain.Persona{
		Name:         "default",
		Description:  "Default AI Assistant",
		SystemPrompt: "You are a helpful AI assistant.",
		Greeting:     domain.StringPtr("Hello! How can I help you?"),
	}
}

// Registry is an immutable set of personas keyed by file stem.
type Registry struct {
	personas    map[string]domain.Persona
	names       []string
	defaultName string
}

var _ domain.PersonaRegistry = (*Registry)(nil)

// NewRegistry builds a registry from personas. An empty map yields the
// fallback persona under "default".
func NewRegistry(personas map[string]domain.Persona, defaultName string) *Registry {
	r := &Registry{personas: make(map[string]domain.Persona, len(personas))}
	for k, p := range personas {
		r.personas[k] = p
	}
	if len(r.personas) == 0 {
		r.personas["default"] = Fallback()
	}

	for k := range r.personas {
		r.names = append(r.names, k)
	}
	slices.Sort(r.names)

	r.defaultName = defaultName
	if _, ok := r.personas[defaultName]; !ok {
		r.defaultName = r.names[0]
	}
	return r
}

// Load reads every *.json, *.yaml and *.yml file in dir. A missing directory
// is treated as empty. A file that cannot be read or parsed fails the load.
func Load(dir, defaultName string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return NewRegistry(nil, defaultName), nil
	}
	if err != nil {
		return nil, domain.NewDomainError("persona.Load", domain.ErrPersonaLoad, fmt.Sprintf("read dir %s: %v", dir, err))
	}

	personas := make(map[string]domain.Persona)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		p, err := loadFile(path, ext)
		if err != nil {
			return nil, domain.NewDomainError("persona.Load", domain.ErrPersonaLoad, fmt.Sprintf("%s: %v", path, err))
		}

		key := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, exists := personas[key]; exists {
			return nil, domain.NewDomainError("persona.Load", domain.ErrPersonaLoad, fmt.Sprintf("duplicate persona %q in %s", key, path))
		}
		if p.Name == "" {
			p.Name = key
		}
		personas[key] = p
	}
	return NewRegistry(personas, defaultName), nil
}

func loadFile(path, ext string) (domain.Persona, error) {
	var p domain.Persona

	info, err := os.Stat(path)
	if err != nil {
		return p, err
	}
	if info.Size() > maxPersonaFileSize {
		return p, fmt.Errorf("file too large (%d bytes, max %d)", info.Size(), maxPersonaFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if ext == ".json" {
		err = json.Unmarshal(data, &p)
	} else {
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return p, fmt.Errorf("parse: %w", err)
	}
	return p, nil
}

// Default returns the configured default persona, or the first persona by
// key when the configured name is not present.
func (r *Registry) Default() domain.Persona { return r.personas[r.defaultName] }

// DefaultName returns the key Default resolves to.
func (r *Registry) DefaultName() string { return r.defaultName }

// Lookup returns the persona stored under name.
func (r *Registry) Lookup(name string) (domain.Persona, bool) {
	p, ok := r.personas[name]
	return p, ok
}

// Names returns the persona keys in sorted order.
func (r *Registry) Names() []string { return slices.Clone(r.names) }
