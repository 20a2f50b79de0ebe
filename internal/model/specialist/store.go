package specialist

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

var ErrEmptyRegistry = errors.New("specialist registry is empty")

// Store exposes specialist lookup for handlers and session state.
type Store interface {
	List() []Specialist
	Find(name string) (Specialist, bool)
	Default() Specialist
}

// MemoryStore implements Store with an in-memory slice. Order is preserved so that
// the first entry stays the default selection.
type MemoryStore struct {
	items []Specialist
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied specialists.
func NewMemoryStore(items []Specialist) *MemoryStore {
	return &MemoryStore{items: append([]Specialist(nil), items...)}
}

// List returns the registered specialists in registration order.
func (s *MemoryStore) List() []Specialist {
	return append([]Specialist(nil), s.items...)
}

// Find looks up a specialist by its display name.
func (s *MemoryStore) Find(name string) (Specialist, bool) {
	for _, item := range s.items {
		if item.Name == name {
			return item, true
		}
	}
	return Specialist{}, false
}

// Default returns the first registered specialist, or the zero value for an empty store.
func (s *MemoryStore) Default() Specialist {
	if len(s.items) == 0 {
		return Specialist{}
	}
	return s.items[0]
}

type registryFile struct {
	Specialists []Specialist `toml:"specialist"`
}

// LoadFile reads a TOML registry made of [[specialist]] tables.
func LoadFile(path string) ([]Specialist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading specialist registry: %w", err)
	}

	var file registryFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, fmt.Errorf("parsing specialist registry: %w", err)
	}

	if len(file.Specialists) == 0 {
		return nil, ErrEmptyRegistry
	}

	seen := make(map[string]struct{}, len(file.Specialists))
	for i, item := range file.Specialists {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, fmt.Errorf("specialist #%d: name is required", i+1)
		}
		if strings.TrimSpace(item.AssistantID) == "" {
			return nil, fmt.Errorf("specialist %q: assistant_id is required", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("specialist %q registered twice", name)
		}
		seen[name] = struct{}{}
		file.Specialists[i].Name = name
	}

	return file.Specialists, nil
}
