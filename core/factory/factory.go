package factory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// ErrUnknownModule is returned by Create for a type nobody registered.
var ErrUnknownModule = errors.New("unknown module type")

// ModuleConfig names a module type and carries its raw settings.
type ModuleConfig struct {
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
	// Disabled keeps an entry in the file while skipping it at startup.
	Disabled bool `json:"disabled"`
}

// Factory builds a T from raw settings.
type Factory[T any] func(map[string]any) (T, error)

// Registry maps module type names to factories. It is safe for concurrent use.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]Factory[T])}
}

// Register binds name to f. Names are case-insensitive and bound once.
func (r *Registry[T]) Register(name string, f Factory[T]) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return errors.New("factory: empty module name")
	}
	if f == nil {
		return fmt.Errorf("factory: nil factory for %s", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("factory: %s already registered", key)
	}
	r.factories[key] = f
	return nil
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names lists the registered types, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Create runs the factory registered for cfg.Type.
func (r *Registry[T]) Create(cfg ModuleConfig) (T, error) {
	var zero T
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w %q (known: %s)", ErrUnknownModule, cfg.Type, strings.Join(r.Names(), ", "))
	}
	inst, err := f(cfg.Conf)
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", key, err)
	}
	return inst, nil
}

// Decode copies data into out using json tags. Input is weakly typed so that
// string values from K_ environment overrides land in numeric and boolean
// fields. Keys that match no field are rejected to surface typos in conf
// blocks.
func Decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}
