package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Constructor builds a driver. It runs at most once per registered name; the
// resulting instance is cached for the process lifetime.
type Constructor func() (Driver, error)

// Registry maps driver names to lazily-constructed singleton instances. It is
// owned by the composition root and passed explicitly to whatever needs a
// driver — there is no ambient global registry.
type Registry struct {
	mu           sync.Mutex
	constructors map[string]Constructor
	instances    map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		instances:    make(map[string]Driver),
	}
}

// Register adds a named backend. Names are case-insensitive. Registering a
// nil constructor is a programming error and panics at startup rather than
// failing per-call.
func (r *Registry) Register(name string, ctor Constructor) {
	key := normalizeDriverName(name)
	if key == "" {
		panic("memory: driver name is empty")
	}
	if ctor == nil {
		panic(fmt.Sprintf("memory: nil constructor for driver %q", key))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[key] = ctor
	log.Debug().Str("driver", key).Msg("memory driver registered")
}

// Resolve returns the cached instance for name, constructing it on first use.
// An unregistered name is a configuration failure: fatal, not retried.
func (r *Registry) Resolve(name string) (Driver, error) {
	key := normalizeDriverName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}

	ctor, ok := r.constructors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownDriver, key, strings.Join(r.availableLocked(), ", "))
	}

	inst, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("%w: driver %q: %v", ErrDriverInit, key, err)
	}

	r.instances[key] = inst
	log.Info().Str("driver", key).Msg("memory driver initialized")
	return inst, nil
}

// Reset drops all cached instances. Used by tests and hot-reload; never
// called implicitly.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string]Driver)
}

// Available lists the registered driver names.
func (r *Registry) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableLocked()
}

func (r *Registry) availableLocked() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeDriverName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
