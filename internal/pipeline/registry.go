package pipeline

import (
	"strings"
	"sync"

	"github.com/stanstork/stratum-ingest/internal/apperrors"
)

// Registry resolves type keys to strategies of one stage.
type Registry[T Strategy] struct {
	stage string
	mu    sync.RWMutex
	items []T
}

func NewRegistry[T Strategy](stage string) *Registry[T] {
	return &Registry[T]{stage: stage}
}

// Register adds s. A strategy that would answer for a key an existing strategy
// already handles is rejected, so resolution never depends on registration order.
func (r *Registry[T]) Register(s T) error {
	key := strings.TrimSpace(s.TypeKey())
	if key == "" {
		return apperrors.Configuration("%s strategy %T has an empty type key", r.stage, s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.CanHandle(key) || s.CanHandle(existing.TypeKey()) {
			return apperrors.Configuration("duplicate %s handler for %s: %T conflicts with %T", r.stage, key, s, existing)
		}
	}
	r.items = append(r.items, s)
	return nil
}

// MustRegister panics on conflicts. Use it only while wiring at startup.
func (r *Registry[T]) MustRegister(items ...T) {
	for _, s := range items {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

func (r *Registry[T]) Resolve(key string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.items {
		if s.CanHandle(key) {
			return s, nil
		}
	}
	var zero T
	return zero, apperrors.Configuration("no handler for %s", key)
}

// Keys lists registered type keys in registration order.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.items))
	for _, s := range r.items {
		keys = append(keys, s.TypeKey())
	}
	return keys
}

// Registries groups the three stage registries a job is resolved against.
type Registries struct {
	Sources      *Registry[Connector]
	Transformers *Registry[Transformer]
	Storages     *Registry[Storage]
}

func NewRegistries() *Registries {
	return &Registries{
		Sources:      NewRegistry[Connector]("source"),
		Transformers: NewRegistry[Transformer]("transformer"),
		Storages:     NewRegistry[Storage]("storage"),
	}
}
