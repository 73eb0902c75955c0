package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
)

// Factory builds a job instance bound to an environment.
type Factory func(name string, env *Env, args Args) Job

// Registry maps the dotted job type names of pipeline descriptions to job
// factories.
type Registry struct {
	factories map[string]Factory
	logger    arbor.ILogger
	mu        sync.RWMutex
}

// NewRegistry creates an empty job type registry.
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register binds a job type name to its factory.
func (r *Registry) Register(jobType string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if jobType == "" {
		return fmt.Errorf("job type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}
	if _, exists := r.factories[jobType]; exists {
		return fmt.Errorf("job type %s already registered", jobType)
	}

	r.factories[jobType] = factory

	if r.logger != nil {
		r.logger.Debug().Str("job_type", jobType).Msg("Job type registered")
	}

	return nil
}

// Create instantiates a job of the given type. Unknown types produce an
// EmptyJob so that a mistyped pipeline entry degrades to a no-op instead of
// rejecting the whole description.
func (r *Registry) Create(jobType, name string, env *Env, args Args) Job {
	r.mu.RLock()
	factory, ok := r.factories[jobType]
	r.mu.RUnlock()

	if !ok {
		if r.logger != nil {
			r.logger.Warn().Str("job_type", jobType).Str("job", name).Msg("Unknown job type, substituting an empty job")
		}
		return NewEmptyJob()
	}
	return factory(name, env, args)
}

// Known reports whether a job type is registered.
func (r *Registry) Known(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[jobType]
	return ok
}

// Types returns the sorted registered job type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for jobType := range r.factories {
		types = append(types, jobType)
	}
	sort.Strings(types)

	return types
}
