package processor

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"examflow/internal/services"
	"examflow/internal/task"
)

// ProgressFunc receives progress snapshots from a running processor. It is
// safe to call from multiple goroutines.
type ProgressFunc func(task.Progress)

// Processor executes one task type.
type Processor interface {
	Process(ctx context.Context, t task.Task, progress ProgressFunc) (any, error)
}

// HealthChecker is implemented by processors that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Func adapts an ordinary function to the Processor interface.
type Func func(ctx context.Context, t task.Task, progress ProgressFunc) (any, error)

// Process calls f.
func (f Func) Process(ctx context.Context, t task.Task, progress ProgressFunc) (any, error) {
	return f(ctx, t, progress)
}

// Health summarizes the readiness of a processor.
type Health struct {
	Type   task.Type
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(typ task.Type) Health {
	return Health{Type: typ, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(typ task.Type, detail string) Health {
	return Health{Type: typ, Ready: false, Detail: detail}
}

// Registry maps task types to processors. Registration normally happens once
// during wiring; lookups are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[task.Type]Processor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[task.Type]Processor)}
}

// Register binds p to typ, replacing any previous binding.
func (r *Registry) Register(typ task.Type, p Processor) error {
	if typ == "" {
		return services.Wrap(services.ErrConfiguration, "processor", "register", "task type is required", nil)
	}
	if p == nil {
		return services.Wrap(services.ErrConfiguration, "processor", "register", fmt.Sprintf("processor for %s is nil", typ), nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[typ] = p
	return nil
}

// Lookup returns the processor bound to typ.
func (r *Registry) Lookup(typ task.Type) (Processor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[typ]
	return p, ok
}

// Require returns a configuration error naming every type without a
// processor.
func (r *Registry) Require(types ...task.Type) error {
	var missing []string
	for _, typ := range types {
		if _, ok := r.Lookup(typ); !ok {
			missing = append(missing, string(typ))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "processor", "require",
		fmt.Sprintf("no processor registered for %v", missing), nil)
}

// Types returns the registered task types in declaration order, followed by
// any custom types sorted by name.
func (r *Registry) Types() []task.Type {
	var out []task.Type
	for _, typ := range task.AllTypes() {
		if _, ok := r.Lookup(typ); ok {
			out = append(out, typ)
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var extra []task.Type
	for typ := range r.processors {
		if !slices.Contains(out, typ) {
			extra = append(extra, typ)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// HealthCheck reports readiness for every registered processor. Processors
// without a HealthChecker are assumed ready.
func (r *Registry) HealthCheck(ctx context.Context) []Health {
	types := r.Types()
	out := make([]Health, 0, len(types))
	for _, typ := range types {
		p, _ := r.Lookup(typ)
		if checker, ok := p.(HealthChecker); ok {
			h := checker.HealthCheck(ctx)
			h.Type = typ
			out = append(out, h)
			continue
		}
		out = append(out, Healthy(typ))
	}
	return out
}
