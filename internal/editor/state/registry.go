package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
)

const (
	// DefaultCapacity bounds the number of models held in memory.
	DefaultCapacity = 128
	// DefaultTTL evicts models idle for longer than this.
	DefaultTTL = 30 * time.Minute
)

// Registry holds the active editing sessions. Models that are idle past
// the TTL, or pushed out by capacity, are evicted and must be loaded
// again.
type Registry struct {
	// mu makes GetOrCreate atomic; the LRU is safe on its own.
	mu     sync.Mutex
	models *expirable.LRU[string, *ModelState]

	capacity  int
	ttl       time.Duration
	log       logging.Logger
	metrics   MetricsRecorder
	modelOpts []ModelOption
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithCapacity sets the maximum number of live models.
func WithCapacity(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithTTL sets the idle time after which a model is evicted.
func WithTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithRegistryLogger attaches a logger; it is also passed to new models.
func WithRegistryLogger(log logging.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRegistryMetrics reports the number of active models and is also
// passed to new models.
func WithRegistryMetrics(m MetricsRecorder) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithModelOptions applies opts to every model the registry creates.
func WithModelOptions(opts ...ModelOption) RegistryOption {
	return func(r *Registry) {
		r.modelOpts = append(r.modelOpts, opts...)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.models = expirable.NewLRU[string, *ModelState](r.capacity, r.onEvict, r.ttl)
	return r
}

func (r *Registry) onEvict(id string, _ *ModelState) {
	r.log.Info(context.Background(), "model evicted", logging.ModelID(id))
	if r.metrics != nil {
		r.metrics.SetModelCounts(id, 0, 0, 0, 0)
	}
}

// Get returns the model loaded under id and renews its TTL.
func (r *Registry) Get(id string) (*ModelState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoModel, id)
	}
	r.models.Add(id, m)
	return m, nil
}

// GetOrCreate returns the model under id, creating an empty one if none
// is loaded. created reports whether a new model was made.
func (r *Registry) GetOrCreate(id string) (m *ModelState, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models.Get(id); ok {
		r.models.Add(id, m)
		return m, false
	}

	opts := []ModelOption{WithLogger(r.log)}
	if r.metrics != nil {
		opts = append(opts, WithMetricsRecorder(r.metrics))
	}
	m = NewModelState(id, append(opts, r.modelOpts...)...)
	r.models.Add(id, m)
	r.reportLocked()
	return m, true
}

// Remove drops the model under id. It reports whether one was loaded.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok := r.models.Remove(id)
	r.reportLocked()
	return ok
}

// IDs returns the ids of the live models, sorted.
func (r *Registry) IDs() []string {
	ids := r.models.Keys()
	sort.Strings(ids)
	return ids
}

// Len returns the number of live models.
func (r *Registry) Len() int { return r.models.Len() }

// NOTE: caller must hold r.mu.
func (r *Registry) reportLocked() {
	if r.metrics != nil {
		r.metrics.SetActiveModels(r.models.Len())
	}
}
