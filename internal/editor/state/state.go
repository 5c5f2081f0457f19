// internal/editor/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/internal/projection"
	"github.com/signalsfoundry/energy-network-editor/kb"
)

var (
	// ErrNoModel indicates that no model is loaded under the given id.
	ErrNoModel = errors.New("model not loaded")
	// ErrVersionConflict indicates that a command was based on a stale
	// model version.
	ErrVersionConflict = errors.New("model version conflict")
	// ErrNotFound is re-exported so callers can test state.* only.
	ErrNotFound = core.ErrNotFound
)

// MetricsRecorder receives entity counts after every committed edit.
type MetricsRecorder interface {
	SetModelCounts(modelID string, assets, ports, connections, carriers int)
	SetActiveModels(n int)
}

// ModelState is the editing session of one model: its store, the
// services bound to it and the cached projection.
//
// All writes go through Apply, which holds the model lock for the whole
// edit. That makes one model single-writer while different models proceed
// in parallel.
type ModelState struct {
	// mu serialises commands for this model. Take it before touching the
	// store or the cache.
	mu sync.Mutex

	id      string
	version uint64
	touched time.Time

	store     *kb.KnowledgeBase
	mutator   *core.Mutator
	flattener *core.Flattener
	cache     *projection.Cache

	log     logging.Logger
	metrics MetricsRecorder
}

// Result describes one committed command.
type Result struct {
	Version   uint64
	ChangeSet *core.ChangeSet
	Delta     projection.Delta
}

// ModelOption customises a ModelState.
type ModelOption func(*modelConfig)

type modelConfig struct {
	log     logging.Logger
	metrics MetricsRecorder
	mutOpts []core.MutatorOption
}

// WithLogger attaches a logger to the model and its services.
func WithLogger(log logging.Logger) ModelOption {
	return func(c *modelConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetricsRecorder reports entity counts after each edit.
func WithMetricsRecorder(m MetricsRecorder) ModelOption {
	return func(c *modelConfig) {
		c.metrics = m
	}
}

// WithMutatorOptions forwards options to the topology mutator.
func WithMutatorOptions(opts ...core.MutatorOption) ModelOption {
	return func(c *modelConfig) {
		c.mutOpts = append(c.mutOpts, opts...)
	}
}

// NewModelState creates an empty session for id.
func NewModelState(id string, opts ...ModelOption) *ModelState {
	cfg := modelConfig{log: logging.Noop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.log.With(logging.ModelID(id))

	store := kb.NewKnowledgeBase()
	mutOpts := append([]core.MutatorOption{core.WithMutatorLogger(log)}, cfg.mutOpts...)
	return &ModelState{
		id:        id,
		touched:   time.Now(),
		store:     store,
		mutator:   core.NewMutator(store, mutOpts...),
		flattener: core.NewFlattener(log),
		cache:     projection.New(),
		log:       log,
		metrics:   cfg.metrics,
	}
}

// ID returns the model id.
func (s *ModelState) ID() string { return s.id }

// Version returns the number of committed edits.
func (s *ModelState) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LastUsed returns when the model last handled a command.
func (s *ModelState) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Store returns the model store. Callers must not mutate it outside Apply.
func (s *ModelState) Store() *kb.KnowledgeBase { return s.store }

// Cache returns the projection cache.
func (s *ModelState) Cache() *projection.Cache { return s.cache }

// Apply runs one edit under the model lock. If expected is non-nil it
// must equal the current version. A non-empty change set bumps the
// version and is folded into the projection cache.
func (s *ModelState) Apply(ctx context.Context, expected *uint64, fn func(m *core.Mutator) (*core.ChangeSet, error)) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()

	if err := s.checkVersionLocked(expected); err != nil {
		return Result{Version: s.version}, err
	}
	cs, err := fn(s.mutator)
	if err != nil {
		return Result{Version: s.version}, err
	}
	res := Result{Version: s.version, ChangeSet: cs}
	if cs.Empty() {
		return res, nil
	}

	s.version++
	res.Version = s.version
	if s.cache.Ready() {
		res.Delta = s.cache.Apply(s.store, cs)
	} else {
		if _, err := s.refreshLocked(ctx); err != nil {
			return res, err
		}
	}
	s.recordCountsLocked()
	return res, nil
}

// Load replaces the model content with the energy system read from r.
// The cache is rebuilt from a full flatten.
func (s *ModelState) Load(ctx context.Context, r io.Reader) (*core.LoadSummary, *core.Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()

	summary, err := core.LoadEnergySystem(s.store, r)
	if err != nil {
		return nil, nil, err
	}
	s.version++
	proj, err := s.refreshLocked(ctx)
	if err != nil {
		return summary, nil, err
	}
	s.recordCountsLocked()
	s.log.Info(ctx, "energy system loaded",
		logging.String("system_id", summary.SystemID),
		logging.Int("assets", summary.Assets),
		logging.Int("ports", summary.Ports),
		logging.Int("dangling", len(summary.Dangling)),
		logging.Int("same_direction", len(summary.SameDirection)),
	)
	return summary, proj, nil
}

// Refresh re-flattens the whole model and replaces the cache.
func (s *ModelState) Refresh(ctx context.Context) (*core.Projection, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()

	proj, err := s.refreshLocked(ctx)
	return proj, s.version, err
}

// FlattenBuilding returns the building-local projection of buildingID.
func (s *ModelState) FlattenBuilding(ctx context.Context, buildingID string) (*core.Projection, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()

	proj, err := s.flattener.FlattenBuilding(ctx, s.store, buildingID)
	return proj, s.version, err
}

// View runs fn with the model lock held. fn must only read.
func (s *ModelState) View(fn func(store *kb.KnowledgeBase, cache *projection.Cache, version uint64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.store, s.cache, s.version)
}

// Projection returns the cached projection, flattening first if the cache
// has never been filled.
func (s *ModelState) Projection(ctx context.Context) (*core.Projection, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cache.Ready() {
		if _, err := s.refreshLocked(ctx); err != nil {
			return nil, s.version, err
		}
	}
	return s.cache.Snapshot(), s.version, nil
}

// NOTE: caller must hold s.mu.
func (s *ModelState) checkVersionLocked(expected *uint64) error {
	if expected == nil || *expected == s.version {
		return nil
	}
	return fmt.Errorf("%w: model %q is at version %d, command expected %d",
		ErrVersionConflict, s.id, s.version, *expected)
}

// NOTE: caller must hold s.mu.
func (s *ModelState) refreshLocked(ctx context.Context) (*core.Projection, error) {
	proj, err := s.flattener.Flatten(ctx, s.store)
	if err != nil {
		return nil, err
	}
	s.cache.Replace(proj)
	return proj, nil
}

// NOTE: caller must hold s.mu.
func (s *ModelState) recordCountsLocked() {
	if s.metrics == nil {
		return
	}
	c := s.store.Counts()
	s.metrics.SetModelCounts(s.id, c.Assets, c.Ports, c.Edges, c.Carriers)
}
