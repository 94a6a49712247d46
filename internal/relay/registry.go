package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hls-ftp-relay/internal/platform/metrics"

	"github.com/google/uuid"
)

// ErrRegistryClosed is returned by Create after Shutdown has begun.
var ErrRegistryClosed = errors.New("registry is shut down")

// Registry tracks the running engines by stream id. It is safe for
// concurrent use. An engine leaves the registry only from its own exit path.
type Registry struct {
	mu     sync.RWMutex
	store  Store
	closed bool

	deps    Dependencies
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
	newID   func() (StreamID, error)

	// ctx is the parent of every engine; cancelling it stops them all.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry returns an empty registry whose engines use deps and opts.
// m may be nil.
func NewRegistry(deps Dependencies, opts Options, log *slog.Logger, m *metrics.Metrics) *Registry {
	return NewRegistryWithStore(NewInMemoryStore(), deps, opts, log, m)
}

// NewRegistryWithStore is NewRegistry with an explicit Store.
func NewRegistryWithStore(store Store, deps Dependencies, opts Options, log *slog.Logger, m *metrics.Metrics) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:   store,
		deps:    deps,
		opts:    opts,
		log:     log,
		metrics: m,
		newID:   newStreamID,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// newStreamID returns a UUIDv7: unique, and ordered by creation time.
func newStreamID() (StreamID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return StreamID(id.String()), nil
}

// Create allocates a stream id, starts an engine for cfg under it and
// returns the id without waiting for the engine to do any work. cfg.ID is
// ignored.
func (r *Registry) Create(cfg StreamConfig) (StreamID, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", ErrRegistryClosed
	}

	id, err := r.newID()
	if err != nil {
		return "", fmt.Errorf("allocate stream id: %w", err)
	}
	cfg.ID = id

	sink, err := r.deps.Sinks.Sink(cfg.Destination)
	if err != nil {
		return "", err
	}
	e, err := NewEngine(cfg, r.deps.Manifests, r.deps.Segments, sink, r.opts, r.log, r.metrics)
	if err != nil {
		return "", err
	}
	e.onExit = func() { r.remove(id) }

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		e.Stop()
		return "", ErrRegistryClosed
	}
	r.store.SetEngine(e)
	r.wg.Add(1)
	active := r.store.Len()
	r.mu.Unlock()

	r.metrics.IncStreamsStarted()
	r.metrics.SetActiveStreams(active)

	go func() {
		defer r.wg.Done()
		e.Run(r.ctx)
	}()
	return id, nil
}

// Stop asks the engine for id to stop. It returns as soon as the request is
// recorded; the engine deregisters itself once it has exited.
func (r *Registry) Stop(id StreamID) error {
	r.mu.RLock()
	e, ok := r.store.GetEngine(id)
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, id)
	}
	e.Stop()
	return nil
}

// Get returns the engine registered under id.
func (r *Registry) Get(id StreamID) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetEngine(id)
}

// List returns the stats of every registered engine, ordered by id.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	engines := r.store.ListEngines()
	r.mu.RUnlock()

	out := make([]Stats, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered engines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Len()
}

// Shutdown stops every engine and waits for them to exit or for ctx to end.
// No stream can be created afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) remove(id StreamID) {
	r.mu.Lock()
	r.store.DeleteEngine(id)
	active := r.store.Len()
	r.mu.Unlock()

	r.metrics.IncStreamsStopped()
	r.metrics.SetActiveStreams(active)
}
