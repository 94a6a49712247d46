package relay

// Store holds the engines of a Registry. Implementations need not be safe for
// concurrent use; the Registry serialises access.
type Store interface {
	GetEngine(id StreamID) (*Engine, bool)
	SetEngine(e *Engine)
	DeleteEngine(id StreamID)
	ListEngines() []*Engine
	Len() int
}

// InMemoryStore is a map-backed Store.
type InMemoryStore struct {
	engines map[StreamID]*Engine
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		engines: make(map[StreamID]*Engine),
	}
}

// GetEngine implements Store.GetEngine.
func (s *InMemoryStore) GetEngine(id StreamID) (*Engine, bool) {
	e, ok := s.engines[id]
	return e, ok
}

// SetEngine implements Store.SetEngine.
func (s *InMemoryStore) SetEngine(e *Engine) {
	s.engines[e.ID()] = e
}

// DeleteEngine implements Store.DeleteEngine.
func (s *InMemoryStore) DeleteEngine(id StreamID) {
	delete(s.engines, id)
}

// ListEngines implements Store.ListEngines.
func (s *InMemoryStore) ListEngines() []*Engine {
	out := make([]*Engine, 0, len(s.engines))
	for _, e := range s.engines {
		out = append(out, e)
	}
	return out
}

// Len implements Store.Len.
func (s *InMemoryStore) Len() int {
	return len(s.engines)
}
