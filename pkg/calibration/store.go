package calibration

import (
	"sync"
	"sync/atomic"
)

// Store is the source of calibration models. ReadModel returns the current
// snapshot (nil when uncalibrated); Subscribe registers a change callback and
// returns a function that removes it.
type Store interface {
	ReadModel() *Model
	Subscribe(fn func(*Model)) (cancel func())
}

// MemoryStore keeps the active model in memory and notifies subscribers on
// every Publish. Readers never block writers. Concurrent publishes are
// delivered to every subscriber in the order they were stored, so
// subscribers must not call Publish themselves.
type MemoryStore struct {
	current atomic.Pointer[Model]
	pub     sync.Mutex // orders store and notify across publishers

	mu     sync.Mutex
	subs   map[uint64]func(*Model)
	nextID uint64
}

// NewMemoryStore creates a store seeded with m (which may be nil).
func NewMemoryStore(m *Model) *MemoryStore {
	s := &MemoryStore{subs: make(map[uint64]func(*Model))}
	s.current.Store(m)
	return s
}

// ReadModel returns the current snapshot.
func (s *MemoryStore) ReadModel() *Model {
	return s.current.Load()
}

// Publish swaps in m and notifies subscribers. Passing nil clears the model.
func (s *MemoryStore) Publish(m *Model) error {
	if m != nil {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	s.pub.Lock()
	defer s.pub.Unlock()
	s.current.Store(m)

	s.mu.Lock()
	subs := make([]func(*Model), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(m)
	}
	return nil
}

// Subscribe registers fn for change notifications.
func (s *MemoryStore) Subscribe(fn func(*Model)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered callbacks.
func (s *MemoryStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Cache is the per-process cached reference to the current model.
// It subscribes to its store exactly once; Load is a single atomic read and
// is safe to call from the gaze callback at frame rate.
type Cache struct {
	model  atomic.Pointer[Model]
	cancel func()
	swaps  atomic.Uint64

	mu sync.Mutex // writers only
}

// NewCache follows the store's change notifications and seeds itself with
// the current snapshot. A notification that lands first wins over the seed.
func NewCache(store Store) *Cache {
	c := &Cache{}
	c.cancel = store.Subscribe(func(m *Model) {
		c.mu.Lock()
		c.model.Store(m)
		c.swaps.Add(1)
		c.mu.Unlock()
	})

	snap := store.ReadModel()
	c.mu.Lock()
	if c.swaps.Load() == 0 {
		c.model.Store(snap)
	}
	c.mu.Unlock()
	return c
}

// Load returns the cached model, or nil when uncalibrated.
func (c *Cache) Load() *Model {
	return c.model.Load()
}

// Swaps returns how many change notifications have been applied.
func (c *Cache) Swaps() uint64 {
	return c.swaps.Load()
}

// Close stops following the store.
func (c *Cache) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}
