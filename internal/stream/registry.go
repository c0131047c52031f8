package stream

import (
	"sort"
	"sync"
)

// Registry holds the named streams and pairs a deployment serves. The
// HTTP handlers and the websocket streamer both read from it.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*SingleStream
	pairs   map[string]*DualStream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]*SingleStream),
		pairs:   make(map[string]*DualStream),
	}
}

// AddStream registers a stream under a name.
func (r *Registry) AddStream(name string, s *SingleStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[name] = s
}

// AddPair registers a pair under a name.
func (r *Registry) AddPair(name string, d *DualStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[name] = d
}

// Stream looks up a stream by name.
func (r *Registry) Stream(name string) (*SingleStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[name]
	return s, ok
}

// Pair looks up a pair by name.
func (r *Registry) Pair(name string) (*DualStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.pairs[name]
	return d, ok
}

// StreamNames returns the registered stream names, sorted.
func (r *Registry) StreamNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PairNames returns the registered pair names, sorted.
func (r *Registry) PairNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pairs))
	for name := range r.pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll stops every registered stream and pair.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.streams {
		s.Stop()
	}
	for _, d := range r.pairs {
		d.Stop()
	}
}
