package relay

import (
	"slices"
	"sync"
)

// ConnectionID identifies a live connection for its whole lifetime.
type ConnectionID string

// Channel is the logical endpoint a connection arrived on.
type Channel string

const (
	ChannelMonitor    Channel = "monitor"
	ChannelManagement Channel = "management"
)

// Peer is a live connection as seen by the registry and the dispatcher.
type Peer interface {
	ID() ConnectionID
	// Enqueue queues an encoded frame without blocking and fails with
	// ErrQueueFull once the outbound queue is at capacity.
	Enqueue(frame []byte) error
	// Notify queues presence frames without blocking. They are accepted
	// past the queue capacity so a client's view of the monitor set never
	// silently diverges.
	Notify(frames ...[]byte) error
	Close()
}

// Registry holds the connected monitors and management clients in
// insertion order. It is safe for concurrent use; listings are copies.
type Registry struct {
	mu         sync.RWMutex
	monitors   []Peer
	management []Peer
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) AddMonitor(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors = append(r.monitors, p)
}

// RemoveMonitor reports whether id was registered. Removing an unknown id
// is a no-op.
func (r *Registry) RemoveMonitor(id ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.monitors, ok = removePeer(r.monitors, id)
	return ok
}

func (r *Registry) AddManagement(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.management = append(r.management, p)
}

// RemoveManagement reports whether id was registered. Removing an unknown
// id is a no-op.
func (r *Registry) RemoveManagement(id ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ok bool
	r.management, ok = removePeer(r.management, id)
	return ok
}

func (r *Registry) Monitors() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.monitors)
}

func (r *Registry) Management() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.management)
}

// Counts returns the number of registered monitors and management clients.
func (r *Registry) Counts() (monitors, management int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors), len(r.management)
}

// drain empties both collections and returns everything that was in them.
func (r *Registry) drain() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append(slices.Clone(r.monitors), r.management...)
	r.monitors = nil
	r.management = nil
	return all
}

func removePeer(peers []Peer, id ConnectionID) ([]Peer, bool) {
	idx := slices.IndexFunc(peers, func(p Peer) bool { return p.ID() == id })
	if idx < 0 {
		return peers, false
	}
	return slices.Delete(peers, idx, idx+1), true
}
