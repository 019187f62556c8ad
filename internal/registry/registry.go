// Package registry implements the connection manager (C4): a thread-safe
// registry mapping channel names to subscriber sets and connection
// handles to subscriber records.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumiere-trade/courier/internal/channel"
)

// Handle is a unique, non-recycled identifier for a registered connection.
type Handle uuid.UUID

// NewHandle allocates a fresh handle.
func NewHandle() Handle {
	return Handle(uuid.New())
}

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// Subscriber is the record the registry owns for one connected WebSocket.
// Only the registry may mutate it.
type Subscriber struct {
	Handle        Handle
	Channel       channel.Name
	UserID        string
	WalletAddress string
	ConnectedAt   time.Time
}

// Registry is the single owner of all subscriber records.
type Registry struct {
	mu       sync.RWMutex
	channels map[string][]Handle
	clients  map[Handle]Subscriber
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		channels: make(map[string][]Handle),
		clients:  make(map[Handle]Subscriber),
	}
}

// AddClient registers handle against c, creating the channel's bookkeeping
// if this is its first subscriber.
func (r *Registry) AddClient(handle Handle, c channel.Name, userID, walletAddress string) Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := Subscriber{
		Handle:        handle,
		Channel:       c,
		UserID:        userID,
		WalletAddress: walletAddress,
		ConnectedAt:   time.Now(),
	}
	r.clients[handle] = sub
	r.channels[c.String()] = append(r.channels[c.String()], handle)
	return sub
}

// RemoveClient removes handle from channel c and from the client index.
// Idempotent: removing an unknown handle is a no-op.
func (r *Registry) RemoveClient(handle Handle, c channel.Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeClientLocked(handle, c)
}

func (r *Registry) removeClientLocked(handle Handle, c channel.Name) {
	delete(r.clients, handle)
	key := c.String()
	handles := r.channels[key]
	for i, h := range handles {
		if h == handle {
			r.channels[key] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(r.channels[key]) == 0 {
		delete(r.channels, key)
	}
}

// GetChannelSubscribers returns a snapshot of handles currently subscribed
// to c, in insertion order.
func (r *Registry) GetChannelSubscribers(c channel.Name) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := r.channels[c.String()]
	out := make([]Handle, len(handles))
	copy(out, handles)
	return out
}

// GetClient returns the subscriber record for handle, if any.
func (r *Registry) GetClient(handle Handle) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.clients[handle]
	return sub, ok
}

// GetTotalConnections returns the number of registered subscribers.
func (r *Registry) GetTotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// GetAllChannels returns a snapshot of channel name to subscriber count.
func (r *Registry) GetAllChannels() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.channels))
	for name, handles := range r.channels {
		out[name] = len(handles)
	}
	return out
}

// ChannelExists reports whether c currently has any bookkeeping (not
// necessarily any subscribers, if called mid-mutation; under the lock it
// means at least one subscriber).
func (r *Registry) ChannelExists(c channel.Name) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[c.String()]
	return ok
}

// RemoveMany removes every handle in handles from c in one locked pass,
// used by the broadcaster and heartbeat ticker to prune dead sockets found
// during a snapshot-then-mutate fan-out.
func (r *Registry) RemoveMany(c channel.Name, handles []Handle) {
	if len(handles) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		r.removeClientLocked(h, c)
	}
}

// CleanupEmptyChannels removes bookkeeping for any channel whose
// subscriber list is currently empty, returning the names removed. Channel
// entries are deleted automatically as their last subscriber is removed,
// so in practice this only ever finds entries left empty by a caller that
// mutated r.channels directly; kept as a defensive sweep.
func (r *Registry) CleanupEmptyChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for name, handles := range r.channels {
		if len(handles) == 0 {
			delete(r.channels, name)
			removed = append(removed, name)
		}
	}
	return removed
}
