// Package registry tracks the live network clients by name.
//
// The registry and the persisted state document are kept in bijection by the
// control layer: adds persist before registering, deletes unregister before
// un-persisting, so no entry is ever reachable without a backing connection
// attempt having been made.
package registry

import (
	"errors"
	"sort"
	"sync"

	"ircgate/internal/client"
)

// ErrUnknownNetwork is returned when an operation names a network that has no
// registered client.
var ErrUnknownNetwork = errors.New("unknown network")

// Registry is a concurrency-safe mapping from network name to live client.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*client.Client
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*client.Client)}
}

// Add registers c under its network name, replacing any previous entry.
func (r *Registry) Add(c *client.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (*client.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[name]
	return c, ok
}

// Remove unregisters and returns the client for name.
func (r *Registry) Remove(name string) (*client.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[name]
	if ok {
		delete(r.clients, name)
	}
	return c, ok
}

// All returns every registered client.
func (r *Registry) All() []*client.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Names returns the registered network names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
