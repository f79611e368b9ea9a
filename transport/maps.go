package transport

import (
	"maps"
	"sort"
	"sync"

	"github.com/tailored-agentic-units/switchboard/route"
)

// ClientMap records the location of every known client id. It is seeded by
// the bootstrap result and refreshed by heartbeats.
type ClientMap struct {
	mu      sync.RWMutex
	clients map[string]route.Location
}

func NewClientMap() *ClientMap {
	return &ClientMap{clients: make(map[string]route.Location)}
}

func (c *ClientMap) Get(clientID string) (route.Location, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.clients[clientID]
	return loc, ok
}

func (c *ClientMap) Set(clientID string, loc route.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[clientID] = loc
}

func (c *ClientMap) Delete(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, clientID)
}

// Merge adds or overwrites every entry of other.
func (c *ClientMap) Merge(other map[string]route.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.clients, other)
}

// Snapshot returns a copy safe to hand to other goroutines or the wire.
func (c *ClientMap) Snapshot() map[string]route.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.clients)
}

func (c *ClientMap) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// APIMap holds the nested API endpoints a client hosts, keyed by name.
type APIMap struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

func NewAPIMap() *APIMap {
	return &APIMap{endpoints: make(map[string]Endpoint)}
}

func (a *APIMap) Get(name string) (Endpoint, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ep, ok := a.endpoints[name]
	return ep, ok
}

func (a *APIMap) Set(name string, ep Endpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoints[name] = ep
}

func (a *APIMap) Delete(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.endpoints, name)
}

func (a *APIMap) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Names returns the registered names in sorted order.
func (a *APIMap) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.endpoints))
	for name := range a.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *APIMap) endpointsSnapshot() []Endpoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	eps := make([]Endpoint, 0, len(a.endpoints))
	for _, ep := range a.endpoints {
		eps = append(eps, ep)
	}
	return eps
}
