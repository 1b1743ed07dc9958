// Package cache holds the per-session lookups the recording worker consults on
// every tick, so registration checks never hit storage.
package cache

import (
	"sync"

	"github.com/OCAP2/platoon/pkg/core"
)

// EntityCache caches vehicles and platoons once they are registered with storage.
type EntityCache struct {
	m        sync.Mutex
	Vehicles map[string]core.Vehicle
	Platoons map[string]core.Platoon
}

func NewEntityCache() *EntityCache {
	return &EntityCache{
		Vehicles: make(map[string]core.Vehicle),
		Platoons: make(map[string]core.Platoon),
	}
}

func (c *EntityCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.Vehicles = make(map[string]core.Vehicle)
	c.Platoons = make(map[string]core.Platoon)
}

func (c *EntityCache) GetVehicle(id string) (core.Vehicle, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.Vehicles[id]
	return v, ok
}

func (c *EntityCache) GetPlatoon(id string) (core.Platoon, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	p, ok := c.Platoons[id]
	return p, ok
}

// AddVehicle stores v and reports whether it was not cached before.
func (c *EntityCache) AddVehicle(v core.Vehicle) bool {
	c.m.Lock()
	defer c.m.Unlock()
	_, seen := c.Vehicles[v.ID]
	c.Vehicles[v.ID] = v
	return !seen
}

// AddPlatoon stores p and reports whether it was not cached before.
func (c *EntityCache) AddPlatoon(p core.Platoon) bool {
	c.m.Lock()
	defer c.m.Unlock()
	_, seen := c.Platoons[p.ID]
	c.Platoons[p.ID] = p
	return !seen
}

// Counts returns the number of cached vehicles and platoons.
func (c *EntityCache) Counts() (vehicles, platoons int) {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.Vehicles), len(c.Platoons)
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
