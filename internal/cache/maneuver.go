package cache

import "sync"

// ManeuverCache maps open maneuver IDs to the tick they were accepted at,
// for duration metrics once they complete or abort.
type ManeuverCache struct {
	mu        sync.RWMutex
	maneuvers map[string]uint64
}

// NewManeuverCache creates a new ManeuverCache
func NewManeuverCache() *ManeuverCache {
	return &ManeuverCache{
		maneuvers: make(map[string]uint64),
	}
}

// Get retrieves the start tick of a maneuver
func (c *ManeuverCache) Get(id string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.maneuvers[id]
	return tick, ok
}

// Set stores the start tick of a maneuver
func (c *ManeuverCache) Set(id string, tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maneuvers[id] = tick
}

// Finish removes a maneuver and returns how many ticks it was open.
func (c *ManeuverCache) Finish(id string, tick uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.maneuvers[id]
	if !ok {
		return 0, false
	}
	delete(c.maneuvers, id)
	if tick < start {
		return 0, true
	}
	return tick - start, true
}

// Len returns the number of open maneuvers
func (c *ManeuverCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.maneuvers)
}

// Reset clears all maneuvers from the cache
func (c *ManeuverCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maneuvers = make(map[string]uint64)
}
