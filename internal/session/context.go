package session

import (
	"sync"
	"sync/atomic"

	"github.com/OCAP2/platoon/pkg/core"
)

// Context holds the session being recorded and the last tick seen by the runner.
type Context struct {
	mu      sync.RWMutex
	session *core.Session
	tick    atomic.Uint64
}

// NewContext creates a new Context with a placeholder session
func NewContext() *Context {
	return &Context{
		session: &core.Session{Name: "No session started", MapName: "No map loaded"},
	}
}

// GetSession returns the current session
func (c *Context) GetSession() *core.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetSession replaces the current session and resets the tick
func (c *Context) SetSession(s *core.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.tick.Store(0)
}

// Tick returns the last tick stored with SetTick
func (c *Context) Tick() uint64 { return c.tick.Load() }

// SetTick stores the tick the runner is on
func (c *Context) SetTick(t uint64) { c.tick.Store(t) }
