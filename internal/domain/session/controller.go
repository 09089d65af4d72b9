package session

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"
)

// TopicReplaced is published with the new Session after every replacement.
const TopicReplaced = "session:replaced"

// Controller owns the single Session of a workflow. Reads are lock-free
// snapshots; writes replace the whole value and then notify subscribers.
type Controller struct {
	current atomic.Pointer[Session]
	mu      sync.Mutex
	bus     evbus.Bus
	logger  zerolog.Logger
}

func NewController(logger zerolog.Logger) *Controller {
	c := &Controller{bus: evbus.New(), logger: logger}
	c.current.Store(&Session{})
	return c
}

// Snapshot returns a copy of the current Session.
func (c *Controller) Snapshot() Session {
	return c.current.Load().clone()
}

// Replace stores next as the current Session with the next version number
// and returns what was stored. Subscribers run after the store completes, in
// version order; they must not call Replace themselves.
func (c *Controller) Replace(next Session) Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.current.Load()
	stored := next.clone()
	stored.Version = prev.Version + 1
	c.current.Store(&stored)

	c.logger.Debug().
		Uint64("version", stored.Version).
		Bool("authenticated", stored.Authenticated).
		Str("location", stored.LocationUUID()).
		Msg("session replaced")
	c.bus.Publish(TopicReplaced, stored.clone())
	return stored.clone()
}

// Clear replaces the session with an unauthenticated empty one.
func (c *Controller) Clear() Session {
	return c.Replace(Session{})
}

// Subscribe registers fn to receive every future replacement.
func (c *Controller) Subscribe(fn func(Session)) error {
	return c.bus.Subscribe(TopicReplaced, fn)
}

func (c *Controller) Unsubscribe(fn func(Session)) error {
	return c.bus.Unsubscribe(TopicReplaced, fn)
}
