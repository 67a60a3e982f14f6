package realtime

import (
	"sort"
	"sync"
)

// Connection is the handle for one live client session. It is created by Gateway.Connect
// and must be released with Gateway.Disconnect.
type Connection struct {
	id      string
	events  chan Event
	done    chan struct{}
	lagging chan struct{}
	lagOnce sync.Once

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

func newConnection(id string, bufferSize int) *Connection {
	return &Connection{
		id:      id,
		events:  make(chan Event, bufferSize),
		done:    make(chan struct{}),
		lagging: make(chan struct{}),
		rooms:   make(map[string]struct{}),
	}
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Events streams the events fanned out to this connection.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Done is closed once the connection has been disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Lagging is closed when an event could not be queued because the client fell behind.
// Transports close such connections rather than let the client miss events silently.
func (c *Connection) Lagging() <-chan struct{} {
	return c.lagging
}

// Rooms lists the post ids the connection is subscribed to, sorted.
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for postID := range c.rooms {
		rooms = append(rooms, postID)
	}
	sort.Strings(rooms)
	return rooms
}

// deliver queues the event without blocking. It is only called under the room lock.
func (c *Connection) deliver(event Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- event:
		return true
	default:
		c.lagOnce.Do(func() { close(c.lagging) })
		return false
	}
}
