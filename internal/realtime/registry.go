package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/metrics"
	"github.com/samber/lo"
)

// Registry maps post ids to the connections subscribed to them. Each post id has its own
// bucket and lock, so traffic on one post never waits on another.
type Registry struct {
	rooms   sync.Map // post id -> *room
	metrics *metrics.RealtimeMetrics
}

type room struct {
	mu      sync.Mutex
	members map[string]*Connection
	// closed marks a pruned bucket; callers holding a stale pointer must reload.
	closed bool
}

// NewRegistry constructs an empty registry. m may be nil.
func NewRegistry(m *metrics.RealtimeMetrics) *Registry {
	return &Registry{metrics: m}
}

// Subscribe adds conn to the room for postID, creating the room on first use.
func (r *Registry) Subscribe(postID string, conn *Connection) {
	for {
		bucket := r.loadOrCreate(postID)
		bucket.mu.Lock()
		if bucket.closed {
			bucket.mu.Unlock()
			continue
		}
		if len(bucket.members) == 0 {
			r.metrics.RoomOpened()
		}
		bucket.members[conn.id] = conn
		bucket.mu.Unlock()
		return
	}
}

// Unsubscribe removes conn from the room for postID and prunes the room once empty.
func (r *Registry) Unsubscribe(postID string, conn *Connection) {
	value, ok := r.rooms.Load(postID)
	if !ok {
		return
	}
	bucket := value.(*room)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if _, member := bucket.members[conn.id]; !member {
		return
	}
	delete(bucket.members, conn.id)
	if len(bucket.members) == 0 {
		bucket.closed = true
		r.rooms.CompareAndDelete(postID, bucket)
		r.metrics.RoomClosed()
	}
}

// Publish hands event to every connection subscribed to postID at the time of the call and
// returns how many accepted it. Sends never block, so they happen under the bucket lock and
// a concurrent Disconnect either precedes or follows the whole publish.
func (r *Registry) Publish(postID string, event Event) int {
	value, ok := r.rooms.Load(postID)
	if !ok {
		return 0
	}
	bucket := value.(*room)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	if bucket.closed {
		return 0
	}
	delivered := 0
	for _, conn := range bucket.members {
		if conn.deliver(event) {
			delivered++
			continue
		}
		r.metrics.Dropped(metrics.DropReasonLagging)
	}
	r.metrics.Delivered(delivered)
	return delivered
}

// Deliver lets the registry act as the local fanout sink.
func (r *Registry) Deliver(_ context.Context, postID string, event Event) (int, error) {
	return r.Publish(postID, event), nil
}

// Members lists the connection ids subscribed to postID, sorted.
func (r *Registry) Members(postID string) []string {
	value, ok := r.rooms.Load(postID)
	if !ok {
		return nil
	}
	bucket := value.(*room)
	bucket.mu.Lock()
	ids := lo.Keys(bucket.members)
	bucket.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Rooms lists the post ids that currently have subscribers, sorted.
func (r *Registry) Rooms() []string {
	var postIDs []string
	r.rooms.Range(func(key, _ any) bool {
		postIDs = append(postIDs, key.(string))
		return true
	})
	sort.Strings(postIDs)
	return postIDs
}

func (r *Registry) loadOrCreate(postID string) *room {
	if value, ok := r.rooms.Load(postID); ok {
		return value.(*room)
	}
	value, _ := r.rooms.LoadOrStore(postID, &room{members: make(map[string]*Connection)})
	return value.(*room)
}
