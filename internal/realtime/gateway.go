package realtime

import (
	"errors"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultConnectionBuffer = 32

var (
	// ErrConnectionClosed is returned for operations on a disconnected connection.
	ErrConnectionClosed = errors.New("realtime: connection closed")
	// ErrInvalidRoom is returned when a blank post id is joined or left.
	ErrInvalidRoom = errors.New("realtime: post id required")

	errMissingRegistry = errors.New("realtime: registry required")
)

// IDProvider issues connection ids.
type IDProvider interface {
	NewID() (string, error)
}

// GatewayConfig wires the gateway to its registry. IDProvider defaults to UUIDv7 ids.
type GatewayConfig struct {
	Registry   *Registry
	IDProvider IDProvider
	BufferSize int
	Logger     *zap.Logger
	Metrics    *metrics.RealtimeMetrics
}

// Gateway owns every live connection and keeps connection and room membership in step.
type Gateway struct {
	registry   *Registry
	idProvider IDProvider
	bufferSize int
	logger     *zap.Logger
	metrics    *metrics.RealtimeMetrics

	mu          sync.Mutex
	connections map[string]*Connection
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultConnectionBuffer
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry:    cfg.Registry,
		idProvider:  idProvider,
		bufferSize:  bufferSize,
		logger:      logger,
		metrics:     cfg.Metrics,
		connections: make(map[string]*Connection),
	}, nil
}

// Connect allocates a connection with no memberships. It never fails: when the provider
// errors the connection gets a random UUID instead.
func (g *Gateway) Connect() *Connection {
	connectionID, err := g.idProvider.NewID()
	if err != nil || connectionID == "" {
		g.logger.Warn("connection id provider failed, using random id", zap.Error(err))
		connectionID = uuid.NewString()
	}
	conn := newConnection(connectionID, g.bufferSize)
	g.mu.Lock()
	g.connections[conn.id] = conn
	g.mu.Unlock()
	g.metrics.ConnectionOpened()
	g.logger.Debug("realtime connection opened", zap.String("connection_id", conn.id))
	return conn
}

// JoinRoom subscribes conn to postID. Joining twice is a no-op. The post is not looked up:
// a room for a post that does not exist simply never receives events.
func (g *Gateway) JoinRoom(conn *Connection, postID string) error {
	roomID := strings.TrimSpace(postID)
	if roomID == "" {
		return ErrInvalidRoom
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	if _, joined := conn.rooms[roomID]; joined {
		return nil
	}
	g.registry.Subscribe(roomID, conn)
	conn.rooms[roomID] = struct{}{}
	g.logger.Debug("realtime room joined", zap.String("connection_id", conn.id), zap.String("post_id", roomID))
	return nil
}

// LeaveRoom unsubscribes conn from postID. Leaving a room that was never joined is a no-op.
func (g *Gateway) LeaveRoom(conn *Connection, postID string) error {
	roomID := strings.TrimSpace(postID)
	if roomID == "" {
		return ErrInvalidRoom
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	if _, joined := conn.rooms[roomID]; !joined {
		return nil
	}
	g.registry.Unsubscribe(roomID, conn)
	delete(conn.rooms, roomID)
	return nil
}

// Disconnect removes conn from every room before returning, then releases it. Later calls
// are no-ops.
func (g *Gateway) Disconnect(conn *Connection) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	for roomID := range conn.rooms {
		g.registry.Unsubscribe(roomID, conn)
		delete(conn.rooms, roomID)
	}
	conn.closed = true
	close(conn.done)
	conn.mu.Unlock()

	g.mu.Lock()
	delete(g.connections, conn.id)
	g.mu.Unlock()
	g.metrics.ConnectionClosed()
	g.logger.Debug("realtime connection closed", zap.String("connection_id", conn.id))
}

// ConnectionCount reports the number of live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.connections)
}

// Close disconnects every live connection; used on shutdown.
func (g *Gateway) Close() {
	g.mu.Lock()
	live := make([]*Connection, 0, len(g.connections))
	for _, conn := range g.connections {
		live = append(live, conn)
	}
	g.mu.Unlock()
	for _, conn := range live {
		g.Disconnect(conn)
	}
}
