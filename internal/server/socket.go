package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	socketWriteWait          = 10 * time.Second
	socketPongWait           = 60 * time.Second
	socketPingPeriod         = (socketPongWait * 9) / 10
	socketMaxMessageSize     = 512
	socketReplyBuffer        = 8
	defaultMessagesPerSecond = 5
	defaultMessageBurst      = 10
)

// Error codes carried by "error" events sent back to a socket client.
const (
	socketErrorInvalidMessage = "invalid_message"
	socketErrorUnknownEvent   = "unknown_event"
	socketErrorInvalidPostID  = "invalid_post_id"
	socketErrorRateLimited    = "rate_limited"
)

type socketConfig struct {
	gateway           *realtime.Gateway
	allowedOrigins    []string
	messagesPerSecond float64
	burst             int
	logger            *zap.Logger
}

// socketHandler adapts WebSocket clients onto the realtime gateway. Clients send
// joinPost/leavePost and receive newComment events for the rooms they joined.
type socketHandler struct {
	gateway  *realtime.Gateway
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
}

func newSocketHandler(cfg socketConfig) *socketHandler {
	limit := rate.Limit(cfg.messagesPerSecond)
	if cfg.messagesPerSecond <= 0 {
		limit = defaultMessagesPerSecond
	}
	burst := cfg.burst
	if burst <= 0 {
		burst = defaultMessageBurst
	}
	return &socketHandler{
		gateway: cfg.gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newCheckOrigin(cfg.allowedOrigins, cfg.logger),
		},
		limit:  limit,
		burst:  burst,
		logger: cfg.logger,
	}
}

// newCheckOrigin allows requests without an Origin header and, when origins are
// configured, only those origins. With no configured origins every origin is accepted.
func newCheckOrigin(allowedOrigins []string, logger *zap.Logger) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if normalized := normalizeOrigin(origin); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		if _, ok := allowed[normalizeOrigin(origin)]; ok {
			return true
		}
		logger.Warn("websocket origin rejected", zap.String("origin", origin), zap.String("remote_addr", r.RemoteAddr))
		return false
	}
}

func normalizeOrigin(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return ""
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

func (s *socketHandler) serve(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	session := &socketSession{
		handler: s,
		ws:      ws,
		conn:    s.gateway.Connect(),
		replies: make(chan realtime.Event, socketReplyBuffer),
		limiter: rate.NewLimiter(s.limit, s.burst),
	}
	written := make(chan struct{})
	go func() {
		defer close(written)
		session.writePump()
	}()
	session.readPump()
	s.gateway.Disconnect(session.conn)
	<-written
}

type socketSession struct {
	handler *socketHandler
	ws      *websocket.Conn
	conn    *realtime.Connection
	replies chan realtime.Event
	limiter *rate.Limiter
}

func (s *socketSession) readPump() {
	s.ws.SetReadLimit(socketMaxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(socketPongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		_, frame, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.handler.logger.Info("websocket closed unexpectedly", zap.String("connection_id", s.conn.ID()), zap.Error(err))
			}
			return
		}
		if !s.limiter.Allow() {
			s.reply(socketErrorRateLimited)
			continue
		}
		if !s.handle(frame) {
			return
		}
	}
}

// handle applies one client frame. It reports false once the connection is gone.
func (s *socketSession) handle(frame []byte) bool {
	event, err := realtime.DecodeEvent(frame)
	if err != nil {
		s.reply(socketErrorInvalidMessage)
		return true
	}
	switch event.Name {
	case realtime.EventJoinPost:
		err = s.handler.gateway.JoinRoom(s.conn, event.PostID())
	case realtime.EventLeavePost:
		err = s.handler.gateway.LeaveRoom(s.conn, event.PostID())
	default:
		s.reply(socketErrorUnknownEvent)
		return true
	}
	switch {
	case errors.Is(err, realtime.ErrConnectionClosed):
		return false
	case errors.Is(err, realtime.ErrInvalidRoom):
		s.reply(socketErrorInvalidPostID)
	}
	return true
}

func (s *socketSession) reply(code string) {
	event, err := realtime.NewEvent(realtime.EventError, map[string]string{"code": code})
	if err != nil {
		return
	}
	select {
	case s.replies <- event:
	default:
	}
}

func (s *socketSession) writePump() {
	ticker := time.NewTicker(socketPingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
	}()

	for {
		select {
		case event := <-s.conn.Events():
			if err := s.write(event); err != nil {
				return
			}
		case event := <-s.replies:
			if err := s.write(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.conn.Lagging():
			s.handler.logger.Info("closing lagging websocket", zap.String("connection_id", s.conn.ID()))
			s.close(websocket.CloseTryAgainLater, "too slow")
			return
		case <-s.conn.Done():
			s.close(websocket.CloseGoingAway, "")
			return
		}
	}
}

func (s *socketSession) write(event realtime.Event) error {
	_ = s.ws.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return s.ws.WriteJSON(event)
}

func (s *socketSession) close(code int, reason string) {
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(socketWriteWait))
}
