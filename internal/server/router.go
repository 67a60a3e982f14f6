package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const principalIDContextKey = "inkwell_principal_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsers         = errors.New("user directory dependency required")
	errMissingPosts         = errors.New("post store dependency required")
	errMissingComments      = errors.New("comment service dependency required")
	errMissingGateway       = errors.New("realtime gateway dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type TokenManager interface {
	IssueToken(ctx context.Context, principalID string) (string, int64, error)
	Verify(ctx context.Context, credential string) (string, error)
}

type UserDirectory interface {
	Register(ctx context.Context, username, password string) (users.User, error)
	Authenticate(ctx context.Context, username, password string) (users.User, error)
	Get(ctx context.Context, userID string) (users.User, error)
	List(ctx context.Context) ([]users.User, error)
	Update(ctx context.Context, principalID, userID string, request users.UpdateRequest) (users.User, error)
	Delete(ctx context.Context, principalID, userID string) error
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

type PostStore interface {
	Create(ctx context.Context, request posts.CreateRequest) (posts.Post, error)
	Get(ctx context.Context, postID string) (posts.Post, error)
	List(ctx context.Context) ([]posts.Post, error)
	Update(ctx context.Context, principalID, postID string, request posts.UpdateRequest) (posts.Post, error)
	Delete(ctx context.Context, principalID, postID string) error
}

type CommentService interface {
	Create(ctx context.Context, request comments.CreateRequest) (comments.View, error)
	List(ctx context.Context, postID string) ([]comments.View, error)
}

// Dependencies wires the HTTP surface to the services behind it. MetricsHandler is
// optional; the remaining rate and heartbeat settings fall back to defaults.
type Dependencies struct {
	TokenManager      TokenManager
	Users             UserDirectory
	Posts             PostStore
	Comments          CommentService
	Gateway           *realtime.Gateway
	MetricsHandler    http.Handler
	AllowedOrigins    []string
	MessagesPerSecond float64
	MessageBurst      int
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Posts == nil {
		return nil, errMissingPosts
	}
	if deps.Comments == nil {
		return nil, errMissingComments
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		users:     deps.Users,
		posts:     deps.Posts,
		comments:  deps.Comments,
		gateway:   deps.Gateway,
		logger:    logger,
		heartbeat: deps.HeartbeatInterval,
		socket: newSocketHandler(socketConfig{
			gateway:           deps.Gateway,
			allowedOrigins:    deps.AllowedOrigins,
			messagesPerSecond: deps.MessagesPerSecond,
			burst:             deps.MessageBurst,
			logger:            logger,
		}),
	}
	if handler.heartbeat <= 0 {
		handler.heartbeat = defaultHeartbeatInterval
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	router.GET("/ws", handler.socket.serve)

	api := router.Group("/api")
	api.POST("/auth/register", handler.handleRegister)
	api.POST("/auth/login", handler.handleLogin)
	api.GET("/users/:id", handler.handleGetUser)

	api.GET("/posts", handler.handleListPosts)
	api.GET("/posts/:id", handler.handleGetPost)

	// Comment writes verify their own credential.
	api.GET("/comments/post/:postId", handler.handleListComments)
	api.POST("/comments/post/:postId", handler.handleCreateComment)
	api.GET("/comments/post/:postId/stream", handler.handleCommentStream)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users", handler.handleListUsers)
	protected.PUT("/users/:id", handler.handleUpdateUser)
	protected.DELETE("/users/:id", handler.handleDeleteUser)
	protected.POST("/posts", handler.handleCreatePost)
	protected.PUT("/posts/:id", handler.handleUpdatePost)
	protected.DELETE("/posts/:id", handler.handleDeletePost)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	tokens    TokenManager
	users     UserDirectory
	posts     PostStore
	comments  CommentService
	gateway   *realtime.Gateway
	socket    *socketHandler
	heartbeat time.Duration
	logger    *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerCredential(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	principalID, err := h.tokens.Verify(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredCredential) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalIDContextKey, principalID)
	c.Next()
}

// bearerCredential returns the token of an "Authorization: Bearer" header, or "".
func bearerCredential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// respondError maps service errors onto status codes without leaking internal detail.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, comments.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, users.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, posts.ErrForbidden), errors.Is(err, users.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, comments.ErrPostNotFound), errors.Is(err, posts.ErrPostNotFound):
		status, code = http.StatusNotFound, "post_not_found"
	case errors.Is(err, users.ErrUserNotFound):
		status, code = http.StatusNotFound, "user_not_found"
	case errors.Is(err, users.ErrUsernameTaken):
		status, code = http.StatusConflict, "username_taken"
	case errors.Is(err, comments.ErrInvalidContent):
		status, code = http.StatusBadRequest, "invalid_content"
	case errors.Is(err, posts.ErrInvalidPost):
		status, code = http.StatusBadRequest, "invalid_post"
	case errors.Is(err, users.ErrInvalidUser):
		status, code = http.StatusBadRequest, "invalid_user"
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}
