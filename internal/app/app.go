package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/config"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/database"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/server"
	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/users"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	shutdownTimeout    = 10 * time.Second
	bridgeReadyTimeout = 5 * time.Second
)

// App is one running instance of the backend: storage, services, realtime core and the
// HTTP surface.
type App struct {
	cfg       config.AppConfig
	logger    *zap.Logger
	db        *gorm.DB
	handler   http.Handler
	gateway   *realtime.Gateway
	publisher *realtime.AsyncPublisher
	redis     *goredis.Client
	bridge    *realtime.RedisBridge

	bridgeCancel context.CancelFunc
	bridgeDone   chan error
	closeOnce    sync.Once
}

// New opens the database and wires every component. Background work starts with Start.
func New(cfg config.AppConfig, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := database.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	application := &App{cfg: cfg, logger: logger, db: db}
	if err := application.wire(); err != nil {
		_ = application.Close()
		return nil, err
	}
	return application, nil
}

func (a *App) wire() error {
	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(a.cfg.SigningSecret),
		Issuer:        a.cfg.TokenIssuer,
		Audience:      a.cfg.TokenAudience,
		TokenTTL:      a.cfg.TokenTTL,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	userService, err := users.NewService(users.ServiceConfig{Database: a.db, IDProvider: idProvider})
	if err != nil {
		return err
	}
	postService, err := posts.NewService(posts.ServiceConfig{Database: a.db, IDProvider: idProvider, Logger: a.logger})
	if err != nil {
		return err
	}
	commentStore, err := comments.NewStore(comments.StoreConfig{Database: a.db, IDProvider: idProvider})
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	realtimeMetrics := metrics.NewRealtimeMetrics(registry)
	rooms := realtime.NewRegistry(realtimeMetrics)
	a.gateway, err = realtime.NewGateway(realtime.GatewayConfig{
		Registry:   rooms,
		IDProvider: idProvider,
		BufferSize: a.cfg.ConnectionBuffer,
		Logger:     a.logger,
		Metrics:    realtimeMetrics,
	})
	if err != nil {
		return err
	}

	var sink realtime.Sink = rooms
	if a.cfg.RedisAddress != "" {
		a.redis = goredis.NewClient(&goredis.Options{Addr: a.cfg.RedisAddress})
		a.bridge, err = realtime.NewRedisBridge(realtime.RedisBridgeConfig{
			Client:        a.redis,
			ChannelPrefix: a.cfg.RedisChannelPrefix,
			Registry:      rooms,
			Logger:        a.logger,
		})
		if err != nil {
			return err
		}
		sink = a.bridge
	}
	a.publisher, err = realtime.NewAsyncPublisher(realtime.AsyncPublisherConfig{
		Sink:      sink,
		Workers:   a.cfg.PublishWorkers,
		QueueSize: a.cfg.PublishQueue,
		Logger:    a.logger,
		Metrics:   realtimeMetrics,
	})
	if err != nil {
		return err
	}

	commentService, err := comments.NewService(comments.ServiceConfig{
		Store:      commentStore,
		Gatekeeper: tokenManager,
		Posts:      postService,
		Authors:    userService,
		Fanout:     a.publisher,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	a.handler, err = server.NewHTTPHandler(server.Dependencies{
		TokenManager:      tokenManager,
		Users:             userService,
		Posts:             postService,
		Comments:          commentService,
		Gateway:           a.gateway,
		MetricsHandler:    metrics.Handler(registry),
		AllowedOrigins:    a.cfg.AllowedOrigins,
		MessagesPerSecond: a.cfg.MessagesPerSecond,
		MessageBurst:      a.cfg.MessageBurst,
		Logger:            a.logger,
	})
	return err
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start launches the Redis bridge when one is configured and waits for its subscription.
func (a *App) Start(ctx context.Context) error {
	if a.bridge == nil {
		return nil
	}
	bridgeCtx, cancel := context.WithCancel(ctx)
	a.bridgeCancel = cancel
	a.bridgeDone = make(chan error, 1)
	go func() {
		a.bridgeDone <- a.bridge.Run(bridgeCtx)
	}()

	select {
	case <-a.bridge.Ready():
		return nil
	case err := <-a.bridgeDone:
		a.bridgeDone <- err
		return fmt.Errorf("redis bridge stopped: %w", err)
	case <-time.After(bridgeReadyTimeout):
		return errors.New("redis bridge did not subscribe in time")
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    a.cfg.HTTPAddress,
		Handler: a.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("address", a.cfg.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("server shutting down")
		// Live sockets and streams end first so Shutdown does not wait on them.
		a.gateway.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases every resource. Queued fanout is drained before the bridge stops.
func (a *App) Close() error {
	var closeErr error
	a.closeOnce.Do(func() {
		if a.gateway != nil {
			a.gateway.Close()
		}
		if a.publisher != nil {
			a.publisher.Close()
		}
		if a.bridgeCancel != nil {
			a.bridgeCancel()
			if err := <-a.bridgeDone; err != nil {
				a.logger.Warn("redis bridge stopped with error", zap.Error(err))
			}
		}
		if a.redis != nil {
			closeErr = errors.Join(closeErr, a.redis.Close())
		}
		if a.db != nil {
			sqlDB, err := a.db.DB()
			if err == nil {
				err = sqlDB.Close()
			}
			closeErr = errors.Join(closeErr, err)
		}
	})
	return closeErr
}
