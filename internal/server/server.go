package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/genz-social/pulse/internal/http/handlers"
	"github.com/genz-social/pulse/internal/server/middleware"
	"github.com/genz-social/pulse/pkg/config"
	"github.com/genz-social/pulse/pkg/metrics"
	"github.com/genz-social/pulse/pkg/realtime"
	"github.com/genz-social/pulse/pkg/transport"
)

// App is the composition root. It owns the registry/router/gateway
// instances and hands them by reference to every handler that needs
// them; nothing in the process reaches for global state.
type App struct {
	logger   *slog.Logger
	config   *config.Config
	registry *realtime.Registry
	gateway  *realtime.Gateway
	metrics  *metrics.Metrics
	http     *http.Server
	wg       sync.WaitGroup

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st handlers.MessageStore) *App {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	router := realtime.NewRouter(logger, m)
	registry := realtime.NewRegistry(logger, router)
	gateway := realtime.NewGateway(logger, registry, router)

	app := &App{
		logger:   logger,
		config:   cfg,
		registry: registry,
		gateway:  gateway,
		metrics:  m,
		ctx:      rootCtx,
	}

	msgHandler := handlers.NewMessageHandler(logger, st, gateway)
	wsHandler := handlers.NewWSHandler(
		logger,
		gateway,
		transport.ConnectionConfig(cfg.Transport),
		m,
		&app.wg,
		cfg.Server.AllowAnyOrigin,
	)

	connCounter := func(userID string) int {
		return len(registry.ConnectionsForUser(userID))
	}
	connCycler := func(userID string) {
		oldest, found := registry.OldestConnectionForUser(userID)
		if found {
			logger.Info("cycling connection: closing oldest",
				slog.String("userID", userID),
				slog.String("connID", oldest.ID.String()),
			)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	r.GET("/ws",
		middleware.WSAuth(cfg.Server.Auth.JWTSecret),
		middleware.ConnectionLimiter(logger, connCounter, connCycler, cfg.Server.ConnectionLimit),
		wsHandler.Handle,
	)

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := r.Group("/api", middleware.Auth(cfg.Server.Auth.JWTSecret))
	{
		api.POST("/messages", msgHandler.Send)
		api.POST("/messages/read", msgHandler.MarkRead)
		api.POST("/messages/reactions", msgHandler.ToggleReaction)
		api.GET("/messages/conversations", msgHandler.Conversations)
		api.GET("/messages/conversations/:userId", msgHandler.ConversationMessages)
		api.GET("/messages/unread", msgHandler.Unread)
	}

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("http server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// Shutdown stops accepting requests, closes every live websocket
// connection, and waits for their teardown to finish.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("closing all active connections")
	for _, conn := range a.registry.All() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	a.wg.Wait()
	a.logger.Info("server shut down gracefully")
	return nil
}
