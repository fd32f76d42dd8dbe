package handlers

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genz-social/pulse/internal/server/middleware"
	"github.com/genz-social/pulse/pkg/metrics"
	"github.com/genz-social/pulse/pkg/realtime"
	"github.com/genz-social/pulse/pkg/transport"
)

// WSHandler accepts websocket connections and wires them into the
// realtime gateway. Authentication happens upstream (WSAuth middleware),
// so every connection arrives with a verified user id.
type WSHandler struct {
	Gateway   *realtime.Gateway
	Transport transport.ConnectionConfig
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// wg tracks live connection goroutines for graceful shutdown.
	wg *sync.WaitGroup

	// AllowAnyOrigin bypasses origin verification for cross-origin dev
	// setups. Leave false in production.
	AllowAnyOrigin bool
}

func NewWSHandler(logger *slog.Logger, gw *realtime.Gateway, tcfg transport.ConnectionConfig, m *metrics.Metrics, wg *sync.WaitGroup, allowAnyOrigin bool) *WSHandler {
	if gw == nil {
		panic("handlers: NewWSHandler requires a gateway")
	}
	return &WSHandler{
		Gateway:        gw,
		Transport:      tcfg,
		Metrics:        m,
		Logger:         logger.With(slog.String("component", "ws_handler")),
		wg:             wg,
		AllowAnyOrigin: allowAnyOrigin,
	}
}

// Handle serves GET /ws. It blocks until the client disconnects.
func (h *WSHandler) Handle(c *gin.Context) {
	userID := middleware.MustUserID(c)

	wsConn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: h.AllowAnyOrigin,
	})
	if err != nil {
		// Accept has already written the error response.
		h.Logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		c.Request.Context(),
		h.wg,
		wsConn,
		h.Transport,
		nil,
		nil,
		h.Logger,
	)
	conn.SetOnMessageHandler(h.Gateway.HandleClientMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		h.Gateway.HandleDisconnect(id)
		h.Metrics.ConnClosed()
	})

	h.Gateway.HandleConnect(conn, userID)
	h.Metrics.ConnOpened()
	h.Logger.Info("websocket session established", slog.String("userID", userID), slog.String("connID", conn.ID().String()))

	conn.Run()
	<-conn.Done()
}
