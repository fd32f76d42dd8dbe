package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is the callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// OnCloseHandler is executed exactly once when the connection terminates.
type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	PingTimeout    time.Duration `mapstructure:"pingTimeout"`
	PingMissBudget int           `mapstructure:"pingMissBudget"`
	SendBuffer     int           `mapstructure:"sendBuffer"`
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.PingMissBudget <= 0 {
		c.PingMissBudget = 2
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Connection represents a single, thread-safe WebSocket connection.
// Outbound frames go through a buffered queue; a full queue means the
// frame is dropped rather than blocking the sender.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	config = config.withDefaults()

	// Counted from construction, not Run: a connection can be closed by
	// the limiter's cycle mode before its pumps ever start.
	wg.Add(1)

	return &Connection{
		id:        id,
		conn:      conn,
		config:    config,
		send:      make(chan []byte, config.SendBuffer),
		onMessage: onMessage,
		onClose:   onClose,
		done:      make(chan struct{}),
		wg:        wg,
		ctx:       connCtx,
		cancel:    cancel,
		logger:    logger.With(slog.String("connID", id.String())),
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()
	go c.pingLoop()

	c.logger.Debug("connection established")
}

// readPump pumps messages from the WebSocket connection to the message
// handler. The read itself carries no deadline: a listen-only peer may
// stay quiet indefinitely, and liveness is the ping loop's call alone.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		typ, r, err := c.conn.Reader(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		message, err := io.ReadAll(r)
		if err != nil {
			readErr = err
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

// writePump pumps messages from the send queue to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			writeCtx, cancelWrite := context.WithTimeout(c.ctx, c.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancelWrite()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// pingLoop proactively detects dead peers. A connection that exhausts its
// consecutive-miss budget is torn down like any other disconnect.
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(c.ctx, c.config.PingTimeout)
			err := c.conn.Ping(pingCtx)
			cancelPing()
			if err == nil {
				misses = 0
				continue
			}
			misses++
			c.logger.Debug("keepalive ping failed", slog.Int("misses", misses), slog.Any("error", err))
			if misses >= c.config.PingMissBudget {
				c.Close(err)
				return
			}
		}
	}
}

// Send queues a message for delivery. It is safe for concurrent use and
// never blocks: it reports false when the frame was dropped because the
// connection is closed or its queue is full.
func (c *Connection) Send(message []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("send queue full, dropping frame")
		return false
	}
}

// Close shuts down the connection and its goroutines. Safe to call from
// any goroutine, any number of times.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Debug("transport connection closing", slog.Any("reason", err))

		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
