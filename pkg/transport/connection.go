package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is the callback executed for each inbound frame.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

// ErrSlowConsumer is the close reason for a peer whose send buffer filled up.
// A stalled peer must never block the broadcast path.
var ErrSlowConsumer = errors.New("send buffer full, dropping slow consumer")

type ConnectionConfig struct {
	// ReadTimeout is the liveness window: the peer must answer a ping within
	// it or the connection is evicted.
	ReadTimeout time.Duration
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int
}

// Connection owns a single websocket and is safe for concurrent use.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	draining  chan struct{}
	started   atomic.Bool
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	drainOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)

	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}

	return &Connection{
		id:       id,
		conn:     conn,
		config:   config,
		send:     make(chan []byte, config.SendBuffer),
		done:     make(chan struct{}),
		draining: make(chan struct{}),
		ctx:      connCtx,
		cancel:   cancel,
		wg:       wg,
		logger:   logger.With(slog.String("connID", id.String())),
	}
}

func (c *Connection) Run() {
	c.wg.Add(1)
	c.started.Store(true)
	go c.readPump()
	go c.writePump()

	c.logger.Debug("connection established")
}

// readPump pumps inbound frames to the message handler. Liveness is enforced
// by the writePump's ping cycle, not a per-read deadline: pongs are control
// frames and never complete a Reader call.
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

// writePump drains the send channel onto the websocket and runs the liveness
// cycle: a ping every half ReadTimeout, answered within the other half, or
// the peer is evicted.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	pingInterval := c.config.ReadTimeout / 2
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-ticker.C:
			// The pong wait runs off the loop so a slow pong cannot stall
			// queued outbound frames. Ping is a control frame, safe
			// concurrently with Write.
			pingCtx, cancelPing := context.WithTimeout(c.ctx, pingInterval)
			go func() {
				defer cancelPing()
				if err := c.conn.Ping(pingCtx); err != nil {
					c.Close(err)
				}
			}()
		case <-c.draining:
			writeErr = c.flush()
			return
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
	}
}

// flush writes whatever is already queued, then closes the socket
// cleanly. Only the writePump calls it.
func (c *Connection) flush() error {
	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				return err
			}
		default:
			c.conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}
}

// CloseGraceful tears the connection down after the writePump has flushed the
// frames already queued, bounded by timeout. Used for the shutdown notice so
// the final frame is actually written before the socket goes away.
func (c *Connection) CloseGraceful(timeout time.Duration) {
	c.drainOnce.Do(func() { close(c.draining) })
	select {
	case <-c.done:
	case <-time.After(timeout):
		c.Close(errors.New("graceful close timed out"))
		<-c.done
	}
}

// Send queues a message without blocking. If the peer cannot keep up the
// connection is closed instead of stalling the caller.
func (c *Connection) Send(message []byte) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	select {
	case c.send <- message:
	default:
		c.logger.Warn("outbound buffer full, closing connection")
		go c.Close(ErrSlowConsumer)
	}
}

// Close tears the connection down exactly once.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Debug("transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		if c.started.Load() {
			c.wg.Done()
		}
		close(c.done)
	})
}

// Done is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
