package client

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/leighmacdonald/gbans-sub003/pkg/wire"
)

// LifecycleState is the connection lifecycle: Connecting -> Open -> Closed,
// with Closed -> Connecting on auto-reconnect. Context cancellation is the
// only terminal exit.
type LifecycleState int

const (
	StateConnecting LifecycleState = iota
	StateOpen
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const minReconnectDelay = time.Second

type Config struct {
	// URL is the authority's ws endpoint, e.g. "ws://host:8080/ws".
	URL string
	// Token is the identity token passed as a connection parameter. Empty
	// means connecting as a guest.
	Token string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	WindowSize        int

	// OnOpen runs after each successful connect, including reconnects. Hosts
	// use it to re-issue intents the authority forgot with the old connection,
	// queue membership above all.
	OnOpen func(*Client)
}

// Client maintains a live connection to the queue authority, applies
// incoming state diffs, gates local actions by moderation state, and
// exposes a read/write surface to the host application.
type Client struct {
	logger *slog.Logger
	cfg    Config

	mu        sync.RWMutex
	lifecycle LifecycleState
	st        State
	// systemID numbers locally generated system lines downward so they can
	// never collide with server-assigned message ids.
	systemID int64

	outbox    chan wire.Envelope
	gameReady chan GameReady
}

func New(logger *slog.Logger, cfg Config) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.ReconnectDelay < minReconnectDelay {
		cfg.ReconnectDelay = minReconnectDelay
	}

	return &Client{
		logger:    logger.With(slog.String("component", "queue_client")),
		cfg:       cfg,
		lifecycle: StateClosed,
		st:        NewState(cfg.WindowSize),
		systemID:  -1,
		outbox:    make(chan wire.Envelope, 32),
		gameReady: make(chan GameReady, 4),
	}
}

// Run drives the connection until ctx is cancelled, reconnecting after every
// drop with a fixed delay. It is the only goroutine that mutates state.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.setLifecycle(StateConnecting)

		err := c.session(ctx)
		wasOpen := c.Lifecycle() == StateOpen
		c.setLifecycle(StateClosed)
		if wasOpen {
			c.appendSystemLine("Disconnected from queue")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("connection lost, scheduling reconnect", slog.Any("error", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection lifetime: dial, pump, teardown.
func (c *Client) session(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close(websocket.StatusNormalClosure, "")

	c.setLifecycle(StateOpen)
	c.appendSystemLine("Connected to queue")
	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen(c)
	}

	// Writer: local intents and heartbeats share the socket.
	writeErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(sessCtx, 5*time.Second)
				err := conn.Ping(pingCtx)
				pingCancel()
				if err != nil {
					writeErr <- err
					return
				}
			case env := <-c.outbox:
				data, err := env.Encode()
				if err != nil {
					c.logger.Error("failed to encode outbound envelope", slog.Any("error", err))
					continue
				}
				if err := conn.Write(sessCtx, websocket.MessageText, data); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	// Reader: the only suspension point is the next inbound envelope.
	for {
		select {
		case err := <-writeErr:
			return err
		default:
		}

		_, data, err := conn.Read(sessCtx)
		if err != nil {
			return err
		}

		env, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", slog.Any("error", err))
			continue
		}
		if env.Op == wire.OpBye {
			// Graceful close notice; the reconnect loop takes it from here.
			return nil
		}
		c.apply(env)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target := c.cfg.URL
	if c.cfg.Token != "" {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	return conn, err
}

// apply feeds one envelope through the reducer and surfaces effects.
func (c *Client) apply(env wire.Envelope) {
	c.mu.Lock()
	next, ready := Reduce(c.st, env)
	c.st = next
	c.mu.Unlock()

	if ready != nil {
		select {
		case c.gameReady <- *ready:
		default:
			c.logger.Warn("game ready event dropped, host not consuming")
		}
	}
}

// --- Imperative actions (fire-and-forget) ---

// JoinQueue requests queue membership on the given servers. The effect is
// observed asynchronously via a later StateUpdate.
func (c *Client) JoinQueue(serverIDs []int) {
	c.enqueue(wire.MustNew(wire.OpJoinQueue, wire.JoinQueuePayload{Servers: serverIDs}))
}

func (c *Client) LeaveQueue(serverIDs []int) {
	c.enqueue(wire.MustNew(wire.OpLeaveQueue, wire.LeaveQueuePayload{Servers: serverIDs}))
}

// SendMessage submits a chat message. Gated locally by moderation state:
// a restricted client makes no network call at all. There is no local echo;
// the message appears only when the authority's broadcast round-trips back,
// so the client never displays content the authority rejected.
func (c *Client) SendMessage(body string) {
	c.mu.RLock()
	allowed := c.st.ChatStatus == wire.StatusReadwrite
	c.mu.RUnlock()
	if !allowed {
		return
	}
	c.enqueue(wire.MustNew(wire.OpMessage, wire.UserMessagePayload{BodyMD: body}))
}

func (c *Client) enqueue(env wire.Envelope) {
	select {
	case c.outbox <- env:
	default:
		c.logger.Warn("outbox full, dropping action", slog.String("op", string(env.Op)))
	}
}

// --- Read surface ---

// IsReady reports whether the connection is open.
func (c *Client) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lifecycle == StateOpen
}

func (c *Client) Lifecycle() LifecycleState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lifecycle
}

func (c *Client) Lobbies() []wire.LobbyState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]wire.LobbyState, len(c.st.Lobbies))
	copy(out, c.st.Lobbies)
	return out
}

func (c *Client) Users() []wire.QueueMember {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]wire.QueueMember, len(c.st.Users))
	copy(out, c.st.Users)
	return out
}

func (c *Client) Messages() []wire.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st.Window.Messages()
}

func (c *Client) ChatStatus() (wire.ChatStatus, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st.ChatStatus, c.st.StatusReason
}

// GameReady delivers lobby-formation events, at most once per event received.
func (c *Client) GameReady() <-chan GameReady {
	return c.gameReady
}

func (c *Client) setLifecycle(next LifecycleState) {
	c.mu.Lock()
	c.lifecycle = next
	c.mu.Unlock()
}

// appendSystemLine adds a synthetic local chat line ("Connected to queue",
// "Disconnected from queue"). Ids count downward to stay clear of
// server-assigned ids.
func (c *Client) appendSystemLine(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Window = c.st.Window.Append(wire.ChatMessage{
		MessageID: c.systemID,
		SteamID:   "system",
		Name:      "System",
		BodyMD:    body,
		CreatedOn: time.Now(),
	})
	c.systemID--
}
