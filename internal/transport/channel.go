// Package transport maintains one logical duplex WebSocket connection to
// the remote realtime endpoint, with keepalive probing and automatic
// reconnection on abnormal closes.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlate/voxlate/pkg/logger"
)

// StateKind enumerates connection states.
type StateKind int

const (
	StateDisconnected StateKind = iota
	StateConnecting
	StateConnected
	StateFailed
)

// State is the tagged connection state; Reason is set for StateFailed and
// for transient errors reported alongside StateConnecting.
type State struct {
	Kind   StateKind
	Reason string
}

func (k StateKind) String() string {
	switch k {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config contains channel settings.
type Config struct {
	HandshakeTimeout     time.Duration
	KeepaliveInterval    time.Duration
	MaxReconnectAttempts int
	// BackoffBase scales the reconnect delay: delay = base * 2^attempt.
	// The production default of one second yields the 2s, 4s, 8s, ...
	// progression.
	BackoffBase time.Duration
}

// Callbacks receive channel events. OnMessage is invoked from the single
// receive loop in arrival order; OnState from whichever goroutine drives
// the transition.
type Callbacks struct {
	OnMessage func([]byte)
	OnState   func(State)
}

// Channel is a persistent duplex message channel.
type Channel struct {
	config    Config
	callbacks Callbacks
	logger    *logger.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	endpoint    string
	header      http.Header
	intentional bool
	attempts    int
	gen         int // connection generation, guards stale failure reports
	state       State
}

// NewChannel creates a transport channel.
func NewChannel(config Config, callbacks Callbacks, log *logger.Logger) *Channel {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 45 * time.Second
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 4 * time.Second
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = 5
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}

	return &Channel{
		config:    config,
		callbacks: callbacks,
		logger:    log.Named("transport"),
		state:     State{Kind: StateDisconnected},
	}
}

// Connect establishes the connection to the given endpoint. On open
// failure the reconnect path starts automatically; the dial error is
// still returned so callers can surface it.
func (c *Channel) Connect(ctx context.Context, endpoint string, header http.Header) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("channel already connected")
	}
	c.endpoint = endpoint
	c.header = header
	c.intentional = false
	c.attempts = 0
	c.mu.Unlock()

	c.setState(State{Kind: StateConnecting})

	if err := c.dial(ctx); err != nil {
		c.logger.Error("Initial connection failed", logger.Error(err))
		c.scheduleReconnect(err)
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Send writes one text message. Send order is preserved by the write
// lock; sending on a disconnected channel is an error.
func (c *Channel) Send(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("channel is not connected")
	}

	c.mu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, payload)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Disconnect performs a clean user-initiated close and suppresses the
// reconnect path.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		// Best effort: tell the peer we are going away before closing
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		_ = conn.Close()
	}

	c.setState(State{Kind: StateDisconnected})
	return nil
}

// dial establishes one WebSocket connection and starts its pumps.
func (c *Channel) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	c.mu.Lock()
	endpoint := c.endpoint
	header := c.header
	c.mu.Unlock()

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempts = 0 // successful open resets the retry budget
	c.mu.Unlock()

	c.setState(State{Kind: StateConnected})
	c.logger.Info("Connected", logger.String("endpoint", endpoint))

	go c.readLoop(conn, gen)
	go c.keepaliveLoop(conn, gen)

	return nil
}

// readLoop is the single outstanding receive: one pending read at a time,
// messages handed to OnMessage in delivery order.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleFailure(gen, err)
			return
		}
		if c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(message)
		}
	}
}

// keepaliveLoop sends a periodic ping independent of message traffic.
// A probe failure takes the same path as a receive failure.
func (c *Channel) keepaliveLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.config.KeepaliveInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.gen != gen || c.conn != conn
		c.mu.Unlock()
		if stale {
			return
		}

		deadline := time.Now().Add(c.config.KeepaliveInterval)
		c.mu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, deadline)
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("Keepalive probe failed", logger.Error(err))
			c.handleFailure(gen, err)
			return
		}
	}
}

// handleFailure reacts to a connection-level error: ignores stale
// generations and intentional closes, otherwise tears the connection down
// and enters the reconnect path.
func (c *Channel) handleFailure(gen int, err error) {
	c.mu.Lock()
	if c.gen != gen || c.intentional {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.logger.Warn("Connection lost", logger.Error(err))
	c.scheduleReconnect(err)
}

// scheduleReconnect runs the exponential backoff: delay = base * 2^attempt,
// attempt starting at 1, until MaxReconnectAttempts is exhausted.
func (c *Channel) scheduleReconnect(cause error) {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if attempt > c.config.MaxReconnectAttempts {
		c.logger.Error("Exceeded maximum reconnection attempts",
			logger.Int("max_attempts", c.config.MaxReconnectAttempts))
		c.setState(State{Kind: StateFailed,
			Reason: fmt.Sprintf("reconnection failed after %d attempts: %v", c.config.MaxReconnectAttempts, cause)})
		return
	}

	delay := c.reconnectDelay(attempt)
	c.setState(State{Kind: StateConnecting, Reason: cause.Error()})
	c.logger.Info("Scheduling reconnect",
		logger.Int("attempt", attempt),
		logger.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.intentional || c.conn != nil {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.dial(context.Background()); err != nil {
			c.logger.Error("Reconnect attempt failed",
				logger.Int("attempt", attempt),
				logger.Error(err))
			c.scheduleReconnect(err)
		}
	})
}

// reconnectDelay computes the backoff delay for the given attempt number.
func (c *Channel) reconnectDelay(attempt int) time.Duration {
	return c.config.BackoffBase * (1 << uint(attempt))
}

// setState records and publishes a state transition.
func (c *Channel) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	if c.callbacks.OnState != nil {
		c.callbacks.OnState(state)
	}
}

// CurrentState returns the last published state.
func (c *Channel) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
