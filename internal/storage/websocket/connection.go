package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/OCAP2/platoon/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 10_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// connection owns one websocket and the goroutines reading and writing it.
// Writes go through sendCh so only writeLoop touches the socket for writing.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	closed  bool
	dropped uint64

	// start_session frame replayed after a reconnect
	startFrame []byte

	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{}

	endpoint string
	secret   string
	logger   *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &connection{
		sendCh: make(chan []byte, sendChSize),
		ackCh:  make(chan streaming.AckMessage, ackChSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "websocket"),
	}
}

func (c *connection) dial(endpoint, secret string) error {
	c.endpoint = endpoint
	c.secret = secret

	conn, err := c.open()
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// open dials the endpoint with the secret as a query parameter.
func (c *connection) open() (*ws.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) attach(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
}

func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			if err := writeFrame(conn, frame); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

func writeFrame(conn *ws.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, frame)
}

// readLoop forwards acks to ackCh. Anything else from the server is logged
// and ignored.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.logger.Debug("Ignoring server message", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect replaces a broken socket. Both loops may report the same broken
// socket; only the first call for it does the work.
func (c *connection) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = broken.Close()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt)
		conn, err := c.open()
		if err == nil {
			err = c.replayStart(conn)
		}
		if err != nil {
			c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		c.attach(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

func (c *connection) replayStart(conn *ws.Conn) error {
	c.mu.Lock()
	frame := c.startFrame
	c.mu.Unlock()
	if frame == nil {
		return nil
	}
	if err := writeFrame(conn, frame); err != nil {
		_ = conn.Close()
		return fmt.Errorf("replaying start_session: %w", err)
	}
	return nil
}

func (c *connection) setStartFrame(frame []byte) {
	c.mu.Lock()
	c.startFrame = frame
	c.mu.Unlock()
}

// send queues a frame for writeLoop without blocking. Frames are dropped when
// the queue is full.
func (c *connection) send(frame []byte) {
	select {
	case c.sendCh <- frame:
	default:
		c.mu.Lock()
		c.dropped++
		n := c.dropped
		c.mu.Unlock()
		c.logger.Warn("WebSocket send channel full, dropping message", "dropped", n)
	}
}

func (c *connection) droppedCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// sendAndWait queues a frame and waits for the ack naming ackFor.
func (c *connection) sendAndWait(frame []byte, ackFor string, timeout time.Duration) error {
	c.send(frame)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
	)
	return conn.Close()
}
