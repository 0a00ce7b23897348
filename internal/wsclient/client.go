// Package wsclient is the inter-service WebSocket client used to reach
// the game-control gateway. It reconnects with capped exponential
// back-off, queues outbound messages while disconnected, and heartbeats
// the link; consumers subscribe to messages and lifecycle events at
// construction time.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a connection lifecycle notification.
type Event string

const (
	// EventConnected fires after a dial succeeds and the queue flushes.
	EventConnected Event = "connected"
	// EventDisconnected fires after the link drops, before back-off.
	EventDisconnected Event = "disconnected"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultPingInterval   = 15 * time.Second
	defaultQueueSize      = 256

	// maxMissedPongs is how many unanswered pings drop the link.
	maxMissedPongs = 2

	clientWriteWait = 10 * time.Second
)

// Config defines the client's target and behavior. OnMessage runs on the
// client's read loop and OnEvent on the Run goroutine; they must not block.
type Config struct {
	URL            string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PingInterval   time.Duration
	QueueSize      int
	OnMessage      func([]byte)
	OnEvent        func(Event)
}

func (c Config) normalized() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Client maintains one logical connection to the gateway.
type Client struct {
	cfg Config

	mu    sync.Mutex
	conn  *websocket.Conn
	queue [][]byte
}

// New creates a client. Run must be called for messages to flow.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	return &Client{cfg: cfg.normalized()}, nil
}

// Send marshals and transmits v, queueing it when the link is down. When
// the queue is full the oldest message is dropped to admit the new one.
func (c *Client) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if len(c.queue) >= c.cfg.QueueSize {
			c.queue = c.queue[1:]
		}
		c.queue = append(c.queue, raw)
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// Run dials and re-dials the gateway until the context ends. Each failed
// dial doubles the wait up to the cap; a successful dial resets it.
func (c *Client) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := c.cfg.InitialBackoff
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("dial %s: %v (retrying in %s)", c.cfg.URL, err, backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}

		backoff = c.cfg.InitialBackoff
		c.attach(conn)
		c.emit(EventConnected)
		c.pump(ctx, conn)
		c.detach(conn)
		c.emit(EventDisconnected)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// attach installs the connection and flushes the queue in order.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	for _, raw := range c.queue {
		_ = conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			log.Printf("flush queued message: %v", err)
			break
		}
	}
	c.queue = nil
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// pump reads the link and heartbeats it, returning when the connection
// dies or the context ends.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) {
	var missedPongs atomic.Int32
	conn.SetPongHandler(func(string) error {
		missedPongs.Store(0)
		return nil
	})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if c.cfg.OnMessage != nil {
				c.cfg.OnMessage(raw)
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-readDone
			return
		case <-readDone:
			return
		case <-ticker.C:
			if missedPongs.Load() >= maxMissedPongs {
				log.Printf("%d pings unanswered; reconnecting", maxMissedPongs)
				_ = conn.Close()
				<-readDone
				return
			}
			missedPongs.Add(1)
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(clientWriteWait))
			c.mu.Unlock()
			if err != nil {
				_ = conn.Close()
				<-readDone
				return
			}
		}
	}
}

func (c *Client) emit(event Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(event)
	}
}
