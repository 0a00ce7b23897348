// Package wsgateway hosts the game-control WebSocket endpoint: session
// registration, expected-invoice intake, invoice retrieval, game status
// fan-out, and the delivery callback the polling engine invokes.
package wsgateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashgrovegames/invoicecore/internal/invoicestore"
	"github.com/ashgrovegames/invoicecore/internal/platform/timeouts"
	"github.com/ashgrovegames/invoicecore/internal/registry"
)

const (
	// maxInboundFrameBytes bounds a single client frame. Outbound frames
	// (invoice PDFs) are not subject to this limit.
	maxInboundFrameBytes = 64 * 1024

	// maxCachedSummaries bounds the delivered-summary cache.
	maxCachedSummaries = 1024
)

var availableCommands = []string{
	"register",
	"register_expected_invoice",
	"request_invoice",
	"game_event",
	"order",
	"send-to",
}

// InvoiceReader is the retrieval surface the gateway needs from the
// invoice store.
type InvoiceReader interface {
	Get(invoiceNumber string) (invoicestore.Record, error)
}

// Config defines the gateway's listening and locale behavior.
type Config struct {
	Port              int
	Locale            string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (c Config) normalized() Config {
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = timeouts.Shutdown
	}
	return c
}

// Gateway is the session router. It owns the session maps and game
// status (via the hub) and collaborates with the registry, the invoice
// store, and the external sinks.
type Gateway struct {
	cfg      Config
	hub      *hub
	registry *registry.Registry
	invoices InvoiceReader
	sinks    *SinkClient
	upgrader websocket.Upgrader

	// summaries retains order summaries for invoices whose registration
	// was consumed by processing, so a later request_invoice can still
	// attach them.
	summariesMu sync.Mutex
	summaries   map[string][]byte
	summaryLRU  []string
}

// New creates a gateway. The sinks client may be nil when no external
// sinks are configured; order and game-over frames then fail soft.
func New(cfg Config, reg *registry.Registry, invoices InvoiceReader, sinks *SinkClient) *Gateway {
	return &Gateway{
		cfg:      cfg.normalized(),
		hub:      newHub(),
		registry: reg,
		invoices: invoices,
		sinks:    sinks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Auth is handled at the ingress layer; the gateway accepts
			// any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		summaries: make(map[string][]byte),
	}
}

// Handler returns the HTTP routes: the game-control WebSocket endpoint
// and a liveness probe.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/game-control", g.handleGameControl)
	return mux
}

// Serve listens on the configured port and blocks until the context ends,
// then shuts down: the listener closes to reject new connections. The
// shutdown does not wait for established WebSocket sessions, since
// upgraded connections are outside the HTTP server's tracking.
func (g *Gateway) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", g.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on ws port %d: %w", g.cfg.Port, err)
	}

	httpServer := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: g.cfg.ReadHeaderTimeout,
	}

	log.Printf("game-control gateway listening at %v", listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve gateway: %w", err)
	}
}

func (g *Gateway) handleGameControl(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade game-control connection: %v", err)
		return
	}
	conn.SetReadLimit(maxInboundFrameBytes)

	sess := newSession(conn)
	g.hub.track(sess)
	defer func() {
		g.hub.drop(sess)
		_ = conn.Close()
	}()

	// Welcome and current status go out before any inbound frame is
	// processed.
	_ = sess.send(welcomeFrame{
		Type:              "welcome",
		Message:           "Connected to game control",
		AvailableCommands: availableCommands,
	})
	_ = sess.send(g.statusFrame())

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(r.Context(), sess, raw)
	}
}

func (g *Gateway) statusFrame() gameStatusFrame {
	status := g.hub.currentStatus()
	return gameStatusFrame{
		Type:        "game_status",
		Status:      status.State,
		LastUpdated: status.LastUpdated,
		UpdatedBy:   status.UpdatedBy,
	}
}

// broadcastStatus fans the current status out to every open session.
// Individual send failures are ignored; those sessions get cleaned up by
// their own close handling.
func (g *Gateway) broadcastStatus() {
	frame := g.statusFrame()
	for _, sess := range g.hub.snapshot() {
		_ = sess.send(frame)
	}
}

func (g *Gateway) rememberSummary(invoiceNumber string, summary []byte) {
	if len(summary) == 0 {
		return
	}
	g.summariesMu.Lock()
	defer g.summariesMu.Unlock()
	if _, ok := g.summaries[invoiceNumber]; !ok {
		g.summaryLRU = append(g.summaryLRU, invoiceNumber)
		if len(g.summaryLRU) > maxCachedSummaries {
			evict := g.summaryLRU[0]
			g.summaryLRU = g.summaryLRU[1:]
			delete(g.summaries, evict)
		}
	}
	g.summaries[invoiceNumber] = summary
}

func (g *Gateway) cachedSummary(invoiceNumber string) ([]byte, bool) {
	g.summariesMu.Lock()
	defer g.summariesMu.Unlock()
	summary, ok := g.summaries[invoiceNumber]
	return summary, ok
}
