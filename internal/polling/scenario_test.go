package polling

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashgrovegames/invoicecore/internal/invoicestore"
	"github.com/ashgrovegames/invoicecore/internal/objectstore"
	"github.com/ashgrovegames/invoicecore/internal/registry"
	"github.com/ashgrovegames/invoicecore/internal/wsgateway"
)

// scenarioEnv wires the real store, registry, and session router to a
// fake object store, mirroring the production component graph.
type scenarioEnv struct {
	gateway *fakeGateway
	store   *invoicestore.Store
	reg     *registry.Registry
	router  *wsgateway.Gateway
	engine  *Engine
	server  *httptest.Server
}

func newScenarioEnv(t *testing.T, gateway *fakeGateway) *scenarioEnv {
	t.Helper()
	store, err := invoicestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg := registry.New()
	router := wsgateway.New(wsgateway.Config{}, reg, store, nil)
	engine := New(gateway, store, reg, router.DeliverInvoice, nil, Config{Bucket: "invoices"})
	server := httptest.NewServer(router.Handler())
	t.Cleanup(server.Close)
	return &scenarioEnv{gateway: gateway, store: store, reg: reg, router: router, engine: engine, server: server}
}

func (e *scenarioEnv) connect(t *testing.T, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/game-control"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// welcome + initial status
	readScenarioFrame(t, conn)
	readScenarioFrame(t, conn)

	if err := conn.WriteJSON(map[string]any{"type": "register", "userId": playerID}); err != nil {
		t.Fatalf("register: %v", err)
	}
	// register_response + status
	readScenarioFrame(t, conn)
	readScenarioFrame(t, conn)
	return conn
}

func readScenarioFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestScenarioHappyPath(t *testing.T) {
	payload := []byte("%PDF-1.4\n" + strings.Repeat("x", 119))
	gateway := &fakeGateway{
		objects:  []objectstore.ObjectInfo{{Key: "invoice_1030.pdf", Size: int64(len(payload)), LastModified: time.Now()}},
		payloads: map[string][]byte{"invoice_1030.pdf": payload},
	}
	env := newScenarioEnv(t, gateway)
	alice := env.connect(t, "alice")

	if err := alice.WriteJSON(map[string]any{
		"type":          "register_expected_invoice",
		"userId":        "alice",
		"invoiceNumber": "1030",
		"playerId":      "alice",
		"orderData":     map[string]any{"summary": map[string]any{"total": 50}},
	}); err != nil {
		t.Fatalf("register expected invoice: %v", err)
	}
	if response := readScenarioFrame(t, alice); response["status"] != "success" {
		t.Fatalf("registration response = %v", response)
	}

	env.engine.Tick(context.Background())

	ready := readScenarioFrame(t, alice)
	if ready["type"] != "invoice_ready" || ready["invoiceNumber"] != "1030" {
		t.Fatalf("ready = %v", ready)
	}
	if ready["fileSize"] != float64(len(payload)) {
		t.Fatalf("fileSize = %v, want %d", ready["fileSize"], len(payload))
	}
	if !env.store.Has("1030") {
		t.Fatal("expected disk record")
	}

	if err := alice.WriteJSON(map[string]any{"type": "request_invoice", "invoiceNumber": "1030"}); err != nil {
		t.Fatalf("request invoice: %v", err)
	}
	pdf := readScenarioFrame(t, alice)
	if pdf["type"] != "invoice_pdf" || pdf["status"] != "success" {
		t.Fatalf("pdf = %v", pdf)
	}
	decoded, err := base64.StdEncoding.DecodeString(pdf["base64Data"].(string))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Fatal("payload mismatch")
	}
	summary, ok := pdf["summary"].(map[string]any)
	if !ok || summary["total"] != float64(50) {
		t.Fatalf("summary = %v", pdf["summary"])
	}
}

func TestScenarioDuplicateRegistrationDeliversToLatest(t *testing.T) {
	payload := []byte("pdf bytes")
	gateway := &fakeGateway{
		objects:  []objectstore.ObjectInfo{{Key: "1030.pdf", Size: int64(len(payload))}},
		payloads: map[string][]byte{"1030.pdf": payload},
	}
	env := newScenarioEnv(t, gateway)
	alice := env.connect(t, "alice")
	bob := env.connect(t, "bob")

	env.reg.Register(registry.Entry{InvoiceNumber: "1030", PlayerID: "alice"})
	env.reg.Register(registry.Entry{InvoiceNumber: "1030", PlayerID: "bob"})

	env.engine.Tick(context.Background())

	ready := readScenarioFrame(t, bob)
	if ready["type"] != "invoice_ready" {
		t.Fatalf("bob frame = %v", ready)
	}

	_ = alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray map[string]any
	if err := alice.ReadJSON(&stray); err == nil {
		t.Fatalf("alice unexpectedly received %v", stray)
	}
}

func TestScenarioOfflinePlayerRetrievesLater(t *testing.T) {
	payload := []byte("carol pdf")
	gateway := &fakeGateway{
		objects:  []objectstore.ObjectInfo{{Key: "invoice_2001.pdf", Size: int64(len(payload))}},
		payloads: map[string][]byte{"invoice_2001.pdf": payload},
	}
	env := newScenarioEnv(t, gateway)

	env.reg.Register(registry.Entry{InvoiceNumber: "2001", PlayerID: "carol"})
	env.engine.Tick(context.Background())

	if !env.store.Has("2001") {
		t.Fatal("expected persistence despite offline player")
	}
	if _, ok := env.reg.Lookup("2001"); ok {
		t.Fatal("expected registration to be consumed")
	}

	carol := env.connect(t, "carol")
	if err := carol.WriteJSON(map[string]any{"type": "request_invoice", "invoiceNumber": "2001"}); err != nil {
		t.Fatalf("request invoice: %v", err)
	}
	pdf := readScenarioFrame(t, carol)
	if pdf["type"] != "invoice_pdf" || pdf["status"] != "success" {
		t.Fatalf("pdf = %v", pdf)
	}
	decoded, _ := base64.StdEncoding.DecodeString(pdf["base64Data"].(string))
	if string(decoded) != string(payload) {
		t.Fatal("payload mismatch")
	}
}

func TestScenarioCachedRedeliveryAfterRestart(t *testing.T) {
	payload := []byte("restart pdf")
	gateway := &fakeGateway{
		objects:  []objectstore.ObjectInfo{{Key: "invoice_1030.pdf", Size: int64(len(payload))}},
		payloads: map[string][]byte{"invoice_1030.pdf": payload},
	}

	dir := t.TempDir()
	firstRun, err := invoicestore.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := firstRun.Put("1030", invoicestore.Record{
		PlayerID: "alice",
		Filename: "invoice_1030.pdf",
	}, payload); err != nil {
		t.Fatalf("seed prior run: %v", err)
	}

	// "Restart": fresh store over the same directory, fresh registry.
	store, err := invoicestore.Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	reg := registry.New()
	router := wsgateway.New(wsgateway.Config{}, reg, store, nil)
	engine := New(gateway, store, reg, router.DeliverInvoice, nil, Config{Bucket: "invoices"})
	server := httptest.NewServer(router.Handler())
	defer server.Close()
	env := &scenarioEnv{gateway: gateway, store: store, reg: reg, router: router, engine: engine, server: server}

	alice := env.connect(t, "alice")
	reg.Register(registry.Entry{InvoiceNumber: "1030", PlayerID: "alice"})

	engine.Tick(context.Background())

	ready := readScenarioFrame(t, alice)
	if ready["type"] != "invoice_ready" || ready["invoiceNumber"] != "1030" {
		t.Fatalf("ready = %v", ready)
	}
	if gateway.getCalls != 0 {
		t.Fatalf("fetches = %d, want 0 for cached re-delivery", gateway.getCalls)
	}
	if _, ok := reg.Lookup("1030"); ok {
		t.Fatal("expected registration to be consumed")
	}
}
