package wsgateway

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashgrovegames/invoicecore/internal/invoicestore"
	"github.com/ashgrovegames/invoicecore/internal/registry"
)

type testEnv struct {
	gateway  *Gateway
	registry *registry.Registry
	store    *invoicestore.Store
	server   *httptest.Server
}

func newTestEnv(t *testing.T, sinks *SinkClient) *testEnv {
	t.Helper()
	store, err := invoicestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg := registry.New()
	gateway := New(Config{}, reg, store, sinks)
	server := httptest.NewServer(gateway.Handler())
	t.Cleanup(server.Close)
	return &testEnv{gateway: gateway, registry: reg, store: store, server: server}
}

// dial connects to the game-control endpoint and consumes the welcome and
// initial game_status frames.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/game-control"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial game-control: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	welcome := readFrame(t, conn)
	if welcome["type"] != "welcome" {
		t.Fatalf("first frame = %v, want welcome", welcome["type"])
	}
	status := readFrame(t, conn)
	if status["type"] != "game_status" {
		t.Fatalf("second frame = %v, want game_status", status["type"])
	}
	return conn
}

// registerAs dials and registers a player, consuming the register
// response and the status frame that follows it.
func (e *testEnv) registerAs(t *testing.T, playerID string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t)
	writeFrame(t, conn, map[string]any{"type": "register", "userId": playerID})

	response := readFrame(t, conn)
	if response["type"] != "register_response" || response["status"] != "success" {
		t.Fatalf("register response = %v", response)
	}
	if response["userId"] != playerID {
		t.Fatalf("userId = %v, want %s", response["userId"], playerID)
	}
	status := readFrame(t, conn)
	if status["type"] != "game_status" {
		t.Fatalf("post-register frame = %v, want game_status", status["type"])
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	writeFrame(t, conn, map[string]any{"type": "register"})
	response := readFrame(t, conn)
	if response["type"] != "register_response" || response["status"] != "error" {
		t.Fatalf("response = %v", response)
	}
}

func TestFramesIgnoredBeforeRegister(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t)

	// Neither of these may produce a reply before registration.
	writeFrame(t, conn, map[string]any{"type": "request_invoice", "invoiceNumber": "1030"})
	writeFrame(t, conn, "not an object")
	writeFrame(t, conn, map[string]any{"type": "register", "userId": "alice"})

	response := readFrame(t, conn)
	if response["type"] != "register_response" {
		t.Fatalf("first reply = %v, want register_response for the register frame", response)
	}
}

func TestRegisterExpectedInvoice(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.registerAs(t, "rest-surface")

	writeFrame(t, conn, map[string]any{
		"type":          "register_expected_invoice",
		"userId":        "rest-surface",
		"invoiceNumber": "1030",
		"playerId":      "alice",
		"orderData": map[string]any{
			"customerName":  "Alice",
			"customerEmail": "alice@example.com",
			"orderId":       "order-7",
			"summary":       map[string]any{"total": 50},
		},
	})

	response := readFrame(t, conn)
	if response["type"] != "register_expected_invoice_response" || response["status"] != "success" {
		t.Fatalf("response = %v", response)
	}
	if response["invoiceNumber"] != "1030" || response["playerId"] != "alice" {
		t.Fatalf("response identifiers = %v", response)
	}

	entry, ok := env.registry.Lookup("1030")
	if !ok {
		t.Fatal("expected registry entry")
	}
	if entry.PlayerID != "alice" || entry.CustomerEmail != "alice@example.com" || entry.OrderID != "order-7" {
		t.Fatalf("entry = %+v", entry)
	}
	var summary map[string]any
	if err := json.Unmarshal(entry.Summary, &summary); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary["total"] != float64(50) {
		t.Fatalf("summary total = %v", summary["total"])
	}
}

func TestRegisterExpectedInvoiceValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.registerAs(t, "rest-surface")

	writeFrame(t, conn, map[string]any{"type": "register_expected_invoice", "playerId": "alice"})
	response := readFrame(t, conn)
	if response["status"] != "error" {
		t.Fatalf("response = %v", response)
	}
	if env.registry.Len() != 0 {
		t.Fatal("invalid registration must not reach the registry")
	}
}

func TestRequestInvoiceSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := []byte("%PDF-1.4\nrequested bytes")
	if _, err := env.store.Put("1030", invoicestore.Record{
		PlayerID:    "alice",
		Filename:    "invoice_1030.pdf",
		ProcessedAt: "2026-08-05T12:00:00Z",
		S3Metadata: invoicestore.S3Metadata{
			S3Key:          "invoice_1030.pdf",
			S3Size:         int64(len(payload)),
			S3LastModified: "2026-08-05T11:59:00Z",
		},
	}, payload); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	env.registry.Register(registry.Entry{
		InvoiceNumber: "1030",
		PlayerID:      "alice",
		Summary:       json.RawMessage(`{"total":50}`),
	})

	conn := env.registerAs(t, "alice")
	writeFrame(t, conn, map[string]any{"type": "request_invoice", "invoiceNumber": "1030"})

	response := readFrame(t, conn)
	if response["type"] != "invoice_pdf" || response["status"] != "success" {
		t.Fatalf("response = %v", response)
	}
	if response["mimeType"] != "application/pdf" {
		t.Fatalf("mimeType = %v", response["mimeType"])
	}
	decoded, err := base64.StdEncoding.DecodeString(response["base64Data"].(string))
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Fatal("payload mismatch")
	}
	summary, ok := response["summary"].(map[string]any)
	if !ok || summary["total"] != float64(50) {
		t.Fatalf("summary = %v", response["summary"])
	}
	metadata, ok := response["s3Metadata"].(map[string]any)
	if !ok || metadata["s3Key"] != "invoice_1030.pdf" {
		t.Fatalf("s3Metadata = %v", response["s3Metadata"])
	}

	// Idempotence: a second request returns the same frame.
	writeFrame(t, conn, map[string]any{"type": "request_invoice", "invoiceNumber": "1030"})
	second := readFrame(t, conn)
	if second["base64Data"] != response["base64Data"] {
		t.Fatal("repeated request returned different payload")
	}
}

func TestRequestInvoiceNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.registerAs(t, "alice")

	writeFrame(t, conn, map[string]any{"type": "request_invoice", "invoiceNumber": "nope"})
	response := readFrame(t, conn)
	if response["type"] != "invoice_response" || response["status"] != "error" {
		t.Fatalf("response = %v", response)
	}
	if response["invoiceNumber"] != "nope" {
		t.Fatalf("invoiceNumber = %v", response["invoiceNumber"])
	}
	if response["message"] != "Invoice nope not found" {
		t.Fatalf("message = %v", response["message"])
	}

	// The session survives the error.
	writeFrame(t, conn, map[string]any{"type": "request_invoice", "invoiceNumber": "nope"})
	if again := readFrame(t, conn); again["type"] != "invoice_response" {
		t.Fatalf("second response = %v", again)
	}
}

func TestDeliverInvoice(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.registerAs(t, "alice")

	rec := invoicestore.Record{
		InvoiceNumber: "1030",
		PlayerID:      "alice",
		Filename:      "invoice_1030.pdf",
		FileSize:      128,
		ProcessedAt:   "2026-08-05T12:00:00Z",
	}
	entry := registry.Entry{InvoiceNumber: "1030", PlayerID: "alice", Summary: json.RawMessage(`{"total":50}`)}

	if !env.gateway.DeliverInvoice(rec, entry) {
		t.Fatal("expected delivery to a live session to succeed")
	}
	frame := readFrame(t, conn)
	if frame["type"] != "invoice_ready" {
		t.Fatalf("frame = %v", frame)
	}
	if frame["invoiceNumber"] != "1030" || frame["fileSize"] != float64(128) {
		t.Fatalf("frame = %v", frame)
	}
	if _, hasBytes := frame["base64Data"]; hasBytes {
		t.Fatal("invoice_ready must not carry the bytes")
	}

	// The summary is retained for a later request even after the
	// registration is gone.
	if summary, ok := env.gateway.cachedSummary("1030"); !ok || !strings.Contains(string(summary), "50") {
		t.Fatalf("cached summary = %q, %v", summary, ok)
	}
}

func TestDeliverInvoiceNoSession(t *testing.T) {
	env := newTestEnv(t, nil)

	delivered := env.gateway.DeliverInvoice(invoicestore.Record{
		InvoiceNumber: "2001",
		PlayerID:      "carol",
	}, registry.Entry{InvoiceNumber: "2001", PlayerID: "carol"})
	if delivered {
		t.Fatal("expected delivery without a session to report false")
	}
}

func TestDeliverInvoiceAfterReRegisterGoesToNewSession(t *testing.T) {
	env := newTestEnv(t, nil)
	oldConn := env.registerAs(t, "alice")
	newConn := env.registerAs(t, "alice")

	rec := invoicestore.Record{InvoiceNumber: "1030", PlayerID: "alice", Filename: "invoice_1030.pdf"}
	if !env.gateway.DeliverInvoice(rec, registry.Entry{InvoiceNumber: "1030", PlayerID: "alice"}) {
		t.Fatal("expected delivery to succeed")
	}

	frame := readFrame(t, newConn)
	if frame["type"] != "invoice_ready" {
		t.Fatalf("new session frame = %v", frame)
	}

	// The old session must not receive the notification.
	_ = oldConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray map[string]any
	if err := oldConn.ReadJSON(&stray); err == nil {
		t.Fatalf("old session unexpectedly received %v", stray)
	}
}

func TestGameEventUpdatesStatusAndBroadcasts(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.registerAs(t, "alice")
	bob := env.registerAs(t, "bob")

	writeFrame(t, alice, map[string]any{"type": "game_event", "event": "pause"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readFrame(t, conn)
		if frame["type"] != "game_status" || frame["status"] != "pause" {
			t.Fatalf("frame = %v", frame)
		}
		if frame["updatedBy"] != "alice" {
			t.Fatalf("updatedBy = %v", frame["updatedBy"])
		}
	}
}

func TestGameOverForwardedToSink(t *testing.T) {
	bodies := make(chan string, 1)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/game-over" {
			t.Errorf("path = %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		bodies <- string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	env := newTestEnv(t, NewSinkClient(sink.URL, 0))
	conn := env.registerAs(t, "alice")

	writeFrame(t, conn, map[string]any{"type": "game_event", "event": "game_over", "winner": "alice"})
	select {
	case body := <-bodies:
		if !strings.Contains(body, "game_over") || !strings.Contains(body, "winner") {
			t.Fatalf("sink body = %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not receive game_over payload")
	}
}

func TestOrderRelaysSinkResponse(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process-order" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","orderId":"order-7","customerName":"Alice","customerEmail":"alice@example.com","itemCount":2,"message":"Order accepted"}`))
	}))
	defer sink.Close()

	env := newTestEnv(t, NewSinkClient(sink.URL, 0))
	conn := env.registerAs(t, "alice")

	writeFrame(t, conn, map[string]any{
		"type": "order",
		"data": map[string]any{
			"customerName":  "Alice",
			"customerEmail": "alice@example.com",
			"items": []map[string]any{
				{"description": "widget", "quantity": 1, "unitPrice": 25},
				{"description": "gadget", "quantity": 1, "unitPrice": 25},
			},
		},
	})

	response := readFrame(t, conn)
	if response["type"] != "order_response" || response["status"] != "success" {
		t.Fatalf("response = %v", response)
	}
	if response["orderId"] != "order-7" || response["itemCount"] != float64(2) {
		t.Fatalf("response = %v", response)
	}
}

func TestOrderSinkFailure(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer sink.Close()

	env := newTestEnv(t, NewSinkClient(sink.URL, 0))
	conn := env.registerAs(t, "alice")

	writeFrame(t, conn, map[string]any{"type": "order", "data": map[string]any{"customerName": "Alice"}})
	response := readFrame(t, conn)
	if response["type"] != "order_response" || response["status"] != "error" {
		t.Fatalf("response = %v", response)
	}
	if response["error"] == "" || response["message"] == "" {
		t.Fatalf("response = %v", response)
	}
}

func TestSendToRoutesDirectMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.registerAs(t, "alice")
	bob := env.registerAs(t, "bob")

	writeFrame(t, alice, map[string]any{
		"type":         "send-to",
		"targetUserId": "bob",
		"message":      map[string]any{"text": "hello"},
	})

	direct := readFrame(t, bob)
	if direct["type"] != "direct_message" || direct["fromUserId"] != "alice" {
		t.Fatalf("direct = %v", direct)
	}
	ack := readFrame(t, alice)
	if ack["type"] != "send_response" || ack["status"] != "success" {
		t.Fatalf("ack = %v", ack)
	}

	writeFrame(t, alice, map[string]any{"type": "send-to", "targetUserId": "nobody"})
	missing := readFrame(t, alice)
	if missing["type"] != "send_response" || missing["status"] != "error" {
		t.Fatalf("missing = %v", missing)
	}
}

func TestAdminCommandUpdatesStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.registerAs(t, "admin")
	alice := env.registerAs(t, "alice")

	writeFrame(t, admin, map[string]any{"command": "end", "source": "admin-panel"})

	for _, conn := range []*websocket.Conn{admin, alice} {
		frame := readFrame(t, conn)
		if frame["type"] != "game_status" || frame["status"] != "end" {
			t.Fatalf("frame = %v", frame)
		}
		if frame["updatedBy"] != "admin-panel" {
			t.Fatalf("updatedBy = %v", frame["updatedBy"])
		}
	}

	// "new" resets the game to start.
	writeFrame(t, admin, map[string]any{"command": "new", "source": "admin-panel"})
	frame := readFrame(t, admin)
	if frame["status"] != "start" {
		t.Fatalf("frame = %v", frame)
	}
	_ = readFrame(t, alice)
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.registerAs(t, "alice")

	writeFrame(t, conn, map[string]any{"type": "mystery"})
	writeFrame(t, conn, map[string]any{"type": "request_invoice", "invoiceNumber": "nope"})

	response := readFrame(t, conn)
	if response["type"] != "invoice_response" {
		t.Fatalf("response = %v, want the request_invoice reply only", response)
	}
}
