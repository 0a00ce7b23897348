package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/ashgrovegames/invoicecore/internal/delivery"
	"github.com/ashgrovegames/invoicecore/internal/platform/timeouts"
)

const defaultAttemptListLimit = 50

// diagServer exposes the delivery attempt ledger read-only over HTTP so
// operators can answer "why hasn't invoice X been delivered" without
// spelunking logs.
type diagServer struct {
	port   int
	ledger delivery.AttemptStore
}

func newDiagServer(port int, ledger delivery.AttemptStore) *diagServer {
	return &diagServer{port: port, ledger: ledger}
}

func (s *diagServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/attempts", s.handleAttempts)
	return mux
}

func (s *diagServer) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ledger == nil {
		http.Error(w, "attempt ledger is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultAttemptListLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	var attempts []delivery.AttemptRecord
	var err error
	if invoiceNumber := r.URL.Query().Get("invoice"); invoiceNumber != "" {
		attempts, err = s.ledger.ListAttemptsForInvoice(r.Context(), invoiceNumber, limit)
	} else {
		attempts, err = s.ledger.ListAttempts(r.Context(), limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"attempts": attempts}); err != nil {
		log.Printf("encode attempts response: %v", err)
	}
}

// serve blocks until the context ends, then shuts the listener down.
func (s *diagServer) serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on http port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	log.Printf("diagnostics server listening at %v", listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
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
		return fmt.Errorf("serve diagnostics: %w", err)
	}
}
