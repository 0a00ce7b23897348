// Package registry tracks expected invoices: PO numbers announced by the
// order flow whose artifacts have not yet been seen in the object store.
package registry

import (
	"encoding/json"
	"sync"
	"time"
)

// Entry links a PO number to the player who ordered and the order context
// carried end-to-end without interpretation.
type Entry struct {
	InvoiceNumber string
	PlayerID      string
	CustomerName  string
	CustomerEmail string
	OrderID       string
	Summary       json.RawMessage
	RegisteredAt  time.Time
}

// Registry is the in-memory expected-invoice map. The message handler for
// registrations is the single writer; the polling engine is the single
// deleter.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register admits an expected invoice. Re-registering the same invoice
// number replaces the prior entry; last write wins.
func (r *Registry) Register(entry Entry) {
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.entries[entry.InvoiceNumber] = entry
	r.mu.Unlock()
}

// Lookup returns the entry for the invoice number, if present.
func (r *Registry) Lookup(invoiceNumber string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[invoiceNumber]
	return entry, ok
}

// Consume atomically removes and returns the entry for the invoice number.
func (r *Registry) Consume(invoiceNumber string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[invoiceNumber]
	if ok {
		delete(r.entries, invoiceNumber)
	}
	return entry, ok
}

// FindByPlayer returns the entry most recently registered for the player.
// Best-effort linear scan; used only when no direct invoice-number binding
// exists.
func (r *Registry) FindByPlayer(playerID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best Entry
	found := false
	for _, entry := range r.entries {
		if entry.PlayerID != playerID {
			continue
		}
		if !found || entry.RegisteredAt.After(best.RegisteredAt) {
			best = entry
			found = true
		}
	}
	return best, found
}

// Len returns the number of pending registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ConsumeOldest removes and returns the entry with the earliest
// registration time. Used by the polling engine's soft cap.
func (r *Registry) ConsumeOldest() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest Entry
	found := false
	for _, entry := range r.entries {
		if !found || entry.RegisteredAt.Before(oldest.RegisteredAt) {
			oldest = entry
			found = true
		}
	}
	if found {
		delete(r.entries, oldest.InvoiceNumber)
	}
	return oldest, found
}
