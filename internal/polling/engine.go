// Package polling scans the object store for artifacts matching expected
// invoices and drives one-shot processing: fetch, persist, notify, consume.
package polling

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashgrovegames/invoicecore/internal/delivery"
	"github.com/ashgrovegames/invoicecore/internal/invoicestore"
	"github.com/ashgrovegames/invoicecore/internal/objectstore"
	"github.com/ashgrovegames/invoicecore/internal/platform/id"
	"github.com/ashgrovegames/invoicecore/internal/registry"
)

const (
	defaultPollInterval = 10 * time.Second
	minPollInterval     = 100 * time.Millisecond
)

// UnlimitedRetries disables registration expiry: entries stay until their
// artifact appears.
const UnlimitedRetries = -1

// Config controls the polling loop.
type Config struct {
	// Bucket is the object-store bucket to scan.
	Bucket string
	// PollInterval is the time between scans.
	PollInterval time.Duration
	// MaxRetries bounds failed processing attempts per invoice before the
	// registration is expired. Zero or UnlimitedRetries means never
	// expire.
	MaxRetries int
	// MaxRegistryEntries is a soft cap on pending registrations; the
	// oldest entry is dropped when the cap is exceeded. Zero means
	// unbounded.
	MaxRegistryEntries int
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		c.PollInterval = minPollInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = UnlimitedRetries
	}
	if c.MaxRegistryEntries < 0 {
		c.MaxRegistryEntries = 0
	}
	return c
}

// InvoiceStore is the persistence surface the engine drives.
type InvoiceStore interface {
	Has(invoiceNumber string) bool
	Get(invoiceNumber string) (invoicestore.Record, error)
	Put(invoiceNumber string, rec invoicestore.Record, payload []byte) (invoicestore.Record, error)
}

// DeliverFunc notifies the player bound to a processed invoice. It reports
// whether a live session received the notification.
type DeliverFunc func(rec invoicestore.Record, entry registry.Entry) bool

// Filename patterns that yield a candidate invoice number, evaluated in
// order with first match winning. Extraction is advisory: the registry is
// the authority on whether a match is expected.
var invoicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invoice[_-](\d+)`),
	regexp.MustCompile(`(?i)(\d+)\.pdf$`),
	regexp.MustCompile(`(?i)invoice(\d+)`),
	regexp.MustCompile(`(?i)(\d+)[_-]invoice`),
}

// Engine is the polling loop. A single goroutine runs scans; the
// single-flight guard drops ticks that fire mid-scan.
type Engine struct {
	gateway  objectstore.Gateway
	invoices InvoiceStore
	registry *registry.Registry
	deliver  DeliverFunc
	ledger   delivery.AttemptStore
	cfg      Config

	inFlight atomic.Bool
	// failures counts processing failures per invoice number. Only the
	// scan path touches it, and scans never overlap.
	failures map[string]int
}

// New creates an engine. The ledger may be nil; outcomes are then only
// logged.
func New(gateway objectstore.Gateway, invoices InvoiceStore, reg *registry.Registry, deliver DeliverFunc, ledger delivery.AttemptStore, cfg Config) *Engine {
	return &Engine{
		gateway:  gateway,
		invoices: invoices,
		registry: reg,
		deliver:  deliver,
		ledger:   ledger,
		cfg:      cfg.normalized(),
		failures: make(map[string]int),
	}
}

// Run executes scans every poll interval until the context ends. The scan
// in flight when the context is cancelled completes; no new scan starts.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("polling engine scanning bucket %q every %s", e.cfg.Bucket, e.cfg.PollInterval)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one scan unless another is already in progress, in which case
// the tick is dropped.
func (e *Engine) Tick(ctx context.Context) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer e.inFlight.Store(false)
	e.scan(ctx)
}

func (e *Engine) scan(ctx context.Context) {
	// The loop is gated, not stopped, by registry emptiness: with nothing
	// expected there is nothing a listing could match.
	if e.registry.Len() == 0 {
		return
	}
	e.enforceSoftCap(ctx)

	objects, err := e.gateway.List(ctx, e.cfg.Bucket)
	if err != nil {
		log.Printf("list bucket %q: %v", e.cfg.Bucket, err)
		return
	}
	for _, object := range objects {
		e.processObject(ctx, object)
	}
}

func (e *Engine) processObject(ctx context.Context, object objectstore.ObjectInfo) {
	filename := path.Base(object.Key)
	if !looksLikeInvoice(filename) {
		return
	}
	invoiceNumber, ok := extractInvoiceNumber(filename)
	if !ok {
		return
	}
	entry, ok := e.registry.Lookup(invoiceNumber)
	if !ok {
		// Strict expected-only rule: unsolicited objects are never
		// fetched, persisted, or announced.
		return
	}

	if e.invoices.Has(invoiceNumber) {
		e.renotify(ctx, invoiceNumber, entry)
		return
	}
	e.processAndNotify(ctx, invoiceNumber, entry, object, filename)
}

// renotify handles an invoice already on disk from a prior run: the stored
// record is re-announced and the registration consumed, with no fetch.
func (e *Engine) renotify(ctx context.Context, invoiceNumber string, entry registry.Entry) {
	rec, err := e.invoices.Get(invoiceNumber)
	if err != nil {
		log.Printf("read stored invoice %q for re-notify: %v", invoiceNumber, err)
		return
	}
	delivered := e.deliver(rec, entry)
	e.registry.Consume(invoiceNumber)
	delete(e.failures, invoiceNumber)
	if !delivered {
		log.Printf("re-notify for invoice %q found no live session", invoiceNumber)
	}
	e.record(ctx, invoiceNumber, entry.PlayerID, "renotify", delivery.OutcomeRenotified, "")
}

func (e *Engine) processAndNotify(ctx context.Context, invoiceNumber string, entry registry.Entry, object objectstore.ObjectInfo, filename string) {
	payload, err := e.gateway.Get(ctx, e.cfg.Bucket, object.Key)
	if err != nil {
		e.noteFailure(ctx, invoiceNumber, entry.PlayerID, "fetch", err)
		return
	}

	rec := invoicestore.Record{
		PlayerID:    entry.PlayerID,
		Filename:    filename,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		S3Metadata: invoicestore.S3Metadata{
			S3Key:          object.Key,
			S3Size:         object.Size,
			S3LastModified: object.LastModified.UTC().Format(time.RFC3339),
		},
	}
	written, err := e.invoices.Put(invoiceNumber, rec, payload)
	if err != nil {
		e.noteFailure(ctx, invoiceNumber, entry.PlayerID, "persist", err)
		return
	}
	e.record(ctx, invoiceNumber, entry.PlayerID, "persist", delivery.OutcomePersisted, "")

	delivered := e.deliver(written, entry)
	// The record is durable, so the registration is consumed whether or
	// not a session was reachable; retrieval stays player-initiated.
	e.registry.Consume(invoiceNumber)
	delete(e.failures, invoiceNumber)
	if delivered {
		e.record(ctx, invoiceNumber, entry.PlayerID, "deliver", delivery.OutcomeDelivered, "")
	} else {
		log.Printf("delivery for invoice %q found no live session", invoiceNumber)
		e.record(ctx, invoiceNumber, entry.PlayerID, "deliver", delivery.OutcomeDeliveryFailed, "no live session")
	}
}

// noteFailure leaves the registration in place for the next tick, unless a
// finite retry budget is exhausted, in which case the registration expires.
func (e *Engine) noteFailure(ctx context.Context, invoiceNumber, playerID, stage string, cause error) {
	e.failures[invoiceNumber]++
	count := e.failures[invoiceNumber]
	log.Printf("%s invoice %q failed (attempt %d): %v", stage, invoiceNumber, count, cause)

	if e.cfg.MaxRetries != UnlimitedRetries && count > e.cfg.MaxRetries {
		e.registry.Consume(invoiceNumber)
		log.Printf("expiring registration for invoice %q after %d failed attempts", invoiceNumber, count)
		e.record(ctx, invoiceNumber, playerID, stage, delivery.OutcomeExpired, cause.Error())
		delete(e.failures, invoiceNumber)
		return
	}
	e.record(ctx, invoiceNumber, playerID, stage, delivery.OutcomeRetry, cause.Error())
}

// enforceSoftCap drops oldest registrations past the configured bound so
// chronic object-store failure cannot grow the registry without limit.
func (e *Engine) enforceSoftCap(ctx context.Context) {
	if e.cfg.MaxRegistryEntries <= 0 {
		return
	}
	for e.registry.Len() > e.cfg.MaxRegistryEntries {
		dropped, ok := e.registry.ConsumeOldest()
		if !ok {
			return
		}
		delete(e.failures, dropped.InvoiceNumber)
		log.Printf("registry over soft cap %d; dropping oldest registration %q", e.cfg.MaxRegistryEntries, dropped.InvoiceNumber)
		e.record(ctx, dropped.InvoiceNumber, dropped.PlayerID, "cap", delivery.OutcomeExpired, "registry soft cap exceeded")
	}
}

func (e *Engine) record(ctx context.Context, invoiceNumber, playerID, stage, outcome, lastError string) {
	if e.ledger == nil {
		return
	}
	attemptID, err := id.NewID()
	if err != nil {
		attemptID = fmt.Sprintf("attempt-%d", time.Now().UnixNano())
	}
	record := delivery.AttemptRecord{
		AttemptID:     attemptID,
		InvoiceNumber: invoiceNumber,
		PlayerID:      playerID,
		Stage:         stage,
		Outcome:       outcome,
		AttemptCount:  int32(e.failures[invoiceNumber]),
		LastError:     lastError,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.ledger.RecordAttempt(ctx, record); err != nil {
		log.Printf("record attempt for invoice %q: %v", invoiceNumber, err)
	}
}

// looksLikeInvoice applies the coarse filename filter: an object is a
// candidate when it ends in .pdf or mentions "invoice" anywhere.
func looksLikeInvoice(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "invoice")
}

// extractInvoiceNumber tries each pattern in order; first match wins.
func extractInvoiceNumber(filename string) (string, bool) {
	for _, pattern := range invoicePatterns {
		if match := pattern.FindStringSubmatch(filename); match != nil {
			return match[1], true
		}
	}
	return "", false
}
