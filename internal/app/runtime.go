// Package app wires the invoice delivery core's components together and
// runs them for the lifetime of the process.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	deliverysqlite "github.com/ashgrovegames/invoicecore/internal/delivery/sqlite"
	"github.com/ashgrovegames/invoicecore/internal/invoicestore"
	"github.com/ashgrovegames/invoicecore/internal/objectstore"
	platformgrpc "github.com/ashgrovegames/invoicecore/internal/platform/grpc"
	"github.com/ashgrovegames/invoicecore/internal/polling"
	"github.com/ashgrovegames/invoicecore/internal/registry"
	"github.com/ashgrovegames/invoicecore/internal/wsgateway"
)

// RuntimeConfig controls startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	WSPort     int
	HTTPPort   int
	HealthPort int

	BucketName  string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	InvoiceStorageDir    string
	StreamThresholdBytes int
	LedgerDBPath         string

	PollInterval       time.Duration
	MaxRetries         int
	MaxRegistryEntries int

	SinkBaseURL string
	Locale      string
}

// Run starts every component and blocks until the context ends or a
// component fails fatally. Storage problems and an unreachable object
// store (with finite retries) are fatal; everything else retries in
// place.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.BucketName) == "" {
		return fmt.Errorf("bucket name is required")
	}

	invoices, err := invoicestore.OpenWithThreshold(cfg.InvoiceStorageDir, cfg.StreamThresholdBytes)
	if err != nil {
		return fmt.Errorf("open invoice store: %w", err)
	}
	log.Printf("invoice store at %q seeded with %d records", cfg.InvoiceStorageDir, len(invoices.List()))

	if dir := filepath.Dir(cfg.LedgerDBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger storage dir: %w", err)
		}
	}
	ledger, err := deliverysqlite.Open(cfg.LedgerDBPath)
	if err != nil {
		return fmt.Errorf("open delivery ledger: %w", err)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			log.Printf("close delivery ledger: %v", closeErr)
		}
	}()

	gateway, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("create object store gateway: %w", err)
	}
	if err := gateway.Probe(ctx, cfg.BucketName); err != nil {
		if cfg.MaxRetries > 0 {
			return fmt.Errorf("object store unreachable at startup: %w", err)
		}
		// With unlimited retries the polling loop keeps trying; the
		// session router stays available regardless.
		log.Printf("object store unreachable at startup (continuing, retries unlimited): %v", err)
	}

	reg := registry.New()

	var sinks *wsgateway.SinkClient
	if strings.TrimSpace(cfg.SinkBaseURL) != "" {
		sinks = wsgateway.NewSinkClient(cfg.SinkBaseURL, 0)
	}
	router := wsgateway.New(wsgateway.Config{
		Port:   cfg.WSPort,
		Locale: cfg.Locale,
	}, reg, invoices, sinks)

	engine := polling.New(gateway, invoices, reg, router.DeliverInvoice, ledger, polling.Config{
		Bucket:             cfg.BucketName,
		PollInterval:       cfg.PollInterval,
		MaxRetries:         cfg.MaxRetries,
		MaxRegistryEntries: cfg.MaxRegistryEntries,
	})

	health, err := platformgrpc.NewHealthServer(cfg.HealthPort, "invoicecore.runtime")
	if err != nil {
		return err
	}

	diagnostics := newDiagServer(cfg.HTTPPort, ledger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	components := []func(context.Context) error{
		router.Serve,
		engine.Run,
		health.Serve,
		diagnostics.serve,
	}
	errCh := make(chan error, len(components))
	for _, component := range components {
		component := component
		go func() {
			errCh <- component(runCtx)
		}()
	}

	var firstErr error
	for range components {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}
