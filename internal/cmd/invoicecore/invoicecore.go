// Package invoicecore parses command flags and launches the invoice
// delivery core runtime.
package invoicecore

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashgrovegames/invoicecore/internal/app"
	entrypoint "github.com/ashgrovegames/invoicecore/internal/platform/cmd"
	"github.com/ashgrovegames/invoicecore/internal/polling"
)

// Config holds command configuration.
type Config struct {
	WSPort     int `env:"INVOICECORE_WS_PORT" envDefault:"8080"`
	HTTPPort   int `env:"INVOICECORE_HTTP_PORT" envDefault:"8081"`
	HealthPort int `env:"INVOICECORE_HEALTH_PORT" envDefault:"8082"`

	BucketName  string `env:"INVOICECORE_BUCKET_NAME" envDefault:"invoices"`
	S3Endpoint  string `env:"INVOICECORE_S3_ENDPOINT" envDefault:"localhost:9000"`
	S3AccessKey string `env:"INVOICECORE_S3_ACCESS_KEY"`
	S3SecretKey string `env:"INVOICECORE_S3_SECRET_KEY"`
	S3UseSSL    bool   `env:"INVOICECORE_S3_USE_SSL" envDefault:"false"`

	InvoiceStorageDir    string `env:"INVOICECORE_INVOICE_STORAGE_DIR" envDefault:"data/invoices"`
	StreamThresholdBytes int    `env:"INVOICECORE_STREAM_THRESHOLD_BYTES" envDefault:"262144"`
	LedgerDBPath         string `env:"INVOICECORE_LEDGER_DB_PATH" envDefault:"data/delivery.db"`

	PollInterval       time.Duration `env:"INVOICECORE_POLL_INTERVAL" envDefault:"10s"`
	MaxRetries         string        `env:"INVOICECORE_MAX_RETRIES" envDefault:"unlimited"`
	MaxRegistryEntries int           `env:"INVOICECORE_MAX_REGISTRY_ENTRIES" envDefault:"0"`

	SinkBaseURL string `env:"INVOICECORE_SINK_BASE_URL"`
	Locale      string `env:"INVOICECORE_LOCALE" envDefault:"en-US"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "The game-control WebSocket port")
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The diagnostics HTTP port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The health gRPC server port")
	fs.StringVar(&cfg.BucketName, "bucket", cfg.BucketName, "The object-store bucket scanned for invoices")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "The S3-compatible endpoint host:port")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "The object-store access key")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "The object-store secret key")
	fs.BoolVar(&cfg.S3UseSSL, "s3-use-ssl", cfg.S3UseSSL, "Use TLS for the object-store endpoint")
	fs.StringVar(&cfg.InvoiceStorageDir, "storage-dir", cfg.InvoiceStorageDir, "The invoice record storage directory")
	fs.IntVar(&cfg.StreamThresholdBytes, "stream-threshold", cfg.StreamThresholdBytes, "Payload size above which record writes stream")
	fs.StringVar(&cfg.LedgerDBPath, "ledger-db-path", cfg.LedgerDBPath, "The delivery attempt ledger SQLite path")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Object-store scan interval")
	fs.StringVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Failed attempts before a registration expires; 0 or 'unlimited' never expires")
	fs.IntVar(&cfg.MaxRegistryEntries, "max-registry-entries", cfg.MaxRegistryEntries, "Soft cap on pending registrations (0 = unbounded)")
	fs.StringVar(&cfg.SinkBaseURL, "sink-base-url", cfg.SinkBaseURL, "Base URL for the game-over and order HTTP sinks")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "Locale for user-facing error messages")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseMaxRetries maps the configured value onto the polling engine's
// convention: "unlimited" never expires a registration.
func ParseMaxRetries(value string) (int, error) {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "unlimited") {
		return polling.UnlimitedRetries, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("max retries must be a non-negative integer or 'unlimited', got %q", value)
	}
	return parsed, nil
}

// Run starts the invoice core runtime.
func Run(ctx context.Context, cfg Config) error {
	maxRetries, err := ParseMaxRetries(cfg.MaxRetries)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceInvoiceCore, func(ctx context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			WSPort:               cfg.WSPort,
			HTTPPort:             cfg.HTTPPort,
			HealthPort:           cfg.HealthPort,
			BucketName:           cfg.BucketName,
			S3Endpoint:           cfg.S3Endpoint,
			S3AccessKey:          cfg.S3AccessKey,
			S3SecretKey:          cfg.S3SecretKey,
			S3UseSSL:             cfg.S3UseSSL,
			InvoiceStorageDir:    cfg.InvoiceStorageDir,
			StreamThresholdBytes: cfg.StreamThresholdBytes,
			LedgerDBPath:         cfg.LedgerDBPath,
			PollInterval:         cfg.PollInterval,
			MaxRetries:           maxRetries,
			MaxRegistryEntries:   cfg.MaxRegistryEntries,
			SinkBaseURL:          cfg.SinkBaseURL,
			Locale:               cfg.Locale,
		})
	})
}
