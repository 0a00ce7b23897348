// Package objectstore adapts an S3-compatible endpoint to the two
// operations the polling engine consumes: list a bucket and fetch an
// object's bytes.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/ashgrovegames/invoicecore/internal/platform/errors"
	"github.com/ashgrovegames/invoicecore/internal/platform/timeouts"
)

// ObjectInfo describes one listed object. Iteration order of a listing is
// unspecified and may change between calls.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// Gateway lists buckets and fetches object bytes.
type Gateway interface {
	List(ctx context.Context, bucket string) ([]ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Config holds S3-compatible endpoint settings.
type Config struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	CallTimeout time.Duration
}

// Client is the minio-backed Gateway implementation. It performs no
// caching; every call goes to the endpoint.
type Client struct {
	minioClient *minio.Client
	callTimeout time.Duration
}

// New constructs a client for the configured endpoint. Connectivity is not
// verified here; use Probe for the startup check.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = timeouts.ObjectStoreCall
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Client{minioClient: minioClient, callTimeout: timeout}, nil
}

// Probe verifies the endpoint is reachable and the bucket exists. Callers
// decide whether a probe failure is fatal.
func (c *Client) Probe(ctx context.Context, bucket string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	exists, err := c.minioClient.BucketExists(callCtx, bucket)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeObjectStoreUnreachable,
			fmt.Sprintf("probe bucket %q", bucket), err)
	}
	if !exists {
		return apperrors.WithMetadata(apperrors.CodeObjectStoreUnreachable,
			fmt.Sprintf("bucket %q does not exist", bucket),
			map[string]string{"bucket": bucket})
	}
	return nil
}

// List returns every object in the bucket.
func (c *Client) List(ctx context.Context, bucket string) ([]ObjectInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var objects []ObjectInfo
	for object := range c.minioClient.ListObjects(callCtx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, classify("list", object.Key, object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ETag:         object.ETag,
		})
	}
	return objects, nil
}

// Get returns the full object bytes.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	object, err := c.minioClient.GetObject(callCtx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get", key, err)
	}
	defer object.Close()

	payload, err := io.ReadAll(object)
	if err != nil {
		return nil, classify("get", key, err)
	}
	return payload, nil
}

// classify maps a minio error onto the error kinds the core recognises:
// a missing key is NotFound, everything else is Transport.
func classify(op, key string, err error) *apperrors.Error {
	response := minio.ToErrorResponse(err)
	if response.Code == "NoSuchKey" || response.StatusCode == 404 {
		return apperrors.WrapWithMetadata(apperrors.CodeObjectStoreNotFound,
			fmt.Sprintf("object store %s %q: not found", op, key),
			map[string]string{"key": key}, err)
	}
	return apperrors.WrapWithMetadata(apperrors.CodeObjectStoreTransport,
		fmt.Sprintf("object store %s %q failed", op, key),
		map[string]string{"key": key}, err)
}

var _ Gateway = (*Client)(nil)
