// Package timeouts defines shared timeout constants used across the
// service's outbound boundaries. Centralizing these values prevents drift
// between call sites and makes the durations discoverable.
package timeouts

import "time"

// ObjectStoreCall caps a single object-store list or fetch.
const ObjectStoreCall = 5 * time.Second

// SinkCall caps a single outbound HTTP call to an external sink.
const SinkCall = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
