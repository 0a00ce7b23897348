// Package invoicestore persists one JSON record per processed invoice on
// the local filesystem. The set of stored records is the authoritative
// dedup signal for the polling engine, mirrored in memory for O(1) checks.
package invoicestore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/ashgrovegames/invoicecore/internal/platform/errors"
)

// DefaultStreamThreshold is the payload size above which Put streams the
// base64 encoding straight to the file instead of materializing it.
const DefaultStreamThreshold = 256 * 1024

// readRetryDelay is how long a reader waits before its single retry when a
// record is mid-rename.
const readRetryDelay = 25 * time.Millisecond

// S3Metadata records where the artifact came from.
type S3Metadata struct {
	S3Key          string `json:"s3Key"`
	S3Size         int64  `json:"s3Size"`
	S3LastModified string `json:"s3LastModified"`
}

// Record is the on-disk shape of a processed invoice. The invoice number
// is carried in the filename, not the body.
type Record struct {
	InvoiceNumber string `json:"-"`

	PlayerID    string     `json:"playerId"`
	Base64Data  string     `json:"base64Data"`
	Filename    string     `json:"filename"`
	FileSize    int64      `json:"fileSize"`
	ProcessedAt string     `json:"processedAt"`
	S3Metadata  S3Metadata `json:"s3Metadata"`
	SavedAt     string     `json:"savedAt"`
	FilePath    string     `json:"filePath"`
}

// Store is a directory of invoice records plus the dedup cache.
type Store struct {
	dir             string
	streamThreshold int

	mu    sync.Mutex
	cache map[string]struct{}
}

// Open creates the storage directory if needed and seeds the dedup cache
// from the records already on disk.
func Open(dir string) (*Store, error) {
	return OpenWithThreshold(dir, DefaultStreamThreshold)
}

// OpenWithThreshold is Open with an explicit streaming threshold.
func OpenWithThreshold(dir string, thresholdBytes int) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if thresholdBytes <= 0 {
		thresholdBytes = DefaultStreamThreshold
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageDirFailed,
			fmt.Sprintf("create storage dir %q", dir), err)
	}

	store := &Store{
		dir:             dir,
		streamThreshold: thresholdBytes,
		cache:           make(map[string]struct{}),
	}
	for _, pn := range store.List() {
		store.cache[pn] = struct{}{}
	}
	return store, nil
}

// Has reports whether a record for the invoice number exists, from the
// in-memory cache only.
func (s *Store) Has(invoiceNumber string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[invoiceNumber]
	return ok
}

// Put persists the record with payload base64-encoded inline and adds the
// invoice number to the dedup cache. The write is atomic from a reader's
// perspective: a temporary sibling is fsynced and renamed over the target.
// The returned record carries the final metadata but leaves Base64Data
// empty; callers that need the bytes already hold the payload.
func (s *Store) Put(invoiceNumber string, rec Record, payload []byte) (Record, error) {
	if err := validateInvoiceNumber(invoiceNumber); err != nil {
		return Record{}, err
	}

	rec.InvoiceNumber = invoiceNumber
	rec.FileSize = int64(len(payload))
	rec.SavedAt = time.Now().UTC().Format(time.RFC3339)
	rec.FilePath = filepath.Join(s.dir, canonicalFilename(invoiceNumber))

	if err := s.writeAtomic(invoiceNumber, rec, payload); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	s.cache[invoiceNumber] = struct{}{}
	s.mu.Unlock()

	rec.Base64Data = ""
	return rec, nil
}

// Get reads the record back, trying the canonical filename first and the
// legacy bare filename second. A record absent or partially written on the
// first pass is retried once to tolerate the atomic-rename window.
func (s *Store) Get(invoiceNumber string) (Record, error) {
	if err := validateInvoiceNumber(invoiceNumber); err != nil {
		return Record{}, err
	}

	rec, err := s.read(invoiceNumber)
	if err == nil {
		return rec, nil
	}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) &&
		(domainErr.Code == apperrors.CodeInvoiceNotFound || domainErr.Code == apperrors.CodeInvoiceCorrupt) {
		time.Sleep(readRetryDelay)
		return s.read(invoiceNumber)
	}
	return Record{}, err
}

// List scans the directory and returns every stored invoice number. Used
// at startup to seed the cache.
func (s *Store) List() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var numbers []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		pn := strings.TrimSuffix(name, ".json")
		pn = strings.TrimPrefix(pn, "invoice_")
		if pn != "" {
			numbers = append(numbers, pn)
		}
	}
	return numbers
}

// Delete removes the record file and the cache entry. Administrative use
// only; the polling engine never deletes.
func (s *Store) Delete(invoiceNumber string) error {
	if err := validateInvoiceNumber(invoiceNumber); err != nil {
		return err
	}

	var firstErr error
	for _, name := range []string{canonicalFilename(invoiceNumber), legacyFilename(invoiceNumber)} {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = apperrors.WrapWithMetadata(apperrors.CodeInvoiceIOError,
				fmt.Sprintf("delete invoice %q", invoiceNumber),
				map[string]string{"invoiceNumber": invoiceNumber}, err)
		}
	}
	if firstErr != nil {
		return firstErr
	}

	s.mu.Lock()
	delete(s.cache, invoiceNumber)
	s.mu.Unlock()
	return nil
}

func (s *Store) read(invoiceNumber string) (Record, error) {
	var lastErr error
	for _, name := range []string{canonicalFilename(invoiceNumber), legacyFilename(invoiceNumber)} {
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			lastErr = err
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Record{}, apperrors.WrapWithMetadata(apperrors.CodeInvoiceCorrupt,
				fmt.Sprintf("decode invoice record %q", name),
				map[string]string{"invoiceNumber": invoiceNumber}, err)
		}
		rec.InvoiceNumber = invoiceNumber
		return rec, nil
	}
	return Record{}, apperrors.WrapWithMetadata(apperrors.CodeInvoiceNotFound,
		fmt.Sprintf("invoice %q not on disk", invoiceNumber),
		map[string]string{"invoiceNumber": invoiceNumber}, lastErr)
}

// writeAtomic writes the record to a temporary sibling, fsyncs, and
// renames it over the canonical path. Payloads above the streaming
// threshold are base64-encoded straight into the file writer.
func (s *Store) writeAtomic(invoiceNumber string, rec Record, payload []byte) error {
	wrap := func(err error) error {
		return apperrors.WrapWithMetadata(apperrors.CodeInvoiceIOError,
			fmt.Sprintf("persist invoice %q", invoiceNumber),
			map[string]string{"invoiceNumber": invoiceNumber}, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+canonicalFilename(invoiceNumber)+".tmp")
	if err != nil {
		return wrap(err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if len(payload) > s.streamThreshold {
		err = encodeRecordStreaming(tmp, rec, payload)
	} else {
		rec.Base64Data = base64.StdEncoding.EncodeToString(payload)
		err = json.NewEncoder(tmp).Encode(rec)
	}
	if err != nil {
		_ = tmp.Close()
		return wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return wrap(err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, canonicalFilename(invoiceNumber))); err != nil {
		return wrap(err)
	}
	return nil
}

// encodeRecordStreaming writes the record JSON with the base64Data value
// copied through a base64 encoder, so the encoded payload never exists as
// one contiguous string in memory. The base64 alphabet needs no JSON
// escaping, which is what makes the splice safe.
func encodeRecordStreaming(f *os.File, rec Record, payload []byte) error {
	rec.Base64Data = ""
	head, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// head is `{...,"base64Data":"",...}`; rewrite it without the empty
	// field and splice the streamed value in at the end.
	head = bytes.Replace(head, []byte(`"base64Data":"",`), nil, 1)
	head = head[:len(head)-1]

	if _, err := f.Write(head); err != nil {
		return err
	}
	if _, err := f.Write([]byte(`,"base64Data":"`)); err != nil {
		return err
	}
	encoder := base64.NewEncoder(base64.StdEncoding, f)
	if _, err := encoder.Write(payload); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	_, err = f.Write([]byte(`"}`))
	return err
}

func canonicalFilename(invoiceNumber string) string {
	return "invoice_" + invoiceNumber + ".json"
}

func legacyFilename(invoiceNumber string) string {
	return invoiceNumber + ".json"
}

func validateInvoiceNumber(invoiceNumber string) error {
	if strings.TrimSpace(invoiceNumber) == "" {
		return apperrors.New(apperrors.CodeValidationEmptyField, "invoice number is required")
	}
	if strings.ContainsAny(invoiceNumber, `/\`) || invoiceNumber == "." || invoiceNumber == ".." {
		return apperrors.WithMetadata(apperrors.CodeValidationEmptyField,
			fmt.Sprintf("invoice number %q is not a valid filename component", invoiceNumber),
			map[string]string{"invoiceNumber": invoiceNumber})
	}
	return nil
}

