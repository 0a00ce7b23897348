package wsgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/ashgrovegames/invoicecore/internal/platform/errors"
	"github.com/ashgrovegames/invoicecore/internal/platform/timeouts"
)

// SinkClient posts pass-through payloads to the external HTTP sinks. The
// body travels unchanged; only the response of the order sink is
// interpreted, and then only to relay it back to the caller.
type SinkClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSinkClient creates a client for the sink base URL.
func NewSinkClient(baseURL string, callTimeout time.Duration) *SinkClient {
	if callTimeout <= 0 {
		callTimeout = timeouts.SinkCall
	}
	return &SinkClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

// PostGameOver forwards a game-over payload. Fire-and-forget from the
// caller's perspective; the response body is discarded.
func (c *SinkClient) PostGameOver(ctx context.Context, payload json.RawMessage) error {
	_, err := c.post(ctx, "/game-over", payload)
	return err
}

// PostOrder forwards an order payload and returns the sink's JSON
// response so it can be relayed to the ordering client.
func (c *SinkClient) PostOrder(ctx context.Context, payload json.RawMessage) (map[string]any, error) {
	body, err := c.post(ctx, "/process-order", payload)
	if err != nil {
		return nil, err
	}
	response := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSinkTransport, "decode order sink response", err)
		}
	}
	return response, nil
}

func (c *SinkClient) post(ctx context.Context, path string, payload json.RawMessage) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, apperrors.New(apperrors.CodeSinkTransport, "sink base url is not configured")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSinkTransport, fmt.Sprintf("build sink request %s", path), err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSinkTransport, fmt.Sprintf("post to sink %s", path), err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, apperrors.WithMetadata(apperrors.CodeSinkTransport,
			fmt.Sprintf("sink %s returned status %d", path, response.StatusCode),
			map[string]string{"status": fmt.Sprintf("%d", response.StatusCode)})
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(response.Body); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSinkTransport, fmt.Sprintf("read sink response %s", path), err)
	}
	return buf.Bytes(), nil
}
