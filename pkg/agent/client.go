package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/axleworks/worksync/model"
)

// SyncClient talks to the worksyncd API on behalf of a device.
type SyncClient interface {
	// Push submits one progress snapshot for reconciliation. A nil error
	// means the server accepted the snapshot (even if it kept a newer
	// record). Errors carry the taxonomy code that decides retry behavior.
	Push(ctx context.Context, state model.ProgressState) error

	// FetchSession downloads a full session with its items, used to
	// hydrate a device that has no local record.
	FetchSession(ctx context.Context, sessionID string) (model.WorkSession, error)

	// Healthy reports whether the server is reachable right now.
	Healthy(ctx context.Context) bool
}

// HTTPSyncClient is the production SyncClient over HTTP.
type HTTPSyncClient struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
}

// HTTPSyncClientConfig configures an HTTPSyncClient.
type HTTPSyncClientConfig struct {
	// BaseURL is the server root, e.g. "https://sync.example.com".
	BaseURL string
	// Token is the bearer token attached to every request. Optional when
	// the server runs with identity disabled.
	Token string
	// DeviceID is sent as X-Device-Id so server logs can tell devices apart.
	DeviceID string
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
}

// NewHTTPSyncClient creates a SyncClient for the given server.
func NewHTTPSyncClient(cfg HTTPSyncClientConfig) *HTTPSyncClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSyncClient{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		deviceID:   cfg.DeviceID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type syncPushRequest struct {
	WorkSessionID string         `json:"workSessionId"`
	DocumentID    string         `json:"documentId"`
	Progress      model.Progress `json:"progress"`
	LastUpdated   int64          `json:"lastUpdated"`
}

// Push submits one snapshot to POST /sessions/sync.
func (c *HTTPSyncClient) Push(ctx context.Context, state model.ProgressState) error {
	body := syncPushRequest{
		WorkSessionID: state.WorkSessionID,
		DocumentID:    state.DocumentID,
		Progress:      state.Progress,
		LastUpdated:   state.LastUpdated,
	}

	resp, err := c.do(ctx, http.MethodPost, "/sessions/sync", body)
	if err != nil {
		return model.NewTransientNetworkError(err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return decodeAPIError(resp)
}

// FetchSession downloads GET /sessions/{sessionId}.
func (c *HTTPSyncClient) FetchSession(ctx context.Context, sessionID string) (model.WorkSession, error) {
	resp, err := c.do(ctx, http.MethodGet, "/sessions/"+sessionID, nil)
	if err != nil {
		return model.WorkSession{}, model.NewTransientNetworkError(err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return model.WorkSession{}, decodeAPIError(resp)
	}

	var sess model.WorkSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return model.WorkSession{}, model.NewTransientNetworkError(fmt.Errorf("decode session: %w", err))
	}
	return sess, nil
}

// Healthy probes GET /healthz.
func (c *HTTPSyncClient) Healthy(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPSyncClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	return c.httpClient.Do(req)
}

// decodeAPIError turns a non-2xx response into an error envelope. Server 5xx
// responses and unparseable bodies classify as transient so the caller
// retries them; anything else keeps the server's own code.
func decodeAPIError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil {
		var wrapper struct {
			Error *model.ErrorEnvelope `json:"error"`
		}
		if jerr := json.Unmarshal(raw, &wrapper); jerr == nil && wrapper.Error != nil && wrapper.Error.Code != "" {
			if resp.StatusCode >= 500 {
				return model.NewTransientNetworkError(wrapper.Error)
			}
			return wrapper.Error
		}
	}
	return model.NewTransientNetworkError(fmt.Errorf("server returned status %d", resp.StatusCode))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}
