// Package httpapi writes mutations to the user service over its JSON HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/mutation"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client implements mutation.Writer. Every write is a PUT of the full document, so replays are safe.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ mutation.Writer = (*Client)(nil)

// NewClient returns a client for baseURL. A nil httpClient uses one with a 15s timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// WriteNotificationPreferences implements mutation.Writer.
func (c *Client) WriteNotificationPreferences(ctx context.Context, actorUID string, prefs mutation.NotificationPreferences) error {
	return c.put(ctx, NotificationPreferencesPath(actorUID), prefs)
}

// WriteProfile implements mutation.Writer.
func (c *Client) WriteProfile(ctx context.Context, actorUID string, profile mutation.ProfileUpdate) error {
	return c.put(ctx, ProfilePath(actorUID), profile)
}

// NotificationPreferencesPath is the resource path of a user's notification preferences.
func NotificationPreferencesPath(actorUID string) string {
	return "/v1/users/" + url.PathEscape(actorUID) + "/notification-preferences"
}

// ProfilePath is the resource path of a user's profile.
func ProfilePath(actorUID string) string {
	return "/v1/users/" + url.PathEscape(actorUID) + "/profile"
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return outbox.Permanent(fmt.Errorf("httpapi: encode body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return outbox.Permanent(fmt.Errorf("httpapi: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		return outbox.Transient(fmt.Errorf("httpapi: PUT %s: %w", path, err))
	}
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	if readErr != nil {
		return outbox.Transient(fmt.Errorf("httpapi: read response: %w", readErr))
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &errPayload)
	if errPayload.Message == "" {
		errPayload.Message = strings.TrimSpace(string(raw))
	}

	return classify(&HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: errPayload.Message})
}

func classify(err *HTTPError) error {
	switch {
	case err.StatusCode == http.StatusRequestTimeout,
		err.StatusCode == http.StatusTooManyRequests,
		err.StatusCode == http.StatusBadGateway,
		err.StatusCode == http.StatusServiceUnavailable,
		err.StatusCode == http.StatusGatewayTimeout:
		return outbox.Transient(err)
	case err.StatusCode >= 400 && err.StatusCode <= 499:
		return outbox.Permanent(err)
	default:
		return err
	}
}
