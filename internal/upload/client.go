// Package upload sends measurements to the backend over HTTP/JSON.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chaz8081/scale-sync/internal/domain"
	"golang.org/x/oauth2"
)

const (
	loginPath   = "/api/login"
	weightsPath = "/api/weights"

	// dateLayout is ISO-8601 with millisecond precision.
	dateLayout = "2006-01-02T15:04:05.000Z07:00"

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 20 * time.Second
)

var (
	// ErrNotConfigured is returned when no backend base URL is set.
	ErrNotConfigured = errors.New("upload: backend not configured")
	// ErrUnauthorized is returned on HTTP 401.
	ErrUnauthorized = errors.New("upload: unauthorized")
	// ErrNetwork wraps transport failures.
	ErrNetwork = errors.New("upload: network error")
	// ErrBadToken is returned when the login response has no token.
	ErrBadToken = errors.New("upload: malformed token response")
)

// StatusError is a non-2xx, non-401 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload: server returned HTTP %d", e.Code)
}

// Client talks to the weight backend.
type Client struct {
	baseURL string
	timeout time.Duration
	// base is the transport under the bearer layer; nil means http.DefaultTransport.
	base http.RoundTripper
}

var _ domain.Uploader = (*Client)(nil)

// NewClient creates a client for baseURL. A zero timeout means DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

type weightPayload struct {
	WeightKg float64 `json:"weightKg"`
	Date     string  `json:"date"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Upload POSTs m to the weights endpoint using credential as bearer token.
func (c *Client) Upload(ctx context.Context, m domain.Measurement, credential string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(weightPayload{
		WeightKg: m.WeightKg,
		Date:     m.Timestamp.UTC().Format(dateLayout),
	})
	if err != nil {
		return fmt.Errorf("upload: encode payload: %w", err)
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"})
	httpClient := &http.Client{
		Timeout:   c.timeout,
		Transport: &oauth2.Transport{Source: src, Base: c.base},
	}

	resp, err := c.post(ctx, httpClient, weightsPath, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return checkStatus(resp.StatusCode)
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("upload: encode login: %w", err)
	}

	httpClient := &http.Client{Timeout: c.timeout, Transport: c.base}
	resp, err := c.post(ctx, httpClient, loginPath, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return "", err
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil || lr.Token == "" {
		return "", ErrBadToken
	}
	return lr.Token, nil
}

func (c *Client) post(ctx context.Context, httpClient *http.Client, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return resp, nil
}

func checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return &StatusError{Code: code}
	}
}
