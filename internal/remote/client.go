package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Client talks to the central server API. All methods classify their errors
// into *Failure so callers never inspect status codes themselves.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logrus.Entry
}

// newHTTPClient creates an IPv4-only HTTP client. Dual-stack routers on shop
// networks often advertise broken IPv6; forcing tcp4 avoids long timeouts.
func newHTTPClient() *http.Client {
	ipv4Dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ipv4Dialer.DialContext(ctx, "tcp4", addr)
			},
			MaxIdleConns:       100,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}
}

// NewClient creates a remote API client for the given base URL and bearer token.
func NewClient(baseURL, token string, log *logrus.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: newHTTPClient(),
		log:        log.WithField("component", "remote"),
	}
}

// SetToken swaps the bearer token after a re-login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// checkTokenExpiry parses the token locally (without verifying the signature,
// the server owns the secret) and fails fast when it has already expired.
// This turns a guaranteed 401 round trip into an immediate auth failure.
func (c *Client) checkTokenExpiry() *Failure {
	if c.token == "" {
		return &Failure{Kind: FailureAuth, Message: "no api token configured"}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(c.token, jwt.MapClaims{})
	if err != nil {
		// Opaque tokens are fine, let the server judge them.
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return &Failure{Kind: FailureAuth, Message: "api token expired"}
	}
	return nil
}

func classify(statusCode int, message string) *Failure {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Failure{Kind: FailureAuth, StatusCode: statusCode, Message: message}
	case statusCode == http.StatusConflict:
		return &Failure{Kind: FailureConflict, StatusCode: statusCode, Message: message}
	case statusCode >= 500:
		return &Failure{Kind: FailureServer, StatusCode: statusCode, Message: message}
	case statusCode >= 400:
		return &Failure{Kind: FailureValidation, StatusCode: statusCode, Message: message}
	}
	return nil
}

// do executes one request and decodes the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	if f := c.checkTokenExpiry(); f != nil {
		return nil, f
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is not a remote failure, pass it through.
			return nil, ctx.Err()
		}
		return nil, &Failure{Kind: FailureNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Failure{Kind: FailureNetwork, Message: "reading response: " + err.Error(), Err: err}
	}

	envelope := &Response{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, envelope); err != nil {
			envelope.Message = string(raw)
		}
		envelope.StatusCode = resp.StatusCode
	}

	if f := classify(resp.StatusCode, envelope.Message); f != nil {
		c.log.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"kind":   f.Kind,
		}).Warn("remote call failed")
		return nil, f
	}
	return envelope, nil
}

// Post creates a single entity. Returns the server's response envelope.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put replaces an entity identified by its server id.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// Patch partially updates an entity.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// Get fetches a resource.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Delete removes an entity identified by its server id.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// BatchSync posts a batch of create payloads for one entity collection and
// returns the per-record acks. The request shape is {"<plural>": [...]} and
// the response is {"synced": [...]} with each ack echoing the local id.
func (c *Client) BatchSync(ctx context.Context, plural string, records []json.RawMessage) ([]BatchAck, error) {
	body := map[string]interface{}{plural: records}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/sync/"+plural, body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Synced []BatchAck `json:"synced"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, &Failure{Kind: FailureServer, StatusCode: resp.StatusCode,
			Message: "malformed batch response: " + err.Error(), Err: err}
	}
	return parsed.Synced, nil
}

// PullChanges fetches remote entities modified since the given RFC3339
// watermark. An empty watermark fetches everything.
func (c *Client) PullChanges(ctx context.Context, since string) ([]PullResult, error) {
	path := "/api/v1/sync/changes"
	if since != "" {
		path += "?" + url.Values{"since": {since}}.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Changes []PullResult `json:"changes"`
	}
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return nil, &Failure{Kind: FailureServer, StatusCode: resp.StatusCode,
			Message: "malformed changes response: " + err.Error(), Err: err}
	}
	return parsed.Changes, nil
}

// Health probes the server. Used by the connectivity monitor; a nil error
// means online.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Failure{Kind: FailureNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &Failure{Kind: FailureServer, StatusCode: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}
