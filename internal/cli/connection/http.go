package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/shardkv/internal/infra/buildinfo"
)

// DefaultTimeout bounds a single admin request.
const DefaultTimeout = 30 * time.Second

// HTTPClient talks to the admin endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for server, an address or URL. A non-nil
// tlsConfig switches bare addresses to https.
func NewHTTPClient(server string, tlsConfig *tls.Config) *HTTPClient {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		if tlsConfig != nil {
			baseURL = "https://" + baseURL
		} else {
			baseURL = "http://" + baseURL
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout, Transport: transport},
	}
}

// BaseURL returns the server URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Get issues GET path and decodes the envelope's data into target.
func (c *HTTPClient) Get(ctx context.Context, path string, target any) error {
	return c.do(ctx, http.MethodGet, path, nil, target)
}

// Post issues POST path with an optional JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body, target any) error {
	return c.do(ctx, http.MethodPost, path, body, target)
}

// Put issues PUT path with a JSON body.
func (c *HTTPClient) Put(ctx context.Context, path string, body, target any) error {
	return c.do(ctx, http.MethodPut, path, body, target)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, target any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "shardkv-cli/"+buildinfo.Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	return ParseResponse(resp, target)
}

// Error is a non-2xx admin response.
type Error struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ParseResponse decodes an admin envelope and closes the body. The
// envelope's data field is decoded into target when target is non-nil.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env struct {
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		RequestID string          `json:"request_id"`
		Data      json.RawMessage `json:"data"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		e := &Error{Status: resp.StatusCode}
		if decodeErr == nil {
			e.Code, e.Message, e.RequestID = env.Code, env.Message, env.RequestID
		}
		return e
	}
	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
