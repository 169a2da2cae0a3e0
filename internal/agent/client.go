package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/me/clusterq/pkg/model"
)

// Client talks to the clusterq server API on behalf of one host.
type Client struct {
	baseURL    string
	httpClient *http.Client
	host       string
	agentKey   string // Optional: shared secret for agent authentication
}

// NewClient creates a client for host with connection pooling.
// If tlsCfg is nil, the default system TLS configuration is used.
func NewClient(baseURL, host string, tlsCfg *tls.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     tlsCfg,
	}

	return &Client{
		baseURL: baseURL,
		host:    host,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// SetAgentKey sets the shared secret sent as X-Agent-Key.
func (c *Client) SetAgentKey(key string) {
	c.agentKey = key
}

// Host returns the host name this client acts for.
func (c *Client) Host() string {
	return c.host
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Err        *model.APIError // nil when the body was not an API envelope
	Body       string
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Err.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// statusCode returns the HTTP status carried by err, or 0.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Register announces the host to the server.
func (c *Client) Register(ctx context.Context, reg model.HostRegistration) (*model.Host, error) {
	reg.Name = c.host
	body, err := json.Marshal(reg)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/hosts", body)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var host model.Host
	if err := decodeResponseData(resp, &host); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &host, nil
}

// Heartbeat checks in with the server and returns the commands drained
// from the host's queue.
func (c *Client) Heartbeat(ctx context.Context) ([]model.Command, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, c.hostPath("heartbeat"), nil)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	var hb model.HeartbeatResponse
	if err := decodeResponseData(resp, &hb); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return hb.Commands, nil
}

// Report sends a command result.
func (c *Client) Report(ctx context.Context, result model.CommandResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.hostPath("results"), body)
	if err != nil {
		return fmt.Errorf("report %s %s: %w", result.CommandID, result.Status, err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) hostPath(suffix string) string {
	return "/api/v1/hosts/" + url.PathEscape(c.host) + "/" + suffix
}

// doRequest executes an HTTP request and returns the response.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.agentKey != "" {
		req.Header.Set("X-Agent-Key", c.agentKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var envelope struct {
			Error *model.APIError `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil {
			se.Err = envelope.Error
		}
		return nil, se
	}

	return resp, nil
}

// decodeResponseData extracts the data field from the API response envelope.
func decodeResponseData(resp *http.Response, dest any) error {
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *model.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	return json.Unmarshal(envelope.Data, dest)
}
