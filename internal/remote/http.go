package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 64 * 1024

// ExecuteRequest is the JSON body posted to the remote endpoint.
type ExecuteRequest struct {
	AttemptID string `json:"attempt_id"`
	Interface string `json:"interface"`
	Step      string `json:"step"`
}

// ExecuteResponse is the JSON body the remote endpoint answers with.
type ExecuteResponse struct {
	Status ExecutionStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// HTTPClient posts one ExecuteRequest per call. Each instance owns its own transport,
// so every channel holds distinct connections to the endpoint.
type HTTPClient struct {
	address   string
	http      *http.Client
	transport *http.Transport
}

// NewHTTPClient creates a client bound to address with the given per-call timeout.
func NewHTTPClient(address string, timeout time.Duration) *HTTPClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		address:   address,
		transport: transport,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// HTTPFactory returns a Factory creating one HTTPClient per channel.
func HTTPFactory(address string, timeout time.Duration) Factory {
	return func(int) (Client, error) {
		if address == "" {
			return nil, fmt.Errorf("remote address is empty")
		}
		return NewHTTPClient(address, timeout), nil
	}
}

// Execute implements Client.
func (c *HTTPClient) Execute(ctx context.Context, attemptID, iface, step string) Response {
	body, err := json.Marshal(ExecuteRequest{AttemptID: attemptID, Interface: iface, Step: step})
	if err != nil {
		return Faulted(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address, bytes.NewReader(body))
	if err != nil {
		return Faulted(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Faulted(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Faulted(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Faulted(&TransportError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Err:        errors.New(string(bytes.TrimSpace(raw))),
		})
	}

	var out ExecuteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Faulted(fmt.Errorf("decode response: %w", err))
	}
	if out.Status == "" {
		out.Status = StatusNotExecuted
	}
	return Response{Status: out.Status}
}

// Close releases idle connections held by this client's transport.
func (c *HTTPClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}
