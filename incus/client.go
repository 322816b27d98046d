// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package incus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultSocketPath is the Incus unix socket on a standard install.
const DefaultSocketPath = "/var/lib/incus/unix.socket"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// SocketPath is the Incus unix socket. Empty means
	// DefaultSocketPath.
	SocketPath string

	// HTTPClient overrides the transport. When set, SocketPath is
	// ignored. Tests use this to point the client at an httptest
	// server.
	HTTPClient *http.Client

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Client talks to the Incus REST API. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the Incus unix socket.
func NewClient(config ClientConfig) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		socketPath := config.SocketPath
		if socketPath == "" {
			socketPath = DefaultSocketPath
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					dialer := net.Dialer{}
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 30 * time.Second,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{httpClient: httpClient, logger: logger}
}

// apiResponse is the envelope Incus wraps around every response:
//
//	{"type": "sync"|"async"|"error", "status": ..., "status_code": ...,
//	 "operation": ..., "metadata": ..., "error": ..., "error_code": ...}
type apiResponse struct {
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Operation  string          `json:"operation"`
	Metadata   json.RawMessage `json:"metadata"`
	ErrorMsg   string          `json:"error"`
	ErrorCode  int             `json:"error_code"`
}

// doRequest performs one HTTP round trip and unwraps the envelope.
// Transport failures become KindUnreachable; error envelopes are
// classified by their code.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, header http.Header) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			reader = bytes.NewReader(b)
		default:
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("incus: encoding %s %s body: %w", method, path, err)
			}
			reader = bytes.NewReader(encoded)
		}
	}

	// The host is a placeholder — the transport dials the unix socket.
	request, err := http.NewRequestWithContext(ctx, method, "http://incus"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("incus: building %s %s: %w", method, path, err)
	}
	for key, values := range header {
		request.Header[key] = values
	}
	if body != nil && request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Err: err}
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Err: err}
	}

	var envelope apiResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("incus: decoding %s %s response: %w", method, path, err)
	}

	if envelope.Type == "error" {
		code := envelope.ErrorCode
		if code == 0 {
			code = response.StatusCode
		}
		return nil, classify(code, envelope.ErrorMsg)
	}
	return &envelope, nil
}

// do performs a request, decodes the metadata into out (when non-nil),
// and, for async responses, waits for the background operation to
// finish.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	envelope, err := c.doRequest(ctx, method, path, body, nil)
	if err != nil {
		return err
	}

	if envelope.Type == "async" {
		if err := c.waitOperation(ctx, envelope.Operation); err != nil {
			return err
		}
		return nil
	}

	if out != nil && len(envelope.Metadata) > 0 {
		if err := json.Unmarshal(envelope.Metadata, out); err != nil {
			return fmt.Errorf("incus: decoding %s %s metadata: %w", method, path, err)
		}
	}
	return nil
}

// waitOperation blocks until the background operation at operationURL
// completes, and converts a failed operation into a classified error.
func (c *Client) waitOperation(ctx context.Context, operationURL string) error {
	if operationURL == "" {
		return &Error{Kind: KindRejected, Message: "async response without operation URL"}
	}

	envelope, err := c.doRequest(ctx, http.MethodGet, operationURL+"/wait", nil, nil)
	if err != nil {
		return err
	}

	var op Operation
	if len(envelope.Metadata) > 0 {
		if err := json.Unmarshal(envelope.Metadata, &op); err != nil {
			return fmt.Errorf("incus: decoding operation %s: %w", operationURL, err)
		}
	}
	if op.Status != "Success" {
		message := op.Err
		if message == "" {
			message = op.Status
		}
		return classify(op.StatusCode, message)
	}
	return nil
}

// Available reports whether the Incus API answers on the socket.
func (c *Client) Available(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/1.0", nil, nil)
}

func instancePath(name string) string {
	return "/1.0/instances/" + url.PathEscape(name)
}

func profilePath(name string) string {
	return "/1.0/profiles/" + url.PathEscape(name)
}

func fileQuery(path string) string {
	return "?path=" + url.QueryEscape(path)
}

func modeHeader(uid, gid int, mode string) http.Header {
	header := make(http.Header)
	header.Set("X-Incus-uid", strconv.Itoa(uid))
	header.Set("X-Incus-gid", strconv.Itoa(gid))
	if mode != "" {
		header.Set("X-Incus-mode", mode)
	}
	return header
}
