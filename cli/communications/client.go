/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package communications is the dactl HTTP client for agent hosts and the broker
package communications

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/UnifyEM/diragent/cli/global"
	"github.com/UnifyEM/diragent/cli/util"
)

var _ global.Comms = (*Communications)(nil)

const (
	requestTimeout   = 2 * time.Minute
	maxResponseBytes = 32 << 20
)

type Communications struct {
	baseURL   string
	token     string
	userAgent string
	client    *http.Client
}

// New returns a client for baseURL and optionally accepts a bearer token
func New(baseURL string, tlsConfig *tls.Config, token ...string) global.Comms {
	c := &Communications{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: global.Name + "/" + global.Version,
		client: &http.Client{
			Timeout:   requestTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
		},
	}
	if len(token) > 0 {
		c.token = token[0]
	}
	return c
}

func (c *Communications) SetToken(token string) {
	c.token = token
}

func (c *Communications) Get(endpoint string) (int, []byte, error) {
	return c.Do(context.Background(), http.MethodGet, endpoint, nil)
}

// GetQuery sends name=value pairs as query parameters
func (c *Communications) GetQuery(endpoint string, pairs *util.NVPairs) (int, []byte, error) {
	query := url.Values{}
	if pairs != nil {
		for n, v := range pairs.Pairs {
			query.Set(n, v)
		}
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.Do(context.Background(), http.MethodGet, endpoint, nil)
}

// Post sends payload as JSON. A nil payload sends an empty body.
func (c *Communications) Post(endpoint string, payload any) (int, []byte, error) {
	return c.Do(context.Background(), http.MethodPost, endpoint, payload)
}

// Do performs one exchange and returns the status code and body. Bodies
// larger than maxResponseBytes are an error.
func (c *Communications) Do(ctx context.Context, method, endpoint string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to serialize request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > maxResponseBytes {
		return resp.StatusCode, nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}
	return resp.StatusCode, data, nil
}
