// Package prism provides the HTTP client for the Nutanix Prism v2.0 API.
//
// PrismFlow Exporter - Nutanix Prism Metrics for Prometheus
// Copyright (c) 2024-2026 PrismFlow. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
package prism

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prismflow/nutanix-exporter/internal/version"
)

// apiBasePath is the v2.0 REST prefix shared by Prism Central and Prism
// Element.
const apiBasePath = "/api/nutanix/v2.0"

// sessionCookieName is the cookie Prism issues after basic authentication.
// Reusing it avoids re-validating credentials on every request.
const sessionCookieName = "JSESSIONID"

// maxErrorBodyBytes bounds how much of an error response ends up in error
// messages and logs.
const maxErrorBodyBytes = 512

// Client is the HTTP client for one Prism target
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     ClientConfig
	logger     *zap.Logger

	mu      sync.Mutex
	session *http.Cookie
}

// ClientConfig contains client configuration
type ClientConfig struct {
	// BaseURL is the Prism base URL, e.g. https://10.0.0.10:9440
	BaseURL string

	// Username and Password are the basic-auth credentials
	Username string
	Password string

	// Timeout is the per-request timeout
	Timeout time.Duration

	// PageSize is the entity count requested per list page
	PageSize int

	// MaxPages bounds pagination per listing
	MaxPages int

	// MaxAttempts is the total number of attempts per request
	MaxAttempts int

	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the computed retry delay
	MaxBackoff time.Duration

	// TLSSkipVerify skips certificate verification
	TLSSkipVerify bool

	// Logger is the logger instance
	Logger *zap.Logger
}

// NewClient creates a new Prism API client
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 500
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 20
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.TLSSkipVerify {
		// #nosec G402 -- InsecureSkipVerify is intentionally configurable for
		// environments with self-signed certificates (the Prism default)
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
		logger: cfg.Logger,
	}
}

// BaseURL returns the configured Prism base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchInventory retrieves one complete snapshot of the selected entity
// kinds. Any listing failure fails the whole fetch; a partial inventory
// would make entities appear deleted downstream.
func (c *Client) FetchInventory(ctx context.Context, opts FetchOptions) (*Inventory, error) {
	inv := &Inventory{RetrievedAt: time.Now()}

	if opts.Clusters {
		clusters, err := fetchPaged[Cluster](ctx, c, "/clusters", nil)
		if err != nil {
			return nil, fmt.Errorf("clusters: %w", err)
		}
		inv.Clusters = clusters
	}
	if opts.Hosts {
		hosts, err := fetchPaged[Host](ctx, c, "/hosts", nil)
		if err != nil {
			return nil, fmt.Errorf("hosts: %w", err)
		}
		inv.Hosts = hosts
	}
	if opts.VMs {
		vms, err := fetchPaged[VM](ctx, c, "/vms", nil)
		if err != nil {
			return nil, fmt.Errorf("vms: %w", err)
		}
		inv.VMs = vms
	}
	if opts.Containers {
		containers, err := fetchPaged[StorageContainer](ctx, c, "/storage_containers", nil)
		if err != nil {
			return nil, fmt.Errorf("storage containers: %w", err)
		}
		inv.Containers = containers
	}
	if opts.Alerts {
		q := url.Values{}
		q.Set("resolved", "false")
		alerts, err := fetchPaged[Alert](ctx, c, "/alerts", q)
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		inv.Alerts = alerts
	}

	return inv, nil
}

// Probe checks connectivity and credentials with a minimal clusters
// listing.
func (c *Client) Probe(ctx context.Context) error {
	q := url.Values{}
	q.Set("offset", "0")
	q.Set("length", "1")
	_, err := c.get(ctx, "/clusters", q)
	return err
}

// CloseIdleConnections drops pooled connections to the target
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// fetchPaged walks a v2.0 list endpoint page by page. It stops when a page
// comes back short, empty, or the reported total is reached. Exceeding the
// page bound with entities still remaining is an error, not a truncation.
func fetchPaged[T any](ctx context.Context, c *Client, path string, extra url.Values) ([]T, error) {
	// Non-nil even when empty: callers distinguish "collected nothing"
	// from "not collected".
	out := []T{}
	offset := 0
	for page := 0; page < c.config.MaxPages; page++ {
		q := url.Values{}
		for k, vs := range extra {
			q[k] = vs
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("length", strconv.Itoa(c.config.PageSize))

		body, err := c.get(ctx, path, q)
		if err != nil {
			return nil, err
		}

		var envelope struct {
			Metadata ListMetadata `json:"metadata"`
			Entities []T          `json:"entities"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
		}

		out = append(out, envelope.Entities...)
		got := len(envelope.Entities)
		offset += got

		if got == 0 || got < c.config.PageSize {
			return out, nil
		}
		if total := envelope.Metadata.TotalEntities; total > 0 && offset >= total {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s exceeded %d pages", ErrPaginationExhausted, path, c.config.MaxPages)
}

// get performs a GET with bounded retries for transient failures
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Debug("Retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doAuthenticated(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) {
			return nil, err
		}
		c.logger.Debug("Request failed",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.config.MaxAttempts, lastErr)
}

// doAuthenticated performs one request, re-authenticating once when a
// cached session cookie has expired. A 401 against fresh basic credentials
// is terminal.
func (c *Client) doAuthenticated(ctx context.Context, path string, query url.Values) ([]byte, error) {
	usedSession := c.sessionCookie() != nil

	body, status, err := c.do(ctx, path, query, usedSession)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && usedSession {
		c.clearSession()
		c.logger.Debug("Session expired, re-authenticating", zap.String("path", path))
		body, status, err = c.do(ctx, path, query, false)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		c.clearSession()
		return nil, fmt.Errorf("%w: status 401 for %s", ErrAuthFailed, path)
	case status >= 200 && status < 300:
		return body, nil
	default:
		return nil, &StatusError{
			StatusCode: status,
			Path:       path,
			Body:       truncate(body, maxErrorBodyBytes),
		}
	}
}

// do performs a single HTTP round trip
func (c *Client) do(ctx context.Context, path string, query url.Values, useSession bool) ([]byte, int, error) {
	endpoint := c.baseURL + apiBasePath + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	if cookie := c.sessionCookie(); useSession && cookie != nil {
		req.AddCookie(cookie)
	} else {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.captureSession(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}
	return body, resp.StatusCode, nil
}

// backoff computes the delay before the given retry attempt: exponential
// growth from the initial delay, capped, with the lower half jittered to
// keep parallel pollers from retrying in lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.config.InitialBackoff << uint(attempt-1)
	if delay > c.config.MaxBackoff || delay <= 0 {
		delay = c.config.MaxBackoff
	}
	half := delay / 2
	return half + rand.N(half+1)
}

func (c *Client) sessionCookie() *http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) clearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// captureSession keeps the session cookie Prism returns on authenticated
// responses so later requests skip basic-auth validation.
func (c *Client) captureSession(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			c.mu.Lock()
			c.session = cookie
			c.mu.Unlock()
			return
		}
	}
}

// classifyTransport maps transport-level failures onto the sentinel errors
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
