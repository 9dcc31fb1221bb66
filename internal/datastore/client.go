// Package datastore implements the object-store adapter against the data
// management service's REST API.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portal-conductor/internal/domain"
)

// Config holds the object-store connection settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client is a REST client for the object-store service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ domain.ObjectStore = (*Client)(nil)

// NewClient creates an object-store client rooted at cfg.URL.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Health probes the service root. Any 2xx response counts as healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, nil, nil, nil)
}

type existsResult struct {
	Exists bool `json:"exists"`
}

func (c *Client) UserExists(ctx context.Context, username string) (bool, error) {
	var result existsResult
	if err := c.do(ctx, http.MethodGet, nil, &result, nil, "users", username, "exists"); err != nil {
		return false, err
	}
	return result.Exists, nil
}

func (c *Client) CreateUser(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPut, nil, nil, nil, "users", username)
}

func (c *Client) DeleteUser(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodDelete, nil, nil, nil, "users", username)
}

type passwordBody struct {
	Password string `json:"password"`
}

func (c *Client) SetPassword(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPut, passwordBody{Password: password}, nil, nil, "users", username, "password")
}

type homeResult struct {
	Path string `json:"path"`
}

// HomePath resolves the zone-qualified path of the user's home collection.
func (c *Client) HomePath(ctx context.Context, username string) (string, error) {
	var result homeResult
	if err := c.do(ctx, http.MethodGet, nil, &result, nil, "users", username, "home"); err != nil {
		return "", err
	}
	return result.Path, nil
}

func (c *Client) CreateHome(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPut, nil, nil, nil, "users", username, "home")
}

func (c *Client) DeleteHome(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodDelete, nil, nil, nil, "users", username, "home")
}

func (c *Client) PathExists(ctx context.Context, path string) (bool, error) {
	var result existsResult
	q := url.Values{"path": {path}}
	if err := c.do(ctx, http.MethodGet, nil, &result, q, "path", "exists"); err != nil {
		return false, err
	}
	return result.Exists, nil
}

type permissionListing struct {
	Permissions []domain.PathPermission `json:"permissions"`
}

func (c *Client) Permissions(ctx context.Context, path string) ([]domain.PathPermission, error) {
	var result permissionListing
	q := url.Values{"path": {path}}
	if err := c.do(ctx, http.MethodGet, nil, &result, q, "path", "permissions"); err != nil {
		return nil, err
	}
	return result.Permissions, nil
}

type availableResult struct {
	Permissions []string `json:"permissions"`
}

func (c *Client) AvailablePermissions(ctx context.Context) ([]string, error) {
	var result availableResult
	if err := c.do(ctx, http.MethodGet, nil, &result, nil, "permissions", "available"); err != nil {
		return nil, err
	}
	return result.Permissions, nil
}

func (c *Client) Chmod(ctx context.Context, perm domain.PathPermission) error {
	return c.do(ctx, http.MethodPost, perm, nil, nil, "path", "chmod")
}

type registration struct {
	Username  string `json:"username"`
	Path      string `json:"path"`
	StoreUser string `json:"irods_user"`
}

// RegisterService records a third-party service grant for the user's data.
func (c *Client) RegisterService(ctx context.Context, username, path, storeUser string) error {
	body := registration{Username: username, Path: path, StoreUser: storeUser}
	return c.do(ctx, http.MethodPost, body, nil, nil, "services", "register")
}

func (c *Client) do(ctx context.Context, method string, in, out any, query url.Values, parts ...string) error {
	u, err := url.JoinPath(c.baseURL, parts...)
	if err != nil {
		return fmt.Errorf("build object-store url: %w", err)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode object-store request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build object-store request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ErrServiceUnavailable("object store unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound("object store: %s %s", method, strings.Join(parts, "/"))
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrConflict("object store: %s %s", method, strings.Join(parts, "/"))
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.ErrUpstream(resp.StatusCode, "object store: %s %s: %s",
			method, strings.Join(parts, "/"), strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.ErrUpstream(resp.StatusCode, "decode object-store response: %v", err)
	}
	return nil
}
