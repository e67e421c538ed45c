package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kinsi/kinsi/internal/shared"
)

const maxBodyBytes = 1 << 20

// Paths lists the identity API endpoints relative to the base URL.
type Paths struct {
	Login       string
	Register    string
	GoogleLogin string
	Me          string
	Logout      string
}

// DefaultPaths returns the endpoint layout of the KINSI API.
func DefaultPaths() Paths {
	return Paths{
		Login:       "/login",
		Register:    "/register",
		GoogleLogin: "/google-login",
		Me:          "/me",
		Logout:      "/logout",
	}
}

// Client wraps interactions with the identity API.
type Client struct {
	baseURL    string
	paths      Paths
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPaths overrides endpoint paths. Empty fields keep their defaults.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		if p.Login != "" {
			c.paths.Login = p.Login
		}
		if p.Register != "" {
			c.paths.Register = p.Register
		}
		if p.GoogleLogin != "" {
			c.paths.GoogleLogin = p.GoogleLogin
		}
		if p.Me != "" {
			c.paths.Me = p.Me
		}
		if p.Logout != "" {
			c.paths.Logout = p.Logout
		}
	}
}

// NewClient constructs a new client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   DefaultPaths(),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login posts email/password credentials.
func (c *Client) Login(ctx context.Context, email, password string) (*Envelope, error) {
	body := map[string]string{"email": email, "password": password}
	var env Envelope
	if err := c.do(ctx, http.MethodPost, c.paths.Login, "", body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Register posts a registration payload. Some backends answer without an access token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Envelope, error) {
	var env Envelope
	if err := c.do(ctx, http.MethodPost, c.paths.Register, "", req, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// GoogleLogin exchanges a Google-issued identity token for a local session.
func (c *Client) GoogleLogin(ctx context.Context, providerToken string) (*Envelope, error) {
	body := map[string]string{"token": providerToken}
	var env Envelope
	if err := c.do(ctx, http.MethodPost, c.paths.GoogleLogin, "", body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Me resolves the account that owns token.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var payload struct {
		User
		Nested *User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, c.paths.Me, token, nil, &payload); err != nil {
		return nil, err
	}
	if payload.Nested != nil {
		return payload.Nested, nil
	}
	user := payload.User
	return &user, nil
}

// Logout revokes token on the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, c.paths.Logout, token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("identity: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("identity: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %s %s: %w: %w", method, path, shared.ErrNetwork, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("identity: read %s: %w: %w", path, shared.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		if out != nil {
			return ErrMalformed
		}
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}
