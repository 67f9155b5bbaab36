// Package transport implements the HTTP client for the lingsync API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avkdev/lingsync/internal/api"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
)

// Client talks to a lingsync server over JSON/HTTP.
type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

// New constructs a client for the given base URL (e.g. http://localhost:8080).
func New(base string, log *zap.Logger) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// do sends one JSON request and decodes the response into out (if non-nil).
// Transport-level failures and 5xx map to errs.ErrUnavailable; 4xx map to the
// matching sentinel with the server's error message attached.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var apierr api.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apierr)
	msg := apierr.Error
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", errs.ErrValidation, msg)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", errs.ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", errs.ErrNotFound, msg)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", errs.ErrAlreadyExists, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", errs.ErrRateLimited, msg)
	default:
		return fmt.Errorf("%w: %s", errs.ErrUnavailable, msg)
	}
}

// Register creates an account and returns the user id.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var out api.RegisterResponse
	err := c.do(ctx, http.MethodPost, "/register", "", api.RegisterRequest{Username: username, Password: password}, &out)
	return out.UserID, err
}

// Login authenticates and returns the issued token pair plus the user id.
func (c *Client) Login(ctx context.Context, username, password string) (model.Tokens, string, error) {
	var out api.LoginResponse
	err := c.do(ctx, http.MethodPost, "/login", "", api.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return model.Tokens{}, "", err
	}
	return model.Tokens{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    out.ExpiresAt,
	}, out.UserID, nil
}

// Refresh exchanges the refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	var out api.RefreshResponse
	err := c.do(ctx, http.MethodPost, "/refresh", "", api.RefreshRequest{RefreshToken: refreshToken}, &out)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    out.ExpiresAt,
	}, nil
}

// CreateLanguage enrolls the user in a course and makes it current.
func (c *Client) CreateLanguage(ctx context.Context, bearer string, req api.LanguageRequest) (int64, error) {
	var out api.LanguageResponse
	err := c.do(ctx, http.MethodPost, "/languages", bearer, req, &out)
	return out.UserLanguagesID, err
}

// Logout revokes the refresh token server-side. Best effort: the caller
// drops local tokens regardless.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", "", api.RefreshRequest{RefreshToken: refreshToken}, nil)
}

// Sync flushes one envelope.
func (c *Client) Sync(ctx context.Context, bearer string, req *api.SyncRequest) (*api.SyncResponse, error) {
	var out api.SyncResponse
	if err := c.do(ctx, http.MethodPut, "/sync", bearer, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping probes server reachability via the unauthenticated health endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
