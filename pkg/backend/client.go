// Package backend talks to the account backend's registration endpoint. The
// endpoint is not idempotent, so the client never retries on its own; a
// failed sync is surfaced to the flow for the user to retry manually.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jinzhu/copier"
)

// ErrSyncFailed is returned when the backend rejects or fails the
// registration call.
var ErrSyncFailed = errors.New("backend sync failed")

const registerPath = "/api/auth/register-firebase"

// Client calls the backend registration endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// User is the backend's view of the registered account.
type User struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// RegisterResult is the outcome of a successful registration.
type RegisterResult struct {
	Token          string
	User           User
	SessionExpires *time.Time // from the session token's exp claim, if readable
}

type registerResponse struct {
	Token string `json:"token"`
	User  struct {
		ID       string `json:"id"`
		Role     string `json:"role"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Register exchanges the identity provider's ID token for a backend session
// and upserts the user record. Called at most once per verification flow and
// never retried automatically.
func (c *Client) Register(ctx context.Context, idToken string, req RegisterRequest) (*RegisterResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal register request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build register request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+idToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrSyncFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		msg := ""
		if json.Unmarshal(data, &apiErr) == nil {
			if apiErr.Error != "" {
				msg = apiErr.Error
			} else {
				msg = apiErr.Message
			}
		}
		slog.Error("Backend registration rejected", "status", resp.StatusCode, "message", msg)
		if msg == "" {
			return nil, fmt.Errorf("%w: status %d", ErrSyncFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrSyncFailed, resp.StatusCode, msg)
	}

	var wire registerResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrSyncFailed, err)
	}

	result := &RegisterResult{Token: wire.Token}
	if err := copier.Copy(&result.User, &wire.User); err != nil {
		return nil, fmt.Errorf("failed to map user record: %w", err)
	}
	result.SessionExpires = tokenExpiry(wire.Token)

	slog.Info("Backend registration completed",
		"user_id", result.User.ID, "username", result.User.Username, "role", result.User.Role)
	return result, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the client
// holds no backend signing key and only needs the expiry for scheduling.
func tokenExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		slog.Warn("Session token is not a readable JWT", "error", err)
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}
