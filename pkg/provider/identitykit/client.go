// Package identitykit implements the identity provider against a hosted
// Identity Toolkit style REST API: accounts:signUp, accounts:sendOobCode,
// accounts:update, accounts:lookup, and the secure-token refresh endpoint.
package identitykit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dorsuconnect/verifysync/pkg/provider"
)

const (
	signUpPath      = "/v1/accounts:signUp"
	sendOobCodePath = "/v1/accounts:sendOobCode"
	updatePath      = "/v1/accounts:update"
	lookupPath      = "/v1/accounts:lookup"
	tokenPath       = "/v1/token"
)

// session holds the tokens issued for one identity. The ID token is cached
// until close to expiry; forceRefresh bypasses the cache.
type session struct {
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

// Client talks to the identity API. It satisfies provider.IdentityProvider.
type Client struct {
	baseURL    string
	tokenURL   string
	apiKey     string
	httpClient *http.Client

	mu        sync.Mutex
	sessions  map[string]*session // by uid
	listeners map[int]func(*provider.Identity)
	nextSub   int
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenURL points token refresh at a separate host. Defaults to the
// API base.
func WithTokenURL(u string) Option {
	return func(c *Client) {
		c.tokenURL = strings.TrimRight(u, "/")
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessions:   make(map[string]*session),
		listeners:  make(map[int]func(*provider.Identity)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokenURL == "" {
		c.tokenURL = c.baseURL
	}
	return c
}

type signUpRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signUpResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (c *Client) CreateIdentity(ctx context.Context, email, secret string) (*provider.Identity, error) {
	var resp signUpResponse
	err := c.post(ctx, c.baseURL+signUpPath, signUpRequest{
		Email:             email,
		Password:          secret,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[resp.LocalID] = &session{
		idToken:      resp.IDToken,
		refreshToken: resp.RefreshToken,
		expiresAt:    expiryFrom(resp.ExpiresIn),
	}
	c.mu.Unlock()

	identity := &provider.Identity{UID: resp.LocalID, Email: resp.Email}
	slog.Info("Identity created", "uid", identity.UID, "email", email)
	c.emit(identity)
	return identity, nil
}

type sendOobCodeRequest struct {
	RequestType string `json:"requestType"`
	IDToken     string `json:"idToken"`
}

func (c *Client) SendVerificationEmail(ctx context.Context, identity *provider.Identity) error {
	token, err := c.IDToken(ctx, identity, false)
	if err != nil {
		return err
	}
	err = c.post(ctx, c.baseURL+sendOobCodePath, sendOobCodeRequest{
		RequestType: "VERIFY_EMAIL",
		IDToken:     token,
	}, nil)
	if err != nil {
		return err
	}
	slog.Info("Verification email requested", "uid", identity.UID)
	return nil
}

type applyCodeRequest struct {
	OobCode string `json:"oobCode"`
}

func (c *Client) ApplyActionCode(ctx context.Context, code string) error {
	return c.post(ctx, c.baseURL+updatePath, applyCodeRequest{OobCode: code}, nil)
}

type lookupRequest struct {
	IDToken string `json:"idToken"`
}

type lookupResponse struct {
	Users []struct {
		LocalID       string `json:"localId"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"emailVerified"`
		DisplayName   string `json:"displayName"`
	} `json:"users"`
}

func (c *Client) Reload(ctx context.Context, identity *provider.Identity) error {
	token, err := c.IDToken(ctx, identity, false)
	if err != nil {
		return err
	}
	var resp lookupResponse
	if err := c.post(ctx, c.baseURL+lookupPath, lookupRequest{IDToken: token}, &resp); err != nil {
		return err
	}
	if len(resp.Users) == 0 {
		return provider.ErrIdentityNotFound
	}
	u := resp.Users[0]
	identity.Email = u.Email
	identity.EmailVerified = u.EmailVerified
	identity.DisplayName = u.DisplayName
	return nil
}

type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

func (c *Client) IDToken(ctx context.Context, identity *provider.Identity, forceRefresh bool) (string, error) {
	c.mu.Lock()
	sess, ok := c.sessions[identity.UID]
	if !ok {
		c.mu.Unlock()
		return "", provider.ErrIdentityNotFound
	}
	if !forceRefresh && time.Until(sess.expiresAt) > time.Minute {
		token := sess.idToken
		c.mu.Unlock()
		return token, nil
	}
	refreshToken := sess.refreshToken
	c.mu.Unlock()

	var resp refreshResponse
	err := c.post(ctx, c.tokenURL+tokenPath, refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	}, &resp)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	sess.idToken = resp.IDToken
	if resp.RefreshToken != "" {
		sess.refreshToken = resp.RefreshToken
	}
	sess.expiresAt = expiryFrom(resp.ExpiresIn)
	c.mu.Unlock()

	return resp.IDToken, nil
}

type updateProfileRequest struct {
	IDToken           string `json:"idToken"`
	DisplayName       string `json:"displayName"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

func (c *Client) UpdateProfile(ctx context.Context, identity *provider.Identity, displayName string) error {
	token, err := c.IDToken(ctx, identity, false)
	if err != nil {
		return err
	}
	err = c.post(ctx, c.baseURL+updatePath, updateProfileRequest{
		IDToken:     token,
		DisplayName: displayName,
	}, nil)
	if err != nil {
		return err
	}
	identity.DisplayName = displayName
	c.emit(identity)
	return nil
}

// OnAuthStateChange registers a local listener. The REST API has no push
// channel, so only mutations made through this client fire it.
func (c *Client) OnAuthStateChange(fn func(*provider.Identity)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) emit(identity *provider.Identity) {
	c.mu.Lock()
	fns := make([]func(*provider.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		copy := *identity
		fn(&copy)
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// post issues a JSON POST and decodes the response into out when non-nil.
// Wire errors are mapped onto the provider sentinels so callers can classify
// them without knowing the API's message vocabulary.
func (c *Client) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	if c.apiKey != "" {
		url = url + "?key=" + c.apiKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", provider.ErrTransient, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: server returned %d", provider.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		return mapAPIError(ae.Error.Message, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func mapAPIError(message string, status int) error {
	// Messages can carry a suffix, e.g. "EMAIL_EXISTS : already in use".
	code := message
	if i := strings.IndexAny(message, " :"); i > 0 {
		code = message[:i]
	}
	switch code {
	case "INVALID_OOB_CODE":
		return provider.ErrInvalidActionCode
	case "EXPIRED_OOB_CODE":
		return provider.ErrExpiredActionCode
	case "EMAIL_EXISTS":
		return provider.ErrEmailExists
	case "USER_NOT_FOUND", "INVALID_ID_TOKEN":
		return provider.ErrIdentityNotFound
	case "":
		return fmt.Errorf("identity api returned %d", status)
	default:
		return fmt.Errorf("identity api error: %s", message)
	}
}

func expiryFrom(expiresIn string) time.Time {
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	return time.Now().Add(time.Duration(secs) * time.Second)
}
