// Package devauth is an in-process identity provider for local development
// and full-flow testing without a hosted identity service. It hashes secrets
// with bcrypt, issues HMAC-signed ID tokens, and delivers OOB verification
// emails through a pluggable mailer. Redeeming a code from any handle (CLI,
// browser hit on the link server, another process) behaves like the
// cross-device click the flow must detect.
package devauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dorsuconnect/verifysync/pkg/provider"
)

type account struct {
	uid         string
	email       string
	secretHash  []byte
	verified    bool
	displayName string
}

// Service implements provider.IdentityProvider in memory.
type Service struct {
	mu        sync.Mutex
	accounts  map[string]*account // by uid
	byEmail   map[string]string   // email -> uid
	codes     map[string]string   // OOB code -> uid
	listeners map[int]func(*provider.Identity)
	nextSub   int

	mailer     Mailer
	schemeBase string
	httpsBase  string
	signingKey []byte
	tokenTTL   time.Duration
}

// Option configures the dev provider.
type Option func(*Service)

// WithMailer sets the OOB email transport. Without one, verification links
// are only logged.
func WithMailer(m Mailer) Option {
	return func(s *Service) {
		s.mailer = m
	}
}

// WithLinkBases sets the custom-scheme and HTTPS bases the emailed links are
// built from.
func WithLinkBases(schemeBase, httpsBase string) Option {
	return func(s *Service) {
		s.schemeBase = schemeBase
		s.httpsBase = httpsBase
	}
}

// WithSigningKey sets the HMAC key for issued ID tokens.
func WithSigningKey(key []byte) Option {
	return func(s *Service) {
		s.signingKey = key
	}
}

// WithTokenTTL sets the ID token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.tokenTTL = ttl
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{
		accounts:   make(map[string]*account),
		byEmail:    make(map[string]string),
		codes:      make(map[string]string),
		listeners:  make(map[int]func(*provider.Identity)),
		schemeBase: "dorsuconnect://verify-email",
		httpsBase:  "https://dorsuconnect.app/verify-email",
		signingKey: []byte("devauth-local-secret"),
		tokenTTL:   time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// generateCode creates a cryptographically random URL-safe OOB code.
func generateCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Service) CreateIdentity(ctx context.Context, email, secret string) (*provider.Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.byEmail[email]; exists {
		s.mu.Unlock()
		return nil, provider.ErrEmailExists
	}
	acct := &account{
		uid:        uuid.New().String(),
		email:      email,
		secretHash: hash,
	}
	s.accounts[acct.uid] = acct
	s.byEmail[email] = acct.uid
	identity := identityOf(acct)
	s.mu.Unlock()

	slog.Info("Dev identity created", "uid", acct.uid, "email", email)
	s.emit(identity)
	return identity, nil
}

func (s *Service) SendVerificationEmail(ctx context.Context, identity *provider.Identity) error {
	s.mu.Lock()
	acct, ok := s.accounts[identity.UID]
	if !ok {
		s.mu.Unlock()
		return provider.ErrIdentityNotFound
	}
	code, err := generateCode()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.codes[code] = acct.uid
	email := acct.email
	s.mu.Unlock()

	schemeLink := fmt.Sprintf("%s?oobCode=%s&mode=verifyEmail", s.schemeBase, code)
	httpsLink := fmt.Sprintf("%s?oobCode=%s&mode=verifyEmail", s.httpsBase, code)

	if s.mailer == nil {
		slog.Info("No mailer configured, verification link not emailed",
			"email", email, "link", httpsLink)
		return nil
	}

	if err := s.mailer.SendVerification(email, schemeLink, httpsLink); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	slog.Info("Verification email sent", "email", email)
	return nil
}

func (s *Service) ApplyActionCode(ctx context.Context, code string) error {
	s.mu.Lock()
	uid, ok := s.codes[code]
	if !ok {
		s.mu.Unlock()
		// Redeemed codes are deleted, so a second redemption lands here,
		// the same ambiguity real providers expose.
		return provider.ErrInvalidActionCode
	}
	delete(s.codes, code)
	acct := s.accounts[uid]
	acct.verified = true
	identity := identityOf(acct)
	s.mu.Unlock()

	slog.Info("OOB code redeemed", "uid", uid)
	s.emit(identity)
	return nil
}

func (s *Service) Reload(ctx context.Context, identity *provider.Identity) error {
	s.mu.Lock()
	acct, ok := s.accounts[identity.UID]
	if !ok {
		s.mu.Unlock()
		return provider.ErrIdentityNotFound
	}
	identity.Email = acct.email
	identity.EmailVerified = acct.verified
	identity.DisplayName = acct.displayName
	s.mu.Unlock()
	return nil
}

func (s *Service) IDToken(ctx context.Context, identity *provider.Identity, forceRefresh bool) (string, error) {
	s.mu.Lock()
	acct, ok := s.accounts[identity.UID]
	if !ok {
		s.mu.Unlock()
		return "", provider.ErrIdentityNotFound
	}
	claims := jwt.MapClaims{
		"sub":            acct.uid,
		"email":          acct.email,
		"email_verified": acct.verified,
		"iat":            time.Now().Unix(),
		"exp":            time.Now().Add(s.tokenTTL).Unix(),
	}
	s.mu.Unlock()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, nil
}

func (s *Service) UpdateProfile(ctx context.Context, identity *provider.Identity, displayName string) error {
	s.mu.Lock()
	acct, ok := s.accounts[identity.UID]
	if !ok {
		s.mu.Unlock()
		return provider.ErrIdentityNotFound
	}
	acct.displayName = displayName
	identity.DisplayName = displayName
	updated := identityOf(acct)
	s.mu.Unlock()

	s.emit(updated)
	return nil
}

func (s *Service) OnAuthStateChange(fn func(*provider.Identity)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) emit(identity *provider.Identity) {
	s.mu.Lock()
	fns := make([]func(*provider.Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		copy := *identity
		fn(&copy)
	}
}

func identityOf(acct *account) *provider.Identity {
	return &provider.Identity{
		UID:           acct.uid,
		Email:         acct.email,
		EmailVerified: acct.verified,
		DisplayName:   acct.displayName,
	}
}
