// Package auth acquires and caches bearer tokens for the catalog service
// using the OAuth2 client-credentials grant.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultExpiryMargin is how long before nominal expiry a cached token
	// stops being handed out.
	DefaultExpiryMargin = 5 * time.Minute

	defaultRequestTimeout = 30 * time.Second
	defaultTokenLifetime  = time.Hour
	maxErrorDetailLen     = 200
	maxTokenAttempts      = 3
)

// TokenProvider is the bearer-token dependency of the catalog client.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

type Config struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	HTTPClient   *http.Client
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string

	// Optional with defaults.
	ExpiryMargin time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if c.TokenURL == "" {
		return errors.New("token URL is required")
	}
	if c.ClientID == "" {
		return errors.New("client ID is required")
	}
	if c.ClientSecret == "" {
		return errors.New("client secret is required")
	}

	if c.ExpiryMargin == 0 {
		c.ExpiryMargin = DefaultExpiryMargin
	}
	if c.ExpiryMargin < 0 {
		return errors.New("expiry margin must be >= 0")
	}

	return nil
}

// Manager fetches tokens from the token endpoint and caches them until expiry
// minus the configured margin. Acquisition is single-flight.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Manager{
		cfg: cfg,
		log: cfg.Logger.With("component", "auth"),
	}, nil
}

// AccessToken returns the cached token while it stays valid past the expiry
// margin, otherwise fetches a fresh one.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock.Now()
	if m.token != "" && m.expiresAt.After(now.Add(m.cfg.ExpiryMargin)) {
		m.log.Debug("Using cached access token", "expires_at", m.expiresAt)
		return m.token, nil
	}

	tok, err := m.fetch(ctx)
	if err != nil {
		return "", err
	}

	m.token = tok.accessToken
	m.expiresAt = now.Add(tok.lifetime)
	m.log.Info("Acquired access token", "expires_at", m.expiresAt)
	return m.token, nil
}

// Status reports configuration and cache state for the validation surfaces.
// It never exposes the token itself.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock.Now()
	return Status{
		Configured:  true,
		TokenCached: m.token != "",
		TokenValid:  m.token != "" && m.expiresAt.After(now.Add(m.cfg.ExpiryMargin)),
		ExpiresAt:   m.expiresAt,
	}
}

type Status struct {
	Configured  bool      `json:"configured"`
	TokenCached bool      `json:"token_cached"`
	TokenValid  bool      `json:"token_valid"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type fetchedToken struct {
	accessToken string
	lifetime    time.Duration
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (tr tokenResponse) errorMessage() string {
	if tr.ErrorDescription != "" {
		return tr.ErrorDescription
	}
	return tr.Error
}

// fetch retries transient transport failures with exponential backoff.
// Credential rejections are permanent and fail immediately.
func (m *Manager) fetch(ctx context.Context) (fetchedToken, error) {
	attempt := 1
	tok, err := backoff.Retry(ctx, func() (fetchedToken, error) {
		if attempt > 1 {
			m.log.Warn("Token acquisition failed, retrying", "attempt", attempt)
		}
		attempt++
		return m.requestToken(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTokenAttempts))
	if err != nil {
		return fetchedToken{}, fmt.Errorf("acquire token: %w", err)
	}
	return tok, nil
}

func (m *Manager) requestToken(ctx context.Context) (fetchedToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	if m.cfg.Scope != "" {
		form.Set("scope", m.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fetchedToken{}, backoff.Permanent(fmt.Errorf("build token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return fetchedToken{}, fmt.Errorf("post token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fetchedToken{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		var tr tokenResponse
		if jsonErr := json.Unmarshal(body, &tr); jsonErr == nil && tr.errorMessage() != "" {
			detail = tr.errorMessage()
		}
		if len(detail) > maxErrorDetailLen {
			detail = detail[:maxErrorDetailLen]
		}
		statusErr := fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, detail)
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fetchedToken{}, backoff.Permanent(statusErr)
		}
		return fetchedToken{}, statusErr
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fetchedToken{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return fetchedToken{}, backoff.Permanent(errors.New("token response missing access_token"))
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return fetchedToken{accessToken: tr.AccessToken, lifetime: lifetime}, nil
}
