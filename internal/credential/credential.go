// Package credential supplies the bearer token used for remote mailbox calls.
// A token is either pushed in by the host process or pulled from a local
// auth endpoint, and is treated as stale 50 minutes after acquisition.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	// StaleAfter is how long an acquired token is served from memory.
	StaleAfter = 50 * time.Minute

	// DefaultEndpoint is the local auth service token URL.
	DefaultEndpoint = "http://localhost:3001/auth/token"

	maxTokenResponse = 64 << 10
)

// ErrUnavailable is returned when no fresh token can be obtained.
var ErrUnavailable = errors.New("credential unavailable")

// Source caches a bearer token and refreshes it from the auth endpoint when
// stale. Concurrent callers share one cached value; refreshes are not
// deduplicated.
type Source struct {
	endpoint   string
	httpClient *http.Client
	store      TokenStore
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	token    string
	acquired time.Time
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient sets the client used to reach the auth endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.httpClient = c }
}

// WithStore persists pushed tokens so a restart can reuse a still-fresh one.
func WithStore(ts TokenStore) Option {
	return func(s *Source) { s.store = ts }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// New creates a Source that refreshes from endpoint. An empty endpoint
// disables pull refresh, leaving SetCredential as the only way in.
func New(endpoint string, opts ...Option) *Source {
	s := &Source{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Credential returns a token younger than StaleAfter, refreshing from the
// auth endpoint if needed.
func (s *Source) Credential(ctx context.Context) (string, error) {
	tok, _, err := s.current(ctx)
	return tok, err
}

func (s *Source) current(ctx context.Context) (string, time.Time, error) {
	s.mu.RLock()
	tok, acquired := s.token, s.acquired
	s.mu.RUnlock()

	if tok != "" && s.fresh(acquired) {
		return tok, acquired, nil
	}

	if tok == "" && s.store != nil {
		if stored, at, err := s.store.Load(); err == nil && stored != "" && s.fresh(at) {
			s.install(stored, at)
			return stored, at, nil
		} else if err != nil && !errors.Is(err, ErrNotStored) {
			s.logger.Warn("failed to load stored credential", "error", err)
		}
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	acquired = s.now()
	s.install(tok, acquired)
	return tok, acquired, nil
}

// SetCredential installs token immediately, stamped with the current time.
func (s *Source) SetCredential(token string) {
	at := s.now()
	s.install(token, at)
	if s.store != nil {
		if err := s.store.Save(token, at); err != nil {
			s.logger.Warn("failed to persist credential", "error", err)
		}
	}
}

// Invalidate drops the cached and stored token so the next call refreshes
// from the auth endpoint.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.acquired = time.Time{}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(); err != nil {
			s.logger.Warn("failed to delete stored credential", "error", err)
		}
	}
}

// Acquired returns when the cached token was obtained. Zero if none.
func (s *Source) Acquired() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acquired
}

// Token implements oauth2.TokenSource.
func (s *Source) Token() (*oauth2.Token, error) {
	tok, acquired, err := s.current(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok,
		TokenType:   "Bearer",
		Expiry:      acquired.Add(StaleAfter),
	}, nil
}

var _ oauth2.TokenSource = (*Source)(nil)

func (s *Source) install(token string, at time.Time) {
	s.mu.Lock()
	s.token = token
	s.acquired = at
	s.mu.Unlock()
}

func (s *Source) fresh(at time.Time) bool {
	return s.now().Sub(at) < StaleAfter
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

func (s *Source) fetch(ctx context.Context) (string, error) {
	if s.endpoint == "" {
		return "", fmt.Errorf("%w: no auth endpoint configured", ErrUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: auth endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponse)).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: parse token response: %w", ErrUnavailable, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: auth endpoint returned no token", ErrUnavailable)
	}

	s.logger.Debug("refreshed credential from auth endpoint")
	return body.AccessToken, nil
}
