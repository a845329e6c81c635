package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// userAgent is sent on every outbound request to amoCRM.
const userAgent = "amosheets/1.0"

// RefreshResult reports how a Refresh call concluded.
type RefreshResult int

const (
	// RefreshOK means a new token pair was obtained and swapped in.
	RefreshOK RefreshResult = iota
	// RefreshSkipped means another refresh was already in flight; this call
	// was a no-op and the caller should not treat it as a failure.
	RefreshSkipped
	// RefreshFailed means the refresh attempt failed; prior tokens are intact.
	RefreshFailed
)

// String returns a log-friendly name for the result.
func (r RefreshResult) String() string {
	switch r {
	case RefreshOK:
		return "ok"
	case RefreshSkipped:
		return "skipped"
	case RefreshFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a read-only snapshot of the manager's state.
// It never carries raw token values.
type Status struct {
	LastRefresh     *time.Time `json:"last_refresh"`
	NextRefresh     *time.Time `json:"next_refresh"`
	InProgress      bool       `json:"refresh_in_progress"`
	ShouldRefresh   bool       `json:"should_refresh"`
	HasAccessToken  bool       `json:"has_access_token"`
	HasRefreshToken bool       `json:"has_refresh_token"`
}

// Options configures a Manager.
type Options struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AccessToken  string // initial token from config, may be empty
	RefreshToken string

	// RefreshLead is how long before expiry ShouldRefresh starts returning true.
	RefreshLead time.Duration
	// HTTPClient overrides the default 30s-timeout client (tests).
	HTTPClient *http.Client
	// BaseURL overrides the token endpoint origin (tests). When empty the
	// endpoint is derived from Domain.
	BaseURL string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Manager owns the amoCRM OAuth token pair and its refresh lifecycle.
// Refresh is single-flight: concurrent callers collapse into one in-flight
// refresh, the rest observe RefreshSkipped. All other components read the
// current access token through AccessToken and never touch raw state.
type Manager struct {
	clientID     string
	clientSecret string
	redirectURI  string
	endpoint     string
	refreshLead  time.Duration
	httpClient   *http.Client
	now          func() time.Time

	inProgress atomic.Bool

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	lastRefresh  *time.Time
	nextRefresh  *time.Time
}

// NewManager creates a token manager seeded with the configured token pair.
func NewManager(opts Options) *Manager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lead := opts.RefreshLead
	if lead <= 0 {
		lead = time.Hour
	}
	base := opts.BaseURL
	if base == "" {
		base = "https://" + opts.Domain
	}
	return &Manager{
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		redirectURI:  opts.RedirectURI,
		endpoint:     base + "/oauth2/access_token",
		refreshLead:  lead,
		httpClient:   httpClient,
		now:          now,
		accessToken:  opts.AccessToken,
		refreshToken: opts.RefreshToken,
	}
}

// refreshRequest is the token endpoint request body.
type refreshRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	RedirectURI  string `json:"redirect_uri"`
}

// refreshResponse is the token endpoint response body.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh exchanges the current refresh token for a new token pair.
// Returns RefreshSkipped when another refresh is already in flight.
// On failure the prior tokens are left untouched and the error describes
// the failure; the in-progress flag is always cleared on exit.
func (m *Manager) Refresh(ctx context.Context) (RefreshResult, error) {
	if !m.inProgress.CompareAndSwap(false, true) {
		slog.Info("token refresh already in progress, skipping", "component", "token")
		return RefreshSkipped, nil
	}
	defer m.inProgress.Store(false)

	m.mu.RLock()
	refreshToken := m.refreshToken
	m.mu.RUnlock()

	if refreshToken == "" {
		return RefreshFailed, fmt.Errorf("no refresh token available")
	}

	body, err := json.Marshal(refreshRequest{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		RedirectURI:  m.redirectURI,
	})
	if err != nil {
		return RefreshFailed, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return RefreshFailed, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		slog.Error("token refresh request failed", "component", "token", "error", err)
		return RefreshFailed, fmt.Errorf("token refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("token endpoint returned error",
			"component", "token",
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return RefreshFailed, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return RefreshFailed, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return RefreshFailed, fmt.Errorf("token response missing access_token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 86400
	}

	now := m.now()
	next := now.Add(time.Duration(expiresIn) * time.Second)

	m.mu.Lock()
	m.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		m.refreshToken = tr.RefreshToken
	}
	m.lastRefresh = &now
	m.nextRefresh = &next
	m.mu.Unlock()

	slog.Info("token refreshed",
		"component", "token",
		"expires_in", expiresIn,
		"next_refresh", next.Format(time.RFC3339),
	)
	return RefreshOK, nil
}

// ShouldRefresh reports whether a refresh is due: no known expiry, or the
// current time is within the lead window of it.
func (m *Manager) ShouldRefresh() bool {
	m.mu.RLock()
	next := m.nextRefresh
	m.mu.RUnlock()

	if next == nil {
		return true
	}
	return !m.now().Before(next.Add(-m.refreshLead))
}

// LastRefresh returns when the last successful refresh happened, if ever.
func (m *Manager) LastRefresh() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRefresh
}

// AccessToken returns the current access token for outbound CRM calls.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

// Status returns a snapshot of the manager's state without token values.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{
		LastRefresh:     m.lastRefresh,
		NextRefresh:     m.nextRefresh,
		HasAccessToken:  m.accessToken != "",
		HasRefreshToken: m.refreshToken != "",
	}
	m.mu.RUnlock()
	st.InProgress = m.inProgress.Load()
	st.ShouldRefresh = m.ShouldRefresh()
	return st
}
