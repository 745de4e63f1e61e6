// Package session manages the client's credential cookies and the shared
// session-expiry path. Cookies are process-wide (shared across tabs) and are
// mirrored to the durable store so neither a restart nor the full-page hop
// of an OAuth redirect drops them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agenthub-ai/agenthub/internal/store"
)

// Cookie names, path-scoped to "/".
const (
	CookieAccessToken = "access_token"
	CookieLoginID     = "login_id"
	CookieUserEmail   = "userEmail"
)

// LoginPath is the destination of the session-expired hard navigation.
const LoginPath = "/login"

const (
	defaultTokenTTL = time.Hour
	identityTTL     = 7 * 24 * time.Hour
)

// Navigator performs a full navigation (not a client-side route swap), so
// cookie changes are guaranteed to be applied before the next page loads.
type Navigator interface {
	Navigate(url string)
}

// Notifier surfaces a user-visible message outside any particular control.
type Notifier interface {
	Info(message string)
	Error(message string)
}

// Manager owns the credential cookies. All methods are safe for concurrent
// use; writes are applied to memory and the durable store under one lock so
// no reader observes a half-written credential set.
type Manager struct {
	log     *slog.Logger
	durable *store.Store
	nav     Navigator
	notify  Notifier
	now     func() time.Time

	mu      sync.Mutex
	cookies map[string]store.CookieRecord
}

// NewManager creates a Manager and restores any persisted cookie snapshot.
func NewManager(ctx context.Context, logger *slog.Logger, durable *store.Store, nav Navigator, notify Notifier, now func() time.Time) (*Manager, error) {
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		log:     logger,
		durable: durable,
		nav:     nav,
		notify:  notify,
		now:     now,
		cookies: make(map[string]store.CookieRecord),
	}
	recs, err := durable.LoadCookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: restore cookies: %w", err)
	}
	for _, rec := range recs {
		m.cookies[rec.Name] = rec
	}
	return m, nil
}

// SetCredentials stores the access token and identity markers after a
// successful authentication. The token cookie expires at the JWT exp claim
// when the token is parseable, else after one hour; identity cookies last
// seven days.
func (m *Manager) SetCredentials(ctx context.Context, accessToken, loginID, email string) error {
	now := m.now()
	recs := []store.CookieRecord{
		{Name: CookieAccessToken, Value: accessToken, Path: "/", Expires: tokenExpiry(accessToken, now)},
		{Name: CookieLoginID, Value: loginID, Path: "/", Expires: now.Add(identityTTL)},
		{Name: CookieUserEmail, Value: email, Path: "/", Expires: now.Add(identityTTL)},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		if err := m.durable.SaveCookie(ctx, rec); err != nil {
			return fmt.Errorf("session: persist %s: %w", rec.Name, err)
		}
		m.cookies[rec.Name] = rec
	}
	m.log.Info("session: credentials stored", "email", email)
	return nil
}

// AccessToken returns the current access token if present and unexpired.
func (m *Manager) AccessToken() (string, bool) {
	return m.cookie(CookieAccessToken)
}

// Email returns the persisted user email, if any.
func (m *Manager) Email() string {
	v, _ := m.cookie(CookieUserEmail)
	return v
}

// LoginID returns the persisted login id, if any.
func (m *Manager) LoginID() string {
	v, _ := m.cookie(CookieLoginID)
	return v
}

func (m *Manager) cookie(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cookies[name]
	if !ok || rec.Value == "" || !m.now().Before(rec.Expires) {
		return "", false
	}
	return rec.Value, true
}

// Clear removes all credential cookies from memory and the durable store.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked(ctx)
}

func (m *Manager) clearLocked(ctx context.Context) error {
	for _, name := range []string{CookieAccessToken, CookieLoginID, CookieUserEmail} {
		if err := m.durable.DeleteCookie(ctx, name); err != nil {
			return fmt.Errorf("session: clear: %w", err)
		}
		delete(m.cookies, name)
	}
	return nil
}

// Expire runs the shared session-expiry path: clear the credential, notify
// the user, and hard-navigate to the login entry point. Every 401 outside
// the auth flow itself lands here, regardless of which call produced it.
func (m *Manager) Expire(ctx context.Context, reason string) {
	m.mu.Lock()
	if err := m.clearLocked(ctx); err != nil {
		m.log.Error("session: expire cleanup failed", "error", err)
	}
	m.mu.Unlock()

	m.log.Info("session: expired", "reason", reason)
	m.notify.Error("Your session has expired. Please log in again.")
	m.nav.Navigate(LoginPath)
}

// tokenExpiry derives the cookie expiry from the JWT exp claim. The client
// holds no verification key, so the token is parsed unverified; expiry here
// only controls when the client stops sending it.
func tokenExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(defaultTokenTTL)
}
