// Package authflow is the authentication state machine: the login, signup,
// confirmation and password-reset views, the Google OAuth handshake, and
// the shared successful-auth handler that resolves the post-login redirect.
package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub-ai/agenthub/internal/api"
	"github.com/agenthub-ai/agenthub/internal/session"
)

// View is one screen of the auth flow.
type View string

const (
	ViewLogin        View = "login"
	ViewSignup       View = "signup"
	ViewConfirm      View = "confirm"
	ViewResetRequest View = "resetRequest"
	ViewResetConfirm View = "resetConfirm"
)

// defaultStateTTL bounds the round trip through the identity provider when
// no window is configured.
const defaultStateTTL = 10 * time.Minute

// Backend is the auth subset of the REST client. Satisfied by *api.Client.
type Backend interface {
	Login(ctx context.Context, email, password string) (*api.LoginResult, error)
	SignUp(ctx context.Context, email, password string) (*api.SignUpResult, error)
	ConfirmSignUp(ctx context.Context, email, code, password string) (*api.LoginResult, error)
	ResendConfirmationCode(ctx context.Context, email string) error
	PasswordResetInitiate(ctx context.Context, email string) error
	PasswordResetConfirm(ctx context.Context, email, code, newPassword string) error
	GoogleAuth(ctx context.Context, code string) (*api.GoogleAuthResult, error)
}

// CredentialSink persists the credential atomically with respect to the
// redirect that follows. Satisfied by *session.Manager.
type CredentialSink interface {
	SetCredentials(ctx context.Context, accessToken, loginID, email string) error
}

// OAuthStates persists the pending handshake's CSRF state. Satisfied by
// *store.Store.
type OAuthStates interface {
	SaveOAuthState(ctx context.Context, state string, issuedAt time.Time) error
	LoadOAuthState(ctx context.Context) (string, time.Time, error)
	ClearOAuthState(ctx context.Context) error
}

// Machine drives the auth views. Safe for concurrent use.
type Machine struct {
	log      *slog.Logger
	backend  Backend
	creds    CredentialSink
	nav      session.Navigator
	notify   session.Notifier
	intents  *IntentStore
	states   OAuthStates
	now      func() time.Time
	stateTTL time.Duration

	// googleAuthURL is the identity provider's authorization endpoint.
	googleAuthURL string
	// onAuthenticated runs after credentials are stored and before the
	// final navigation; the owning page closes its auth modal here.
	onAuthenticated func()

	mu              sync.Mutex
	view            View
	redirecting     bool
	pendingEmail    string
	pendingPassword string
	errMsg          string
	infoMsg         string
}

// Config wires a Machine.
type Config struct {
	Logger          *slog.Logger
	Backend         Backend
	Credentials     CredentialSink
	Navigator       session.Navigator
	Notifier        session.Notifier
	Intents         *IntentStore
	OAuthStates     OAuthStates
	GoogleAuthURL   string
	OnAuthenticated func()
	// StateTTL is the freshness window for the OAuth state token; zero
	// means the default ten minutes.
	StateTTL time.Duration
	// Now may be nil for time.Now.
	Now func() time.Time
}

// NewMachine creates a Machine starting on the login view.
func NewMachine(cfg Config) *Machine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.StateTTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &Machine{
		log:             cfg.Logger,
		backend:         cfg.Backend,
		creds:           cfg.Credentials,
		nav:             cfg.Navigator,
		notify:          cfg.Notifier,
		intents:         cfg.Intents,
		states:          cfg.OAuthStates,
		googleAuthURL:   cfg.GoogleAuthURL,
		onAuthenticated: cfg.OnAuthenticated,
		now:             now,
		stateTTL:        ttl,
		view:            ViewLogin,
	}
}

// View returns the current screen.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Redirecting reports whether the post-auth (or provider-bound) navigation
// overlay is active.
func (m *Machine) Redirecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redirecting
}

// ErrorMessage returns the current displayable error, empty when none.
func (m *Machine) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// InfoMessage returns the current informational banner, empty when none.
func (m *Machine) InfoMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoMsg
}

// SwitchView moves to another screen on explicit user action. Leaving the
// confirmation screen scrubs the transiently held password.
func (m *Machine) SwitchView(v View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setViewLocked(v)
}

func (m *Machine) setViewLocked(v View) {
	if m.view == ViewConfirm && v != ViewConfirm {
		m.pendingPassword = ""
	}
	m.view = v
	m.errMsg = ""
	m.infoMsg = ""
}

// Login authenticates with email and password.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	res, err := m.backend.Login(ctx, email, password)
	if err != nil {
		m.fail("login", err)
		return err
	}
	return m.finishAuth(ctx, res.AccessToken, res.LoginID, email)
}

// SignUp registers a new account. An already-registered email surfaces as
// an error and stays on the signup view; an accepted signup holds the
// password in memory for the confirmation step and moves to the
// confirmation view.
func (m *Machine) SignUp(ctx context.Context, email, password string) error {
	res, err := m.backend.SignUp(ctx, email, password)
	if err != nil {
		m.fail("signup", err)
		return err
	}
	if res.Exists() {
		err := fmt.Errorf("authflow: account already exists")
		m.mu.Lock()
		m.errMsg = "An account with this email already exists. Please log in instead."
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.pendingEmail = email
	m.pendingPassword = password
	m.view = ViewConfirm
	m.errMsg = ""
	m.infoMsg = "We sent a confirmation code to your email."
	m.mu.Unlock()
	return nil
}

// Confirm submits the emailed confirmation code together with the held
// password. A response without an access token is not an error: the account
// is confirmed but the backend wants a fresh login, so the flow returns to
// the login view with an informational message.
func (m *Machine) Confirm(ctx context.Context, code string) error {
	m.mu.Lock()
	email, password := m.pendingEmail, m.pendingPassword
	m.mu.Unlock()

	res, err := m.backend.ConfirmSignUp(ctx, email, code, password)
	if err != nil {
		m.fail("confirm", err)
		return err
	}
	if res.AccessToken == "" {
		m.mu.Lock()
		m.setViewLocked(ViewLogin)
		m.infoMsg = "Your account is confirmed. Please log in."
		m.mu.Unlock()
		return nil
	}
	return m.finishAuth(ctx, res.AccessToken, res.LoginID, email)
}

// ResendCode requests a fresh confirmation code for the pending signup.
func (m *Machine) ResendCode(ctx context.Context) error {
	m.mu.Lock()
	email := m.pendingEmail
	m.mu.Unlock()

	if err := m.backend.ResendConfirmationCode(ctx, email); err != nil {
		m.fail("resend code", err)
		return err
	}
	m.mu.Lock()
	m.infoMsg = "A new confirmation code is on its way."
	m.mu.Unlock()
	return nil
}

// RequestPasswordReset starts the two-step reset.
func (m *Machine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := m.backend.PasswordResetInitiate(ctx, email); err != nil {
		m.fail("password reset", err)
		return err
	}
	m.mu.Lock()
	m.pendingEmail = email
	m.view = ViewResetConfirm
	m.errMsg = ""
	m.infoMsg = "Check your email for a reset code."
	m.mu.Unlock()
	return nil
}

// ConfirmPasswordReset completes the reset and returns to the login view.
// It never logs the user in.
func (m *Machine) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	m.mu.Lock()
	email := m.pendingEmail
	m.mu.Unlock()

	if err := m.backend.PasswordResetConfirm(ctx, email, code, newPassword); err != nil {
		m.fail("password reset confirm", err)
		return err
	}
	m.mu.Lock()
	m.setViewLocked(ViewLogin)
	m.infoMsg = "Your password has been reset. Please log in."
	m.mu.Unlock()
	return nil
}

// BeginGoogleSignIn starts the OAuth handshake: a fresh CSRF state token is
// persisted and the whole page navigates to the identity provider.
func (m *Machine) BeginGoogleSignIn(ctx context.Context) error {
	state := uuid.NewString()
	if err := m.states.SaveOAuthState(ctx, state, m.now()); err != nil {
		m.fail("google sign-in", err)
		return err
	}

	u, err := url.Parse(m.googleAuthURL)
	if err != nil {
		m.fail("google sign-in", err)
		return err
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()

	m.mu.Lock()
	m.redirecting = true
	m.mu.Unlock()
	m.nav.Navigate(u.String())
	return nil
}

// CompleteGoogleSignIn handles the provider callback. Exactly one outcome
// applies per callback: a provider-reported error, a missing state
// parameter, a state mismatch, an expired handshake, or a valid code that
// is exchanged for credentials. The pending state is consumed either way;
// a failed attempt is terminal and must be restarted.
func (m *Machine) CompleteGoogleSignIn(ctx context.Context, query url.Values) error {
	stored, issuedAt, err := m.states.LoadOAuthState(ctx)
	if err != nil {
		m.fail("google callback", err)
		return err
	}
	if clearErr := m.states.ClearOAuthState(ctx); clearErr != nil {
		m.log.Error("authflow: clear oauth state", "error", clearErr)
	}

	switch {
	case query.Get("error") != "":
		return m.googleFailure("provider error", query.Get("error"),
			"Google sign-in was cancelled or failed. Please try again.")
	case query.Get("state") == "":
		return m.googleFailure("missing state", "",
			"The sign-in response was missing its security token. Please try again.")
	case stored == "" || query.Get("state") != stored:
		return m.googleFailure("state mismatch", "",
			"The sign-in security check failed. Please try again.")
	case m.now().Sub(issuedAt) > m.stateTTL:
		return m.googleFailure("state expired", "",
			"This sign-in attempt has expired. Please start again.")
	}

	res, err := m.backend.GoogleAuth(ctx, query.Get("code"))
	if err != nil {
		m.fail("google auth", err)
		return err
	}
	return m.finishAuth(ctx, res.AccessToken, "", res.User.Identity())
}

func (m *Machine) googleFailure(reason, detail, msg string) error {
	m.log.Warn("authflow: google callback rejected", "reason", reason, "detail", detail)
	m.mu.Lock()
	m.redirecting = false
	m.errMsg = msg
	m.mu.Unlock()
	m.notify.Error(msg)
	return fmt.Errorf("authflow: google callback: %s", reason)
}

// finishAuth is the shared successful-auth handler: store the credential,
// resolve and consume the redirect intent, close the owning modal, and
// perform a full navigation so the stored credential is in effect at the
// destination.
func (m *Machine) finishAuth(ctx context.Context, accessToken, loginID, email string) error {
	m.mu.Lock()
	m.redirecting = true
	m.pendingPassword = ""
	m.pendingEmail = ""
	m.errMsg = ""
	m.mu.Unlock()

	if err := m.creds.SetCredentials(ctx, accessToken, loginID, email); err != nil {
		m.fail("store credentials", err)
		return err
	}

	dest := m.intents.Resolve(ctx)
	if m.onAuthenticated != nil {
		m.onAuthenticated()
	}
	m.log.Info("authflow: authenticated", "email", email, "destination", dest)
	m.nav.Navigate(dest)
	return nil
}

// fail normalizes a backend failure into the displayable error slot.
func (m *Machine) fail(op string, err error) {
	msg := api.UserMessage(err)
	m.log.Error("authflow: "+op+" failed", "error", err)
	m.mu.Lock()
	m.redirecting = false
	m.errMsg = msg
	m.mu.Unlock()
}
