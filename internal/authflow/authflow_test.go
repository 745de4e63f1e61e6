package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/internal/api"
	"github.com/agenthub-ai/agenthub/internal/store"
)

type fakeBackend struct {
	loginRes   *api.LoginResult
	loginErr   error
	signupRes  *api.SignUpResult
	signupErr  error
	confirmRes *api.LoginResult
	confirmErr error
	googleRes  *api.GoogleAuthResult
	googleErr  error
	resendErr  error

	confirmEmail    string
	confirmPassword string
	googleCode      string
	googleCalls     int
	resetEmail      string
	resetNewPass    string
}

func (b *fakeBackend) Login(ctx context.Context, email, password string) (*api.LoginResult, error) {
	return b.loginRes, b.loginErr
}

func (b *fakeBackend) SignUp(ctx context.Context, email, password string) (*api.SignUpResult, error) {
	return b.signupRes, b.signupErr
}

func (b *fakeBackend) ConfirmSignUp(ctx context.Context, email, code, password string) (*api.LoginResult, error) {
	b.confirmEmail, b.confirmPassword = email, password
	return b.confirmRes, b.confirmErr
}

func (b *fakeBackend) ResendConfirmationCode(ctx context.Context, email string) error {
	return b.resendErr
}

func (b *fakeBackend) PasswordResetInitiate(ctx context.Context, email string) error {
	b.resetEmail = email
	return nil
}

func (b *fakeBackend) PasswordResetConfirm(ctx context.Context, email, code, newPassword string) error {
	b.resetEmail, b.resetNewPass = email, newPassword
	return nil
}

func (b *fakeBackend) GoogleAuth(ctx context.Context, code string) (*api.GoogleAuthResult, error) {
	b.googleCode = code
	b.googleCalls++
	return b.googleRes, b.googleErr
}

type fakeCreds struct {
	token, loginID, email string
	calls                 int
	err                   error
}

func (c *fakeCreds) SetCredentials(ctx context.Context, accessToken, loginID, email string) error {
	c.calls++
	c.token, c.loginID, c.email = accessToken, loginID, email
	return c.err
}

type fakeNav struct{ urls []string }

func (n *fakeNav) Navigate(url string) { n.urls = append(n.urls, url) }

type fakeNotify struct{ infos, errors []string }

func (n *fakeNotify) Info(msg string)  { n.infos = append(n.infos, msg) }
func (n *fakeNotify) Error(msg string) { n.errors = append(n.errors, msg) }

type fixture struct {
	machine *Machine
	backend *fakeBackend
	creds   *fakeCreds
	nav     *fakeNav
	notify  *fakeNotify
	store   *store.Store
	intents *IntentStore
	now     time.Time
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		backend: &fakeBackend{},
		creds:   &fakeCreds{},
		nav:     &fakeNav{},
		notify:  &fakeNotify{},
		store:   s,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.intents = NewIntentStore(slog.Default(), s, func() time.Time { return f.now })
	cfg := Config{
		Logger:        slog.Default(),
		Backend:       f.backend,
		Credentials:   f.creds,
		Navigator:     f.nav,
		Notifier:      f.notify,
		Intents:       f.intents,
		OAuthStates:   s,
		GoogleAuthURL: "https://accounts.example.com/o/oauth2/auth?client_id=agenthub",
		Now:           func() time.Time { return f.now },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.machine = NewMachine(cfg)
	return f
}

func TestLoginSuccessNavigatesToDefault(t *testing.T) {
	f := newFixture(t)
	f.backend.loginRes = &api.LoginResult{AccessToken: "tok-1", LoginID: "login-1"}

	require.NoError(t, f.machine.Login(context.Background(), "u@example.com", "pw"))

	assert.Equal(t, 1, f.creds.calls)
	assert.Equal(t, "tok-1", f.creds.token)
	assert.Equal(t, "login-1", f.creds.loginID)
	assert.Equal(t, "u@example.com", f.creds.email)
	require.Len(t, f.nav.urls, 1)
	assert.Equal(t, DefaultDestination, f.nav.urls[0])
	assert.True(t, f.machine.Redirecting())
}

func TestLoginFailureSetsMessageOnly(t *testing.T) {
	f := newFixture(t)
	f.backend.loginErr = &api.Error{StatusCode: 400, Message: "Incorrect email or password."}

	require.Error(t, f.machine.Login(context.Background(), "u@example.com", "bad"))

	assert.Equal(t, "Incorrect email or password.", f.machine.ErrorMessage())
	assert.Zero(t, f.creds.calls)
	assert.Empty(t, f.nav.urls)
	assert.False(t, f.machine.Redirecting())
}

func TestSignUpExistingAccountStaysOnSignup(t *testing.T) {
	f := newFixture(t)
	f.machine.SwitchView(ViewSignup)
	f.backend.signupRes = &api.SignUpResult{Status: "exists", Message: "already registered"}

	require.Error(t, f.machine.SignUp(context.Background(), "u@example.com", "pw"))

	assert.Equal(t, ViewSignup, f.machine.View())
	assert.Contains(t, f.machine.ErrorMessage(), "already exists")
}

func TestSignUpThenConfirmUsesHeldPassword(t *testing.T) {
	f := newFixture(t)
	f.machine.SwitchView(ViewSignup)
	f.backend.signupRes = &api.SignUpResult{Status: "ok"}
	f.backend.confirmRes = &api.LoginResult{AccessToken: "tok-2", LoginID: "login-2"}

	require.NoError(t, f.machine.SignUp(context.Background(), "u@example.com", "secret-pw"))
	assert.Equal(t, ViewConfirm, f.machine.View())
	assert.NotEmpty(t, f.machine.InfoMessage())

	require.NoError(t, f.machine.Confirm(context.Background(), "123456"))
	assert.Equal(t, "u@example.com", f.backend.confirmEmail)
	assert.Equal(t, "secret-pw", f.backend.confirmPassword)
	assert.Equal(t, "tok-2", f.creds.token)
	require.Len(t, f.nav.urls, 1)
}

func TestLeavingConfirmScrubsHeldPassword(t *testing.T) {
	f := newFixture(t)
	f.machine.SwitchView(ViewSignup)
	f.backend.signupRes = &api.SignUpResult{Status: "ok"}
	f.backend.confirmRes = &api.LoginResult{AccessToken: "tok"}
	require.NoError(t, f.machine.SignUp(context.Background(), "u@example.com", "secret-pw"))

	f.machine.SwitchView(ViewLogin)
	f.machine.SwitchView(ViewConfirm)

	require.NoError(t, f.machine.Confirm(context.Background(), "123456"))
	assert.Empty(t, f.backend.confirmPassword, "password must not survive leaving the confirm view")
}

func TestConfirmWithoutTokenFallsBackToLogin(t *testing.T) {
	f := newFixture(t)
	f.machine.SwitchView(ViewSignup)
	f.backend.signupRes = &api.SignUpResult{Status: "ok"}
	f.backend.confirmRes = &api.LoginResult{}
	require.NoError(t, f.machine.SignUp(context.Background(), "u@example.com", "pw"))

	require.NoError(t, f.machine.Confirm(context.Background(), "123456"))

	assert.Equal(t, ViewLogin, f.machine.View())
	assert.Contains(t, f.machine.InfoMessage(), "Please log in")
	assert.Zero(t, f.creds.calls)
	assert.Empty(t, f.nav.urls)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	f.machine.SwitchView(ViewResetRequest)

	require.NoError(t, f.machine.RequestPasswordReset(context.Background(), "u@example.com"))
	assert.Equal(t, ViewResetConfirm, f.machine.View())

	require.NoError(t, f.machine.ConfirmPasswordReset(context.Background(), "999999", "new-pw"))
	assert.Equal(t, ViewLogin, f.machine.View())
	assert.Contains(t, f.machine.InfoMessage(), "reset")
	assert.Equal(t, "u@example.com", f.backend.resetEmail)
	assert.Equal(t, "new-pw", f.backend.resetNewPass)
	assert.Zero(t, f.creds.calls, "reset never auto-logs-in")
	assert.Empty(t, f.nav.urls)
}

func TestGoogleSignInRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.backend.googleRes = &api.GoogleAuthResult{
		Status:      true,
		AccessToken: "tok-g",
		User:        api.GoogleUser{Email: "g@example.com"},
	}

	require.NoError(t, f.machine.BeginGoogleSignIn(context.Background()))
	assert.True(t, f.machine.Redirecting())
	require.Len(t, f.nav.urls, 1)

	redirect, err := url.Parse(f.nav.urls[0])
	require.NoError(t, err)
	state := redirect.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "agenthub", redirect.Query().Get("client_id"))

	callback := url.Values{"state": {state}, "code": {"auth-code-1"}}
	require.NoError(t, f.machine.CompleteGoogleSignIn(context.Background(), callback))

	assert.Equal(t, "auth-code-1", f.backend.googleCode)
	assert.Equal(t, "tok-g", f.creds.token)
	assert.Equal(t, "g@example.com", f.creds.email)
	require.Len(t, f.nav.urls, 2)
	assert.Equal(t, DefaultDestination, f.nav.urls[1])
}

func TestGoogleCallbackOutcomes(t *testing.T) {
	begin := func(t *testing.T, f *fixture) string {
		t.Helper()
		require.NoError(t, f.machine.BeginGoogleSignIn(context.Background()))
		redirect, err := url.Parse(f.nav.urls[0])
		require.NoError(t, err)
		return redirect.Query().Get("state")
	}

	t.Run("provider error", func(t *testing.T) {
		f := newFixture(t)
		state := begin(t, f)
		err := f.machine.CompleteGoogleSignIn(context.Background(), url.Values{
			"error": {"access_denied"}, "state": {state},
		})
		require.Error(t, err)
		assert.Contains(t, f.machine.ErrorMessage(), "cancelled or failed")
	})

	t.Run("missing state", func(t *testing.T) {
		f := newFixture(t)
		begin(t, f)
		err := f.machine.CompleteGoogleSignIn(context.Background(), url.Values{"code": {"x"}})
		require.Error(t, err)
		assert.Contains(t, f.machine.ErrorMessage(), "missing its security token")
	})

	t.Run("state mismatch", func(t *testing.T) {
		f := newFixture(t)
		begin(t, f)
		err := f.machine.CompleteGoogleSignIn(context.Background(), url.Values{
			"state": {"forged"}, "code": {"x"},
		})
		require.Error(t, err)
		assert.Contains(t, f.machine.ErrorMessage(), "security check failed")
		// A mismatched state must never reach the code exchange.
		assert.Zero(t, f.backend.googleCalls)
	})

	t.Run("expired", func(t *testing.T) {
		f := newFixture(t)
		state := begin(t, f)
		f.now = f.now.Add(11 * time.Minute)
		err := f.machine.CompleteGoogleSignIn(context.Background(), url.Values{
			"state": {state}, "code": {"x"},
		})
		require.Error(t, err)
		assert.Contains(t, f.machine.ErrorMessage(), "expired")
		assert.Zero(t, f.backend.googleCalls)
	})

	t.Run("state is consumed by a failed attempt", func(t *testing.T) {
		f := newFixture(t)
		state := begin(t, f)
		require.Error(t, f.machine.CompleteGoogleSignIn(context.Background(), url.Values{
			"state": {"forged"}, "code": {"x"},
		}))

		// Replaying the once-valid state must not succeed either.
		err := f.machine.CompleteGoogleSignIn(context.Background(), url.Values{
			"state": {state}, "code": {"x"},
		})
		require.Error(t, err)
		assert.Zero(t, f.creds.calls)
	})
}

func TestConfiguredStateTTL(t *testing.T) {
	begin := func(t *testing.T, f *fixture) string {
		t.Helper()
		require.NoError(t, f.machine.BeginGoogleSignIn(context.Background()))
		redirect, err := url.Parse(f.nav.urls[0])
		require.NoError(t, err)
		return redirect.Query().Get("state")
	}

	t.Run("shorter window expires earlier", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.StateTTL = time.Minute })
		state := begin(t, f)
		f.now = f.now.Add(2 * time.Minute)

		err := f.machine.CompleteGoogleSignIn(context.Background(), url.Values{
			"state": {state}, "code": {"x"},
		})
		require.Error(t, err)
		assert.Contains(t, f.machine.ErrorMessage(), "expired")
		assert.Zero(t, f.backend.googleCalls)
	})

	t.Run("longer window outlives the default", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.StateTTL = 30 * time.Minute })
		f.backend.googleRes = &api.GoogleAuthResult{
			Status:      true,
			AccessToken: "tok-g",
			User:        api.GoogleUser{Email: "g@example.com"},
		}
		state := begin(t, f)
		f.now = f.now.Add(11 * time.Minute)

		require.NoError(t, f.machine.CompleteGoogleSignIn(context.Background(), url.Values{
			"state": {state}, "code": {"auth-code-1"},
		}))
		assert.Equal(t, 1, f.backend.googleCalls)
		assert.Equal(t, "tok-g", f.creds.token)
	})
}

func TestFailedCredentialStoreSurfaces(t *testing.T) {
	f := newFixture(t)
	f.backend.loginRes = &api.LoginResult{AccessToken: "tok", LoginID: "l"}
	f.creds.err = fmt.Errorf("disk full")

	require.Error(t, f.machine.Login(context.Background(), "u@example.com", "pw"))
	assert.NotEmpty(t, f.machine.ErrorMessage())
	assert.Empty(t, f.nav.urls)
}

func TestResolveIntentPriority(t *testing.T) {
	type scopes struct {
		session *Intent
		durable *Intent
	}
	cases := []struct {
		name string
		set  scopes
		want string
	}{
		{
			name: "agent-sourced session wins over agent-sourced durable",
			set: scopes{
				session: &Intent{Path: "/agent/s", FromAgent: true},
				durable: &Intent{Path: "/agent/d", FromAgent: true},
			},
			want: "/agent/s",
		},
		{
			name: "agent-sourced durable wins over plain session",
			set: scopes{
				session: &Intent{Path: "/pricing"},
				durable: &Intent{Path: "/agent/d", FromAgent: true},
			},
			want: "/agent/d",
		},
		{
			name: "plain session wins over plain durable",
			set: scopes{
				session: &Intent{Path: "/pricing"},
				durable: &Intent{Path: "/settings"},
			},
			want: "/pricing",
		},
		{
			name: "plain durable wins over home-sourced durable alone",
			set: scopes{
				durable: &Intent{Path: "/settings"},
			},
			want: "/settings",
		},
		{
			name: "home-sourced durable used as last resort",
			set: scopes{
				durable: &Intent{Path: "/", FromHome: true},
			},
			want: "/",
		},
		{
			name: "nothing recorded falls back to default",
			set:  scopes{},
			want: DefaultDestination,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if tc.set.session != nil {
				f.intents.RememberSession(*tc.set.session)
			}
			if tc.set.durable != nil {
				require.NoError(t, f.intents.RememberDurable(ctx, *tc.set.durable))
			}

			assert.Equal(t, tc.want, f.intents.Resolve(ctx))

			// Resolution consumes both scopes exactly once.
			assert.Equal(t, DefaultDestination, f.intents.Resolve(ctx))
		})
	}
}

func TestLoginFollowsRecordedIntent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.intents.RememberDurable(context.Background(), Intent{Path: "/agent/abc123", FromAgent: true}))
	f.backend.loginRes = &api.LoginResult{AccessToken: "tok", LoginID: "l"}

	require.NoError(t, f.machine.Login(context.Background(), "u@example.com", "pw"))
	require.Len(t, f.nav.urls, 1)
	assert.Equal(t, "/agent/abc123", f.nav.urls[0])
}
