// Package agenthub is the public API for embedding the AgentHub client core:
// the dynamic form engine, thread-grouped execution history, response
// rendering, and the auth/redirect state machine, backed by the AgentHub
// REST API.
//
// Shells (a browser wrapper, a desktop host, the bundled CLI) construct an
// App and drive pages through it:
//
//	app, err := agenthub.New(
//	    agenthub.WithVersion(version),
//	    agenthub.WithLogger(logger),
//	    agenthub.WithNavigator(myShell),
//	    agenthub.WithNotifier(myShell),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//
//	page, err := app.AgentPage(ctx, agentID)
//
// The import graph enforces a strict no-cycle rule: agenthub (root) imports
// internal/*, but internal/* never imports agenthub (root). Public types
// (Agent, Thread, etc.) are standalone structs; conversion helpers live in
// types.go because the root is the only file that sees both sides of the
// boundary.
package agenthub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/agenthub-ai/agenthub/internal/api"
	"github.com/agenthub-ai/agenthub/internal/authflow"
	"github.com/agenthub-ai/agenthub/internal/config"
	"github.com/agenthub-ai/agenthub/internal/form"
	"github.com/agenthub-ai/agenthub/internal/history"
	"github.com/agenthub-ai/agenthub/internal/model"
	"github.com/agenthub-ai/agenthub/internal/render"
	"github.com/agenthub-ai/agenthub/internal/session"
	"github.com/agenthub-ai/agenthub/internal/store"
	"github.com/agenthub-ai/agenthub/internal/telemetry"
)

// App is the AgentHub client core. Construct with New(); App has no public
// fields, use New() options to configure it.
type App struct {
	cfg          config.Config
	logger       *slog.Logger
	version      string
	db           *store.Store
	session      *session.Manager
	client       *api.Client
	intents      *authflow.IntentStore
	auth         *authflow.Machine
	previews     PreviewAllocator
	nav          Navigator
	notify       Notifier
	otelShutdown func(context.Context) error
}

// New initialises the client core. It opens the embedded store, restores any
// persisted session, and wires all subsystems. It performs no network calls.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.storePath != "" {
		cfg.StorePath = o.storePath
	}
	if o.googleAuthURL != "" {
		cfg.GoogleAuthURL = o.googleAuthURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("agenthub starting", "version", version, "backend", cfg.BaseURL)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("store: %w", err)
	}

	nav := o.navigator
	if nav == nil {
		nav = &logNavigator{log: logger}
	}
	notify := o.notifier
	if notify == nil {
		notify = &logNotifier{log: logger}
	}
	previews := o.previews
	if previews == nil {
		previews = form.NewPreviewAllocator()
	}

	sess, err := session.NewManager(context.Background(), logger, db, nav, notify, o.now)
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("session: %w", err)
	}

	client, err := api.NewClient(api.Config{
		BaseURL:    cfg.BaseURL,
		Tokens:     sess,
		HTTPClient: o.httpClient,
	})
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("api: %w", err)
	}

	intents := authflow.NewIntentStore(logger, db, o.now)
	machine := authflow.NewMachine(authflow.Config{
		Logger:          logger,
		Backend:         client,
		Credentials:     sess,
		Navigator:       nav,
		Notifier:        notify,
		Intents:         intents,
		OAuthStates:     db,
		GoogleAuthURL:   googleAuthURL(cfg),
		OnAuthenticated: o.onAuthenticated,
		StateTTL:        cfg.OAuthStateTTL,
		Now:             o.now,
	})

	return &App{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		db:           db,
		session:      sess,
		client:       client,
		intents:      intents,
		auth:         machine,
		previews:     previews,
		nav:          nav,
		notify:       notify,
		otelShutdown: otelShutdown,
	}, nil
}

// googleAuthURL assembles the provider authorization URL with the static
// OAuth parameters; the per-attempt state is appended by the auth machine.
func googleAuthURL(cfg config.Config) string {
	u, err := url.Parse(cfg.GoogleAuthURL)
	if err != nil {
		return cfg.GoogleAuthURL
	}
	q := u.Query()
	if cfg.GoogleClientID != "" {
		q.Set("client_id", cfg.GoogleClientID)
	}
	q.Set("redirect_uri", cfg.GoogleRedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	u.RawQuery = q.Encode()
	return u.String()
}

// Close releases the embedded store and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = err
	}
	if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Authenticated reports whether a live, unexpired access token is present.
func (a *App) Authenticated() bool {
	_, ok := a.session.AccessToken()
	return ok
}

// Email returns the signed-in account's email marker, empty when anonymous.
func (a *App) Email() string {
	return a.session.Email()
}

// SignOut clears the credential cookies and navigates to the login entry
// point.
func (a *App) SignOut(ctx context.Context) error {
	if err := a.session.Clear(ctx); err != nil {
		return err
	}
	a.nav.Navigate(session.LoginPath)
	return nil
}

// RememberRedirect records where to return after the next successful
// authentication. fromAgent marks an intent raised by an agent page (highest
// resolution priority); fromHome marks one raised by the landing page
// (lowest). The intent is recorded in both the session scope and the
// embedded store so it survives the OAuth redirect.
func (a *App) RememberRedirect(ctx context.Context, path string, fromAgent, fromHome bool) error {
	intent := authflow.Intent{Path: path, FromAgent: fromAgent, FromHome: fromHome}
	a.intents.RememberSession(intent)
	return a.intents.RememberDurable(ctx, intent)
}

// Credits fetches the remaining token balance. A 401 or an expired-token
// flag runs the shared session-expiry path before returning the error.
func (a *App) Credits(ctx context.Context) (CreditBalance, error) {
	n, err := a.client.Credits(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			a.session.Expire(ctx, "credits")
		}
		return CreditBalance{}, err
	}
	return CreditBalance{RemainingTokens: n}, nil
}

// SharedPage resolves a public share link. No authentication is required;
// the artifact renders through the same pipeline as live results.
func (a *App) SharedPage(ctx context.Context, shareUUID string) (*SharedView, error) {
	artifact, err := a.client.SharedData(ctx, shareUUID)
	if err != nil {
		return nil, err
	}
	doc := render.Render(artifact.AgentOutputs, render.Context{})
	return &SharedView{
		UUID:      artifact.UUID,
		CreatedAt: artifact.CreatedAt,
		Filename:  artifact.Filename,
		Inputs:    toPublicInputs(artifact.UserInputs),
		Output:    doc.Text(),
	}, nil
}

// Auth flow delegation. The machine itself stays internal; shells drive it
// through these methods.

// AuthView returns the current auth screen name.
func (a *App) AuthView() string { return string(a.auth.View()) }

// SwitchAuthView moves between auth screens on explicit user action.
func (a *App) SwitchAuthView(view string) { a.auth.SwitchView(authflow.View(view)) }

// AuthError returns the auth flow's displayable error, empty when none.
func (a *App) AuthError() string { return a.auth.ErrorMessage() }

// AuthInfo returns the auth flow's informational banner, empty when none.
func (a *App) AuthInfo() string { return a.auth.InfoMessage() }

// AuthRedirecting reports whether the post-auth navigation overlay is up.
func (a *App) AuthRedirecting() bool { return a.auth.Redirecting() }

// Login authenticates with email and password.
func (a *App) Login(ctx context.Context, email, password string) error {
	return a.auth.Login(ctx, email, password)
}

// SignUp registers a new account and moves to the confirmation screen.
func (a *App) SignUp(ctx context.Context, email, password string) error {
	return a.auth.SignUp(ctx, email, password)
}

// ConfirmSignUp submits the emailed confirmation code.
func (a *App) ConfirmSignUp(ctx context.Context, code string) error {
	return a.auth.Confirm(ctx, code)
}

// ResendConfirmationCode requests a fresh confirmation code.
func (a *App) ResendConfirmationCode(ctx context.Context) error {
	return a.auth.ResendCode(ctx)
}

// RequestPasswordReset starts the two-step password reset.
func (a *App) RequestPasswordReset(ctx context.Context, email string) error {
	return a.auth.RequestPasswordReset(ctx, email)
}

// ConfirmPasswordReset completes the reset; the user logs in afterwards.
func (a *App) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	return a.auth.ConfirmPasswordReset(ctx, code, newPassword)
}

// BeginGoogleSignIn starts the OAuth handshake and navigates to the
// identity provider.
func (a *App) BeginGoogleSignIn(ctx context.Context) error {
	return a.auth.BeginGoogleSignIn(ctx)
}

// CompleteGoogleSignIn handles the provider callback query string.
func (a *App) CompleteGoogleSignIn(ctx context.Context, rawQuery string) error {
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return fmt.Errorf("parse callback query: %w", err)
	}
	return a.auth.CompleteGoogleSignIn(ctx, q)
}

// AgentPage loads everything an agent page needs: the agent definition, the
// grouped history, and the credit balance, fetched concurrently. The agent
// definition is required; history and credits degrade to an error state and
// a zero balance. A 401 on any leg runs the session-expiry path and fails
// the load.
func (a *App) AgentPage(ctx context.Context, agentID string) (*AgentPage, error) {
	page := &AgentPage{app: a, agentID: agentID}

	hist := history.New(a.logger, a.client, func(ctx context.Context, executionID string) {
		if err := page.LoadExecution(ctx, executionID); err != nil {
			a.logger.Error("agenthub: load execution", "execution_id", executionID, "error", err)
		}
	})

	var (
		def     *model.AgentDefinition
		credits CreditBalance
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := a.client.AgentDetails(gctx, agentID)
		if err != nil {
			return err
		}
		def = d
		return nil
	})
	g.Go(func() error {
		// Passive load: an error leaves the history panel in its own
		// error state without failing the page.
		if err := hist.Fetch(gctx, agentID, false); err != nil && api.IsUnauthorized(err) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		c, err := a.Credits(gctx)
		if err != nil {
			if api.IsUnauthorized(err) {
				return err
			}
			a.logger.Warn("agenthub: credits unavailable", "error", err)
			return nil
		}
		credits = c
		return nil
	})
	if err := g.Wait(); err != nil {
		if api.IsUnauthorized(err) {
			a.session.Expire(ctx, "agent page load")
		}
		return nil, err
	}

	page.agent = *def
	page.history = hist
	page.credits = credits
	page.form = form.NewEngine(a.logger, agentID, def.Fields, a.client, a.session, a.previews)
	return page, nil
}

// AgentPage is one mounted agent page: the generated form, the history
// panel, and the credit balance. Methods are safe for concurrent use; the
// underlying engine and view model carry their own locks.
type AgentPage struct {
	app     *App
	agentID string
	agent   model.AgentDefinition
	form    *form.Engine
	history *history.Model
	credits CreditBalance

	mu sync.Mutex
	// lastOutput is the most recently rendered document.
	lastOutput string
}

// Agent returns the page's agent definition.
func (p *AgentPage) Agent() Agent { return toPublicAgent(p.agent) }

// Credits returns the balance fetched at page load, or the value of the
// latest RefreshCredits call.
func (p *AgentPage) Credits() CreditBalance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credits
}

// RefreshCredits re-reads the balance, typically after a run has consumed
// tokens. An expired token triggers the shared session-expiry path.
func (p *AgentPage) RefreshCredits(ctx context.Context) error {
	c, err := p.app.Credits(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.credits = c
	p.mu.Unlock()
	return nil
}

// Output returns the most recently rendered result document, empty before
// the first submission or history selection.
func (p *AgentPage) Output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOutput
}

func (p *AgentPage) setOutput(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOutput = text
}

// SetField sets a scalar or boolean form value.
func (p *AgentPage) SetField(variable string, value any) {
	p.form.SetField(variable, value)
}

// AttachFile attaches a live file to a file field, replacing any
// rehydrated remote URL and any earlier attachment.
func (p *AgentPage) AttachFile(variable, name string, data []byte) {
	p.form.AttachFile(variable, form.FileHandle{Name: name, Data: data})
}

// RemoveFile detaches a file field's attachment.
func (p *AgentPage) RemoveFile(variable string) {
	p.form.RemoveFile(variable)
}

// FieldValue returns the form's current value for a field.
func (p *AgentPage) FieldValue(variable string) any {
	return p.form.Value(variable)
}

// ClearForm resets the form to schema defaults, starts a new thread, and
// discards the displayed result.
func (p *AgentPage) ClearForm() {
	_, _ = p.form.Dispatch(context.Background(), form.Clear{})
	p.setOutput("")
}

// Submit validates and executes the form. On success the result is
// rendered, the history is re-fetched (best effort), and the selection
// syncs to the new execution.
func (p *AgentPage) Submit(ctx context.Context) (*Result, error) {
	res, err := p.form.Dispatch(ctx, form.Submit{})
	if err != nil {
		return nil, err
	}

	doc := render.Render(res.Response.Data, render.Context{GradeLevel: p.agent.GradeLevel})
	p.setOutput(doc.Text())

	if err := p.history.Fetch(ctx, p.agentID, true); err != nil {
		p.app.logger.Warn("agenthub: history refresh after submit", "error", err)
	}
	p.history.SyncSelection(res.ExecutionID)

	return &Result{
		ExecutionID: res.ExecutionID,
		ThreadID:    res.ThreadID,
		Output:      doc.Text(),
	}, nil
}

// LoadExecution rehydrates the form and result view from a past execution.
func (p *AgentPage) LoadExecution(ctx context.Context, executionID string) error {
	detail, err := p.app.client.ExecutionDetail(ctx, executionID, p.agentID)
	if err != nil {
		if api.IsUnauthorized(err) {
			p.app.session.Expire(ctx, "load execution")
		}
		return err
	}

	_, _ = p.form.Dispatch(ctx, form.Rehydrate{Payload: form.RehydratePayload{
		Inputs:   detail.Inputs(),
		Files:    detail.FileData,
		ThreadID: detail.ThreadID,
	}})

	doc := render.Render(detail.AgentOutputs, render.Context{GradeLevel: p.agent.GradeLevel})
	p.setOutput(doc.Text())
	p.history.SyncSelection(executionID)
	return nil
}

// Threads returns the history panel's display threads, newest first.
func (p *AgentPage) Threads() []Thread {
	return toPublicThreads(p.history.Threads(), p.history.IsExpanded)
}

// HistoryError returns the history panel's displayable error state.
func (p *AgentPage) HistoryError() string { return p.history.ErrorMessage() }

// SelectedExecution returns the highlighted execution id, empty when none.
func (p *AgentPage) SelectedExecution() string { return p.history.Selected() }

// SelectExecution highlights an execution and loads it into the form.
func (p *AgentPage) SelectExecution(ctx context.Context, executionID string) {
	p.history.Select(ctx, executionID)
}

// ToggleThread flips a thread's version expansion.
func (p *AgentPage) ToggleThread(threadID string) {
	p.history.ToggleExpand(threadID)
}

// RefreshHistory re-fetches the history panel. userTriggered refreshes also
// select the latest execution across threads.
func (p *AgentPage) RefreshHistory(ctx context.Context, userTriggered bool) error {
	return p.history.Fetch(ctx, p.agentID, userTriggered)
}

// Close tears the page down, revoking any outstanding preview URLs.
func (p *AgentPage) Close() {
	p.form.Close()
}

// logNavigator is the default Navigator: it records the navigation and
// otherwise stays put, which keeps headless use (tests, scripts) safe.
type logNavigator struct {
	log *slog.Logger
}

func (n *logNavigator) Navigate(url string) {
	n.log.Info("agenthub: navigate", "url", url)
}

// logNotifier is the default Notifier.
type logNotifier struct {
	log *slog.Logger
}

func (n *logNotifier) Info(message string)  { n.log.Info("agenthub: notice", "message", message) }
func (n *logNotifier) Error(message string) { n.log.Error("agenthub: notice", "message", message) }
