package agenthub

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	baseURL         string
	storePath       string
	googleAuthURL   string
	logger          *slog.Logger
	version         string
	httpClient      *http.Client
	navigator       Navigator
	notifier        Notifier
	previews        PreviewAllocator
	now             func() time.Time
	onAuthenticated func()
}

// WithBaseURL overrides the backend root URL from config (AGENTHUB_BASE_URL env var).
func WithBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.baseURL = url }
}

// WithStorePath overrides the embedded store location from config
// (AGENTHUB_STORE_PATH env var). Use ":memory:" for an ephemeral store.
func WithStorePath(path string) Option {
	return func(o *resolvedOptions) { o.storePath = path }
}

// WithGoogleAuthURL overrides the identity provider's authorization endpoint
// from config (AGENTHUB_GOOGLE_AUTH_URL env var).
func WithGoogleAuthURL(url string) Option {
	return func(o *resolvedOptions) { o.googleAuthURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithHTTPClient replaces the backend HTTP client. Per-call deadlines come
// from contexts, not from the client's Timeout field.
func WithHTTPClient(client *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = client }
}

// WithNavigator sets the full-page navigation sink. The embedding shell
// (browser wrapper, desktop host, CLI) owns actual navigation; without this
// option navigations are only logged.
func WithNavigator(nav Navigator) Option {
	return func(o *resolvedOptions) { o.navigator = nav }
}

// WithNotifier sets the toast-style notification sink.
func WithNotifier(n Notifier) Option {
	return func(o *resolvedOptions) { o.notifier = n }
}

// WithPreviewAllocator replaces the built-in preview URL allocator.
func WithPreviewAllocator(p PreviewAllocator) Option {
	return func(o *resolvedOptions) { o.previews = p }
}

// WithClock overrides the time source. Only the last call wins; intended
// for tests.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.now = now }
}

// WithOnAuthenticated registers a hook that runs after a successful
// authentication, between credential storage and the final navigation.
// The owning shell closes its auth modal here.
func WithOnAuthenticated(fn func()) Option {
	return func(o *resolvedOptions) { o.onAuthenticated = fn }
}
