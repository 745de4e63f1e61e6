package authflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agenthub-ai/agenthub/internal/store"
)

// DefaultDestination is where a fresh login lands when no redirect intent
// was recorded.
const DefaultDestination = "/browse"

// Intent is one recorded "return here after auth" destination.
type Intent struct {
	Path      string
	FromAgent bool
	FromHome  bool
}

// DurableIntents is the persistent intent backing, which survives the
// full-page OAuth redirect. Satisfied by *store.Store.
type DurableIntents interface {
	SaveIntent(ctx context.Context, rec store.IntentRecord) error
	LoadIntent(ctx context.Context) (*store.IntentRecord, error)
	ClearIntent(ctx context.Context) error
}

// IntentStore holds the pending redirect intent in two scopes: a
// session-scoped slot that lives only as long as the process, and a durable
// slot in the embedded store. Resolve reads both, picks one destination by
// priority, and clears both.
type IntentStore struct {
	log     *slog.Logger
	durable DurableIntents
	now     func() time.Time

	mu      sync.Mutex
	session *Intent
}

// NewIntentStore creates an IntentStore. now may be nil for time.Now.
func NewIntentStore(logger *slog.Logger, durable DurableIntents, now func() time.Time) *IntentStore {
	if now == nil {
		now = time.Now
	}
	return &IntentStore{log: logger, durable: durable, now: now}
}

// RememberSession records a session-scoped intent, replacing any earlier one.
func (s *IntentStore) RememberSession(intent Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := intent
	s.session = &i
}

// RememberDurable records the intent in the embedded store so it survives
// the round trip through an external identity provider.
func (s *IntentStore) RememberDurable(ctx context.Context, intent Intent) error {
	return s.durable.SaveIntent(ctx, store.IntentRecord{
		Path:      intent.Path,
		FromAgent: intent.FromAgent,
		FromHome:  intent.FromHome,
		Timestamp: s.now(),
		Source:    intentSource(intent),
	})
}

func intentSource(intent Intent) string {
	switch {
	case intent.FromAgent:
		return "agent"
	case intent.FromHome:
		return "home"
	}
	return "other"
}

// Resolve picks the post-auth destination and clears both scopes. Priority:
// agent-sourced session intent, agent-sourced durable intent, any session
// intent, durable intent not home-sourced, home-sourced intent from either
// scope, then the default destination. Reading is destructive so a stale
// intent can never redirect a later login.
func (s *IntentStore) Resolve(ctx context.Context) string {
	s.mu.Lock()
	sessionIntent := s.session
	s.session = nil
	s.mu.Unlock()

	durableRec, err := s.durable.LoadIntent(ctx)
	if err != nil {
		s.log.Error("authflow: load durable intent", "error", err)
	}
	if err := s.durable.ClearIntent(ctx); err != nil {
		s.log.Error("authflow: clear durable intent", "error", err)
	}

	var durableIntent *Intent
	if durableRec != nil {
		durableIntent = &Intent{Path: durableRec.Path, FromAgent: durableRec.FromAgent, FromHome: durableRec.FromHome}
	}

	switch {
	case sessionIntent != nil && sessionIntent.FromAgent:
		return sessionIntent.Path
	case durableIntent != nil && durableIntent.FromAgent:
		return durableIntent.Path
	case sessionIntent != nil:
		return sessionIntent.Path
	case durableIntent != nil && !durableIntent.FromHome:
		return durableIntent.Path
	case durableIntent != nil:
		return durableIntent.Path
	}
	return DefaultDestination
}
