// Package store is the client's embedded durable store. It persists the
// state that must survive a full-page OAuth redirect and process restarts:
// the pending redirect intent and the credential cookie snapshot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// IntentRecord is the persisted form of a redirect intent.
type IntentRecord struct {
	Path      string
	FromAgent bool
	FromHome  bool
	Timestamp time.Time
	Source    string
}

// CookieRecord is one persisted credential cookie.
type CookieRecord struct {
	Name    string
	Value   string
	Path    string
	Expires time.Time
}

// Store wraps the SQLite database. Safe for concurrent use; SQLite
// serializes writers internally.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path and applies the schema.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS redirect_intents (
	slot       TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	from_agent INTEGER NOT NULL,
	from_home  INTEGER NOT NULL,
	ts         INTEGER NOT NULL,
	source     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cookies (
	name    TEXT PRIMARY KEY,
	value   TEXT NOT NULL,
	path    TEXT NOT NULL,
	expires INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS oauth_states (
	slot  TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	ts    INTEGER NOT NULL
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// intentSlot keys the single pending redirect intent. One auth attempt holds
// at most one intent.
const intentSlot = "redirect"

// SaveIntent upserts the pending redirect intent.
func (s *Store) SaveIntent(ctx context.Context, rec IntentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO redirect_intents (slot, path, from_agent, from_home, ts, source)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
		   path = excluded.path, from_agent = excluded.from_agent,
		   from_home = excluded.from_home, ts = excluded.ts, source = excluded.source`,
		intentSlot, rec.Path, boolInt(rec.FromAgent), boolInt(rec.FromHome),
		rec.Timestamp.UnixMilli(), rec.Source,
	)
	if err != nil {
		return fmt.Errorf("store: save intent: %w", err)
	}
	return nil
}

// LoadIntent returns the pending redirect intent, or nil when none is stored.
func (s *Store) LoadIntent(ctx context.Context) (*IntentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT path, from_agent, from_home, ts, source FROM redirect_intents WHERE slot = ?`,
		intentSlot,
	)
	var (
		rec                 IntentRecord
		fromAgent, fromHome int
		ts                  int64
	)
	if err := row.Scan(&rec.Path, &fromAgent, &fromHome, &ts, &rec.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load intent: %w", err)
	}
	rec.FromAgent = fromAgent != 0
	rec.FromHome = fromHome != 0
	rec.Timestamp = time.UnixMilli(ts)
	return &rec, nil
}

// ClearIntent removes the pending redirect intent.
func (s *Store) ClearIntent(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM redirect_intents WHERE slot = ?`, intentSlot); err != nil {
		return fmt.Errorf("store: clear intent: %w", err)
	}
	return nil
}

// oauthSlot keys the single pending OAuth handshake. Starting a new sign-in
// replaces any earlier one.
const oauthSlot = "google"

// SaveOAuthState persists the CSRF state token for the pending handshake so
// it survives the full-page redirect to the identity provider.
func (s *Store) SaveOAuthState(ctx context.Context, state string, issuedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_states (slot, state, ts) VALUES (?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET state = excluded.state, ts = excluded.ts`,
		oauthSlot, state, issuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save oauth state: %w", err)
	}
	return nil
}

// LoadOAuthState returns the pending CSRF state and its issue time, or empty
// when no handshake is pending.
func (s *Store) LoadOAuthState(ctx context.Context) (string, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state, ts FROM oauth_states WHERE slot = ?`, oauthSlot)
	var (
		state string
		ts    int64
	)
	if err := row.Scan(&state, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, fmt.Errorf("store: load oauth state: %w", err)
	}
	return state, time.UnixMilli(ts), nil
}

// ClearOAuthState removes the pending handshake state.
func (s *Store) ClearOAuthState(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE slot = ?`, oauthSlot); err != nil {
		return fmt.Errorf("store: clear oauth state: %w", err)
	}
	return nil
}

// SaveCookie upserts one credential cookie.
func (s *Store) SaveCookie(ctx context.Context, rec CookieRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cookies (name, value, path, expires) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   value = excluded.value, path = excluded.path, expires = excluded.expires`,
		rec.Name, rec.Value, rec.Path, rec.Expires.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: save cookie %s: %w", rec.Name, err)
	}
	return nil
}

// LoadCookies returns all persisted cookies, expired ones included. Expiry
// is the session manager's concern.
func (s *Store) LoadCookies(ctx context.Context) ([]CookieRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value, path, expires FROM cookies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: load cookies: %w", err)
	}
	defer rows.Close()

	var out []CookieRecord
	for rows.Next() {
		var (
			rec CookieRecord
			exp int64
		)
		if err := rows.Scan(&rec.Name, &rec.Value, &rec.Path, &exp); err != nil {
			return nil, fmt.Errorf("store: scan cookie: %w", err)
		}
		rec.Expires = time.UnixMilli(exp)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load cookies: %w", err)
	}
	return out, nil
}

// DeleteCookie removes one cookie by name.
func (s *Store) DeleteCookie(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cookies WHERE name = ?`, name); err != nil {
		return fmt.Errorf("store: delete cookie %s: %w", name, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
