package memory

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timestampLayout pads fractional seconds to full width so updated_at
// strings sort lexicographically in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned for usernames with no recorded memory.
var ErrNotFound = errors.New("not found")

// Store keeps per-user conversational memory in a SQLite database with an
// in-process cache. When opened ephemeral (no database) everything lives
// in the cache and is lost on restart.
type Store struct {
	db         *sql.DB
	maxHistory int

	mu    sync.Mutex
	cache map[string]*Record
}

// Open opens (or creates) the memory database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string, maxHistory int) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "askdb.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging memory database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, maxHistory: maxHistory, cache: make(map[string]*Record)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// OpenEphemeral returns a store with no durable backend. Used as a
// degraded fallback when the memory database cannot be opened.
func OpenEphemeral(maxHistory int) *Store {
	return &Store{maxHistory: maxHistory, cache: make(map[string]*Record)}
}

// Close closes the underlying database connection, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persistent reports whether memory survives restarts.
func (s *Store) Persistent() bool {
	return s.db != nil
}

// Ping verifies the durable backend is reachable. An ephemeral store is
// always considered reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Get returns the record for username, loading it from the database on
// first access. Unknown users get a fresh empty record.
func (s *Store) Get(ctx context.Context, username string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, username)
}

func (s *Store) getLocked(ctx context.Context, username string) (*Record, error) {
	if rec, ok := s.cache[username]; ok {
		return rec, nil
	}

	rec := NewRecord(username, s.maxHistory)
	if s.db != nil {
		loaded, err := s.load(ctx, username)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil {
			rec = loaded
		}
	}

	s.cache[username] = rec
	return rec, nil
}

func (s *Store) load(ctx context.Context, username string) (*Record, error) {
	var historyJSON, patternsJSON, entitiesJSON, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT history_json, patterns_json, entities_json, updated_at
		FROM user_memory WHERE username = ?`, username,
	).Scan(&historyJSON, &patternsJSON, &entitiesJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := NewRecord(username, s.maxHistory)
	if err := json.Unmarshal([]byte(historyJSON), &rec.History); err != nil {
		return nil, fmt.Errorf("decoding history for %s: %w", username, err)
	}
	if err := json.Unmarshal([]byte(patternsJSON), &rec.Patterns); err != nil {
		return nil, fmt.Errorf("decoding patterns for %s: %w", username, err)
	}
	if err := json.Unmarshal([]byte(entitiesJSON), &rec.Entities); err != nil {
		return nil, fmt.Errorf("decoding entities for %s: %w", username, err)
	}
	if t, err := time.Parse(timestampLayout, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	if len(rec.History) > rec.MaxHistory {
		rec.History = rec.History[len(rec.History)-rec.MaxHistory:]
	}
	return rec, nil
}

// RecordInteraction appends a completed turn to the user's memory and
// persists the updated record. Persistence failures are logged rather
// than returned: a lost write degrades recall, not correctness.
func (s *Store) RecordInteraction(ctx context.Context, username, question, query, result, answer string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(ctx, username)
	if err != nil {
		return nil, err
	}

	rec.Add(Interaction{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Question:  question,
		Query:     query,
		Result:    result,
		Answer:    answer,
	})

	if err := s.persist(ctx, rec); err != nil {
		slog.Warn("persisting memory failed", "username", username, "error", err)
	}
	return rec, nil
}

func (s *Store) persist(ctx context.Context, rec *Record) error {
	if s.db == nil {
		return nil
	}

	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	patternsJSON, err := json.Marshal(rec.Patterns)
	if err != nil {
		return fmt.Errorf("encoding patterns: %w", err)
	}
	entitiesJSON, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("encoding entities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_memory (username, history_json, patterns_json, entities_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			history_json = excluded.history_json,
			patterns_json = excluded.patterns_json,
			entities_json = excluded.entities_json,
			updated_at = excluded.updated_at`,
		rec.Username, string(historyJSON), string(patternsJSON), string(entitiesJSON),
		rec.UpdatedAt.UTC().Format(timestampLayout),
	)
	return err
}

// Clear wipes the user's memory in both the cache and the database.
func (s *Store) Clear(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, username)
	if s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM user_memory WHERE username = ?", username); err != nil {
		return fmt.Errorf("clearing memory for %s: %w", username, err)
	}
	return nil
}

// ListUsers returns every username with recorded memory, most recently
// active first.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		recs := make([]*Record, 0, len(s.cache))
		for _, rec := range s.cache {
			if len(rec.History) > 0 {
				recs = append(recs, rec)
			}
		}
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		})
		users := make([]string, len(recs))
		for i, rec := range recs {
			users[i] = rec.Username
		}
		return users, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT username FROM user_memory ORDER BY updated_at DESC, username ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
