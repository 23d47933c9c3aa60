// Package history keeps a SQLite log of recognitions and failures.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-grammar/internal/config"
	_ "modernc.org/sqlite"
)

// Entry is one dispatched utterance. Rule is empty for failures.
type Entry struct {
	ID          string
	UtteranceID string
	SessionID   string
	Grammar     string
	Rule        string
	Words       []string
	Extras      map[string]string
	Dictation   string
	Handled     bool
	Failure     string
	CreatedAt   time.Time
}

// Store wraps a SQLite-backed recognition history.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config. The ephemeral
// retention mode opens no database and records nothing.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS recognitions (
    id TEXT PRIMARY KEY,
    utterance_id TEXT NOT NULL,
    session_id TEXT,
    grammar_name TEXT,
    rule_name TEXT,
    words TEXT NOT NULL,
    extras TEXT,
    dictation TEXT,
    handled INTEGER NOT NULL,
    failure TEXT,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recognitions_created ON recognitions(created_at);
CREATE INDEX IF NOT EXISTS idx_recognitions_session ON recognitions(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Record writes an entry, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s.disabled() {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	words, err := json.Marshal(e.Words)
	if err != nil {
		return fmt.Errorf("encode words: %w", err)
	}
	var extras []byte
	if len(e.Extras) > 0 {
		if extras, err = json.Marshal(e.Extras); err != nil {
			return fmt.Errorf("encode extras: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recognitions(id, utterance_id, session_id, grammar_name, rule_name, words, extras, dictation, handled, failure, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UtteranceID, e.SessionID, e.Grammar, e.Rule, string(words), string(extras),
		e.Dictation, e.Handled, e.Failure, e.CreatedAt.UnixNano())
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `WHERE 1=1`, nil, limit)
}

// Session returns up to limit entries of one session, newest first.
func (s *Store) Session(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	return s.query(ctx, `WHERE session_id = ?`, []any{sessionID}, limit)
}

func (s *Store) query(ctx context.Context, where string, args []any, limit int) ([]Entry, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, utterance_id, session_id, grammar_name, rule_name, words, extras, dictation, handled, failure, created_at
		 FROM recognitions `+where+` ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			words   string
			extras  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.UtteranceID, &e.SessionID, &e.Grammar, &e.Rule,
			&words, &extras, &e.Dictation, &e.Handled, &e.Failure, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(words), &e.Words); err != nil {
			return nil, fmt.Errorf("decode words of %s: %w", e.ID, err)
		}
		if extras.Valid && extras.String != "" {
			if err := json.Unmarshal([]byte(extras.String), &e.Extras); err != nil {
				return nil, fmt.Errorf("decode extras of %s: %w", e.ID, err)
			}
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return tx.Commit()
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM recognitions WHERE created_at < ?`, cutoff.UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM recognitions WHERE id IN (
			SELECT id FROM recognitions ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
