// Package history persists finished chat exchanges to SQLite with WAL mode
// for better concurrency. The web history endpoint reads from it; the job
// runner writes to it.
package history

import (
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// Exchange is one finished request/response pair.
type Exchange struct {
	ID        int64     `db:"id" json:"id"`
	Persona   string    `db:"persona" json:"persona"`
	Message   string    `db:"message" json:"message"`
	Response  string    `db:"response" json:"response"`
	Status    string    `db:"status" json:"status"` // "done" or the failure kind
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store implements exchange persistence on SQLite.
type Store struct {
	db      *sqlx.DB
	maxRows int // retention cap enforced after each record, 0 keeps everything
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    persona TEXT NOT NULL,
    message TEXT NOT NULL,
    response TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);
`

// NewStore opens (and initializes if needed) the history database. With
// maxRows > 0 only the newest maxRows exchanges are retained.
func NewStore(path string, maxRows int) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db at %q: %w", path, err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, maxRows: maxRows}, nil
}

// Record inserts one exchange and enforces the retention cap. CreatedAt
// defaults to now when unset.
func (s *Store) Record(ex Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	_, err := s.db.NamedExec(`INSERT INTO exchanges (persona, message, response, status, created_at)
		VALUES (:persona, :message, :response, :status, :created_at)`, ex)
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}

	if s.maxRows > 0 {
		if err := s.Cleanup(s.maxRows); err != nil {
			log.Printf("[WARN] failed to cleanup exchanges: %v", err)
		}
	}
	return nil
}

// Recent returns the newest exchanges, most recent first.
func (s *Store) Recent(limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}
	res := []Exchange{}
	err := s.db.Select(&res, `SELECT id, persona, message, response, status, created_at
		FROM exchanges ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchanges: %w", err)
	}
	return res, nil
}

// Cleanup removes all but the newest limit exchanges.
func (s *Store) Cleanup(limit int) error {
	if limit <= 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM exchanges WHERE id NOT IN
		(SELECT id FROM exchanges ORDER BY id DESC LIMIT ?)`, limit)
	if err != nil {
		return fmt.Errorf("failed to cleanup exchanges: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
