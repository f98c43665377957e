// Package effectqueue journals perk effects whose on-chain burn
// confirmed but whose backend write failed. Entries are only ever
// retried by explicit user action: phase 1 already happened and must
// not be resubmitted, so nothing here retries on its own.
package effectqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS failed_effects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_code TEXT NOT NULL,
	game_player_id INTEGER NOT NULL,
	body TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS failed_effects_unresolved
	ON failed_effects (resolved_at) WHERE resolved_at IS NULL;
`

// Entry is one journaled effect.
type Entry struct {
	ID           int64
	GameCode     string
	GamePlayerID int64
	Body         []byte
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Queue is a sqlite-backed journal.
type Queue struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at dsn. ":memory:" works
// for tests.
func Open(dsn string) (*Queue, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open effect queue: %w", err)
	}
	// Serialized access; the journal sees one writer at a time anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init effect queue schema: %w", err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error { return q.db.Close() }

// Enqueue journals a failed effect and returns its id.
func (q *Queue) Enqueue(ctx context.Context, gameCode string, gamePlayerID int64, body []byte) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO failed_effects (game_code, game_player_id, body, created_at)
		 VALUES (?, ?, ?, ?)`,
		gameCode, gamePlayerID, string(body), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("enqueue effect: %w", err)
	}
	return res.LastInsertId()
}

// Pending returns unresolved entries, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, game_code, game_player_id, body, created_at
		 FROM failed_effects WHERE resolved_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pending effects: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var body string
		if err := rows.Scan(&e.ID, &e.GameCode, &e.GamePlayerID, &body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending effect: %w", err)
		}
		e.Body = []byte(body)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one entry by id, resolved or not.
func (q *Queue) Get(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	var body string
	var resolved sql.NullTime
	err := q.db.QueryRowContext(ctx,
		`SELECT id, game_code, game_player_id, body, created_at, resolved_at
		 FROM failed_effects WHERE id = ?`, id).
		Scan(&e.ID, &e.GameCode, &e.GamePlayerID, &body, &e.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("effect %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch effect %d: %w", id, err)
	}
	e.Body = []byte(body)
	if resolved.Valid {
		t := resolved.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

// Resolve marks an entry applied.
func (q *Queue) Resolve(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE failed_effects SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve effect %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("effect %d not pending", id)
	}
	return nil
}
