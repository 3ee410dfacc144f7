// Package storage keeps lookup and abuse history in SQLite. By default the
// database lives in memory and disappears with the process.
package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/woozymasta/sampinfo/assets"
	"github.com/woozymasta/sampinfo/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// MemoryPath selects a private in-memory database.
const MemoryPath = ":memory:"

// DefaultLimit caps history listings when no limit is given.
const DefaultLimit = 100

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New opens the database at path, MemoryPath when empty, and runs migrations.
func New(ctx context.Context, path string) (*Repository, error) {
	if path == "" {
		path = MemoryPath
	}

	memory := path == MemoryPath || strings.HasPrefix(path, "file::memory:")

	dsn := path
	if !memory {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if memory {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, assets.Migrations()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// InsertLookup appends one lookup to the history.
func (r *Repository) InsertLookup(ctx context.Context, e models.LookupEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lookups (at, server, backend, country, error, latency_ms, players, online, cached)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), e.Server, e.Backend, e.Country, e.Error, e.LatencyMs, e.Players, e.Online, e.Cached,
	)

	return err
}

// InsertAbuse appends one abuse event to the history.
func (r *Repository) InsertAbuse(ctx context.Context, e models.AbuseEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO abuse_events (at, client_id, pattern, requests, block_count, blacklisted)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), e.ClientID, e.Pattern, e.Requests, e.BlockCount, e.Blacklisted,
	)

	return err
}

// LookupFilter narrows Lookups.
type LookupFilter struct {
	// Server matches the "host:port" key exactly when not empty.
	Server string

	// Limit is DefaultLimit when not positive.
	Limit int
}

// Lookups returns recorded lookups, newest first.
func (r *Repository) Lookups(ctx context.Context, f LookupFilter) ([]models.LookupEvent, error) {
	query := `
		SELECT id, at, server, backend, country, error, latency_ms, players, online, cached
		FROM lookups
		WHERE 1=1
	`
	var args []any

	if f.Server != "" {
		query += " AND server = ?"
		args = append(args, f.Server)
	}

	query += " ORDER BY at DESC, id DESC LIMIT ?"
	args = append(args, limit(f.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]models.LookupEvent, 0)
	for rows.Next() {
		var (
			e  models.LookupEvent
			at int64
		)
		if err := rows.Scan(
			&e.ID, &at, &e.Server, &e.Backend, &e.Country, &e.Error,
			&e.LatencyMs, &e.Players, &e.Online, &e.Cached,
		); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// Attacks returns recorded abuse events, newest first.
func (r *Repository) Attacks(ctx context.Context, n int) ([]models.AbuseEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, at, client_id, pattern, requests, block_count, blacklisted
		FROM abuse_events
		ORDER BY at DESC, id DESC
		LIMIT ?`, limit(n))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]models.AbuseEvent, 0)
	for rows.Next() {
		var (
			e  models.AbuseEvent
			at int64
		)
		if err := rows.Scan(
			&e.ID, &at, &e.ClientID, &e.Pattern, &e.Requests, &e.BlockCount, &e.Blacklisted,
		); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// Summary aggregates the lookup history.
type Summary struct {
	Lookups     int64 `json:"lookups"`
	Cached      int64 `json:"cached"`
	Failed      int64 `json:"failed"`
	Servers     int64 `json:"servers"`
	AbuseEvents int64 `json:"abuse_events"`
}

// Summarize returns lookup and abuse totals recorded since the given time.
func (r *Repository) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	var s Summary

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(cached), 0),
		       COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT server)
		FROM lookups
		WHERE at >= ?`, since.UnixMilli(),
	).Scan(&s.Lookups, &s.Cached, &s.Failed, &s.Servers)
	if err != nil {
		return s, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM abuse_events WHERE at >= ?`, since.UnixMilli(),
	).Scan(&s.AbuseEvents)

	return s, err
}

// Prune deletes history older than before and returns the number of removed rows.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for _, query := range []string{
		`DELETE FROM lookups WHERE at < ?`,
		`DELETE FROM abuse_events WHERE at < ?`,
	} {
		res, err := r.db.ExecContext(ctx, query, before.UnixMilli())
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}
