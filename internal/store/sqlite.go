package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite audit log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures Open.
type Option func(*options)

type options struct {
	busyTimeoutMs int
	now           func() time.Time
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(ms int) Option {
	return func(o *options) { o.busyTimeoutMs = ms }
}

// WithClock overrides the clock used for entries without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open opens or creates the database at path and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{busyTimeoutMs: 5000, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, o.busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; entries are appended in call order.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: o.now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append writes e to stream and returns its id. A zero timestamp is
// replaced with the current time. Timestamps are stored in UTC truncated to
// milliseconds, so a read-back entry is Equal to the appended time at that
// precision but carries the UTC location.
func (s *Store) Append(ctx context.Context, stream Stream, e Entry) (int64, error) {
	table, err := stream.table()
	if err != nil {
		return 0, err
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	date := formatTimestamp(ts)

	var result sql.Result
	if stream == StreamService {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO service_logs (severity, user_caused, message, date, online) VALUES (?, ?, ?, ?, ?)`,
			int(e.Severity), e.UserCaused, e.Message, date, e.Online)
	} else {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO `+table+` (severity, user_caused, message, date) VALUES (?, ?, ?, ?)`,
			int(e.Severity), e.UserCaused, e.Message, date)
	}
	if err != nil {
		return 0, fmt.Errorf("insert %s entry: %w", stream, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Query returns up to limit entries of stream, newest first, skipping offset.
func (s *Store) Query(ctx context.Context, stream Stream, limit, offset int) ([]Entry, error) {
	return s.Search(ctx, stream, Filter{}, limit, offset)
}

// Search returns the entries of stream matching f, newest first.
func (s *Store) Search(ctx context.Context, stream Stream, f Filter, limit, offset int) ([]Entry, error) {
	table, err := stream.table()
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	cols := "id, severity, user_caused, message, date"
	if stream == StreamService {
		cols += ", online"
	}
	where, args := f.where()
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cols+` FROM `+table+where+` ORDER BY date DESC, id DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query %s entries: %w", stream, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			severity int
			date     string
		)
		dest := []any{&e.ID, &severity, &e.UserCaused, &e.Message, &date}
		if stream == StreamService {
			dest = append(dest, &e.Online)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s entry: %w", stream, err)
		}
		e.Severity = Severity(severity)
		if e.Timestamp, err = time.Parse(TimestampLayout, date); err != nil {
			return nil, fmt.Errorf("parse timestamp of entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries of stream matching f.
func (s *Store) Count(ctx context.Context, stream Stream, f Filter) (int, error) {
	table, err := stream.table()
	if err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	where, args := f.where()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s entries: %w", stream, err)
	}
	return n, nil
}

// SchemaVersion verifies the expected tables exist and returns the applied
// schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if err := ValidateSchema(ctx, s.db); err != nil {
		return 0, err
	}
	return schemaVersion(ctx, s.db)
}

// Reset drops both streams and recreates them empty. Ids restart at 1.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	if err := rollbackAll(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return MigrateDB(ctx, s.db)
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Search != "" {
		clauses = append(clauses, `LOWER(message) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(f.Search))+"%")
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "date >= ? AND date <= ?")
		args = append(args, formatTimestamp(f.Since), formatTimestamp(f.Until))
	}
	if f.Severity != nil {
		clauses = append(clauses, "severity = ?")
		args = append(args, int(*f.Severity))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
