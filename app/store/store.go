// Package store persists users, usage events, chat history and processed
// billing notifications in Postgres or SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// forUpdate is the row lock suffix. SQLite transactions are opened with
// BEGIN IMMEDIATE and already hold the write lock.
func (d Dialect) forUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q       querier
	dialect Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.dialect.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.rebind(query), args...)
}

// Repositories groups the table accessors bound to one connection or
// transaction.
type Repositories struct {
	Users         *UserRepository
	Usage         *UsageRepository
	Chats         *ChatRepository
	BillingEvents *BillingEventRepository
}

func newRepositories(c conn) Repositories {
	return Repositories{
		Users:         &UserRepository{c},
		Usage:         &UsageRepository{c},
		Chats:         &ChatRepository{c},
		BillingEvents: &BillingEventRepository{c},
	}
}

// Transactor is what services need from the store: plain repositories and
// transactions.
type Transactor interface {
	Repos() Repositories
	Begin(ctx context.Context) (*Tx, error)
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	repos   Repositories
}

// DefaultBusyTimeout is how long a SQLite writer waits for the write lock.
const DefaultBusyTimeout = 30 * time.Second

type openOptions struct {
	busyTimeout time.Duration
}

type OpenOption func(*openOptions)

// WithBusyTimeout sets how long a SQLite writer waits for another
// transaction's write lock before failing with SQLITE_BUSY. Quota admission
// holds that lock across a model call, so this must outlast the model
// timeout. It has no effect on PostgreSQL, which locks rows.
func WithBusyTimeout(d time.Duration) OpenOption {
	return func(o *openOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// Open connects to url. postgres:// and postgresql:// URLs use lib/pq;
// sqlite://path and file: URLs use the pure Go SQLite driver.
func Open(ctx context.Context, url string, opts ...OpenOption) (*Store, error) {
	o := openOptions{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	dialect, driver, dsn, err := parseURL(url, o)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if dialect == DialectSQLite {
		// writers queue on BEGIN IMMEDIATE; readers share the WAL
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return New(db, dialect), nil
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		repos:   newRepositories(conn{q: db, dialect: dialect}),
	}
}

func parseURL(url string, o openOptions) (Dialect, string, string, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DialectPostgres, "postgres", url, nil
	case strings.HasPrefix(url, "sqlite://"):
		return DialectSQLite, "sqlite", sqliteDSN(strings.TrimPrefix(url, "sqlite://"), o.busyTimeout), nil
	case strings.HasPrefix(url, "file:"):
		return DialectSQLite, "sqlite", url, nil
	case url == "":
		return "", "", "", errors.New("empty database url")
	}
	return "", "", "", fmt.Errorf("unsupported database url scheme: %q", url)
}

// SQLiteDSN builds a DSN for path with foreign keys, the default busy
// timeout, WAL and write-locking transactions.
func SQLiteDSN(path string) string {
	return sqliteDSN(path, DefaultBusyTimeout)
}

func sqliteDSN(path string, busy time.Duration) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, busy.Milliseconds())
}

func (s *Store) Repos() Repositories { return s.repos }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Begin opens a read committed transaction. Callers serialize per user by
// locking the user row with UserRepository.GetForUpdate.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, repos: newRepositories(conn{q: tx, dialect: s.dialect})}, nil
}

type Tx struct {
	tx    *sql.Tx
	repos Repositories
}

func (t *Tx) Repos() Repositories { return t.repos }

func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback is safe to defer after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// InTx runs fn in a transaction and commits when fn returns nil.
func InTx(ctx context.Context, s Transactor, fn func(r Repositories) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx.Repos()); err != nil {
		return err
	}
	return tx.Commit()
}

func utc(t time.Time) time.Time { return t.UTC() }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
