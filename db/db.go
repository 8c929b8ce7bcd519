package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/domain"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// ErrNotFound is returned by point reads that match no row.
var ErrNotFound = errors.New("not found")

// DB is the sqlite backed store of actors, notes, activities and group memberships.
type DB struct {
	db     *sql.DB
	log    *log.Logger
	policy retrypolicy.RetryPolicy[any]
}

// Options tunes the connection and the retry of transient lock errors.
type Options struct {
	Retries    int
	RetryDelay time.Duration
	Logger     *log.Logger
}

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 20 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Open connects to the database file at path, applies pragmas and runs pending migrations.
// ":memory:" gives a private in-memory database.
func Open(path string, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if path == ":memory:" {
		// every connection would get its own empty database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			opts.Logger.Warn("DB: failed to enable WAL mode", "err", err)
		} else {
			opts.Logger.Debug("DB: journal mode", "mode", journalMode)
		}
	}
	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			opts.Logger.Warn("DB: pragma failed", "pragma", pragma, "err", err)
		}
	}

	db := New(conn, opts)
	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an already opened connection without touching the schema.
func New(conn *sql.DB, opts Options) *DB {
	opts = opts.withDefaults()
	policy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return isTransient(err)
		}).
		WithMaxRetries(opts.Retries).
		WithBackoff(opts.RetryDelay, opts.RetryDelay*10).
		WithJitterFactor(0.25).
		ReturnLastFailure().
		Build()
	return &DB{db: conn, log: opts.Logger, policy: policy}
}

func (db *DB) Close() error {
	return db.db.Close()
}

// SQL exposes the underlying connection for maintenance commands.
func (db *DB) SQL() *sql.DB {
	return db.db
}

// isTransient reports SQLITE_BUSY and SQLITE_LOCKED, including their extended codes.
func isTransient(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code() & 0xff
	return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
}

// wrapTransaction runs f in a transaction. The whole transaction is retried on lock errors.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	_, err := failsafe.With[any](db.policy).WithContext(ctx).Get(func() (any, error) {
		txCtx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		tx, err := db.db.BeginTx(txCtx, nil)
		if err != nil {
			return nil, err
		}
		if err := f(tx); err != nil {
			tx.Rollback()
			return nil, err
		}
		return nil, tx.Commit()
	})
	if err != nil {
		db.log.Error("DB: transaction failed", "err", err)
	}
	return err
}

// read retries a read-only query on lock errors.
func (db *DB) read(ctx context.Context, f func() error) error {
	_, err := failsafe.With[any](db.policy).WithContext(ctx).Get(func() (any, error) {
		return nil, f()
	})
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func insertedId(res sql.Result) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("no row inserted")
	}
	return id, nil
}

// Origins
const (
	sqlInsertOrigin       = `INSERT INTO origins(name, origin_type, host) VALUES (?, ?, ?) ON CONFLICT(name) DO UPDATE SET origin_type = excluded.origin_type, host = excluded.host`
	sqlSelectOriginByName = `SELECT id, name, origin_type, host FROM origins WHERE name = ?`
	sqlSelectOriginById   = `SELECT id, name, origin_type, host FROM origins WHERE id = ?`
	sqlSelectOrigins      = `SELECT id, name, origin_type, host FROM origins ORDER BY id`
)

// EnsureOrigin stores the origin by name and returns it with its local id.
func (db *DB) EnsureOrigin(ctx context.Context, origin domain.Origin) (domain.Origin, error) {
	if !origin.IsValid() {
		return origin, fmt.Errorf("invalid origin %q", origin.Name)
	}
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertOrigin, origin.Name, int(origin.Type), origin.Host); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, sqlSelectOriginByName, origin.Name).Scan(&origin.Id, &origin.Name, &origin.Type, &origin.Host)
	})
	return origin, err
}

func (db *DB) ReadOriginById(ctx context.Context, id int64) (domain.Origin, error) {
	var origin domain.Origin
	err := db.read(ctx, func() error {
		return db.db.QueryRowContext(ctx, sqlSelectOriginById, id).Scan(&origin.Id, &origin.Name, &origin.Type, &origin.Host)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return origin, ErrNotFound
	}
	return origin, err
}

func (db *DB) ReadOrigins(ctx context.Context) ([]domain.Origin, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectOrigins)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var origins []domain.Origin
	for rows.Next() {
		var origin domain.Origin
		if err := rows.Scan(&origin.Id, &origin.Name, &origin.Type, &origin.Host); err != nil {
			return origins, err
		}
		origins = append(origins, origin)
	}
	return origins, rows.Err()
}
