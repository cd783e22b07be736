package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"salesgrid.io/internal/access"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
	pgErrInsufficientPriv    = "42501"
)

var errNoDB = errors.New("database connection unavailable")

type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an already opened handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

// WithViewer runs fn in a transaction whose row-level security policies see
// viewerID as the current viewer. The setting is transaction-local.
func (s *Store) WithViewer(ctx context.Context, viewerID string, fn func(*sql.Tx) error) error {
	if s.db == nil {
		return errNoDB
	}
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return fmt.Errorf("%w: viewer is required", access.ErrUnauthenticated)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select set_config('app.viewer_id', $1, true)`, viewerID); err != nil {
		return fmt.Errorf("set viewer: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapPgError turns constraint violations into access sentinels.
func mapPgError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", access.ErrNotFound, what)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s already exists", access.ErrConflict, what)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing user", access.ErrNotFound, what)
		case pgErrCheckViolation:
			return fmt.Errorf("%w: %s: %s", access.ErrInvalidInput, what, pgErr.ConstraintName)
		case pgErrInsufficientPriv:
			// Row-level security refusing a write.
			return fmt.Errorf("%w: %s", access.ErrForbidden, what)
		}
	}
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}
