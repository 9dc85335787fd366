// Package postgres implements the store.RecordStore interface backed by
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// acquisition retry policy for beginning a unit of work. Only BeginTx is
// retried; the business operation inside never is.
const (
	txMaxAttempts  = 5
	txBackoffStart = time.Second
)

// PostgresStore implements store.RecordStore backed by a PostgreSQL
// database.
type PostgresStore struct {
	db    *sql.DB
	sleep func(time.Duration) // injected in tests
}

// Compile-time check that PostgresStore implements store.RecordStore.
var _ store.RecordStore = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db, sleep: time.Sleep}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) InsertRecord(ctx context.Context, rec *model.WorkRecord) (int64, error) {
	return queryInsertRecord(ctx, s.db, rec)
}

func (s *PostgresStore) CloseLatestOpen(ctx context.Context, payload, workerCD, processCD string, endAt time.Time) (int, error) {
	return queryCloseLatestOpen(ctx, s.db, payload, workerCD, processCD, endAt)
}

func (s *PostgresStore) FindLatestOpen(ctx context.Context, payload string) (*model.WorkRecord, error) {
	return queryFindLatestOpen(ctx, s.db, payload)
}

func (s *PostgresStore) CloseRecord(ctx context.Context, seq int64, endAt time.Time) (int, error) {
	return queryCloseRecord(ctx, s.db, seq, endAt)
}

func (s *PostgresStore) UpdateOpenStatus(ctx context.Context, workerCD, processCD, status string) (int, error) {
	return queryUpdateOpenStatus(ctx, s.db, workerCD, processCD, status)
}

func (s *PostgresStore) ResolveWorkerLabel(ctx context.Context, workerCD string) (string, error) {
	return queryResolveWorkerLabel(ctx, s.db, workerCD)
}

func (s *PostgresStore) ResolveProcessLabel(ctx context.Context, processCD string) (string, error) {
	return queryResolveProcessLabel(ctx, s.db, processCD)
}

func (s *PostgresStore) ResolveIndirectWork(ctx context.Context, code string) (*model.IndirectWork, error) {
	return queryResolveIndirectWork(ctx, s.db, code)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
// Acquiring the transaction is retried with exponential backoff on transient
// connect failure; fn itself runs at most once.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.RecordStore) error) error {
	var tx *sql.Tx
	var err error
	backoff := txBackoffStart
	for attempt := 1; ; attempt++ {
		tx, err = s.db.BeginTx(ctx, nil)
		if err == nil {
			break
		}
		if attempt == txMaxAttempts || ctx.Err() != nil {
			return fmt.Errorf("begin transaction (attempt %d): %w", attempt, err)
		}
		s.sleep(backoff)
		backoff *= 2
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.RecordStore using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.RecordStore.
var _ store.RecordStore = (*txStore)(nil)

func (s *txStore) InsertRecord(ctx context.Context, rec *model.WorkRecord) (int64, error) {
	return queryInsertRecord(ctx, s.tx, rec)
}

func (s *txStore) CloseLatestOpen(ctx context.Context, payload, workerCD, processCD string, endAt time.Time) (int, error) {
	return queryCloseLatestOpen(ctx, s.tx, payload, workerCD, processCD, endAt)
}

func (s *txStore) FindLatestOpen(ctx context.Context, payload string) (*model.WorkRecord, error) {
	return queryFindLatestOpen(ctx, s.tx, payload)
}

func (s *txStore) CloseRecord(ctx context.Context, seq int64, endAt time.Time) (int, error) {
	return queryCloseRecord(ctx, s.tx, seq, endAt)
}

func (s *txStore) UpdateOpenStatus(ctx context.Context, workerCD, processCD, status string) (int, error) {
	return queryUpdateOpenStatus(ctx, s.tx, workerCD, processCD, status)
}

func (s *txStore) ResolveWorkerLabel(ctx context.Context, workerCD string) (string, error) {
	return queryResolveWorkerLabel(ctx, s.tx, workerCD)
}

func (s *txStore) ResolveProcessLabel(ctx context.Context, processCD string) (string, error) {
	return queryResolveProcessLabel(ctx, s.tx, processCD)
}

func (s *txStore) ResolveIndirectWork(ctx context.Context, code string) (*model.IndirectWork, error) {
	return queryResolveIndirectWork(ctx, s.tx, code)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.RecordStore) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the
// connection.
func (s *txStore) Close() error {
	return nil
}
