package store

import (
	"context"
	"errors"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
)

// ErrNotFound is returned by the master-table resolvers when a code has no
// row.
var ErrNotFound = errors.New("store: not found")

// RecordStore is the persistence contract for work-interval records and the
// master-table lookups. All calls are safe to retry at the unit-of-work
// acquisition layer; business failures inside a transaction roll back only
// that transaction.
type RecordStore interface {
	// InsertRecord persists one open work record and returns its sequence.
	InsertRecord(ctx context.Context, rec *model.WorkRecord) (int64, error)

	// CloseLatestOpen ends the newest open record for payload within the
	// close lookback window, stamping end time and worked seconds. Non-empty
	// workerCD/processCD overwrite the stored row when they differ (labels
	// scanned after the open). Returns the number of rows closed (0 or 1).
	CloseLatestOpen(ctx context.Context, payload, workerCD, processCD string, endAt time.Time) (int, error)

	// FindLatestOpen returns the newest open record for payload regardless
	// of age, or ErrNotFound. This is the fallback lookup for records that
	// aged out of the close window.
	FindLatestOpen(ctx context.Context, payload string) (*model.WorkRecord, error)

	// CloseRecord ends one specific open record by sequence with no window
	// bound, stamping end time and worked seconds. Returns the number of
	// rows closed (0 or 1).
	CloseRecord(ctx context.Context, seq int64, endAt time.Time) (int, error)

	// UpdateOpenStatus rewrites the status label of the newest open record
	// for (workerCD, processCD). Returns the number of rows updated.
	UpdateOpenStatus(ctx context.Context, workerCD, processCD, status string) (int, error)

	// Master lookups; ErrNotFound when the code is unregistered.
	ResolveWorkerLabel(ctx context.Context, workerCD string) (string, error)
	ResolveProcessLabel(ctx context.Context, processCD string) (string, error)
	ResolveIndirectWork(ctx context.Context, code string) (*model.IndirectWork, error)

	// RunInTransaction runs fn inside one transaction, committing on nil
	// and rolling back on error.
	RunInTransaction(ctx context.Context, fn func(tx RecordStore) error) error

	// Lifecycle
	Close() error
}
