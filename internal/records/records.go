// Package records implements the work-record lifecycle on top of the store:
// opening one or two records per session, closing everything open for an
// instruction, and rewriting status on open records.
package records

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/store"
)

// Manager coordinates record lifecycle operations. Each exported method is
// one transactional unit; a session switch is a Close followed by an Open so
// a failed close never blocks the new session from starting.
type Manager struct {
	store store.RecordStore
	log   *slog.Logger
}

func NewManager(st store.RecordStore, log *slog.Logger) *Manager {
	return &Manager{store: st, log: log}
}

// OpenRequest describes the records to open for one accepted instruction
// scan. Worker2CD is set only for a pair session; both records then share
// StartAt so their work_time_sec match at close.
type OpenRequest struct {
	WorkerCD    string
	Worker2CD   string
	ProcessCD   string
	Status      string
	Payload     string
	Fields      model.InstructionFields
	WorkerName  string
	Worker2Name string
	ProcessName string
	StartAt     time.Time
}

// Open inserts the session's records in a single transaction and returns
// their sequence numbers.
func (m *Manager) Open(ctx context.Context, req OpenRequest) ([]int64, error) {
	var seqs []int64
	err := m.store.RunInTransaction(ctx, func(tx store.RecordStore) error {
		seqs = seqs[:0]
		seq, err := tx.InsertRecord(ctx, &model.WorkRecord{
			WorkerCD:    req.WorkerCD,
			ProcessCD:   req.ProcessCD,
			Status:      req.Status,
			StartAt:     req.StartAt,
			Payload:     req.Payload,
			Fields:      req.Fields,
			WorkerName:  req.WorkerName,
			ProcessName: req.ProcessName,
		})
		if err != nil {
			return err
		}
		seqs = append(seqs, seq)

		if req.Worker2CD == "" {
			return nil
		}
		seq2, err := tx.InsertRecord(ctx, &model.WorkRecord{
			WorkerCD:    req.Worker2CD,
			ProcessCD:   req.ProcessCD,
			Status:      req.Status,
			StartAt:     req.StartAt,
			Payload:     req.Payload,
			Fields:      req.Fields,
			WorkerName:  req.Worker2Name,
			ProcessName: req.ProcessName,
		})
		if err != nil {
			return err
		}
		seqs = append(seqs, seq2)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("records opened", "count", len(seqs), "worker", req.WorkerCD, "process", req.ProcessCD)
	return seqs, nil
}

// Close stamps end time and elapsed seconds on every open record for the
// payload. Returns the number of records closed; zero means nothing was open
// inside the lookback window, which the caller may treat as already closed.
func (m *Manager) Close(ctx context.Context, payload, workerCD, processCD string, endAt time.Time) (int, error) {
	n, err := m.store.CloseLatestOpen(ctx, payload, workerCD, processCD, endAt)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		m.log.Warn("close matched no open records", "worker", workerCD, "process", processCD)
	} else {
		m.log.Info("records closed", "count", n, "worker", workerCD, "process", processCD)
	}
	return n, nil
}

// CloseRecord ends one specific record by sequence, bypassing the lookback
// window. Used after FindOpen located a stale open record the normal close
// could not match.
func (m *Manager) CloseRecord(ctx context.Context, seq int64, endAt time.Time) (int, error) {
	n, err := m.store.CloseRecord(ctx, seq, endAt)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		m.log.Warn("close by sequence matched nothing", "seq", seq)
	} else {
		m.log.Info("stale record closed", "seq", seq)
	}
	return n, nil
}

// OverrideStatus rewrites the status on the worker's open records, typically
// from a rework scan arriving mid-session.
func (m *Manager) OverrideStatus(ctx context.Context, workerCD, processCD, status string) (int, error) {
	return m.store.UpdateOpenStatus(ctx, workerCD, processCD, status)
}

// FindOpen returns the most recent open record for the payload regardless of
// age, or nil when none exists.
func (m *Manager) FindOpen(ctx context.Context, payload string) (*model.WorkRecord, error) {
	rec, err := m.store.FindLatestOpen(ctx, payload)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordError persists a zero-length record for a payload no classifier
// branch accepted, so malformed scans remain visible in the database.
func (m *Manager) RecordError(ctx context.Context, workerCD, processCD, payload string, at time.Time) error {
	end := at
	zero := int64(0)
	_, err := m.store.InsertRecord(ctx, &model.WorkRecord{
		WorkerCD:    workerCD,
		ProcessCD:   processCD,
		Status:      model.ErrorStatus,
		StartAt:     at,
		EndAt:       &end,
		WorkTimeSec: &zero,
		Payload:     payload,
	})
	return err
}

// WorkerLabel resolves a worker code to its display name, falling back to
// the missing-master label so the display never shows a blank name.
func (m *Manager) WorkerLabel(ctx context.Context, workerCD string) (string, error) {
	label, err := m.store.ResolveWorkerLabel(ctx, workerCD)
	if errors.Is(err, store.ErrNotFound) {
		return model.MissingLabel, nil
	}
	if err != nil {
		return "", err
	}
	return label, nil
}

// ProcessLabel resolves a process code to its display name, falling back to
// the missing-master label.
func (m *Manager) ProcessLabel(ctx context.Context, processCD string) (string, error) {
	label, err := m.store.ResolveProcessLabel(ctx, processCD)
	if errors.Is(err, store.ErrNotFound) {
		return model.MissingLabel, nil
	}
	if err != nil {
		return "", err
	}
	return label, nil
}

// IndirectWork resolves an indirect-work code. A missing master row falls
// back to the generic indirect labels rather than rejecting the scan.
func (m *Manager) IndirectWork(ctx context.Context, code string) (*model.IndirectWork, error) {
	iw, err := m.store.ResolveIndirectWork(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return &model.IndirectWork{
			WorkCode:     code,
			RecordName:   model.IndirectFallbackStatus,
			DisplayLabel: model.IndirectFallbackLabel,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return iw, nil
}
