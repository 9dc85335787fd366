package records

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/store"
)

// fakeStore is an in-memory store.RecordStore for lifecycle tests.
type fakeStore struct {
	records   []*model.WorkRecord
	workers   map[string]string
	processes map[string]string
	indirect  map[string]*model.IndirectWork

	nextSeq   int64
	insertErr error
	txErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workers:   map[string]string{},
		processes: map[string]string{},
		indirect:  map[string]*model.IndirectWork{},
	}
}

func (f *fakeStore) InsertRecord(ctx context.Context, rec *model.WorkRecord) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextSeq++
	cp := *rec
	cp.Seq = f.nextSeq
	f.records = append(f.records, &cp)
	return cp.Seq, nil
}

func (f *fakeStore) CloseLatestOpen(ctx context.Context, payload, workerCD, processCD string, endAt time.Time) (int, error) {
	n := 0
	for _, rec := range f.records {
		if rec.Payload != payload || rec.EndAt != nil {
			continue
		}
		end := endAt
		rec.EndAt = &end
		secs := int64(endAt.Sub(rec.StartAt).Seconds())
		rec.WorkTimeSec = &secs
		if workerCD != "" {
			rec.WorkerCD = workerCD
		}
		if processCD != "" {
			rec.ProcessCD = processCD
		}
		n++
	}
	return n, nil
}

func (f *fakeStore) CloseRecord(ctx context.Context, seq int64, endAt time.Time) (int, error) {
	for _, rec := range f.records {
		if rec.Seq != seq || rec.EndAt != nil {
			continue
		}
		end := endAt
		rec.EndAt = &end
		secs := int64(endAt.Sub(rec.StartAt).Seconds())
		rec.WorkTimeSec = &secs
		return 1, nil
	}
	return 0, nil
}

func (f *fakeStore) FindLatestOpen(ctx context.Context, payload string) (*model.WorkRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].Payload == payload && f.records[i].EndAt == nil {
			return f.records[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UpdateOpenStatus(ctx context.Context, workerCD, processCD, status string) (int, error) {
	n := 0
	for _, rec := range f.records {
		if rec.WorkerCD == workerCD && rec.ProcessCD == processCD && rec.EndAt == nil {
			rec.Status = status
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ResolveWorkerLabel(ctx context.Context, workerCD string) (string, error) {
	if label, ok := f.workers[workerCD]; ok {
		return label, nil
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) ResolveProcessLabel(ctx context.Context, processCD string) (string, error) {
	if label, ok := f.processes[processCD]; ok {
		return label, nil
	}
	return "", store.ErrNotFound
}

func (f *fakeStore) ResolveIndirectWork(ctx context.Context, code string) (*model.IndirectWork, error) {
	if iw, ok := f.indirect[code]; ok {
		return iw, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) RunInTransaction(ctx context.Context, fn func(tx store.RecordStore) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	saved := make([]*model.WorkRecord, len(f.records))
	copy(saved, f.records)
	savedSeq := f.nextSeq
	if err := fn(f); err != nil {
		f.records = saved
		f.nextSeq = savedSeq
		return err
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenSolo(t *testing.T) {
	f := newFakeStore()
	m := NewManager(f, testLogger())
	start := time.Now()

	seqs, err := m.Open(context.Background(), OpenRequest{
		WorkerCD:  "12345",
		ProcessCD: "P12A4",
		Status:    model.DefaultStatus,
		Payload:   "payload-1",
		StartAt:   start,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(seqs) != 1 {
		t.Fatalf("seqs = %v, want one", seqs)
	}
	if len(f.records) != 1 || f.records[0].Status != model.DefaultStatus {
		t.Errorf("unexpected records: %+v", f.records)
	}
}

func TestOpenPairSharesStart(t *testing.T) {
	f := newFakeStore()
	m := NewManager(f, testLogger())
	start := time.Now()

	seqs, err := m.Open(context.Background(), OpenRequest{
		WorkerCD:  "11111",
		Worker2CD: "22222",
		ProcessCD: "P12A4",
		Status:    model.DefaultStatus,
		Payload:   "payload-1",
		StartAt:   start,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(seqs) != 2 {
		t.Fatalf("seqs = %v, want two", seqs)
	}
	if !f.records[0].StartAt.Equal(f.records[1].StartAt) {
		t.Error("pair records should share a start time")
	}
	if f.records[0].WorkerCD == f.records[1].WorkerCD {
		t.Error("pair records should carry distinct workers")
	}
}

func TestOpenPairRollsBackOnSecondInsert(t *testing.T) {
	f := newFakeStore()
	m := NewManager(&failSecondStore{fakeStore: f}, testLogger())

	_, err := m.Open(context.Background(), OpenRequest{
		WorkerCD:  "11111",
		Worker2CD: "22222",
		ProcessCD: "P12A4",
		Status:    model.DefaultStatus,
		Payload:   "payload-1",
		StartAt:   time.Now(),
	})
	if err == nil {
		t.Fatal("expected error from second insert")
	}
	if len(f.records) != 0 {
		t.Errorf("records = %d, want rollback to zero", len(f.records))
	}
}

// failSecondStore fails every second InsertRecord call.
type failSecondStore struct {
	*fakeStore
	inserts int
}

func (f *failSecondStore) InsertRecord(ctx context.Context, rec *model.WorkRecord) (int64, error) {
	f.inserts++
	if f.inserts%2 == 0 {
		return 0, errors.New("insert failed")
	}
	return f.fakeStore.InsertRecord(ctx, rec)
}

func (f *failSecondStore) RunInTransaction(ctx context.Context, fn func(tx store.RecordStore) error) error {
	saved := make([]*model.WorkRecord, len(f.records))
	copy(saved, f.records)
	savedSeq := f.nextSeq
	if err := fn(f); err != nil {
		f.records = saved
		f.nextSeq = savedSeq
		return err
	}
	return nil
}

func TestCloseStampsElapsed(t *testing.T) {
	f := newFakeStore()
	m := NewManager(f, testLogger())
	start := time.Now().Add(-95 * time.Second)

	if _, err := m.Open(context.Background(), OpenRequest{
		WorkerCD: "12345", ProcessCD: "P12A4",
		Status: model.DefaultStatus, Payload: "payload-1", StartAt: start,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	n, err := m.Close(context.Background(), "payload-1", "", "", start.Add(95*time.Second))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}
	rec := f.records[0]
	if rec.EndAt == nil || rec.WorkTimeSec == nil || *rec.WorkTimeSec != 95 {
		t.Errorf("unexpected close stamps: %+v", rec)
	}
}

func TestCloseNothingOpen(t *testing.T) {
	f := newFakeStore()
	m := NewManager(f, testLogger())

	n, err := m.Close(context.Background(), "payload-x", "", "", time.Now())
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n != 0 {
		t.Errorf("closed = %d, want 0", n)
	}
}

func TestCloseRecordBySeq(t *testing.T) {
	f := newFakeStore()
	m := NewManager(f, testLogger())
	start := time.Now().Add(-72 * time.Hour)

	seqs, err := m.Open(context.Background(), OpenRequest{
		WorkerCD: "12345", ProcessCD: "P12A4",
		Status: model.DefaultStatus, Payload: "payload-1", StartAt: start,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	n, err := m.CloseRecord(context.Background(), seqs[0], time.Now())
	if err != nil {
		t.Fatalf("CloseRecord: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}
	if f.records[0].EndAt == nil {
		t.Error("record left open")
	}

	// Closing again matches nothing.
	n, err = m.CloseRecord(context.Background(), seqs[0], time.Now())
	if err != nil || n != 0 {
		t.Errorf("second close = %d, %v, want 0, nil", n, err)
	}
}

func TestFindOpenMissingIsNil(t *testing.T) {
	f := newFakeStore()
	m := NewManager(f, testLogger())

	rec, err := m.FindOpen(context.Background(), "payload-x")
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v, want nil", rec)
	}
}

func TestRecordError(t *testing.T) {
	f := newFakeStore()
	m := NewManager(f, testLogger())
	now := time.Now()

	if err := m.RecordError(context.Background(), "12345", "P12A4", "garbled", now); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	rec := f.records[0]
	if rec.Status != model.ErrorStatus {
		t.Errorf("status = %q, want %q", rec.Status, model.ErrorStatus)
	}
	if rec.EndAt == nil || !rec.EndAt.Equal(now) || rec.WorkTimeSec == nil || *rec.WorkTimeSec != 0 {
		t.Errorf("error record should be closed with zero elapsed: %+v", rec)
	}
}

func TestLabelFallbacks(t *testing.T) {
	f := newFakeStore()
	f.workers["12345"] = "山田"
	m := NewManager(f, testLogger())
	ctx := context.Background()

	if label, _ := m.WorkerLabel(ctx, "12345"); label != "山田" {
		t.Errorf("worker label = %q", label)
	}
	if label, _ := m.WorkerLabel(ctx, "99999"); label != model.MissingLabel {
		t.Errorf("missing worker label = %q, want %q", label, model.MissingLabel)
	}
	if label, _ := m.ProcessLabel(ctx, "PXXXX"); label != model.MissingLabel {
		t.Errorf("missing process label = %q, want %q", label, model.MissingLabel)
	}
}

func TestIndirectWorkFallback(t *testing.T) {
	f := newFakeStore()
	f.indirect["0012"] = &model.IndirectWork{
		WorkCode: "0012", RecordName: "清掃作業", DisplayLabel: "清掃　",
	}
	m := NewManager(f, testLogger())
	ctx := context.Background()

	iw, err := m.IndirectWork(ctx, "0012")
	if err != nil || iw.RecordName != "清掃作業" {
		t.Fatalf("IndirectWork = %+v, %v", iw, err)
	}

	iw, err = m.IndirectWork(ctx, "9999")
	if err != nil {
		t.Fatalf("IndirectWork fallback: %v", err)
	}
	if iw.RecordName != model.IndirectFallbackStatus || iw.DisplayLabel != model.IndirectFallbackLabel {
		t.Errorf("fallback = %+v", iw)
	}
}
