// Package dispatch routes classified scan lines to their handlers. Each
// handler owns one classification branch; a line is handled by exactly one.
// Handler failures are absorbed here and audited, so the ingestion loop for
// a port can never be taken down by a bad scan or a store outage.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/akfujita/prodtrac/internal/audit"
	"github.com/akfujita/prodtrac/internal/display"
	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/qr"
	"github.com/akfujita/prodtrac/internal/records"
	"github.com/akfujita/prodtrac/internal/session"
)

// maxPayloadBytes caps what is persisted for an unclassifiable scan, in
// Shift-JIS bytes, to protect the record columns.
const maxPayloadBytes = 400

// reworkNoticeHold is how long the transient "* label" notice stays up.
const reworkNoticeHold = 3 * time.Second

// TimerControl is the subset of the display synchronizer the handlers drive.
type TimerControl interface {
	Restart(port string)
	Stop(port string)
	PaintOnce(port string)
}

// Dispatcher wires one scan line through classification, session mutation,
// record lifecycle and display updates.
type Dispatcher struct {
	reg     *session.Registry
	records *records.Manager
	disp    display.Display
	timers  TimerControl
	audit   *audit.Logger
	log     *slog.Logger
	now     func() time.Time
}

func New(reg *session.Registry, rec *records.Manager, disp display.Display, timers TimerControl, aud *audit.Logger, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		reg:     reg,
		records: rec,
		disp:    disp,
		timers:  timers,
		audit:   aud,
		log:     log,
		now:     time.Now,
	}
}

// HandleLine processes one decoded frame for a port.
func (d *Dispatcher) HandleLine(ctx context.Context, port, line string) {
	scan := qr.Classify(line, d.reg.LastAccepted(port))
	d.log.Debug("scan classified", "port", port, "kind", scan.Kind.String())

	switch scan.Kind {
	case qr.KindEndOrSame:
		d.handleEnd(ctx, port)
	case qr.KindStatus:
		d.handleStatus(ctx, port, scan)
	case qr.KindProcess:
		d.handleProcess(ctx, port, scan)
	case qr.KindWorker:
		d.handleWorker(ctx, port, scan)
	case qr.KindIndirect:
		d.handleIndirect(ctx, port, scan)
	case qr.KindFirstOpen, qr.KindSwitch:
		d.handleInstruction(ctx, port, scan)
	default:
		d.handleUnknown(ctx, port, scan)
	}
}

// handleEnd closes the port's open records and freezes the session at ENDED.
// The local state change always applies; a failed persisted close is audited
// and retried by no one (at-least-once, the audit line is the trail).
func (d *Dispatcher) handleEnd(ctx context.Context, port string) {
	sess, _, ok := d.reg.Snapshot(port)
	if !ok {
		return
	}
	now := d.now()

	payload := d.reg.LastAccepted(port)
	if payload == "" {
		payload = sess.Instruction
	}

	d.timers.Stop(port)
	d.reg.MarkEnded(port, now)
	d.reg.SetLastAccepted(port, "")

	if payload != "" {
		d.closeRecords(ctx, port, payload, sess.WorkerCD, sess.ProcessCD, now)
	}
	d.timers.PaintOnce(port)
}

// closeRecords is the shared close sequence for the end handler and the
// switch path. When the windowed close matches nothing it falls back to an
// unbounded lookup by instruction code, so an open record older than the
// window still gets ended, and gives the audit trail the final word either
// way.
func (d *Dispatcher) closeRecords(ctx context.Context, port, payload, workerCD, processCD string, endAt time.Time) {
	n, err := d.records.Close(ctx, payload, workerCD, processCD, endAt)
	if err != nil {
		d.audit.Write(audit.Entry{Context: "close_records", Status: "DB_ERROR", Port: port, Payload: payload, Err: err})
		d.showError(ctx, port, "E08", display.TempErrorHold)
		return
	}
	if n > 0 {
		return
	}

	rec, err := d.records.FindOpen(ctx, payload)
	if err != nil {
		d.audit.Write(audit.Entry{Context: "close_fallback", Status: "DB_ERROR", Port: port, Payload: payload, Err: err})
		d.showError(ctx, port, "E08", display.TempErrorHold)
		return
	}
	if rec == nil {
		d.audit.Write(audit.Entry{Context: "close_fallback", Status: "NO_OPEN", Port: port, Payload: payload})
		return
	}
	if _, err := d.records.CloseRecord(ctx, rec.Seq, endAt); err != nil {
		d.audit.Write(audit.Entry{Context: "close_fallback", Status: "DB_ERROR", Port: port, Payload: payload, Err: err})
		d.showError(ctx, port, "E08", display.TempErrorHold)
	}
}

// handleStatus applies a rework label to the open records, or parks it as
// the one-shot pending override when nothing is open. Either way the station
// gets a transient "* label" notice.
func (d *Dispatcher) handleStatus(ctx context.Context, port string, scan qr.Scan) {
	sess, pair, ok := d.reg.Snapshot(port)
	if !ok {
		return
	}
	label := scan.StatusLabel

	if sess.Status == model.StatusWorking {
		if _, err := d.records.OverrideStatus(ctx, sess.WorkerCD, sess.ProcessCD, label); err != nil {
			d.audit.Write(audit.Entry{Context: "override_status", Status: "DB_ERROR", Port: port, Payload: scan.Payload, Err: err})
			d.showError(ctx, port, "E08", display.TempErrorHold)
		}
		if pair.PairMode && sess.Worker2CD != "" {
			if _, err := d.records.OverrideStatus(ctx, sess.Worker2CD, sess.ProcessCD, label); err != nil {
				d.audit.Write(audit.Entry{Context: "override_status", Status: "DB_ERROR", Port: port, Payload: scan.Payload, Err: err})
			}
		}
	} else {
		d.reg.Update(port, func(s *session.Session) { s.PendingStatus = label })
	}

	d.showMessage(ctx, port, "* "+label, reworkNoticeHold)
}

// handleProcess switches the station's process code and label. Records and
// the accepted instruction are untouched.
func (d *Dispatcher) handleProcess(ctx context.Context, port string, scan qr.Scan) {
	label, err := d.records.ProcessLabel(ctx, scan.Payload)
	if err != nil {
		d.log.Warn("process label lookup failed", "port", port, "process", scan.Payload, "error", err)
		label = model.MissingLabel
	}
	d.reg.Update(port, func(s *session.Session) {
		s.ProcessCD = scan.Payload
		s.ProcessLabel = label
	})
	d.timers.PaintOnce(port)
}

// handleWorker feeds the pairing window and refreshes worker labels. Pair
// entry gets the celebratory animation; records are never touched here.
func (d *Dispatcher) handleWorker(ctx context.Context, port string, scan qr.Scan) {
	pa := d.reg.RecordWorker(port, scan.WorkerCD, d.now())

	label, err := d.records.WorkerLabel(ctx, pa.WorkerCD)
	if err != nil {
		d.log.Warn("worker label lookup failed", "port", port, "worker", pa.WorkerCD, "error", err)
		label = model.MissingLabel
	}
	var label2 string
	if pa.Worker2CD != "" {
		label2, err = d.records.WorkerLabel(ctx, pa.Worker2CD)
		if err != nil {
			d.log.Warn("worker label lookup failed", "port", port, "worker", pa.Worker2CD, "error", err)
			label2 = model.MissingLabel
		}
	}
	d.reg.Update(port, func(s *session.Session) {
		s.WorkerLabel = label
		s.Worker2Label = label2
	})

	if pa.EnteredPair {
		if err := d.disp.PlayPairAnimation(ctx, port); err != nil {
			d.log.Warn("pair animation failed", "port", port, "error", err)
		}
	}
	d.timers.PaintOnce(port)
}

// handleIndirect opens an indirect-work session immediately. The pending
// status override is deliberately left alone; indirect work always records
// under its own master label and forces WORKING.
func (d *Dispatcher) handleIndirect(ctx context.Context, port string, scan qr.Scan) {
	now := d.now()
	sess, pair, ok := d.reg.Snapshot(port)
	if !ok {
		return
	}

	iw, err := d.records.IndirectWork(ctx, scan.Indirect.Code)
	if err != nil {
		d.audit.Write(audit.Entry{Context: "indirect_lookup", Status: "DB_ERROR", Port: port, Payload: scan.Payload, Err: err})
		iw = &model.IndirectWork{
			WorkCode:     scan.Indirect.Code,
			RecordName:   model.IndirectFallbackStatus,
			DisplayLabel: model.IndirectFallbackLabel,
		}
	}

	req := records.OpenRequest{
		WorkerCD:    sess.WorkerCD,
		ProcessCD:   sess.ProcessCD,
		Status:      iw.RecordName,
		Payload:     scan.Payload,
		WorkerName:  sess.WorkerLabel,
		ProcessName: sess.ProcessLabel,
		StartAt:     now,
	}
	if pair.PairMode && sess.Worker2CD != "" {
		req.Worker2CD = sess.Worker2CD
		req.Worker2Name = sess.Worker2Label
	}
	if _, err := d.records.Open(ctx, req); err != nil {
		d.audit.Write(audit.Entry{Context: "open_indirect", Status: "DB_ERROR", Port: port, Payload: scan.Payload, Err: err})
		d.showError(ctx, port, "E08", display.TempErrorHold)
	}

	d.reg.MarkWorking(port, scan.Payload, "", iw.DisplayLabel, now)
	d.timers.Restart(port)
}

// handleInstruction is the first-open and switch path for standard
// instruction codes. On a switch the close of the previous instruction and
// the open of the new one are separate units; a failed close never blocks
// the open.
func (d *Dispatcher) handleInstruction(ctx context.Context, port string, scan qr.Scan) {
	now := d.now()

	if scan.Kind == qr.KindSwitch {
		prev := d.reg.LastAccepted(port)
		sess, _, _ := d.reg.Snapshot(port)
		if prev != "" {
			d.closeRecords(ctx, port, prev, sess.WorkerCD, sess.ProcessCD, now)
		}
	}

	status := d.reg.TakePendingStatus(port)
	if status == "" {
		status = model.DefaultStatus
	}

	sess, pair, ok := d.reg.Snapshot(port)
	if !ok {
		return
	}
	req := records.OpenRequest{
		WorkerCD:    sess.WorkerCD,
		ProcessCD:   sess.ProcessCD,
		Status:      status,
		Payload:     scan.Payload,
		Fields:      scan.Fields,
		WorkerName:  sess.WorkerLabel,
		ProcessName: sess.ProcessLabel,
		StartAt:     now,
	}
	if pair.PairMode && sess.Worker2CD != "" {
		req.Worker2CD = sess.Worker2CD
		req.Worker2Name = sess.Worker2Label
	}
	if _, err := d.records.Open(ctx, req); err != nil {
		d.audit.Write(audit.Entry{Context: "open_instruction", Status: "DB_ERROR", Port: port, Payload: scan.Payload, Err: err})
		d.showError(ctx, port, "E08", display.TempErrorHold)
	}

	d.reg.MarkWorking(port, scan.Payload, scan.Fields.CheckNo, model.FormatCheckNo(scan.Fields.CheckNo), now)
	d.reg.SetLastAccepted(port, scan.Payload)
	d.timers.Restart(port)
}

// handleUnknown is the final safety valve: persist what arrived, dump the
// raw bytes, tell the operator. The pending override and the accepted
// instruction are never touched from here.
func (d *Dispatcher) handleUnknown(ctx context.Context, port string, scan qr.Scan) {
	now := d.now()
	sess, _, _ := d.reg.Snapshot(port)

	trimmed := qr.TruncateShiftJIS(scan.Payload, maxPayloadBytes)
	id := d.audit.Write(audit.Entry{Context: "handle_error_qr", Status: model.ErrorStatus, Port: port, Payload: trimmed})
	d.audit.DumpRaw(id, qr.EncodeShiftJIS(scan.Payload))

	if err := d.records.RecordError(ctx, sess.WorkerCD, sess.ProcessCD, trimmed, now); err != nil {
		d.audit.Write(audit.Entry{Context: "handle_error_qr", Status: "DB_ERROR", Port: port, Payload: trimmed, Err: err})
		d.showError(ctx, port, "E08", display.TempErrorHold)
		return
	}
	d.showError(ctx, port, "E05", display.TempErrorHold)
}

func (d *Dispatcher) showError(ctx context.Context, port, code string, hold time.Duration) {
	if err := d.disp.ShowError(ctx, port, code, hold); err != nil {
		d.log.Warn("error screen publish failed", "port", port, "code", code, "error", err)
	}
}

func (d *Dispatcher) showMessage(ctx context.Context, port, text string, hold time.Duration) {
	if err := d.disp.ShowMessage(ctx, port, text, hold); err != nil {
		d.log.Warn("message publish failed", "port", port, "error", err)
	}
}
