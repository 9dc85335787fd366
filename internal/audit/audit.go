// Package audit is the fallback safety net: when persistence fails, the
// scan is appended to a size-rotated local log and optionally shipped to an
// S3-compatible bucket, so no scan is silently lost.
package audit

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/akfujita/prodtrac/internal/idgen"
)

const (
	logName        = "qr_fallback.log"
	maxLogBytes    = 1_000_000
	maxGenerations = 5
)

// Entry is one fallback line. Err may be nil for informational entries such
// as a close that matched no open record.
type Entry struct {
	Context string // which operation failed
	Status  string // error or processing state, e.g. "DB_ERROR"
	Port    string
	Payload string
	Err     error
}

// Logger appends fallback entries to a rotating file. Writing never blocks
// the ingestion path for long; rotation happens inline when the active file
// exceeds the size cap.
type Logger struct {
	mu      sync.Mutex
	dir     string
	log     *slog.Logger
	now     func() time.Time
	shipper Shipper // optional, nil when shipping is not configured
}

// Shipper receives a copy of every rotated-out log generation.
type Shipper interface {
	Ship(name string, data []byte) error
}

func NewLogger(dir string, log *slog.Logger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Logger{dir: dir, log: log, now: time.Now}, nil
}

// SetShipper attaches a destination for rotated-out generations.
func (l *Logger) SetShipper(s Shipper) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shipper = s
}

// Write appends one entry. An entry carries a generated scan-event id so the
// line can be matched with a raw payload dump of the same scan. Failures are
// logged and swallowed; the auditor is the last resort and must never take
// the pipeline down with it.
func (l *Logger) Write(e Entry) string {
	id, err := idgen.Generate()
	if err != nil {
		id = "sc-unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s, %s, %s, %s, port=%s, qr=%s", ts, id, e.Context, e.Status, e.Port, e.Payload)
	if e.Err != nil {
		line += fmt.Sprintf(", err=%v", e.Err)
	}
	line += "\n"

	if err := l.rotateLocked(len(line)); err != nil {
		l.log.Warn("audit rotation failed", "error", err)
	}

	path := filepath.Join(l.dir, logName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Warn("audit write failed", "error", err)
		return id
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		l.log.Warn("audit write failed", "error", err)
	}
	return id
}

// DumpRaw saves the untouched payload of a rejected scan to its own file,
// named by the scan-event id returned by Write.
func (l *Logger) DumpRaw(id string, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.dir, "raw_"+id+".txt")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		l.log.Warn("raw payload dump failed", "error", err, "path", path)
	}
}

// rotateLocked shifts generations down when the next write would push the
// active file over the cap: log -> log.1 -> ... -> log.5, oldest dropped.
// The rotated-out first generation is also handed to the shipper if one is
// configured.
func (l *Logger) rotateLocked(pending int) error {
	path := filepath.Join(l.dir, logName)
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if st.Size()+int64(pending) <= maxLogBytes {
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", path, maxGenerations)
	_ = os.Remove(oldest)
	for i := maxGenerations - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", path, i)
		to := fmt.Sprintf("%s.%d", path, i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return err
			}
		}
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return err
	}

	if l.shipper != nil {
		data, err := os.ReadFile(path + ".1")
		if err != nil {
			return err
		}
		name := "qr_fallback_" + l.now().Format("20060102150405") + ".log"
		if err := l.shipper.Ship(name, data); err != nil {
			l.log.Warn("audit ship failed", "error", err, "name", name)
		}
	}
	return nil
}
