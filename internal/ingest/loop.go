// Package ingest reads newline-framed QR payloads from serial ports and
// feeds them to the scan dispatcher. Each port runs its own loop; a lost
// link is retried with backoff and surfaced on the display when the
// reader stays gone.
package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/akfujita/prodtrac/internal/config"
	"github.com/akfujita/prodtrac/internal/display"
	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/qr"
	"github.com/akfujita/prodtrac/internal/session"
)

const (
	reconnectBase     = time.Second
	reconnectMax      = 30 * time.Second
	reconnectAttempts = 3

	readChunk = 256
	idlePause = 50 * time.Millisecond
)

// Handler consumes one decoded scan line.
type Handler interface {
	HandleLine(ctx context.Context, port, line string)
}

// Painter repaints a port's display frame outside the timer loop.
type Painter interface {
	PaintOnce(port string)
}

// Loop owns the serial read loop for a single configured port.
type Loop struct {
	cfg     config.PortConfig
	handler Handler
	reg     *session.Registry
	disp    display.Display
	painter Painter
	log     *slog.Logger

	open  func(config.PortConfig) (io.ReadCloser, error)
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLoop(cfg config.PortConfig, h Handler, reg *session.Registry, disp display.Display, painter Painter, log *slog.Logger) *Loop {
	return &Loop{
		cfg:     cfg,
		handler: h,
		reg:     reg,
		disp:    disp,
		painter: painter,
		log:     log.With("port", cfg.Device),
		open:    OpenSerial,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run reads scan lines until ctx is cancelled or the port stays
// unreachable through a full reconnect cycle. A dead reader is reported
// on the display and Run returns; other ports keep running.
func (l *Loop) Run(ctx context.Context) error {
	port := l.cfg.Device
	rc, err := l.connect(ctx)
	if err != nil {
		l.reportDead(ctx, err)
		return err
	}
	l.reg.SetConnected(port, true)

	for {
		err := l.read(ctx, rc)
		rc.Close()
		if ctx.Err() != nil {
			l.reg.SetConnected(port, false)
			return ctx.Err()
		}

		l.log.Warn("serial link lost", "error", err)
		l.reg.SetConnected(port, false)
		l.reg.Update(port, func(s *session.Session) {
			s.Status = model.StatusRetry
		})
		l.painter.PaintOnce(port)

		rc, err = l.connect(ctx)
		if err != nil {
			l.reportDead(ctx, err)
			return err
		}
		l.reg.SetConnected(port, true)
		l.reg.Update(port, func(s *session.Session) {
			if s.Status == model.StatusRetry {
				if !s.StartTime.IsZero() {
					s.Status = model.StatusWorking
				} else {
					s.Status = model.StatusWaiting
				}
			}
		})
		l.painter.PaintOnce(port)
		l.log.Info("serial link restored")
	}
}

// connect opens the port, retrying with doubling backoff.
func (l *Loop) connect(ctx context.Context) (io.ReadCloser, error) {
	var lastErr error
	wait := reconnectBase
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		rc, err := l.open(l.cfg)
		if err == nil {
			return rc, nil
		}
		lastErr = err
		l.log.Warn("serial open failed", "attempt", attempt, "error", err)
		if attempt == reconnectAttempts {
			break
		}
		if err := l.sleep(ctx, wait); err != nil {
			return nil, err
		}
		wait *= 2
		if wait > reconnectMax {
			wait = reconnectMax
		}
	}
	return nil, lastErr
}

// read pumps the port until a read error. Lines are framed on '\n' with
// trailing whitespace stripped; lines left empty are discarded. Timeouts
// surface as empty reads, which pace the loop and serve as cancellation
// points.
func (l *Loop) read(ctx context.Context, rc io.Reader) error {
	var pending bytes.Buffer
	buf := make([]byte, readChunk)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := rc.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			l.drain(ctx, &pending)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			// Zero-byte reads are timeouts (or a non-blocking port);
			// pace the loop so an idle port never spins.
			time.Sleep(idlePause)
		}
	}
}

func (l *Loop) drain(ctx context.Context, pending *bytes.Buffer) {
	for {
		raw := pending.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			return
		}
		line := make([]byte, i)
		copy(line, raw[:i])
		pending.Next(i + 1)
		line = bytes.TrimRight(line, "\r\t ")
		if len(line) == 0 {
			continue
		}
		text := qr.DecodeShiftJIS(line)
		l.handler.HandleLine(ctx, l.cfg.Device, text)
	}
}

func (l *Loop) reportDead(ctx context.Context, err error) {
	l.log.Error("serial reader unreachable", "error", err)
	if derr := l.disp.ShowError(ctx, l.cfg.Device, "E07", display.FatalErrorHold); derr != nil {
		l.log.Warn("display error screen failed", "error", derr)
	}
}
