package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akfujita/prodtrac/internal/config"
	"github.com/akfujita/prodtrac/internal/display"
	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/session"
)

const testDevice = "/dev/ttyUSB0"

func testPortConfig() config.PortConfig {
	return config.PortConfig{
		Device:    testDevice,
		Baud:      9600,
		DataBits:  8,
		Parity:    "N",
		StopBits:  1,
		Enable:    true,
		WorkerCD:  "10001",
		ProcessCD: "P00A1",
	}
}

type chunk struct {
	data []byte
	err  error
}

// scriptedReader plays back a fixed sequence of reads, then idles with
// timeout-style empty reads.
type scriptedReader struct {
	mu     sync.Mutex
	chunks []chunk
	closed bool
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if len(r.chunks) == 0 {
		r.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	r.mu.Unlock()
	n := copy(p, c.data)
	return n, c.err
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type recordingHandler struct {
	mu    sync.Mutex
	lines []string
	got   chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan string, 16)}
}

func (h *recordingHandler) HandleLine(_ context.Context, _, line string) {
	h.mu.Lock()
	h.lines = append(h.lines, line)
	h.mu.Unlock()
	h.got <- line
}

func (h *recordingHandler) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines...)
}

type errorDisplay struct {
	display.NoopDisplay
	mu    sync.Mutex
	codes []string
}

func (d *errorDisplay) ShowError(_ context.Context, _, code string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = append(d.codes, code)
	return nil
}

func (d *errorDisplay) errorCodes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.codes...)
}

type countingPainter struct {
	paints chan string
}

func newCountingPainter() *countingPainter {
	return &countingPainter{paints: make(chan string, 16)}
}

func (p *countingPainter) PaintOnce(port string) {
	p.paints <- port
}

func waitOn[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

type loopFixture struct {
	loop    *Loop
	reg     *session.Registry
	handler *recordingHandler
	disp    *errorDisplay
	painter *countingPainter
	slept   []time.Duration
}

func newLoopFixture(t *testing.T, readers []io.ReadCloser, openErrs []error) *loopFixture {
	t.Helper()
	fx := &loopFixture{
		reg:     session.NewRegistry(),
		handler: newRecordingHandler(),
		disp:    &errorDisplay{},
		painter: newCountingPainter(),
	}
	fx.reg.InitPort(testDevice, "10001", "P00A1", "山田", "組立")
	fx.loop = NewLoop(testPortConfig(), fx.handler, fx.reg, fx.disp, fx.painter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fx.loop.open = func(config.PortConfig) (io.ReadCloser, error) {
		if len(openErrs) > 0 {
			err := openErrs[0]
			openErrs = openErrs[1:]
			if err != nil {
				return nil, err
			}
		}
		if len(readers) == 0 {
			return nil, errors.New("no reader scripted")
		}
		r := readers[0]
		readers = readers[1:]
		return r, nil
	}
	fx.loop.sleep = func(_ context.Context, d time.Duration) error {
		fx.slept = append(fx.slept, d)
		return nil
	}
	return fx
}

func TestReadFramesAndDecodesLines(t *testing.T) {
	reader := &scriptedReader{chunks: []chunk{
		{data: []byte("AB")},
		{data: []byte("C\r\n\r\nDE")},
		{data: []byte("F\n")},
		{data: []byte{0x82, 0xA0, '\n'}},
		{err: io.EOF},
	}}
	fx := newLoopFixture(t, []io.ReadCloser{reader}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(ctx) }()

	for i := 0; i < 3; i++ {
		waitOn(t, fx.handler.got, "scan line")
	}
	got := fx.handler.all()
	want := []string{"ABC", "DEF", "あ"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("line[%d] = %q, want %q", i, got[i], w)
		}
	}

	// EOF triggers a reconnect cycle with no more scripted readers.
	err := waitOn(t, done, "loop exit")
	if err == nil {
		t.Error("expected reconnect failure after EOF")
	}
}

func TestTrailingWhitespaceStripped(t *testing.T) {
	reader := &scriptedReader{chunks: []chunk{
		{data: []byte("WCD123 \r\n")},
		{data: []byte("   \r\n")},
		{data: []byte("\t\n")},
		{data: []byte("WCD456\n")},
	}}
	fx := newLoopFixture(t, []io.ReadCloser{reader}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(ctx) }()

	for i := 0; i < 2; i++ {
		waitOn(t, fx.handler.got, "scan line")
	}
	got := fx.handler.all()
	want := []string{"WCD123", "WCD456"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("line[%d] = %q, want %q", i, got[i], w)
		}
	}

	cancel()
	waitOn(t, done, "loop exit")
}

type countingReader struct {
	reads atomic.Int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	r.reads.Add(1)
	return 0, nil
}

func (r *countingReader) Close() error { return nil }

func TestIdleReadsArePaced(t *testing.T) {
	reader := &countingReader{}
	fx := newLoopFixture(t, []io.ReadCloser{reader}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()
	waitOn(t, done, "loop exit")

	if n := reader.reads.Load(); n > 10 {
		t.Errorf("idle port read %d times in 120ms, loop is spinning", n)
	}
}

func TestReconnectMarksRetryThenRestores(t *testing.T) {
	first := &scriptedReader{chunks: []chunk{{err: errors.New("read: device gone")}}}
	second := &scriptedReader{}
	fx := newLoopFixture(t, []io.ReadCloser{first, second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(ctx) }()

	waitOn(t, fx.painter.paints, "retry paint")
	waitOn(t, fx.painter.paints, "restore paint")

	sess, _, _ := fx.reg.Snapshot(testDevice)
	if sess.Status != model.StatusWaiting {
		t.Errorf("status after reconnect = %q, want %q", sess.Status, model.StatusWaiting)
	}
	if !fx.reg.Connected(testDevice) {
		t.Error("port not flagged connected after reconnect")
	}

	cancel()
	if err := waitOn(t, done, "loop exit"); !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if !first.closed {
		t.Error("lost reader was not closed")
	}
}

func TestReconnectKeepsWorkingStatus(t *testing.T) {
	first := &scriptedReader{chunks: []chunk{{err: errors.New("read: device gone")}}}
	second := &scriptedReader{}
	fx := newLoopFixture(t, []io.ReadCloser{first, second}, nil)
	fx.reg.MarkWorking(testDevice, "payload", "1", "№001", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.loop.Run(ctx) }()

	waitOn(t, fx.painter.paints, "retry paint")
	waitOn(t, fx.painter.paints, "restore paint")

	sess, _, _ := fx.reg.Snapshot(testDevice)
	if sess.Status != model.StatusWorking {
		t.Errorf("status after reconnect = %q, want %q", sess.Status, model.StatusWorking)
	}

	cancel()
	waitOn(t, done, "loop exit")
}

func TestConnectBackoffAndDeadReader(t *testing.T) {
	openErr := errors.New("open /dev/ttyUSB0: no such device")
	fx := newLoopFixture(t, nil, []error{openErr, openErr, openErr})

	err := fx.loop.Run(context.Background())
	if !errors.Is(err, openErr) {
		t.Fatalf("Run returned %v, want open error", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(fx.slept) != len(want) {
		t.Fatalf("slept %v, want %v", fx.slept, want)
	}
	for i, d := range want {
		if fx.slept[i] != d {
			t.Errorf("backoff[%d] = %v, want %v", i, fx.slept[i], d)
		}
	}
	codes := fx.disp.errorCodes()
	if len(codes) != 1 || codes[0] != "E07" {
		t.Errorf("error codes = %v, want [E07]", codes)
	}
	if fx.reg.Connected(testDevice) {
		t.Error("dead port flagged connected")
	}
}

func TestParityAndStopBitMapping(t *testing.T) {
	if parityOf("E") == parityOf("O") {
		t.Error("even and odd parity map to the same value")
	}
	if parityOf("X") != parityOf("N") {
		t.Error("unknown parity should fall back to none")
	}
	if stopBitsOf(2) == stopBitsOf(1) {
		t.Error("stop bit values collide")
	}
}
