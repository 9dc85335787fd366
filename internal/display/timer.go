package display

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
	"github.com/akfujita/prodtrac/internal/session"
)

// joinTimeout bounds how long Restart waits for the previous render loop to
// exit before starting the next one.
const joinTimeout = 2 * time.Second

// Synchronizer drives the per-port 1Hz timer rendering. Each port has at
// most one render loop; replacing it bumps a generation counter so a stale
// loop that missed its stop signal can never paint over a newer session.
type Synchronizer struct {
	reg  *session.Registry
	disp Display
	log  *slog.Logger
	now  func() time.Time

	mu    sync.Mutex
	gens  map[string]uint64
	tasks map[string]*renderTask
}

type renderTask struct {
	gen      uint64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSynchronizer(reg *session.Registry, disp Display, log *slog.Logger) *Synchronizer {
	return &Synchronizer{
		reg:   reg,
		disp:  disp,
		log:   log,
		now:   time.Now,
		gens:  map[string]uint64{},
		tasks: map[string]*renderTask{},
	}
}

// Restart stops the port's current render loop, waits for it to exit, and
// starts a fresh one that paints immediately.
func (s *Synchronizer) Restart(port string) {
	s.mu.Lock()
	prev := s.tasks[port]
	s.gens[port]++
	gen := s.gens[port]
	s.mu.Unlock()

	s.join(port, prev)

	task := &renderTask{
		gen:  gen,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	// A concurrent Restart may have advanced the generation while we waited.
	if s.gens[port] != gen {
		s.mu.Unlock()
		close(task.done)
		return
	}
	s.tasks[port] = task
	s.mu.Unlock()

	go s.run(port, task)
}

// Stop halts the port's render loop without starting a new one.
func (s *Synchronizer) Stop(port string) {
	s.mu.Lock()
	prev := s.tasks[port]
	delete(s.tasks, port)
	s.gens[port]++
	s.mu.Unlock()

	s.join(port, prev)
}

// StopAll halts every render loop. Used at shutdown.
func (s *Synchronizer) StopAll() {
	s.mu.Lock()
	tasks := make(map[string]*renderTask, len(s.tasks))
	for port, t := range s.tasks {
		tasks[port] = t
		s.gens[port]++
	}
	s.tasks = map[string]*renderTask{}
	s.mu.Unlock()

	for port, t := range tasks {
		s.join(port, t)
	}
}

func (s *Synchronizer) join(port string, t *renderTask) {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() { close(t.stop) })
	select {
	case <-t.done:
	case <-time.After(joinTimeout):
		s.log.Warn("render loop did not stop in time", "port", port)
	}
}

// PaintOnce renders the port's current frame immediately, outside any render
// loop. Used for state changes that must be visible without waiting for the
// next tick.
func (s *Synchronizer) PaintOnce(port string) {
	f, ok := s.frame(port)
	if !ok {
		return
	}
	if err := s.disp.ShowFrame(context.Background(), f); err != nil {
		s.log.Warn("frame publish failed", "port", port, "error", err)
	}
}

func (s *Synchronizer) current(port string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[port] == gen
}

func (s *Synchronizer) run(port string, t *renderTask) {
	defer close(t.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last Frame
	rendered := false
	paint := func() {
		f, ok := s.frame(port)
		if !ok {
			return
		}
		if rendered && f == last {
			return
		}
		if err := s.disp.ShowFrame(context.Background(), f); err != nil {
			s.log.Warn("frame publish failed", "port", port, "error", err)
			return
		}
		last = f
		rendered = true
	}

	paint()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !s.current(port, t.gen) {
				return
			}
			paint()
		}
	}
}

// frame builds the next frame for a port from the registry snapshot. While
// the session is working the timer shows elapsed time from the session
// start; otherwise the frozen timer string is repeated. A pair session
// alternates the two worker names on a two-second wall-clock bucket so both
// names stay synchronized across every display tick.
func (s *Synchronizer) frame(port string) (Frame, bool) {
	sess, pair, ok := s.reg.Snapshot(port)
	if !ok {
		return Frame{}, false
	}

	now := s.now()
	timer := sess.Timer
	if sess.Status == model.StatusWorking && !sess.StartTime.IsZero() {
		timer = model.FormatTimer(now.Sub(sess.StartTime))
	}

	worker := sess.WorkerLabel
	if pair.PairMode && sess.Worker2Label != "" && (now.Unix()/2)%2 == 1 {
		worker = sess.Worker2Label
	}

	return Frame{
		Port:    port,
		Status:  sess.Status,
		Timer:   timer,
		Worker:  worker,
		Process: sess.ProcessLabel,
		CheckNo: sess.CheckNoLabel,
		Rework:  sess.PendingStatus != "",
	}, true
}
