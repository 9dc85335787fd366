// Package session holds the per-port mutable state of the tracker: the live
// session, the pair-work window, the last accepted instruction and the port
// connection flags. One Registry guards everything behind a single mutex;
// handlers mutate through short critical sections and readers work from
// snapshot copies, so no caller ever holds the lock across I/O.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
)

// Session is the per-port work-session state. Values are plain data so a
// struct copy is a usable snapshot.
type Session struct {
	Status      string
	WorkerCD    string
	Worker2CD   string // second operator, pair mode only
	ProcessCD   string
	Instruction string // active instruction payload

	WorkerLabel  string
	Worker2Label string
	ProcessLabel string
	CheckNo      string
	CheckNoLabel string
	Timer        string // frozen timer string while not WORKING

	StartTime time.Time // non-zero iff Status == StatusWorking

	// PendingStatus is a one-shot status override scanned while no record
	// was open; the next insert consumes it.
	PendingStatus string
}

// PairState is the pair-work bookkeeping for one port.
type PairState struct {
	PairMode      bool
	RecentWorkers []string // time-ordered, max 3, trailing-window pruned
	LastWorkerAt  time.Time
}

func (p PairState) clone() PairState {
	p.RecentWorkers = append([]string(nil), p.RecentWorkers...)
	return p
}

// Registry is the lock-guarded arena of per-port state. Ports are registered
// once at startup and live until shutdown.
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	pairs        map[string]*PairState
	lastAccepted map[string]string
	connected    map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		pairs:        make(map[string]*PairState),
		lastAccepted: make(map[string]string),
		connected:    make(map[string]bool),
	}
}

// InitPort registers a port with its configured defaults. Existing state for
// the port is replaced.
func (r *Registry) InitPort(port, workerCD, processCD, workerLabel, processLabel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[port] = &Session{
		Status:       model.StatusWaiting,
		WorkerCD:     workerCD,
		ProcessCD:    processCD,
		WorkerLabel:  workerLabel,
		ProcessLabel: processLabel,
		CheckNoLabel: "      ",
		Timer:        "00:00",
	}
	r.pairs[port] = &PairState{}
	delete(r.lastAccepted, port)
	r.connected[port] = false
}

// Ports returns the registered port names, sorted.
func (r *Registry) Ports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ports := make([]string, 0, len(r.sessions))
	for p := range r.sessions {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}

// Snapshot returns copies of the session and pair state for a port. ok is
// false when the port was never registered.
func (r *Registry) Snapshot(port string) (Session, PairState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[port]
	if !ok {
		return Session{}, PairState{}, false
	}
	return *s, r.pairs[port].clone(), true
}

// Update runs fn on the live session for port under the lock. fn must not
// block.
func (r *Registry) Update(port string, fn func(s *Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[port]; ok {
		fn(s)
	}
}

// TakePendingStatus consumes and clears the one-shot status override.
func (r *Registry) TakePendingStatus(port string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[port]
	if !ok {
		return ""
	}
	v := s.PendingStatus
	s.PendingStatus = ""
	return v
}

// LastAccepted returns the port's most recently accepted instruction code,
// or "".
func (r *Registry) LastAccepted(port string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAccepted[port]
}

// SetLastAccepted replaces the port's accepted instruction; empty clears it.
func (r *Registry) SetLastAccepted(port, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payload == "" {
		delete(r.lastAccepted, port)
		return
	}
	r.lastAccepted[port] = payload
}

// SetConnected flags the port's serial link state.
func (r *Registry) SetConnected(port string, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[port] = up
}

// Connected reports whether the port's serial link is up.
func (r *Registry) Connected(port string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[port]
}

// MarkWorking stamps the session as WORKING from start, caching the display
// strings the timer task renders.
func (r *Registry) MarkWorking(port, instruction, checkNo, checkNoLabel string, start time.Time) {
	r.Update(port, func(s *Session) {
		s.Status = model.StatusWorking
		s.Instruction = instruction
		s.CheckNo = checkNo
		s.CheckNoLabel = checkNoLabel
		s.StartTime = start
		s.Timer = "00:00"
	})
}

// MarkEnded freezes the session at ENDED, fixing the timer at the elapsed
// value so the display keeps showing the final time.
func (r *Registry) MarkEnded(port string, now time.Time) {
	r.Update(port, func(s *Session) {
		if !s.StartTime.IsZero() {
			s.Timer = model.FormatTimer(now.Sub(s.StartTime))
		}
		s.Status = model.StatusEnded
		s.StartTime = time.Time{}
	})
}
