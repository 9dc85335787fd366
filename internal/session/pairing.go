package session

import "time"

// PairWindow is the trailing window within which consecutive worker scans
// form a pair. A gap longer than this resets the window.
const PairWindow = 5 * time.Second

// maxRecentWorkers bounds the scan history; the third scan rotates the
// second partner out while the first worker stays anchored.
const maxRecentWorkers = 3

// PairAssignment is the outcome of one worker scan.
type PairAssignment struct {
	WorkerCD    string
	Worker2CD   string // empty in solo mode
	PairMode    bool
	EnteredPair bool // pair mode switched on by this scan
}

// RecordWorker folds one worker scan into the port's pair window and derives
// the resulting operator assignment. Mode is recomputed from the window
// contents on every scan, never incremented:
//
//	1 recent worker  -> solo, that worker
//	2 recent workers -> pair (first, second)
//	3 recent workers -> pair (first, third)
func (r *Registry) RecordWorker(port, workerCD string, now time.Time) PairAssignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairs[port]
	if !ok {
		return PairAssignment{WorkerCD: workerCD}
	}

	if !p.LastWorkerAt.IsZero() && now.Sub(p.LastWorkerAt) > PairWindow {
		p.RecentWorkers = p.RecentWorkers[:0]
	}
	p.RecentWorkers = append(p.RecentWorkers, workerCD)
	if len(p.RecentWorkers) > maxRecentWorkers {
		p.RecentWorkers = p.RecentWorkers[len(p.RecentWorkers)-maxRecentWorkers:]
	}
	p.LastWorkerAt = now

	wasPair := p.PairMode
	a := PairAssignment{WorkerCD: p.RecentWorkers[0]}
	switch len(p.RecentWorkers) {
	case 1:
		// solo
	case 2:
		a.Worker2CD = p.RecentWorkers[1]
		a.PairMode = true
	default:
		a.Worker2CD = p.RecentWorkers[2]
		a.PairMode = true
	}
	p.PairMode = a.PairMode
	a.EnteredPair = a.PairMode && !wasPair

	if s, ok := r.sessions[port]; ok {
		s.WorkerCD = a.WorkerCD
		s.Worker2CD = a.Worker2CD
	}
	return a
}
