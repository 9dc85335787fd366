package session

import (
	"testing"
	"time"

	"github.com/akfujita/prodtrac/internal/model"
)

func TestMarkWorkingThenEnded(t *testing.T) {
	r := newTestRegistry(t)
	start := time.Date(2025, 10, 10, 9, 0, 0, 0, time.UTC)

	r.MarkWorking("/dev/ttyACM0", "QR1", "CHK", "HK0001", start)
	s, _, _ := r.Snapshot("/dev/ttyACM0")
	if s.Status != model.StatusWorking {
		t.Fatalf("Status = %q, want working", s.Status)
	}
	if s.StartTime.IsZero() {
		t.Fatal("StartTime must be set while WORKING")
	}
	if s.Timer != "00:00" {
		t.Errorf("Timer = %q, want 00:00", s.Timer)
	}

	r.MarkEnded("/dev/ttyACM0", start.Add(95*time.Second))
	s, _, _ = r.Snapshot("/dev/ttyACM0")
	if s.Status != model.StatusEnded {
		t.Fatalf("Status = %q, want ended", s.Status)
	}
	// start_time is non-null iff WORKING.
	if !s.StartTime.IsZero() {
		t.Error("StartTime must be cleared when the session ends")
	}
	if s.Timer != "01:35" {
		t.Errorf("frozen Timer = %q, want 01:35", s.Timer)
	}
}

func TestTakePendingStatusIsOneShot(t *testing.T) {
	r := newTestRegistry(t)
	r.Update("/dev/ttyACM0", func(s *Session) { s.PendingStatus = "手直し　" })

	if got := r.TakePendingStatus("/dev/ttyACM0"); got != "手直し　" {
		t.Fatalf("first take = %q", got)
	}
	if got := r.TakePendingStatus("/dev/ttyACM0"); got != "" {
		t.Fatalf("second take = %q, want empty", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newTestRegistry(t)
	s, p, _ := r.Snapshot("/dev/ttyACM0")
	s.WorkerCD = "mutated"
	p.RecentWorkers = append(p.RecentWorkers, "mutated")

	live, livePair, _ := r.Snapshot("/dev/ttyACM0")
	if live.WorkerCD == "mutated" || len(livePair.RecentWorkers) != 0 {
		t.Fatal("snapshot mutation leaked into the registry")
	}
}

func TestLastAcceptedLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	if got := r.LastAccepted("/dev/ttyACM0"); got != "" {
		t.Fatalf("fresh port LastAccepted = %q", got)
	}
	r.SetLastAccepted("/dev/ttyACM0", "QR1")
	if got := r.LastAccepted("/dev/ttyACM0"); got != "QR1" {
		t.Fatalf("LastAccepted = %q", got)
	}
	r.SetLastAccepted("/dev/ttyACM0", "")
	if got := r.LastAccepted("/dev/ttyACM0"); got != "" {
		t.Fatalf("cleared LastAccepted = %q", got)
	}
}

func TestPorts(t *testing.T) {
	r := NewRegistry()
	r.InitPort("/dev/ttyACM1", "", "", "", "")
	r.InitPort("/dev/ttyACM0", "", "", "", "")
	got := r.Ports()
	if len(got) != 2 || got[0] != "/dev/ttyACM0" || got[1] != "/dev/ttyACM1" {
		t.Fatalf("Ports() = %v", got)
	}
}
