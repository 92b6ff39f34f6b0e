package activity

import (
	"fmt"
	"testing"
)

func TestTrackerLifecycle(t *testing.T) {
	tracker := NewTracker()

	tracker.StartCycle("account-1", "Work CalDAV", 3)

	if !tracker.IsAccountSyncing("account-1") {
		t.Error("expected account-1 to be syncing")
	}
	if tracker.IsAccountSyncing("account-2") {
		t.Error("account-2 should not be syncing")
	}

	tracker.UpdateCalendar("account-1", "Team Calendar", 1)
	tracker.IncrementProgress("account-1", 2, 1, 0, 1, 0, 4)
	tracker.IncrementProgress("account-1", 1, 0, 0, 0, 3, 1)

	active := tracker.GetActive()
	if len(active) != 1 {
		t.Fatalf("expected 1 active cycle, got %d", len(active))
	}
	act := active[0]
	if act.Status != "running" {
		t.Errorf("expected running status, got %s", act.Status)
	}
	if act.CurrentCalendar != "Team Calendar" {
		t.Errorf("expected current calendar, got %s", act.CurrentCalendar)
	}
	if act.EventsCreated != 3 || act.EventsUpdated != 1 || act.EventsSkipped != 1 {
		t.Errorf("unexpected counters: created=%d updated=%d skipped=%d",
			act.EventsCreated, act.EventsUpdated, act.EventsSkipped)
	}
	if act.EventsPushed != 3 {
		t.Errorf("expected 3 pushed, got %d", act.EventsPushed)
	}
	if act.EventsProcessed != 5 {
		t.Errorf("expected 5 processed, got %d", act.EventsProcessed)
	}

	tracker.FinishCycle("account-1", true, "sync complete", nil)

	if tracker.IsAccountSyncing("account-1") {
		t.Error("account-1 should no longer be syncing")
	}
	if len(tracker.GetActive()) != 0 {
		t.Error("expected no active cycles after finish")
	}

	recent := tracker.GetRecent()
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent cycle, got %d", len(recent))
	}
	if recent[0].Status != "completed" {
		t.Errorf("expected completed status, got %s", recent[0].Status)
	}
	if recent[0].CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
	if recent[0].Duration == "" {
		t.Error("expected duration to be set")
	}
}

func TestTrackerPartialAndError(t *testing.T) {
	tracker := NewTracker()

	tracker.StartCycle("account-1", "Work", 1)
	tracker.FinishCycle("account-1", true, "finished with errors", []string{"one event failed"})

	tracker.StartCycle("account-2", "Home", 1)
	tracker.FinishCycle("account-2", false, "connection refused", []string{"connection refused"})

	recent := tracker.GetRecent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent cycles, got %d", len(recent))
	}
	// Newest first
	if recent[0].AccountID != "account-2" || recent[0].Status != "error" {
		t.Errorf("expected account-2 error first, got %s/%s", recent[0].AccountID, recent[0].Status)
	}
	if recent[1].AccountID != "account-1" || recent[1].Status != "partial" {
		t.Errorf("expected account-1 partial, got %s/%s", recent[1].AccountID, recent[1].Status)
	}
}

func TestTrackerRecentCap(t *testing.T) {
	tracker := NewTracker()

	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("account-%d", i)
		tracker.StartCycle(id, "Conn", 1)
		tracker.FinishCycle(id, true, "done", nil)
	}

	recent := tracker.GetRecent()
	if len(recent) != 20 {
		t.Fatalf("expected recent list capped at 20, got %d", len(recent))
	}
	if recent[0].AccountID != "account-24" {
		t.Errorf("expected newest cycle first, got %s", recent[0].AccountID)
	}
}

func TestTrackerFinishUnknownAccount(t *testing.T) {
	tracker := NewTracker()

	// Finishing a cycle that never started must not panic or record anything.
	tracker.FinishCycle("ghost", true, "done", nil)

	if len(tracker.GetRecent()) != 0 {
		t.Error("expected no recent entries")
	}
}

func TestTrackerCopiesState(t *testing.T) {
	tracker := NewTracker()
	tracker.StartCycle("account-1", "Work", 1)

	active := tracker.GetActive()
	active[0].EventsCreated = 99

	tracker.IncrementProgress("account-1", 1, 0, 0, 0, 0, 1)
	fresh := tracker.GetActive()
	if fresh[0].EventsCreated != 1 {
		t.Errorf("tracker state leaked through returned copy: created=%d", fresh[0].EventsCreated)
	}
}
