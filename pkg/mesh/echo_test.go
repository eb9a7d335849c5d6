package mesh

import (
	"fmt"
	"testing"
	"time"
)

func TestEchoTracker_RecordThenMatch(t *testing.T) {
	tracker := NewEchoTracker()

	tracker.Record("5678: Hello")
	if !tracker.Matches("5678: Hello") {
		t.Error("recorded text must match within the window")
	}
	if tracker.Matches("5678: Goodbye") {
		t.Error("unrelated text must not match")
	}
}

func TestEchoTracker_WindowExpiry(t *testing.T) {
	now := time.Now()
	tracker := NewEchoTracker()
	tracker.now = func() time.Time { return now }

	tracker.Record("stale broadcast")
	now = now.Add(defaultEchoWindow + time.Second)

	if tracker.Matches("stale broadcast") {
		t.Error("entries older than the window must not match")
	}
}

func TestEchoTracker_Bounded(t *testing.T) {
	tracker := NewEchoTracker()
	for i := 0; i < defaultEchoEntries*4; i++ {
		tracker.Record(fmt.Sprintf("msg %d", i))
	}

	tracker.mu.Lock()
	n := len(tracker.entries)
	tracker.mu.Unlock()
	if n > defaultEchoEntries {
		t.Errorf("tracker holds %d entries, cap is %d", n, defaultEchoEntries)
	}

	// Newest entries survive the sweep.
	if !tracker.Matches(fmt.Sprintf("msg %d", defaultEchoEntries*4-1)) {
		t.Error("most recent entry evicted")
	}
}
