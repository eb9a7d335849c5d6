package mesh

import (
	"sync"
	"time"
)

const (
	defaultEchoWindow  = 30 * time.Second
	defaultEchoEntries = 32
)

type echoEntry struct {
	text   string
	sentAt time.Time
}

// EchoTracker remembers the broadcasts the bot itself recently transmitted,
// so the router can drop the immediate radio-hardware echo of its own send
// instead of reprocessing it as a new inbound broadcast.
//
// It is a bounded recency set, not a log: entries age out of the window and
// the set is swept on every Record call. Record is expected to run before
// the message is actually transmitted.
type EchoTracker struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	entries []echoEntry
	now     func() time.Time
}

func NewEchoTracker() *EchoTracker {
	return &EchoTracker{
		window:  defaultEchoWindow,
		maxSize: defaultEchoEntries,
		now:     time.Now,
	}
}

// Record stores text with the current timestamp, sweeping expired and
// excess entries.
func (t *EchoTracker) Record(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)
	t.entries = append(t.entries, echoEntry{text: text, sentAt: now})
	if len(t.entries) > t.maxSize {
		t.entries = t.entries[len(t.entries)-t.maxSize:]
	}
}

// Matches reports whether text exactly matches a recorded broadcast within
// the recency window.
func (t *EchoTracker) Matches(text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.window)
	for _, e := range t.entries {
		if e.sentAt.After(cutoff) && e.text == text {
			return true
		}
	}
	return false
}

func (t *EchoTracker) sweepLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.sentAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}
