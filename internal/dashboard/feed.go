package dashboard

import (
	"sync"
	"time"

	"github.com/glassboard/glassboard/console-engine/pkg/models"
)

// DefaultFeedSize is how many events the runtime retains when no size
// is configured.
const DefaultFeedSize = 512

// Feed is a thread-safe ring buffer of runtime events that supports
// real-time streaming to subscribers. Slow subscribers miss events
// rather than stall the runtime.
type Feed struct {
	mu          sync.RWMutex
	seq         int64
	entries     []models.Event
	maxEntries  int
	subscribers map[chan models.Event]struct{}
}

// NewFeed creates a feed that retains up to maxEntries events.
func NewFeed(maxEntries int) *Feed {
	if maxEntries <= 0 {
		maxEntries = DefaultFeedSize
	}
	return &Feed{
		entries:     make([]models.Event, 0, maxEntries),
		maxEntries:  maxEntries,
		subscribers: make(map[chan models.Event]struct{}),
	}
}

// Emit stamps the event with the next sequence number, appends it to
// the ring, and broadcasts it to all subscribers (non-blocking).
func (f *Feed) Emit(ev models.Event) models.Event {
	f.mu.Lock()
	f.seq++
	ev.Seq = f.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if len(f.entries) >= f.maxEntries {
		// Drop oldest entry
		f.entries = f.entries[1:]
	}
	f.entries = append(f.entries, ev)

	for ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is too slow — drop this event for them
		}
	}
	f.mu.Unlock()
	return ev
}

// Recent returns the last n events for an instance, oldest first.
// An empty instanceID matches every instance.
func (f *Feed) Recent(instanceID string, n int) []models.Event {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || n > len(f.entries) {
		n = len(f.entries)
	}

	result := make([]models.Event, 0, n)
	for i := len(f.entries) - 1; i >= 0 && len(result) < n; i-- {
		if instanceID != "" && f.entries[i].InstanceID != instanceID {
			continue
		}
		result = append(result, f.entries[i])
	}
	// Collected newest-first; flip to chronological order.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Subscribe returns a channel that receives new events as they are
// emitted. Call Unsubscribe when done to avoid leaks.
func (f *Feed) Subscribe() chan models.Event {
	ch := make(chan models.Event, 64) // buffer to reduce blocking
	f.mu.Lock()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (f *Feed) Unsubscribe(ch chan models.Event) {
	f.mu.Lock()
	delete(f.subscribers, ch)
	f.mu.Unlock()
	close(ch)
}
