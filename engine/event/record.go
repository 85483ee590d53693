package event

import (
	"sync"
	"time"
)

// TimestampLayout is fixed-width so that lexicographic comparison of two
// timestamps matches their chronological order; RFC3339Nano trims trailing
// zeros and breaks that property. All timestamps are UTC.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one journal line: a monotonic timestamp plus the event
type Record struct {
	Timestamp string `json:"timestamp"`
	Event     Event  `json:"event"`
}

// Clock issues strictly increasing timestamps for one execution's journal.
// Two events landing on the same nanosecond get bumped apart so the
// timestamp alone identifies a position in the stream.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

// Next returns the next timestamp in TimestampLayout
func (c *Clock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now.Format(TimestampLayout)
}
