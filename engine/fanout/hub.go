// Package fanout multiplexes a running execution's event stream to any
// number of live subscribers. Each execution gets a stream holding the
// full record history; a subscriber joining mid-run receives the prefix
// after its resume timestamp before any live record, in append order.
package fanout

import (
	"errors"
	"sync"

	"github.com/skeinworks/skein/engine/event"
)

// ErrNoStream is returned when subscribing to an execution the hub is not
// carrying (never started here, or already retired). Callers fall back to
// the persisted journal.
var ErrNoStream = errors.New("no live stream for execution")

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind the stream is dropped rather than allowed to stall
// the publisher.
const subscriberBuffer = 512

// Hub tracks one stream per in-flight execution
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

// stream is the event history plus live subscribers of one execution
type stream struct {
	mu      sync.Mutex
	history []event.Record
	subs    map[*Subscription]bool
	closed  bool
}

// Subscription is one subscriber's view of a stream. Consume Prefix first,
// then range over Live until it closes. Cancel is idempotent and must be
// called when the consumer goes away.
type Subscription struct {
	// Prefix holds the records that predate the subscription, already
	// filtered by the resume timestamp.
	Prefix []event.Record

	// Live delivers records published after the subscription was taken.
	// Closed when the execution ends or the subscriber is dropped.
	Live <-chan event.Record

	live   chan event.Record
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription from its stream
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{streams: make(map[string]*stream)}
}

// Open registers a stream for a starting execution
func (h *Hub) Open(executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[executionID]; !ok {
		h.streams[executionID] = &stream{subs: make(map[*Subscription]bool)}
	}
}

// Publish appends a record to the execution's stream and fans it out.
// Publishes to an unknown execution are dropped; the journal is the
// durable record either way.
func (h *Hub) Publish(executionID string, rec event.Record) {
	h.mu.RLock()
	st := h.streams[executionID]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}

	st.history = append(st.history, rec)
	for sub := range st.subs {
		select {
		case sub.live <- rec:
		default:
			// Subscriber is not keeping up; drop it so the stream stays live
			// for everyone else.
			delete(st.subs, sub)
			close(sub.live)
		}
	}
}

// Subscribe attaches to a live execution. Records with timestamps greater
// than afterTimestamp that were published before this call arrive in
// Prefix; everything later arrives on Live. Taking the prefix and
// registering happen under the stream lock, so no record is missed or
// duplicated between the two.
func (h *Hub) Subscribe(executionID string, afterTimestamp string) (*Subscription, error) {
	h.mu.RLock()
	st := h.streams[executionID]
	h.mu.RUnlock()
	if st == nil {
		return nil, ErrNoStream
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, ErrNoStream
	}

	var prefix []event.Record
	for _, rec := range st.history {
		if afterTimestamp == "" || rec.Timestamp > afterTimestamp {
			prefix = append(prefix, rec)
		}
	}

	live := make(chan event.Record, subscriberBuffer)
	sub := &Subscription{Prefix: prefix, Live: live, live: live}
	sub.cancel = func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.subs[sub] {
			delete(st.subs, sub)
			close(live)
		}
	}

	st.subs[sub] = true
	return sub, nil
}

// Close ends an execution's stream: live subscriber channels close and the
// stream is retired. Late consumers read the persisted journal instead.
func (h *Hub) Close(executionID string) {
	h.mu.Lock()
	st := h.streams[executionID]
	delete(h.streams, executionID)
	h.mu.Unlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	for sub := range st.subs {
		delete(st.subs, sub)
		close(sub.live)
	}
}

// SubscriberCount reports the live subscribers across all streams
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, st := range h.streams {
		st.mu.Lock()
		count += len(st.subs)
		st.mu.Unlock()
	}
	return count
}
