package fanout

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/engine/event"
)

func rec(ts string, nodeID string) event.Record {
	return event.Record{Timestamp: ts, Event: event.NodeStart(nodeID, nodeID)}
}

func TestSubscribeReceivesPrefixThenLive(t *testing.T) {
	h := NewHub()
	h.Open("exec-1")

	h.Publish("exec-1", rec("t1", "a"))
	h.Publish("exec-1", rec("t2", "b"))

	sub, err := h.Subscribe("exec-1", "")
	require.NoError(t, err)
	defer sub.Cancel()

	require.Len(t, sub.Prefix, 2)
	assert.Equal(t, "t1", sub.Prefix[0].Timestamp)
	assert.Equal(t, "t2", sub.Prefix[1].Timestamp)

	h.Publish("exec-1", rec("t3", "c"))
	live := <-sub.Live
	assert.Equal(t, "t3", live.Timestamp)
}

func TestSubscribeResumeAfterTimestamp(t *testing.T) {
	h := NewHub()
	h.Open("exec-1")
	h.Publish("exec-1", rec("t1", "a"))
	h.Publish("exec-1", rec("t2", "b"))
	h.Publish("exec-1", rec("t3", "c"))

	sub, err := h.Subscribe("exec-1", "t1")
	require.NoError(t, err)
	defer sub.Cancel()

	require.Len(t, sub.Prefix, 2)
	assert.Equal(t, "t2", sub.Prefix[0].Timestamp)
}

func TestSubscribeUnknownExecution(t *testing.T) {
	h := NewHub()
	_, err := h.Subscribe("nope", "")
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestCloseEndsLiveChannels(t *testing.T) {
	h := NewHub()
	h.Open("exec-1")

	sub, err := h.Subscribe("exec-1", "")
	require.NoError(t, err)

	h.Publish("exec-1", rec("t1", "a"))
	h.Close("exec-1")

	var got []event.Record
	for r := range sub.Live {
		got = append(got, r)
	}
	require.Len(t, got, 1)

	// The stream is retired; later subscribers fall back to the journal.
	_, err = h.Subscribe("exec-1", "")
	assert.ErrorIs(t, err, ErrNoStream)

	// Publishing after close is a no-op.
	h.Publish("exec-1", rec("t2", "b"))
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := NewHub()
	h.Open("exec-1")

	slow, err := h.Subscribe("exec-1", "")
	require.NoError(t, err)

	// Fill the buffer and push one past it without draining.
	for i := 0; i <= subscriberBuffer; i++ {
		h.Publish("exec-1", rec(fmt.Sprintf("t%05d", i), "a"))
	}

	// The channel was closed on overflow; draining it terminates.
	count := 0
	for range slow.Live {
		count++
	}
	assert.Equal(t, subscriberBuffer, count)
	assert.Zero(t, h.SubscriberCount())

	// A fresh subscriber still sees the full history.
	fresh, err := h.Subscribe("exec-1", "")
	require.NoError(t, err)
	defer fresh.Cancel()
	assert.Len(t, fresh.Prefix, subscriberBuffer+1)
}

func TestCancelIsIdempotent(t *testing.T) {
	h := NewHub()
	h.Open("exec-1")

	sub, err := h.Subscribe("exec-1", "")
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()
	assert.Zero(t, h.SubscriberCount())

	// Cancelling after the hub closed the stream must not panic either.
	sub2, err := h.Subscribe("exec-1", "")
	require.NoError(t, err)
	h.Close("exec-1")
	sub2.Cancel()
}
