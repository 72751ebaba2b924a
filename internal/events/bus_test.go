package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autarch-dev/autarch-sub002/internal/logging"
)

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	bus := NewBus(logging.Nop())
	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	bus.Broadcast(Event{Type: WorkflowCreated, Payload: map[string]any{"workflow_id": "wf_1"}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, WorkflowCreated, ev.Type)
		assert.Equal(t, "wf_1", ev.Payload["workflow_id"])
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(logging.Nop())
	ch, cancel := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)

	// Idempotent.
	cancel()
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	bus := NewBus(logging.Nop())
	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < defaultBuffer+10; i++ {
		bus.Broadcast(Event{Type: TurnMessageDelta})
	}
	// The buffered events are still there; the overflow was dropped, not
	// blocked on.
	assert.Len(t, ch, defaultBuffer)
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	bus := NewBus(logging.Nop())
	bus.Broadcast(Event{Type: SessionStarted})
	assert.Equal(t, 0, bus.SubscriberCount())
}
