package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	_, a, cancelA := h.Subscribe(4)
	defer cancelA()
	_, b, cancelB := h.Subscribe(4)
	defer cancelB()
	require.Equal(t, 2, h.Subscribers())

	h.Publish(EventInbound, "login", map[string]string{"userId": "u1"})

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, EventInbound, ev.Kind)
		assert.Equal(t, "login", ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	_, ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Publish(EventLifecycle, "attach", nil)
	h.Publish(EventLifecycle, "detach", nil)

	ev := <-ch
	assert.Equal(t, "attach", ev.Type)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event %q", ev.Type)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub()
	_, ch, cancel := h.Subscribe(0)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers())

	// publishing after everyone left is fine
	h.Publish(EventOutbound, "x", nil)
}

func TestNilHubPublish(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(EventInbound, "x", nil) })
}
