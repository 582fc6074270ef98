package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutAndStampsTime(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "batch.progress", Data: map[string]any{"created": 5}})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		assert.Equal(t, "batch.progress", ev.Type)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})

	assert.Equal(t, "one", (<-ch).Type)
	assert.Equal(t, uint64(1), Dropped(b))
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}

func TestSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4, "batch.")
	defer unsub()

	b.Publish(Event{Type: "login"})
	b.Publish(Event{Type: "batch.end"})

	require.Len(t, ch, 1)
	assert.Equal(t, "batch.end", (<-ch).Type)
	assert.Zero(t, Dropped(b))
}
