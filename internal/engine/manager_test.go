package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_DispatchOrderAndUnsubscribe(t *testing.T) {
	h := &Handle{id: "t-1", subs: make(map[int]func(Event))}

	var seen []string
	unsubA := h.OnEvent(func(ev Event) { seen = append(seen, "a:"+ev.Text) })
	h.OnEvent(func(ev Event) { seen = append(seen, "b:"+ev.Text) })

	h.dispatch(Event{Kind: KindMessage, Text: "one"})
	assert.Equal(t, []string{"a:one", "b:one"}, seen, "subscribers run in registration order")

	unsubA()
	h.dispatch(Event{Kind: KindMessage, Text: "two"})
	assert.Equal(t, []string{"a:one", "b:one", "b:two"}, seen)
}

func TestHandle_UnsubscribeIsIdempotent(t *testing.T) {
	h := &Handle{id: "t-1", subs: make(map[int]func(Event))}

	calls := 0
	unsub := h.OnEvent(func(Event) { calls++ })
	unsub()
	unsub()

	h.dispatch(Event{Kind: KindThinking})
	assert.Equal(t, 0, calls)
}

func TestManager_AttachIsIdempotent(t *testing.T) {
	// Unreachable engine: streams will fail and back off, which is fine for
	// attachment identity checks.
	c := NewClient("http://127.0.0.1:1", "", zerolog.Nop())
	m := NewManager(c, zerolog.Nop())
	defer m.Shutdown()

	h1, err := m.GetExistingThread(context.Background(), "t-9", "demo", "slackbot")
	require.NoError(t, err)
	h2, err := m.GetExistingThread(context.Background(), "t-9", "demo", "slackbot")
	require.NoError(t, err)

	assert.Same(t, h1, h2, "one handle per thread id per process")
}

func TestManager_RejectsEmptyThreadID(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", zerolog.Nop())
	m := NewManager(c, zerolog.Nop())
	defer m.Shutdown()

	_, err := m.GetExistingThread(context.Background(), "", "demo", "slackbot")
	assert.Error(t, err)
}

func TestManager_ShutdownClearsPool(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", zerolog.Nop())
	m := NewManager(c, zerolog.Nop())

	h1, err := m.GetExistingThread(context.Background(), "t-1", "demo", "slackbot")
	require.NoError(t, err)
	m.Shutdown()

	// A fresh attachment after shutdown yields a new handle.
	h2, err := m.GetExistingThread(context.Background(), "t-1", "demo", "slackbot")
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	m.Shutdown()
}
