package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handle is the process-local attachment to one engine thread. At most one
// Handle exists per thread id per process; re-attachment returns the same
// Handle instead of opening a second stream.
type Handle struct {
	id     string
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

// ThreadID returns the opaque engine thread id.
func (h *Handle) ThreadID() string { return h.id }

// OnEvent registers a subscriber and returns its unsubscribe function.
// Subscribers run sequentially on the stream goroutine, so each one sees
// events in emission order.
func (h *Handle) OnEvent(fn func(Event)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

func (h *Handle) dispatch(ev Event) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Manager owns the pool of thread handles and their event streams.
type Manager struct {
	client *Client
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates a thread manager over the given engine client.
func NewManager(client *Client, logger zerolog.Logger) *Manager {
	return &Manager{
		client:  client,
		logger:  logger.With().Str("component", "engine.manager").Logger(),
		handles: make(map[string]*Handle),
	}
}

// GetOrCreateThread creates a new engine thread, optionally seeded with an
// initial prompt, and attaches to its event stream.
func (m *Manager) GetOrCreateThread(ctx context.Context, projectName, username, displayName, initialPrompt string) (*Handle, error) {
	id, err := m.client.CreateThread(ctx, CreateThreadRequest{
		Project:       projectName,
		Username:      username,
		DisplayName:   displayName,
		InitialPrompt: initialPrompt,
	})
	if err != nil {
		return nil, err
	}
	return m.attach(id), nil
}

// GetExistingThread attaches to an already-existing engine thread without
// creating anything server-side. Used after a process restart when the
// persisted thread map still knows the id.
func (m *Manager) GetExistingThread(ctx context.Context, threadID, projectName, username string) (*Handle, error) {
	if threadID == "" {
		return nil, fmt.Errorf("empty thread id")
	}
	return m.attach(threadID), nil
}

// SendMessage injects a new user turn into a running thread.
func (m *Manager) SendMessage(ctx context.Context, threadID, prompt string) error {
	return m.client.SendMessage(ctx, threadID, prompt)
}

func (m *Manager) attach(id string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[id]; ok {
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		id:     id,
		cancel: cancel,
		subs:   make(map[int]func(Event)),
	}
	m.handles[id] = h

	go m.run(ctx, h)
	return h
}

// run keeps the thread's event stream open, reconnecting with exponential
// backoff until the handle is shut down.
func (m *Manager) run(ctx context.Context, h *Handle) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		started := time.Now()
		err := m.client.Stream(ctx, h.id, h.dispatch)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Warn().Err(err).Str("thread", h.id).Msg("event stream broke, reconnecting")
		} else {
			m.logger.Debug().Str("thread", h.id).Msg("event stream ended, reconnecting")
		}

		// A stream that held for a while earns a fresh backoff.
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Shutdown cancels every handle's stream and clears the pool.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
}
