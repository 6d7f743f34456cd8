package canal

import (
	"context"

	"github.com/p-blackswan/slack-canal/internal/engine"
)

// ThreadHandle is the process-local attachment to one assistant thread.
type ThreadHandle interface {
	ThreadID() string
	// OnEvent subscribes to the thread's event stream and returns an
	// unsubscribe function. Callbacks run sequentially in emission order.
	OnEvent(fn func(engine.Event)) func()
}

// ConversationBridge creates, re-attaches to, and injects messages into
// assistant run-loops. The canal never constructs thread ids itself.
type ConversationBridge interface {
	GetOrCreateThread(ctx context.Context, projectName, username, displayName, initialPrompt string) (ThreadHandle, error)
	GetExistingThread(ctx context.Context, threadID, projectName, username string) (ThreadHandle, error)
	SendMessage(ctx context.Context, threadID, prompt string) error
}

type engineBridge struct {
	mgr *engine.Manager
}

// NewEngineBridge adapts the engine thread manager to the ConversationBridge
// seam.
func NewEngineBridge(mgr *engine.Manager) ConversationBridge {
	return &engineBridge{mgr: mgr}
}

func (b *engineBridge) GetOrCreateThread(ctx context.Context, projectName, username, displayName, initialPrompt string) (ThreadHandle, error) {
	h, err := b.mgr.GetOrCreateThread(ctx, projectName, username, displayName, initialPrompt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (b *engineBridge) GetExistingThread(ctx context.Context, threadID, projectName, username string) (ThreadHandle, error) {
	h, err := b.mgr.GetExistingThread(ctx, threadID, projectName, username)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (b *engineBridge) SendMessage(ctx context.Context, threadID, prompt string) error {
	return b.mgr.SendMessage(ctx, threadID, prompt)
}
