package canal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/slack-canal/internal/engine"
	"github.com/p-blackswan/slack-canal/internal/metrics"
	"github.com/p-blackswan/slack-canal/internal/project"
)

const (
	thinkingText = "⏳ _thinking…_"
	welcomeText  = ":wave: Hi! I'm now listening in this channel. Mention me and I'll pick up the conversation."

	// inviteWait bounds how long a re-attached thread is given to emit its
	// first live event after a prompt injection before the reply is allowed
	// to go out unscoped.
	inviteWait = time.Second
)

// thinkingBlocks is the placeholder's block layout. The final reply edits the
// message without blocks, which clears this layout.
func thinkingBlocks() []slack.Block {
	return []slack.Block{
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, thinkingText, false, false),
		),
	}
}

// coords are the Slack coordinates of the most recent inbound message for a
// thread; they decide where and how replies are posted.
type coords struct {
	channel  string
	ts       string
	threadTS string
	isDM     bool
}

// threadState is the transient per-thread Slack state. One per attached
// thread id in this process; it does not survive restarts (the persisted
// thread map does, which is what re-attachment reconciles).
type threadState struct {
	projectName string
	key         string

	mu              sync.Mutex
	thinkingChannel string
	thinkingTS      string
	last            coords

	unsubscribe func()
}

func (s *threadState) setCoords(co coords) {
	s.mu.Lock()
	s.last = co
	s.mu.Unlock()
}

// Options configures a Canal.
type Options struct {
	Projects ProjectService
	Bridge   ConversationBridge
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// NewPoster overrides Slack Web API client construction (tests).
	NewPoster func(botToken string) Poster
}

// Canal routes inbound Slack events to assistant threads and forwards
// assistant output back to Slack.
type Canal struct {
	projects  ProjectService
	bridge    ConversationBridge
	registry  *Registry
	verifier  *Verifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	newPoster func(botToken string) Poster

	mu      sync.Mutex
	states  map[string]*threadState // thread id → state
	posters map[string]Poster       // project name → poster

	sockets sync.WaitGroup
	sockMu  sync.Mutex
	cancels map[string]context.CancelFunc // project name → socket cancel
	sockUp  map[string]bool               // project name → connection up
}

// New creates a Canal.
func New(opts Options) *Canal {
	newPoster := opts.NewPoster
	if newPoster == nil {
		newPoster = NewPosterFromToken
	}
	return &Canal{
		projects:  opts.Projects,
		bridge:    opts.Bridge,
		registry:  NewRegistry(opts.Projects),
		verifier:  NewVerifier(),
		metrics:   opts.Metrics,
		logger:    opts.Logger.With().Str("component", "canal").Logger(),
		newPoster: newPoster,
		states:    make(map[string]*threadState),
		posters:   make(map[string]Poster),
		cancels:   make(map[string]context.CancelFunc),
		sockUp:    make(map[string]bool),
	}
}

// HandleInbound is the shared inbound-message handler for both transports.
// The event must already have passed ShouldHandle.
func (c *Canal) HandleInbound(ctx context.Context, projectName string, ev *MessageEvent) {
	cfg, ok := c.projects.SlackConfig(projectName)
	if !ok {
		return
	}

	key := BuildThreadKey(ev.Channel, ev.ThreadTimestamp, ev.Timestamp, ev.ChannelType)
	prompt := StripBotMention(ev.Text, cfg.BotUserID)
	if prompt == "" {
		c.logger.Debug().Str("channel", ev.Channel).Msg("mention-only message, nothing to forward")
		return
	}

	co := coords{
		channel:  ev.Channel,
		ts:       ev.Timestamp,
		threadTS: ev.ThreadTimestamp,
		isDM:     ev.IsDM(),
	}

	threadID, found := c.registry.Lookup(projectName, key)
	if !found {
		if !cfg.AutoCreateThreads {
			c.logger.Info().
				Str("project", projectName).
				Str("key", key).
				Msg("no thread mapped and auto-create disabled, dropping message")
			return
		}
		c.createThread(ctx, projectName, cfg, key, prompt, co)
		return
	}

	c.mu.Lock()
	st := c.states[threadID]
	c.mu.Unlock()

	if st == nil {
		// Restart case: the mapping survived but the in-memory state did
		// not. Re-attach to the existing thread, never create a new one.
		handle, err := c.bridge.GetExistingThread(ctx, threadID, projectName, cfg.Username)
		if err != nil {
			c.logger.Error().Err(err).Str("thread", threadID).Msg("failed to re-attach to thread")
			return
		}
		c.attach(projectName, key, handle, co)

		// Subscribe before injecting so an event emitted during the
		// injection call itself is not missed.
		wait, cancelWait := c.firstEventWaiter(handle)
		if err := c.bridge.SendMessage(ctx, threadID, prompt); err != nil {
			cancelWait()
			c.logger.Error().Err(err).Str("thread", threadID).Msg("failed to inject prompt after re-attach")
			return
		}
		wait()
		return
	}

	st.setCoords(co)
	if err := c.bridge.SendMessage(ctx, threadID, prompt); err != nil {
		c.logger.Error().Err(err).Str("thread", threadID).Msg("failed to inject prompt")
	}
}

func (c *Canal) createThread(ctx context.Context, projectName string, cfg project.SlackConfig, key, prompt string, co coords) {
	displayName := c.channelDisplayName(ctx, projectName, cfg, co.channel)

	// The new thread's run loop receives the prompt as its seed; no further
	// injection call is needed.
	handle, err := c.bridge.GetOrCreateThread(ctx, projectName, cfg.Username, displayName, prompt)
	if err != nil {
		c.logger.Error().Err(err).Str("project", projectName).Str("key", key).Msg("failed to create thread")
		return
	}

	if err := c.registry.Persist(projectName, key, handle.ThreadID()); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to persist thread mapping")
	}
	c.attach(projectName, key, handle, co)

	c.logger.Info().
		Str("project", projectName).
		Str("key", key).
		Str("thread", handle.ThreadID()).
		Msg("thread created")
}

// HandleChannelJoin runs the welcome flow: create an unseeded thread for the
// channel if none exists yet, then greet the channel directly.
func (c *Canal) HandleChannelJoin(ctx context.Context, projectName string, ev *MessageEvent) {
	cfg, ok := c.projects.SlackConfig(projectName)
	if !ok {
		return
	}

	key := ev.Channel
	if _, found := c.registry.Lookup(projectName, key); found {
		c.logger.Debug().Str("channel", ev.Channel).Msg("channel already has a thread, skipping welcome")
		return
	}

	displayName := c.channelDisplayName(ctx, projectName, cfg, ev.Channel)
	handle, err := c.bridge.GetOrCreateThread(ctx, projectName, cfg.Username, displayName, "")
	if err != nil {
		c.logger.Error().Err(err).Str("channel", ev.Channel).Msg("failed to create welcome thread")
		return
	}
	if err := c.registry.Persist(projectName, key, handle.ThreadID()); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to persist thread mapping")
	}
	c.attach(projectName, key, handle, coords{channel: ev.Channel})

	if _, err := c.poster(projectName, cfg).PostMessage(ev.Channel, welcomeText, ""); err != nil {
		c.logger.Warn().Err(err).Str("channel", ev.Channel).Msg("failed to post welcome message")
		c.metrics.RecordSlackAPIError("post_message")
	}
}

// attach ensures exactly one state and one subscription per thread id.
// Re-attaching an already-attached thread only refreshes its coordinates.
func (c *Canal) attach(projectName, key string, handle ThreadHandle, co coords) *threadState {
	id := handle.ThreadID()

	c.mu.Lock()
	if st, ok := c.states[id]; ok {
		c.mu.Unlock()
		st.setCoords(co)
		return st
	}
	st := &threadState{projectName: projectName, key: key, last: co}
	// Subscribe before the state becomes visible: Shutdown must never see a
	// published state whose unsubscribe is still unset.
	st.unsubscribe = handle.OnEvent(func(ev engine.Event) {
		c.forward(id, ev)
	})
	c.states[id] = st
	c.mu.Unlock()

	c.metrics.ThreadsActive.Inc()
	return st
}

// firstEventWaiter registers a one-shot subscription for the thread's next
// live event. wait blocks until that event arrives or the bounded wait
// elapses; cancel releases the subscription without waiting. Used around
// prompt re-injection so the reply correlates with the fresh inbound
// coordinates.
func (c *Canal) firstEventWaiter(handle ThreadHandle) (wait, cancel func()) {
	got := make(chan struct{}, 1)
	unsub := handle.OnEvent(func(ev engine.Event) {
		if ev.Replayed {
			return
		}
		select {
		case got <- struct{}{}:
		default:
		}
	})

	wait = func() {
		defer unsub()
		select {
		case <-got:
		case <-time.After(inviteWait):
			c.logger.Warn().Str("thread", handle.ThreadID()).Msg("timed out waiting for thread to pick up injected prompt")
		}
	}
	return wait, unsub
}

// forward handles one assistant event for an attached thread. Replayed
// events never trigger platform calls.
func (c *Canal) forward(threadID string, ev engine.Event) {
	if ev.Replayed {
		return
	}

	c.mu.Lock()
	st := c.states[threadID]
	c.mu.Unlock()
	if st == nil {
		return
	}

	cfg, ok := c.projects.SlackConfig(st.projectName)
	if !ok {
		return
	}

	switch ev.Kind {
	case engine.KindThinking:
		c.metrics.RecordForwarded("thinking")
		c.showThinking(st, cfg, threadID)
	case engine.KindMessage:
		if ev.Role != engine.RoleAssistant {
			return
		}
		c.metrics.RecordForwarded("message")
		c.deliverReply(st, cfg, threadID, ev.Text)
	case engine.KindError:
		c.logger.Warn().Str("thread", threadID).Str("text", ev.Text).Msg("engine reported error")
	default:
		c.logger.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown event kind")
	}
}

// showThinking renders or refreshes the single thinking placeholder for the
// thread. At most one placeholder is outstanding at a time; consecutive
// thinking events edit it in place instead of posting again.
func (c *Canal) showThinking(st *threadState, cfg project.SlackConfig, threadID string) {
	poster := c.poster(st.projectName, cfg)

	st.mu.Lock()
	thinkingCh, thinkingTS := st.thinkingChannel, st.thinkingTS
	st.mu.Unlock()

	if thinkingTS != "" {
		if err := poster.UpdateMessage(thinkingCh, thinkingTS, thinkingText, thinkingBlocks()...); err != nil {
			c.logger.Warn().Err(err).Str("thread", threadID).Msg("failed to refresh thinking indicator")
			c.metrics.RecordSlackAPIError("update_message")
		}
		return
	}

	channel, threadTS, ok := c.destination(st, cfg, threadID)
	if !ok {
		c.logger.Debug().Str("thread", threadID).Msg("no destination for thinking indicator")
		return
	}

	ts, err := poster.PostBlocks(channel, threadTS, thinkingText, thinkingBlocks()...)
	if err != nil {
		c.logger.Warn().Err(err).Str("thread", threadID).Msg("failed to post thinking indicator")
		c.metrics.RecordSlackAPIError("post_message")
		return
	}

	st.mu.Lock()
	st.thinkingChannel, st.thinkingTS = channel, ts
	st.mu.Unlock()
}

// deliverReply sends the final assistant message: it replaces the thinking
// placeholder with a single edit when one exists, otherwise posts fresh
// using the reply-threading rules. The placeholder reference is cleared
// before any posting so it is never left dangling.
func (c *Canal) deliverReply(st *threadState, cfg project.SlackConfig, threadID, raw string) {
	text := FormatMrkdwn(raw)
	poster := c.poster(st.projectName, cfg)

	st.mu.Lock()
	thinkingCh, thinkingTS := st.thinkingChannel, st.thinkingTS
	st.thinkingChannel, st.thinkingTS = "", ""
	last := st.last
	st.mu.Unlock()

	if thinkingTS != "" {
		err := poster.UpdateMessage(thinkingCh, thinkingTS, text)
		if err == nil {
			return
		}
		c.logger.Warn().Err(err).Str("thread", threadID).Msg("failed to edit placeholder into reply, posting fresh")
		c.metrics.RecordSlackAPIError("update_message")
	}

	channel := last.channel
	threadTS := replyThreadTS(last)
	if channel == "" {
		var ok bool
		channel, threadTS, ok = c.destination(st, cfg, threadID)
		if !ok {
			c.logger.Debug().Str("thread", threadID).Msg("no destination for assistant reply")
			return
		}
	}

	if _, err := poster.PostMessage(channel, text, threadTS); err != nil {
		c.logger.Error().Err(err).Str("thread", threadID).Str("channel", channel).Msg("failed to post assistant reply")
		c.metrics.RecordSlackAPIError("post_message")
	}
}

// replyThreadTS picks the thread timestamp for a fresh reply. DM replies
// follow the inbound message's thread when it had one, else its own
// timestamp, so the reply stays inside the active chat flow. Channel replies
// always target the inbound message's timestamp.
func replyThreadTS(last coords) string {
	if last.isDM {
		if last.threadTS != "" {
			return last.threadTS
		}
		return last.ts
	}
	return last.ts
}

// destination resolves where a thread's output goes. A key mapped in the
// thread map targets its own channel/thread; otherwise, when cross-posting
// is enabled, output falls back to the first channel reverse-looked-up from
// the thread map or to the configured notification channel.
func (c *Canal) destination(st *threadState, cfg project.SlackConfig, threadID string) (channel, threadTS string, ok bool) {
	st.mu.Lock()
	last := st.last
	key := st.key
	st.mu.Unlock()

	if _, mapped := cfg.ThreadMap[key]; mapped {
		ch, keyThread := SplitThreadKey(key)
		if last.isDM {
			if last.threadTS != "" {
				return ch, last.threadTS, true
			}
			return ch, last.ts, true
		}
		if keyThread != "" {
			return ch, keyThread, true
		}
		return ch, last.ts, true
	}

	if !cfg.ForwardEvents {
		return "", "", false
	}

	keys := make([]string, 0, len(cfg.ThreadMap))
	for k := range cfg.ThreadMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if cfg.ThreadMap[k] == threadID {
			ch, keyThread := SplitThreadKey(k)
			return ch, keyThread, true
		}
	}

	if cfg.NotifyChannel != "" {
		return cfg.NotifyChannel, "", true
	}
	return "", "", false
}

// channelDisplayName resolves a human-readable channel name, best-effort.
func (c *Canal) channelDisplayName(ctx context.Context, projectName string, cfg project.SlackConfig, channelID string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name, err := c.poster(projectName, cfg).ChannelName(ctx, channelID)
	if err != nil {
		c.logger.Debug().Err(err).Str("channel", channelID).Msg("channel info lookup failed, using raw id")
		c.metrics.RecordSlackAPIError("conversation_info")
		return channelID
	}
	return name
}

func (c *Canal) poster(projectName string, cfg project.SlackConfig) Poster {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.posters[projectName]; ok {
		return p
	}
	p := c.newPoster(cfg.BotToken)
	c.posters[projectName] = p
	return p
}

// Shutdown unsubscribes every thread's event listener, then disconnects all
// Socket Mode connections concurrently and waits for them.
func (c *Canal) Shutdown(ctx context.Context) {
	c.mu.Lock()
	states := c.states
	c.states = make(map[string]*threadState)
	c.mu.Unlock()

	for _, st := range states {
		if st.unsubscribe != nil {
			st.unsubscribe()
		}
		c.metrics.ThreadsActive.Dec()
	}

	c.stopSockets(ctx)
	c.logger.Info().Int("threads", len(states)).Msg("canal shut down")
}
