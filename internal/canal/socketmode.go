package canal

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/p-blackswan/slack-canal/internal/project"
)

// StartSocketMode opens one persistent Socket Mode connection per project
// with complete credentials. Projects with incomplete configuration are
// skipped; the others are unaffected.
func (c *Canal) StartSocketMode(ctx context.Context) {
	for _, name := range c.projects.ListProjects() {
		cfg, ok := c.projects.SlackConfig(name)
		if !ok {
			continue
		}
		if !cfg.SocketModeReady() {
			c.logger.Info().Str("project", name).Msg("socket mode not configured, skipping")
			continue
		}
		c.openSocket(ctx, name, cfg)
	}
}

func (c *Canal) openSocket(ctx context.Context, projectName string, cfg project.SlackConfig) {
	sockCtx, cancel := context.WithCancel(ctx)

	c.sockMu.Lock()
	if _, exists := c.cancels[projectName]; exists {
		c.sockMu.Unlock()
		cancel()
		return
	}
	c.cancels[projectName] = cancel
	c.sockMu.Unlock()

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	client := socketmode.New(api)
	logger := c.logger.With().Str("project", projectName).Logger()

	c.sockets.Add(2)
	go func() {
		defer c.sockets.Done()
		for {
			select {
			case <-sockCtx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				c.handleSocketEvent(sockCtx, projectName, client, evt)
			}
		}
	}()
	go func() {
		defer c.sockets.Done()
		logger.Info().Msg("starting socket mode connection")
		if err := client.RunContext(sockCtx); err != nil && sockCtx.Err() == nil {
			logger.Error().Err(err).Msg("socket mode connection ended")
		}
	}()
}

func (c *Canal) handleSocketEvent(ctx context.Context, projectName string, client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		c.setSocketUp(projectName, true)
		c.logger.Info().Str("project", projectName).Msg("socket mode connected")
	case socketmode.EventTypeConnectionError:
		c.setSocketUp(projectName, false)
		c.logger.Warn().Str("project", projectName).Msg("socket mode connection error")
	case socketmode.EventTypeDisconnect:
		c.setSocketUp(projectName, false)
		c.logger.Info().Str("project", projectName).Msg("socket mode disconnected")
	case socketmode.EventTypeEventsAPI:
		// Acknowledge first; Slack enforces a short response budget.
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}

		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			c.logger.Warn().Str("project", projectName).Msg("failed to cast events_api data")
			return
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			c.logger.Debug().Str("inner_type", apiEvent.InnerEvent.Type).Msg("unhandled callback event type")
			return
		}

		c.routeSocketMessage(ctx, projectName, msg)
	default:
		c.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled socket event type")
	}
}

func (c *Canal) routeSocketMessage(ctx context.Context, projectName string, msg *slackevents.MessageEvent) {
	cfg, ok := c.projects.SlackConfig(projectName)
	if !ok {
		return
	}

	ev := &MessageEvent{
		Type:            msg.Type,
		SubType:         msg.SubType,
		Text:            msg.Text,
		User:            msg.User,
		BotID:           msg.BotID,
		Channel:         msg.Channel,
		ChannelType:     msg.ChannelType,
		Timestamp:       msg.TimeStamp,
		ThreadTimestamp: msg.ThreadTimeStamp,
	}

	res := ShouldHandle(ev, cfg)
	if !res.Allowed {
		c.metrics.RecordInbound("socket", "filtered")
		c.logger.Debug().Str("project", projectName).Str("reason", res.Reason).Msg("socket event filtered")
		return
	}
	c.metrics.RecordInbound("socket", "handled")

	if res.IsChannelJoin {
		c.HandleChannelJoin(ctx, projectName, ev)
		return
	}
	c.HandleInbound(ctx, projectName, ev)
}

func (c *Canal) setSocketUp(projectName string, up bool) {
	c.sockMu.Lock()
	c.sockUp[projectName] = up
	c.sockMu.Unlock()
}

// SocketConnected reports whether the project's Socket Mode connection is
// currently established. Feeds the readiness probe.
func (c *Canal) SocketConnected(projectName string) bool {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	return c.sockUp[projectName]
}

// stopSockets disconnects every Socket Mode connection concurrently and
// waits for all of them (bounded by ctx).
func (c *Canal) stopSockets(ctx context.Context) {
	c.sockMu.Lock()
	cancels := c.cancels
	c.cancels = make(map[string]context.CancelFunc)
	c.sockMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.sockets.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn().Msg("timed out waiting for socket mode disconnects")
	}
}
