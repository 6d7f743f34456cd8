package canal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/p-blackswan/slack-canal/internal/requestid"
)

const (
	headerSignature = "X-Slack-Signature"
	headerTimestamp = "X-Slack-Request-Timestamp"

	localRequestID = "request_id"
)

// eventEnvelope is the outer Events API payload.
type eventEnvelope struct {
	Type      string        `json:"type"`
	Challenge string        `json:"challenge,omitempty"`
	Event     *eventPayload `json:"event,omitempty"`
}

// eventPayload is the inner event of an event_callback envelope.
type eventPayload struct {
	Type            string `json:"type"`
	SubType         string `json:"subtype,omitempty"`
	Text            string `json:"text,omitempty"`
	User            string `json:"user,omitempty"`
	BotID           string `json:"bot_id,omitempty"`
	Channel         string `json:"channel,omitempty"`
	ChannelType     string `json:"channel_type,omitempty"`
	Timestamp       string `json:"ts,omitempty"`
	ThreadTimestamp string `json:"thread_ts,omitempty"`
}

func (p *eventPayload) toMessageEvent() *MessageEvent {
	return &MessageEvent{
		Type:            p.Type,
		SubType:         p.SubType,
		Text:            p.Text,
		User:            p.User,
		BotID:           p.BotID,
		Channel:         p.Channel,
		ChannelType:     p.ChannelType,
		Timestamp:       p.Timestamp,
		ThreadTimestamp: p.ThreadTimestamp,
	}
}

// NewRouter builds the fiber app serving the Slack webhook endpoints.
func (c *Canal) NewRouter() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(func(fc *fiber.Ctx) error {
		id := requestid.New()
		fc.Locals(localRequestID, id)
		fc.Set("X-Request-ID", id)
		return fc.Next()
	})

	app.Get("/api/slack/health", c.handleHealth)
	app.Post("/api/slack/events", c.handleEvents)
	return app
}

func (c *Canal) handleHealth(fc *fiber.Ctx) error {
	return fc.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleEvents is the Events API webhook. Signature is checked against every
// configured project's signing secret (one endpoint serves them all). The
// request is acknowledged immediately; all further work runs after the ack.
func (c *Canal) handleEvents(fc *fiber.Ctx) error {
	// fiber reuses request buffers; copy before handing off asynchronously.
	body := append([]byte(nil), fc.Body()...)
	signature := fc.Get(headerSignature)
	timestamp := fc.Get(headerTimestamp)

	reqID, _ := fc.Locals(localRequestID).(string)
	logger := c.logger.With().Str("request_id", reqID).Logger()

	projectName, ok := c.matchProject(body, signature, timestamp)
	if !ok {
		c.metrics.RecordInbound("webhook", "rejected")
		logger.Warn().Str("ip", fc.IP()).Msg("webhook signature verification failed")
		return fc.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.metrics.RecordInbound("webhook", "malformed")
		logger.Warn().Err(err).Msg("malformed webhook payload")
		return fc.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	if envelope.Type == "url_verification" {
		return fc.JSON(fiber.Map{"challenge": envelope.Challenge})
	}

	go c.processWebhookEvent(reqID, projectName, envelope.Event)
	return fc.SendString("OK")
}

// matchProject finds the project whose signing secret verifies the request.
// There is no global secret; all projects are tried in order.
func (c *Canal) matchProject(body []byte, signature, timestamp string) (string, bool) {
	for _, name := range c.projects.ListProjects() {
		cfg, ok := c.projects.SlackConfig(name)
		if !ok || !cfg.WebhookReady() {
			continue
		}
		if c.verifier.Verify(body, cfg.SigningSecret, signature, timestamp) {
			return name, true
		}
	}
	return "", false
}

func (c *Canal) processWebhookEvent(reqID, projectName string, payload *eventPayload) {
	if payload == nil {
		return
	}

	cfg, ok := c.projects.SlackConfig(projectName)
	if !ok {
		return
	}

	logger := c.logger.With().Str("request_id", reqID).Str("project", projectName).Logger()

	ev := payload.toMessageEvent()
	res := ShouldHandle(ev, cfg)
	if !res.Allowed {
		c.metrics.RecordInbound("webhook", "filtered")
		logger.Debug().Str("reason", res.Reason).Msg("webhook event filtered")
		return
	}
	c.metrics.RecordInbound("webhook", "handled")
	logger.Info().Str("channel", ev.Channel).Msg("webhook event accepted")

	ctx := requestid.With(context.Background(), reqID)
	if res.IsChannelJoin {
		c.HandleChannelJoin(ctx, projectName, ev)
		return
	}
	c.HandleInbound(ctx, projectName, ev)
}
