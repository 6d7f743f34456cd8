package canal

import (
	"fmt"
	"strings"

	"github.com/p-blackswan/slack-canal/internal/project"
)

// MessageEvent is the shared shape of an inbound Slack message, regardless
// of whether it arrived over the webhook or a Socket Mode connection.
type MessageEvent struct {
	Type            string
	SubType         string
	Text            string
	User            string
	BotID           string
	Channel         string
	ChannelType     string
	Timestamp       string
	ThreadTimestamp string
}

// IsDM reports whether the event came from a direct-message channel.
func (e MessageEvent) IsDM() bool { return e.ChannelType == "im" }

// FilterResult is the outcome of ShouldHandle. Reason is diagnostic only,
// never shown to end users.
type FilterResult struct {
	Allowed       bool
	Reason        string
	IsChannelJoin bool
}

func rejected(reason string) FilterResult { return FilterResult{Reason: reason} }

// ShouldHandle decides whether an inbound event is processed at all.
// Rules short-circuit in order; every rejection carries a reason.
func ShouldHandle(ev *MessageEvent, cfg project.SlackConfig) FilterResult {
	if ev == nil || ev.Type != "message" {
		return rejected("not a message event")
	}

	// channel_join triggers the welcome flow and bypasses all other checks.
	if ev.SubType == "channel_join" {
		return FilterResult{Allowed: true, IsChannelJoin: true}
	}

	// Edits pass through; deletions and every other subtype do not.
	if ev.SubType != "" && ev.SubType != "message_changed" {
		return rejected(fmt.Sprintf("unsupported subtype %q", ev.SubType))
	}

	if strings.TrimSpace(ev.Text) == "" {
		return rejected("empty text")
	}
	if ev.Channel == "" {
		return rejected("missing channel")
	}
	if ev.Timestamp == "" {
		return rejected("missing timestamp")
	}

	if ev.BotID != "" {
		return rejected("bot message")
	}

	if len(cfg.ChannelAllowlist) > 0 && !contains(cfg.ChannelAllowlist, ev.Channel) {
		return rejected(fmt.Sprintf("channel %s not in allowlist", ev.Channel))
	}

	if cfg.RequireMention && !ev.IsDM() {
		if cfg.BotUserID == "" || !strings.Contains(ev.Text, "<@"+cfg.BotUserID+">") {
			return rejected("mention required but absent")
		}
	}

	return FilterResult{Allowed: true}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
