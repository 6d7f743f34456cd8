package canal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/slack-canal/internal/project"
)

func msgEvent() *MessageEvent {
	return &MessageEvent{
		Type:        "message",
		Text:        "hello",
		User:        "U1",
		Channel:     "C1",
		ChannelType: "channel",
		Timestamp:   "123.456",
	}
}

func TestShouldHandle_Basics(t *testing.T) {
	cfg := project.SlackConfig{}

	res := ShouldHandle(msgEvent(), cfg)
	assert.True(t, res.Allowed)
	assert.False(t, res.IsChannelJoin)

	res = ShouldHandle(nil, cfg)
	assert.False(t, res.Allowed)
	assert.NotEmpty(t, res.Reason)

	ev := msgEvent()
	ev.Type = "reaction_added"
	res = ShouldHandle(ev, cfg)
	assert.False(t, res.Allowed)
}

func TestShouldHandle_ChannelJoinAlwaysAllowed(t *testing.T) {
	// even with requireMention set and no text
	cfg := project.SlackConfig{RequireMention: true, BotUserID: "U_BOT"}
	ev := &MessageEvent{Type: "message", SubType: "channel_join", Channel: "C1"}

	res := ShouldHandle(ev, cfg)
	assert.True(t, res.Allowed)
	assert.True(t, res.IsChannelJoin)
}

func TestShouldHandle_Subtypes(t *testing.T) {
	cfg := project.SlackConfig{}

	ev := msgEvent()
	ev.SubType = "message_changed"
	assert.True(t, ShouldHandle(ev, cfg).Allowed, "edits pass through")

	ev = msgEvent()
	ev.SubType = "message_deleted"
	res := ShouldHandle(ev, cfg)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "message_deleted")
}

func TestShouldHandle_RequiredFields(t *testing.T) {
	cfg := project.SlackConfig{}

	ev := msgEvent()
	ev.Text = "   "
	assert.False(t, ShouldHandle(ev, cfg).Allowed)

	ev = msgEvent()
	ev.Channel = ""
	assert.False(t, ShouldHandle(ev, cfg).Allowed)

	ev = msgEvent()
	ev.Timestamp = ""
	assert.False(t, ShouldHandle(ev, cfg).Allowed)
}

func TestShouldHandle_BotMessagesAlwaysRejected(t *testing.T) {
	cfg := project.SlackConfig{AutoCreateThreads: true}
	ev := msgEvent()
	ev.BotID = "B123"

	res := ShouldHandle(ev, cfg)
	assert.False(t, res.Allowed)
	assert.Equal(t, "bot message", res.Reason)
}

func TestShouldHandle_ChannelAllowlist(t *testing.T) {
	cfg := project.SlackConfig{ChannelAllowlist: []string{"C_OK"}}

	ev := msgEvent()
	ev.Channel = "C_OK"
	assert.True(t, ShouldHandle(ev, cfg).Allowed)

	ev = msgEvent()
	ev.Channel = "C_OTHER"
	assert.False(t, ShouldHandle(ev, cfg).Allowed)
}

func TestShouldHandle_RequireMention(t *testing.T) {
	cfg := project.SlackConfig{RequireMention: true, BotUserID: "U_BOT"}

	ev := msgEvent()
	assert.False(t, ShouldHandle(ev, cfg).Allowed, "no mention in channel")

	ev = msgEvent()
	ev.Text = "<@U_BOT> hello"
	assert.True(t, ShouldHandle(ev, cfg).Allowed)

	// DMs never require a mention
	ev = msgEvent()
	ev.ChannelType = "im"
	assert.True(t, ShouldHandle(ev, cfg).Allowed)
}
