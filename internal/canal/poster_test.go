package canal

import (
	"context"
	"net/url"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureAPI struct {
	channel string
	opts    []slack.MsgOption
}

func (a *captureAPI) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	a.channel = channelID
	a.opts = options
	return channelID, "111.222", nil
}

func (a *captureAPI) UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	a.channel = channelID
	a.opts = options
	return channelID, timestamp, "", nil
}

func (a *captureAPI) GetConversationInfoContext(_ context.Context, _ *slack.GetConversationInfoInput) (*slack.Channel, error) {
	ch := &slack.Channel{}
	ch.Name = "general"
	return ch, nil
}

func applyOptions(t *testing.T, opts []slack.MsgOption) url.Values {
	t.Helper()
	_, values, err := slack.UnsafeApplyMsgOptions("token", "C1", slack.APIURL, opts...)
	require.NoError(t, err)
	return values
}

func TestPoster_UpdateClearsBlocksByDefault(t *testing.T) {
	api := &captureAPI{}
	p := NewPoster(api)

	require.NoError(t, p.UpdateMessage("C1", "1.2", "done"))

	values := applyOptions(t, api.opts)
	assert.Equal(t, "done", values.Get("text"))
	assert.Equal(t, "[]", values.Get("blocks"), "an omitted blocks field would leave the old blocks rendered")
}

func TestPoster_UpdateReplacesBlocksWhenGiven(t *testing.T) {
	api := &captureAPI{}
	p := NewPoster(api)

	block := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, "still working", false, false),
	)
	require.NoError(t, p.UpdateMessage("C1", "1.2", "still working", block))

	values := applyOptions(t, api.opts)
	assert.Contains(t, values.Get("blocks"), `"context"`)
}

func TestPoster_PostMessageThreading(t *testing.T) {
	api := &captureAPI{}
	p := NewPoster(api)

	ts, err := p.PostMessage("C1", "hi", "9.9")
	require.NoError(t, err)
	assert.Equal(t, "111.222", ts)

	values := applyOptions(t, api.opts)
	assert.Equal(t, "9.9", values.Get("thread_ts"))

	// Top-level posts carry no thread_ts at all.
	_, err = p.PostMessage("C1", "hi", "")
	require.NoError(t, err)
	assert.Empty(t, applyOptions(t, api.opts).Get("thread_ts"))
}

func TestPoster_ChannelName(t *testing.T) {
	p := NewPoster(&captureAPI{})

	name, err := p.ChannelName(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "#general", name)
}
