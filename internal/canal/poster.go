package canal

import (
	"context"

	"github.com/slack-go/slack"
)

// Poster is the outbound Slack surface the bridge needs.
type Poster interface {
	PostMessage(channelID, text, threadTS string) (string, error)
	PostBlocks(channelID, threadTS, fallbackText string, blocks ...slack.Block) (string, error)
	// UpdateMessage edits a message in place. The blocks argument replaces
	// the message's block layout outright; with none given the existing
	// blocks are cleared, not retained, so an edit from a block-rendered
	// placeholder to plain text actually shows the text.
	UpdateMessage(channelID, messageTS, text string, blocks ...slack.Block) error
	ChannelName(ctx context.Context, channelID string) (string, error)
}

// SlackAPI is the slice of the slack-go client the poster uses.
type SlackAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
}

type slackPoster struct {
	api SlackAPI
}

// NewPoster wraps a Slack API client as a Poster.
func NewPoster(api SlackAPI) Poster {
	return &slackPoster{api: api}
}

// NewPosterFromToken builds a Poster over a fresh Web API client for the
// given bot token.
func NewPosterFromToken(botToken string) Poster {
	return NewPoster(slack.New(botToken))
}

func (p *slackPoster) PostMessage(channelID, text, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := p.api.PostMessage(channelID, opts...)
	return ts, err
}

func (p *slackPoster) PostBlocks(channelID, threadTS, fallbackText string, blocks ...slack.Block) (string, error) {
	opts := []slack.MsgOption{
		slack.MsgOptionText(fallbackText, false),
		slack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := p.api.PostMessage(channelID, opts...)
	return ts, err
}

func (p *slackPoster) UpdateMessage(channelID, messageTS, text string, blocks ...slack.Block) error {
	// chat.update keeps existing blocks when the blocks field is omitted;
	// always send it, an empty array when the edit is text-only.
	if blocks == nil {
		blocks = []slack.Block{}
	}
	_, _, _, err := p.api.UpdateMessage(channelID, messageTS,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	return err
}

func (p *slackPoster) ChannelName(ctx context.Context, channelID string) (string, error) {
	info, err := p.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return "", err
	}
	if info.Name == "" {
		return channelID, nil
	}
	return "#" + info.Name, nil
}
