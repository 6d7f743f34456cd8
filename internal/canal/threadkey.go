package canal

import "strings"

// BuildThreadKey derives the stable conversation key for an inbound message.
//
// Direct messages always key on the bare channel id, even when the event
// carries a thread timestamp: a DM is one continuous conversation and must
// never fragment into per-thread keys. In regular channels a reply inside an
// existing thread keys on "channel:threadTS"; top-level messages key on the
// bare channel id.
func BuildThreadKey(channel, threadTS, messageTS, channelType string) string {
	if channelType == "im" {
		return channel
	}
	if threadTS != "" && threadTS != messageTS {
		return channel + ":" + threadTS
	}
	return channel
}

// SplitThreadKey returns the channel and, when present, the thread timestamp
// encoded in a thread key.
func SplitThreadKey(key string) (channel, threadTS string) {
	channel, threadTS, _ = strings.Cut(key, ":")
	return channel, threadTS
}

// StripBotMention removes every mention token of the bot user from text and
// trims the result. With no bot user id configured, text passes through
// unchanged apart from trimming.
func StripBotMention(text, botUserID string) string {
	if botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+botUserID+">", "")
	}
	return strings.TrimSpace(text)
}
