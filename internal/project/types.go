// Package project is the per-project configuration store. Each project
// carries its Slack integration settings, including the persisted
// thread-key → thread-id map that survives process restarts.
package project

// SlackConfig is the Slack integration configuration for one project.
type SlackConfig struct {
	// Credentials.
	BotToken      string `yaml:"botToken" json:"botToken"`
	AppToken      string `yaml:"appToken,omitempty" json:"appToken,omitempty"` // xapp- token for Socket Mode
	SigningSecret string `yaml:"signingSecret,omitempty" json:"signingSecret,omitempty"`
	BotUserID     string `yaml:"botUserId,omitempty" json:"botUserId,omitempty"`

	// Username is the engine-side identity conversations run under.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`

	// Routing policy.
	SocketMode        bool     `yaml:"socketMode,omitempty" json:"socketMode,omitempty"`
	RequireMention    bool     `yaml:"requireMention,omitempty" json:"requireMention,omitempty"`
	ChannelAllowlist  []string `yaml:"channelAllowlist,omitempty" json:"channelAllowlist,omitempty"`
	AutoCreateThreads bool     `yaml:"autoCreateThreads,omitempty" json:"autoCreateThreads,omitempty"`

	// ForwardEvents enables cross-posting output of threads that did not
	// originate on Slack (no threadMap entry) to NotifyChannel or the first
	// mapped channel.
	ForwardEvents bool   `yaml:"forwardEvents,omitempty" json:"forwardEvents,omitempty"`
	NotifyChannel string `yaml:"notifyChannel,omitempty" json:"notifyChannel,omitempty"`

	// ThreadMap maps thread keys (channel or channel:threadTS) to engine
	// thread ids. Mutated through Store.UpdateSlackConfig only.
	ThreadMap map[string]string `yaml:"threadMap,omitempty" json:"threadMap,omitempty"`
}

// Clone returns a deep copy. Callers mutate the copy and hand it to
// UpdateSlackConfig; the shared value is never modified in place.
func (c SlackConfig) Clone() SlackConfig {
	out := c
	if c.ChannelAllowlist != nil {
		out.ChannelAllowlist = append([]string(nil), c.ChannelAllowlist...)
	}
	if c.ThreadMap != nil {
		out.ThreadMap = make(map[string]string, len(c.ThreadMap))
		for k, v := range c.ThreadMap {
			out.ThreadMap[k] = v
		}
	}
	return out
}

// SocketModeReady reports whether the project has the complete credentials
// needed for a Socket Mode connection.
func (c SlackConfig) SocketModeReady() bool {
	return c.SocketMode && c.AppToken != "" && c.BotToken != "" && c.Username != ""
}

// WebhookReady reports whether the project can verify webhook signatures.
func (c SlackConfig) WebhookReady() bool {
	return c.SigningSecret != ""
}

// Config is the persisted configuration of one project.
type Config struct {
	Integration IntegrationConfig `yaml:"integration" json:"integration"`
}

// IntegrationConfig holds the per-platform integration blocks.
type IntegrationConfig struct {
	Slack *SlackConfig `yaml:"slack,omitempty" json:"slack,omitempty"`
}
