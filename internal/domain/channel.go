package domain

type (
	ServerID       string
	ChannelID      string
	ConversationID string
)

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
	ChannelVideo ChannelType = "video"
)

// Voiceable reports whether a channel of this type can host voice sessions.
func (t ChannelType) Voiceable() bool {
	return t == ChannelVoice || t == ChannelVideo
}

type Channel struct {
	ID       ChannelID   `json:"id"`
	ServerID ServerID    `json:"serverId"`
	Name     string      `json:"name,omitempty"`
	Type     ChannelType `json:"type"`
}
