package domain

import "time"

// VoiceParticipant is one user's live membership in a voice channel.
// A user occupies at most one voice channel at a time across the whole
// system; the coordinator's reverse index enforces that.
type VoiceParticipant struct {
	UserID          UserID    `json:"userId"`
	Username        string    `json:"username"`
	Avatar          string    `json:"avatar,omitempty"`
	ChannelID       ChannelID `json:"channelId"`
	ServerID        ServerID  `json:"serverId"`
	IsMuted         bool      `json:"isMuted"`
	IsDeafened      bool      `json:"isDeafened"`
	IsVideoOn       bool      `json:"isVideoOn"`
	IsScreenSharing bool      `json:"isScreenSharing"`
	JoinedAt        time.Time `json:"joinedAt"`
}

// VoiceStatePatch is a partial update to the four participant flags.
// Nil fields are left untouched. The server applies exactly the flags given;
// any mute/deafen coupling is client policy.
type VoiceStatePatch struct {
	IsMuted         *bool `json:"isMuted,omitempty"`
	IsDeafened      *bool `json:"isDeafened,omitempty"`
	IsVideoOn       *bool `json:"isVideoOn,omitempty"`
	IsScreenSharing *bool `json:"isScreenSharing,omitempty"`
}

// Apply merges the patch into p.
func (s VoiceStatePatch) Apply(p *VoiceParticipant) {
	if s.IsMuted != nil {
		p.IsMuted = *s.IsMuted
	}
	if s.IsDeafened != nil {
		p.IsDeafened = *s.IsDeafened
	}
	if s.IsVideoOn != nil {
		p.IsVideoOn = *s.IsVideoOn
	}
	if s.IsScreenSharing != nil {
		p.IsScreenSharing = *s.IsScreenSharing
	}
}
