package core

import (
	"encoding/json"

	"github.com/mpetrov/concord/internal/domain"
)

// Event is the outbound wire envelope: a named event plus its payload.
// Seq is stamped by the registry on marshal; clients use it to detect gaps.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// Outbound event names.
const (
	EvReady     = "ready"
	EvPong      = "pong"
	EvAuthError = "auth_error"

	EvUserStatus        = "user_status"
	EvUserTyping        = "user_typing"
	EvChannelUserTyping = "channel_user_typing"

	EvVoiceJoined        = "voice:joined"
	EvVoiceUserJoined    = "voice:user_joined"
	EvVoiceUserLeft      = "voice:user_left"
	EvVoiceStateUpdate   = "voice:state_update"
	EvVoiceChannelUpdate = "voice:channel_update"
	EvVoiceError         = "voice:error"
	EvVoiceOffer         = "voice:offer"
	EvVoiceAnswer        = "voice:answer"
	EvVoiceICECandidate  = "voice:ice_candidate"

	EvIncomingCall       = "incoming_call"
	EvCallFailed         = "call_failed"
	EvCallAccepted       = "call_accepted"
	EvCallRejected       = "call_rejected"
	EvCallOffer          = "call_offer"
	EvCallAnswer         = "call_answer"
	EvICECandidate       = "ice_candidate"
	EvCallEnded          = "call_ended"
	EvScreenShareStarted = "screen_share_started"
	EvScreenShareStopped = "screen_share_stopped"
)

type ReadyData struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type UserStatusData struct {
	UserID   domain.UserID       `json:"userId"`
	Status   domain.Status       `json:"status"`
	Presence domain.PresenceMode `json:"presence"`
}

type UserTypingData struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	UserID         domain.UserID         `json:"userId"`
	IsTyping       bool                  `json:"isTyping"`
}

type ChannelUserTypingData struct {
	ChannelID domain.ChannelID `json:"channelId"`
	UserID    domain.UserID    `json:"userId"`
	Username  string           `json:"username"`
	IsTyping  bool             `json:"isTyping"`
}

type VoiceJoinedData struct {
	ChannelID    domain.ChannelID          `json:"channelId"`
	ServerID     domain.ServerID           `json:"serverId"`
	Participants []domain.VoiceParticipant `json:"participants"`
}

type VoiceUserJoinedData struct {
	ChannelID domain.ChannelID        `json:"channelId"`
	User      domain.VoiceParticipant `json:"user"`
}

type VoiceUserLeftData struct {
	ChannelID domain.ChannelID `json:"channelId"`
	UserID    domain.UserID    `json:"userId"`
}

// VoiceStateUpdateData carries exactly the flags the sender changed; untouched
// flags stay nil and are omitted from the wire.
type VoiceStateUpdateData struct {
	ChannelID       domain.ChannelID `json:"channelId"`
	UserID          domain.UserID    `json:"userId"`
	IsMuted         *bool            `json:"isMuted,omitempty"`
	IsDeafened      *bool            `json:"isDeafened,omitempty"`
	IsVideoOn       *bool            `json:"isVideoOn,omitempty"`
	IsScreenSharing *bool            `json:"isScreenSharing,omitempty"`
}

type VoiceChannelUpdateData struct {
	ChannelID        domain.ChannelID `json:"channelId"`
	ParticipantCount int              `json:"participant_count"`
}

type VoiceErrorData struct {
	Message string `json:"message"`
}

// VoiceSignalData relays an opaque negotiation payload between two voice
// participants. The payload is never inspected.
type VoiceSignalData struct {
	FromUserID domain.UserID   `json:"fromUserId"`
	Payload    json.RawMessage `json:"payload"`
}

type IncomingCallData struct {
	CallerID       domain.UserID   `json:"callerId"`
	CallerUsername string          `json:"callerUsername"`
	CallType       domain.CallType `json:"callType"`
}

type CallFailedData struct {
	Reason string `json:"reason"`
}

const CallFailedUserOffline = "user_offline"

type CallAcceptedData struct {
	RecipientID domain.UserID `json:"recipientId"`
}

type CallSignalData struct {
	FromUserID domain.UserID   `json:"fromUserId"`
	Payload    json.RawMessage `json:"payload"`
}

type ScreenShareData struct {
	UserID domain.UserID `json:"userId"`
}
