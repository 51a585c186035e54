package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/app"
	"github.com/mpetrov/concord/internal/domain"
)

func (ctl *Controller) handleVoiceJoin(ctx context.Context, userID domain.UserID, data []byte) {
	var p struct {
		ChannelID domain.ChannelID `json:"channelId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		return
	}
	if err := ctl.Voice.Join(ctx, userID, p.ChannelID); err != nil {
		// Already reported to the requester as a voice:error event.
		log.Debug().Err(err).Str("module", "signal").Str("user", string(userID)).Str("channel", string(p.ChannelID)).Msg("voice join rejected")
	}
}

func (ctl *Controller) handleVoiceLeave(ctx context.Context, userID domain.UserID, data []byte) {
	var p struct {
		ChannelID domain.ChannelID `json:"channelId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.ChannelID == "" {
		ctl.Voice.LeaveAll(ctx, userID)
		return
	}
	_ = ctl.Voice.Leave(ctx, userID, p.ChannelID)
}

func (ctl *Controller) handleVoiceState(ctx context.Context, userID domain.UserID, data []byte) {
	var p struct {
		ChannelID domain.ChannelID       `json:"channelId"`
		State     domain.VoiceStatePatch `json:"state"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		return
	}
	_ = ctl.Voice.UpdateState(ctx, userID, p.ChannelID, p.State)
}

func (ctl *Controller) handleVoiceSignal(kind app.SignalKind, userID domain.UserID, data []byte) {
	var p struct {
		TargetUserID domain.UserID    `json:"targetUserId"`
		ChannelID    domain.ChannelID `json:"channelId"`
		Payload      json.RawMessage  `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" || p.ChannelID == "" {
		return
	}
	ctl.Voice.Relay(kind, userID, p.TargetUserID, p.ChannelID, p.Payload)
}
