package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

func (ctl *Controller) handleAuthenticate(st *connState, data []byte) {
	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Token == "" {
		ctl.sendJSON(st.conn, core.Event{Type: core.EvAuthError})
		return
	}

	identity, err := ctl.Verifier.Verify(p.Token)
	if err != nil {
		// The connection stays open but unauthenticated; privileged events
		// keep being ignored.
		log.Warn().Err(err).Str("module", "signal").Str("conn", st.id).Msg("authenticate failed")
		ctl.sendJSON(st.conn, core.Event{Type: core.EvAuthError})
		return
	}

	st.setIdentity(identity)
	ctl.Registry.Register(identity.UserID, identity.Username, st.conn)

	ctl.sendJSON(st.conn, core.Event{
		Type: core.EvReady,
		Data: core.ReadyData{UserID: identity.UserID, Username: identity.Username},
	})
	log.Info().Str("module", "signal").Str("conn", st.id).Str("user", string(identity.UserID)).Msg("authenticated")
}

func (ctl *Controller) handlePresenceChange(ctx context.Context, st *connState, userID domain.UserID, data []byte) {
	var p struct {
		Presence domain.PresenceMode `json:"presence"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !domain.ValidPresenceMode(p.Presence) {
		log.Warn().Str("module", "signal").Str("user", string(userID)).Str("presence", string(p.Presence)).Msg("invalid presence mode")
		return
	}

	ctl.Registry.SetPresence(userID, p.Presence)
	if err := ctl.Status.SetUserPresence(ctx, userID, p.Presence); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(userID)).Msg("persist presence")
	}
	ctl.Presence.Notify(ctx, userID, domain.StatusOnline, p.Presence)
}

func (ctl *Controller) handleTyping(ctx context.Context, userID domain.UserID, data []byte) {
	var p struct {
		ConversationID domain.ConversationID `json:"conversationId"`
		IsTyping       bool                  `json:"isTyping"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return
	}
	if !ctl.typingLimiter.Allow(userID) {
		return
	}

	participants, err := ctl.Directory.ConversationParticipants(ctx, p.ConversationID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conversation", string(p.ConversationID)).Msg("participants lookup")
		return
	}
	ctl.Fanout.Deliver(withoutUser(participants, userID), core.Event{
		Type: core.EvUserTyping,
		Data: core.UserTypingData{ConversationID: p.ConversationID, UserID: userID, IsTyping: p.IsTyping},
	})
}

func (ctl *Controller) handleChannelTyping(ctx context.Context, userID domain.UserID, username string, data []byte) {
	var p struct {
		ChannelID domain.ChannelID `json:"channelId"`
		IsTyping  bool             `json:"isTyping"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.ChannelID == "" {
		return
	}
	if !ctl.typingLimiter.Allow(userID) {
		return
	}

	ch, err := ctl.Directory.Channel(ctx, p.ChannelID)
	if err != nil {
		return
	}
	members, err := ctl.Directory.ServerMembers(ctx, ch.ServerID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("server", string(ch.ServerID)).Msg("server members lookup")
		return
	}
	ctl.Fanout.Deliver(withoutUser(members, userID), core.Event{
		Type: core.EvChannelUserTyping,
		Data: core.ChannelUserTypingData{ChannelID: p.ChannelID, UserID: userID, Username: username, IsTyping: p.IsTyping},
	})
}

// withoutUser filters the sender out of a recipient list, so nobody hears
// their own typing echoed back.
func withoutUser(ids []domain.UserID, exclude domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
