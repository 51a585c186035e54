package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/app"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, cancel context.CancelFunc, st *connState) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", st.id).Msg("writePump ctx done")
			return
		case data, ok := <-st.conn.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", st.id).Msg("writePump channel closed")
				return
			}
			if err := st.conn.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", st.id).Msg("writePump set deadline")
				return
			}
			if err := st.conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", st.id).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, st *connState) {
	defer func() {
		cancel()
		st.conn.Close()
		// Disconnect surfaces to the core as an unregister; the registry
		// ignores it if this connection was already superseded.
		if userID, _, authed := st.identity(); authed {
			ctl.Registry.Unregister(userID, st.conn)
		}
		log.Info().Str("module", "signal").Str("conn", st.id).Msg("readPump closing")
	}()

	st.conn.conn.SetReadLimit(ctl.ReadLimit)
	readWait := ctl.PingPeriod + ctl.PingPeriod/2
	if err := st.conn.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", st.id).Msg("readPump set deadline")
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", st.id).Msg("readPump ctx done")
			return
		default:
			_, data, err := st.conn.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", st.id).Msg("readPump read error")
				}
				return
			}
			if err := st.conn.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", st.id).Msg("readPump set deadline")
				return
			}
			ctl.handleMessage(ctx, st, data)
		}
	}
}

// inbound is the envelope every client event arrives in.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"d"`
}

func (ctl *Controller) handleMessage(ctx context.Context, st *connState, data []byte) {
	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", st.id).Msg("bad json")
		return
	}

	// Only the handshake and keepalive are allowed pre-auth. A malformed or
	// unauthorized event from one connection must never touch another's
	// session, so everything else is dropped here.
	switch env.Type {
	case "ping":
		ctl.handlePing(st)
		return
	case "authenticate":
		ctl.handleAuthenticate(st, env.Data)
		return
	}

	userID, username, authed := st.identity()
	if !authed {
		log.Debug().Str("module", "signal").Str("conn", st.id).Str("type", env.Type).Msg("event before auth, ignored")
		return
	}
	ctl.Registry.Touch(userID)

	switch env.Type {
	case "presence_change":
		ctl.handlePresenceChange(ctx, st, userID, env.Data)
	case "typing":
		ctl.handleTyping(ctx, userID, env.Data)
	case "channel_typing":
		ctl.handleChannelTyping(ctx, userID, username, env.Data)

	case "voice:join":
		ctl.handleVoiceJoin(ctx, userID, env.Data)
	case "voice:leave":
		ctl.handleVoiceLeave(ctx, userID, env.Data)
	case "voice:state":
		ctl.handleVoiceState(ctx, userID, env.Data)
	case "voice:offer":
		ctl.handleVoiceSignal(app.SignalOffer, userID, env.Data)
	case "voice:answer":
		ctl.handleVoiceSignal(app.SignalAnswer, userID, env.Data)
	case "voice:ice_candidate":
		ctl.handleVoiceSignal(app.SignalICECandidate, userID, env.Data)

	case "call_request":
		ctl.handleCallRequest(userID, username, env.Data)
	case "call_accept":
		ctl.handleCallAccept(userID, env.Data)
	case "call_reject":
		ctl.handleCallReject(userID, env.Data)
	case "call_offer":
		ctl.handleCallOffer(userID, env.Data)
	case "call_answer":
		ctl.handleCallAnswer(userID, env.Data)
	case "ice_candidate":
		ctl.handleCallICECandidate(userID, env.Data)
	case "call_end":
		ctl.handleCallEnd(userID, env.Data)
	case "screen_share_start":
		ctl.handleScreenShare(userID, env.Data, true)
	case "screen_share_stop":
		ctl.handleScreenShare(userID, env.Data, false)

	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
