package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotVoiceChannel = errors.New("not a voice channel")
	ErrNotServerMember = errors.New("not a server member")
)

// SignalKind names the three peer-negotiation message types the coordinator
// relays between participants.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
)

func (k SignalKind) eventType() (string, bool) {
	switch k {
	case SignalOffer:
		return core.EvVoiceOffer, true
	case SignalAnswer:
		return core.EvVoiceAnswer, true
	case SignalICECandidate:
		return core.EvVoiceICECandidate, true
	}
	return "", false
}

// voiceRoom is the live participant set of one channel. Mutations are
// serialized by its own lock so rooms never block each other.
type voiceRoom struct {
	channelID domain.ChannelID
	serverID  domain.ServerID

	mu           sync.RWMutex
	participants map[domain.UserID]*domain.VoiceParticipant
}

func (r *voiceRoom) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *voiceRoom) memberIDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.participants))
	for id := range r.participants {
		out = append(out, id)
	}
	return out
}

func (r *voiceRoom) snapshotExcept(exclude domain.UserID) []domain.VoiceParticipant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VoiceParticipant, 0, len(r.participants))
	for id, p := range r.participants {
		if id == exclude {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Coordinator tracks who occupies which voice channel, relays peer
// negotiation between them, and mirrors membership into the snapshot store.
// The coordinator lock guards the room table and the user→channel reverse
// index; per-room work happens under the room's own lock.
type Coordinator struct {
	reg   *Registry
	dir   core.Directory
	store core.VoiceStateStore
	fan   *Fanout

	mu     sync.Mutex
	rooms  map[domain.ChannelID]*voiceRoom
	byUser map[domain.UserID]domain.ChannelID
}

func NewCoordinator(reg *Registry, dir core.Directory, store core.VoiceStateStore, fan *Fanout) *Coordinator {
	return &Coordinator{
		reg:    reg,
		dir:    dir,
		store:  store,
		fan:    fan,
		rooms:  make(map[domain.ChannelID]*voiceRoom),
		byUser: make(map[domain.UserID]domain.ChannelID),
	}
}

// Join validates the request, moves the user out of any previous room, adds
// them to the channel's room and acknowledges with the current roster. The
// joiner's client is expected to offer to each listed participant; existing
// members just learn that a newcomer exists.
func (c *Coordinator) Join(ctx context.Context, userID domain.UserID, channelID domain.ChannelID) error {
	ch, err := c.dir.Channel(ctx, channelID)
	if errors.Is(err, core.ErrNotFound) {
		c.sendError(userID, "channel not found")
		return ErrChannelNotFound
	}
	if err != nil {
		c.sendError(userID, "channel not found")
		return err
	}
	if !ch.Type.Voiceable() {
		c.sendError(userID, "not a voice channel")
		return ErrNotVoiceChannel
	}
	member, err := c.dir.IsServerMember(ctx, ch.ServerID, userID)
	if err != nil {
		c.sendError(userID, "access denied")
		return err
	}
	if !member {
		c.sendError(userID, "access denied")
		return ErrNotServerMember
	}

	user, err := c.dir.User(ctx, userID)
	if err != nil {
		c.sendError(userID, "access denied")
		return err
	}

	// A user occupies at most one room; joining again from anywhere means
	// leaving first, with the usual departure events.
	for {
		c.mu.Lock()
		prev, occupied := c.byUser[userID]
		if !occupied {
			break
		}
		c.mu.Unlock()
		if err := c.Leave(ctx, userID, prev); err != nil {
			return err
		}
	}
	// c.mu held.
	room, ok := c.rooms[channelID]
	if !ok {
		room = &voiceRoom{
			channelID:    channelID,
			serverID:     ch.ServerID,
			participants: make(map[domain.UserID]*domain.VoiceParticipant),
		}
		c.rooms[channelID] = room
	}
	p := &domain.VoiceParticipant{
		UserID:    userID,
		Username:  user.Username,
		Avatar:    user.Avatar,
		ChannelID: channelID,
		ServerID:  ch.ServerID,
		JoinedAt:  time.Now().UTC(),
	}
	room.mu.Lock()
	room.participants[userID] = p
	room.mu.Unlock()
	c.byUser[userID] = channelID
	c.mu.Unlock()

	// Issued before the ack; completion is the store's own business.
	if err := c.store.SaveVoiceState(*p); err != nil {
		log.Error().Err(err).Str("module", "app.voice").Str("user", string(userID)).Msg("save voice state")
	}

	c.reg.Send(userID, core.Event{
		Type: core.EvVoiceJoined,
		Data: core.VoiceJoinedData{
			ChannelID:    channelID,
			ServerID:     ch.ServerID,
			Participants: room.snapshotExcept(userID),
		},
	})
	c.broadcastExcept(room, userID, core.Event{
		Type: core.EvVoiceUserJoined,
		Data: core.VoiceUserJoinedData{ChannelID: channelID, User: *p},
	})
	c.channelUpdate(ctx, channelID, ch.ServerID, room.count())

	log.Info().Str("module", "app.voice").Str("user", string(userID)).Str("channel", string(channelID)).Msg("joined voice")
	return nil
}

// Leave removes the user from the channel's room. Idempotent: leaving a room
// the user is not in changes nothing and emits nothing.
func (c *Coordinator) Leave(ctx context.Context, userID domain.UserID, channelID domain.ChannelID) error {
	c.mu.Lock()
	room, ok := c.rooms[channelID]
	if !ok {
		if c.byUser[userID] == channelID {
			delete(c.byUser, userID)
		}
		c.mu.Unlock()
		return nil
	}
	room.mu.Lock()
	if _, present := room.participants[userID]; !present {
		room.mu.Unlock()
		if c.byUser[userID] == channelID {
			delete(c.byUser, userID)
		}
		c.mu.Unlock()
		return nil
	}
	delete(room.participants, userID)
	empty := len(room.participants) == 0
	room.mu.Unlock()
	if c.byUser[userID] == channelID {
		delete(c.byUser, userID)
	}
	if empty {
		delete(c.rooms, channelID)
	}
	serverID := room.serverID
	c.mu.Unlock()

	if err := c.store.RemoveVoiceState(userID, channelID); err != nil {
		log.Error().Err(err).Str("module", "app.voice").Str("user", string(userID)).Msg("remove voice state")
	}

	c.broadcastExcept(room, userID, core.Event{
		Type: core.EvVoiceUserLeft,
		Data: core.VoiceUserLeftData{ChannelID: channelID, UserID: userID},
	})
	c.channelUpdate(ctx, channelID, serverID, room.count())

	log.Info().Str("module", "app.voice").Str("user", string(userID)).Str("channel", string(channelID)).Msg("left voice")
	return nil
}

// LeaveAll is the disconnect path: leave whatever room, if any, the user
// currently occupies.
func (c *Coordinator) LeaveAll(ctx context.Context, userID domain.UserID) {
	c.mu.Lock()
	channelID, ok := c.byUser[userID]
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = c.Leave(ctx, userID, channelID)
}

// UpdateState merges the given flags into the user's participant entry and
// tells everyone else in the room. A request for a room the user is not in
// is a no-op.
func (c *Coordinator) UpdateState(ctx context.Context, userID domain.UserID, channelID domain.ChannelID, patch domain.VoiceStatePatch) error {
	c.mu.Lock()
	room, ok := c.rooms[channelID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	room.mu.Lock()
	p, present := room.participants[userID]
	if !present {
		room.mu.Unlock()
		return nil
	}
	patch.Apply(p)
	snapshot := *p
	room.mu.Unlock()

	if err := c.store.SaveVoiceState(snapshot); err != nil {
		log.Error().Err(err).Str("module", "app.voice").Str("user", string(userID)).Msg("save voice state")
	}

	c.broadcastExcept(room, userID, core.Event{
		Type: core.EvVoiceStateUpdate,
		Data: core.VoiceStateUpdateData{
			ChannelID:       channelID,
			UserID:          userID,
			IsMuted:         patch.IsMuted,
			IsDeafened:      patch.IsDeafened,
			IsVideoOn:       patch.IsVideoOn,
			IsScreenSharing: patch.IsScreenSharing,
		},
	})
	return nil
}

// Relay forwards an opaque negotiation payload to one participant of the
// channel. A missing target is a race with leave, not an error: drop.
func (c *Coordinator) Relay(kind SignalKind, from, to domain.UserID, channelID domain.ChannelID, payload json.RawMessage) {
	evType, ok := kind.eventType()
	if !ok {
		log.Warn().Str("module", "app.voice").Str("kind", string(kind)).Msg("unknown signal kind")
		return
	}
	c.mu.Lock()
	room, ok := c.rooms[channelID]
	c.mu.Unlock()
	if !ok {
		return
	}
	room.mu.RLock()
	_, present := room.participants[to]
	room.mu.RUnlock()
	if !present {
		return
	}
	c.reg.Send(to, core.Event{
		Type: evType,
		Data: core.VoiceSignalData{FromUserID: from, Payload: payload},
	})
}

// Participants snapshots every live voice participant, for the resync view.
func (c *Coordinator) Participants() []domain.VoiceParticipant {
	c.mu.Lock()
	rooms := make([]*voiceRoom, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	out := make([]domain.VoiceParticipant, 0)
	for _, r := range rooms {
		out = append(out, r.snapshotExcept("")...)
	}
	return out
}

// RoomParticipants snapshots one channel's roster.
func (c *Coordinator) RoomParticipants(channelID domain.ChannelID) []domain.VoiceParticipant {
	c.mu.Lock()
	room, ok := c.rooms[channelID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return room.snapshotExcept("")
}

// ChannelOf reports which channel, if any, the user currently occupies.
func (c *Coordinator) ChannelOf(userID domain.UserID) (domain.ChannelID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byUser[userID]
	return id, ok
}

func (c *Coordinator) broadcastExcept(room *voiceRoom, exclude domain.UserID, ev core.Event) {
	ids := room.memberIDs()
	if len(ids) == 0 {
		return
	}
	frame, ok := c.reg.Marshal(ev)
	if !ok {
		return
	}
	for _, id := range ids {
		if id == exclude {
			continue
		}
		c.reg.SendFrame(id, frame)
	}
}

// channelUpdate tells every member of the owning server the room's size so
// idle UI can show live counts. Advisory: it may lag a concurrent mutation.
func (c *Coordinator) channelUpdate(ctx context.Context, channelID domain.ChannelID, serverID domain.ServerID, count int) {
	members, err := c.dir.ServerMembers(ctx, serverID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.voice").Str("server", string(serverID)).Msg("server members lookup")
		return
	}
	c.fan.Deliver(members, core.Event{
		Type: core.EvVoiceChannelUpdate,
		Data: core.VoiceChannelUpdateData{ChannelID: channelID, ParticipantCount: count},
	})
}

func (c *Coordinator) sendError(userID domain.UserID, msg string) {
	c.reg.Send(userID, core.Event{Type: core.EvVoiceError, Data: core.VoiceErrorData{Message: msg}})
}
