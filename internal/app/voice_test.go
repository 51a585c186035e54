package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

type voiceFixture struct {
	reg   *Registry
	dir   *fakeDirectory
	store *fakeVoiceStore
	voice *Coordinator
	conns map[domain.UserID]*fakeConn
}

// newVoiceFixture builds one server with two voice channels and a text
// channel, three connected members and one connected outsider.
func newVoiceFixture(t *testing.T) *voiceFixture {
	t.Helper()
	reg := NewRegistry()
	dir := newFakeDirectory()
	store := newFakeVoiceStore()

	dir.channels["v1"] = domain.Channel{ID: "v1", ServerID: "s1", Name: "General", Type: domain.ChannelVoice}
	dir.channels["v2"] = domain.Channel{ID: "v2", ServerID: "s1", Name: "Gaming", Type: domain.ChannelVoice}
	dir.channels["t1"] = domain.Channel{ID: "t1", ServerID: "s1", Name: "chat", Type: domain.ChannelText}
	dir.serverMembers["s1"] = []domain.UserID{"u1", "u2", "u3"}

	f := &voiceFixture{
		reg:   reg,
		dir:   dir,
		store: store,
		voice: NewCoordinator(reg, dir, store, NewFanout(reg)),
		conns: make(map[domain.UserID]*fakeConn),
	}
	for _, id := range []domain.UserID{"u1", "u2", "u3", "u4"} {
		dir.users[id] = domain.User{ID: id, Username: "name-" + string(id)}
		conn := &fakeConn{}
		reg.Register(id, "name-"+string(id), conn)
		f.conns[id] = conn
	}
	return f
}

func (f *voiceFixture) resetConns() {
	for _, c := range f.conns {
		c.reset()
	}
}

func TestJoinAcknowledgesWithRoster(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	if err := f.voice.Join(ctx, "u1", "v1"); err != nil {
		t.Fatalf("Join u1: unexpected error: %v", err)
	}
	ev, ok := f.conns["u1"].find(t, core.EvVoiceJoined)
	if !ok {
		t.Fatalf("Join: u1 did not receive voice:joined")
	}
	var ack core.VoiceJoinedData
	if err := json.Unmarshal(ev.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.ChannelID != "v1" || ack.ServerID != "s1" || len(ack.Participants) != 0 {
		t.Fatalf("Join: first ack %+v", ack)
	}

	f.resetConns()
	if err := f.voice.Join(ctx, "u2", "v1"); err != nil {
		t.Fatalf("Join u2: unexpected error: %v", err)
	}

	// The second joiner sees the first in the roster, but not itself.
	ev, _ = f.conns["u2"].find(t, core.EvVoiceJoined)
	if err := json.Unmarshal(ev.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(ack.Participants) != 1 || ack.Participants[0].UserID != "u1" {
		t.Fatalf("Join: second ack roster %+v", ack.Participants)
	}

	// The first member learns about the newcomer.
	ev, ok = f.conns["u1"].find(t, core.EvVoiceUserJoined)
	if !ok {
		t.Fatalf("Join: u1 did not receive voice:user_joined")
	}
	var joined core.VoiceUserJoinedData
	if err := json.Unmarshal(ev.Data, &joined); err != nil {
		t.Fatalf("decode user_joined: %v", err)
	}
	if joined.User.UserID != "u2" || joined.User.Username != "name-u2" {
		t.Fatalf("Join: user_joined payload %+v", joined)
	}
}

func TestJoinBroadcastsChannelCount(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")

	// Every server member sees the count, including idle ones.
	for _, id := range []domain.UserID{"u1", "u2", "u3"} {
		ev, ok := f.conns[id].find(t, core.EvVoiceChannelUpdate)
		if !ok {
			t.Fatalf("channel update missing for %s", id)
		}
		var d core.VoiceChannelUpdateData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			t.Fatalf("decode channel update: %v", err)
		}
		if d.ChannelID != "v1" || d.ParticipantCount != 1 {
			t.Fatalf("channel update payload %+v", d)
		}
	}
	if _, ok := f.conns["u4"].find(t, core.EvVoiceChannelUpdate); ok {
		t.Fatalf("outsider received the channel update")
	}
}

func TestJoinRejections(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		user    domain.UserID
		channel domain.ChannelID
		want    error
	}{
		{"unknown channel", "u1", "nope", ErrChannelNotFound},
		{"text channel", "u1", "t1", ErrNotVoiceChannel},
		{"outsider", "u4", "v1", ErrNotServerMember},
	}
	for _, tc := range cases {
		f.resetConns()
		err := f.voice.Join(ctx, tc.user, tc.channel)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
		if _, ok := f.conns[tc.user].find(t, core.EvVoiceError); !ok {
			t.Fatalf("%s: requester did not receive voice:error", tc.name)
		}
		if f.voice.RoomParticipants(tc.channel) != nil {
			t.Fatalf("%s: rejected join mutated the room", tc.name)
		}
	}
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	_ = f.voice.Join(ctx, "u2", "v1")
	f.resetConns()

	if err := f.voice.Join(ctx, "u1", "v2"); err != nil {
		t.Fatalf("Join v2: unexpected error: %v", err)
	}

	if ch, _ := f.voice.ChannelOf("u1"); ch != "v2" {
		t.Fatalf("ChannelOf: got %q, want v2", ch)
	}
	if len(f.voice.RoomParticipants("v1")) != 1 {
		t.Fatalf("old room still holds the mover")
	}
	ev, ok := f.conns["u2"].find(t, core.EvVoiceUserLeft)
	if !ok {
		t.Fatalf("remaining member did not see the departure")
	}
	var left core.VoiceUserLeftData
	if err := json.Unmarshal(ev.Data, &left); err != nil {
		t.Fatalf("decode user_left: %v", err)
	}
	if left.ChannelID != "v1" || left.UserID != "u1" {
		t.Fatalf("user_left payload %+v", left)
	}
	if p, ok := f.store.state("u1"); !ok || p.ChannelID != "v2" {
		t.Fatalf("snapshot not moved, state %+v ok=%v", p, ok)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	f.resetConns()
	ops := f.store.opCount()

	if err := f.voice.Leave(ctx, "u2", "v1"); err != nil {
		t.Fatalf("Leave non-member: unexpected error: %v", err)
	}
	if err := f.voice.Leave(ctx, "u1", "v2"); err != nil {
		t.Fatalf("Leave wrong channel: unexpected error: %v", err)
	}

	for id, conn := range f.conns {
		if len(conn.events(t)) != 0 {
			t.Fatalf("no-op leave emitted events to %s: %v", id, conn.types(t))
		}
	}
	if f.store.opCount() != ops {
		t.Fatalf("no-op leave touched the snapshot store")
	}
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	if err := f.voice.Leave(ctx, "u1", "v1"); err != nil {
		t.Fatalf("Leave: unexpected error: %v", err)
	}

	if f.voice.RoomParticipants("v1") != nil {
		t.Fatalf("empty room not removed")
	}
	if _, ok := f.voice.ChannelOf("u1"); ok {
		t.Fatalf("reverse index still maps the departed user")
	}
	if _, ok := f.store.state("u1"); ok {
		t.Fatalf("snapshot row not removed")
	}
}

func TestUpdateStateBroadcastsChangedFlags(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	_ = f.voice.Join(ctx, "u2", "v1")
	f.resetConns()

	muted := true
	if err := f.voice.UpdateState(ctx, "u1", "v1", domain.VoiceStatePatch{IsMuted: &muted}); err != nil {
		t.Fatalf("UpdateState: unexpected error: %v", err)
	}

	ev, ok := f.conns["u2"].find(t, core.EvVoiceStateUpdate)
	if !ok {
		t.Fatalf("UpdateState: peer did not receive state_update")
	}
	var d core.VoiceStateUpdateData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		t.Fatalf("decode state_update: %v", err)
	}
	if d.UserID != "u1" || d.IsMuted == nil || !*d.IsMuted {
		t.Fatalf("state_update payload %+v", d)
	}
	if d.IsDeafened != nil || d.IsVideoOn != nil || d.IsScreenSharing != nil {
		t.Fatalf("unchanged flags present in payload %+v", d)
	}
	if _, ok := f.conns["u1"].find(t, core.EvVoiceStateUpdate); ok {
		t.Fatalf("UpdateState: echoed back to the originator")
	}
	if p, _ := f.store.state("u1"); !p.IsMuted {
		t.Fatalf("snapshot not updated: %+v", p)
	}
}

func TestUpdateStateOutsideRoomIsNoOp(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	muted := true
	if err := f.voice.UpdateState(ctx, "u1", "v1", domain.VoiceStatePatch{IsMuted: &muted}); err != nil {
		t.Fatalf("UpdateState: unexpected error: %v", err)
	}
	if f.store.opCount() != 0 {
		t.Fatalf("no-op update touched the snapshot store")
	}
}

func TestRelayDeliversToParticipant(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	_ = f.voice.Join(ctx, "u2", "v1")
	f.resetConns()

	payload := json.RawMessage(`{"sdp":"x"}`)
	f.voice.Relay(SignalOffer, "u1", "u2", "v1", payload)

	ev, ok := f.conns["u2"].find(t, core.EvVoiceOffer)
	if !ok {
		t.Fatalf("Relay: target did not receive the offer")
	}
	var d core.VoiceSignalData
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if d.FromUserID != "u1" || string(d.Payload) != `{"sdp":"x"}` {
		t.Fatalf("signal payload %+v", d)
	}
}

func TestRelayDropsForAbsentTarget(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	f.resetConns()

	f.voice.Relay(SignalAnswer, "u1", "u3", "v1", json.RawMessage(`{}`))
	f.voice.Relay(SignalICECandidate, "u1", "u2", "v9", json.RawMessage(`{}`))

	if len(f.conns["u3"].events(t)) != 0 {
		t.Fatalf("Relay: delivered to a user outside the room")
	}
	if len(f.conns["u2"].events(t)) != 0 {
		t.Fatalf("Relay: delivered for a room that does not exist")
	}
}

func TestLeaveAllOnDisconnect(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	_ = f.voice.Join(ctx, "u2", "v1")
	f.resetConns()

	f.voice.LeaveAll(ctx, "u1")

	if _, ok := f.voice.ChannelOf("u1"); ok {
		t.Fatalf("LeaveAll: user still indexed")
	}
	if _, ok := f.conns["u2"].find(t, core.EvVoiceUserLeft); !ok {
		t.Fatalf("LeaveAll: remaining member not notified")
	}

	f.resetConns()
	f.voice.LeaveAll(ctx, "u1")
	if len(f.conns["u2"].events(t)) != 0 {
		t.Fatalf("LeaveAll: repeated call emitted events")
	}
}

func TestParticipantsSnapshot(t *testing.T) {
	f := newVoiceFixture(t)
	ctx := context.Background()

	_ = f.voice.Join(ctx, "u1", "v1")
	_ = f.voice.Join(ctx, "u2", "v2")

	all := f.voice.Participants()
	if len(all) != 2 {
		t.Fatalf("Participants: got %d, want 2", len(all))
	}
}
