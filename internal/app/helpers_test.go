package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

var errConnFull = errors.New("send buffer full")

// fakeConn records every frame pushed to it so tests can assert on the exact
// wire traffic a user would see.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errConnFull
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"d"`
	Seq  int64           `json:"seq"`
}

func (c *fakeConn) events(t *testing.T) []wireEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wireEvent, 0, len(c.frames))
	for _, f := range c.frames {
		var ev wireEvent
		if err := json.Unmarshal(f, &ev); err != nil {
			t.Fatalf("decode frame %q: %v", f, err)
		}
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	evs := c.events(t)
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

// find returns the first recorded event of the given type.
func (c *fakeConn) find(t *testing.T, evType string) (wireEvent, bool) {
	t.Helper()
	for _, ev := range c.events(t) {
		if ev.Type == evType {
			return ev, true
		}
	}
	return wireEvent{}, false
}

func (c *fakeConn) countOf(t *testing.T, evType string) int {
	t.Helper()
	n := 0
	for _, ev := range c.events(t) {
		if ev.Type == evType {
			n++
		}
	}
	return n
}

// fakeDirectory is a map-backed relationship source.
type fakeDirectory struct {
	users         map[domain.UserID]domain.User
	friends       map[domain.UserID][]domain.UserID
	coMembers     map[domain.UserID][]domain.UserID
	serverMembers map[domain.ServerID][]domain.UserID
	channels      map[domain.ChannelID]domain.Channel
	conversations map[domain.ConversationID][]domain.UserID

	friendsErr   error
	coMembersErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:         make(map[domain.UserID]domain.User),
		friends:       make(map[domain.UserID][]domain.UserID),
		coMembers:     make(map[domain.UserID][]domain.UserID),
		serverMembers: make(map[domain.ServerID][]domain.UserID),
		channels:      make(map[domain.ChannelID]domain.Channel),
		conversations: make(map[domain.ConversationID][]domain.UserID),
	}
}

func (d *fakeDirectory) User(_ context.Context, id domain.UserID) (domain.User, error) {
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, core.ErrNotFound
	}
	return u, nil
}

func (d *fakeDirectory) FriendsOf(_ context.Context, id domain.UserID) ([]domain.UserID, error) {
	if d.friendsErr != nil {
		return nil, d.friendsErr
	}
	return d.friends[id], nil
}

func (d *fakeDirectory) CoMembersOf(_ context.Context, id domain.UserID) ([]domain.UserID, error) {
	if d.coMembersErr != nil {
		return nil, d.coMembersErr
	}
	return d.coMembers[id], nil
}

func (d *fakeDirectory) ServerMembers(_ context.Context, id domain.ServerID) ([]domain.UserID, error) {
	return d.serverMembers[id], nil
}

func (d *fakeDirectory) IsServerMember(_ context.Context, sid domain.ServerID, uid domain.UserID) (bool, error) {
	for _, id := range d.serverMembers[sid] {
		if id == uid {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) Channel(_ context.Context, id domain.ChannelID) (domain.Channel, error) {
	ch, ok := d.channels[id]
	if !ok {
		return domain.Channel{}, core.ErrNotFound
	}
	return ch, nil
}

func (d *fakeDirectory) ConversationParticipants(_ context.Context, id domain.ConversationID) ([]domain.UserID, error) {
	return d.conversations[id], nil
}

// fakeVoiceStore records snapshot operations synchronously.
type fakeVoiceStore struct {
	mu     sync.Mutex
	saved  map[domain.UserID]domain.VoiceParticipant
	ops    []string
	purged bool
}

func newFakeVoiceStore() *fakeVoiceStore {
	return &fakeVoiceStore{saved: make(map[domain.UserID]domain.VoiceParticipant)}
}

func (s *fakeVoiceStore) SaveVoiceState(p domain.VoiceParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[p.UserID] = p
	s.ops = append(s.ops, "save:"+string(p.UserID)+":"+string(p.ChannelID))
	return nil
}

func (s *fakeVoiceStore) RemoveVoiceState(uid domain.UserID, cid domain.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, uid)
	s.ops = append(s.ops, "remove:"+string(uid)+":"+string(cid))
	return nil
}

func (s *fakeVoiceStore) PurgeVoiceStates() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = make(map[domain.UserID]domain.VoiceParticipant)
	s.purged = true
	return nil
}

func (s *fakeVoiceStore) opCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *fakeVoiceStore) state(uid domain.UserID) (domain.VoiceParticipant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.saved[uid]
	return p, ok
}
