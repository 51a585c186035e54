package app

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

// Session wraps one live connection with its authenticated identity and
// small mutable state. Exactly one live Session per user at any instant.
type Session struct {
	UserID   domain.UserID
	Username string

	conn core.SignalConnection

	mu           sync.Mutex
	presence     domain.PresenceMode
	lastActivity time.Time
}

func (s *Session) Conn() core.SignalConnection { return s.conn }

func (s *Session) Presence() domain.PresenceMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence
}

func (s *Session) setPresence(mode domain.PresenceMode) {
	s.mu.Lock()
	s.presence = mode
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Registry is the process-wide mapping from user id to current live
// connection. Read-heavy: every fan-out resolves recipients here, while
// register/unregister happen only on connect/disconnect.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*Session
	seq      atomic.Int64

	// OnRegister and OnUnregister wire the registry to the rest of the
	// system (durable status, presence broadcast, voice/call cleanup)
	// without the registry depending on those components. Called
	// synchronously after the mapping change, outside the lock.
	OnRegister   func(*Session)
	OnUnregister func(*Session)
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.UserID]*Session)}
}

// Register installs or replaces the mapping for the user. A superseded
// connection is only removed from the lookup path; the transport itself is
// not torn down here.
func (r *Registry) Register(userID domain.UserID, username string, conn core.SignalConnection) *Session {
	sess := &Session{
		UserID:       userID,
		Username:     username,
		conn:         conn,
		presence:     domain.PresenceOnline,
		lastActivity: time.Now(),
	}

	r.mu.Lock()
	_, evicted := r.sessions[userID]
	r.sessions[userID] = sess
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("user", string(userID)).Bool("evicted", evicted).Msg("session registered")

	if r.OnRegister != nil {
		r.OnRegister(sess)
	}
	return sess
}

// Unregister removes the mapping, but only while it still points at conn:
// a superseded connection's late disconnect must not evict its successor.
func (r *Registry) Unregister(userID domain.UserID, conn core.SignalConnection) {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if !ok || sess.conn != conn {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, userID)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("user", string(userID)).Msg("session unregistered")

	if r.OnUnregister != nil {
		r.OnUnregister(sess)
	}
}

func (r *Registry) Session(userID domain.UserID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// Resolve returns the live connection handle for a user, if any.
func (r *Registry) Resolve(userID domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sess, ok := r.sessions[userID]; ok {
		return sess.conn, true
	}
	return nil, false
}

// Marshal serializes an event, stamping the process-wide sequence number.
// Fan-out callers marshal once and push the same frame to every recipient.
func (r *Registry) Marshal(ev core.Event) (core.Frame, bool) {
	ev.Seq = r.seq.Add(1)
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("event", ev.Type).Msg("marshal event")
		return nil, false
	}
	return data, true
}

// Send pushes an event to the user's live connection. Returns false when the
// user is offline or the connection cannot accept the frame; callers that
// care (call signaling) use that to report user_offline, everyone else drops
// silently.
func (r *Registry) Send(userID domain.UserID, ev core.Event) bool {
	frame, ok := r.Marshal(ev)
	if !ok {
		return false
	}
	return r.SendFrame(userID, frame)
}

func (r *Registry) SendFrame(userID domain.UserID, frame core.Frame) bool {
	conn, ok := r.Resolve(userID)
	if !ok {
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "app.registry").Str("user", string(userID)).Msg("send dropped")
		return false
	}
	return true
}

// SetPresence updates the session's presence mode; no-op when offline.
func (r *Registry) SetPresence(userID domain.UserID, mode domain.PresenceMode) bool {
	sess, ok := r.Session(userID)
	if !ok {
		return false
	}
	sess.setPresence(mode)
	return true
}

// Touch refreshes the session's last-activity timestamp.
func (r *Registry) Touch(userID domain.UserID) {
	if sess, ok := r.Session(userID); ok {
		sess.touch()
	}
}

// OnlineIDs lists every currently registered user.
func (r *Registry) OnlineIDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
