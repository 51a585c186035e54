package core

import (
	"context"
	"errors"

	"github.com/mpetrov/concord/internal/domain"
)

// ErrNotFound is returned by collaborators when the requested row does not
// exist. Callers turn it into a requester-only error event, never a fault.
var ErrNotFound = errors.New("not found")

// Directory is the read-only relationship lookup collaborator. The real-time
// core resolves recipient sets through it and never reasons about the schema
// behind it.
type Directory interface {
	User(ctx context.Context, id domain.UserID) (domain.User, error)
	FriendsOf(ctx context.Context, id domain.UserID) ([]domain.UserID, error)
	CoMembersOf(ctx context.Context, id domain.UserID) ([]domain.UserID, error)
	ServerMembers(ctx context.Context, id domain.ServerID) ([]domain.UserID, error)
	IsServerMember(ctx context.Context, sid domain.ServerID, uid domain.UserID) (bool, error)
	Channel(ctx context.Context, id domain.ChannelID) (domain.Channel, error)
	ConversationParticipants(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error)
}

// StatusStore records durable connectivity/presence so the REST layer can
// serve fresh status on fetch.
type StatusStore interface {
	SetUserStatus(ctx context.Context, id domain.UserID, status domain.Status) error
	SetUserPresence(ctx context.Context, id domain.UserID, mode domain.PresenceMode) error
}

// VoiceStateStore mirrors the in-memory voice membership for crash recovery
// and inspection. Writes are best-effort: implementations must not block the
// caller and must swallow failures after logging them; the in-memory set
// stays authoritative either way.
type VoiceStateStore interface {
	SaveVoiceState(p domain.VoiceParticipant) error
	RemoveVoiceState(uid domain.UserID, cid domain.ChannelID) error
	PurgeVoiceStates() error
}

// Identity is a verified user identity handed to the core by the auth
// collaborator.
type Identity struct {
	UserID   domain.UserID
	Username string
}

// CredentialVerifier validates a client-presented credential token.
type CredentialVerifier interface {
	Verify(token string) (Identity, error)
}
