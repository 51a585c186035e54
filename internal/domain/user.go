// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// Status is raw connectivity as seen by the server: a user is online exactly
// while a live connection is registered for them.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// PresenceMode is the user-chosen availability label. It is independent of
// Status and only meaningful while the user is online; PresenceOffline is the
// value broadcast alongside StatusOffline on disconnect.
type PresenceMode string

const (
	PresenceOnline    PresenceMode = "online"
	PresenceIdle      PresenceMode = "idle"
	PresenceDND       PresenceMode = "dnd"
	PresenceInvisible PresenceMode = "invisible"
	PresenceOffline   PresenceMode = "offline"
)

// ValidPresenceMode reports whether m is a mode a client may set.
func ValidPresenceMode(m PresenceMode) bool {
	switch m {
	case PresenceOnline, PresenceIdle, PresenceDND, PresenceInvisible:
		return true
	}
	return false
}

type User struct {
	ID       UserID       `json:"id"`
	Username string       `json:"username"`
	Avatar   string       `json:"avatar,omitempty"`
	Presence PresenceMode `json:"presence,omitempty"`
}
