package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

// Presence pushes status changes to everyone with a relationship to the
// user: accepted friends plus members of any shared server. Push-only,
// at-most-once per call; a briefly disconnected recipient sees the correct
// status on its next full fetch from the REST layer.
type Presence struct {
	reg *Registry
	dir core.Directory
}

func NewPresence(reg *Registry, dir core.Directory) *Presence {
	return &Presence{reg: reg, dir: dir}
}

// Notify fans a user_status event out to the interested set. Lookup failures
// shrink the set rather than abort the broadcast.
func (p *Presence) Notify(ctx context.Context, userID domain.UserID, status domain.Status, mode domain.PresenceMode) {
	interested := make(map[domain.UserID]struct{})

	friends, err := p.dir.FriendsOf(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Str("user", string(userID)).Msg("friends lookup")
	}
	for _, id := range friends {
		interested[id] = struct{}{}
	}

	coMembers, err := p.dir.CoMembersOf(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Str("user", string(userID)).Msg("co-members lookup")
	}
	for _, id := range coMembers {
		interested[id] = struct{}{}
	}
	delete(interested, userID)

	if len(interested) == 0 {
		return
	}

	frame, ok := p.reg.Marshal(core.Event{
		Type: core.EvUserStatus,
		Data: core.UserStatusData{UserID: userID, Status: status, Presence: mode},
	})
	if !ok {
		return
	}
	sent := 0
	for id := range interested {
		if p.reg.SendFrame(id, frame) {
			sent++
		}
	}
	log.Debug().Str("module", "app.presence").Str("user", string(userID)).Str("status", string(status)).Int("sent", sent).Msg("status broadcast")
}
