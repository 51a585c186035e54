package app

import (
	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

// Fanout delivers one event to a fixed recipient list, dropping silently for
// anyone offline. No ordering guarantee between recipients and no
// persistence: durable visibility comes from the store on reconnect, this is
// only the instant path.
type Fanout struct {
	reg *Registry
}

func NewFanout(reg *Registry) *Fanout {
	return &Fanout{reg: reg}
}

// Deliver pushes ev to every distinct id in recipients and reports how many
// connections accepted it.
func (f *Fanout) Deliver(recipients []domain.UserID, ev core.Event) int {
	frame, ok := f.reg.Marshal(ev)
	if !ok {
		return 0
	}
	sent := 0
	seen := make(map[domain.UserID]struct{}, len(recipients))
	for _, id := range recipients {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if f.reg.SendFrame(id, frame) {
			sent++
		}
	}
	return sent
}
