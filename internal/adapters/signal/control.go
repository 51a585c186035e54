package signal

import "github.com/mpetrov/concord/internal/core"

func (ctl *Controller) handlePing(st *connState) {
	ctl.sendJSON(st.conn, core.Event{Type: core.EvPong})
}
