package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mpetrov/concord/internal/core"
	"github.com/mpetrov/concord/internal/domain"
)

type callKey struct {
	caller domain.UserID
	callee domain.UserID
}

// CallRelay forwards 1:1 call negotiation between exactly two users. It
// holds no durable state; the only bookkeeping is the set of (caller,callee)
// pairs, kept so a disconnect can tell the counterpart the call is over.
// Nothing stops a user from being in several concurrent calls; client call
// state machines are trusted end to end.
type CallRelay struct {
	reg *Registry

	mu     sync.Mutex
	active map[callKey]domain.CallType
}

func NewCallRelay(reg *Registry) *CallRelay {
	return &CallRelay{reg: reg, active: make(map[callKey]domain.CallType)}
}

// Request rings the callee, or tells the caller the callee is offline.
func (cr *CallRelay) Request(caller domain.UserID, callerUsername string, callee domain.UserID, callType domain.CallType) {
	if _, online := cr.reg.Resolve(callee); !online {
		cr.reg.Send(caller, core.Event{
			Type: core.EvCallFailed,
			Data: core.CallFailedData{Reason: core.CallFailedUserOffline},
		})
		return
	}

	cr.mu.Lock()
	cr.active[callKey{caller: caller, callee: callee}] = callType
	cr.mu.Unlock()

	cr.reg.Send(callee, core.Event{
		Type: core.EvIncomingCall,
		Data: core.IncomingCallData{CallerID: caller, CallerUsername: callerUsername, CallType: callType},
	})
	log.Info().Str("module", "app.call").Str("caller", string(caller)).Str("callee", string(callee)).Str("type", string(callType)).Msg("call requested")
}

// Accept tells the caller the callee picked up.
func (cr *CallRelay) Accept(callee, caller domain.UserID) {
	cr.reg.Send(caller, core.Event{
		Type: core.EvCallAccepted,
		Data: core.CallAcceptedData{RecipientID: callee},
	})
}

// Reject tells the caller the callee declined and forgets the pair.
func (cr *CallRelay) Reject(callee, caller domain.UserID) {
	cr.forget(caller, callee)
	cr.reg.Send(caller, core.Event{Type: core.EvCallRejected})
}

// Offer, Answer and ICECandidate are opaque passthrough: dropped silently
// when the target is offline.
func (cr *CallRelay) Offer(from, to domain.UserID, payload json.RawMessage) {
	cr.signal(core.EvCallOffer, from, to, payload)
}

func (cr *CallRelay) Answer(from, to domain.UserID, payload json.RawMessage) {
	cr.signal(core.EvCallAnswer, from, to, payload)
}

func (cr *CallRelay) ICECandidate(from, to domain.UserID, payload json.RawMessage) {
	cr.signal(core.EvICECandidate, from, to, payload)
}

// End tells the other party the call is over and forgets the pair.
func (cr *CallRelay) End(from, to domain.UserID) {
	cr.forget(from, to)
	cr.reg.Send(to, core.Event{Type: core.EvCallEnded})
}

// ScreenShare announces a screen-share toggle to the other party.
func (cr *CallRelay) ScreenShare(from, to domain.UserID, started bool) {
	evType := core.EvScreenShareStopped
	if started {
		evType = core.EvScreenShareStarted
	}
	cr.reg.Send(to, core.Event{Type: evType, Data: core.ScreenShareData{UserID: from}})
}

// AbortAllFor ends every call the user is a side of; the disconnect path.
func (cr *CallRelay) AbortAllFor(userID domain.UserID) {
	cr.mu.Lock()
	counterparts := make(map[domain.UserID]struct{})
	for key := range cr.active {
		switch userID {
		case key.caller:
			counterparts[key.callee] = struct{}{}
			delete(cr.active, key)
		case key.callee:
			counterparts[key.caller] = struct{}{}
			delete(cr.active, key)
		}
	}
	cr.mu.Unlock()

	for other := range counterparts {
		cr.reg.Send(other, core.Event{Type: core.EvCallEnded})
	}
	if len(counterparts) > 0 {
		log.Info().Str("module", "app.call").Str("user", string(userID)).Int("calls", len(counterparts)).Msg("calls aborted on disconnect")
	}
}

// ActiveCalls reports how many negotiations are currently tracked.
func (cr *CallRelay) ActiveCalls() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.active)
}

func (cr *CallRelay) signal(evType string, from, to domain.UserID, payload json.RawMessage) {
	cr.reg.Send(to, core.Event{
		Type: evType,
		Data: core.CallSignalData{FromUserID: from, Payload: payload},
	})
}

func (cr *CallRelay) forget(caller, callee domain.UserID) {
	cr.mu.Lock()
	delete(cr.active, callKey{caller: caller, callee: callee})
	delete(cr.active, callKey{caller: callee, callee: caller})
	cr.mu.Unlock()
}
