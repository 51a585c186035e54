package signal

import (
	"encoding/json"

	"github.com/mpetrov/concord/internal/domain"
)

func (ctl *Controller) handleCallRequest(userID domain.UserID, username string, data []byte) {
	var p struct {
		TargetUserID domain.UserID   `json:"targetUserId"`
		CallType     domain.CallType `json:"callType"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		return
	}
	if p.CallType != domain.CallAudio && p.CallType != domain.CallVideo {
		p.CallType = domain.CallAudio
	}
	ctl.Calls.Request(userID, username, p.TargetUserID, p.CallType)
}

func (ctl *Controller) handleCallAccept(userID domain.UserID, data []byte) {
	var p struct {
		CallerID domain.UserID `json:"callerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallerID == "" {
		return
	}
	ctl.Calls.Accept(userID, p.CallerID)
}

func (ctl *Controller) handleCallReject(userID domain.UserID, data []byte) {
	var p struct {
		CallerID domain.UserID `json:"callerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallerID == "" {
		return
	}
	ctl.Calls.Reject(userID, p.CallerID)
}

func (ctl *Controller) handleCallOffer(userID domain.UserID, data []byte) {
	var p struct {
		TargetUserID domain.UserID   `json:"targetUserId"`
		Payload      json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		return
	}
	ctl.Calls.Offer(userID, p.TargetUserID, p.Payload)
}

func (ctl *Controller) handleCallAnswer(userID domain.UserID, data []byte) {
	var p struct {
		CallerID domain.UserID   `json:"callerId"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CallerID == "" {
		return
	}
	ctl.Calls.Answer(userID, p.CallerID, p.Payload)
}

func (ctl *Controller) handleCallICECandidate(userID domain.UserID, data []byte) {
	var p struct {
		TargetUserID domain.UserID   `json:"targetUserId"`
		Payload      json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		return
	}
	ctl.Calls.ICECandidate(userID, p.TargetUserID, p.Payload)
}

func (ctl *Controller) handleCallEnd(userID domain.UserID, data []byte) {
	var p struct {
		TargetUserID domain.UserID `json:"targetUserId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		return
	}
	ctl.Calls.End(userID, p.TargetUserID)
}

func (ctl *Controller) handleScreenShare(userID domain.UserID, data []byte, started bool) {
	var p struct {
		TargetUserID domain.UserID `json:"targetUserId"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
		return
	}
	ctl.Calls.ScreenShare(userID, p.TargetUserID, started)
}
