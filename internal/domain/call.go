package domain

// CallType distinguishes audio-only from video 1:1 calls. The server never
// acts on it beyond relaying; it is display information for the callee.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)
