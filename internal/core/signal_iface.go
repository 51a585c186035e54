package core

// Frame is a raw serialized payload ready for the wire.
type Frame []byte

// SignalConnection abstracts a live, addressable messaging transport endpoint.
// Owned by the adapter; the adapter must Close() it. TrySend never blocks:
// it either buffers the frame or fails immediately.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
