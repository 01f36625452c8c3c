package core

// Frame is a raw serialized signal message.
type Frame []byte

// SignalConnection abstracts a control-message transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking; a full queue is an error so
	// the caller can apply backpressure policy.
	TrySend(Frame) error
	Close()
}
