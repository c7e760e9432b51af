package engine

// State is the session-scoped status of the stream. Exactly one is active.
type State int

const (
	// StateIdle means no stream was opened for the current conversation yet.
	StateIdle State = iota
	// StatePending means a stream is open but no response frame arrived yet.
	StatePending
	// StateStreaming means the transcript has a trailing assistant turn that
	// is being extended.
	StateStreaming
	// StateStopped is terminal: a stop frame, the end of the stream or a user
	// cancellation was observed.
	StateStopped
	// StateFailed is terminal: the transport failed before a stop.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a stream is currently open.
func (s State) Active() bool {
	return s == StatePending || s == StateStreaming
}

func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
