package transport

// State is the lifecycle position of the connection. Transitions are
// strictly ordered; only StateAuthenticated permits issuing operations.
type State int

const (
	// StateDisconnected means no connection exists.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateConnected means the socket is up but the session has not
	// completed the authenticate handshake.
	StateConnected
	// StateAuthenticated means the backend accepted the credential.
	StateAuthenticated
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// StatusKind classifies a transport lifecycle notification.
type StatusKind int

const (
	// StatusConnected fires after every successful dial, including
	// reconnects.
	StatusConnected StatusKind = iota
	// StatusDisconnected fires when an established connection drops
	// unexpectedly.
	StatusDisconnected
	// StatusConnectError fires when a dial attempt fails.
	StatusConnectError
	// StatusReconnectExhausted fires once the reconnect attempt ceiling
	// is reached. The transport makes no further attempts.
	StatusReconnectExhausted
)

// Status is delivered to observers registered with Notify.
type Status struct {
	Kind    StatusKind
	Err     error
	Attempt int // reconnection attempt number, 0 for the initial connect
}
