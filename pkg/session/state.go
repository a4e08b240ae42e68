// Package session implements the panel side of a call: one TCP connection
// to the call server carrying text commands and photo frames.
package session

// State is the connection state.
type State uint8

const (
	// StateDisconnected means no session is open.
	StateDisconnected State = iota
	// StateConnected means a session is open.
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// DisconnectReason tells a disconnect callback who ended the session.
type DisconnectReason uint8

const (
	// ReasonLocal means Disconnect was called on this side.
	ReasonLocal DisconnectReason = iota
	// ReasonPeerClosed means the server closed the connection. The socket
	// stays open until Disconnect is called.
	ReasonPeerClosed
)

// String returns the reason name.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonLocal:
		return "LOCAL"
	case ReasonPeerClosed:
		return "PEER_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DisconnectFunc is invoked when a session ends.
type DisconnectFunc func(reason DisconnectReason)
