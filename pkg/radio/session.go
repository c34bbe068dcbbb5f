package radio

import (
	"github.com/kabili207/meshlink/pkg/meshtastic"
)

// ConnectionStatus is the session lifecycle state, in increasing progress
// order. Reconnecting is a parallel state entered only from Configured.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusInitializing
	StatusConfiguring
	StatusConfigured
	StatusReconnecting
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusInitializing:
		return "initializing"
	case StatusConfiguring:
		return "configuring"
	case StatusConfigured:
		return "configured"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// active reports whether a connect sequence owns the transport in this state.
func (s ConnectionStatus) active() bool {
	return s != StatusDisconnected
}

// Session describes the single active link. It is owned exclusively by the
// client's state machine; at most one session exists at a time.
type Session struct {
	// Address is the stable remote identifier used for reconnection.
	Address string
	// LocalNode is the node number learned from the device, never chosen.
	LocalNode meshtastic.NodeID
	// Status is the current lifecycle state.
	Status ConnectionStatus
	// ReconnectAttempts counts consecutive failed reconnection attempts.
	ReconnectAttempts int
}
