package radio

import "errors"

var (
	// ErrNotConnected is returned by commands that need a live session.
	ErrNotConnected = errors.New("no active radio session")
	// ErrNoLocalIdentity is returned when an operation requires the local
	// node number and the device has not announced it yet.
	ErrNoLocalIdentity = errors.New("local node identity not yet known")
	// ErrEmptyMessage rejects outbound text messages with no content.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrPrimaryChannel rejects deletion of channel slot 0.
	ErrPrimaryChannel = errors.New("primary channel cannot be deleted")
	// ErrInvalidChannelIndex rejects slot indices outside 0..7.
	ErrInvalidChannelIndex = errors.New("channel index out of range")
	// ErrNoFreeChannel means all seven secondary slots are in use.
	ErrNoFreeChannel = errors.New("no free secondary channel slot")
	// ErrReconnectFailed means the bounded reconnection policy gave up.
	ErrReconnectFailed = errors.New("reconnection attempts exhausted")
)
