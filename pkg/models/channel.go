package models

import "fmt"

// ChannelRole mirrors the device's channel role setting.
type ChannelRole int

const (
	ChannelRoleDisabled ChannelRole = iota
	ChannelRolePrimary
	ChannelRoleSecondary
)

func (r ChannelRole) String() string {
	switch r {
	case ChannelRolePrimary:
		return "primary"
	case ChannelRoleSecondary:
		return "secondary"
	default:
		return "disabled"
	}
}

// Channel slot constraints: eight slots, index 0 is the primary channel and
// can never be deleted.
const (
	PrimaryChannelIndex = 0
	MaxChannelIndex     = 7
)

// Channel is one of the device's eight channel slots. Deleting a channel is
// modeled as setting its role to disabled; slots are reused, not removed.
type Channel struct {
	Index             int32
	Name              string
	Role              ChannelRole
	PSK               []byte
	UplinkEnabled     bool
	DownlinkEnabled   bool
	PositionPrecision uint32
}

// Encrypted reports whether the slot carries a pre-shared key.
func (c *Channel) Encrypted() bool {
	return len(c.PSK) > 0
}

// GetDisplayName returns the configured name, or the conventional default
// for unnamed slots.
func (c *Channel) GetDisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Index == PrimaryChannelIndex {
		return "Primary"
	}
	return fmt.Sprintf("Channel %d", c.Index)
}
