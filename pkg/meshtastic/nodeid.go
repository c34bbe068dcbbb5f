package meshtastic

import (
	"fmt"
	"strconv"
	"strings"
)

// BroadcastAddr is the reserved node number meaning "all nodes on this
// channel" rather than a specific node.
const BroadcastAddr NodeID = 0xFFFFFFFF

// NodeID is a Meshtastic node number. The canonical display form is the
// lower-case hex representation prefixed with '!', e.g. "!a1b2c3d4".
type NodeID uint32

func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// IsBroadcast reports whether the ID is the broadcast sentinel.
func (n NodeID) IsBroadcast() bool {
	return n == BroadcastAddr
}

// ParseNodeID parses the "!a1b2c3d4" display form back into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	raw, ok := strings.CutPrefix(s, "!")
	if !ok || len(raw) != 8 {
		return 0, fmt.Errorf("invalid node ID %q", s)
	}
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid node ID %q: %w", s, err)
	}
	return NodeID(v), nil
}
