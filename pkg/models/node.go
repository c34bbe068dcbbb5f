package models

import (
	"time"

	"github.com/kabili207/meshlink/pkg/meshtastic"
)

// Node is one entry in the mesh node registry. Entries are created and
// updated from inbound node-info packets and never deleted, only superseded.
type Node struct {
	Num       meshtastic.NodeID
	LongName  string
	ShortName string
	HWModel   string
	PublicKey []byte

	LastHeard time.Time
	Position  *Position
	SNR       float32
}

// GetDisplayName returns the long name, falling back to the canonical hex ID
// when the node has not announced one yet.
func (n *Node) GetDisplayName() string {
	if n.LongName != "" {
		return n.LongName
	}
	return n.Num.String()
}

// Position is a geographic fix attributed to a node.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  int32
	Time      time.Time
}

// IsZero reports whether the fix carries no usable coordinates.
func (p *Position) IsZero() bool {
	return p == nil || (p.Latitude == 0 && p.Longitude == 0)
}

// PositionSample is a timestamped position event keyed by the reporting node.
type PositionSample struct {
	Node     meshtastic.NodeID
	Position Position
	Time     time.Time
}

// TelemetrySample is a timestamped metric snapshot keyed by the reporting
// node. Samples are append-only; they have no identity beyond (node, time).
type TelemetrySample struct {
	Node               meshtastic.NodeID
	Time               time.Time
	BatteryLevel       uint32
	Voltage            float32
	ChannelUtilization float32
	AirUtilTx          float32
}
