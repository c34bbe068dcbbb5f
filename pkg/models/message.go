package models

import (
	"fmt"
	"time"

	"github.com/kabili207/meshlink/pkg/meshtastic"
)

// MessageStatus is the delivery state of an outbound message. Inbound
// messages are terminal on creation and keep the zero status.
type MessageStatus int

const (
	MessageStatusNone MessageStatus = iota
	MessageStatusSent
	MessageStatusDelivered
	MessageStatusFailed
)

func (s MessageStatus) String() string {
	switch s {
	case MessageStatusSent:
		return "sent"
	case MessageStatusDelivered:
		return "delivered"
	case MessageStatusFailed:
		return "failed"
	default:
		return "none"
	}
}

// MessageDirection distinguishes locally sent from received messages.
type MessageDirection int

const (
	MessageDirectionIn MessageDirection = iota + 1
	MessageDirectionOut
)

// Message is one logical chat or broadcast unit. Outbound messages are
// created optimistically in Sent state and flipped to Delivered or Failed
// once the routing acknowledgement for PacketID arrives. The flip happens on
// the client's dispatch goroutine; callers holding the returned pointer must
// not poll Status and instead consume the delivery-updated event, which
// carries a stable snapshot.
type Message struct {
	ID        string
	PacketID  uint32
	From      meshtastic.NodeID
	To        meshtastic.NodeID
	Channel   int32
	Text      string
	Location  *Position
	Time      time.Time
	Direction MessageDirection
	Status    MessageStatus
}

// IsBroadcast reports whether the message is addressed to all nodes.
func (m *Message) IsBroadcast() bool {
	return m.To.IsBroadcast()
}

// MessageID derives a locally unique message identifier from the sender and
// timestamp. It is unique enough for display purposes, not globally.
func MessageID(from meshtastic.NodeID, at time.Time) string {
	return fmt.Sprintf("%s-%d", from, at.UnixNano())
}

// BrokerMessage is an opaque proxy message relayed between the radio and the
// MQTT broker. It is forwarded and discarded, never cached.
type BrokerMessage struct {
	Topic    string
	Payload  []byte
	Text     string
	Retained bool
}

// Binary reports whether the payload is raw bytes rather than text.
func (m *BrokerMessage) Binary() bool {
	return m.Text == ""
}
