package radio

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
	"github.com/kabili207/meshlink/pkg/models"
	"github.com/kabili207/meshlink/pkg/radio/codec"
)

// SendText builds, writes and tracks an outbound text message. The returned
// Message is optimistic: Sent now, flipped to Delivered or Failed when the
// routing acknowledgement for its packet id arrives.
func (c *Client) SendText(text string, dest meshtastic.NodeID, channel int32) (*models.Message, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	local := c.LocalNode()
	if local == 0 {
		return nil, ErrNoLocalIdentity
	}

	pkt := codec.NewTextPacket(text, dest, channel)
	record, err := codec.EncodeMeshPacket(pkt)
	if err != nil {
		return nil, fmt.Errorf("encoding text message: %w", err)
	}
	if err := c.writeRecord(record); err != nil {
		return nil, fmt.Errorf("sending text message: %w", err)
	}

	now := time.Now()
	msg := &models.Message{
		ID:        models.MessageID(local, now),
		PacketID:  pkt.GetId(),
		From:      local,
		To:        dest,
		Channel:   channel,
		Text:      text,
		Time:      now,
		Direction: models.MessageDirectionOut,
		Status:    models.MessageStatusSent,
	}
	c.trackPending(msg)
	c.log.Debug("text message sent", "packet_id", msg.PacketID, "to", dest, "channel", channel)
	return msg, nil
}

// SendPosition reports a position fix. The packet is addressed to the local
// node itself so the device re-broadcasts it as its own fix.
func (c *Client) SendPosition(lat, lon float64, alt *int32) error {
	local := c.LocalNode()
	if local == 0 {
		return ErrNoLocalIdentity
	}

	pkt := codec.NewPositionPacket(lat, lon, alt, local, models.PrimaryChannelIndex, uint32(time.Now().Unix()))
	record, err := codec.EncodeMeshPacket(pkt)
	if err != nil {
		return fmt.Errorf("encoding position: %w", err)
	}
	if err := c.writeRecord(record); err != nil {
		return fmt.Errorf("sending position: %w", err)
	}
	c.log.Debug("position sent", "packet_id", pkt.GetId())
	return nil
}

// SendLocationMessage shares a position as a chat-visible message addressed
// to an explicit destination or broadcast.
func (c *Client) SendLocationMessage(lat, lon float64, alt *int32, dest meshtastic.NodeID, channel int32) (*models.Message, error) {
	local := c.LocalNode()
	if local == 0 {
		return nil, ErrNoLocalIdentity
	}

	now := time.Now()
	pkt := codec.NewPositionPacket(lat, lon, alt, dest, channel, uint32(now.Unix()))
	record, err := codec.EncodeMeshPacket(pkt)
	if err != nil {
		return nil, fmt.Errorf("encoding location message: %w", err)
	}
	if err := c.writeRecord(record); err != nil {
		return nil, fmt.Errorf("sending location message: %w", err)
	}

	loc := &models.Position{Latitude: lat, Longitude: lon, Time: now}
	if alt != nil {
		loc.Altitude = *alt
	}
	msg := &models.Message{
		ID:        models.MessageID(local, now),
		PacketID:  pkt.GetId(),
		From:      local,
		To:        dest,
		Channel:   channel,
		Location:  loc,
		Time:      now,
		Direction: models.MessageDirectionOut,
		Status:    models.MessageStatusSent,
	}
	c.trackPending(msg)
	c.log.Debug("location message sent", "packet_id", msg.PacketID, "to", dest)
	return msg, nil
}

// SendProxyMessage writes a broker-originated message to the device. Used by
// the broker bridge for the broker-to-mesh direction.
func (c *Client) SendProxyMessage(msg *models.BrokerMessage) error {
	if c.Status() != StatusConfigured {
		return ErrNotConnected
	}
	record, err := codec.EncodeProxyMessage(&pb.MqttClientProxyMessage{
		Topic:          msg.Topic,
		Retained:       msg.Retained,
		PayloadVariant: &pb.MqttClientProxyMessage_Data{Data: msg.Payload},
	})
	if err != nil {
		return fmt.Errorf("encoding proxy message: %w", err)
	}
	if err := c.writeRecord(record); err != nil {
		return fmt.Errorf("forwarding proxy message: %w", err)
	}
	return nil
}

func (c *Client) trackPending(msg *models.Message) {
	c.pending.Set(msg.PacketID, msg, ttlcache.DefaultTTL)
}

// handleMeshPacket routes an inbound mesh packet by application port.
func (c *Client) handleMeshPacket(pkt *pb.MeshPacket) {
	data := pkt.GetDecoded()
	if data == nil {
		// Encrypted payload we cannot read; still counts as node activity.
		c.registry.TouchNode(meshtastic.NodeID(pkt.GetFrom()), packetTime(pkt), pkt.GetRxSnr())
		return
	}

	from := meshtastic.NodeID(pkt.GetFrom())
	if from != 0 && !from.IsBroadcast() {
		node := c.registry.TouchNode(from, packetTime(pkt), pkt.GetRxSnr())
		c.events.publish(Event{Kind: EventNodeUpdated, Node: node})
	}

	switch data.GetPortnum() {
	case pb.PortNum_TEXT_MESSAGE_APP:
		c.handleTextMessage(pkt, data)
	case pb.PortNum_POSITION_APP:
		c.handlePosition(pkt, data)
	case pb.PortNum_TELEMETRY_APP:
		c.handleTelemetry(pkt, data)
	case pb.PortNum_ROUTING_APP:
		c.handleRoutingAck(data)
	case pb.PortNum_ADMIN_APP:
		c.log.Debug("admin response received", "from", from, "request_id", data.GetRequestId())
	default:
		c.log.Debug("ignoring packet on unhandled port", "port", data.GetPortnum(), "from", from)
	}
}

func (c *Client) handleTextMessage(pkt *pb.MeshPacket, data *pb.Data) {
	from := meshtastic.NodeID(pkt.GetFrom())
	to := meshtastic.NodeID(pkt.GetTo())

	local := c.LocalNode()
	if local != 0 && from == local {
		// Echo of our own transmission.
		return
	}
	if local == 0 && !to.IsBroadcast() {
		// A direct message tells us who we are before MyInfo arrives.
		c.learnLocalNode(to)
		local = to
	}
	if local != 0 && !to.IsBroadcast() && to != local {
		return
	}

	at := packetTime(pkt)
	msg := &models.Message{
		ID:        models.MessageID(from, at),
		PacketID:  pkt.GetId(),
		From:      from,
		To:        to,
		Channel:   int32(pkt.GetChannel()),
		Text:      string(data.GetPayload()),
		Time:      at,
		Direction: models.MessageDirectionIn,
	}
	c.log.Debug("text message received", "from", from, "channel", msg.Channel)
	c.events.publish(Event{Kind: EventMessageReceived, Message: msg})
}

// handlePosition dispatches every fix as a position sample, and additionally
// surfaces direct or broadcast fixes from other nodes as location messages.
func (c *Client) handlePosition(pkt *pb.MeshPacket, data *pb.Data) {
	var raw pb.Position
	if err := proto.Unmarshal(data.GetPayload(), &raw); err != nil {
		c.log.Warn("dropping malformed position payload", "error", err)
		return
	}

	from := meshtastic.NodeID(pkt.GetFrom())
	to := meshtastic.NodeID(pkt.GetTo())
	pos := positionFromProto(&raw)
	if pos == nil {
		return
	}
	if pos.Time.IsZero() {
		pos.Time = packetTime(pkt)
	}

	if !pos.IsZero() {
		node := c.registry.SetNodePosition(from, *pos)
		c.events.publish(Event{Kind: EventNodeUpdated, Node: node})
	}
	c.events.publish(Event{Kind: EventPositionReceived, Position: &models.PositionSample{
		Node:     from,
		Position: *pos,
		Time:     pos.Time,
	}})

	local := c.LocalNode()
	if pos.IsZero() || from == local {
		return
	}
	if !to.IsBroadcast() && to != local {
		return
	}
	msg := &models.Message{
		ID:        models.MessageID(from, pos.Time),
		PacketID:  pkt.GetId(),
		From:      from,
		To:        to,
		Channel:   int32(pkt.GetChannel()),
		Location:  pos,
		Time:      pos.Time,
		Direction: models.MessageDirectionIn,
	}
	c.events.publish(Event{Kind: EventMessageReceived, Message: msg})
}

func (c *Client) handleTelemetry(pkt *pb.MeshPacket, data *pb.Data) {
	var raw pb.Telemetry
	if err := proto.Unmarshal(data.GetPayload(), &raw); err != nil {
		c.log.Warn("dropping malformed telemetry payload", "error", err)
		return
	}
	metrics := raw.GetDeviceMetrics()
	if metrics == nil {
		return
	}

	at := packetTime(pkt)
	if raw.GetTime() > 0 {
		at = time.Unix(int64(raw.GetTime()), 0)
	}
	sample := &models.TelemetrySample{
		Node:               meshtastic.NodeID(pkt.GetFrom()),
		Time:               at,
		BatteryLevel:       metrics.GetBatteryLevel(),
		Voltage:            metrics.GetVoltage(),
		ChannelUtilization: metrics.GetChannelUtilization(),
		AirUtilTx:          metrics.GetAirUtilTx(),
	}
	c.events.publish(Event{Kind: EventTelemetryReceived, Telemetry: sample})
}

// handleRoutingAck correlates a routing acknowledgement with the pending
// outbound message carrying the acknowledged packet id. Unmatched acks are
// no-ops.
func (c *Client) handleRoutingAck(data *pb.Data) {
	ack, ok := codec.DecodeRoutingAck(data)
	if !ok {
		return
	}
	item := c.pending.Get(ack.RequestID)
	if item == nil {
		return
	}
	msg := item.Value()
	c.pending.Delete(ack.RequestID)

	if ack.Success {
		msg.Status = models.MessageStatusDelivered
	} else {
		msg.Status = models.MessageStatusFailed
	}
	c.log.Debug("delivery confirmed",
		"packet_id", ack.RequestID,
		"status", msg.Status,
		"reason", ack.Reason)
	// Publish a snapshot so subscribers never observe a concurrent write.
	cp := *msg
	c.events.publish(Event{Kind: EventMessageDeliveryUpdated, Message: &cp})
}

// learnLocalNode records a node number inferred from inbound addressing
// before the device has formally announced it.
func (c *Client) learnLocalNode(id meshtastic.NodeID) {
	c.mu.Lock()
	if c.localNode != 0 {
		c.mu.Unlock()
		return
	}
	c.localNode = id
	c.identity = &models.LocalIdentity{NodeNum: id}
	cp := *c.identity
	c.mu.Unlock()

	c.log.Info("local node inferred from inbound addressing", "node", id)
	c.events.publish(Event{Kind: EventLocalIdentity, Identity: &cp})
}
