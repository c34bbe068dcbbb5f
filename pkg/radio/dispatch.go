package radio

import (
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
	"github.com/kabili207/meshlink/pkg/models"
	"github.com/kabili207/meshlink/pkg/radio/codec"
)

// dispatchRecord decodes one inbound record and routes it by envelope
// variant. Malformed records are logged and dropped; the session survives.
func (c *Client) dispatchRecord(data []byte) {
	frame, err := codec.DecodeFromRadio(data)
	if err != nil {
		c.log.Warn("dropping malformed radio record", "error", err)
		return
	}

	switch {
	case frame.MyInfo != nil:
		c.handleMyInfo(frame.MyInfo)
	case frame.NodeInfo != nil:
		c.handleNodeInfo(frame.NodeInfo)
	case frame.Channel != nil:
		c.handleChannel(frame.Channel)
	case frame.Config != nil:
		c.handleConfig(frame.Config)
	case frame.ModuleConfig != nil:
		c.handleModuleConfig(frame.ModuleConfig)
	case frame.Metadata != nil:
		c.handleMetadata(frame.Metadata)
	case frame.Packet != nil:
		c.handleMeshPacket(frame.Packet)
	case frame.ProxyMessage != nil:
		c.handleProxyMessage(frame.ProxyMessage)
	case frame.HasConfigComplete:
		c.handleConfigComplete(frame.ConfigCompleteID)
	}
}

func (c *Client) handleMyInfo(info *pb.MyNodeInfo) {
	id := meshtastic.NodeID(info.GetMyNodeNum())

	c.mu.Lock()
	c.localNode = id
	if c.identity == nil || c.identity.NodeNum != id {
		c.identity = &models.LocalIdentity{NodeNum: id}
	}
	cp := *c.identity
	c.mu.Unlock()

	c.log.Info("local node identity announced", "node", id)
	c.events.publish(Event{Kind: EventLocalIdentity, Identity: &cp})
}

func (c *Client) handleNodeInfo(info *pb.NodeInfo) {
	node := c.registry.UpsertNodeInfo(info)
	c.events.publish(Event{Kind: EventNodeUpdated, Node: node})

	// The device's own node-info completes the local identity with names.
	c.mu.Lock()
	if c.localNode != 0 && node.Num == c.localNode {
		c.identity = &models.LocalIdentity{
			NodeNum:   node.Num,
			LongName:  node.LongName,
			ShortName: node.ShortName,
		}
		cp := *c.identity
		c.mu.Unlock()
		c.events.publish(Event{Kind: EventLocalIdentity, Identity: &cp})
		return
	}
	c.mu.Unlock()
}

func (c *Client) handleChannel(ch *pb.Channel) {
	entry := c.registry.UpsertChannel(ch)
	c.log.Debug("channel slot updated",
		"index", entry.Index,
		"name", entry.GetDisplayName(),
		"role", entry.Role)
	c.events.publish(Event{Kind: EventChannelUpdated, Channel: entry})
}

func (c *Client) handleConfig(fragment *pb.Config) {
	c.mu.Lock()
	c.deviceConfig.Merge(fragment)
	c.mu.Unlock()
	c.events.publish(Event{Kind: EventConfigUpdated})
}

func (c *Client) handleModuleConfig(fragment *pb.ModuleConfig) {
	c.mu.Lock()
	c.moduleConfig.Merge(fragment)
	c.mu.Unlock()
	c.events.publish(Event{Kind: EventModuleConfigUpdated})
}

func (c *Client) handleMetadata(md *pb.DeviceMetadata) {
	snapshot := &models.DeviceMetadata{
		FirmwareVersion: md.GetFirmwareVersion(),
		HWModel:         md.GetHwModel().String(),
		HasWifi:         md.GetHasWifi(),
		HasBluetooth:    md.GetHasBluetooth(),
	}
	c.mu.Lock()
	c.metadata = snapshot
	cp := *snapshot
	c.mu.Unlock()
	c.events.publish(Event{Kind: EventMetadataUpdated, Metadata: &cp})
}

func (c *Client) handleConfigComplete(nonce uint32) {
	c.mu.Lock()
	expected := c.configNonce
	if nonce == expected {
		c.configComplete = true
	}
	c.mu.Unlock()

	if nonce != expected {
		c.log.Warn("config complete nonce mismatch", "got", nonce, "want", expected)
		return
	}
	c.log.Debug("device finished configuration stream")
}

// handleProxyMessage forwards a radio-originated broker message to the event
// stream; the bridge publishes it verbatim.
func (c *Client) handleProxyMessage(msg *pb.MqttClientProxyMessage) {
	bm := &models.BrokerMessage{
		Topic:    msg.GetTopic(),
		Retained: msg.GetRetained(),
	}
	switch v := msg.GetPayloadVariant().(type) {
	case *pb.MqttClientProxyMessage_Data:
		bm.Payload = v.Data
	case *pb.MqttClientProxyMessage_Text:
		bm.Text = v.Text
	}
	c.events.publish(Event{Kind: EventBrokerInbound, Broker: bm})
}

// packetTime prefers the radio's receive timestamp over local wall clock.
func packetTime(pkt *pb.MeshPacket) time.Time {
	if rx := pkt.GetRxTime(); rx > 0 {
		return time.Unix(int64(rx), 0)
	}
	return time.Now()
}
