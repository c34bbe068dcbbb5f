package radio

import (
	"testing"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
)

func framePosition(t *testing.T, from, to uint32, lat, lon int32) []byte {
	t.Helper()
	payload, err := proto.Marshal(&pb.Position{
		LatitudeI:  proto.Int32(lat),
		LongitudeI: proto.Int32(lon),
		Time:       1700000000,
	})
	if err != nil {
		t.Fatalf("marshal position: %v", err)
	}
	return mustFrame(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_Packet{Packet: &pb.MeshPacket{
			Id:   1111,
			From: from,
			To:   to,
			PayloadVariant: &pb.MeshPacket_Decoded{Decoded: &pb.Data{
				Portnum: pb.PortNum_POSITION_APP,
				Payload: payload,
			}},
		}},
	})
}

func frameTelemetry(t *testing.T, from uint32, battery uint32, voltage float32) []byte {
	t.Helper()
	payload, err := proto.Marshal(&pb.Telemetry{
		Time: 1700000000,
		Variant: &pb.Telemetry_DeviceMetrics{DeviceMetrics: &pb.DeviceMetrics{
			BatteryLevel: proto.Uint32(battery),
			Voltage:      proto.Float32(voltage),
		}},
	})
	if err != nil {
		t.Fatalf("marshal telemetry: %v", err)
	}
	return mustFrame(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_Packet{Packet: &pb.MeshPacket{
			From: from,
			To:   uint32(meshtastic.BroadcastAddr),
			PayloadVariant: &pb.MeshPacket_Decoded{Decoded: &pb.Data{
				Portnum: pb.PortNum_TELEMETRY_APP,
				Payload: payload,
			}},
		}},
	})
}

func TestPositionDualSemantics(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	c.mu.Lock()
	c.localNode = 42
	c.mu.Unlock()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	// Broadcast fix from another node: sample plus chat-visible message.
	c.dispatchRecord(framePosition(t, 100, uint32(meshtastic.BroadcastAddr), 525200000, 134050000))

	sample := waitEvent(t, events, EventPositionReceived)
	if sample.Position.Node != 100 {
		t.Errorf("sample node = %v, want 100", sample.Position.Node)
	}
	if got := sample.Position.Position.Latitude; got < 52.51 || got > 52.53 {
		t.Errorf("latitude = %v, want ~52.52", got)
	}

	msg := waitEvent(t, events, EventMessageReceived)
	if msg.Message.Location == nil {
		t.Fatal("location message carries no position")
	}
	if msg.Message.From != 100 {
		t.Errorf("message from = %v, want 100", msg.Message.From)
	}

	// The registry tracks the node's last fix.
	node := c.Node(100)
	if node == nil || node.Position.IsZero() {
		t.Errorf("node position not recorded: %+v", node)
	}
}

func TestOwnPositionIsSampleOnly(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	c.mu.Lock()
	c.localNode = 42
	c.mu.Unlock()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.dispatchRecord(framePosition(t, 42, uint32(meshtastic.BroadcastAddr), 525200000, 134050000))

	waitEvent(t, events, EventPositionReceived)
	expectNoEvent(t, events, EventMessageReceived)
}

func TestZeroCoordinatePositionNotChatVisible(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	c.mu.Lock()
	c.localNode = 42
	c.mu.Unlock()

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.dispatchRecord(framePosition(t, 100, uint32(meshtastic.BroadcastAddr), 0, 0))

	waitEvent(t, events, EventPositionReceived)
	expectNoEvent(t, events, EventMessageReceived)
}

func TestTelemetryDispatch(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.dispatchRecord(frameTelemetry(t, 100, 87, 3.91))

	ev := waitEvent(t, events, EventTelemetryReceived)
	if ev.Telemetry.Node != 100 {
		t.Errorf("node = %v, want 100", ev.Telemetry.Node)
	}
	if ev.Telemetry.BatteryLevel != 87 {
		t.Errorf("battery = %d, want 87", ev.Telemetry.BatteryLevel)
	}
	if ev.Telemetry.Voltage != 3.91 {
		t.Errorf("voltage = %v, want 3.91", ev.Telemetry.Voltage)
	}
}

func TestProxyMessageDispatch(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.dispatchRecord(mustFrame(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_MqttClientProxyMessage{
			MqttClientProxyMessage: &pb.MqttClientProxyMessage{
				Topic:          "msh/US/2/e/LongFast/!0000002a",
				Retained:       true,
				PayloadVariant: &pb.MqttClientProxyMessage_Data{Data: []byte{1, 2, 3}},
			},
		},
	}))

	ev := waitEvent(t, events, EventBrokerInbound)
	if ev.Broker.Topic != "msh/US/2/e/LongFast/!0000002a" {
		t.Errorf("topic = %q", ev.Broker.Topic)
	}
	if !ev.Broker.Retained {
		t.Error("retain flag lost")
	}
	if !ev.Broker.Binary() || len(ev.Broker.Payload) != 3 {
		t.Errorf("payload = %v", ev.Broker)
	}
}

func TestMalformedRecordIsDropped(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.dispatchRecord([]byte{0xff, 0xff, 0xff})
	expectNoEvent(t, events, EventError)
}

func TestConfigSnapshotMerge(t *testing.T) {
	c := newTestClient()
	defer c.Close()

	c.dispatchRecord(mustFrame(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_Config{Config: &pb.Config{
			PayloadVariant: &pb.Config_Lora{Lora: &pb.Config_LoRaConfig{}},
		}},
	}))
	c.dispatchRecord(mustFrame(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_ModuleConfig{ModuleConfig: &pb.ModuleConfig{
			PayloadVariant: &pb.ModuleConfig_Mqtt{Mqtt: &pb.ModuleConfig_MQTTConfig{
				Enabled:              true,
				ProxyToClientEnabled: true,
				Address:              "broker.example.org",
			}},
		}},
	}))

	if c.DeviceConfig().LoRa == nil {
		t.Error("LoRa section not merged")
	}
	mqtt := c.ModuleConfig().MQTT
	if mqtt == nil || !mqtt.GetProxyToClientEnabled() {
		t.Errorf("MQTT section = %+v", mqtt)
	}
}

func TestMetadataDispatch(t *testing.T) {
	c := newTestClient()
	defer c.Close()
	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	c.dispatchRecord(mustFrame(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_Metadata{Metadata: &pb.DeviceMetadata{
			FirmwareVersion: "2.5.0",
			HasBluetooth:    true,
		}},
	}))

	ev := waitEvent(t, events, EventMetadataUpdated)
	if ev.Metadata.FirmwareVersion != "2.5.0" {
		t.Errorf("firmware = %q", ev.Metadata.FirmwareVersion)
	}
	if md := c.Metadata(); md == nil || !md.HasBluetooth {
		t.Errorf("Metadata() = %+v", md)
	}
}

func TestEncryptedPacketStillCountsAsActivity(t *testing.T) {
	c := newTestClient()
	defer c.Close()

	c.dispatchRecord(mustFrame(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_Packet{Packet: &pb.MeshPacket{
			From:           200,
			To:             uint32(meshtastic.BroadcastAddr),
			RxTime:         1700000000,
			PayloadVariant: &pb.MeshPacket_Encrypted{Encrypted: []byte{0xde, 0xad}},
		}},
	}))

	node := c.Node(200)
	if node == nil {
		t.Fatal("sender of encrypted packet not tracked")
	}
	if node.LastHeard.IsZero() {
		t.Error("LastHeard not updated from encrypted packet")
	}
	if node.GetDisplayName() != meshtastic.NodeID(200).String() {
		t.Errorf("display name = %q", node.GetDisplayName())
	}
}
