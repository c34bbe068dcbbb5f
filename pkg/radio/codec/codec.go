// Package codec translates between raw radio records and typed frames.
// Every record exchanged with the device is a single protobuf-encoded
// ToRadio or FromRadio envelope; the transport delivers exactly one complete
// record per read.
package codec

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
)

var (
	ErrEmptyRecord = errors.New("empty radio record")
	ErrBadRecord   = errors.New("malformed radio record")
)

// Frame is one decoded FromRadio envelope. Exactly one variant pointer is
// set, except ConfigComplete which is a bare id.
type Frame struct {
	MyInfo       *pb.MyNodeInfo
	NodeInfo     *pb.NodeInfo
	Packet       *pb.MeshPacket
	Channel      *pb.Channel
	Config       *pb.Config
	ModuleConfig *pb.ModuleConfig
	Metadata     *pb.DeviceMetadata
	ProxyMessage *pb.MqttClientProxyMessage

	ConfigCompleteID  uint32
	HasConfigComplete bool
}

// DecodeFromRadio parses one raw record into a Frame. Unknown variants decode
// into an empty Frame rather than an error so the drain loop can skip them.
func DecodeFromRadio(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyRecord
	}

	var env pb.FromRadio
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRecord, err)
	}

	frame := &Frame{}
	switch v := env.GetPayloadVariant().(type) {
	case *pb.FromRadio_MyInfo:
		frame.MyInfo = v.MyInfo
	case *pb.FromRadio_NodeInfo:
		frame.NodeInfo = v.NodeInfo
	case *pb.FromRadio_Packet:
		frame.Packet = v.Packet
	case *pb.FromRadio_Channel:
		frame.Channel = v.Channel
	case *pb.FromRadio_Config:
		frame.Config = v.Config
	case *pb.FromRadio_ModuleConfig:
		frame.ModuleConfig = v.ModuleConfig
	case *pb.FromRadio_Metadata:
		frame.Metadata = v.Metadata
	case *pb.FromRadio_MqttClientProxyMessage:
		frame.ProxyMessage = v.MqttClientProxyMessage
	case *pb.FromRadio_ConfigCompleteId:
		frame.ConfigCompleteID = v.ConfigCompleteId
		frame.HasConfigComplete = true
	}
	return frame, nil
}

// EncodeWantConfig builds the ToRadio record that asks the device to stream
// its configuration burst, tagged with a nonce the device echoes back.
func EncodeWantConfig(nonce uint32) ([]byte, error) {
	return proto.Marshal(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_WantConfigId{WantConfigId: nonce},
	})
}

// EncodeHeartbeat builds the keepalive record sent on each poll tick.
func EncodeHeartbeat() ([]byte, error) {
	return proto.Marshal(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_Heartbeat{Heartbeat: &pb.Heartbeat{}},
	})
}

// EncodeMeshPacket wraps an outbound mesh packet in a ToRadio envelope.
func EncodeMeshPacket(pkt *pb.MeshPacket) ([]byte, error) {
	return proto.Marshal(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_Packet{Packet: pkt},
	})
}

// EncodeProxyMessage wraps a broker-originated proxy message for the radio.
func EncodeProxyMessage(msg *pb.MqttClientProxyMessage) ([]byte, error) {
	return proto.Marshal(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_MqttClientProxyMessage{MqttClientProxyMessage: msg},
	})
}

// NewPacketID returns a fresh random 32-bit packet id. IDs are not guaranteed
// unique, but collisions within an ack window are practically impossible.
func NewPacketID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; keep the codec total.
		return 1
	}
	id := binary.LittleEndian.Uint32(b[:])
	if id == 0 {
		id = 1
	}
	return id
}

// NewTextPacket builds a text-message mesh packet addressed to dest (or the
// broadcast sentinel) on the given channel, with delivery tracking requested.
func NewTextPacket(text string, dest meshtastic.NodeID, channel int32) *pb.MeshPacket {
	return &pb.MeshPacket{
		Id:      NewPacketID(),
		To:      uint32(dest),
		Channel: uint32(channel),
		WantAck: true,
		PayloadVariant: &pb.MeshPacket_Decoded{
			Decoded: &pb.Data{
				Portnum: pb.PortNum_TEXT_MESSAGE_APP,
				Payload: []byte(text),
			},
		},
	}
}

// NewPositionPacket builds a position packet. Positions sent to the local
// node itself are re-broadcast by the device as its own fix.
func NewPositionPacket(lat, lon float64, alt *int32, dest meshtastic.NodeID, channel int32, at uint32) *pb.MeshPacket {
	pos := &pb.Position{
		LatitudeI:  proto.Int32(int32(lat * 1e7)),
		LongitudeI: proto.Int32(int32(lon * 1e7)),
		Time:       at,
	}
	if alt != nil {
		pos.Altitude = proto.Int32(*alt)
	}
	payload, _ := proto.Marshal(pos)
	return &pb.MeshPacket{
		Id:      NewPacketID(),
		To:      uint32(dest),
		Channel: uint32(channel),
		WantAck: true,
		PayloadVariant: &pb.MeshPacket_Decoded{
			Decoded: &pb.Data{
				Portnum: pb.PortNum_POSITION_APP,
				Payload: payload,
			},
		},
	}
}

// NewAdminPacket builds a self-addressed administrative command. Admin
// commands always target the local node and request a response.
func NewAdminPacket(localNode meshtastic.NodeID, msg *pb.AdminMessage) (*pb.MeshPacket, error) {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &pb.MeshPacket{
		Id:      NewPacketID(),
		To:      uint32(localNode),
		WantAck: true,
		PayloadVariant: &pb.MeshPacket_Decoded{
			Decoded: &pb.Data{
				Portnum:      pb.PortNum_ADMIN_APP,
				Payload:      payload,
				WantResponse: true,
			},
		},
	}, nil
}

// RoutingAck is a decoded routing acknowledgement: RequestID names the
// original outbound packet id, Success is true when the device reported no
// routing error.
type RoutingAck struct {
	RequestID uint32
	Success   bool
	Reason    pb.Routing_Error
}

// DecodeRoutingAck extracts the acknowledgement from a ROUTING_APP payload.
// Returns false when the packet carries no request correlation.
func DecodeRoutingAck(data *pb.Data) (RoutingAck, bool) {
	if data.GetRequestId() == 0 {
		return RoutingAck{}, false
	}
	var routing pb.Routing
	if err := proto.Unmarshal(data.GetPayload(), &routing); err != nil {
		return RoutingAck{}, false
	}
	reason := routing.GetErrorReason()
	return RoutingAck{
		RequestID: data.GetRequestId(),
		Success:   reason == pb.Routing_NONE,
		Reason:    reason,
	}, true
}
