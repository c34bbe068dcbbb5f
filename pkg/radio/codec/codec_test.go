package codec

import (
	"testing"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
)

func mustMarshal(t *testing.T, m proto.Message) []byte {
	t.Helper()
	raw, err := proto.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestDecodeFromRadioMyInfo(t *testing.T) {
	raw := mustMarshal(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_MyInfo{
			MyInfo: &pb.MyNodeInfo{MyNodeNum: 42},
		},
	})

	frame, err := DecodeFromRadio(raw)
	if err != nil {
		t.Fatalf("DecodeFromRadio() error = %v", err)
	}
	if frame.MyInfo == nil {
		t.Fatal("MyInfo variant not decoded")
	}
	if frame.MyInfo.GetMyNodeNum() != 42 {
		t.Errorf("MyNodeNum = %d, want 42", frame.MyInfo.GetMyNodeNum())
	}
}

func TestDecodeFromRadioConfigComplete(t *testing.T) {
	raw := mustMarshal(t, &pb.FromRadio{
		PayloadVariant: &pb.FromRadio_ConfigCompleteId{ConfigCompleteId: 0xdeadbeef},
	})

	frame, err := DecodeFromRadio(raw)
	if err != nil {
		t.Fatalf("DecodeFromRadio() error = %v", err)
	}
	if !frame.HasConfigComplete {
		t.Fatal("HasConfigComplete = false")
	}
	if frame.ConfigCompleteID != 0xdeadbeef {
		t.Errorf("ConfigCompleteID = %#x, want 0xdeadbeef", frame.ConfigCompleteID)
	}
}

func TestDecodeFromRadioRejectsGarbage(t *testing.T) {
	if _, err := DecodeFromRadio(nil); err == nil {
		t.Error("expected error for empty record")
	}
	if _, err := DecodeFromRadio([]byte{0xff, 0xff, 0xff, 0xff}); err == nil {
		t.Error("expected error for malformed record")
	}
}

func TestEncodeWantConfigRoundTrip(t *testing.T) {
	raw, err := EncodeWantConfig(1234)
	if err != nil {
		t.Fatalf("EncodeWantConfig() error = %v", err)
	}
	var env pb.ToRadio
	if err := proto.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	v, ok := env.GetPayloadVariant().(*pb.ToRadio_WantConfigId)
	if !ok {
		t.Fatalf("unexpected variant %T", env.GetPayloadVariant())
	}
	if v.WantConfigId != 1234 {
		t.Errorf("WantConfigId = %d, want 1234", v.WantConfigId)
	}
}

func TestNewTextPacket(t *testing.T) {
	pkt := NewTextPacket("hello mesh", meshtastic.BroadcastAddr, 2)

	if pkt.GetId() == 0 {
		t.Error("packet id must be nonzero")
	}
	if pkt.GetTo() != uint32(meshtastic.BroadcastAddr) {
		t.Errorf("To = %#x, want broadcast", pkt.GetTo())
	}
	if pkt.GetChannel() != 2 {
		t.Errorf("Channel = %d, want 2", pkt.GetChannel())
	}
	if !pkt.GetWantAck() {
		t.Error("WantAck = false, delivery tracking needs acks")
	}
	data := pkt.GetDecoded()
	if data.GetPortnum() != pb.PortNum_TEXT_MESSAGE_APP {
		t.Errorf("Portnum = %v, want TEXT_MESSAGE_APP", data.GetPortnum())
	}
	if string(data.GetPayload()) != "hello mesh" {
		t.Errorf("Payload = %q", data.GetPayload())
	}
}

func TestNewPositionPacket(t *testing.T) {
	alt := int32(120)
	pkt := NewPositionPacket(52.5200, 13.4050, &alt, meshtastic.NodeID(99), 0, 1700000000)

	data := pkt.GetDecoded()
	if data.GetPortnum() != pb.PortNum_POSITION_APP {
		t.Fatalf("Portnum = %v, want POSITION_APP", data.GetPortnum())
	}
	var pos pb.Position
	if err := proto.Unmarshal(data.GetPayload(), &pos); err != nil {
		t.Fatalf("unmarshal position: %v", err)
	}
	if pos.GetLatitudeI() != int32(52.5200*1e7) {
		t.Errorf("LatitudeI = %d, want %d", pos.GetLatitudeI(), int32(52.5200*1e7))
	}
	if pos.GetLongitudeI() != int32(13.4050*1e7) {
		t.Errorf("LongitudeI = %d, want %d", pos.GetLongitudeI(), int32(13.4050*1e7))
	}
	if pos.GetAltitude() != 120 {
		t.Errorf("Altitude = %d, want 120", pos.GetAltitude())
	}
}

func TestNewAdminPacketSelfAddressed(t *testing.T) {
	local := meshtastic.NodeID(42)
	pkt, err := NewAdminPacket(local, &pb.AdminMessage{
		PayloadVariant: &pb.AdminMessage_SetOwner{
			SetOwner: &pb.User{LongName: "Test"},
		},
	})
	if err != nil {
		t.Fatalf("NewAdminPacket() error = %v", err)
	}
	if pkt.GetTo() != uint32(local) {
		t.Errorf("To = %d, admin commands must be self-addressed", pkt.GetTo())
	}
	data := pkt.GetDecoded()
	if data.GetPortnum() != pb.PortNum_ADMIN_APP {
		t.Errorf("Portnum = %v, want ADMIN_APP", data.GetPortnum())
	}
	if !data.GetWantResponse() {
		t.Error("WantResponse = false, admin commands request a response")
	}
}

func TestDecodeRoutingAck(t *testing.T) {
	tests := []struct {
		name        string
		requestID   uint32
		reason      pb.Routing_Error
		wantOK      bool
		wantSuccess bool
	}{
		{"success", 777, pb.Routing_NONE, true, true},
		{"failure", 778, pb.Routing_NO_ROUTE, true, false},
		{"no correlation", 0, pb.Routing_NONE, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := mustMarshal(t, &pb.Routing{
				Variant: &pb.Routing_ErrorReason{ErrorReason: tt.reason},
			})
			ack, ok := DecodeRoutingAck(&pb.Data{
				Portnum:   pb.PortNum_ROUTING_APP,
				Payload:   payload,
				RequestId: tt.requestID,
			})
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ack.RequestID != tt.requestID {
				t.Errorf("RequestID = %d, want %d", ack.RequestID, tt.requestID)
			}
			if ack.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", ack.Success, tt.wantSuccess)
			}
		})
	}
}

func TestNewPacketIDNonzero(t *testing.T) {
	for i := 0; i < 100; i++ {
		if NewPacketID() == 0 {
			t.Fatal("NewPacketID() returned zero")
		}
	}
}
