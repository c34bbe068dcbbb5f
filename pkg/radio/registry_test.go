package radio

import (
	"testing"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
	"github.com/kabili207/meshlink/pkg/models"
)

func TestRegistryUpsertNodeInfo(t *testing.T) {
	r := NewRegistry()

	first := r.UpsertNodeInfo(&pb.NodeInfo{
		Num: 100,
		User: &pb.User{
			LongName:  "Old Name",
			ShortName: "OLD",
		},
		LastHeard: 1700000000,
	})
	if first.LongName != "Old Name" {
		t.Errorf("LongName = %q", first.LongName)
	}

	// Last write wins.
	second := r.UpsertNodeInfo(&pb.NodeInfo{
		Num: 100,
		User: &pb.User{
			LongName:  "New Name",
			ShortName: "NEW",
		},
	})
	if second.LongName != "New Name" || second.ShortName != "NEW" {
		t.Errorf("updated node = %+v", second)
	}
	if got := r.Node(100); got.LongName != "New Name" {
		t.Errorf("stored LongName = %q, want %q", got.LongName, "New Name")
	}
	if len(r.Nodes()) != 1 {
		t.Errorf("node count = %d, want 1 (superseded, not duplicated)", len(r.Nodes()))
	}
}

func TestRegistryTouchNodeCreatesPlaceholder(t *testing.T) {
	r := NewRegistry()
	at := time.Unix(1700000000, 0)

	node := r.TouchNode(55, at, -7.5)
	if node.Num != 55 {
		t.Errorf("Num = %v", node.Num)
	}
	if !node.LastHeard.Equal(at) {
		t.Errorf("LastHeard = %v, want %v", node.LastHeard, at)
	}
	if node.SNR != -7.5 {
		t.Errorf("SNR = %v, want -7.5", node.SNR)
	}
	if node.GetDisplayName() != meshtastic.NodeID(55).String() {
		t.Errorf("placeholder display name = %q", node.GetDisplayName())
	}
}

func TestRegistryNodeReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.UpsertNodeInfo(&pb.NodeInfo{Num: 1, User: &pb.User{LongName: "A"}})

	cp := r.Node(1)
	cp.LongName = "mutated"
	if r.Node(1).LongName != "A" {
		t.Error("registry entry mutated through returned copy")
	}
}

func TestRegistryUpsertChannel(t *testing.T) {
	r := NewRegistry()

	ch := r.UpsertChannel(&pb.Channel{
		Index: 1,
		Role:  pb.Channel_SECONDARY,
		Settings: &pb.ChannelSettings{
			Name:            "Private",
			Psk:             make([]byte, 16),
			DownlinkEnabled: true,
		},
	})
	if ch.Role != models.ChannelRoleSecondary {
		t.Errorf("Role = %v", ch.Role)
	}
	if !ch.Encrypted() {
		t.Error("16-byte PSK must mark the channel encrypted")
	}
	if !ch.DownlinkEnabled {
		t.Error("DownlinkEnabled lost in conversion")
	}

	unnamed := r.UpsertChannel(&pb.Channel{Index: 0, Role: pb.Channel_PRIMARY})
	if unnamed.GetDisplayName() != "Primary" {
		t.Errorf("display name = %q, want Primary", unnamed.GetDisplayName())
	}
	unnamed2 := r.UpsertChannel(&pb.Channel{Index: 3, Role: pb.Channel_SECONDARY})
	if unnamed2.GetDisplayName() != "Channel 3" {
		t.Errorf("display name = %q, want Channel 3", unnamed2.GetDisplayName())
	}
}

func TestRegistryDownlinkChannels(t *testing.T) {
	r := NewRegistry()
	r.SetChannel(models.Channel{Index: 0, Role: models.ChannelRolePrimary, DownlinkEnabled: true})
	r.SetChannel(models.Channel{Index: 1, Role: models.ChannelRoleSecondary, DownlinkEnabled: false})
	r.SetChannel(models.Channel{Index: 2, Role: models.ChannelRoleDisabled, DownlinkEnabled: true})
	r.SetChannel(models.Channel{Index: 3, Role: models.ChannelRoleSecondary, DownlinkEnabled: true})

	got := r.DownlinkChannels()
	if len(got) != 2 {
		t.Fatalf("downlink channel count = %d, want 2", len(got))
	}
	if got[0].Index != 0 || got[1].Index != 3 {
		t.Errorf("downlink indices = %d, %d, want 0, 3", got[0].Index, got[1].Index)
	}
}

func TestRegistryFreeSecondarySlot(t *testing.T) {
	r := NewRegistry()

	idx, ok := r.FreeSecondarySlot()
	if !ok || idx != 1 {
		t.Errorf("FreeSecondarySlot() = %d, %v, want 1, true", idx, ok)
	}

	r.SetChannel(models.Channel{Index: 1, Role: models.ChannelRoleSecondary})
	r.SetChannel(models.Channel{Index: 2, Role: models.ChannelRoleDisabled})
	idx, ok = r.FreeSecondarySlot()
	if !ok || idx != 2 {
		t.Errorf("FreeSecondarySlot() = %d, %v, disabled slots are reusable", idx, ok)
	}

	for i := int32(1); i <= models.MaxChannelIndex; i++ {
		r.SetChannel(models.Channel{Index: i, Role: models.ChannelRoleSecondary})
	}
	if _, ok := r.FreeSecondarySlot(); ok {
		t.Error("FreeSecondarySlot() found a slot on a full device")
	}
}
