package radio

import (
	"fmt"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
	"github.com/kabili207/meshlink/pkg/models"
	"github.com/kabili207/meshlink/pkg/radio/codec"
)

// SetChannel writes one channel slot to the device and optimistically
// updates the local cache. Flags not covered by the arguments are carried
// over from the cached slot when present.
func (c *Client) SetChannel(index int32, name string, psk []byte, role models.ChannelRole) error {
	if index < models.PrimaryChannelIndex || index > models.MaxChannelIndex {
		return ErrInvalidChannelIndex
	}

	entry := models.Channel{Index: index, Name: name, Role: role, PSK: psk}
	if cached := c.registry.Channel(index); cached != nil {
		entry.UplinkEnabled = cached.UplinkEnabled
		entry.DownlinkEnabled = cached.DownlinkEnabled
		entry.PositionPrecision = cached.PositionPrecision
	}
	return c.applyChannel(entry)
}

// DeleteChannel disables a secondary channel slot. The primary slot can
// never be deleted.
func (c *Client) DeleteChannel(index int32) error {
	if index == models.PrimaryChannelIndex {
		return ErrPrimaryChannel
	}
	if index < models.PrimaryChannelIndex || index > models.MaxChannelIndex {
		return ErrInvalidChannelIndex
	}

	entry := models.Channel{Index: index, Role: models.ChannelRoleDisabled}
	if cached := c.registry.Channel(index); cached != nil {
		entry.Name = cached.Name
		entry.PSK = cached.PSK
	}
	return c.applyChannel(entry)
}

// AddChannelFromQR installs a shared channel into the first free secondary
// slot and returns its index. Fails when all seven secondary slots are busy.
func (c *Client) AddChannelFromQR(name string, psk []byte, uplink, downlink bool) (int32, error) {
	index, ok := c.registry.FreeSecondarySlot()
	if !ok {
		return 0, ErrNoFreeChannel
	}
	entry := models.Channel{
		Index:           index,
		Name:            name,
		Role:            models.ChannelRoleSecondary,
		PSK:             psk,
		UplinkEnabled:   uplink,
		DownlinkEnabled: downlink,
	}
	if err := c.applyChannel(entry); err != nil {
		return 0, err
	}
	c.log.Info("shared channel installed", "index", index, "name", name)
	return index, nil
}

func (c *Client) applyChannel(entry models.Channel) error {
	msg := &pb.AdminMessage{
		PayloadVariant: &pb.AdminMessage_SetChannel{
			SetChannel: &pb.Channel{
				Index: entry.Index,
				Role:  channelRoleToProto(entry.Role),
				Settings: &pb.ChannelSettings{
					Name:            entry.Name,
					Psk:             entry.PSK,
					UplinkEnabled:   entry.UplinkEnabled,
					DownlinkEnabled: entry.DownlinkEnabled,
					ModuleSettings: &pb.ModuleSettings{
						PositionPrecision: entry.PositionPrecision,
					},
				},
			},
		},
	}
	if err := c.sendAdmin(msg); err != nil {
		return fmt.Errorf("writing channel %d: %w", entry.Index, err)
	}

	stored := c.registry.SetChannel(entry)
	c.events.publish(Event{Kind: EventChannelUpdated, Channel: stored})
	return nil
}

// SetOwner updates the device owner names and patches the cached local node
// entry. The long name is truncated and the short name derived when empty.
func (c *Client) SetOwner(longName, shortName string) error {
	longName = meshtastic.TruncateLongName(longName)
	if shortName == "" {
		shortName = meshtastic.GenerateShortName(longName)
	}

	msg := &pb.AdminMessage{
		PayloadVariant: &pb.AdminMessage_SetOwner{
			SetOwner: &pb.User{
				LongName:  longName,
				ShortName: shortName,
			},
		},
	}
	if err := c.sendAdmin(msg); err != nil {
		return fmt.Errorf("setting owner: %w", err)
	}

	c.mu.Lock()
	local := c.localNode
	c.identity = &models.LocalIdentity{NodeNum: local, LongName: longName, ShortName: shortName}
	cp := *c.identity
	c.mu.Unlock()

	node := c.registry.SetOwnerNames(local, longName, shortName)
	c.events.publish(Event{Kind: EventLocalIdentity, Identity: &cp})
	c.events.publish(Event{Kind: EventNodeUpdated, Node: node})
	c.log.Info("owner updated", "long_name", longName, "short_name", shortName)
	return nil
}

// sendAdmin wraps an administrative command in a self-addressed mesh packet
// and writes it.
func (c *Client) sendAdmin(msg *pb.AdminMessage) error {
	local := c.LocalNode()
	if local == 0 {
		return ErrNoLocalIdentity
	}
	pkt, err := codec.NewAdminPacket(local, msg)
	if err != nil {
		return fmt.Errorf("encoding admin command: %w", err)
	}
	record, err := codec.EncodeMeshPacket(pkt)
	if err != nil {
		return fmt.Errorf("encoding admin command: %w", err)
	}
	return c.writeRecord(record)
}
