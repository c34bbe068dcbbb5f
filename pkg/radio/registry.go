package radio

import (
	"sort"
	"sync"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
	"github.com/kabili207/meshlink/pkg/models"
)

// Registry is the in-memory cache of mesh nodes and channel slots for one
// session. All writes come from the single inbound dispatch goroutine (plus
// optimistic admin updates); reads may come from anywhere.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[meshtastic.NodeID]*models.Node
	channels map[int32]*models.Channel
}

func NewRegistry() *Registry {
	return &Registry{
		nodes:    make(map[meshtastic.NodeID]*models.Node),
		channels: make(map[int32]*models.Channel),
	}
}

// Clear drops all cached state. Called on session teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make(map[meshtastic.NodeID]*models.Node)
	r.channels = make(map[int32]*models.Channel)
}

// UpsertNodeInfo folds an inbound node-info record into the registry, last
// write wins, and returns a copy of the stored entry.
func (r *Registry) UpsertNodeInfo(info *pb.NodeInfo) *models.Node {
	id := meshtastic.NodeID(info.GetNum())

	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &models.Node{Num: id}
		r.nodes[id] = node
	}
	if user := info.GetUser(); user != nil {
		node.LongName = user.GetLongName()
		node.ShortName = user.GetShortName()
		node.HWModel = user.GetHwModel().String()
		if key := user.GetPublicKey(); len(key) > 0 {
			node.PublicKey = key
		}
	}
	if info.GetLastHeard() > 0 {
		node.LastHeard = time.Unix(int64(info.GetLastHeard()), 0)
	}
	if snr := info.GetSnr(); snr != 0 {
		node.SNR = snr
	}
	if pos := positionFromProto(info.GetPosition()); !pos.IsZero() {
		node.Position = pos
	}

	cp := *node
	return &cp
}

// TouchNode records activity from a node observed outside node-info packets.
// Creates a placeholder entry for nodes never formally announced.
func (r *Registry) TouchNode(id meshtastic.NodeID, at time.Time, snr float32) *models.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &models.Node{Num: id}
		r.nodes[id] = node
	}
	node.LastHeard = at
	if snr != 0 {
		node.SNR = snr
	}

	cp := *node
	return &cp
}

// SetOwnerNames patches the display names of a node entry, creating it when
// absent. Used for the optimistic local update after an owner change.
func (r *Registry) SetOwnerNames(id meshtastic.NodeID, longName, shortName string) *models.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &models.Node{Num: id}
		r.nodes[id] = node
	}
	node.LongName = longName
	node.ShortName = shortName

	cp := *node
	return &cp
}

// SetNodePosition updates a node's last known fix.
func (r *Registry) SetNodePosition(id meshtastic.NodeID, pos models.Position) *models.Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &models.Node{Num: id}
		r.nodes[id] = node
	}
	node.Position = &pos

	cp := *node
	return &cp
}

// Node returns a copy of the entry for id, or nil when unknown.
func (r *Registry) Node(id meshtastic.NodeID) *models.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[id]
	if !ok {
		return nil
	}
	cp := *node
	return &cp
}

// Nodes returns a snapshot of all known nodes ordered by node number.
func (r *Registry) Nodes() []models.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// UpsertChannel folds a channel slot record into the registry and returns a
// copy of the stored entry.
func (r *Registry) UpsertChannel(ch *pb.Channel) *models.Channel {
	entry := channelFromProto(ch)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[entry.Index] = entry

	cp := *entry
	return &cp
}

// SetChannel stores an optimistic local channel update.
func (r *Registry) SetChannel(ch models.Channel) *models.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := ch
	r.channels[ch.Index] = &stored

	cp := stored
	return &cp
}

// Channel returns a copy of the slot at index, or nil when the device has not
// reported it.
func (r *Registry) Channel(index int32) *models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[index]
	if !ok {
		return nil
	}
	cp := *ch
	return &cp
}

// Channels returns a snapshot of all reported slots ordered by index.
func (r *Registry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// DownlinkChannels returns the active slots with broker downlink enabled.
func (r *Registry) DownlinkChannels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Channel
	for _, ch := range r.channels {
		if ch.Role != models.ChannelRoleDisabled && ch.DownlinkEnabled {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// FreeSecondarySlot returns the lowest non-primary index that is unreported
// or disabled, or false when all slots are taken.
func (r *Registry) FreeSecondarySlot() (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for idx := int32(models.PrimaryChannelIndex + 1); idx <= models.MaxChannelIndex; idx++ {
		ch, ok := r.channels[idx]
		if !ok || ch.Role == models.ChannelRoleDisabled {
			return idx, true
		}
	}
	return 0, false
}

func channelFromProto(ch *pb.Channel) *models.Channel {
	entry := &models.Channel{
		Index: ch.GetIndex(),
		Role:  channelRoleFromProto(ch.GetRole()),
	}
	if settings := ch.GetSettings(); settings != nil {
		entry.Name = settings.GetName()
		entry.PSK = settings.GetPsk()
		entry.UplinkEnabled = settings.GetUplinkEnabled()
		entry.DownlinkEnabled = settings.GetDownlinkEnabled()
		entry.PositionPrecision = settings.GetModuleSettings().GetPositionPrecision()
	}
	return entry
}

func channelRoleFromProto(role pb.Channel_Role) models.ChannelRole {
	switch role {
	case pb.Channel_PRIMARY:
		return models.ChannelRolePrimary
	case pb.Channel_SECONDARY:
		return models.ChannelRoleSecondary
	default:
		return models.ChannelRoleDisabled
	}
}

func channelRoleToProto(role models.ChannelRole) pb.Channel_Role {
	switch role {
	case models.ChannelRolePrimary:
		return pb.Channel_PRIMARY
	case models.ChannelRoleSecondary:
		return pb.Channel_SECONDARY
	default:
		return pb.Channel_DISABLED
	}
}

func positionFromProto(pos *pb.Position) *models.Position {
	if pos == nil {
		return nil
	}
	out := &models.Position{
		Latitude:  float64(pos.GetLatitudeI()) / 1e7,
		Longitude: float64(pos.GetLongitudeI()) / 1e7,
		Altitude:  pos.GetAltitude(),
	}
	if pos.GetTime() > 0 {
		out.Time = time.Unix(int64(pos.GetTime()), 0)
	}
	return out
}
