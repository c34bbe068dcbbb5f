// Package radio implements the companion-device session: the connection
// state machine, the inbound dispatch path, the node/channel registries and
// the messaging, configurator and broker-proxy command surfaces. One Client
// owns at most one live transport at a time.
package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kabili207/meshlink/pkg/meshtastic"
	"github.com/kabili207/meshlink/pkg/models"
	"github.com/kabili207/meshlink/pkg/radio/codec"
	"github.com/kabili207/meshlink/pkg/radio/transport"
)

// Options tunes the session state machine. Zero values fall back to the
// defaults below.
type Options struct {
	// ReconnectMaxAttempts bounds the reconnection loop.
	ReconnectMaxAttempts int
	// ReconnectDelay is the fixed wait between reconnection attempts.
	ReconnectDelay time.Duration

	// DrainEmptyStreak is the number of consecutive empty reads that ends
	// the initial configuration drain.
	DrainEmptyStreak int
	// DrainInterval is the wait after an empty read during the initial drain.
	DrainInterval time.Duration
	// DrainBudget is the wall-clock cap on the initial drain. Hitting it is
	// a soft stop, not an error.
	DrainBudget time.Duration

	// PollInterval is the keepalive heartbeat period.
	PollInterval time.Duration

	// AckTimeout flips unacknowledged outbound messages to Failed after this
	// long. Zero keeps them in Sent forever.
	AckTimeout time.Duration

	// ConnectTimeout caps a single transport connect during reconnection.
	ConnectTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.DrainEmptyStreak <= 0 {
		o.DrainEmptyStreak = 3
	}
	if o.DrainInterval <= 0 {
		o.DrainInterval = 100 * time.Millisecond
	}
	if o.DrainBudget <= 0 {
		o.DrainBudget = 15 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 45 * time.Second
	}
}

// Client drives one radio session end to end. All transport access funnels
// through a single gate; the poll timer, the notification drain and command
// writes never overlap on the link.
type Client struct {
	log      *slog.Logger
	opts     Options
	events   *bus
	registry *Registry
	pending  *ttlcache.Cache[uint32, *models.Message]

	// gate serializes transport operations; the link is half duplex.
	gate sync.Mutex
	// drainMu keeps the poll drain and the notification drain from
	// interleaving records.
	drainMu sync.Mutex

	mu                sync.Mutex
	transport         transport.Transport
	status            ConnectionStatus
	localNode         meshtastic.NodeID
	identity          *models.LocalIdentity
	deviceConfig      models.DeviceConfig
	moduleConfig      models.ModuleConfig
	metadata          *models.DeviceMetadata
	configNonce       uint32
	configComplete    bool
	reconnecting      bool
	reconnectAttempts int
	pollStop          context.CancelFunc
}

// NewClient builds an idle client. Connect starts a session.
func NewClient(opts Options, log *slog.Logger) *Client {
	opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		log:      log,
		opts:     opts,
		events:   newBus(),
		registry: NewRegistry(),
	}

	ttl := ttlcache.NoTTL
	if opts.AckTimeout > 0 {
		ttl = opts.AckTimeout
	}
	c.pending = ttlcache.New[uint32, *models.Message](
		ttlcache.WithTTL[uint32, *models.Message](ttl),
		ttlcache.WithDisableTouchOnHit[uint32, *models.Message](),
	)
	c.pending.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint32, *models.Message]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		msg := item.Value()
		msg.Status = models.MessageStatusFailed
		c.log.Debug("outbound message timed out", "packet_id", msg.PacketID)
		cp := *msg
		c.events.publish(Event{Kind: EventMessageDeliveryUpdated, Message: &cp})
	})
	if opts.AckTimeout > 0 {
		go c.pending.Start()
	}
	return c
}

// Subscribe attaches a consumer to the event stream. The returned function
// detaches it and closes the channel.
func (c *Client) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Connect opens a session on the given transport and runs it through the
// full lifecycle up to Configured. Calling Connect while a session to the
// same device is active is a no-op; connecting to a different device tears
// the active session down first.
func (c *Client) Connect(ctx context.Context, t transport.Transport) error {
	c.mu.Lock()
	if c.status.active() {
		same := c.transport != nil && c.transport.Address() == t.Address()
		c.mu.Unlock()
		if same {
			return nil
		}
		c.log.Info("switching radio devices", "address", t.Address())
		c.teardown()
		c.mu.Lock()
	}
	c.transport = t
	c.mu.Unlock()

	if err := c.establish(ctx, t); err != nil {
		c.teardown()
		return err
	}
	return nil
}

func (c *Client) establish(ctx context.Context, t transport.Transport) error {
	c.setStatus(StatusConnecting)
	if err := t.Connect(ctx); err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}
	c.setStatus(StatusConnected)
	return c.initialize(ctx, t)
}

// initialize runs the post-link handshake: subscribe to availability
// notifications, request the configuration burst, drain it, start polling.
func (c *Client) initialize(ctx context.Context, t transport.Transport) error {
	c.setStatus(StatusInitializing)
	if err := t.SubscribeAvailable(c.onAvailable); err != nil {
		return fmt.Errorf("subscribing to radio notifications: %w", err)
	}

	c.setStatus(StatusConfiguring)
	nonce := codec.NewPacketID()
	c.mu.Lock()
	c.configNonce = nonce
	c.configComplete = false
	c.mu.Unlock()

	record, err := codec.EncodeWantConfig(nonce)
	if err != nil {
		return fmt.Errorf("encoding config request: %w", err)
	}
	if err := c.writeRecord(record); err != nil {
		return fmt.Errorf("requesting config burst: %w", err)
	}
	if err := c.drainConfigBurst(ctx); err != nil {
		return err
	}

	c.setStatus(StatusConfigured)
	c.startPolling()
	return nil
}

// drainConfigBurst reads the initial configuration stream until the device
// goes quiet or the budget elapses. Partial configuration is accepted.
func (c *Client) drainConfigBurst(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.DrainBudget)
	streak := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := c.readRecord()
		if err != nil {
			return fmt.Errorf("reading config burst: %w", err)
		}
		if len(data) == 0 {
			streak++
			if streak >= c.opts.DrainEmptyStreak {
				return nil
			}
		} else {
			streak = 0
			c.dispatchRecord(data)
		}
		if time.Now().After(deadline) {
			c.log.Warn("config burst budget elapsed, accepting partial configuration")
			return nil
		}
		if len(data) == 0 {
			time.Sleep(c.opts.DrainInterval)
		}
	}
}

// Disconnect tears the session down and resets all per-session state. Safe
// to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	active := c.status.active()
	c.mu.Unlock()
	if !active {
		return
	}
	c.log.Info("disconnecting from radio")
	c.teardown()
}

// Close releases the client entirely; it cannot be reused afterwards.
func (c *Client) Close() {
	c.Disconnect()
	c.pending.Stop()
	c.events.close()
}

func (c *Client) teardown() {
	c.mu.Lock()
	t := c.transport
	stop := c.pollStop
	c.transport = nil
	c.pollStop = nil
	c.localNode = 0
	c.identity = nil
	c.deviceConfig = models.DeviceConfig{}
	c.moduleConfig = models.ModuleConfig{}
	c.metadata = nil
	c.configNonce = 0
	c.configComplete = false
	c.reconnecting = false
	c.reconnectAttempts = 0
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if t != nil {
		if err := t.Close(); err != nil {
			c.log.Warn("closing transport", "error", err)
		}
	}
	c.registry.Clear()
	c.pending.DeleteAll()
	c.setStatus(StatusDisconnected)
}

func (c *Client) startPolling() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.pollStop != nil {
		c.pollStop()
	}
	c.pollStop = cancel
	c.mu.Unlock()
	go c.pollLoop(ctx)
}

// pollLoop sends a keepalive heartbeat each tick and drains afterwards, as a
// fallback for missed availability notifications.
func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		record, err := codec.EncodeHeartbeat()
		if err != nil {
			continue
		}
		if err := c.writeRecord(record); err != nil {
			c.log.Warn("heartbeat write failed", "error", err)
			c.transportLost(err)
			return
		}
		c.drainInbound()
	}
}

// onAvailable is invoked from the transport's notification goroutine.
func (c *Client) onAvailable() {
	if c.Status() != StatusConfigured {
		return
	}
	go c.drainInbound()
}

// drainInbound reads until the device reports nothing pending.
func (c *Client) drainInbound() {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	for {
		if c.Status() != StatusConfigured {
			return
		}
		data, err := c.readRecord()
		if err != nil {
			c.transportLost(err)
			return
		}
		if len(data) == 0 {
			return
		}
		c.dispatchRecord(data)
	}
}

// transportLost enters the bounded reconnection loop. Only the first caller
// wins; later failures while reconnecting are ignored.
func (c *Client) transportLost(err error) {
	c.mu.Lock()
	if c.reconnecting || !c.status.active() {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	stop := c.pollStop
	c.pollStop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.log.Warn("radio link lost", "error", err)
	c.events.publish(Event{Kind: EventError, Err: err})
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return
	}

	for attempt := 1; attempt <= c.opts.ReconnectMaxAttempts; attempt++ {
		c.mu.Lock()
		if !c.reconnecting || !c.status.active() {
			c.mu.Unlock()
			return
		}
		c.reconnectAttempts = attempt
		c.mu.Unlock()
		c.setStatus(StatusReconnecting)

		c.log.Info("reconnecting to radio",
			"address", t.Address(),
			"attempt", attempt,
			"max_attempts", c.opts.ReconnectMaxAttempts)

		_ = t.Close()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		err := c.establish(ctx, t)
		cancel()
		if err == nil {
			c.mu.Lock()
			c.reconnecting = false
			c.reconnectAttempts = 0
			c.mu.Unlock()
			c.log.Info("radio link restored", "address", t.Address())
			return
		}
		c.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)

		// Fixed delay after a failed attempt; the first attempt is immediate.
		if attempt < c.opts.ReconnectMaxAttempts {
			time.Sleep(c.opts.ReconnectDelay)
			c.mu.Lock()
			alive := c.reconnecting && c.status.active()
			c.mu.Unlock()
			if !alive {
				return
			}
		}
	}

	err := fmt.Errorf("%w after %d attempts", ErrReconnectFailed, c.opts.ReconnectMaxAttempts)
	c.events.publish(Event{Kind: EventError, Err: err})
	c.teardown()
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.log.Debug("connection status changed", "status", s)
	c.events.publish(Event{Kind: EventConnectionStatus, Status: s})
}

// writeRecord sends one record through the transport gate.
func (c *Client) writeRecord(data []byte) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	c.gate.Lock()
	defer c.gate.Unlock()
	return t.Write(data)
}

// readRecord fetches one record (or nothing) through the transport gate.
func (c *Client) readRecord() ([]byte, error) {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return nil, ErrNotConnected
	}
	c.gate.Lock()
	defer c.gate.Unlock()
	return t.Read()
}

// Status returns the current lifecycle state.
func (c *Client) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns a snapshot of the active session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Session{
		LocalNode:         c.localNode,
		Status:            c.status,
		ReconnectAttempts: c.reconnectAttempts,
	}
	if c.transport != nil {
		s.Address = c.transport.Address()
	}
	return s
}

// LocalNode returns the device's node number, or zero when not yet known.
func (c *Client) LocalNode() meshtastic.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localNode
}

// Identity returns a copy of the learned local identity, or nil.
func (c *Client) Identity() *models.LocalIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil
	}
	cp := *c.identity
	return &cp
}

// Node returns the registry entry for id, or nil when unknown.
func (c *Client) Node(id meshtastic.NodeID) *models.Node { return c.registry.Node(id) }

// Nodes returns a snapshot of all known mesh nodes.
func (c *Client) Nodes() []models.Node { return c.registry.Nodes() }

// Channel returns the slot at index, or nil when not reported.
func (c *Client) Channel(index int32) *models.Channel { return c.registry.Channel(index) }

// Channels returns a snapshot of all reported channel slots.
func (c *Client) Channels() []models.Channel { return c.registry.Channels() }

// DownlinkChannels returns the active slots with broker downlink enabled.
func (c *Client) DownlinkChannels() []models.Channel { return c.registry.DownlinkChannels() }

// DeviceConfig returns the merged device configuration snapshot.
func (c *Client) DeviceConfig() models.DeviceConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceConfig
}

// ModuleConfig returns the merged module configuration snapshot.
func (c *Client) ModuleConfig() models.ModuleConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moduleConfig
}

// Metadata returns the device metadata block, or nil before it arrives.
func (c *Client) Metadata() *models.DeviceMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		return nil
	}
	cp := *c.metadata
	return &cp
}
