// Package bridge relays proxy messages between the radio and an MQTT broker
// on the device's behalf. Radios without their own network uplink tunnel
// their broker traffic through the companion client; the bridge moves those
// opaque messages in both directions without interpreting payloads.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/meshlink/pkg/models"
	"github.com/kabili207/meshlink/pkg/radio"
)

const brokerTimeout = 10 * time.Second

// Settings is the local bridge configuration. Broker address and credentials
// come from the device's own MQTT module config, not from here.
type Settings struct {
	// Enabled is the local master switch; the device additionally gates the
	// bridge with its proxy-to-client flag.
	Enabled bool
	// Region is the regional topic segment, e.g. "US" or "EU_868".
	Region string
	// RootOverride replaces the device-configured topic root when set.
	RootOverride string
	// ClientID overrides the generated broker client identifier.
	ClientID string
}

// Bridge is the relay task. It watches the radio client's event stream and
// keeps a broker session alive while the radio session is Configured and the
// device requests proxying.
type Bridge struct {
	log      *slog.Logger
	client   *radio.Client
	settings Settings

	mu   sync.Mutex
	mqtt pahomqtt.Client
}

func New(client *radio.Client, settings Settings, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:      log,
		client:   client,
		settings: settings,
	}
}

// Run consumes the radio event stream until ctx is cancelled. It owns the
// broker session lifecycle; callers run it as an independent task.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.settings.Enabled {
		b.log.Info("broker bridge disabled")
		return nil
	}

	events, unsubscribe := b.client.Subscribe()
	defer unsubscribe()
	defer b.stop()

	// The radio may already be configured by the time we start.
	if b.client.Status() == radio.StatusConfigured {
		b.refresh()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handleEvent(ev)
		}
	}
}

func (b *Bridge) handleEvent(ev radio.Event) {
	switch ev.Kind {
	case radio.EventConnectionStatus:
		switch ev.Status {
		case radio.StatusConfigured:
			b.refresh()
		case radio.StatusDisconnected, radio.StatusReconnecting:
			b.stop()
		}
	case radio.EventModuleConfigUpdated:
		if b.client.Status() == radio.StatusConfigured {
			b.refresh()
		}
	case radio.EventChannelUpdated:
		b.resubscribe()
	case radio.EventBrokerInbound:
		b.publish(ev.Broker)
	}
}

// refresh reconciles the broker session with the device's MQTT config:
// connect when proxying is wanted, tear down when it is not.
func (b *Bridge) refresh() {
	cfg := b.client.ModuleConfig().MQTT
	if !proxyWanted(cfg) {
		b.stop()
		return
	}

	b.mu.Lock()
	running := b.mqtt != nil
	b.mu.Unlock()
	if running {
		b.resubscribe()
		return
	}

	if err := b.connect(cfg); err != nil {
		b.log.Error("broker connection failed", "address", cfg.GetAddress(), "error", err)
	}
}

func proxyWanted(cfg *pb.ModuleConfig_MQTTConfig) bool {
	return cfg.GetEnabled() && cfg.GetProxyToClientEnabled() && cfg.GetAddress() != ""
}

func (b *Bridge) connect(cfg *pb.ModuleConfig_MQTTConfig) error {
	url := brokerURL(cfg)
	opts := pahomqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(b.clientID()).
		SetUsername(cfg.GetUsername()).
		SetPassword(cfg.GetPassword()).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(brokerTimeout)
	// The handler fires on the paho network goroutine, possibly before
	// Connect returns, so it subscribes on the client it is handed rather
	// than on b.mqtt.
	opts.SetOnConnectHandler(func(cli pahomqtt.Client) {
		b.log.Info("connected to broker", "address", url)
		b.subscribeDownlinks(cli)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		b.log.Warn("broker connection lost", "error", err)
	})

	cli := pahomqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(brokerTimeout) {
		return errors.New("broker connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	b.mu.Lock()
	b.mqtt = cli
	b.mu.Unlock()
	return nil
}

func (b *Bridge) clientID() string {
	if b.settings.ClientID != "" {
		return b.settings.ClientID
	}
	return "meshlink-" + uuid.NewString()[:8]
}

// resubscribe re-issues subscriptions for the full current downlink channel
// set on the recorded broker session.
func (b *Bridge) resubscribe() {
	b.mu.Lock()
	cli := b.mqtt
	b.mu.Unlock()
	if cli == nil {
		return
	}
	b.subscribeDownlinks(cli)
}

// subscribeDownlinks subscribes cli to the current downlink channel topics.
// Subscriptions are idempotent on the broker side, so no diffing.
func (b *Bridge) subscribeDownlinks(cli pahomqtt.Client) {
	if !cli.IsConnected() {
		return
	}

	root := b.settings.RootOverride
	if root == "" {
		root = b.client.ModuleConfig().MQTT.GetRoot()
	}
	for _, ch := range b.client.DownlinkChannels() {
		topic := TopicForChannel(root, b.settings.Region, ch.GetDisplayName())
		token := cli.Subscribe(topic, 0, b.onBrokerMessage)
		if token.WaitTimeout(brokerTimeout) && token.Error() != nil {
			b.log.Warn("broker subscribe failed", "topic", topic, "error", token.Error())
			continue
		}
		b.log.Debug("subscribed to broker topic", "topic", topic)
	}
}

// onBrokerMessage forwards one broker publication to the radio.
func (b *Bridge) onBrokerMessage(_ pahomqtt.Client, m pahomqtt.Message) {
	msg := &models.BrokerMessage{
		Topic:    m.Topic(),
		Payload:  m.Payload(),
		Retained: m.Retained(),
	}
	if err := b.client.SendProxyMessage(msg); err != nil {
		b.log.Warn("forwarding broker message to radio", "topic", m.Topic(), "error", err)
	}
}

// publish forwards one radio-originated proxy message to the broker
// verbatim.
func (b *Bridge) publish(msg *models.BrokerMessage) {
	b.mu.Lock()
	cli := b.mqtt
	b.mu.Unlock()
	if cli == nil || !cli.IsConnected() {
		b.log.Debug("dropping proxy message, broker not connected", "topic", msg.Topic)
		return
	}

	payload := msg.Payload
	if !msg.Binary() {
		payload = []byte(msg.Text)
	}
	token := cli.Publish(msg.Topic, 0, msg.Retained, payload)
	if token.WaitTimeout(brokerTimeout) && token.Error() != nil {
		b.log.Warn("broker publish failed", "topic", msg.Topic, "error", token.Error())
	}
}

func (b *Bridge) stop() {
	b.mu.Lock()
	cli := b.mqtt
	b.mqtt = nil
	b.mu.Unlock()
	if cli == nil {
		return
	}
	cli.Disconnect(250)
	b.log.Info("disconnected from broker")
}
