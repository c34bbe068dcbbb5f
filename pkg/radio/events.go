package radio

import (
	"sync"
	"time"

	"github.com/kabili207/meshlink/pkg/models"
)

// EventKind discriminates the multiplexed event stream. Subscribers receive
// every kind and filter for what they care about.
type EventKind int

const (
	EventConnectionStatus EventKind = iota + 1
	EventLocalIdentity
	EventNodeUpdated
	EventChannelUpdated
	EventMessageReceived
	EventMessageDeliveryUpdated
	EventTelemetryReceived
	EventPositionReceived
	EventConfigUpdated
	EventModuleConfigUpdated
	EventMetadataUpdated
	EventBrokerInbound
	EventError
)

// Event is one entry on the client's event stream. The field matching Kind
// is set; everything else is zero.
type Event struct {
	Kind EventKind
	Time time.Time

	Status    ConnectionStatus
	Identity  *models.LocalIdentity
	Node      *models.Node
	Channel   *models.Channel
	Message   *models.Message
	Telemetry *models.TelemetrySample
	Position  *models.PositionSample
	Metadata  *models.DeviceMetadata
	Broker    *models.BrokerMessage
	Err       error
}

// bus fans events out to all subscribers. Channels are buffered; events for
// slow consumers are dropped rather than blocking the inbound path.
type bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[uint64]chan Event)}
}

// subscribe returns a receive channel and its unsubscribe function.
func (b *bus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *bus) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close terminates all subscriber channels. Used when the client itself is
// discarded, not on reconnect.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
