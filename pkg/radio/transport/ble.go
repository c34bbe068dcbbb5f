package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// Meshtastic BLE service and characteristic UUIDs. The service exposes one
// write characteristic (toRadio), one read characteristic (fromRadio) and
// one notify characteristic (fromNum) that only signals "go read".
const (
	ServiceUUID       = "6ba1b218-15a8-461f-9fa8-5dcae273eafd"
	toRadioCharUUID   = "f75c76d2-129e-4dad-a1dd-7866124401e7"
	fromRadioCharUUID = "2c55e69e-4993-11ed-b878-0242ac120002"
	fromNumCharUUID   = "ed9da18c-a800-4f66-a670-aa7547e34453"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapter      = "org.bluez.Adapter1"
	bluezDevice       = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	connectTimeout   = 10 * time.Second
	discoveryTimeout = 15 * time.Second
	scanTimeout      = 8 * time.Second
)

// BLE is the BlueZ D-Bus implementation of Transport.
type BLE struct {
	mu sync.Mutex

	address string
	adapter string
	log     *slog.Logger

	conn      *dbus.Conn
	connected bool

	devicePath    dbus.ObjectPath
	toRadioPath   dbus.ObjectPath
	fromRadioPath dbus.ObjectPath
	fromNumPath   dbus.ObjectPath

	matchRule string
	stopCh    chan struct{}
}

var _ Transport = (*BLE)(nil)

// NewBLE creates a BLE transport for the device at address. An empty address
// means scan for the first device advertising the radio service. The adapter
// defaults to hci0.
func NewBLE(address, adapter string, log *slog.Logger) *BLE {
	if adapter == "" {
		adapter = "hci0"
	}
	return &BLE{
		address: address,
		adapter: adapter,
		log:     log.With("transport", "ble"),
	}
}

// Address returns the peer MAC, once known.
func (t *BLE) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.address
}

// Connected reports the link state.
func (t *BLE) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.conn == nil {
		return false
	}
	up, err := getProperty[bool](t.conn, t.devicePath, bluezDevice, "Connected")
	return err == nil && up
}

// Connect opens the BLE link, resolves the radio service, and subscribes the
// fromNum characteristic. Service discovery failure aborts the connect; a
// failed MTU read is only logged.
func (t *BLE) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return ErrAlreadyConnected
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	t.conn = conn

	address := t.address
	if address == "" {
		address, err = t.scan(ctx)
		if err != nil {
			t.conn = nil
			return err
		}
		t.address = address
	}
	t.devicePath = devicePath(t.adapter, address)

	if err := t.connectDevice(ctx); err != nil {
		t.conn = nil
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	}

	if err := t.waitServicesResolved(ctx); err != nil {
		t.disconnectDevice()
		t.conn = nil
		return fmt.Errorf("%w: %w", ErrServiceNotFound, err)
	}
	if err := t.discoverCharacteristics(); err != nil {
		t.disconnectDevice()
		t.conn = nil
		return fmt.Errorf("%w: %w", ErrServiceNotFound, err)
	}

	// MTU negotiation is handled by BlueZ on connect; reading it back is
	// informational and allowed to fail.
	if mtu, err := getProperty[uint16](t.conn, t.devicePath, bluezDevice, "MTU"); err != nil {
		t.log.Warn("could not read negotiated MTU", "error", err)
	} else {
		t.log.Debug("negotiated MTU", "mtu", mtu)
	}

	t.connected = true
	t.log.Info("connected", "address", address, "adapter", t.adapter)
	return nil
}

// Close tears the link down. Idempotent.
func (t *BLE) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	if t.conn != nil && t.fromNumPath != "" {
		t.conn.Object(bluezBus, t.fromNumPath).Call(bluezGattChar+".StopNotify", 0)
	}
	// The system bus outlives this transport; the match rule must not.
	if t.conn != nil && t.matchRule != "" {
		t.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, t.matchRule)
		t.matchRule = ""
	}
	t.disconnectDevice()
	t.connected = false
	// The system bus connection is shared process-wide; drop our reference
	// without closing it.
	t.conn = nil
	return nil
}

// Write sends one record to the toRadio characteristic.
func (t *BLE) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}
	obj := t.conn.Object(bluezBus, t.toRadioPath)
	call := obj.Call(bluezGattChar+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant("request"),
	})
	if call.Err != nil {
		return fmt.Errorf("write toRadio: %w", call.Err)
	}
	return nil
}

// Read returns one record from the fromRadio characteristic, or empty when
// the device queue is drained.
func (t *BLE) Read() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return nil, ErrNotConnected
	}
	obj := t.conn.Object(bluezBus, t.fromRadioPath)
	call := obj.Call(bluezGattChar+".ReadValue", 0, map[string]dbus.Variant{})
	if call.Err != nil {
		return nil, fmt.Errorf("read fromRadio: %w", call.Err)
	}
	var data []byte
	if err := call.Store(&data); err != nil {
		return nil, fmt.Errorf("decode fromRadio value: %w", err)
	}
	return data, nil
}

// SubscribeAvailable starts fromNum notifications and invokes fn on each one.
func (t *BLE) SubscribeAvailable(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}

	match := fmt.Sprintf(
		"type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
		bluezBus, dbusProperties, t.fromNumPath,
	)
	if call := t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, match); call.Err != nil {
		return fmt.Errorf("add signal match: %w", call.Err)
	}
	t.matchRule = match
	if call := t.conn.Object(bluezBus, t.fromNumPath).Call(bluezGattChar+".StartNotify", 0); call.Err != nil {
		return fmt.Errorf("start notify: %w", call.Err)
	}

	t.stopCh = make(chan struct{})
	sigCh := make(chan *dbus.Signal, 64)
	t.conn.Signal(sigCh)

	go func(stop chan struct{}, conn *dbus.Conn, path dbus.ObjectPath) {
		for {
			select {
			case <-stop:
				conn.RemoveSignal(sigCh)
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				if sig.Path != path || sig.Name != dbusProperties+".PropertiesChanged" {
					continue
				}
				if len(sig.Body) < 2 {
					continue
				}
				if changed, ok := sig.Body[1].(map[string]dbus.Variant); ok {
					if _, hasValue := changed["Value"]; hasValue {
						fn()
					}
				}
			}
		}
	}(t.stopCh, t.conn, t.fromNumPath)

	return nil
}

// scan discovers the first nearby device advertising the radio service.
func (t *BLE) scan(ctx context.Context) (string, error) {
	adapterPath := dbus.ObjectPath("/org/bluez/" + t.adapter)
	adapter := t.conn.Object(bluezBus, adapterPath)

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
		"UUIDs":     dbus.MakeVariant([]string{ServiceUUID}),
	}
	if call := adapter.Call(bluezAdapter+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return "", fmt.Errorf("set discovery filter: %w", call.Err)
	}
	if call := adapter.Call(bluezAdapter+".StartDiscovery", 0); call.Err != nil {
		return "", fmt.Errorf("start discovery: %w", call.Err)
	}
	defer adapter.Call(bluezAdapter+".StopDiscovery", 0)

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-scanCtx.Done():
			return "", fmt.Errorf("%w: no radio advertising %s", ErrDeviceNotFound, ServiceUUID)
		case <-ticker.C:
			if addr, ok := t.findAdvertisingDevice(); ok {
				t.log.Debug("scan found radio", "address", addr)
				return addr, nil
			}
		}
	}
}

func (t *BLE) findAdvertisingDevice() (string, bool) {
	objects, err := t.managedObjects()
	if err != nil {
		return "", false
	}
	prefix := "/org/bluez/" + t.adapter + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		for _, uuid := range uuids {
			if strings.EqualFold(uuid, ServiceUUID) {
				addr, _ := props["Address"].Value().(string)
				return addr, addr != ""
			}
		}
	}
	return "", false
}

func (t *BLE) connectDevice(ctx context.Context) error {
	device := t.conn.Object(bluezBus, t.devicePath)

	if up, err := getProperty[bool](t.conn, t.devicePath, bluezDevice, "Connected"); err == nil && up {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if call := device.CallWithContext(callCtx, bluezDevice+".Connect", 0); call.Err != nil {
		return call.Err
	}
	return nil
}

func (t *BLE) disconnectDevice() {
	if t.conn == nil || t.devicePath == "" {
		return
	}
	t.conn.Object(bluezBus, t.devicePath).Call(bluezDevice+".Disconnect", 0)
}

func (t *BLE) waitServicesResolved(ctx context.Context) error {
	deadline := time.After(discoveryTimeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("service discovery timed out after %v", discoveryTimeout)
		case <-ticker.C:
			resolved, err := getProperty[bool](t.conn, t.devicePath, bluezDevice, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

func (t *BLE) discoverCharacteristics() error {
	objects, err := t.managedObjects()
	if err != nil {
		return err
	}

	prefix := string(t.devicePath) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuid, _ := props["UUID"].Value().(string)
		switch strings.ToLower(uuid) {
		case toRadioCharUUID:
			t.toRadioPath = path
		case fromRadioCharUUID:
			t.fromRadioPath = path
		case fromNumCharUUID:
			t.fromNumPath = path
		}
	}

	if t.toRadioPath == "" || t.fromRadioPath == "" || t.fromNumPath == "" {
		return fmt.Errorf("missing radio characteristics (toRadio=%v fromRadio=%v fromNum=%v)",
			t.toRadioPath != "", t.fromRadioPath != "", t.fromNumPath != "")
	}
	return nil
}

func (t *BLE) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := t.conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, call.Err
	}
	if err := call.Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}

// devicePath converts a MAC address to the BlueZ object path, e.g.
// "AA:BB:CC:DD:EE:FF" -> "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(address, ":", "_")))
}

func getProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}
