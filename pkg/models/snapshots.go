package models

import (
	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/meshlink/pkg/meshtastic"
)

// LocalIdentity is the learned identity of the radio this client is attached
// to. The node number is assigned by the device, never chosen locally.
type LocalIdentity struct {
	NodeNum   meshtastic.NodeID
	LongName  string
	ShortName string
}

// DeviceConfig is a merged snapshot of the radio's config sections. The
// device streams config in fragments during the initial burst, so sections
// are filled in incrementally and any of them may be nil.
type DeviceConfig struct {
	Device    *pb.Config_DeviceConfig
	Position  *pb.Config_PositionConfig
	Power     *pb.Config_PowerConfig
	Network   *pb.Config_NetworkConfig
	Display   *pb.Config_DisplayConfig
	LoRa      *pb.Config_LoRaConfig
	Bluetooth *pb.Config_BluetoothConfig
}

// Merge folds one config fragment into the snapshot, last write wins per
// section.
func (c *DeviceConfig) Merge(fragment *pb.Config) {
	switch v := fragment.GetPayloadVariant().(type) {
	case *pb.Config_Device:
		c.Device = v.Device
	case *pb.Config_Position:
		c.Position = v.Position
	case *pb.Config_Power:
		c.Power = v.Power
	case *pb.Config_Network:
		c.Network = v.Network
	case *pb.Config_Display:
		c.Display = v.Display
	case *pb.Config_Lora:
		c.LoRa = v.Lora
	case *pb.Config_Bluetooth:
		c.Bluetooth = v.Bluetooth
	}
}

// ModuleConfig is the merged module-config snapshot. Only the sections this
// client acts on are retained; the MQTT section drives the broker bridge.
type ModuleConfig struct {
	MQTT      *pb.ModuleConfig_MQTTConfig
	Serial    *pb.ModuleConfig_SerialConfig
	Telemetry *pb.ModuleConfig_TelemetryConfig
}

// Merge folds one module-config fragment into the snapshot.
func (c *ModuleConfig) Merge(fragment *pb.ModuleConfig) {
	switch v := fragment.GetPayloadVariant().(type) {
	case *pb.ModuleConfig_Mqtt:
		c.MQTT = v.Mqtt
	case *pb.ModuleConfig_Serial:
		c.Serial = v.Serial
	case *pb.ModuleConfig_Telemetry:
		c.Telemetry = v.Telemetry
	}
}

// DeviceMetadata is the static metadata block the radio reports once per
// session.
type DeviceMetadata struct {
	FirmwareVersion string
	HWModel         string
	HasWifi         bool
	HasBluetooth    bool
}
