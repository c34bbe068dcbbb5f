// Package config loads the client configuration from YAML, with environment
// overrides under the MESHLINK_ prefix.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Configuration struct {
	LogLevel string

	Radio     RadioSettings
	Session   SessionSettings
	Messaging MessagingSettings
	Bridge    BridgeSettings
}

// RadioSettings selects the device to attach to.
type RadioSettings struct {
	// Address is the Bluetooth device address, e.g. "AA:BB:CC:DD:EE:FF".
	Address string
	// Adapter is the local adapter name; empty means the default "hci0".
	Adapter string
}

// SessionSettings tunes the connection state machine.
type SessionSettings struct {
	ReconnectMaxAttempts int
	ReconnectDelay       time.Duration
	DrainEmptyStreak     int
	DrainInterval        time.Duration
	DrainBudget          time.Duration
	PollInterval         time.Duration
}

// MessagingSettings tunes delivery tracking. A zero AckTimeout keeps
// unacknowledged messages in Sent state forever.
type MessagingSettings struct {
	AckTimeout time.Duration
}

// BridgeSettings configures the local side of the broker bridge; broker
// address and credentials come from the device itself.
type BridgeSettings struct {
	Enabled      bool
	Region       string
	RootOverride string
	ClientID     string
}

// Load reads the configuration file at path, or searches the conventional
// locations when path is empty.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshlink")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/meshlink")
	}
	v.SetEnvPrefix("meshlink")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Configuration
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		base64BytesHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("loglevel", "info")
	v.SetDefault("radio.adapter", "hci0")
	v.SetDefault("session.reconnectmaxattempts", 5)
	v.SetDefault("session.reconnectdelay", "5s")
	v.SetDefault("session.drainemptystreak", 3)
	v.SetDefault("session.draininterval", "100ms")
	v.SetDefault("session.drainbudget", "15s")
	v.SetDefault("session.pollinterval", "30s")
	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.region", "US")
}

// base64BytesHookFunc decodes base64 strings into []byte fields, the
// conventional encoding for pre-shared keys in config files.
func base64BytesHookFunc() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]byte(nil)) {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return []byte(nil), nil
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 value: %w", err)
		}
		return raw, nil
	}
}
