package bridge

import (
	"fmt"
	"strings"

	pb "github.com/kabili207/meshtastic-go/core/proto"
)

// DefaultRoot is the conventional topic root used when neither the device
// nor the local configuration names one.
const DefaultRoot = "msh"

// TopicForChannel builds the subscription topic for one downlink channel:
// <root>[/<region>]/2/e/<channel>/#. The trailing wildcard matches the
// per-node suffix the mesh gateway appends.
func TopicForChannel(root, region, channel string) string {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		root = DefaultRoot
	}
	if region != "" {
		root = root + "/" + region
	}
	return fmt.Sprintf("%s/2/e/%s/#", root, channel)
}

// brokerURL derives the paho broker URL from the device's MQTT section. An
// address carrying its own scheme is used verbatim.
func brokerURL(cfg *pb.ModuleConfig_MQTTConfig) string {
	addr := cfg.GetAddress()
	if strings.Contains(addr, "://") {
		return addr
	}
	scheme := "tcp"
	port := "1883"
	if cfg.GetTlsEnabled() {
		scheme = "ssl"
		port = "8883"
	}
	if !strings.Contains(addr, ":") {
		addr = addr + ":" + port
	}
	return scheme + "://" + addr
}
