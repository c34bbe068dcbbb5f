package meshtastic

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"
)

// Channel share links carry a serialized ChannelSet in the URL fragment,
// base64url-encoded without padding:
//
//	https://meshtastic.org/e/#CgYSBBI...
const (
	channelURLHost = "meshtastic.org"
	channelURLPath = "/e/"
)

var ErrInvalidChannelURL = errors.New("invalid channel share URL")

// SharedChannel is one (name, key) pair extracted from a share link.
type SharedChannel struct {
	Name string
	PSK  []byte
}

// EncodeChannelURL serializes the given channels into a share link.
func EncodeChannelURL(channels []SharedChannel) (string, error) {
	set := &pb.ChannelSet{}
	for _, ch := range channels {
		set.Settings = append(set.Settings, &pb.ChannelSettings{
			Name: ch.Name,
			Psk:  ch.PSK,
		})
	}
	raw, err := proto.Marshal(set)
	if err != nil {
		return "", err
	}
	fragment := base64.RawURLEncoding.EncodeToString(raw)
	return fmt.Sprintf("https://%s%s#%s", channelURLHost, channelURLPath, fragment), nil
}

// DecodeChannelURL parses a share link back into its channel list.
func DecodeChannelURL(link string) ([]SharedChannel, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChannelURL, err)
	}
	fragment := u.Fragment
	if fragment == "" {
		// url.Parse keeps an empty fragment for bare "...#"; also accept a
		// raw fragment pasted without the URL prefix.
		if i := strings.Index(link, "#"); i >= 0 {
			fragment = link[i+1:]
		}
	}
	if fragment == "" {
		return nil, fmt.Errorf("%w: missing fragment", ErrInvalidChannelURL)
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(fragment, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChannelURL, err)
	}

	var set pb.ChannelSet
	if err := proto.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChannelURL, err)
	}

	channels := make([]SharedChannel, 0, len(set.Settings))
	for _, s := range set.Settings {
		channels = append(channels, SharedChannel{
			Name: s.GetName(),
			PSK:  s.GetPsk(),
		})
	}
	return channels, nil
}
