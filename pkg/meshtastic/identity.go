package meshtastic

import (
	"strings"
	"unicode/utf8"
)

// Display name limits enforced by the device firmware.
const (
	MaxLongNameLen  = 39
	MaxShortNameLen = 4
)

// GenerateShortName derives a short display name from a long one, the same
// way the official clients do: multi-word names become the uppercase initials
// of up to the first four words, single-word names become their first four
// characters, uppercased.
func GenerateShortName(longName string) string {
	words := strings.Fields(longName)
	switch {
	case len(words) == 0:
		return ""
	case len(words) == 1:
		word := []rune(words[0])
		if len(word) > MaxShortNameLen {
			word = word[:MaxShortNameLen]
		}
		return strings.ToUpper(string(word))
	default:
		var sb strings.Builder
		for i, w := range words {
			if i == MaxShortNameLen {
				break
			}
			r, _ := utf8.DecodeRuneInString(w)
			sb.WriteString(strings.ToUpper(string(r)))
		}
		return sb.String()
	}
}

// TruncateLongName clamps a long name to the firmware limit.
func TruncateLongName(name string) string {
	if len(name) > MaxLongNameLen {
		return name[:MaxLongNameLen]
	}
	return name
}
