package main

import (
	"encoding/base64"
	"flag"
	"fmt"

	"github.com/kabili207/meshlink/pkg/meshtastic"
)

func main() {
	length := flag.Int("length", 32, "Length of the pre-shared key in bytes (16 or 32)")
	name := flag.String("name", "", "Channel name to embed in a share URL (optional)")
	flag.Parse()

	psk, err := meshtastic.GeneratePSK(*length)
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		return
	}

	fmt.Printf("PSK: %s\n", base64.StdEncoding.EncodeToString(psk))

	if *name != "" {
		link, err := meshtastic.EncodeChannelURL([]meshtastic.SharedChannel{
			{Name: *name, PSK: psk},
		})
		if err != nil {
			fmt.Printf("Error building share URL: %v\n", err)
			return
		}
		fmt.Printf("URL: %s\n", link)
	}
}
