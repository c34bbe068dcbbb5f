package meshtastic

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// Valid pre-shared key lengths. A zero-length PSK means an unencrypted
// channel; 16 bytes is AES-128, 32 bytes AES-256.
const (
	PSKLenNone   = 0
	PSKLenMedium = 16
	PSKLenStrong = 32
)

// GeneratePSK returns a uniformly random pre-shared key of the requested
// length. Only the AES-128 and AES-256 lengths are accepted.
func GeneratePSK(length int) ([]byte, error) {
	if length != PSKLenMedium && length != PSKLenStrong {
		return nil, fmt.Errorf("psk length must be %d or %d bytes, got %d", PSKLenMedium, PSKLenStrong, length)
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateKeyPair creates a fresh X25519 keypair for node identity
// provisioning.
func GenerateKeyPair() (publicKey, privateKey []byte, err error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return priv.PublicKey().Bytes(), priv.Bytes(), nil
}
