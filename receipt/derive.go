package receipt

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
)

// DeriveSeed deterministically derives a per-label Ed25519 seed from a root
// seed, so one root can key several accelerator daemons.
func DeriveSeed(rootSeed []byte, label string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if label == "" {
		return nil, errors.New("label is required")
	}
	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("ldpc-offload-receipt-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(label))
	return h.Sum(nil)[:ed25519.SeedSize], nil
}
