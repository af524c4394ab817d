package receipt

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Verify checks the signature of r against its issuer key.
func Verify(r Receipt) error {
	if err := r.check(); err != nil {
		return err
	}
	if r.Signature == "" {
		return fmt.Errorf("%w: signature", ErrIncomplete)
	}
	alg, enc, ok := strings.Cut(r.Issuer, ":")
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, r.Issuer)
	}
	if alg != r.SignatureAlg {
		return fmt.Errorf("%w: issuer alg %q does not match %q", ErrInvalidKey, alg, r.SignatureAlg)
	}
	pub, err := decodeBase64(enc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	sig, err := decodeBase64(r.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	unsigned := r
	unsigned.Signature = ""
	digest, err := digestFor(r.HashAlg, unsigned.SignedBytes())
	if err != nil {
		return err
	}

	switch alg {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: ed25519 key of %d bytes", ErrInvalidKey, len(pub))
		}
		if len(sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
			return ErrInvalidSignature
		}
		return nil
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if len(sig) != mode3.SignatureSize || !mode3.Verify(&pk, digest, sig) {
			return ErrInvalidSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: signature %q", ErrUnsupported, alg)
	}
}
