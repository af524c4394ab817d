package receipt

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case HashSHA256:
		s := sha256.Sum256(message)
		return s[:], nil
	case HashSHA512:
		s := sha512.Sum512(message)
		return s[:], nil
	case HashSHA3_256:
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("%w: hash %q", ErrUnsupported, hashAlg)
	}
}

// Signer signs receipts with one key.
type Signer struct {
	alg     string
	hashAlg string
	issuer  string
	ed      ed25519.PrivateKey
	dil     *mode3.PrivateKey
}

// NewEd25519Signer derives an Ed25519 key from seed.
func NewEd25519Signer(seed []byte, hashAlg string) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("receipt: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	if _, err := digestFor(hashAlg, nil); err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{
		alg:     AlgEd25519,
		hashAlg: hashAlg,
		issuer:  AlgEd25519 + ":" + base64.StdEncoding.EncodeToString(pub),
		ed:      priv,
	}, nil
}

// NewDilithium3Signer wraps an existing dilithium3 private key.
func NewDilithium3Signer(priv *mode3.PrivateKey, hashAlg string) (*Signer, error) {
	if priv == nil {
		return nil, errors.New("receipt: missing private key")
	}
	if _, err := digestFor(hashAlg, nil); err != nil {
		return nil, err
	}
	pk, ok := priv.Public().(*mode3.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected dilithium3 public key type", ErrInvalidKey)
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Signer{
		alg:     AlgDilithium3,
		hashAlg: hashAlg,
		issuer:  AlgDilithium3 + ":" + base64.StdEncoding.EncodeToString(pub),
		dil:     priv,
	}, nil
}

// GenerateDilithium3Signer creates a fresh dilithium3 key from rand.
func GenerateDilithium3Signer(rand io.Reader, hashAlg string) (*Signer, error) {
	_, priv, err := mode3.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return NewDilithium3Signer(priv, hashAlg)
}

// Issuer is the "alg:base64(pubkey)" key string placed in receipts.
func (s *Signer) Issuer() string { return s.issuer }

// Sign fills in the issuer fields of r and signs it.
func (s *Signer) Sign(r Receipt) (Receipt, error) {
	if err := r.check(); err != nil {
		return Receipt{}, err
	}
	r.Issuer = s.issuer
	r.SignatureAlg = s.alg
	r.HashAlg = s.hashAlg
	r.Signature = ""
	digest, err := digestFor(s.hashAlg, r.SignedBytes())
	if err != nil {
		return Receipt{}, err
	}
	var sig []byte
	switch s.alg {
	case AlgEd25519:
		sig = ed25519.Sign(s.ed, digest)
	case AlgDilithium3:
		sig = make([]byte, mode3.SignatureSize)
		mode3.SignTo(s.dil, digest, sig)
	default:
		return Receipt{}, fmt.Errorf("%w: signature %q", ErrUnsupported, s.alg)
	}
	r.Signature = base64.StdEncoding.EncodeToString(sig)
	return r, nil
}
