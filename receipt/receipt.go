// Package receipt issues and verifies signed job receipts. A receipt binds a
// job id and kind to the CIDs of its request and response records.
package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"

	HashSHA256   = "sha256"
	HashSHA512   = "sha512"
	HashSHA3_256 = "sha3-256"
)

var (
	ErrUnsupported      = errors.New("receipt: unsupported algorithm")
	ErrInvalidKey       = errors.New("receipt: invalid issuer key")
	ErrInvalidSignature = errors.New("receipt: signature invalid")
	ErrIncomplete       = errors.New("receipt: missing field")
)

// Receipt is a signed statement that an accelerator produced Response from
// Request.
type Receipt struct {
	JobID        string `json:"job_id"`
	Op           string `json:"op"`
	Request      string `json:"request"`
	Response     string `json:"response"`
	Issuer       string `json:"issuer"`
	SignatureAlg string `json:"signature_alg"`
	HashAlg      string `json:"hash_alg"`
	Signature    string `json:"signature,omitempty"`
}

// SignedBytes is the canonical byte string covered by the signature.
func (r Receipt) SignedBytes() []byte {
	var b bytes.Buffer
	b.WriteString("ldpc-receipt-v1\n")
	for _, kv := range [][2]string{
		{"job", r.JobID},
		{"op", r.Op},
		{"request", r.Request},
		{"response", r.Response},
		{"issuer", r.Issuer},
		{"signature-alg", r.SignatureAlg},
		{"hash-alg", r.HashAlg},
	} {
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(kv[1])
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (r Receipt) Marshal() ([]byte, error) { return json.Marshal(r) }

func Unmarshal(b []byte) (Receipt, error) {
	var r Receipt
	if err := json.Unmarshal(b, &r); err != nil {
		return Receipt{}, fmt.Errorf("receipt: decode: %w", err)
	}
	return r, nil
}

func (r Receipt) check() error {
	switch {
	case r.Op == "":
		return fmt.Errorf("%w: op", ErrIncomplete)
	case r.Request == "":
		return fmt.Errorf("%w: request", ErrIncomplete)
	case r.Response == "":
		return fmt.Errorf("%w: response", ErrIncomplete)
	}
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
