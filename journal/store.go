// Package journal keeps an offline, content-addressed record of accelerator
// jobs: the request record, the response record and a manifest tying them
// together.
package journal

import (
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Store is a minimal content-addressable store.
//
// Contract:
// - Put MUST be idempotent.
// - Stored objects MUST be immutable.
// - Keys MUST be derived from the bytes written (see ContentID).
// - Get MUST return ErrNotFound when the CID is absent.
type Store interface {
	Put(b []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

var (
	ErrNotFound    = errors.New("journal: not found")
	ErrInvalidCID  = errors.New("journal: invalid cid")
	ErrCIDMismatch = errors.New("journal: cid mismatch")
	ErrImmutable   = errors.New("journal: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ContentID returns the CIDv1 (raw codec, sha2-256) of b.
func ContentID(b []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ContentIDString is ContentID rendered as a string, or "" on failure.
// It is meant for log fields.
func ContentIDString(b []byte) string {
	id, err := ContentID(b)
	if err != nil {
		return ""
	}
	return id.String()
}
