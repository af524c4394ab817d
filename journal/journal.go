package journal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/ldpcoffload/ldpc"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// Entry is one completed job as seen by the accelerator.
type Entry struct {
	JobID    string
	Op       ldpc.Op
	Service  string
	Request  []byte
	Response []byte
	// Receipt is an optional serialized receipt.
	Receipt []byte
}

// Manifest links the stored objects of one job by CID.
type Manifest struct {
	Version  int    `json:"version"`
	JobID    string `json:"job_id,omitempty"`
	Op       string `json:"op"`
	Service  string `json:"service,omitempty"`
	Request  string `json:"request"`
	Response string `json:"response"`
	Receipt  string `json:"receipt,omitempty"`
}

// Journal records jobs into a Store.
type Journal struct {
	store Store
}

func New(store Store) (*Journal, error) {
	if store == nil {
		return nil, errors.New("journal: store is required")
	}
	return &Journal{store: store}, nil
}

// Store returns the backing store.
func (j *Journal) Store() Store { return j.store }

// Record stores the request, response and optional receipt of e, then a
// manifest naming them. It returns the manifest CID.
func (j *Journal) Record(e Entry) (cid.Cid, Manifest, error) {
	if e.Op != ldpc.OpEncode && e.Op != ldpc.OpDecode {
		return cid.Undef, Manifest{}, fmt.Errorf("journal: unknown job kind %d", uint8(e.Op))
	}
	m := Manifest{
		Version: ManifestVersion,
		JobID:   e.JobID,
		Op:      e.Op.String(),
		Service: e.Service,
	}
	reqID, err := j.store.Put(e.Request)
	if err != nil {
		return cid.Undef, Manifest{}, fmt.Errorf("journal: store request: %w", err)
	}
	m.Request = reqID.String()

	respID, err := j.store.Put(e.Response)
	if err != nil {
		return cid.Undef, Manifest{}, fmt.Errorf("journal: store response: %w", err)
	}
	m.Response = respID.String()

	if len(e.Receipt) > 0 {
		rcptID, err := j.store.Put(e.Receipt)
		if err != nil {
			return cid.Undef, Manifest{}, fmt.Errorf("journal: store receipt: %w", err)
		}
		m.Receipt = rcptID.String()
	}

	b, err := json.Marshal(m)
	if err != nil {
		return cid.Undef, Manifest{}, err
	}
	id, err := j.store.Put(b)
	if err != nil {
		return cid.Undef, Manifest{}, fmt.Errorf("journal: store manifest: %w", err)
	}
	return id, m, nil
}

// Lookup loads and validates the manifest stored under id.
func (j *Journal) Lookup(id cid.Cid) (Manifest, error) {
	b, err := j.store.Get(id)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("journal: decode manifest %s: %w", id, err)
	}
	if m.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("journal: unsupported manifest version %d", m.Version)
	}
	for _, s := range []string{m.Request, m.Response} {
		if _, err := cid.Decode(s); err != nil {
			return Manifest{}, fmt.Errorf("%w: %q", ErrInvalidCID, s)
		}
	}
	return m, nil
}

// Load fetches one object named by a manifest field.
func (j *Journal) Load(s string) ([]byte, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCID, s)
	}
	return j.store.Get(id)
}
