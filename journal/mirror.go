package journal

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Replica is a Store with a name used in errors and logs.
type Replica struct {
	Name  string
	Store Store
}

// Mirror writes every object to all replicas and reads from the first
// replica that has it, in slice order.
type Mirror struct {
	Replicas []Replica
}

var _ Store = Mirror{}

// NewMirror builds a mirror over LocalFS stores rooted at dirs. Replica names
// are the directories.
func NewMirror(dirs ...string) (Mirror, error) {
	if len(dirs) == 0 {
		return Mirror{}, errors.New("journal: mirror needs at least one directory")
	}
	m := Mirror{Replicas: make([]Replica, 0, len(dirs))}
	for _, dir := range dirs {
		s, err := NewLocalFS(dir)
		if err != nil {
			return Mirror{}, fmt.Errorf("journal: replica %s: %w", dir, err)
		}
		m.Replicas = append(m.Replicas, Replica{Name: dir, Store: s})
	}
	return m, nil
}

// Put stores b on every replica. A replica that keys b differently fails the
// write with ErrCIDMismatch.
func (m Mirror) Put(b []byte) (cid.Cid, error) {
	if len(m.Replicas) == 0 {
		return cid.Undef, errors.New("journal: mirror has no replicas")
	}
	want, err := ContentID(b)
	if err != nil {
		return cid.Undef, err
	}
	for _, r := range m.Replicas {
		if r.Store == nil {
			return cid.Undef, fmt.Errorf("journal: replica %q has no store", r.Name)
		}
		got, err := r.Store.Put(b)
		if err != nil {
			return cid.Undef, fmt.Errorf("journal: replica %q: %w", r.Name, err)
		}
		if !got.Equals(want) {
			return cid.Undef, fmt.Errorf("%w: replica %q returned %s, want %s", ErrCIDMismatch, r.Name, got, want)
		}
	}
	return want, nil
}

func (m Mirror) Get(id cid.Cid) ([]byte, error) {
	for _, r := range m.Replicas {
		if r.Store == nil {
			continue
		}
		b, err := r.Store.Get(id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("journal: replica %q: %w", r.Name, err)
		}
	}
	return nil, ErrNotFound
}

func (m Mirror) Has(id cid.Cid) bool {
	for _, r := range m.Replicas {
		if r.Store != nil && r.Store.Has(id) {
			return true
		}
	}
	return false
}
