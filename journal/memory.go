package journal

import (
	"bytes"
	"sync"

	"github.com/ipfs/go-cid"
)

// Memory is an in-process Store. The zero value is ready to use.
type Memory struct {
	mu      sync.RWMutex
	objects map[cid.Cid][]byte
}

func (m *Memory) Put(b []byte) (cid.Cid, error) {
	id, err := ContentID(b)
	if err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[id]; ok {
		if !bytes.Equal(existing, b) {
			return cid.Undef, ErrImmutable
		}
		return id, nil
	}
	if m.objects == nil {
		m.objects = make(map[cid.Cid][]byte)
	}
	m.objects[id] = append([]byte(nil), b...)
	return id, nil
}

func (m *Memory) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	return ok
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
