package comch

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRegionClosed  = errors.New("comch: memory region closed")
	ErrPoolExhausted = errors.New("comch: buffer pool exhausted")
)

// Region is a registered memory region backing a buffer pool.
type Region struct {
	mem     []byte
	release func([]byte) error

	closeOnce sync.Once
	closeErr  error
}

// NewRegion allocates a region of size bytes. When lock is true the pages are
// pinned where the platform supports it.
func NewRegion(size int, lock bool) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("comch: invalid region size %d", size)
	}
	mem, release, err := allocRegion(size, lock)
	if err != nil {
		return nil, err
	}
	return &Region{mem: mem, release: release}, nil
}

// Bytes returns the region memory, or nil once closed.
func (r *Region) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.mem
}

func (r *Region) Len() int { return len(r.Bytes()) }

// Close unmaps the region. It is idempotent and nil-safe.
func (r *Region) Close() error {
	if r == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		mem := r.mem
		r.mem = nil
		if r.release != nil {
			r.closeErr = r.release(mem)
		}
	})
	return r.closeErr
}

// BufferPool slices a region into fixed-size slots.
type BufferPool struct {
	region *Region
	slot   int
	free   []int
	inUse  map[int]bool
}

// Buffer is one slot of a BufferPool.
type Buffer struct {
	pool  *BufferPool
	index int
	data  []byte
}

// NewBufferPool carves count slots of slotSize bytes out of r.
func NewBufferPool(r *Region, slotSize, count int) (*BufferPool, error) {
	if slotSize <= 0 || count <= 0 {
		return nil, fmt.Errorf("comch: invalid pool geometry %dx%d", count, slotSize)
	}
	if r.Len() < slotSize*count {
		return nil, fmt.Errorf("comch: region of %d bytes cannot hold %dx%d", r.Len(), count, slotSize)
	}
	p := &BufferPool{region: r, slot: slotSize, inUse: make(map[int]bool, count)}
	for i := count - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p, nil
}

// Get takes a free slot.
func (p *BufferPool) Get() (*Buffer, error) {
	mem := p.region.Bytes()
	if mem == nil {
		return nil, ErrRegionClosed
	}
	if len(p.free) == 0 {
		return nil, ErrPoolExhausted
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[i] = true
	off := i * p.slot
	return &Buffer{pool: p, index: i, data: mem[off : off+p.slot : off+p.slot]}, nil
}

// Available is the number of free slots.
func (p *BufferPool) Available() int { return len(p.free) }

// Bytes is the slot memory.
func (b *Buffer) Bytes() []byte { return b.data }

// Release returns the slot to its pool. Releasing twice is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.pool == nil || !b.pool.inUse[b.index] {
		return
	}
	delete(b.pool.inUse, b.index)
	b.pool.free = append(b.pool.free, b.index)
	b.data = nil
}
