package source

import (
	"fmt"
	"sync"
)

// DefaultPoolSize matches the two frame buffers a camera sensor driver
// usually keeps.
const DefaultPoolSize = 2

type slot struct {
	data  []byte
	lease uint64 // zero while the slot is free
}

// Buffer is one lease of a capture buffer. It implements Frame, and
// io.Writer so an encoder can write straight into it.
type Buffer struct {
	pool  *Pool
	slot  *slot
	id    uint64
	still bool
}

func (b *Buffer) Bytes() []byte { return b.slot.data }
func (b *Buffer) Len() int      { return len(b.slot.data) }
func (b *Buffer) ID() uint64    { return b.id }
func (b *Buffer) Still() bool   { return b.still }

func (b *Buffer) SetStill(still bool) {
	b.still = still
}

// Write appends to the buffer without growing it past its capacity.
func (b *Buffer) Write(p []byte) (int, error) {
	s := b.slot
	if len(s.data)+len(p) > cap(s.data) {
		return 0, ErrBufferFull
	}
	s.data = append(s.data, p...)
	return len(p), nil
}

func (b *Buffer) Reset() {
	b.slot.data = b.slot.data[:0]
}

func (b *Buffer) Cap() int {
	return cap(b.slot.data)
}

// Pool is a fixed set of capture buffers. Leases carry increasing ids, so a
// stale lease cannot release the buffer after it has been handed out again.
type Pool struct {
	mu    sync.Mutex
	size  int
	slots []*slot
	free  []*slot
	last  uint64
}

func NewPool(n, size int) *Pool {
	if n <= 0 {
		n = DefaultPoolSize
	}
	p := &Pool{size: size}
	for i := 0; i < n; i++ {
		s := &slot{data: make([]byte, 0, size)}
		p.slots = append(p.slots, s)
		p.free = append(p.free, s)
	}
	return p
}

// Get leases a free buffer, or returns ErrFrameUnavailable when all of them
// are out.
func (p *Pool) Get() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, ErrFrameUnavailable
	}
	s := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	if cap(s.data) != p.size {
		s.data = make([]byte, 0, p.size)
	}
	s.data = s.data[:0]
	p.last++
	s.lease = p.last
	return &Buffer{pool: p, slot: s, id: p.last}, nil
}

func (p *Pool) Put(b *Buffer) error {
	if b == nil || b.pool != p {
		return ErrForeignFrame
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if b.slot.lease != b.id {
		return fmt.Errorf("%w: lease %d", ErrDoubleRelease, b.id)
	}
	b.slot.lease = 0
	p.free = append(p.free, b.slot)
	return nil
}

// Release is Put for any Frame.
func (p *Pool) Release(f Frame) error {
	b, ok := f.(*Buffer)
	if !ok {
		return ErrForeignFrame
	}
	return p.Put(b)
}

func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}

func (p *Pool) Len() int {
	return len(p.slots)
}

// Resize changes the capacity of buffers leased from now on. Buffers that are
// out keep their old capacity until they come back.
func (p *Pool) Resize(size int) {
	p.mu.Lock()
	p.size = size
	p.mu.Unlock()
}

func (p *Pool) BufferSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
