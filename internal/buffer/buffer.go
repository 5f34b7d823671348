package buffer

import "sync"

const DefaultSize = 4096

// Buffer is a reusable byte buffer obtained from a Pool.
type Buffer struct{ Data []byte }

func (buf *Buffer) Size() int {
	return len(buf.Data)
}

// Pool is a pool of buffers of similar sizes.
type Pool struct{ pool sync.Pool }

func (p *Pool) Get(size int) *Buffer {
	b, _ := p.pool.Get().(*Buffer)
	if b != nil {
		if size <= cap(b.Data) {
			b.Data = b.Data[:size]
			return b
		}
		p.Put(b)
		b = nil
	}
	return New(size)
}

func (p *Pool) Put(b *Buffer) {
	if b != nil {
		p.pool.Put(b)
	}
}

func New(size int) *Buffer {
	return &Buffer{Data: make([]byte, size, Align(size, DefaultSize))}
}

// Release returns the buffer referenced by *buf to the pool and clears the
// reference, tolerating a nil entry so it can be used in defer statements.
func Release(buf **Buffer, pool *Pool) {
	if b := *buf; b != nil {
		*buf = nil
		pool.Put(b)
	}
}

func Align(size, to int) int {
	return ((size + (to - 1)) / to) * to
}
