package formula

import "sync/atomic"

// Buffer owns encoded bytes handed to ReadBuffer and ReadLazyBuffer.
// Every Reset or Release advances its generation, and views bound to an
// older generation fail with ErrStaleBuffer instead of reading reused memory.
type Buffer struct {
	data []byte
	gen  atomic.Uint64
}

// NewBuffer wraps data. The Buffer takes ownership of it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the current contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Generation returns the current generation.
func (b *Buffer) Generation() uint64 { return b.gen.Load() }

// Reset replaces the contents and invalidates outstanding views.
func (b *Buffer) Reset(data []byte) {
	b.gen.Add(1)
	b.data = data
}

// Release drops the contents and invalidates outstanding views.
func (b *Buffer) Release() {
	b.gen.Add(1)
	b.data = nil
}
