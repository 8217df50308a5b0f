// Package bufferpool reuses fixed-capacity byte buffers for piece assembly.
package bufferpool

import "sync"

// Pool keeps reusable buffers of a single capacity.
type Pool struct {
	capacity int
	pool     sync.Pool
}

// New returns a Pool of buffers with the given capacity.
func New(capacity int) *Pool {
	p := &Pool{capacity: capacity}
	p.pool.New = func() interface{} {
		b := make([]byte, capacity)
		return &b
	}
	return p
}

// Get returns a buffer truncated to n bytes.
// n must not exceed the capacity given to New.
// Call Release on the returned Buffer when done with it.
func (p *Pool) Get(n int) *Buffer {
	if n > p.capacity {
		panic("bufferpool: requested length exceeds pool capacity")
	}
	return &Buffer{data: p.pool.Get().(*[]byte), length: n, pool: p}
}

// Buffer is a pooled byte slice.
type Buffer struct {
	data   *[]byte
	length int
	pool   *Pool
}

// Bytes returns the usable portion of the buffer.
func (b *Buffer) Bytes() []byte { return (*b.data)[:b.length] }

// Release returns the buffer to its pool.
// The Buffer must not be used after calling Release.
func (b *Buffer) Release() {
	// pointer-like argument to Put avoids an allocation
	b.pool.pool.Put(b.data)
}
