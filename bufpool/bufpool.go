// Package bufpool provides a bounded, size-classed byte buffer pool
// for the message encode/decode hot path.
//
// Buffers are bucketed into power-of-two size classes between 64
// bytes and 64 KiB; anything larger is allocated directly and never
// pooled, the same guard the ingest queue in the wider DBus example
// corpus uses to avoid pooled buffers pinning large amounts of
// resident memory.
package bufpool

import "sync"

const (
	minClass = 64
	maxClass = 64 * 1024
)

// Pool hands out []byte buffers sized to the nearest power-of-two
// size class at or above the requested length.
type Pool struct {
	classes []sync.Pool
}

// New returns a ready-to-use Pool.
func New() *Pool {
	p := &Pool{}
	for c := minClass; c <= maxClass; c *= 2 {
		size := c
		p.classes = append(p.classes, sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		})
	}
	return p
}

// Get returns a buffer with length n, possibly backed by pooled
// capacity larger than n. The returned slice's contents are not
// zeroed.
func (p *Pool) Get(n int) []byte {
	idx, size := classFor(n)
	if idx < 0 {
		return make([]byte, n)
	}
	buf := p.classes[idx].Get().(*[]byte)
	if cap(*buf) < size {
		*buf = make([]byte, size)
	}
	return (*buf)[:n]
}

// Put returns bs to the pool, if it is of a size the pool
// recognizes. Buffers larger than the largest size class are
// dropped on the floor rather than retained.
func (p *Pool) Put(bs []byte) {
	idx, _ := classFor(cap(bs))
	if idx < 0 {
		return
	}
	b := bs[:cap(bs)]
	p.classes[idx].Put(&b)
}

// classFor returns the size-class index and the class's byte size for
// a buffer of at least n bytes, or (-1, 0) if n exceeds the largest
// class.
func classFor(n int) (idx int, size int) {
	c := minClass
	i := 0
	for c < n {
		if c >= maxClass {
			return -1, 0
		}
		c *= 2
		i++
	}
	return i, c
}
