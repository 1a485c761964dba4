package pool

import (
	"math/bits"
	"sync"
)

const (
	minBufferClass = 6  // 64 bytes
	maxBufferClass = 28 // 256 MiB
)

// Buffers is a byte-slice pool split into power-of-two size classes, so a
// surface of a given geometry always gets back a buffer of the same class.
type Buffers struct {
	classes [maxBufferClass + 1]*Pool[[]byte]
	once    sync.Once
}

// DefaultBuffers is shared by frames and bitstream chunks.
var DefaultBuffers = &Buffers{}

func (b *Buffers) init() {
	b.once.Do(func() {
		for class := minBufferClass; class <= maxBufferClass; class++ {
			size := 1 << class
			b.classes[class] = NewPool(
				func() *[]byte {
					buf := make([]byte, 0, size)
					return &buf
				},
				func(buf *[]byte) {
					*buf = (*buf)[:0]
				},
			)
		}
	})
}

func sizeClass(size int) int {
	if size <= 1<<minBufferClass {
		return minBufferClass
	}
	return bits.Len(uint(size - 1))
}

// Get returns a zeroed slice of the given length.
func (b *Buffers) Get(size int) []byte {
	class := sizeClass(size)
	if class > maxBufferClass {
		return make([]byte, size)
	}
	b.init()
	buf := *b.classes[class].Get()
	buf = buf[:size]
	clear(buf)
	return buf
}

// Put returns the slice for reuse; slices not allocated by Get are dropped.
func (b *Buffers) Put(buf []byte) {
	c := cap(buf)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	class := bits.Len(uint(c)) - 1
	if class < minBufferClass || class > maxBufferClass {
		return
	}
	b.init()
	b.classes[class].Put(&buf)
}
