package bitstream

import (
	"github.com/xaionaro-go/avsession/types"
)

const bufferCompactThreshold = 1 << 16

// Buffer accumulates compressed input until complete units could be
// extracted from it.
type Buffer struct {
	data        []byte
	offset      int
	endOfStream bool
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		data: make([]byte, 0, capacity),
	}
}

// Append adds more data to the end of the buffer.
func (b *Buffer) Append(data []byte) {
	b.compact()
	b.data = append(b.data, data...)
}

// ReadFrom reads up to readSize bytes through the read function (which
// has the io.Reader semantics).
func (b *Buffer) ReadFrom(readSize int, read func([]byte) (int, error)) (int, error) {
	b.compact()
	start := len(b.data)
	if cap(b.data)-start < readSize {
		grown := make([]byte, start, start+readSize)
		copy(grown, b.data)
		b.data = grown
	}
	n, err := read(b.data[start : start+readSize])
	b.data = b.data[:start+max(n, 0)]
	return n, err
}

func (b *Buffer) compact() {
	if b.offset < bufferCompactThreshold && b.offset < len(b.data)/2 {
		return
	}
	n := copy(b.data, b.data[b.offset:])
	b.data = b.data[:n]
	b.offset = 0
}

// Bytes returns the unconsumed part of the buffer. The slice is valid until
// the next Append/ReadFrom.
func (b *Buffer) Bytes() []byte {
	return b.data[b.offset:]
}

func (b *Buffer) Len() int {
	return len(b.data) - b.offset
}

// Consume drops n bytes from the beginning of the buffer.
func (b *Buffer) Consume(n int) {
	b.offset = min(b.offset+n, len(b.data))
}

// SetEndOfStream marks that no more data will be appended, so the last
// unit is complete even without a terminating start code.
func (b *Buffer) SetEndOfStream() {
	b.endOfStream = true
}

func (b *Buffer) IsEndOfStream() bool {
	return b.endOfStream
}

// NextUnit extracts the next complete unit. It returns
// types.ErrEndOfStream once the stream is marked finished and drained, and
// (Unit{}, false, nil) if more data is needed.
func (b *Buffer) NextUnit() (Unit, bool, error) {
	for {
		unit, consumed, ok := NextUnit(b.Bytes(), b.endOfStream)
		b.Consume(consumed)
		if ok {
			return unit, true, nil
		}
		if b.endOfStream && b.Len() == 0 {
			return Unit{}, false, types.ErrEndOfStream
		}
		if consumed == 0 {
			return Unit{}, false, nil
		}
	}
}

func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.offset = 0
	b.endOfStream = false
}
