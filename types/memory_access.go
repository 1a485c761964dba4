package types

import (
	"fmt"
)

// MemoryAccess is the access mode of a frame mapping.
type MemoryAccess uint8

const (
	MemoryAccessRead = MemoryAccess(1 << iota)
	MemoryAccessWrite

	MemoryAccessReadWrite = MemoryAccessRead | MemoryAccessWrite
)

func (a MemoryAccess) CanRead() bool {
	return a&MemoryAccessRead != 0
}

func (a MemoryAccess) CanWrite() bool {
	return a&MemoryAccessWrite != 0
}

func (a MemoryAccess) IsValid() bool {
	return a != 0 && a&^MemoryAccessReadWrite == 0
}

func (a MemoryAccess) String() string {
	switch a {
	case MemoryAccessRead:
		return "read"
	case MemoryAccessWrite:
		return "write"
	case MemoryAccessReadWrite:
		return "read_write"
	}
	return fmt.Sprintf("unknown_access_%d", uint8(a))
}
