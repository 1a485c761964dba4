package types

import (
	"fmt"
)

// Rect is a region of interest: a top-left point plus a size.
type Rect struct {
	X uint32 `yaml:"x"`
	Y uint32 `yaml:"y"`
	W uint32 `yaml:"w"`
	H uint32 `yaml:"h"`
}

func RectFromResolution(r Resolution) Rect {
	return Rect{W: r.Width, H: r.Height}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)+%dx%d", r.X, r.Y, r.W, r.H)
}

func (r Rect) IsEmpty() bool {
	return r.W == 0 || r.H == 0
}

func (r Rect) Size() Resolution {
	return Resolution{Width: r.W, Height: r.H}
}

// Inside returns true if the rectangle fits into a surface of the given size.
func (r Rect) Inside(size Resolution) bool {
	return uint64(r.X)+uint64(r.W) <= uint64(size.Width) &&
		uint64(r.Y)+uint64(r.H) <= uint64(size.Height)
}
