package types

import (
	"fmt"
)

type PicStruct int

const (
	PicStructUnknown = PicStruct(iota)
	PicStructProgressive
	PicStructFieldTFF
	PicStructFieldBFF
	EndOfPicStruct
)

func (p PicStruct) String() string {
	switch p {
	case PicStructUnknown:
		return "unknown"
	case PicStructProgressive:
		return "progressive"
	case PicStructFieldTFF:
		return "field_tff"
	case PicStructFieldBFF:
		return "field_bff"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(p))
	}
}
