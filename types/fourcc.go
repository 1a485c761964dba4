// fourcc.go defines the FourCC pixel layout identifiers.

package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FourCC identifies a pixel/colorspace layout by four characters packed
// little-endian into an uint32 (the same way MAKEFOURCC does).
type FourCC uint32

func MakeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	FourCCUndefined = FourCC(0)
	FourCCNV12      = MakeFourCC('N', 'V', '1', '2')
	FourCCYV12      = MakeFourCC('Y', 'V', '1', '2')
	FourCCI420      = MakeFourCC('I', '4', '2', '0')
	FourCCYUY2      = MakeFourCC('Y', 'U', 'Y', '2')
	FourCCRGB4      = MakeFourCC('R', 'G', 'B', '4')
	FourCCP010      = MakeFourCC('P', '0', '1', '0')
)

func FourCCs() []FourCC {
	return []FourCC{
		FourCCNV12,
		FourCCYV12,
		FourCCI420,
		FourCCYUY2,
		FourCCRGB4,
		FourCCP010,
	}
}

func (f FourCC) String() string {
	if f == FourCCUndefined {
		return "<undefined>"
	}
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

func (f FourCC) IsKnown() bool {
	for _, candidate := range FourCCs() {
		if f == candidate {
			return true
		}
	}
	return false
}

// ChromaFormat returns the chroma subsampling the layout implies.
func (f FourCC) ChromaFormat() ChromaFormat {
	switch f {
	case FourCCNV12, FourCCYV12, FourCCI420, FourCCP010:
		return ChromaFormatYUV420
	case FourCCYUY2:
		return ChromaFormatYUV422
	case FourCCRGB4:
		return ChromaFormatYUV444
	default:
		return ChromaFormatUndefined
	}
}

// BitDepth returns the per-sample bit depth of the layout.
func (f FourCC) BitDepth() uint8 {
	switch f {
	case FourCCP010:
		return 10
	case FourCCUndefined:
		return 0
	default:
		return 8
	}
}

func ParseFourCC(s string) (FourCC, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, candidate := range FourCCs() {
		if candidate.String() == s {
			return candidate, nil
		}
	}
	return FourCCUndefined, fmt.Errorf("unknown fourcc '%s'", s)
}

func (f *FourCC) UnmarshalYAML(b []byte) error {
	v, err := ParseFourCC(unquoteYAML(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (f FourCC) MarshalYAML() ([]byte, error) {
	return json.Marshal(f.String())
}
