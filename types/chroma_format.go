package types

import (
	"fmt"
)

type ChromaFormat int

const (
	ChromaFormatUndefined = ChromaFormat(iota)
	ChromaFormatMonochrome
	ChromaFormatYUV420
	ChromaFormatYUV422
	ChromaFormatYUV444
	EndOfChromaFormat
)

func (c ChromaFormat) String() string {
	switch c {
	case ChromaFormatUndefined:
		return "<undefined>"
	case ChromaFormatMonochrome:
		return "monochrome"
	case ChromaFormatYUV420:
		return "yuv420"
	case ChromaFormatYUV422:
		return "yuv422"
	case ChromaFormatYUV444:
		return "yuv444"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(c))
	}
}
