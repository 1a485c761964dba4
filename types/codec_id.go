package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CodecID identifies a compressed video format.
type CodecID int

const (
	CodecIDUndefined = CodecID(iota)
	CodecIDAVC
	CodecIDHEVC
	CodecIDMPEG2
	CodecIDVP9
	CodecIDAV1
	CodecIDJPEG
	EndOfCodecID
)

func (c CodecID) String() string {
	switch c {
	case CodecIDUndefined:
		return "undefined"
	case CodecIDAVC:
		return "h264"
	case CodecIDHEVC:
		return "h265"
	case CodecIDMPEG2:
		return "mpeg2"
	case CodecIDVP9:
		return "vp9"
	case CodecIDAV1:
		return "av1"
	case CodecIDJPEG:
		return "jpeg"
	}
	return fmt.Sprintf("unknown_codec_%d", int(c))
}

func (c CodecID) IsValid() bool {
	return c > CodecIDUndefined && c < EndOfCodecID
}

var codecIDAliases = map[string]CodecID{
	"avc":   CodecIDAVC,
	"hevc":  CodecIDHEVC,
	"mpeg2": CodecIDMPEG2,
	"m2v":   CodecIDMPEG2,
	"mjpeg": CodecIDJPEG,
}

func ParseCodecID(s string) (CodecID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := codecIDAliases[s]; ok {
		return c, nil
	}
	for c := CodecIDUndefined + 1; c < EndOfCodecID; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return CodecIDUndefined, fmt.Errorf("unknown codec %q", s)
}

func (c *CodecID) UnmarshalYAML(b []byte) error {
	v, err := ParseCodecID(unquoteYAML(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c CodecID) MarshalYAML() ([]byte, error) {
	return json.Marshal(c.String())
}
