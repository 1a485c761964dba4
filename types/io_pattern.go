package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IOPattern describes in which memory the session expects its input and
// produces its output.
type IOPattern uint8

const (
	IOPatternInSystemMemory = IOPattern(1 << iota)
	IOPatternInVideoMemory
	IOPatternOutSystemMemory
	IOPatternOutVideoMemory

	IOPatternUndefined = IOPattern(0)
	IOPatternSystem    = IOPatternInSystemMemory | IOPatternOutSystemMemory
	IOPatternVideo     = IOPatternInVideoMemory | IOPatternOutVideoMemory
)

var ioPatternNames = []struct {
	Flag IOPattern
	Name string
}{
	{IOPatternInSystemMemory, "in_system"},
	{IOPatternInVideoMemory, "in_video"},
	{IOPatternOutSystemMemory, "out_system"},
	{IOPatternOutVideoMemory, "out_video"},
}

func (p IOPattern) Has(flag IOPattern) bool {
	return p&flag == flag
}

// In returns the memory type of the input side only.
func (p IOPattern) In() MemoryType {
	switch {
	case p.Has(IOPatternInVideoMemory):
		return MemoryTypeVideo
	case p.Has(IOPatternInSystemMemory):
		return MemoryTypeSystem
	}
	return MemoryTypeUndefined
}

// Out returns the memory type of the output side only.
func (p IOPattern) Out() MemoryType {
	switch {
	case p.Has(IOPatternOutVideoMemory):
		return MemoryTypeVideo
	case p.Has(IOPatternOutSystemMemory):
		return MemoryTypeSystem
	}
	return MemoryTypeUndefined
}

func (p IOPattern) Validate() error {
	if p == IOPatternUndefined {
		return nil
	}
	if p.Has(IOPatternInSystemMemory | IOPatternInVideoMemory) {
		return fmt.Errorf("input memory cannot be both system and video")
	}
	if p.Has(IOPatternOutSystemMemory | IOPatternOutVideoMemory) {
		return fmt.Errorf("output memory cannot be both system and video")
	}
	if p&^(IOPatternSystem|IOPatternVideo) != 0 {
		return fmt.Errorf("unknown IO pattern bits 0x%X", uint8(p))
	}
	return nil
}

func (p IOPattern) String() string {
	if p == IOPatternUndefined {
		return "undefined"
	}
	var parts []string
	for _, item := range ioPatternNames {
		if p.Has(item.Flag) {
			parts = append(parts, item.Name)
		}
	}
	return strings.Join(parts, "|")
}

func ParseIOPattern(s string) (IOPattern, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "undefined":
		return IOPatternUndefined, nil
	case "system":
		return IOPatternSystem, nil
	case "video":
		return IOPatternVideo, nil
	}
	var result IOPattern
	for _, part := range strings.Split(s, "|") {
		found := false
		for _, item := range ioPatternNames {
			if item.Name == strings.TrimSpace(part) {
				result |= item.Flag
				found = true
				break
			}
		}
		if !found {
			return IOPatternUndefined, fmt.Errorf("unknown IO pattern component %q", part)
		}
	}
	return result, result.Validate()
}

func (p *IOPattern) UnmarshalYAML(b []byte) error {
	v, err := ParseIOPattern(unquoteYAML(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p IOPattern) MarshalYAML() ([]byte, error) {
	return json.Marshal(p.String())
}

// MemoryType is where a surface lives.
type MemoryType uint8

const (
	MemoryTypeUndefined = MemoryType(iota)
	MemoryTypeSystem
	MemoryTypeVideo
)

func (t MemoryType) String() string {
	switch t {
	case MemoryTypeUndefined:
		return "undefined"
	case MemoryTypeSystem:
		return "system"
	case MemoryTypeVideo:
		return "video"
	}
	return fmt.Sprintf("unknown_memory_type_%d", uint8(t))
}
