package session

import (
	"fmt"
)

type State int

const (
	StateUninitialized = State(iota)
	StateInitialized
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown_state_%d", int(s))
}

type Kind int

const (
	KindDecode = Kind(iota)
	KindEncode
	KindVPP
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindVPP:
		return "vpp"
	}
	return fmt.Sprintf("unknown_kind_%d", int(k))
}
