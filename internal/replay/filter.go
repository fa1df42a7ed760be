package replay

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// snapLen is the accept length returned by the filter.
const snapLen = 262144

// udpPortFilter assembles the classic BPF program
//
//	ether proto ip and udp and not ip[6:2] & 0x1fff != 0 and port <port>
//
// for Ethernet frames.
func udpPortFilter(port uint16) []bpf.Instruction {
	return []bpf.Instruction{
		/* 0 */ bpf.LoadAbsolute{Off: 12, Size: 2},
		/* 1 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 10},
		/* 2 */ bpf.LoadAbsolute{Off: 23, Size: 1},
		/* 3 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 8},
		/* 4 */ bpf.LoadAbsolute{Off: 20, Size: 2},
		/* 5 */ bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 6},
		/* 6 */ bpf.LoadMemShift{Off: 14},
		/* 7 */ bpf.LoadIndirect{Off: 14, Size: 2},
		/* 8 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: 2},
		/* 9 */ bpf.LoadIndirect{Off: 16, Size: 2},
		/* 10 */ bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipFalse: 1},
		/* 11 */ bpf.RetConstant{Val: snapLen},
		/* 12 */ bpf.RetConstant{Val: 0},
	}
}

// newPortVM returns a VM running udpPortFilter(port).
func newPortVM(port uint16) (*bpf.VM, error) {
	vm, err := bpf.NewVM(udpPortFilter(port))
	if err != nil {
		return nil, fmt.Errorf("load port filter: %w", err)
	}
	return vm, nil
}
