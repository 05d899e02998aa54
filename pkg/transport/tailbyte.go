package transport

import "github.com/cyphal-go/gocyphal/pkg/cyphal"

// TailByte is the final byte of every wire frame: start/end/toggle flags
// packed with the 5-bit transfer id.
type TailByte uint8

const (
	tailStartBit  = 1 << 7
	tailEndBit    = 1 << 6
	tailToggleBit = 1 << 5
	tailIDMask    = 0x1f
)

// NewTailByte packs the four fields into a tail byte.
func NewTailByte(start, end, toggle bool, transferID cyphal.TransferID) TailByte {
	var b TailByte
	if start {
		b |= tailStartBit
	}
	if end {
		b |= tailEndBit
	}
	if toggle {
		b |= tailToggleBit
	}
	b |= TailByte(transferID.Masked()) & tailIDMask
	return b
}

// StartOfTransfer reports whether the start-of-transfer bit is set.
func (b TailByte) StartOfTransfer() bool { return b&tailStartBit != 0 }

// EndOfTransfer reports whether the end-of-transfer bit is set.
func (b TailByte) EndOfTransfer() bool { return b&tailEndBit != 0 }

// Toggle reports the toggle bit.
func (b TailByte) Toggle() bool { return b&tailToggleBit != 0 }

// TransferID extracts the 5-bit transfer id.
func (b TailByte) TransferID() cyphal.TransferID {
	return cyphal.TransferID(b & tailIDMask)
}

// SingleFrame reports whether this tail byte marks a transfer that fits
// in one frame (both start and end set).
func (b TailByte) SingleFrame() bool {
	return b.StartOfTransfer() && b.EndOfTransfer()
}
