// Package transport defines the wire-encoding capability the session
// manager and node are generic over: packing a Transfer into frames and
// parsing frames back into InternalRxFrame fragments. Classic CAN and
// CAN-FD each implement it in their own subpackage.
package transport

import (
	"github.com/cyphal-go/gocyphal/pkg/can"
	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

// Transport packs outgoing transfers into frames and parses incoming
// frames, for one specific wire encoding (classic CAN or CAN-FD).
type Transport interface {
	// MTU is the maximum payload bytes (tail byte included) a single
	// frame of this transport can carry.
	MTU() int

	// Parse interprets one received frame. It returns (nil, nil) for
	// frames that are well-formed but not addressed to localNodeID (a
	// service destined elsewhere), and a non-nil error for malformed
	// frames.
	Parse(localNodeID *cyphal.NodeID, frame can.Frame) (*cyphal.InternalRxFrame, error)

	// Transmit validates transfer and returns a lazy sequence of the
	// frames needed to carry it.
	Transmit(transfer cyphal.Transfer, localNodeID *cyphal.NodeID) (FrameIter, error)

	// NewSessionMetadata returns the fresh per-session reassembly state
	// (running CRC, expected toggle) this transport requires.
	NewSessionMetadata() SessionMetadata
}

// FrameIter is a stateful, non-reusable sequence of frames produced by
// Transmit. Dropping it before exhaustion silently abandons the
// transfer; there is no cancellation protocol on the wire.
type FrameIter interface {
	// Next returns the next frame, or ok=false once exhausted.
	Next() (frame can.Frame, ok bool)

	// Remaining is the exact number of frames Next will still yield.
	Remaining() int
}

// SessionMetadata is the transport-specific reassembly discipline: the
// session manager is oblivious to wire encoding and only calls this.
type SessionMetadata interface {
	// Update folds one more frame's non-tail bytes into the running
	// CRC/toggle state and returns the bytes now confirmed to belong to
	// the logical payload (excluding transport CRC and, for CAN-FD,
	// padding), ready to append to the session's accumulated buffer.
	// Because the transport CRC's two bytes are only identifiable once
	// the stream ends, confirmed bytes lag arrival by up to two bytes;
	// the returned slice is never the frame's own payload slice
	// verbatim. ok is false on a toggle mismatch, in which case the
	// caller reports BadMetadata.
	Update(frame cyphal.InternalRxFrame) (emit []byte, ok bool)

	// IsValid is called once, when the end-of-transfer frame has been
	// folded in via Update; it reports whether the running CRC matches
	// the trailing CRC bytes extracted from the stream.
	IsValid() bool
}
