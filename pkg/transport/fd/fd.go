// Package fd implements the CAN-FD transport: MTU 64, 63 usable payload
// bytes per frame, DLC lengths quantized to the CAN-FD step table, and a
// trailing CRC-16/CCITT-FALSE exactly as classic CAN uses.
//
// The source material describes the tail byte as "the last logical
// byte, not the last frame byte", with padding following it — but that
// leaves a receiver with no way to locate the tail byte at all. This
// implementation instead keeps the tail byte as the physically last
// byte of every frame (matching classic CAN) and places any padding the
// DLC quantization requires immediately before it.
package fd

import (
	"time"

	"github.com/cyphal-go/gocyphal/internal/crc"
	"github.com/cyphal-go/gocyphal/pkg/can"
	"github.com/cyphal-go/gocyphal/pkg/cyphal"
	"github.com/cyphal-go/gocyphal/pkg/transport"
)

// MTU is the maximum physical frame length, tail byte included.
const MTU = 64

// UsablePayload is the number of non-tail, non-padding bytes a single
// frame can carry before quantization.
const UsablePayload = MTU - 1

// Transport implements transport.Transport for CAN-FD.
type Transport struct{}

// New returns a CAN-FD transport.
func New() *Transport { return &Transport{} }

// MTU implements transport.Transport.
func (t *Transport) MTU() int { return MTU }

// NewSessionMetadata implements transport.Transport.
func (t *Transport) NewSessionMetadata() transport.SessionMetadata {
	return newMetadata()
}

// Transmit implements transport.Transport.
func (t *Transport) Transmit(tr cyphal.Transfer, localNodeID *cyphal.NodeID) (transport.FrameIter, error) {
	if err := validateTransmit(tr, localNodeID); err != nil {
		return nil, err
	}

	id, err := encodeID(tr, localNodeID)
	if err != nil {
		return nil, err
	}

	content := tr.Payload
	if len(tr.Payload) > UsablePayload {
		sum := crc.Of(tr.Payload)
		crcBytes := sum.Bytes()
		content = make([]byte, len(tr.Payload)+2)
		copy(content, tr.Payload)
		content[len(content)-2] = crcBytes[0]
		content[len(content)-1] = crcBytes[1]
	}

	return newFrameIter(id, content, tr.TransferID), nil
}

// Parse implements transport.Transport.
func (t *Transport) Parse(localNodeID *cyphal.NodeID, frame can.Frame) (*cyphal.InternalRxFrame, error) {
	if len(frame.Payload) == 0 {
		return nil, cyphal.ErrFrameEmpty
	}

	parsed, err := transport.DecodeCanID(frame.ID)
	if err != nil {
		return nil, err
	}

	if parsed.Kind != cyphal.TransferKindMessage && localNodeID != nil {
		if parsed.Destination == nil || *parsed.Destination != *localNodeID {
			return nil, nil
		}
	}

	tail := transport.TailByte(frame.Payload[len(frame.Payload)-1])
	if tail.StartOfTransfer() && !tail.Toggle() {
		return nil, cyphal.ErrTransferStartMissingToggle
	}
	if !tail.EndOfTransfer() && len(frame.Payload) < MTU {
		return nil, cyphal.ErrNonLastUnderUtilization
	}
	if parsed.Anonymous && !tail.SingleFrame() {
		return nil, cyphal.ErrAnonNotSingleFrame
	}

	payloadSlice := frame.Payload[:len(frame.Payload)-1]
	if tail.SingleFrame() {
		// A single-frame transfer bypasses the session layer's metadata
		// accumulator entirely (see pkg/session's singleFrameTransfer),
		// so padding has to be trimmed here instead of on the
		// end-of-transfer path metadata.Update otherwise handles.
		payloadSlice = trimPadding(payloadSlice)
	}

	return &cyphal.InternalRxFrame{
		Timestamp:       frame.Timestamp,
		Priority:        parsed.Priority,
		Kind:            parsed.Kind,
		PortID:          parsed.PortID,
		SourceNodeID:    parsed.Source,
		DestinationNode: parsed.Destination,
		TransferID:      tail.TransferID(),
		StartOfTransfer: tail.StartOfTransfer(),
		EndOfTransfer:   tail.EndOfTransfer(),
		Toggle:          tail.Toggle(),
		PayloadSlice:    payloadSlice,
	}, nil
}

func validateTransmit(tr cyphal.Transfer, localNodeID *cyphal.NodeID) error {
	if tr.Kind != cyphal.TransferKindMessage {
		if localNodeID == nil {
			return cyphal.ErrServiceNoSourceID
		}
		if tr.RemoteNodeID == nil {
			return cyphal.ErrServiceNoDestinationID
		}
	}
	if localNodeID == nil && len(tr.Payload) > UsablePayload {
		return cyphal.ErrAnonNotSingleFrame
	}
	return nil
}

func encodeID(tr cyphal.Transfer, localNodeID *cyphal.NodeID) (uint32, error) {
	if tr.Kind == cyphal.TransferKindMessage {
		return transport.EncodeMessageID(tr.Priority, tr.PortID, localNodeID)
	}
	return transport.EncodeServiceID(tr.Priority, tr.Kind == cyphal.TransferKindRequest, tr.PortID, *tr.RemoteNodeID, *localNodeID)
}

// frameIter is the lazy CAN-FD splitter: like classic CAN's, but the
// final frame's length is rounded up to the next valid DLC step and
// zero-padded before the tail byte.
type frameIter struct {
	id         uint32
	content    []byte
	transferID cyphal.TransferID
	pos        int
	toggle     bool
	first      bool
	total      int
	emitted    int
}

func newFrameIter(id uint32, content []byte, transferID cyphal.TransferID) *frameIter {
	total := 1
	if len(content) > UsablePayload {
		total = (len(content) + UsablePayload - 1) / UsablePayload
	}
	return &frameIter{id: id, content: content, transferID: transferID, toggle: true, first: true, total: total}
}

func (it *frameIter) Remaining() int {
	return it.total - it.emitted
}

func (it *frameIter) Next() (can.Frame, bool) {
	if it.emitted >= it.total {
		return can.Frame{}, false
	}
	start := it.pos
	end := start + UsablePayload
	if end > len(it.content) {
		end = len(it.content)
	}
	chunk := it.content[start:end]
	it.pos = end

	isLast := it.emitted == it.total-1
	tail := transport.NewTailByte(it.first, isLast, it.toggle, it.transferID)

	quantizedLen, _ := codeForLength(len(chunk) + 1)
	payload := make([]byte, quantizedLen)
	copy(payload, chunk)
	payload[len(payload)-1] = byte(tail)

	it.first = false
	it.toggle = !it.toggle
	it.emitted++

	return can.Frame{Timestamp: time.Time{}, ID: it.id, Payload: payload}, true
}
