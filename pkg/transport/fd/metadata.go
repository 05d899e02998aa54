package fd

import (
	"github.com/cyphal-go/gocyphal/internal/crc"
	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

// metadata mirrors classic CAN's sliding-window CRC reassembly, with one
// addition: on the end-of-transfer frame it first trims the zero
// padding DLC quantization may have introduced, so padding bytes never
// enter the CRC window. Padding is assumed to be no longer than the gap
// between this frame's quantized length and the previous valid step;
// within that bound it is identified as a run of trailing zero bytes.
type metadata struct {
	expectToggle bool
	running      crc.CRC16
	tail         [2]byte
	tailLen      int
	sawFrame     bool
}

func newMetadata() *metadata {
	return &metadata{expectToggle: true, running: crc.New()}
}

// Update implements transport.SessionMetadata.
func (m *metadata) Update(frame cyphal.InternalRxFrame) ([]byte, bool) {
	if frame.Toggle != m.expectToggle {
		return nil, false
	}
	m.expectToggle = !m.expectToggle
	m.sawFrame = true

	raw := frame.PayloadSlice
	if frame.EndOfTransfer {
		raw = trimPadding(raw)
	}

	var emit []byte
	for _, b := range raw {
		if m.tailLen == 2 {
			m.running.Single(m.tail[0])
			emit = append(emit, m.tail[0])
			m.tail[0] = m.tail[1]
			m.tail[1] = b
		} else {
			m.tail[m.tailLen] = b
			m.tailLen++
		}
	}
	return emit, true
}

// IsValid implements transport.SessionMetadata.
func (m *metadata) IsValid() bool {
	if !m.sawFrame || m.tailLen != 2 {
		return false
	}
	wire := m.running.Bytes()
	return wire[0] == m.tail[0] && wire[1] == m.tail[1]
}

// trimPadding strips the trailing zero padding DLC quantization added
// ahead of the tail byte, bounded by the gap to the previous valid
// CAN-FD length so genuine zero-valued payload/CRC bytes are not cut.
func trimPadding(raw []byte) []byte {
	quantizedLen := len(raw) + 1 // + tail byte, already stripped by Parse
	maxPad := quantizedLen - 1 - previousStep(quantizedLen)
	if maxPad <= 0 {
		return raw
	}
	trim := 0
	for trim < maxPad && trim < len(raw) && raw[len(raw)-1-trim] == 0 {
		trim++
	}
	return raw[:len(raw)-trim]
}
