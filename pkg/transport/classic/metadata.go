package classic

import (
	"github.com/cyphal-go/gocyphal/internal/crc"
	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

// metadata tracks the expected toggle and running CRC for one in-flight
// multi-frame transfer. The final two bytes of the logical byte stream
// (payload followed by CRC) are held back in a sliding two-byte window
// so the CRC accumulator only ever folds in genuine payload bytes.
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

	var emit []byte
	for _, b := range frame.PayloadSlice {
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
