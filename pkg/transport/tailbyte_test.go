package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

func TestTailByteSingleFrame(t *testing.T) {
	b := NewTailByte(true, true, true, cyphal.TransferID(3))
	assert.EqualValues(t, 0b11100011, b)
	assert.True(t, b.StartOfTransfer())
	assert.True(t, b.EndOfTransfer())
	assert.True(t, b.Toggle())
	assert.True(t, b.SingleFrame())
	assert.EqualValues(t, 3, b.TransferID())
}

func TestTailByteMultiFrame(t *testing.T) {
	first := NewTailByte(true, false, true, 0)
	assert.EqualValues(t, 0b10100000, first)
	assert.False(t, first.SingleFrame())

	last := NewTailByte(false, true, false, 0)
	assert.EqualValues(t, 0b01000000, last)
}

func TestTailByteTransferIDMasked(t *testing.T) {
	b := NewTailByte(false, false, false, cyphal.TransferID(0xff))
	assert.EqualValues(t, 0x1f, b.TransferID())
}
