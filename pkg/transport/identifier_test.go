package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

func TestEncodeMessageIDMatchesWorkedExample(t *testing.T) {
	source := cyphal.NodeID(42)
	id, err := EncodeMessageID(cyphal.PriorityNominal, cyphal.PortID(100), &source)
	require.NoError(t, err)

	want := uint32(cyphal.PriorityNominal)<<26 | 1<<24 | 0<<23 | 100<<8 | 1<<7 | 42
	assert.EqualValues(t, want, id)
}

func TestMessageIDRoundTrip(t *testing.T) {
	source := cyphal.NodeID(42)
	id, err := EncodeMessageID(cyphal.PriorityNominal, cyphal.PortID(100), &source)
	require.NoError(t, err)

	parsed, err := DecodeCanID(id)
	require.NoError(t, err)
	assert.Equal(t, cyphal.PriorityNominal, parsed.Priority)
	assert.Equal(t, cyphal.TransferKindMessage, parsed.Kind)
	assert.Equal(t, cyphal.PortID(100), parsed.PortID)
	assert.False(t, parsed.Anonymous)
	require.NotNil(t, parsed.Source)
	assert.Equal(t, source, *parsed.Source)
}

func TestAnonymousMessageIDRoundTrip(t *testing.T) {
	id, err := EncodeMessageID(cyphal.PriorityLow, cyphal.PortID(7), nil)
	require.NoError(t, err)

	parsed, err := DecodeCanID(id)
	require.NoError(t, err)
	assert.True(t, parsed.Anonymous)
	assert.Nil(t, parsed.Source)
}

func TestServiceIDRoundTrip(t *testing.T) {
	dest := cyphal.NodeID(20)
	source := cyphal.NodeID(10)
	id, err := EncodeServiceID(cyphal.PriorityImmediate, true, cyphal.PortID(42), dest, source)
	require.NoError(t, err)

	parsed, err := DecodeCanID(id)
	require.NoError(t, err)
	assert.Equal(t, cyphal.TransferKindRequest, parsed.Kind)
	assert.Equal(t, cyphal.PortID(42), parsed.PortID)
	require.NotNil(t, parsed.Destination)
	assert.Equal(t, dest, *parsed.Destination)
	require.NotNil(t, parsed.Source)
	assert.Equal(t, source, *parsed.Source)
}

func TestDecodeRejectsTopBits(t *testing.T) {
	_, err := DecodeCanID(1 << 30)
	assert.ErrorIs(t, err, ErrInvalidCanID)
}

func TestEncodeServiceIDRejectsOversizedPortID(t *testing.T) {
	_, err := EncodeServiceID(cyphal.PriorityLow, false, cyphal.PortID(512), cyphal.NodeID(1), cyphal.NodeID(2))
	assert.ErrorIs(t, err, ErrInvalidCanID)
}
