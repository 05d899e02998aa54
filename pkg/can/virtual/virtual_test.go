package virtual

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/gocyphal/pkg/can"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	frame := can.Frame{ID: 0x1ABCDE11, Payload: []byte{0, 1, 2, 3, 4, 5, 6}}
	body := serializeFrame(frame)

	// Wire layout: [u32 total length][u32 id][u8 payload length][payload].
	// The length prefix covers everything after itself.
	got, err := deserializeFrame(body[4:])
	require.NoError(t, err)
	assert.Equal(t, frame.ID, got.ID)
	assert.Equal(t, frame.Payload, got.Payload)
}

func TestDeserializeTruncatedPayload(t *testing.T) {
	_, err := deserializeFrame([]byte{0, 0, 0, 1, 5, 0xAA})
	assert.Error(t, err)
}

type frameReceiver struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *frameReceiver) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestReceiveOwnLoopsLocallyWithoutConnection(t *testing.T) {
	bus, err := NewBus("unused:0")
	require.NoError(t, err)
	vbus := bus.(*Bus)

	receiver := &frameReceiver{}
	require.NoError(t, vbus.Subscribe(receiver))

	frame := can.Frame{ID: 0x111, Payload: []byte{0, 1, 2, 3, 4, 5, 6, 7}}

	// Without SetReceiveOwn and without a broker connection, Send fails.
	assert.ErrorIs(t, vbus.Send(frame), ErrNotConnected)
	assert.Equal(t, 0, receiver.count())

	vbus.SetReceiveOwn(true)
	require.NoError(t, vbus.Send(frame))

	assert.Eventually(t, func() bool { return receiver.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, frame.ID, receiver.frames[0].ID)
	assert.Equal(t, frame.Payload, receiver.frames[0].Payload)

	require.NoError(t, vbus.Disconnect())
}
