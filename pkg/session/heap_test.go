package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
	"github.com/cyphal-go/gocyphal/pkg/transport/classic"
)

func drainFrames(t *testing.T, tx *classic.Transport, transfer cyphal.Transfer, localNodeID *cyphal.NodeID) []cyphal.InternalRxFrame {
	t.Helper()
	it, err := tx.Transmit(transfer, localNodeID)
	require.NoError(t, err)
	var frames []cyphal.InternalRxFrame
	rx := classic.New()
	for {
		wire, ok := it.Next()
		if !ok {
			break
		}
		internal, err := rx.Parse(nil, wire)
		require.NoError(t, err)
		require.NotNil(t, internal)
		frames = append(frames, *internal)
	}
	return frames
}

func newHeapManager() *HeapManager {
	tr := classic.New()
	return NewHeapManager(tr.NewSessionMetadata, Hooks{})
}

func TestHeapHooksObserveLifecycleEvents(t *testing.T) {
	var created, reset, truncated int
	tr := classic.New()
	m := NewHeapManager(tr.NewSessionMetadata, Hooks{
		OnSessionCreated: func() { created++ },
		OnSessionReset:   func() { reset++ },
		OnTruncated:      func() { truncated++ },
	})
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 7, Extent: 4}))

	source := cyphal.NodeID(1)
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 7, TransferID: 1, Payload: []byte("hello world")}
	frames := drainFrames(t, tr, transfer, &source)
	for _, f := range frames {
		_, err := m.Ingest(f)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 0, reset)
	assert.Greater(t, truncated, 0)

	transfer2 := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 7, TransferID: 2, Payload: []byte("hello world")}
	for _, f := range drainFrames(t, tr, transfer2, &source) {
		_, _ = m.Ingest(f)
	}
	assert.Equal(t, 1, reset)
}

func TestHeapSingleFrameBypassesSessionStorage(t *testing.T) {
	m := newHeapManager()
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 7, Extent: 16}))

	tx := classic.New()
	local := cyphal.NodeID(3)
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 7, TransferID: 1, Payload: []byte{1, 2, 3}}
	frames := drainFrames(t, tx, transfer, &local)
	require.Len(t, frames, 1)

	got, err := m.Ingest(frames[0])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte{1, 2, 3}, got.Payload)
	assert.Empty(t, m.subs[0].sessions, "single-frame transfers must never touch the session table")
}

func TestHeapMultiFrameReassembly(t *testing.T) {
	m := newHeapManager()
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 64}))

	tx := classic.New()
	local := cyphal.NodeID(3)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 4, Payload: payload}
	frames := drainFrames(t, tx, transfer, &local)
	require.Len(t, frames, 2)

	got, err := m.Ingest(frames[0])
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.Ingest(frames[1])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, cyphal.TransferID(4), got.TransferID)
}

func TestHeapExtentTruncation(t *testing.T) {
	m := newHeapManager()
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 4}))

	tx := classic.New()
	local := cyphal.NodeID(3)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 4, Payload: payload}
	frames := drainFrames(t, tx, transfer, &local)
	require.Len(t, frames, 2)

	_, err := m.Ingest(frames[0])
	require.NoError(t, err)
	got, err := m.Ingest(frames[1])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.Payload)
}

func TestHeapNewSessionWithoutStartIsRejected(t *testing.T) {
	m := newHeapManager()
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 64}))

	tx := classic.New()
	local := cyphal.NodeID(3)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 4, Payload: payload}
	frames := drainFrames(t, tx, transfer, &local)
	require.Len(t, frames, 2)

	_, err := m.Ingest(frames[1])
	assert.ErrorIs(t, err, cyphal.ErrNewSessionNoStart)
}

func TestHeapTransferIDChangeResetsSession(t *testing.T) {
	m := newHeapManager()
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 64}))

	tx := classic.New()
	local := cyphal.NodeID(3)
	lost := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 4, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	lostFrames := drainFrames(t, tx, lost, &local)
	_, err := m.Ingest(lostFrames[0])
	require.NoError(t, err)

	nextPayload := []byte{0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7, 0xa8, 0xa9, 0xaa}
	next := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 5, Payload: nextPayload}
	nextFrames := drainFrames(t, tx, next, &local)
	require.Len(t, nextFrames, 2)

	_, err = m.Ingest(nextFrames[0])
	require.NoError(t, err)
	assert.Equal(t, cyphal.TransferID(5), m.subs[0].sessions[local].transferID)

	got, err := m.Ingest(nextFrames[1])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, nextPayload, got.Payload)
}

func TestHeapSessionTimesOutOnNextFrame(t *testing.T) {
	m := newHeapManager()
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 64, Timeout: time.Millisecond}))

	tx := classic.New()
	local := cyphal.NodeID(3)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 4, Payload: payload}
	frames := drainFrames(t, tx, transfer, &local)
	require.Len(t, frames, 2)

	start := time.Now()
	frames[0].Timestamp = start
	_, err := m.Ingest(frames[0])
	require.NoError(t, err)

	frames[1].Timestamp = start.Add(time.Hour)
	_, err = m.Ingest(frames[1])
	assert.ErrorIs(t, err, cyphal.ErrTimeout)
}

func TestHeapUpdateSessionsResetsStaleSession(t *testing.T) {
	m := newHeapManager()
	require.NoError(t, m.Subscribe(cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 64, Timeout: time.Millisecond}))

	tx := classic.New()
	local := cyphal.NodeID(3)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 4, Payload: payload}
	frames := drainFrames(t, tx, transfer, &local)
	require.Len(t, frames, 2)

	start := time.Now()
	frames[0].Timestamp = start
	_, err := m.Ingest(frames[0])
	require.NoError(t, err)

	m.UpdateSessions(start.Add(time.Hour))

	sess := m.subs[0].sessions[local]
	assert.True(t, sess.timestamp.IsZero())
}

func TestHeapUnsubscribeStopsMatching(t *testing.T) {
	m := newHeapManager()
	sub := cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 64}
	require.NoError(t, m.Subscribe(sub))
	require.NoError(t, m.Unsubscribe(sub))

	tx := classic.New()
	local := cyphal.NodeID(3)
	transfer := cyphal.Transfer{Kind: cyphal.TransferKindMessage, PortID: 9, TransferID: 0, Payload: []byte{1}}
	frames := drainFrames(t, tx, transfer, &local)

	got, err := m.Ingest(frames[0])
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestHeapDuplicateSubscribeRejected(t *testing.T) {
	m := newHeapManager()
	sub := cyphal.Subscription{Kind: cyphal.TransferKindMessage, PortID: 9, Extent: 64}
	require.NoError(t, m.Subscribe(sub))
	assert.ErrorIs(t, m.Subscribe(sub), cyphal.ErrSubscriptionExists)
}
