package session

import (
	"time"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
	"github.com/cyphal-go/gocyphal/pkg/transport"
)

// heapSubscription pairs one registered subscription with the per-source
// sessions currently tracking its in-flight transfers.
type heapSubscription struct {
	sub      cyphal.Subscription
	sessions map[cyphal.NodeID]*session
}

// HeapManager is the hosted storage strategy: subscriptions are kept in
// an ordinary Go slice searched linearly, and each subscription's
// sessions in a Go map keyed by source node id, both grown on demand.
// Grounded on the
// subscribe/ingest/update_sessions discipline of a heap-backed session
// table, with one correction: truncation to a subscription's extent
// copies min(len(emit), extent-len(session.payload)) rather than the
// source's length-minus-extent formula, which computes a truncation
// amount backwards whenever a transfer is shorter than its extent.
type HeapManager struct {
	subs        []*heapSubscription
	newMetadata func() transport.SessionMetadata
	hooks       Hooks
}

// NewHeapManager returns an empty manager. newMetadata must produce a
// fresh SessionMetadata matching the transport this manager serves.
// hooks may be the zero value if the caller does not need lifecycle
// observability.
func NewHeapManager(newMetadata func() transport.SessionMetadata, hooks Hooks) *HeapManager {
	return &HeapManager{newMetadata: newMetadata, hooks: hooks}
}

func (m *HeapManager) find(kind cyphal.TransferKind, portID cyphal.PortID) *heapSubscription {
	for _, s := range m.subs {
		if s.sub.Matches(kind, portID) {
			return s
		}
	}
	return nil
}

// Subscribe implements Manager.
func (m *HeapManager) Subscribe(sub cyphal.Subscription) error {
	if m.find(sub.Kind, sub.PortID) != nil {
		return cyphal.ErrSubscriptionExists
	}
	m.subs = append(m.subs, &heapSubscription{sub: sub, sessions: make(map[cyphal.NodeID]*session)})
	return nil
}

// EditSubscription implements Manager. It replaces the extent/timeout of
// an existing subscription and drops all in-flight sessions on it, since
// a shrunk extent could otherwise leave stale sessions holding more
// payload than the new limit permits.
func (m *HeapManager) EditSubscription(sub cyphal.Subscription) error {
	existing := m.find(sub.Kind, sub.PortID)
	if existing == nil {
		return cyphal.ErrSubscriptionDoesNotExist
	}
	existing.sub = sub
	existing.sessions = make(map[cyphal.NodeID]*session)
	return nil
}

// Unsubscribe implements Manager.
func (m *HeapManager) Unsubscribe(sub cyphal.Subscription) error {
	for i, s := range m.subs {
		if s.sub.Matches(sub.Kind, sub.PortID) {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return nil
		}
	}
	return cyphal.ErrSubscriptionDoesNotExist
}

// Ingest implements Manager.
func (m *HeapManager) Ingest(frame cyphal.InternalRxFrame) (*cyphal.Transfer, error) {
	sub := m.find(frame.Kind, frame.PortID)
	if sub == nil {
		return nil, nil
	}

	if frame.StartOfTransfer && frame.EndOfTransfer {
		transfer := singleFrameTransfer(frame, sub.sub.Extent, m.hooks)
		return &transfer, nil
	}

	if frame.SourceNodeID == nil {
		return nil, cyphal.ErrAnonNotSingleFrame
	}
	sourceID := *frame.SourceNodeID

	sess, exists := sub.sessions[sourceID]
	if !exists {
		if !frame.StartOfTransfer {
			return nil, cyphal.ErrNewSessionNoStart
		}
		sess = &session{sourceNodeID: sourceID, transferID: frame.TransferID, md: m.newMetadata()}
		sub.sessions[sourceID] = sess
		m.hooks.sessionCreated()
	} else if sess.transferID != frame.TransferID {
		sess.resetToTransferID(frame.TransferID, m.newMetadata)
		m.hooks.sessionReset()
	} else if timeoutExpired(sub.sub.Timeout, frame.Timestamp, sess.timestamp) {
		sess.reset(m.newMetadata)
		m.hooks.sessionReset()
		return nil, cyphal.ErrTimeout
	}

	return acceptFrame(sess, frame, sub.sub.Extent, m.hooks)
}

// UpdateSessions implements Manager: sessions that have exceeded their
// subscription's timeout without completing are reset so they neither
// leak nor wrongly ingest a later, unrelated transfer under a stale
// transfer id.
func (m *HeapManager) UpdateSessions(now time.Time) {
	for _, sub := range m.subs {
		for _, sess := range sub.sessions {
			if timeoutExpired(sub.sub.Timeout, now, sess.timestamp) {
				sess.reset(m.newMetadata)
				m.hooks.sessionReset()
			}
		}
	}
}
