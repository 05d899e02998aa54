package session

import (
	"time"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
	"github.com/cyphal-go/gocyphal/pkg/transport"
)

// fixedSubscription is one slot of a FixedManager's subscription table.
type fixedSubscription struct {
	used     bool
	sub      cyphal.Subscription
	sessions []session
}

// FixedManager is the fixed-capacity storage strategy for embedded
// targets: the subscription table is a fixed-length slice sized once at
// construction, and Ingest never grows a slice beyond its initial
// capacity. Subscribe allocates a claimed slot's session table
// (maxSessionsPerSubscription entries) and sizes each session's payload
// buffer to the subscription's extent, every time it claims a slot;
// EditSubscription allocates the payload buffers again since it may
// change the extent. Ingest still allocates a fresh copy of the payload
// for every transfer it delivers.
type FixedManager struct {
	subs              []fixedSubscription
	maxSessionsPerSub int
	newMetadata       func() transport.SessionMetadata
	hooks             Hooks
}

// NewFixedManager preallocates room for maxSubscriptions subscriptions,
// each tracking up to maxSessionsPerSubscription concurrent sources.
// hooks may be the zero value if the caller does not need lifecycle
// observability.
func NewFixedManager(maxSubscriptions, maxSessionsPerSubscription int, newMetadata func() transport.SessionMetadata, hooks Hooks) *FixedManager {
	return &FixedManager{
		subs:              make([]fixedSubscription, maxSubscriptions),
		maxSessionsPerSub: maxSessionsPerSubscription,
		newMetadata:       newMetadata,
		hooks:             hooks,
	}
}

func (m *FixedManager) find(kind cyphal.TransferKind, portID cyphal.PortID) *fixedSubscription {
	for i := range m.subs {
		if m.subs[i].used && m.subs[i].sub.Matches(kind, portID) {
			return &m.subs[i]
		}
	}
	return nil
}

// Subscribe implements Manager.
func (m *FixedManager) Subscribe(sub cyphal.Subscription) error {
	if m.find(sub.Kind, sub.PortID) != nil {
		return cyphal.ErrSubscriptionExists
	}
	for i := range m.subs {
		if !m.subs[i].used {
			m.subs[i] = fixedSubscription{
				used:     true,
				sub:      sub,
				sessions: make([]session, m.maxSessionsPerSub),
			}
			for j := range m.subs[i].sessions {
				m.subs[i].sessions[j].payload = make([]byte, 0, sub.Extent)
			}
			return nil
		}
	}
	return cyphal.ErrOutOfSpace
}

// EditSubscription implements Manager.
func (m *FixedManager) EditSubscription(sub cyphal.Subscription) error {
	existing := m.find(sub.Kind, sub.PortID)
	if existing == nil {
		return cyphal.ErrSubscriptionDoesNotExist
	}
	existing.sub = sub
	for j := range existing.sessions {
		existing.sessions[j] = session{payload: make([]byte, 0, sub.Extent)}
	}
	return nil
}

// Unsubscribe implements Manager.
func (m *FixedManager) Unsubscribe(sub cyphal.Subscription) error {
	existing := m.find(sub.Kind, sub.PortID)
	if existing == nil {
		return cyphal.ErrSubscriptionDoesNotExist
	}
	*existing = fixedSubscription{}
	return nil
}

func (sub *fixedSubscription) findSession(sourceID cyphal.NodeID) *session {
	for i := range sub.sessions {
		if sub.sessions[i].used && sub.sessions[i].sourceNodeID == sourceID {
			return &sub.sessions[i]
		}
	}
	return nil
}

func (sub *fixedSubscription) claimSession(sourceID cyphal.NodeID, transferID cyphal.TransferID, newMetadata func() transport.SessionMetadata) (*session, error) {
	for i := range sub.sessions {
		if !sub.sessions[i].used {
			payload := sub.sessions[i].payload[:0]
			sub.sessions[i] = session{used: true, sourceNodeID: sourceID, transferID: transferID, md: newMetadata(), payload: payload}
			return &sub.sessions[i], nil
		}
	}
	return nil, cyphal.ErrOutOfSpace
}

// Ingest implements Manager.
func (m *FixedManager) Ingest(frame cyphal.InternalRxFrame) (*cyphal.Transfer, error) {
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

	sess := sub.findSession(sourceID)
	if sess == nil {
		if !frame.StartOfTransfer {
			return nil, cyphal.ErrNewSessionNoStart
		}
		var err error
		sess, err = sub.claimSession(sourceID, frame.TransferID, m.newMetadata)
		if err != nil {
			return nil, err
		}
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

// UpdateSessions implements Manager.
func (m *FixedManager) UpdateSessions(now time.Time) {
	for i := range m.subs {
		if !m.subs[i].used {
			continue
		}
		sub := &m.subs[i]
		for j := range sub.sessions {
			sess := &sub.sessions[j]
			if sess.used && timeoutExpired(sub.sub.Timeout, now, sess.timestamp) {
				sess.reset(m.newMetadata)
				m.hooks.sessionReset()
			}
		}
	}
}
