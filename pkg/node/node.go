// Package node wires a Transport and a session Manager together behind
// a single transport-agnostic API, the way the teacher's own node
// package wires a bus manager and protocol clients behind BaseNode.
package node

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyphal-go/gocyphal/internal/metrics"
	"github.com/cyphal-go/gocyphal/pkg/can"
	"github.com/cyphal-go/gocyphal/pkg/cyphal"
	"github.com/cyphal-go/gocyphal/pkg/session"
	"github.com/cyphal-go/gocyphal/pkg/transport"
	"github.com/cyphal-go/gocyphal/pkg/transport/classic"
	"github.com/cyphal-go/gocyphal/pkg/transport/fd"
)

// Node dispatches between one wire transport and its receive session
// table. It is generic over Transport via a stored interface value
// rather than a Go generic parameter — the transport's MTU and framing
// differ (classic vs CAN-FD) but the dispatch logic above them does not,
// so a tagged struct plus two constructors does the job without
// duplicating TryReceiveFrame/Transmit per wire format.
type Node struct {
	*can.BusManager
	logger      *logrus.Entry
	mu          sync.Mutex
	transport   transport.Transport
	sessions    session.Manager
	localNodeID *cyphal.NodeID
	onTransfer  func(cyphal.Transfer)
}

func newNode(bm *can.BusManager, tr transport.Transport, sessions session.Manager, localNodeID *cyphal.NodeID, logger *logrus.Entry) *Node {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	n := &Node{BusManager: bm, transport: tr, sessions: sessions, localNodeID: localNodeID, logger: logger}
	bm.SetListener(n)
	return n
}

// sessionMetricsHooks feeds session-table lifecycle events (creation,
// reset, truncation) into the metrics package. The session package
// itself stays free of any instrumentation import; this is the one
// place that bridges it to the ambient metrics layer.
var sessionMetricsHooks = session.Hooks{
	OnSessionCreated: metrics.IncSessionsCreated,
	OnSessionReset:   metrics.IncSessionsReset,
	OnTruncated:      metrics.IncTruncation,
}

// NewClassicNode builds a node over classic CAN 2.0B with a heap-backed
// session table, suitable for hosted use.
func NewClassicNode(bus can.Bus, localNodeID *cyphal.NodeID, logger *logrus.Entry) *Node {
	bm := can.NewBusManager(bus, logger)
	tr := classic.New()
	return newNode(bm, tr, session.NewHeapManager(tr.NewSessionMetadata, sessionMetricsHooks), localNodeID, logger)
}

// NewFDNode builds a node over CAN-FD with a heap-backed session table.
func NewFDNode(bus can.Bus, localNodeID *cyphal.NodeID, logger *logrus.Entry) *Node {
	bm := can.NewBusManager(bus, logger)
	tr := fd.New()
	return newNode(bm, tr, session.NewHeapManager(tr.NewSessionMetadata, sessionMetricsHooks), localNodeID, logger)
}

// NewClassicNodeFixed builds a classic CAN node backed by a
// fixed-capacity session table, for deeply embedded hosts. The table
// allocates session storage when a subscription is added or edited,
// and a copy of the payload for each delivered transfer; it never grows
// past its configured capacity.
func NewClassicNodeFixed(bus can.Bus, localNodeID *cyphal.NodeID, maxSubscriptions, maxSessionsPerSubscription int, logger *logrus.Entry) *Node {
	bm := can.NewBusManager(bus, logger)
	tr := classic.New()
	return newNode(bm, tr, session.NewFixedManager(maxSubscriptions, maxSessionsPerSubscription, tr.NewSessionMetadata, sessionMetricsHooks), localNodeID, logger)
}

// NewFDNodeFixed builds a CAN-FD node backed by a fixed-capacity session
// table.
func NewFDNodeFixed(bus can.Bus, localNodeID *cyphal.NodeID, maxSubscriptions, maxSessionsPerSubscription int, logger *logrus.Entry) *Node {
	bm := can.NewBusManager(bus, logger)
	tr := fd.New()
	return newNode(bm, tr, session.NewFixedManager(maxSubscriptions, maxSessionsPerSubscription, tr.NewSessionMetadata, sessionMetricsHooks), localNodeID, logger)
}

// OnTransfer registers the callback invoked, from Handle, with every
// transfer completed while frames arrive off the bus. There is no
// default; a node driven purely by explicit TryReceiveFrame calls does
// not need one.
func (n *Node) OnTransfer(callback func(cyphal.Transfer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onTransfer = callback
}

// Handle implements can.FrameListener, letting a Node be wired directly
// as a BusManager's listener for push-driven reception.
func (n *Node) Handle(frame can.Frame) {
	metrics.IncFramesRx()
	transfer, err := n.TryReceiveFrame(frame)
	if err != nil {
		metrics.IncRxError(err.Error())
		if errors.Is(err, cyphal.ErrBadMetadata) {
			metrics.CRCFailures.Inc()
		}
		if errors.Is(err, cyphal.ErrTimeout) {
			metrics.SessionsTimedOut.Inc()
		}
		n.logger.WithError(err).WithField("can_id", frame.ID).Debug("dropping frame")
		return
	}
	if transfer == nil {
		return
	}
	metrics.IncTransfersCompleted()
	n.mu.Lock()
	callback := n.onTransfer
	n.mu.Unlock()
	if callback != nil {
		callback(*transfer)
	}
}

// Send writes frame to the bus, counting it in the frames-tx metric.
func (n *Node) Send(frame can.Frame) error {
	metrics.IncFramesTx()
	return n.BusManager.Send(frame)
}

// TryReceiveFrame parses one wire frame and feeds it to the session
// table, returning a completed Transfer if the frame finished one.
func (n *Node) TryReceiveFrame(frame can.Frame) (*cyphal.Transfer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	internal, err := n.transport.Parse(n.localNodeID, frame)
	if err != nil {
		return nil, err
	}
	if internal == nil {
		return nil, nil
	}
	return n.sessions.Ingest(*internal)
}

// Transmit validates transfer and returns the lazy frame sequence that
// carries it. TransferID is not assigned here: the caller owns its own
// per-(kind, port) transfer-id counters.
func (n *Node) Transmit(transfer cyphal.Transfer) (transport.FrameIter, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transport.Transmit(transfer, n.localNodeID)
}

// Subscribe registers interest in every transfer of a given kind/port.
func (n *Node) Subscribe(sub cyphal.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.Subscribe(sub)
}

// EditSubscription replaces an existing subscription's extent/timeout.
func (n *Node) EditSubscription(sub cyphal.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.EditSubscription(sub)
}

// Unsubscribe drops a subscription and its in-flight sessions.
func (n *Node) Unsubscribe(sub cyphal.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions.Unsubscribe(sub)
}

// UpdateSessions sweeps every tracked session, resetting those that
// exceeded their subscription's timeout. The caller drives when this
// runs; the core has no clock of its own.
func (n *Node) UpdateSessions(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions.UpdateSessions(now)
}

// LocalNodeID reports the node's configured identity, nil if anonymous.
func (n *Node) LocalNodeID() *cyphal.NodeID {
	return n.localNodeID
}
