// Package cyphal holds the wire-independent data model shared by every
// transport and session implementation: priorities, node/port/transfer
// identifiers, transfers, subscriptions and their error taxonomies.
package cyphal

import (
	"errors"
	"time"
)

// Priority is the 3-bit CAN arbitration priority. Lower numeric values
// win bus arbitration.
type Priority uint8

const (
	PriorityExceptional Priority = 0
	PriorityImmediate   Priority = 1
	PriorityFast        Priority = 2
	PriorityHigh        Priority = 3
	PriorityNominal     Priority = 4
	PriorityLow         Priority = 5
	PrioritySlow        Priority = 6
	PriorityOptional    Priority = 7
)

// NodeID identifies a node on the bus, in [0, 127].
type NodeID uint8

// MaxNodeID is the highest valid NodeID.
const MaxNodeID NodeID = 127

// Valid reports whether id is within the representable range.
func (id NodeID) Valid() bool {
	return id <= MaxNodeID
}

// PortID identifies a subject (message) or service, in [0, 8191].
type PortID uint16

// MaxPortID is the highest valid PortID.
const MaxPortID PortID = 8191

// Valid reports whether id is within the representable range.
func (id PortID) Valid() bool {
	return id <= MaxPortID
}

// TransferID is a 5-bit wrapping counter, in [0, 31].
type TransferID uint8

// transferIDMask keeps a TransferID within its 5-bit range.
const transferIDMask = 0x1f

// Masked returns id reduced to its low 5 bits.
func (id TransferID) Masked() TransferID {
	return id & transferIDMask
}

// Next returns id+1, wrapping modulo 32.
func (id TransferID) Next() TransferID {
	return (id + 1) & transferIDMask
}

// TransferKind distinguishes the three transfer shapes Cyphal defines.
type TransferKind uint8

const (
	TransferKindMessage TransferKind = iota
	TransferKindRequest
	TransferKindResponse
)

// Transfer is an application-level message or service call, as handed
// to a Transport for serialization or returned by the session manager
// after reassembly.
type Transfer struct {
	Timestamp    time.Time
	Priority     Priority
	Kind         TransferKind
	PortID       PortID
	RemoteNodeID *NodeID // source of a received transfer (nil if anonymous); destination of a service to transmit; unused when transmitting a message
	TransferID   TransferID
	Payload      []byte
}

// InternalRxFrame is the result of parsing one wire frame: a single
// fragment of a transfer, still attached to the byte slice the caller
// supplied (the core never copies it before the session manager decides
// to keep it).
type InternalRxFrame struct {
	Timestamp       time.Time
	Priority        Priority
	Kind            TransferKind
	PortID          PortID
	SourceNodeID    *NodeID // nil for anonymous messages
	DestinationNode *NodeID // set only for services
	TransferID      TransferID
	StartOfTransfer bool
	EndOfTransfer   bool
	Toggle          bool
	PayloadSlice    []byte
}

// Subscription is a registered interest in every transfer of a given
// (Kind, PortID). Matches treats two subscriptions as the same one iff
// Kind and PortID match; Go's == also compares Extent and Timeout.
type Subscription struct {
	Kind    TransferKind
	PortID  PortID
	Extent  int
	Timeout time.Duration
}

// Matches reports whether sub covers transfers of the given kind/port.
func (sub Subscription) Matches(kind TransferKind, portID PortID) bool {
	return sub.Kind == kind && sub.PortID == portID
}

// RxError taxonomy: errors surfaced while ingesting a single received
// frame. None of them poison the node; they are scoped to the offending
// (subscription, source) pair.
var (
	ErrFrameEmpty                 = errors.New("cyphal: frame has no tail byte")
	ErrInvalidCanID               = errors.New("cyphal: malformed or reserved CAN identifier")
	ErrTransferStartMissingToggle = errors.New("cyphal: start-of-transfer frame without toggle set")
	ErrNonLastUnderUtilization    = errors.New("cyphal: non-final frame below MTU utilization")
	ErrAnonNotSingleFrame         = errors.New("cyphal: anonymous message spans multiple frames")
	ErrNewSessionNoStart          = errors.New("cyphal: first frame from source is not a start-of-transfer")
	ErrTimeout                    = errors.New("cyphal: session exceeded subscription timeout")
	ErrBadMetadata                = errors.New("cyphal: toggle mismatch or transfer CRC failure")
)

// TxError taxonomy: errors surfaced when asked to transmit a transfer.
var (
	ErrServiceNoSourceID      = errors.New("cyphal: service transfer requires a local node id")
	ErrServiceNoDestinationID = errors.New("cyphal: service transfer requires a remote node id")
	ErrOutOfSpace             = errors.New("cyphal: fixed-capacity table is full")
)

// SubscriptionError taxonomy.
var (
	ErrSubscriptionExists       = errors.New("cyphal: subscription already registered")
	ErrSubscriptionDoesNotExist = errors.New("cyphal: no matching subscription")
)
