package transport

import (
	"fmt"

	"github.com/cyphal-go/gocyphal/pkg/cyphal"
)

// The 29-bit CAN arbitration ID carries either a message or a service
// identifier. Both layouts share bits 28-26 (priority) and bit 25 (the
// service/message discriminator, 0 for message, 1 for service);
// everything below that differs.
//
// Message:  priority(3) | disc=0(1) | fixed=1(1) | anonymous(1) | reserved=0(2) | subject_id(13) | reserved=1(1) | source_node_id(7)
// Service:  priority(3) | disc=1(1) | fixed=1(1) | request(1)   | service_id(9) | destination_node_id(7) | source_node_id(7)
const (
	idPriorityShift = 26
	idPriorityMask  = 0x7

	idDiscriminatorBit = 1 << 25
	idFixedBit         = 1 << 24 // set in both layouts

	idMsgAnonymousBit   = 1 << 23
	idMsgReservedHiMask = 0x3 << 21 // bits 22-21, must be zero
	idMsgSubjectShift   = 8
	idMsgSubjectMask    = 0x1fff
	idMsgReservedLoBit  = 1 << 7 // must be one
	idMsgSourceMask     = 0x7f

	idSvcRequestBit   = 1 << 23
	idSvcServiceShift = 14
	idSvcServiceMask  = 0x1ff
	idSvcDestShift    = 7
	idSvcDestMask     = 0x7f
	idSvcSourceMask   = 0x7f
	maxServicePortID  = 511
)

// ErrInvalidCanID is returned by DecodeCanID when reserved bits are
// wrong or the top 3 bits of the u32 are non-zero, and by
// EncodeMessageID/EncodeServiceID when a port id is out of range.
var ErrInvalidCanID = cyphal.ErrInvalidCanID

// ParsedID is the decoded content of a 29-bit CAN arbitration ID.
type ParsedID struct {
	Priority    cyphal.Priority
	Kind        cyphal.TransferKind
	PortID      cyphal.PortID
	Anonymous   bool
	Source      *cyphal.NodeID
	Destination *cyphal.NodeID
}

// DecodeCanID unpacks a raw 29-bit identifier. Bit 25 selects message
// vs. service framing.
func DecodeCanID(id uint32) (ParsedID, error) {
	if id&^0x1fffffff != 0 {
		return ParsedID{}, fmt.Errorf("%w: id %#x exceeds 29 bits", ErrInvalidCanID, id)
	}
	priority := cyphal.Priority((id >> idPriorityShift) & idPriorityMask)

	if id&idDiscriminatorBit == 0 {
		return decodeMessageID(id, priority)
	}
	return decodeServiceID(id, priority)
}

func decodeMessageID(id uint32, priority cyphal.Priority) (ParsedID, error) {
	if id&idFixedBit == 0 {
		return ParsedID{}, fmt.Errorf("%w: message fixed bit not set", ErrInvalidCanID)
	}
	if id&idMsgReservedHiMask != 0 {
		return ParsedID{}, fmt.Errorf("%w: message reserved bits not zero", ErrInvalidCanID)
	}
	if id&idMsgReservedLoBit == 0 {
		return ParsedID{}, fmt.Errorf("%w: message reserved bit not one", ErrInvalidCanID)
	}
	anonymous := id&idMsgAnonymousBit != 0
	subjectID := cyphal.PortID((id >> idMsgSubjectShift) & idMsgSubjectMask)
	source := cyphal.NodeID(id & idMsgSourceMask)

	parsed := ParsedID{Priority: priority, Kind: cyphal.TransferKindMessage, PortID: subjectID, Anonymous: anonymous}
	if !anonymous {
		parsed.Source = &source
	}
	return parsed, nil
}

func decodeServiceID(id uint32, priority cyphal.Priority) (ParsedID, error) {
	if id&idFixedBit == 0 {
		return ParsedID{}, fmt.Errorf("%w: service fixed bit not set", ErrInvalidCanID)
	}
	isRequest := id&idSvcRequestBit != 0
	serviceID := cyphal.PortID((id >> idSvcServiceShift) & idSvcServiceMask)
	dest := cyphal.NodeID((id >> idSvcDestShift) & idSvcDestMask)
	source := cyphal.NodeID(id & idSvcSourceMask)

	kind := cyphal.TransferKindResponse
	if isRequest {
		kind = cyphal.TransferKindRequest
	}
	return ParsedID{
		Priority:    priority,
		Kind:        kind,
		PortID:      serviceID,
		Source:      &source,
		Destination: &dest,
	}, nil
}

// EncodeMessageID packs a subject-message identifier. source is nil for
// an anonymous message.
func EncodeMessageID(priority cyphal.Priority, subjectID cyphal.PortID, source *cyphal.NodeID) (uint32, error) {
	if !subjectID.Valid() {
		return 0, fmt.Errorf("%w: subject id %d out of range", ErrInvalidCanID, subjectID)
	}
	id := uint32(priority&idPriorityMask) << idPriorityShift
	id |= idFixedBit
	id |= uint32(idMsgReservedLoBit)
	id |= uint32(subjectID&idMsgSubjectMask) << idMsgSubjectShift
	if source == nil {
		id |= idMsgAnonymousBit
	} else {
		id |= uint32(*source) & idMsgSourceMask
	}
	return id, nil
}

// EncodeServiceID packs a request/response identifier. Both node ids are
// mandatory for services.
func EncodeServiceID(priority cyphal.Priority, isRequest bool, serviceID cyphal.PortID, destination, source cyphal.NodeID) (uint32, error) {
	if uint16(serviceID) > maxServicePortID {
		return 0, fmt.Errorf("%w: service id %d exceeds %d", ErrInvalidCanID, serviceID, maxServicePortID)
	}
	id := uint32(priority&idPriorityMask) << idPriorityShift
	id |= idDiscriminatorBit
	id |= idFixedBit
	if isRequest {
		id |= idSvcRequestBit
	}
	id |= uint32(serviceID&idSvcServiceMask) << idSvcServiceShift
	id |= uint32(destination&idSvcDestMask) << idSvcDestShift
	id |= uint32(source) & idSvcSourceMask
	return id, nil
}
