// Package socketcan adapts github.com/brutella/can, a SocketCAN binding,
// to the can.Bus interface. brutella/can only speaks classic CAN 2.0B
// (its frame carries a fixed 8-byte data array), so this backend only
// ever produces or accepts frames within the classic-CAN transport's
// MTU; CAN-FD deployments need a different kernel-level backend.
package socketcan

import (
	"errors"
	"time"

	sockcan "github.com/brutella/can"
	"golang.org/x/sys/unix"

	"github.com/cyphal-go/gocyphal/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

var ErrIDTooWide = errors.New("socketcan: identifier exceeds 29 bits")

// Bus wraps a brutella/can bus for a given SocketCAN interface name
// (e.g. "can0", "vcan0").
type Bus struct {
	bus      *sockcan.Bus
	listener can.FrameListener
}

// NewBus opens (but does not yet connect) a SocketCAN interface.
func NewBus(ifname string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(ifname)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

// Connect starts the brutella/can receive loop in the background.
func (b *Bus) Connect(...any) error {
	go func() {
		_ = b.bus.ConnectAndPublish()
	}()
	return nil
}

// Disconnect stops the receive loop and closes the socket.
func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

// Send publishes a frame on the bus. The 29-bit extended identifier is
// preserved; the EFF flag is set so the kernel treats it as extended
// rather than the low 11 bits of a standard frame.
func (b *Bus) Send(frame can.Frame) error {
	if frame.ID&^unix.CAN_EFF_MASK != 0 {
		return ErrIDTooWide
	}
	var data [8]byte
	n := copy(data[:], frame.Payload)
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID | unix.CAN_EFF_FLAG,
		Length: uint8(n),
		Data:   data,
	})
}

// Subscribe registers the listener that receives frames read from the
// socket. brutella/can's Bus.Subscribe expects a Handle(can.Frame)
// callback, which this type itself implements.
func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.listener = listener
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's frame handler and forwards the frame,
// stripped of the EFF flag, to our own listener.
func (b *Bus) Handle(frame sockcan.Frame) {
	if b.listener == nil {
		return
	}
	payload := make([]byte, frame.Length)
	copy(payload, frame.Data[:frame.Length])
	b.listener.Handle(can.Frame{
		Timestamp: time.Now(),
		ID:        frame.ID &^ unix.CAN_EFF_FLAG,
		Payload:   payload,
	})
}
