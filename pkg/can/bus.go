// Package can defines the driver boundary the transport core talks to: a
// raw CAN/CAN-FD frame, and a Bus capable of sending and receiving them.
// Concrete backends (SocketCAN, an in-memory virtual bus) live in
// subpackages and register themselves via RegisterInterface.
package can

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Frame is a single wire-level CAN or CAN-FD frame. Payload length is
// bounded by whichever transport's MTU produced or will parse it; this
// package does not enforce a particular MTU.
type Frame struct {
	Timestamp time.Time
	ID        uint32
	Payload   []byte
}

// FrameListener receives frames off the bus. Handle must not block; the
// bus calls it synchronously from its own read loop.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the physical CAN driver collaborator: a source/sink of raw
// frames with timestamps. The transport core never talks to hardware
// directly, only through this interface.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(callback FrameListener) error
}

// NewInterfaceFunc constructs a Bus for a named backend and channel
// (e.g. "can0", "vcan0", a host:port for the virtual bus).
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface makes a backend available to NewBus under a name.
// Backends call this from an init() function.
func RegisterInterface(name string, newInterface NewInterfaceFunc) {
	interfaceRegistry[name] = newInterface
}

// AvailableInterfaces lists the backend names currently registered.
func AvailableInterfaces() []string {
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	return names
}

// NewBus constructs a Bus for a registered backend name.
func NewBus(name string, channel string) (Bus, error) {
	newInterface, ok := interfaceRegistry[name]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface %q", name)
	}
	return newInterface(channel)
}

// BusManager wraps a Bus to serialize writes (the node is a single
// writer; concurrent Send calls from multiple goroutines must not
// interleave bytes on the wire) and to hand every received frame to a
// single registered listener.
type BusManager struct {
	logger     *logrus.Entry
	mu         sync.Mutex // serializes Send
	listenerMu sync.Mutex // guards listener, separate so a bus may deliver frames from inside Send
	bus        Bus
	listener   FrameListener
}

// NewBusManager wraps bus for use by a Node.
func NewBusManager(bus Bus, logger *logrus.Entry) *BusManager {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BusManager{bus: bus, logger: logger}
}

// Handle implements FrameListener; it is what gets passed to
// Bus.Subscribe, and fans received frames out to the manager's own
// listener (normally a Node).
func (bm *BusManager) Handle(frame Frame) {
	bm.listenerMu.Lock()
	listener := bm.listener
	bm.listenerMu.Unlock()
	if listener != nil {
		listener.Handle(frame)
	}
}

// SetListener registers the single consumer of received frames.
func (bm *BusManager) SetListener(listener FrameListener) {
	bm.listenerMu.Lock()
	defer bm.listenerMu.Unlock()
	bm.listener = listener
}

// Connect connects the underlying bus and starts forwarding received
// frames to the registered listener.
func (bm *BusManager) Connect(args ...any) error {
	if err := bm.bus.Connect(args...); err != nil {
		return err
	}
	return bm.bus.Subscribe(bm)
}

// Disconnect tears down the underlying bus.
func (bm *BusManager) Disconnect() error {
	return bm.bus.Disconnect()
}

// Send writes a frame to the bus. Safe for concurrent use.
func (bm *BusManager) Send(frame Frame) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	err := bm.bus.Send(frame)
	if err != nil {
		bm.logger.WithError(err).Warn("error sending frame")
	}
	return err
}

// Bus returns the wrapped bus, for backends that need direct access.
func (bm *BusManager) Bus() Bus {
	return bm.bus
}
