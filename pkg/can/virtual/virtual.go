// Package virtual implements an in-memory/TCP loopback can.Bus, used for
// testing the transport core without real hardware. It speaks a small
// length-prefixed binary protocol: [u32 length][u32 id][u8 payload
// length][payload].
//
// More information: https://github.com/windelbouwman/virtualcan
package virtual

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyphal-go/gocyphal/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewBus)
}

// ErrNotConnected is returned by Send when no broker connection is open
// and local loopback is not enabled.
var ErrNotConnected = errors.New("virtual: no active connection")

// Bus dials a broker (or, with SetReceiveOwn, loops frames back to
// itself) over TCP. It exists so unit tests and simulations can exercise
// the node/session layer without SocketCAN.
type Bus struct {
	logger        *logrus.Entry
	mu            sync.Mutex
	channel       string
	conn          net.Conn
	receiveOwn    bool
	listener      can.FrameListener
	stopChan      chan struct{}
	wg            sync.WaitGroup
	isRunning     bool
	errSubscriber bool
}

// NewBus creates a virtual bus that will dial channel (a "host:port") on
// Connect.
func NewBus(channel string) (can.Bus, error) {
	return &Bus{
		channel:  channel,
		stopChan: make(chan struct{}),
		logger:   logrus.NewEntry(logrus.StandardLogger()),
	}, nil
}

func serializeFrame(frame can.Frame) []byte {
	out := make([]byte, 9+len(frame.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(5+len(frame.Payload)))
	binary.BigEndian.PutUint32(out[4:8], frame.ID)
	out[8] = uint8(len(frame.Payload))
	copy(out[9:], frame.Payload)
	return out
}

func deserializeFrame(body []byte) (can.Frame, error) {
	if len(body) < 5 {
		return can.Frame{}, fmt.Errorf("virtual: short frame body (%d bytes)", len(body))
	}
	id := binary.BigEndian.Uint32(body[0:4])
	n := int(body[4])
	if len(body) < 5+n {
		return can.Frame{}, fmt.Errorf("virtual: truncated payload, want %d got %d", n, len(body)-5)
	}
	payload := make([]byte, n)
	copy(payload, body[5:5+n])
	return can.Frame{Timestamp: time.Now(), ID: id, Payload: payload}, nil
}

// Connect dials the broker address given at construction time.
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect stops the receive loop and closes the connection.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.errSubscriber && b.isRunning {
		close(b.stopChan)
		b.wg.Wait()
		b.stopChan = make(chan struct{})
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Send writes a frame to the broker connection, and additionally
// delivers it straight to the local listener when SetReceiveOwn(true)
// has been called (useful for single-process loopback tests).
func (b *Bus) Send(frame can.Frame) error {
	if b.receiveOwn && b.listener != nil {
		b.listener.Handle(frame)
	} else if b.conn == nil {
		return ErrNotConnected
	}
	if b.conn != nil {
		_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
		_, err := b.conn.Write(serializeFrame(frame))
		return err
	}
	return nil
}

// Subscribe registers the listener and starts the background receive
// loop if it isn't already running.
func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	if b.isRunning {
		return nil
	}
	b.wg.Add(1)
	b.isRunning = true
	b.errSubscriber = false
	go b.handleReception()
	return nil
}

// SetReceiveOwn enables local loopback of everything this bus sends.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}

// recv reads one frame off the connection, waiting up to 200ms for the
// length header and up to 200ms more for the body.
func (b *Bus) recv() (can.Frame, error) {
	if b.conn == nil {
		return can.Frame{}, ErrNotConnected
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	header := make([]byte, 4)
	n, err := b.conn.Read(header)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return can.Frame{}, err
	}
	if n < 4 || err != nil {
		return can.Frame{}, fmt.Errorf("virtual: short header, got %d bytes: %w", n, err)
	}
	length := binary.BigEndian.Uint32(header)
	body := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err = b.conn.Read(body)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return can.Frame{}, err
	}
	if n != int(length) || err != nil {
		return can.Frame{}, fmt.Errorf("virtual: short body, want %d got %d: %w", length, n, err)
	}
	return deserializeFrame(body)
}

// handleReception is the background receive loop started by Subscribe.
// It uses TryLock rather than Lock so that, while Disconnect holds the
// lock and waits for this loop to exit, the loop keeps polling stopChan
// instead of blocking on the mutex. The lock is held for the whole of
// each recv, so a Disconnect or Subscribe call that arrives during a
// read waits for that read to finish.
func (b *Bus) handleReception() {
	defer func() {
		b.isRunning = false
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopChan:
			return
		default:
			if !b.mu.TryLock() {
				continue
			}
			frame, err := b.recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// No frame received, this is fine.
			} else if err != nil {
				b.logger.WithError(err).Warn("virtual bus receive loop stopped")
				b.errSubscriber = true
				b.mu.Unlock()
				return
			} else if b.listener != nil {
				b.listener.Handle(frame)
			}
			b.mu.Unlock()
		}
	}
}
