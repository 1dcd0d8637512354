package driver

import (
	"sync"
	"time"
)

// Options configures a Driver beyond its required path and callback.
type Options struct {
	// QueueLimit bounds the request FIFO (default DefaultQueueLimit).
	QueueLimit int
	// Timeout is the single transport-wide duration that drives both
	// roles described in §4.5/§6: a pending request unanswered for this
	// long declares the link dead, and the link sitting idle (no
	// request sent) for this long gets a GET_ALIVE keep-alive.
	Timeout time.Duration
}

// DefaultTimeout matches open()'s documented timeout_ms default (§6).
const DefaultTimeout = time.Second

func (o Options) withDefaults() Options {
	if o.QueueLimit <= 0 {
		o.QueueLimit = DefaultQueueLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// connState is the snapshot of cached periphery state the driver
// maintains between requests (§3's ConnectionState).
type connState struct {
	mu        sync.RWMutex
	open      bool
	connected bool // protocol handshake completed
	usbState  uint8
	leds      uint8
}

func (s *connState) setOpen(v bool) {
	s.mu.Lock()
	s.open = v
	if !v {
		s.connected = false
	}
	s.mu.Unlock()
}

func (s *connState) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *connState) isOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

func (s *connState) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open && s.connected
}

func (s *connState) setUSBState(v uint8) {
	s.mu.Lock()
	s.usbState = v
	s.mu.Unlock()
}

func (s *connState) getUSBState() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usbState
}

func (s *connState) setLEDs(v uint8) {
	s.mu.Lock()
	s.leds = v
	s.mu.Unlock()
}

func (s *connState) getLEDs() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leds
}
