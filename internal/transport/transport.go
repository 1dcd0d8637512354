// Package transport provides the byte-stream link the driver frames
// requests and responses over: a real RS-232 serial port in production,
// a pseudo-terminal in tests (§4.4).
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkg/term"
)

// SerialBaud is the fixed line rate for the VKVM link (§2).
const SerialBaud = 115200

// ErrTimeout is returned by Read when no bytes arrived within the
// transport's internal poll tick; callers use it to drive keep-alive
// and response-timeout checks without blocking forever (§4.5).
var ErrTimeout = errors.New("transport: read timeout")

// pollTick bounds how long a single Read blocks before returning
// ErrTimeout, so the reader goroutine can re-check its deadlines.
const pollTick = 200 * time.Millisecond

// Transport is the byte-stream abstraction the driver reads frames
// from and writes frames to. Implementations must make Read and Write
// safe to call from different goroutines concurrently (one reader, one
// writer), and must unblock a pending Read when Close is called.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type readResult struct {
	data []byte
	err  error
}

// removalPollInterval bounds how long it takes an unplugged device to
// be surfaced as a read error when no event arrives from DeviceWatcher
// (the generic fallback watcher is itself poll-based; this is also the
// worst-case latency for the Linux netlink watcher missing an event).
const removalPollInterval = 500 * time.Millisecond

// Serial is a Transport backed by a real RS-232 device, opened 115200
// 8N1 with no flow control (§2, §6).
type Serial struct {
	t       *term.Term
	path    string
	watcher *DeviceWatcher
	reads   chan readResult
	closed  chan struct{}
	cancel  context.CancelFunc
}

// OpenSerial opens path as an 8N1, 115200 baud, raw-mode serial port.
// A removed device is surfaced as an error on the next Read (§4.4),
// rather than hanging until the underlying read syscall itself fails.
func OpenSerial(path string) (*Serial, error) {
	t, err := term.Open(path, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	if err := t.SetSpeed(SerialBaud); err != nil {
		t.Close()
		return nil, fmt.Errorf("transport: set speed: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	watcher, err := NewDeviceWatcher(ctx)
	if err != nil {
		cancel()
		t.Close()
		return nil, fmt.Errorf("transport: device watcher: %w", err)
	}
	s := &Serial{
		t:       t,
		path:    path,
		watcher: watcher,
		reads:   make(chan readResult, 1),
		closed:  make(chan struct{}),
		cancel:  cancel,
	}
	go s.pump()
	go s.watchRemoval(ctx)
	return s, nil
}

// watchRemoval polls the DeviceWatcher and injects a read error once
// the device node disappears, so Serial.Read unblocks instead of
// waiting on a pump goroutine stuck in a syscall against a dead node.
func (s *Serial) watchRemoval(ctx context.Context) {
	ticker := time.NewTicker(removalPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.watcher.Removed(s.path) {
				continue
			}
			select {
			case s.reads <- readResult{err: fmt.Errorf("transport: device %s removed", s.path)}:
			case <-s.closed:
			}
			return
		}
	}
}

// pump runs t.Read in a loop on a dedicated goroutine so Read(ctx) can
// be interrupted by context cancellation or Close without the
// underlying blocking syscall needing a deadline API.
func (s *Serial) pump() {
	buf := make([]byte, 256)
	for {
		n, err := s.t.Read(buf)
		var out readResult
		if n > 0 {
			out.data = append([]byte(nil), buf[:n]...)
		}
		out.err = err
		select {
		case s.reads <- out:
		case <-s.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

// Read returns the next chunk of bytes, ErrTimeout if none arrived
// within the poll tick, or ctx.Err() if ctx is done.
func (s *Serial) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-s.reads:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(pollTick):
		return nil, ErrTimeout
	case <-s.closed:
		return nil, fmt.Errorf("transport: closed")
	}
}

// Write blocks until data is written or ctx is done.
func (s *Serial) Write(ctx context.Context, data []byte) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := s.t.Write(data)
		done <- result{err}
	}()
	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the serial port and unblocks any pending Read.
func (s *Serial) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	s.cancel()
	return s.t.Close()
}
