// Package driver implements the host-side VKVM connection: framing and
// protocol catalog wired onto a serial transport through a
// single-outstanding request queue, with reader/writer/disconnector
// goroutines matching the bridge's concurrency model (§4.5, §5).
package driver

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vkvmbridge/host/internal/frame"
	"github.com/vkvmbridge/host/internal/protocol"
	"github.com/vkvmbridge/host/internal/transport"
	"github.com/vkvmbridge/host/internal/vlog"
)

// Driver owns one VKVM serial connection and exposes the request
// surface described in §4.2/§6. A Driver is reusable across multiple
// Open/Close cycles but is not itself safe to Open concurrently from
// two goroutines.
type Driver struct {
	openMu sync.Mutex // serializes Open/Close lifecycle transitions

	cb       Callback
	opts     Options
	log      *vlog.Logger
	tr       transport.Transport
	queue    *requestQueue
	state    connState
	decoder  *frame.Reader

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closedCh   chan struct{}
	disconnect int32 // atomic guard, 0 = idle, 1 = disconnecting/closed
}

// New builds an unopened Driver. Pass nil for cb to use NoopCallback.
func New(cb Callback, opts Options) *Driver {
	if cb == nil {
		cb = NoopCallback{}
	}
	return &Driver{
		cb:   cb,
		opts: opts.withDefaults(),
		log:  vlog.Default().With("component", "driver"),
	}
}

// Open connects to the periphery over the serial device at path and
// starts the handshake: GET_PROTOCOL_VERSION, then GET_USB_STATE and
// GET_KEYBOARD_LEDS once the version matches (§4.5).
func (d *Driver) Open(path string) error {
	d.openMu.Lock()
	defer d.openMu.Unlock()
	if d.state.isOpen() {
		return ErrAlreadyOpen
	}

	tr, err := transport.OpenSerial(path)
	if err != nil {
		return err
	}
	d.openWithTransport(tr)
	return nil
}

// openWithTransport wires an already-open Transport into a fresh
// connection lifecycle. Exposed indirectly via Open; tests reach it
// through OpenForTesting.
func (d *Driver) openWithTransport(tr transport.Transport) {
	d.tr = tr
	d.queue = newRequestQueue(d.opts.QueueLimit)
	d.queue.reset()
	d.decoder = frame.NewReader()
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.closedCh = make(chan struct{})
	atomic.StoreInt32(&d.disconnect, 0)
	d.state.setOpen(true)
	d.queue.watchTermination(d.ctx)

	d.wg.Add(2)
	go d.readLoop()
	go d.writeLoop()

	d.sendHandshake()
}

// OpenForTesting wires a caller-provided Transport (e.g. a pty pair)
// instead of opening a real serial device, for use by tests in this
// module and its callers.
func (d *Driver) OpenForTesting(tr transport.Transport) error {
	d.openMu.Lock()
	defer d.openMu.Unlock()
	if d.state.isOpen() {
		return ErrAlreadyOpen
	}
	d.openWithTransport(tr)
	return nil
}

func (d *Driver) sendHandshake() {
	_, _ = d.queue.enqueue(protocol.GetProtocolVersion, []byte{byte(protocol.GetProtocolVersion)}, nil)
}

// Close idempotently begins disconnecting with DisconnectUser and
// returns immediately; it does not block on teardown completing. This
// is a deliberate simplification of the "close() blocks until all
// tasks exit" wording (§5): since OnDisconnected may itself call
// Close (e.g. a callback that reopens on failure), a synchronous join
// would risk the reader goroutine waiting on itself. Callers that need
// to observe teardown completion use WaitClosed.
func (d *Driver) Close() bool {
	return d.beginDisconnect(protocol.DisconnectUser)
}

// WaitClosed blocks until the current connection has fully torn down:
// reader and writer joined, transport closed, OnDisconnected fired.
func (d *Driver) WaitClosed() {
	ch := d.closedCh
	if ch == nil {
		return
	}
	<-ch
}

// beginDisconnect starts the async disconnector exactly once per
// connection; repeat calls (from any source: local error, remote
// error, user Close) are no-ops returning false (§5, §8 idempotence).
func (d *Driver) beginDisconnect(reason protocol.DisconnectReason) bool {
	if !atomic.CompareAndSwapInt32(&d.disconnect, 0, 1) {
		return false
	}
	go d.disconnector(reason)
	return true
}

func (d *Driver) disconnector(reason protocol.DisconnectReason) {
	d.cancel()
	d.wg.Wait()
	if d.tr != nil {
		_ = d.tr.Close()
	}
	if d.queue != nil {
		d.queue.drain()
	}
	d.state.setOpen(false)
	d.cb.OnDisconnected(&DisconnectError{Reason: reason})
	close(d.closedCh)
}

// IsOpen reports whether Open has been called and Close/disconnect has
// not yet completed.
func (d *Driver) IsOpen() bool { return d.state.isOpen() }

// IsConnected reports whether the protocol handshake has completed.
func (d *Driver) IsConnected() bool { return d.state.isConnected() }

// UsbState returns the last known USB connection state (§4.2).
func (d *Driver) UsbState() uint8 { return d.state.getUSBState() }

// KeyboardLEDs returns the last known keyboard LED mask.
func (d *Driver) KeyboardLEDs() uint8 { return d.state.getLEDs() }

// --- writer goroutine ---

func (d *Driver) writeLoop() {
	defer d.wg.Done()
	for {
		req, ok := d.queue.waitForWork()
		if !ok {
			return
		}
		var buf bytes.Buffer
		w := frame.NewWriter(func(b byte) error {
			buf.WriteByte(b)
			return nil
		})
		if err := w.Encode(req.seq, req.payload); err != nil {
			d.log.Error("encode request failed", "err", err, "kind", req.kind)
			d.queue.dequeueHead()
			continue
		}
		if err := d.tr.Write(d.ctx, buf.Bytes()); err != nil {
			if d.ctx.Err() == nil {
				d.log.Error("write failed", "err", err)
				d.beginDisconnect(protocol.DisconnectSendError)
			}
			return
		}
	}
}

// --- reader goroutine ---

func (d *Driver) readLoop() {
	defer d.wg.Done()
	for {
		data, err := d.tr.Read(d.ctx)
		if d.ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				d.onIdleTick()
				continue
			}
			d.log.Error("read failed", "err", err)
			d.beginDisconnect(protocol.DisconnectRecvError)
			return
		}
		for _, b := range data {
			if !d.decoder.Feed(b, d.onFrame) {
				d.cb.OnBrokenFrame()
			}
		}
	}
}

func (d *Driver) onIdleTick() {
	if age, pending := d.queue.pendingAge(); pending {
		if age >= d.opts.Timeout {
			d.log.Error("response timeout", "age", age)
			d.beginDisconnect(protocol.DisconnectTimeout)
		}
		return
	}
	if d.queue.idleSince() >= d.opts.Timeout {
		_, _ = d.queue.enqueue(protocol.GetAlive, []byte{byte(protocol.GetAlive)}, nil)
	}
}

// onFrame demultiplexes a decoded frame onto either the unsolicited
// interrupt path (seq == 0) or the head of the request queue (§3, §4.5).
func (d *Driver) onFrame(seq uint8, payload []byte, crcErr bool) {
	if crcErr || len(payload) == 0 {
		d.cb.OnBrokenFrame()
		return
	}
	kind := protocol.ResponseKind(payload[0])
	fields := payload[1:]

	if seq == 0 {
		d.handleInterrupt(kind, fields)
		return
	}
	req, ok := d.queue.headMatches(seq)
	if !ok {
		d.log.Warn("response sequence mismatch, ignoring", "seq", seq)
		return
	}
	d.queue.dequeueHead()
	d.handleResult(req, kind, fields)
}

func (d *Driver) handleInterrupt(kind protocol.ResponseKind, fields []byte) {
	switch kind {
	case protocol.IUSBStateUpdate:
		if len(fields) >= 1 {
			d.state.setUSBState(fields[0])
			d.cb.OnUSBState(nil, fields[0])
		}
	case protocol.ILEDUpdate:
		if len(fields) >= 1 {
			d.state.setLEDs(fields[0])
			d.cb.OnKeyboardLEDs(nil, fields[0])
		}
	default:
		d.log.Debug("unsolicited frame ignored", "kind", kind)
	}
}

func (d *Driver) handleResult(req *inFlightRequest, kind protocol.ResponseKind, fields []byte) {
	result := protocol.ResultFromResponseKind(kind)

	switch req.kind {
	case protocol.GetProtocolVersion:
		d.handleHandshakeResult(result, fields)
		return
	case protocol.GetAlive:
		return // keep-alive responses carry no state
	case protocol.GetUSBState:
		if result == protocol.ResultOK && len(fields) >= 1 {
			d.state.setUSBState(fields[0])
		}
		d.cb.OnUSBState(resultError(result, fields), valueOrZero(result, fields))
	case protocol.GetKeyboardLEDs:
		if result == protocol.ResultOK && len(fields) >= 1 {
			d.state.setLEDs(fields[0])
		}
		d.cb.OnKeyboardLEDs(resultError(result, fields), valueOrZero(result, fields))
	}
	if req.done != nil {
		req.done(result, fields)
	}
}

func (d *Driver) handleHandshakeResult(result protocol.PeripheryResult, fields []byte) {
	if result != protocol.ResultOK {
		d.log.Error("protocol handshake failed", "result", result)
		d.beginDisconnect(protocol.DisconnectInvalidProtocol)
		return
	}
	version, err := protocol.DecodeUint16(fields)
	if err != nil || version != protocol.Version {
		d.log.Error("protocol version mismatch", "got", version)
		d.beginDisconnect(protocol.DisconnectInvalidProtocol)
		return
	}
	d.state.setConnected(true)
	d.cb.OnConnected()
	_, _ = d.queue.enqueue(protocol.GetUSBState, []byte{byte(protocol.GetUSBState)}, nil)
	_, _ = d.queue.enqueue(protocol.GetKeyboardLEDs, []byte{byte(protocol.GetKeyboardLEDs)}, nil)
}

// --- request issuing ---

// send validates connection state and enqueues a request with an
// optional per-request completion callback (§3, §4.2).
func (d *Driver) send(kind protocol.RequestKind, fields []byte, done responseCallback) error {
	if !d.state.isConnected() {
		return ErrNotConnected
	}
	payload := make([]byte, 0, 1+len(fields))
	payload = append(payload, byte(kind))
	payload = append(payload, fields...)
	_, err := d.queue.enqueue(kind, payload, done)
	return err
}

// KeyboardDown requests SET_KEYBOARD_DOWN for 1..6 keycodes.
func (d *Driver) KeyboardDown(keys []uint8, done func(error, uint8)) error {
	fields, err := protocol.EncodeKeyboardDown(keys)
	if err != nil {
		return err
	}
	return d.send(protocol.SetKeyboardDown, fields, wrapBitmap(done))
}

// KeyboardUp requests SET_KEYBOARD_UP for 1..6 keycodes.
func (d *Driver) KeyboardUp(keys []uint8, done func(error, uint8)) error {
	fields, err := protocol.EncodeKeyboardDown(keys)
	if err != nil {
		return err
	}
	return d.send(protocol.SetKeyboardUp, fields, wrapBitmap(done))
}

// KeyboardAllUp requests SET_KEYBOARD_ALL_UP.
func (d *Driver) KeyboardAllUp(done func(error)) error {
	return d.send(protocol.SetKeyboardAllUp, nil, wrapEmpty(done))
}

// KeyboardPush requests SET_KEYBOARD_PUSH: press-then-release n keys.
func (d *Driver) KeyboardPush(keys []uint8, done func(error, uint8)) error {
	fields, err := protocol.EncodeKeyboardPush(keys)
	if err != nil {
		return err
	}
	return d.send(protocol.SetKeyboardPush, fields, wrapBitmap(done))
}

// KeyboardWrite requests SET_KEYBOARD_WRITE: types keys with a given
// modifier mask, toggling NumLock/Kana via a simulated keypress only if
// the periphery's current LED state differs from what the mask asks
// for (§4.5). done receives the count of ordinary (non-modifier) keys
// the periphery reports having written.
func (d *Driver) KeyboardWrite(modifier uint8, keys []uint8, done func(error, uint8)) error {
	fields := protocol.EncodeKeyboardWrite(modifier, keys)
	return d.send(protocol.SetKeyboardWrite, fields, wrapBitmap(done))
}

// MouseButtonDown requests SET_MOUSE_BUTTON_DOWN for 1..3 buttons.
func (d *Driver) MouseButtonDown(buttons []uint8, done func(error, uint8)) error {
	fields, err := protocol.EncodeMouseButtons(buttons)
	if err != nil {
		return err
	}
	return d.send(protocol.SetMouseButtonDown, fields, wrapBitmap(done))
}

// MouseButtonUp requests SET_MOUSE_BUTTON_UP for 1..3 buttons.
func (d *Driver) MouseButtonUp(buttons []uint8, done func(error, uint8)) error {
	fields, err := protocol.EncodeMouseButtons(buttons)
	if err != nil {
		return err
	}
	return d.send(protocol.SetMouseButtonUp, fields, wrapBitmap(done))
}

// MouseButtonAllUp requests SET_MOUSE_BUTTON_ALL_UP.
func (d *Driver) MouseButtonAllUp(done func(error)) error {
	return d.send(protocol.SetMouseButtonAllUp, nil, wrapEmpty(done))
}

// MouseButtonPush requests SET_MOUSE_BUTTON_PUSH.
func (d *Driver) MouseButtonPush(buttons []uint8, done func(error, uint8)) error {
	fields, err := protocol.EncodeMouseButtonPush(buttons)
	if err != nil {
		return err
	}
	return d.send(protocol.SetMouseButtonPush, fields, wrapBitmap(done))
}

// MouseMoveAbs requests SET_MOUSE_MOVE_ABS; x and y must be in
// 0..32767.
func (d *Driver) MouseMoveAbs(x, y int16, done func(error)) error {
	fields, err := protocol.EncodeMouseMoveAbs(x, y)
	if err != nil {
		return err
	}
	return d.send(protocol.SetMouseMoveAbs, fields, wrapEmpty(done))
}

// MouseMoveRel requests SET_MOUSE_MOVE_REL.
func (d *Driver) MouseMoveRel(dx, dy int8, done func(error)) error {
	fields := protocol.EncodeMouseMoveRel(dx, dy)
	return d.send(protocol.SetMouseMoveRel, fields, wrapEmpty(done))
}

// MouseScroll requests SET_MOUSE_SCROLL.
func (d *Driver) MouseScroll(wheel int8, done func(error)) error {
	fields := protocol.EncodeMouseScroll(wheel)
	return d.send(protocol.SetMouseScroll, fields, wrapEmpty(done))
}

func wrapEmpty(done func(error)) responseCallback {
	if done == nil {
		return nil
	}
	return func(result protocol.PeripheryResult, fields []byte) { done(resultError(result, fields)) }
}

func wrapBitmap(done func(error, uint8)) responseCallback {
	if done == nil {
		return nil
	}
	return func(result protocol.PeripheryResult, fields []byte) {
		done(resultError(result, fields), valueOrZero(result, fields))
	}
}

// valueOrZero returns the response's first payload byte on success, 0
// otherwise, for the bitmap/count-style per-request callbacks.
func valueOrZero(result protocol.PeripheryResult, fields []byte) uint8 {
	if result == protocol.ResultOK && len(fields) >= 1 {
		return fields[0]
	}
	return 0
}
