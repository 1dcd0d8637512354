package driver

import "github.com/vkvmbridge/host/internal/protocol"

// Callback receives the connection-lifetime and unsolicited-interrupt
// events a Driver produces (§4.5, §6). The connection and interrupt
// events are invoked from the reader goroutine except OnDisconnected,
// which runs on a dedicated disconnector goroutine (§5) so it may safely
// call Driver.Close again without deadlocking. OnRemapKey and
// OnRemapButton are not called by the Driver itself: the input hook
// calls them from whichever goroutine delivers the captured event.
//
// Per-request outcomes (the "one callback per request" surface of the
// original design) are delivered instead as an optional closure passed
// to each request method (KeyboardDown, MouseMoveAbs, ...): Go prefers
// a narrow callback per call site over one large dispatch interface.
type Callback interface {
	// OnConnected fires once the protocol version handshake succeeds.
	OnConnected()
	// OnDisconnected fires exactly once per Open, whether the cause was
	// a local Close, a transport error, a protocol mismatch, or a
	// response timeout. err is always a *DisconnectError; callers that
	// need the reason do errors.As(err, &disconnectErr).
	OnDisconnected(err error)
	// OnBrokenFrame fires for every frame discarded for a framing or
	// CRC error; the driver does not disconnect on this by itself.
	OnBrokenFrame()
	// OnUSBState fires both for I_USB_STATE_UPDATE interrupts and for
	// GetUSBState request completions. err is nil on success, otherwise
	// a *PeripheryError.
	OnUSBState(err error, state uint8)
	// OnKeyboardLEDs fires both for I_LED_UPDATE interrupts and for
	// GetKeyboardLEDs request completions.
	OnKeyboardLEDs(err error, leds uint8)
	// OnRemapKey lets a consumer override or suppress a translated key
	// event before it is forwarded to the periphery; returning
	// protocol.NoEvent cancels the event entirely (§6).
	OnRemapKey(key uint8, osKey int, action protocol.RemapAction) uint8
	// OnRemapButton is OnRemapKey's mouse-button equivalent.
	OnRemapButton(button uint8, action protocol.RemapAction) uint8
}

// NoopCallback is an embeddable Callback implementation for callers who
// only care about a subset of events. Its remap methods pass events
// through unchanged.
type NoopCallback struct{}

func (NoopCallback) OnConnected()                {}
func (NoopCallback) OnDisconnected(error)         {}
func (NoopCallback) OnBrokenFrame()               {}
func (NoopCallback) OnUSBState(error, uint8)      {}
func (NoopCallback) OnKeyboardLEDs(error, uint8)  {}

func (NoopCallback) OnRemapKey(key uint8, _ int, _ protocol.RemapAction) uint8 { return key }
func (NoopCallback) OnRemapButton(button uint8, _ protocol.RemapAction) uint8  { return button }
