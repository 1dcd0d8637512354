// Package protocol defines the VKVM wire protocol catalog: the closed
// set of request kinds, the response/interrupt/error kind ranges, and
// the typed payload shapes for each request (§3, §4.2).
package protocol

import "fmt"

// Version is the protocol version exchanged by GET_PROTOCOL_VERSION.
const Version uint16 = 0x0100

// SerialBaud is the fixed serial link speed (115200 8N1, no flow control).
const SerialBaud = 115200

// RequestKind enumerates the closed set of host-to-periphery requests.
// The ordinal encoding is part of the wire format and must never be
// reordered; new requests are only ever appended.
type RequestKind uint8

const (
	GetProtocolVersion RequestKind = iota
	GetAlive
	GetUSBState
	GetKeyboardLEDs
	SetKeyboardDown
	SetKeyboardUp
	SetKeyboardAllUp
	SetKeyboardPush
	SetKeyboardWrite
	SetMouseButtonDown
	SetMouseButtonUp
	SetMouseButtonAllUp
	SetMouseButtonPush
	SetMouseMoveAbs
	SetMouseMoveRel
	SetMouseScroll

	requestKindCount
)

func (k RequestKind) String() string {
	if int(k) < len(requestKindNames) {
		return requestKindNames[k]
	}
	return fmt.Sprintf("RequestKind(%d)", uint8(k))
}

var requestKindNames = [...]string{
	"GET_PROTOCOL_VERSION",
	"GET_ALIVE",
	"GET_USB_STATE",
	"GET_KEYBOARD_LEDS",
	"SET_KEYBOARD_DOWN",
	"SET_KEYBOARD_UP",
	"SET_KEYBOARD_ALL_UP",
	"SET_KEYBOARD_PUSH",
	"SET_KEYBOARD_WRITE",
	"SET_MOUSE_BUTTON_DOWN",
	"SET_MOUSE_BUTTON_UP",
	"SET_MOUSE_BUTTON_ALL_UP",
	"SET_MOUSE_BUTTON_PUSH",
	"SET_MOUSE_MOVE_ABS",
	"SET_MOUSE_MOVE_REL",
	"SET_MOUSE_SCROLL",
}

// Valid reports whether k is a known request kind.
func (k RequestKind) Valid() bool { return k < requestKindCount }

// ResponseKind is the first payload byte of every periphery-originated
// frame. The numeric ranges classify it (§3).
type ResponseKind uint8

const (
	SOk ResponseKind = 0x00

	IUSBStateUpdate ResponseKind = 0x40
	ILEDUpdate      ResponseKind = 0x41

	DMessage ResponseKind = 0x60

	EBrokenFrame        ResponseKind = 0x80
	EUnsupportedReqType ResponseKind = 0x81
	EInvalidReqType     ResponseKind = 0x82
	EInvalidFieldValue  ResponseKind = 0x83
	EHostWriteError     ResponseKind = 0x85
)

// IsSuccess reports whether k is a request-specific success response.
func (k ResponseKind) IsSuccess() bool { return k < 0x40 }

// IsInterrupt reports whether k is an unsolicited state-update frame.
func (k ResponseKind) IsInterrupt() bool { return k >= 0x40 && k < 0x60 }

// IsDebug reports whether k is a debug/trace frame, ignored by the host
// driver except for diagnostics.
func (k ResponseKind) IsDebug() bool { return k >= 0x60 && k < 0x80 }

// IsError reports whether k is an error response.
func (k ResponseKind) IsError() bool { return k >= 0x80 }

// PeripheryResult is the surface-level outcome of a request, reported to
// the per-request callback. It never terminates the session (§7).
type PeripheryResult int

const (
	ResultOK PeripheryResult = iota
	ResultBrokenFrame
	ResultUnsupportedReqType
	ResultInvalidReqType
	ResultInvalidFieldValue
	ResultHostWriteError
)

func (r PeripheryResult) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultBrokenFrame:
		return "BROKEN_FRAME"
	case ResultUnsupportedReqType:
		return "UNSUPPORTED_REQ_TYPE"
	case ResultInvalidReqType:
		return "INVALID_REQ_TYPE"
	case ResultInvalidFieldValue:
		return "INVALID_FIELD_VALUE"
	case ResultHostWriteError:
		return "HOST_WRITE_ERROR"
	default:
		return fmt.Sprintf("PeripheryResult(%d)", int(r))
	}
}

// ResultFromResponseKind maps a response's first payload byte to its
// surface-level result. Debug/interrupt kinds have no PeripheryResult;
// callers must not invoke this for those ranges.
func ResultFromResponseKind(k ResponseKind) PeripheryResult {
	switch k {
	case SOk:
		return ResultOK
	case EBrokenFrame:
		return ResultBrokenFrame
	case EUnsupportedReqType:
		return ResultUnsupportedReqType
	case EInvalidReqType:
		return ResultInvalidReqType
	case EInvalidFieldValue:
		return ResultInvalidFieldValue
	case EHostWriteError:
		return ResultHostWriteError
	default:
		return ResultUnsupportedReqType
	}
}

// DisconnectReason explains why a session was torn down (§7).
type DisconnectReason int

const (
	DisconnectUser DisconnectReason = iota
	DisconnectRecvError
	DisconnectSendError
	DisconnectInvalidProtocol
	DisconnectTimeout
)

func (d DisconnectReason) String() string {
	switch d {
	case DisconnectUser:
		return "USER"
	case DisconnectRecvError:
		return "RECV_ERROR"
	case DisconnectSendError:
		return "SEND_ERROR"
	case DisconnectInvalidProtocol:
		return "INVALID_PROTOCOL"
	case DisconnectTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("DisconnectReason(%d)", int(d))
	}
}

// Mouse button bitmask values (§4.6).
const (
	ButtonLeft   uint8 = 0x01
	ButtonRight  uint8 = 0x02
	ButtonMiddle uint8 = 0x04
)

// NoEvent is the translation-table sentinel for "do not forward" (§4.6).
const NoEvent uint8 = 0x00

// Keyboard LED bitmask values, mirrored from the periphery's USB HID
// report (used by GET_KEYBOARD_LEDS and I_LED_UPDATE).
const (
	LEDNumLock    uint8 = 0x01
	LEDCapsLock   uint8 = 0x02
	LEDScrollLock uint8 = 0x04
	LEDCompose    uint8 = 0x08
	LEDKana       uint8 = 0x10
)

// Keyboard-write modifier bitmask values for SET_KEYBOARD_WRITE (§4.5).
const (
	WriteLeftControl  uint8 = 0x01
	WriteLeftShift    uint8 = 0x02
	WriteLeftAlt      uint8 = 0x04
	WriteRightControl uint8 = 0x08
	WriteRightShift   uint8 = 0x10
	WriteRightAlt     uint8 = 0x20
	WriteRightNumLock uint8 = 0x40
	WriteRightKana    uint8 = 0x80
)

// USB connection states reported by GET_USB_STATE / I_USB_STATE_UPDATE.
const (
	USBStateOff        uint8 = 0x00
	USBStatePowered    uint8 = 0x01
	USBStateSuspended  uint8 = 0x02
	USBStateConfigured uint8 = 0x03
)

// USB HID keyboard keycodes SET_KEYBOARD_WRITE simulates a keypress of
// to toggle the NumLock/Kana LEDs, and the range it treats as modifier
// keys rather than ordinary rollover keys (§4.5). A USB HID keyboard has
// no host-writable LED line; the only way to flip NumLock/Kana is to
// simulate the key the host's own keyboard driver watches.
const (
	KeyNumLock uint8 = 0x53
	KeyKana    uint8 = 0x88

	ModifierKeycodeLo uint8 = 0xE0 // LEFT_CONTROL
	ModifierKeycodeHi uint8 = 0xE7 // RIGHT_GUI
)

// RemapAction classifies the event a remap hook is being asked to judge
// (§6's on_vkvm_remap_key/on_vkvm_remap_button).
type RemapAction int

const (
	RemapDown RemapAction = iota
	RemapUp
)

func (a RemapAction) String() string {
	if a == RemapDown {
		return "DOWN"
	}
	return "UP"
}
