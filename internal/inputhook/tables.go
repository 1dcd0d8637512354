// Package inputhook captures the operator's local keyboard and mouse
// input and translates it into the VKVM request shapes the driver
// sends onward, mirroring the "host grabs the physical input devices"
// side of the bridge (§4.7).
package inputhook

import "github.com/vkvmbridge/host/internal/protocol"

// KeyEvent is one OS keyboard event handed to a Hook's callback.
type KeyEvent struct {
	OSCode int
	Down   bool
}

// MouseButtonEvent is one OS mouse button event.
type MouseButtonEvent struct {
	OSButton int
	Down     bool
}

// TranslateKey maps an OS-specific keycode to a USB HID keycode, or
// protocol.NoEvent if the OS code has no HID equivalent and should be
// dropped rather than forwarded (§4.7's remap hook).
func TranslateKey(osCode int, table map[int]uint8) uint8 {
	if hid, ok := table[osCode]; ok {
		return hid
	}
	return protocol.NoEvent
}

// TranslateButton maps an OS-specific mouse button index to the VKVM
// button bit values (ButtonLeft/Right/Middle).
func TranslateButton(osButton int, table map[int]uint8) uint8 {
	if b, ok := table[osButton]; ok {
		return b
	}
	return protocol.NoEvent
}

// DefaultLinuxEvdevKeyTable maps a representative subset of Linux
// evdev KEY_* codes to USB HID keycodes (full table omitted; extend as
// new keys are captured). Grounded on the USB HID keyboard usage page.
var DefaultLinuxEvdevKeyTable = map[int]uint8{
	1:  0x29, // KEY_ESC -> Escape
	2:  0x1E, // KEY_1
	3:  0x1F, // KEY_2
	4:  0x20, // KEY_3
	5:  0x21, // KEY_4
	16: 0x14, // KEY_Q
	17: 0x1A, // KEY_W
	18: 0x08, // KEY_E
	19: 0x15, // KEY_R
	30: 0x04, // KEY_A
	31: 0x16, // KEY_S
	32: 0x07, // KEY_D
	44: 0x1D, // KEY_Z
	45: 0x1B, // KEY_X
	46: 0x06, // KEY_C
	28: 0x28, // KEY_ENTER
	57: 0x2C, // KEY_SPACE
}

// DefaultLinuxEvdevButtonTable maps Linux evdev BTN_* codes to VKVM
// mouse button bits.
var DefaultLinuxEvdevButtonTable = map[int]uint8{
	0x110: protocol.ButtonLeft,   // BTN_LEFT
	0x111: protocol.ButtonRight,  // BTN_RIGHT
	0x112: protocol.ButtonMiddle, // BTN_MIDDLE
}

// ClampDelta saturates a raw relative-motion delta into the signed
// 8-bit range the wire format carries, returning the remainder as
// newCarry for the next chunk instead of dropping it (§4.7).
func ClampDelta(raw int, carry int) (sent int8, newCarry int) {
	total := raw + carry
	switch {
	case total > 127:
		return 127, total - 127
	case total < -128:
		return -128, total + 128
	default:
		return int8(total), 0
	}
}

// ScaleAbsolute maps a pointer coordinate along one screen axis of the
// given size to the wire format's 0..32767 absolute coordinate space.
func ScaleAbsolute(pos, size int) int16 {
	if size <= 0 {
		return 0
	}
	scaled := pos * 32767 / size
	switch {
	case scaled < 0:
		return 0
	case scaled > 32767:
		return 32767
	default:
		return int16(scaled)
	}
}
