// Package periphery implements the embedded side of the bridge: a
// frame-in, frame-out dispatcher that turns VKVM requests into USB HID
// reports and reports back USB/LED interrupts (§4.6 of the design).
package periphery

import "fmt"

// HID is the USB HID composite device the periphery drives: a keyboard
// interface (no report ID, 8-bit modifier + 6-key rollover), a
// relative mouse (report ID 1) and an absolute mouse (report ID 2),
// grounded on the three VKVM HID report shapes.
type HID interface {
	// SetKeyboard sends a full keyboard report: modifier byte plus up
	// to 6 simultaneously-held keycodes (0-padded).
	SetKeyboard(modifier uint8, keys [6]uint8) error
	// SendMouseRel sends a relative-mouse report: 3-bit button mask,
	// signed 8-bit dx/dy, signed 8-bit wheel delta.
	SendMouseRel(buttons uint8, dx, dy, wheel int8) error
	// SendMouseAbs sends an absolute-mouse report: 3-bit button mask,
	// 16-bit x/y in 0..32767, signed 8-bit wheel delta.
	SendMouseAbs(buttons uint8, x, y uint16, wheel int8) error
	// USBState reports the current USB link state (§3's USBState).
	USBState() uint8
	// KeyboardLEDs reports the host-driven LED mask (num/caps/scroll).
	KeyboardLEDs() uint8
}

// ErrWriteFailed is returned by a HID implementation when the
// underlying USB endpoint rejects a report, mapped to
// E_HOST_WRITE_ERROR by the dispatcher (§4.7).
type ErrWriteFailed struct {
	Report string
}

func (e *ErrWriteFailed) Error() string {
	return fmt.Sprintf("periphery: hid write failed: %s", e.Report)
}

// FakeHID is an in-memory HID used by dispatcher tests: it records the
// last report of each kind instead of touching a real USB gadget.
type FakeHID struct {
	Modifier    uint8
	Keys        [6]uint8
	LastRelBtn  uint8
	LastDX      int8
	LastDY      int8
	LastWheel   int8
	LastAbsBtn  uint8
	LastX       uint16
	LastY       uint16
	State       uint8
	LEDs        uint8
	FailWrites  bool
}

func (f *FakeHID) SetKeyboard(modifier uint8, keys [6]uint8) error {
	if f.FailWrites {
		return &ErrWriteFailed{Report: "keyboard"}
	}
	f.Modifier, f.Keys = modifier, keys
	return nil
}

func (f *FakeHID) SendMouseRel(buttons uint8, dx, dy, wheel int8) error {
	if f.FailWrites {
		return &ErrWriteFailed{Report: "mouse_rel"}
	}
	f.LastRelBtn, f.LastDX, f.LastDY, f.LastWheel = buttons, dx, dy, wheel
	return nil
}

func (f *FakeHID) SendMouseAbs(buttons uint8, x, y uint16, wheel int8) error {
	if f.FailWrites {
		return &ErrWriteFailed{Report: "mouse_abs"}
	}
	f.LastAbsBtn, f.LastX, f.LastY, f.LastWheel = buttons, x, y, wheel
	return nil
}

func (f *FakeHID) USBState() uint8     { return f.State }
func (f *FakeHID) KeyboardLEDs() uint8 { return f.LEDs }
