//go:build linux

package periphery

import (
	"fmt"
	"os"
	"time"
)

// GadgetHID drives a Linux USB gadget's HID function instances
// (/dev/hidgN character devices): writing a report sends it to the
// connected host, reading the keyboard node's output endpoint yields
// the host-driven LED report (§4.6).
type GadgetHID struct {
	keyboard *os.File
	mouseRel *os.File
	mouseAbs *os.File
	udcState func() uint8
	leds     byte
}

// OpenGadgetHID opens the three HID gadget function nodes created by
// the board's USB gadget configuration (keyboard, relative mouse,
// absolute mouse), and a udcStateFn reading the UDC's current state
// from sysfs.
func OpenGadgetHID(keyboardDev, mouseRelDev, mouseAbsDev string, udcStateFn func() uint8) (*GadgetHID, error) {
	kb, err := os.OpenFile(keyboardDev, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("periphery: open %s: %w", keyboardDev, err)
	}
	mr, err := os.OpenFile(mouseRelDev, os.O_WRONLY, 0)
	if err != nil {
		kb.Close()
		return nil, fmt.Errorf("periphery: open %s: %w", mouseRelDev, err)
	}
	ma, err := os.OpenFile(mouseAbsDev, os.O_WRONLY, 0)
	if err != nil {
		kb.Close()
		mr.Close()
		return nil, fmt.Errorf("periphery: open %s: %w", mouseAbsDev, err)
	}
	return &GadgetHID{keyboard: kb, mouseRel: mr, mouseAbs: ma, udcState: udcStateFn}, nil
}

func (g *GadgetHID) SetKeyboard(modifier uint8, keys [6]uint8) error {
	report := make([]byte, 8)
	report[0] = modifier
	copy(report[2:], keys[:])
	if _, err := g.keyboard.Write(report); err != nil {
		return &ErrWriteFailed{Report: "keyboard"}
	}
	return nil
}

func (g *GadgetHID) SendMouseRel(buttons uint8, dx, dy, wheel int8) error {
	// report ID 1, per the VKVM relative-mouse HID report descriptor.
	report := []byte{0x01, buttons, byte(dx), byte(dy), byte(wheel)}
	if _, err := g.mouseRel.Write(report); err != nil {
		return &ErrWriteFailed{Report: "mouse_rel"}
	}
	return nil
}

func (g *GadgetHID) SendMouseAbs(buttons uint8, x, y uint16, wheel int8) error {
	// report ID 2, per the VKVM absolute-mouse HID report descriptor.
	report := []byte{0x02, buttons, byte(x), byte(x >> 8), byte(y), byte(y >> 8), byte(wheel)}
	if _, err := g.mouseAbs.Write(report); err != nil {
		return &ErrWriteFailed{Report: "mouse_abs"}
	}
	return nil
}

func (g *GadgetHID) USBState() uint8 {
	if g.udcState == nil {
		return 0
	}
	return g.udcState()
}

// KeyboardLEDs reads the most recent LED output report from the
// keyboard function's endpoint; gadgetfs delivers it as a one-byte
// non-blocking read.
func (g *GadgetHID) KeyboardLEDs() uint8 {
	buf := make([]byte, 1)
	_ = g.keyboard.SetReadDeadline(time.Now())
	n, err := g.keyboard.Read(buf)
	if err != nil || n == 0 {
		return g.leds
	}
	g.leds = buf[0]
	return g.leds
}

// Close releases the gadget function file descriptors.
func (g *GadgetHID) Close() error {
	g.keyboard.Close()
	g.mouseRel.Close()
	g.mouseAbs.Close()
	return nil
}
