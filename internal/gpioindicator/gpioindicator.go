// Package gpioindicator drives a status LED on the embedded side of
// the bridge over a Linux GPIO character device, reflecting the
// current USB connection state (§4.6's periphery status indication).
package gpioindicator

import (
	"fmt"

	"github.com/vkvmbridge/host/internal/protocol"
	"github.com/warthog618/go-gpiocdev"
)

// LED drives one GPIO line as a status indicator.
type LED struct {
	line *gpiocdev.Line
}

// Open requests line offset on chip (e.g. "gpiochip0") as an output.
func Open(chip string, offset int) (*LED, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("gpioindicator: request line: %w", err)
	}
	return &LED{line: line}, nil
}

// SetUSBState drives the line according to the USB connection state:
// off when unpowered, solid when configured, and left low otherwise.
// A richer indicator (blink patterns for "powered but unconfigured")
// is left to the caller, since gpiocdev lines here are driven
// synchronously rather than through a PWM/timer abstraction.
func (l *LED) SetUSBState(state uint8) error {
	value := 0
	if state == protocol.USBStateConfigured {
		value = 1
	}
	return l.line.SetValue(value)
}

// Close releases the GPIO line.
func (l *LED) Close() error {
	return l.line.Close()
}
