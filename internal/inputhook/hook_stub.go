//go:build !linux

package inputhook

import "fmt"

// EvdevGrab is unavailable outside Linux; evdev is a Linux-only kernel
// input subsystem. Other platforms would need their own grab mechanism
// (e.g. a low-level keyboard/mouse hook on Windows), not modeled here.
type EvdevGrab struct{}

// OpenEvdevGrab always fails on non-Linux platforms.
func OpenEvdevGrab(devNode string, hook *Hook) (*EvdevGrab, error) {
	return nil, fmt.Errorf("inputhook: evdev capture is only available on linux")
}

func (g *EvdevGrab) Run() error   { return fmt.Errorf("inputhook: evdev capture is only available on linux") }
func (g *EvdevGrab) Close() error { return nil }

// EnumerateEventDevices returns no devices outside Linux.
func EnumerateEventDevices() ([]string, error) { return nil, nil }
