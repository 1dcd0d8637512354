//go:build linux

package transport

import (
	"context"

	"github.com/jochenvg/go-udev"
)

// DeviceWatcher reports whether the serial device backing a path is
// still attached, so Serial can surface an unplugged periphery as a
// read error instead of waiting on a dead device node (§4.4).
type DeviceWatcher struct {
	udev    *udev.Udev
	monitor *udev.Monitor
	events  chan *udev.Device
}

// NewDeviceWatcher starts watching udev tty add/remove events.
func NewDeviceWatcher(ctx context.Context) (*DeviceWatcher, error) {
	u := &udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystem("tty"); err != nil {
		return nil, err
	}
	ch, err := mon.DeviceChan(ctx)
	if err != nil {
		return nil, err
	}
	return &DeviceWatcher{udev: u, monitor: mon, events: ch}, nil
}

// Removed reports whether devNode was reported removed since the last
// call, without blocking.
func (w *DeviceWatcher) Removed(devNode string) bool {
	for {
		select {
		case dev, ok := <-w.events:
			if !ok {
				return false
			}
			if dev == nil {
				continue
			}
			if dev.Action() == "remove" && dev.Devnode() == devNode {
				return true
			}
		default:
			return false
		}
	}
}
