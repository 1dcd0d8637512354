//go:build !linux

package transport

import (
	"context"
	"os"
)

// DeviceWatcher is the non-Linux fallback: go-udev only speaks the
// Linux netlink protocol, so elsewhere we poll for the device node's
// existence on demand (§4.4).
type DeviceWatcher struct{}

// NewDeviceWatcher returns a watcher that checks device presence via
// stat on each call to Removed, rather than subscribing to kernel
// events.
func NewDeviceWatcher(ctx context.Context) (*DeviceWatcher, error) {
	return &DeviceWatcher{}, nil
}

// Removed reports whether devNode is currently absent from the
// filesystem.
func (w *DeviceWatcher) Removed(devNode string) bool {
	_, err := os.Stat(devNode)
	return os.IsNotExist(err)
}
