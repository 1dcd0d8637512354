//go:build linux

package periphery

import (
	"os"
	"strings"

	"github.com/vkvmbridge/host/internal/protocol"
)

// UDCStateFromSysfs reads /sys/class/udc/<name>/state and maps the
// kernel's gadget-core state string onto the VKVM USB state values.
func UDCStateFromSysfs(udcName string) func() uint8 {
	path := "/sys/class/udc/" + udcName + "/state"
	return func() uint8 {
		data, err := os.ReadFile(path)
		if err != nil {
			return protocol.USBStateOff
		}
		switch strings.TrimSpace(string(data)) {
		case "configured":
			return protocol.USBStateConfigured
		case "suspended":
			return protocol.USBStateSuspended
		case "powered", "default", "addressed":
			return protocol.USBStatePowered
		default:
			return protocol.USBStateOff
		}
	}
}
