//go:build linux

package inputhook

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	evKey = 0x01
	evRel = 0x02

	relX     = 0x00
	relY     = 0x01
	relWheel = 0x08

	eviocgrab = 0x40044590 // _IOW('E', 0x90, int), per linux/input.h

	keyMax       = 0x2ff
	keyBitmapLen = (keyMax + 8) / 8
	// eviocgkey is _IOC(_IOC_READ, 'E', 0x18, keyBitmapLen), per
	// linux/input.h; the generic (non-mips/ppc) ioctl direction/size
	// encoding used by the eviocgrab constant above.
	eviocgkey = 0x80000000 | (keyBitmapLen << 16) | ('E' << 8) | 0x18

	// grabRetryInterval/grabRetryAttempts bound how long OpenEvdevGrab
	// waits for a device's keys to be released before grabbing it, so
	// starting vkvmhost mid-keypress doesn't leave a stuck key latched
	// into the periphery (§4.6).
	grabRetryInterval = 50 * time.Millisecond
	grabRetryAttempts = 40
)

type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const inputEventSize = 24 // matches struct input_event on 64-bit Linux

// EvdevGrab exclusively grabs one /dev/input/eventN device node and
// feeds its key/relative-motion events into a Hook, mirroring the
// "global input capture" requirement (§4.7). Grabbing the device
// prevents events from also reaching the local desktop session.
type EvdevGrab struct {
	f    *os.File
	hook *Hook
}

// OpenEvdevGrab opens devNode (e.g. "/dev/input/event4"), waits for any
// keys currently held on it to be released, then exclusively grabs it.
func OpenEvdevGrab(devNode string, hook *Hook) (*EvdevGrab, error) {
	f, err := os.OpenFile(devNode, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("inputhook: open %s: %w", devNode, err)
	}
	if err := waitForKeysReleased(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("inputhook: %s: %w", devNode, err)
	}
	one := 1
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(eviocgrab), uintptr(unsafe.Pointer(&one))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("inputhook: EVIOCGRAB %s: %w", devNode, errno)
	}
	return &EvdevGrab{f: f, hook: hook}, nil
}

// waitForKeysReleased polls EVIOCGKEY until the device reports no keys
// held, or gives up after grabRetryAttempts and grabs anyway. A device
// with no EV_KEY capability (a plain mouse) reports an all-zero bitmap
// immediately.
func waitForKeysReleased(f *os.File) error {
	buf := make([]byte, keyBitmapLen)
	for i := 0; i < grabRetryAttempts; i++ {
		for j := range buf {
			buf[j] = 0
		}
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(eviocgkey), uintptr(unsafe.Pointer(&buf[0]))); errno != 0 {
			return fmt.Errorf("EVIOCGKEY: %w", errno)
		}
		if !anyBitSet(buf) {
			return nil
		}
		time.Sleep(grabRetryInterval)
	}
	return nil
}

func anyBitSet(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return true
		}
	}
	return false
}

// EnumerateEventDevices lists /dev/input/eventN nodes in a stable
// order, for OpenEvdevGrab to attempt in turn (§4.6).
func EnumerateEventDevices() ([]string, error) {
	matches, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Run reads events until the device is closed or an I/O error occurs.
func (g *EvdevGrab) Run() error {
	buf := make([]byte, inputEventSize)
	var carryX, carryY int
	for {
		if _, err := readFull(g.f, buf); err != nil {
			return err
		}
		ev := decodeInputEvent(buf)
		switch ev.Type {
		case evKey:
			g.hook.OnKey(KeyEvent{OSCode: int(ev.Code), Down: ev.Value != 0})
		case evRel:
			switch ev.Code {
			case relX:
				carryX += int(ev.Value)
			case relY:
				carryY += int(ev.Value)
			case relWheel:
				g.hook.OnMouseScroll(int(ev.Value))
			}
		}
		if ev.Type == evRel && (carryX != 0 || carryY != 0) {
			g.hook.OnMouseMove(carryX, carryY)
			carryX, carryY = 0, 0
		}
	}
}

// Close releases the grab and closes the device node.
func (g *EvdevGrab) Close() error { return g.f.Close() }

func readFull(f *os.File, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := f.Read(buf[n:])
		if err != nil {
			return n, err
		}
		n += m
	}
	return n, nil
}

func decodeInputEvent(buf []byte) inputEvent {
	return inputEvent{
		Type:  binary.LittleEndian.Uint16(buf[16:18]),
		Code:  binary.LittleEndian.Uint16(buf[18:20]),
		Value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}
