package inputhook

import (
	"sync"
	"time"

	"github.com/vkvmbridge/host/internal/protocol"
	"github.com/vkvmbridge/host/internal/vlog"
)

// Sender is the subset of *driver.Driver a Hook needs; declared as an
// interface so the hook can be tested without a real serial link.
type Sender interface {
	KeyboardDown(keys []uint8, done func(error, uint8)) error
	KeyboardUp(keys []uint8, done func(error, uint8)) error
	MouseButtonDown(buttons []uint8, done func(error, uint8)) error
	MouseButtonUp(buttons []uint8, done func(error, uint8)) error
	MouseMoveRel(dx, dy int8, done func(error)) error
	MouseScroll(wheel int8, done func(error)) error
}

// Remapper lets a consumer override or suppress a translated event
// before it is forwarded to the Sender, mirroring driver.Callback's
// OnRemapKey/OnRemapButton hooks (§6). It is declared locally, the same
// way Sender is, so this package never imports driver.
type Remapper interface {
	OnRemapKey(key uint8, osKey int, action protocol.RemapAction) uint8
	OnRemapButton(button uint8, action protocol.RemapAction) uint8
}

// Hook captures local OS input events, translates them through the USB
// HID keycode/button tables, coalesces relative mouse motion into the
// wire format's signed 8-bit deltas, and forwards everything to a
// Sender while global capture is enabled (§4.7). A nil Remapper skips
// the remap step and forwards the translated event as-is.
type Hook struct {
	keyTable    map[int]uint8
	buttonTable map[int]uint8

	mu      sync.Mutex
	enabled bool
	sender  Sender
	remap   Remapper
	carryX  int
	carryY  int
	log     *vlog.Logger
}

// New builds a disabled Hook bound to sender, using the given OS
// keycode/button translation tables. remap may be nil.
func New(sender Sender, remap Remapper, keyTable, buttonTable map[int]uint8) *Hook {
	return &Hook{
		sender:      sender,
		remap:       remap,
		keyTable:    keyTable,
		buttonTable: buttonTable,
		log:         vlog.Default().With("component", "inputhook"),
	}
}

// Enable starts forwarding captured events to the sender.
func (h *Hook) Enable() {
	h.mu.Lock()
	h.enabled = true
	h.carryX, h.carryY = 0, 0
	h.mu.Unlock()
}

// Disable stops forwarding captured events; the grab layer may still
// call On* methods, they are simply dropped.
func (h *Hook) Disable() {
	h.mu.Lock()
	h.enabled = false
	h.mu.Unlock()
}

// Enabled reports whether the hook is currently forwarding events.
func (h *Hook) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// OnKey handles one OS key event.
func (h *Hook) OnKey(ev KeyEvent) {
	if !h.Enabled() {
		return
	}
	hid := TranslateKey(ev.OSCode, h.keyTable)
	if hid == protocol.NoEvent {
		return
	}
	if h.remap != nil {
		hid = h.remap.OnRemapKey(hid, ev.OSCode, remapAction(ev.Down))
		if hid == protocol.NoEvent {
			return
		}
	}
	var err error
	if ev.Down {
		err = h.sender.KeyboardDown([]uint8{hid}, nil)
	} else {
		err = h.sender.KeyboardUp([]uint8{hid}, nil)
	}
	if err != nil {
		h.log.Warn("keyboard event dropped", "err", err)
	}
}

// OnMouseButton handles one OS mouse button event.
func (h *Hook) OnMouseButton(ev MouseButtonEvent) {
	if !h.Enabled() {
		return
	}
	btn := TranslateButton(ev.OSButton, h.buttonTable)
	if btn == protocol.NoEvent {
		return
	}
	if h.remap != nil {
		btn = h.remap.OnRemapButton(btn, remapAction(ev.Down))
		if btn == protocol.NoEvent {
			return
		}
	}
	var err error
	if ev.Down {
		err = h.sender.MouseButtonDown([]uint8{btn}, nil)
	} else {
		err = h.sender.MouseButtonUp([]uint8{btn}, nil)
	}
	if err != nil {
		h.log.Warn("mouse button event dropped", "err", err)
	}
}

func remapAction(down bool) protocol.RemapAction {
	if down {
		return protocol.RemapDown
	}
	return protocol.RemapUp
}

// OnMouseMove accumulates raw relative motion and forwards it as one
// or more SET_MOUSE_MOVE_REL requests, saturating and carrying forward
// any remainder beyond the wire format's signed 8-bit range.
func (h *Hook) OnMouseMove(dx, dy int) {
	if !h.Enabled() {
		return
	}
	h.mu.Lock()
	sx, cx := ClampDelta(dx, h.carryX)
	sy, cy := ClampDelta(dy, h.carryY)
	h.carryX, h.carryY = 0, 0
	h.mu.Unlock()

	for sx != 0 || sy != 0 {
		if err := h.sender.MouseMoveRel(sx, sy, nil); err != nil {
			h.log.Warn("mouse move dropped", "err", err)
			return
		}
		sx, cx = ClampDelta(0, cx)
		sy, cy = ClampDelta(0, cy)
	}
}

// OnMouseScroll forwards a wheel delta, clamped to the wire format's
// signed 8-bit range.
func (h *Hook) OnMouseScroll(delta int) {
	if !h.Enabled() {
		return
	}
	clamped, _ := ClampDelta(delta, 0)
	if err := h.sender.MouseScroll(clamped, nil); err != nil {
		h.log.Warn("scroll event dropped", "err", err)
	}
}

// coalesceTick is how often a grab layer feeding the Hook is expected to
// batch raw motion samples before calling OnMouseMove, bounding request
// queue pressure under a fast mouse (§4.7, §5).
const coalesceTick = 10 * time.Millisecond
