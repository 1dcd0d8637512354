package periphery

import (
	"sync"
	"time"

	"github.com/vkvmbridge/host/internal/frame"
	"github.com/vkvmbridge/host/internal/protocol"
)

// Dispatcher turns decoded request frames into HID actions and writes
// the matching response frame back out, plus runs a background loop
// that emits I_USB_STATE_UPDATE / I_LED_UPDATE interrupts when the
// cached state changes (§4.6).
type Dispatcher struct {
	hid        HID
	sink       frame.ByteSink
	mu         sync.Mutex
	keys       [6]uint8 // currently held keycodes, 0-padded
	mods       uint8
	btns       uint8 // currently held mouse buttons, bit-per-button
	lastUS     uint8
	lastLE     uint8
	onUSBState func(uint8)
}

// NewDispatcher builds a Dispatcher that writes response/interrupt
// frames through sink (typically a Transport.Write wrapper).
func NewDispatcher(hid HID, sink frame.ByteSink) *Dispatcher {
	return &Dispatcher{hid: hid, sink: sink}
}

// OnUSBStateChange registers fn to be called, in addition to emitting
// the I_USB_STATE_UPDATE frame, whenever PollInterrupts observes a new
// USB connection state. Used to drive a physical status indicator
// (§4.6).
func (d *Dispatcher) OnUSBStateChange(fn func(state uint8)) {
	d.mu.Lock()
	d.onUSBState = fn
	d.mu.Unlock()
}

// HandleFrame processes one decoded request frame and writes its
// response. crcErr frames are answered with E_BROKEN_FRAME on seq 0,
// since a corrupt frame's own sequence number cannot be trusted.
func (d *Dispatcher) HandleFrame(seq uint8, payload []byte, crcErr bool) {
	if crcErr {
		d.respond(0, protocol.EBrokenFrame, nil)
		return
	}
	if len(payload) == 0 {
		d.respond(seq, protocol.EBrokenFrame, nil)
		return
	}
	kind := protocol.RequestKind(payload[0])
	fields := payload[1:]
	if !kind.Valid() {
		d.respond(seq, protocol.EInvalidReqType, nil)
		return
	}
	d.dispatch(seq, kind, fields)
}

func (d *Dispatcher) dispatch(seq uint8, kind protocol.RequestKind, fields []byte) {
	switch kind {
	case protocol.GetProtocolVersion:
		d.respond(seq, protocol.SOk, []byte{byte(protocol.Version >> 8), byte(protocol.Version)})
	case protocol.GetAlive:
		d.respond(seq, protocol.SOk, nil)
	case protocol.GetUSBState:
		d.respond(seq, protocol.SOk, []byte{d.hid.USBState()})
	case protocol.GetKeyboardLEDs:
		d.respond(seq, protocol.SOk, []byte{d.hid.KeyboardLEDs()})
	case protocol.SetKeyboardDown:
		d.handleKeyboardDown(seq, fields)
	case protocol.SetKeyboardUp:
		d.handleKeyboardUp(seq, fields)
	case protocol.SetKeyboardAllUp:
		d.handleKeyboardAllUp(seq)
	case protocol.SetKeyboardPush:
		d.handleKeyboardPush(seq, fields)
	case protocol.SetKeyboardWrite:
		d.handleKeyboardWrite(seq, fields)
	case protocol.SetMouseButtonDown:
		d.handleButtons(seq, fields, true)
	case protocol.SetMouseButtonUp:
		d.handleButtons(seq, fields, false)
	case protocol.SetMouseButtonAllUp:
		d.handleButtonAllUp(seq)
	case protocol.SetMouseButtonPush:
		d.handleButtonPush(seq, fields)
	case protocol.SetMouseMoveAbs:
		d.handleMouseMoveAbs(seq, fields)
	case protocol.SetMouseMoveRel:
		d.handleMouseMoveRel(seq, fields)
	case protocol.SetMouseScroll:
		d.handleMouseScroll(seq, fields)
	default:
		d.respond(seq, protocol.EUnsupportedReqType, nil)
	}
}

func (d *Dispatcher) handleKeyboardDown(seq uint8, fields []byte) {
	keys, err := protocol.DecodeKeyboardKeys(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	accepted := d.mergeKeysLocked(keys, true)
	modifier, snapshot := d.mods, d.keys
	d.mu.Unlock()
	if err := d.hid.SetKeyboard(modifier, snapshot); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, []byte{protocol.KeyBitmap(accepted)})
}

func (d *Dispatcher) handleKeyboardUp(seq uint8, fields []byte) {
	keys, err := protocol.DecodeKeyboardKeys(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	accepted := d.mergeKeysLocked(keys, false)
	modifier, snapshot := d.mods, d.keys
	d.mu.Unlock()
	if err := d.hid.SetKeyboard(modifier, snapshot); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, []byte{protocol.KeyBitmap(accepted)})
}

func (d *Dispatcher) handleKeyboardAllUp(seq uint8) {
	d.mu.Lock()
	d.keys = [6]uint8{}
	modifier := d.mods
	d.mu.Unlock()
	if err := d.hid.SetKeyboard(modifier, [6]uint8{}); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, nil)
}

func (d *Dispatcher) handleKeyboardPush(seq uint8, fields []byte) {
	keys, err := protocol.DecodeKeyboardPush(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	base := d.keys
	modifier := d.mods
	d.mu.Unlock()
	pressed := base
	accepted := mergeInto(&pressed, keys, true)
	if err := d.hid.SetKeyboard(modifier, pressed); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	time.Sleep(10 * time.Millisecond)
	if err := d.hid.SetKeyboard(modifier, base); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, []byte{protocol.KeyBitmap(accepted)})
}

// handleKeyboardWrite implements SET_KEYBOARD_WRITE (§4.5): release
// whatever was held, toggle NumLock/Kana via a simulated keypress only
// if the requested state differs from the periphery's current LED
// state, then type the given keys under the given modifier mask,
// treating any byte in the USB HID modifier-keycode range as an
// in-place modifier toggle rather than an ordinary rollover key. The
// response carries the count of ordinary keys written.
func (d *Dispatcher) handleKeyboardWrite(seq uint8, fields []byte) {
	modifier, keys, err := protocol.DecodeKeyboardWrite(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}

	d.mu.Lock()
	d.keys, d.mods = [6]uint8{}, 0
	d.mu.Unlock()
	if err := d.hid.SetKeyboard(0, [6]uint8{}); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}

	leds := d.hid.KeyboardLEDs()
	toggleNumLock := (modifier&protocol.WriteRightNumLock != 0) != (leds&protocol.LEDNumLock != 0)
	toggleKana := (modifier&protocol.WriteRightKana != 0) != (leds&protocol.LEDKana != 0)
	if toggleNumLock {
		if err := d.pressRelease(protocol.KeyNumLock); err != nil {
			d.respond(seq, protocol.EHostWriteError, nil)
			return
		}
	}
	if toggleKana {
		if err := d.pressRelease(protocol.KeyKana); err != nil {
			d.respond(seq, protocol.EHostWriteError, nil)
			return
		}
	}

	live := writeModifierByte(modifier)
	var written uint8
	for _, key := range keys {
		if key >= protocol.ModifierKeycodeLo && key <= protocol.ModifierKeycodeHi {
			live ^= 1 << (key - protocol.ModifierKeycodeLo)
			continue
		}
		if err := d.hid.SetKeyboard(live, [6]uint8{key}); err != nil {
			d.respond(seq, protocol.EHostWriteError, nil)
			return
		}
		time.Sleep(10 * time.Millisecond)
		if err := d.hid.SetKeyboard(live, [6]uint8{}); err != nil {
			d.respond(seq, protocol.EHostWriteError, nil)
			return
		}
		written++
	}

	if err := d.hid.SetKeyboard(0, [6]uint8{}); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	if toggleNumLock {
		if err := d.pressRelease(protocol.KeyNumLock); err != nil {
			d.respond(seq, protocol.EHostWriteError, nil)
			return
		}
	}
	if toggleKana {
		if err := d.pressRelease(protocol.KeyKana); err != nil {
			d.respond(seq, protocol.EHostWriteError, nil)
			return
		}
	}

	d.respond(seq, protocol.SOk, []byte{written})
}

// pressRelease presses and releases a single unmodified key, used for
// the NumLock/Kana toggle-via-keypress dance: a USB HID keyboard has
// no host-writable LED line, so toggling NumLock/Kana means simulating
// the key the host's own keyboard driver watches.
func (d *Dispatcher) pressRelease(key uint8) error {
	if err := d.hid.SetKeyboard(0, [6]uint8{key}); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return d.hid.SetKeyboard(0, [6]uint8{})
}

// writeModifierByte maps SET_KEYBOARD_WRITE's modifier bitmask onto the
// standard USB HID keyboard report modifier byte. WriteRightNumLock and
// WriteRightKana have no modifier-byte bit: they drive the LED-toggle
// keypresses instead.
func writeModifierByte(writeModifier uint8) uint8 {
	var m uint8
	if writeModifier&protocol.WriteLeftControl != 0 {
		m |= 1 << 0
	}
	if writeModifier&protocol.WriteLeftShift != 0 {
		m |= 1 << 1
	}
	if writeModifier&protocol.WriteLeftAlt != 0 {
		m |= 1 << 2
	}
	if writeModifier&protocol.WriteRightControl != 0 {
		m |= 1 << 4
	}
	if writeModifier&protocol.WriteRightShift != 0 {
		m |= 1 << 5
	}
	if writeModifier&protocol.WriteRightAlt != 0 {
		m |= 1 << 6
	}
	return m
}

func (d *Dispatcher) handleButtons(seq uint8, fields []byte, down bool) {
	buttons, err := protocol.DecodeMouseButtons(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	accepted := d.mergeButtonsLocked(buttons, down)
	mask := d.btns
	d.mu.Unlock()
	if err := d.hid.SendMouseRel(mask, 0, 0, 0); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, []byte{protocol.KeyBitmap(accepted)})
}

func (d *Dispatcher) handleButtonAllUp(seq uint8) {
	d.mu.Lock()
	d.btns = 0
	d.mu.Unlock()
	if err := d.hid.SendMouseRel(0, 0, 0, 0); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, nil)
}

func (d *Dispatcher) handleButtonPush(seq uint8, fields []byte) {
	buttons, err := protocol.DecodeMouseButtonPush(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	base := d.btns
	d.mu.Unlock()
	var mask uint8
	accepted := make([]bool, len(buttons))
	for i, b := range buttons {
		if validButton(b) {
			mask |= b
			accepted[i] = true
		}
	}
	if err := d.hid.SendMouseRel(base|mask, 0, 0, 0); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	time.Sleep(10 * time.Millisecond)
	if err := d.hid.SendMouseRel(base, 0, 0, 0); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, []byte{protocol.KeyBitmap(accepted)})
}

func (d *Dispatcher) handleMouseMoveAbs(seq uint8, fields []byte) {
	x, y, err := protocol.DecodeMouseMoveAbs(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	mask := d.btns
	d.mu.Unlock()
	if err := d.hid.SendMouseAbs(mask, uint16(x), uint16(y), 0); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, nil)
}

func (d *Dispatcher) handleMouseMoveRel(seq uint8, fields []byte) {
	dx, dy, err := protocol.DecodeMouseMoveRel(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	mask := d.btns
	d.mu.Unlock()
	if err := d.hid.SendMouseRel(mask, dx, dy, 0); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, nil)
}

func (d *Dispatcher) handleMouseScroll(seq uint8, fields []byte) {
	wheel, err := protocol.DecodeMouseScroll(fields)
	if err != nil {
		d.respondFieldErr(seq, err)
		return
	}
	d.mu.Lock()
	mask := d.btns
	d.mu.Unlock()
	if err := d.hid.SendMouseRel(mask, 0, 0, wheel); err != nil {
		d.respond(seq, protocol.EHostWriteError, nil)
		return
	}
	d.respond(seq, protocol.SOk, nil)
}

// mergeKeysLocked applies a down/up batch to d.keys, returning the
// per-input acceptance bitmap (false when the 6-key rollover is full
// on down, or the key wasn't held on up). Caller holds d.mu.
func (d *Dispatcher) mergeKeysLocked(keys []uint8, down bool) []bool {
	return mergeInto(&d.keys, keys, down)
}

func mergeInto(keys *[6]uint8, input []uint8, down bool) []bool {
	accepted := make([]bool, len(input))
	for i, k := range input {
		if down {
			if containsKey(*keys, k) {
				accepted[i] = true
				continue
			}
			if slot := firstEmptySlot(*keys); slot >= 0 {
				keys[slot] = k
				accepted[i] = true
			}
		} else {
			if slot := indexOfKey(*keys, k); slot >= 0 {
				keys[slot] = 0
				accepted[i] = true
			}
		}
	}
	return accepted
}

func containsKey(keys [6]uint8, k uint8) bool { return indexOfKey(keys, k) >= 0 }

func indexOfKey(keys [6]uint8, k uint8) int {
	if k == 0 {
		return -1
	}
	for i, v := range keys {
		if v == k {
			return i
		}
	}
	return -1
}

func firstEmptySlot(keys [6]uint8) int {
	for i, v := range keys {
		if v == 0 {
			return i
		}
	}
	return -1
}

// mergeButtonsLocked applies a down/up batch of button bit values
// (protocol.ButtonLeft/Right/Middle, possibly or-ed together) to d.btns.
// Caller holds d.mu.
func (d *Dispatcher) mergeButtonsLocked(buttons []uint8, down bool) []bool {
	accepted := make([]bool, len(buttons))
	for i, b := range buttons {
		if !validButton(b) {
			continue
		}
		if down {
			d.btns |= b
		} else {
			d.btns &^= b
		}
		accepted[i] = true
	}
	return accepted
}

// validButton reports whether b is a non-empty combination of the
// ButtonLeft/Right/Middle bits.
func validButton(b uint8) bool {
	return b != 0 && b&^(protocol.ButtonLeft|protocol.ButtonRight|protocol.ButtonMiddle) == 0
}

// respond encodes and writes a response frame through the byte sink.
func (d *Dispatcher) respond(seq uint8, kind protocol.ResponseKind, fields []byte) {
	payload := append([]byte{byte(kind)}, fields...)
	w := frame.NewWriter(d.sink)
	_ = w.Encode(seq, payload)
}

func (d *Dispatcher) respondFieldErr(seq uint8, err error) {
	var fe *protocol.FieldError
	if asFieldError(err, &fe) {
		d.respond(seq, protocol.EInvalidFieldValue, []byte{uint8(fe.Index)})
		return
	}
	d.respond(seq, protocol.EInvalidFieldValue, nil)
}

func asFieldError(err error, target **protocol.FieldError) bool {
	fe, ok := err.(*protocol.FieldError)
	if !ok {
		return false
	}
	*target = fe
	return true
}

// PollInterrupts runs until stop is closed, comparing the HID's live
// USB state and LED mask against the last-announced values and
// emitting I_USB_STATE_UPDATE / I_LED_UPDATE frames on change (§4.6).
// A polling loop is used rather than a push callback from the USB
// gadget driver, since the gadget character device exposes state only
// via read, not notification.
func (d *Dispatcher) PollInterrupts(stop <-chan struct{}, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.checkInterrupts()
		}
	}
}

func (d *Dispatcher) checkInterrupts() {
	state := d.hid.USBState()
	leds := d.hid.KeyboardLEDs()
	d.mu.Lock()
	changedState := state != d.lastUS
	changedLEDs := leds != d.lastLE
	d.lastUS, d.lastLE = state, leds
	onUSBState := d.onUSBState
	d.mu.Unlock()
	if changedState {
		d.respond(0, protocol.IUSBStateUpdate, []byte{state})
		if onUSBState != nil {
			onUSBState(state)
		}
	}
	if changedLEDs {
		d.respond(0, protocol.ILEDUpdate, []byte{leds})
	}
}
