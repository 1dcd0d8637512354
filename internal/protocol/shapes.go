package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFieldCount is returned when a request's key/button array length is
// outside the catalog's fixed bounds (§4.2).
var ErrFieldCount = errors.New("protocol: wrong field count")

// ErrFieldValue is returned when a field's value is out of range.
var ErrFieldValue = errors.New("protocol: invalid field value")

// ErrShortResponse is returned when a success payload is shorter than
// its fixed shape requires.
var ErrShortResponse = errors.New("protocol: short response")

const (
	minKeys    = 1
	maxKeys    = 6
	minButtons = 1
	maxButtons = 3
)

// FieldError names the 0-based index of the offending field, as echoed
// by E_INVALID_FIELD_VALUE (§4.7).
type FieldError struct {
	Index int
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("protocol: field %d: %v", e.Index, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// --- host-side encoders: produce the field bytes that follow the
// RequestKind byte in an outgoing frame. ---

// EncodeKeyboardDown encodes 1..6 USB HID keycodes for SET_KEYBOARD_DOWN
// or SET_KEYBOARD_UP.
func EncodeKeyboardDown(keys []uint8) ([]byte, error) {
	if len(keys) < minKeys || len(keys) > maxKeys {
		return nil, fmt.Errorf("%w: keys: got %d, want %d..%d", ErrFieldCount, len(keys), minKeys, maxKeys)
	}
	return append([]byte(nil), keys...), nil
}

// EncodeKeyboardPush encodes n keycodes for SET_KEYBOARD_PUSH.
func EncodeKeyboardPush(keys []uint8) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: keys: got 0, want >=1", ErrFieldCount)
	}
	return append([]byte(nil), keys...), nil
}

// EncodeKeyboardWrite encodes the modifier byte and keycodes for
// SET_KEYBOARD_WRITE.
func EncodeKeyboardWrite(modifier uint8, keys []uint8) []byte {
	out := make([]byte, 0, 1+len(keys))
	out = append(out, modifier)
	out = append(out, keys...)
	return out
}

// EncodeMouseButtons encodes 1..3 mouse button codes for
// SET_MOUSE_BUTTON_DOWN/UP.
func EncodeMouseButtons(buttons []uint8) ([]byte, error) {
	if len(buttons) < minButtons || len(buttons) > maxButtons {
		return nil, fmt.Errorf("%w: buttons: got %d, want %d..%d", ErrFieldCount, len(buttons), minButtons, maxButtons)
	}
	return append([]byte(nil), buttons...), nil
}

// EncodeMouseButtonPush encodes n mouse button codes for
// SET_MOUSE_BUTTON_PUSH.
func EncodeMouseButtonPush(buttons []uint8) ([]byte, error) {
	if len(buttons) == 0 {
		return nil, fmt.Errorf("%w: buttons: got 0, want >=1", ErrFieldCount)
	}
	return append([]byte(nil), buttons...), nil
}

// EncodeMouseMoveAbs encodes x/y for SET_MOUSE_MOVE_ABS; both must be in
// 0..32767.
func EncodeMouseMoveAbs(x, y int16) ([]byte, error) {
	if x < 0 || x > 32767 {
		return nil, &FieldError{Index: 0, Err: fmt.Errorf("%w: x=%d", ErrFieldValue, x)}
	}
	if y < 0 || y > 32767 {
		return nil, &FieldError{Index: 1, Err: fmt.Errorf("%w: y=%d", ErrFieldValue, y)}
	}
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], uint16(x))
	binary.BigEndian.PutUint16(out[2:4], uint16(y))
	return out, nil
}

// EncodeMouseMoveRel encodes dx/dy for SET_MOUSE_MOVE_REL.
func EncodeMouseMoveRel(dx, dy int8) []byte {
	return []byte{uint8(dx), uint8(dy)}
}

// EncodeMouseScroll encodes the wheel delta for SET_MOUSE_SCROLL.
func EncodeMouseScroll(wheel int8) []byte {
	return []byte{uint8(wheel)}
}

// --- host-side response decoders: parse the field bytes that follow a
// successful (S_OK) response. ---

// DecodeUint16 decodes a big-endian u16 response field (protocol version).
func DecodeUint16(fields []byte) (uint16, error) {
	if len(fields) < 2 {
		return 0, ErrShortResponse
	}
	return binary.BigEndian.Uint16(fields), nil
}

// DecodeUint8 decodes a single-byte response field (USB state, LED mask,
// bitmap, or count).
func DecodeUint8(fields []byte) (uint8, error) {
	if len(fields) < 1 {
		return 0, ErrShortResponse
	}
	return fields[0], nil
}

// --- periphery-side request decoders: validate and parse the field
// bytes that follow the RequestKind byte of an incoming request. On a
// validation failure they return a *FieldError identifying which field
// was bad, for E_INVALID_FIELD_VALUE (§4.7). ---

// DecodeKeyboardKeys validates and returns 1..6 keycodes.
func DecodeKeyboardKeys(fields []byte) ([]uint8, error) {
	if len(fields) < minKeys || len(fields) > maxKeys {
		return nil, &FieldError{Index: len(fields), Err: fmt.Errorf("%w: got %d, want %d..%d", ErrFieldCount, len(fields), minKeys, maxKeys)}
	}
	return fields, nil
}

// DecodeKeyboardPush validates and returns n keycodes (n >= 1).
func DecodeKeyboardPush(fields []byte) ([]uint8, error) {
	if len(fields) == 0 {
		return nil, &FieldError{Index: 0, Err: fmt.Errorf("%w: got 0, want >=1", ErrFieldCount)}
	}
	return fields, nil
}

// DecodeKeyboardWrite validates and splits modifier/keys for
// SET_KEYBOARD_WRITE.
func DecodeKeyboardWrite(fields []byte) (modifier uint8, keys []uint8, err error) {
	if len(fields) == 0 {
		return 0, nil, &FieldError{Index: 0, Err: fmt.Errorf("%w: missing modifier", ErrFieldCount)}
	}
	return fields[0], fields[1:], nil
}

// DecodeMouseButtons validates and returns 1..3 button codes.
func DecodeMouseButtons(fields []byte) ([]uint8, error) {
	if len(fields) < minButtons || len(fields) > maxButtons {
		return nil, &FieldError{Index: len(fields), Err: fmt.Errorf("%w: got %d, want %d..%d", ErrFieldCount, len(fields), minButtons, maxButtons)}
	}
	return fields, nil
}

// DecodeMouseButtonPush validates and returns n button codes (n >= 1).
func DecodeMouseButtonPush(fields []byte) ([]uint8, error) {
	if len(fields) == 0 {
		return nil, &FieldError{Index: 0, Err: fmt.Errorf("%w: got 0, want >=1", ErrFieldCount)}
	}
	return fields, nil
}

// DecodeMouseMoveAbs validates and returns x/y, each constrained to
// 0..32767.
func DecodeMouseMoveAbs(fields []byte) (x, y int16, err error) {
	if len(fields) < 4 {
		return 0, 0, &FieldError{Index: len(fields), Err: fmt.Errorf("%w: need 4 bytes", ErrFieldCount)}
	}
	ux := binary.BigEndian.Uint16(fields[0:2])
	uy := binary.BigEndian.Uint16(fields[2:4])
	if ux > 32767 {
		return 0, 0, &FieldError{Index: 0, Err: fmt.Errorf("%w: x=%d", ErrFieldValue, ux)}
	}
	if uy > 32767 {
		return 0, 0, &FieldError{Index: 1, Err: fmt.Errorf("%w: y=%d", ErrFieldValue, uy)}
	}
	return int16(ux), int16(uy), nil
}

// DecodeMouseMoveRel validates and returns dx/dy.
func DecodeMouseMoveRel(fields []byte) (dx, dy int8, err error) {
	if len(fields) < 2 {
		return 0, 0, &FieldError{Index: len(fields), Err: fmt.Errorf("%w: need 2 bytes", ErrFieldCount)}
	}
	return int8(fields[0]), int8(fields[1]), nil
}

// DecodeMouseScroll validates and returns the wheel delta.
func DecodeMouseScroll(fields []byte) (int8, error) {
	if len(fields) < 1 {
		return 0, &FieldError{Index: 0, Err: fmt.Errorf("%w: need 1 byte", ErrFieldCount)}
	}
	return int8(fields[0]), nil
}

// KeyBitmap packs a down/up acceptance bitmap LSB-first: bit i set means
// fields[i] was accepted. This resolves the Open Question in §9 in favor
// of the LSB-first mapping described in §4.2.
func KeyBitmap(accepted []bool) uint8 {
	var bm uint8
	for i, ok := range accepted {
		if ok {
			bm |= 1 << uint(i)
		}
	}
	return bm
}
