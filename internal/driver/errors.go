package driver

import (
	"errors"
	"fmt"

	"github.com/vkvmbridge/host/internal/protocol"
)

// ErrNotConnected is returned by request methods when the driver has
// not completed the handshake, or has since disconnected (§7).
var ErrNotConnected = errors.New("driver: not connected")

// ErrAlreadyOpen is returned by Open when called on a driver that is
// already open.
var ErrAlreadyOpen = errors.New("driver: already open")

// DisconnectError wraps the reason a connection was torn down, so
// callers can distinguish it from transient request errors with
// errors.As (§7).
type DisconnectError struct {
	Reason protocol.DisconnectReason
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("driver: disconnected: %s", e.Reason)
}

// PeripheryError wraps a non-OK PeripheryResult returned for a single
// request, so callers can errors.As it out of a response callback's
// error path without string matching (§7).
type PeripheryError struct {
	Result protocol.PeripheryResult
	Field  int // -1 unless Result == ResultInvalidFieldValue
}

func (e *PeripheryError) Error() string {
	if e.Field >= 0 {
		return fmt.Sprintf("driver: periphery error: %s (field %d)", e.Result, e.Field)
	}
	return fmt.Sprintf("driver: periphery error: %s", e.Result)
}

// resultError wraps a non-OK PeripheryResult into a *PeripheryError,
// pulling the field index out of the response payload for
// ResultInvalidFieldValue. It returns nil for ResultOK so callers can
// treat it like any other error-returning path.
func resultError(result protocol.PeripheryResult, fields []byte) error {
	if result == protocol.ResultOK {
		return nil
	}
	field := -1
	if result == protocol.ResultInvalidFieldValue && len(fields) >= 1 {
		field = int(fields[0])
	}
	return &PeripheryError{Result: result, Field: field}
}
