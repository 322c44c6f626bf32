package ocpp

import "errors"

// Error taxonomy for the OCPP transport and call layer shared by the station
// agent (C3) and the CSMS backend (C4). Callers branch on these with
// errors.Is rather than matching strings.
var (
	ErrTransportFailure    = errors.New("ocpp: transport failure")
	ErrCallTimeout         = errors.New("ocpp: call timed out")
	ErrCallError           = errors.New("ocpp: peer returned callerror")
	ErrProtocolViolation   = errors.New("ocpp: protocol violation")
	ErrRejected            = errors.New("ocpp: request rejected")
	ErrStationDisconnected = errors.New("ocpp: station disconnected")
	ErrCancelled           = errors.New("ocpp: operation cancelled")
	ErrValidation          = errors.New("ocpp: validation failed")
)

// RemoteError wraps a CALLERROR reply, preserving the code/description the
// peer sent so callers can surface it verbatim.
type RemoteError struct {
	Code        string
	Description string
}

func (e *RemoteError) Error() string {
	return "ocpp: " + e.Code + ": " + e.Description
}

func (e *RemoteError) Unwrap() error { return ErrCallError }
