// Package ocpp implements the OCPP 1.6J wire envelope: encoding, decoding,
// and the shared error taxonomy used by both the station agent (C3) and the
// CSMS backend (C4). It carries no action-specific payload types; those are
// owned by the packages that speak them, with request/response structs kept
// local to the handler files rather than in a shared types package.
package ocpp

import (
	"encoding/json"
	"fmt"
)

const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Subprotocol is the WebSocket subprotocol header both ends negotiate.
const Subprotocol = "ocpp1.6"

type Call struct {
	MessageID string
	Action    string
	Payload   json.RawMessage
}

type CallResult struct {
	MessageID string
	Payload   json.RawMessage
}

type CallError struct {
	MessageID        string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

func EncodeCall(messageID, action string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal call payload: %w", err)
	}
	return json.Marshal([]interface{}{MessageTypeCall, messageID, action, json.RawMessage(raw)})
}

func EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal call result payload: %w", err)
	}
	return json.Marshal([]interface{}{MessageTypeCallResult, messageID, json.RawMessage(raw)})
}

func EncodeCallError(messageID, code, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = struct{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("ocpp: marshal call error details: %w", err)
	}
	return json.Marshal([]interface{}{MessageTypeCallError, messageID, code, description, json.RawMessage(raw)})
}

// Decode parses a raw frame into exactly one of Call, CallResult, CallError.
// Exactly one return value is non-nil when err is nil.
func Decode(raw []byte) (*Call, *CallResult, *CallError, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if len(envelope) < 3 {
		return nil, nil, nil, fmt.Errorf("%w: envelope has %d elements", ErrProtocolViolation, len(envelope))
	}

	var msgType int
	if err := json.Unmarshal(envelope[0], &msgType); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: message type: %v", ErrProtocolViolation, err)
	}

	var messageID string
	if err := json.Unmarshal(envelope[1], &messageID); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: message id: %v", ErrProtocolViolation, err)
	}

	switch msgType {
	case MessageTypeCall:
		if len(envelope) != 4 {
			return nil, nil, nil, fmt.Errorf("%w: CALL needs 4 elements, got %d", ErrProtocolViolation, len(envelope))
		}
		var action string
		if err := json.Unmarshal(envelope[2], &action); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: action: %v", ErrProtocolViolation, err)
		}
		return &Call{MessageID: messageID, Action: action, Payload: envelope[3]}, nil, nil, nil
	case MessageTypeCallResult:
		if len(envelope) != 3 {
			return nil, nil, nil, fmt.Errorf("%w: CALLRESULT needs 3 elements, got %d", ErrProtocolViolation, len(envelope))
		}
		return nil, &CallResult{MessageID: messageID, Payload: envelope[2]}, nil, nil
	case MessageTypeCallError:
		if len(envelope) != 5 {
			return nil, nil, nil, fmt.Errorf("%w: CALLERROR needs 5 elements, got %d", ErrProtocolViolation, len(envelope))
		}
		var code, description string
		if err := json.Unmarshal(envelope[2], &code); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: error code: %v", ErrProtocolViolation, err)
		}
		if err := json.Unmarshal(envelope[3], &description); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: error description: %v", ErrProtocolViolation, err)
		}
		return nil, nil, &CallError{MessageID: messageID, ErrorCode: code, ErrorDescription: description, ErrorDetails: envelope[4]}, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown message type %d", ErrProtocolViolation, msgType)
	}
}
