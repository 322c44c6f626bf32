package ocpp

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeDecodeCallRoundTrip(t *testing.T) {
	// Arrange
	raw, err := EncodeCall("msg-1", "Heartbeat", struct{}{})
	if err != nil {
		t.Fatalf("EncodeCall: %v", err)
	}

	// Act
	call, result, callErr, err := Decode(raw)

	// Assert
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result != nil || callErr != nil {
		t.Fatalf("expected only a Call, got result=%v callErr=%v", result, callErr)
	}
	if call.MessageID != "msg-1" || call.Action != "Heartbeat" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestEncodeDecodeCallResultRoundTrip(t *testing.T) {
	type payload struct {
		CurrentTime string `json:"currentTime"`
	}
	raw, err := EncodeCallResult("msg-2", payload{CurrentTime: "2026-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("EncodeCallResult: %v", err)
	}

	_, result, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var got payload
	if err := json.Unmarshal(result.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.CurrentTime != "2026-01-01T00:00:00Z" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestEncodeDecodeCallErrorRoundTrip(t *testing.T) {
	raw, err := EncodeCallError("msg-3", "NotSupported", "action not implemented", nil)
	if err != nil {
		t.Fatalf("EncodeCallError: %v", err)
	}

	_, _, callErr, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if callErr.ErrorCode != "NotSupported" || callErr.ErrorDescription != "action not implemented" {
		t.Fatalf("unexpected call error: %+v", callErr)
	}
}

func TestDecodeMalformedEnvelope(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`[2, "id"]`),
		[]byte(`[9, "id", "Foo", {}]`),
		[]byte(`[2, "id", "Foo"]`),
	}
	for _, c := range cases {
		_, _, _, err := Decode(c)
		if err == nil {
			t.Fatalf("expected error decoding %s", c)
		}
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("expected ErrProtocolViolation, got %v", err)
		}
	}
}

func TestRemoteErrorUnwrap(t *testing.T) {
	err := &RemoteError{Code: "InternalError", Description: "boom"}
	if !errors.Is(err, ErrCallError) {
		t.Fatalf("expected RemoteError to unwrap to ErrCallError")
	}
}
