package csms

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/busevents"
	"github.com/seu-repo/sigec-swarm/internal/mocks"
	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

// fakeConn is an in-memory Transport double: the test plays the station,
// feeding frames to the session and reading its replies.
type fakeConn struct {
	toSession   chan []byte
	fromSession chan []byte
	closeOnce   sync.Once
	closed      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toSession:   make(chan []byte, 64),
		fromSession: make(chan []byte, 64),
		closed:      make(chan struct{}),
	}
}

func (c *fakeConn) Send(raw []byte) error {
	select {
	case c.fromSession <- raw:
		return nil
	case <-c.closed:
		return ocpp.ErrTransportFailure
	}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case raw := <-c.toSession:
		return raw, nil
	case <-c.closed:
		return nil, ocpp.ErrTransportFailure
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// recordingHistory captures finalized transaction records.
type recordingHistory struct {
	mu      sync.Mutex
	records []TransactionRecord
}

func (h *recordingHistory) RecordTransaction(rec TransactionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *recordingHistory) recorded() []TransactionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]TransactionRecord, len(h.records))
	copy(out, h.records)
	return out
}

func newTestSession(t *testing.T, stationID string, blocked ...string) (*Session, *fakeConn, *recordingHistory) {
	t.Helper()
	conn := newFakeConn()
	hist := &recordingHistory{}
	reg := NewRegistry()
	s := newSession(stationID, conn, reg, BlockList(blocked), nopSink{}, hist, 300, zap.NewNop())
	reg.Register(stationID, s, false)
	go s.Serve()
	t.Cleanup(func() { _ = s.Close() })
	return s, conn, hist
}

// callSession sends one CALL as the station and decodes the CALLRESULT.
func callSession(t *testing.T, conn *fakeConn, action string, payload interface{}) json.RawMessage {
	t.Helper()
	raw, err := ocpp.EncodeCall("msg-"+action, action, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", action, err)
	}
	conn.toSession <- raw

	select {
	case reply := <-conn.fromSession:
		_, result, callErr, err := ocpp.Decode(reply)
		if err != nil {
			t.Fatalf("decode reply for %s: %v", action, err)
		}
		if callErr != nil {
			t.Fatalf("%s returned CALLERROR %s: %s", action, callErr.ErrorCode, callErr.ErrorDescription)
		}
		return result.Payload
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply for %s", action)
		return nil
	}
}

func TestBootNotificationAdvertisesHeartbeatInterval(t *testing.T) {
	_, conn, _ := newTestSession(t, "PY-SIM-0001")

	raw := callSession(t, conn, "BootNotification", bootNotificationReq{
		ChargePointVendor: "Acme", ChargePointModel: "Sim",
	})
	var resp bootNotificationResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "Accepted" {
		t.Fatalf("expected Accepted, got %s", resp.Status)
	}
	if resp.Interval != 300 {
		t.Fatalf("expected interval 300, got %d", resp.Interval)
	}
	if !strings.HasSuffix(resp.CurrentTime, "Z") {
		t.Fatalf("expected UTC timestamp with Z suffix, got %s", resp.CurrentTime)
	}
}

func TestAuthorizeBlocklist(t *testing.T) {
	_, conn, _ := newTestSession(t, "PY-SIM-0001", "STOLEN-TAG")

	tests := []struct {
		idTag string
		want  string
	}{
		{"GOOD-TAG", "Accepted"},
		{"STOLEN-TAG", "Blocked"},
	}
	for _, tc := range tests {
		t.Run(tc.idTag, func(t *testing.T) {
			raw := callSession(t, conn, "Authorize", authorizeReq{IDTag: tc.idTag})
			var resp authorizeResp
			if err := json.Unmarshal(raw, &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.IDTagInfo.Status != tc.want {
				t.Fatalf("idTag %s: expected %s, got %s", tc.idTag, tc.want, resp.IDTagInfo.Status)
			}
		})
	}
}

func TestTransactionLifecycleRecordsHistory(t *testing.T) {
	s, conn, hist := newTestSession(t, "PY-SIM-0001")

	raw := callSession(t, conn, "StartTransaction", startTransactionReq{
		ConnectorID: 1, IDTag: "TAG1", MeterStart: 0,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	var startResp startTransactionResp
	if err := json.Unmarshal(raw, &startResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if startResp.TransactionID <= 0 {
		t.Fatalf("expected positive transaction id, got %d", startResp.TransactionID)
	}

	callSession(t, conn, "MeterValues", meterValuesReq{
		ConnectorID:   1,
		TransactionID: startResp.TransactionID,
		MeterValue: []meterValue{{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			SampledValue: []sampledValue{
				{Value: "2500.0", Measurand: "Energy.Active.Import.Register", Unit: "Wh"},
			},
		}},
	})

	open := s.Transactions()
	if rec, ok := open[1]; !ok {
		t.Fatalf("expected an open transaction on connector 1")
	} else if rec.MeterStopWh != 2500 {
		t.Fatalf("expected aggregate 2500 Wh, got %d", rec.MeterStopWh)
	}

	callSession(t, conn, "StopTransaction", stopTransactionReq{
		TransactionID: startResp.TransactionID,
		MeterStop:     5000,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Reason:        "Local",
	})

	if len(s.Transactions()) != 0 {
		t.Fatalf("expected no open transactions after StopTransaction")
	}
	recs := hist.recorded()
	if len(recs) != 1 {
		t.Fatalf("expected 1 finalized record, got %d", len(recs))
	}
	if recs[0].MeterStopWh != 5000 || !recs[0].Closed {
		t.Fatalf("unexpected finalized record: %+v", recs[0])
	}
}

// TestFinalizedTransactionHitsEventBus: a StopTransaction must surface on
// the broker as a finalized-transaction event for the invoice worker.
func TestFinalizedTransactionHitsEventBus(t *testing.T) {
	conn := newFakeConn()
	reg := NewRegistry()
	s := newSession("PY-SIM-0001", conn, reg, nil, nopSink{}, noopHistory{}, 300, zap.NewNop())
	reg.Register("PY-SIM-0001", s, false)

	b := NewBackend(Config{}, nil, nil, zap.NewNop())
	bus := mocks.NewMockMessageQueue()
	b.SetEventBus(bus)
	s.onFinalized = b.publishFinalized

	go s.Serve()
	t.Cleanup(func() { _ = s.Close() })

	raw := callSession(t, conn, "StartTransaction", startTransactionReq{
		ConnectorID: 1, IDTag: "TAG1",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	var startResp startTransactionResp
	if err := json.Unmarshal(raw, &startResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	callSession(t, conn, "StopTransaction", stopTransactionReq{
		TransactionID: startResp.TransactionID,
		MeterStop:     4200,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Reason:        "Local",
	})

	msgs := bus.GetPublishedMessages(busevents.SubjectTransactionFinalized)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 finalized-transaction event, got %d", len(msgs))
	}
	var event busevents.TransactionFinalizedEvent
	if err := json.Unmarshal(msgs[0], &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.StationID != "PY-SIM-0001" || event.EnergyWh != 4200 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.TransactionID != startResp.TransactionID {
		t.Fatalf("event carries wrong transaction id: %+v", event)
	}
}

func TestTransactionIDsMonotonicAcrossSessions(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	reg := NewRegistry()
	s1 := newSession("PY-SIM-0001", conn1, reg, nil, nopSink{}, noopHistory{}, 300, zap.NewNop())
	s2 := newSession("PY-SIM-0002", conn2, reg, nil, nopSink{}, noopHistory{}, 300, zap.NewNop())
	reg.Register("PY-SIM-0001", s1, false)
	reg.Register("PY-SIM-0002", s2, false)
	go s1.Serve()
	go s2.Serve()
	t.Cleanup(func() { _ = s1.Close(); _ = s2.Close() })

	var last int
	for i := 0; i < 3; i++ {
		conn := conn1
		if i%2 == 1 {
			conn = conn2
		}
		raw := callSession(t, conn, "StartTransaction", startTransactionReq{
			ConnectorID: 1, IDTag: "TAG1",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		var resp startTransactionResp
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.TransactionID <= last {
			t.Fatalf("transaction ids must be monotonically increasing: %d after %d", resp.TransactionID, last)
		}
		last = resp.TransactionID
	}
}

func TestUnknownActionGetsCallError(t *testing.T) {
	_, conn, _ := newTestSession(t, "PY-SIM-0001")

	raw, _ := ocpp.EncodeCall("msg-1", "DataTransfer", struct{}{})
	conn.toSession <- raw

	select {
	case reply := <-conn.fromSession:
		_, _, callErr, err := ocpp.Decode(reply)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if callErr == nil || callErr.ErrorCode != "NotImplemented" {
			t.Fatalf("expected NotImplemented CALLERROR, got %v", callErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply")
	}
}

// TestCSMSOriginatedCallRoundTrip drives a SetChargingProfile from the CSMS
// helpers through the session's pending map, with the test answering as the
// station.
func TestCSMSOriginatedCallRoundTrip(t *testing.T) {
	conn := newFakeConn()
	reg := NewRegistry()
	s := newSession("PY-SIM-0001", conn, reg, nil, nopSink{}, noopHistory{}, 300, zap.NewNop())
	reg.Register("PY-SIM-0001", s, false)
	go s.Serve()
	t.Cleanup(func() { _ = s.Close() })

	b := NewBackend(Config{}, nil, nil, zap.NewNop())
	b.registry = reg

	// Station side: accept whatever SetChargingProfile arrives.
	go func() {
		raw := <-conn.fromSession
		call, _, _, err := ocpp.Decode(raw)
		if err != nil || call == nil || call.Action != "SetChargingProfile" {
			return
		}
		reply, _ := ocpp.EncodeCallResult(call.MessageID, statusOnlyResp{Status: "Accepted"})
		conn.toSession <- reply
	}()

	result, err := b.SendPeakShaving("PY-SIM-0001", 7400)
	if err != nil {
		t.Fatalf("SendPeakShaving: %v", err)
	}
	if result.Status != "Accepted" || result.ProfileID <= 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCSMSOriginatedCallFailsWhenDisconnected(t *testing.T) {
	b := NewBackend(Config{}, nil, nil, zap.NewNop())
	_, err := b.SendPeakShaving("PY-SIM-MISSING", 7400)
	if !errors.Is(err, ocpp.ErrStationDisconnected) {
		t.Fatalf("expected ErrStationDisconnected, got %v", err)
	}
}

func TestSessionTeardownFailsPendingCalls(t *testing.T) {
	conn := newFakeConn()
	reg := NewRegistry()
	s := newSession("PY-SIM-0001", conn, reg, nil, nopSink{}, noopHistory{}, 300, zap.NewNop())
	reg.Register("PY-SIM-0001", s, false)
	go s.Serve()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.callWithDefaultTimeout("GetCompositeSchedule", getCompositeScheduleReq{ConnectorID: 1, DurationSec: 600})
		errCh <- err
	}()

	// Let the call register in the pending map, then drop the connection.
	<-conn.fromSession
	_ = conn.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected pending call to fail on disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending call did not fail on disconnect")
	}
}

func TestScenarioValidation(t *testing.T) {
	b := NewBackend(Config{}, nil, nil, zap.NewNop())

	tests := []struct {
		name     string
		scenario string
		params   ScenarioParams
	}{
		{"unknown scenario", "load_shedding", ScenarioParams{}},
		{"peak_shaving missing maxW", "peak_shaving", ScenarioParams{}},
		{"time_of_use inverted hours", "time_of_use", ScenarioParams{OffPeakW: 22000, PeakW: 7400, PeakStartHour: 21, PeakEndHour: 18}},
		{"energy_cap missing txId", "energy_cap", ScenarioParams{DurationSec: 3600, PowerW: 7400}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.SendTestProfile("PY-SIM-0001", tc.scenario, tc.params)
			if !errors.Is(err, ocpp.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
