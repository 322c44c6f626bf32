package agent

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

// fakeTransport is an in-memory Transport double driven by a test-side
// fake CSMS goroutine, so the lifecycle/meter loops exercise real framing
// and correlation logic without a network.
type fakeTransport struct {
	toAgent   chan []byte
	fromAgent chan []byte
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		toAgent:   make(chan []byte, 64),
		fromAgent: make(chan []byte, 64),
		closed:    make(chan struct{}),
	}
}

func (t *fakeTransport) Connect(ctx context.Context) error { return nil }

func (t *fakeTransport) Send(raw []byte) error {
	select {
	case t.fromAgent <- raw:
		return nil
	case <-t.closed:
		return ocpp.ErrTransportFailure
	}
}

func (t *fakeTransport) Receive() ([]byte, error) {
	select {
	case raw := <-t.toAgent:
		return raw, nil
	case <-t.closed:
		return nil, ocpp.ErrTransportFailure
	}
}

func (t *fakeTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

// runFakeCSMS answers BootNotification/Authorize/StartTransaction/
// MeterValues/StopTransaction/StatusNotification/Heartbeat with canonical
// Accepted replies, recording every StartTransaction, every MeterValues
// energy reading and every StopTransaction reason, until the transport
// closes.
func runFakeCSMS(t *testing.T, tr *fakeTransport) (txStarted chan int, meterEnergies chan float64, stopped chan string) {
	t.Helper()
	txStarted = make(chan int, 8)
	meterEnergies = make(chan float64, 64)
	stopped = make(chan string, 8)
	txSeq := 0

	go func() {
		for {
			select {
			case raw := <-tr.fromAgent:
				call, _, _, err := ocpp.Decode(raw)
				if err != nil || call == nil {
					continue
				}
				var resp interface{}
				switch call.Action {
				case "BootNotification":
					resp = map[string]interface{}{"status": "Accepted", "currentTime": time.Now().UTC().Format(time.RFC3339), "interval": 3600}
				case "Heartbeat":
					resp = map[string]interface{}{"currentTime": time.Now().UTC().Format(time.RFC3339)}
				case "StatusNotification":
					resp = map[string]interface{}{}
				case "Authorize":
					resp = map[string]interface{}{"idTagInfo": map[string]string{"status": "Accepted"}}
				case "StartTransaction":
					txSeq++
					txStarted <- txSeq
					resp = map[string]interface{}{"transactionId": txSeq, "idTagInfo": map[string]string{"status": "Accepted"}}
				case "MeterValues":
					var req meterValuesReq
					_ = json.Unmarshal(call.Payload, &req)
					for _, mv := range req.MeterValue {
						for _, sv := range mv.SampledValue {
							if sv.Measurand == "Energy.Active.Import.Register" {
								if e, err := strconv.ParseFloat(sv.Value, 64); err == nil {
									meterEnergies <- e
								}
							}
						}
					}
					resp = map[string]interface{}{}
				case "StopTransaction":
					var req stopTransactionReq
					_ = json.Unmarshal(call.Payload, &req)
					stopped <- req.Reason
					resp = map[string]interface{}{"idTagInfo": map[string]string{"status": "Accepted"}}
				default:
					resp = map[string]interface{}{}
				}
				out, _ := ocpp.EncodeCallResult(call.MessageID, resp)
				select {
				case tr.toAgent <- out:
				case <-tr.closed:
					return
				}
			case <-tr.closed:
				return
			}
		}
	}()
	return
}

func testProfile() Profile {
	return Profile{
		Name:                      "test",
		ConnectorID:               1,
		Vendor:                    "Acme",
		Model:                     "Sim",
		FirmwareVersion:           "1.0",
		NominalVoltage:            230,
		HeartbeatIntervalSec:      3600,
		IdleBetweenSessionsMinSec: 60,
		IdleBetweenSessionsMaxSec: 60,
		SampleIntervalSec:         1,
		EnergyStepMinWh:           1000,
		EnergyStepMaxWh:           1000,
		IDTags:                    []string{"TAG1"},
		ChargeIfPriceBelow: 20,
		MaxEnergyKWh:       5,
		// No peak hours: lifecycle tests must not depend on the wall
		// clock; peak behavior is covered by the policy tests.
		AllowPeakHours: false,
		PeakHours:      map[int]struct{}{},
	}
}

// TestHappySessionReachesEnergyCap runs a full session with no price or
// peak blocks: the meter loop must stop once accumulated energy first
// reaches the profile's cap and StopTransaction must report it.
func TestHappySessionReachesEnergyCap(t *testing.T) {
	a := New("PY-SIM-TEST", testProfile(), "ws://unused", 10, nil)
	a.transport = newFakeTransport()

	a.Start()
	defer a.Stop()

	tr := a.transport.(*fakeTransport)
	_, meterEnergies, stopped := runFakeCSMS(t, tr)

	var lastEnergy float64
	timeout := time.After(15 * time.Second)
	for {
		select {
		case e := <-meterEnergies:
			lastEnergy = e
			if lastEnergy >= 5000 {
				goto doneMeter
			}
		case <-timeout:
			t.Fatalf("timed out waiting for energy cap; last seen %v", lastEnergy)
		}
	}
doneMeter:

	select {
	case reason := <-stopped:
		if reason == "" {
			t.Fatalf("expected a non-empty StopTransaction reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("StopTransaction was never sent")
	}

	logs := a.Logs()
	joined := strings.Join(logs, "\n")
	if !strings.Contains(joined, "Charging started") {
		t.Fatalf("expected logs to mention charging started, got: %s", joined)
	}
	if !strings.Contains(joined, "Charging stopped") {
		t.Fatalf("expected logs to mention charging stopped, got: %s", joined)
	}
}
