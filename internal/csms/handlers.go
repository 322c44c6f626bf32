package csms

import (
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

// Transport is the wire-level dependency of a Session, the server-side twin
// of internal/agent.Transport. Production sessions wrap an accepted
// gorilla/websocket connection (see server.go); tests substitute an
// in-memory fake.
type Transport interface {
	Send(raw []byte) error
	Receive() ([]byte, error)
	Close() error
}

// MetricsSink receives best-effort counters from the CSMS side, mirroring
// internal/agent.MetricsSink so a single Prometheus-backed implementation
// can satisfy both.
type MetricsSink interface {
	StationConnected(stationID string)
	StationDisconnected(stationID string)
	TransactionStarted(stationID string)
	TransactionStopped(stationID string)
}

type nopSink struct{}

func (nopSink) StationConnected(string)    {}
func (nopSink) StationDisconnected(string) {}
func (nopSink) TransactionStarted(string)  {}
func (nopSink) TransactionStopped(string)  {}

// HistoryStore receives finalized transaction records. internal/history
// provides a Postgres-backed implementation; the default is a no-op.
type HistoryStore interface {
	RecordTransaction(TransactionRecord) error
}

type noopHistory struct{}

func (noopHistory) RecordTransaction(TransactionRecord) error { return nil }

// inboundHandler answers one station -> CSMS CALL. Like the station
// agent's dispatch table, this is a static map built at init rather than
// reflection-based routing.
type inboundHandler func(s *Session, payload json.RawMessage) (interface{}, error)

var inboundHandlers = map[string]inboundHandler{
	"BootNotification":   (*Session).handleBootNotification,
	"Heartbeat":          (*Session).handleHeartbeat,
	"Authorize":          (*Session).handleAuthorize,
	"StartTransaction":   (*Session).handleStartTransaction,
	"MeterValues":        (*Session).handleMeterValues,
	"StopTransaction":    (*Session).handleStopTransaction,
	"StatusNotification": (*Session).handleStatusNotification,
}

func (s *Session) handleInboundCall(call ocpp.Call) {
	handler, ok := inboundHandlers[call.Action]
	if !ok {
		raw, _ := ocpp.EncodeCallError(call.MessageID, "NotImplemented", "unknown action "+call.Action, nil)
		_ = s.send(raw)
		return
	}
	resp, err := handler(s, call.Payload)
	if err != nil {
		raw, _ := ocpp.EncodeCallError(call.MessageID, "InternalError", err.Error(), nil)
		_ = s.send(raw)
		return
	}
	raw, err := ocpp.EncodeCallResult(call.MessageID, resp)
	if err != nil {
		return
	}
	_ = s.send(raw)
}

// defaultHeartbeatIntervalSec is the interval the CSMS advertises in
// BootNotification.conf when the config does not set one; stations adopt it
// on boot.
const defaultHeartbeatIntervalSec = 300

func (s *Session) handleBootNotification(payload json.RawMessage) (interface{}, error) {
	_ = unmarshalOrZero[bootNotificationReq](payload)
	s.log.Info("BootNotification accepted", zap.String("station", s.stationID))
	return bootNotificationResp{
		Status:      "Accepted",
		CurrentTime: time.Now().UTC().Format(time.RFC3339),
		Interval:    s.heartbeatSec,
	}, nil
}

func (s *Session) handleHeartbeat(payload json.RawMessage) (interface{}, error) {
	return heartbeatResp{CurrentTime: time.Now().UTC().Format(time.RFC3339)}, nil
}

func (s *Session) handleAuthorize(payload json.RawMessage) (interface{}, error) {
	req := unmarshalOrZero[authorizeReq](payload)
	status := "Accepted"
	if s.blocklist.blocked(req.IDTag) {
		status = "Blocked"
		s.log.Info("Authorize blocked", zap.String("station", s.stationID), zap.String("idTag", req.IDTag))
	}
	return authorizeResp{IDTagInfo: idTagInfo{Status: status}}, nil
}

func (s *Session) handleStartTransaction(payload json.RawMessage) (interface{}, error) {
	req := unmarshalOrZero[startTransactionReq](payload)
	txID := s.registry.nextTransactionID()

	rec := &TransactionRecord{
		StationID:     s.stationID,
		ConnectorID:   req.ConnectorID,
		TransactionID: txID,
		IDTag:         req.IDTag,
		MeterStartWh:  req.MeterStart,
		StartTime:     time.Now().UTC(),
	}
	s.state.mu.Lock()
	s.state.transactions[req.ConnectorID] = rec
	s.state.mu.Unlock()
	s.metrics.TransactionStarted(s.stationID)

	status := "Accepted"
	if s.blocklist.blocked(req.IDTag) {
		status = "Blocked"
	}
	return startTransactionResp{TransactionID: txID, IDTagInfo: idTagInfo{Status: status}}, nil
}

func (s *Session) handleMeterValues(payload json.RawMessage) (interface{}, error) {
	req := unmarshalOrZero[meterValuesReq](payload)
	s.state.mu.Lock()
	if rec, ok := s.state.transactions[req.ConnectorID]; ok && rec.TransactionID == req.TransactionID {
		for _, mv := range req.MeterValue {
			for _, sv := range mv.SampledValue {
				if sv.Measurand == "Energy.Active.Import.Register" || sv.Measurand == "" {
					if wh, err := strconv.ParseFloat(sv.Value, 64); err == nil {
						rec.MeterStopWh = int(wh)
					}
				}
			}
		}
	}
	s.state.mu.Unlock()
	return struct{}{}, nil
}

func (s *Session) handleStopTransaction(payload json.RawMessage) (interface{}, error) {
	req := unmarshalOrZero[stopTransactionReq](payload)
	s.state.mu.Lock()
	var finalized *TransactionRecord
	for connID, rec := range s.state.transactions {
		if rec.TransactionID == req.TransactionID {
			rec.MeterStopWh = req.MeterStop
			rec.StopTime = time.Now().UTC()
			rec.Closed = true
			finalized = &(*rec)
			delete(s.state.transactions, connID)
			break
		}
	}
	s.state.mu.Unlock()
	s.metrics.TransactionStopped(s.stationID)
	if finalized != nil {
		if s.history != nil {
			if err := s.history.RecordTransaction(*finalized); err != nil {
				s.log.Warn("history.RecordTransaction failed", zap.Error(err))
			}
		}
		if s.onFinalized != nil {
			s.onFinalized(*finalized)
		}
	}
	return stopTransactionResp{IDTagInfo: idTagInfo{Status: "Accepted"}}, nil
}

func (s *Session) handleStatusNotification(payload json.RawMessage) (interface{}, error) {
	req := unmarshalOrZero[statusNotificationReq](payload)
	s.state.mu.Lock()
	s.state.lastStatus = req.Status
	s.state.mu.Unlock()
	return struct{}{}, nil
}
