package csms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

const defaultCallTimeout = 30 * time.Second

type pendingCall struct {
	resultCh chan pendingResult
}

type pendingResult struct {
	payload []byte
	err     error
}

// Session is the per-connection CSMS-side agent (C4): one station's live
// WebSocket, its own pending-call map, and the station state (last status,
// open transactions) the registry's parent Backend exposes to the control
// plane. It mirrors internal/agent.Agent's envelope machinery turned around
// the other way: here the station sends CALLs and the CSMS answers them,
// while CSMS-originated CALLs (SendChargingProfile etc.) travel the
// opposite direction and are serialized one-in-flight per station.
type Session struct {
	stationID string
	conn      Transport
	log       *zap.Logger

	registry     *Registry
	blocklist    idTagBlocklist
	metrics      MetricsSink
	history      HistoryStore
	heartbeatSec int

	// onFinalized, when set, observes every closed transaction after the
	// history store has seen it. The backend uses it to announce the
	// transaction on the event bus.
	onFinalized func(TransactionRecord)

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingCall
	msgSeq    uint64

	outboundMu sync.Mutex // one CSMS-originated call in flight at a time

	state stationState

	closed atomic.Bool
}

func newSession(stationID string, conn Transport, registry *Registry, blocklist idTagBlocklist, metrics MetricsSink, history HistoryStore, heartbeatSec int, log *zap.Logger) *Session {
	if heartbeatSec <= 0 {
		heartbeatSec = defaultHeartbeatIntervalSec
	}
	return &Session{
		stationID:    stationID,
		conn:         conn,
		log:          log,
		registry:     registry,
		blocklist:    blocklist,
		metrics:      metrics,
		history:      history,
		heartbeatSec: heartbeatSec,
		pending:      make(map[string]*pendingCall),
		state:        stationState{transactions: make(map[int]*TransactionRecord)},
	}
}

// Serve runs the session's read loop until the connection drops or is
// closed, routing inbound CALLs (charge-point -> CSMS) and resolving
// pending CSMS-originated CALLs on replies. It returns when the session
// ends; the caller (Backend.handleConnection) is responsible for registry
// cleanup.
func (s *Session) Serve() {
	for {
		raw, err := s.conn.Receive()
		if err != nil {
			s.teardown(ocpp.ErrStationDisconnected)
			return
		}
		call, result, callErr, err := ocpp.Decode(raw)
		if err != nil {
			s.log.Warn("dropping malformed frame", zap.String("station", s.stationID), zap.Error(err))
			_ = s.conn.Close()
			s.teardown(ocpp.ErrProtocolViolation)
			return
		}
		switch {
		case call != nil:
			s.handleInboundCall(*call)
		case result != nil:
			s.resolvePending(result.MessageID, result.Payload, nil)
		case callErr != nil:
			s.resolvePending(callErr.MessageID, nil, &ocpp.RemoteError{Code: callErr.ErrorCode, Description: callErr.ErrorDescription})
		}
	}
}

func (s *Session) teardown(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[string]*pendingCall)
	s.pendingMu.Unlock()
	for _, p := range pending {
		p.resultCh <- pendingResult{err: err}
	}
}

// Close closes the underlying transport; used when the registry replaces a
// stale session for the same station id.
func (s *Session) Close() error {
	s.teardown(ocpp.ErrStationDisconnected)
	return s.conn.Close()
}

func (s *Session) send(raw []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Send(raw)
}

func (s *Session) nextMessageID() string {
	seq := atomic.AddUint64(&s.msgSeq, 1)
	return fmt.Sprintf("csms-%s-%d", s.stationID, seq)
}

// sendCall issues a CSMS-originated CALL and blocks for its reply or ctx's
// deadline (30s by default).
func (s *Session) sendCall(ctx context.Context, action string, payload interface{}) ([]byte, error) {
	if s.closed.Load() {
		return nil, ocpp.ErrStationDisconnected
	}
	id := s.nextMessageID()
	raw, err := ocpp.EncodeCall(id, action, payload)
	if err != nil {
		return nil, err
	}
	resultCh := make(chan pendingResult, 1)
	s.pendingMu.Lock()
	s.pending[id] = &pendingCall{resultCh: resultCh}
	s.pendingMu.Unlock()

	if err := s.send(raw); err != nil {
		s.removePending(id)
		return nil, err
	}

	select {
	case res := <-resultCh:
		return res.payload, res.err
	case <-ctx.Done():
		s.removePending(id)
		return nil, fmt.Errorf("%w: %s", ocpp.ErrCallTimeout, action)
	}
}

func (s *Session) removePending(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Session) resolvePending(id string, payload []byte, err error) {
	s.pendingMu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
	if !ok {
		s.log.Debug("unmatched reply", zap.String("station", s.stationID), zap.String("messageId", id))
		return
	}
	p.resultCh <- pendingResult{payload: payload, err: err}
}

// callWithDefaultTimeout is the CSMS-originated-call helper every SendX
// method in calls.go funnels through: it serializes on outboundMu so
// concurrent callers queue behind the in-flight call.
func (s *Session) callWithDefaultTimeout(action string, payload interface{}) (json.RawMessage, error) {
	s.outboundMu.Lock()
	defer s.outboundMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	raw, err := s.sendCall(ctx, action, payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// LastStatus returns the most recently reported StatusNotification status.
func (s *Session) LastStatus() string {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.state.lastStatus
}

// Transactions returns a snapshot of the station's currently open
// transactions, keyed by connector id.
func (s *Session) Transactions() map[int]TransactionRecord {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	out := make(map[int]TransactionRecord, len(s.state.transactions))
	for k, v := range s.state.transactions {
		out[k] = *v
	}
	return out
}
