package agent

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
	"github.com/seu-repo/sigec-swarm/internal/profile"
)

// MetricsSink receives best-effort counters from an agent's lifecycle. The
// zero value (nopSink, set by New when none is supplied) is always
// usable; a real sink is wired in by the host binary. Keeping this on an
// interface is what lets internal/metrics's Prometheus implementation stay
// entirely off the hot OCPP path when it is not configured.
type MetricsSink interface {
	SessionStarted(stationID string)
	SessionStopped(stationID string)
	CallTimedOut(stationID, action string)
	ProfileApplied(stationID string)
}

type nopSink struct{}

func (nopSink) SessionStarted(string)     {}
func (nopSink) SessionStopped(string)     {}
func (nopSink) CallTimedOut(string, string) {}
func (nopSink) ProfileApplied(string)     {}

type pendingCall struct {
	action   string
	resultCh chan pendingResult
	deadline time.Time
}

type pendingResult struct {
	payload []byte
	err     error
}

// Agent is the station agent (C3): a per-station OCPP 1.6J client owning its
// own Transport, Profile Manager (C2), and bounded log buffer. Its exported
// surface (Start/Stop/Snapshot/Logs/ApplyPrice) is the only thing the
// Station Manager (C5) touches directly.
type Agent struct {
	id          string
	profile     Profile
	csmsBaseURL string
	metrics     MetricsSink

	transport Transport

	logs     *logBuffer
	profiles *profile.Manager

	pendingMu sync.Mutex
	pending   map[string]*pendingCall
	msgSeq    uint64

	price atomic.Uint64 // math.Float64bits

	stateMu         sync.Mutex
	transactionID   *int
	energyWh float64
	lastPowerW      float64
	connStatus      ConnectorStatus
	transportState  TransportState
	ocppControlled  bool
	heartbeatSec    int

	running   atomic.Bool
	stopping  atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs a station agent. initialPrice seeds the atomic price cell
// the metering loop and policy evaluation read on every tick.
func New(id string, prof Profile, csmsBaseURL string, initialPrice float64, metrics MetricsSink) *Agent {
	if metrics == nil {
		metrics = nopSink{}
	}
	a := &Agent{
		id:             id,
		profile:        prof,
		csmsBaseURL:    csmsBaseURL,
		metrics:        metrics,
		transport:      newWSTransport(csmsBaseURL, id),
		logs:           newLogBuffer(),
		profiles:       profile.NewManager(prof.NominalVoltage),
		pending:        make(map[string]*pendingCall),
		connStatus:     StatusAvailable,
		transportState: TransportClosed,
		heartbeatSec:   prof.HeartbeatIntervalSec,
	}
	a.price.Store(math.Float64bits(initialPrice))
	a.logs.append("Agent initialized (profile=" + prof.Name + ")")
	return a
}

// ID returns the station's stable identifier.
func (a *Agent) ID() string { return a.id }

// ApplyPrice atomically updates the price the metering loop and the next
// policy evaluation observe.
func (a *Agent) ApplyPrice(newPrice float64) {
	a.price.Store(math.Float64bits(newPrice))
}

func (a *Agent) currentPrice() float64 {
	return math.Float64frombits(a.price.Load())
}

// Logs returns a copy of the bounded log ring.
func (a *Agent) Logs() []string { return a.logs.snapshot() }

// Start launches the agent's connect/lifecycle supervisor. Idempotent: a
// second call on an already-running agent is a no-op.
func (a *Agent) Start() {
	if !a.running.CompareAndSwap(false, true) {
		return
	}
	a.stopping.Store(false)
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.supervise()
}

// Stop cancels the lifecycle task: it stops scheduling new sessions,
// gracefully ends any active transaction, and closes the transport with
// close code 1000, returning once that completes or after 5s. Idempotent.
func (a *Agent) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	a.stopping.Store(true)
	close(a.stopCh)
	select {
	case <-a.doneCh:
	case <-time.After(5 * time.Second):
	}
}

func (a *Agent) isStopping() bool { return a.stopping.Load() }

// supervise owns the connect/reconnect loop. Each iteration dials a fresh
// session, runs the read loop and heartbeat task for that connection, and
// drives the session/meter lifecycle until the connection drops or the
// agent is told to stop.
func (a *Agent) supervise() {
	defer close(a.doneCh)
	backoff := time.Second
	for {
		if a.isStopping() {
			return
		}
		a.setTransportState(TransportConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := a.transport.Connect(ctx)
		cancel()
		if err != nil {
			a.logs.append("connect failed: " + err.Error())
			if !a.sleepCancellable(withJitter(backoff, 0.2)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second
		a.setTransportState(TransportOpen)
		a.logs.append("connected")

		disconnected := make(chan struct{})
		var discOnce sync.Once
		signalDisconnected := func() { discOnce.Do(func() { close(disconnected) }) }

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.readLoop(disconnected)
			// A dead read loop means a dead session: wake every task
			// waiting on a timer or a pending reply.
			signalDisconnected()
			a.failAllPending(ocpp.ErrTransportFailure)
		}()

		if !a.bootUntilAccepted(disconnected) {
			a.setTransportState(TransportClosing)
			_ = a.transport.Close()
			signalDisconnected()
			wg.Wait()
			a.setTransportState(TransportClosed)
			if a.isStopping() {
				return
			}
			continue
		}
		a.sendStatusNotification(StatusAvailable)

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.heartbeatTask(disconnected)
		}()

		a.runSessionLoop(disconnected)

		a.setTransportState(TransportClosing)
		_ = a.transport.Close()
		signalDisconnected()
		a.failAllPending(ocpp.ErrTransportFailure)
		wg.Wait()
		a.setTransportState(TransportClosed)

		if a.isStopping() {
			return
		}
	}
}

// readLoop pulls frames off the transport, routes inbound CALLs to their
// handlers (answered in the order received), and resolves pending CALLs on
// matching replies. It exits, and signals disconnected, on any transport or
// protocol error.
func (a *Agent) readLoop(disconnected chan struct{}) {
	for {
		raw, err := a.transport.Receive()
		if err != nil {
			return
		}
		call, result, callErr, err := ocpp.Decode(raw)
		if err != nil {
			a.logs.append("dropping malformed frame: " + err.Error())
			return
		}
		switch {
		case call != nil:
			a.handleInboundCall(*call)
		case result != nil:
			a.resolvePending(result.MessageID, result.Payload, nil)
		case callErr != nil:
			a.resolvePending(callErr.MessageID, nil, &ocpp.RemoteError{Code: callErr.ErrorCode, Description: callErr.ErrorDescription})
		}
		select {
		case <-disconnected:
			return
		default:
		}
	}
}

func (a *Agent) heartbeatTask(disconnected <-chan struct{}) {
	for {
		interval := time.Duration(a.getHeartbeatInterval()) * time.Second
		select {
		case <-time.After(interval):
			ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			_ = a.sendHeartbeat(ctx)
			cancel()
		case <-disconnected:
			return
		case <-a.stopCh:
			return
		}
	}
}

func (a *Agent) getHeartbeatInterval() int {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.heartbeatSec <= 0 {
		return 60
	}
	return a.heartbeatSec
}

func (a *Agent) setHeartbeatInterval(sec int) {
	a.stateMu.Lock()
	a.heartbeatSec = sec
	a.stateMu.Unlock()
}

func (a *Agent) setTransportState(s TransportState) {
	a.stateMu.Lock()
	a.transportState = s
	a.stateMu.Unlock()
}

func (a *Agent) setConnectorStatus(s ConnectorStatus) {
	a.stateMu.Lock()
	a.connStatus = s
	a.stateMu.Unlock()
}

func (a *Agent) setTransactionID(id int) {
	a.stateMu.Lock()
	a.transactionID = &id
	a.energyWh = 0
	a.stateMu.Unlock()
}

func (a *Agent) clearTransaction() {
	a.stateMu.Lock()
	txID := a.transactionID
	a.transactionID = nil
	a.stateMu.Unlock()
	if txID != nil {
		a.profiles.ClearTransaction(*txID)
	}
}

func (a *Agent) currentTransactionID() *int {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.transactionID
}

func (a *Agent) setMeterTick(energyWh, powerW float64, controlled bool) {
	a.stateMu.Lock()
	a.energyWh = energyWh
	a.lastPowerW = powerW
	a.ocppControlled = controlled
	a.stateMu.Unlock()
}

// sleepCancellable sleeps d unless Stop() is called, observing cancellation
// within 100ms.
func (a *Agent) sleepCancellable(d time.Duration) bool {
	const tick = 100 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		wait := tick
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-a.stopCh:
			return false
		}
	}
}

func (a *Agent) sleepCancellableOrDisconnect(d time.Duration, disconnected <-chan struct{}) bool {
	const tick = 100 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		wait := tick
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-a.stopCh:
			return false
		case <-disconnected:
			return false
		}
	}
}

// sendCall encodes and sends a CALL, registers it in the pending map, and
// blocks until a matching reply arrives, ctx is cancelled, or the agent is
// stopped. On timeout the pending entry is removed and ErrCallTimeout is
// returned.
func (a *Agent) sendCall(ctx context.Context, action string, payload interface{}) ([]byte, error) {
	return a.sendCallOpts(ctx, action, payload, true)
}

// sendCallFinal is the shutdown-path variant: the teardown sequence
// (StopTransaction, the closing StatusNotifications) must still go out
// after Stop() fires, so it ignores stopCh and relies on ctx alone.
func (a *Agent) sendCallFinal(action string, payload interface{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.sendCallOpts(ctx, action, payload, false)
}

func (a *Agent) sendCallOpts(ctx context.Context, action string, payload interface{}, observeStop bool) ([]byte, error) {
	id := a.nextMessageID()
	raw, err := ocpp.EncodeCall(id, action, payload)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan pendingResult, 1)
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	a.pendingMu.Lock()
	a.pending[id] = &pendingCall{action: action, resultCh: resultCh, deadline: deadline}
	a.pendingMu.Unlock()

	if err := a.transport.Send(raw); err != nil {
		a.removePending(id)
		return nil, err
	}

	stopCh := a.stopCh
	if !observeStop {
		stopCh = nil
	}
	select {
	case res := <-resultCh:
		return res.payload, res.err
	case <-ctx.Done():
		a.removePending(id)
		a.metrics.CallTimedOut(a.id, action)
		return nil, fmt.Errorf("%w: %s", ocpp.ErrCallTimeout, action)
	case <-stopCh:
		a.removePending(id)
		return nil, ocpp.ErrCancelled
	}
}

func (a *Agent) nextMessageID() string {
	seq := atomic.AddUint64(&a.msgSeq, 1)
	if seq%1009 == 0 {
		// occasional UUID id, mixing both message-id styles the way a real
		// mixed-vendor fleet does.
		return uuid.NewString()
	}
	return fmt.Sprintf("%s-%d", a.id, seq)
}

func (a *Agent) removePending(id string) {
	a.pendingMu.Lock()
	delete(a.pending, id)
	a.pendingMu.Unlock()
}

func (a *Agent) resolvePending(id string, payload []byte, err error) {
	a.pendingMu.Lock()
	p, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.pendingMu.Unlock()
	if !ok {
		a.logs.append("unmatched reply for message id " + id)
		return
	}
	p.resultCh <- pendingResult{payload: payload, err: err}
}

func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultCallTimeout)
}

func (a *Agent) failAllPending(err error) {
	a.pendingMu.Lock()
	pending := a.pending
	a.pending = make(map[string]*pendingCall)
	a.pendingMu.Unlock()
	for _, p := range pending {
		p.resultCh <- pendingResult{err: err}
	}
}
