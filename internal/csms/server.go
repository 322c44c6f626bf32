package csms

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/busevents"
	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

// Config carries the backend's behavior knobs, populated from the csms
// section of the config file.
type Config struct {
	HeartbeatIntervalSec int
	ReplaceExisting      bool
	AuthSecret           string
	BlockedIDTags        []string
}

// Backend is the CSMS side of the OCPP link: it upgrades WebSocket
// connections at /ocpp/{stationId}, runs one Session per station, and
// exposes the CSMS-originated smart-charging helpers in calls.go to the
// control plane.
type Backend struct {
	cfg       Config
	registry  *Registry
	blocklist idTagBlocklist
	metrics   MetricsSink
	history   HistoryStore
	log       *zap.Logger
	upgrader  websocket.Upgrader
	breakers  *breakerGroup

	profileSeq int64
	profileMu  sync.Mutex

	bus busevents.MessageQueue

	httpSrv *http.Server
}

// NewBackend wires a Backend. history and metrics may be nil; no-op
// implementations are substituted so nothing downstream needs nil checks.
func NewBackend(cfg Config, history HistoryStore, metrics MetricsSink, log *zap.Logger) *Backend {
	if cfg.HeartbeatIntervalSec <= 0 {
		cfg.HeartbeatIntervalSec = defaultHeartbeatIntervalSec
	}
	if history == nil {
		history = noopHistory{}
	}
	if metrics == nil {
		metrics = nopSink{}
	}
	b := &Backend{
		cfg:       cfg,
		registry:  NewRegistry(),
		blocklist: BlockList(cfg.BlockedIDTags),
		metrics:   metrics,
		history:   history,
		log:       log,
	}
	b.breakers = newBreakerGroup(log)
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{ocpp.Subprotocol},
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return b
}

// Registry exposes the live-session registry, used by the station manager's
// facade methods and by tests.
func (b *Backend) Registry() *Registry { return b.registry }

// SetEventBus attaches the broker closed transactions are announced on;
// the billing worker consumes those events. Call before Start.
func (b *Backend) SetEventBus(bus busevents.MessageQueue) { b.bus = bus }

func (b *Backend) publishFinalized(rec TransactionRecord) {
	if b.bus == nil {
		return
	}
	busevents.PublishTransactionFinalized(b.bus, busevents.TransactionFinalizedEvent{
		StationID:     rec.StationID,
		TransactionID: rec.TransactionID,
		EnergyWh:      rec.MeterStopWh,
		StartedAt:     rec.StartTime.UTC().Format(time.RFC3339),
		StoppedAt:     rec.StopTime.UTC().Format(time.RFC3339),
	})
}

// Start serves the OCPP endpoint on the given port and blocks until the
// listener fails or Stop is called.
func (b *Backend) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", b.handleConnection)

	b.httpSrv = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	b.log.Info("Starting OCPP server", zap.Int("port", port))
	err := b.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the listener and every live session.
func (b *Backend) Stop() {
	if b.httpSrv != nil {
		_ = b.httpSrv.Close()
	}
	for _, id := range b.registry.StationIDs() {
		if s, ok := b.registry.Get(id); ok {
			_ = s.Close()
		}
	}
}

func (b *Backend) handleConnection(w http.ResponseWriter, r *http.Request) {
	stationID := strings.TrimPrefix(r.URL.Path, "/ocpp/")
	if stationID == "" || strings.Contains(stationID, "/") {
		http.Error(w, "station id required", http.StatusBadRequest)
		return
	}

	if err := b.authorizeUpgrade(r); err != nil {
		b.log.Warn("rejected unauthenticated connection",
			zap.String("station", stationID),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if _, connected := b.registry.Get(stationID); connected && !b.cfg.ReplaceExisting {
		b.log.Warn("rejected duplicate connection", zap.String("station", stationID))
		http.Error(w, "station already connected", http.StatusConflict)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(stationID, newWSConn(conn), b.registry, b.blocklist, b.metrics, b.history, b.cfg.HeartbeatIntervalSec, b.log)
	session.onFinalized = b.publishFinalized
	displaced, ok := b.registry.Register(stationID, session, b.cfg.ReplaceExisting)
	if !ok {
		// Lost the race with another connection for the same id.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	if displaced != nil {
		_ = displaced.Close()
	}
	b.metrics.StationConnected(stationID)

	b.log.Info("station connected",
		zap.String("station", stationID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	session.Serve()

	b.registry.Unregister(stationID, session)
	b.metrics.StationDisconnected(stationID)
	b.log.Info("station disconnected", zap.String("station", stationID))
}

// nextProfileID allocates ids for CSMS-generated charging profiles (the
// scenario helpers in calls.go); operator-supplied profiles keep their own.
func (b *Backend) nextProfileID() int {
	b.profileMu.Lock()
	defer b.profileMu.Unlock()
	b.profileSeq++
	return int(b.profileSeq)
}

// wsConn adapts an accepted gorilla connection to the session Transport,
// serializing writes the same way the station side does.
type wsConn struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ocpp.ErrTransportFailure, err)
	}
	return nil
}

func (c *wsConn) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocpp.ErrTransportFailure, err)
	}
	return data, nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
