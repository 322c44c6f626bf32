package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

// Transport is the wire-level dependency of an Agent. The production
// implementation dials a real WebSocket; tests substitute an in-memory fake
// so the lifecycle/meter loops can run without a network.
type Transport interface {
	Connect(ctx context.Context) error
	Send(raw []byte) error
	Receive() ([]byte, error)
	Close() error
}

// wsTransport implements Transport over gorilla/websocket, dialing
// <csmsBaseURL>/<stationID> with the ocpp1.6 subprotocol, mirroring the
// dialer configuration cmd/simulator/simulator.go uses for its OCPP 2.0.1
// client, adapted to the 1.6J subprotocol header.
type wsTransport struct {
	url string

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func newWSTransport(csmsBaseURL, stationID string) *wsTransport {
	return &wsTransport{url: strings.TrimRight(csmsBaseURL, "/") + "/" + stationID}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{ocpp.Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, http.Header{})
	if err != nil {
		return fmt.Errorf("%w: %v", ocpp.ErrTransportFailure, err)
	}
	t.conn = conn
	return nil
}

func (t *wsTransport) Send(raw []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return ocpp.ErrTransportFailure
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := t.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ocpp.ErrTransportFailure, err)
	}
	return nil
}

func (t *wsTransport) Receive() ([]byte, error) {
	if t.conn == nil {
		return nil, ocpp.ErrTransportFailure
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ocpp.ErrTransportFailure, err)
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}

// nextBackoff advances the reconnection delay sequence: 1s, 2s, 4s, ...
// capped at 60s. The caller applies ±20% jitter.
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 60*time.Second {
		next = 60 * time.Second
	}
	return next
}

func withJitter(d time.Duration, jitter float64) time.Duration {
	delta := float64(d) * jitter * (2*randFloat() - 1)
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		return 0
	}
	return result
}
