package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/seu-repo/sigec-swarm/internal/agent"
	"github.com/seu-repo/sigec-swarm/internal/manager"
)

// FleetSource is the read-only slice of the manager the stream consumes.
type FleetSource interface {
	GetSnapshot() []agent.Snapshot
	GetTotals() manager.Totals
}

// Stream serves a read-only WebSocket feed of fleet snapshots for
// dashboard-style consumers. It is deliberately on a different WebSocket
// stack than the OCPP link so the two protocols never share a connection
// type.
type Stream struct {
	fleet    FleetSource
	interval time.Duration
	log      *zap.Logger
}

func NewStream(fleet FleetSource, interval time.Duration, log *zap.Logger) *Stream {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Stream{fleet: fleet, interval: interval, log: log}
}

type fleetFrame struct {
	Stations []agent.Snapshot `json:"stations"`
	Totals   manager.Totals   `json:"totals"`
	SentAt   string           `json:"sent_at"`
}

// ServeHTTP upgrades the request and pushes one frame per interval until
// the client goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("fleet stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		frame := fleetFrame{
			Stations: s.fleet.GetSnapshot(),
			Totals:   s.fleet.GetTotals(),
			SentAt:   time.Now().UTC().Format(time.RFC3339),
		}
		data, err := json.Marshal(frame)
		if err != nil {
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
