package csms

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
)

// breakerGroup holds one circuit breaker per station. A station that times
// out on every CSMS-originated call would otherwise make each new caller
// queue 30s behind the one in flight; once the breaker trips, callers fail
// fast with a StationDisconnected-class error until the station recovers.
type breakerGroup struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	log      *zap.Logger
}

func newBreakerGroup(log *zap.Logger) *breakerGroup {
	return &breakerGroup{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		log:      log,
	}
}

func (g *breakerGroup) forStation(stationID string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[stationID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "csms-call-" + stationID,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	g.breakers[stationID] = cb
	return cb
}

func (g *breakerGroup) execute(stationID string, call func() (json.RawMessage, error)) (json.RawMessage, error) {
	result, err := g.forStation(stationID).Execute(func() (interface{}, error) {
		return call()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open for %s", ocpp.ErrStationDisconnected, stationID)
	}
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}
