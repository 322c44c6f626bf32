// Package manager implements the station manager (C5): the fleet
// supervisor that creates, scales, and stops station agents, owns the
// process-wide current price, aggregates snapshots and totals, and fronts
// the CSMS smart-charging helpers by station id.
package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/agent"
	"github.com/seu-repo/sigec-swarm/internal/billing"
	"github.com/seu-repo/sigec-swarm/internal/busevents"
	"github.com/seu-repo/sigec-swarm/internal/csms"
	"github.com/seu-repo/sigec-swarm/internal/profile"
)

// ErrNotFound is returned when a station id is not in the registry.
var ErrNotFound = errors.New("manager: station not found")

// ErrUnknownProfile is returned when a named behavior preset does not exist.
var ErrUnknownProfile = errors.New("manager: unknown profile")

const (
	// batchConcurrency bounds simultaneous start/stop operations so a
	// 500-station fleet does not hammer the CSMS with one connect storm.
	batchConcurrency = 10
	batchStepDelay   = 100 * time.Millisecond
)

// StationAgent is the slice of a station agent's surface the manager
// touches. internal/agent.Agent satisfies it; tests substitute fakes.
type StationAgent interface {
	ID() string
	Start()
	Stop()
	Snapshot() agent.Snapshot
	Logs() []string
	ApplyPrice(newPrice float64)
}

// SmartCharging is the CSMS-originated helper surface the manager fronts
// for the control plane. *csms.Backend satisfies it.
type SmartCharging interface {
	SendChargingProfile(stationID string, connectorID int, p profile.ChargingProfile) (csms.ProfileSendResult, error)
	GetCompositeSchedule(stationID string, connectorID, durationSec int, unit string) (json.RawMessage, error)
	ClearChargingProfile(stationID string, f csms.ClearFilter) (string, error)
	SendTestProfile(stationID, scenario string, params csms.ScenarioParams) (csms.ProfileSendResult, error)
}

// Factory builds one station agent; the default wires internal/agent, tests
// inject doubles.
type Factory func(id string, prof agent.Profile, initialPrice float64) StationAgent

// Totals is the fleet-wide aggregate view.
type Totals struct {
	TotalEnergyKWh float64 `json:"total_energy_kWh"`
	TotalEarnings  float64 `json:"total_earnings"`
	StationCount   int     `json:"station_count"`
	RunningCount   int     `json:"running_count"`
}

type Manager struct {
	mu       sync.RWMutex
	stations map[string]StationAgent

	profiles       map[string]agent.Profile
	defaultProfile string

	price atomic.Uint64 // math.Float64bits

	factory Factory
	smart   SmartCharging
	rates   *billing.RateTable
	bus     busevents.MessageQueue
	log     *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Manager)

// WithSmartCharging attaches the CSMS helper surface the facade methods
// route through.
func WithSmartCharging(s SmartCharging) Option {
	return func(m *Manager) { m.smart = s }
}

// WithBus attaches the external event bus price updates are echoed onto.
// The in-process fan-out to agents never goes through it.
func WithBus(bus busevents.MessageQueue) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithRates overrides the default earnings rate table.
func WithRates(r *billing.RateTable) Option {
	return func(m *Manager) { m.rates = r }
}

// New constructs a manager over the given behavior presets. defaultProfile
// names the preset Scale falls back to when the caller does not pick one.
func New(factory Factory, profiles map[string]agent.Profile, defaultProfile string, initialPrice float64, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		stations:       make(map[string]StationAgent),
		profiles:       profiles,
		defaultProfile: defaultProfile,
		factory:        factory,
		rates:          billing.DefaultRateTable(),
		log:            log,
	}
	m.price.Store(math.Float64bits(initialPrice))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CurrentPrice returns the process-wide price agents observe.
func (m *Manager) CurrentPrice() float64 {
	return math.Float64frombits(m.price.Load())
}

// SetPrice updates the shared price, fans it out to every running agent,
// and echoes the change onto the external bus when one is attached.
func (m *Manager) SetPrice(newPrice float64) error {
	if newPrice < 0 {
		return errors.New("manager: price must be >= 0")
	}
	m.price.Store(math.Float64bits(newPrice))

	m.mu.RLock()
	agents := make([]StationAgent, 0, len(m.stations))
	for _, a := range m.stations {
		agents = append(agents, a)
	}
	m.mu.RUnlock()
	for _, a := range agents {
		a.ApplyPrice(newPrice)
	}

	m.log.Info("price updated", zap.Float64("price", newPrice), zap.Int("stations", len(agents)))
	if m.bus != nil {
		busevents.PublishPriceUpdated(m.bus, newPrice, len(agents))
	}
	return nil
}

// lookupProfile resolves a preset name, falling back to the default when
// name is empty.
func (m *Manager) lookupProfile(name string) (agent.Profile, error) {
	if name == "" {
		name = m.defaultProfile
	}
	prof, ok := m.profiles[name]
	if !ok {
		return agent.Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	prof.Name = name
	return prof, nil
}

// stationID formats the id for a fleet slot.
func stationID(slot int) string {
	return fmt.Sprintf("PY-SIM-%04d", slot)
}

// Scale creates or tears down agents so exactly target exist, all using the
// named preset for new stations. New ids fill the smallest unused slots.
func (m *Manager) Scale(target int, profileName string) (int, error) {
	if target < 0 {
		return 0, errors.New("manager: target count must be >= 0")
	}
	prof, err := m.lookupProfile(profileName)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	var created, removed []StationAgent
	if len(m.stations) < target {
		used := make(map[string]struct{}, len(m.stations))
		for id := range m.stations {
			used[id] = struct{}{}
		}
		for slot := 1; len(m.stations) < target; slot++ {
			id := stationID(slot)
			if _, taken := used[id]; taken {
				continue
			}
			a := m.factory(id, prof, m.CurrentPrice())
			m.stations[id] = a
			created = append(created, a)
		}
	} else if len(m.stations) > target {
		ids := make([]string, 0, len(m.stations))
		for id := range m.stations {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids[target:] {
			removed = append(removed, m.stations[id])
			delete(m.stations, id)
		}
	}
	count := len(m.stations)
	m.mu.Unlock()

	m.runBatch(created, StationAgent.Start)
	m.runBatch(removed, StationAgent.Stop)

	m.log.Info("fleet scaled",
		zap.Int("target", target),
		zap.Int("created", len(created)),
		zap.Int("removed", len(removed)),
	)
	return count, nil
}

// StartStation starts the station, optionally replacing its behavior preset
// first (presets are immutable on a live agent, so a new preset means a new
// agent under the same id).
func (m *Manager) StartStation(id, profileName string) (agent.Snapshot, error) {
	m.mu.Lock()
	a, ok := m.stations[id]
	if !ok {
		m.mu.Unlock()
		return agent.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if profileName != "" && a.Snapshot().Profile != profileName {
		prof, err := m.lookupProfile(profileName)
		if err != nil {
			m.mu.Unlock()
			return agent.Snapshot{}, err
		}
		old := a
		a = m.factory(id, prof, m.CurrentPrice())
		m.stations[id] = a
		m.mu.Unlock()
		old.Stop()
	} else {
		m.mu.Unlock()
	}
	a.Start()
	return a.Snapshot(), nil
}

// StopStation stops the station; idempotent.
func (m *Manager) StopStation(id string) (agent.Snapshot, error) {
	m.mu.RLock()
	a, ok := m.stations[id]
	m.mu.RUnlock()
	if !ok {
		return agent.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	a.Stop()
	return a.Snapshot(), nil
}

// StartAll starts every station with bounded concurrency, returning how
// many were addressed.
func (m *Manager) StartAll() int {
	agents := m.allAgents()
	m.runBatch(agents, StationAgent.Start)
	return len(agents)
}

// StopAll stops every station with bounded concurrency.
func (m *Manager) StopAll() int {
	agents := m.allAgents()
	m.runBatch(agents, StationAgent.Stop)
	return len(agents)
}

func (m *Manager) allAgents() []StationAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StationAgent, 0, len(m.stations))
	for _, a := range m.stations {
		out = append(out, a)
	}
	return out
}

// runBatch applies op to every agent, at most batchConcurrency at a time
// with a small delay between admissions.
func (m *Manager) runBatch(agents []StationAgent, op func(StationAgent)) {
	if len(agents) == 0 {
		return
	}
	sem := make(chan struct{}, batchConcurrency)
	var wg sync.WaitGroup
	for _, a := range agents {
		sem <- struct{}{}
		wg.Add(1)
		go func(a StationAgent) {
			defer wg.Done()
			defer func() { <-sem }()
			op(a)
		}(a)
		time.Sleep(batchStepDelay)
	}
	wg.Wait()
}

// GetSnapshot returns every station's snapshot, ordered by id.
func (m *Manager) GetSnapshot() []agent.Snapshot {
	agents := m.allAgents()
	out := make([]agent.Snapshot, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetTotals aggregates energy across the fleet and prices it with the
// billing rate table at the current price.
func (m *Manager) GetTotals() Totals {
	snaps := m.GetSnapshot()
	t := Totals{StationCount: len(snaps)}
	for _, s := range snaps {
		t.TotalEnergyKWh += s.EnergyKWh
		if s.Running {
			t.RunningCount++
		}
	}
	t.TotalEarnings = m.rates.Earnings(t.TotalEnergyKWh, m.CurrentPrice(), time.Now())
	return t
}

// GetStationLogs returns a copy of the station's log ring, newest last.
func (m *Manager) GetStationLogs(id string) ([]string, error) {
	m.mu.RLock()
	a, ok := m.stations[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.Logs(), nil
}

// GetStationSnapshot returns one station's snapshot.
func (m *Manager) GetStationSnapshot(id string) (agent.Snapshot, error) {
	m.mu.RLock()
	a, ok := m.stations[id]
	m.mu.RUnlock()
	if !ok {
		return agent.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.Snapshot(), nil
}

// ProfileNames lists the configured behavior presets.
func (m *Manager) ProfileNames() []string {
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown stops every agent and waits for their transports to close.
func (m *Manager) Shutdown() {
	n := m.StopAll()
	m.log.Info("fleet shut down", zap.Int("stations", n))
}

// errNoSmartCharging is returned by the facades when no CSMS surface was
// attached (e.g. the manager runs without an embedded backend).
var errNoSmartCharging = errors.New("manager: smart charging surface not configured")

// SendChargingProfile routes a profile push through the CSMS by station id
// and echoes the event onto the bus.
func (m *Manager) SendChargingProfile(id string, connectorID int, p profile.ChargingProfile) (csms.ProfileSendResult, error) {
	if m.smart == nil {
		return csms.ProfileSendResult{}, errNoSmartCharging
	}
	result, err := m.smart.SendChargingProfile(id, connectorID, p)
	if err == nil && m.bus != nil {
		busevents.PublishProfilePushed(m.bus, id, result.ProfileID, string(p.ChargingProfilePurpose))
	}
	return result, err
}

// GetCompositeSchedule routes a composite-schedule query by station id.
func (m *Manager) GetCompositeSchedule(id string, connectorID, durationSec int, unit string) (json.RawMessage, error) {
	if m.smart == nil {
		return nil, errNoSmartCharging
	}
	return m.smart.GetCompositeSchedule(id, connectorID, durationSec, unit)
}

// ClearChargingProfile routes a profile clear by station id.
func (m *Manager) ClearChargingProfile(id string, f csms.ClearFilter) (string, error) {
	if m.smart == nil {
		return "", errNoSmartCharging
	}
	return m.smart.ClearChargingProfile(id, f)
}

// SendTestProfile routes a canned scenario by station id.
func (m *Manager) SendTestProfile(id, scenario string, params csms.ScenarioParams) (csms.ProfileSendResult, error) {
	if m.smart == nil {
		return csms.ProfileSendResult{}, errNoSmartCharging
	}
	result, err := m.smart.SendTestProfile(id, scenario, params)
	if err == nil && m.bus != nil {
		busevents.PublishProfilePushed(m.bus, id, result.ProfileID, scenario)
	}
	return result, err
}

// DefaultFactory builds real station agents dialing csmsBaseURL.
func DefaultFactory(csmsBaseURL string, metrics agent.MetricsSink) Factory {
	return func(id string, prof agent.Profile, initialPrice float64) StationAgent {
		return agent.New(id, prof, csmsBaseURL, initialPrice, metrics)
	}
}
