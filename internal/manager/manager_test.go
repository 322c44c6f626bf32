package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/agent"
)

// fakeAgent is a StationAgent double recording lifecycle and price calls.
type fakeAgent struct {
	id      string
	prof    agent.Profile
	running atomic.Bool

	mu        sync.Mutex
	prices    []float64
	energyKWh float64
}

func (a *fakeAgent) ID() string { return a.id }
func (a *fakeAgent) Start()     { a.running.Store(true) }
func (a *fakeAgent) Stop()      { a.running.Store(false) }

func (a *fakeAgent) Snapshot() agent.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return agent.Snapshot{
		ID:        a.id,
		Profile:   a.prof.Name,
		Running:   a.running.Load(),
		EnergyKWh: a.energyKWh,
	}
}

func (a *fakeAgent) Logs() []string { return []string{"[00:00:00] fake"} }

func (a *fakeAgent) ApplyPrice(p float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices = append(a.prices, p)
}

type fakeFleet struct {
	mu     sync.Mutex
	agents map[string]*fakeAgent
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{agents: make(map[string]*fakeAgent)}
}

func (f *fakeFleet) factory(id string, prof agent.Profile, initialPrice float64) StationAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &fakeAgent{id: id, prof: prof}
	f.agents[id] = a
	return a
}

func testProfiles() map[string]agent.Profile {
	return map[string]agent.Profile{
		"standard": {ConnectorID: 1, MaxEnergyKWh: 30, ChargeIfPriceBelow: 20},
		"fast":     {ConnectorID: 1, MaxEnergyKWh: 80, ChargeIfPriceBelow: 35},
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeFleet) {
	t.Helper()
	fleet := newFakeFleet()
	m := New(fleet.factory, testProfiles(), "standard", 10, zap.NewNop())
	return m, fleet
}

func TestScaleAssignsSmallestUnusedSlots(t *testing.T) {
	m, _ := newTestManager(t)

	count, err := m.Scale(3, "")
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 stations, got %d", count)
	}

	snaps := m.GetSnapshot()
	want := []string{"PY-SIM-0001", "PY-SIM-0002", "PY-SIM-0003"}
	for i, s := range snaps {
		if s.ID != want[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], s.ID)
		}
		if !s.Running {
			t.Fatalf("station %s should be started after scale-up", s.ID)
		}
	}

	// Shrink removes the highest slots; re-grow fills the freed ones.
	if _, err := m.Scale(1, ""); err != nil {
		t.Fatalf("Scale down: %v", err)
	}
	if _, err := m.Scale(2, ""); err != nil {
		t.Fatalf("Scale up: %v", err)
	}
	snaps = m.GetSnapshot()
	if snaps[0].ID != "PY-SIM-0001" || snaps[1].ID != "PY-SIM-0002" {
		t.Fatalf("expected refilled slots 0001/0002, got %s/%s", snaps[0].ID, snaps[1].ID)
	}
}

func TestScaleRejectsUnknownProfile(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Scale(1, "hyperspeed"); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestSetPriceFansOutToAllAgents(t *testing.T) {
	m, fleet := newTestManager(t)
	if _, err := m.Scale(4, ""); err != nil {
		t.Fatalf("Scale: %v", err)
	}

	if err := m.SetPrice(14.5); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if m.CurrentPrice() != 14.5 {
		t.Fatalf("expected current price 14.5, got %v", m.CurrentPrice())
	}

	fleet.mu.Lock()
	defer fleet.mu.Unlock()
	for id, a := range fleet.agents {
		a.mu.Lock()
		got := a.prices
		a.mu.Unlock()
		if len(got) == 0 || got[len(got)-1] != 14.5 {
			t.Fatalf("agent %s never observed the new price, saw %v", id, got)
		}
	}
}

func TestSetPriceRejectsNegative(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SetPrice(-1); err == nil {
		t.Fatalf("expected negative price to be rejected")
	}
}

func TestStartStationWithNewProfileReplacesAgent(t *testing.T) {
	m, fleet := newTestManager(t)
	if _, err := m.Scale(1, "standard"); err != nil {
		t.Fatalf("Scale: %v", err)
	}

	snap, err := m.StartStation("PY-SIM-0001", "fast")
	if err != nil {
		t.Fatalf("StartStation: %v", err)
	}
	if snap.Profile != "fast" {
		t.Fatalf("expected replaced profile fast, got %s", snap.Profile)
	}
	if !snap.Running {
		t.Fatalf("expected station running after start")
	}

	fleet.mu.Lock()
	replaced := fleet.agents["PY-SIM-0001"]
	fleet.mu.Unlock()
	if replaced.prof.Name != "fast" {
		t.Fatalf("factory should have built a fast-profile agent")
	}
}

func TestStopStationUnknownID(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.StopStation("PY-SIM-9999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTotalsAggregateEnergyAndEarnings(t *testing.T) {
	m, fleet := newTestManager(t)
	if _, err := m.Scale(2, ""); err != nil {
		t.Fatalf("Scale: %v", err)
	}
	fleet.mu.Lock()
	fleet.agents["PY-SIM-0001"].energyKWh = 12
	fleet.agents["PY-SIM-0002"].energyKWh = 8
	fleet.mu.Unlock()

	totals := m.GetTotals()
	if totals.TotalEnergyKWh != 20 {
		t.Fatalf("expected 20 kWh, got %v", totals.TotalEnergyKWh)
	}
	if totals.TotalEarnings <= 0 {
		t.Fatalf("expected positive earnings for 20 kWh at price %v", m.CurrentPrice())
	}
	if totals.StationCount != 2 || totals.RunningCount != 2 {
		t.Fatalf("unexpected counts: %+v", totals)
	}
}

func TestStopAllStopsEveryAgent(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Scale(3, ""); err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if n := m.StopAll(); n != 3 {
		t.Fatalf("expected 3 stations addressed, got %d", n)
	}
	for _, s := range m.GetSnapshot() {
		if s.Running {
			t.Fatalf("station %s still running after StopAll", s.ID)
		}
	}
}

func TestGetStationLogsUnknownID(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.GetStationLogs("PY-SIM-0404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
