package profile

import (
	"math"
	"sort"
	"sync"
	"time"
)

type SetStatus string

const (
	StatusAccepted SetStatus = "Accepted"
	StatusRejected SetStatus = "Rejected"
	StatusUnknown  SetStatus = "Unknown"
)

// Filter combines, with AND semantics, the fields ClearChargingProfile may
// restrict a clear to.
type Filter struct {
	ProfileID   *int
	ConnectorID *int
	Purpose     *Purpose
	StackLevel  *int
}

type key struct {
	connectorID int
	purpose     Purpose
	stackLevel  int
}

// SchedulePoint is one breakpoint of a composite schedule's step function.
type SchedulePoint struct {
	StartOffsetSec int
	LimitW         float64
}

// Manager stores and resolves the charging profiles installed on a single
// station. All mutating operations (SetProfile, ClearProfiles,
// NoteTransactionStart/ClearTransaction) serialize on mu; GetCurrentLimit and
// GetCompositeSchedule only take a read lock so the metering loop never
// blocks behind another reader.
type Manager struct {
	mu           sync.RWMutex
	profiles     map[key]*ChargingProfile
	voltage      float64
	txStartTimes map[int]time.Time
}

// NewManager constructs an empty profile store. nominalVoltage is used to
// convert "A" rated schedules to watts; 0 defaults to the nominal 230V
// this implementation assumes throughout.
func NewManager(nominalVoltage float64) *Manager {
	if nominalVoltage <= 0 {
		nominalVoltage = 230
	}
	return &Manager{
		profiles:     make(map[key]*ChargingProfile),
		voltage:      nominalVoltage,
		txStartTimes: make(map[int]time.Time),
	}
}

// NoteTransactionStart records the start time of a transaction so Relative
// schedules anchored to it, and TxProfile applicability, resolve correctly.
func (m *Manager) NoteTransactionStart(transactionID int, start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txStartTimes[transactionID] = start
}

// ClearTransaction drops the remembered start time once a transaction ends;
// TxProfile entries naturally stop applying once the transaction is gone.
func (m *Manager) ClearTransaction(transactionID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txStartTimes, transactionID)
}

// SetProfile validates and installs p, replacing any existing profile with
// the same (purpose, stackLevel, connectorId).
func (m *Manager) SetProfile(connectorID int, p ChargingProfile) SetStatus {
	if err := validate(p); err != nil {
		return StatusRejected
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ConnectorID = connectorID
	p.installedAt = time.Now().UTC()
	k := key{connectorID: connectorID, purpose: p.ChargingProfilePurpose, stackLevel: p.StackLevel}
	stored := p
	m.profiles[k] = &stored
	return StatusAccepted
}

// ClearProfiles removes every stored profile matching f (AND semantics),
// reporting Unknown if nothing matched.
func (m *Manager) ClearProfiles(f Filter) SetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, p := range m.profiles {
		if f.ProfileID != nil && p.ChargingProfileID != *f.ProfileID {
			continue
		}
		if f.ConnectorID != nil && p.ConnectorID != *f.ConnectorID {
			continue
		}
		if f.Purpose != nil && p.ChargingProfilePurpose != *f.Purpose {
			continue
		}
		if f.StackLevel != nil && p.StackLevel != *f.StackLevel {
			continue
		}
		delete(m.profiles, k)
		removed++
	}
	if removed == 0 {
		return StatusUnknown
	}
	return StatusAccepted
}

// GetCurrentLimit returns the minimum active limit, in watts, across the
// winning profile of each purpose, or ok=false if nothing applies.
func (m *Manager) GetCurrentLimit(connectorID int, transactionID *int, now time.Time) (watts float64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLimitLocked(connectorID, transactionID, now)
}

func (m *Manager) currentLimitLocked(connectorID int, transactionID *int, now time.Time) (float64, bool) {
	txStart := m.txStartLocked(transactionID)
	winners := m.purposeWinners(connectorID, transactionID, now)

	best := math.MaxFloat64
	found := false
	for _, purpose := range []Purpose{PurposeTxProfile, PurposeTxDefault, PurposeChargePointMax} {
		winner, ok := winners[purpose]
		if !ok {
			continue
		}
		limit, ok := winner.limitAt(now, txStart, m.voltage)
		if !ok {
			continue
		}
		found = true
		if limit < best {
			best = limit
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}

// purposeWinners returns, for each purpose with an applicable profile, the
// profile with the lowest stackLevel (OCPP convention: lower wins).
func (m *Manager) purposeWinners(connectorID int, transactionID *int, now time.Time) map[Purpose]*ChargingProfile {
	winners := make(map[Purpose]*ChargingProfile, 3)
	for _, p := range m.profiles {
		if !p.applies(connectorID, transactionID, now) {
			continue
		}
		if cur, ok := winners[p.ChargingProfilePurpose]; !ok || p.StackLevel < cur.StackLevel {
			winners[p.ChargingProfilePurpose] = p
		}
	}
	return winners
}

func (m *Manager) txStartLocked(transactionID *int) *time.Time {
	if transactionID == nil {
		return nil
	}
	if s, ok := m.txStartTimes[*transactionID]; ok {
		return &s
	}
	return nil
}

// GetCompositeSchedule samples the merged limit at every distinct breakpoint
// within [now, now+duration) across all applicable profiles, collapsing
// consecutive equal-limit segments into a step function.
func (m *Manager) GetCompositeSchedule(connectorID int, transactionID *int, durationSec int, now time.Time) []SchedulePoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breakpoints := map[int]struct{}{0: {}}
	for _, p := range m.profiles {
		if !p.applies(connectorID, transactionID, now) {
			continue
		}
		txStart := m.txStartLocked(transactionID)
		anchor, ok := p.anchorTime(now, txStart)
		if !ok {
			continue
		}
		anchorOffset := int(now.Sub(anchor).Seconds())
		for _, period := range p.ChargingSchedule.Periods {
			offset := period.StartPeriod - anchorOffset
			if p.ChargingProfileKind == KindRecurring {
				mod := 86400
				if p.RecurrencyKind != nil && *p.RecurrencyKind == RecurrencyWeekly {
					mod = 604800
				}
				offset = projectForward(offset, mod, durationSec)
			}
			if offset >= 0 && offset < durationSec {
				breakpoints[offset] = struct{}{}
			}
		}
		if p.ValidTo != nil {
			if off := int(p.ValidTo.Sub(now).Seconds()); off > 0 && off < durationSec {
				breakpoints[off] = struct{}{}
			}
		}
	}

	offsets := make([]int, 0, len(breakpoints))
	for o := range breakpoints {
		offsets = append(offsets, o)
	}
	sort.Ints(offsets)

	var out []SchedulePoint
	var lastLimit float64
	haveLast := false
	for _, off := range offsets {
		t := now.Add(time.Duration(off) * time.Second)
		limit, ok := m.currentLimitLocked(connectorID, transactionID, t)
		if !ok {
			haveLast = false
			continue
		}
		if haveLast && limit == lastLimit {
			continue
		}
		out = append(out, SchedulePoint{StartOffsetSec: off, LimitW: limit})
		lastLimit = limit
		haveLast = true
	}
	return out
}
