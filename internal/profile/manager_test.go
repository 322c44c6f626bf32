package profile

import (
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func flatSchedule(unit RateUnit, limit float64) Schedule {
	return Schedule{
		ChargingRateUnit: unit,
		Periods:          []SchedulePeriod{{StartPeriod: 0, Limit: limit}},
	}
}

func TestSetProfileRejectsInvalidStructure(t *testing.T) {
	m := NewManager(0)

	cases := []struct {
		name string
		p    ChargingProfile
	}{
		{
			name: "empty periods",
			p: ChargingProfile{
				ChargingProfileID:      1,
				ChargingProfilePurpose: PurposeChargePointMax,
				ChargingProfileKind:    KindAbsolute,
				ChargingSchedule:       Schedule{ChargingRateUnit: RateUnitWatts},
			},
		},
		{
			name: "non-increasing startPeriod",
			p: ChargingProfile{
				ChargingProfileID:      2,
				ChargingProfilePurpose: PurposeChargePointMax,
				ChargingProfileKind:    KindAbsolute,
				ChargingSchedule: Schedule{
					ChargingRateUnit: RateUnitWatts,
					Periods: []SchedulePeriod{
						{StartPeriod: 10, Limit: 100},
						{StartPeriod: 10, Limit: 50},
					},
				},
			},
		},
		{
			name: "TxProfile without transactionId",
			p: ChargingProfile{
				ChargingProfileID:      3,
				ChargingProfilePurpose: PurposeTxProfile,
				ChargingProfileKind:    KindAbsolute,
				ChargingSchedule:       flatSchedule(RateUnitWatts, 7400),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.SetProfile(1, tc.p); got != StatusRejected {
				t.Fatalf("SetProfile() = %s, want Rejected", got)
			}
		})
	}
}

func TestGetCurrentLimitNoneWhenEmpty(t *testing.T) {
	m := NewManager(0)
	if _, ok := m.GetCurrentLimit(1, nil, time.Now()); ok {
		t.Fatalf("expected no limit on an empty manager")
	}
}

func TestSetThenClearRevertsLimit(t *testing.T) {
	m := NewManager(0)

	p1 := ChargingProfile{
		ChargingProfileID:      10,
		StackLevel:             0,
		ChargingProfilePurpose: PurposeChargePointMax,
		ChargingProfileKind:    KindAbsolute,
		ChargingSchedule:       flatSchedule(RateUnitWatts, 22000),
	}
	if got := m.SetProfile(1, p1); got != StatusAccepted {
		t.Fatalf("SetProfile(p1) = %s", got)
	}
	// Sampled after SetProfile: an Absolute profile without startSchedule
	// is anchored at the moment it is installed.
	now := time.Now().UTC()
	before, ok := m.GetCurrentLimit(1, nil, now)
	if !ok || before != 22000 {
		t.Fatalf("GetCurrentLimit before = (%v, %v), want (22000, true)", before, ok)
	}

	p2 := p1
	p2.ChargingProfileID = 11
	p2.ChargingSchedule = flatSchedule(RateUnitWatts, 7400)
	if got := m.SetProfile(1, p2); got != StatusAccepted {
		t.Fatalf("SetProfile(p2) = %s", got)
	}
	now = time.Now().UTC()
	replaced, ok := m.GetCurrentLimit(1, nil, now)
	if !ok || replaced != 7400 {
		t.Fatalf("same (purpose,stackLevel,connector) should replace: got (%v, %v)", replaced, ok)
	}

	if got := m.ClearProfiles(Filter{ProfileID: intPtr(11)}); got != StatusAccepted {
		t.Fatalf("ClearProfiles() = %s, want Accepted", got)
	}
	if _, ok := m.GetCurrentLimit(1, nil, now); ok {
		t.Fatalf("expected no limit after clearing the only profile")
	}

	if got := m.ClearProfiles(Filter{ProfileID: intPtr(999)}); got != StatusUnknown {
		t.Fatalf("clearing a nonexistent profile should return Unknown, got %s", got)
	}
}

func TestStackedPrecedence(t *testing.T) {
	m := NewManager(0)
	txID := 77

	txDefault := ChargingProfile{
		ChargingProfileID:      1,
		StackLevel:             0,
		ChargingProfilePurpose: PurposeTxDefault,
		ChargingProfileKind:    KindAbsolute,
		ChargingSchedule:       flatSchedule(RateUnitWatts, 22000),
	}
	txProfile := ChargingProfile{
		ChargingProfileID:      2,
		StackLevel:             0,
		TransactionID:          &txID,
		ChargingProfilePurpose: PurposeTxProfile,
		ChargingProfileKind:    KindAbsolute,
		ChargingSchedule:       flatSchedule(RateUnitWatts, 7400),
	}

	if got := m.SetProfile(1, txDefault); got != StatusAccepted {
		t.Fatalf("SetProfile(txDefault) = %s", got)
	}
	if got := m.SetProfile(1, txProfile); got != StatusAccepted {
		t.Fatalf("SetProfile(txProfile) = %s", got)
	}
	now := time.Now().UTC()
	m.NoteTransactionStart(txID, now)

	limit, ok := m.GetCurrentLimit(1, &txID, now)
	if !ok || limit != 7400 {
		t.Fatalf("during transaction: GetCurrentLimit = (%v, %v), want (7400, true)", limit, ok)
	}

	// The next transaction has a different id: the TxProfile no longer
	// applies and the default takes over.
	m.ClearTransaction(txID)
	nextTx := 78
	m.NoteTransactionStart(nextTx, now)
	afterStop, ok := m.GetCurrentLimit(1, &nextTx, now)
	if !ok || afterStop != 22000 {
		t.Fatalf("next transaction: GetCurrentLimit = (%v, %v), want (22000, true)", afterStop, ok)
	}

	purpose := PurposeTxDefault
	if got := m.ClearProfiles(Filter{Purpose: &purpose}); got != StatusAccepted {
		t.Fatalf("ClearProfiles(TxDefaultProfile) = %s", got)
	}
	if _, ok := m.GetCurrentLimit(1, &nextTx, now); ok {
		t.Fatalf("clearing TxDefaultProfile should leave nothing applicable to the new transaction")
	}
}

func TestAmpsConvertToWattsWithDefaultThreePhase(t *testing.T) {
	m := NewManager(230)

	p := ChargingProfile{
		ChargingProfileID:      1,
		ChargingProfilePurpose: PurposeChargePointMax,
		ChargingProfileKind:    KindAbsolute,
		ChargingSchedule:       flatSchedule(RateUnitAmps, 16),
	}
	m.SetProfile(1, p)
	now := time.Now().UTC()

	limit, ok := m.GetCurrentLimit(1, nil, now)
	if !ok {
		t.Fatalf("expected a limit")
	}
	want := 16.0 * 230 * 3
	if limit != want {
		t.Fatalf("GetCurrentLimit() = %v, want %v", limit, want)
	}
}

func TestCompositeScheduleCollapsesEqualSegments(t *testing.T) {
	m := NewManager(0)

	p := ChargingProfile{
		ChargingProfileID:      1,
		ChargingProfilePurpose: PurposeChargePointMax,
		ChargingProfileKind:    KindAbsolute,
		ChargingSchedule: Schedule{
			ChargingRateUnit: RateUnitWatts,
			Periods: []SchedulePeriod{
				{StartPeriod: 0, Limit: 7400},
				{StartPeriod: 3600, Limit: 7400},
				{StartPeriod: 7200, Limit: 3700},
			},
		},
	}
	m.SetProfile(1, p)
	now := time.Now().UTC()

	sched := m.GetCompositeSchedule(1, nil, 10800, now)
	if len(sched) != 2 {
		t.Fatalf("expected 2 segments (equal-limit collapsed), got %d: %+v", len(sched), sched)
	}
	if sched[0].StartOffsetSec != 0 || sched[0].LimitW != 7400 {
		t.Fatalf("unexpected first segment: %+v", sched[0])
	}
	if sched[1].StartOffsetSec != 7200 || sched[1].LimitW != 3700 {
		t.Fatalf("unexpected second segment: %+v", sched[1])
	}
}

func TestCompositeScheduleIdempotent(t *testing.T) {
	m := NewManager(0)
	now := time.Now().UTC()
	p := ChargingProfile{
		ChargingProfileID:      1,
		ChargingProfilePurpose: PurposeChargePointMax,
		ChargingProfileKind:    KindAbsolute,
		ChargingSchedule:       flatSchedule(RateUnitWatts, 7400),
	}
	m.SetProfile(1, p)

	first := m.GetCompositeSchedule(1, nil, 3600, now)
	second := m.GetCompositeSchedule(1, nil, 3600, now)
	if len(first) != len(second) {
		t.Fatalf("composite schedule not idempotent: %+v vs %+v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("composite schedule not idempotent at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRecurringDailyWraps(t *testing.T) {
	m := NewManager(0)
	loc := time.UTC
	midnight := time.Date(2026, 7, 29, 0, 0, 0, 0, loc)
	daily := RecurrencyDaily

	p := ChargingProfile{
		ChargingProfileID:      1,
		ChargingProfilePurpose: PurposeChargePointMax,
		ChargingProfileKind:    KindRecurring,
		RecurrencyKind:         &daily,
		ChargingSchedule: Schedule{
			ChargingRateUnit: RateUnitWatts,
			Periods: []SchedulePeriod{
				{StartPeriod: 0, Limit: 22000},
				{StartPeriod: 64800, Limit: 3700}, // 18:00
			},
		},
	}
	m.SetProfile(1, p)

	morning := midnight.Add(10 * time.Hour)
	limit, ok := m.GetCurrentLimit(1, nil, morning)
	if !ok || limit != 22000 {
		t.Fatalf("morning limit = (%v,%v), want (22000,true)", limit, ok)
	}

	evening := midnight.Add(19 * time.Hour)
	limit, ok = m.GetCurrentLimit(1, nil, evening)
	if !ok || limit != 3700 {
		t.Fatalf("evening limit = (%v,%v), want (3700,true)", limit, ok)
	}

	nextMorning := midnight.Add(34 * time.Hour) // next day 10:00
	limit, ok = m.GetCurrentLimit(1, nil, nextMorning)
	if !ok || limit != 22000 {
		t.Fatalf("next-day morning limit = (%v,%v), want (22000,true)", limit, ok)
	}
}
