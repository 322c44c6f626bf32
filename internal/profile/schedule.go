package profile

import (
	"math"
	"time"
)

// anchorTime returns the reference instant period offsets are measured from.
func (p *ChargingProfile) anchorTime(now time.Time, txStart *time.Time) (time.Time, bool) {
	switch p.ChargingProfileKind {
	case KindAbsolute:
		if p.ChargingSchedule.StartSchedule != nil {
			return *p.ChargingSchedule.StartSchedule, true
		}
		return p.installedAt, true
	case KindRecurring:
		if p.RecurrencyKind != nil && *p.RecurrencyKind == RecurrencyWeekly {
			return startOfWeek(now), true
		}
		return startOfDay(now), true
	case KindRelative:
		if txStart == nil {
			return time.Time{}, false
		}
		return *txStart, true
	default:
		return time.Time{}, false
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	d := startOfDay(t)
	offset := (int(d.Weekday()) + 6) % 7 // days since Monday
	return d.AddDate(0, 0, -offset)
}

// applies reports whether p is in force for (connectorID, transactionID) at t.
func (p *ChargingProfile) applies(connectorID int, transactionID *int, t time.Time) bool {
	if p.ValidFrom != nil && t.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && t.After(*p.ValidTo) {
		return false
	}
	if p.ConnectorID != 0 && p.ConnectorID != connectorID {
		return false
	}
	switch p.ChargingProfilePurpose {
	case PurposeTxProfile:
		return transactionID != nil && p.TransactionID != nil && *p.TransactionID == *transactionID
	case PurposeTxDefault:
		return transactionID != nil
	case PurposeChargePointMax:
		return true
	default:
		return false
	}
}

// limitAt returns the limit, in watts, that p imposes at t, or ok=false when t
// lies before p's anchor, past its schedule duration, or before its first
// period.
func (p *ChargingProfile) limitAt(t time.Time, txStart *time.Time, nominalVoltage float64) (float64, bool) {
	anchor, ok := p.anchorTime(t, txStart)
	if !ok {
		return 0, false
	}
	offset := t.Sub(anchor).Seconds()
	if p.ChargingProfileKind == KindRecurring {
		mod := 86400.0
		if p.RecurrencyKind != nil && *p.RecurrencyKind == RecurrencyWeekly {
			mod = 604800.0
		}
		offset = wrap(offset, mod)
	}
	if offset < 0 {
		return 0, false
	}
	if p.ChargingSchedule.DurationSec != nil && offset >= float64(*p.ChargingSchedule.DurationSec) {
		return 0, false
	}

	var active *SchedulePeriod
	for i := range p.ChargingSchedule.Periods {
		period := &p.ChargingSchedule.Periods[i]
		if float64(period.StartPeriod) <= offset {
			active = period
		} else {
			break
		}
	}
	if active == nil {
		return 0, false
	}
	return toWatts(active.Limit, p.ChargingSchedule.ChargingRateUnit, active.NumberPhases, nominalVoltage), true
}

func wrap(v, mod float64) float64 {
	r := math.Mod(v, mod)
	if r < 0 {
		r += mod
	}
	return r
}

func toWatts(limit float64, unit RateUnit, numberPhases *int, voltage float64) float64 {
	if unit == RateUnitWatts {
		return limit
	}
	phases := 3
	if numberPhases != nil {
		phases = *numberPhases
	}
	return limit * voltage * float64(phases)
}

func projectForward(firstOffset, mod, window int) int {
	if firstOffset >= 0 {
		return firstOffset
	}
	n := (-firstOffset + mod - 1) / mod
	return firstOffset + n*mod
}
