// Package profile implements the charging-profile manager (C2): storage,
// OCPP stacking resolution, and composite-schedule computation for the
// charging profiles installed on a single station. It is owned exclusively
// by that station's agent; nothing outside the agent mutates it directly.
package profile

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidProfile is returned by validation inside SetProfile; the manager
// rejects the write and leaves existing state untouched.
var ErrInvalidProfile = errors.New("profile: validation failed")

type Purpose string

const (
	PurposeChargePointMax Purpose = "ChargePointMaxProfile"
	PurposeTxDefault      Purpose = "TxDefaultProfile"
	PurposeTxProfile      Purpose = "TxProfile"
)

type Kind string

const (
	KindAbsolute  Kind = "Absolute"
	KindRecurring Kind = "Recurring"
	KindRelative  Kind = "Relative"
)

type RecurrencyKind string

const (
	RecurrencyDaily  RecurrencyKind = "Daily"
	RecurrencyWeekly RecurrencyKind = "Weekly"
)

type RateUnit string

const (
	RateUnitWatts RateUnit = "W"
	RateUnitAmps  RateUnit = "A"
)

type SchedulePeriod struct {
	StartPeriod  int      `json:"startPeriod"`
	Limit        float64  `json:"limit"`
	NumberPhases *int     `json:"numberPhases,omitempty"`
}

type Schedule struct {
	DurationSec      *int             `json:"duration,omitempty"`
	StartSchedule    *time.Time       `json:"startSchedule,omitempty"`
	ChargingRateUnit RateUnit         `json:"chargingRateUnit"`
	Periods          []SchedulePeriod `json:"chargingSchedulePeriod"`
	MinChargingRate  *float64         `json:"minChargingRate,omitempty"`
}

// ChargingProfile mirrors the OCPP 1.6J ChargingProfile structure. ConnectorID
// is not part of the wire csChargingProfiles object (it travels alongside it
// in SetChargingProfile.req) but is carried here so the manager can store and
// query by it directly.
type ChargingProfile struct {
	ChargingProfileID      int             `json:"chargingProfileId"`
	TransactionID          *int            `json:"transactionId,omitempty"`
	StackLevel             int             `json:"stackLevel"`
	ChargingProfilePurpose Purpose         `json:"chargingProfilePurpose"`
	ChargingProfileKind    Kind            `json:"chargingProfileKind"`
	RecurrencyKind         *RecurrencyKind `json:"recurrencyKind,omitempty"`
	ValidFrom              *time.Time      `json:"validFrom,omitempty"`
	ValidTo                *time.Time      `json:"validTo,omitempty"`
	ConnectorID            int             `json:"-"`
	ChargingSchedule       Schedule        `json:"chargingSchedule"`

	installedAt time.Time
}

func validate(p ChargingProfile) error {
	switch p.ChargingProfilePurpose {
	case PurposeChargePointMax, PurposeTxDefault, PurposeTxProfile:
	default:
		return errInvalid("unknown charging profile purpose %q", p.ChargingProfilePurpose)
	}
	if p.ChargingProfilePurpose == PurposeTxProfile && p.TransactionID == nil {
		return errInvalid("TxProfile requires a transactionId")
	}
	if len(p.ChargingSchedule.Periods) == 0 {
		return errInvalid("charging schedule has no periods")
	}
	last := -1
	for _, period := range p.ChargingSchedule.Periods {
		if period.StartPeriod < 0 {
			return errInvalid("period startPeriod must be >= 0")
		}
		if period.StartPeriod <= last {
			return errInvalid("periods must be strictly increasing by startPeriod")
		}
		last = period.StartPeriod
	}
	return nil
}

func errInvalid(format string, args ...interface{}) error {
	return &invalidProfileError{msg: fmt.Sprintf(format, args...)}
}

type invalidProfileError struct{ msg string }

func (e *invalidProfileError) Error() string { return "profile: " + e.msg }
func (e *invalidProfileError) Unwrap() error  { return ErrInvalidProfile }
