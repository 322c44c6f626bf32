package csms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
	"github.com/seu-repo/sigec-swarm/internal/profile"
)

// This file holds the CSMS-originated helpers the control plane drives:
// raw SetChargingProfile/GetCompositeSchedule/ClearChargingProfile plus the
// canned scenario builders (peak shaving, time of use, energy cap). Every
// helper routes through the station's circuit breaker so a wedged station
// fails fast instead of queueing callers behind its 30s timeouts.

type setChargingProfileReq struct {
	ConnectorID     int                     `json:"connectorId"`
	ChargingProfile profile.ChargingProfile `json:"csChargingProfiles"`
}

// ProfileSendResult is what the control plane gets back from a profile push.
type ProfileSendResult struct {
	Status    string `json:"status"`
	ProfileID int    `json:"profileId"`
}

// SendChargingProfile issues SetChargingProfile to the station and returns
// its status plus the profile id that was sent.
func (b *Backend) SendChargingProfile(stationID string, connectorID int, p profile.ChargingProfile) (ProfileSendResult, error) {
	s, err := b.registry.require(stationID)
	if err != nil {
		return ProfileSendResult{}, err
	}
	raw, err := b.breakers.execute(stationID, func() (json.RawMessage, error) {
		return s.callWithDefaultTimeout("SetChargingProfile", setChargingProfileReq{
			ConnectorID:     connectorID,
			ChargingProfile: p,
		})
	})
	if err != nil {
		return ProfileSendResult{}, err
	}
	resp := unmarshalOrZero[statusOnlyResp](raw)
	if resp.Status != "Accepted" {
		return ProfileSendResult{Status: resp.Status, ProfileID: p.ChargingProfileID}, fmt.Errorf("%w: SetChargingProfile status %s", ocpp.ErrRejected, resp.Status)
	}
	return ProfileSendResult{Status: resp.Status, ProfileID: p.ChargingProfileID}, nil
}

type getCompositeScheduleReq struct {
	ConnectorID      int    `json:"connectorId"`
	DurationSec      int    `json:"duration"`
	ChargingRateUnit string `json:"chargingRateUnit,omitempty"`
}

// GetCompositeSchedule asks the station for its aggregate limit over the
// next durationSec seconds and returns the raw conf payload, which is either
// {status: Rejected} or the schedule the station computed.
func (b *Backend) GetCompositeSchedule(stationID string, connectorID, durationSec int, unit string) (json.RawMessage, error) {
	s, err := b.registry.require(stationID)
	if err != nil {
		return nil, err
	}
	return b.breakers.execute(stationID, func() (json.RawMessage, error) {
		return s.callWithDefaultTimeout("GetCompositeSchedule", getCompositeScheduleReq{
			ConnectorID:      connectorID,
			DurationSec:      durationSec,
			ChargingRateUnit: unit,
		})
	})
}

// ClearFilter mirrors ClearChargingProfile.req; nil fields are wildcards and
// set fields combine with AND semantics on the station.
type ClearFilter struct {
	ProfileID   *int    `json:"id,omitempty"`
	ConnectorID *int    `json:"connectorId,omitempty"`
	Purpose     *string `json:"chargingProfilePurpose,omitempty"`
	StackLevel  *int    `json:"stackLevel,omitempty"`
}

// ClearChargingProfile issues ClearChargingProfile and returns the station's
// Accepted/Unknown status.
func (b *Backend) ClearChargingProfile(stationID string, f ClearFilter) (string, error) {
	s, err := b.registry.require(stationID)
	if err != nil {
		return "", err
	}
	raw, err := b.breakers.execute(stationID, func() (json.RawMessage, error) {
		return s.callWithDefaultTimeout("ClearChargingProfile", f)
	})
	if err != nil {
		return "", err
	}
	return unmarshalOrZero[statusOnlyResp](raw).Status, nil
}

// SendPeakShaving installs a station-wide ChargePointMaxProfile capping
// power at maxW indefinitely.
func (b *Backend) SendPeakShaving(stationID string, maxW float64) (ProfileSendResult, error) {
	p := profile.ChargingProfile{
		ChargingProfileID:      b.nextProfileID(),
		StackLevel:             0,
		ChargingProfilePurpose: profile.PurposeChargePointMax,
		ChargingProfileKind:    profile.KindAbsolute,
		ChargingSchedule: profile.Schedule{
			ChargingRateUnit: profile.RateUnitWatts,
			Periods:          []profile.SchedulePeriod{{StartPeriod: 0, Limit: maxW}},
		},
	}
	return b.SendChargingProfile(stationID, 0, p)
}

// SendTimeOfUse installs a daily-recurring TxDefaultProfile: offPeakW
// outside [peakStart, peakEnd) hours, peakW inside.
func (b *Backend) SendTimeOfUse(stationID string, offPeakW, peakW float64, peakStartHour, peakEndHour int) (ProfileSendResult, error) {
	daily := profile.RecurrencyDaily
	periods := []profile.SchedulePeriod{{StartPeriod: 0, Limit: offPeakW}}
	if peakStartHour > 0 {
		periods = append(periods, profile.SchedulePeriod{StartPeriod: peakStartHour * 3600, Limit: peakW})
	} else {
		periods[0].Limit = peakW
	}
	if peakEndHour*3600 > periods[len(periods)-1].StartPeriod {
		periods = append(periods, profile.SchedulePeriod{StartPeriod: peakEndHour * 3600, Limit: offPeakW})
	}
	p := profile.ChargingProfile{
		ChargingProfileID:      b.nextProfileID(),
		StackLevel:             0,
		ChargingProfilePurpose: profile.PurposeTxDefault,
		ChargingProfileKind:    profile.KindRecurring,
		RecurrencyKind:         &daily,
		ChargingSchedule: profile.Schedule{
			ChargingRateUnit: profile.RateUnitWatts,
			Periods:          periods,
		},
	}
	return b.SendChargingProfile(stationID, 0, p)
}

// SendEnergyCap installs a TxProfile for the given transaction limiting it
// to powerW. The duration bounds how long the limit applies; when the
// caller only supplies maxWh, the duration is derived from how long
// delivering that much energy at powerW takes.
func (b *Backend) SendEnergyCap(stationID string, transactionID int, maxWh float64, durationSec int, powerW float64) (ProfileSendResult, error) {
	if durationSec <= 0 && maxWh > 0 && powerW > 0 {
		durationSec = int(maxWh / powerW * 3600)
	}
	now := time.Now().UTC()
	p := profile.ChargingProfile{
		ChargingProfileID:      b.nextProfileID(),
		TransactionID:          &transactionID,
		StackLevel:             0,
		ChargingProfilePurpose: profile.PurposeTxProfile,
		ChargingProfileKind:    profile.KindAbsolute,
		ChargingSchedule: profile.Schedule{
			DurationSec:      &durationSec,
			StartSchedule:    &now,
			ChargingRateUnit: profile.RateUnitWatts,
			Periods:          []profile.SchedulePeriod{{StartPeriod: 0, Limit: powerW}},
		},
	}
	return b.SendChargingProfile(stationID, 0, p)
}

// ScenarioParams is the flat parameter bag the "send test profile" control
// capability accepts; each scenario validates the fields it needs.
type ScenarioParams struct {
	MaxW          float64 `json:"maxW"`
	OffPeakW      float64 `json:"offPeakW"`
	PeakW         float64 `json:"peakW"`
	PeakStartHour int     `json:"peakStart"`
	PeakEndHour   int     `json:"peakEnd"`
	TransactionID int     `json:"txId"`
	MaxWh         float64 `json:"maxWh"`
	DurationSec   int     `json:"durationSec"`
	PowerW        float64 `json:"powerW"`
}

// SendTestProfile builds and sends the canonical profile for a named
// scenario. Unknown scenarios and missing required parameters fail with
// ErrValidation before anything reaches the station.
func (b *Backend) SendTestProfile(stationID, scenario string, params ScenarioParams) (ProfileSendResult, error) {
	switch scenario {
	case "peak_shaving":
		if params.MaxW <= 0 {
			return ProfileSendResult{}, fmt.Errorf("%w: peak_shaving requires maxW > 0", ocpp.ErrValidation)
		}
		return b.SendPeakShaving(stationID, params.MaxW)
	case "time_of_use":
		if params.OffPeakW <= 0 || params.PeakW <= 0 {
			return ProfileSendResult{}, fmt.Errorf("%w: time_of_use requires offPeakW and peakW > 0", ocpp.ErrValidation)
		}
		if params.PeakStartHour < 0 || params.PeakEndHour > 24 || params.PeakStartHour >= params.PeakEndHour {
			return ProfileSendResult{}, fmt.Errorf("%w: time_of_use requires 0 <= peakStart < peakEnd <= 24", ocpp.ErrValidation)
		}
		return b.SendTimeOfUse(stationID, params.OffPeakW, params.PeakW, params.PeakStartHour, params.PeakEndHour)
	case "energy_cap":
		if params.TransactionID <= 0 {
			return ProfileSendResult{}, fmt.Errorf("%w: energy_cap requires txId", ocpp.ErrValidation)
		}
		if params.PowerW <= 0 {
			return ProfileSendResult{}, fmt.Errorf("%w: energy_cap requires powerW > 0", ocpp.ErrValidation)
		}
		if params.DurationSec <= 0 && params.MaxWh <= 0 {
			return ProfileSendResult{}, fmt.Errorf("%w: energy_cap requires durationSec or maxWh", ocpp.ErrValidation)
		}
		return b.SendEnergyCap(stationID, params.TransactionID, params.MaxWh, params.DurationSec, params.PowerW)
	default:
		return ProfileSendResult{}, fmt.Errorf("%w: unknown scenario %q", ocpp.ErrValidation, scenario)
	}
}
