package agent

import (
	"encoding/json"
	"time"

	"github.com/seu-repo/sigec-swarm/internal/ocpp"
	"github.com/seu-repo/sigec-swarm/internal/profile"
)

// inboundHandler answers one CSMS -> station CALL. It returns the
// CALLRESULT payload to send. The table is static so the read loop stays
// allocation-free on the hot path, with no reflection-based routing.
type inboundHandler func(a *Agent, payload json.RawMessage) (interface{}, error)

var inboundHandlers = map[string]inboundHandler{
	"SetChargingProfile":      (*Agent).handleSetChargingProfile,
	"GetCompositeSchedule":    (*Agent).handleGetCompositeSchedule,
	"ClearChargingProfile":    (*Agent).handleClearChargingProfile,
	"RemoteStartTransaction":  (*Agent).handleRemoteStartTransaction,
	"RemoteStopTransaction":   (*Agent).handleRemoteStopTransaction,
	"Reset":                   (*Agent).handleReset,
	"ChangeAvailability":      (*Agent).handleChangeAvailability,
	"TriggerMessage":          (*Agent).handleTriggerMessage,
}

// handleInboundCall routes one inbound CALL to its handler and replies with
// CALLRESULT or CALLERROR. The read loop calls this synchronously: handlers
// are in-memory (profile manager ops) or fire-and-forget async effects, so
// this never blocks the read loop for more than one turnaround.
func (a *Agent) handleInboundCall(call ocpp.Call) {
	handler, ok := inboundHandlers[call.Action]
	if !ok {
		a.logs.append("unknown inbound action " + call.Action)
		raw, _ := ocpp.EncodeCallError(call.MessageID, "NotImplemented", "unknown action "+call.Action, nil)
		_ = a.transport.Send(raw)
		return
	}
	resp, err := handler(a, call.Payload)
	if err != nil {
		raw, _ := ocpp.EncodeCallError(call.MessageID, "InternalError", err.Error(), nil)
		_ = a.transport.Send(raw)
		return
	}
	raw, err := ocpp.EncodeCallResult(call.MessageID, resp)
	if err != nil {
		return
	}
	_ = a.transport.Send(raw)
}

type statusOnlyResp struct {
	Status string `json:"status"`
}

type setChargingProfileReq struct {
	ConnectorID     int                     `json:"connectorId"`
	ChargingProfile profile.ChargingProfile `json:"csChargingProfiles"`
}

func (a *Agent) handleSetChargingProfile(payload json.RawMessage) (interface{}, error) {
	var req setChargingProfileReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return statusOnlyResp{Status: string(profile.StatusRejected)}, nil
	}
	status := a.profiles.SetProfile(req.ConnectorID, req.ChargingProfile)
	if status == profile.StatusAccepted {
		a.metrics.ProfileApplied(a.id)
		a.logs.append("SetChargingProfile accepted (id=" + itoa(req.ChargingProfile.ChargingProfileID) + ")")
	} else {
		a.logs.append("SetChargingProfile rejected (id=" + itoa(req.ChargingProfile.ChargingProfileID) + ")")
	}
	return statusOnlyResp{Status: string(status)}, nil
}

type getCompositeScheduleReq struct {
	ConnectorID      int     `json:"connectorId"`
	DurationSec      int     `json:"duration"`
	ChargingRateUnit *string `json:"chargingRateUnit,omitempty"`
}

type compositeSchedulePeriod struct {
	StartPeriod int     `json:"startPeriod"`
	Limit       float64 `json:"limit"`
}

type compositeSchedule struct {
	DurationSec      int                       `json:"duration"`
	ChargingRateUnit string                    `json:"chargingRateUnit"`
	Periods          []compositeSchedulePeriod `json:"chargingSchedulePeriod"`
}

type getCompositeScheduleResp struct {
	Status        string             `json:"status"`
	ConnectorID    int                `json:"connectorId,omitempty"`
	ScheduleStart  string             `json:"scheduleStart,omitempty"`
	ChargeSchedule *compositeSchedule `json:"chargingSchedule,omitempty"`
}

func (a *Agent) handleGetCompositeSchedule(payload json.RawMessage) (interface{}, error) {
	var req getCompositeScheduleReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return getCompositeScheduleResp{Status: "Rejected"}, nil
	}
	now := time.Now().UTC()
	points := a.profiles.GetCompositeSchedule(req.ConnectorID, a.currentTransactionID(), req.DurationSec, now)
	if len(points) == 0 {
		return getCompositeScheduleResp{Status: "Rejected"}, nil
	}
	unit := "W"
	if req.ChargingRateUnit != nil {
		unit = *req.ChargingRateUnit
	}
	periods := make([]compositeSchedulePeriod, len(points))
	for i, p := range points {
		periods[i] = compositeSchedulePeriod{StartPeriod: p.StartOffsetSec, Limit: p.LimitW}
	}
	return getCompositeScheduleResp{
		Status:        "Accepted",
		ConnectorID:   req.ConnectorID,
		ScheduleStart: now.Format(time.RFC3339),
		ChargeSchedule: &compositeSchedule{
			DurationSec:      req.DurationSec,
			ChargingRateUnit: unit,
			Periods:          periods,
		},
	}, nil
}

type clearChargingProfileReq struct {
	ID                     *int    `json:"id,omitempty"`
	ConnectorID            *int    `json:"connectorId,omitempty"`
	ChargingProfilePurpose *string `json:"chargingProfilePurpose,omitempty"`
	StackLevel             *int    `json:"stackLevel,omitempty"`
}

func (a *Agent) handleClearChargingProfile(payload json.RawMessage) (interface{}, error) {
	var req clearChargingProfileReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return statusOnlyResp{Status: string(profile.StatusUnknown)}, nil
	}
	filter := profile.Filter{ProfileID: req.ID, ConnectorID: req.ConnectorID, StackLevel: req.StackLevel}
	if req.ChargingProfilePurpose != nil {
		purpose := profile.Purpose(*req.ChargingProfilePurpose)
		filter.Purpose = &purpose
	}
	status := a.profiles.ClearProfiles(filter)
	a.logs.append("ClearChargingProfile -> " + string(status))
	return statusOnlyResp{Status: string(status)}, nil
}

func (a *Agent) handleRemoteStartTransaction(payload json.RawMessage) (interface{}, error) {
	return statusOnlyResp{Status: "Rejected"}, nil
}

func (a *Agent) handleRemoteStopTransaction(payload json.RawMessage) (interface{}, error) {
	return statusOnlyResp{Status: "Rejected"}, nil
}

func (a *Agent) handleReset(payload json.RawMessage) (interface{}, error) {
	a.logs.append("Reset requested by CSMS")
	go func() {
		// Simulate the reboot asynchronously so the CALLRESULT for this
		// Reset request itself is not lost in the ensuing disconnect.
		time.Sleep(500 * time.Millisecond)
		_ = a.transport.Close()
	}()
	return statusOnlyResp{Status: "Accepted"}, nil
}

type changeAvailabilityReq struct {
	ConnectorID int    `json:"connectorId"`
	Type        string `json:"type"`
}

func (a *Agent) handleChangeAvailability(payload json.RawMessage) (interface{}, error) {
	var req changeAvailabilityReq
	if err := json.Unmarshal(payload, &req); err == nil {
		// Sent off the read loop: the reply to this CALL is delivered by
		// the read loop itself.
		if req.Type == "Inoperative" {
			go a.sendStatusNotification(StatusFaulted)
		} else {
			go a.sendStatusNotification(StatusAvailable)
		}
	}
	return statusOnlyResp{Status: "Accepted"}, nil
}

type triggerMessageReq struct {
	RequestedMessage string `json:"requestedMessage"`
}

func (a *Agent) handleTriggerMessage(payload json.RawMessage) (interface{}, error) {
	var req triggerMessageReq
	if err := json.Unmarshal(payload, &req); err == nil {
		switch req.RequestedMessage {
		case "Heartbeat":
			go func() {
				ctx, cancel := contextWithTimeout()
				defer cancel()
				_ = a.sendHeartbeat(ctx)
			}()
		case "StatusNotification":
			go a.sendStatusNotification(a.connectorStatus())
		}
	}
	return statusOnlyResp{Status: "Accepted"}, nil
}

func (a *Agent) connectorStatus() ConnectorStatus {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.connStatus
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
