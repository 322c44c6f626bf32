package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const defaultCallTimeout = 30 * time.Second

type bootNotificationReq struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
}

type bootNotificationResp struct {
	Status      string `json:"status"`
	CurrentTime string `json:"currentTime"`
	Interval    int    `json:"interval"`
}

// bootUntilAccepted sends BootNotification, retrying on Pending/Rejected/
// timeout, and adopts the CSMS's heartbeat interval once accepted. It
// returns false if the station was stopped or disconnected before boot
// succeeded.
func (a *Agent) bootUntilAccepted(disconnected <-chan struct{}) bool {
	req := bootNotificationReq{
		ChargePointVendor: a.profile.Vendor,
		ChargePointModel:  a.profile.Model,
		FirmwareVersion:   a.profile.FirmwareVersion,
	}
	for {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		raw, err := a.sendCall(ctx, "BootNotification", req)
		cancel()
		if err != nil {
			a.logs.append("BootNotification failed: " + err.Error())
		} else {
			var resp bootNotificationResp
			if jsonErr := json.Unmarshal(raw, &resp); jsonErr == nil && resp.Status == "Accepted" {
				if resp.Interval > 0 {
					a.setHeartbeatInterval(resp.Interval)
				}
				a.logs.append("BootNotification accepted")
				return true
			}
			a.logs.append("BootNotification not accepted, retrying")
		}
		if !a.sleepCancellableOrDisconnect(5*time.Second, disconnected) {
			return false
		}
	}
}

type heartbeatResp struct {
	CurrentTime string `json:"currentTime"`
}

func (a *Agent) sendHeartbeat(ctx context.Context) error {
	_, err := a.sendCall(ctx, "Heartbeat", struct{}{})
	if err == nil {
		a.logs.append("Heartbeat sent")
	}
	return err
}

type statusNotificationReq struct {
	ConnectorID int    `json:"connectorId"`
	ErrorCode   string `json:"errorCode"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

func (a *Agent) sendStatusNotification(status ConnectorStatus) {
	a.setConnectorStatus(status)
	req := statusNotificationReq{
		ConnectorID: a.profile.ConnectorID,
		ErrorCode:   "NoError",
		Status:      string(status),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	// Status notifications ride the final-call path: the teardown sequence
	// still reports Finishing/Available after Stop() fires.
	if _, err := a.sendCallFinal("StatusNotification", req); err != nil {
		a.logs.append("StatusNotification(" + string(status) + ") failed: " + err.Error())
		return
	}
	a.logs.append("Status -> " + string(status))
}

type idTagInfo struct {
	Status string `json:"status"`
}

type authorizeReq struct {
	IDTag string `json:"idTag"`
}

type authorizeResp struct {
	IDTagInfo idTagInfo `json:"idTagInfo"`
}

func (a *Agent) sendAuthorize(ctx context.Context, idTag string) (authorizeResp, error) {
	raw, err := a.sendCall(ctx, "Authorize", authorizeReq{IDTag: idTag})
	if err != nil {
		return authorizeResp{}, err
	}
	var resp authorizeResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return authorizeResp{}, fmt.Errorf("decode Authorize response: %w", err)
	}
	return resp, nil
}

type startTransactionReq struct {
	ConnectorID int    `json:"connectorId"`
	IDTag       string `json:"idTag"`
	MeterStart  int    `json:"meterStart"`
	Timestamp   string `json:"timestamp"`
}

type startTransactionResp struct {
	TransactionID int       `json:"transactionId"`
	IDTagInfo     idTagInfo `json:"idTagInfo"`
}

func (a *Agent) startTransaction(idTag string) (int, error) {
	req := startTransactionReq{
		ConnectorID: a.profile.ConnectorID,
		IDTag:       idTag,
		MeterStart:  0,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	raw, err := a.sendCall(ctx, "StartTransaction", req)
	if err != nil {
		return 0, err
	}
	var resp startTransactionResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("decode StartTransaction response: %w", err)
	}
	if resp.IDTagInfo.Status != "Accepted" {
		return 0, fmt.Errorf("StartTransaction idTagInfo.status=%s", resp.IDTagInfo.Status)
	}
	a.setTransactionID(resp.TransactionID)
	now := time.Now().UTC()
	a.profiles.NoteTransactionStart(resp.TransactionID, now)
	return resp.TransactionID, nil
}

type meterValue struct {
	Timestamp    string         `json:"timestamp"`
	SampledValue []sampledValue `json:"sampledValue"`
}

type sampledValue struct {
	Value     string `json:"value"`
	Measurand string `json:"measurand,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

type meterValuesReq struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID int          `json:"transactionId"`
	MeterValue    []meterValue `json:"meterValue"`
}

func (a *Agent) sendMeterValues(transactionID int, energyWh, powerW float64) {
	mv := meterValue{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		SampledValue: []sampledValue{
			{Value: fmt.Sprintf("%.1f", energyWh), Measurand: "Energy.Active.Import.Register", Unit: "Wh"},
			{Value: fmt.Sprintf("%.1f", powerW), Measurand: "Power.Active.Import", Unit: "W"},
		},
	}
	req := meterValuesReq{
		ConnectorID:   a.profile.ConnectorID,
		TransactionID: transactionID,
		MeterValue:    []meterValue{mv},
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	if _, err := a.sendCall(ctx, "MeterValues", req); err != nil {
		// MeterValues is best-effort: log and keep going.
		a.logs.append("MeterValues failed: " + err.Error())
	}
}

type stopTransactionReq struct {
	TransactionID int    `json:"transactionId"`
	MeterStop     int    `json:"meterStop"`
	Timestamp     string `json:"timestamp"`
	Reason        string `json:"reason,omitempty"`
}

func (a *Agent) sendStopTransaction(transactionID int, finalEnergyWh float64, reason string) {
	req := stopTransactionReq{
		TransactionID: transactionID,
		MeterStop:     int(finalEnergyWh),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Reason:        reason,
	}
	if _, err := a.sendCallFinal("StopTransaction", req); err != nil {
		a.logs.append("StopTransaction failed: " + err.Error())
	}
}
