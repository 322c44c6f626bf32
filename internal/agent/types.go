// Package agent implements the station agent (C3): the per-station OCPP
// 1.6J client with protocol framing, request/response correlation, inbound
// call handlers, the boot/heartbeat/session lifecycle, and a bounded log
// buffer. It owns a private profile.Manager (C2) and consults the policy
// engine (C1) on every metering tick that no profile caps.
package agent

import "github.com/seu-repo/sigec-swarm/internal/policy"

type ConnectorStatus string

const (
	StatusAvailable ConnectorStatus = "Available"
	StatusPreparing ConnectorStatus = "Preparing"
	StatusCharging  ConnectorStatus = "Charging"
	StatusFinishing ConnectorStatus = "Finishing"
	StatusFaulted   ConnectorStatus = "Faulted"
)

type TransportState string

const (
	TransportConnecting TransportState = "Connecting"
	TransportOpen       TransportState = "Open"
	TransportClosing    TransportState = "Closing"
	TransportClosed     TransportState = "Closed"
)

// Profile is the immutable behavior preset a station is created with. It
// combines the simulation parameters (timing, energy steps, outage
// simulation) with the smart-charging preferences consumed by the policy
// engine.
type Profile struct {
	Name string

	ConnectorID     int
	Vendor          string
	Model           string
	FirmwareVersion string
	NominalVoltage  float64

	HeartbeatIntervalSec      int
	IdleBetweenSessionsMinSec int
	IdleBetweenSessionsMaxSec int
	SampleIntervalSec         int
	EnergyStepMinWh           float64
	EnergyStepMaxWh           float64
	OfflineProbability        float64
	OfflineDurationSec        int
	IDTags                    []string

	ChargeIfPriceBelow float64
	MaxEnergyKWh       float64
	AllowPeakHours     bool
	PeakHours          map[int]struct{}
}

func (p Profile) policyProfile() policy.Profile {
	return policy.Profile{
		ChargeIfPriceBelow: p.ChargeIfPriceBelow,
		MaxEnergyKWh:       p.MaxEnergyKWh,
		AllowPeakHours:     p.AllowPeakHours,
		PeakHours:          p.PeakHours,
	}
}

// Snapshot is the read-only view of an agent's state consumed by the station
// manager (C5) and, ultimately, the control plane.
type Snapshot struct {
	ID              string  `json:"id"`
	Profile         string  `json:"profile"`
	Running         bool    `json:"running"`
	UsageKW         float64 `json:"usage_kW"`
	EnergyKWh       float64 `json:"energy_kWh"`
	EnergyPercent   float64 `json:"energy_percent"`
	MaxEnergyKWh    float64 `json:"maxEnergy_kWh"`
	PriceThreshold  float64 `json:"priceThreshold"`
	AllowPeak       bool    `json:"allowPeak"`
	OCPPControlMode string  `json:"ocppControlMode"`
	ConnectorStatus string  `json:"connectorStatus"`
	TransportState  string  `json:"transportState"`
}
