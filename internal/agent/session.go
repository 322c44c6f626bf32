package agent

import (
	"fmt"
	"math"
	"time"

	"github.com/seu-repo/sigec-swarm/internal/policy"
)

const (
	minSoftStepWh    = 10.0
	priceBlockSleep  = 60 * time.Second
)

// runSessionLoop drives one station's session cycle: pick an id tag,
// consult the policy engine, authorize, run a transaction and its meter
// loop, then idle (optionally simulating an outage) before the next
// attempt. It runs until disconnected fires or the agent is told to stop.
func (a *Agent) runSessionLoop(disconnected <-chan struct{}) {
	idTagIdx := 0
	for {
		select {
		case <-disconnected:
			return
		case <-a.stopCh:
			return
		default:
		}

		if len(a.profile.IDTags) == 0 {
			if !a.sleepCancellableOrDisconnect(priceBlockSleep, disconnected) {
				return
			}
			continue
		}
		idTag := a.profile.IDTags[idTagIdx%len(a.profile.IDTags)]
		idTagIdx++

		now := time.Now()
		decision := policy.Evaluate(a.sessionPolicyState(), a.profile.policyProfile(), a.environment(now))
		if decision.Action != policy.ActionCharge {
			a.logs.append(decision.Reason)
			if !a.sleepCancellableOrDisconnect(priceBlockSleep, disconnected) {
				return
			}
			continue
		}

		ctx, cancel := contextWithTimeout()
		authResp, err := a.sendAuthorize(ctx, idTag)
		cancel()
		if err != nil || authResp.IDTagInfo.Status != "Accepted" {
			if err != nil {
				a.logs.append("Authorize failed: " + err.Error())
			} else {
				a.logs.append("Authorize rejected (idTag=" + idTag + ")")
			}
			if !a.sleepCancellableOrDisconnect(a.idleDuration(), disconnected) {
				return
			}
			continue
		}
		a.logs.append("Authorize accepted (idTag=" + idTag + ")")

		a.sendStatusNotification(StatusPreparing)
		txID, err := a.startTransaction(idTag)
		if err != nil {
			a.logs.append("StartTransaction failed: " + err.Error())
			a.sendStatusNotification(StatusAvailable)
			if !a.sleepCancellableOrDisconnect(a.idleDuration(), disconnected) {
				return
			}
			continue
		}
		a.logs.append("Charging started (tx=" + itoa(txID) + ")")
		a.sendStatusNotification(StatusCharging)

		reason := a.runMeterLoop(txID, disconnected)

		finalEnergy := a.sessionEnergyWh()
		a.sendStopTransaction(txID, finalEnergy, reason)
		a.logs.append("Charging stopped (" + kwh(finalEnergy) + " kWh delivered)")
		a.clearTransaction()
		a.metrics.SessionStopped(a.id)

		a.sendStatusNotification(StatusFinishing)
		a.sendStatusNotification(StatusAvailable)

		select {
		case <-disconnected:
			return
		case <-a.stopCh:
			return
		default:
		}

		if !a.maybeSimulateOutage(disconnected) {
			return
		}
		if !a.sleepCancellableOrDisconnect(a.idleDuration(), disconnected) {
			return
		}
	}
}

// runMeterLoop samples energy every
// sampleInterval, enforcing an OCPP cap with absolute precedence over the
// policy engine when the profile manager supplies one. Returns the
// StopTransaction reason.
func (a *Agent) runMeterLoop(txID int, disconnected <-chan struct{}) string {
	a.metrics.SessionStarted(a.id)
	interval := time.Duration(a.profile.SampleIntervalSec) * time.Second
	maxEnergyWh := a.profile.MaxEnergyKWh * 1000

	for {
		select {
		case <-time.After(interval):
		case <-disconnected:
			return "PowerLoss"
		case <-a.stopCh:
			return "HardReset"
		}

		now := time.Now()
		baseStep := uniform(a.profile.EnergyStepMinWh, a.profile.EnergyStepMaxWh)

		txIDCopy := txID
		capW, hasCap := a.profiles.GetCurrentLimit(a.profile.ConnectorID, &txIDCopy, now)

		var step float64
		controlled := false
		stop := false
		if hasCap {
			controlled = true
			capStep := capW * float64(a.profile.SampleIntervalSec) / 3600
			step = math.Min(baseStep, capStep)
			if capStep < baseStep {
				a.logs.append("OCPP limit: " + ftoa(capW) + "W -> " + ftoa(step) + "Wh")
			}
		} else {
			tick := policy.EvaluateMeterTick(a.sessionPolicyState(), a.profile.policyProfile(), a.environment(now), a.sessionEnergyWh(), maxEnergyWh)
			if tick.Action == policy.TickStop {
				a.logs.append(tick.Reason)
				stop = true
				step = 0
			} else {
				step = baseStep
				if _, peak := a.profile.PeakHours[now.Hour()]; peak && a.profile.AllowPeakHours {
					step = math.Max(step/2, minSoftStepWh)
				}
			}
		}

		newEnergy := a.sessionEnergyWh() + step
		if newEnergy > maxEnergyWh {
			newEnergy = maxEnergyWh
		}
		powerW := step / float64(a.profile.SampleIntervalSec) * 3600
		a.setMeterTick(newEnergy, powerW, controlled)
		a.sendMeterValues(txID, newEnergy, powerW)

		if newEnergy >= maxEnergyWh {
			return "Local"
		}
		if stop {
			return "Local"
		}
	}
}

func (a *Agent) sessionPolicyState() policy.StationState {
	a.stateMu.Lock()
	energyKWh := a.energyWh / 1000
	active := a.transactionID != nil
	a.stateMu.Unlock()
	return policy.StationState{
		EnergyDispensedKWh: energyKWh,
		Charging:           active,
		SessionActive:      active,
	}
}

func (a *Agent) sessionEnergyWh() float64 {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.energyWh
}

func (a *Agent) environment(t time.Time) policy.Environment {
	return policy.Environment{CurrentPrice: a.currentPrice(), Hour: t.Hour()}
}

func (a *Agent) idleDuration() time.Duration {
	return uniformDuration(a.profile.IdleBetweenSessionsMinSec, a.profile.IdleBetweenSessionsMaxSec)
}

// maybeSimulateOutage closes the transport and sleeps for the profile's
// offline duration with the configured probability. Returns false if the
// agent was stopped mid-outage.
func (a *Agent) maybeSimulateOutage(disconnected <-chan struct{}) bool {
	if a.profile.OfflineProbability <= 0 || randFloat() >= a.profile.OfflineProbability {
		return true
	}
	a.logs.append("simulating offline outage")
	_ = a.transport.Close()
	// The Close above ends the session, so only Stop() may cut the outage
	// short; the disconnect it causes must not.
	return a.sleepCancellable(time.Duration(a.profile.OfflineDurationSec) * time.Second)
}

// Snapshot returns the read-only view of agent state consumed by the
// station manager and, through it, the control plane.
func (a *Agent) Snapshot() Snapshot {
	a.stateMu.Lock()
	energyWh := a.energyWh
	powerW := a.lastPowerW
	connStatus := a.connStatus
	transportState := a.transportState
	controlled := a.ocppControlled
	a.stateMu.Unlock()

	mode := "Auto"
	if controlled {
		mode = "OCPPControlled"
	}
	energyKWh := energyWh / 1000
	pct := 0.0
	if a.profile.MaxEnergyKWh > 0 {
		pct = energyKWh / a.profile.MaxEnergyKWh * 100
	}
	return Snapshot{
		ID:              a.id,
		Profile:         a.profile.Name,
		Running:         a.running.Load(),
		UsageKW:         powerW / 1000,
		EnergyKWh:       energyKWh,
		EnergyPercent:   pct,
		MaxEnergyKWh:    a.profile.MaxEnergyKWh,
		PriceThreshold:  a.profile.ChargeIfPriceBelow,
		AllowPeak:       a.profile.AllowPeakHours,
		OCPPControlMode: mode,
		ConnectorStatus: string(connStatus),
		TransportState:  string(transportState),
	}
}

func kwh(wh float64) string { return fmt.Sprintf("%.2f", wh/1000) }

func ftoa(f float64) string { return fmt.Sprintf("%.0f", f) }
