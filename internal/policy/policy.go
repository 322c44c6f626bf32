// Package policy implements the charging-policy engine: a pure decision
// function arbitrating price, peak-hour, and energy-cap constraints. It has
// no side effects and no clock of its own — every input it needs arrives in
// its arguments, which is what makes it the one component safely callable
// from tests without scheduling.
package policy

import "fmt"

type Action string

const (
	ActionCharge Action = "charge"
	ActionWait   Action = "wait"
	ActionPause  Action = "pause"
)

type TickAction string

const (
	TickContinue TickAction = "continue"
	TickStop     TickAction = "stop"
)

// StationState is the subset of an agent's runtime state the policy cares
// about.
type StationState struct {
	EnergyDispensedKWh float64
	Charging           bool
	SessionActive      bool
}

// Profile carries a station's smart-charging preferences, drawn from its
// behavior preset.
type Profile struct {
	ChargeIfPriceBelow float64
	MaxEnergyKWh       float64
	AllowPeakHours     bool
	PeakHours          map[int]struct{}
}

// Environment is the observed world at decision time.
type Environment struct {
	CurrentPrice float64
	Hour         int
}

type Decision struct {
	Action Action
	Reason string
}

type TickDecision struct {
	Action TickAction
	Reason string
}

// Evaluate applies the strict decision priority: energy cap, then price
// threshold, then peak-hour block, else charge.
func Evaluate(state StationState, profile Profile, env Environment) Decision {
	if state.EnergyDispensedKWh >= profile.MaxEnergyKWh {
		return Decision{
			Action: ActionPause,
			Reason: fmt.Sprintf("Energy cap reached (%.2f/%.2f kWh)", state.EnergyDispensedKWh, profile.MaxEnergyKWh),
		}
	}
	if env.CurrentPrice > profile.ChargeIfPriceBelow {
		return Decision{
			Action: ActionWait,
			Reason: fmt.Sprintf("Price too high (%.2f > %.2f)", env.CurrentPrice, profile.ChargeIfPriceBelow),
		}
	}
	if _, peak := profile.PeakHours[env.Hour]; peak && !profile.AllowPeakHours {
		return Decision{
			Action: ActionWait,
			Reason: fmt.Sprintf("Peak hour block (hour %d)", env.Hour),
		}
	}
	return Decision{Action: ActionCharge, Reason: "Conditions OK"}
}

// EvaluateMeterTick refines Evaluate at meter-sample granularity (Wh instead
// of kWh) and maps its result onto continue/stop.
func EvaluateMeterTick(state StationState, profile Profile, env Environment, currentEnergyWh, maxEnergyWh float64) TickDecision {
	if currentEnergyWh >= maxEnergyWh {
		return TickDecision{
			Action: TickStop,
			Reason: fmt.Sprintf("Energy cap reached (%.0f/%.0f Wh)", currentEnergyWh, maxEnergyWh),
		}
	}
	base := Evaluate(state, profile, env)
	if base.Action == ActionCharge {
		return TickDecision{Action: TickContinue, Reason: base.Reason}
	}
	return TickDecision{Action: TickStop, Reason: base.Reason}
}
