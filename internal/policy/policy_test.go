package policy

import "testing"

func peakProfile() Profile {
	return Profile{
		ChargeIfPriceBelow: 20,
		MaxEnergyKWh:       30,
		AllowPeakHours:     false,
		PeakHours:          map[int]struct{}{18: {}, 19: {}, 20: {}},
	}
}

func TestEvaluateDecisionPriority(t *testing.T) {
	cases := []struct {
		name   string
		state  StationState
		prof   Profile
		env    Environment
		action Action
	}{
		{
			name:   "energy cap wins over everything else",
			state:  StationState{EnergyDispensedKWh: 30},
			prof:   peakProfile(),
			env:    Environment{CurrentPrice: 5, Hour: 2},
			action: ActionPause,
		},
		{
			name:   "price above threshold blocks before peak check",
			state:  StationState{EnergyDispensedKWh: 0},
			prof:   peakProfile(),
			env:    Environment{CurrentPrice: 25, Hour: 2},
			action: ActionWait,
		},
		{
			name:   "peak hour blocks when not allowed",
			state:  StationState{EnergyDispensedKWh: 0},
			prof:   peakProfile(),
			env:    Environment{CurrentPrice: 10, Hour: 19},
			action: ActionWait,
		},
		{
			name:   "all clear charges",
			state:  StationState{EnergyDispensedKWh: 0},
			prof:   peakProfile(),
			env:    Environment{CurrentPrice: 10, Hour: 14},
			action: ActionCharge,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.state, tc.prof, tc.env)
			if got.Action != tc.action {
				t.Fatalf("Evaluate() action = %q, want %q (reason: %s)", got.Action, tc.action, got.Reason)
			}
		})
	}
}

func TestEvaluateBoundaryEnergyCap(t *testing.T) {
	prof := peakProfile()
	env := Environment{CurrentPrice: 10, Hour: 10}

	atCap := Evaluate(StationState{EnergyDispensedKWh: 30}, prof, env)
	if atCap.Action != ActionPause {
		t.Fatalf("at cap: want pause, got %s", atCap.Action)
	}

	belowCap := Evaluate(StationState{EnergyDispensedKWh: 29.999}, prof, env)
	if belowCap.Action != ActionCharge {
		t.Fatalf("just below cap: want charge, got %s", belowCap.Action)
	}
}

func TestEvaluateBoundaryPriceThreshold(t *testing.T) {
	prof := peakProfile()
	state := StationState{EnergyDispensedKWh: 0}

	atThreshold := Evaluate(state, prof, Environment{CurrentPrice: 20, Hour: 10})
	if atThreshold.Action != ActionCharge {
		t.Fatalf("price == threshold: want charge, got %s", atThreshold.Action)
	}

	aboveThreshold := Evaluate(state, prof, Environment{CurrentPrice: 20.01, Hour: 10})
	if aboveThreshold.Action != ActionWait {
		t.Fatalf("price > threshold: want wait, got %s", aboveThreshold.Action)
	}
}

func TestEvaluateAllowPeakDisablesBlock(t *testing.T) {
	prof := peakProfile()
	prof.AllowPeakHours = true
	got := Evaluate(StationState{}, prof, Environment{CurrentPrice: 10, Hour: 19})
	if got.Action != ActionCharge {
		t.Fatalf("allowPeak=true during peak hour: want charge, got %s (%s)", got.Action, got.Reason)
	}
}

func TestEvaluateMeterTickMapsToContinueStop(t *testing.T) {
	prof := peakProfile()
	env := Environment{CurrentPrice: 10, Hour: 10}

	continueTick := EvaluateMeterTick(StationState{}, prof, env, 1000, 30000)
	if continueTick.Action != TickContinue {
		t.Fatalf("want continue, got %s", continueTick.Action)
	}

	stopTick := EvaluateMeterTick(StationState{}, prof, Environment{CurrentPrice: 99, Hour: 10}, 1000, 30000)
	if stopTick.Action != TickStop {
		t.Fatalf("want stop on price block, got %s", stopTick.Action)
	}

	capTick := EvaluateMeterTick(StationState{}, prof, env, 30000, 30000)
	if capTick.Action != TickStop {
		t.Fatalf("want stop at Wh cap, got %s", capTick.Action)
	}
}
