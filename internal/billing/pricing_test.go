package billing

import (
	"testing"
	"time"
)

func TestRatePerKWhAppliesPeakMultiplier(t *testing.T) {
	rt := DefaultRateTable()

	tests := []struct {
		name string
		hour int
		want float64
	}{
		{"off peak morning", 9, 10.0},
		{"peak start", 18, 15.0},
		{"mid peak", 20, 15.0},
		{"peak end is exclusive", 21, 10.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			at := time.Date(2025, 6, 1, tc.hour, 30, 0, 0, time.Local)
			got := rt.RatePerKWh(10.0, at)
			if got != tc.want {
				t.Fatalf("hour %d: expected rate %v, got %v", tc.hour, tc.want, got)
			}
		})
	}
}

func TestEarningsScaleWithEnergy(t *testing.T) {
	rt := DefaultRateTable()
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local)

	if got := rt.Earnings(0, 10, at); got != 0 {
		t.Fatalf("zero energy must earn zero, got %v", got)
	}
	if got := rt.Earnings(20, 10, at); got != 200 {
		t.Fatalf("expected 200, got %v", got)
	}
}

func TestGenerateInvoice(t *testing.T) {
	rt := DefaultRateTable()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local)

	inv := rt.GenerateInvoice("PY-SIM-0001", 12.5, 10, start)
	if inv.TotalAmount != 125 {
		t.Fatalf("expected total 125, got %v", inv.TotalAmount)
	}
	if inv.Currency != "BRL" {
		t.Fatalf("expected BRL, got %s", inv.Currency)
	}
	if inv.StationID != "PY-SIM-0001" || inv.InvoiceID == "" {
		t.Fatalf("unexpected invoice identity: %+v", inv)
	}
}
