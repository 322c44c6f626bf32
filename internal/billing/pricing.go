// Package billing prices delivered energy: the rate model behind the
// fleet's earnings figure, and an optional invoicing facade for handing a
// finished session to a payment provider.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"
)

// RateTable turns kWh into money. The per-kWh rate is dynamic (the fleet's
// current price); the table adds the time-of-day shape on top.
type RateTable struct {
	PeakRateMultiplier float64
	Currency           string
	PeakHoursStart     int
	PeakHoursEnd       int
}

// DefaultRateTable returns the stock pricing shape: 50% surcharge between
// 18:00 and 21:00.
func DefaultRateTable() *RateTable {
	return &RateTable{
		PeakRateMultiplier: 1.5,
		Currency:           "BRL",
		PeakHoursStart:     18,
		PeakHoursEnd:       21,
	}
}

// RatePerKWh returns the effective per-kWh rate at the given instant.
func (r *RateTable) RatePerKWh(basePricePerKWh float64, at time.Time) float64 {
	hour := at.Hour()
	if hour >= r.PeakHoursStart && hour < r.PeakHoursEnd {
		return basePricePerKWh * r.PeakRateMultiplier
	}
	return basePricePerKWh
}

// Earnings prices a quantity of energy at the rate in force at the given
// instant.
func (r *RateTable) Earnings(energyKWh, basePricePerKWh float64, at time.Time) float64 {
	return energyKWh * r.RatePerKWh(basePricePerKWh, at)
}

// Invoice is the line-item view of one priced charging session.
type Invoice struct {
	InvoiceID   string    `json:"invoice_id"`
	StationID   string    `json:"station_id"`
	EnergyKWh   float64   `json:"energy_kwh"`
	RatePerKWh  float64   `json:"rate_per_kwh"`
	TotalAmount float64   `json:"total_amount"`
	Currency    string    `json:"currency"`
	GeneratedAt time.Time `json:"generated_at"`
}

// GenerateInvoice prices one session and stamps it.
func (r *RateTable) GenerateInvoice(stationID string, energyKWh, basePricePerKWh float64, sessionStart time.Time) Invoice {
	rate := r.RatePerKWh(basePricePerKWh, sessionStart)
	return Invoice{
		InvoiceID:   fmt.Sprintf("INV-%s-%d", stationID, sessionStart.Unix()),
		StationID:   stationID,
		EnergyKWh:   energyKWh,
		RatePerKWh:  rate,
		TotalAmount: energyKWh * rate,
		Currency:    r.Currency,
		GeneratedAt: time.Now().UTC(),
	}
}

// Invoicer hands a priced invoice to a payment provider. The invoice
// worker is the only caller; nothing on the OCPP path ever waits on one.
type Invoicer interface {
	CreatePaymentIntent(ctx context.Context, inv Invoice) (string, error)
}

// StripeInvoicer creates Stripe payment intents for invoices.
type StripeInvoicer struct {
	log *zap.Logger
}

// NewStripeInvoicer configures the Stripe client with the given secret key.
func NewStripeInvoicer(secretKey string, log *zap.Logger) (*StripeInvoicer, error) {
	if secretKey == "" {
		return nil, errors.New("billing: stripe secret key is required")
	}
	stripe.Key = secretKey
	return &StripeInvoicer{log: log}, nil
}

func (s *StripeInvoicer) CreatePaymentIntent(ctx context.Context, inv Invoice) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(inv.TotalAmount * 100)),
		Currency: stripe.String(inv.Currency),
		Metadata: map[string]string{
			"invoice_id": inv.InvoiceID,
			"station_id": inv.StationID,
		},
	}
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create payment intent: %w", err)
	}
	s.log.Info("Payment intent created",
		zap.String("invoice_id", inv.InvoiceID),
		zap.String("payment_intent_id", pi.ID),
		zap.Float64("amount", inv.TotalAmount),
	)
	return pi.ID, nil
}
