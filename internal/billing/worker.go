package billing

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/busevents"
)

// StartInvoiceWorker subscribes to finalized-transaction events and turns
// each into a priced invoice handed to the invoicer. priceNow supplies the
// fleet's current per-kWh price at invoicing time.
func StartInvoiceWorker(mq busevents.MessageQueue, rates *RateTable, priceNow func() float64, inv Invoicer, log *zap.Logger) error {
	return mq.Subscribe(busevents.SubjectTransactionFinalized, func(data []byte) error {
		var event busevents.TransactionFinalizedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Error("Failed to unmarshal transaction event", zap.Error(err))
			return err
		}

		sessionStart := time.Now().UTC()
		if t, err := time.Parse(time.RFC3339, event.StartedAt); err == nil {
			sessionStart = t
		}

		invoice := rates.GenerateInvoice(event.StationID, float64(event.EnergyWh)/1000, priceNow(), sessionStart)
		piID, err := inv.CreatePaymentIntent(context.Background(), invoice)
		if err != nil {
			log.Error("Failed to create payment intent",
				zap.String("invoice_id", invoice.InvoiceID),
				zap.Error(err),
			)
			return err
		}
		log.Info("Transaction invoiced",
			zap.String("station", event.StationID),
			zap.Int("transaction_id", event.TransactionID),
			zap.Float64("amount", invoice.TotalAmount),
			zap.String("payment_intent_id", piID),
		)
		return nil
	})
}
