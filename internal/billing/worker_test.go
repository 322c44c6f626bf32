package billing

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-swarm/internal/busevents"
	"github.com/seu-repo/sigec-swarm/internal/mocks"
)

type recordingInvoicer struct {
	mu       sync.Mutex
	invoices []Invoice
}

func (r *recordingInvoicer) CreatePaymentIntent(_ context.Context, inv Invoice) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices = append(r.invoices, inv)
	return "pi_test_1", nil
}

func (r *recordingInvoicer) created() []Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invoice, len(r.invoices))
	copy(out, r.invoices)
	return out
}

func TestInvoiceWorkerPricesFinalizedTransactions(t *testing.T) {
	mq := mocks.NewMockMessageQueue()
	inv := &recordingInvoicer{}
	rates := DefaultRateTable()

	err := StartInvoiceWorker(mq, rates, func() float64 { return 10 }, inv, zap.NewNop())
	if err != nil {
		t.Fatalf("StartInvoiceWorker: %v", err)
	}

	busevents.PublishTransactionFinalized(mq, busevents.TransactionFinalizedEvent{
		StationID:     "PY-SIM-0001",
		TransactionID: 7,
		EnergyWh:      5000,
		StartedAt:     "2026-06-01T09:00:00Z",
		StoppedAt:     "2026-06-01T10:00:00Z",
	})

	created := inv.created()
	if len(created) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(created))
	}
	got := created[0]
	if got.StationID != "PY-SIM-0001" || got.EnergyKWh != 5 {
		t.Fatalf("unexpected invoice identity: %+v", got)
	}
	// 09:00 UTC is off-peak: 5 kWh at the base price of 10.
	if got.TotalAmount != 50 {
		t.Fatalf("expected total 50, got %v", got.TotalAmount)
	}
}

func TestInvoiceWorkerRejectsMalformedEvents(t *testing.T) {
	mq := mocks.NewMockMessageQueue()
	inv := &recordingInvoicer{}

	if err := StartInvoiceWorker(mq, DefaultRateTable(), func() float64 { return 10 }, inv, zap.NewNop()); err != nil {
		t.Fatalf("StartInvoiceWorker: %v", err)
	}
	_ = mq.Publish(busevents.SubjectTransactionFinalized, []byte("not json"))

	if len(inv.created()) != 0 {
		t.Fatalf("malformed event must not produce an invoice")
	}
}
