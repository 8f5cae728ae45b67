package counter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/devasthan/seva-counter/counter"
)

// =============================================================================
// TENDER COMPOSITION VALIDATION
// =============================================================================

func TestValidateTender(t *testing.T) {
	r := counter.NewPaymentReconciler(nil)

	cases := []struct {
		name    string
		payment counter.PaymentInfo
		ok      bool
	}{
		{
			name: "cash exact",
			payment: counter.PaymentInfo{
				Mode: counter.PayCash, Amount: money(500), CashAmount: money(500),
			},
			ok: true,
		},
		{
			name: "cash short",
			payment: counter.PaymentInfo{
				Mode: counter.PayCash, Amount: money(500), CashAmount: money(450),
			},
		},
		{
			name: "cash with digital component",
			payment: counter.PaymentInfo{
				Mode: counter.PayCash, Amount: money(500), CashAmount: money(500), DigitalAmount: money(10),
			},
		},
		{
			name: "digital with reference",
			payment: counter.PaymentInfo{
				Mode: counter.PayDigital, Amount: money(500), DigitalAmount: money(500), TransactionID: "UPI-1",
			},
			ok: true,
		},
		{
			name: "digital missing reference",
			payment: counter.PaymentInfo{
				Mode: counter.PayDigital, Amount: money(500), DigitalAmount: money(500),
			},
		},
		{
			name: "mixed 300+200 equals 500",
			payment: counter.PaymentInfo{
				Mode: counter.PayMixed, Amount: money(500),
				CashAmount: money(300), DigitalAmount: money(200), TransactionID: "UPI-2",
			},
			ok: true,
		},
		{
			name: "mixed 300+150 under 500",
			payment: counter.PaymentInfo{
				Mode: counter.PayMixed, Amount: money(500),
				CashAmount: money(300), DigitalAmount: money(150), TransactionID: "UPI-3",
			},
		},
		{
			name: "mixed over-tender rejected",
			payment: counter.PaymentInfo{
				Mode: counter.PayMixed, Amount: money(500),
				CashAmount: money(400), DigitalAmount: money(200), TransactionID: "UPI-4",
			},
		},
		{
			name: "mixed zero cash component",
			payment: counter.PaymentInfo{
				Mode: counter.PayMixed, Amount: money(500),
				CashAmount: decimal.Zero, DigitalAmount: money(500), TransactionID: "UPI-5",
			},
		},
		{
			name: "negative amount",
			payment: counter.PaymentInfo{
				Mode: counter.PayCash, Amount: money(-10), CashAmount: money(-10),
			},
		},
		{
			name: "negative component",
			payment: counter.PaymentInfo{
				Mode: counter.PayMixed, Amount: money(100),
				CashAmount: money(150), DigitalAmount: money(-50), TransactionID: "UPI-6",
			},
		},
		{
			name: "unknown mode",
			payment: counter.PaymentInfo{
				Mode: "CHEQUE", Amount: money(100), CashAmount: money(100),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Validate(tc.payment)
			if tc.ok && err != nil {
				t.Errorf("expected valid tender, got %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatal("expected tender mismatch, got nil")
				}
				if !errors.Is(err, counter.ErrTenderMismatch) {
					t.Errorf("expected ErrTenderMismatch, got %v", err)
				}
			}
		})
	}
}

// =============================================================================
// MOVEMENT FOLDING
// =============================================================================

func TestCounterSummary_FoldsMovements(t *testing.T) {
	// Opening float is drawer seed, not revenue. Collections add, void
	// adjustments subtract, and the fold is order-independent.
	e := newEnv()
	ctx := context.Background()

	if err := e.payments.RecordOpeningFloat(ctx, "C1", "2026-09-01", money(2000), cashier.ID); err != nil {
		t.Fatal(err)
	}

	b := &counter.SevaBooking{
		ID: "b1",
		Payment: counter.PaymentInfo{
			Mode: counter.PayMixed, Amount: money(500),
			CashAmount: money(300), DigitalAmount: money(200),
			CollectedBy: cashier.ID,
		},
	}
	if err := e.payments.AccumulateCollection(ctx, "C1", "2026-09-01", b); err != nil {
		t.Fatal(err)
	}
	if err := e.payments.RecordVoidAdjustment(ctx, "C1", "2026-09-01", b, "refund", supervisor.ID); err != nil {
		t.Fatal(err)
	}

	totals, err := e.payments.CounterSummary(ctx, "C1", "2026-09-01")
	if err != nil {
		t.Fatal(err)
	}
	if !totals.CashTotal.IsZero() || !totals.DigitalTotal.IsZero() {
		t.Errorf("expected net zero after void adjust, got cash=%s digital=%s",
			totals.CashTotal, totals.DigitalTotal)
	}
	if totals.Collections != 1 || totals.VoidAdjusts != 1 {
		t.Errorf("expected 1 collection and 1 void adjust, got %d/%d",
			totals.Collections, totals.VoidAdjusts)
	}
	if !totals.OpeningFloat.Equal(money(2000)) {
		t.Errorf("expected opening float 2000, got %s", totals.OpeningFloat)
	}
}

func TestCounterSummary_IsolatedPerCounterDate(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	b := &counter.SevaBooking{
		ID:      "b1",
		Payment: counter.PaymentInfo{Mode: counter.PayCash, Amount: money(100), CashAmount: money(100)},
	}
	if err := e.payments.AccumulateCollection(ctx, "C1", "2026-09-01", b); err != nil {
		t.Fatal(err)
	}

	other, err := e.payments.CounterSummary(ctx, "C2", "2026-09-01")
	if err != nil {
		t.Fatal(err)
	}
	if !other.CashTotal.IsZero() {
		t.Errorf("counter C2 must not see C1 movements, got %s", other.CashTotal)
	}

	nextDay, err := e.payments.CounterSummary(ctx, "C1", "2026-09-02")
	if err != nil {
		t.Fatal(err)
	}
	if !nextDay.CashTotal.IsZero() {
		t.Errorf("next day must not see prior movements, got %s", nextDay.CashTotal)
	}
}
