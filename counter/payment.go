/*
payment.go - Tender validation and per-counter running totals

PURPOSE:
  PaymentReconciler enforces the tender composition invariant (cash +
  digital always sums exactly to the booking amount) and accumulates each
  counter's drawer movements. The movement ledger is the single source of
  truth: the live counter dashboard and the shift-close settlement both
  fold the same entries, so what a cashier sees mid-shift can never drift
  from what is reconciled at close.

VALIDATION RULES:
  - Amount must not be negative
  - CASH:    cash == amount, digital == 0
  - DIGITAL: digital == amount, cash == 0, transaction reference required
  - MIXED:   cash + digital == amount, both components positive
  Violations fail loudly with TenderMismatch; nothing is coerced.

CORRECTIONS:
  A collected payment is never edited. A recorded refund appends an inverse
  void-adjustment movement linked to the originating booking; both entries
  remain, the fold nets to the correction.

SEE ALSO:
  - booking.go: calls Validate before any COLLECTED transition
  - settlement.go: reads CounterSummary for systemCashTotal
*/
package counter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentReconciler owns every mutation of counter running totals.
type PaymentReconciler struct {
	Store MovementStore
	Now   func() time.Time
}

func NewPaymentReconciler(store MovementStore) *PaymentReconciler {
	return &PaymentReconciler{Store: store, Now: time.Now}
}

// =============================================================================
// TENDER VALIDATION
// =============================================================================

// Validate enforces the tender composition invariant.
func (r *PaymentReconciler) Validate(p PaymentInfo) error {
	fail := func(detail string) error {
		return &TenderMismatchError{
			Mode: p.Mode, Amount: p.Amount, Cash: p.CashAmount, Digital: p.DigitalAmount,
			Detail: detail,
		}
	}

	if p.Amount.IsNegative() {
		return fail("amount is negative")
	}
	if p.CashAmount.IsNegative() || p.DigitalAmount.IsNegative() {
		return fail("tender component is negative")
	}

	switch p.Mode {
	case PayCash:
		if !p.CashAmount.Equal(p.Amount) || !p.DigitalAmount.IsZero() {
			return fail("cash payment must be tendered entirely in cash")
		}
	case PayDigital:
		if !p.DigitalAmount.Equal(p.Amount) || !p.CashAmount.IsZero() {
			return fail("digital payment must be tendered entirely digitally")
		}
		if p.Amount.IsPositive() && p.TransactionID == "" {
			return fail("digital payment requires a transaction reference")
		}
	case PayMixed:
		if !p.CashAmount.Add(p.DigitalAmount).Equal(p.Amount) {
			return fail("cash + digital does not equal amount")
		}
		if p.Amount.IsPositive() && (!p.CashAmount.IsPositive() || !p.DigitalAmount.IsPositive()) {
			return fail("mixed tender requires both components positive")
		}
		if p.DigitalAmount.IsPositive() && p.TransactionID == "" {
			return fail("digital component requires a transaction reference")
		}
	default:
		return fail("unknown payment mode")
	}
	return nil
}

// =============================================================================
// ACCUMULATION
// =============================================================================

// AccumulateCollection appends the drawer movement for a collected booking.
func (r *PaymentReconciler) AccumulateCollection(ctx context.Context, counterID CounterID, date string, b *SevaBooking) error {
	return r.Store.AppendMovement(ctx, CashMovement{
		ID:            uuid.NewString(),
		CounterID:     counterID,
		Date:          date,
		Type:          MovementCollection,
		Mode:          b.Payment.Mode,
		CashAmount:    b.Payment.CashAmount,
		DigitalAmount: b.Payment.DigitalAmount,
		BookingID:     b.ID,
		CreatedBy:     b.Payment.CollectedBy,
		CreatedAt:     r.Now().UTC(),
	})
}

// RecordVoidAdjustment appends the inverse movement for a recorded refund.
// The original collection entry is untouched; the fold nets to zero for the
// booking.
func (r *PaymentReconciler) RecordVoidAdjustment(ctx context.Context, counterID CounterID, date string, b *SevaBooking, reason, actorID string) error {
	return r.Store.AppendMovement(ctx, CashMovement{
		ID:            uuid.NewString(),
		CounterID:     counterID,
		Date:          date,
		Type:          MovementVoidAdjust,
		Mode:          b.Payment.Mode,
		CashAmount:    b.Payment.CashAmount.Neg(),
		DigitalAmount: b.Payment.DigitalAmount.Neg(),
		BookingID:     b.ID,
		Reason:        reason,
		CreatedBy:     actorID,
		CreatedAt:     r.Now().UTC(),
	})
}

// RecordOpeningFloat seeds the drawer at shift start. Kept in the movement
// ledger so the drawer's full history folds from one place.
func (r *PaymentReconciler) RecordOpeningFloat(ctx context.Context, counterID CounterID, date string, amount decimal.Decimal, actorID string) error {
	return r.Store.AppendMovement(ctx, CashMovement{
		ID:         uuid.NewString(),
		CounterID:  counterID,
		Date:       date,
		Type:       MovementOpeningFloat,
		Mode:       PayCash,
		CashAmount: amount,
		CreatedBy:  actorID,
		CreatedAt:  r.Now().UTC(),
	})
}

// CounterSummary folds a counter's movements for one date. Opening float is
// excluded from revenue totals; it belongs to the drawer, not to sales.
func (r *PaymentReconciler) CounterSummary(ctx context.Context, counterID CounterID, date string) (CounterTotals, error) {
	movements, err := r.Store.MovementsByCounterDate(ctx, counterID, date)
	if err != nil {
		return CounterTotals{}, err
	}

	totals := CounterTotals{
		CounterID:    counterID,
		Date:         date,
		CashTotal:    decimal.Zero,
		DigitalTotal: decimal.Zero,
		OpeningFloat: decimal.Zero,
	}
	for _, m := range movements {
		switch m.Type {
		case MovementCollection:
			totals.CashTotal = totals.CashTotal.Add(m.CashAmount)
			totals.DigitalTotal = totals.DigitalTotal.Add(m.DigitalAmount)
			totals.Collections++
		case MovementVoidAdjust:
			totals.CashTotal = totals.CashTotal.Add(m.CashAmount)
			totals.DigitalTotal = totals.DigitalTotal.Add(m.DigitalAmount)
			totals.VoidAdjusts++
		case MovementOpeningFloat:
			// Not revenue; the drawer starts with it.
			totals.OpeningFloat = totals.OpeningFloat.Add(m.CashAmount)
		}
	}
	return totals, nil
}
