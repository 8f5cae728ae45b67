package counter_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devasthan/seva-counter/counter"
)

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// createRequest is a baseline walk-in cash booking for one devotee against
// the given slot.
func createRequest(slotID string, collectNow bool) counter.CreateBookingRequest {
	return counter.CreateBookingRequest{
		Devotee:     counter.DevoteeInfo{Name: "Ramesh", Phone: "9876543210", NumberOfDevotees: 1},
		SevaID:      "archana",
		SlotID:      counter.SlotID(slotID),
		BookingType: counter.BookingWalkIn,
		CounterID:   "C1",
		PaymentMode: counter.PayCash,
		CashAmount:  money(100),
		CollectNow:  collectNow,
	}
}

// =============================================================================
// CREATION AND COLLECTION
// =============================================================================

func TestCreateBooking_CollectNow(t *testing.T) {
	// GIVEN: An available slot
	// WHEN: A walk-in booking is created with cash tendered up front
	// THEN: Booking is COLLECTED, receipt issued, drawer total updated

	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	assert.Equal(t, counter.BookingCollected, b.Status)
	assert.Equal(t, "C1-2026-09-01-0001", b.ReceiptNumber)
	assert.True(t, strings.HasPrefix(b.QRCode, "SEVA|"))
	assert.NotNil(t, b.Payment.CollectedAt)
	assert.Equal(t, cashier.ID, b.Payment.CollectedBy)
	assert.False(t, b.IsLateCollection)

	slot := e.getSlot(t, "s1")
	assert.Equal(t, 1, slot.BookedCount)
	assert.Empty(t, slot.LockToken, "lock must clear on commit")

	totals, err := e.payments.CounterSummary(ctx, "C1", "2026-09-01")
	require.NoError(t, err)
	assert.True(t, totals.CashTotal.Equal(money(100)))
	assert.Equal(t, 1, totals.Collections)
}

func TestCreateBooking_ReceiptNumbersSequential(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b1, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)
	b2, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	assert.Equal(t, "C1-2026-09-01-0001", b1.ReceiptNumber)
	assert.Equal(t, "C1-2026-09-01-0002", b2.ReceiptNumber)
}

func TestCreateBooking_MultipleDevotees_PriceMultiplied(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)

	req := createRequest("s1", true)
	req.Devotee.NumberOfDevotees = 3
	req.CashAmount = money(300)

	b, err := e.bookings.CreateBooking(context.Background(), cashier, req)
	require.NoError(t, err)
	assert.True(t, b.Payment.Amount.Equal(money(300)))
}

func TestCreateBooking_TenderMismatch_NoSideEffects(t *testing.T) {
	// GIVEN: A cash booking tendered 90 against a 100 price
	// WHEN: Creation is attempted
	// THEN: TenderMismatch, and no capacity was consumed

	e := newEnv()
	e.putSlot(t, "s1", 5, 0)

	req := createRequest("s1", true)
	req.CashAmount = money(90)

	_, err := e.bookings.CreateBooking(context.Background(), cashier, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrTenderMismatch))
	assert.Equal(t, 0, e.getSlot(t, "s1").BookedCount)
}

func TestCreateBooking_WithHeldLock_ConsumesOneUnit(t *testing.T) {
	// GIVEN: A unit already held via Reserve while the form is filled
	// WHEN: The booking is created presenting the lock token
	// THEN: Exactly one unit is consumed and the lock clears

	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	lock, err := e.slots.Reserve(ctx, "s1", cashier.ID, counter.BookingPreBooked)
	require.NoError(t, err)

	req := createRequest("s1", true)
	req.BookingType = counter.BookingPreBooked
	req.LockToken = lock.Token

	b, err := e.bookings.CreateBooking(ctx, cashier, req)
	require.NoError(t, err)
	assert.Equal(t, counter.BookingCollected, b.Status)

	slot := e.getSlot(t, "s1")
	assert.Equal(t, 1, slot.BookedCount)
	assert.Empty(t, slot.LockToken)
}

func TestCreateBooking_ExpiredLockToken_Rejected(t *testing.T) {
	// GIVEN: A held lock whose TTL elapsed before the form completed
	// WHEN: The booking is created presenting the stale token
	// THEN: LockExpired; the caller must re-reserve

	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	lock, err := e.slots.Reserve(ctx, "s1", cashier.ID, counter.BookingPreBooked)
	require.NoError(t, err)
	e.advance(e.cfg.LockTTL + time.Second)

	req := createRequest("s1", true)
	req.LockToken = lock.Token

	_, err = e.bookings.CreateBooking(ctx, cashier, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrLockExpired))
}

func TestCreateBooking_OverrideRequiresApprover(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	override := money(50)
	req := createRequest("s1", false)
	req.OverrideAmount = &override

	_, err := e.bookings.CreateBooking(ctx, cashier, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrTenderMismatch))

	req.OverrideApprovedBy = supervisor.ID
	b, err := e.bookings.CreateBooking(ctx, cashier, req)
	require.NoError(t, err)
	assert.True(t, b.Payment.Amount.Equal(money(50)))
	assert.Equal(t, supervisor.ID, b.Payment.OverrideApprovedBy)
}

func TestCollectPayment_MixedTender(t *testing.T) {
	// GIVEN: A PENDING pre-booked reservation for 100
	// WHEN: 60 cash + 40 digital is tendered with a transaction reference
	// THEN: COLLECTED, and the drawer fold carries both components

	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", false))
	require.NoError(t, err)
	require.Equal(t, counter.BookingPending, b.Status)

	collected, err := e.bookings.CollectPayment(ctx, cashier, b.ID, counter.Tender{
		Mode:          counter.PayMixed,
		CashAmount:    money(60),
		DigitalAmount: money(40),
		TransactionID: "UPI-123",
	})
	require.NoError(t, err)
	assert.Equal(t, counter.BookingCollected, collected.Status)

	totals, err := e.payments.CounterSummary(ctx, "C1", "2026-09-01")
	require.NoError(t, err)
	assert.True(t, totals.CashTotal.Equal(money(60)))
	assert.True(t, totals.DigitalTotal.Equal(money(40)))
}

func TestCollectPayment_MismatchRejected(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", false))
	require.NoError(t, err)

	_, err = e.bookings.CollectPayment(ctx, cashier, b.ID, counter.Tender{
		Mode:          counter.PayMixed,
		CashAmount:    money(60),
		DigitalAmount: money(30),
		TransactionID: "UPI-123",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrTenderMismatch))

	// Booking stays PENDING and nothing reached the drawer.
	fresh, err := e.bookings.GetBooking(ctx, cashier, b.ID)
	require.NoError(t, err)
	assert.Equal(t, counter.BookingPending, fresh.Status)
	totals, _ := e.payments.CounterSummary(ctx, "C1", "2026-09-01")
	assert.True(t, totals.CashTotal.IsZero())
}

func TestCollectPayment_TwiceRejected(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	_, err = e.bookings.CollectPayment(ctx, cashier, b.ID, counter.Tender{
		Mode: counter.PayCash, CashAmount: money(100),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrInvalidTransition))
}

func TestCollectPayment_AfterSlotEnd_FlagsLate(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", false))
	require.NoError(t, err)

	e.advance(3 * time.Hour) // past slot end

	collected, err := e.bookings.CollectPayment(ctx, cashier, b.ID, counter.Tender{
		Mode: counter.PayCash, CashAmount: money(100),
	})
	require.NoError(t, err)
	assert.True(t, collected.IsLateCollection)
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

func TestCancel_Pending_ReleasesUnit(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", false))
	require.NoError(t, err)
	require.Equal(t, 1, e.getSlot(t, "s1").BookedCount)

	cancelled, err := e.bookings.Cancel(ctx, cashier, b.ID, "devotee changed plans")
	require.NoError(t, err)
	assert.Equal(t, counter.BookingCancelled, cancelled.Status)
	assert.Equal(t, 0, e.getSlot(t, "s1").BookedCount, "unit returns to the pool")
}

func TestCancel_Collected_Rejected(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	_, err = e.bookings.Cancel(ctx, cashier, b.ID, "regret")
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "refund")
}

func TestMarkCompleted(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	done, err := e.bookings.MarkCompleted(ctx, cashier, b.ID)
	require.NoError(t, err)
	assert.Equal(t, counter.BookingCompleted, done.Status)

	// Terminal: no further transitions.
	_, err = e.bookings.MarkCompleted(ctx, cashier, b.ID)
	assert.True(t, errors.Is(err, counter.ErrInvalidTransition))
}

func TestMarkNoShow_GraceWindow(t *testing.T) {
	// GIVEN: A COLLECTED booking whose slot ended
	// WHEN: No-show is attempted inside, then after, the grace window
	// THEN: Rejected inside; NO_SHOW after, with revenue retained

	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	e.advance(2*time.Hour + 30*time.Minute) // past slot end, inside grace

	_, err = e.bookings.MarkNoShow(ctx, supervisor, b.ID, "absent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "grace window")

	e.advance(e.cfg.NoShowGraceWindow)

	marked, err := e.bookings.MarkNoShow(ctx, supervisor, b.ID, "absent")
	require.NoError(t, err)
	assert.Equal(t, counter.BookingNoShow, marked.Status)
	assert.Equal(t, supervisor.ID, marked.NoShowMarkedBy)

	// Revenue retained: the drawer fold is untouched.
	totals, _ := e.payments.CounterSummary(ctx, "C1", "2026-09-01")
	assert.True(t, totals.CashTotal.Equal(money(100)))
	assert.Equal(t, 1, e.getSlot(t, "s1").BookedCount, "no-show keeps the unit consumed")
}

func TestMarkNoShow_CashierForbidden(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	_, err = e.bookings.MarkNoShow(ctx, cashier, b.ID, "absent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrUnauthorized))
}

func TestRecordRefund_NetsDrawerToZero(t *testing.T) {
	// GIVEN: A COLLECTED booking
	// WHEN: A supervisor records an approved refund
	// THEN: An inverse movement appends, the unit frees, status is CANCELLED

	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	_, err = e.bookings.RecordRefund(ctx, supervisor, b.ID, "seva not performed", "")
	require.Error(t, err, "refund requires an approver identity")

	refunded, err := e.bookings.RecordRefund(ctx, supervisor, b.ID, "seva not performed", manager.ID)
	require.NoError(t, err)
	assert.Equal(t, counter.BookingCancelled, refunded.Status)
	assert.Equal(t, manager.ID, refunded.RefundApprovedBy)

	totals, err := e.payments.CounterSummary(ctx, "C1", "2026-09-01")
	require.NoError(t, err)
	assert.True(t, totals.CashTotal.IsZero(), "collection and void adjust net to zero")
	assert.Equal(t, 1, totals.Collections)
	assert.Equal(t, 1, totals.VoidAdjusts)
	assert.Equal(t, 0, e.getSlot(t, "s1").BookedCount)
}

func TestReprint_RequiresApprover_KeepsStatus(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	_, err = e.bookings.Reprint(ctx, supervisor, b.ID, "torn receipt", "")
	require.Error(t, err)

	reprinted, err := e.bookings.Reprint(ctx, supervisor, b.ID, "torn receipt", supervisor.ID)
	require.NoError(t, err)
	assert.True(t, reprinted.IsReprint)
	assert.Equal(t, counter.BookingCollected, reprinted.Status, "reprint never changes status")
	assert.Equal(t, b.ReceiptNumber, reprinted.ReceiptNumber)
}

func TestReprint_CancelledRejected(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", false))
	require.NoError(t, err)
	_, err = e.bookings.Cancel(ctx, cashier, b.ID, "no longer needed")
	require.NoError(t, err)

	_, err = e.bookings.Reprint(ctx, supervisor, b.ID, "copy", supervisor.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrInvalidTransition))
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func TestAuditTrail_OrderedPerBooking(t *testing.T) {
	// Every transition appends exactly one entry, in order.
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", false))
	require.NoError(t, err)
	_, err = e.bookings.CollectPayment(ctx, cashier, b.ID, counter.Tender{
		Mode: counter.PayCash, CashAmount: money(100),
	})
	require.NoError(t, err)
	_, err = e.bookings.MarkCompleted(ctx, cashier, b.ID)
	require.NoError(t, err)
	_, err = e.bookings.Reprint(ctx, supervisor, b.ID, "faded", supervisor.ID)
	require.NoError(t, err)

	entries, err := e.bookings.History(ctx, supervisor, b.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	wantActions := []counter.AuditAction{
		counter.AuditBookingCreated,
		counter.AuditPaymentCollected,
		counter.AuditBookingCompleted,
		counter.AuditBookingReprinted,
	}
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Seq)
		assert.Equal(t, wantActions[i], entry.Action)
	}
	assert.Equal(t, supervisor.ID, entries[3].ApprovedBy)
}

func TestHistory_CashierForbidden(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 5, 0)
	ctx := context.Background()

	b, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
	require.NoError(t, err)

	_, err = e.bookings.History(ctx, cashier, b.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, counter.ErrUnauthorized))
}

// =============================================================================
// SEARCH
// =============================================================================

func TestSearchBookings_FiltersAndPaginates(t *testing.T) {
	e := newEnv()
	e.putSlot(t, "s1", 10, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", true))
		require.NoError(t, err)
	}
	pending, err := e.bookings.CreateBooking(ctx, cashier, createRequest("s1", false))
	require.NoError(t, err)

	results, total, err := e.bookings.SearchBookings(ctx, cashier,
		counter.BookingFilters{CounterID: "C1", Status: counter.BookingCollected},
		counter.PaginationParams{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, results, 2)

	byPhone, total, err := e.bookings.SearchBookings(ctx, cashier,
		counter.BookingFilters{Phone: "9876543210", Status: counter.BookingPending},
		counter.PaginationParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, pending.ID, byPhone[0].ID)
}
