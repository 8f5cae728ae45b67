package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devasthan/seva-counter/counter"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSlot(id string) counter.TimeSlot {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return counter.TimeSlot{
		ID:             counter.SlotID(id),
		SevaID:         "archana",
		Date:           day,
		StartTime:      day.Add(9 * time.Hour),
		EndTime:        day.Add(9*time.Hour + 30*time.Minute),
		Capacity:       5,
		WalkInReserved: 1,
		Version:        1,
		Status:         counter.SlotAvailable,
	}
}

func testBooking(id, receipt string) counter.SevaBooking {
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	return counter.SevaBooking{
		ID:            counter.BookingID(id),
		ReceiptNumber: receipt,
		QRCode:        "SEVA|" + id + "|" + receipt,
		Devotee:       counter.DevoteeInfo{Name: "Ramesh", Phone: "9876543210", NumberOfDevotees: 1},
		Seva: counter.SevaInfo{
			SevaID: "archana", Name: "Archana",
			Price: decimal.NewFromInt(100), DurationMinutes: 30,
		},
		Slot: counter.SlotInfo{
			SlotID: "s1", Date: now.Truncate(24 * time.Hour),
			StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour),
		},
		Payment: counter.PaymentInfo{
			Mode: counter.PayCash, Amount: decimal.NewFromInt(100),
			CashAmount: decimal.NewFromInt(100), DigitalAmount: decimal.Zero,
		},
		Status:      counter.BookingPending,
		BookingType: counter.BookingWalkIn,
		CounterID:   "C1",
		CashierID:   "cash-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// =============================================================================
// SLOT CAS
// =============================================================================

func TestSlotCAS_RoundTripAndConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSlot(ctx, testSlot("s1")))
	require.ErrorIs(t, s.PutSlot(ctx, testSlot("s1")), counter.ErrDuplicateRecord)

	slot, err := s.GetSlot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), slot.Version)
	assert.Equal(t, 5, slot.Capacity)
	assert.True(t, slot.StartTime.Equal(testSlot("s1").StartTime))

	// Stale-version write loses.
	updated := *slot
	updated.BookedCount = 1
	updated.LockToken = "tok-1"
	updated.LockExpiry = time.Now().UTC().Add(5 * time.Minute)
	require.NoError(t, s.UpdateSlotCAS(ctx, updated, slot.Version))
	require.ErrorIs(t, s.UpdateSlotCAS(ctx, updated, slot.Version), counter.ErrVersionConflict)

	fresh, err := s.GetSlot(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, 1, fresh.BookedCount)
	assert.Equal(t, "tok-1", fresh.LockToken)

	require.ErrorIs(t, s.UpdateSlotCAS(ctx, testSlot("missing"), 1), counter.ErrNotFound)
	_, err = s.GetSlot(ctx, "missing")
	require.ErrorIs(t, err, counter.ErrNotFound)
}

func TestLockedSlots_FiltersOnExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	expired := testSlot("expired")
	expired.LockToken = "tok-a"
	expired.LockExpiry = now.Add(-time.Minute)
	live := testSlot("live")
	live.LockToken = "tok-b"
	live.LockExpiry = now.Add(time.Minute)
	unlocked := testSlot("unlocked")

	for _, slot := range []counter.TimeSlot{expired, live, unlocked} {
		require.NoError(t, s.PutSlot(ctx, slot))
	}

	got, err := s.LockedSlots(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, counter.SlotID("expired"), got[0].ID)
}

func TestSlotsByDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testSlot("s-early")
	second := testSlot("s-late")
	second.StartTime = second.StartTime.Add(2 * time.Hour)
	require.NoError(t, s.PutSlot(ctx, second))
	require.NoError(t, s.PutSlot(ctx, first))

	slots, err := s.SlotsByDate(ctx, "archana", "2026-09-01")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, counter.SlotID("s-early"), slots[0].ID, "ordered by start time")

	none, err := s.SlotsByDate(ctx, "abhisheka", "2026-09-01")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// BOOKINGS AND RECEIPTS
// =============================================================================

func TestBooking_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := testBooking("b1", "C1-2026-09-01-0001")
	require.NoError(t, s.PutBooking(ctx, b))
	require.ErrorIs(t, s.PutBooking(ctx, b), counter.ErrDuplicateRecord)

	got, err := s.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b.ReceiptNumber, got.ReceiptNumber)
	assert.True(t, got.Payment.Amount.Equal(b.Payment.Amount))
	assert.True(t, got.Seva.Price.Equal(b.Seva.Price))
	assert.Equal(t, b.Devotee.Phone, got.Devotee.Phone)

	collectedAt := time.Date(2026, 9, 1, 9, 15, 0, 0, time.UTC)
	got.Status = counter.BookingCollected
	got.Payment.CollectedAt = &collectedAt
	got.Payment.CollectedBy = "cash-1"
	require.NoError(t, s.UpdateBooking(ctx, *got))

	fresh, err := s.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, counter.BookingCollected, fresh.Status)
	require.NotNil(t, fresh.Payment.CollectedAt)
	assert.True(t, fresh.Payment.CollectedAt.Equal(collectedAt))

	require.ErrorIs(t, s.UpdateBooking(ctx, testBooking("nope", "X-0001")), counter.ErrNotFound)
}

func TestSearchBookings_FiltersAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"b1", "b2", "b3"} {
		b := testBooking(id, counter.FormatReceiptNumber("C1", "2026-09-01", i+1))
		if id == "b3" {
			b.Status = counter.BookingCollected
		}
		require.NoError(t, s.PutBooking(ctx, b))
	}

	pending, total, err := s.SearchBookings(ctx,
		counter.BookingFilters{CounterID: "C1", Status: counter.BookingPending},
		counter.PaginationParams{Page: 1, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, pending, 1)

	_, total, err = s.SearchBookings(ctx,
		counter.BookingFilters{Phone: "0000000000"}, counter.PaginationParams{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestNextReceiptSeq_PerCounterDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		seq, err := s.NextReceiptSeq(ctx, "C1", "2026-09-01")
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	// Independent sequences per counter and per day.
	seq, err := s.NextReceiptSeq(ctx, "C2", "2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
	seq, err = s.NextReceiptSeq(ctx, "C1", "2026-09-02")
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestMovements_AppendOnlyOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	for i, amount := range []int64{100, 200} {
		require.NoError(t, s.AppendMovement(ctx, counter.CashMovement{
			ID:            counter.FormatReceiptNumber("m", "id", i),
			CounterID:     "C1",
			Date:          "2026-09-01",
			Type:          counter.MovementCollection,
			Mode:          counter.PayCash,
			CashAmount:    decimal.NewFromInt(amount),
			DigitalAmount: decimal.Zero,
			BookingID:     "b1",
			CreatedBy:     "cash-1",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	movements, err := s.MovementsByCounterDate(ctx, "C1", "2026-09-01")
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.True(t, movements[0].CashAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, movements[1].CashAmount.Equal(decimal.NewFromInt(200)))
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func testSettlement(id string) counter.CounterSettlement {
	now := time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC)
	return counter.CounterSettlement{
		ID:              counter.SettlementID(id),
		CounterID:       "C1",
		Date:            "2026-09-01",
		OpeningBalance:  decimal.NewFromInt(2000),
		ClosingBalance:  decimal.Zero,
		SystemCashTotal: decimal.Zero,
		DigitalTotal:    decimal.Zero,
		Variance:        decimal.Zero,
		Status:          counter.SettlementDraft,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestSettlementCAS_LockEnforcement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSettlement(ctx, testSettlement("st1")))
	require.ErrorIs(t, s.PutSettlement(ctx, testSettlement("st1")), counter.ErrDuplicateRecord)

	got, err := s.GetSettlement(ctx, "C1", "2026-09-01", "")
	require.NoError(t, err)

	// Approve and lock.
	now := time.Date(2026, 9, 1, 19, 0, 0, 0, time.UTC)
	approved := *got
	approved.Status = counter.SettlementApproved
	approved.ApprovedBy = "sup-1"
	approved.ApprovedAt = &now
	approved.IsLocked = true
	approved.UpdatedAt = now
	require.NoError(t, s.UpdateSettlementCAS(ctx, approved, got.Version))
	approved.Version = got.Version + 1

	// Financial tampering on a locked record is rejected.
	tampered := approved
	tampered.ClosingBalance = decimal.NewFromInt(999)
	require.ErrorIs(t, s.UpdateSettlementCAS(ctx, tampered, approved.Version), counter.ErrSettlementLocked)

	// The one-time handover attribution passes.
	handover := approved
	handover.FinanceReceivedBy = "fin-1"
	handover.HandedOverAt = &now
	require.NoError(t, s.UpdateSettlementCAS(ctx, handover, approved.Version))

	final, err := s.GetSettlement(ctx, "C1", "2026-09-01", "")
	require.NoError(t, err)
	assert.Equal(t, "fin-1", final.FinanceReceivedBy)

	// Second handover attempt fails: the attribution is already set.
	again := *final
	again.FinanceReceivedBy = "fin-2"
	require.ErrorIs(t, s.UpdateSettlementCAS(ctx, again, final.Version), counter.ErrSettlementLocked)
}

func TestSettlementCAS_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSettlement(ctx, testSettlement("st1")))
	got, err := s.GetSettlement(ctx, "C1", "2026-09-01", "")
	require.NoError(t, err)

	updated := *got
	updated.Status = counter.SettlementSubmitted
	require.NoError(t, s.UpdateSettlementCAS(ctx, updated, got.Version))
	require.ErrorIs(t, s.UpdateSettlementCAS(ctx, updated, got.Version), counter.ErrVersionConflict)
}

func TestListSettlements_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testSettlement("st1")
	b := testSettlement("st2")
	b.CounterID = "C2"
	b.Status = counter.SettlementSubmitted
	require.NoError(t, s.PutSettlement(ctx, a))
	require.NoError(t, s.PutSettlement(ctx, b))

	drafts, err := s.ListSettlements(ctx, counter.SettlementDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, counter.SettlementID("st1"), drafts[0].ID)

	all, err := s.ListSettlements(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAudit_SeqPerEntity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendAudit(ctx, counter.AuditEntry{
			ID:         counter.FormatReceiptNumber("a", "b1", i),
			EntityType: "booking",
			EntityID:   "b1",
			Action:     counter.AuditBookingCreated,
			ActorID:    "cash-1",
			ActorRole:  counter.RoleCashier,
			Timestamp:  now,
			New:        map[string]any{"status": "PENDING"},
		}))
	}
	require.NoError(t, s.AppendAudit(ctx, counter.AuditEntry{
		ID: "other-1", EntityType: "booking", EntityID: "b2",
		Action: counter.AuditBookingCreated, ActorID: "cash-1",
		ActorRole: counter.RoleCashier, Timestamp: now,
	}))

	entries, err := s.AuditByEntity(ctx, "booking", "b1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Seq, "sequence restarts per entity")
		assert.Equal(t, "PENDING", e.New["status"])
	}

	other, err := s.AuditByEntity(ctx, "booking", "b2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, 1, other[0].Seq)
}
