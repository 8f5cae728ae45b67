/*
booking.go - Booking state machine

PURPOSE:
  BookingLifecycle drives a booking from creation through payment
  collection to one of three terminal states:

    PENDING --[collect, tender reconciles]--> COLLECTED
    PENDING --[cancel]--> CANCELLED            (slot unit released)
    COLLECTED --[service delivered]--> COMPLETED
    COLLECTED --[grace window elapsed]--> NO_SHOW (revenue retained)
    COLLECTED --[recorded refund, approver]--> CANCELLED (inverse movement)

  A COLLECTED booking can never be silently cancelled: money has changed
  hands, so the only exits are NO_SHOW or the recorded refund flow.

  Bookings are created atomically with a successful slot reservation: the
  reserve/commit bracket around creation guarantees a booking exists if and
  only if its capacity unit was consumed.

RECEIPTS:
  Receipt numbers are sequential per counter-day, assigned by the store
  under its own lock. Reprint never changes status; it flags the booking
  and requires an approver identity.

  The QR code field carries the verification payload (booking id + receipt
  number); rendering it as an image is an external collaborator's job.

SEE ALSO:
  - slot.go: the reserve/commit/release bracket
  - payment.go: tender validation and movement accumulation
  - audit.go: one entry per transition
*/
package counter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateBookingRequest is the service-level booking creation input.
type CreateBookingRequest struct {
	Devotee     DevoteeInfo
	SevaID      SevaID
	SlotID      SlotID
	BookingType BookingType
	CounterID   CounterID

	// LockToken presents a unit already held via SlotManager.Reserve (the
	// pre-booked form flow holds a unit while the devotee fills the form).
	// Empty means reserve fresh as part of creation.
	LockToken string

	// Tender. For CollectNow, composition must validate; for deferred
	// collection only the mode is recorded and tender arrives later.
	PaymentMode   PaymentMode
	CashAmount    decimal.Decimal
	DigitalAmount decimal.Decimal
	TransactionID string
	CollectNow    bool

	// OverrideAmount replaces price x devotees; requires an approver.
	OverrideAmount     *decimal.Decimal
	OverrideApprovedBy string
}

// Tender is the payment composition presented at collection time.
type Tender struct {
	Mode          PaymentMode
	CashAmount    decimal.Decimal
	DigitalAmount decimal.Decimal
	TransactionID string
}

// BookingService orchestrates the booking lifecycle.
type BookingService struct {
	Store    Store
	Slots    *SlotManager
	Payments *PaymentReconciler
	Audit    *Trail
	Catalog  Catalog
	Config   Config
	Now      func() time.Time
}

func NewBookingService(store Store, slots *SlotManager, payments *PaymentReconciler, audit *Trail, catalog Catalog, cfg Config) *BookingService {
	return &BookingService{
		Store:    store,
		Slots:    slots,
		Payments: payments,
		Audit:    audit,
		Catalog:  catalog,
		Config:   cfg,
		Now:      time.Now,
	}
}

// =============================================================================
// CREATION
// =============================================================================

// CreateBooking reserves a slot unit and creates the booking atomically.
// On any failure after reservation the unit is returned to the pool; a
// booking exists if and only if its capacity was consumed.
func (s *BookingService) CreateBooking(ctx context.Context, actor Actor, req CreateBookingRequest) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingCreate); err != nil {
		return nil, err
	}

	master, ok := s.Catalog[req.SevaID]
	if !ok {
		return nil, fmt.Errorf("seva %s: %w", req.SevaID, ErrNotFound)
	}
	if req.Devotee.NumberOfDevotees < 1 {
		return nil, fmt.Errorf("number of devotees must be at least 1")
	}

	amount, err := s.resolveAmount(master, req)
	if err != nil {
		return nil, err
	}

	payment := PaymentInfo{
		Mode:               req.PaymentMode,
		Amount:             amount,
		OverrideApprovedBy: req.OverrideApprovedBy,
	}
	if req.CollectNow {
		payment.CashAmount = req.CashAmount
		payment.DigitalAmount = req.DigitalAmount
		payment.TransactionID = req.TransactionID
		if err := s.Payments.Validate(payment); err != nil {
			return nil, err
		}
	}

	// One unit must be held before the booking exists. A caller that already
	// reserved presents its lock token; an expired token surfaces LockExpired
	// at commit and the caller re-reserves. Everything after this point must
	// commit or release.
	lock := &Lock{Token: req.LockToken, SlotID: req.SlotID, HeldBy: actor.ID}
	if req.LockToken == "" {
		lock, err = s.Slots.Reserve(ctx, req.SlotID, actor.ID, req.BookingType)
		if err != nil {
			return nil, err
		}
	}

	slot, err := s.Store.GetSlot(ctx, req.SlotID)
	if err != nil {
		_ = s.Slots.Release(ctx, lock)
		return nil, err
	}

	if err := s.Slots.Commit(ctx, lock); err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	dateKey := DateKey(slot.Date)

	seq, err := s.Store.NextReceiptSeq(ctx, req.CounterID, dateKey)
	if err != nil {
		_ = s.Slots.ReleaseUnit(ctx, req.SlotID)
		return nil, fmt.Errorf("failed to allocate receipt number: %w", err)
	}
	receipt := FormatReceiptNumber(req.CounterID, dateKey, seq)

	booking := SevaBooking{
		ID:            BookingID(uuid.NewString()),
		ReceiptNumber: receipt,
		Devotee:       req.Devotee,
		Seva: SevaInfo{
			SevaID:          master.ID,
			Name:            master.Name,
			Price:           master.Price,
			DurationMinutes: master.DurationMinutes,
		},
		Slot: SlotInfo{
			SlotID:    slot.ID,
			Date:      slot.Date,
			StartTime: slot.StartTime,
			EndTime:   slot.EndTime,
		},
		Payment:     payment,
		Status:      BookingPending,
		BookingType: req.BookingType,
		CounterID:   req.CounterID,
		CashierID:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	booking.QRCode = fmt.Sprintf("SEVA|%s|%s", booking.ID, booking.ReceiptNumber)

	if req.CollectNow {
		booking.Status = BookingCollected
		booking.Payment.CollectedAt = &now
		booking.Payment.CollectedBy = actor.ID
		booking.IsLateCollection = now.After(slot.EndTime)
	}

	if err := s.Store.PutBooking(ctx, booking); err != nil {
		_ = s.Slots.ReleaseUnit(ctx, req.SlotID)
		return nil, fmt.Errorf("failed to persist booking: %w", err)
	}

	if req.CollectNow {
		if err := s.Payments.AccumulateCollection(ctx, req.CounterID, dateKey, &booking); err != nil {
			// The drawer totals must never lag a COLLECTED booking. Roll the
			// booking back to PENDING rather than leave the two diverged.
			booking.Status = BookingPending
			booking.Payment.CollectedAt = nil
			booking.Payment.CollectedBy = ""
			_ = s.Store.UpdateBooking(ctx, booking)
			return nil, fmt.Errorf("failed to accumulate payment: %w", err)
		}
	}

	s.record(ctx, actor, &booking, AuditBookingCreated, nil, map[string]any{
		"status":  string(booking.Status),
		"receipt": booking.ReceiptNumber,
		"slot":    string(slot.ID),
		"amount":  booking.Payment.Amount.String(),
	}, "", "")

	if req.CollectNow {
		s.record(ctx, actor, &booking, AuditPaymentCollected,
			map[string]any{"status": string(BookingPending)},
			map[string]any{"status": string(BookingCollected), "mode": string(payment.Mode)},
			"", "")
	}

	return &booking, nil
}

func (s *BookingService) resolveAmount(master SevaMaster, req CreateBookingRequest) (decimal.Decimal, error) {
	expected := master.Price.Mul(decimal.NewFromInt(int64(req.Devotee.NumberOfDevotees)))
	if req.OverrideAmount == nil {
		return expected, nil
	}
	if req.OverrideApprovedBy == "" {
		return decimal.Zero, &TenderMismatchError{
			Mode:   req.PaymentMode,
			Amount: *req.OverrideAmount,
			Detail: fmt.Sprintf("amount override from %s requires an approver identity", expected),
		}
	}
	return *req.OverrideAmount, nil
}

// =============================================================================
// PAYMENT COLLECTION
// =============================================================================

// CollectPayment flips a PENDING booking to COLLECTED once the tender
// reconciles. The booking's recorded amount is authoritative; the tender
// must match it exactly.
func (s *BookingService) CollectPayment(ctx context.Context, actor Actor, id BookingID, tender Tender) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingCollect); err != nil {
		return nil, err
	}

	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BookingPending {
		return nil, &TransitionError{
			EntityType: "booking", EntityID: string(id),
			From: string(b.Status), Attempted: "collect payment",
		}
	}

	now := s.Now().UTC()
	payment := b.Payment
	payment.Mode = tender.Mode
	payment.CashAmount = tender.CashAmount
	payment.DigitalAmount = tender.DigitalAmount
	payment.TransactionID = tender.TransactionID
	if err := s.Payments.Validate(payment); err != nil {
		return nil, err
	}
	payment.CollectedAt = &now
	payment.CollectedBy = actor.ID

	updated := *b
	updated.Payment = payment
	updated.Status = BookingCollected
	updated.IsLateCollection = now.After(b.Slot.EndTime)
	updated.UpdatedAt = now

	// Accumulate before flipping status: a failed accumulation must not
	// leave the booking in COLLECTED state.
	if err := s.Payments.AccumulateCollection(ctx, b.CounterID, DateKey(b.Slot.Date), &updated); err != nil {
		return nil, fmt.Errorf("failed to accumulate payment: %w", err)
	}
	if err := s.Store.UpdateBooking(ctx, updated); err != nil {
		// Compensate the movement so the drawer fold stays consistent.
		_ = s.Payments.RecordVoidAdjustment(ctx, b.CounterID, DateKey(b.Slot.Date), &updated,
			"compensating failed status write", actor.ID)
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}

	s.record(ctx, actor, &updated, AuditPaymentCollected,
		map[string]any{"status": string(BookingPending)},
		map[string]any{"status": string(BookingCollected), "mode": string(payment.Mode)},
		"", "")
	return &updated, nil
}

// =============================================================================
// TERMINAL TRANSITIONS
// =============================================================================

// MarkCompleted records service delivery for a COLLECTED booking.
func (s *BookingService) MarkCompleted(ctx context.Context, actor Actor, id BookingID) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingComplete); err != nil {
		return nil, err
	}

	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BookingCollected {
		return nil, &TransitionError{
			EntityType: "booking", EntityID: string(id),
			From: string(b.Status), Attempted: "mark completed",
		}
	}

	updated := *b
	updated.Status = BookingCompleted
	updated.UpdatedAt = s.Now().UTC()
	if err := s.Store.UpdateBooking(ctx, updated); err != nil {
		return nil, err
	}

	s.record(ctx, actor, &updated, AuditBookingCompleted,
		map[string]any{"status": string(BookingCollected)},
		map[string]any{"status": string(BookingCompleted)},
		"", "")
	return &updated, nil
}

// MarkNoShow marks a COLLECTED booking whose devotee never appeared.
// Only legal once the grace window past slot end has elapsed. Revenue is
// retained and the slot unit stays consumed.
func (s *BookingService) MarkNoShow(ctx context.Context, actor Actor, id BookingID, reason string) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingNoShow); err != nil {
		return nil, err
	}

	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BookingCollected {
		return nil, &TransitionError{
			EntityType: "booking", EntityID: string(id),
			From: string(b.Status), Attempted: "mark no-show",
		}
	}

	now := s.Now().UTC()
	eligibleAt := b.Slot.EndTime.Add(s.Config.NoShowGraceWindow)
	if now.Before(eligibleAt) {
		return nil, &TransitionError{
			EntityType: "booking", EntityID: string(id),
			From: string(b.Status), Attempted: "mark no-show",
			Detail: fmt.Sprintf("grace window runs until %s", eligibleAt.Format(time.RFC3339)),
		}
	}

	updated := *b
	updated.Status = BookingNoShow
	updated.NoShowMarkedBy = actor.ID
	updated.NoShowReason = reason
	updated.UpdatedAt = now
	if err := s.Store.UpdateBooking(ctx, updated); err != nil {
		return nil, err
	}

	s.record(ctx, actor, &updated, AuditBookingNoShow,
		map[string]any{"status": string(BookingCollected)},
		map[string]any{"status": string(BookingNoShow)},
		reason, "")
	return &updated, nil
}

// Cancel cancels a PENDING booking and returns its slot unit to the pool.
// A COLLECTED booking is never cancellable here: money has changed hands,
// so it must go through MarkNoShow or RecordRefund.
func (s *BookingService) Cancel(ctx context.Context, actor Actor, id BookingID, reason string) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingCancel); err != nil {
		return nil, err
	}

	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BookingPending {
		detail := ""
		if b.Status == BookingCollected {
			detail = "collected bookings go through no-show or the recorded refund flow"
		}
		return nil, &TransitionError{
			EntityType: "booking", EntityID: string(id),
			From: string(b.Status), Attempted: "cancel", Detail: detail,
		}
	}

	updated := *b
	updated.Status = BookingCancelled
	updated.CancelledBy = actor.ID
	updated.CancelReason = reason
	updated.UpdatedAt = s.Now().UTC()
	if err := s.Store.UpdateBooking(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.Slots.ReleaseUnit(ctx, b.Slot.SlotID); err != nil {
		return nil, fmt.Errorf("booking cancelled but slot release failed: %w", err)
	}

	s.record(ctx, actor, &updated, AuditBookingCancelled,
		map[string]any{"status": string(BookingPending)},
		map[string]any{"status": string(BookingCancelled)},
		reason, "")
	return &updated, nil
}

// RecordRefund is the approved exit for a COLLECTED booking. It appends a
// linked inverse drawer movement (the original collection entry is never
// edited), releases the slot unit, and lands in CANCELLED.
func (s *BookingService) RecordRefund(ctx context.Context, actor Actor, id BookingID, reason, approvedBy string) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingRefund); err != nil {
		return nil, err
	}
	if approvedBy == "" {
		return nil, fmt.Errorf("refund requires an approver identity")
	}

	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BookingCollected {
		return nil, &TransitionError{
			EntityType: "booking", EntityID: string(id),
			From: string(b.Status), Attempted: "refund",
		}
	}

	if err := s.Payments.RecordVoidAdjustment(ctx, b.CounterID, DateKey(b.Slot.Date), b, reason, actor.ID); err != nil {
		return nil, fmt.Errorf("failed to record refund adjustment: %w", err)
	}

	updated := *b
	updated.Status = BookingCancelled
	updated.CancelledBy = actor.ID
	updated.CancelReason = reason
	updated.RefundApprovedBy = approvedBy
	updated.UpdatedAt = s.Now().UTC()
	if err := s.Store.UpdateBooking(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.Slots.ReleaseUnit(ctx, b.Slot.SlotID); err != nil {
		return nil, fmt.Errorf("refund recorded but slot release failed: %w", err)
	}

	s.record(ctx, actor, &updated, AuditBookingRefunded,
		map[string]any{"status": string(BookingCollected)},
		map[string]any{"status": string(BookingCancelled)},
		reason, approvedBy)
	return &updated, nil
}

// =============================================================================
// REPRINT AND QUERIES
// =============================================================================

// Reprint flags a duplicate receipt issue. Status never changes; the
// approver identity is mandatory and recorded on both the booking and the
// audit entry.
func (s *BookingService) Reprint(ctx context.Context, actor Actor, id BookingID, reason, approvedBy string) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingReprint); err != nil {
		return nil, err
	}
	if approvedBy == "" {
		return nil, fmt.Errorf("reprint requires an approver identity")
	}

	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == BookingCancelled {
		return nil, &TransitionError{
			EntityType: "booking", EntityID: string(id),
			From: string(b.Status), Attempted: "reprint",
		}
	}

	updated := *b
	updated.IsReprint = true
	updated.ReprintApprovedBy = approvedBy
	updated.UpdatedAt = s.Now().UTC()
	if err := s.Store.UpdateBooking(ctx, updated); err != nil {
		return nil, err
	}

	s.record(ctx, actor, &updated, AuditBookingReprinted, nil,
		map[string]any{"is_reprint": true}, reason, approvedBy)
	return &updated, nil
}

// GetBooking returns one booking.
func (s *BookingService) GetBooking(ctx context.Context, actor Actor, id BookingID) (*SevaBooking, error) {
	if err := Check(actor.Role, PermBookingRead); err != nil {
		return nil, err
	}
	return s.Store.GetBooking(ctx, id)
}

// SearchBookings returns one page of matches plus the total count.
func (s *BookingService) SearchBookings(ctx context.Context, actor Actor, f BookingFilters, p PaginationParams) ([]SevaBooking, int, error) {
	if err := Check(actor.Role, PermBookingRead); err != nil {
		return nil, 0, err
	}
	return s.Store.SearchBookings(ctx, f, p.Normalize())
}

// History returns the booking's ordered audit entries.
func (s *BookingService) History(ctx context.Context, actor Actor, id BookingID) ([]AuditEntry, error) {
	if err := Check(actor.Role, PermAuditRead); err != nil {
		return nil, err
	}
	return s.Audit.History(ctx, "booking", string(id))
}

func (s *BookingService) record(ctx context.Context, actor Actor, b *SevaBooking, action AuditAction, oldVals, newVals map[string]any, reason, approvedBy string) {
	err := s.Audit.Record(ctx, AuditEntry{
		EntityType: "booking",
		EntityID:   string(b.ID),
		Action:     action,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Old:        oldVals,
		New:        newVals,
		Reason:     reason,
		ApprovedBy: approvedBy,
	})
	if err != nil {
		// The transition already committed; surface the gap without
		// unwinding the booking.
		log.Printf("[Booking] Audit append failed for %s %s: %v", action, b.ID, err)
	}
}
