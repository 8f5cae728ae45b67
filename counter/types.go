/*
Package counter implements the seva counter booking and settlement engine.

PURPOSE:
  This package contains the domain types and services for reserving
  fixed-capacity seva time slots, collecting cash/digital payment at a
  physical counter, reconciling each counter's drawer at shift close, and
  recording every state change in an append-only audit trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - TimeSlot: A versioned, fixed-capacity reservation unit for one seva
  - SevaBooking: One reservation + payment + lifecycle record with
    embedded snapshots (devotee, seva, slot, payment)
  - CounterSettlement: Per-counter, per-date cash reconciliation record
  - CashMovement: An immutable drawer movement (the running-total ledger)
  - SevaMaster / CounterConfig: Static configuration inputs

DESIGN PRINCIPLES:
  1. Precision: All money uses decimal.Decimal, never float64
  2. Optimistic concurrency: TimeSlot and CounterSettlement carry a
     monotonic Version; every mutation is a compare-and-swap on it
  3. Snapshots: A booking owns value copies of seva/slot data so history
     stays stable when master data changes later
  4. Auditability: Every transition appends one AuditEntry

SEE ALSO:
  - slot.go: Slot reservation (CAS), commit, release, expiry sweep
  - booking.go: Booking state machine
  - payment.go: Tender validation and counter running totals
  - settlement.go: End-of-shift reconciliation workflow
*/
package counter

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// NewMoney builds a decimal amount from a float literal. Domain logic never
// does arithmetic on float64; convert once at the boundary.
func NewMoney(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// MustMoney parses a decimal string, returning zero on malformed input.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SlotID string
type BookingID string
type SettlementID string
type CounterID string
type SevaID string

// DateKey normalizes a timestamp to its calendar-day key.
// Slots, settlements and receipt sequences are all keyed per day.
func DateKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// =============================================================================
// TIME SLOT - Contended capacity unit
// =============================================================================

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotLimited   SlotStatus = "LIMITED"
	SlotFull      SlotStatus = "FULL"
	SlotClosed    SlotStatus = "CLOSED"
)

// TimeSlot is the only entity mutated by concurrent counter sessions.
// All writes are version-guarded: a writer reads the slot, prepares the new
// state, and the store accepts the write only if Version still matches.
type TimeSlot struct {
	ID             SlotID
	SevaID         SevaID
	Date           time.Time
	StartTime      time.Time
	EndTime        time.Time
	Capacity       int
	BookedCount    int
	WalkInReserved int // units held back for walk-in devotees

	// Optimistic-lock fields. A non-empty LockToken marks one in-flight
	// booking attempt holding one unit of capacity until commit or expiry.
	Version    int64
	LockToken  string
	LockedBy   string
	LockedAt   time.Time
	LockExpiry time.Time

	Status SlotStatus
}

// AvailableCount is derived, never stored independently.
func (s *TimeSlot) AvailableCount() int { return s.Capacity - s.BookedCount }

// WalkInAvailable reports how many units remain guaranteed for walk-ins:
// the reserved quota, capped by what is actually left. Walk-ins themselves
// may draw from the full pool; the quota only constrains pre-booked and
// online reservations (see ReservableBy).
func (s *TimeSlot) WalkInAvailable() int {
	avail := s.AvailableCount()
	if avail < 0 {
		return 0
	}
	if s.WalkInReserved < avail {
		return s.WalkInReserved
	}
	return avail
}

// ReservableBy reports whether one more unit may be reserved for the given
// booking type. Pre-booked/online reservations must leave WalkInReserved
// units free; walk-ins may consume the whole pool.
func (s *TimeSlot) ReservableBy(bt BookingType) bool {
	if s.Status == SlotClosed {
		return false
	}
	avail := s.AvailableCount()
	if bt == BookingWalkIn {
		return avail > 0
	}
	return avail > s.WalkInReserved
}

// LockHeld reports whether an unexpired reservation lock is present.
func (s *TimeSlot) LockHeld(now time.Time) bool {
	return s.LockToken != "" && now.Before(s.LockExpiry)
}

// RecomputeStatus derives Status from the occupancy ratio. An administratively
// closed slot stays closed regardless of occupancy.
func (s *TimeSlot) RecomputeStatus(limitedThreshold float64) {
	if s.Status == SlotClosed {
		return
	}
	switch {
	case s.BookedCount >= s.Capacity:
		s.Status = SlotFull
	case float64(s.AvailableCount()) <= float64(s.Capacity)*limitedThreshold:
		s.Status = SlotLimited
	default:
		s.Status = SlotAvailable
	}
}

// =============================================================================
// BOOKING - Reservation + payment + lifecycle
// =============================================================================

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingCollected BookingStatus = "COLLECTED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingNoShow    BookingStatus = "NO_SHOW"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are legal.
func (bs BookingStatus) Terminal() bool {
	return bs == BookingCompleted || bs == BookingNoShow || bs == BookingCancelled
}

type BookingType string

const (
	BookingWalkIn    BookingType = "WALK_IN"
	BookingPreBooked BookingType = "PRE_BOOKED"
	BookingOnline    BookingType = "ONLINE"
)

type PaymentMode string

const (
	PayCash    PaymentMode = "CASH"
	PayDigital PaymentMode = "DIGITAL"
	PayMixed   PaymentMode = "MIXED"
)

// DevoteeInfo identifies who the seva is performed for.
type DevoteeInfo struct {
	Name             string
	Phone            string
	Gothra           string
	NumberOfDevotees int
}

// SevaInfo is a value copy of the seva master taken at booking time.
// Later edits to master data never change what was sold.
type SevaInfo struct {
	SevaID          SevaID
	Name            string
	Price           decimal.Decimal
	DurationMinutes int
}

// SlotInfo is a value copy of the slot timing taken at booking time.
type SlotInfo struct {
	SlotID    SlotID
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
}

// PaymentInfo records how a booking was tendered.
// Invariant: for MIXED mode, CashAmount + DigitalAmount == Amount.
type PaymentInfo struct {
	Mode          PaymentMode
	Amount        decimal.Decimal
	CashAmount    decimal.Decimal
	DigitalAmount decimal.Decimal
	TransactionID string // gateway/UPI reference for the digital component
	CollectedAt   *time.Time
	CollectedBy   string

	// OverrideApprovedBy is set when Amount deviates from price x devotees.
	OverrideApprovedBy string
}

// SevaBooking is the current-state record of one reservation. It is updated
// transactionally alongside audit appends; history lives in the audit trail,
// never in edits to past fields.
type SevaBooking struct {
	ID            BookingID
	ReceiptNumber string // unique, sequential per counter-day
	QRCode        string // verification payload; image rendering is external

	Devotee DevoteeInfo
	Seva    SevaInfo
	Slot    SlotInfo
	Payment PaymentInfo

	Status      BookingStatus
	BookingType BookingType

	CounterID CounterID
	CashierID string

	IsLateCollection bool
	IsReprint        bool
	ReprintApprovedBy string

	CancelledBy     string
	CancelReason    string
	NoShowMarkedBy  string
	NoShowReason    string
	RefundApprovedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CASH MOVEMENT - Immutable drawer ledger entry
// =============================================================================

type MovementType string

const (
	MovementCollection   MovementType = "collection"    // payment taken for a booking
	MovementVoidAdjust   MovementType = "void_adjust"   // inverse entry for a recorded refund
	MovementOpeningFloat MovementType = "opening_float" // drawer seed at shift start
)

// CashMovement is one append-only entry in a counter's drawer ledger.
// Running totals and settlement figures are folds over these entries; the
// same entries feed the live dashboard and shift-close reconciliation so the
// two can never drift. Corrections append inverse movements, never edits.
type CashMovement struct {
	ID            string
	CounterID     CounterID
	Date          string // DateKey
	Type          MovementType
	Mode          PaymentMode
	CashAmount    decimal.Decimal
	DigitalAmount decimal.Decimal
	BookingID     BookingID // originating booking, empty for opening float
	Reason        string
	CreatedBy     string
	CreatedAt     time.Time
}

// CounterTotals is the folded view of a counter's movements for one date.
// OpeningFloat is tracked separately; it belongs to the drawer, not revenue.
type CounterTotals struct {
	CounterID    CounterID
	Date         string
	CashTotal    decimal.Decimal
	DigitalTotal decimal.Decimal
	OpeningFloat decimal.Decimal
	Collections  int // number of collection movements
	VoidAdjusts  int
}

// Total is the combined revenue across tender types.
func (t CounterTotals) Total() decimal.Decimal { return t.CashTotal.Add(t.DigitalTotal) }

// =============================================================================
// SETTLEMENT - Per-counter, per-date reconciliation record
// =============================================================================

type SettlementStatus string

const (
	SettlementDraft     SettlementStatus = "DRAFT"
	SettlementSubmitted SettlementStatus = "SUBMITTED"
	SettlementApproved  SettlementStatus = "APPROVED"
	SettlementRejected  SettlementStatus = "REJECTED"
)

// CounterSettlement reconciles a counter's physical drawer against the
// system-computed totals. Like TimeSlot it is version-guarded; once approved
// it is locked and no financial field may change again.
type CounterSettlement struct {
	ID        SettlementID
	CounterID CounterID
	Date      string // DateKey
	Shift     string // optional shift label; empty for single-shift counters

	OpeningBalance  decimal.Decimal
	ClosingBalance  decimal.Decimal
	SystemCashTotal decimal.Decimal
	DigitalTotal    decimal.Decimal
	Variance        decimal.Decimal // ClosingBalance - SystemCashTotal
	VarianceReason  string

	BookingCount int
	NoShowCount  int

	Status      SettlementStatus
	SubmittedBy string
	SubmittedAt *time.Time
	ApprovedBy  string
	ApprovedAt  *time.Time
	ApprovalNotes string
	RejectedBy    string
	RejectionReason string
	ResubmissionCount int

	FinanceReceivedBy string
	HandedOverAt      *time.Time

	IsLocked  bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// STATIC CONFIGURATION INPUTS
// =============================================================================

// SlotWindow is one daily time window in a seva's schedule.
type SlotWindow struct {
	Start string `json:"start"` // "HH:MM", temple-local
	End   string `json:"end"`
}

// SevaMaster is static configuration: what a seva costs and how its daily
// slots are laid out. Editing master data is out of scope; bookings snapshot
// the values they need.
type SevaMaster struct {
	ID              SevaID       `json:"id"`
	Name            string       `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int          `json:"duration_minutes"`
	SlotCapacity    int          `json:"slot_capacity"`
	WalkInReserved  int          `json:"walk_in_reserved"`
	Windows         []SlotWindow `json:"windows"`
}

// Catalog is the static seva lookup used when snapshotting bookings.
type Catalog map[SevaID]SevaMaster

// Config carries the engine's tunables. The grace window and retry bound are
// deliberately configuration, not constants.
type Config struct {
	// LockTTL bounds how long a cashier has to complete the booking form
	// before the reserved unit returns to the pool.
	LockTTL time.Duration

	// ReserveMaxRetries bounds CAS retries on version conflict before
	// surfacing SlotUnavailable.
	ReserveMaxRetries int

	// NoShowGraceWindow is how long after slot end a COLLECTED booking must
	// wait before a supervisor may mark it NO_SHOW.
	NoShowGraceWindow time.Duration

	// LimitedThreshold is the remaining-capacity fraction at or below which
	// a slot reports LIMITED.
	LimitedThreshold float64

	// SweepInterval is how often the background sweeper releases expired locks.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LockTTL:           5 * time.Minute,
		ReserveMaxRetries: 3,
		NoShowGraceWindow: 2 * time.Hour,
		LimitedThreshold:  0.2,
		SweepInterval:     30 * time.Second,
	}
}

// =============================================================================
// QUERY TYPES
// =============================================================================

// BookingFilters narrows a booking search. Zero values mean "any".
type BookingFilters struct {
	CounterID   CounterID
	CashierID   string
	SevaID      SevaID
	Date        string // DateKey of the slot date
	Status      BookingStatus
	BookingType BookingType
	Phone       string
}

// PaginationParams selects one page of results.
type PaginationParams struct {
	Page     int // 1-based
	PageSize int
}

// Normalize clamps pagination to sane bounds.
func (p PaginationParams) Normalize() PaginationParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 200 {
		p.PageSize = 50
	}
	return p
}

// Offset is the row offset for the selected page.
func (p PaginationParams) Offset() int { return (p.Page - 1) * p.PageSize }

// FormatReceiptNumber renders the per-counter-day sequential receipt number.
func FormatReceiptNumber(counterID CounterID, date string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", counterID, date, seq)
}
