/*
store.go - Persistence interfaces

PURPOSE:
  Defines the contract between the engine and the database. The design is
  storage-agnostic: any backend works if it supports a conditional write
  (compare-and-set on Version) per slot/settlement record and an append-only
  write path for audit entries and cash movements.

KEY INTERFACES:
  SlotStore:       Versioned slot records; UpdateSlotCAS is the concurrency
                   primitive the whole reservation algorithm rests on
  BookingStore:    Current-state booking records + receipt sequences
  MovementStore:   Append-only drawer ledger
  SettlementStore: Versioned settlement records with lock enforcement
  AuditStore:      Append-only audit log

CONDITIONAL WRITES:
  UpdateSlotCAS / UpdateSettlementCAS accept the record's new state plus the
  version the writer read. If the stored version differs, the write is
  rejected with ErrVersionConflict and nothing changes. The version field IS
  the concurrency-control primitive; no in-process shared mutable state.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (UPDATE ... WHERE version = ?)
  - counter/store: in-memory for tests/dev

SEE ALSO:
  - slot.go: bounded-retry CAS loop over SlotStore
  - settlement.go: workflow over SettlementStore
*/
package counter

import (
	"context"
	"time"
)

// =============================================================================
// SLOT STORE - Versioned records, conditional writes
// =============================================================================

type SlotStore interface {
	// PutSlot inserts a new slot. Fails with ErrDuplicateRecord on id reuse.
	PutSlot(ctx context.Context, slot TimeSlot) error

	// GetSlot returns the slot or ErrNotFound.
	GetSlot(ctx context.Context, id SlotID) (*TimeSlot, error)

	// UpdateSlotCAS writes the slot's new state only if the stored version
	// equals expectedVersion; the written record carries expectedVersion+1.
	// Returns ErrVersionConflict when another writer won the race.
	UpdateSlotCAS(ctx context.Context, slot TimeSlot, expectedVersion int64) error

	// SlotsByDate returns all slots for a seva on a date (sevaID empty = all),
	// ordered by start time.
	SlotsByDate(ctx context.Context, sevaID SevaID, date string) ([]TimeSlot, error)

	// LockedSlots returns slots holding a lock whose expiry is before the
	// cutoff. Used by the expiry sweep.
	LockedSlots(ctx context.Context, cutoff time.Time) ([]TimeSlot, error)
}

// =============================================================================
// BOOKING STORE - Current-state records
// =============================================================================

type BookingStore interface {
	// PutBooking inserts a new booking.
	PutBooking(ctx context.Context, b SevaBooking) error

	// UpdateBooking replaces the current-state record. Bookings are owned by
	// one session until terminal, so a plain write suffices; history is
	// reconstructed from the audit trail, never from edits.
	UpdateBooking(ctx context.Context, b SevaBooking) error

	// GetBooking returns the booking or ErrNotFound.
	GetBooking(ctx context.Context, id BookingID) (*SevaBooking, error)

	// SearchBookings returns one page of matches plus the total match count.
	SearchBookings(ctx context.Context, f BookingFilters, p PaginationParams) ([]SevaBooking, int, error)

	// NextReceiptSeq atomically increments and returns the per-counter-day
	// receipt sequence (first call returns 1).
	NextReceiptSeq(ctx context.Context, counterID CounterID, date string) (int, error)
}

// =============================================================================
// MOVEMENT STORE - Append-only drawer ledger
// =============================================================================

type MovementStore interface {
	// AppendMovement adds one drawer movement. This is the ONLY write.
	AppendMovement(ctx context.Context, m CashMovement) error

	// MovementsByCounterDate returns a counter's movements for a date in
	// append order.
	MovementsByCounterDate(ctx context.Context, counterID CounterID, date string) ([]CashMovement, error)
}

// =============================================================================
// SETTLEMENT STORE - Versioned records with lock enforcement
// =============================================================================

type SettlementStore interface {
	// PutSettlement inserts a new settlement. Fails with ErrDuplicateRecord
	// if one already exists for (counter, date, shift).
	PutSettlement(ctx context.Context, s CounterSettlement) error

	// GetSettlement returns the settlement for (counter, date, shift) or
	// ErrNotFound.
	GetSettlement(ctx context.Context, counterID CounterID, date, shift string) (*CounterSettlement, error)

	// UpdateSettlementCAS is the settlement counterpart of UpdateSlotCAS.
	// Additionally enforces immutability: if the stored record IsLocked, the
	// write is rejected with ErrSettlementLocked unless the only change is
	// the finance handover attribution.
	UpdateSettlementCAS(ctx context.Context, s CounterSettlement, expectedVersion int64) error

	// ListSettlements returns settlements by status (empty = all), newest first.
	ListSettlements(ctx context.Context, status SettlementStatus) ([]CounterSettlement, error)
}

// =============================================================================
// AUDIT STORE - Append-only
// =============================================================================

type AuditStore interface {
	// AppendAudit adds one entry, assigning the next per-entity Seq.
	// No Update, no Delete exist.
	AppendAudit(ctx context.Context, e AuditEntry) error

	// AuditByEntity returns the entity's entries ordered by Seq.
	AuditByEntity(ctx context.Context, entityType, entityID string) ([]AuditEntry, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	SlotStore
	BookingStore
	MovementStore
	SettlementStore
	AuditStore
}
