/*
slot.go - Slot capacity reservation under optimistic concurrency

PURPOSE:
  SlotManager owns every mutation of slot capacity. Reservation is a
  compare-and-swap on the slot's version: read, verify capacity and lock
  state, write bookedCount+1 with the lock fields set, conditioned on the
  read version. Losers of the race retry against the refreshed slot a
  bounded number of times, then surface SlotUnavailable.

LOCK LIFECYCLE:
  reserve  -> bookedCount+1, lock fields set, expiry = now + LockTTL
  commit   -> lock fields cleared, bookedCount KEPT (capacity consumed)
  release  -> lock fields cleared, bookedCount-1 (unit returned); idempotent
  sweep    -> release for every lock whose expiry passed (self-healing)

  The TTL caps starvation from abandoned counter sessions: a cashier who
  walks away mid-form holds the unit for at most LockTTL.

EDGE CASES:
  - Concurrent reserves on the last unit: exactly one CAS succeeds.
  - Commit after expiry: rejected with LockExpired; caller re-reserves.
  - Release after sweep already ran: no-op (token no longer matches).

SEE ALSO:
  - store.go: UpdateSlotCAS contract
  - booking.go: reserve/commit bracket around booking creation
  - api/sweeper.go: background expiry sweep
*/
package counter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Lock is the caller's handle on one reserved unit of capacity.
type Lock struct {
	Token     string
	SlotID    SlotID
	HeldBy    string
	ExpiresAt time.Time
}

// SlotManager is the single owner of slot capacity mutations.
type SlotManager struct {
	Store  SlotStore
	Audit  *Trail
	Config Config
	Now    func() time.Time
}

func NewSlotManager(store SlotStore, audit *Trail, cfg Config) *SlotManager {
	return &SlotManager{Store: store, Audit: audit, Config: cfg, Now: time.Now}
}

// =============================================================================
// RESERVE / COMMIT / RELEASE
// =============================================================================

// Reserve takes one unit of capacity for an in-flight booking attempt.
// The returned lock must be committed or released before expiry; otherwise
// the sweep returns the unit to the pool.
func (m *SlotManager) Reserve(ctx context.Context, slotID SlotID, requesterID string, bt BookingType) (*Lock, error) {
	attempts := 1 + m.Config.ReserveMaxRetries
	var lastReason string

	for i := 0; i < attempts; i++ {
		slot, err := m.Store.GetSlot(ctx, slotID)
		if err != nil {
			return nil, err
		}

		now := m.Now().UTC()
		switch {
		case slot.Status == SlotClosed:
			return nil, &SlotUnavailableError{SlotID: slotID, Reason: "slot closed", Retries: i}
		case slot.LockHeld(now):
			// Another counter is mid-booking on this slot. The unit they
			// hold frees on their commit, release, or expiry.
			lastReason = "lock contention"
		case !slot.ReservableBy(bt):
			return nil, &SlotUnavailableError{SlotID: slotID, Reason: "no capacity", Retries: i}
		default:
			token := uuid.NewString()
			updated := *slot
			updated.BookedCount++
			updated.LockToken = token
			updated.LockedBy = requesterID
			updated.LockedAt = now
			updated.LockExpiry = now.Add(m.Config.LockTTL)
			updated.RecomputeStatus(m.Config.LimitedThreshold)

			err := m.Store.UpdateSlotCAS(ctx, updated, slot.Version)
			if err == nil {
				return &Lock{
					Token:     token,
					SlotID:    slotID,
					HeldBy:    requesterID,
					ExpiresAt: updated.LockExpiry,
				}, nil
			}
			if !errors.Is(err, ErrVersionConflict) {
				return nil, err
			}
			lastReason = "version conflict"
		}
		// Lost the race or found a held lock: retry against a fresh read.
	}

	return nil, &SlotUnavailableError{SlotID: slotID, Reason: lastReason, Retries: attempts}
}

// Commit finalizes a reservation: the lock clears but the unit stays
// consumed. A commit presented after expiry fails with LockExpired.
func (m *SlotManager) Commit(ctx context.Context, lock *Lock) error {
	for {
		slot, err := m.Store.GetSlot(ctx, lock.SlotID)
		if err != nil {
			return err
		}
		if slot.LockToken != lock.Token {
			// Swept or superseded; the unit has already returned to the pool.
			return &LockExpiredError{SlotID: lock.SlotID, Token: lock.Token}
		}
		if m.Now().UTC().After(slot.LockExpiry) {
			return &LockExpiredError{SlotID: lock.SlotID, Token: lock.Token}
		}

		updated := *slot
		updated.LockToken = ""
		updated.LockedBy = ""
		updated.LockedAt = time.Time{}
		updated.LockExpiry = time.Time{}
		updated.RecomputeStatus(m.Config.LimitedThreshold)

		err = m.Store.UpdateSlotCAS(ctx, updated, slot.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		// Only the sweep contends with a lock holder; re-read and re-check.
	}
}

// Release abandons a reservation, returning the unit to the pool.
// Idempotent: releasing an already-released or swept lock is a no-op.
func (m *SlotManager) Release(ctx context.Context, lock *Lock) error {
	for {
		slot, err := m.Store.GetSlot(ctx, lock.SlotID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if slot.LockToken != lock.Token {
			return nil
		}

		updated := *slot
		updated.BookedCount--
		updated.LockToken = ""
		updated.LockedBy = ""
		updated.LockedAt = time.Time{}
		updated.LockExpiry = time.Time{}
		updated.RecomputeStatus(m.Config.LimitedThreshold)

		err = m.Store.UpdateSlotCAS(ctx, updated, slot.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
}

// ReleaseUnit returns one committed unit of capacity to the pool. Used when
// a PENDING booking is cancelled or a collected booking is refunded: the
// lock is long gone but the unit must free up.
func (m *SlotManager) ReleaseUnit(ctx context.Context, slotID SlotID) error {
	for {
		slot, err := m.Store.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.BookedCount <= 0 {
			return fmt.Errorf("slot %s has no booked units to release", slotID)
		}

		updated := *slot
		updated.BookedCount--
		updated.RecomputeStatus(m.Config.LimitedThreshold)

		err = m.Store.UpdateSlotCAS(ctx, updated, slot.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

// SweepExpired releases every lock whose expiry has passed. Safe to run
// concurrently with live traffic: each release is version-guarded, and a
// conflict means someone else (commit, release, another sweep) already
// resolved the lock.
func (m *SlotManager) SweepExpired(ctx context.Context) (int, error) {
	now := m.Now().UTC()
	expired, err := m.Store.LockedSlots(ctx, now)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, slot := range expired {
		if slot.LockToken == "" || now.Before(slot.LockExpiry) {
			continue
		}
		lock := &Lock{Token: slot.LockToken, SlotID: slot.ID}
		if err := m.Release(ctx, lock); err != nil {
			log.Printf("[Sweep] Failed to release expired lock on slot %s: %v", slot.ID, err)
			continue
		}
		released++
	}
	return released, nil
}

// =============================================================================
// SLOT GENERATION AND ADMINISTRATION
// =============================================================================

// GenerateSlots expands a seva master's daily windows into concrete slots
// for one date. Existing slots for the day are left untouched
// (ErrDuplicateRecord from the store is skipped), so regeneration is safe.
func (m *SlotManager) GenerateSlots(ctx context.Context, actor Actor, master SevaMaster, date time.Time) ([]TimeSlot, error) {
	if err := Check(actor.Role, PermSlotGenerate); err != nil {
		return nil, err
	}

	day := date.UTC().Truncate(24 * time.Hour)
	var created []TimeSlot
	for _, w := range master.Windows {
		start, err := windowTime(day, w.Start)
		if err != nil {
			return nil, fmt.Errorf("seva %s: bad window start %q: %w", master.ID, w.Start, err)
		}
		end, err := windowTime(day, w.End)
		if err != nil {
			return nil, fmt.Errorf("seva %s: bad window end %q: %w", master.ID, w.End, err)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("seva %s: window %s-%s ends before it starts", master.ID, w.Start, w.End)
		}

		slot := TimeSlot{
			ID:             SlotID(fmt.Sprintf("%s-%s-%s", master.ID, DateKey(day), w.Start)),
			SevaID:         master.ID,
			Date:           day,
			StartTime:      start,
			EndTime:        end,
			Capacity:       master.SlotCapacity,
			WalkInReserved: master.WalkInReserved,
			Version:        1,
			Status:         SlotAvailable,
		}
		slot.RecomputeStatus(m.Config.LimitedThreshold)

		if err := m.Store.PutSlot(ctx, slot); err != nil {
			if errors.Is(err, ErrDuplicateRecord) {
				continue
			}
			return nil, err
		}
		created = append(created, slot)
	}

	if len(created) > 0 && m.Audit != nil {
		_ = m.Audit.Record(ctx, AuditEntry{
			EntityType: "slot",
			EntityID:   string(master.ID) + "/" + DateKey(day),
			Action:     AuditSlotGenerated,
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			New:        map[string]any{"count": len(created)},
		})
	}
	return created, nil
}

// CloseSlot administratively closes a slot. Closed slots accept no further
// reservations; slots are never deleted.
func (m *SlotManager) CloseSlot(ctx context.Context, actor Actor, slotID SlotID, reason string) error {
	if err := Check(actor.Role, PermSlotClose); err != nil {
		return err
	}
	for {
		slot, err := m.Store.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status == SlotClosed {
			return nil
		}

		updated := *slot
		updated.Status = SlotClosed

		err = m.Store.UpdateSlotCAS(ctx, updated, slot.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		if m.Audit != nil {
			_ = m.Audit.Record(ctx, AuditEntry{
				EntityType: "slot",
				EntityID:   string(slotID),
				Action:     AuditSlotClosed,
				ActorID:    actor.ID,
				ActorRole:  actor.Role,
				Old:        map[string]any{"status": string(slot.Status)},
				New:        map[string]any{"status": string(SlotClosed)},
				Reason:     reason,
			})
		}
		return nil
	}
}

// AvailableSlots lists a seva's slots for a date with walk-in availability.
func (m *SlotManager) AvailableSlots(ctx context.Context, sevaID SevaID, date string) ([]TimeSlot, error) {
	return m.Store.SlotsByDate(ctx, sevaID, date)
}

func windowTime(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}
