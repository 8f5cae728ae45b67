// Package store provides an in-memory Store implementation for tests/dev.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devasthan/seva-counter/counter"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of counter.Store
// =============================================================================

// Memory honors the same conditional-write semantics as the SQLite store:
// version-guarded slot/settlement updates under one mutex, append-only
// movement and audit logs, and per-counter-day receipt sequences.
type Memory struct {
	mu          sync.RWMutex
	slots       map[counter.SlotID]counter.TimeSlot
	bookings    map[counter.BookingID]counter.SevaBooking
	bookingIns  []counter.BookingID // insertion order, for stable search output
	movements   map[string][]counter.CashMovement // counterID|date
	settlements map[string]counter.CounterSettlement // counterID|date|shift
	audits      map[string][]counter.AuditEntry // entityType|entityID
	receiptSeq  map[string]int // counterID|date
}

func NewMemory() *Memory {
	return &Memory{
		slots:       make(map[counter.SlotID]counter.TimeSlot),
		bookings:    make(map[counter.BookingID]counter.SevaBooking),
		movements:   make(map[string][]counter.CashMovement),
		settlements: make(map[string]counter.CounterSettlement),
		audits:      make(map[string][]counter.AuditEntry),
		receiptSeq:  make(map[string]int),
	}
}

func pairKey(parts ...string) string { return strings.Join(parts, "|") }

// =============================================================================
// SLOT STORE
// =============================================================================

func (m *Memory) PutSlot(_ context.Context, slot counter.TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slots[slot.ID]; exists {
		return counter.ErrDuplicateRecord
	}
	m.slots[slot.ID] = slot
	return nil
}

func (m *Memory) GetSlot(_ context.Context, id counter.SlotID) (*counter.TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slot, ok := m.slots[id]
	if !ok {
		return nil, counter.ErrNotFound
	}
	copied := slot
	return &copied, nil
}

func (m *Memory) UpdateSlotCAS(_ context.Context, slot counter.TimeSlot, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.slots[slot.ID]
	if !ok {
		return counter.ErrNotFound
	}
	if current.Version != expectedVersion {
		return counter.ErrVersionConflict
	}
	slot.Version = expectedVersion + 1
	m.slots[slot.ID] = slot
	return nil
}

func (m *Memory) SlotsByDate(_ context.Context, sevaID counter.SevaID, date string) ([]counter.TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []counter.TimeSlot
	for _, slot := range m.slots {
		if counter.DateKey(slot.Date) != date {
			continue
		}
		if sevaID != "" && slot.SevaID != sevaID {
			continue
		}
		result = append(result, slot)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (m *Memory) LockedSlots(_ context.Context, cutoff time.Time) ([]counter.TimeSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []counter.TimeSlot
	for _, slot := range m.slots {
		if slot.LockToken != "" && slot.LockExpiry.Before(cutoff) {
			result = append(result, slot)
		}
	}
	return result, nil
}

// =============================================================================
// BOOKING STORE
// =============================================================================

func (m *Memory) PutBooking(_ context.Context, b counter.SevaBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bookings[b.ID]; exists {
		return counter.ErrDuplicateRecord
	}
	m.bookings[b.ID] = b
	m.bookingIns = append(m.bookingIns, b.ID)
	return nil
}

func (m *Memory) UpdateBooking(_ context.Context, b counter.SevaBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bookings[b.ID]; !exists {
		return counter.ErrNotFound
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id counter.BookingID) (*counter.SevaBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, counter.ErrNotFound
	}
	copied := b
	return &copied, nil
}

func (m *Memory) SearchBookings(_ context.Context, f counter.BookingFilters, p counter.PaginationParams) ([]counter.SevaBooking, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p = p.Normalize()
	var matches []counter.SevaBooking
	for _, id := range m.bookingIns {
		b := m.bookings[id]
		if matchBooking(b, f) {
			matches = append(matches, b)
		}
	}

	total := len(matches)
	start := p.Offset()
	if start >= total {
		return nil, total, nil
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func matchBooking(b counter.SevaBooking, f counter.BookingFilters) bool {
	if f.CounterID != "" && b.CounterID != f.CounterID {
		return false
	}
	if f.CashierID != "" && b.CashierID != f.CashierID {
		return false
	}
	if f.SevaID != "" && b.Seva.SevaID != f.SevaID {
		return false
	}
	if f.Date != "" && counter.DateKey(b.Slot.Date) != f.Date {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.BookingType != "" && b.BookingType != f.BookingType {
		return false
	}
	if f.Phone != "" && b.Devotee.Phone != f.Phone {
		return false
	}
	return true
}

func (m *Memory) NextReceiptSeq(_ context.Context, counterID counter.CounterID, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := pairKey(string(counterID), date)
	m.receiptSeq[k]++
	return m.receiptSeq[k], nil
}

// =============================================================================
// MOVEMENT STORE
// =============================================================================

func (m *Memory) AppendMovement(_ context.Context, mv counter.CashMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := pairKey(string(mv.CounterID), mv.Date)
	m.movements[k] = append(m.movements[k], mv)
	return nil
}

func (m *Memory) MovementsByCounterDate(_ context.Context, counterID counter.CounterID, date string) ([]counter.CashMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := pairKey(string(counterID), date)
	result := make([]counter.CashMovement, len(m.movements[k]))
	copy(result, m.movements[k])
	return result, nil
}

// =============================================================================
// SETTLEMENT STORE
// =============================================================================

func (m *Memory) PutSettlement(_ context.Context, s counter.CounterSettlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := pairKey(string(s.CounterID), s.Date, s.Shift)
	if _, exists := m.settlements[k]; exists {
		return counter.ErrDuplicateRecord
	}
	m.settlements[k] = s
	return nil
}

func (m *Memory) GetSettlement(_ context.Context, counterID counter.CounterID, date, shift string) (*counter.CounterSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settlements[pairKey(string(counterID), date, shift)]
	if !ok {
		return nil, counter.ErrNotFound
	}
	copied := s
	return &copied, nil
}

func (m *Memory) UpdateSettlementCAS(_ context.Context, s counter.CounterSettlement, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := pairKey(string(s.CounterID), s.Date, s.Shift)
	current, ok := m.settlements[k]
	if !ok {
		return counter.ErrNotFound
	}
	if current.Version != expectedVersion {
		return counter.ErrVersionConflict
	}
	if current.IsLocked && !handoverOnlyChange(current, s) {
		return counter.ErrSettlementLocked
	}
	s.Version = expectedVersion + 1
	m.settlements[k] = s
	return nil
}

// handoverOnlyChange reports whether the incoming record differs from the
// locked one only in handover attribution and timestamps.
func handoverOnlyChange(locked, incoming counter.CounterSettlement) bool {
	if locked.FinanceReceivedBy != "" {
		return false
	}
	masked := incoming
	masked.FinanceReceivedBy = locked.FinanceReceivedBy
	masked.HandedOverAt = locked.HandedOverAt
	masked.UpdatedAt = locked.UpdatedAt
	masked.Version = locked.Version
	return settlementEqual(masked, locked)
}

func settlementEqual(a, b counter.CounterSettlement) bool {
	return a.Status == b.Status &&
		a.OpeningBalance.Equal(b.OpeningBalance) &&
		a.ClosingBalance.Equal(b.ClosingBalance) &&
		a.SystemCashTotal.Equal(b.SystemCashTotal) &&
		a.DigitalTotal.Equal(b.DigitalTotal) &&
		a.Variance.Equal(b.Variance) &&
		a.VarianceReason == b.VarianceReason &&
		a.BookingCount == b.BookingCount &&
		a.NoShowCount == b.NoShowCount &&
		a.SubmittedBy == b.SubmittedBy &&
		a.ApprovedBy == b.ApprovedBy &&
		a.ApprovalNotes == b.ApprovalNotes &&
		a.RejectedBy == b.RejectedBy &&
		a.RejectionReason == b.RejectionReason &&
		a.ResubmissionCount == b.ResubmissionCount &&
		a.IsLocked == b.IsLocked
}

func (m *Memory) ListSettlements(_ context.Context, status counter.SettlementStatus) ([]counter.CounterSettlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []counter.CounterSettlement
	for _, s := range m.settlements {
		if status == "" || s.Status == status {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// =============================================================================
// AUDIT STORE
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, e counter.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := pairKey(e.EntityType, e.EntityID)
	e.Seq = len(m.audits[k]) + 1
	m.audits[k] = append(m.audits[k], e)
	return nil
}

func (m *Memory) AuditByEntity(_ context.Context, entityType, entityID string) ([]counter.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := pairKey(entityType, entityID)
	result := make([]counter.AuditEntry, len(m.audits[k]))
	copy(result, m.audits[k])
	return result, nil
}

var _ counter.Store = (*Memory)(nil)
