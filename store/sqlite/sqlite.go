/*
Package sqlite provides a SQLite-backed implementation of counter.Store.

PURPOSE:
  Implements all persistence interfaces (SlotStore, BookingStore,
  MovementStore, SettlementStore, AuditStore) using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

CONDITIONAL WRITES:
  Slot and settlement updates are version-guarded at the SQL level:

    UPDATE slots SET ..., version = version + 1
    WHERE id = ? AND version = ?

  Zero rows affected means another writer won the race; the store reports
  ErrVersionConflict and the caller retries against a fresh read. This is
  the portable form of the compare-and-swap the engine depends on.

APPEND-ONLY ENFORCEMENT:
  cash_movements and audit_log have no UPDATE or DELETE statements anywhere
  in this package. Corrections append inverse movements / new entries.

KEY TABLES:
  slots:             Versioned capacity records with lock fields
  bookings:          Current-state booking records (history in audit_log)
  cash_movements:    Immutable drawer ledger
  settlements:       Versioned reconciliation records
  audit_log:         Immutable audit trail, per-entity sequence
  receipt_sequences: Per-counter-day receipt counters

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time, better crash
  recovery.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of the version guards. With
  PostgreSQL, database-level concurrency control replaces the mutex while
  the version guards stay.

USAGE:
  store, err := sqlite.New("./data/counter.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - counter/store.go: Interface definitions
  - counter/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/devasthan/seva-counter/counter"
)

// Store implements counter.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Versioned slot records. Every mutation goes through the version guard.
	CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		seva_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		booked_count INTEGER NOT NULL DEFAULT 0,
		walk_in_reserved INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		lock_token TEXT NOT NULL DEFAULT '',
		locked_by TEXT NOT NULL DEFAULT '',
		locked_at TEXT NOT NULL DEFAULT '',
		lock_expiry TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_slots_seva_date ON slots(seva_id, date);
	CREATE INDEX IF NOT EXISTS idx_slots_lock_expiry
		ON slots(lock_expiry) WHERE lock_token != '';

	-- Current-state booking records; history lives in audit_log.
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		receipt_number TEXT NOT NULL UNIQUE,
		qr_code TEXT NOT NULL,
		devotee_name TEXT NOT NULL,
		devotee_phone TEXT,
		devotee_gothra TEXT,
		number_of_devotees INTEGER NOT NULL,
		seva_id TEXT NOT NULL,
		seva_name TEXT NOT NULL,
		seva_price TEXT NOT NULL,
		seva_duration_minutes INTEGER NOT NULL,
		slot_id TEXT NOT NULL,
		slot_date TEXT NOT NULL,
		slot_start TEXT NOT NULL,
		slot_end TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		amount TEXT NOT NULL,
		cash_amount TEXT NOT NULL,
		digital_amount TEXT NOT NULL,
		transaction_id TEXT,
		collected_at TEXT,
		collected_by TEXT,
		override_approved_by TEXT,
		status TEXT NOT NULL,
		booking_type TEXT NOT NULL,
		counter_id TEXT NOT NULL,
		cashier_id TEXT NOT NULL,
		is_late_collection BOOLEAN NOT NULL DEFAULT FALSE,
		is_reprint BOOLEAN NOT NULL DEFAULT FALSE,
		reprint_approved_by TEXT,
		cancelled_by TEXT,
		cancel_reason TEXT,
		no_show_marked_by TEXT,
		no_show_reason TEXT,
		refund_approved_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_counter_date ON bookings(counter_id, slot_date);
	CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);
	CREATE INDEX IF NOT EXISTS idx_bookings_phone ON bookings(devotee_phone);
	CREATE INDEX IF NOT EXISTS idx_bookings_slot ON bookings(slot_id);

	-- Immutable drawer ledger. No UPDATE, no DELETE. Ever.
	CREATE TABLE IF NOT EXISTS cash_movements (
		id TEXT PRIMARY KEY,
		counter_id TEXT NOT NULL,
		date TEXT NOT NULL,
		movement_type TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		cash_amount TEXT NOT NULL,
		digital_amount TEXT NOT NULL,
		booking_id TEXT,
		reason TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_counter_date ON cash_movements(counter_id, date);
	CREATE INDEX IF NOT EXISTS idx_movements_booking ON cash_movements(booking_id)
		WHERE booking_id IS NOT NULL;

	-- Versioned settlement records, one per counter-date-shift.
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		counter_id TEXT NOT NULL,
		date TEXT NOT NULL,
		shift TEXT NOT NULL DEFAULT '',
		opening_balance TEXT NOT NULL,
		closing_balance TEXT NOT NULL DEFAULT '0',
		system_cash_total TEXT NOT NULL DEFAULT '0',
		digital_total TEXT NOT NULL DEFAULT '0',
		variance TEXT NOT NULL DEFAULT '0',
		variance_reason TEXT,
		booking_count INTEGER NOT NULL DEFAULT 0,
		no_show_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		submitted_by TEXT,
		submitted_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		approval_notes TEXT,
		rejected_by TEXT,
		rejection_reason TEXT,
		resubmission_count INTEGER NOT NULL DEFAULT 0,
		finance_received_by TEXT,
		handed_over_at TEXT,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(counter_id, date, shift)
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status);

	-- Immutable audit trail. Per-entity sequence enforces append ordering.
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		old_json TEXT,
		new_json TEXT,
		reason TEXT,
		approved_by TEXT,
		UNIQUE(entity_type, entity_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id, seq);

	-- Per-counter-day receipt counters.
	CREATE TABLE IF NOT EXISTS receipt_sequences (
		counter_id TEXT NOT NULL,
		date TEXT NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (counter_id, date)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SLOT STORE
// =============================================================================

func (s *Store) PutSlot(ctx context.Context, slot counter.TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO slots
		(id, seva_id, date, start_time, end_time, capacity, booked_count,
		 walk_in_reserved, version, lock_token, locked_by, locked_at, lock_expiry, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		slot.ID, slot.SevaID, counter.DateKey(slot.Date),
		slot.StartTime.UTC().Format(time.RFC3339),
		slot.EndTime.UTC().Format(time.RFC3339),
		slot.Capacity, slot.BookedCount, slot.WalkInReserved,
		slot.Version, slot.LockToken, slot.LockedBy,
		formatOptionalTime(slot.LockedAt), formatOptionalTime(slot.LockExpiry),
		slot.Status,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return counter.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert slot: %w", err)
	}
	return nil
}

func (s *Store) GetSlot(ctx context.Context, id counter.SlotID) (*counter.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, seva_id, date, start_time, end_time, capacity, booked_count,
		       walk_in_reserved, version, lock_token, locked_by, locked_at, lock_expiry, status
		FROM slots WHERE id = ?
	`, id)

	slot, err := scanSlot(row)
	if err == sql.ErrNoRows {
		return nil, counter.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// UpdateSlotCAS is the conditional write the reservation algorithm rests on.
// The WHERE clause on version makes the compare-and-swap atomic inside
// SQLite regardless of how many handlers race.
func (s *Store) UpdateSlotCAS(ctx context.Context, slot counter.TimeSlot, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE slots SET
			booked_count = ?,
			walk_in_reserved = ?,
			version = version + 1,
			lock_token = ?,
			locked_by = ?,
			locked_at = ?,
			lock_expiry = ?,
			status = ?
		WHERE id = ? AND version = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		slot.BookedCount, slot.WalkInReserved,
		slot.LockToken, slot.LockedBy,
		formatOptionalTime(slot.LockedAt), formatOptionalTime(slot.LockExpiry),
		slot.Status,
		slot.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM slots WHERE id = ?", slot.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return counter.ErrNotFound
		}
		return counter.ErrVersionConflict
	}
	return nil
}

func (s *Store) SlotsByDate(ctx context.Context, sevaID counter.SevaID, date string) ([]counter.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, seva_id, date, start_time, end_time, capacity, booked_count,
		       walk_in_reserved, version, lock_token, locked_by, locked_at, lock_expiry, status
		FROM slots
		WHERE date = ? AND (? = '' OR seva_id = ?)
		ORDER BY start_time ASC
	`

	return s.querySlots(ctx, query, date, sevaID, sevaID)
}

func (s *Store) LockedSlots(ctx context.Context, cutoff time.Time) ([]counter.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, seva_id, date, start_time, end_time, capacity, booked_count,
		       walk_in_reserved, version, lock_token, locked_by, locked_at, lock_expiry, status
		FROM slots
		WHERE lock_token != '' AND lock_expiry < ?
	`

	return s.querySlots(ctx, query, cutoff.UTC().Format(time.RFC3339))
}

func (s *Store) querySlots(ctx context.Context, query string, args ...any) ([]counter.TimeSlot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var slots []counter.TimeSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*counter.TimeSlot, error) {
	var (
		slot                 counter.TimeSlot
		date, start, end     string
		lockedAt, lockExpiry string
	)

	err := row.Scan(
		&slot.ID, &slot.SevaID, &date, &start, &end,
		&slot.Capacity, &slot.BookedCount, &slot.WalkInReserved,
		&slot.Version, &slot.LockToken, &slot.LockedBy,
		&lockedAt, &lockExpiry, &slot.Status,
	)
	if err != nil {
		return nil, err
	}

	slot.Date, _ = time.Parse("2006-01-02", date)
	slot.StartTime, _ = time.Parse(time.RFC3339, start)
	slot.EndTime, _ = time.Parse(time.RFC3339, end)
	slot.LockedAt = parseOptionalTime(lockedAt)
	slot.LockExpiry = parseOptionalTime(lockExpiry)
	return &slot, nil
}

// =============================================================================
// BOOKING STORE
// =============================================================================

const bookingColumns = `
	id, receipt_number, qr_code,
	devotee_name, devotee_phone, devotee_gothra, number_of_devotees,
	seva_id, seva_name, seva_price, seva_duration_minutes,
	slot_id, slot_date, slot_start, slot_end,
	payment_mode, amount, cash_amount, digital_amount, transaction_id,
	collected_at, collected_by, override_approved_by,
	status, booking_type, counter_id, cashier_id,
	is_late_collection, is_reprint, reprint_approved_by,
	cancelled_by, cancel_reason, no_show_marked_by, no_show_reason,
	refund_approved_by, created_at, updated_at`

func (s *Store) PutBooking(ctx context.Context, b counter.SevaBooking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, bookingArgs(b)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return counter.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *Store) UpdateBooking(ctx context.Context, b counter.SevaBooking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE bookings SET
			payment_mode = ?, amount = ?, cash_amount = ?, digital_amount = ?,
			transaction_id = ?, collected_at = ?, collected_by = ?,
			status = ?, is_late_collection = ?, is_reprint = ?, reprint_approved_by = ?,
			cancelled_by = ?, cancel_reason = ?, no_show_marked_by = ?, no_show_reason = ?,
			refund_approved_by = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		b.Payment.Mode, b.Payment.Amount.String(),
		b.Payment.CashAmount.String(), b.Payment.DigitalAmount.String(),
		b.Payment.TransactionID,
		formatOptionalTimePtr(b.Payment.CollectedAt), b.Payment.CollectedBy,
		b.Status, b.IsLateCollection, b.IsReprint, b.ReprintApprovedBy,
		b.CancelledBy, b.CancelReason, b.NoShowMarkedBy, b.NoShowReason,
		b.RefundApprovedBy, b.UpdatedAt.UTC().Format(time.RFC3339),
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return counter.ErrNotFound
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id counter.BookingID) (*counter.SevaBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, counter.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) SearchBookings(ctx context.Context, f counter.BookingFilters, p counter.PaginationParams) ([]counter.SevaBooking, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p = p.Normalize()
	where, args := bookingWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bookings"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	query := "SELECT " + bookingColumns + " FROM bookings" + where +
		" ORDER BY created_at ASC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search bookings: %w", err)
	}
	defer rows.Close()

	var bookings []counter.SevaBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, total, rows.Err()
}

func bookingWhere(f counter.BookingFilters) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	if f.CounterID != "" {
		add("counter_id = ?", f.CounterID)
	}
	if f.CashierID != "" {
		add("cashier_id = ?", f.CashierID)
	}
	if f.SevaID != "" {
		add("seva_id = ?", f.SevaID)
	}
	if f.Date != "" {
		add("slot_date = ?", f.Date)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.BookingType != "" {
		add("booking_type = ?", f.BookingType)
	}
	if f.Phone != "" {
		add("devotee_phone = ?", f.Phone)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func bookingArgs(b counter.SevaBooking) []any {
	return []any{
		b.ID, b.ReceiptNumber, b.QRCode,
		b.Devotee.Name, b.Devotee.Phone, b.Devotee.Gothra, b.Devotee.NumberOfDevotees,
		b.Seva.SevaID, b.Seva.Name, b.Seva.Price.String(), b.Seva.DurationMinutes,
		b.Slot.SlotID, counter.DateKey(b.Slot.Date),
		b.Slot.StartTime.UTC().Format(time.RFC3339),
		b.Slot.EndTime.UTC().Format(time.RFC3339),
		b.Payment.Mode, b.Payment.Amount.String(),
		b.Payment.CashAmount.String(), b.Payment.DigitalAmount.String(),
		b.Payment.TransactionID,
		formatOptionalTimePtr(b.Payment.CollectedAt), b.Payment.CollectedBy,
		b.Payment.OverrideApprovedBy,
		b.Status, b.BookingType, b.CounterID, b.CashierID,
		b.IsLateCollection, b.IsReprint, b.ReprintApprovedBy,
		b.CancelledBy, b.CancelReason, b.NoShowMarkedBy, b.NoShowReason,
		b.RefundApprovedBy,
		b.CreatedAt.UTC().Format(time.RFC3339),
		b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func scanBooking(row rowScanner) (*counter.SevaBooking, error) {
	var (
		b                            counter.SevaBooking
		price, amount, cash, digital string
		slotDate, slotStart, slotEnd string
		collectedAt                  sql.NullString
		phone, gothra, txID          sql.NullString
		collectedBy, overrideBy      sql.NullString
		reprintBy, cancelledBy       sql.NullString
		cancelReason, noShowBy       sql.NullString
		noShowReason, refundBy       sql.NullString
		createdAt, updatedAt         string
	)

	err := row.Scan(
		&b.ID, &b.ReceiptNumber, &b.QRCode,
		&b.Devotee.Name, &phone, &gothra, &b.Devotee.NumberOfDevotees,
		&b.Seva.SevaID, &b.Seva.Name, &price, &b.Seva.DurationMinutes,
		&b.Slot.SlotID, &slotDate, &slotStart, &slotEnd,
		&b.Payment.Mode, &amount, &cash, &digital, &txID,
		&collectedAt, &collectedBy, &overrideBy,
		&b.Status, &b.BookingType, &b.CounterID, &b.CashierID,
		&b.IsLateCollection, &b.IsReprint, &reprintBy,
		&cancelledBy, &cancelReason, &noShowBy, &noShowReason,
		&refundBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Devotee.Phone = phone.String
	b.Devotee.Gothra = gothra.String
	b.Seva.Price = counter.MustMoney(price)
	b.Slot.Date, _ = time.Parse("2006-01-02", slotDate)
	b.Slot.StartTime, _ = time.Parse(time.RFC3339, slotStart)
	b.Slot.EndTime, _ = time.Parse(time.RFC3339, slotEnd)
	b.Payment.Amount = counter.MustMoney(amount)
	b.Payment.CashAmount = counter.MustMoney(cash)
	b.Payment.DigitalAmount = counter.MustMoney(digital)
	b.Payment.TransactionID = txID.String
	b.Payment.CollectedBy = collectedBy.String
	b.Payment.OverrideApprovedBy = overrideBy.String
	if collectedAt.Valid && collectedAt.String != "" {
		t, _ := time.Parse(time.RFC3339, collectedAt.String)
		b.Payment.CollectedAt = &t
	}
	b.ReprintApprovedBy = reprintBy.String
	b.CancelledBy = cancelledBy.String
	b.CancelReason = cancelReason.String
	b.NoShowMarkedBy = noShowBy.String
	b.NoShowReason = noShowReason.String
	b.RefundApprovedBy = refundBy.String
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

func (s *Store) NextReceiptSeq(ctx context.Context, counterID counter.CounterID, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO receipt_sequences (counter_id, date, seq) VALUES (?, ?, 1)
		ON CONFLICT(counter_id, date) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, counterID, date).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance receipt sequence: %w", err)
	}
	return seq, nil
}

// =============================================================================
// MOVEMENT STORE (append-only)
// =============================================================================

func (s *Store) AppendMovement(ctx context.Context, m counter.CashMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO cash_movements
		(id, counter_id, date, movement_type, payment_mode, cash_amount,
		 digital_amount, booking_id, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.CounterID, m.Date, m.Type, m.Mode,
		m.CashAmount.String(), m.DigitalAmount.String(),
		m.BookingID, m.Reason, m.CreatedBy,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

func (s *Store) MovementsByCounterDate(ctx context.Context, counterID counter.CounterID, date string) ([]counter.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, counter_id, date, movement_type, payment_mode, cash_amount,
		       digital_amount, booking_id, reason, created_by, created_at
		FROM cash_movements
		WHERE counter_id = ? AND date = ?
		ORDER BY created_at ASC, id ASC
	`, counterID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []counter.CashMovement
	for rows.Next() {
		var (
			m                  counter.CashMovement
			cash, digital      string
			bookingID, reason  sql.NullString
			createdBy          sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&m.ID, &m.CounterID, &m.Date, &m.Type, &m.Mode,
			&cash, &digital, &bookingID, &reason, &createdBy, &createdAt); err != nil {
			return nil, err
		}
		m.CashAmount = counter.MustMoney(cash)
		m.DigitalAmount = counter.MustMoney(digital)
		m.BookingID = counter.BookingID(bookingID.String)
		m.Reason = reason.String
		m.CreatedBy = createdBy.String
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// =============================================================================
// SETTLEMENT STORE
// =============================================================================

const settlementColumns = `
	id, counter_id, date, shift, opening_balance, closing_balance,
	system_cash_total, digital_total, variance, variance_reason,
	booking_count, no_show_count, status,
	submitted_by, submitted_at, approved_by, approved_at, approval_notes,
	rejected_by, rejection_reason, resubmission_count,
	finance_received_by, handed_over_at, is_locked, version, created_at, updated_at`

func (s *Store) PutSettlement(ctx context.Context, st counter.CounterSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settlements (` + settlementColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, settlementArgs(st)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return counter.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, counterID counter.CounterID, date, shift string) (*counter.CounterSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getSettlementLocked(ctx, counterID, date, shift)
}

func (s *Store) getSettlementLocked(ctx context.Context, counterID counter.CounterID, date, shift string) (*counter.CounterSettlement, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE counter_id = ? AND date = ? AND shift = ?",
		counterID, date, shift)

	st, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, counter.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateSettlementCAS mirrors UpdateSlotCAS and additionally enforces
// post-approval immutability: a locked record accepts only the one-time
// finance handover attribution.
func (s *Store) UpdateSettlementCAS(ctx context.Context, st counter.CounterSettlement, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getSettlementLocked(ctx, st.CounterID, st.Date, st.Shift)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return counter.ErrVersionConflict
	}
	if current.IsLocked && !handoverOnlyChange(*current, st) {
		return counter.ErrSettlementLocked
	}

	query := `
		UPDATE settlements SET
			closing_balance = ?, system_cash_total = ?, digital_total = ?,
			variance = ?, variance_reason = ?,
			booking_count = ?, no_show_count = ?, status = ?,
			submitted_by = ?, submitted_at = ?,
			approved_by = ?, approved_at = ?, approval_notes = ?,
			rejected_by = ?, rejection_reason = ?, resubmission_count = ?,
			finance_received_by = ?, handed_over_at = ?,
			is_locked = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		st.ClosingBalance.String(), st.SystemCashTotal.String(), st.DigitalTotal.String(),
		st.Variance.String(), st.VarianceReason,
		st.BookingCount, st.NoShowCount, st.Status,
		st.SubmittedBy, formatOptionalTimePtr(st.SubmittedAt),
		st.ApprovedBy, formatOptionalTimePtr(st.ApprovedAt), st.ApprovalNotes,
		st.RejectedBy, st.RejectionReason, st.ResubmissionCount,
		st.FinanceReceivedBy, formatOptionalTimePtr(st.HandedOverAt),
		st.IsLocked, st.UpdatedAt.UTC().Format(time.RFC3339),
		st.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return counter.ErrVersionConflict
	}
	return nil
}

func handoverOnlyChange(locked, incoming counter.CounterSettlement) bool {
	if locked.FinanceReceivedBy != "" {
		return false
	}
	return incoming.Status == locked.Status &&
		incoming.IsLocked == locked.IsLocked &&
		incoming.ClosingBalance.Equal(locked.ClosingBalance) &&
		incoming.SystemCashTotal.Equal(locked.SystemCashTotal) &&
		incoming.DigitalTotal.Equal(locked.DigitalTotal) &&
		incoming.Variance.Equal(locked.Variance) &&
		incoming.VarianceReason == locked.VarianceReason &&
		incoming.BookingCount == locked.BookingCount &&
		incoming.NoShowCount == locked.NoShowCount &&
		incoming.SubmittedBy == locked.SubmittedBy &&
		incoming.ApprovedBy == locked.ApprovedBy &&
		incoming.ApprovalNotes == locked.ApprovalNotes &&
		incoming.RejectedBy == locked.RejectedBy &&
		incoming.RejectionReason == locked.RejectionReason &&
		incoming.ResubmissionCount == locked.ResubmissionCount
}

func (s *Store) ListSettlements(ctx context.Context, status counter.SettlementStatus) ([]counter.CounterSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + settlementColumns + " FROM settlements"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []counter.CounterSettlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, *st)
	}
	return settlements, rows.Err()
}

func settlementArgs(st counter.CounterSettlement) []any {
	return []any{
		st.ID, st.CounterID, st.Date, st.Shift,
		st.OpeningBalance.String(), st.ClosingBalance.String(),
		st.SystemCashTotal.String(), st.DigitalTotal.String(),
		st.Variance.String(), st.VarianceReason,
		st.BookingCount, st.NoShowCount, st.Status,
		st.SubmittedBy, formatOptionalTimePtr(st.SubmittedAt),
		st.ApprovedBy, formatOptionalTimePtr(st.ApprovedAt), st.ApprovalNotes,
		st.RejectedBy, st.RejectionReason, st.ResubmissionCount,
		st.FinanceReceivedBy, formatOptionalTimePtr(st.HandedOverAt),
		st.IsLocked, st.Version,
		st.CreatedAt.UTC().Format(time.RFC3339),
		st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func scanSettlement(row rowScanner) (*counter.CounterSettlement, error) {
	var (
		st                               counter.CounterSettlement
		opening, closing, system, digit  string
		variance                         string
		varianceReason                   sql.NullString
		submittedBy, approvedBy          sql.NullString
		approvalNotes, rejectedBy        sql.NullString
		rejectionReason, financeBy       sql.NullString
		submittedAt, approvedAt          sql.NullString
		handedOverAt                     sql.NullString
		createdAt, updatedAt             string
	)

	err := row.Scan(
		&st.ID, &st.CounterID, &st.Date, &st.Shift,
		&opening, &closing, &system, &digit, &variance, &varianceReason,
		&st.BookingCount, &st.NoShowCount, &st.Status,
		&submittedBy, &submittedAt, &approvedBy, &approvedAt, &approvalNotes,
		&rejectedBy, &rejectionReason, &st.ResubmissionCount,
		&financeBy, &handedOverAt, &st.IsLocked, &st.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.OpeningBalance = counter.MustMoney(opening)
	st.ClosingBalance = counter.MustMoney(closing)
	st.SystemCashTotal = counter.MustMoney(system)
	st.DigitalTotal = counter.MustMoney(digit)
	st.Variance = counter.MustMoney(variance)
	st.VarianceReason = varianceReason.String
	st.SubmittedBy = submittedBy.String
	st.ApprovedBy = approvedBy.String
	st.ApprovalNotes = approvalNotes.String
	st.RejectedBy = rejectedBy.String
	st.RejectionReason = rejectionReason.String
	st.FinanceReceivedBy = financeBy.String
	st.SubmittedAt = parseOptionalTimePtr(submittedAt)
	st.ApprovedAt = parseOptionalTimePtr(approvedAt)
	st.HandedOverAt = parseOptionalTimePtr(handedOverAt)
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &st, nil
}

// =============================================================================
// AUDIT STORE (append-only)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e counter.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Seq is assigned under the store lock so append order matches commit
	// order for each entity.
	var next int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log WHERE entity_type = ? AND entity_id = ?",
		e.EntityType, e.EntityID).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to assign audit seq: %w", err)
	}

	oldJSON, _ := json.Marshal(e.Old)
	newJSON, _ := json.Marshal(e.New)

	query := `
		INSERT INTO audit_log
		(id, entity_type, entity_id, seq, action, actor_id, actor_role,
		 timestamp, old_json, new_json, reason, approved_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.EntityType, e.EntityID, next, e.Action, e.ActorID, e.ActorRole,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(oldJSON), string(newJSON), e.Reason, e.ApprovedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) AuditByEntity(ctx context.Context, entityType, entityID string) ([]counter.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, seq, action, actor_id, actor_role,
		       timestamp, old_json, new_json, reason, approved_by
		FROM audit_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY seq ASC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []counter.AuditEntry
	for rows.Next() {
		var (
			e                  counter.AuditEntry
			ts                 string
			oldJSON, newJSON   sql.NullString
			reason, approvedBy sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Seq, &e.Action,
			&e.ActorID, &e.ActorRole, &ts, &oldJSON, &newJSON, &reason, &approvedBy); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if oldJSON.Valid && oldJSON.String != "" && oldJSON.String != "null" {
			json.Unmarshal([]byte(oldJSON.String), &e.Old)
		}
		if newJSON.Valid && newJSON.String != "" && newJSON.String != "null" {
			json.Unmarshal([]byte(newJSON.String), &e.New)
		}
		e.Reason = reason.String
		e.ApprovedBy = approvedBy.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ counter.Store = (*Store)(nil)

// =============================================================================
// HELPERS
// =============================================================================

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseOptionalTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func formatOptionalTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseOptionalTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
