/*
audit.go - Append-only audit trail

PURPOSE:
  The audit trail is the sole mechanism for reconstructing history. Every
  mutating action in the engine appends exactly one entry recording who did
  what, when, with old/new snapshots and an optional reason/approver.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. ORDERED: Entries for an entity carry a per-entity sequence number
     assigned in the order their causing transitions commit.
  3. ATTRIBUTABLE: Actor and role on every entry.

CORRECTIONS:
  A mistake is never edited. The correcting action appends its own entry
  (and, where financial, a linked inverse cash movement).

SEE ALSO:
  - store.go: AuditStore interface
  - booking.go / settlement.go / slot.go: the appenders
*/
package counter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditAction string

const (
	AuditBookingCreated   AuditAction = "booking_created"
	AuditPaymentCollected AuditAction = "payment_collected"
	AuditBookingCompleted AuditAction = "booking_completed"
	AuditBookingCancelled AuditAction = "booking_cancelled"
	AuditBookingNoShow    AuditAction = "booking_no_show"
	AuditBookingReprinted AuditAction = "booking_reprinted"
	AuditBookingRefunded  AuditAction = "booking_refunded"
	AuditSlotGenerated    AuditAction = "slot_generated"
	AuditSlotClosed       AuditAction = "slot_closed"
	AuditSettlementOpened    AuditAction = "settlement_opened"
	AuditSettlementSubmitted AuditAction = "settlement_submitted"
	AuditSettlementApproved  AuditAction = "settlement_approved"
	AuditSettlementRejected  AuditAction = "settlement_rejected"
	AuditSettlementHandover  AuditAction = "settlement_handover"
)

// AuditEntry is one immutable record of a mutating action.
type AuditEntry struct {
	ID         string
	EntityType string // "booking", "slot", "settlement"
	EntityID   string
	Seq        int // per-entity sequence, assigned by the store on append
	Action     AuditAction
	ActorID    string
	ActorRole  Role
	Timestamp  time.Time

	// Old/New are snapshots of the fields the action changed.
	Old map[string]any
	New map[string]any

	Reason     string
	ApprovedBy string
}

// =============================================================================
// TRAIL - Convenience wrapper over AuditStore
// =============================================================================

// Trail fills in identity and timestamp before appending.
type Trail struct {
	Store AuditStore
	Now   func() time.Time
}

func NewTrail(store AuditStore) *Trail {
	return &Trail{Store: store, Now: time.Now}
}

// Record appends one entry. ID and Timestamp are assigned here; Seq is
// assigned by the store under its append lock so ordering matches commit
// order.
func (t *Trail) Record(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.Now().UTC()
	}
	return t.Store.AppendAudit(ctx, entry)
}

// History returns the ordered entries for one entity.
func (t *Trail) History(ctx context.Context, entityType, entityID string) ([]AuditEntry, error) {
	return t.Store.AuditByEntity(ctx, entityType, entityID)
}
