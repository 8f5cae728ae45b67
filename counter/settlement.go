/*
settlement.go - End-of-shift reconciliation workflow

PURPOSE:
  SettlementService reconciles a counter's physical drawer against the
  system-computed totals at shift close:

    DRAFT --[submit, variance policy]--> SUBMITTED
    SUBMITTED --[approve, distinct actor]--> APPROVED (locked, terminal)
    SUBMITTED --[reject, reason]--> DRAFT     (resubmission cycle)
    APPROVED --[handover]--> finance attribution recorded

  Variance = closingBalance - systemCashTotal. A non-zero variance cannot
  reach SUBMITTED without a reason. Approval is separated from submission
  (the approver must be a different person) and locks the record: after
  approval no financial field may change, ever. Rejection is not an error;
  it reopens the draft, and each cycle appends its own audit entries rather
  than mutating the prior submission.

SEE ALSO:
  - payment.go: CounterSummary supplies systemCashTotal and digital totals
  - store.go: UpdateSettlementCAS and the lock enforcement contract
*/
package counter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementService orchestrates the reconciliation workflow.
type SettlementService struct {
	Store    Store
	Payments *PaymentReconciler
	Audit    *Trail
	Now      func() time.Time
}

func NewSettlementService(store Store, payments *PaymentReconciler, audit *Trail) *SettlementService {
	return &SettlementService{Store: store, Payments: payments, Audit: audit, Now: time.Now}
}

// =============================================================================
// WORKFLOW
// =============================================================================

// Open creates the DRAFT settlement at shift start and seeds the drawer's
// opening float in the movement ledger.
func (s *SettlementService) Open(ctx context.Context, actor Actor, counterID CounterID, date, shift string, openingBalance decimal.Decimal) (*CounterSettlement, error) {
	if err := Check(actor.Role, PermSettlementOpen); err != nil {
		return nil, err
	}
	if openingBalance.IsNegative() {
		return nil, fmt.Errorf("opening balance cannot be negative")
	}

	now := s.Now().UTC()
	settlement := CounterSettlement{
		ID:             SettlementID(uuid.NewString()),
		CounterID:      counterID,
		Date:           date,
		Shift:          shift,
		OpeningBalance: openingBalance,
		Status:         SettlementDraft,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.PutSettlement(ctx, settlement); err != nil {
		return nil, err
	}
	if err := s.Payments.RecordOpeningFloat(ctx, counterID, date, openingBalance, actor.ID); err != nil {
		return nil, fmt.Errorf("settlement opened but float record failed: %w", err)
	}

	s.record(ctx, actor, &settlement, AuditSettlementOpened, nil, map[string]any{
		"status":  string(SettlementDraft),
		"opening": openingBalance.String(),
	}, "", "")
	return &settlement, nil
}

// Submit computes the variance and moves the draft to SUBMITTED. A non-zero
// variance without a reason fails with VarianceReasonRequired; the caller
// corrects and resubmits.
func (s *SettlementService) Submit(ctx context.Context, actor Actor, counterID CounterID, date, shift string, closingBalance decimal.Decimal, varianceReason string) (*CounterSettlement, error) {
	if err := Check(actor.Role, PermSettlementSubmit); err != nil {
		return nil, err
	}

	for {
		settlement, err := s.Store.GetSettlement(ctx, counterID, date, shift)
		if err != nil {
			return nil, err
		}
		if settlement.IsLocked {
			return nil, fmt.Errorf("settlement %s: %w", settlement.ID, ErrSettlementLocked)
		}
		if settlement.Status != SettlementDraft {
			return nil, &TransitionError{
				EntityType: "settlement", EntityID: string(settlement.ID),
				From: string(settlement.Status), Attempted: "submit",
			}
		}

		totals, err := s.Payments.CounterSummary(ctx, counterID, date)
		if err != nil {
			return nil, fmt.Errorf("failed to compute counter totals: %w", err)
		}
		noShows, err := s.countBookings(ctx, counterID, date, BookingNoShow)
		if err != nil {
			return nil, err
		}

		variance := closingBalance.Sub(totals.CashTotal)
		if !variance.IsZero() && varianceReason == "" {
			return nil, fmt.Errorf("variance of %s on counter %s: %w",
				variance, counterID, ErrVarianceReasonRequired)
		}

		now := s.Now().UTC()
		updated := *settlement
		updated.ClosingBalance = closingBalance
		updated.SystemCashTotal = totals.CashTotal
		updated.DigitalTotal = totals.DigitalTotal
		updated.Variance = variance
		updated.VarianceReason = varianceReason
		updated.BookingCount = totals.Collections
		updated.NoShowCount = noShows
		updated.Status = SettlementSubmitted
		updated.SubmittedBy = actor.ID
		updated.SubmittedAt = &now
		updated.UpdatedAt = now

		err = s.Store.UpdateSettlementCAS(ctx, updated, settlement.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		updated.Version = settlement.Version + 1

		s.record(ctx, actor, &updated, AuditSettlementSubmitted,
			map[string]any{"status": string(SettlementDraft)},
			map[string]any{
				"status":   string(SettlementSubmitted),
				"closing":  closingBalance.String(),
				"system":   totals.CashTotal.String(),
				"variance": variance.String(),
			}, varianceReason, "")
		return &updated, nil
	}
}

// Approve locks the settlement. Separation of duties: the approver must not
// be the submitter.
func (s *SettlementService) Approve(ctx context.Context, actor Actor, counterID CounterID, date, shift, notes string) (*CounterSettlement, error) {
	if err := Check(actor.Role, PermSettlementApprove); err != nil {
		return nil, err
	}

	for {
		settlement, err := s.Store.GetSettlement(ctx, counterID, date, shift)
		if err != nil {
			return nil, err
		}
		if settlement.Status != SettlementSubmitted {
			return nil, &TransitionError{
				EntityType: "settlement", EntityID: string(settlement.ID),
				From: string(settlement.Status), Attempted: "approve",
			}
		}
		if settlement.SubmittedBy == actor.ID {
			return nil, &UnauthorizedError{Role: actor.Role, Permission: PermSettlementApprove}
		}

		now := s.Now().UTC()
		updated := *settlement
		updated.Status = SettlementApproved
		updated.ApprovedBy = actor.ID
		updated.ApprovedAt = &now
		updated.ApprovalNotes = notes
		updated.IsLocked = true
		updated.UpdatedAt = now

		err = s.Store.UpdateSettlementCAS(ctx, updated, settlement.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		updated.Version = settlement.Version + 1

		s.record(ctx, actor, &updated, AuditSettlementApproved,
			map[string]any{"status": string(SettlementSubmitted)},
			map[string]any{"status": string(SettlementApproved), "locked": true},
			notes, actor.ID)
		return &updated, nil
	}
}

// Reject returns a submitted settlement to DRAFT for correction. The prior
// submission's figures survive in the audit trail; the cycle is unbounded
// but every pass appends new entries.
func (s *SettlementService) Reject(ctx context.Context, actor Actor, counterID CounterID, date, shift, reason string) (*CounterSettlement, error) {
	if err := Check(actor.Role, PermSettlementApprove); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, fmt.Errorf("rejection requires a reason")
	}

	for {
		settlement, err := s.Store.GetSettlement(ctx, counterID, date, shift)
		if err != nil {
			return nil, err
		}
		if settlement.Status != SettlementSubmitted {
			return nil, &TransitionError{
				EntityType: "settlement", EntityID: string(settlement.ID),
				From: string(settlement.Status), Attempted: "reject",
			}
		}

		now := s.Now().UTC()
		updated := *settlement
		updated.Status = SettlementDraft
		updated.RejectedBy = actor.ID
		updated.RejectionReason = reason
		updated.ResubmissionCount++
		updated.UpdatedAt = now

		err = s.Store.UpdateSettlementCAS(ctx, updated, settlement.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		updated.Version = settlement.Version + 1

		s.record(ctx, actor, &updated, AuditSettlementRejected,
			map[string]any{
				"status":   string(SettlementSubmitted),
				"closing":  settlement.ClosingBalance.String(),
				"variance": settlement.Variance.String(),
			},
			map[string]any{"status": string(SettlementDraft)},
			reason, "")
		return &updated, nil
	}
}

// Handover records the cash reaching finance. The settlement is already
// locked; this is the one post-approval write the store permits, and only
// once.
func (s *SettlementService) Handover(ctx context.Context, actor Actor, counterID CounterID, date, shift string) (*CounterSettlement, error) {
	if err := Check(actor.Role, PermSettlementHandover); err != nil {
		return nil, err
	}

	for {
		settlement, err := s.Store.GetSettlement(ctx, counterID, date, shift)
		if err != nil {
			return nil, err
		}
		if settlement.Status != SettlementApproved {
			return nil, &TransitionError{
				EntityType: "settlement", EntityID: string(settlement.ID),
				From: string(settlement.Status), Attempted: "handover",
			}
		}
		if settlement.FinanceReceivedBy != "" {
			return nil, &TransitionError{
				EntityType: "settlement", EntityID: string(settlement.ID),
				From: string(settlement.Status), Attempted: "handover",
				Detail: "already handed over to " + settlement.FinanceReceivedBy,
			}
		}

		now := s.Now().UTC()
		updated := *settlement
		updated.FinanceReceivedBy = actor.ID
		updated.HandedOverAt = &now
		updated.UpdatedAt = now

		err = s.Store.UpdateSettlementCAS(ctx, updated, settlement.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		updated.Version = settlement.Version + 1

		s.record(ctx, actor, &updated, AuditSettlementHandover, nil,
			map[string]any{"finance_received_by": actor.ID}, "", "")
		return &updated, nil
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns the settlement for a counter-date-shift.
func (s *SettlementService) Get(ctx context.Context, counterID CounterID, date, shift string) (*CounterSettlement, error) {
	return s.Store.GetSettlement(ctx, counterID, date, shift)
}

// List returns settlements by status (empty = all).
func (s *SettlementService) List(ctx context.Context, status SettlementStatus) ([]CounterSettlement, error) {
	return s.Store.ListSettlements(ctx, status)
}

func (s *SettlementService) countBookings(ctx context.Context, counterID CounterID, date string, status BookingStatus) (int, error) {
	_, total, err := s.Store.SearchBookings(ctx, BookingFilters{
		CounterID: counterID,
		Date:      date,
		Status:    status,
	}, PaginationParams{Page: 1, PageSize: 1})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s bookings: %w", status, err)
	}
	return total, nil
}

func (s *SettlementService) record(ctx context.Context, actor Actor, st *CounterSettlement, action AuditAction, oldVals, newVals map[string]any, reason, approvedBy string) {
	err := s.Audit.Record(ctx, AuditEntry{
		EntityType: "settlement",
		EntityID:   string(st.ID),
		Action:     action,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Old:        oldVals,
		New:        newVals,
		Reason:     reason,
		ApprovedBy: approvedBy,
	})
	if err != nil {
		log.Printf("[Settlement] Audit append failed for %s %s: %v", action, st.ID, err)
	}
}
