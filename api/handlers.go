/*
handlers.go - HTTP API handlers for the seva counter engine

PURPOSE:
  Exposes the booking and settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, actor extraction, and delegates
  to domain logic.

ENDPOINTS:
  Slots:
    GET    /api/slots                    Available slots (seva_id, date)
    POST   /api/slots/generate           Materialize a seva's daily windows
    POST   /api/slots/{id}/lock          Hold one unit ahead of booking
    POST   /api/slots/{id}/close         Administratively close a slot

  Bookings:
    POST   /api/bookings                 Create booking (reserve + optional collect)
    GET    /api/bookings                 Search bookings (filters + pagination)
    GET    /api/bookings/{id}            Get booking
    GET    /api/bookings/{id}/history    Audit trail
    POST   /api/bookings/{id}/collect    Collect payment on PENDING booking
    POST   /api/bookings/{id}/complete   Mark seva performed
    POST   /api/bookings/{id}/no-show    Mark no-show (grace window applies)
    POST   /api/bookings/{id}/cancel     Cancel PENDING booking
    POST   /api/bookings/{id}/refund     Recorded refund (approver required)
    POST   /api/bookings/{id}/reprint    Reprint receipt (approver required)

  Counters:
    GET    /api/counters/{id}/summary    Live running totals (date)

  Settlements:
    POST   /api/settlements/open         Open DRAFT with opening float
    POST   /api/settlements/submit       Submit with closing balance
    POST   /api/settlements/approve      Approve and lock
    POST   /api/settlements/reject       Return to DRAFT with reason
    POST   /api/settlements/handover     Record finance handover
    GET    /api/settlements              List by status
    GET    /api/settlements/{counterID}/{date}  Get one (shift query param)

ACTOR IDENTITY:
  Every request carries X-Actor-Id and X-Actor-Role headers. Identity
  verification (who is actually at the counter) is upstream concern;
  this layer trusts the headers and enforces role permissions.

ERROR HANDLING:
  Domain errors map to HTTP status:
  - 400: Tender mismatch, variance reason missing, bad input
  - 403: Role lacks the permission
  - 404: Unknown booking/slot/settlement
  - 409: Slot unavailable, illegal transition, locked settlement, duplicate
  - 410: Reservation lock expired before commit
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - counter/: Domain services this layer delegates to
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/devasthan/seva-counter/counter"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Bookings    *counter.BookingService
	Slots       *counter.SlotManager
	Settlements *counter.SettlementService
	Payments    *counter.PaymentReconciler
	Catalog     counter.Catalog
}

// NewHandler creates a new handler wired to the domain services.
func NewHandler(bookings *counter.BookingService, slots *counter.SlotManager, settlements *counter.SettlementService, payments *counter.PaymentReconciler, catalog counter.Catalog) *Handler {
	return &Handler{
		Bookings:    bookings,
		Slots:       slots,
		Settlements: settlements,
		Payments:    payments,
		Catalog:     catalog,
	}
}

// actorFrom extracts the acting user from request headers.
func actorFrom(r *http.Request) (counter.Actor, error) {
	id := r.Header.Get("X-Actor-Id")
	role := r.Header.Get("X-Actor-Role")
	if id == "" || role == "" {
		return counter.Actor{}, fmt.Errorf("missing X-Actor-Id or X-Actor-Role header")
	}
	return counter.Actor{ID: id, Role: counter.Role(role)}, nil
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

// ListSlots returns available slots for a seva and date.
// GET /api/slots?seva_id=&date=
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}
	if err := counter.Check(actor.Role, counter.PermSlotRead); err != nil {
		writeDomainError(w, "Failed to list slots", err)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date query parameter required", nil)
		return
	}

	slots, err := h.Slots.AvailableSlots(r.Context(), counter.SevaID(r.URL.Query().Get("seva_id")), date)
	if err != nil {
		writeDomainError(w, "Failed to list slots", err)
		return
	}

	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = toSlotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GenerateSlots materializes a seva's daily slot windows.
// POST /api/slots/generate
func (h *Handler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req GenerateSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	master, ok := h.Catalog[counter.SevaID(req.SevaID)]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown seva", nil)
		return
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	slots, err := h.Slots.GenerateSlots(r.Context(), actor, master, day)
	if err != nil {
		writeDomainError(w, "Failed to generate slots", err)
		return
	}

	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = toSlotDTO(s)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// LockSlot reserves one unit of capacity ahead of booking creation, so the
// devotee's form can be filled without losing the unit to another counter.
// The returned token is presented on POST /api/bookings; an abandoned form
// frees the unit when the lock expires.
// POST /api/slots/{id}/lock
func (h *Handler) LockSlot(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}
	if err := counter.Check(actor.Role, counter.PermBookingCreate); err != nil {
		writeDomainError(w, "Failed to lock slot", err)
		return
	}

	var req LockSlotRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	bt := counter.BookingType(req.BookingType)
	if bt == "" {
		bt = counter.BookingPreBooked
	}

	lock, err := h.Slots.Reserve(r.Context(), counter.SlotID(chi.URLParam(r, "id")), actor.ID, bt)
	if err != nil {
		writeDomainError(w, "Failed to lock slot", err)
		return
	}
	writeJSON(w, http.StatusOK, LockSlotResponse{
		Locked:    true,
		SlotID:    string(lock.SlotID),
		LockToken: lock.Token,
		ExpiresAt: lock.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// CloseSlot administratively closes a slot.
// POST /api/slots/{id}/close
func (h *Handler) CloseSlot(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req CloseSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := counter.SlotID(chi.URLParam(r, "id"))
	if err := h.Slots.CloseSlot(r.Context(), actor, id, req.Reason); err != nil {
		writeDomainError(w, "Failed to close slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking creates a new booking.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	domainReq, err := toDomainCreateRequest(req, r.Header.Get("X-Counter-Id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid booking request", err)
		return
	}

	booking, err := h.Bookings.CreateBooking(r.Context(), actor, domainReq)
	if err != nil {
		writeDomainError(w, "Failed to create booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*booking))
}

// GetBooking returns a single booking.
// GET /api/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	booking, err := h.Bookings.GetBooking(r.Context(), actor, counter.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*booking))
}

// SearchBookings returns a filtered, paginated page of bookings.
// GET /api/bookings?counter_id=&date=&status=&phone=&page=&page_size=
func (h *Handler) SearchBookings(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	q := r.URL.Query()
	filters := counter.BookingFilters{
		CounterID:   counter.CounterID(q.Get("counter_id")),
		CashierID:   q.Get("cashier_id"),
		SevaID:      counter.SevaID(q.Get("seva_id")),
		Date:        q.Get("date"),
		Status:      counter.BookingStatus(q.Get("status")),
		BookingType: counter.BookingType(q.Get("booking_type")),
		Phone:       q.Get("phone"),
	}
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	params := counter.PaginationParams{Page: page, PageSize: pageSize}.Normalize()

	bookings, total, err := h.Bookings.SearchBookings(r.Context(), actor, filters, params)
	if err != nil {
		writeDomainError(w, "Failed to search bookings", err)
		return
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, PaginatedBookingsResponse{
		Bookings: dtos,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// CollectPayment collects payment on a PENDING booking.
// POST /api/bookings/{id}/collect
func (h *Handler) CollectPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req CollectPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cash, digital, err := parseTenderAmounts(req.CashAmount, req.DigitalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tender amounts", err)
		return
	}

	booking, err := h.Bookings.CollectPayment(r.Context(), actor, counter.BookingID(chi.URLParam(r, "id")), counter.Tender{
		Mode:          counter.PaymentMode(req.PaymentMode),
		CashAmount:    cash,
		DigitalAmount: digital,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writeDomainError(w, "Failed to collect payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*booking))
}

// MarkCompleted marks the seva as performed.
// POST /api/bookings/{id}/complete
func (h *Handler) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	h.bookingAction(w, r, func(actor counter.Actor, id counter.BookingID, _ ReasonRequest) (*counter.SevaBooking, error) {
		return h.Bookings.MarkCompleted(r.Context(), actor, id)
	})
}

// MarkNoShow marks a collected booking as a no-show.
// POST /api/bookings/{id}/no-show
func (h *Handler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	h.bookingAction(w, r, func(actor counter.Actor, id counter.BookingID, req ReasonRequest) (*counter.SevaBooking, error) {
		return h.Bookings.MarkNoShow(r.Context(), actor, id, req.Reason)
	})
}

// CancelBooking cancels a PENDING booking and frees its slot unit.
// POST /api/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	h.bookingAction(w, r, func(actor counter.Actor, id counter.BookingID, req ReasonRequest) (*counter.SevaBooking, error) {
		return h.Bookings.Cancel(r.Context(), actor, id, req.Reason)
	})
}

// bookingAction factors the shared decode/dispatch shape of the simple
// lifecycle endpoints.
func (h *Handler) bookingAction(w http.ResponseWriter, r *http.Request, fn func(counter.Actor, counter.BookingID, ReasonRequest) (*counter.SevaBooking, error)) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req ReasonRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	booking, err := fn(actor, counter.BookingID(chi.URLParam(r, "id")), req)
	if err != nil {
		writeDomainError(w, "Booking action failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*booking))
}

// RecordRefund records an out-of-band refund as a drawer adjustment.
// POST /api/bookings/{id}/refund
func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req ApprovedActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	booking, err := h.Bookings.RecordRefund(r.Context(), actor, counter.BookingID(chi.URLParam(r, "id")), req.Reason, req.ApprovedBy)
	if err != nil {
		writeDomainError(w, "Failed to record refund", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*booking))
}

// ReprintReceipt reprints a receipt with supervisor approval.
// POST /api/bookings/{id}/reprint
func (h *Handler) ReprintReceipt(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req ApprovedActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	booking, err := h.Bookings.Reprint(r.Context(), actor, counter.BookingID(chi.URLParam(r, "id")), req.Reason, req.ApprovedBy)
	if err != nil {
		writeDomainError(w, "Failed to reprint receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*booking))
}

// BookingHistory returns the audit trail for a booking.
// GET /api/bookings/{id}/history
func (h *Handler) BookingHistory(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	entries, err := h.Bookings.History(r.Context(), actor, counter.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get booking history", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// COUNTER HANDLERS
// =============================================================================

// CounterSummary returns the live running totals for one counter-date.
// GET /api/counters/{id}/summary?date=
func (h *Handler) CounterSummary(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}
	if err := counter.Check(actor.Role, counter.PermSettlementRead); err != nil {
		writeDomainError(w, "Failed to compute counter summary", err)
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = counter.DateKey(time.Now())
	}
	counterID := counter.CounterID(chi.URLParam(r, "id"))

	totals, err := h.Payments.CounterSummary(r.Context(), counterID, date)
	if err != nil {
		writeDomainError(w, "Failed to compute counter summary", err)
		return
	}
	bookingCount, err := h.countBookings(r, actor, counterID, date, "")
	if err != nil {
		writeDomainError(w, "Failed to count bookings", err)
		return
	}
	pending, err := h.countBookings(r, actor, counterID, date, counter.BookingPending)
	if err != nil {
		writeDomainError(w, "Failed to count pending bookings", err)
		return
	}

	writeJSON(w, http.StatusOK, CounterSummaryDTO{
		CounterID:       string(counterID),
		Date:            date,
		OpeningBalance:  totals.OpeningFloat.String(),
		CashTotal:       totals.CashTotal.String(),
		DigitalTotal:    totals.DigitalTotal.String(),
		GrandTotal:      totals.Total().String(),
		BookingCount:    bookingCount,
		PendingBookings: pending,
		Collections:     totals.Collections,
		VoidAdjusts:     totals.VoidAdjusts,
	})
}

func (h *Handler) countBookings(r *http.Request, actor counter.Actor, counterID counter.CounterID, date string, status counter.BookingStatus) (int, error) {
	_, total, err := h.Bookings.SearchBookings(r.Context(), actor, counter.BookingFilters{
		CounterID: counterID,
		Date:      date,
		Status:    status,
	}, counter.PaginationParams{Page: 1, PageSize: 1})
	return total, err
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// OpenSettlement opens the DRAFT settlement for a shift.
// POST /api/settlements/open
func (h *Handler) OpenSettlement(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req OpenSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	opening, err := decimal.NewFromString(req.OpeningBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid opening_balance", err)
		return
	}

	settlement, err := h.Settlements.Open(r.Context(), actor, counter.CounterID(req.CounterID), req.Date, req.Shift, opening)
	if err != nil {
		writeDomainError(w, "Failed to open settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(*settlement))
}

// SubmitSettlement submits the shift's closing balance.
// POST /api/settlements/submit
func (h *Handler) SubmitSettlement(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req SubmitSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	closing, err := decimal.NewFromString(req.ClosingBalance)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid closing_balance", err)
		return
	}

	settlement, err := h.Settlements.Submit(r.Context(), actor, counter.CounterID(req.CounterID), req.Date, req.Shift, closing, req.VarianceReason)
	if err != nil {
		writeDomainError(w, "Failed to submit settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*settlement))
}

// ApproveSettlement approves and locks a submitted settlement.
// POST /api/settlements/approve
func (h *Handler) ApproveSettlement(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req ApproveSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	settlement, err := h.Settlements.Approve(r.Context(), actor, counter.CounterID(req.CounterID), req.Date, req.Shift, req.Notes)
	if err != nil {
		writeDomainError(w, "Failed to approve settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*settlement))
}

// RejectSettlement returns a submitted settlement to DRAFT.
// POST /api/settlements/reject
func (h *Handler) RejectSettlement(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req RejectSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	settlement, err := h.Settlements.Reject(r.Context(), actor, counter.CounterID(req.CounterID), req.Date, req.Shift, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*settlement))
}

// HandoverSettlement records the cash reaching finance.
// POST /api/settlements/handover
func (h *Handler) HandoverSettlement(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}

	var req HandoverSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	settlement, err := h.Settlements.Handover(r.Context(), actor, counter.CounterID(req.CounterID), req.Date, req.Shift)
	if err != nil {
		writeDomainError(w, "Failed to record handover", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*settlement))
}

// ListSettlements lists settlements, optionally filtered by status.
// GET /api/settlements?status=
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}
	if err := counter.Check(actor.Role, counter.PermSettlementRead); err != nil {
		writeDomainError(w, "Failed to list settlements", err)
		return
	}

	settlements, err := h.Settlements.List(r.Context(), counter.SettlementStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeDomainError(w, "Failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i, s := range settlements {
		dtos[i] = toSettlementDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSettlement returns one settlement.
// GET /api/settlements/{counterID}/{date}?shift=
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing actor identity", err)
		return
	}
	if err := counter.Check(actor.Role, counter.PermSettlementRead); err != nil {
		writeDomainError(w, "Failed to get settlement", err)
		return
	}

	settlement, err := h.Settlements.Get(r.Context(),
		counter.CounterID(chi.URLParam(r, "counterID")),
		chi.URLParam(r, "date"),
		r.URL.Query().Get("shift"))
	if err != nil {
		writeDomainError(w, "Failed to get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*settlement))
}

// =============================================================================
// DTO CONVERSIONS
// =============================================================================

func toSlotDTO(s counter.TimeSlot) SlotDTO {
	return SlotDTO{
		ID:              string(s.ID),
		SevaID:          string(s.SevaID),
		Date:            counter.DateKey(s.Date),
		StartTime:       s.StartTime.UTC().Format(time.RFC3339),
		EndTime:         s.EndTime.UTC().Format(time.RFC3339),
		Capacity:        s.Capacity,
		BookedCount:     s.BookedCount,
		AvailableCount:  s.AvailableCount(),
		WalkInAvailable: s.WalkInAvailable(),
		Status:          string(s.Status),
	}
}

func toBookingDTO(b counter.SevaBooking) BookingDTO {
	return BookingDTO{
		ID:            string(b.ID),
		ReceiptNumber: b.ReceiptNumber,
		QRCode:        b.QRCode,
		Devotee: DevoteeDTO{
			Name:             b.Devotee.Name,
			Phone:            b.Devotee.Phone,
			Gothra:           b.Devotee.Gothra,
			NumberOfDevotees: b.Devotee.NumberOfDevotees,
		},
		SevaID:    string(b.Seva.SevaID),
		SevaName:  b.Seva.Name,
		SlotID:    string(b.Slot.SlotID),
		SlotDate:  counter.DateKey(b.Slot.Date),
		SlotStart: b.Slot.StartTime.UTC().Format(time.RFC3339),
		SlotEnd:   b.Slot.EndTime.UTC().Format(time.RFC3339),
		Payment: PaymentDTO{
			Mode:               string(b.Payment.Mode),
			Amount:             b.Payment.Amount.String(),
			CashAmount:         b.Payment.CashAmount.String(),
			DigitalAmount:      b.Payment.DigitalAmount.String(),
			TransactionID:      b.Payment.TransactionID,
			CollectedAt:        formatTimePtr(b.Payment.CollectedAt),
			CollectedBy:        b.Payment.CollectedBy,
			OverrideApprovedBy: b.Payment.OverrideApprovedBy,
		},
		Status:           string(b.Status),
		BookingType:      string(b.BookingType),
		CounterID:        string(b.CounterID),
		CashierID:        b.CashierID,
		IsLateCollection: b.IsLateCollection,
		IsReprint:        b.IsReprint,
		CancelReason:     b.CancelReason,
		NoShowReason:     b.NoShowReason,
		CreatedAt:        b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toSettlementDTO(s counter.CounterSettlement) SettlementDTO {
	return SettlementDTO{
		ID:                string(s.ID),
		CounterID:         string(s.CounterID),
		Date:              s.Date,
		Shift:             s.Shift,
		OpeningBalance:    s.OpeningBalance.String(),
		ClosingBalance:    s.ClosingBalance.String(),
		SystemCashTotal:   s.SystemCashTotal.String(),
		DigitalTotal:      s.DigitalTotal.String(),
		Variance:          s.Variance.String(),
		VarianceReason:    s.VarianceReason,
		BookingCount:      s.BookingCount,
		NoShowCount:       s.NoShowCount,
		Status:            string(s.Status),
		SubmittedBy:       s.SubmittedBy,
		SubmittedAt:       formatTimePtr(s.SubmittedAt),
		ApprovedBy:        s.ApprovedBy,
		ApprovedAt:        formatTimePtr(s.ApprovedAt),
		ApprovalNotes:     s.ApprovalNotes,
		RejectedBy:        s.RejectedBy,
		RejectionReason:   s.RejectionReason,
		ResubmissionCount: s.ResubmissionCount,
		FinanceReceivedBy: s.FinanceReceivedBy,
		HandedOverAt:      formatTimePtr(s.HandedOverAt),
		IsLocked:          s.IsLocked,
	}
}

func toAuditDTO(e counter.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		Seq:        e.Seq,
		Action:     string(e.Action),
		ActorID:    e.ActorID,
		ActorRole:  string(e.ActorRole),
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Old:        e.Old,
		New:        e.New,
		Reason:     e.Reason,
		ApprovedBy: e.ApprovedBy,
	}
}

func toDomainCreateRequest(req CreateBookingRequest, counterID string) (counter.CreateBookingRequest, error) {
	cash, digital, err := parseTenderAmounts(req.CashAmount, req.DigitalAmount)
	if err != nil {
		return counter.CreateBookingRequest{}, err
	}

	out := counter.CreateBookingRequest{
		Devotee: counter.DevoteeInfo{
			Name:             req.Devotee.Name,
			Phone:            req.Devotee.Phone,
			Gothra:           req.Devotee.Gothra,
			NumberOfDevotees: req.Devotee.NumberOfDevotees,
		},
		SevaID:             counter.SevaID(req.SevaID),
		SlotID:             counter.SlotID(req.SlotID),
		BookingType:        counter.BookingType(req.BookingType),
		CounterID:          counter.CounterID(counterID),
		LockToken:          req.LockToken,
		PaymentMode:        counter.PaymentMode(req.PaymentMode),
		CashAmount:         cash,
		DigitalAmount:      digital,
		TransactionID:      req.TransactionID,
		CollectNow:         req.CollectNow,
		OverrideApprovedBy: req.OverrideApprovedBy,
	}
	if req.OverrideAmount != "" {
		amount, err := decimal.NewFromString(req.OverrideAmount)
		if err != nil {
			return counter.CreateBookingRequest{}, fmt.Errorf("invalid override_amount: %w", err)
		}
		out.OverrideAmount = &amount
	}
	return out, nil
}

func parseTenderAmounts(cash, digital string) (decimal.Decimal, decimal.Decimal, error) {
	c, d := decimal.Zero, decimal.Zero
	var err error
	if cash != "" {
		if c, err = decimal.NewFromString(cash); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("invalid cash_amount: %w", err)
		}
	}
	if digital != "" {
		if d, err = decimal.NewFromString(digital); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("invalid digital_amount: %w", err)
		}
	}
	return c, d, nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, counter.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, counter.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, counter.ErrLockExpired):
		status = http.StatusGone
	case errors.Is(err, counter.ErrSlotUnavailable),
		errors.Is(err, counter.ErrInvalidTransition),
		errors.Is(err, counter.ErrSettlementLocked),
		errors.Is(err, counter.ErrDuplicateRecord),
		errors.Is(err, counter.ErrVersionConflict):
		status = http.StatusConflict
	case counter.IsClientError(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}
