/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  All amounts cross the wire as decimal strings ("500.00"), never floats.
  Handlers parse them with counter.MustMoney's checked sibling.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs. DTOs
  are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - counter/types.go: Domain model these map from
*/
package api

// =============================================================================
// SLOT TYPES
// =============================================================================

// SlotDTO represents a time slot in API responses.
type SlotDTO struct {
	ID              string `json:"id"`
	SevaID          string `json:"seva_id"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Capacity        int    `json:"capacity"`
	BookedCount     int    `json:"booked_count"`
	AvailableCount  int    `json:"available_count"`
	WalkInAvailable int    `json:"walk_in_available"`
	Status          string `json:"status"`
}

// GenerateSlotsRequest materializes a seva's daily slot windows.
type GenerateSlotsRequest struct {
	SevaID string `json:"seva_id"`
	Date   string `json:"date"` // YYYY-MM-DD
}

// CloseSlotRequest administratively closes a slot.
type CloseSlotRequest struct {
	Reason string `json:"reason"`
}

// LockSlotRequest holds one unit of capacity ahead of booking creation,
// so a pre-booked form can be filled without losing the unit.
type LockSlotRequest struct {
	BookingType string `json:"booking_type,omitempty"` // defaults to PRE_BOOKED
}

// LockSlotResponse is the held reservation. The token must be presented on
// booking creation (or released by letting it expire).
type LockSlotResponse struct {
	Locked    bool   `json:"locked"`
	SlotID    string `json:"slot_id"`
	LockToken string `json:"lock_token"`
	ExpiresAt string `json:"expires_at"`
}

// =============================================================================
// BOOKING TYPES
// =============================================================================

// DevoteeDTO carries devotee details on booking creation.
type DevoteeDTO struct {
	Name             string `json:"name"`
	Phone            string `json:"phone,omitempty"`
	Gothra           string `json:"gothra,omitempty"`
	NumberOfDevotees int    `json:"number_of_devotees"`
}

// CreateBookingRequest is the request to create a booking.
type CreateBookingRequest struct {
	Devotee     DevoteeDTO `json:"devotee"`
	SevaID      string     `json:"seva_id"`
	SlotID      string     `json:"slot_id"`
	BookingType string     `json:"booking_type"`
	LockToken   string     `json:"lock_token,omitempty"`

	PaymentMode   string `json:"payment_mode"`
	CashAmount    string `json:"cash_amount,omitempty"`
	DigitalAmount string `json:"digital_amount,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	CollectNow    bool   `json:"collect_now"`

	OverrideAmount     string `json:"override_amount,omitempty"`
	OverrideApprovedBy string `json:"override_approved_by,omitempty"`
}

// CollectPaymentRequest tenders payment for a PENDING booking.
type CollectPaymentRequest struct {
	PaymentMode   string `json:"payment_mode"`
	CashAmount    string `json:"cash_amount,omitempty"`
	DigitalAmount string `json:"digital_amount,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ReasonRequest covers cancel and no-show, which need only a reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ApprovedActionRequest covers refund and reprint, which need a reason
// plus an approver distinct from the acting cashier.
type ApprovedActionRequest struct {
	Reason     string `json:"reason"`
	ApprovedBy string `json:"approved_by"`
}

// PaymentDTO represents payment details in API responses.
type PaymentDTO struct {
	Mode               string `json:"mode"`
	Amount             string `json:"amount"`
	CashAmount         string `json:"cash_amount"`
	DigitalAmount      string `json:"digital_amount"`
	TransactionID      string `json:"transaction_id,omitempty"`
	CollectedAt        string `json:"collected_at,omitempty"`
	CollectedBy        string `json:"collected_by,omitempty"`
	OverrideApprovedBy string `json:"override_approved_by,omitempty"`
}

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID            string     `json:"id"`
	ReceiptNumber string     `json:"receipt_number"`
	QRCode        string     `json:"qr_code"`
	Devotee       DevoteeDTO `json:"devotee"`
	SevaID        string     `json:"seva_id"`
	SevaName      string     `json:"seva_name"`
	SlotID        string     `json:"slot_id"`
	SlotDate      string     `json:"slot_date"`
	SlotStart     string     `json:"slot_start"`
	SlotEnd       string     `json:"slot_end"`
	Payment       PaymentDTO `json:"payment"`
	Status        string     `json:"status"`
	BookingType   string     `json:"booking_type"`
	CounterID     string     `json:"counter_id"`
	CashierID     string     `json:"cashier_id"`

	IsLateCollection bool   `json:"is_late_collection,omitempty"`
	IsReprint        bool   `json:"is_reprint,omitempty"`
	CancelReason     string `json:"cancel_reason,omitempty"`
	NoShowReason     string `json:"no_show_reason,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// PaginatedBookingsResponse wraps a page of booking search results.
type PaginatedBookingsResponse struct {
	Bookings []BookingDTO `json:"bookings"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// =============================================================================
// COUNTER / SETTLEMENT TYPES
// =============================================================================

// CounterSummaryDTO is the live running totals for one counter-date.
type CounterSummaryDTO struct {
	CounterID       string `json:"counter_id"`
	Date            string `json:"date"`
	OpeningBalance  string `json:"opening_balance"`
	CashTotal       string `json:"cash_total"`
	DigitalTotal    string `json:"digital_total"`
	GrandTotal      string `json:"grand_total"`
	BookingCount    int    `json:"booking_count"`
	PendingBookings int    `json:"pending_bookings"`
	Collections     int    `json:"collections"`
	VoidAdjusts     int    `json:"void_adjusts"`
}

// OpenSettlementRequest starts the DRAFT settlement for a shift.
type OpenSettlementRequest struct {
	CounterID      string `json:"counter_id"`
	Date           string `json:"date"`
	Shift          string `json:"shift,omitempty"`
	OpeningBalance string `json:"opening_balance"`
}

// SubmitSettlementRequest moves a DRAFT settlement to SUBMITTED.
type SubmitSettlementRequest struct {
	CounterID      string `json:"counter_id"`
	Date           string `json:"date"`
	Shift          string `json:"shift,omitempty"`
	ClosingBalance string `json:"closing_balance"`
	VarianceReason string `json:"variance_reason,omitempty"`
}

// ApproveSettlementRequest approves (and locks) a SUBMITTED settlement.
type ApproveSettlementRequest struct {
	CounterID string `json:"counter_id"`
	Date      string `json:"date"`
	Shift     string `json:"shift,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// RejectSettlementRequest returns a SUBMITTED settlement to DRAFT.
type RejectSettlementRequest struct {
	CounterID string `json:"counter_id"`
	Date      string `json:"date"`
	Shift     string `json:"shift,omitempty"`
	Reason    string `json:"reason"`
}

// HandoverSettlementRequest records the cash reaching finance.
type HandoverSettlementRequest struct {
	CounterID string `json:"counter_id"`
	Date      string `json:"date"`
	Shift     string `json:"shift,omitempty"`
}

// SettlementDTO represents a settlement in API responses.
type SettlementDTO struct {
	ID        string `json:"id"`
	CounterID string `json:"counter_id"`
	Date      string `json:"date"`
	Shift     string `json:"shift,omitempty"`

	OpeningBalance  string `json:"opening_balance"`
	ClosingBalance  string `json:"closing_balance"`
	SystemCashTotal string `json:"system_cash_total"`
	DigitalTotal    string `json:"digital_total"`
	Variance        string `json:"variance"`
	VarianceReason  string `json:"variance_reason,omitempty"`

	BookingCount int `json:"booking_count"`
	NoShowCount  int `json:"no_show_count"`

	Status            string `json:"status"`
	SubmittedBy       string `json:"submitted_by,omitempty"`
	SubmittedAt       string `json:"submitted_at,omitempty"`
	ApprovedBy        string `json:"approved_by,omitempty"`
	ApprovedAt        string `json:"approved_at,omitempty"`
	ApprovalNotes     string `json:"approval_notes,omitempty"`
	RejectedBy        string `json:"rejected_by,omitempty"`
	RejectionReason   string `json:"rejection_reason,omitempty"`
	ResubmissionCount int    `json:"resubmission_count"`
	FinanceReceivedBy string `json:"finance_received_by,omitempty"`
	HandedOverAt      string `json:"handed_over_at,omitempty"`
	IsLocked          bool   `json:"is_locked"`
}

// =============================================================================
// AUDIT / ERROR TYPES
// =============================================================================

// AuditEntryDTO represents one audit trail entry.
type AuditEntryDTO struct {
	Seq        int            `json:"seq"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id"`
	ActorRole  string         `json:"actor_role"`
	Timestamp  string         `json:"timestamp"`
	Old        map[string]any `json:"old,omitempty"`
	New        map[string]any `json:"new,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	ApprovedBy string         `json:"approved_by,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
