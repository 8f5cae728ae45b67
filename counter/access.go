/*
access.go - Static role to permission lookup

PURPOSE:
  One pure Check function consulted by every service entry point, instead of
  permission logic re-implemented per screen. Role assignment happens
  upstream (authentication is external); a resolved Actor arrives with each
  request.

  No dynamic grant/revoke: the table is fixed at compile time.
*/
package counter

// Actor is the resolved identity performing an operation.
type Actor struct {
	ID   string
	Role Role
}

type Role string

const (
	RoleCashier    Role = "cashier"
	RoleSupervisor Role = "supervisor"
	RoleManager    Role = "manager"
	RoleFinance    Role = "finance"
	RoleAdmin      Role = "admin"
)

type Permission string

const (
	PermBookingCreate       Permission = "booking:create"
	PermBookingCollect      Permission = "booking:collect"
	PermBookingComplete     Permission = "booking:complete"
	PermBookingCancel       Permission = "booking:cancel"
	PermBookingNoShow       Permission = "booking:no-show"
	PermBookingReprint      Permission = "booking:reprint"
	PermBookingRefund       Permission = "booking:refund"
	PermBookingRead         Permission = "booking:read"
	PermSlotRead            Permission = "slot:read"
	PermSlotGenerate        Permission = "slot:generate"
	PermSlotClose           Permission = "slot:close"
	PermSettlementOpen      Permission = "settlement:open"
	PermSettlementSubmit    Permission = "settlement:submit"
	PermSettlementApprove   Permission = "settlement:approve"
	PermSettlementHandover  Permission = "settlement:handover"
	PermSettlementRead      Permission = "settlement:read"
	PermAuditRead           Permission = "audit:read"
)

// rolePermissions is the full grant table. Supervisors hold everything a
// cashier does plus the approval-gated operations; finance only receives
// handovers and reads.
var rolePermissions = map[Role]map[Permission]bool{
	RoleCashier: permSet(
		PermBookingCreate, PermBookingCollect, PermBookingComplete,
		PermBookingCancel, PermBookingRead, PermSlotRead,
		PermSettlementOpen, PermSettlementSubmit, PermSettlementRead,
	),
	RoleSupervisor: permSet(
		PermBookingCreate, PermBookingCollect, PermBookingComplete,
		PermBookingCancel, PermBookingNoShow, PermBookingReprint,
		PermBookingRefund, PermBookingRead, PermSlotRead,
		PermSlotClose,
		PermSettlementOpen, PermSettlementSubmit, PermSettlementApprove,
		PermSettlementRead, PermAuditRead,
	),
	RoleManager: permSet(
		PermBookingCreate, PermBookingCollect, PermBookingComplete,
		PermBookingCancel, PermBookingNoShow, PermBookingReprint,
		PermBookingRefund, PermBookingRead, PermSlotRead,
		PermSlotGenerate, PermSlotClose,
		PermSettlementOpen, PermSettlementSubmit, PermSettlementApprove,
		PermSettlementHandover, PermSettlementRead, PermAuditRead,
	),
	RoleFinance: permSet(
		PermBookingRead, PermSettlementHandover, PermSettlementRead,
		PermAuditRead,
	),
	RoleAdmin: permSet(
		PermBookingCreate, PermBookingCollect, PermBookingComplete,
		PermBookingCancel, PermBookingNoShow, PermBookingReprint,
		PermBookingRefund, PermBookingRead, PermSlotRead,
		PermSlotGenerate, PermSlotClose,
		PermSettlementOpen, PermSettlementSubmit, PermSettlementApprove,
		PermSettlementHandover, PermSettlementRead, PermAuditRead,
	),
}

func permSet(perms ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

// Check returns nil if the role carries the permission, ErrUnauthorized-
// wrapping error otherwise. Unknown roles hold nothing.
func Check(role Role, perm Permission) error {
	if rolePermissions[role][perm] {
		return nil
	}
	return &UnauthorizedError{Role: role, Permission: perm}
}

// HasPermission is the boolean form of Check, for query filtering.
func HasPermission(role Role, perm Permission) bool {
	return rolePermissions[role][perm]
}
