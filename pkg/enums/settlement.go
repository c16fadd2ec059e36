package enums

// SettlementState tracks one checkout attempt from gateway redirect to persisted order.
type SettlementState string

const (
	SettlementAwaitingCallback      SettlementState = "AWAITING_CALLBACK"
	SettlementSucceeded             SettlementState = "SUCCEEDED"
	SettlementDeclined              SettlementState = "DECLINED"
	SettlementOrderMaterializing    SettlementState = "ORDER_MATERIALIZING"
	SettlementSettled               SettlementState = "SETTLED"
	SettlementPendingConfirmation   SettlementState = "PENDING_CONFIRMATION"
	SettlementMaterializationFailed SettlementState = "MATERIALIZATION_FAILED"
	SettlementAlreadyProcessed      SettlementState = "ALREADY_PROCESSED"
)

var settlementStates = newSet("settlement state",
	SettlementAwaitingCallback,
	SettlementSucceeded,
	SettlementDeclined,
	SettlementOrderMaterializing,
	SettlementSettled,
	SettlementPendingConfirmation,
	SettlementMaterializationFailed,
	SettlementAlreadyProcessed,
)

func (s SettlementState) String() string { return string(s) }
func (s SettlementState) IsValid() bool  { return settlementStates.has(s) }

// IsTerminal reports whether no further transition is possible.
func (s SettlementState) IsTerminal() bool {
	switch s {
	case SettlementDeclined, SettlementSettled, SettlementPendingConfirmation,
		SettlementMaterializationFailed, SettlementAlreadyProcessed:
		return true
	}
	return false
}

func ParseSettlementState(value string) (SettlementState, error) {
	return settlementStates.parse(value)
}

// UserRole is the role carried in access tokens.
type UserRole string

const (
	UserRoleBuyer UserRole = "buyer"
	UserRoleAdmin UserRole = "admin"
)

var userRoles = newSet("user role", UserRoleBuyer, UserRoleAdmin)

func (r UserRole) IsValid() bool { return userRoles.has(r) }

func ParseUserRole(value string) (UserRole, error) {
	return userRoles.parse(value)
}
