package domain

import "errors"

// Workflow errors returned by the withdrawal state machines. Handlers map these onto
// HTTP statuses; the app layer wraps them with request context where useful.
var (
	// Validation
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrReasonRequired         = errors.New("reason is required")
	ErrDeclineReasonRequired  = errors.New("decline reason is required")
	ErrBankAccountRefRequired = errors.New("bank account reference is required")
	ErrInvalidDecision        = errors.New("decision must be approved or declined")

	// Authorization
	ErrNotMember    = errors.New("caller is not a member of this group")
	ErrNotRequester = errors.New("only the requester may perform this action")

	// Invalid state
	ErrRequestNotPending  = errors.New("request is not pending")
	ErrRequestNotDeclined = errors.New("request is not declined")
	ErrAlreadyDisputed    = errors.New("request is already disputed")
	ErrDisputeNotOpen     = errors.New("dispute is not open")
	ErrWithdrawalsLocked  = errors.New("withdrawals are locked until the group reaches its goal")
	ErrGroupNotActive     = errors.New("group is not active")

	// Duplicate decision
	ErrDuplicateDecision = errors.New("member has already submitted a decision")
)
