package app

import "errors"

// Errors surfaced by the application service on top of the domain and store taxonomies.
var (
	ErrNotGroupMember    = errors.New("caller is not a member of this group")
	ErrNotGroupAdmin     = errors.New("caller is not an admin of this group")
	ErrSelfDecision      = errors.New("admins cannot decide their own withdrawal request")
	ErrRateLimited       = errors.New("too many requests; slow down")
	ErrSupportEscalation = errors.New("support escalation failed")
	ErrInvalidGroupName  = errors.New("group name is required")
	ErrInvalidCurrency   = errors.New("currency is required")
	ErrInvalidGoalAmount = errors.New("goal amount must not be negative")
)
