/**
 * @description
 * The consensus withdrawal state machine. A group withdrawal requires every member's
 * approval; the first decline is terminal for the approval round and cannot be outvoted
 * by later approvals. A declined request may be escalated to support as a dispute by the
 * original requester.
 *
 * All transition rules live here as methods on the aggregate so that illegal transitions
 * are rejected in one place instead of being re-checked across handlers.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Withdrawal types for group requests.
const (
	WithdrawalTypeGroupAccount        = "GROUP_ACCOUNT"
	WithdrawalTypeDistributeToMembers = "DISTRIBUTE_TO_MEMBERS"
)

// Per-member decisions within a group withdrawal request.
const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionDeclined = "declined"
)

// Dispute statuses.
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// DecisionOutcome is the state-machine result of applying one member decision.
type DecisionOutcome int

const (
	// OutcomeNone: the decision was recorded but the request stays pending.
	OutcomeNone DecisionOutcome = iota
	// OutcomeApproved: this was the last outstanding approval; settlement must run
	// atomically with the status flip.
	OutcomeApproved
	// OutcomeDeclined: first decline; the request is terminal for approvals.
	OutcomeDeclined
)

// MemberDecision is one member's slot in the approval round. One entry per group member
// is created when the request is opened, each initialized to pending.
type MemberDecision struct {
	UserID        uuid.UUID  `json:"user_id"`
	Decision      string     `json:"decision"`
	DeclineReason *string    `json:"decline_reason,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

// Dispute is a requester-initiated escalation of a declined request to human support.
// Its resolution is written by support tooling, not by this workflow.
type Dispute struct {
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	SupportComment *string   `json:"support_comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// GroupWithdrawalRequest is a whole-group withdrawal requiring unanimous member approval.
type GroupWithdrawalRequest struct {
	ID              uuid.UUID        `json:"id"`
	GroupID         uuid.UUID        `json:"group_id"`
	RequesterID     uuid.UUID        `json:"requester_id"`
	WithdrawalType  string           `json:"withdrawal_type"`
	Reason          string           `json:"reason"`
	BankAccountRef  *string          `json:"bank_account_ref,omitempty"`
	Status          string           `json:"status"`
	Approvals       []MemberDecision `json:"approvals"`
	Dispute         *Dispute         `json:"dispute,omitempty"`
	SupportTicketID *string          `json:"support_ticket_id,omitempty"`
	SettledAt       *time.Time       `json:"settled_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewGroupWithdrawalRequest opens a request with one pending decision slot per member,
// in the order given (member join order).
func NewGroupWithdrawalRequest(groupID, requesterID uuid.UUID, withdrawalType, reason string, bankAccountRef *string, memberIDs []uuid.UUID, now time.Time) (*GroupWithdrawalRequest, error) {
	if withdrawalType != WithdrawalTypeGroupAccount && withdrawalType != WithdrawalTypeDistributeToMembers {
		return nil, ErrInvalidDecision
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	if withdrawalType == WithdrawalTypeGroupAccount && (bankAccountRef == nil || strings.TrimSpace(*bankAccountRef) == "") {
		return nil, ErrBankAccountRefRequired
	}

	approvals := make([]MemberDecision, 0, len(memberIDs))
	requesterIsMember := false
	for _, id := range memberIDs {
		approvals = append(approvals, MemberDecision{UserID: id, Decision: DecisionPending})
		if id == requesterID {
			requesterIsMember = true
		}
	}
	if !requesterIsMember {
		return nil, ErrNotMember
	}

	return &GroupWithdrawalRequest{
		ID:             uuid.New(),
		GroupID:        groupID,
		RequesterID:    requesterID,
		WithdrawalType: withdrawalType,
		Reason:         reason,
		BankAccountRef: bankAccountRef,
		Status:         WithdrawalStatusPending,
		Approvals:      approvals,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ApplyDecision records one member's decision and evaluates the approval round.
//
// Decisions are write-once per member. Decisions are evaluated in arrival order: the
// first decline flips the request to declined immediately, even if every other member
// would have approved. Approval only fires when the last outstanding decision becomes
// approved.
func (r *GroupWithdrawalRequest) ApplyDecision(userID uuid.UUID, decision string, declineReason string, now time.Time) (DecisionOutcome, error) {
	if r.Status != WithdrawalStatusPending {
		return OutcomeNone, ErrRequestNotPending
	}

	switch decision {
	case DecisionApproved:
	case DecisionDeclined:
		if strings.TrimSpace(declineReason) == "" {
			return OutcomeNone, ErrDeclineReasonRequired
		}
	default:
		return OutcomeNone, ErrInvalidDecision
	}

	slot := -1
	for i := range r.Approvals {
		if r.Approvals[i].UserID == userID {
			slot = i
			break
		}
	}
	if slot < 0 {
		return OutcomeNone, ErrNotMember
	}
	if r.Approvals[slot].Decision != DecisionPending {
		return OutcomeNone, ErrDuplicateDecision
	}

	r.Approvals[slot].Decision = decision
	r.Approvals[slot].DecidedAt = &now
	r.UpdatedAt = now

	if decision == DecisionDeclined {
		r.Approvals[slot].DeclineReason = &declineReason
		r.Status = WithdrawalStatusDeclined
		return OutcomeDeclined, nil
	}

	for i := range r.Approvals {
		if r.Approvals[i].Decision != DecisionApproved {
			return OutcomeNone, nil
		}
	}
	r.Status = WithdrawalStatusApproved
	return OutcomeApproved, nil
}

// Cancel transitions the request to cancelled. Requester-only, pending-only.
func (r *GroupWithdrawalRequest) Cancel(callerID uuid.UUID, now time.Time) error {
	if callerID != r.RequesterID {
		return ErrNotRequester
	}
	if r.Status != WithdrawalStatusPending {
		return ErrRequestNotPending
	}
	r.Status = WithdrawalStatusCancelled
	r.UpdatedAt = now
	return nil
}

// OpenDispute escalates a declined request. Only the original requester may dispute,
// only from declined, and only once.
func (r *GroupWithdrawalRequest) OpenDispute(callerID uuid.UUID, reason string, now time.Time) error {
	if callerID != r.RequesterID {
		return ErrNotRequester
	}
	if r.Status == WithdrawalStatusDisputed {
		return ErrAlreadyDisputed
	}
	if r.Status != WithdrawalStatusDeclined {
		return ErrRequestNotDeclined
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	r.Status = WithdrawalStatusDisputed
	r.Dispute = &Dispute{Reason: reason, Status: DisputeStatusOpen, CreatedAt: now}
	r.UpdatedAt = now
	return nil
}

// ResolveDispute records the support outcome. This is the only write performed on behalf
// of the external support collaborator.
func (r *GroupWithdrawalRequest) ResolveDispute(supportComment string, now time.Time) error {
	if r.Dispute == nil || r.Dispute.Status != DisputeStatusOpen {
		return ErrDisputeNotOpen
	}
	r.Dispute.Status = DisputeStatusResolved
	if strings.TrimSpace(supportComment) != "" {
		r.Dispute.SupportComment = &supportComment
	}
	r.UpdatedAt = now
	return nil
}
