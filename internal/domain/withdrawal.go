/**
 * @description
 * Individual withdrawal requests: a single member asking to take back part of their own
 * contributions. The request sits in `pending` until the requester cancels it or a group
 * admin decides it; approval settles against the group ledger.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Withdrawal request statuses, shared by individual and group requests.
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusApproved  = "approved"
	WithdrawalStatusDeclined  = "declined"
	WithdrawalStatusCancelled = "cancelled"
	WithdrawalStatusDisputed  = "disputed" // group requests only
)

// WithdrawalRequest is an individual member's request to withdraw from their own
// cumulative contribution to a group.
type WithdrawalRequest struct {
	ID             uuid.UUID  `json:"id"`
	GroupID        uuid.UUID  `json:"group_id"`
	RequesterID    uuid.UUID  `json:"requester_id"`
	Amount         int64      `json:"amount"` // in kobo
	Reason         string     `json:"reason"`
	BankAccountRef string     `json:"bank_account_ref"`
	Status         string     `json:"status"`
	DeclineReason  *string    `json:"decline_reason,omitempty"`
	DecidedBy      *uuid.UUID `json:"decided_by,omitempty"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Cancel transitions the request to cancelled. Only the requester may cancel, and only
// while the request is pending.
func (w *WithdrawalRequest) Cancel(callerID uuid.UUID) error {
	if callerID != w.RequesterID {
		return ErrNotRequester
	}
	if w.Status != WithdrawalStatusPending {
		return ErrRequestNotPending
	}
	w.Status = WithdrawalStatusCancelled
	return nil
}

// Decide records an admin decision on a pending request. A decline requires a non-empty
// reason. The caller's authorization (admin role, not self-deciding) is checked by the
// app layer; this guard only enforces state legality.
func (w *WithdrawalRequest) Decide(deciderID uuid.UUID, approve bool, declineReason string, now time.Time) error {
	if w.Status != WithdrawalStatusPending {
		return ErrRequestNotPending
	}
	if approve {
		w.Status = WithdrawalStatusApproved
	} else {
		if strings.TrimSpace(declineReason) == "" {
			return ErrDeclineReasonRequired
		}
		w.Status = WithdrawalStatusDeclined
		w.DeclineReason = &declineReason
	}
	w.DecidedBy = &deciderID
	w.DecidedAt = &now
	return nil
}
