/**
 * @description
 * This file defines the core domain models for the savings-service: savings groups,
 * their members, member contributions, and the append-only ledger that records every
 * mutation of a group's pooled balance.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo), which avoids
 *   floating-point inaccuracies with financial data.
 * - Group.TotalSavings is only ever mutated together with a LedgerEntry insert, inside
 *   a single database transaction.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Group statuses. Groups are never hard-deleted; they transition to a terminal status.
const (
	GroupStatusActive    = "active"
	GroupStatusCompleted = "completed"
	GroupStatusCancelled = "cancelled"
)

// Member roles within a group.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Group represents a savings pool with a shared balance and an optional goal.
type Group struct {
	ID                       uuid.UUID `json:"id"`
	Name                     string    `json:"name"`
	Currency                 string    `json:"currency"`
	GoalAmount               int64     `json:"goal_amount"` // in kobo; 0 means no goal
	TotalSavings             int64     `json:"total_savings"`
	LockWithdrawalsUntilGoal bool      `json:"lock_withdrawals_until_goal"`
	Status                   string    `json:"status"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// WithdrawalsLocked reports whether the group's goal lock currently blocks withdrawals.
func (g *Group) WithdrawalsLocked() bool {
	return g.LockWithdrawalsUntilGoal && g.GoalAmount > 0 && g.TotalSavings < g.GoalAmount
}

// GroupMember ties a user to a group with a role.
type GroupMember struct {
	GroupID  uuid.UUID `json:"group_id"`
	UserID   uuid.UUID `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Contribution is a member's deposit into the group's pooled balance. Immutable once created.
type Contribution struct {
	ID               uuid.UUID `json:"id"`
	GroupID          uuid.UUID `json:"group_id"`
	UserID           uuid.UUID `json:"user_id"`
	Amount           int64     `json:"amount"` // in kobo, > 0
	PaymentMethodRef string    `json:"payment_method_ref"`
	CreatedAt        time.Time `json:"created_at"`
}

// Ledger entry types and directions.
const (
	LedgerTypeContribution    = "contribution"
	LedgerTypeWithdrawal      = "withdrawal"
	LedgerTypeGroupWithdrawal = "group_withdrawal"

	LedgerDirectionCredit = "credit"
	LedgerDirectionDebit  = "debit"
)

// LedgerEntry is one movement of a group's pooled balance. Entries are append-only and
// written in the same transaction as the balance mutation they describe.
type LedgerEntry struct {
	ID          uuid.UUID  `json:"id"`
	GroupID     uuid.UUID  `json:"group_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"` // nil for group-account payouts
	Type        string     `json:"type"`
	Direction   string     `json:"direction"`
	Amount      int64      `json:"amount"` // in kobo, > 0
	ReferenceID uuid.UUID  `json:"reference_id"`
	CreatedAt   time.Time  `json:"created_at"`
}

// GroupSummary is the read model returned for a group's dashboard view.
type GroupSummary struct {
	Group       Group `json:"group"`
	MemberCount int   `json:"member_count"`
	GoalReached bool  `json:"goal_reached"`
}
