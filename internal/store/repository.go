/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * operations required by the savings-service. The interface decouples workflow logic
 * from the PostgreSQL implementation and lets tests substitute in-memory fakes.
 *
 * The decision and settlement methods are deliberately coarse: each one is a single
 * database transaction that row-locks the request (and the group when money moves), so
 * concurrent calls for the same request serialize and settlement runs at most once.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shako/savings-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Groups and members
	CreateGroup(ctx context.Context, group *domain.Group, creator *domain.GroupMember) error
	FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
	GetGroupSummary(ctx context.Context, groupID uuid.UUID) (*domain.GroupSummary, error)
	AddGroupMember(ctx context.Context, member *domain.GroupMember) error
	FindGroupMember(ctx context.Context, groupID, userID uuid.UUID) (*domain.GroupMember, error)
	ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]domain.GroupMember, error)

	// Contributions and ledger
	RecordContributionAtomic(ctx context.Context, contribution *domain.Contribution) error
	ListContributions(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]domain.Contribution, error)
	MemberNetContribution(ctx context.Context, groupID, userID uuid.UUID) (int64, error)

	// Individual withdrawal requests
	CreateWithdrawalAtomic(ctx context.Context, request *domain.WithdrawalRequest) error
	FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error)
	CancelWithdrawalAtomic(ctx context.Context, requestID, callerID uuid.UUID) (*domain.WithdrawalRequest, error)
	DecideWithdrawalAtomic(ctx context.Context, requestID, deciderID uuid.UUID, approve bool, declineReason string) (*domain.WithdrawalRequest, error)

	// Group (consensus) withdrawal requests
	CreateGroupWithdrawalAtomic(ctx context.Context, request *domain.GroupWithdrawalRequest) error
	FindGroupWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.GroupWithdrawalRequest, error)
	SubmitGroupWithdrawalDecisionAtomic(ctx context.Context, requestID, memberID uuid.UUID, decision, declineReason string) (*domain.GroupWithdrawalRequest, domain.DecisionOutcome, error)
	CancelGroupWithdrawalAtomic(ctx context.Context, requestID, callerID uuid.UUID) (*domain.GroupWithdrawalRequest, error)
	OpenGroupWithdrawalDispute(ctx context.Context, requestID, callerID uuid.UUID, reason, supportTicketID string) (*domain.GroupWithdrawalRequest, error)
	ResolveGroupWithdrawalDispute(ctx context.Context, requestID uuid.UUID, supportComment string) (*domain.GroupWithdrawalRequest, error)

	// Reminder job reads
	FindStalePendingWithdrawals(ctx context.Context, olderThan time.Time) ([]domain.WithdrawalRequest, error)
	FindStalePendingGroupWithdrawals(ctx context.Context, olderThan time.Time) ([]domain.GroupWithdrawalRequest, error)
}
